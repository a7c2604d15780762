// Package store contains the GORM-backed SQLite models used by the reconciler.
//
// Database layout:
//
//	<data_dir>/
//	├── ledger/
//	│   └── ledger.db
//	│       ├── deposits
//	│       ├── withdrawals
//	│       ├── treasury_balances
//	│       ├── wallet_balances
//	│       ├── history_records
//	│       ├── unassociated_deposits
//	│       └── wallet_links
//	└── chains/
//	    └── {chain_caip2}/
//	        └── scan_state.db
//	            └── scan_states
//
// All amounts are arbitrary-precision non-negative integers in the token's
// base unit, stored as decimal strings. Never floating point.
package store

import (
	"gorm.io/gorm"
)

// Withdrawal status transitions: pending -> approved | rejected | debited_internally.
const (
	WithdrawalStatusPending           = "pending"
	WithdrawalStatusApproved          = "approved"
	WithdrawalStatusRejected          = "rejected"
	WithdrawalStatusDebitedInternally = "debited_internally"
)

// Deposit is one confirmed inbound transfer credited to a user.
// TxHash is globally unique; TrackingNumber is a strictly increasing
// per-user sequence assigned inside the commit transaction.
type Deposit struct {
	gorm.Model
	UserID         uint64 `gorm:"index;uniqueIndex:idx_deposit_user_tracking;not null"`
	TxHash         string `gorm:"uniqueIndex;not null"`
	Counterparty   string // sender address on chain
	Amount         string `gorm:"not null"` // base-unit integer string
	Token          string `gorm:"index;not null"`
	ChainID        string `gorm:"index;not null"`
	BlockNumber    uint64 // block (or slot for Solana)
	TrackingNumber uint64 `gorm:"uniqueIndex:idx_deposit_user_tracking;not null"`
}

// Withdrawal is a platform-initiated outbound transfer. Created in status
// pending by RequestWithdrawal; the reconciliation engine transitions it to
// approved when the matching on-chain transfer is observed. TxHash is nil
// until approval; the unique index treats NULLs as distinct, so only the
// observed hash is deduplicated.
type Withdrawal struct {
	gorm.Model
	UserID         uint64  `gorm:"index;uniqueIndex:idx_withdrawal_user_tracking;not null"`
	TxHash         *string `gorm:"uniqueIndex"`
	Counterparty   string  // recipient address on chain
	Amount         string  `gorm:"not null"`
	Token          string  `gorm:"index;not null"`
	ChainID        string  `gorm:"index;not null"`
	BlockNumber    uint64
	TrackingNumber uint64 `gorm:"uniqueIndex:idx_withdrawal_user_tracking;not null"`
	Status         string `gorm:"index;not null"`
}

// TreasuryBalance is one token's platform-wide balance. One row per token.
type TreasuryBalance struct {
	gorm.Model
	Token  string `gorm:"uniqueIndex;not null"`
	Amount string `gorm:"not null"`
}

// WalletBalance is one user's holdings of one token. Available is spendable;
// Funding is reserved for pending withdrawals.
type WalletBalance struct {
	gorm.Model
	UserID    uint64 `gorm:"uniqueIndex:idx_wallet_user_token;not null"`
	Token     string `gorm:"uniqueIndex:idx_wallet_user_token;not null"`
	Available string `gorm:"not null"`
	Funding   string `gorm:"not null"`
}

// HistoryRecord is one link of a user's append-only deposit/withdraw history
// chain. Each record carries the cumulative totals computed from the prior
// latest record plus this record's delta. Never updated in place; latest
// record wins for "current totals" queries.
type HistoryRecord struct {
	gorm.Model
	UserID         uint64 `gorm:"index;not null"`
	ActionID       uint   `gorm:"not null"` // id of the triggering Deposit/Withdrawal row
	Direction      string `gorm:"not null"` // "deposit" or "withdraw"
	Token          string `gorm:"not null"`
	Amount         string `gorm:"not null"`
	TotalDeposited []byte // JSON map token -> cumulative base-unit string
	TotalWithdrawn []byte // JSON map token -> cumulative base-unit string
}

// UnassociatedDeposit records a confirmed inbound transfer whose sender
// could not be mapped to a platform user. No balance is mutated; the row
// exists so the funds can be manually attributed later.
type UnassociatedDeposit struct {
	gorm.Model
	TxHash      string `gorm:"uniqueIndex;not null"`
	FromAddress string `gorm:"index"`
	Amount      string `gorm:"not null"`
	Token       string `gorm:"not null"`
	ChainID     string `gorm:"index;not null"`
	BlockNumber uint64
}

// WalletLink maps an on-chain address to a platform user.
type WalletLink struct {
	gorm.Model
	UserID  uint64 `gorm:"index;not null"`
	ChainID string `gorm:"uniqueIndex:idx_link_chain_address;not null"`
	Address string `gorm:"uniqueIndex:idx_link_chain_address;not null"`
}

// ScanState is the persisted catch-up watermark for one monitored address.
// One scan-state database per chain; one row per address. Updated only after
// a batch's ledger effects are durably committed.
type ScanState struct {
	gorm.Model
	Address        string `gorm:"uniqueIndex;not null"`
	LastBlock      uint64 // highest block/slot whose transfers are committed
	UntilSignature string // newest processed signature (Solana catch-up bound)
}

// LedgerModels lists the structs migrated into the ledger database.
var LedgerModels = []any{
	&Deposit{},
	&Withdrawal{},
	&TreasuryBalance{},
	&WalletBalance{},
	&HistoryRecord{},
	&UnassociatedDeposit{},
	&WalletLink{},
}

// ScanModels lists the structs migrated into each per-chain scan database.
var ScanModels = []any{
	&ScanState{},
}
