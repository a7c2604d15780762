package common

import (
	"context"
	"math/big"
)

// TransferEvent is one directional value movement normalized out of a chain's
// native transaction format. It is direction-neutral: deciding deposit vs
// withdraw is the classifier's job, not the adapter's. Not persisted.
type TransferEvent struct {
	TxHash       string
	ChainID      string // CAIP-2
	Token        string // lower-case symbol, e.g. "eth", "usdc"
	TokenAddress string // contract/mint; empty = native currency
	From         string
	To           string
	Amount       *big.Int // unsigned, base units
	Block        uint64   // block number (or slot for Solana)
	Timestamp    uint64   // unix seconds of the containing block
	Confirmed    bool
}

// ScanCursor is the catch-up watermark handed to and returned by
// FetchTransfers. LastBlock bounds EVM block paging; UntilSignature bounds
// Solana signature paging.
type ScanCursor struct {
	LastBlock      uint64
	UntilSignature string
}

// TransferSink consumes normalized transfers from live subscriptions.
// An error return means the transfer was NOT durably applied and must be
// re-delivered (the caller must not advance any cursor past it).
type TransferSink interface {
	HandleTransfer(ctx context.Context, event *TransferEvent) error
}
