// Package ledger implements the reconciliation engine: the transactional
// core that applies one classified transfer to the treasury balance, the
// user's wallet balance and the history chain, exactly once.
//
// Idempotency rests on two layers. A fast existence probe absorbs the common
// re-delivery case cheaply; the unique index on the transaction hash,
// checked inside the same database transaction as every balance write, is
// the actual guarantee. Partial application is never observable: either the
// whole transaction commits or none of it does.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/halcyonpay/reconciler/classify"
	"github.com/halcyonpay/reconciler/db"
	"github.com/halcyonpay/reconciler/store"
)

// ErrInsufficientBalance is returned by RequestWithdrawal when the user's
// available balance cannot cover the requested amount.
var ErrInsufficientBalance = errors.New("insufficient available balance")

// errNoPendingMatch aborts the withdrawal transaction when no pending
// request matches the observed transfer.
var errNoPendingMatch = errors.New("no matching pending withdrawal")

// Engine applies classified transfers to the ledger database.
type Engine struct {
	database *db.DB
	logger   zerolog.Logger
}

// NewEngine creates a reconciliation engine on the ledger database.
func NewEngine(database *db.DB, logger zerolog.Logger) *Engine {
	return &Engine{
		database: database,
		logger:   logger.With().Str("component", "reconciliation_engine").Logger(),
	}
}

// ApplyDeposit credits one confirmed inbound transfer. Applying the same
// transaction hash twice results in exactly one Deposit record and exactly
// one balance delta; the second call is a no-op returning OutcomeDuplicate.
func (e *Engine) ApplyDeposit(ctx context.Context, t *classify.ClassifiedTransfer) (Outcome, error) {
	ev := t.Event
	if ev.Amount == nil || ev.Amount.Sign() <= 0 {
		e.logger.Debug().Str("tx_hash", ev.TxHash).Msg("zero-amount deposit discarded")
		return OutcomeDiscarded, nil
	}

	log := e.logger.With().
		Str("tx_hash", ev.TxHash).
		Str("chain", ev.ChainID).
		Str("token", ev.Token).
		Str("amount", ev.Amount.String()).
		Str("direction", "deposit").
		Logger()

	// Fast idempotency probe against overlapping scans/subscriptions.
	var n int64
	if err := e.database.Client().WithContext(ctx).
		Model(&store.Deposit{}).
		Where("tx_hash = ?", ev.TxHash).
		Count(&n).Error; err != nil {
		return OutcomeFailed, fmt.Errorf("failed to check existing deposit: %w", err)
	}
	if n > 0 {
		log.Debug().Msg("deposit already recorded, skipping")
		return OutcomeDuplicate, nil
	}

	if !t.Associated {
		ua := store.UnassociatedDeposit{
			TxHash:      ev.TxHash,
			FromAddress: ev.From,
			Amount:      ev.Amount.String(),
			Token:       ev.Token,
			ChainID:     ev.ChainID,
			BlockNumber: ev.Block,
		}
		if err := e.database.Client().WithContext(ctx).Create(&ua).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return OutcomeDuplicate, nil
			}
			return OutcomeFailed, fmt.Errorf("failed to record unassociated deposit: %w", err)
		}
		log.Warn().
			Str("from", ev.From).
			Msg("deposit from unknown address recorded as unassociated, no balance credited")
		return OutcomeUnassociated, nil
	}

	var dep store.Deposit
	err := e.database.Client().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		tracking, err := nextTrackingNumber(tx, t.UserID)
		if err != nil {
			return err
		}

		dep = store.Deposit{
			UserID:         t.UserID,
			TxHash:         ev.TxHash,
			Counterparty:   ev.From,
			Amount:         ev.Amount.String(),
			Token:          ev.Token,
			ChainID:        ev.ChainID,
			BlockNumber:    ev.Block,
			TrackingNumber: tracking,
		}
		if err := tx.Create(&dep).Error; err != nil {
			return err
		}

		if err := e.creditTreasury(tx, ev.Token, ev.Amount); err != nil {
			return err
		}
		if err := e.creditWallet(tx, t.UserID, ev.Token, ev.Amount); err != nil {
			return err
		}
		return e.appendHistory(tx, t.UserID, dep.ID, "deposit", ev.Token, ev.Amount)
	})
	if err != nil {
		// Concurrent re-entry lost the insert race; the winner applied it.
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			log.Debug().Msg("deposit inserted concurrently, skipping")
			return OutcomeDuplicate, nil
		}
		return OutcomeFailed, fmt.Errorf("failed to apply deposit: %w", err)
	}

	log.Info().
		Uint64("user_id", t.UserID).
		Uint64("tracking_number", dep.TrackingNumber).
		Msg("deposit credited")
	return OutcomeApplied, nil
}

// ApplyWithdrawal reconciles one observed outbound transfer. A withdrawal is
// only recognized as fulfilling an existing platform-initiated request: the
// oldest pending Withdrawal matching (user, chain, token, exact amount) is
// transitioned to approved and the reserved funding balance is released.
// An outbound transfer with no matching pending request is discarded: it
// must not drain the user's reserved balance a second time.
func (e *Engine) ApplyWithdrawal(ctx context.Context, t *classify.ClassifiedTransfer) (Outcome, error) {
	ev := t.Event
	if ev.Amount == nil || ev.Amount.Sign() <= 0 {
		e.logger.Debug().Str("tx_hash", ev.TxHash).Msg("zero-amount withdrawal discarded")
		return OutcomeDiscarded, nil
	}

	log := e.logger.With().
		Str("tx_hash", ev.TxHash).
		Str("chain", ev.ChainID).
		Str("token", ev.Token).
		Str("amount", ev.Amount.String()).
		Str("direction", "withdraw").
		Logger()

	if !t.Associated {
		// Withdrawals are only ever self-initiated; an unmatched
		// counterparty means a stale or foreign transaction.
		log.Warn().Str("to", ev.To).Msg("withdrawal counterparty maps to no user, discarding")
		return OutcomeDiscarded, nil
	}

	var n int64
	if err := e.database.Client().WithContext(ctx).
		Model(&store.Withdrawal{}).
		Where("tx_hash = ?", ev.TxHash).
		Count(&n).Error; err != nil {
		return OutcomeFailed, fmt.Errorf("failed to check existing withdrawal: %w", err)
	}
	if n > 0 {
		log.Debug().Msg("withdrawal already reconciled, skipping")
		return OutcomeDuplicate, nil
	}

	var matched store.Withdrawal
	err := e.database.Client().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("user_id = ? AND status = ? AND chain_id = ? AND token = ? AND amount = ?",
			t.UserID, store.WithdrawalStatusPending, ev.ChainID, ev.Token, ev.Amount.String()).
			Order("id ASC").
			First(&matched).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errNoPendingMatch
		}
		if err != nil {
			return fmt.Errorf("failed to query pending withdrawals: %w", err)
		}

		// Conditional transition guards against two concurrent callers
		// consuming the same pending record.
		res := tx.Model(&store.Withdrawal{}).
			Where("id = ? AND status = ?", matched.ID, store.WithdrawalStatusPending).
			Updates(map[string]any{
				"status":       store.WithdrawalStatusApproved,
				"tx_hash":      ev.TxHash,
				"block_number": ev.Block,
				"counterparty": ev.To,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errNoPendingMatch
		}

		if err := e.debitTreasury(tx, ev.Token, ev.Amount, log); err != nil {
			return err
		}
		if err := e.debitWalletFunding(tx, t.UserID, ev.Token, ev.Amount, log); err != nil {
			return err
		}
		return e.appendHistory(tx, t.UserID, matched.ID, "withdraw", ev.Token, ev.Amount)
	})
	if err != nil {
		if errors.Is(err, errNoPendingMatch) {
			log.Warn().
				Uint64("user_id", t.UserID).
				Msg("no matching pending withdrawal request, transfer discarded")
			return OutcomeUnmatched, nil
		}
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			log.Debug().Msg("withdrawal reconciled concurrently, skipping")
			return OutcomeDuplicate, nil
		}
		return OutcomeFailed, fmt.Errorf("failed to apply withdrawal: %w", err)
	}

	log.Info().
		Uint64("user_id", t.UserID).
		Uint64("tracking_number", matched.TrackingNumber).
		Msg("withdrawal reconciled")
	return OutcomeApplied, nil
}

// RequestWithdrawal creates the pending Withdrawal record the reconciler
// later matches against an observed on-chain transfer. The amount moves from
// the user's available balance to the funding (reserved) balance in the same
// transaction that creates the record.
func (e *Engine) RequestWithdrawal(ctx context.Context, userID uint64, chainID, token, recipient, amount string) (*store.Withdrawal, error) {
	amt, err := ParseAmount(amount)
	if err != nil {
		return nil, err
	}
	if amt.Sign() <= 0 {
		return nil, fmt.Errorf("withdrawal amount must be positive")
	}

	var w store.Withdrawal
	err = e.database.Client().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var wb store.WalletBalance
		err := tx.Where("user_id = ? AND token = ?", userID, token).First(&wb).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrInsufficientBalance
		}
		if err != nil {
			return fmt.Errorf("failed to load wallet balance: %w", err)
		}

		available, err := ParseAmount(wb.Available)
		if err != nil {
			return err
		}
		if available.Cmp(amt) < 0 {
			return ErrInsufficientBalance
		}

		reserved, _, err := subAmountClampZero(wb.Available, amt)
		if err != nil {
			return err
		}
		funding, err := addAmount(wb.Funding, amt)
		if err != nil {
			return err
		}
		wb.Available = reserved
		wb.Funding = funding
		if err := tx.Save(&wb).Error; err != nil {
			return fmt.Errorf("failed to reserve balance: %w", err)
		}

		tracking, err := nextTrackingNumber(tx, userID)
		if err != nil {
			return err
		}
		w = store.Withdrawal{
			UserID:         userID,
			Counterparty:   recipient,
			Amount:         amt.String(),
			Token:          token,
			ChainID:        chainID,
			TrackingNumber: tracking,
			Status:         store.WithdrawalStatusPending,
		}
		return tx.Create(&w).Error
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info().
		Uint64("user_id", userID).
		Str("chain", chainID).
		Str("token", token).
		Str("amount", w.Amount).
		Uint64("tracking_number", w.TrackingNumber).
		Msg("withdrawal requested, balance reserved")
	return &w, nil
}

// RejectWithdrawal transitions a pending withdrawal to rejected and releases
// its reserved amount back to the user's available balance.
func (e *Engine) RejectWithdrawal(ctx context.Context, withdrawalID uint) error {
	return e.database.Client().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var w store.Withdrawal
		if err := tx.First(&w, withdrawalID).Error; err != nil {
			return fmt.Errorf("failed to load withdrawal %d: %w", withdrawalID, err)
		}

		res := tx.Model(&store.Withdrawal{}).
			Where("id = ? AND status = ?", w.ID, store.WithdrawalStatusPending).
			Update("status", store.WithdrawalStatusRejected)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("withdrawal %d is not pending", withdrawalID)
		}

		amt, err := ParseAmount(w.Amount)
		if err != nil {
			return err
		}

		var wb store.WalletBalance
		if err := tx.Where("user_id = ? AND token = ?", w.UserID, w.Token).First(&wb).Error; err != nil {
			return fmt.Errorf("failed to load wallet balance: %w", err)
		}
		funding, clamped, err := subAmountClampZero(wb.Funding, amt)
		if err != nil {
			return err
		}
		if clamped {
			e.logger.Warn().
				Uint64("user_id", w.UserID).
				Str("token", w.Token).
				Str("amount", w.Amount).
				Msg("funding balance below rejected amount, clamped to zero")
		}
		available, err := addAmount(wb.Available, amt)
		if err != nil {
			return err
		}
		wb.Funding = funding
		wb.Available = available
		return tx.Save(&wb).Error
	})
}

// DebitInternally settles a pending withdrawal off-chain: the reserved
// funding amount is consumed and the record transitions to
// debited_internally. No on-chain transfer exists, so TxHash stays nil and
// the treasury balance is untouched.
func (e *Engine) DebitInternally(ctx context.Context, withdrawalID uint) error {
	return e.database.Client().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var w store.Withdrawal
		if err := tx.First(&w, withdrawalID).Error; err != nil {
			return fmt.Errorf("failed to load withdrawal %d: %w", withdrawalID, err)
		}

		res := tx.Model(&store.Withdrawal{}).
			Where("id = ? AND status = ?", w.ID, store.WithdrawalStatusPending).
			Update("status", store.WithdrawalStatusDebitedInternally)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("withdrawal %d is not pending", withdrawalID)
		}

		amt, err := ParseAmount(w.Amount)
		if err != nil {
			return err
		}

		var wb store.WalletBalance
		if err := tx.Where("user_id = ? AND token = ?", w.UserID, w.Token).First(&wb).Error; err != nil {
			return fmt.Errorf("failed to load wallet balance: %w", err)
		}
		funding, clamped, err := subAmountClampZero(wb.Funding, amt)
		if err != nil {
			return err
		}
		if clamped {
			e.logger.Warn().
				Uint64("user_id", w.UserID).
				Str("token", w.Token).
				Str("amount", w.Amount).
				Msg("funding balance below debited amount, clamped to zero")
		}
		wb.Funding = funding
		if err := tx.Save(&wb).Error; err != nil {
			return err
		}

		return e.appendHistory(tx, w.UserID, w.ID, "withdraw", w.Token, amt)
	})
}

// nextTrackingNumber returns the next per-user sequence value, computed
// transactionally across both ledger record collections so concurrent
// deposits for the same user cannot race.
func nextTrackingNumber(tx *gorm.DB, userID uint64) (uint64, error) {
	var depMax, wdMax uint64
	row := tx.Model(&store.Deposit{}).
		Where("user_id = ?", userID).
		Select("COALESCE(MAX(tracking_number), 0)").
		Row()
	if err := row.Scan(&depMax); err != nil {
		return 0, fmt.Errorf("failed to read deposit tracking numbers: %w", err)
	}
	row = tx.Model(&store.Withdrawal{}).
		Where("user_id = ?", userID).
		Select("COALESCE(MAX(tracking_number), 0)").
		Row()
	if err := row.Scan(&wdMax); err != nil {
		return 0, fmt.Errorf("failed to read withdrawal tracking numbers: %w", err)
	}
	if wdMax > depMax {
		return wdMax + 1, nil
	}
	return depMax + 1, nil
}
