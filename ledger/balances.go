package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/halcyonpay/reconciler/store"
)

// Balance mutation helpers. Every call site is inside the engine's
// transaction; no unguarded balance write exists anywhere else.

func (e *Engine) creditTreasury(tx *gorm.DB, token string, amount *big.Int) error {
	var tb store.TreasuryBalance
	err := tx.Where("token = ?", token).First(&tb).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// Treasury rows are created lazily on first access.
		tb = store.TreasuryBalance{Token: token, Amount: amount.String()}
		return tx.Create(&tb).Error
	}
	if err != nil {
		return fmt.Errorf("failed to load treasury balance: %w", err)
	}

	next, err := addAmount(tb.Amount, amount)
	if err != nil {
		return err
	}
	tb.Amount = next
	return tx.Save(&tb).Error
}

func (e *Engine) debitTreasury(tx *gorm.DB, token string, amount *big.Int, log zerolog.Logger) error {
	var tb store.TreasuryBalance
	err := tx.Where("token = ?", token).First(&tb).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		tb = store.TreasuryBalance{Token: token, Amount: "0"}
		if err := tx.Create(&tb).Error; err != nil {
			return err
		}
	} else if err != nil {
		return fmt.Errorf("failed to load treasury balance: %w", err)
	}

	next, clamped, err := subAmountClampZero(tb.Amount, amount)
	if err != nil {
		return err
	}
	if clamped {
		// A withdrawal exceeding treasury holdings should never reach
		// this stage; floor at zero but leave an audit trail.
		log.Warn().
			Str("token", token).
			Str("treasury_balance", tb.Amount).
			Str("debit", amount.String()).
			Msg("treasury debit exceeds balance, clamped to zero")
	}
	tb.Amount = next
	return tx.Save(&tb).Error
}

func (e *Engine) creditWallet(tx *gorm.DB, userID uint64, token string, amount *big.Int) error {
	var wb store.WalletBalance
	err := tx.Where("user_id = ? AND token = ?", userID, token).First(&wb).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		wb = store.WalletBalance{
			UserID:    userID,
			Token:     token,
			Available: amount.String(),
			Funding:   "0",
		}
		return tx.Create(&wb).Error
	}
	if err != nil {
		return fmt.Errorf("failed to load wallet balance: %w", err)
	}

	next, err := addAmount(wb.Available, amount)
	if err != nil {
		return err
	}
	wb.Available = next
	return tx.Save(&wb).Error
}

func (e *Engine) debitWalletFunding(tx *gorm.DB, userID uint64, token string, amount *big.Int, log zerolog.Logger) error {
	var wb store.WalletBalance
	err := tx.Where("user_id = ? AND token = ?", userID, token).First(&wb).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		wb = store.WalletBalance{UserID: userID, Token: token, Available: "0", Funding: "0"}
		if err := tx.Create(&wb).Error; err != nil {
			return err
		}
	} else if err != nil {
		return fmt.Errorf("failed to load wallet balance: %w", err)
	}

	next, clamped, err := subAmountClampZero(wb.Funding, amount)
	if err != nil {
		return err
	}
	if clamped {
		log.Warn().
			Uint64("user_id", userID).
			Str("token", token).
			Str("funding_balance", wb.Funding).
			Str("debit", amount.String()).
			Msg("funding debit exceeds reserved balance, clamped to zero")
	}
	wb.Funding = next
	return tx.Save(&wb).Error
}

// appendHistory adds one link to the user's append-only history chain:
// cumulative totals from the prior latest record plus this record's delta.
func (e *Engine) appendHistory(tx *gorm.DB, userID uint64, actionID uint, direction, token string, amount *big.Int) error {
	deposited := map[string]string{}
	withdrawn := map[string]string{}

	var prev store.HistoryRecord
	err := tx.Where("user_id = ?", userID).Order("id DESC").First(&prev).Error
	if err == nil {
		if len(prev.TotalDeposited) > 0 {
			if err := json.Unmarshal(prev.TotalDeposited, &deposited); err != nil {
				return fmt.Errorf("corrupt history totals for user %d: %w", userID, err)
			}
		}
		if len(prev.TotalWithdrawn) > 0 {
			if err := json.Unmarshal(prev.TotalWithdrawn, &withdrawn); err != nil {
				return fmt.Errorf("corrupt history totals for user %d: %w", userID, err)
			}
		}
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("failed to load latest history record: %w", err)
	}

	totals := deposited
	if direction == "withdraw" {
		totals = withdrawn
	}
	next, err := addAmount(totals[token], amount)
	if err != nil {
		return err
	}
	totals[token] = next

	depositedJSON, err := json.Marshal(deposited)
	if err != nil {
		return err
	}
	withdrawnJSON, err := json.Marshal(withdrawn)
	if err != nil {
		return err
	}

	rec := store.HistoryRecord{
		UserID:         userID,
		ActionID:       actionID,
		Direction:      direction,
		Token:          token,
		Amount:         amount.String(),
		TotalDeposited: depositedJSON,
		TotalWithdrawn: withdrawnJSON,
	}
	return tx.Create(&rec).Error
}

// TreasuryBalance returns the current treasury balance for a token as a
// base-unit string. Missing rows read as zero.
func (e *Engine) TreasuryBalance(ctx context.Context, token string) (string, error) {
	var tb store.TreasuryBalance
	err := e.database.Client().WithContext(ctx).Where("token = ?", token).First(&tb).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "0", nil
	}
	if err != nil {
		return "", err
	}
	return tb.Amount, nil
}

// WalletBalanceOf returns a user's available and funding balances for a token.
func (e *Engine) WalletBalanceOf(ctx context.Context, userID uint64, token string) (available, funding string, err error) {
	var wb store.WalletBalance
	err = e.database.Client().WithContext(ctx).
		Where("user_id = ? AND token = ?", userID, token).
		First(&wb).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "0", "0", nil
	}
	if err != nil {
		return "", "", err
	}
	return wb.Available, wb.Funding, nil
}

// LatestHistory returns the newest history record for a user, or nil when
// the user has no history yet.
func (e *Engine) LatestHistory(ctx context.Context, userID uint64) (*store.HistoryRecord, error) {
	var rec store.HistoryRecord
	err := e.database.Client().WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id DESC").
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
