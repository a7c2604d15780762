package common

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/halcyonpay/reconciler/db"
	"github.com/halcyonpay/reconciler/store"
)

// ScanStore persists catch-up watermarks for one chain's monitored
// addresses. Cursors are advisory recovery state: the engine's idempotency
// re-derives correctness independently, so a stale cursor only costs
// re-scanning, never double-crediting.
type ScanStore struct {
	database *db.DB
}

// NewScanStore creates a new scan store on the chain's scan-state database.
func NewScanStore(database *db.DB) *ScanStore {
	return &ScanStore{database: database}
}

// GetCursor returns the persisted cursor for the address.
// Creates a zero cursor if none exists yet.
func (s *ScanStore) GetCursor(address string) (ScanCursor, error) {
	if s.database == nil {
		return ScanCursor{}, fmt.Errorf("database is nil")
	}

	var state store.ScanState
	result := s.database.Client().Where("address = ?", address).First(&state)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			state = store.ScanState{Address: address}
			if err := s.database.Client().Create(&state).Error; err != nil {
				return ScanCursor{}, fmt.Errorf("failed to create scan state: %w", err)
			}
			return ScanCursor{}, nil
		}
		return ScanCursor{}, fmt.Errorf("failed to get scan state: %w", result.Error)
	}

	return ScanCursor{
		LastBlock:      state.LastBlock,
		UntilSignature: state.UntilSignature,
	}, nil
}

// UpdateCursor advances the persisted cursor for the address. The block
// watermark never moves backward; the signature bound is replaced whenever a
// newer one is supplied. Callers must invoke this only after every transfer
// in the batch has been durably committed.
func (s *ScanStore) UpdateCursor(address string, cursor ScanCursor) error {
	if s.database == nil {
		return fmt.Errorf("database is nil")
	}

	var state store.ScanState
	result := s.database.Client().Where("address = ?", address).First(&state)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			state = store.ScanState{
				Address:        address,
				LastBlock:      cursor.LastBlock,
				UntilSignature: cursor.UntilSignature,
			}
			if err := s.database.Client().Create(&state).Error; err != nil {
				return fmt.Errorf("failed to create scan state: %w", err)
			}
			return nil
		}
		return fmt.Errorf("failed to query scan state: %w", result.Error)
	}

	changed := false
	if cursor.LastBlock > state.LastBlock {
		state.LastBlock = cursor.LastBlock
		changed = true
	}
	if cursor.UntilSignature != "" && cursor.UntilSignature != state.UntilSignature {
		state.UntilSignature = cursor.UntilSignature
		changed = true
	}
	if changed {
		if err := s.database.Client().Save(&state).Error; err != nil {
			return fmt.Errorf("failed to update scan state: %w", err)
		}
	}

	return nil
}
