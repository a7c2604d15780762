package ledger

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/halcyonpay/reconciler/db"
	"github.com/halcyonpay/reconciler/store"
)

// Resolver maps on-chain counterparty addresses to platform users via
// WalletLink rows. A miss is not an error: deposits from unknown addresses
// are recorded as unassociated, unknown withdrawal counterparties are
// discarded.
type Resolver struct {
	database *db.DB
}

// NewResolver creates a wallet-link resolver on the ledger database.
func NewResolver(database *db.DB) *Resolver {
	return &Resolver{database: database}
}

// ResolveUser returns the user owning the address on the given chain.
// The second return is false when no link exists.
func (r *Resolver) ResolveUser(chainID, address string) (uint64, bool, error) {
	var link store.WalletLink
	err := r.database.Client().
		Where("chain_id = ? AND address = ?", chainID, address).
		First(&link).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to resolve wallet link: %w", err)
	}
	return link.UserID, true, nil
}

// LinkWallet associates an on-chain address with a user. Linking the same
// (chain, address) pair twice is a no-op when the owner matches and an error
// when it does not.
func (r *Resolver) LinkWallet(userID uint64, chainID, address string) error {
	link := store.WalletLink{UserID: userID, ChainID: chainID, Address: address}
	err := r.database.Client().Create(&link).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		var existing store.WalletLink
		if lookupErr := r.database.Client().
			Where("chain_id = ? AND address = ?", chainID, address).
			First(&existing).Error; lookupErr != nil {
			return lookupErr
		}
		if existing.UserID != userID {
			return fmt.Errorf("address %s on %s already linked to user %d", address, chainID, existing.UserID)
		}
		return nil
	}
	return err
}
