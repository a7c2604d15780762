package svm

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/halcyonpay/reconciler/chains/common"
	"github.com/halcyonpay/reconciler/config"
)

// ownerResolver maps an SPL token account to its owning wallet. Used when
// transaction metadata omits the owner field.
type ownerResolver func(ctx context.Context, tokenAccount solana.PublicKey) (solana.PublicKey, error)

// FetchTransfers pages the monitored address's signature history newest
// first until the persisted bound, then walks the collected transactions
// oldest first, deriving transfer amounts from pre/post balance diffs. The
// returned cursor carries the newest processed signature, so the next scan
// stops where this one started.
func (c *Client) FetchTransfers(
	ctx context.Context,
	monitored config.MonitoredAddress,
	cursor common.ScanCursor,
) ([]*common.TransferEvent, common.ScanCursor, error) {
	if c.rpcClient == nil {
		return nil, cursor, fmt.Errorf("rpc client not connected")
	}

	address, err := solana.PublicKeyFromBase58(monitored.Address)
	if err != nil {
		return nil, cursor, fmt.Errorf("%w: %s", common.ErrAddressNotFound, monitored.Address)
	}

	signatures, err := c.collectSignatures(ctx, address, cursor)
	if err != nil {
		return nil, cursor, err
	}
	if len(signatures) == 0 {
		return nil, cursor, nil
	}

	newCursor := cursor
	newCursor.UntilSignature = signatures[0].Signature.String()
	if signatures[0].Slot > newCursor.LastBlock {
		newCursor.LastBlock = signatures[0].Slot
	}

	// Reverse to oldest first for delivery.
	for i, j := 0, len(signatures)-1; i < j; i, j = i+1, j-1 {
		signatures[i], signatures[j] = signatures[j], signatures[i]
	}

	var events []*common.TransferEvent
	for _, sig := range signatures {
		if sig.Err != nil {
			continue
		}

		batch, err := c.fetchTransaction(ctx, sig, address)
		if err != nil {
			// Abort before the cursor reflects this batch: the scan retries
			// the same window on the next tick.
			return nil, cursor, fmt.Errorf("failed to process signature %s: %w", sig.Signature, err)
		}
		events = append(events, batch...)
	}

	c.logger.Debug().
		Str("address", monitored.Address).
		Int("signatures", len(signatures)).
		Int("events", len(events)).
		Msg("scanned signature window")

	return events, newCursor, nil
}

// collectSignatures walks the signature history newest first in pages,
// stopping at the cursor's signature bound (or at history start on the
// first scan).
func (c *Client) collectSignatures(
	ctx context.Context,
	address solana.PublicKey,
	cursor common.ScanCursor,
) ([]*rpc.TransactionSignature, error) {
	cfg := c.GetConfig()
	limit := cfg.PageSize
	pageDelay := time.Duration(cfg.PageDelayMillis) * time.Millisecond

	var until solana.Signature
	if cursor.UntilSignature != "" {
		parsed, err := solana.SignatureFromBase58(cursor.UntilSignature)
		if err != nil {
			return nil, fmt.Errorf("invalid persisted signature bound: %w", err)
		}
		until = parsed
	}

	var (
		collected []*rpc.TransactionSignature
		before    solana.Signature
	)
	for {
		opts := &rpc.GetSignaturesForAddressOpts{
			Limit:      &limit,
			Commitment: rpc.CommitmentFinalized,
		}
		if !until.IsZero() {
			opts.Until = until
		}
		if !before.IsZero() {
			opts.Before = before
		}

		var page []*rpc.TransactionSignature
		err := c.retryManager.ExecuteWithRetry(ctx, "get_signatures_for_address", func() error {
			var innerErr error
			page, innerErr = c.rpcClient.GetSignaturesForAddressWithOpts(ctx, address, opts)
			return innerErr
		})
		if err != nil {
			return nil, fmt.Errorf("failed to get signatures: %w", err)
		}

		collected = append(collected, page...)

		if len(page) < limit {
			return collected, nil
		}
		before = page[len(page)-1].Signature

		// Pace paging so catch-up does not hammer the endpoint.
		if err := common.PageDelay(ctx, pageDelay); err != nil {
			return nil, err
		}
	}
}

// fetchTransaction loads one confirmed transaction and extracts the
// transfers touching the monitored address.
func (c *Client) fetchTransaction(
	ctx context.Context,
	sig *rpc.TransactionSignature,
	monitored solana.PublicKey,
) ([]*common.TransferEvent, error) {
	var result *rpc.GetTransactionResult
	err := c.retryManager.ExecuteWithRetry(ctx, "get_transaction", func() error {
		var innerErr error
		maxVersion := uint64(0)
		result, innerErr = c.rpcClient.GetTransaction(
			ctx,
			sig.Signature,
			&rpc.GetTransactionOpts{
				Encoding:                       solana.EncodingBase64,
				Commitment:                     rpc.CommitmentFinalized,
				MaxSupportedTransactionVersion: &maxVersion,
			},
		)
		return innerErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	if result == nil || result.Meta == nil || result.Transaction == nil {
		return nil, nil
	}
	if result.Meta.Err != nil {
		return nil, nil
	}

	tx, err := result.Transaction.GetTransaction()
	if err != nil {
		return nil, fmt.Errorf("failed to decode transaction: %w", err)
	}

	accountKeys := make([]solana.PublicKey, 0, len(tx.Message.AccountKeys))
	accountKeys = append(accountKeys, tx.Message.AccountKeys...)
	accountKeys = append(accountKeys, result.Meta.LoadedAddresses.Writable...)
	accountKeys = append(accountKeys, result.Meta.LoadedAddresses.ReadOnly...)

	var blockTime uint64
	if result.BlockTime != nil {
		blockTime = uint64(*result.BlockTime)
	}

	return extractTransfers(
		ctx,
		result.Meta,
		accountKeys,
		sig.Signature.String(),
		result.Slot,
		blockTime,
		monitored,
		c.GetConfig(),
		c.resolveTokenAccountOwner,
	)
}

// extractTransfers derives the monitored address's balance movements from
// transaction metadata. Native SOL comes from lamport pre/post diffs (fee
// excluded when the monitored address paid it); SPL tokens come from token
// balance diffs grouped by owning wallet. One transaction can yield several
// events, one per token whose balance moved.
func extractTransfers(
	ctx context.Context,
	meta *rpc.TransactionMeta,
	accountKeys []solana.PublicKey,
	signature string,
	slot uint64,
	blockTime uint64,
	monitored solana.PublicKey,
	cfg config.ChainConfig,
	resolveOwner ownerResolver,
) ([]*common.TransferEvent, error) {
	var events []*common.TransferEvent

	for _, token := range cfg.Tokens {
		var (
			ev  *common.TransferEvent
			err error
		)
		if token.Native() {
			ev = extractNativeTransfer(meta, accountKeys, monitored, token, cfg.Chain)
		} else {
			ev, err = extractTokenTransfer(ctx, meta, accountKeys, monitored, token, cfg.Chain, resolveOwner)
			if err != nil {
				return nil, err
			}
		}
		if ev == nil {
			continue
		}

		ev.TxHash = signature
		ev.Block = slot
		ev.Timestamp = blockTime
		ev.Confirmed = true
		events = append(events, ev)
	}

	return events, nil
}

// extractNativeTransfer computes the monitored address's lamport movement.
func extractNativeTransfer(
	meta *rpc.TransactionMeta,
	accountKeys []solana.PublicKey,
	monitored solana.PublicKey,
	token config.TokenInfo,
	chainID string,
) *common.TransferEvent {
	diffs := make([]*big.Int, len(accountKeys))
	for i := range accountKeys {
		if i >= len(meta.PreBalances) || i >= len(meta.PostBalances) {
			break
		}
		diff := new(big.Int).SetUint64(meta.PostBalances[i])
		diff.Sub(diff, new(big.Int).SetUint64(meta.PreBalances[i]))
		if i == 0 {
			// The fee payer's balance already reflects the fee; add it back
			// so the diff is the transfer amount alone.
			diff.Add(diff, new(big.Int).SetUint64(meta.Fee))
		}
		diffs[i] = diff
	}

	monitoredIdx := -1
	for i, key := range accountKeys {
		if key.Equals(monitored) {
			monitoredIdx = i
			break
		}
	}
	if monitoredIdx < 0 || diffs[monitoredIdx] == nil || diffs[monitoredIdx].Sign() == 0 {
		return nil
	}

	monitoredDiff := diffs[monitoredIdx]

	// The counterparty is the account with the largest movement in the
	// opposite direction.
	counterparty := ""
	largest := new(big.Int)
	for i, diff := range diffs {
		if i == monitoredIdx || diff == nil {
			continue
		}
		if diff.Sign() == -monitoredDiff.Sign() {
			if abs := new(big.Int).Abs(diff); abs.Cmp(largest) > 0 {
				largest = abs
				counterparty = accountKeys[i].String()
			}
		}
	}

	ev := &common.TransferEvent{
		ChainID: chainID,
		Token:   token.Symbol,
		Amount:  new(big.Int).Abs(monitoredDiff),
	}
	if monitoredDiff.Sign() > 0 {
		ev.From = counterparty
		ev.To = monitored.String()
	} else {
		ev.From = monitored.String()
		ev.To = counterparty
	}
	return ev
}

// extractTokenTransfer computes the monitored wallet's net movement for one
// SPL mint by grouping token-account diffs by owning wallet. Owners missing
// from the metadata are resolved from the token account itself; a failed
// resolution fails the transaction so the scan window retries.
func extractTokenTransfer(
	ctx context.Context,
	meta *rpc.TransactionMeta,
	accountKeys []solana.PublicKey,
	monitored solana.PublicKey,
	token config.TokenInfo,
	chainID string,
	resolveOwner ownerResolver,
) (*common.TransferEvent, error) {
	mint, err := solana.PublicKeyFromBase58(token.Address)
	if err != nil {
		return nil, fmt.Errorf("invalid mint address %q: %w", token.Address, err)
	}

	type accountState struct {
		owner solana.PublicKey
		pre   *big.Int
		post  *big.Int
	}
	states := make(map[uint16]*accountState)

	load := func(balances []rpc.TokenBalance, post bool) error {
		for _, bal := range balances {
			if !bal.Mint.Equals(mint) {
				continue
			}

			state, ok := states[bal.AccountIndex]
			if !ok {
				state = &accountState{pre: new(big.Int), post: new(big.Int)}
				states[bal.AccountIndex] = state
			}

			amount := new(big.Int)
			if bal.UiTokenAmount != nil {
				if _, ok := amount.SetString(bal.UiTokenAmount.Amount, 10); !ok {
					return fmt.Errorf("invalid token amount %q", bal.UiTokenAmount.Amount)
				}
			}
			if post {
				state.post = amount
			} else {
				state.pre = amount
			}

			if bal.Owner != nil {
				state.owner = *bal.Owner
			} else if state.owner.IsZero() {
				if int(bal.AccountIndex) >= len(accountKeys) {
					return fmt.Errorf("token balance account index %d out of range", bal.AccountIndex)
				}
				owner, err := resolveOwner(ctx, accountKeys[bal.AccountIndex])
				if err != nil {
					return fmt.Errorf("failed to resolve token account owner: %w", err)
				}
				state.owner = owner
			}
		}
		return nil
	}

	if err := load(meta.PreTokenBalances, false); err != nil {
		return nil, err
	}
	if err := load(meta.PostTokenBalances, true); err != nil {
		return nil, err
	}

	// Net movement per owning wallet; one wallet can hold several token
	// accounts for the same mint.
	ownerDiffs := make(map[solana.PublicKey]*big.Int)
	for _, state := range states {
		diff := new(big.Int).Sub(state.post, state.pre)
		if existing, ok := ownerDiffs[state.owner]; ok {
			existing.Add(existing, diff)
		} else {
			ownerDiffs[state.owner] = diff
		}
	}

	monitoredDiff, ok := ownerDiffs[monitored]
	if !ok || monitoredDiff.Sign() == 0 {
		return nil, nil
	}

	counterparty := ""
	largest := new(big.Int)
	for owner, diff := range ownerDiffs {
		if owner.Equals(monitored) {
			continue
		}
		if diff.Sign() == -monitoredDiff.Sign() {
			if abs := new(big.Int).Abs(diff); abs.Cmp(largest) > 0 {
				largest = abs
				counterparty = owner.String()
			}
		}
	}

	ev := &common.TransferEvent{
		ChainID:      chainID,
		Token:        token.Symbol,
		TokenAddress: token.Address,
		Amount:       new(big.Int).Abs(monitoredDiff),
	}
	if monitoredDiff.Sign() > 0 {
		ev.From = counterparty
		ev.To = monitored.String()
	} else {
		ev.From = monitored.String()
		ev.To = counterparty
	}
	return ev, nil
}

// resolveTokenAccountOwner reads the owning wallet out of an SPL token
// account's data (bytes 32..64 of the account layout).
func (c *Client) resolveTokenAccountOwner(ctx context.Context, tokenAccount solana.PublicKey) (solana.PublicKey, error) {
	var owner solana.PublicKey
	err := c.retryManager.ExecuteWithRetry(ctx, "get_account_info", func() error {
		info, err := c.rpcClient.GetAccountInfo(ctx, tokenAccount)
		if err != nil {
			return err
		}
		if info == nil || info.Value == nil {
			return fmt.Errorf("token account %s not found", tokenAccount)
		}
		data := info.Value.Data.GetBinary()
		if len(data) < 64 {
			return fmt.Errorf("token account %s data too short: %d bytes", tokenAccount, len(data))
		}
		owner = solana.PublicKeyFromBytes(data[32:64])
		return nil
	})
	if err != nil {
		return solana.PublicKey{}, err
	}
	return owner, nil
}
