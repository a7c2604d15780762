package evm

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/halcyonpay/reconciler/chains/common"
	"github.com/halcyonpay/reconciler/config"
)

// transferEventTopic is keccak256("Transfer(address,address,uint256)").
var transferEventTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// FetchTransfers scans a bounded window of confirmed blocks for transfers
// touching the monitored address: ERC-20 Transfer logs for every supported
// contract token plus native value transfers. The returned cursor points at
// the last scanned block; the window never reaches past the confirmation
// depth, so every returned event is final.
func (c *Client) FetchTransfers(
	ctx context.Context,
	monitored config.MonitoredAddress,
	cursor common.ScanCursor,
) ([]*common.TransferEvent, common.ScanCursor, error) {
	if c.ethClient == nil {
		return nil, cursor, fmt.Errorf("eth client not connected")
	}

	cfg := c.GetConfig()

	latest, err := c.GetLatestBlock(ctx)
	if err != nil {
		return nil, cursor, err
	}

	minConf := uint64(cfg.MinConfirmations)
	if latest < minConf {
		return nil, cursor, nil
	}
	safeHead := latest - minConf

	if cursor.LastBlock == 0 {
		if cfg.StartBlock > 0 {
			cursor.LastBlock = uint64(cfg.StartBlock) - 1
		} else {
			// Start at the current head: historical blocks are out of scope.
			cursor.LastBlock = safeHead
			return nil, cursor, nil
		}
	}

	if cursor.LastBlock >= safeHead {
		return nil, cursor, nil
	}

	fromBlock := cursor.LastBlock + 1
	toBlock := safeHead
	if window := uint64(cfg.PageSize); toBlock-fromBlock+1 > window {
		toBlock = fromBlock + window - 1
	}

	address := ethcommon.HexToAddress(monitored.Address)
	timestamps := newBlockTimeCache(c)

	var events []*common.TransferEvent
	for _, token := range cfg.Tokens {
		var (
			batch []*common.TransferEvent
			err   error
		)
		if token.Native() {
			batch, err = c.fetchNativeTransfers(ctx, address, token, fromBlock, toBlock)
		} else {
			batch, err = c.fetchERC20Transfers(ctx, address, token, fromBlock, toBlock, timestamps)
		}
		if err != nil {
			return nil, cursor, fmt.Errorf("failed to scan %s transfers: %w", token.Symbol, err)
		}
		events = append(events, batch...)
	}

	sortEventsByBlock(events)

	newCursor := cursor
	newCursor.LastBlock = toBlock

	c.logger.Debug().
		Str("address", monitored.Address).
		Uint64("from_block", fromBlock).
		Uint64("to_block", toBlock).
		Int("events", len(events)).
		Msg("scanned block window")

	return events, newCursor, nil
}

// fetchERC20Transfers pulls Transfer logs for one contract token. Two
// filtered queries, one per indexed position, since the monitored address
// may appear as sender or recipient.
func (c *Client) fetchERC20Transfers(
	ctx context.Context,
	address ethcommon.Address,
	token config.TokenInfo,
	fromBlock, toBlock uint64,
	timestamps *blockTimeCache,
) ([]*common.TransferEvent, error) {
	contract := ethcommon.HexToAddress(token.Address)
	addrTopic := ethcommon.BytesToHash(ethcommon.LeftPadBytes(address.Bytes(), 32))

	queries := []ethereum.FilterQuery{
		{ // monitored address is the recipient
			FromBlock: new(big.Int).SetUint64(fromBlock),
			ToBlock:   new(big.Int).SetUint64(toBlock),
			Addresses: []ethcommon.Address{contract},
			Topics:    [][]ethcommon.Hash{{transferEventTopic}, nil, {addrTopic}},
		},
		{ // monitored address is the sender
			FromBlock: new(big.Int).SetUint64(fromBlock),
			ToBlock:   new(big.Int).SetUint64(toBlock),
			Addresses: []ethcommon.Address{contract},
			Topics:    [][]ethcommon.Hash{{transferEventTopic}, {addrTopic}},
		},
	}

	seen := make(map[string]bool)
	var events []*common.TransferEvent

	for _, query := range queries {
		var logs []types.Log
		err := c.retryManager.ExecuteWithRetry(ctx, "filter_logs", func() error {
			var innerErr error
			logs, innerErr = c.ethClient.FilterLogs(ctx, query)
			return innerErr
		})
		if err != nil {
			return nil, err
		}

		for _, lg := range logs {
			key := fmt.Sprintf("%s:%d", lg.TxHash.Hex(), lg.Index)
			if seen[key] {
				continue
			}
			seen[key] = true

			ev, err := parseTransferLog(lg, c.ChainID(), token)
			if err != nil {
				c.logger.Warn().
					Err(err).
					Str("tx_hash", lg.TxHash.Hex()).
					Msg("skipping malformed transfer log")
				continue
			}

			ts, err := timestamps.get(ctx, lg.BlockNumber)
			if err != nil {
				return nil, err
			}
			ev.Timestamp = ts

			events = append(events, ev)
		}
	}

	return events, nil
}

// parseTransferLog decodes one ERC-20 Transfer log into a transfer event.
func parseTransferLog(lg types.Log, chainID string, token config.TokenInfo) (*common.TransferEvent, error) {
	if len(lg.Topics) != 3 {
		return nil, fmt.Errorf("expected 3 topics, got %d", len(lg.Topics))
	}
	if lg.Topics[0] != transferEventTopic {
		return nil, fmt.Errorf("unexpected event topic %s", lg.Topics[0].Hex())
	}

	from := ethcommon.BytesToAddress(lg.Topics[1].Bytes())
	to := ethcommon.BytesToAddress(lg.Topics[2].Bytes())
	amount := new(big.Int).SetBytes(lg.Data)

	return &common.TransferEvent{
		TxHash:       strings.ToLower(lg.TxHash.Hex()),
		ChainID:      chainID,
		Token:        token.Symbol,
		TokenAddress: strings.ToLower(token.Address),
		From:         strings.ToLower(from.Hex()),
		To:           strings.ToLower(to.Hex()),
		Amount:       amount,
		Block:        lg.BlockNumber,
		Confirmed:    true,
	}, nil
}

// fetchNativeTransfers walks each block in the window and keeps the plain
// value transfers that touch the monitored address. Sender recovery needs
// the chain's signer, so transactions that fail recovery are skipped with a
// warning rather than failing the window.
func (c *Client) fetchNativeTransfers(
	ctx context.Context,
	address ethcommon.Address,
	token config.TokenInfo,
	fromBlock, toBlock uint64,
) ([]*common.TransferEvent, error) {
	signer := types.LatestSignerForChainID(big.NewInt(c.chainID))
	target := strings.ToLower(address.Hex())
	pageDelay := time.Duration(c.GetConfig().PageDelayMillis) * time.Millisecond

	var events []*common.TransferEvent
	for num := fromBlock; num <= toBlock; num++ {
		if num > fromBlock {
			// Pace block fetches so catch-up does not hammer the endpoint.
			if err := common.PageDelay(ctx, pageDelay); err != nil {
				return nil, err
			}
		}

		var block *types.Block
		err := c.retryManager.ExecuteWithRetry(ctx, "get_block", func() error {
			var innerErr error
			block, innerErr = c.ethClient.BlockByNumber(ctx, new(big.Int).SetUint64(num))
			return innerErr
		})
		if err != nil {
			return nil, fmt.Errorf("failed to fetch block %d: %w", num, err)
		}

		for _, tx := range block.Transactions() {
			if tx.To() == nil || tx.Value().Sign() == 0 {
				continue
			}

			to := strings.ToLower(tx.To().Hex())

			sender, err := types.Sender(signer, tx)
			if err != nil {
				c.logger.Warn().
					Err(err).
					Str("tx_hash", tx.Hash().Hex()).
					Msg("failed to recover transaction sender")
				continue
			}
			from := strings.ToLower(sender.Hex())

			if to != target && from != target {
				continue
			}

			events = append(events, &common.TransferEvent{
				TxHash:    strings.ToLower(tx.Hash().Hex()),
				ChainID:   c.ChainID(),
				Token:     token.Symbol,
				From:      from,
				To:        to,
				Amount:    new(big.Int).Set(tx.Value()),
				Block:     num,
				Timestamp: block.Time(),
				Confirmed: true,
			})
		}
	}

	return events, nil
}

// blockTimeCache memoizes header timestamps within one scan window.
type blockTimeCache struct {
	client *Client
	times  map[uint64]uint64
}

func newBlockTimeCache(client *Client) *blockTimeCache {
	return &blockTimeCache{client: client, times: make(map[uint64]uint64)}
}

func (b *blockTimeCache) get(ctx context.Context, blockNum uint64) (uint64, error) {
	if ts, ok := b.times[blockNum]; ok {
		return ts, nil
	}

	var header *types.Header
	err := b.client.retryManager.ExecuteWithRetry(ctx, "get_header", func() error {
		var innerErr error
		header, innerErr = b.client.ethClient.HeaderByNumber(ctx, new(big.Int).SetUint64(blockNum))
		return innerErr
	})
	if err != nil {
		return 0, fmt.Errorf("failed to fetch header %d: %w", blockNum, err)
	}

	b.times[blockNum] = header.Time
	return header.Time, nil
}

// sortEventsByBlock orders events oldest first, matching the delivery order
// contract for catch-up batches.
func sortEventsByBlock(events []*common.TransferEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Block < events[j].Block
	})
}
