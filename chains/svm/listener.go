package svm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/halcyonpay/reconciler/chains/common"
)

// Listener polls the signature history of every monitored address and
// pushes newly finalized transfers to the transfer sink as they appear.
// Its position is held in memory only; the durable ScanCursor belongs to
// the catch-up scanner, and the engine's idempotency absorbs anything
// both paths deliver.
type Listener struct {
	client  *Client
	sink    common.TransferSink
	cursors map[string]common.ScanCursor
	logger  zerolog.Logger
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

func newListener(client *Client, sink common.TransferSink, logger zerolog.Logger) *Listener {
	return &Listener{
		client: client,
		sink:   sink,
		logger: logger.With().
			Str("component", "svm_transfer_listener").
			Str("chain", client.ChainID()).
			Logger(),
		cursors: make(map[string]common.ScanCursor),
		stopCh:  make(chan struct{}),
	}
}

// Start begins delivering live transfers to the sink.
func (l *Listener) Start(ctx context.Context) error {
	if l.running {
		return fmt.Errorf("transfer listener is already running")
	}
	if l.sink == nil {
		return fmt.Errorf("no transfer sink configured")
	}

	l.running = true
	l.stopCh = make(chan struct{})

	l.wg.Add(1)
	go l.listen(ctx)

	l.logger.Info().Msg("Solana transfer listener started")
	return nil
}

// Stop gracefully stops the listener.
func (l *Listener) Stop() error {
	if !l.running {
		return nil
	}

	close(l.stopCh)
	l.running = false

	l.wg.Wait()
	l.logger.Info().Msg("Solana transfer listener stopped")
	return nil
}

// IsRunning returns whether the listener is currently running.
func (l *Listener) IsRunning() bool {
	return l.running
}

// listen is the main delivery loop.
func (l *Listener) listen(ctx context.Context) {
	defer l.wg.Done()

	cfg := l.client.GetConfig()
	interval := 5 * time.Second
	if cfg.PollIntervalSeconds > 0 {
		interval = time.Duration(cfg.PollIntervalSeconds) * time.Second
	}

	l.seedCursors()

	l.logger.Info().
		Int("monitored_addresses", len(cfg.MonitoredAddresses)).
		Dur("poll_interval", interval).
		Msg("starting live transfer watching")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.stopCh:
			return
		case <-ticker.C:
			l.poll(ctx)
		}
	}
}

// seedCursors starts every address from wherever the catch-up scanner left
// off, so nothing between the last persisted cursor and now is skipped.
func (l *Listener) seedCursors() {
	for _, monitored := range l.client.GetConfig().MonitoredAddresses {
		cursor, err := l.client.ScanStore().GetCursor(monitored.Address)
		if err != nil {
			l.logger.Warn().Err(err).
				Str("address", monitored.Address).
				Msg("failed to read persisted cursor")
			continue
		}
		l.cursors[monitored.Address] = cursor
	}
}

// poll fetches new transfers for every monitored address and hands them to
// the sink. The in-memory position advances only after the whole batch was
// accepted, so a rejected transfer is re-delivered on the next tick.
func (l *Listener) poll(ctx context.Context) {
	for _, monitored := range l.client.GetConfig().MonitoredAddresses {
		select {
		case <-l.stopCh:
			return
		default:
		}

		events, newCursor, err := l.client.FetchTransfers(ctx, monitored, l.cursors[monitored.Address])
		if err != nil {
			if errors.Is(err, common.ErrAddressNotFound) {
				continue
			}
			l.logger.Warn().Err(err).
				Str("address", monitored.Address).
				Msg("live transfer fetch failed")
			continue
		}

		delivered := true
		for _, event := range events {
			if err := l.sink.HandleTransfer(ctx, event); err != nil {
				l.logger.Error().Err(err).
					Str("tx_hash", event.TxHash).
					Str("address", monitored.Address).
					Msg("sink rejected transfer, keeping position")
				delivered = false
				break
			}
		}
		if delivered {
			l.cursors[monitored.Address] = newCursor
		}
	}
}
