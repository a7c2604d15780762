package scanner

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/halcyonpay/reconciler/cache"
	"github.com/halcyonpay/reconciler/chains/common"
	"github.com/halcyonpay/reconciler/config"
)

// FamilySource lists the registered clients for one chain family.
// Satisfied by chains.Registry.
type FamilySource interface {
	ChainsByVMType(vmType string) map[string]common.ChainClient
}

// Scanner runs catch-up scans for every monitored address on a per-family
// cadence. Each chain family has its own ticker and its own reentrancy
// guard: a tick that fires while the previous scan is still running is
// skipped and logged, never stacked.
type Scanner struct {
	registry FamilySource
	pipeline *Pipeline
	sigCache *cache.SignatureCache
	logger   zerolog.Logger

	intervals map[string]time.Duration // per VM-type tick interval
	guards    map[string]*sync.Mutex   // per VM-type reentrancy guard

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewScanner creates a scanner covering the chain families present in the
// configuration. Each family ticks at the shortest poll interval any of its
// chains asks for.
func NewScanner(
	appConfig *config.Config,
	registry FamilySource,
	pipeline *Pipeline,
	sigCache *cache.SignatureCache,
	logger zerolog.Logger,
) *Scanner {
	intervals := make(map[string]time.Duration)
	guards := make(map[string]*sync.Mutex)
	for _, cc := range appConfig.ChainConfigs {
		interval := time.Duration(cc.PollIntervalSeconds) * time.Second
		if existing, ok := intervals[cc.VMType]; !ok || interval < existing {
			intervals[cc.VMType] = interval
		}
		if _, ok := guards[cc.VMType]; !ok {
			guards[cc.VMType] = &sync.Mutex{}
		}
	}

	return &Scanner{
		registry:  registry,
		pipeline:  pipeline,
		sigCache:  sigCache,
		logger:    logger.With().Str("component", "scanner").Logger(),
		intervals: intervals,
		guards:    guards,
	}
}

// Start launches one scan loop per chain family. Safe to call multiple
// times; subsequent calls are no-ops.
func (s *Scanner) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	if len(s.intervals) == 0 {
		return errors.New("scanner: no chain families configured")
	}

	s.stopCh = make(chan struct{})
	s.running = true

	for vmType, interval := range s.intervals {
		s.wg.Add(1)
		go s.run(ctx, vmType, interval)
	}
	return nil
}

// Stop signals the scan loops to exit and waits for them to finish.
func (s *Scanner) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	close(s.stopCh)
	s.running = false
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Scanner) run(ctx context.Context, vmType string, interval time.Duration) {
	defer s.wg.Done()

	logger := s.logger.With().Str("vm_type", vmType).Logger()
	logger.Info().Dur("interval", interval).Msg("scan loop started")

	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("scan loop: context canceled; stopping")
			return
		case <-s.stopCh:
			logger.Info().Msg("scan loop: stop requested; stopping")
			return
		case <-t.C:
			s.scanFamily(ctx, vmType, logger)
		}
	}
}

// scanFamily runs one catch-up pass over every chain of one family. The
// TryLock guard makes overlapping ticks skip instead of queueing: a slow
// RPC catch-up never piles concurrent scans onto the same cursors.
func (s *Scanner) scanFamily(ctx context.Context, vmType string, logger zerolog.Logger) {
	guard := s.guards[vmType]
	if !guard.TryLock() {
		logger.Debug().Msg("previous scan still running, skipping tick")
		return
	}
	defer guard.Unlock()

	for chainID, client := range s.registry.ChainsByVMType(vmType) {
		if !client.IsHealthy() {
			logger.Warn().Str("chain", chainID).Msg("chain client unhealthy, skipping scan")
			continue
		}

		for _, monitored := range client.GetConfig().MonitoredAddresses {
			if err := s.scanAddress(ctx, client, monitored); err != nil {
				logger.Warn().
					Err(err).
					Str("chain", chainID).
					Str("address", monitored.Address).
					Msg("address scan failed, will retry next tick")
			}
		}
	}
}

// scanAddress catches up one monitored address: load the cursor, fetch the
// next window of transfers, apply every one, then persist the advanced
// cursor. Any failure leaves the cursor untouched so the window re-runs.
func (s *Scanner) scanAddress(ctx context.Context, client common.ChainClient, monitored config.MonitoredAddress) error {
	chainID := client.ChainID()
	scanStore := client.ScanStore()

	cursor, err := scanStore.GetCursor(monitored.Address)
	if err != nil {
		return err
	}

	// A cold cursor store can be seeded from the advisory signature cache,
	// saving a deep history walk after a fresh deploy.
	if cursor.UntilSignature == "" && cursor.LastBlock == 0 {
		if hint := s.sigCache.GetLastProcessed(ctx, chainID, monitored.Address); hint != "" {
			cursor.UntilSignature = hint
		}
	}

	events, newCursor, err := client.FetchTransfers(ctx, monitored, cursor)
	if err != nil {
		if errors.Is(err, common.ErrAddressNotFound) {
			s.logger.Debug().
				Str("chain", chainID).
				Str("address", monitored.Address).
				Msg("address has no on-chain footprint yet")
			return nil
		}
		return err
	}

	for _, ev := range events {
		if err := s.pipeline.HandleTransfer(ctx, ev); err != nil {
			return err
		}
	}

	if newCursor != cursor {
		if err := scanStore.UpdateCursor(monitored.Address, newCursor); err != nil {
			return err
		}
		if newCursor.UntilSignature != "" {
			s.sigCache.SetLastProcessed(ctx, chainID, monitored.Address, newCursor.UntilSignature)
		}
	}

	return nil
}
