// Package scanner drives transfer discovery: periodic catch-up scans over
// every monitored address, feeding discovered transfers through
// classification into the ledger engine. Cursors only advance after a whole
// batch has been applied, so a crash mid-batch re-delivers and the engine's
// idempotency absorbs the duplicates.
package scanner

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/halcyonpay/reconciler/chains/common"
	"github.com/halcyonpay/reconciler/classify"
	"github.com/halcyonpay/reconciler/ledger"
)

// ChainSource looks up the client for a chain ID. Satisfied by
// chains.Registry.
type ChainSource interface {
	GetChain(chainID string) common.ChainClient
}

// Pipeline routes one discovered transfer through classification and into
// the ledger. It implements common.TransferSink, so chain clients with live
// subscriptions deliver through the same path as catch-up scans.
type Pipeline struct {
	registry   ChainSource
	classifier *classify.Classifier
	engine     *ledger.Engine
	logger     zerolog.Logger
}

// NewPipeline creates a new transfer pipeline.
func NewPipeline(
	registry ChainSource,
	classifier *classify.Classifier,
	engine *ledger.Engine,
	logger zerolog.Logger,
) *Pipeline {
	return &Pipeline{
		registry:   registry,
		classifier: classifier,
		engine:     engine,
		logger:     logger.With().Str("component", "transfer_pipeline").Logger(),
	}
}

// HandleTransfer classifies one transfer and applies its ledger effect.
// A nil return means the transfer was fully handled (including deliberate
// discards and duplicates); an error means the effect was not applied and
// the caller must not advance its cursor past this transfer.
func (p *Pipeline) HandleTransfer(ctx context.Context, ev *common.TransferEvent) error {
	client := p.registry.GetChain(ev.ChainID)
	if client == nil {
		return fmt.Errorf("no registered chain client for %s", ev.ChainID)
	}

	classified, err := p.classifier.Classify(ev, client.GetConfig().MonitoredAddresses)
	if err != nil {
		return fmt.Errorf("classification failed for tx %s: %w", ev.TxHash, err)
	}
	if classified == nil {
		return nil
	}

	var outcome ledger.Outcome
	switch classified.Direction {
	case classify.DirectionDeposit:
		outcome, err = p.engine.ApplyDeposit(ctx, classified)
	case classify.DirectionWithdraw:
		outcome, err = p.engine.ApplyWithdrawal(ctx, classified)
	default:
		return fmt.Errorf("unknown transfer direction %d for tx %s", classified.Direction, ev.TxHash)
	}
	if err != nil {
		return fmt.Errorf("failed to apply %s for tx %s: %w", classified.Direction, ev.TxHash, err)
	}

	p.logger.Info().
		Str("chain", ev.ChainID).
		Str("tx_hash", ev.TxHash).
		Str("token", ev.Token).
		Str("amount", ev.Amount.String()).
		Str("direction", classified.Direction.String()).
		Str("outcome", outcome.String()).
		Msg("transfer processed")

	return nil
}
