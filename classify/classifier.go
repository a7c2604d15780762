// Package classify turns direction-neutral transfer events into typed
// deposit/withdraw effects against the monitored treasury addresses. The
// classifier is pure with respect to persistence: it reads configuration and
// the wallet-link mapping, and mutates nothing.
package classify

import (
	"strings"

	"github.com/rs/zerolog"

	"github.com/halcyonpay/reconciler/chains/common"
	"github.com/halcyonpay/reconciler/config"
)

// Direction of a classified transfer relative to the platform.
type Direction int

const (
	DirectionDeposit Direction = iota
	DirectionWithdraw
)

func (d Direction) String() string {
	if d == DirectionWithdraw {
		return "withdraw"
	}
	return "deposit"
}

// ClassifiedTransfer is a TransferEvent annotated with its direction, the
// monitored address it matched, and the resolved platform user (Associated
// is false when the counterparty maps to no user).
type ClassifiedTransfer struct {
	Event      *common.TransferEvent
	Direction  Direction
	Monitored  config.MonitoredAddress
	UserID     uint64
	Associated bool
}

// UserResolver maps a counterparty address to a platform user.
type UserResolver interface {
	ResolveUser(chainID, address string) (uint64, bool, error)
}

// TokenSource exposes the currently supported tokens for a chain.
type TokenSource interface {
	GetChainTokens(chainID string) []config.TokenInfo
}

// Classifier matches transfer events against monitored addresses and
// supported tokens.
type Classifier struct {
	resolver UserResolver
	tokens   TokenSource
	logger   zerolog.Logger
}

// NewClassifier creates a classifier.
func NewClassifier(resolver UserResolver, tokens TokenSource, logger zerolog.Logger) *Classifier {
	return &Classifier{
		resolver: resolver,
		tokens:   tokens,
		logger:   logger.With().Str("component", "classifier").Logger(),
	}
}

// Classify decides deposit vs withdraw vs irrelevant for one transfer event
// against the monitored addresses configured for its chain. A nil result
// means the event was discarded; every discard is logged with enough context
// to audit.
func (c *Classifier) Classify(ev *common.TransferEvent, monitored []config.MonitoredAddress) (*ClassifiedTransfer, error) {
	log := c.logger.With().
		Str("tx_hash", ev.TxHash).
		Str("chain", ev.ChainID).
		Str("from", ev.From).
		Str("to", ev.To).
		Logger()

	// Self-transfers carry no value movement relative to the treasury.
	if ev.From != "" && ev.From == ev.To {
		log.Debug().Msg("self-transfer discarded")
		return nil, nil
	}

	// Token transfers must match a currently supported token for the chain.
	if ev.TokenAddress != "" {
		token, ok := c.resolveToken(ev)
		if !ok {
			log.Info().
				Str("token_address", ev.TokenAddress).
				Msg("unsupported token discarded")
			return nil, nil
		}
		ev.Token = token.Symbol
	}

	match, direction, counterparty := matchMonitored(ev, monitored)
	if match == nil {
		return nil, nil // does not touch a monitored address; not ours
	}

	ct := &ClassifiedTransfer{
		Event:     ev,
		Direction: direction,
		Monitored: *match,
	}

	if counterparty != "" {
		userID, found, err := c.resolver.ResolveUser(ev.ChainID, counterparty)
		if err != nil {
			return nil, err
		}
		ct.UserID = userID
		ct.Associated = found
	}

	log.Debug().
		Str("direction", direction.String()).
		Str("token", ev.Token).
		Str("amount", ev.Amount.String()).
		Bool("associated", ct.Associated).
		Msg("transfer classified")
	return ct, nil
}

// resolveToken matches the event's contract/mint against the supported
// tokens for the chain, case-normalized.
func (c *Classifier) resolveToken(ev *common.TransferEvent) (config.TokenInfo, bool) {
	want := strings.ToLower(ev.TokenAddress)
	for _, t := range c.tokens.GetChainTokens(ev.ChainID) {
		if t.Address != "" && strings.ToLower(t.Address) == want {
			return t, true
		}
	}
	return config.TokenInfo{}, false
}

// matchMonitored matches the event's endpoints against the monitored set.
// Sender == monitored → withdraw candidate with counterparty = recipient;
// recipient == monitored → deposit candidate with counterparty = sender.
func matchMonitored(ev *common.TransferEvent, monitored []config.MonitoredAddress) (*config.MonitoredAddress, Direction, string) {
	for i := range monitored {
		ma := &monitored[i]
		if !tokenScopeMatches(ev, ma) {
			continue
		}
		if ev.To == ma.Address {
			return ma, DirectionDeposit, ev.From
		}
		if ev.From == ma.Address {
			return ma, DirectionWithdraw, ev.To
		}
	}
	return nil, DirectionDeposit, ""
}

// tokenScopeMatches honors the optional token scoping of a monitored
// address: an address scoped to one token only matches transfers of that
// token; an unscoped address matches everything.
func tokenScopeMatches(ev *common.TransferEvent, ma *config.MonitoredAddress) bool {
	if ma.Token == "" && ma.TokenAddress == "" {
		return true
	}
	if ma.TokenAddress != "" {
		return strings.EqualFold(ma.TokenAddress, ev.TokenAddress)
	}
	return strings.EqualFold(ma.Token, ev.Token) && ev.TokenAddress == ""
}
