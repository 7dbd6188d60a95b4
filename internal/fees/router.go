// Package fees prices payments across settlement rails and, for stablecoin
// payments, selects a chain. All policy values (fee schedules, confirmation
// requirements, gas estimates) are static tables; nothing here talks to a
// provider or a live chain.
package fees

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stateset/stablepay/internal/models"
)

var (
	ErrUnsupportedCurrency = errors.New("unsupported currency")
	ErrUnsupportedRail     = errors.New("unsupported rail")
	ErrUnsupportedChain    = errors.New("unsupported chain")
	// ErrAmountBelowFeeMinimum rejects amounts the fee schedule would eat
	// entirely; the net amount of a priced route is never negative.
	ErrAmountBelowFeeMinimum = errors.New("amount too small to cover fees")
)

// Chain is a supported blockchain for the stablecoin rail.
type Chain string

const (
	ChainEthereum Chain = "ethereum"
	ChainPolygon  Chain = "polygon"
	ChainArbitrum Chain = "arbitrum"
	ChainOptimism Chain = "optimism"
	ChainBase     Chain = "base"
	ChainSolana   Chain = "solana"
)

// chainPolicy holds static per-chain settlement policy. Confirmation counts
// follow depth conventions: 12+ on a base layer, 1 on an L2 or fast-finality
// chain.
type chainPolicy struct {
	RequiredConfirmations int
	EstimatedConfirmation time.Duration
	GasEstimate           decimal.Decimal
}

var chainPolicies = map[Chain]chainPolicy{
	ChainEthereum: {RequiredConfirmations: 12, EstimatedConfirmation: 15 * time.Minute, GasEstimate: decimal.RequireFromString("4.50")},
	ChainPolygon:  {RequiredConfirmations: 1, EstimatedConfirmation: 1 * time.Minute, GasEstimate: decimal.RequireFromString("0.02")},
	ChainArbitrum: {RequiredConfirmations: 1, EstimatedConfirmation: 1 * time.Minute, GasEstimate: decimal.RequireFromString("0.10")},
	ChainOptimism: {RequiredConfirmations: 1, EstimatedConfirmation: 1 * time.Minute, GasEstimate: decimal.RequireFromString("0.08")},
	ChainBase:     {RequiredConfirmations: 1, EstimatedConfirmation: 1 * time.Minute, GasEstimate: decimal.RequireFromString("0.05")},
	ChainSolana:   {RequiredConfirmations: 1, EstimatedConfirmation: 30 * time.Second, GasEstimate: decimal.RequireFromString("0.01")},
}

// railSchedule is the fee schedule for a fiat rail: provider percentage +
// fixed fee, plus the platform percentage collected on top.
type railSchedule struct {
	Provider        string
	ProviderPercent decimal.Decimal
	ProviderFixed   decimal.Decimal
	PlatformPercent decimal.Decimal
	SettlementDays  int
}

var railSchedules = map[models.Rail]railSchedule{
	models.RailCard: {
		Provider:        "stripe",
		ProviderPercent: decimal.RequireFromString("0.010"),
		ProviderFixed:   decimal.RequireFromString("0.30"),
		PlatformPercent: decimal.RequireFromString("0.005"),
		SettlementDays:  2,
	},
	models.RailBank: {
		Provider:        "bank_transfer",
		ProviderPercent: decimal.RequireFromString("0.003"),
		ProviderFixed:   decimal.RequireFromString("0.25"),
		PlatformPercent: decimal.RequireFromString("0.005"),
		SettlementDays:  2,
	},
}

// stablecoinPercent is the provider take on the stablecoin rail. No platform
// fee is added on top; the customer carries the gas estimate instead.
var stablecoinPercent = decimal.RequireFromString("0.005")

var fiatCurrencies = map[string]bool{
	"USD": true, "EUR": true, "GBP": true, "CAD": true, "AUD": true,
}

var stablecoinTokens = map[string]bool{
	"USDC": true, "USDT": true, "DAI": true,
}

// Hint constrains routing. A zero Hint means fully automatic selection.
type Hint struct {
	Rail  models.Rail
	Chain Chain
}

// Quote is a priced route for one payment.
type Quote struct {
	Rail                  models.Rail     `json:"rail"`
	Provider              string          `json:"provider"`
	ProviderFee           decimal.Decimal `json:"provider_fee"`
	PlatformFee           decimal.Decimal `json:"platform_fee"`
	Fee                   decimal.Decimal `json:"fee"`
	NetAmount             decimal.Decimal `json:"net_amount"`
	RequiredConfirmations int             `json:"required_confirmations"`
	EstimatedConfirmation time.Duration   `json:"-"`
	SettlementDays        int             `json:"settlement_days"`
}

// Router prices payments. MaxConfirmation bounds chain selection when the
// caller leaves the chain unconstrained; chains slower than the bound are
// not candidates.
type Router struct {
	MaxConfirmation time.Duration
}

func NewRouter(maxConfirmation time.Duration) *Router {
	if maxConfirmation <= 0 {
		maxConfirmation = 30 * time.Minute
	}
	return &Router{MaxConfirmation: maxConfirmation}
}

// Route prices amount/currency under hint. With an explicit rail (and chain,
// for stablecoin) the route is used directly; otherwise the cheapest viable
// candidate wins. Fee components are rounded half-up to 2 places before
// summing so the quoted total matches what the ledger records. A route whose
// fee exceeds the amount is rejected, not quoted with a negative net.
func (r *Router) Route(amount decimal.Decimal, currency string, hint Hint) (Quote, error) {
	q, err := r.route(amount, currency, hint)
	if err != nil {
		return Quote{}, err
	}
	if q.NetAmount.Sign() < 0 {
		return Quote{}, fmt.Errorf("%w: fee %s on %s exceeds amount %s", ErrAmountBelowFeeMinimum, q.Fee, q.Provider, amount)
	}
	return q, nil
}

func (r *Router) route(amount decimal.Decimal, currency string, hint Hint) (Quote, error) {
	if hint.Rail != "" {
		if !hint.Rail.Valid() {
			return Quote{}, ErrUnsupportedRail
		}
		return r.quoteRail(amount, currency, hint.Rail, hint.Chain)
	}
	if hint.Chain != "" {
		return r.quoteRail(amount, currency, models.RailStablecoin, hint.Chain)
	}

	var (
		best  Quote
		found bool
	)
	for _, rail := range []models.Rail{models.RailCard, models.RailBank, models.RailStablecoin} {
		q, err := r.quoteRail(amount, currency, rail, "")
		if err != nil {
			continue
		}
		if !found || q.Fee.LessThan(best.Fee) {
			best, found = q, true
		}
	}
	if !found {
		return Quote{}, ErrUnsupportedCurrency
	}
	return best, nil
}

func (r *Router) quoteRail(amount decimal.Decimal, currency string, rail models.Rail, chain Chain) (Quote, error) {
	switch rail {
	case models.RailCard, models.RailBank:
		if !fiatCurrencies[currency] {
			return Quote{}, ErrUnsupportedCurrency
		}
		s := railSchedules[rail]
		providerFee := round2(amount.Mul(s.ProviderPercent).Add(s.ProviderFixed))
		platformFee := round2(amount.Mul(s.PlatformPercent))
		fee := providerFee.Add(platformFee)
		return Quote{
			Rail:           rail,
			Provider:       s.Provider,
			ProviderFee:    providerFee,
			PlatformFee:    platformFee,
			Fee:            fee,
			NetAmount:      amount.Sub(fee),
			SettlementDays: s.SettlementDays,
		}, nil
	case models.RailStablecoin:
		if !stablecoinTokens[currency] {
			return Quote{}, ErrUnsupportedCurrency
		}
		if chain != "" {
			policy, ok := chainPolicies[chain]
			if !ok {
				return Quote{}, ErrUnsupportedChain
			}
			return r.quoteChain(amount, chain, policy), nil
		}
		return r.cheapestChain(amount)
	default:
		return Quote{}, ErrUnsupportedRail
	}
}

func (r *Router) cheapestChain(amount decimal.Decimal) (Quote, error) {
	var (
		best  Quote
		found bool
	)
	for chain, policy := range chainPolicies {
		if policy.EstimatedConfirmation > r.MaxConfirmation {
			continue
		}
		q := r.quoteChain(amount, chain, policy)
		switch {
		case !found,
			q.Fee.LessThan(best.Fee),
			// deterministic tie-break on provider name
			q.Fee.Equal(best.Fee) && q.Provider < best.Provider:
			best, found = q, true
		}
	}
	if !found {
		return Quote{}, ErrUnsupportedChain
	}
	return best, nil
}

func (r *Router) quoteChain(amount decimal.Decimal, chain Chain, policy chainPolicy) Quote {
	providerFee := round2(amount.Mul(stablecoinPercent).Add(policy.GasEstimate))
	return Quote{
		Rail:                  models.RailStablecoin,
		Provider:              string(chain),
		ProviderFee:           providerFee,
		PlatformFee:           decimal.Zero,
		Fee:                   providerFee,
		NetAmount:             amount.Sub(providerFee),
		RequiredConfirmations: policy.RequiredConfirmations,
		EstimatedConfirmation: policy.EstimatedConfirmation,
	}
}

func round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}
