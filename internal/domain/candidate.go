package domain

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// HorizonAPR is the net APR of a candidate at one projection horizon, with
// one-time borrow fees amortized over that horizon.
type HorizonAPR struct {
	Horizon time.Duration   `json:"horizon"`
	Net     decimal.Decimal `json:"net"`
}

// Candidate is an ephemeral, per-snapshot evaluation of one strategy
// combination. Invalid candidates are kept (with the reason populated) so
// downstream diagnostics can explain exclusions; only valid ones are
// eligible for allocation.
type Candidate struct {
	Shape Shape `json:"shape"`
	Legs  []Leg `json:"legs"`

	// GrossAPR is the signed weighted sum of leg rates before fees.
	GrossAPR decimal.Decimal `json:"gross_apr"`
	// NetAPRs holds fee-amortized APRs, ordered by ascending horizon.
	NetAPRs []HorizonAPR `json:"net_aprs"`

	// MaxSize is the liquidity-constrained maximum deployable USD size as
	// reported at generation time. The allocator recomputes it against the
	// live ledger.
	MaxSize decimal.Decimal `json:"max_size"`

	Valid         bool   `json:"valid"`
	InvalidReason string `json:"invalid_reason,omitempty"`

	// Confidence is the minimum observation count across the legs' market
	// cells within the evaluated window.
	Confidence int `json:"confidence"`
	// RateStability is the largest absolute deviation of a leg rate from
	// its smoothed series, zero when the window is too short to smooth.
	RateStability decimal.Decimal `json:"rate_stability"`

	// RequestedProtection is the caller-supplied minimum liquidation
	// distance; InternalProtection is the transformed value actually used
	// for ratio scaling. They are persisted separately and never conflated.
	RequestedProtection decimal.Decimal `json:"requested_protection"`
	InternalProtection  decimal.Decimal `json:"internal_protection"`
}

// NetAPRAt returns the net APR at the given horizon, falling back to the
// gross APR when the horizon was not projected.
func (c Candidate) NetAPRAt(h time.Duration) decimal.Decimal {
	for _, a := range c.NetAPRs {
		if a.Horizon == h {
			return a.Net
		}
	}
	return c.GrossAPR
}

// Key is the stable identity used for deterministic tie-breaking and for
// trace records: shape tag, then token addresses, then venue names, in leg
// order. Never rely on enumeration order instead of this.
func (c Candidate) Key() string {
	parts := make([]string, 0, 1+2*len(c.Legs))
	parts = append(parts, string(c.Shape))
	for _, l := range c.Legs {
		parts = append(parts, strings.ToLower(l.Token.Hex()))
	}
	for _, l := range c.Legs {
		parts = append(parts, l.Venue)
	}
	return strings.Join(parts, "|")
}

// SortCandidates orders candidates deterministically: net APR at the rank
// horizon descending, then the explicit tie-break key ascending.
func SortCandidates(cs []Candidate, rankHorizon time.Duration) {
	sort.SliceStable(cs, func(i, j int) bool {
		ai, aj := cs[i].NetAPRAt(rankHorizon), cs[j].NetAPRAt(rankHorizon)
		if !ai.Equal(aj) {
			return ai.GreaterThan(aj)
		}
		return cs[i].Key() < cs[j].Key()
	})
}
