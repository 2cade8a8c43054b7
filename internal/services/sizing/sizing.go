// Package sizing turns raw collateral/liquidation market parameters into
// leg-weight multipliers, derived liquidation prices and a
// liquidity-constrained maximum deployable size for each strategy shape.
package sizing

import (
	"sort"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/loopfolio/loopfolio/internal/domain"
)

// LegMarket is the market state of one (venue, token) cell used as an input
// to sizing. Values are plain decimals here: the generator resolves
// presence before a sizer is ever invoked.
type LegMarket struct {
	Venue  string
	Token  domain.TokenID
	Symbol string

	LendRate             decimal.Decimal
	BorrowRate           decimal.Decimal
	CollateralRatio      decimal.Decimal
	LiquidationThreshold decimal.Decimal
	Price                decimal.Decimal
	AvailableLiquidity   decimal.Decimal
	BorrowFee            decimal.Decimal
	BorrowWeight         decimal.Decimal
}

// Params carries the market cells a shape may draw on. Shapes use subsets:
// a single-leg strategy reads only CollateralLend, the looped shape reads
// all four lending cells, perp shapes read Perp for the short leg.
type Params struct {
	// CollateralLend is the collateral token lent at the entry venue.
	CollateralLend LegMarket
	// CollateralLoan is the token borrowed at the entry venue against the
	// collateral.
	CollateralLoan LegMarket
	// CounterLend is the borrowed token re-lent at the counter venue.
	CounterLend LegMarket
	// CounterLoan is the collateral token borrowed back at the counter
	// venue, closing the loop.
	CounterLoan LegMarket
	// Perp is the perpetual market cell for hedge and perp-borrow shapes;
	// its BorrowRate field carries the funding rate.
	Perp LegMarket
}

// SafetyConfig is the caller-owned safety configuration.
type SafetyConfig struct {
	// MinProtection is the minimum liquidation-distance protection d the
	// caller requires on every collateralized leg, as a fraction in [0, 1).
	MinProtection decimal.Decimal
	// MinSize invalidates candidates whose liquidity-capped maximum
	// deployable size falls below it.
	MinSize decimal.Decimal
}

// Result is the outcome of sizing one combination. Sizers never fail on
// degenerate market input: the result is returned with Valid=false and the
// diagnostic fields populated instead.
type Result struct {
	Shape domain.Shape
	Legs  []domain.Leg

	MaxSize       decimal.Decimal
	Valid         bool
	InvalidReason string

	// RequestedProtection is the caller's d; InternalProtection is the
	// d/(1-d) transform actually applied to venue ratios. Kept separate for
	// audit; never conflated in persisted output.
	RequestedProtection decimal.Decimal
	InternalProtection  decimal.Decimal
}

// Sizer computes multipliers for one strategy shape.
type Sizer interface {
	Shape() domain.Shape
	Size(p Params, safety SafetyConfig) (Result, error)
}

// Registry maps shape tags to sizing implementations so new shapes plug in
// without touching the generator or the allocator.
type Registry struct {
	sizers map[domain.Shape]Sizer
}

// NewRegistry builds a registry over the given sizers.
func NewRegistry(sizers ...Sizer) (*Registry, error) {
	r := &Registry{sizers: make(map[domain.Shape]Sizer, len(sizers))}
	for _, s := range sizers {
		if _, dup := r.sizers[s.Shape()]; dup {
			return nil, errors.Errorf("duplicate sizer for shape %s", s.Shape())
		}
		r.sizers[s.Shape()] = s
	}
	return r, nil
}

// DefaultRegistry registers every built-in shape.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(
		SingleSizer{},
		NoLoopSizer{},
		LoopedSizer{},
		HedgeSizer{},
		PerpBorrowSizer{},
	)
	if err != nil {
		// built-in shapes are distinct; reaching this is a programming error
		panic(err)
	}
	return r
}

// Get returns the sizer registered for the shape.
func (r *Registry) Get(shape domain.Shape) (Sizer, bool) {
	s, ok := r.sizers[shape]
	return s, ok
}

// Shapes lists registered shape tags in stable (lexicographic) order.
func (r *Registry) Shapes() []domain.Shape {
	out := make([]domain.Shape, 0, len(r.sizers))
	for s := range r.sizers {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

var one = decimal.NewFromInt(1)

// protection resolves the caller's minimum protection d into the internal
// ratio-scaling value d/(1-d). Scaling a venue ratio by 1/(1+internal) —
// algebraically LTV×(1-d) — realizes a lending-side distance of exactly d
// and a borrowing-side distance of d/(1-d), so the structurally weaker
// lending side still receives the requested minimum.
func protection(safety SafetyConfig) (requested, internal decimal.Decimal, err error) {
	d := safety.MinProtection
	if d.IsNegative() || d.GreaterThanOrEqual(one) {
		return decimal.Decimal{}, decimal.Decimal{}, errors.Errorf(
			"minimum protection must be in [0, 1), got %s", d.String())
	}
	return d, d.Div(one.Sub(d)), nil
}

// effectiveRatio scales a venue collateral ratio by the internal protection
// distance. A zero ratio stays zero, forcing a zero borrow weight on the
// dependent leg.
func effectiveRatio(ltv, internal decimal.Decimal) decimal.Decimal {
	if ltv.IsZero() {
		return decimal.Zero
	}
	return ltv.Div(one.Add(internal))
}

// checkCollateralInvariant verifies liquidation_threshold > collateral_ratio
// for a collateralized cell. Returns an invalid-reason string, empty when
// the cell is sound.
func checkCollateralInvariant(m LegMarket) string {
	if m.CollateralRatio.IsNegative() {
		return "negative_collateral_ratio"
	}
	if !m.CollateralRatio.IsZero() && !m.LiquidationThreshold.GreaterThan(m.CollateralRatio) {
		return "liquidation_threshold_not_above_collateral_ratio"
	}
	return ""
}

// borrowWeightOrOne normalizes an unset venue borrow weight to 1.
func borrowWeightOrOne(m LegMarket) decimal.Decimal {
	if m.BorrowWeight.IsZero() {
		return one
	}
	return m.BorrowWeight
}

// maxDeployableSize caps size by per-leg available liquidity: the minimum
// over legs of liquidity / effective weight. Borrow and perp legs consume
// weight × venue borrow weight per deployed unit, lend legs just weight.
func maxDeployableSize(legs []domain.Leg, liquidity map[domain.Cell]decimal.Decimal) decimal.Decimal {
	capped := false
	minSize := decimal.Zero
	for _, l := range legs {
		if l.Weight.IsZero() {
			continue
		}
		avail, ok := liquidity[domain.Cell{Venue: l.Venue, Token: l.Token}]
		if !ok {
			continue
		}
		consumption := l.LiquidityConsumption()
		if l.Action == domain.LegLend {
			consumption = l.Weight
		}
		size := avail.Div(consumption)
		if !capped || size.LessThan(minSize) {
			minSize = size
			capped = true
		}
	}
	if !capped {
		return decimal.Zero
	}
	return minSize
}

// finalize fills the shared validity/size fields of a result.
func finalize(res Result, safety SafetyConfig, liquidity map[domain.Cell]decimal.Decimal) Result {
	res.MaxSize = maxDeployableSize(res.Legs, liquidity)
	if res.InvalidReason != "" {
		res.Valid = false
		return res
	}
	if res.MaxSize.LessThanOrEqual(decimal.Zero) {
		res.Valid = false
		res.InvalidReason = "liquidity_cap_not_positive"
		return res
	}
	if res.MaxSize.LessThan(safety.MinSize) {
		res.Valid = false
		res.InvalidReason = "below_minimum_size"
		return res
	}
	res.Valid = true
	return res
}

// lendLeg builds a lend leg with its collateral-side liquidation price
// entry × (1 - d).
func lendLeg(m LegMarket, weight, requested decimal.Decimal, collateralized bool) domain.Leg {
	leg := domain.Leg{
		Venue:      m.Venue,
		Token:      m.Token,
		Symbol:     m.Symbol,
		Action:     domain.LegLend,
		Weight:     weight,
		Rate:       m.LendRate,
		EntryPrice: m.Price,

		AvailableLiquidity: m.AvailableLiquidity,
	}
	if collateralized && weight.GreaterThan(decimal.Zero) {
		leg.LiquidationPrice = m.Price.Mul(one.Sub(requested))
	}
	return leg
}

// borrowLeg builds a borrow leg with its liquidation price
// entry × (1 + internal distance): borrowed exposure gains value toward
// liquidation.
func borrowLeg(m LegMarket, weight, internal decimal.Decimal) domain.Leg {
	leg := domain.Leg{
		Venue:        m.Venue,
		Token:        m.Token,
		Symbol:       m.Symbol,
		Action:       domain.LegBorrow,
		Weight:       weight,
		Rate:         m.BorrowRate,
		EntryPrice:   m.Price,
		BorrowFee:    m.BorrowFee,
		BorrowWeight: borrowWeightOrOne(m),

		AvailableLiquidity: m.AvailableLiquidity,
	}
	if weight.GreaterThan(decimal.Zero) {
		leg.LiquidationPrice = m.Price.Mul(one.Add(internal))
	}
	return leg
}

// perpLeg builds a perpetual short leg; the cell's BorrowRate carries the
// funding rate and the requested distance d sets the liquidation price.
func perpLeg(m LegMarket, weight, requested decimal.Decimal) domain.Leg {
	leg := domain.Leg{
		Venue:        m.Venue,
		Token:        m.Token,
		Symbol:       m.Symbol,
		Action:       domain.LegPerpShort,
		Weight:       weight,
		Rate:         m.BorrowRate,
		EntryPrice:   m.Price,
		BorrowFee:    m.BorrowFee,
		BorrowWeight: borrowWeightOrOne(m),

		AvailableLiquidity: m.AvailableLiquidity,
	}
	if weight.GreaterThan(decimal.Zero) {
		leg.LiquidationPrice = m.Price.Mul(one.Add(requested))
	}
	return leg
}

// liquidityCaps builds the per-cell liquidity map for maxDeployableSize.
// Every used cell caps, even at zero: a zero cap invalidates the candidate
// rather than erroring.
func liquidityCaps(cells ...LegMarket) map[domain.Cell]decimal.Decimal {
	out := make(map[domain.Cell]decimal.Decimal, len(cells))
	for _, m := range cells {
		out[domain.Cell{Venue: m.Venue, Token: m.Token}] = m.AvailableLiquidity
	}
	return out
}
