package sizing

import (
	"github.com/shopspring/decimal"

	"github.com/loopfolio/loopfolio/internal/domain"
)

// SingleSizer sizes a pure lending position: one lend leg at weight 1, no
// borrow legs.
type SingleSizer struct{}

func (SingleSizer) Shape() domain.Shape { return domain.ShapeSingle }

func (SingleSizer) Size(p Params, safety SafetyConfig) (Result, error) {
	requested, internal, err := protection(safety)
	if err != nil {
		return Result{}, err
	}

	res := Result{
		Shape:               domain.ShapeSingle,
		RequestedProtection: requested,
		InternalProtection:  internal,
		Legs: []domain.Leg{
			lendLeg(p.CollateralLend, one, requested, false),
		},
	}
	return finalize(res, safety, liquidityCaps(p.CollateralLend)), nil
}

// NoLoopSizer sizes the 3-leg carry: lend collateral at venue A, borrow the
// counter token at A, re-lend it at venue B. No second borrow leg, so the
// series does not recurse: L_A = 1, B_A = r_A, L_B = B_A.
type NoLoopSizer struct{}

func (NoLoopSizer) Shape() domain.Shape { return domain.ShapeNoLoop }

func (NoLoopSizer) Size(p Params, safety SafetyConfig) (Result, error) {
	requested, internal, err := protection(safety)
	if err != nil {
		return Result{}, err
	}

	res := Result{
		Shape:               domain.ShapeNoLoop,
		RequestedProtection: requested,
		InternalProtection:  internal,
		InvalidReason:       checkCollateralInvariant(p.CollateralLend),
	}

	rA := effectiveRatio(p.CollateralLend.CollateralRatio, internal)
	res.Legs = []domain.Leg{
		lendLeg(p.CollateralLend, one, requested, true),
		borrowLeg(p.CollateralLoan, rA, internal),
		lendLeg(p.CounterLend, rA, requested, false),
	}
	return finalize(res, safety, liquidityCaps(p.CollateralLend, p.CollateralLoan, p.CounterLend)), nil
}

// LoopedSizer sizes the recursive 4-leg strategy. Proceeds borrowed at each
// venue are re-lent at the other, so leg sizes form a geometric series with
// the closed form
//
//	L_A = 1 / (1 - r_A·r_B)
//	B_A = L_A·r_A, L_B = B_A, B_B = L_B·r_B
//
// where r is the venue collateral ratio scaled by the internal protection
// distance. Ratio, not raw LTV, already encodes venue-specific collateral
// limits.
type LoopedSizer struct{}

func (LoopedSizer) Shape() domain.Shape { return domain.ShapeLooped }

func (LoopedSizer) Size(p Params, safety SafetyConfig) (Result, error) {
	requested, internal, err := protection(safety)
	if err != nil {
		return Result{}, err
	}

	res := Result{
		Shape:               domain.ShapeLooped,
		RequestedProtection: requested,
		InternalProtection:  internal,
	}
	if reason := checkCollateralInvariant(p.CollateralLend); reason != "" {
		res.InvalidReason = reason
	} else if reason := checkCollateralInvariant(p.CounterLend); reason != "" {
		res.InvalidReason = reason
	}

	rA := effectiveRatio(p.CollateralLend.CollateralRatio, internal)
	rB := effectiveRatio(p.CounterLend.CollateralRatio, internal)

	product := rA.Mul(rB)
	if product.GreaterThanOrEqual(one) {
		// collateral ratios at or above 1 would diverge the series
		res.Legs = []domain.Leg{
			lendLeg(p.CollateralLend, decimal.Zero, requested, true),
			borrowLeg(p.CollateralLoan, decimal.Zero, internal),
			lendLeg(p.CounterLend, decimal.Zero, requested, true),
			borrowLeg(p.CounterLoan, decimal.Zero, internal),
		}
		res.InvalidReason = "geometric_series_divergent"
		return finalize(res, safety, liquidityCaps(p.CollateralLend, p.CollateralLoan, p.CounterLend, p.CounterLoan)), nil
	}

	lendA := one.Div(one.Sub(product))
	borrowA := lendA.Mul(rA)
	lendB := borrowA
	borrowB := lendB.Mul(rB)

	res.Legs = []domain.Leg{
		lendLeg(p.CollateralLend, lendA, requested, true),
		borrowLeg(p.CollateralLoan, borrowA, internal),
		lendLeg(p.CounterLend, lendB, requested, true),
		borrowLeg(p.CounterLoan, borrowB, internal),
	}
	return finalize(res, safety, liquidityCaps(p.CollateralLend, p.CollateralLoan, p.CounterLend, p.CounterLoan)), nil
}

// HedgeSizer sizes a spot lend hedged with a perpetual short of the same
// token. For a target liquidation distance d on the short leg the short
// runs at leverage N = 1/d, so the collateral split is L_A = 1/(1+d) spot
// and B_B = d/(1+d) perp margin.
type HedgeSizer struct{}

func (HedgeSizer) Shape() domain.Shape { return domain.ShapeHedge }

func (HedgeSizer) Size(p Params, safety SafetyConfig) (Result, error) {
	requested, internal, err := protection(safety)
	if err != nil {
		return Result{}, err
	}

	spotWeight := one.Div(one.Add(requested))
	perpWeight := requested.Div(one.Add(requested))

	res := Result{
		Shape:               domain.ShapeHedge,
		RequestedProtection: requested,
		InternalProtection:  internal,
		Legs: []domain.Leg{
			lendLeg(p.CollateralLend, spotWeight, requested, false),
			perpLeg(p.Perp, perpWeight, requested),
		},
	}
	if requested.IsZero() {
		// d = 0 would mean infinite leverage on the short
		res.InvalidReason = "zero_protection_on_perp_short"
	}
	return finalize(res, safety, liquidityCaps(p.CollateralLend, p.Perp)), nil
}

// PerpBorrowSizer sizes the borrow-and-hedge shape: lend collateral at
// venue A, borrow the counter token at A (B_A = r_A) and neutralize the
// borrowed exposure with a perpetual short of the same weight.
type PerpBorrowSizer struct{}

func (PerpBorrowSizer) Shape() domain.Shape { return domain.ShapePerpBorrow }

func (PerpBorrowSizer) Size(p Params, safety SafetyConfig) (Result, error) {
	requested, internal, err := protection(safety)
	if err != nil {
		return Result{}, err
	}

	res := Result{
		Shape:               domain.ShapePerpBorrow,
		RequestedProtection: requested,
		InternalProtection:  internal,
		InvalidReason:       checkCollateralInvariant(p.CollateralLend),
	}

	rA := effectiveRatio(p.CollateralLend.CollateralRatio, internal)
	res.Legs = []domain.Leg{
		lendLeg(p.CollateralLend, one, requested, true),
		borrowLeg(p.CollateralLoan, rA, internal),
		perpLeg(p.Perp, rA, requested),
	}
	return finalize(res, safety, liquidityCaps(p.CollateralLend, p.CollateralLoan, p.Perp)), nil
}
