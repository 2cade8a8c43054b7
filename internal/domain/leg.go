package domain

import "github.com/shopspring/decimal"

//go:generate stringer -type=LegAction

// LegAction represents the operation a strategy leg performs.
type LegAction int

const (
	// LegLend supplies a token to a lending venue, earning the lend rate.
	LegLend LegAction = iota
	// LegBorrow borrows a token from a lending venue, paying the borrow rate.
	LegBorrow
	// LegPerpShort holds a perpetual short, paying (or receiving) funding.
	LegPerpShort
)

const (
	legStringLend      = "lend"
	legStringBorrow    = "borrow"
	legStringPerpShort = "perp_short"
)

// String returns the string representation of the action.
func (a LegAction) String() string {
	switch a {
	case LegLend:
		return legStringLend
	case LegBorrow:
		return legStringBorrow
	case LegPerpShort:
		return legStringPerpShort
	default:
		return "unknown"
	}
}

// Earns reports whether the leg's rate contributes positively to carry.
// Borrow and perp-short legs pay their rate.
func (a LegAction) Earns() bool {
	return a == LegLend
}

// Leg is one lend/borrow/perp operation within a strategy, tied to a
// specific token identity and venue.
type Leg struct {
	Venue  string    `json:"venue"`
	Token  TokenID   `json:"token"`
	Symbol string    `json:"symbol,omitempty"`
	Action LegAction `json:"action"`

	// Weight is the position multiplier per unit of deployed capital.
	Weight decimal.Decimal `json:"weight"`
	// Rate is the annualized rate observed at evaluation time.
	Rate decimal.Decimal `json:"rate"`
	// EntryPrice is the token price observed at evaluation time.
	EntryPrice decimal.Decimal `json:"entry_price"`
	// LiquidationPrice is derived from the protection distance; zero when
	// the leg carries no liquidation exposure.
	LiquidationPrice decimal.Decimal `json:"liquidation_price"`
	// BorrowFee is the one-time fee fraction for borrow legs.
	BorrowFee decimal.Decimal `json:"borrow_fee"`
	// BorrowWeight is the venue's liquidity weighting for borrow legs
	// (1 when the venue does not weight borrows).
	BorrowWeight decimal.Decimal `json:"borrow_weight"`
	// AvailableLiquidity is the cell's borrowable liquidity reported at
	// evaluation time; the allocator seeds its ledger from it.
	AvailableLiquidity decimal.Decimal `json:"available_liquidity"`
}

// RateContribution returns the signed annualized carry of the leg per unit
// of deployed capital: positive for lend legs, negative for borrow and
// perp-short legs.
func (l Leg) RateContribution() decimal.Decimal {
	c := l.Weight.Mul(l.Rate)
	if l.Action.Earns() {
		return c
	}
	return c.Neg()
}

// LiquidityConsumption is the effective borrowable liquidity the leg uses
// per unit of deployed capital. Lend legs consume none.
func (l Leg) LiquidityConsumption() decimal.Decimal {
	if l.Action == LegLend {
		return decimal.Zero
	}
	bw := l.BorrowWeight
	if bw.IsZero() {
		bw = decimal.NewFromInt(1)
	}
	return l.Weight.Mul(bw)
}
