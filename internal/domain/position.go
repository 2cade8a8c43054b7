package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

//go:generate stringer -type=PositionStatus

// PositionStatus is the lifecycle state of a position. A position record is
// immutable after creation except for this status transition and appended
// rebalance segments.
type PositionStatus int

const (
	// PositionActive is an open position still accruing.
	PositionActive PositionStatus = iota
	// PositionClosed was unwound by the caller.
	PositionClosed
	// PositionLiquidated was force-closed by a venue.
	PositionLiquidated
)

// String returns the string representation of the status.
func (s PositionStatus) String() string {
	switch s {
	case PositionActive:
		return "active"
	case PositionClosed:
		return "closed"
	case PositionLiquidated:
		return "liquidated"
	default:
		return "unknown"
	}
}

// PositionLeg is the frozen entry state of one leg for one segment of a
// position's life. TokenAmount is fixed at segment open:
// weight × segment capital / entry price. Mark-to-market must always go
// through TokenAmount × current price, never capital × weight at a later
// time, because the latter silently ignores price drift.
type PositionLeg struct {
	Venue  string    `json:"venue"`
	Token  TokenID   `json:"token"`
	Symbol string    `json:"symbol,omitempty"`
	Action LegAction `json:"action"`

	Weight       decimal.Decimal `json:"weight"`
	EntryRate    decimal.Decimal `json:"entry_rate"`
	EntryPrice   decimal.Decimal `json:"entry_price"`
	TokenAmount  decimal.Decimal `json:"token_amount"`
	BorrowFee    decimal.Decimal `json:"borrow_fee"`
	BorrowWeight decimal.Decimal `json:"borrow_weight"`
}

// LegClose captures the state of a leg at the moment a segment closes.
type LegClose struct {
	Venue       string          `json:"venue"`
	Token       TokenID         `json:"token"`
	Action      LegAction       `json:"action"`
	TokenAmount decimal.Decimal `json:"token_amount"`
	ClosePrice  decimal.Decimal `json:"close_price"`
	CloseRate   decimal.Decimal `json:"close_rate"`
}

// RebalanceSegment is the immutable record of one finalized interval of a
// position's life: the leg state it closed with, the leg state the next
// interval opened with, and the realized PnL of the interval. Segments are
// created exactly once per rebalance and never edited afterward.
type RebalanceSegment struct {
	PositionID string    `json:"position_id"`
	Seq        int       `json:"seq"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`

	ClosingLegs []LegClose    `json:"closing_legs"`
	OpeningLegs []PositionLeg `json:"opening_legs"`

	RealizedPnL decimal.Decimal `json:"realized_pnl"`
}

// Position is the immutable entry record of committed capital. It is
// created once; afterwards only the status may transition and segments may
// be appended by the persistence collaborator.
type Position struct {
	ID        string    `json:"id"`
	EntryTime time.Time `json:"entry_time"`
	Shape     Shape     `json:"shape"`

	DeployedCapital decimal.Decimal `json:"deployed_capital"`
	Legs            []PositionLeg   `json:"legs"`

	RequestedProtection decimal.Decimal `json:"requested_protection"`
	InternalProtection  decimal.Decimal `json:"internal_protection"`

	Status PositionStatus `json:"status"`
}

// NewPosition freezes a sized candidate into a position record, computing
// per-leg token amounts from the deployed capital and entry prices.
func NewPosition(c Candidate, capital decimal.Decimal, entryTime time.Time) (*Position, error) {
	if capital.LessThanOrEqual(decimal.Zero) {
		return nil, errors.New("deployed capital must be greater than zero")
	}
	if len(c.Legs) == 0 {
		return nil, errors.New("candidate has no legs")
	}

	legs := make([]PositionLeg, 0, len(c.Legs))
	for _, l := range c.Legs {
		if l.EntryPrice.LessThanOrEqual(decimal.Zero) {
			return nil, errors.Errorf("entry price must be greater than zero for %s on %s", l.Token.Hex(), l.Venue)
		}
		legs = append(legs, PositionLeg{
			Venue:        l.Venue,
			Token:        l.Token,
			Symbol:       l.Symbol,
			Action:       l.Action,
			Weight:       l.Weight,
			EntryRate:    l.Rate,
			EntryPrice:   l.EntryPrice,
			TokenAmount:  l.Weight.Mul(capital).Div(l.EntryPrice),
			BorrowFee:    l.BorrowFee,
			BorrowWeight: l.BorrowWeight,
		})
	}

	return &Position{
		ID:                  uuid.NewString(),
		EntryTime:           entryTime,
		Shape:               c.Shape,
		DeployedCapital:     capital,
		Legs:                legs,
		RequestedProtection: c.RequestedProtection,
		InternalProtection:  c.InternalProtection,
		Status:              PositionActive,
	}, nil
}

// CurrentLegs derives the live segment's opening leg state: the last
// segment's opening legs, or the entry legs when no rebalance has happened.
func (p *Position) CurrentLegs(segments []RebalanceSegment) []PositionLeg {
	if len(segments) == 0 {
		return p.Legs
	}
	return segments[len(segments)-1].OpeningLegs
}

// CurrentSegmentStart derives the live segment's start timestamp.
func (p *Position) CurrentSegmentStart(segments []RebalanceSegment) time.Time {
	if len(segments) == 0 {
		return p.EntryTime
	}
	return segments[len(segments)-1].End
}
