// Package performance evaluates the profit and loss of open positions
// against the snapshot history. Earnings are integrated interval by
// interval over the observations of each leg's venue/token cell, one-time
// borrow fees are charged at each segment opening, and legs are marked to
// market through their frozen token amounts. The engine only reads
// append-only history, so any number of evaluations may run concurrently.
package performance

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/loopfolio/loopfolio/internal/domain"
)

// Config bounds the integration work per segment.
type Config struct {
	// MaxSamplesPerSegment caps how many interior observations a single
	// segment integration visits; zero means no cap. Boundary timestamps
	// are always kept, so coarse sampling only widens interior intervals.
	MaxSamplesPerSegment int
}

// Result is the performance of one position at one evaluation timestamp.
type Result struct {
	PositionID string    `json:"position_id"`
	AsOf       time.Time `json:"as_of"`

	DeployedCapital decimal.Decimal `json:"deployed_capital"`
	// RealizedPnL is the sum over closed rebalance segments.
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
	// AccruedEarnings is the live segment's rate carry net of its opening
	// borrow fees.
	AccruedEarnings decimal.Decimal `json:"accrued_earnings"`
	// PricePnL is the live segment's mark-to-market move.
	PricePnL      decimal.Decimal `json:"price_pnl"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	TotalPnL      decimal.Decimal `json:"total_pnl"`
	CurrentValue  decimal.Decimal `json:"current_value"`

	HoldingYears     decimal.Decimal `json:"holding_years"`
	AnnualizedReturn decimal.Decimal `json:"annualized_return"`
}

// Engine evaluates positions and finalizes rebalance segments.
type Engine struct {
	cfg    Config
	logger *zap.Logger
}

func New(cfg Config, logger *zap.Logger) *Engine {
	return &Engine{cfg: cfg, logger: logger}
}

// Evaluate computes the position's performance at asOf: realized PnL from
// the stored closed segments plus the live segment's accrued carry and
// mark-to-market. Required fields absent from the snapshot history raise
// MissingFieldError; nothing is ever defaulted in their place.
func (e *Engine) Evaluate(
	p *domain.Position,
	segments []domain.RebalanceSegment,
	window *domain.SnapshotWindow,
	asOf time.Time,
) (Result, error) {
	if err := checkSegments(p, segments); err != nil {
		return Result{}, err
	}
	start := p.CurrentSegmentStart(segments)
	if asOf.Before(start) {
		return Result{}, errors.Errorf("evaluation timestamp %s precedes live segment start %s",
			asOf.Format(time.RFC3339), start.Format(time.RFC3339))
	}

	realized := decimal.Zero
	for _, seg := range segments {
		realized = realized.Add(seg.RealizedPnL)
	}

	legs := p.CurrentLegs(segments)
	carry, err := e.accrue(legs, p.DeployedCapital, window, start, asOf)
	if err != nil {
		return Result{}, err
	}
	accrued := carry.Sub(openingFees(legs, p.DeployedCapital))

	pricePnL, err := e.markToMarket(legs, window, asOf)
	if err != nil {
		return Result{}, err
	}

	unrealized := accrued.Add(pricePnL)
	total := realized.Add(unrealized)
	holding := domain.Years(asOf.Sub(p.EntryTime))

	res := Result{
		PositionID:      p.ID,
		AsOf:            asOf,
		DeployedCapital: p.DeployedCapital,
		RealizedPnL:     realized,
		AccruedEarnings: accrued,
		PricePnL:        pricePnL,
		UnrealizedPnL:   unrealized,
		TotalPnL:        total,
		CurrentValue:    p.DeployedCapital.Add(total),
		HoldingYears:    holding,
	}
	if holding.GreaterThan(decimal.Zero) {
		res.AnnualizedReturn = total.Div(holding).Div(p.DeployedCapital)
	}

	e.logger.Debug("position evaluated",
		zap.String("position", p.ID),
		zap.Time("as_of", asOf),
		zap.String("total_pnl", total.String()),
		zap.String("annualized_return", res.AnnualizedReturn.String()))
	return res, nil
}

// accrue integrates the signed rate carry of all legs over (start, end].
// Each leg's rate is a step function: it starts at the segment's frozen
// entry rate and changes at every observation of the leg's cell.
func (e *Engine) accrue(
	legs []domain.PositionLeg,
	capital decimal.Decimal,
	window *domain.SnapshotWindow,
	start, end time.Time,
) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, leg := range legs {
		points := coarseSample(window.Between(leg.Venue, leg.Token, start, end), e.cfg.MaxSamplesPerSegment)

		rate := leg.EntryRate
		prev := start
		rateYears := decimal.Zero
		for _, s := range points {
			rateYears = rateYears.Add(rate.Mul(domain.Years(s.Timestamp.Sub(prev))))
			next, err := rateField(s, leg.Action)
			if err != nil {
				return decimal.Decimal{}, err
			}
			rate = next
			prev = s.Timestamp
		}
		rateYears = rateYears.Add(rate.Mul(domain.Years(end.Sub(prev))))

		earned := capital.Mul(leg.Weight).Mul(rateYears)
		if !leg.Action.Earns() {
			earned = earned.Neg()
		}
		total = total.Add(earned)
	}
	return total, nil
}

// markToMarket prices every leg at asOf through its frozen token amount.
// Lend legs are assets, borrow and perp-short legs are liabilities.
func (e *Engine) markToMarket(
	legs []domain.PositionLeg,
	window *domain.SnapshotWindow,
	asOf time.Time,
) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, leg := range legs {
		snap, err := snapshotAt(window, asOf, leg.Venue, leg.Token)
		if err != nil {
			return decimal.Decimal{}, err
		}
		price, err := priceField(snap)
		if err != nil {
			return decimal.Decimal{}, err
		}
		move := leg.TokenAmount.Mul(price.Sub(leg.EntryPrice))
		if !leg.Action.Earns() {
			move = move.Neg()
		}
		total = total.Add(move)
	}
	return total, nil
}

// openingFees are the one-time borrow fees a segment pays when it opens.
func openingFees(legs []domain.PositionLeg, capital decimal.Decimal) decimal.Decimal {
	fees := decimal.Zero
	for _, leg := range legs {
		if leg.Action == domain.LegLend {
			continue
		}
		fees = fees.Add(leg.BorrowFee.Mul(leg.Weight).Mul(capital))
	}
	return fees
}

// coarseSample thins an observation series down to at most max points,
// always keeping the first and last so boundary timestamps survive.
func coarseSample(points []domain.MarketSnapshot, limit int) []domain.MarketSnapshot {
	if limit <= 0 || len(points) <= limit {
		return points
	}
	if limit == 1 {
		return points[len(points)-1:]
	}
	out := make([]domain.MarketSnapshot, 0, limit)
	last := len(points) - 1
	for i := 0; i < limit; i++ {
		out = append(out, points[i*last/(limit-1)])
	}
	return out
}

func checkSegments(p *domain.Position, segments []domain.RebalanceSegment) error {
	for i, seg := range segments {
		if seg.PositionID != p.ID {
			return errors.Errorf("segment %d belongs to position %s, not %s", seg.Seq, seg.PositionID, p.ID)
		}
		if seg.Seq != i+1 {
			return errors.Errorf("segment sequence broken: want %d, got %d", i+1, seg.Seq)
		}
	}
	return nil
}

// snapshotAt fetches the cell's observation at exactly ts. A missing record
// is reported as a missing-field error on the snapshot record so callers
// see which cell and timestamp lacked data.
func snapshotAt(window *domain.SnapshotWindow, ts time.Time, venue string, token domain.TokenID) (domain.MarketSnapshot, error) {
	snap, ok := window.At(ts, venue, token)
	if !ok {
		return domain.MarketSnapshot{}, &domain.MissingFieldError{
			Record: snapshotRecordName(venue, token, ts),
			Field:  "snapshot",
		}
	}
	return snap, nil
}

func rateField(s domain.MarketSnapshot, action domain.LegAction) (decimal.Decimal, error) {
	field, value := "borrow_rate", s.BorrowRate
	if action == domain.LegLend {
		field, value = "lend_rate", s.LendRate
	}
	if !value.Valid {
		return decimal.Decimal{}, missingField(s, field)
	}
	return value.Decimal, nil
}

func priceField(s domain.MarketSnapshot) (decimal.Decimal, error) {
	if !s.Price.Valid {
		return decimal.Decimal{}, missingField(s, "price")
	}
	return s.Price.Decimal, nil
}

func missingField(s domain.MarketSnapshot, field string) error {
	return &domain.MissingFieldError{
		Record:    snapshotRecordName(s.Venue, s.Token, s.Timestamp),
		Field:     field,
		Available: availableFields(s),
	}
}

func snapshotRecordName(venue string, token domain.TokenID, ts time.Time) string {
	return fmt.Sprintf("snapshot %s/%s@%s", venue, token.Hex(), ts.Format(time.RFC3339))
}

func availableFields(s domain.MarketSnapshot) []string {
	fields := make([]string, 0, 8)
	for _, f := range []struct {
		name  string
		value decimal.NullDecimal
	}{
		{"lend_rate", s.LendRate},
		{"borrow_rate", s.BorrowRate},
		{"collateral_ratio", s.CollateralRatio},
		{"liquidation_threshold", s.LiquidationThreshold},
		{"price", s.Price},
		{"available_borrow_liquidity", s.AvailableBorrowLiquidity},
		{"borrow_fee", s.BorrowFee},
		{"borrow_weight", s.BorrowWeight},
	} {
		if f.value.Valid {
			fields = append(fields, f.name)
		}
	}
	return fields
}
