package performance

import (
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/loopfolio/loopfolio/internal/domain"
)

// Rebalance closes the position's live segment at the given timestamp and
// returns the immutable segment record: realized PnL integrated up to the
// rebalance, the leg state it closed with, and the leg state the next
// segment opens with. Opening token amounts are recomputed from the
// rebalance-time prices, so mark-to-market of the next segment starts flat.
// The caller persists the returned segment; previously closed segments are
// never touched.
func (e *Engine) Rebalance(
	p *domain.Position,
	segments []domain.RebalanceSegment,
	window *domain.SnapshotWindow,
	at time.Time,
) (domain.RebalanceSegment, error) {
	if err := checkSegments(p, segments); err != nil {
		return domain.RebalanceSegment{}, err
	}
	start := p.CurrentSegmentStart(segments)
	if !at.After(start) {
		return domain.RebalanceSegment{}, errors.Errorf("rebalance timestamp %s must follow segment start %s",
			at.Format(time.RFC3339), start.Format(time.RFC3339))
	}

	legs := p.CurrentLegs(segments)

	carry, err := e.accrue(legs, p.DeployedCapital, window, start, at)
	if err != nil {
		return domain.RebalanceSegment{}, err
	}
	pricePnL, err := e.markToMarket(legs, window, at)
	if err != nil {
		return domain.RebalanceSegment{}, err
	}
	realized := carry.Sub(openingFees(legs, p.DeployedCapital)).Add(pricePnL)

	closing := make([]domain.LegClose, 0, len(legs))
	opening := make([]domain.PositionLeg, 0, len(legs))
	for _, leg := range legs {
		snap, err := snapshotAt(window, at, leg.Venue, leg.Token)
		if err != nil {
			return domain.RebalanceSegment{}, err
		}
		price, err := priceField(snap)
		if err != nil {
			return domain.RebalanceSegment{}, err
		}
		rate, err := rateField(snap, leg.Action)
		if err != nil {
			return domain.RebalanceSegment{}, err
		}

		closing = append(closing, domain.LegClose{
			Venue:       leg.Venue,
			Token:       leg.Token,
			Action:      leg.Action,
			TokenAmount: leg.TokenAmount,
			ClosePrice:  price,
			CloseRate:   rate,
		})
		opening = append(opening, domain.PositionLeg{
			Venue:        leg.Venue,
			Token:        leg.Token,
			Symbol:       leg.Symbol,
			Action:       leg.Action,
			Weight:       leg.Weight,
			EntryRate:    rate,
			EntryPrice:   price,
			TokenAmount:  leg.Weight.Mul(p.DeployedCapital).Div(price),
			BorrowFee:    borrowFeeAt(snap, leg),
			BorrowWeight: leg.BorrowWeight,
		})
	}

	seg := domain.RebalanceSegment{
		PositionID:  p.ID,
		Seq:         len(segments) + 1,
		Start:       start,
		End:         at,
		ClosingLegs: closing,
		OpeningLegs: opening,
		RealizedPnL: realized,
	}
	e.logger.Info("segment closed",
		zap.String("position", p.ID),
		zap.Int("seq", seg.Seq),
		zap.Time("start", start),
		zap.Time("end", at),
		zap.String("realized_pnl", realized.String()))
	return seg, nil
}

// borrowFeeAt picks the fee the reopened leg pays: the venue's currently
// quoted borrow fee, or zero when the venue quotes none. Lend legs never
// pay one.
func borrowFeeAt(snap domain.MarketSnapshot, leg domain.PositionLeg) decimal.Decimal {
	if leg.Action == domain.LegLend {
		return decimal.Zero
	}
	if snap.BorrowFee.Valid {
		return snap.BorrowFee.Decimal
	}
	return decimal.Zero
}
