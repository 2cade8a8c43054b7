package performance

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/loopfolio/loopfolio/internal/domain"
)

var (
	weth = common.HexToAddress("0x0000000000000000000000000000000000000001")
	usdc = common.HexToAddress("0x0000000000000000000000000000000000000002")

	entryTime = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func nd(s string) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: dec(s), Valid: true}
}

func requireDecimalEqual(t *testing.T, want, got decimal.Decimal) {
	t.Helper()
	require.True(t, want.Sub(got).Abs().LessThan(dec("0.000000001")),
		"want %s, got %s", want.String(), got.String())
}

// testPosition deploys 10000 into a lend-WETH/borrow-USDC carry: the WETH
// leg earns 10% on full weight, the USDC leg pays 4% on half weight.
func testPosition(t *testing.T, borrowFee string) *domain.Position {
	t.Helper()
	cand := domain.Candidate{
		Shape: domain.ShapeNoLoop,
		Legs: []domain.Leg{
			{
				Venue: "aave", Token: weth, Symbol: "WETH",
				Action: domain.LegLend,
				Weight: dec("1"), Rate: dec("0.10"), EntryPrice: dec("100"),
			},
			{
				Venue: "aave", Token: usdc, Symbol: "USDC",
				Action: domain.LegBorrow,
				Weight: dec("0.5"), Rate: dec("0.04"), EntryPrice: dec("1"),
				BorrowFee: dec(borrowFee), BorrowWeight: dec("1"),
			},
		},
	}
	p, err := domain.NewPosition(cand, dec("10000"), entryTime)
	require.NoError(t, err)
	return p
}

func obs(ts time.Time, token domain.TokenID, symbol, lendRate, borrowRate, price string) domain.MarketSnapshot {
	return domain.MarketSnapshot{
		Timestamp:  ts,
		Venue:      "aave",
		Token:      token,
		Symbol:     symbol,
		LendRate:   nd(lendRate),
		BorrowRate: nd(borrowRate),
		Price:      nd(price),
	}
}

// bothCells observes the WETH and USDC cells at ts with flat entry-time
// rates and prices.
func bothCells(ts time.Time) []domain.MarketSnapshot {
	return []domain.MarketSnapshot{
		obs(ts, weth, "WETH", "0.10", "0.12", "100"),
		obs(ts, usdc, "USDC", "0.02", "0.04", "1"),
	}
}

func window(t *testing.T, snapshots ...domain.MarketSnapshot) *domain.SnapshotWindow {
	t.Helper()
	w, err := domain.NewSnapshotWindow(snapshots)
	require.NoError(t, err)
	return w
}

func newEngine() *Engine {
	return New(Config{}, zap.NewNop())
}

func TestEvaluate_ConstantRatesOneYear(t *testing.T) {
	p := testPosition(t, "0")
	asOf := entryTime.Add(domain.Year)
	w := window(t, bothCells(asOf)...)

	res, err := newEngine().Evaluate(p, nil, w, asOf)
	require.NoError(t, err)

	// 10000 × (1×0.10 − 0.5×0.04) over exactly one year.
	requireDecimalEqual(t, dec("800"), res.AccruedEarnings)
	requireDecimalEqual(t, decimal.Zero, res.PricePnL)
	requireDecimalEqual(t, dec("800"), res.TotalPnL)
	requireDecimalEqual(t, dec("10800"), res.CurrentValue)
	requireDecimalEqual(t, dec("1"), res.HoldingYears)
	requireDecimalEqual(t, dec("0.08"), res.AnnualizedReturn)
}

func TestEvaluate_RateStepAtMidpoint(t *testing.T) {
	p := testPosition(t, "0")
	mid := entryTime.Add(domain.Year / 2)
	asOf := entryTime.Add(domain.Year)

	// The WETH lend rate doubles halfway through; the USDC cell is only
	// observed at the end, so its entry rate holds for the whole year.
	w := window(t, append(bothCells(asOf),
		obs(mid, weth, "WETH", "0.20", "0.12", "100"),
	)...)

	res, err := newEngine().Evaluate(p, nil, w, asOf)
	require.NoError(t, err)

	// WETH: 10000 × (0.10×0.5 + 0.20×0.5) = 1500; USDC: −10000×0.5×0.04 = −200.
	requireDecimalEqual(t, dec("1300"), res.TotalPnL)
}

func TestEvaluate_MarkToMarketUsesTokenAmounts(t *testing.T) {
	p := testPosition(t, "0")
	asOf := entryTime.Add(domain.Year)

	// WETH up 10%, USDC up 10%: the lend leg gains 100 tokens × 10, the
	// borrowed 5000 USDC grows more expensive to repay.
	w := window(t,
		obs(asOf, weth, "WETH", "0.10", "0.12", "110"),
		obs(asOf, usdc, "USDC", "0.02", "0.04", "1.1"),
	)

	res, err := newEngine().Evaluate(p, nil, w, asOf)
	require.NoError(t, err)

	requireDecimalEqual(t, dec("100"), p.Legs[0].TokenAmount)
	requireDecimalEqual(t, dec("5000"), p.Legs[1].TokenAmount)
	requireDecimalEqual(t, dec("500"), res.PricePnL) // 100×10 − 5000×0.1
}

func TestEvaluate_BorrowFeeChargedOnceNotRecurring(t *testing.T) {
	p := testPosition(t, "0.01") // 0.01 × 0.5 × 10000 = 50 at segment open

	for _, holding := range []time.Duration{domain.Year / 2, domain.Year} {
		asOf := entryTime.Add(holding)
		w := window(t, bothCells(asOf)...)

		res, err := newEngine().Evaluate(p, nil, w, asOf)
		require.NoError(t, err)

		carry := dec("800").Mul(domain.Years(holding))
		requireDecimalEqual(t, carry.Sub(dec("50")), res.AccruedEarnings)
	}
}

func TestEvaluate_MissingSnapshotAtAsOfFailsLoudly(t *testing.T) {
	p := testPosition(t, "0")
	asOf := entryTime.Add(domain.Year)

	// Only the WETH cell is observed at asOf.
	w := window(t, obs(asOf, weth, "WETH", "0.10", "0.12", "100"))

	_, err := newEngine().Evaluate(p, nil, w, asOf)
	var missing *domain.MissingFieldError
	require.ErrorAs(t, err, &missing)
	require.Contains(t, missing.Record, usdc.Hex())
}

func TestEvaluate_MissingPriceReportsAvailableFields(t *testing.T) {
	p := testPosition(t, "0")
	asOf := entryTime.Add(domain.Year)

	snap := obs(asOf, usdc, "USDC", "0.02", "0.04", "1")
	snap.Price = decimal.NullDecimal{}
	w := window(t, obs(asOf, weth, "WETH", "0.10", "0.12", "100"), snap)

	_, err := newEngine().Evaluate(p, nil, w, asOf)
	var missing *domain.MissingFieldError
	require.ErrorAs(t, err, &missing)
	require.Equal(t, "price", missing.Field)
	require.Contains(t, missing.Available, "lend_rate")
	require.Contains(t, missing.Available, "borrow_rate")
}

func TestEvaluate_RejectsForeignOrBrokenSegments(t *testing.T) {
	p := testPosition(t, "0")
	asOf := entryTime.Add(domain.Year)
	w := window(t, bothCells(asOf)...)

	_, err := newEngine().Evaluate(p, []domain.RebalanceSegment{
		{PositionID: "someone-else", Seq: 1},
	}, w, asOf)
	require.Error(t, err)

	_, err = newEngine().Evaluate(p, []domain.RebalanceSegment{
		{PositionID: p.ID, Seq: 2},
	}, w, asOf)
	require.Error(t, err)
}

func TestRebalance_MidLifeAdditivity(t *testing.T) {
	// A rate step at the midpoint, flat prices, no fees: the closed
	// segment's realized PnL plus the live segment's unrealized PnL must
	// equal one continuous integration over the whole year.
	p := testPosition(t, "0")
	mid := entryTime.Add(domain.Year / 2)
	asOf := entryTime.Add(domain.Year)

	snaps := append(bothCells(asOf),
		obs(mid, weth, "WETH", "0.20", "0.12", "100"),
		obs(mid, usdc, "USDC", "0.02", "0.04", "1"),
	)
	w := window(t, snaps...)

	engine := newEngine()

	continuous, err := engine.Evaluate(p, nil, w, asOf)
	require.NoError(t, err)

	seg, err := engine.Rebalance(p, nil, w, mid)
	require.NoError(t, err)
	require.Equal(t, p.ID, seg.PositionID)
	require.Equal(t, 1, seg.Seq)
	require.Equal(t, entryTime, seg.Start)
	require.Equal(t, mid, seg.End)

	// First half on entry rates: 10000 × (0.10 − 0.02) × 0.5.
	requireDecimalEqual(t, dec("400"), seg.RealizedPnL)

	rebalanced, err := engine.Evaluate(p, []domain.RebalanceSegment{seg}, w, asOf)
	require.NoError(t, err)
	requireDecimalEqual(t, dec("400"), rebalanced.RealizedPnL)
	requireDecimalEqual(t, continuous.TotalPnL, rebalanced.TotalPnL)
}

func TestRebalance_ReopensLegsAtCurrentPrices(t *testing.T) {
	p := testPosition(t, "0")
	mid := entryTime.Add(domain.Year / 2)

	w := window(t,
		obs(mid, weth, "WETH", "0.15", "0.18", "125"),
		obs(mid, usdc, "USDC", "0.02", "0.05", "1"),
	)

	seg, err := newEngine().Rebalance(p, nil, w, mid)
	require.NoError(t, err)

	require.Len(t, seg.ClosingLegs, 2)
	requireDecimalEqual(t, dec("100"), seg.ClosingLegs[0].TokenAmount)
	requireDecimalEqual(t, dec("125"), seg.ClosingLegs[0].ClosePrice)
	requireDecimalEqual(t, dec("0.15"), seg.ClosingLegs[0].CloseRate)

	// 1 × 10000 / 125 WETH at the new price, entry rate reset.
	opened := seg.OpeningLegs[0]
	requireDecimalEqual(t, dec("80"), opened.TokenAmount)
	requireDecimalEqual(t, dec("125"), opened.EntryPrice)
	requireDecimalEqual(t, dec("0.15"), opened.EntryRate)

	borrow := seg.OpeningLegs[1]
	requireDecimalEqual(t, dec("0.05"), borrow.EntryRate)
	requireDecimalEqual(t, dec("5000"), borrow.TokenAmount)
}

func TestRebalance_RejectsTimestampBeforeSegmentStart(t *testing.T) {
	p := testPosition(t, "0")
	w := window(t, bothCells(entryTime)...)

	_, err := newEngine().Rebalance(p, nil, w, entryTime)
	require.Error(t, err)
}

func TestEvaluate_CoarseSamplingKeepsBoundaryObservations(t *testing.T) {
	p := testPosition(t, "0")
	asOf := entryTime.Add(domain.Year)

	// Hourly flat observations: thinning the series must not change the
	// integral, and the asOf boundary must survive sampling for the mark.
	snaps := make([]domain.MarketSnapshot, 0, 48)
	for i := 1; i <= 24; i++ {
		snaps = append(snaps, bothCells(entryTime.Add(time.Duration(i)*domain.Year/24))...)
	}

	full, err := New(Config{}, zap.NewNop()).Evaluate(p, nil, window(t, snaps...), asOf)
	require.NoError(t, err)
	coarse, err := New(Config{MaxSamplesPerSegment: 3}, zap.NewNop()).Evaluate(p, nil, window(t, snaps...), asOf)
	require.NoError(t, err)

	requireDecimalEqual(t, full.TotalPnL, coarse.TotalPnL)
	requireDecimalEqual(t, dec("800"), coarse.AccruedEarnings)
}

func TestEvaluate_ZeroHoldingDuration(t *testing.T) {
	p := testPosition(t, "0")
	w := window(t, bothCells(entryTime)...)

	res, err := newEngine().Evaluate(p, nil, w, entryTime)
	require.NoError(t, err)
	requireDecimalEqual(t, decimal.Zero, res.TotalPnL)
	requireDecimalEqual(t, decimal.Zero, res.AnnualizedReturn)
}

func TestEvaluate_BeforeSegmentStartRejected(t *testing.T) {
	p := testPosition(t, "0")
	w := window(t, bothCells(entryTime)...)

	_, err := newEngine().Evaluate(p, nil, w, entryTime.Add(-time.Hour))
	require.Error(t, err)
}
