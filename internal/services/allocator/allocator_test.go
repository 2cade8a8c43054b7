package allocator

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
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// borrowerCandidate builds a two-leg candidate lending on the collateral
// venue and borrowing one unit of exposure from the given cell.
func borrowerCandidate(collateralVenue, borrowVenue string, borrowToken domain.TokenID, apr, maxSize, liquidity string) domain.Candidate {
	return domain.Candidate{
		Shape: domain.ShapeNoLoop,
		Legs: []domain.Leg{
			{
				Venue:  collateralVenue,
				Token:  weth,
				Symbol: "WETH",
				Action: domain.LegLend,
				Weight: decimal.NewFromInt(1),
				Rate:   dec("0.05"),
			},
			{
				Venue:              borrowVenue,
				Token:              borrowToken,
				Symbol:             "USDC",
				Action:             domain.LegBorrow,
				Weight:             decimal.NewFromInt(1),
				Rate:               dec("0.03"),
				BorrowWeight:       decimal.NewFromInt(1),
				AvailableLiquidity: dec(liquidity),
			},
		},
		GrossAPR: dec(apr),
		NetAPRs: []domain.HorizonAPR{
			{Horizon: 7 * 24 * time.Hour, Net: dec(apr)},
			{Horizon: 30 * 24 * time.Hour, Net: dec(apr)},
		},
		MaxSize:    dec(maxSize),
		Valid:      true,
		Confidence: 10,
	}
}

func newAllocator(c Constraints) *Allocator {
	if c.RankHorizon == 0 {
		c.RankHorizon = 30 * 24 * time.Hour
	}
	return New(c, zap.NewNop())
}

func TestAllocate_IterativeLedgerPreventsOverBorrow(t *testing.T) {
	// Three candidates each claim the full 100k of USDC liquidity on the
	// same venue. With the iterative ledger the first one drains the cell
	// and the other two are skipped.
	candidates := []domain.Candidate{
		borrowerCandidate("aave", "compound", usdc, "0.12", "100000", "100000"),
		borrowerCandidate("spark", "compound", usdc, "0.10", "100000", "100000"),
		borrowerCandidate("morpho", "compound", usdc, "0.08", "100000", "100000"),
	}

	res, err := newAllocator(Constraints{
		Budget:          dec("1000000"),
		IterativeLedger: true,
	}).Allocate(candidates)
	require.NoError(t, err)

	require.Len(t, res.Allocations, 1)
	requireDecimalEqual(t, dec("100000"), res.Allocations[0].Amount)
	requireDecimalEqual(t, dec("100000"), res.TotalAllocated)

	skipped := 0
	for _, d := range res.Trace.Decisions {
		if d.Skipped {
			skipped++
			require.Equal(t, ReasonLiquidityExhausted, d.Reason)
		}
	}
	require.Equal(t, 2, skipped)

	cell := domain.Cell{Venue: "compound", Token: usdc}
	requireDecimalEqual(t, dec("100000"), res.Trace.InitialLedger[cell])
	requireDecimalEqual(t, decimal.Zero, res.Trace.FinalLedger[cell])
}

func TestAllocate_StaticLedgerAllowsEachCandidateFullSize(t *testing.T) {
	candidates := []domain.Candidate{
		borrowerCandidate("aave", "compound", usdc, "0.12", "100000", "100000"),
		borrowerCandidate("spark", "compound", usdc, "0.10", "100000", "100000"),
		borrowerCandidate("morpho", "compound", usdc, "0.08", "100000", "100000"),
	}

	res, err := newAllocator(Constraints{
		Budget:          dec("1000000"),
		IterativeLedger: false,
	}).Allocate(candidates)
	require.NoError(t, err)

	require.Len(t, res.Allocations, 3)
	for _, a := range res.Allocations {
		requireDecimalEqual(t, dec("100000"), a.Amount)
	}
	requireDecimalEqual(t, dec("300000"), res.TotalAllocated)
}

func TestAllocate_LedgerConservation(t *testing.T) {
	// Partial fills: the ledger must shrink by exactly weight × borrow
	// weight × allocated for every consuming leg.
	candidates := []domain.Candidate{
		borrowerCandidate("aave", "compound", usdc, "0.12", "60000", "100000"),
		borrowerCandidate("spark", "compound", usdc, "0.10", "60000", "100000"),
	}

	res, err := newAllocator(Constraints{
		Budget:          dec("1000000"),
		IterativeLedger: true,
	}).Allocate(candidates)
	require.NoError(t, err)

	require.Len(t, res.Allocations, 2)
	requireDecimalEqual(t, dec("60000"), res.Allocations[0].Amount)
	requireDecimalEqual(t, dec("40000"), res.Allocations[1].Amount)

	cell := domain.Cell{Venue: "compound", Token: usdc}
	consumed := decimal.Zero
	for _, a := range res.Allocations {
		for _, leg := range a.Candidate.Legs {
			consumed = consumed.Add(a.Amount.Mul(leg.LiquidityConsumption()))
		}
	}
	requireDecimalEqual(t, res.Trace.InitialLedger[cell].Sub(res.Trace.FinalLedger[cell]), consumed)
}

func TestAllocate_BudgetBindsBeforeLiquidity(t *testing.T) {
	candidates := []domain.Candidate{
		borrowerCandidate("aave", "compound", usdc, "0.12", "100000", "500000"),
		borrowerCandidate("spark", "compound", usdc, "0.10", "100000", "500000"),
	}

	res, err := newAllocator(Constraints{
		Budget:          dec("150000"),
		IterativeLedger: true,
	}).Allocate(candidates)
	require.NoError(t, err)

	require.Len(t, res.Allocations, 2)
	requireDecimalEqual(t, dec("100000"), res.Allocations[0].Amount)
	requireDecimalEqual(t, dec("50000"), res.Allocations[1].Amount)
	requireDecimalEqual(t, dec("150000"), res.TotalAllocated)
}

func TestAllocate_RanksByScoreNotInputOrder(t *testing.T) {
	low := borrowerCandidate("aave", "compound", usdc, "0.05", "100000", "1000000")
	high := borrowerCandidate("spark", "compound", usdc, "0.20", "100000", "1000000")

	res, err := newAllocator(Constraints{
		Budget:          dec("100000"),
		IterativeLedger: true,
	}).Allocate([]domain.Candidate{low, high})
	require.NoError(t, err)

	require.Len(t, res.Allocations, 1)
	require.Equal(t, high.Key(), res.Allocations[0].Candidate.Key())
}

func TestAllocate_HorizonWeightsChangeRanking(t *testing.T) {
	shortWinner := borrowerCandidate("aave", "compound", usdc, "0.10", "100000", "1000000")
	shortWinner.NetAPRs = []domain.HorizonAPR{
		{Horizon: 7 * 24 * time.Hour, Net: dec("0.30")},
		{Horizon: 30 * 24 * time.Hour, Net: dec("0.05")},
	}
	longWinner := borrowerCandidate("spark", "compound", usdc, "0.10", "100000", "1000000")
	longWinner.NetAPRs = []domain.HorizonAPR{
		{Horizon: 7 * 24 * time.Hour, Net: dec("0.05")},
		{Horizon: 30 * 24 * time.Hour, Net: dec("0.20")},
	}
	candidates := []domain.Candidate{shortWinner, longWinner}

	// Default ranking uses the 30d horizon.
	res, err := newAllocator(Constraints{Budget: dec("100000")}).Allocate(candidates)
	require.NoError(t, err)
	require.Equal(t, longWinner.Key(), res.Allocations[0].Candidate.Key())

	// Weighting the 7d horizon heavily flips the winner.
	res, err = newAllocator(Constraints{
		Budget: dec("100000"),
		HorizonWeights: map[time.Duration]decimal.Decimal{
			7 * 24 * time.Hour:  dec("0.9"),
			30 * 24 * time.Hour: dec("0.1"),
		},
	}).Allocate(candidates)
	require.NoError(t, err)
	require.Equal(t, shortWinner.Key(), res.Allocations[0].Candidate.Key())
}

func TestAllocate_PerTokenCap(t *testing.T) {
	candidates := []domain.Candidate{
		borrowerCandidate("aave", "compound", usdc, "0.12", "100000", "1000000"),
		borrowerCandidate("spark", "morpho", usdc, "0.10", "100000", "1000000"),
	}

	res, err := newAllocator(Constraints{
		Budget:          dec("1000000"),
		PerTokenCap:     map[domain.TokenID]decimal.Decimal{usdc: dec("120000")},
		IterativeLedger: true,
	}).Allocate(candidates)
	require.NoError(t, err)

	require.Len(t, res.Allocations, 2)
	requireDecimalEqual(t, dec("100000"), res.Allocations[0].Amount)
	requireDecimalEqual(t, dec("20000"), res.Allocations[1].Amount)
}

func TestAllocate_PerVenueCapSkipReason(t *testing.T) {
	candidates := []domain.Candidate{
		borrowerCandidate("aave", "compound", usdc, "0.12", "100000", "1000000"),
		borrowerCandidate("aave", "morpho", usdc, "0.10", "100000", "1000000"),
	}

	res, err := newAllocator(Constraints{
		Budget:          dec("1000000"),
		PerVenueCap:     map[string]decimal.Decimal{"aave": dec("100000")},
		IterativeLedger: true,
	}).Allocate(candidates)
	require.NoError(t, err)

	require.Len(t, res.Allocations, 1)
	require.True(t, res.Trace.Decisions[1].Skipped)
	require.Equal(t, ReasonVenueCapReached, res.Trace.Decisions[1].Reason)
}

func TestAllocate_SkipsInvalidAndLowConfidence(t *testing.T) {
	invalid := borrowerCandidate("aave", "compound", usdc, "0.12", "0", "1000000")
	invalid.Valid = false
	invalid.InvalidReason = "liquidity_cap_not_positive"
	thin := borrowerCandidate("spark", "compound", usdc, "0.10", "100000", "1000000")
	thin.Confidence = 1

	res, err := newAllocator(Constraints{
		Budget:        dec("1000000"),
		MinConfidence: 5,
	}).Allocate([]domain.Candidate{invalid, thin})
	require.NoError(t, err)

	require.Empty(t, res.Allocations)
	reasons := map[string]string{}
	for _, d := range res.Trace.Decisions {
		reasons[d.Key] = d.Reason
	}
	require.Equal(t, ReasonInvalidCandidate, reasons[invalid.Key()])
	require.Equal(t, ReasonBelowConfidence, reasons[thin.Key()])
}

func TestAllocate_BudgetExhaustedReason(t *testing.T) {
	candidates := []domain.Candidate{
		borrowerCandidate("aave", "compound", usdc, "0.12", "100000", "1000000"),
		borrowerCandidate("spark", "morpho", usdc, "0.10", "100000", "1000000"),
	}

	res, err := newAllocator(Constraints{Budget: dec("100000")}).Allocate(candidates)
	require.NoError(t, err)

	require.Len(t, res.Allocations, 1)
	require.Equal(t, ReasonBudgetExhausted, res.Trace.Decisions[1].Reason)
}

func TestAllocate_DeterministicAcrossInputOrder(t *testing.T) {
	a := borrowerCandidate("aave", "compound", usdc, "0.10", "60000", "100000")
	b := borrowerCandidate("spark", "compound", usdc, "0.10", "60000", "100000")
	c := borrowerCandidate("morpho", "compound", usdc, "0.10", "60000", "100000")

	alloc := newAllocator(Constraints{Budget: dec("1000000"), IterativeLedger: true})
	first, err := alloc.Allocate([]domain.Candidate{a, b, c})
	require.NoError(t, err)
	second, err := alloc.Allocate([]domain.Candidate{c, a, b})
	require.NoError(t, err)

	require.Equal(t, first, second)
}

func TestAllocate_ConfigErrors(t *testing.T) {
	_, err := newAllocator(Constraints{Budget: decimal.Zero}).Allocate(nil)
	var cfgErr *domain.ConfigError
	require.ErrorAs(t, err, &cfgErr)

	_, err = newAllocator(Constraints{
		Budget:      dec("1000"),
		PerTokenCap: map[domain.TokenID]decimal.Decimal{usdc: dec("-1")},
	}).Allocate(nil)
	require.ErrorAs(t, err, &cfgErr)

	_, err = newAllocator(Constraints{
		Budget:      dec("1000"),
		PerVenueCap: map[string]decimal.Decimal{"aave": dec("-1")},
	}).Allocate(nil)
	require.ErrorAs(t, err, &cfgErr)
}

func requireDecimalEqual(t *testing.T, want, got decimal.Decimal) {
	t.Helper()
	require.True(t, want.Sub(got).Abs().LessThan(dec("0.000000001")),
		"want %s, got %s", want.String(), got.String())
}
