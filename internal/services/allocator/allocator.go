// Package allocator distributes a capital budget across ranked strategy
// candidates. It walks the list greedily in blended-score order, respecting
// per-token and per-venue exposure caps and, when enabled, an iterative
// liquidity ledger so that earlier allocations shrink the room left for later
// candidates that borrow from the same venue/token cell.
package allocator

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/loopfolio/loopfolio/internal/domain"
)

// Skip reasons recorded on trace decisions.
const (
	ReasonInvalidCandidate   = "invalid_candidate"
	ReasonBelowConfidence    = "below_confidence"
	ReasonBudgetExhausted    = "budget_exhausted"
	ReasonLiquidityExhausted = "liquidity_exhausted"
	ReasonTokenCapReached    = "token_cap_reached"
	ReasonVenueCapReached    = "venue_cap_reached"
)

// Constraints bounds an allocation run. Zero-valued caps mean uncapped;
// negative caps are configuration errors.
type Constraints struct {
	// Budget is the total capital to distribute.
	Budget decimal.Decimal
	// PerTokenCap limits total exposure per token across all allocations.
	PerTokenCap map[domain.TokenID]decimal.Decimal
	// PerVenueCap limits total exposure per venue across all allocations.
	PerVenueCap map[string]decimal.Decimal
	// MinConfidence skips candidates whose market history is thinner than
	// this many observations.
	MinConfidence int
	// HorizonWeights blends net APRs into a single ranking score. When
	// empty, the net APR at RankHorizon ranks candidates on its own.
	HorizonWeights map[time.Duration]decimal.Decimal
	// RankHorizon selects the fallback ranking horizon.
	RankHorizon time.Duration
	// IterativeLedger, when true, debits borrowed liquidity as allocations
	// are made so later candidates see what is actually left.
	IterativeLedger bool
}

func (c Constraints) validate() error {
	if !c.Budget.GreaterThan(decimal.Zero) {
		return domain.NewConfigError("allocation budget must be positive")
	}
	for token, limit := range c.PerTokenCap {
		if limit.IsNegative() {
			return domain.NewConfigError("negative per-token cap for %s", token.Hex())
		}
	}
	for venue, limit := range c.PerVenueCap {
		if limit.IsNegative() {
			return domain.NewConfigError("negative per-venue cap for %s", venue)
		}
	}
	for _, w := range c.HorizonWeights {
		if w.IsNegative() {
			return domain.NewConfigError("negative horizon weight")
		}
	}
	return nil
}

// Allocation is capital assigned to one candidate.
type Allocation struct {
	Candidate domain.Candidate
	Amount    decimal.Decimal
}

// Decision records what happened to one candidate during the pass.
type Decision struct {
	Key     string
	Amount  decimal.Decimal
	Skipped bool
	Reason  string
}

// Trace explains an allocation run end to end.
type Trace struct {
	InitialLedger map[domain.Cell]decimal.Decimal
	FinalLedger   map[domain.Cell]decimal.Decimal
	Decisions     []Decision
}

// Result is the outcome of one allocation pass.
type Result struct {
	Allocations    []Allocation
	TotalAllocated decimal.Decimal
	Trace          Trace
}

// Allocator runs greedy budget distribution over ranked candidates.
type Allocator struct {
	constraints Constraints
	logger      *zap.Logger
}

func New(constraints Constraints, logger *zap.Logger) *Allocator {
	return &Allocator{constraints: constraints, logger: logger}
}

// Allocate distributes the budget over the candidates. The input order does
// not matter: candidates are re-ranked by blended score before the pass, so
// two runs over the same candidates produce identical results.
func (a *Allocator) Allocate(candidates []domain.Candidate) (Result, error) {
	if err := a.constraints.validate(); err != nil {
		return Result{}, err
	}

	ranked := a.rank(candidates)
	ledger := NewLedger(ranked)

	res := Result{
		TotalAllocated: decimal.Zero,
		Trace: Trace{
			InitialLedger: ledger.Snapshot(),
			Decisions:     make([]Decision, 0, len(ranked)),
		},
	}

	budgetLeft := a.constraints.Budget
	usedPerToken := make(map[domain.TokenID]decimal.Decimal)
	usedPerVenue := make(map[string]decimal.Decimal)

	for _, c := range ranked {
		decision := Decision{Key: c.Key(), Amount: decimal.Zero}

		switch {
		case !c.Valid:
			decision.Skipped, decision.Reason = true, ReasonInvalidCandidate
		case c.Confidence < a.constraints.MinConfidence:
			decision.Skipped, decision.Reason = true, ReasonBelowConfidence
		case !budgetLeft.GreaterThan(decimal.Zero):
			decision.Skipped, decision.Reason = true, ReasonBudgetExhausted
		default:
			allowed, reason := a.allowedSize(c, budgetLeft, ledger, usedPerToken, usedPerVenue)
			if !allowed.GreaterThan(decimal.Zero) {
				decision.Skipped, decision.Reason = true, reason
				break
			}
			a.commit(c, allowed, ledger, usedPerToken, usedPerVenue)
			budgetLeft = budgetLeft.Sub(allowed)
			decision.Amount = allowed
			res.Allocations = append(res.Allocations, Allocation{Candidate: c, Amount: allowed})
			res.TotalAllocated = res.TotalAllocated.Add(allowed)
			a.logger.Debug("allocated",
				zap.String("candidate", c.Key()),
				zap.String("amount", allowed.String()),
				zap.String("budget_left", budgetLeft.String()))
		}

		res.Trace.Decisions = append(res.Trace.Decisions, decision)
	}

	res.Trace.FinalLedger = ledger.Snapshot()
	a.logger.Info("allocation pass complete",
		zap.Int("candidates", len(ranked)),
		zap.Int("allocations", len(res.Allocations)),
		zap.String("total", res.TotalAllocated.String()))
	return res, nil
}

// allowedSize narrows the candidate's deployable size against the budget, the
// liquidity ledger and the exposure caps, returning the binding skip reason
// when nothing can be deployed.
func (a *Allocator) allowedSize(
	c domain.Candidate,
	budgetLeft decimal.Decimal,
	ledger *Ledger,
	usedPerToken map[domain.TokenID]decimal.Decimal,
	usedPerVenue map[string]decimal.Decimal,
) (decimal.Decimal, string) {
	allowed := decimal.Min(budgetLeft, c.MaxSize)
	reason := ReasonBudgetExhausted

	if a.constraints.IterativeLedger {
		for _, leg := range c.Legs {
			eff := leg.LiquidityConsumption()
			if !eff.GreaterThan(decimal.Zero) {
				continue
			}
			room := ledger.Remaining(domain.Cell{Venue: leg.Venue, Token: leg.Token}).Div(eff)
			if room.LessThan(allowed) {
				allowed, reason = room, ReasonLiquidityExhausted
			}
		}
	}

	for _, token := range distinctTokens(c.Legs) {
		limit, ok := a.constraints.PerTokenCap[token]
		if !ok || limit.IsZero() {
			continue
		}
		room := limit.Sub(usedPerToken[token])
		if room.LessThan(allowed) {
			allowed, reason = room, ReasonTokenCapReached
		}
	}
	for _, venue := range distinctVenues(c.Legs) {
		limit, ok := a.constraints.PerVenueCap[venue]
		if !ok || limit.IsZero() {
			continue
		}
		room := limit.Sub(usedPerVenue[venue])
		if room.LessThan(allowed) {
			allowed, reason = room, ReasonVenueCapReached
		}
	}
	return allowed, reason
}

// commit debits the ledger and the exposure counters for a made allocation.
// Ledger debits are symmetric to the capacity check: each consuming leg
// removes allowed × weight × borrow-weight from its cell, so the sum of
// debits never exceeds what allowedSize admitted.
func (a *Allocator) commit(
	c domain.Candidate,
	allowed decimal.Decimal,
	ledger *Ledger,
	usedPerToken map[domain.TokenID]decimal.Decimal,
	usedPerVenue map[string]decimal.Decimal,
) {
	if a.constraints.IterativeLedger {
		for _, leg := range c.Legs {
			eff := leg.LiquidityConsumption()
			if !eff.GreaterThan(decimal.Zero) {
				continue
			}
			ledger.Debit(domain.Cell{Venue: leg.Venue, Token: leg.Token}, allowed.Mul(eff))
		}
	}
	for _, token := range distinctTokens(c.Legs) {
		usedPerToken[token] = usedPerToken[token].Add(allowed)
	}
	for _, venue := range distinctVenues(c.Legs) {
		usedPerVenue[venue] = usedPerVenue[venue].Add(allowed)
	}
}

// rank orders candidates by blended score descending, breaking ties on the
// deterministic candidate key. The input slice is left untouched.
func (a *Allocator) rank(candidates []domain.Candidate) []domain.Candidate {
	ranked := make([]domain.Candidate, len(candidates))
	copy(ranked, candidates)
	scores := make(map[string]decimal.Decimal, len(ranked))
	for _, c := range ranked {
		scores[c.Key()] = a.blendedScore(c)
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		si, sj := scores[ranked[i].Key()], scores[ranked[j].Key()]
		if !si.Equal(sj) {
			return si.GreaterThan(sj)
		}
		return ranked[i].Key() < ranked[j].Key()
	})
	return ranked
}

// blendedScore collapses a candidate's per-horizon net APRs into one number.
func (a *Allocator) blendedScore(c domain.Candidate) decimal.Decimal {
	if len(a.constraints.HorizonWeights) == 0 {
		return c.NetAPRAt(a.constraints.RankHorizon)
	}
	sum, totalWeight := decimal.Zero, decimal.Zero
	for horizon, weight := range a.constraints.HorizonWeights {
		sum = sum.Add(c.NetAPRAt(horizon).Mul(weight))
		totalWeight = totalWeight.Add(weight)
	}
	if !totalWeight.GreaterThan(decimal.Zero) {
		return decimal.Zero
	}
	return sum.Div(totalWeight)
}

func distinctTokens(legs []domain.Leg) []domain.TokenID {
	seen := make(map[domain.TokenID]struct{}, len(legs))
	tokens := make([]domain.TokenID, 0, len(legs))
	for _, leg := range legs {
		if _, ok := seen[leg.Token]; ok {
			continue
		}
		seen[leg.Token] = struct{}{}
		tokens = append(tokens, leg.Token)
	}
	return tokens
}

func distinctVenues(legs []domain.Leg) []string {
	seen := make(map[string]struct{}, len(legs))
	venues := make([]string, 0, len(legs))
	for _, leg := range legs {
		if _, ok := seen[leg.Venue]; ok {
			continue
		}
		seen[leg.Venue] = struct{}{}
		venues = append(venues, leg.Venue)
	}
	return venues
}
