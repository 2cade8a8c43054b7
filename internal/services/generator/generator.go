// Package generator enumerates token/venue combinations for every
// registered strategy shape, sizes each one and produces a
// deterministically ranked candidate list.
package generator

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/loopfolio/loopfolio/internal/domain"
	"github.com/loopfolio/loopfolio/internal/services/sizing"
	"github.com/loopfolio/loopfolio/pkg/rateseries"
)

const (
	defaultStabilityPeriod = 5
)

// Config controls generation. Zero values fall back to defaults via
// withDefaults, except MinProtection which is a deliberate caller choice.
type Config struct {
	// Horizons are the projection horizons that one-time borrow fees are
	// amortized across.
	Horizons []time.Duration
	// RankHorizon selects which horizon's net APR orders the list.
	RankHorizon time.Duration
	// MinProtection is the minimum liquidation-distance protection.
	MinProtection decimal.Decimal
	// MinSize invalidates candidates below this deployable size.
	MinSize decimal.Decimal
	// Workers sets the number of parallel evaluation workers; 0 or 1 runs
	// serially. Parallelism never affects ordering: the final list is
	// sorted after a full join.
	Workers int
	// StabilityPeriod is the SMA period for the rate-stability diagnostic.
	StabilityPeriod int
}

func (c Config) withDefaults() Config {
	if len(c.Horizons) == 0 {
		c.Horizons = []time.Duration{7 * 24 * time.Hour, 30 * 24 * time.Hour, 90 * 24 * time.Hour}
	}
	if c.RankHorizon == 0 {
		c.RankHorizon = c.Horizons[len(c.Horizons)/2]
	}
	if c.StabilityPeriod == 0 {
		c.StabilityPeriod = defaultStabilityPeriod
	}
	return c
}

// Generator produces ranked strategy candidates from a snapshot window.
type Generator struct {
	registry *sizing.Registry
	cfg      Config
	logger   *zap.Logger
}

// New returns a configured generator.
func New(registry *sizing.Registry, cfg Config, logger *zap.Logger) *Generator {
	return &Generator{registry: registry, cfg: cfg.withDefaults(), logger: logger}
}

// combo is one enumerated combination, ready for sizing. Combos are built
// serially so their order (and therefore worker assignment) is stable.
type combo struct {
	shape  domain.Shape
	params sizing.Params
	cells  []domain.Cell
}

// Generate enumerates and sizes all combinations at the evaluation
// timestamp and returns the deterministically sorted candidate list. Both
// valid and invalid candidates are returned; combinations missing required
// market data are skipped silently.
func (g *Generator) Generate(ctx context.Context, window *domain.SnapshotWindow, universe []domain.Token, at time.Time) ([]domain.Candidate, error) {
	if g.cfg.MinProtection.IsNegative() || g.cfg.MinProtection.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, errors.Errorf("minimum protection must be in [0, 1), got %s", g.cfg.MinProtection.String())
	}

	combos, skipped := g.enumerate(window, universe, at)
	g.logger.Debug("enumerated strategy combinations",
		zap.Int("combinations", len(combos)),
		zap.Int("skipped_incomplete", skipped),
		zap.Time("at", at))

	candidates := make([]domain.Candidate, len(combos))
	safety := sizing.SafetyConfig{MinProtection: g.cfg.MinProtection, MinSize: g.cfg.MinSize}

	workers := g.cfg.Workers
	if workers < 1 {
		workers = 1
	}

	// per-combination evaluations are pure and share no mutable state, so
	// they fan out across workers; each worker writes only its own indexes
	// and the sort below runs after the join barrier.
	eg, _ := errgroup.WithContext(ctx)
	eg.SetLimit(workers)
	for i := range combos {
		eg.Go(func() error {
			c, err := g.evaluate(window, combos[i], safety, at)
			if err != nil {
				return err
			}
			candidates[i] = c
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, errors.Wrap(err, "candidate evaluation failed")
	}

	domain.SortCandidates(candidates, g.cfg.RankHorizon)
	return candidates, nil
}

// evaluate sizes one combination and assembles the candidate.
func (g *Generator) evaluate(window *domain.SnapshotWindow, c combo, safety sizing.SafetyConfig, at time.Time) (domain.Candidate, error) {
	sizer, ok := g.registry.Get(c.shape)
	if !ok {
		return domain.Candidate{}, errors.Errorf("no sizer registered for shape %s", c.shape)
	}

	res, err := sizer.Size(c.params, safety)
	if err != nil {
		return domain.Candidate{}, errors.Wrapf(err, "sizing %s", c.shape)
	}

	cand := domain.Candidate{
		Shape:               res.Shape,
		Legs:                res.Legs,
		MaxSize:             res.MaxSize,
		Valid:               res.Valid,
		InvalidReason:       res.InvalidReason,
		RequestedProtection: res.RequestedProtection,
		InternalProtection:  res.InternalProtection,
	}

	cand.GrossAPR = decimal.Zero
	feePerUnit := decimal.Zero
	for _, leg := range res.Legs {
		cand.GrossAPR = cand.GrossAPR.Add(leg.RateContribution())
		if leg.Action != domain.LegLend {
			feePerUnit = feePerUnit.Add(leg.Weight.Mul(leg.BorrowFee))
		}
	}

	cand.NetAPRs = make([]domain.HorizonAPR, 0, len(g.cfg.Horizons))
	for _, h := range g.cfg.Horizons {
		amortized := decimal.Zero
		if !feePerUnit.IsZero() {
			amortized = feePerUnit.Div(domain.Years(h))
		}
		cand.NetAPRs = append(cand.NetAPRs, domain.HorizonAPR{
			Horizon: h,
			Net:     cand.GrossAPR.Sub(amortized),
		})
	}

	cand.Confidence = g.confidence(window, c.cells)
	cand.RateStability = g.rateStability(window, res.Legs, at)

	return cand, nil
}

// confidence is the minimum observation count across the combination's
// market cells: a strategy is only as observed as its least-observed leg.
func (g *Generator) confidence(window *domain.SnapshotWindow, cells []domain.Cell) int {
	conf := 0
	for i, cell := range cells {
		n := window.ObservationCount(cell.Venue, cell.Token)
		if i == 0 || n < conf {
			conf = n
		}
	}
	return conf
}

// rateStability reports the largest deviation of any leg rate from its
// smoothed series up to the evaluation timestamp.
func (g *Generator) rateStability(window *domain.SnapshotWindow, legs []domain.Leg, at time.Time) decimal.Decimal {
	worst := decimal.Zero
	for _, leg := range legs {
		series := window.Series(leg.Venue, leg.Token)
		rates := make([]decimal.Decimal, 0, len(series))
		for _, s := range series {
			if s.Timestamp.After(at) {
				break
			}
			var r decimal.NullDecimal
			if leg.Action == domain.LegLend {
				r = s.LendRate
			} else {
				r = s.BorrowRate
			}
			if r.Valid {
				rates = append(rates, r.Decimal)
			}
		}
		if len(rates) == 0 {
			continue
		}
		dev, err := rateseries.Deviation(rates, g.cfg.StabilityPeriod)
		if err != nil {
			continue
		}
		if dev.GreaterThan(worst) {
			worst = dev
		}
	}
	return worst
}
