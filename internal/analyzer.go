package internal

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/loopfolio/loopfolio/internal/domain"
	"github.com/loopfolio/loopfolio/internal/services/allocator"
	"github.com/loopfolio/loopfolio/internal/services/performance"
)

// CandidateGenerator enumerates and ranks strategy candidates at a
// timestamp.
type CandidateGenerator interface {
	Generate(ctx context.Context, window *domain.SnapshotWindow, universe []domain.Token, at time.Time) ([]domain.Candidate, error)
}

// BudgetAllocator distributes a capital budget over ranked candidates.
type BudgetAllocator interface {
	Allocate(candidates []domain.Candidate) (allocator.Result, error)
}

// PositionEvaluator reports the PnL of a stored position at a timestamp.
type PositionEvaluator interface {
	Evaluate(p *domain.Position, segments []domain.RebalanceSegment, window *domain.SnapshotWindow, asOf time.Time) (performance.Result, error)
}

// PositionReader supplies stored positions and their rebalance segments.
type PositionReader interface {
	Active() ([]*domain.Position, error)
	SegmentsFor(positionID string) ([]domain.RebalanceSegment, error)
}

// AnalysisReport is the output of one analyzer pass.
type AnalysisReport struct {
	At          time.Time
	Candidates  []domain.Candidate
	Allocation  allocator.Result
	Performance []performance.Result
}

// Analyzer runs one full analysis pass: generate and rank candidates over
// the snapshot window, allocate the budget across them, then evaluate the
// performance of every stored active position at the same timestamp.
type Analyzer struct {
	generator CandidateGenerator
	allocator BudgetAllocator
	evaluator PositionEvaluator
	positions PositionReader
	universe  []domain.Token
	logger    *zap.Logger
}

func NewAnalyzer(
	generator CandidateGenerator,
	budgetAllocator BudgetAllocator,
	evaluator PositionEvaluator,
	positions PositionReader,
	universe []domain.Token,
	logger *zap.Logger,
) *Analyzer {
	return &Analyzer{
		generator: generator,
		allocator: budgetAllocator,
		evaluator: evaluator,
		positions: positions,
		universe:  universe,
		logger:    logger,
	}
}

// Analyze evaluates the universe at the given timestamp.
func (a *Analyzer) Analyze(ctx context.Context, window *domain.SnapshotWindow, at time.Time) (*AnalysisReport, error) {
	candidates, err := a.generator.Generate(ctx, window, a.universe, at)
	if err != nil {
		return nil, errors.Wrap(err, "generate candidates")
	}
	a.logger.Info("candidates generated", zap.Time("at", at), zap.Int("count", len(candidates)))

	allocation, err := a.allocator.Allocate(candidates)
	if err != nil {
		return nil, errors.Wrap(err, "allocate budget")
	}

	results, err := a.evaluatePositions(window, at)
	if err != nil {
		return nil, err
	}

	return &AnalysisReport{
		At:          at,
		Candidates:  candidates,
		Allocation:  allocation,
		Performance: results,
	}, nil
}

// evaluatePositions reports PnL for every stored active position. Positions
// whose data is incomplete at the timestamp are logged and skipped so one
// broken record cannot hide the rest of the portfolio.
func (a *Analyzer) evaluatePositions(window *domain.SnapshotWindow, at time.Time) ([]performance.Result, error) {
	active, err := a.positions.Active()
	if err != nil {
		return nil, errors.Wrap(err, "load active positions")
	}

	results := make([]performance.Result, 0, len(active))
	for _, p := range active {
		segments, err := a.positions.SegmentsFor(p.ID)
		if err != nil {
			return nil, errors.Wrapf(err, "load segments for position %s", p.ID)
		}

		res, err := a.evaluator.Evaluate(p, segments, window, at)
		if err != nil {
			var missing *domain.MissingFieldError
			if errors.As(err, &missing) {
				a.logger.Warn("position skipped, market data incomplete",
					zap.String("position", p.ID),
					zap.String("record", missing.Record),
					zap.String("field", missing.Field))
				continue
			}
			return nil, errors.Wrapf(err, "evaluate position %s", p.ID)
		}
		results = append(results, res)
	}
	return results, nil
}
