// Command loopfolio analyzes multi-leg leveraged lending strategies over a
// stored market snapshot history: it generates and ranks candidates,
// distributes a capital budget across them, and reports the performance of
// stored positions at the latest observed timestamp.
//
// Usage:
//
//	loopfolio setup               interactive config wizard
//	loopfolio --config config.yaml
//	loopfolio (uses CLI arguments)
package main

import (
	"context"
	"log"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/loopfolio/loopfolio/config"
	"github.com/loopfolio/loopfolio/internal"
	"github.com/loopfolio/loopfolio/internal/services/allocator"
	"github.com/loopfolio/loopfolio/internal/services/generator"
	"github.com/loopfolio/loopfolio/internal/services/performance"
	"github.com/loopfolio/loopfolio/internal/services/sizing"
	"github.com/loopfolio/loopfolio/internal/setup"
	"github.com/loopfolio/loopfolio/internal/storage/positions"
	"github.com/loopfolio/loopfolio/internal/storage/snapshots"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "setup" {
		if err := setup.RunTUI(); err != nil {
			log.Fatal(err)
		}
		return
	}

	cfg, err := config.Get()
	if err != nil {
		log.Fatal(err)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	snapshotStore, err := snapshots.NewWALStore(cfg.SnapshotsDir)
	if err != nil {
		logger.Fatal("failed to open snapshot store", zap.Error(err))
	}
	defer snapshotStore.Close()

	positionStore, err := positions.NewWALStore(cfg.PositionsDir)
	if err != nil {
		logger.Fatal("failed to open position store", zap.Error(err))
	}
	defer positionStore.Close()

	window, err := snapshotStore.Window(time.Time{})
	if err != nil {
		logger.Fatal("failed to load snapshot history", zap.Error(err))
	}
	latest, ok := window.Latest()
	if !ok {
		logger.Fatal("snapshot history is empty, collect market data first")
	}

	gen := generator.New(sizing.DefaultRegistry(), generator.Config{
		Horizons:      cfg.Horizons,
		RankHorizon:   cfg.RankHorizon,
		MinProtection: cfg.MinProtection,
		MinSize:       cfg.MinSize,
		Workers:       cfg.Workers,
	}, logger)

	alloc := allocator.New(allocator.Constraints{
		Budget:          cfg.Budget,
		PerTokenCap:     cfg.PerTokenCaps,
		PerVenueCap:     cfg.PerVenueCaps,
		MinConfidence:   cfg.MinConfidence,
		HorizonWeights:  cfg.HorizonWeights,
		RankHorizon:     cfg.RankHorizon,
		IterativeLedger: cfg.IterativeLedger,
	}, logger)

	engine := performance.New(performance.Config{
		MaxSamplesPerSegment: cfg.MaxSamplesPerSegment,
	}, logger)

	analyzer := internal.NewAnalyzer(gen, alloc, engine, positionStore, cfg.Tokens, logger)

	report, err := analyzer.Analyze(context.Background(), window, latest)
	if err != nil {
		logger.Fatal("analysis failed", zap.Error(err))
	}

	logReport(logger, report)
}

func logReport(logger *zap.Logger, report *internal.AnalysisReport) {
	for i, c := range report.Candidates {
		if !c.Valid {
			logger.Info("candidate invalid",
				zap.Int("rank", i+1),
				zap.String("key", c.Key()),
				zap.String("reason", c.InvalidReason))
			continue
		}
		logger.Info("candidate",
			zap.Int("rank", i+1),
			zap.String("key", c.Key()),
			zap.String("gross_apr", c.GrossAPR.String()),
			zap.String("max_size", c.MaxSize.String()),
			zap.Int("confidence", c.Confidence))
	}

	for _, a := range report.Allocation.Allocations {
		logger.Info("allocation",
			zap.String("candidate", a.Candidate.Key()),
			zap.String("amount", a.Amount.String()))
	}
	logger.Info("budget distributed",
		zap.String("total", report.Allocation.TotalAllocated.String()),
		zap.Int("allocations", len(report.Allocation.Allocations)))

	for _, p := range report.Performance {
		logger.Info("position performance",
			zap.String("position", p.PositionID),
			zap.Time("as_of", p.AsOf),
			zap.String("total_pnl", p.TotalPnL.String()),
			zap.String("annualized_return", p.AnnualizedReturn.String()))
	}
}
