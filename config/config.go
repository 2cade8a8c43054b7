package config

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/loopfolio/loopfolio/internal/domain"
)

// Config is the fully parsed analyzer configuration.
type Config struct {
	Budget        decimal.Decimal
	MinProtection decimal.Decimal
	MinSize       decimal.Decimal

	MinConfidence   int
	IterativeLedger bool

	Horizons       []time.Duration
	RankHorizon    time.Duration
	HorizonWeights map[time.Duration]decimal.Decimal

	PerTokenCaps map[domain.TokenID]decimal.Decimal
	PerVenueCaps map[string]decimal.Decimal

	Venues []string
	Tokens []domain.Token

	Workers              int
	MaxSamplesPerSegment int

	PositionsDir string
	SnapshotsDir string
}

// ConfigTmp is the yaml-facing shape of Config; the setup wizard marshals
// it when generating a config file.
type ConfigTmp struct {
	BudgetStr        string `yaml:"budget"`
	MinProtectionStr string `yaml:"min_protection"`
	MinSizeStr       string `yaml:"min_size,omitempty"`

	MinConfidence   int   `yaml:"min_confidence,omitempty"`
	IterativeLedger *bool `yaml:"iterative_ledger,omitempty"`

	Horizons       []string          `yaml:"horizons,omitempty"`
	RankHorizon    string            `yaml:"rank_horizon,omitempty"`
	HorizonWeights map[string]string `yaml:"horizon_weights,omitempty"`

	PerTokenCaps map[string]string `yaml:"per_token_caps,omitempty"`
	PerVenueCaps map[string]string `yaml:"per_venue_caps,omitempty"`

	Venues []string   `yaml:"venues"`
	Tokens []TokenTmp `yaml:"tokens"`

	Workers              int `yaml:"workers,omitempty"`
	MaxSamplesPerSegment int `yaml:"max_samples_per_segment,omitempty"`

	PositionsDir string `yaml:"positions_dir,omitempty"`
	SnapshotsDir string `yaml:"snapshots_dir,omitempty"`
}

// TokenTmp is the yaml-facing shape of a universe token.
type TokenTmp struct {
	Address  string `yaml:"address"`
	Symbol   string `yaml:"symbol"`
	Decimals int    `yaml:"decimals,omitempty"`
}

// Get loads the configuration from the yaml file named by --config, or from
// CLI flags when no file is given.
func Get() (*Config, error) {
	config := flag.String("config", "", "path to yaml config")
	budget := flag.String("budget", "10000", "capital budget to allocate, example: 100000")
	protection := flag.String("protection", "0.20", "minimum liquidation distance, example: 0.20")
	positionsDir := flag.String("positionsdir", "", "positions WAL directory")
	snapshotsDir := flag.String("snapshotsdir", "", "snapshots WAL directory")
	flag.Parse()

	if *config != "" {
		return getYaml(*config)
	}

	b, err := decimal.NewFromString(*budget)
	if err != nil {
		return nil, fmt.Errorf("invalid --budget provided, --budget=%s", *budget)
	}
	p, err := decimal.NewFromString(*protection)
	if err != nil {
		return nil, fmt.Errorf("invalid --protection provided, --protection=%s", *protection)
	}

	cfg := &Config{
		Budget:          b,
		MinProtection:   p,
		IterativeLedger: true,
		PositionsDir:    *positionsDir,
		SnapshotsDir:    *snapshotsDir,
	}
	applyDefaults(cfg)
	return cfg, cfg.validate()
}

func getYaml(path string) (*Config, error) {
	f, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var tmp ConfigTmp
	if err := yaml.Unmarshal(f, &tmp); err != nil {
		return nil, err
	}
	return fromTmp(tmp)
}

func fromTmp(tmp ConfigTmp) (*Config, error) {
	budget, err := decimal.NewFromString(tmp.BudgetStr)
	if err != nil {
		return nil, fmt.Errorf("incorrect 'budget' param in yaml config (correct format is 100000), error: %w", err)
	}
	protection, err := decimal.NewFromString(tmp.MinProtectionStr)
	if err != nil {
		return nil, fmt.Errorf("incorrect 'min_protection' param in yaml config (correct format is 0.20), error: %w", err)
	}

	cfg := &Config{
		Budget:               budget,
		MinProtection:        protection,
		MinConfidence:        tmp.MinConfidence,
		Venues:               tmp.Venues,
		Workers:              tmp.Workers,
		MaxSamplesPerSegment: tmp.MaxSamplesPerSegment,
		PositionsDir:         tmp.PositionsDir,
		SnapshotsDir:         tmp.SnapshotsDir,
	}

	for _, raw := range tmp.Horizons {
		horizon, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("incorrect 'horizons' entry in yaml config: %s, error: %w", raw, err)
		}
		cfg.Horizons = append(cfg.Horizons, horizon)
	}
	if tmp.RankHorizon != "" {
		cfg.RankHorizon, err = time.ParseDuration(tmp.RankHorizon)
		if err != nil {
			return nil, fmt.Errorf("incorrect 'rank_horizon' param in yaml config: %s, error: %w", tmp.RankHorizon, err)
		}
	}

	if tmp.MinSizeStr != "" {
		cfg.MinSize, err = decimal.NewFromString(tmp.MinSizeStr)
		if err != nil {
			return nil, fmt.Errorf("incorrect 'min_size' param in yaml config (must be a decimal), error: %w", err)
		}
	}

	if tmp.IterativeLedger != nil {
		cfg.IterativeLedger = *tmp.IterativeLedger
	} else {
		cfg.IterativeLedger = true
	}

	if len(tmp.HorizonWeights) > 0 {
		cfg.HorizonWeights = make(map[time.Duration]decimal.Decimal, len(tmp.HorizonWeights))
		for key, raw := range tmp.HorizonWeights {
			horizon, err := time.ParseDuration(key)
			if err != nil {
				return nil, fmt.Errorf("incorrect 'horizon_weights' key in yaml config: %s, error: %w", key, err)
			}
			w, err := decimal.NewFromString(raw)
			if err != nil {
				return nil, fmt.Errorf("incorrect 'horizon_weights' value for %s in yaml config, error: %w", key, err)
			}
			cfg.HorizonWeights[horizon] = w
		}
	}

	if len(tmp.PerTokenCaps) > 0 {
		cfg.PerTokenCaps = make(map[domain.TokenID]decimal.Decimal, len(tmp.PerTokenCaps))
		for addr, raw := range tmp.PerTokenCaps {
			token, err := domain.ParseTokenID(addr)
			if err != nil {
				return nil, fmt.Errorf("incorrect 'per_token_caps' address in yaml config: %s, error: %w", addr, err)
			}
			limit, err := decimal.NewFromString(raw)
			if err != nil {
				return nil, fmt.Errorf("incorrect 'per_token_caps' value for %s in yaml config, error: %w", addr, err)
			}
			cfg.PerTokenCaps[token] = limit
		}
	}

	if len(tmp.PerVenueCaps) > 0 {
		cfg.PerVenueCaps = make(map[string]decimal.Decimal, len(tmp.PerVenueCaps))
		for venue, raw := range tmp.PerVenueCaps {
			limit, err := decimal.NewFromString(raw)
			if err != nil {
				return nil, fmt.Errorf("incorrect 'per_venue_caps' value for %s in yaml config, error: %w", venue, err)
			}
			cfg.PerVenueCaps[venue] = limit
		}
	}

	for _, t := range tmp.Tokens {
		token, err := domain.ParseTokenID(t.Address)
		if err != nil {
			return nil, fmt.Errorf("incorrect token address in yaml config: %s, error: %w", t.Address, err)
		}
		cfg.Tokens = append(cfg.Tokens, domain.Token{
			Address:  token,
			Symbol:   t.Symbol,
			Decimals: t.Decimals,
		})
	}

	applyDefaults(cfg)
	return cfg, cfg.validate()
}

func applyDefaults(cfg *Config) {
	if len(cfg.Horizons) == 0 {
		cfg.Horizons = []time.Duration{
			7 * 24 * time.Hour,
			30 * 24 * time.Hour,
			90 * 24 * time.Hour,
		}
	}
	if cfg.RankHorizon == 0 {
		cfg.RankHorizon = cfg.Horizons[len(cfg.Horizons)/2]
	}
	if cfg.MinSize.IsZero() {
		cfg.MinSize = decimal.NewFromInt(1)
	}
	if cfg.PositionsDir == "" {
		cfg.PositionsDir = "./wal/positions"
	}
	if cfg.SnapshotsDir == "" {
		cfg.SnapshotsDir = "./wal/snapshots"
	}
}

func (c *Config) validate() error {
	if !c.Budget.GreaterThan(decimal.Zero) {
		return fmt.Errorf("'budget' must be positive, got %s", c.Budget.String())
	}
	if c.MinProtection.IsNegative() || !c.MinProtection.LessThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("'min_protection' must be in [0, 1), got %s", c.MinProtection.String())
	}
	for _, horizon := range c.Horizons {
		if horizon <= 0 {
			return fmt.Errorf("'horizons' entries must be positive, got %s", horizon)
		}
	}
	return nil
}
