package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const fullYaml = `
budget: "250000"
min_protection: "0.25"
min_size: "500"
min_confidence: 3
iterative_ledger: false
horizons: [168h, 720h, 2160h]
rank_horizon: 720h
horizon_weights:
  168h: "0.2"
  720h: "0.5"
  2160h: "0.3"
per_token_caps:
  "0x0000000000000000000000000000000000000002": "50000"
per_venue_caps:
  aave: "150000"
venues: [aave, compound]
tokens:
  - address: "0x0000000000000000000000000000000000000001"
    symbol: WETH
    decimals: 18
  - address: "0x0000000000000000000000000000000000000002"
    symbol: USDC
    decimals: 6
workers: 4
max_samples_per_segment: 100
positions_dir: /tmp/wal/positions
snapshots_dir: /tmp/wal/snapshots
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestGetYaml_FullConfig(t *testing.T) {
	cfg, err := getYaml(writeConfig(t, fullYaml))
	require.NoError(t, err)

	require.True(t, cfg.Budget.Equal(decimal.NewFromInt(250000)))
	require.True(t, cfg.MinProtection.Equal(decimal.NewFromFloat(0.25)))
	require.True(t, cfg.MinSize.Equal(decimal.NewFromInt(500)))
	require.Equal(t, 3, cfg.MinConfidence)
	require.False(t, cfg.IterativeLedger)
	require.Equal(t, 30*24*time.Hour, cfg.RankHorizon)
	require.Len(t, cfg.HorizonWeights, 3)
	require.Len(t, cfg.Tokens, 2)
	require.Equal(t, "WETH", cfg.Tokens[0].Symbol)
	require.Equal(t, common.HexToAddress("0x0000000000000000000000000000000000000001"), cfg.Tokens[0].Address)
	require.Equal(t, []string{"aave", "compound"}, cfg.Venues)
	require.Equal(t, 4, cfg.Workers)
	require.Equal(t, 100, cfg.MaxSamplesPerSegment)

	usdc := common.HexToAddress("0x0000000000000000000000000000000000000002")
	require.True(t, cfg.PerTokenCaps[usdc].Equal(decimal.NewFromInt(50000)))
	require.True(t, cfg.PerVenueCaps["aave"].Equal(decimal.NewFromInt(150000)))
}

func TestGetYaml_Defaults(t *testing.T) {
	cfg, err := getYaml(writeConfig(t, `
budget: "10000"
min_protection: "0.20"
venues: [aave]
tokens:
  - address: "0x0000000000000000000000000000000000000001"
    symbol: WETH
`))
	require.NoError(t, err)

	require.True(t, cfg.IterativeLedger)
	require.Equal(t, []time.Duration{7 * 24 * time.Hour, 30 * 24 * time.Hour, 90 * 24 * time.Hour}, cfg.Horizons)
	require.Equal(t, 30*24*time.Hour, cfg.RankHorizon)
	require.True(t, cfg.MinSize.Equal(decimal.NewFromInt(1)))
	require.Equal(t, "./wal/positions", cfg.PositionsDir)
	require.Equal(t, "./wal/snapshots", cfg.SnapshotsDir)
}

func TestGetYaml_Invalid(t *testing.T) {
	cases := map[string]string{
		"zero budget":      "budget: \"0\"\nmin_protection: \"0.2\"\n",
		"bad budget":       "budget: \"abc\"\nmin_protection: \"0.2\"\n",
		"protection >= 1":  "budget: \"100\"\nmin_protection: \"1\"\n",
		"bad token addr":   "budget: \"100\"\nmin_protection: \"0.2\"\ntokens:\n  - address: nothex\n",
		"bad token cap":    "budget: \"100\"\nmin_protection: \"0.2\"\nper_token_caps:\n  \"0x0000000000000000000000000000000000000001\": \"x\"\n",
		"negative horizon": "budget: \"100\"\nmin_protection: \"0.2\"\nhorizons: [\"-1h\"]\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := getYaml(writeConfig(t, body))
			require.Error(t, err)
		})
	}
}
