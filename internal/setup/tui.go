package setup

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/loopfolio/loopfolio/config"
	"github.com/loopfolio/loopfolio/internal/domain"
)

var (
	subtle    = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#383838"}
	highlight = lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	special   = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Background(highlight).
			Padding(1, 2).
			Bold(true).
			MarginBottom(1)

	stepStyle = lipgloss.NewStyle().
			Foreground(special).
			Bold(true).
			MarginTop(1).
			MarginBottom(0)
)

// RunTUI launches the terminal configuration wizard and writes the
// generated analyzer config to loopfolio.gen.yaml.
func RunTUI() error {
	var (
		budgetStr        string
		protectionStr    string
		minSizeStr       string
		minConfidenceStr string
		venues           []string
		iterative        bool
		rankHorizonStr   string
		confirm          bool
	)

	// defaults
	budgetStr = "10000"
	protectionStr = "0.20"
	minSizeStr = "100"
	minConfidenceStr = "3"
	iterative = true
	rankHorizonStr = "720h"

	// step 1: capital
	fmt.Print("\033[H\033[2J") // Clear screen
	fmt.Println(headerStyle.Render("LOOPFOLIO CONFIG WIZARD"))
	fmt.Println(lipgloss.NewStyle().Foreground(subtle).Render("Let's set up your strategy analyzer.\n"))

	fmt.Println(stepStyle.Render("STEP 1: CAPITAL"))
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Capital Budget").
				Description("Total USD to distribute across strategies (e.g. 100000)").
				Value(&budgetStr).
				Validate(validatePositiveDecimal),
			huh.NewInput().
				Title("Minimum Position Size").
				Description("Candidates sized below this are marked invalid (e.g. 100)").
				Value(&minSizeStr).
				Validate(validatePositiveDecimal),
		),
	).Run()
	if err != nil {
		return err
	}

	// step 2: safety
	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("LOOPFOLIO CONFIG WIZARD"))
	fmt.Println(stepStyle.Render("STEP 2: SAFETY"))
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Minimum Liquidation Distance").
				Description("Fraction of price move you must survive, in [0, 1) (e.g. 0.20)").
				Value(&protectionStr).
				Validate(validateProtection),
			huh.NewInput().
				Title("Minimum Confidence").
				Description("Observations required before a strategy is trusted (e.g. 3)").
				Value(&minConfidenceStr).
				Validate(validateNonNegativeInt),
		),
	).Run()
	if err != nil {
		return err
	}

	// step 3: venues
	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("LOOPFOLIO CONFIG WIZARD"))
	fmt.Println(stepStyle.Render("STEP 3: VENUES"))
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewMultiSelect[string]().
				Title("Lending Venues").
				Options(
					huh.NewOption("Aave", "aave"),
					huh.NewOption("Compound", "compound"),
					huh.NewOption("Spark", "spark"),
					huh.NewOption("Morpho", "morpho"),
				).
				Value(&venues).
				Validate(func(selected []string) error {
					if len(selected) == 0 {
						return fmt.Errorf("select at least one venue")
					}
					return nil
				}),
		),
	).Run()
	if err != nil {
		return err
	}

	// step 4: token universe
	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("LOOPFOLIO CONFIG WIZARD"))
	fmt.Println(stepStyle.Render("STEP 4: TOKENS"))
	tokens, err := collectTokens()
	if err != nil {
		return err
	}

	// step 5: allocation
	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("LOOPFOLIO CONFIG WIZARD"))
	fmt.Println(stepStyle.Render("STEP 5: ALLOCATION"))
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Iterative Liquidity Ledger?").
				Description("Earlier allocations shrink liquidity seen by later candidates").
				Affirmative("Enabled (recommended)").
				Negative("Disabled").
				Value(&iterative),
			huh.NewInput().
				Title("Ranking Horizon").
				Description("Duration string for the ranking horizon (e.g. 720h = 30d)").
				Value(&rankHorizonStr).
				Validate(func(s string) error {
					_, err := time.ParseDuration(s)
					return err
				}),
		),
	).Run()
	if err != nil {
		return err
	}

	// confirmation
	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("LOOPFOLIO CONFIG WIZARD"))
	fmt.Println(stepStyle.Render("FINAL CONFIRMATION"))

	summary := fmt.Sprintf(
		"Budget: %s\nProtection: %s\nVenues: %v\nTokens: %d\nIterative ledger: %t\nRank horizon: %s\n",
		budgetStr, protectionStr, venues, len(tokens), iterative, rankHorizonStr,
	)
	fmt.Println(lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(1).Render(summary))

	err = huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Save Configuration?").
				Affirmative("Yes, save").
				Negative("No, exit").
				Value(&confirm),
		),
	).Run()
	if err != nil {
		return err
	}

	if !confirm {
		return fmt.Errorf("setup cancelled by user")
	}

	cfgTmp := config.ConfigTmp{
		BudgetStr:        budgetStr,
		MinProtectionStr: protectionStr,
		MinSizeStr:       minSizeStr,
		IterativeLedger:  &iterative,
		RankHorizon:      rankHorizonStr,
		Venues:           venues,
		Tokens:           tokens,
	}
	if cfgTmp.MinConfidence, err = strconv.Atoi(minConfidenceStr); err != nil {
		return fmt.Errorf("invalid minimum confidence: %w", err)
	}

	data, err := yaml.Marshal(cfgTmp)
	if err != nil {
		return fmt.Errorf("failed to generate yaml: %w", err)
	}

	filename := "loopfolio.gen.yaml"
	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to save config file: %w", err)
	}

	fmt.Println(lipgloss.NewStyle().Foreground(special).Render(fmt.Sprintf("\n✓ Configuration saved to %s", filename)))
	time.Sleep(1500 * time.Millisecond) // small pause to read success message
	return nil
}

// collectTokens asks for token address/symbol pairs until the user stops.
func collectTokens() ([]config.TokenTmp, error) {
	var tokens []config.TokenTmp
	for {
		var (
			address  string
			symbol   string
			decimals string
			more     bool
		)
		decimals = "18"

		err := huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("Token Contract Address").
					Description("Canonical on-chain address (0x…)").
					Value(&address).
					Validate(validateAddress),
				huh.NewInput().
					Title("Symbol").
					Description("Display only, never used as identity").
					Value(&symbol),
				huh.NewInput().
					Title("Decimals").
					Value(&decimals).
					Validate(validateNonNegativeInt),
			),
		).Run()
		if err != nil {
			return nil, err
		}

		d, _ := strconv.Atoi(decimals)
		tokens = append(tokens, config.TokenTmp{Address: address, Symbol: symbol, Decimals: d})

		if err := huh.NewForm(
			huh.NewGroup(
				huh.NewConfirm().
					Title("Add another token?").
					Value(&more),
			),
		).Run(); err != nil {
			return nil, err
		}
		if !more {
			return tokens, nil
		}
	}
}

func validatePositiveDecimal(s string) error {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("must be a valid number")
	}
	if !d.GreaterThan(decimal.Zero) {
		return fmt.Errorf("must be greater than zero")
	}
	return nil
}

func validateProtection(s string) error {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("must be a valid number")
	}
	if d.IsNegative() || !d.LessThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("must be in [0, 1)")
	}
	return nil
}

func validateNonNegativeInt(s string) error {
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("must be an integer")
	}
	if n < 0 {
		return fmt.Errorf("must not be negative")
	}
	return nil
}

func validateAddress(s string) error {
	if _, err := domain.ParseTokenID(s); err != nil {
		return fmt.Errorf("must be a 0x-prefixed hex contract address")
	}
	return nil
}
