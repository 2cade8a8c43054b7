package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Year is the annualization basis used everywhere rates are integrated or
// fees amortized: 365 days.
const Year = 365 * 24 * time.Hour

// Years expresses a duration as a decimal fraction of a year.
func Years(d time.Duration) decimal.Decimal {
	return decimal.NewFromFloat(d.Seconds()).Div(decimal.NewFromFloat(Year.Seconds()))
}
