// Package rateseries provides smoothing helpers for per-venue rate
// histories. It uses the cinar/indicator library to compute moving
// averages over irregular snapshot series, which the generator turns into
// rate-stability diagnostics for ranked candidates.
package rateseries

import (
	"fmt"

	"github.com/cinar/indicator/v2/helper"
	"github.com/cinar/indicator/v2/trend"
	"github.com/shopspring/decimal"
)

// SMA calculates the Simple Moving Average of a rate series for the given
// period.
func SMA(rates []decimal.Decimal, period int) ([]decimal.Decimal, error) {
	if len(rates) < period {
		return nil, fmt.Errorf("not enough data points: need %d, got %d", period, len(rates))
	}

	sma := trend.NewSmaWithPeriod[float64](period)
	inputChan := helper.SliceToChan(decimalsToFloat64(rates))
	outputChan := sma.Compute(inputChan)

	return float64ToDecimals(helper.ChanToSlice(outputChan)), nil
}

// EMA calculates the Exponential Moving Average of a rate series for the
// given period.
func EMA(rates []decimal.Decimal, period int) ([]decimal.Decimal, error) {
	if len(rates) < period {
		return nil, fmt.Errorf("not enough data points: need %d, got %d", period, len(rates))
	}

	ema := trend.NewEmaWithPeriod[float64](period)
	inputChan := helper.SliceToChan(decimalsToFloat64(rates))
	outputChan := ema.Compute(inputChan)

	return float64ToDecimals(helper.ChanToSlice(outputChan)), nil
}

// Deviation returns the absolute distance between the latest observation
// and the latest SMA value over the given period. Series shorter than the
// period report zero deviation: too little history to call anything an
// outlier.
func Deviation(rates []decimal.Decimal, period int) (decimal.Decimal, error) {
	if len(rates) == 0 {
		return decimal.Decimal{}, fmt.Errorf("empty rate series")
	}
	if len(rates) < period {
		return decimal.Zero, nil
	}

	sma, err := SMA(rates, period)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if len(sma) == 0 {
		return decimal.Zero, nil
	}

	latest := rates[len(rates)-1]
	smoothed := sma[len(sma)-1]
	return latest.Sub(smoothed).Abs(), nil
}

// decimalsToFloat64 converts a slice of decimal.Decimal to []float64.
func decimalsToFloat64(decimals []decimal.Decimal) []float64 {
	result := make([]float64, len(decimals))
	for i, d := range decimals {
		result[i], _ = d.Float64()
	}
	return result
}

// float64ToDecimals converts a slice of float64 to []decimal.Decimal.
func float64ToDecimals(floats []float64) []decimal.Decimal {
	result := make([]decimal.Decimal, len(floats))
	for i, f := range floats {
		result[i] = decimal.NewFromFloat(f)
	}
	return result
}
