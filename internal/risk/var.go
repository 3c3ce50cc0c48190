package risk

import (
	"sort"

	"gonum.org/v1/gonum/stat"
)

// HistoricalVaR computes the 1-period historical Value at Risk at the
// given confidence level from a rolling window of returns — the loss
// magnitude at the (1-confidence) percentile of the empirical return
// distribution, generalized from a hand-rolled bubble-sort percentile
// lookup into gonum's weighted empirical quantile.
//
// Returns 0 if the window is empty. The result is a positive fraction
// (e.g. 0.08 means an 8% historical VaR), never the signed return.
func HistoricalVaR(returns []float64, confidence float64) float64 {
	if len(returns) == 0 {
		return 0
	}

	sorted := make([]float64, len(returns))
	copy(sorted, returns)
	sort.Float64s(sorted)

	percentile := 1 - confidence
	q := stat.Quantile(percentile, stat.Empirical, sorted, nil)
	if q > 0 {
		// a positive quantile at the loss tail means no historical loss
		// at this confidence — VaR is zero, not negative.
		return 0
	}
	return -q
}

// PortfolioReturns combines per-symbol return series into one weighted
// series, aligned on the shortest common window — grounded on the same
// weighted-combination shape used for portfolio return aggregation,
// generalized from per-security ISIN weights to per-symbol notional
// weights.
func PortfolioReturns(returns map[string][]float64, weights map[string]float64) []float64 {
	if len(returns) == 0 {
		return nil
	}

	minLen := -1
	for _, series := range returns {
		if minLen == -1 || len(series) < minLen {
			minLen = len(series)
		}
	}
	if minLen <= 0 {
		return nil
	}

	combined := make([]float64, minLen)
	for i := 0; i < minLen; i++ {
		total := 0.0
		for symbol, series := range returns {
			total += weights[symbol] * series[i]
		}
		combined[i] = total
	}
	return combined
}
