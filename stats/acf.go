// Package stats provides the autocorrelation, residual and stationarity
// tests used during ARIMA order selection.
package stats

// ACF returns the sample autocorrelation of values for lags 0 through maxLag.
// It returns nil for series with zero variance.
func ACF(values []float64, maxLag int) []float64 {
	n := len(values)
	if maxLag >= n {
		maxLag = n - 1
	}
	if maxLag < 0 {
		return nil
	}

	m := mean(values)
	denom := 0.0
	for _, v := range values {
		d := v - m
		denom += d * d
	}
	if denom == 0 {
		return nil
	}

	acf := make([]float64, maxLag+1)
	for k := 0; k <= maxLag; k++ {
		sum := 0.0
		for i := k; i < n; i++ {
			sum += (values[i] - m) * (values[i-k] - m)
		}
		acf[k] = sum / denom
	}
	return acf
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func diff(values []float64) []float64 {
	if len(values) < 2 {
		return nil
	}
	out := make([]float64, len(values)-1)
	for i := 1; i < len(values); i++ {
		out[i-1] = values[i] - values[i-1]
	}
	return out
}
