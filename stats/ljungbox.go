package stats

import "gonum.org/v1/gonum/stat/distuv"

// LjungBoxResult is the outcome of a Ljung-Box portmanteau test.
type LjungBoxResult struct {
	Statistic float64
	PValue    float64
	Lags      int
	DOF       int
}

// LjungBox tests residuals for autocorrelation up to lags. fitdf is the
// number of estimated ARMA coefficients (p+q). A small p-value means the
// residuals are not white noise. It returns nil for fewer than 10 values.
func LjungBox(residuals []float64, lags, fitdf int) *LjungBoxResult {
	n := len(residuals)
	if n < 10 || lags < 1 {
		return nil
	}
	if lags >= n {
		lags = n - 1
	}

	acf := ACF(residuals, lags)
	if acf == nil {
		return nil
	}

	q := 0.0
	for k := 1; k <= lags; k++ {
		q += acf[k] * acf[k] / float64(n-k)
	}
	q *= float64(n * (n + 2))

	dof := max(lags-fitdf, 1)
	return &LjungBoxResult{
		Statistic: q,
		PValue:    distuv.ChiSquared{K: float64(dof)}.Survival(q),
		Lags:      lags,
		DOF:       dof,
	}
}

// DurbinWatson returns the Durbin-Watson statistic of residuals: about 2 for
// no first-order autocorrelation, toward 0 for positive and 4 for negative.
// ok is false when the statistic is undefined.
func DurbinWatson(residuals []float64) (stat float64, ok bool) {
	if len(residuals) < 2 {
		return 0, false
	}
	num, den := 0.0, 0.0
	for i, r := range residuals {
		den += r * r
		if i > 0 {
			d := r - residuals[i-1]
			num += d * d
		}
	}
	if den == 0 {
		return 0, false
	}
	return num / den, true
}
