package stats

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// TestResult is the outcome of a unit-root or stationarity test.
type TestResult struct {
	Statistic    float64
	PValue       float64
	Lags         int
	IsStationary bool
}

// ADF runs the Augmented Dickey-Fuller test with a constant term. The null
// hypothesis is a unit root; a p-value below 0.05 marks the series
// stationary. maxLag <= 0 selects floor((n-1)^(1/3)). It returns nil when
// the series is too short or the regression is singular.
func ADF(values []float64, maxLag int) *TestResult {
	n := len(values)
	if n < 10 {
		return nil
	}
	if maxLag <= 0 {
		maxLag = int(math.Floor(math.Pow(float64(n-1), 1.0/3.0)))
	}
	maxLag = min(maxLag, n-2)

	d := diff(values)
	nObs := n - maxLag - 1
	if nObs < 10 {
		return nil
	}

	// delta_y[t] = alpha + beta*y[t] + sum gamma_j*delta_y[t-j]
	k := 2 + maxLag
	x := mat.NewDense(nObs, k, nil)
	y := mat.NewVecDense(nObs, nil)
	for i := 0; i < nObs; i++ {
		t := i + maxLag
		y.SetVec(i, d[t])
		x.Set(i, 0, 1)
		x.Set(i, 1, values[t])
		for j := 1; j <= maxLag; j++ {
			x.Set(i, 1+j, d[t-j])
		}
	}

	coeffs, se, ok := olsRegression(x, y)
	if !ok || se[1] == 0 {
		return nil
	}

	stat := coeffs[1] / se[1]
	p := mackinnonPValue(stat)
	return &TestResult{
		Statistic:    stat,
		PValue:       p,
		Lags:         maxLag,
		IsStationary: p < 0.05,
	}
}

// KPSS runs the level-stationarity KPSS test. The null hypothesis is
// stationarity; a p-value of 0.05 or more keeps it. nlags <= 0 selects
// ceil(12*(n/100)^(1/4)) Bartlett-weighted lags.
func KPSS(values []float64, nlags int) *TestResult {
	n := len(values)
	if n < 10 {
		return nil
	}
	if nlags <= 0 {
		nlags = int(math.Ceil(12 * math.Pow(float64(n)/100, 0.25)))
	}
	nlags = min(nlags, n-1)

	m := mean(values)
	resid := make([]float64, n)
	for i, v := range values {
		resid[i] = v - m
	}

	// Newey-West long-run variance.
	s2 := 0.0
	for _, r := range resid {
		s2 += r * r
	}
	s2 /= float64(n)
	for l := 1; l <= nlags; l++ {
		cov := 0.0
		for i := l; i < n; i++ {
			cov += resid[i] * resid[i-l]
		}
		cov /= float64(n)
		s2 += 2 * (1 - float64(l)/float64(nlags+1)) * cov
	}
	if s2 <= 0 {
		s2 = 1e-10
	}

	cum, eta := 0.0, 0.0
	for _, r := range resid {
		cum += r
		eta += cum * cum
	}
	stat := eta / (float64(n) * float64(n) * s2)
	p := kpssPValue(stat)
	return &TestResult{
		Statistic:    stat,
		PValue:       p,
		Lags:         nlags,
		IsStationary: p >= 0.05,
	}
}

// olsRegression returns OLS coefficients and their standard errors.
func olsRegression(x *mat.Dense, y *mat.VecDense) (coeffs, stdErrors []float64, ok bool) {
	n, k := x.Dims()
	if n <= k {
		return nil, nil, false
	}

	var xtx mat.Dense
	xtx.Mul(x.T(), x)
	var inv mat.Dense
	if err := inv.Inverse(&xtx); err != nil {
		return nil, nil, false
	}

	var xty, beta mat.VecDense
	xty.MulVec(x.T(), y)
	beta.MulVec(&inv, &xty)

	var fitted, resid mat.VecDense
	fitted.MulVec(x, &beta)
	resid.SubVec(y, &fitted)
	s2 := mat.Dot(&resid, &resid) / float64(n-k)

	coeffs = make([]float64, k)
	stdErrors = make([]float64, k)
	for i := 0; i < k; i++ {
		coeffs[i] = beta.AtVec(i)
		stdErrors[i] = math.Sqrt(s2 * inv.At(i, i))
	}
	return coeffs, stdErrors, true
}

// mackinnonPValue maps an ADF statistic (constant, no trend) onto
// approximate p-values from MacKinnon's asymptotic critical values.
func mackinnonPValue(stat float64) float64 {
	switch {
	case stat < -3.96:
		return 0.001
	case stat < -3.43:
		return 0.01
	case stat < -2.86:
		return 0.05
	case stat < -2.57:
		return 0.10
	case stat < -1.94:
		return 0.25
	case stat < -1.62:
		return 0.50
	default:
		return math.Min(0.5+(stat+1.62)*0.25, 0.99)
	}
}

// kpssPValue interpolates the level-stationarity KPSS table
// (10%: 0.347, 5%: 0.463, 1%: 0.739).
func kpssPValue(stat float64) float64 {
	switch {
	case stat > 0.739:
		return 0.01
	case stat > 0.463:
		return 0.05
	case stat > 0.347:
		return 0.10
	default:
		return 0.10 + (0.347-stat)*0.5
	}
}
