// Package arima implements non-seasonal ARIMA models fitted by conditional
// sum of squares.
package arima

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/anita2210/flu-forecast-hub/stats"
	"github.com/anita2210/flu-forecast-hub/timeseries"
)

var (
	ErrInvalidOrder     = errors.New("orders must be non-negative")
	ErrInsufficientData = errors.New("insufficient data points for the specified order")
	ErrNotFitted        = errors.New("model must be fitted before prediction")
)

// coefficient bound keeping the AR part stationary and the MA part invertible
const coeffBound = 0.99

// Order represents ARIMA model order (p, d, q).
type Order struct {
	P int // AR order
	D int // differencing order
	Q int // MA order
}

func (o Order) String() string {
	return fmt.Sprintf("ARIMA(%d,%d,%d)", o.P, o.D, o.Q)
}

// NumParams is the number of estimated parameters: AR, MA and intercept.
func (o Order) NumParams() int {
	return o.P + o.Q + 1
}

// MinObservations is the shortest series an order can be fitted to: after
// differencing and the conditioning window, at least p+q+2 residuals remain.
func (o Order) MinObservations() int {
	return o.D + max(o.P, o.Q) + o.P + o.Q + 2
}

// Model is an ARIMA model. The zero value is unusable; create one with New.
type Model struct {
	Order     Order
	ARCoeffs  []float64 // phi
	MACoeffs  []float64 // theta
	Intercept float64   // mean of the differenced series
	Variance  float64   // residual variance
	AIC       float64
	AICc      float64
	BIC       float64
	LogLik    float64

	fitted     bool
	nObs       int
	levels     [][]float64 // levels[k] is the k-th difference of the data
	residuals  []float64
	fittedVals []float64
}

// New creates an unfitted ARIMA(p,d,q) model.
func New(p, d, q int) *Model {
	return &Model{
		Order:    Order{P: p, D: d, Q: q},
		ARCoeffs: make([]float64, max(p, 0)),
		MACoeffs: make([]float64, max(q, 0)),
	}
}

// Fit estimates the model on series. Refitting replaces the previous fit.
func (m *Model) Fit(series *timeseries.Series) error {
	o := m.Order
	if o.P < 0 || o.D < 0 || o.Q < 0 {
		return ErrInvalidOrder
	}
	if series.Len() < o.MinObservations() {
		return ErrInsufficientData
	}

	m.nObs = series.Len()
	m.levels = make([][]float64, o.D+1)
	m.levels[0] = append([]float64(nil), series.Values...)
	for k := 1; k <= o.D; k++ {
		m.levels[k] = difference(m.levels[k-1])
	}

	w := m.levels[o.D]
	m.ARCoeffs = make([]float64, o.P)
	m.MACoeffs = make([]float64, o.Q)
	if o.P > 0 {
		if acf := stats.ACF(w, o.P); acf != nil {
			for i, phi := range yuleWalker(acf, o.P) {
				m.ARCoeffs[i] = clampCoeff(phi)
			}
		}
	}
	for i := range m.MACoeffs {
		m.MACoeffs[i] = 0.1
	}

	m.optimizeCSS(w)
	m.calculateIC()
	m.fitted = true
	return nil
}

func (m *Model) start() int {
	return max(m.Order.P, m.Order.Q)
}

// conditionalSSE fills resid with one-step residuals of w, treating
// pre-sample residuals as zero, and returns their sum of squares.
func (m *Model) conditionalSSE(w, resid []float64) float64 {
	start := m.start()
	sse := 0.0
	for t := range w {
		if t < start {
			resid[t] = 0
			continue
		}
		pred := m.Intercept
		for i, phi := range m.ARCoeffs {
			pred += phi * (w[t-i-1] - m.Intercept)
		}
		for i, theta := range m.MACoeffs {
			pred += theta * resid[t-i-1]
		}
		resid[t] = w[t] - pred
		sse += resid[t] * resid[t]
	}
	return sse
}

// optimizeCSS minimizes the conditional sum of squares by scaled gradient
// descent, halving the step whenever an update fails to reduce the SSE.
func (m *Model) optimizeCSS(w []float64) {
	const (
		maxIter   = 200
		tolerance = 1e-9
		minStep   = 1e-6
	)

	n := len(w)
	start := m.start()
	count := float64(n - start)

	m.Intercept = mean(w)
	gamma0 := 0.0
	for _, v := range w {
		gamma0 += (v - m.Intercept) * (v - m.Intercept)
	}
	gamma0 /= float64(n)

	resid := make([]float64, n)
	sse := m.conditionalSSE(w, resid)

	if len(m.ARCoeffs)+len(m.MACoeffs) > 0 && gamma0 > 0 {
		arGrad := make([]float64, len(m.ARCoeffs))
		maGrad := make([]float64, len(m.MACoeffs))
		prevAR := make([]float64, len(m.ARCoeffs))
		prevMA := make([]float64, len(m.MACoeffs))
		step := 0.5

		for iter := 0; iter < maxIter && step > minStep && sse > 0; iter++ {
			clear(arGrad)
			clear(maGrad)
			for t := start; t < n; t++ {
				for i := range arGrad {
					arGrad[i] -= 2 * resid[t] * (w[t-i-1] - m.Intercept) / count
				}
				for i := range maGrad {
					maGrad[i] -= 2 * resid[t] * resid[t-i-1] / count
				}
			}

			sigma2 := sse / count
			copy(prevAR, m.ARCoeffs)
			copy(prevMA, m.MACoeffs)
			for i := range m.ARCoeffs {
				m.ARCoeffs[i] = clampCoeff(m.ARCoeffs[i] - step*arGrad[i]/(2*gamma0))
			}
			for i := range m.MACoeffs {
				m.MACoeffs[i] = clampCoeff(m.MACoeffs[i] - step*maGrad[i]/(2*sigma2))
			}

			newSSE := m.conditionalSSE(w, resid)
			if newSSE >= sse {
				copy(m.ARCoeffs, prevAR)
				copy(m.MACoeffs, prevMA)
				m.conditionalSSE(w, resid)
				step /= 2
				continue
			}

			converged := sse-newSSE < tolerance*sse
			sse = newSSE
			if converged {
				break
			}
		}
	}

	m.residuals = resid
	m.fittedVals = make([]float64, n)
	for t := range w {
		m.fittedVals[t] = w[t] - resid[t]
	}

	k := len(m.ARCoeffs) + len(m.MACoeffs) + 1
	if count > float64(k) {
		m.Variance = sse / (count - float64(k))
	} else {
		m.Variance = sse / count
	}
}

// calculateIC computes the Gaussian conditional log-likelihood and the
// information criteria over the effective sample.
func (m *Model) calculateIC() {
	resid := m.residuals[m.start():]
	n := len(resid)
	sse := 0.0
	for _, r := range resid {
		sse += r * r
	}

	logLik := math.Inf(1)
	if sse > 0 {
		sigma2 := sse / float64(n)
		logLik = -float64(n) / 2 * (math.Log(2*math.Pi) + math.Log(sigma2) + 1)
	}

	ic := stats.CalculateIC(logLik, n, m.Order.NumParams())
	m.LogLik = ic.LogLik
	m.AIC = ic.AIC
	m.AICc = ic.AICc
	m.BIC = ic.BIC
}

// Predict returns point forecasts on the original scale.
func (m *Model) Predict(steps int) ([]float64, error) {
	if !m.fitted {
		return nil, ErrNotFitted
	}
	if steps < 1 {
		return nil, errors.New("steps must be at least 1")
	}

	w := m.levels[m.Order.D]
	n := len(w)
	ext := make([]float64, n+steps)
	copy(ext, w)
	extResid := make([]float64, n+steps)
	copy(extResid, m.residuals)

	for h := 0; h < steps; h++ {
		t := n + h
		pred := m.Intercept
		for i, phi := range m.ARCoeffs {
			if t-i-1 >= 0 {
				pred += phi * (ext[t-i-1] - m.Intercept)
			}
		}
		for i, theta := range m.MACoeffs {
			// future shocks have zero expectation
			if t-i-1 >= 0 && t-i-1 < n {
				pred += theta * extResid[t-i-1]
			}
		}
		ext[t] = pred
	}

	return m.integrate(ext[n:]), nil
}

// integrate undoes differencing level by level, starting each cumulative sum
// from the last observed value of the level below.
func (m *Model) integrate(forecasts []float64) []float64 {
	out := append([]float64(nil), forecasts...)
	for k := m.Order.D - 1; k >= 0; k-- {
		level := m.levels[k]
		prev := level[len(level)-1]
		for j := range out {
			out[j] += prev
			prev = out[j]
		}
	}
	return out
}

// PsiWeights returns the first h weights of the MA(inf) representation of the
// integrated model, psi[0] = 1.
func (m *Model) PsiWeights(h int) []float64 {
	// phi*(B) = phi(B) * (1-B)^d as coefficients of B^1..B^(p+d)
	poly := make([]float64, len(m.ARCoeffs)+1)
	poly[0] = 1
	for i, phi := range m.ARCoeffs {
		poly[i+1] = -phi
	}
	for k := 0; k < m.Order.D; k++ {
		next := make([]float64, len(poly)+1)
		for i, c := range poly {
			next[i] += c
			next[i+1] -= c
		}
		poly = next
	}
	phiStar := make([]float64, len(poly)-1)
	for i := range phiStar {
		phiStar[i] = -poly[i+1]
	}

	psi := make([]float64, h)
	if h == 0 {
		return psi
	}
	psi[0] = 1
	for j := 1; j < h; j++ {
		v := 0.0
		if j <= len(m.MACoeffs) {
			v = m.MACoeffs[j-1]
		}
		for i := 1; i <= len(phiStar) && i <= j; i++ {
			v += phiStar[i-1] * psi[j-i]
		}
		psi[j] = v
	}
	return psi
}

// PredictWithInterval returns point forecasts with symmetric normal
// prediction intervals at the given confidence level in (0, 1).
func (m *Model) PredictWithInterval(steps int, confidence float64) (point, lower, upper []float64, err error) {
	if confidence <= 0 || confidence >= 1 {
		return nil, nil, nil, fmt.Errorf("confidence %v must be in (0, 1)", confidence)
	}
	point, err = m.Predict(steps)
	if err != nil {
		return nil, nil, nil, err
	}

	z := distuv.UnitNormal.Quantile(0.5 + confidence/2)
	psi := m.PsiWeights(steps)
	lower = make([]float64, steps)
	upper = make([]float64, steps)
	cum := 0.0
	for h := 0; h < steps; h++ {
		cum += psi[h] * psi[h]
		half := z * math.Sqrt(m.Variance*cum)
		lower[h] = point[h] - half
		upper[h] = point[h] + half
	}
	return point, lower, upper, nil
}

// Residuals returns the one-step residuals of the effective sample.
func (m *Model) Residuals() []float64 {
	if !m.fitted {
		return nil
	}
	return append([]float64(nil), m.residuals[m.start():]...)
}

// FittedValues returns one-step fitted values on the differenced scale.
func (m *Model) FittedValues() []float64 {
	if !m.fitted {
		return nil
	}
	return append([]float64(nil), m.fittedVals[m.start():]...)
}

// NObs returns the number of observations the model was fitted on.
func (m *Model) NObs() int {
	return m.nObs
}

// Summary describes a fitted model.
type Summary struct {
	Order     Order
	ARCoeffs  []float64
	MACoeffs  []float64
	Intercept float64
	Variance  float64
	AIC       float64
	AICc      float64
	BIC       float64
	LogLik    float64
	NObs      int
	LjungBox  *stats.LjungBoxResult
}

// Summary returns a summary of the fitted model, or nil before Fit.
func (m *Model) Summary() *Summary {
	if !m.fitted {
		return nil
	}
	return &Summary{
		Order:     m.Order,
		ARCoeffs:  append([]float64(nil), m.ARCoeffs...),
		MACoeffs:  append([]float64(nil), m.MACoeffs...),
		Intercept: m.Intercept,
		Variance:  m.Variance,
		AIC:       m.AIC,
		AICc:      m.AICc,
		BIC:       m.BIC,
		LogLik:    m.LogLik,
		NObs:      m.nObs,
		LjungBox:  stats.LjungBox(m.Residuals(), 10, m.Order.P+m.Order.Q),
	}
}

// yuleWalker estimates AR coefficients from autocorrelations with the
// Levinson-Durbin recursion.
func yuleWalker(acf []float64, order int) []float64 {
	if order <= 0 || len(acf) <= order {
		return nil
	}

	phi := make([]float64, order)
	phi[0] = acf[1]
	v := 1 - phi[0]*phi[0]
	for i := 1; i < order && v > 0; i++ {
		lambda := acf[i+1]
		for j := 0; j < i; j++ {
			lambda -= phi[j] * acf[i-j]
		}
		lambda /= v

		next := make([]float64, i+1)
		for j := 0; j < i; j++ {
			next[j] = phi[j] - lambda*phi[i-1-j]
		}
		next[i] = lambda
		copy(phi, next)
		v *= 1 - lambda*lambda
	}
	return phi
}

func clampCoeff(c float64) float64 {
	return math.Max(-coeffBound, math.Min(coeffBound, c))
}

func mean(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func difference(values []float64) []float64 {
	out := make([]float64, len(values)-1)
	for i := 1; i < len(values); i++ {
		out[i-1] = values[i] - values[i-1]
	}
	return out
}
