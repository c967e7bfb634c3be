package stats

import "math"

// NDiffs estimates how many first differences (at most maxD) make values
// stationary, using KPSS and falling back to ADF when KPSS cannot run.
func NDiffs(values []float64, maxD int) int {
	if maxD <= 0 {
		return 0
	}
	current := values
	for d := 0; d < maxD; d++ {
		res := KPSS(current, 0)
		if res == nil {
			res = ADF(current, 0)
		}
		if res == nil || res.IsStationary {
			return d
		}
		current = diff(current)
	}
	return maxD
}

// InformationCriteria holds the likelihood-based fit scores of a model.
type InformationCriteria struct {
	AIC    float64
	AICc   float64
	BIC    float64
	LogLik float64
}

// CalculateIC derives AIC, AICc and BIC from a log-likelihood fitted with
// nParams parameters over nObs observations. AICc is +Inf when nObs is too
// small for the correction.
func CalculateIC(logLik float64, nObs, nParams int) InformationCriteria {
	k := float64(nParams)
	n := float64(nObs)

	aic := -2*logLik + 2*k
	ic := InformationCriteria{
		AIC:    aic,
		AICc:   math.Inf(1),
		BIC:    -2*logLik + k*math.Log(n),
		LogLik: logLik,
	}
	if n-k-1 > 0 {
		ic.AICc = aic + 2*k*(k+1)/(n-k-1)
	}
	return ic
}
