// Package stats provides the statistical tests behind ARIMA order selection
// and residual diagnostics.
//
// # Stationarity
//
//	// H0: unit root
//	adf := stats.ADF(values, 0)
//
//	// H0: level stationary
//	kpss := stats.KPSS(values, 0)
//
//	d := stats.NDiffs(values, 1)
//
// # Residual Diagnostics
//
//	lb := stats.LjungBox(residuals, 10, p+q)
//	if lb != nil && lb.PValue > 0.05 {
//	    // residuals look like white noise
//	}
//	dw, ok := stats.DurbinWatson(residuals)
//
// # Information Criteria
//
//	ic := stats.CalculateIC(logLik, n, p+q+1)
package stats
