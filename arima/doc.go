// Package arima implements non-seasonal ARIMA(p,d,q) models.
//
// An ARIMA(p,d,q) model combines:
//   - AR(p): p autoregressive lags of the differenced series
//   - I(d): d rounds of first differencing
//   - MA(q): q lagged forecast errors
//
// Parameters are estimated by conditional sum of squares starting from
// Yule-Walker estimates. Coefficients are bounded to (-0.99, 0.99).
//
// # Basic Usage
//
//	model := arima.New(1, 1, 0)
//	if err := model.Fit(series); err != nil {
//	    return err
//	}
//	fmt.Printf("%s AIC=%.2f\n", model.Order, model.AIC)
//
// # Prediction Intervals
//
// PredictWithInterval derives interval widths from the MA(inf) weights of
// the integrated model, so the widths grow with the horizon:
//
//	point, lower, upper, err := model.PredictWithInterval(8, 0.95)
//
// Use the fitter package to choose an order automatically.
package arima
