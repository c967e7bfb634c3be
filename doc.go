// Package fluhub ingests weekly influenza-like illness (ILI) surveillance
// data, keeps it as versioned regional series and forecasts it with ARIMA
// models.
//
// # Pipeline
//
// Raw rows from CDC-style feeds or CSV files are validated by package
// normalize, stored by package store (in memory, optionally backed by
// Postgres), fitted by package fitter over a fixed (p,d,q) grid and turned
// into bounded forecasts with prediction intervals by package forecast.
// Package summary computes descriptive statistics and severity histograms.
// Package hub ties them together behind plain DTOs, served over HTTP by
// package api and used by the fluhub command in cmd/fluhub.
//
// # Quick Start
//
// Forecast eight weeks of the built-in sample series:
//
//	fluhub forecast --sample --horizon 8
//
// Serve the API with data from a CDC ILINet download:
//
//	fluhub serve --file ILINet.csv --skip-rows 1
//
// Write the dashboard CSV files:
//
//	fluhub export --sample --dir dashboard_data
//
// # Modelling
//
// The numerical packages arima, stats and timeseries have no dependency on
// the rest of the module and can be used on their own:
//
//	series := timeseries.New(values)
//	model := arima.New(1, 0, 1)
//	if err := model.Fit(series); err != nil {
//		return err
//	}
//	point, lower, upper, _ := model.PredictWithInterval(8, 0.95)
//
// Every fitted model records the data version it was fitted on. A forecast
// is only produced from a model whose version matches the store, so a write
// between fit and query triggers a refit rather than a stale answer.
package fluhub
