package ili

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidRange is returned for windows whose start is after their end
	// and for non-positive point counts.
	ErrInvalidRange = errors.New("invalid range")
	// ErrInvalidThresholds is returned when severity cut points are not
	// finite and strictly increasing.
	ErrInvalidThresholds = errors.New("invalid thresholds")
	// ErrUnknownRegion is returned when a region has no stored points.
	ErrUnknownRegion = errors.New("unknown region")
)

// ValidationReason classifies a rejected raw row.
type ValidationReason string

const (
	ReasonMissingField  ValidationReason = "missing_field"
	ReasonBadValue      ValidationReason = "bad_value"
	ReasonOutOfRange    ValidationReason = "out_of_range"
	ReasonBadDate       ValidationReason = "bad_date"
	ReasonMissingRegion ValidationReason = "missing_region"
)

// ValidationError reports why a single raw row could not be normalized.
type ValidationError struct {
	Reason  ValidationReason
	Field   string
	Value   any
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed (%s): %s", e.Reason, e.Message)
	}
	return fmt.Sprintf("validation failed (%s) on %s: %s", e.Reason, e.Field, e.Message)
}

// DataGapError reports a run of missing weeks longer than the store will
// interpolate. Refetching the data is the only remedy.
type DataGapError struct {
	Region       string
	After        time.Time // last date before the gap
	Before       time.Time // first date after the gap
	MissingWeeks int
	MaxGapWeeks  int
}

func (e *DataGapError) Error() string {
	return fmt.Sprintf("data gap in %s: %d missing weeks between %s and %s (max %d)",
		e.Region, e.MissingWeeks, e.After.Format(time.DateOnly), e.Before.Format(time.DateOnly), e.MaxGapWeeks)
}

// FitReason classifies a failed model fit.
type FitReason string

const (
	FitInsufficientData FitReason = "insufficient_data"
	FitDegenerate       FitReason = "degenerate"
)

// FitError reports that no model could be fitted. Retrying with the same
// snapshot gives the same result.
type FitError struct {
	Reason FitReason
	Region string
	Have   int
	Need   int
	Err    error
}

func (e *FitError) Error() string {
	switch e.Reason {
	case FitInsufficientData:
		return fmt.Sprintf("fit %s: insufficient data: have %d points, need %d", e.Region, e.Have, e.Need)
	default:
		if e.Err != nil {
			return fmt.Sprintf("fit %s: %s: %v", e.Region, e.Reason, e.Err)
		}
		return fmt.Sprintf("fit %s: %s", e.Region, e.Reason)
	}
}

func (e *FitError) Unwrap() error { return e.Err }

// ForecastReason classifies a refused forecast request.
type ForecastReason string

const (
	ForecastInvalidHorizon ForecastReason = "invalid_horizon"
	ForecastStaleModel     ForecastReason = "stale_model"
)

// ForecastError reports a misuse of the forecast generator or a model that
// no longer matches the store.
type ForecastError struct {
	Reason  ForecastReason
	Horizon int
	Max     int
	// Model and current store versions, set for stale_model.
	ModelVersion   uint64
	CurrentVersion uint64
}

func (e *ForecastError) Error() string {
	if e.Reason == ForecastStaleModel {
		return fmt.Sprintf("stale model: fitted at version %d, store at %d", e.ModelVersion, e.CurrentVersion)
	}
	return fmt.Sprintf("invalid horizon %d: must be between 1 and %d", e.Horizon, e.Max)
}

// IsValidation reports whether err carries a ValidationError with reason r.
func IsValidation(err error, r ValidationReason) bool {
	var ve *ValidationError
	return errors.As(err, &ve) && ve.Reason == r
}

// IsFit reports whether err carries a FitError with reason r.
func IsFit(err error, r FitReason) bool {
	var fe *FitError
	return errors.As(err, &fe) && fe.Reason == r
}

// IsForecast reports whether err carries a ForecastError with reason r.
func IsForecast(err error, r ForecastReason) bool {
	var fe *ForecastError
	return errors.As(err, &fe) && fe.Reason == r
}
