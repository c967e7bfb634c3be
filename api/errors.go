package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/m-mizutani/ctxlog"

	"github.com/anita2210/flu-forecast-hub/ili"
)

// requestError is a malformed request detected by a handler.
type requestError struct {
	status int
	code   string
	msg    string
}

func (e *requestError) Error() string { return e.msg }

func badRequest(msg string) error {
	return &requestError{status: http.StatusBadRequest, code: "bad_request", msg: msg}
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Status string    `json:"status"`
	Error  errorBody `json:"error"`
}

// classify maps an error onto an HTTP status and a stable code.
func classify(err error) (int, string) {
	var (
		reqErr *requestError
		valErr *ili.ValidationError
		gapErr *ili.DataGapError
		fitErr *ili.FitError
		fcErr  *ili.ForecastError
	)
	switch {
	case errors.As(err, &reqErr):
		return reqErr.status, reqErr.code
	case errors.As(err, &valErr):
		return http.StatusBadRequest, string(valErr.Reason)
	case errors.Is(err, ili.ErrInvalidRange):
		return http.StatusBadRequest, "invalid_range"
	case errors.Is(err, ili.ErrInvalidThresholds):
		return http.StatusBadRequest, "invalid_thresholds"
	case errors.As(err, &fcErr):
		if fcErr.Reason == ili.ForecastStaleModel {
			return http.StatusConflict, string(fcErr.Reason)
		}
		return http.StatusBadRequest, string(fcErr.Reason)
	case errors.Is(err, ili.ErrUnknownRegion):
		return http.StatusNotFound, "unknown_region"
	case errors.As(err, &gapErr):
		return http.StatusUnprocessableEntity, "data_gap"
	case errors.As(err, &fitErr):
		return http.StatusUnprocessableEntity, string(fitErr.Reason)
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		ctxlog.From(r.Context()).Error("request failed", slog.Any("error", err))
		msg = "internal error"
	}
	writeJSON(w, r, status, errorResponse{Status: "error", Error: errorBody{Code: code, Message: msg}})
}
