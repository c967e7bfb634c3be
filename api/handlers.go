package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/anita2210/flu-forecast-hub/hub"
	"github.com/anita2210/flu-forecast-hub/ili"
	"github.com/anita2210/flu-forecast-hub/normalize"
)

const statusSuccess = "success"

type handler struct {
	svc     Service
	maxBody int64
}

type healthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	hub.StatusDTO
}

type dataResponse struct {
	Status string `json:"status"`
	*hub.RecentDTO
}

type forecastResponse struct {
	Status string `json:"status"`
	*hub.ForecastDTO
}

type statsResponse struct {
	Status     string          `json:"status"`
	Statistics *hub.SummaryDTO `json:"statistics"`
}

type seasonalResponse struct {
	Status  string            `json:"status"`
	Region  string            `json:"region"`
	Seasons []hub.SeasonalDTO `json:"seasons"`
}

type weeklyResponse struct {
	Status string          `json:"status"`
	Region string          `json:"region"`
	Weeks  []hub.WeeklyDTO `json:"weeks"`
}

type ingestResponse struct {
	Status string `json:"status"`
	*hub.IngestReport
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, healthResponse{Status: "healthy", Service: "fluhub", StatusDTO: h.svc.Status(r.Context())})
}

func (h *handler) data(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit")
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.svc.Recent(r.Context(), r.URL.Query().Get("region"), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, dataResponse{Status: statusSuccess, RecentDTO: res})
}

func (h *handler) forecast(w http.ResponseWriter, r *http.Request) {
	horizon, err := intParam(r, "weeks", "horizon")
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.svc.Forecast(r.Context(), r.URL.Query().Get("region"), horizon)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, forecastResponse{Status: statusSuccess, ForecastDTO: res})
}

func (h *handler) stats(w http.ResponseWriter, r *http.Request) {
	start, err := dateParam(r, "start")
	if err != nil {
		writeError(w, r, err)
		return
	}
	end, err := dateParam(r, "end")
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.svc.Summary(r.Context(), r.URL.Query().Get("region"), start, end)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, statsResponse{Status: statusSuccess, Statistics: res})
}

func (h *handler) seasonal(w http.ResponseWriter, r *http.Request) {
	region := r.URL.Query().Get("region")
	res, err := h.svc.Seasonal(r.Context(), region)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, seasonalResponse{Status: statusSuccess, Region: h.svc.ResolveRegion(region), Seasons: res})
}

func (h *handler) weekly(w http.ResponseWriter, r *http.Request) {
	region := r.URL.Query().Get("region")
	res, err := h.svc.WeeklyAverages(r.Context(), region)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, weeklyResponse{Status: statusSuccess, Region: h.svc.ResolveRegion(region), Weeks: res})
}

// ingest accepts a JSON array of rows, an object with a "records" array, or
// a CSV document when the content type is text/csv.
func (h *handler) ingest(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, h.maxBody)
	defer body.Close()

	rows, err := decodeRows(r.Header.Get("Content-Type"), body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if len(rows) == 0 {
		writeError(w, r, badRequest("no rows in request body"))
		return
	}

	report, err := h.svc.Ingest(r.Context(), rows)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, ingestResponse{Status: statusSuccess, IngestReport: report})
}

func decodeRows(contentType string, body io.Reader) ([]ili.RawRow, error) {
	mediaType, _, _ := mime.ParseMediaType(contentType)
	if mediaType == "text/csv" {
		rows, err := normalize.ReadCSV(body, nil)
		if err != nil {
			return nil, wrapBodyError(err)
		}
		return rows, nil
	}

	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, wrapBodyError(err)
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, nil
	}

	var rows []ili.RawRow
	if raw[0] == '{' {
		var wrapped struct {
			Records []ili.RawRow `json:"records"`
		}
		if err := unmarshalNumbers(raw, &wrapped); err != nil {
			return nil, err
		}
		rows = wrapped.Records
	} else if err := unmarshalNumbers(raw, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func unmarshalNumbers(raw []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return badRequest("invalid JSON body: " + err.Error())
	}
	return nil
}

func wrapBodyError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return &requestError{status: http.StatusRequestEntityTooLarge, code: "body_too_large", msg: err.Error()}
	}
	return badRequest("invalid request body: " + err.Error())
}

// intParam returns the first present query parameter among names, or 0.
func intParam(r *http.Request, names ...string) (int, error) {
	q := r.URL.Query()
	for _, name := range names {
		s := q.Get(name)
		if s == "" {
			continue
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return 0, badRequest(name + " must be an integer")
		}
		return n, nil
	}
	return 0, nil
}

func dateParam(r *http.Request, name string) (time.Time, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, badRequest(name + " must be a YYYY-MM-DD date")
	}
	return t, nil
}
