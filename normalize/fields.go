package normalize

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/anita2210/flu-forecast-hub/ili"
	"github.com/anita2210/flu-forecast-hub/timeseries"
)

// Aliases seen in CDC ILINet exports and in the feed, after CanonicalHeader.
var (
	dateKeys   = []string{"week_start_date", "week_start", "date", "ds"}
	iliKeys    = []string{"ili_percentage", "weighted_ili", "wili", "percentage_weighted_ili", "ili"}
	regionKeys = []string{"region", "region_code"}
	ingestKeys = []string{"source_ingest_timestamp", "ingested_at"}
)

var dateLayouts = []string{
	time.DateOnly,
	"2006/01/02",
	"01/02/2006",
	time.RFC3339,
	"2006-01-02T15:04:05",
}

var errEmpty = errors.New("empty value")

// CanonicalHeader lower-cases and trims a column name, turns spaces into
// '_' and '%' into "percentage": "% WEIGHTED ILI" becomes
// "percentage_weighted_ili".
func CanonicalHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(strings.Trim(h, "\"")))
	h = strings.ReplaceAll(h, "%", "percentage ")
	return strings.Join(strings.Fields(h), "_")
}

func canonicalRow(row ili.RawRow) map[string]any {
	out := make(map[string]any, len(row))
	for k, v := range row {
		out[CanonicalHeader(k)] = v
	}
	return out
}

// lookup returns the first present, non-blank alias.
func lookup(fields map[string]any, keys []string) (string, any, bool) {
	for _, k := range keys {
		v, ok := fields[k]
		if !ok || v == nil {
			continue
		}
		if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
			continue
		}
		return k, v, true
	}
	return "", nil, false
}

// parseNumber accepts numeric kinds, json.Number and numeric strings with an
// optional trailing '%'.
func parseNumber(v any) (float64, error) {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int8:
		f = float64(x)
	case int16:
		f = float64(x)
	case int32:
		f = float64(x)
	case int64:
		f = float64(x)
	case uint:
		f = float64(x)
	case uint8:
		f = float64(x)
	case uint16:
		f = float64(x)
	case uint32:
		f = float64(x)
	case uint64:
		f = float64(x)
	case decimal.Decimal:
		f = x.InexactFloat64()
	case json.Number:
		d, err := decimal.NewFromString(x.String())
		if err != nil {
			return 0, err
		}
		f = d.InexactFloat64()
	case string:
		s := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(x), "%"))
		if s == "" {
			return 0, errEmpty
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return 0, err
		}
		f = d.InexactFloat64()
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("non-finite value %v", f)
	}
	return f, nil
}

func parseInt(v any) (int, error) {
	if s, ok := v.(string); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return n, nil
		}
	}
	f, err := parseNumber(v)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) {
		return 0, fmt.Errorf("%v is not an integer", f)
	}
	return int(f), nil
}

func parseTime(v any) (time.Time, error) {
	switch x := v.(type) {
	case time.Time:
		if x.IsZero() {
			return time.Time{}, errEmpty
		}
		return x, nil
	case string:
		s := strings.TrimSpace(x)
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, nil
			}
		}
		return time.Time{}, fmt.Errorf("unrecognized date %q", s)
	default:
		return time.Time{}, fmt.Errorf("unsupported date type %T", v)
	}
}

// parseWeekStart reads a date field or a year/week pair and returns the
// Monday of that week.
func parseWeekStart(fields map[string]any) (time.Time, *ili.ValidationError) {
	if key, v, ok := lookup(fields, dateKeys); ok {
		t, err := parseTime(v)
		if err != nil {
			return time.Time{}, &ili.ValidationError{Reason: ili.ReasonBadDate, Field: key, Value: v, Message: err.Error()}
		}
		return timeseries.MondayOf(t), nil
	}

	_, yv, hasYear := lookup(fields, []string{"year"})
	_, wv, hasWeek := lookup(fields, []string{"week"})
	if !hasYear || !hasWeek {
		return time.Time{}, &ili.ValidationError{Reason: ili.ReasonBadDate, Field: "week_start_date", Message: "missing date"}
	}
	year, err := parseInt(yv)
	if err != nil {
		return time.Time{}, &ili.ValidationError{Reason: ili.ReasonBadDate, Field: "year", Value: yv, Message: err.Error()}
	}
	weekNum, err := parseInt(wv)
	if err != nil {
		return time.Time{}, &ili.ValidationError{Reason: ili.ReasonBadDate, Field: "week", Value: wv, Message: err.Error()}
	}
	monday, err := timeseries.MondayOfWeek(year, weekNum)
	if err != nil {
		return time.Time{}, &ili.ValidationError{Reason: ili.ReasonBadDate, Field: "week", Value: wv, Message: err.Error()}
	}
	return monday, nil
}
