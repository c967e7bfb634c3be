// Package normalize turns raw surveillance rows into validated observation
// records.
package normalize

import (
	"errors"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"

	"github.com/anita2210/flu-forecast-hub/ili"
)

// MaxRegionLength bounds canonical region codes.
const MaxRegionLength = 64

type validatorSvc struct {
	validate   *validator.Validate
	translator ut.Translator
}

var (
	vOnce sync.Once
	vSvc  *validatorSvc
)

func getValidator() *validatorSvc {
	vOnce.Do(func() {
		enLoc := en.New()
		uni := ut.New(enLoc, enLoc)
		trans, _ := uni.GetTranslator("en")

		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			tag := fld.Tag.Get("json")
			if idx := strings.Index(tag, ","); idx >= 0 {
				tag = tag[:idx]
			}
			if tag == "" || tag == "-" {
				return fld.Name
			}
			return tag
		})
		_ = en_translations.RegisterDefaultTranslations(v, trans)

		vSvc = &validatorSvc{validate: v, translator: trans}
	})
	return vSvc
}

// candidate is a coerced row awaiting validation.
type candidate struct {
	Region string  `json:"region" validate:"required,max=64"`
	ILI    float64 `json:"ili_percentage" validate:"gte=0,lte=100"`
}

// Normalizer validates raw rows. It is safe for concurrent use.
type Normalizer struct {
	defaultRegion string
	now           func() time.Time
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithDefaultRegion sets the region used when a row carries none.
func WithDefaultRegion(region string) Option {
	return func(n *Normalizer) {
		n.defaultRegion = CanonicalRegion(region)
	}
}

// WithClock overrides the source of ingest timestamps.
func WithClock(now func() time.Time) Option {
	return func(n *Normalizer) {
		n.now = now
	}
}

// New creates a Normalizer.
func New(opts ...Option) *Normalizer {
	n := &Normalizer{now: time.Now}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Normalize validates one row. The error is always a *ili.ValidationError.
func (n *Normalizer) Normalize(row ili.RawRow) (ili.ObservationRecord, error) {
	rec, verr := n.normalize(row, n.now().UTC())
	if verr != nil {
		return ili.ObservationRecord{}, verr
	}
	return rec, nil
}

func (n *Normalizer) normalize(row ili.RawRow, now time.Time) (ili.ObservationRecord, *ili.ValidationError) {
	fields := canonicalRow(row)

	weekStart, verr := parseWeekStart(fields)
	if verr != nil {
		return ili.ObservationRecord{}, verr
	}

	key, raw, ok := lookup(fields, iliKeys)
	if !ok {
		return ili.ObservationRecord{}, &ili.ValidationError{
			Reason:  ili.ReasonMissingField,
			Field:   "ili_percentage",
			Message: "missing ILI value",
		}
	}
	value, err := parseNumber(raw)
	if err != nil {
		return ili.ObservationRecord{}, &ili.ValidationError{Reason: ili.ReasonBadValue, Field: key, Value: raw, Message: err.Error()}
	}

	region := n.defaultRegion
	if _, rv, ok := lookup(fields, regionKeys); ok {
		s, isStr := rv.(string)
		if !isStr {
			return ili.ObservationRecord{}, &ili.ValidationError{Reason: ili.ReasonBadValue, Field: "region", Value: rv, Message: "region must be a string"}
		}
		region = CanonicalRegion(s)
	}

	ingested := now
	if ik, iv, ok := lookup(fields, ingestKeys); ok {
		t, err := parseTime(iv)
		if err != nil {
			return ili.ObservationRecord{}, &ili.ValidationError{Reason: ili.ReasonBadDate, Field: ik, Value: iv, Message: err.Error()}
		}
		ingested = t.UTC()
	}

	if verr := validateCandidate(candidate{Region: region, ILI: value}); verr != nil {
		if verr.Field == "ili_percentage" {
			verr.Field, verr.Value = key, value
		} else {
			verr.Value = region
		}
		return ili.ObservationRecord{}, verr
	}

	return ili.ObservationRecord{
		WeekStart:  weekStart,
		ILI:        value,
		Region:     region,
		IngestedAt: ingested,
	}, nil
}

func validateCandidate(c candidate) *ili.ValidationError {
	svc := getValidator()
	err := svc.validate.Struct(c)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return &ili.ValidationError{Reason: ili.ReasonBadValue, Message: err.Error()}
	}

	fe := fieldErrs[0]
	verr := &ili.ValidationError{Field: fe.Field(), Message: fe.Translate(svc.translator)}
	switch {
	case fe.Field() == "region" && fe.Tag() == "required":
		verr.Reason = ili.ReasonMissingRegion
	case fe.Tag() == "gte" || fe.Tag() == "lte":
		verr.Reason = ili.ReasonOutOfRange
	default:
		verr.Reason = ili.ReasonBadValue
	}
	return verr
}

// Rejection is a row that failed validation.
type Rejection struct {
	Index int
	Row   ili.RawRow
	Err   *ili.ValidationError
}

// Batch is the outcome of NormalizeBatch.
type Batch struct {
	Accepted []ili.ObservationRecord
	Rejected []Rejection
}

// NormalizeBatch validates rows independently. Rows without their own ingest
// timestamp share one taken at the start of the batch.
func (n *Normalizer) NormalizeBatch(rows []ili.RawRow) Batch {
	now := n.now().UTC()
	b := Batch{Accepted: make([]ili.ObservationRecord, 0, len(rows))}
	for i, row := range rows {
		rec, verr := n.normalize(row, now)
		if verr != nil {
			b.Rejected = append(b.Rejected, Rejection{Index: i, Row: row, Err: verr})
			continue
		}
		b.Accepted = append(b.Accepted, rec)
	}
	return b
}
