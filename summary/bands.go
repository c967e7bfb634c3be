package summary

import (
	"fmt"
	"math"
	"os"
	"sort"

	"github.com/m-mizutani/goerr/v2"
	"gopkg.in/yaml.v3"

	"github.com/anita2210/flu-forecast-hub/ili"
)

// Bands are severity cut points. Band i holds values in
// [Thresholds[i-1], Thresholds[i]); the first band is unbounded below and
// the last unbounded above, so there are len(Thresholds)+1 bands.
type Bands struct {
	Thresholds []float64 `yaml:"thresholds" json:"thresholds"`
	Labels     []string  `yaml:"labels" json:"labels,omitempty"`
}

// DefaultBands is the CDC-style ILI severity classification.
func DefaultBands() Bands {
	return Bands{
		Thresholds: []float64{2, 4, 6},
		Labels:     []string{"Low", "Moderate", "High", "Very High"},
	}
}

// Validate checks that thresholds are finite and strictly increasing and
// that labels, when given, name every band.
func (b Bands) Validate() error {
	for i, t := range b.Thresholds {
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return goerr.Wrap(ili.ErrInvalidThresholds, "threshold is not finite", goerr.V("index", i))
		}
		if i > 0 && t <= b.Thresholds[i-1] {
			return goerr.Wrap(ili.ErrInvalidThresholds, "thresholds must be strictly increasing",
				goerr.V("index", i), goerr.V("thresholds", b.Thresholds))
		}
	}
	if len(b.Labels) > 0 && len(b.Labels) != len(b.Thresholds)+1 {
		return goerr.Wrap(ili.ErrInvalidThresholds, "need one label per band",
			goerr.V("labels", len(b.Labels)), goerr.V("bands", len(b.Thresholds)+1))
	}
	return nil
}

// Classify returns the band index of v.
func (b Bands) Classify(v float64) int {
	return sort.Search(len(b.Thresholds), func(i int) bool { return v < b.Thresholds[i] })
}

// Label returns the label of band i.
func (b Bands) Label(i int) string {
	if i >= 0 && i < len(b.Labels) {
		return b.Labels[i]
	}
	return fmt.Sprintf("band %d", i)
}

// Severity is the label of the band holding v.
func (b Bands) Severity(v float64) string {
	return b.Label(b.Classify(v))
}

// ParseBands decodes and validates bands from YAML.
func ParseBands(data []byte) (Bands, error) {
	var b Bands
	if err := yaml.Unmarshal(data, &b); err != nil {
		return Bands{}, goerr.Wrap(err, "failed to parse severity bands")
	}
	if err := b.Validate(); err != nil {
		return Bands{}, err
	}
	return b, nil
}

// LoadBands reads bands from a YAML file.
func LoadBands(path string) (Bands, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Bands{}, goerr.Wrap(err, "failed to read severity bands", goerr.V("path", path))
	}
	return ParseBands(data)
}
