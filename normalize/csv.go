package normalize

import (
	"encoding/csv"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/m-mizutani/goerr/v2"

	"github.com/anita2210/flu-forecast-hub/ili"
)

// CSVOptions holds options for reading raw rows from CSV.
type CSVOptions struct {
	Delimiter rune // default ','
	SkipRows  int  // lines before the header, e.g. 1 for CDC ILINet files
}

// DefaultCSVOptions returns default options for CSV reading.
func DefaultCSVOptions() *CSVOptions {
	return &CSVOptions{Delimiter: ','}
}

// missing-value markers dropped from rows so the normalizer sees no value
var naMarkers = map[string]bool{"": true, "NA": true, "NaN": true, "null": true, "X": true}

// ReadCSVFile reads raw rows from a header-first CSV file.
func ReadCSVFile(filename string, opts *CSVOptions) ([]ili.RawRow, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open CSV file", goerr.V("file", filename))
	}
	defer f.Close()

	rows, err := ReadCSV(f, opts)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read CSV file", goerr.V("file", filename))
	}
	return rows, nil
}

// ReadCSV reads raw rows keyed by header name. Values stay strings; typing is
// left to the Normalizer.
func ReadCSV(r io.Reader, opts *CSVOptions) ([]ili.RawRow, error) {
	if opts == nil {
		opts = DefaultCSVOptions()
	}

	reader := csv.NewReader(r)
	if opts.Delimiter != 0 {
		reader.Comma = opts.Delimiter
	}
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	for i := 0; i < opts.SkipRows; i++ {
		if _, err := reader.Read(); err != nil {
			return nil, err
		}
	}

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("CSV has no header row")
		}
		return nil, err
	}
	for i, h := range header {
		header[i] = strings.TrimSpace(strings.Trim(h, "\""))
	}

	var rows []ili.RawRow
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		row := make(ili.RawRow, len(header))
		for i, name := range header {
			if i >= len(record) {
				break
			}
			v := strings.TrimSpace(record[i])
			if naMarkers[v] {
				continue
			}
			row[name] = v
		}
		rows = append(rows, row)
	}
	return rows, nil
}
