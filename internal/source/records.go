package source

import (
	"encoding/csv"
	"errors"
	"io"
	"iter"
	"strconv"
	"strings"
	"time"
)

// SampleSize bounds how many data rows discovery reads to infer a dtype.
const SampleSize = 1000

// recordReader returns the next record or io.EOF.
type recordReader func() ([]string, error)

func csvRecords(r io.Reader) recordReader {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	return cr.Read
}

// describeRecords reads the header and up to SampleSize rows and returns the
// inferred fields.
func describeRecords(next recordReader) ([]DiscoveredField, int, error) {
	header, err := next()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, 0, headerError("missing header row")
		}
		return nil, 0, err
	}

	names := make([]string, len(header))
	seen := map[string]bool{}
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if h == "" {
			return nil, 0, headerError("empty column name at position " + strconv.Itoa(i+1))
		}
		if seen[h] {
			return nil, 0, headerError("duplicate column name " + strconv.Quote(h))
		}
		seen[h] = true
		names[i] = h
	}

	samples := make([][]string, len(names))
	sampled := 0
	for sampled < SampleSize {
		rec, err := next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, 0, err
		}
		for i := range names {
			if i < len(rec) {
				samples[i] = append(samples[i], rec[i])
			}
		}
		sampled++
	}

	fields := make([]DiscoveredField, 0, len(names))
	for i, name := range names {
		dtype := InferType(samples[i])
		nulls := 0
		for _, s := range samples[i] {
			if strings.TrimSpace(s) == "" {
				nulls++
			}
		}
		nulls += sampled - len(samples[i])
		fields = append(fields, DiscoveredField{
			Name:     name,
			DataType: dtype,
			Metadata: map[string]any{
				"position":       i + 1,
				"original_dtype": dtype,
				"sample_size":    sampled,
				"sample_nulls":   nulls,
			},
		})
	}
	return fields, sampled, nil
}

// columnIndex reads the header and locates field.
func columnIndex(next recordReader, field string) (int, error) {
	header, err := next()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return -1, headerError("missing header row")
		}
		return -1, err
	}
	for i, h := range header {
		if strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")) == field {
			return i, nil
		}
	}
	return -1, errMissingColumn
}

var errMissingColumn = errors.New("column not found")

type headerError string

func (e headerError) Error() string { return string(e) }

// columnValues streams column idx of the remaining records. Empty cells and
// short rows yield nil.
func columnValues(next recordReader, idx int, onErr func(error) error) iter.Seq2[any, error] {
	return func(yield func(any, error) bool) {
		for {
			rec, err := next()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(nil, onErr(err))
				return
			}
			var v any
			if idx < len(rec) && strings.TrimSpace(rec[idx]) != "" {
				v = rec[idx]
			}
			if !yield(v, nil) {
				return
			}
		}
	}
}

func isParseError(err error) bool {
	var pe *csv.ParseError
	return errors.As(err, &pe)
}

var datetimeLayouts = []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02T15:04:05"}

// InferType classifies string samples. Blank samples are ignored; a column
// with no non-blank sample is a string.
func InferType(samples []string) string {
	isInt, isFloat, isBool, isDate, isDatetime := true, true, true, true, true
	seen := 0
	for _, raw := range samples {
		s := strings.TrimSpace(raw)
		if s == "" {
			continue
		}
		seen++
		if isInt {
			if _, err := strconv.ParseInt(s, 10, 64); err != nil {
				isInt = false
			}
		}
		if isFloat {
			if _, err := strconv.ParseFloat(s, 64); err != nil {
				isFloat = false
			}
		}
		if isBool {
			switch strings.ToLower(s) {
			case "true", "false":
			default:
				isBool = false
			}
		}
		if isDate {
			if _, err := time.Parse("2006-01-02", s); err != nil {
				isDate = false
			}
		}
		if isDatetime {
			ok := false
			for _, layout := range datetimeLayouts {
				if _, err := time.Parse(layout, s); err == nil {
					ok = true
					break
				}
			}
			isDatetime = ok
		}
	}

	switch {
	case seen == 0:
		return "string"
	case isInt:
		return "integer"
	case isFloat:
		return "double"
	case isBool:
		return "boolean"
	case isDate:
		return "date"
	case isDatetime:
		return "datetime"
	}
	return "string"
}
