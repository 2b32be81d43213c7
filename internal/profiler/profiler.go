// Package profiler computes per-field statistics snapshots from row streams.
package profiler

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"math"
	"strconv"
	"strings"
	"time"

	"dq-engine/internal/catalog"
	"dq-engine/internal/metrics"

	"github.com/axiomhq/hyperloglog"
	"gorm.io/datatypes"
)

const (
	DefaultExactDistinctLimit = 100_000

	EstimatorExact       = "exact"
	EstimatorHyperLogLog = "hyperloglog"
)

// RowCheck counts values for which Violates returns true. Key identifies the
// check in Snapshot.ConstraintViolations.
type RowCheck struct {
	Key      string
	Violates func(v any) bool
}

type Snapshot struct {
	RowCount            int64
	NullCount           int64
	DistinctCount       int64
	DistinctApproximate bool
	Numeric             bool
	NonNumericCount     int64
	Min                 *float64
	Max                 *float64
	Mean                *float64
	StdDev              *float64
	// nil when no checks were given
	ConstraintViolations map[string]int64
}

func (s *Snapshot) NonNullCount() int64 { return s.RowCount - s.NullCount }

func (s *Snapshot) Extras() datatypes.JSONMap {
	estimator := EstimatorExact
	if s.DistinctApproximate {
		estimator = EstimatorHyperLogLog
	}
	extras := datatypes.JSONMap{
		"distinct_approximate": s.DistinctApproximate,
		"distinct_estimator":   estimator,
		"non_null_count":       s.NonNullCount(),
	}
	if s.Numeric {
		extras["non_numeric_count"] = s.NonNumericCount
	}
	if s.ConstraintViolations != nil {
		v := make(map[string]any, len(s.ConstraintViolations))
		for k, n := range s.ConstraintViolations {
			v[k] = n
		}
		extras["constraint_violations"] = v
	}
	return extras
}

func (s *Snapshot) ToFieldStats(fieldID uint, statDate time.Time) catalog.FieldStats {
	return catalog.FieldStats{
		FieldID:       fieldID,
		StatDate:      catalog.StatDay(statDate),
		RowCount:      s.RowCount,
		NullCount:     s.NullCount,
		DistinctCount: s.DistinctCount,
		Min:           formatNumber(s.Min),
		Max:           formatNumber(s.Max),
		Mean:          s.Mean,
		StdDev:        s.StdDev,
		Extras:        s.Extras(),
	}
}

type Profiler struct {
	ExactDistinctLimit int
}

func New(exactDistinctLimit int) *Profiler {
	if exactDistinctLimit <= 0 {
		exactDistinctLimit = DefaultExactDistinctLimit
	}
	return &Profiler{ExactDistinctLimit: exactDistinctLimit}
}

// Profile consumes values once. Numeric aggregates are accumulated in a
// single pass with Welford's method.
func (p *Profiler) Profile(ctx context.Context, values iter.Seq2[any, error], dtype string, checks ...RowCheck) (*Snapshot, error) {
	snap := &Snapshot{Numeric: catalog.IsNumericType(dtype)}
	if len(checks) > 0 {
		snap.ConstraintViolations = make(map[string]int64, len(checks))
		for _, c := range checks {
			snap.ConstraintViolations[c.Key] = 0
		}
	}

	limit := p.ExactDistinctLimit
	if limit <= 0 {
		limit = DefaultExactDistinctLimit
	}
	distinct := newDistinctCounter(limit)
	var acc welford
	var minV, maxV float64

	for v, err := range values {
		if err != nil {
			return nil, fmt.Errorf("profile: %w", err)
		}
		snap.RowCount++
		if snap.RowCount%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		for _, c := range checks {
			if c.Violates(v) {
				snap.ConstraintViolations[c.Key]++
			}
		}

		if v == nil {
			snap.NullCount++
			continue
		}

		if !snap.Numeric {
			distinct.add(ValueString(v))
			continue
		}

		x, ok := ToFloat(v)
		if !ok {
			snap.NonNumericCount++
			distinct.add(ValueString(v))
			continue
		}
		distinct.add(strconv.FormatFloat(x, 'g', -1, 64))
		if acc.n == 0 || x < minV {
			minV = x
		}
		if acc.n == 0 || x > maxV {
			maxV = x
		}
		acc.add(x)
	}

	snap.DistinctCount, snap.DistinctApproximate = distinct.count()
	if snap.DistinctApproximate {
		metrics.DistinctEstimatorSwitches.Inc()
	}

	if acc.n > 0 {
		snap.Min = &minV
		snap.Max = &maxV
		mean := acc.mean
		snap.Mean = &mean
	}
	if std, ok := acc.stdDev(); ok {
		snap.StdDev = &std
	}
	return snap, nil
}

// welford keeps a running mean and sum of squared deviations.
type welford struct {
	n    int64
	mean float64
	m2   float64
}

func (w *welford) add(x float64) {
	w.n++
	d := x - w.mean
	w.mean += d / float64(w.n)
	w.m2 += d * (x - w.mean)
}

// stdDev is the population standard deviation, undefined below two values.
func (w *welford) stdDev() (float64, bool) {
	if w.n < 2 {
		return 0, false
	}
	v := w.m2 / float64(w.n)
	if v < 0 {
		v = 0
	}
	return math.Sqrt(v), true
}

type distinctCounter struct {
	limit  int
	exact  map[string]struct{}
	sketch *hyperloglog.Sketch
}

func newDistinctCounter(limit int) *distinctCounter {
	return &distinctCounter{limit: limit, exact: map[string]struct{}{}}
}

func (d *distinctCounter) add(key string) {
	if d.sketch != nil {
		d.sketch.Insert([]byte(key))
		return
	}
	d.exact[key] = struct{}{}
	if len(d.exact) > d.limit {
		d.sketch = hyperloglog.New16()
		for k := range d.exact {
			d.sketch.Insert([]byte(k))
		}
		d.exact = nil
	}
}

func (d *distinctCounter) count() (int64, bool) {
	if d.sketch != nil {
		return int64(d.sketch.Estimate()), true
	}
	return int64(len(d.exact)), false
}

// ToFloat accepts Go numeric kinds, json.Number, and numeric strings. Non
// finite values are rejected.
func ToFloat(v any) (float64, bool) {
	var x float64
	switch n := v.(type) {
	case float64:
		x = n
	case float32:
		x = float64(n)
	case int:
		x = float64(n)
	case int8:
		x = float64(n)
	case int16:
		x = float64(n)
	case int32:
		x = float64(n)
	case int64:
		x = float64(n)
	case uint:
		x = float64(n)
	case uint8:
		x = float64(n)
	case uint16:
		x = float64(n)
	case uint32:
		x = float64(n)
	case uint64:
		x = float64(n)
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		x = f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		x = f
	case []byte:
		f, err := strconv.ParseFloat(strings.TrimSpace(string(n)), 64)
		if err != nil {
			return 0, false
		}
		x = f
	default:
		return 0, false
	}
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return 0, false
	}
	return x, true
}

// ValueString renders a non-numeric value the way distinct counting and
// constraint checks compare it.
func ValueString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	}
	return fmt.Sprint(v)
}

func formatNumber(f *float64) *string {
	if f == nil {
		return nil
	}
	s := strconv.FormatFloat(*f, 'f', -1, 64)
	return &s
}
