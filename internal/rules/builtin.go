package rules

import (
	"math"
	"strconv"
)

type NullRateRule struct {
	Threshold float64
}

func (NullRateRule) Name() string { return AlertNullRate }
func (NullRateRule) Scope() Scope { return ScopeField }

func (r NullRateRule) Evaluate(in Input) ([]Finding, error) {
	st := in.Current
	if st == nil || st.RowCount == 0 {
		return nil, nil
	}
	rate := float64(st.NullCount) / float64(st.RowCount)
	if rate <= r.Threshold {
		return nil, nil
	}
	sev := SeverityWarning
	if st.NullCount == st.RowCount {
		sev = SeverityCritical
	}
	return []Finding{{
		AlertType: AlertNullRate,
		Severity:  sev,
		Details: &NullRateDetails{
			NullCount: st.NullCount,
			RowCount:  st.RowCount,
			NullRate:  rate,
			Threshold: r.Threshold,
		},
	}}, nil
}

// RowCountGapRule compares a table's row count with the rolling mean of
// its previous Window snapshots.
type RowCountGapRule struct {
	MaxRelativeGap float64
	Window         int
}

func (RowCountGapRule) Name() string { return AlertRowCountGap }
func (RowCountGapRule) Scope() Scope { return ScopeTable }

func (r RowCountGapRule) Evaluate(in Input) ([]Finding, error) {
	history := in.TableRowHistory
	if r.Window > 0 && len(history) > r.Window {
		history = history[:r.Window]
	}
	if len(history) == 0 {
		return nil, nil
	}

	var sum float64
	for _, n := range history {
		sum += float64(n)
	}
	baseline := sum / float64(len(history))
	if baseline == 0 {
		return nil, nil
	}

	gap := math.Abs(float64(in.TableRowCount)-baseline) / baseline
	if gap <= r.MaxRelativeGap {
		return nil, nil
	}
	sev := SeverityWarning
	if in.TableRowCount == 0 {
		sev = SeverityCritical
	}
	return []Finding{{
		AlertType: AlertRowCountGap,
		Severity:  sev,
		Details: &RowCountGapDetails{
			RowCount:       in.TableRowCount,
			Baseline:       baseline,
			RelativeGap:    gap,
			MaxRelativeGap: r.MaxRelativeGap,
			Window:         r.Window,
			HistoryDays:    len(history),
		},
	}}, nil
}

// ZScoreRule checks the sampled extremes against mean +/- K standard
// deviations. Fields without a defined std_dev are skipped.
type ZScoreRule struct {
	K float64
}

func (ZScoreRule) Name() string { return AlertZScoreOutlier }
func (ZScoreRule) Scope() Scope { return ScopeField }

func (r ZScoreRule) Evaluate(in Input) ([]Finding, error) {
	st := in.Current
	if st == nil || st.Mean == nil || st.StdDev == nil || *st.StdDev <= 0 {
		return nil, nil
	}
	mean, std := *st.Mean, *st.StdDev

	var best *ZScoreDetails
	for _, b := range []struct {
		name string
		raw  *string
	}{{"max", st.Max}, {"min", st.Min}} {
		if b.raw == nil {
			continue
		}
		v, err := strconv.ParseFloat(*b.raw, 64)
		if err != nil {
			continue
		}
		z := (v - mean) / std
		if best == nil || math.Abs(z) > math.Abs(best.ZScore) {
			best = &ZScoreDetails{Bound: b.name, Value: v, Mean: mean, StdDev: std, ZScore: z, K: r.K}
		}
	}
	if best == nil || math.Abs(best.ZScore) <= r.K {
		return nil, nil
	}
	return []Finding{{AlertType: AlertZScoreOutlier, Severity: SeverityWarning, Details: best}}, nil
}
