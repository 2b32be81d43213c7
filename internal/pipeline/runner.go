package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"dq-engine/internal/alert"
	"dq-engine/internal/catalog"
	"dq-engine/internal/logging"
	"dq-engine/internal/metrics"
	"dq-engine/internal/profiler"
	"dq-engine/internal/reconcile"
	"dq-engine/internal/rules"
	"dq-engine/internal/source"
	"dq-engine/internal/storage"

	"github.com/cenkalti/backoff/v5"
	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"
)

// Trigger is the entry point schedulers, the CLI and the HTTP API call.
type Trigger interface {
	RunPipeline(ctx context.Context, dataSourceID uint, runDate time.Time, opts ...RunOption) (*RunResult, error)
}

type RunOption func(*runOptions)

type runOptions struct {
	force bool
}

// WithForceReconcile applies an empty, non-confident discovery as-is.
func WithForceReconcile() RunOption {
	return func(o *runOptions) { o.force = true }
}

type RunnerConfig struct {
	StepTimeout        time.Duration
	HistoryWindow      int
	DistinctExactLimit int
	ResolveAfter       int
	RetryDelay         time.Duration
	Clock              clockwork.Clock
	Log                *slog.Logger
}

// Runner executes reconcile, profile, evaluate and persist for one data
// source, strictly in that order.
type Runner struct {
	DB         *gorm.DB
	Sources    source.Adapter
	Reconciler *reconcile.Reconciler
	Profiler   *profiler.Profiler
	Stats      *profiler.StatsStore
	Engine     *rules.Engine
	Dedup      *alert.Deduplicator
	Tracker    *Tracker

	StepTimeout   time.Duration
	HistoryWindow int
	RetryDelay    time.Duration
	Clock         clockwork.Clock
	Log           *slog.Logger
}

func NewRunner(db *gorm.DB, sources source.Adapter, engine *rules.Engine, cfg RunnerConfig) *Runner {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = 10 * time.Minute
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = 7
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 100 * time.Millisecond
	}
	log := logging.OrDefault(cfg.Log)

	return &Runner{
		DB:            db,
		Sources:       sources,
		Reconciler:    reconcile.NewReconciler(db, log),
		Profiler:      profiler.New(cfg.DistinctExactLimit),
		Stats:         profiler.NewStatsStore(db),
		Engine:        engine,
		Dedup:         alert.NewDeduplicator(cfg.Clock, cfg.ResolveAfter, log),
		Tracker:       NewTracker(db, cfg.Clock, log),
		StepTimeout:   cfg.StepTimeout,
		HistoryWindow: cfg.HistoryWindow,
		RetryDelay:    cfg.RetryDelay,
		Clock:         cfg.Clock,
		Log:           log,
	}
}

type runState struct {
	ds      catalog.DataSource
	runDate time.Time
	force   bool

	reconcile  *reconcile.Result
	tables     []tableWork
	profiled   int
	ruleErrors int
	alerts     alert.Result
}

type tableWork struct {
	table    catalog.TableMetadata
	fields   []fieldWork
	rowCount int64
	batch    alert.Batch
}

type fieldWork struct {
	field       catalog.FieldMetadata
	constraints []catalog.FieldConstraint
	unchecked   []error
	stats       catalog.FieldStats
}

// RunPipeline runs one pipeline execution. Step failures are reported in
// the result; an error is returned only when no run could be started.
func (r *Runner) RunPipeline(ctx context.Context, dataSourceID uint, runDate time.Time, opts ...RunOption) (*RunResult, error) {
	var o runOptions
	for _, opt := range opts {
		opt(&o)
	}

	var ds catalog.DataSource
	if err := r.DB.WithContext(ctx).Where("id = ? AND is_deleted = ?", dataSourceID, false).First(&ds).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDataSourceNotFound
		}
		return nil, fmt.Errorf("load data source: %w", err)
	}
	if runDate.IsZero() {
		runDate = r.Clock.Now()
	}

	p, err := r.Tracker.EnsurePipeline(ctx, ds)
	if err != nil {
		return nil, err
	}
	run, err := r.Tracker.StartRun(ctx, p, runDate)
	if err != nil {
		return nil, err
	}

	log := r.Log.With("run_id", run.ID, "data_source_id", ds.ID)
	metrics.PipelineRunsInflight.Inc()
	defer metrics.PipelineRunsInflight.Dec()
	started := r.Clock.Now()

	st := &runState{ds: ds, runDate: run.RunDate, force: o.force}
	work := map[string]func(context.Context, *runState, *PipelineStep) error{
		StepReconcile: r.reconcileStep,
		StepProfile:   r.profileStep,
		StepEvaluate:  r.evaluateStep,
		StepPersist:   r.persistStep,
	}

	for i := range run.Steps {
		step := &run.Steps[i]
		if err := ctx.Err(); err != nil {
			if ferr := r.Tracker.Fail(ctx, step, fmt.Errorf("%w before step %s: %v", errCancelled, step.Name, err)); ferr != nil {
				log.Error("record cancellation failed", "step", step.Name, "err", ferr)
			}
			log.Warn("run cancelled", "step", step.Name)
			break
		}

		fn := work[step.Name]
		err := r.Tracker.Run(ctx, step, func(ctx context.Context) error {
			stepCtx, cancel := context.WithTimeout(ctx, r.StepTimeout)
			defer cancel()
			return fn(stepCtx, st, step)
		})
		if err != nil {
			if step.Status != StepFailed {
				_ = r.Tracker.Fail(ctx, step, err)
			}
			log.Error("pipeline step failed", "step", step.Name, "error_kind", ErrorKind(err), "err", err)
			break
		}
	}

	run.AlertsCreated = st.alerts.Created
	run.AlertsUpdated = st.alerts.Updated
	run.AlertsResolved = st.alerts.Resolved
	if err := r.Tracker.FinishRun(ctx, run); err != nil {
		log.Error("finish run failed", "err", err)
	}

	res := NewRunResult(run)
	res.Reconcile = st.reconcile
	res.FieldsProfiled = st.profiled
	res.RuleErrors = st.ruleErrors

	metrics.PipelineRuns.WithLabelValues(string(res.Status)).Inc()
	metrics.PipelineRunDuration.Observe(r.Clock.Since(started).Seconds())
	log.Info("pipeline run finished",
		"status", res.Status,
		"fields_profiled", res.FieldsProfiled,
		"alerts_created", res.AlertsCreated,
		"alerts_updated", res.AlertsUpdated,
		"alerts_resolved", res.AlertsResolved,
		"rule_errors", res.RuleErrors,
	)
	return res, nil
}

func (r *Runner) reconcileStep(ctx context.Context, st *runState, step *PipelineStep) error {
	schema, err := r.Sources.Discover(ctx, st.ds)
	if err != nil {
		return err
	}
	return r.retry(ctx, step, func() error {
		res, err := r.Reconciler.Reconcile(ctx, st.ds.ID, schema, reconcile.Options{Force: st.force})
		if err != nil {
			return err
		}
		st.reconcile = res
		return nil
	})
}

func (r *Runner) profileStep(ctx context.Context, st *runState, _ *PipelineStep) error {
	db := r.DB.WithContext(ctx)

	var tables []catalog.TableMetadata
	if err := db.Where("data_source_id = ? AND is_deleted = ?", st.ds.ID, false).Order("name ASC").Find(&tables).Error; err != nil {
		return fmt.Errorf("load tables: %w", err)
	}
	tableIDs := make([]uint, len(tables))
	for i, t := range tables {
		tableIDs[i] = t.ID
	}

	var fields []catalog.FieldMetadata
	if len(tableIDs) > 0 {
		if err := db.Where("table_id IN ? AND is_deleted = ?", tableIDs, false).Order("table_id ASC, name ASC").Find(&fields).Error; err != nil {
			return fmt.Errorf("load fields: %w", err)
		}
	}
	fieldIDs := make([]uint, len(fields))
	for i, f := range fields {
		fieldIDs[i] = f.ID
	}

	var constraints []catalog.FieldConstraint
	if len(fieldIDs) > 0 {
		if err := db.Where("field_id IN ? AND is_deleted = ?", fieldIDs, false).Order("id ASC").Find(&constraints).Error; err != nil {
			return fmt.Errorf("load constraints: %w", err)
		}
	}
	byField := map[uint][]catalog.FieldConstraint{}
	for _, c := range constraints {
		byField[c.FieldID] = append(byField[c.FieldID], c)
	}

	refs, brokenRefs, err := r.referenceSets(ctx, st.ds, constraints)
	if err != nil {
		return err
	}

	byTable := map[uint][]catalog.FieldMetadata{}
	for _, f := range fields {
		byTable[f.TableID] = append(byTable[f.TableID], f)
	}

	st.tables = make([]tableWork, 0, len(tables))
	for _, t := range tables {
		tw := tableWork{table: t}
		for _, f := range byTable[t.ID] {
			cs := byField[f.ID]
			checks, unchecked := rules.Checks(cs, refs)
			for _, c := range cs {
				if refErr, ok := brokenRefs[c.Expression]; ok && c.ConstraintType == catalog.ConstraintReferential {
					unchecked = append(unchecked, fmt.Errorf("referential constraint %s: %w", c.GlobalID, refErr))
				}
			}
			for _, err := range unchecked {
				r.Log.Warn("constraint not checked", "data_source_id", st.ds.ID, "table", t.Name, "field", f.Name, "err", err)
			}
			values, err := r.Sources.Open(ctx, st.ds, t.Name, f.Name)
			if err != nil {
				return err
			}
			snap, err := r.Profiler.Profile(ctx, values, f.DataType, checks...)
			if err != nil {
				return err
			}
			tw.fields = append(tw.fields, fieldWork{field: f, constraints: cs, unchecked: unchecked, stats: snap.ToFieldStats(f.ID, st.runDate)})
			tw.rowCount = max(tw.rowCount, snap.RowCount)
			st.profiled++
		}
		st.tables = append(st.tables, tw)
	}
	return nil
}

// referenceSets loads the values of every column referenced by a
// referential constraint. Targets missing from the source land in broken;
// an unreachable source fails the step.
func (r *Runner) referenceSets(ctx context.Context, ds catalog.DataSource, constraints []catalog.FieldConstraint) (refs rules.ReferenceSets, broken map[string]error, err error) {
	refs = rules.ReferenceSets{}
	broken = map[string]error{}
	for _, target := range rules.ReferenceTargets(constraints) {
		table, field, ok := catalog.SplitReference(target)
		if !ok {
			// reported by rules.Checks
			continue
		}
		set, err := r.loadReference(ctx, ds, table, field)
		if err != nil {
			if source.IsMalformed(err) {
				broken[target] = err
				continue
			}
			return nil, nil, err
		}
		refs[target] = set
	}
	return refs, broken, nil
}

func (r *Runner) loadReference(ctx context.Context, ds catalog.DataSource, table, field string) (map[string]struct{}, error) {
	values, err := r.Sources.Open(ctx, ds, table, field)
	if err != nil {
		return nil, err
	}
	set := map[string]struct{}{}
	for v, err := range values {
		if err != nil {
			return nil, err
		}
		if v != nil {
			set[profiler.ValueString(v)] = struct{}{}
		}
	}
	return set, nil
}

func (r *Runner) evaluateStep(ctx context.Context, st *runState, _ *PipelineStep) error {
	for i := range st.tables {
		tw := &st.tables[i]
		batch := alert.Batch{DataSourceID: st.ds.ID, TableID: tw.table.ID}

		for j := range tw.fields {
			fw := &tw.fields[j]
			history, err := r.Stats.LastN(ctx, fw.field.ID, st.runDate, r.HistoryWindow)
			if err != nil {
				return err
			}
			in := rules.Input{
				DataSourceID: st.ds.ID,
				Table:        tw.table,
				Field:        &fw.field,
				Current:      &fw.stats,
				History:      history,
				Constraints:  fw.constraints,

				ConstraintErrors: fw.unchecked,
			}
			fieldID := fw.field.ID
			r.collect(&batch, in, rules.ScopeField, &fieldID, st)
		}

		if len(tw.fields) > 0 {
			history, err := r.Stats.TableRowCountHistory(ctx, tw.table.ID, st.runDate, r.HistoryWindow)
			if err != nil {
				return err
			}
			in := rules.Input{
				DataSourceID:    st.ds.ID,
				Table:           tw.table,
				TableRowCount:   tw.rowCount,
				TableRowHistory: history,
			}
			r.collect(&batch, in, rules.ScopeTable, nil, st)
		}
		tw.batch = batch
	}
	return nil
}

func (r *Runner) collect(batch *alert.Batch, in rules.Input, scope rules.Scope, fieldID *uint, st *runState) {
	findings, errs := r.Engine.Evaluate(scope, in)
	st.ruleErrors += len(errs)
	for _, f := range findings {
		batch.Candidates = append(batch.Candidates, alert.Candidate{
			TableID: in.Table.ID,
			FieldID: fieldID,
			Entity:  in.Entity(),
			Finding: f,
		})
	}
	if len(errs) == 0 {
		batch.Evaluated = append(batch.Evaluated, alert.Entity{TableID: in.Table.ID, FieldID: fieldID})
	}
}

// persistStep writes the stats and alert changes of each table in one
// transaction.
func (r *Runner) persistStep(ctx context.Context, st *runState, step *PipelineStep) error {
	for i := range st.tables {
		tw := &st.tables[i]
		var res alert.Result
		err := r.retry(ctx, step, func() error {
			return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
				for j := range tw.fields {
					stats := tw.fields[j].stats
					if err := r.Stats.Upsert(tx, &stats); err != nil {
						return err
					}
				}
				var err error
				res, err = r.Dedup.Apply(tx, tw.batch)
				return err
			})
		})
		if err != nil {
			return storage.Classify(fmt.Sprintf("persist table %s", tw.table.Name), err)
		}
		st.alerts.Add(res)
	}

	n, err := r.Dedup.ResolveOrphans(r.DB.WithContext(ctx), st.ds.ID)
	if err != nil {
		return err
	}
	st.alerts.Resolved += n
	return nil
}

// retry runs op again once when it fails with a persistence conflict.
func (r *Runner) retry(ctx context.Context, step *PipelineStep, op func() error) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := op()
		if err != nil && !storage.IsConflict(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(r.RetryDelay)),
		backoff.WithMaxTries(2),
		backoff.WithNotify(func(err error, _ time.Duration) {
			step.Attempts++
			metrics.StepRetries.WithLabelValues(step.Name).Inc()
			r.Log.Warn("retrying step after persistence conflict", "step", step.Name, "run_id", step.RunID, "err", err)
		}),
	)
	return err
}
