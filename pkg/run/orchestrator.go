package run

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/odvcencio/inhabit/pkg/checkpoint"
	"github.com/odvcencio/inhabit/pkg/errors"
	"github.com/odvcencio/inhabit/pkg/iface"
	"github.com/odvcencio/inhabit/pkg/logging"
	"github.com/odvcencio/inhabit/pkg/notify"
	"github.com/odvcencio/inhabit/pkg/observability"
	"github.com/odvcencio/inhabit/pkg/report"
	"github.com/odvcencio/inhabit/pkg/score"
	"github.com/odvcencio/inhabit/pkg/sim"
)

const (
	// DefaultUnitTimeout bounds one unit end to end, including every
	// oracle round and simulator attempt.
	DefaultUnitTimeout = 300 * time.Second
	// DefaultCheckpointEvery is how many finished units trigger a
	// checkpoint write.
	DefaultCheckpointEvery = 10
)

// Options configures an orchestrated run.
type Options struct {
	RunID  string
	Agent  Agent
	Loader iface.Loader

	// Simulator turns plans into execution evidence. Agents that only
	// predict types never touch it.
	Simulator *sim.Adapter
	Mode      sim.Mode

	UnitTimeout     time.Duration
	ContinueOnError bool
	// Workers bounds concurrent units. The default of 1 keeps runs
	// strictly sequential.
	Workers int

	CheckpointEvery int
	Checkpoints     *checkpoint.Store
	// Resume carries a prior report whose recorded units are skipped.
	Resume *report.Report

	Events notify.Publisher
	Logger *logging.Logger

	// Report header fields.
	CorpusRootName string
	Samples        int
	Seed           int64
	RPCURL         string
	Sender         string
	GasBudget      uint64
	GasCoin        string
}

// Orchestrator drives a roster of units through the
// load/plan/simulate/score pipeline.
type Orchestrator struct {
	opts Options
	log  *logging.Logger
}

// New validates options and applies defaults.
func New(opts Options) (*Orchestrator, error) {
	if opts.Agent == nil {
		return nil, errors.New(errors.ErrCodeInvalidInput, "orchestrator needs an agent")
	}
	if opts.Loader == nil {
		return nil, errors.New(errors.ErrCodeInvalidInput, "orchestrator needs an interface loader")
	}
	if opts.RunID == "" {
		opts.RunID = ulid.Make().String()
	}
	if opts.UnitTimeout <= 0 {
		opts.UnitTimeout = DefaultUnitTimeout
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.CheckpointEvery <= 0 {
		opts.CheckpointEvery = DefaultCheckpointEvery
	}
	if opts.Mode == "" {
		opts.Mode = sim.ModeBuildOnly
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.Events == nil {
		opts.Events = notify.NewNop()
	}
	return &Orchestrator{opts: opts, log: opts.Logger}, nil
}

// RunID returns the identifier stamped on reports and checkpoints.
func (o *Orchestrator) RunID() string {
	return o.opts.RunID
}

// Run processes the roster and returns the assembled report. Units
// already present in the resume report are carried over untouched.
// With ContinueOnError off the first failing unit halts the run; the
// partial report is still returned alongside the error.
func (o *Orchestrator) Run(ctx context.Context, ids []string) (*report.Report, error) {
	startedAt := time.Now()

	ctx, span := observability.StartSpan(ctx, "inhabit.run")
	defer span.End()
	span.SetAttributes(
		observability.AttrRunID.String(o.opts.RunID),
		observability.AttrAgent.String(o.opts.Agent.Name()),
		observability.AttrSimMode.String(string(o.opts.Mode)),
	)

	resumeRows := make(map[string]report.UnitResult)
	if o.opts.Resume != nil {
		for _, row := range o.opts.Resume.Packages {
			resumeRows[row.PackageID] = row
		}
	}

	rows := make([]report.UnitResult, len(ids))
	done := make([]bool, len(ids))
	resumed := 0
	var pending []int
	for i, id := range ids {
		if row, ok := resumeRows[id]; ok {
			rows[i], done[i] = row, true
			resumed++
			continue
		}
		pending = append(pending, i)
	}

	o.log.Info(logging.CategoryRun, "run_started", "benchmark run started", map[string]any{
		"run_id":  o.opts.RunID,
		"agent":   o.opts.Agent.Name(),
		"units":   len(ids),
		"resumed": resumed,
		"mode":    string(o.opts.Mode),
	})
	o.publish(ctx, notify.EventRunStarted, map[string]any{
		"agent": o.opts.Agent.Name(),
		"units": len(ids),
	})

	var mu sync.Mutex
	sinceCheckpoint := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.Workers)

	for _, i := range pending {
		id := ids[i]
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			recordUnitStart()
			row := o.runUnit(gctx, id)
			if gctx.Err() != nil {
				// The run was canceled under this unit; its partial
				// result is discarded so a resume will redo it.
				return nil
			}

			hits := 0
			if row.Score != nil {
				hits = row.Score.CreatedHits
			}
			recordUnitOutcome(row)

			mu.Lock()
			rows[i], done[i] = row, true
			sinceCheckpoint++
			shouldCheckpoint := o.opts.Checkpoints != nil && sinceCheckpoint >= o.opts.CheckpointEvery
			if shouldCheckpoint {
				sinceCheckpoint = 0
			}
			var snapshot *report.Report
			if shouldCheckpoint {
				snapshot = o.buildReport(rows, done, startedAt, time.Now())
			}
			mu.Unlock()

			if snapshot != nil {
				// A failed checkpoint write means the run's own
				// bookkeeping cannot be trusted, so it is fatal even
				// with continue-on-error on.
				if err := o.opts.Checkpoints.Save(snapshot); err != nil {
					o.log.Error(logging.CategoryCheckpoint, "checkpoint_failed",
						"failed to write checkpoint", map[string]any{"error": err.Error()})
					return errors.Wrap(err, errors.ErrCodeHarnessFatal, "checkpoint write failed")
				}
				recordCheckpoint()
			}

			o.publish(gctx, notify.EventUnitFinished, map[string]any{
				"package_id": id,
				"hits":       hits,
				"error_code": row.ErrorCode,
				"timed_out":  row.TimedOut,
			})

			if unitErrored(row) && !o.opts.ContinueOnError {
				return errors.New(errors.ErrCodeHarnessFatal, "run halted on unit failure").
					WithContext("unit", id).
					WithContext("cause", row.Error)
			}
			return nil
		})
	}

	haltErr := g.Wait()
	if haltErr == nil && ctx.Err() != nil {
		haltErr = errors.Wrap(ctx.Err(), errors.ErrCodeTimeout, "run interrupted")
	}

	rep := o.buildReport(rows, done, startedAt, time.Now())
	recordRunDuration(time.Since(startedAt))
	if o.opts.Checkpoints != nil {
		if err := o.opts.Checkpoints.Save(rep); err != nil {
			o.log.Error(logging.CategoryCheckpoint, "checkpoint_failed",
				"failed to write final checkpoint", map[string]any{"error": err.Error()})
			if haltErr == nil {
				haltErr = errors.Wrap(err, errors.ErrCodeHarnessFatal, "final checkpoint write failed")
			}
		}
	}

	event := notify.EventRunFinished
	if haltErr != nil {
		event = notify.EventRunFailed
	}
	o.publish(context.WithoutCancel(ctx), event, map[string]any{
		"packages":     rep.Aggregate.Packages,
		"hits":         rep.Aggregate.Hits,
		"avg_hit_rate": rep.Aggregate.AvgHitRate,
		"errors":       rep.Aggregate.Errors,
	})
	o.log.Info(logging.CategoryRun, "run_finished", "benchmark run finished", map[string]any{
		"run_id":   o.opts.RunID,
		"packages": rep.Aggregate.Packages,
		"hits":     rep.Aggregate.Hits,
		"errors":   rep.Aggregate.Errors,
		"halted":   haltErr != nil,
	})

	return rep, haltErr
}

// runUnit executes one unit under its own deadline and folds every
// failure into the returned row.
func (o *Orchestrator) runUnit(ctx context.Context, id string) (row report.UnitResult) {
	start := time.Now()
	row = report.UnitResult{PackageID: id, SimulationMode: string(o.opts.Mode)}
	defer func() {
		row.ElapsedSeconds = time.Since(start).Seconds()
	}()

	unitCtx, cancel := context.WithTimeout(ctx, o.opts.UnitTimeout)
	defer cancel()
	unitCtx, span := observability.StartSpan(unitCtx, "inhabit.unit")
	defer span.End()
	span.SetAttributes(observability.AttrUnitID.String(id))

	doc, err := o.opts.Loader.Load(unitCtx, id)
	if err != nil {
		o.failRow(&row, err, unitCtx)
		return row
	}
	targets := doc.KeyTypes()
	o.log.Debug(logging.CategoryRun, "unit_loaded", "interface loaded", map[string]any{
		"unit":    id,
		"modules": len(doc.Modules),
		"targets": len(targets),
	})

	planCtx, planSpan := observability.StartSpan(unitCtx, "inhabit.plan")
	finding, err := o.opts.Agent.Inhabit(planCtx, doc, targets)
	planSpan.End()
	if err != nil {
		o.failRow(&row, err, unitCtx)
		return row
	}
	row.PlanVariant = finding.Variant
	row.OracleCalls = finding.OracleCalls
	row.PlanAttempts = finding.PlanAttempts

	var created []string
	switch {
	case finding.Plan != nil:
		row.PTBParseOK = true
		if o.opts.Simulator == nil {
			o.failRow(&row, errors.New(errors.ErrCodeInternal,
				"agent produced a plan but no simulator is configured"), unitCtx)
			return row
		}
		simCtx, simSpan := observability.StartSpan(unitCtx, "inhabit.simulate")
		simSpan.SetAttributes(observability.AttrPlanCalls.Int(len(finding.Plan.Calls)))
		out := o.opts.Simulator.Simulate(simCtx, finding.Plan, o.opts.Mode)
		simSpan.SetAttributes(observability.AttrGasBudget.Int64(int64(out.GasBudget)))
		simSpan.End()
		o.applyOutcome(&row, out)
		created = out.CreatedTypes

	case finding.PredictedTypes != nil:
		row.CreatedObjectTypes = finding.PredictedTypes
		created = finding.PredictedTypes

	default:
		o.failRow(&row, errors.New(errors.ErrCodeInternal,
			"agent returned neither a plan nor predicted types"), unitCtx)
		return row
	}

	sc := score.Inhabitation(targets, created)
	row.Score = &sc
	span.SetAttributes(
		observability.AttrVariant.String(row.PlanVariant),
		observability.AttrTargets.Int(sc.Targets),
		observability.AttrHits.Int(sc.CreatedHits),
	)
	o.log.Info(logging.CategoryScore, "unit_scored", "unit scored", map[string]any{
		"unit":    id,
		"targets": sc.Targets,
		"hits":    sc.CreatedHits,
		"variant": row.PlanVariant,
	})
	return row
}

// unitErrored reports whether the row counts as a unit failure. An
// exhausted constructor search keeps its code on the row but is a
// legitimate zero-hit outcome: nothing was attempted, so it neither
// halts a run nor lands in the aggregate error count.
func unitErrored(row report.UnitResult) bool {
	return row.Error != "" && row.ErrorCode != string(errors.ErrCodeSearchExhausted)
}

func (o *Orchestrator) failRow(row *report.UnitResult, err error, unitCtx context.Context) {
	row.Error = err.Error()
	row.ErrorCode = string(errors.GetCode(err))
	if errors.IsCode(err, errors.ErrCodeTimeout) || unitCtx.Err() == context.DeadlineExceeded {
		row.TimedOut = true
		row.ErrorCode = string(errors.ErrCodeTimeout)
	}
	observability.RecordError(unitCtx, err)
	o.log.Error(logging.CategoryRun, "unit_failed", "unit failed", map[string]any{
		"unit":      row.PackageID,
		"error":     row.Error,
		"code":      row.ErrorCode,
		"timed_out": row.TimedOut,
	})
}

// applyOutcome copies simulator evidence onto the report row.
func (o *Orchestrator) applyOutcome(row *report.UnitResult, out *sim.Outcome) {
	row.TxBuildOK = out.BuildOK
	row.DryRunOK = out.DryRunOK
	row.DryRunExecOK = out.ExecOK
	row.DevInspectOK = out.InspectOK
	row.FellBackToDevInspect = out.FellBack
	row.SimAttempts = out.Attempts
	row.GasBudgetUsed = out.GasBudget
	row.CreatedObjectTypes = out.CreatedTypes

	if out.Failure != nil {
		row.DryRunStatus = out.Failure.Status
		row.DryRunEffectsError = out.Failure.Error
		row.DryRunAbortCode = out.Failure.AbortCode
		row.DryRunAbortLocation = out.Failure.AbortLocation
	} else if out.ExecOK {
		row.DryRunStatus = "success"
	}

	switch out.Status {
	case sim.StatusTimedOut:
		row.TimedOut = true
		row.Error = "simulation timed out"
		row.ErrorCode = string(errors.ErrCodeTimeout)
	case sim.StatusBuildFailed:
		row.Error = out.Failure.Error
		row.ErrorCode = string(errors.ErrCodeSimBuild)
	case sim.StatusHarnessError:
		row.Error = out.Failure.Error
		row.ErrorCode = string(errors.ErrCodeSimExecution)
	case sim.StatusAborted:
		// An abort is a legitimate zero-hit execution unless even the
		// top gas rung was too small to run the plan.
		if sim.IsInsufficientGas(out.Failure.Error) {
			row.Error = out.Failure.Error
			row.ErrorCode = string(errors.ErrCodeSimResourceExhausted)
		}
	}
}

// buildReport assembles the report from finished rows, preserving
// roster order.
func (o *Orchestrator) buildReport(rows []report.UnitResult, done []bool, startedAt, finishedAt time.Time) *report.Report {
	var acc score.Accumulator
	packages := make([]report.UnitResult, 0, len(rows))
	for i, row := range rows {
		if !done[i] {
			continue
		}
		packages = append(packages, row)
		var s score.Score
		if row.Score != nil {
			s = *row.Score
		}
		acc.Add(s, unitErrored(row), row.TimedOut, row.DryRunOK)
	}

	samples := o.opts.Samples
	if samples == 0 {
		samples = len(rows)
	}
	return &report.Report{
		SchemaVersion:         report.SchemaVersion,
		RunID:                 o.opts.RunID,
		StartedAtUnixSeconds:  startedAt.Unix(),
		FinishedAtUnixSeconds: finishedAt.Unix(),
		CorpusRootName:        o.opts.CorpusRootName,
		Samples:               samples,
		Seed:                  o.opts.Seed,
		Agent:                 o.opts.Agent.Name(),
		RPCURL:                o.opts.RPCURL,
		Sender:                o.opts.Sender,
		GasBudget:             o.opts.GasBudget,
		GasCoin:               o.opts.GasCoin,
		SimulationMode:        string(o.opts.Mode),
		Aggregate:             acc.Aggregate(),
		Packages:              packages,
	}
}

func (o *Orchestrator) publish(ctx context.Context, eventType notify.EventType, data map[string]any) {
	event := notify.Event{
		Type:  eventType,
		RunID: o.opts.RunID,
		Time:  time.Now().UTC(),
		Data:  data,
	}
	if err := o.opts.Events.Publish(ctx, event); err != nil {
		o.log.Debug(logging.CategoryRun, "notify_failed", "event publish failed", map[string]any{
			"event": eventType,
			"error": err.Error(),
		})
	}
}
