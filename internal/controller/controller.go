package controller

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vizloop/internal/approval"
	"github.com/fyrsmithlabs/vizloop/internal/changeset"
	"github.com/fyrsmithlabs/vizloop/internal/events"
	"github.com/fyrsmithlabs/vizloop/internal/gitinfo"
	"github.com/fyrsmithlabs/vizloop/internal/logging"
	"github.com/fyrsmithlabs/vizloop/internal/memory"
	"github.com/fyrsmithlabs/vizloop/internal/pipeline"
	"github.com/fyrsmithlabs/vizloop/internal/retry"
	"github.com/fyrsmithlabs/vizloop/internal/runlog"
	"github.com/fyrsmithlabs/vizloop/internal/verify"
)

const maxReasonLen = 500

// Controller runs the improvement loop for one target.
type Controller struct {
	cfg      Config
	deps     Deps
	log      *runlog.Log
	logger   *logging.Logger
	inst     *instruments
	progress ProgressCallback

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a controller. Reflector defaults to pipeline.NoReflection and
// Events to events.Nop.
func New(cfg Config, deps Deps, log *runlog.Log, logger *logging.Logger) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid controller config: %w", err)
	}
	if err := deps.validate(); err != nil {
		return nil, fmt.Errorf("invalid controller dependencies: %w", err)
	}
	if log == nil {
		return nil, fmt.Errorf("run log is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if deps.Reflector == nil {
		deps.Reflector = pipeline.NoReflection{}
	}
	if deps.Events == nil {
		deps.Events = events.Nop{}
	}
	if cfg.AvoidThreshold <= 0 {
		cfg.AvoidThreshold = memory.DefaultAvoidThreshold
	}

	return &Controller{
		cfg:    cfg,
		deps:   deps,
		log:    log,
		logger: logger.Named("controller"),
		inst:   newInstruments(deps.Telemetry),
		now:    time.Now,
		sleep:  sleepContext,
	}, nil
}

// OnProgress sets the progress callback. It is called synchronously on
// every phase transition.
func (c *Controller) OnProgress(callback ProgressCallback) {
	c.progress = callback
}

// Run executes the run until the target score is reached, the iteration
// budget is spent or a phase fails. The report is always returned and
// always written to the run directory; the error is non-nil when the run
// failed or was cancelled.
func (c *Controller) Run(ctx context.Context) (*runlog.Report, error) {
	ctx = logging.WithRunID(ctx, c.cfg.RunID)
	ctx, span := c.inst.tracer.Start(ctx, "vizloop.run", trace.WithAttributes(
		attribute.String("run.id", c.cfg.RunID),
		attribute.String("target.url", c.cfg.TargetURL),
		attribute.Int("max_iterations", c.cfg.MaxIterations),
		attribute.Float64("target_score", c.cfg.TargetScore),
	))
	defer span.End()

	rs := &runState{memory: c.loadMemory(ctx), phase: PhaseIdle}
	report := c.newReport(ctx, rs)

	c.logger.Info(ctx, "run started",
		zap.String("target_url", c.cfg.TargetURL),
		zap.Int("max_iterations", c.cfg.MaxIterations),
		zap.Float64("target_score", c.cfg.TargetScore),
		zap.Int("first_iteration", rs.iteration))
	c.emit(ctx, rs, events.KindStarted, "run started", nil)

	err := c.execute(ctx, rs, report)
	c.finish(ctx, rs, report, err)

	span.SetAttributes(
		attribute.String("run.status", string(report.Status)),
		attribute.Int("run.iterations", report.TotalIterations),
		attribute.Float64("run.final_score", report.FinalScore),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return report, err
}

func (c *Controller) newReport(ctx context.Context, rs *runState) *runlog.Report {
	report := &runlog.Report{
		RunID:         c.cfg.RunID,
		Status:        runlog.StatusRunning,
		ProjectRoot:   c.cfg.ProjectRoot,
		TargetURL:     c.cfg.TargetURL,
		TargetScore:   c.cfg.TargetScore,
		MaxIterations: c.cfg.MaxIterations,
		BestIteration: -1,
		StartedAt:     c.now().UTC(),
		Revision:      c.revision(ctx),
	}
	if c.cfg.Retry.Enabled() {
		report.Deviations = append(report.Deviations, fmt.Sprintf(
			"capture, analysis and implementation retried up to %d attempts with exponential backoff",
			c.cfg.Retry.MaxAttempts))
	}

	// Resumed runs continue numbering and scoring where they stopped.
	history := rs.memory.ScoreHistory
	if n := len(history); n > 0 {
		rs.iteration = history[n-1].Iteration + 1
		rs.completed = n
		rs.current = history[n-1].AfterScore
		rs.starting = history[0].BeforeScore
		rs.baselineSet = true
		rs.targetReached = rs.current >= c.cfg.TargetScore
		if prior, err := runlog.ReadReport(c.log.Dir()); err == nil {
			for _, it := range prior.Iterations {
				if it.Iteration < rs.iteration {
					report.Iterations = append(report.Iterations, it)
				}
			}
			report.StartingScore = prior.StartingScore
		}
	}
	return report
}

func (c *Controller) execute(ctx context.Context, rs *runState, report *runlog.Report) error {
	if c.deps.Backend == nil {
		return c.loop(ctx, rs, report)
	}

	started := false
	err := c.deps.Backend.Run(ctx, func(ctx context.Context) error {
		started = true
		return c.loop(ctx, rs, report)
	})
	if err != nil && !started && ctx.Err() == nil {
		return &IterationError{Phase: PhaseIdle, Iteration: rs.iteration, Kind: ErrBackendStartup, Err: err}
	}
	return err
}

func (c *Controller) loop(ctx context.Context, rs *runState, report *runlog.Report) error {
	for rs.iteration < c.cfg.MaxIterations && !rs.targetReached {
		if err := ctx.Err(); err != nil {
			return err
		}

		rec, err := c.iterate(ctx, rs)
		if err != nil {
			rec.Error = err.Error()
		}
		c.writeIteration(ctx, rec)
		report.Iterations = append(report.Iterations, rec.Summary())
		if err != nil {
			return err
		}
		rs.iteration++
	}
	return c.transition(rs, PhaseDone)
}

// iterate runs one iteration. The returned record is never nil.
func (c *Controller) iterate(ctx context.Context, rs *runState) (rec *runlog.IterationRecord, err error) {
	i := rs.iteration
	ctx = logging.WithIteration(ctx, i)
	rec = &runlog.IterationRecord{Iteration: i, StartedAt: c.now().UTC()}
	defer func() { rec.FinishedAt = c.now().UTC() }()

	before, err := runPhase(ctx, c, rs, PhaseCapturing, c.capture)
	if err != nil {
		return rec, iterationError(PhaseCapturing, i, ErrCapture, err)
	}
	rec.Before = before

	digest := rs.memory.ContextSummary(c.cfg.AvoidThreshold)
	rs.memory.LastContext = digest
	input := pipeline.AnalysisInput{
		Snapshot:          *before,
		ContextDigest:     digest,
		ProjectContext:    c.cfg.ProjectContext,
		AvoidedComponents: rs.memory.AvoidedComponents(c.cfg.AvoidThreshold),
	}
	spec, err := runPhase(ctx, c, rs, PhaseAnalyzing, func(ctx context.Context) (*pipeline.ImprovementSpec, error) {
		spec, err := withRetry(ctx, c, "analysis", func(ctx context.Context) (*pipeline.ImprovementSpec, error) {
			return c.deps.Analyzer.Analyze(ctx, input)
		})
		if err == nil && spec == nil {
			err = errors.New("analyzer returned no result")
		}
		return spec, err
	})
	if err != nil {
		return rec, iterationError(PhaseAnalyzing, i, ErrAnalysis, err)
	}
	rec.Spec = spec

	if !rs.baselineSet {
		rs.current = spec.CurrentScore
		rs.starting = spec.CurrentScore
		rs.baselineSet = true
	}
	beforeScore := rs.current
	rec.BeforeScore = beforeScore
	rec.AfterScore = beforeScore

	kept, err := runPhase(ctx, c, rs, PhaseFiltering, func(ctx context.Context) ([]changeset.Recommendation, error) {
		kept, dropped := filterRecommendations(spec.Recommendations, rs.memory, c.cfg.AvoidThreshold)
		for _, d := range dropped {
			c.logger.Debug(ctx, "recommendation filtered",
				zap.String("title", d.Recommendation.Title),
				zap.String("reason", d.Reason),
				zap.String("detail", d.Detail))
		}
		if len(kept) == 0 {
			return nil, fmt.Errorf("all %d candidates filtered", len(spec.Recommendations))
		}
		return kept, nil
	})
	rec.Filtered = len(spec.Recommendations) - len(kept)
	if err != nil {
		return rec, iterationError(PhaseFiltering, i, ErrFilterExhaustion, err)
	}
	rec.Recommendations = kept

	assessment := approval.Assess(kept, c.deps.Pricing)
	rec.Assessment = &assessment
	decision, err := runPhase(ctx, c, rs, PhaseApproving, func(ctx context.Context) (approval.Decision, error) {
		return c.deps.Gate.RequestApproval(ctx, kept, i, assessment)
	})
	if err != nil {
		return rec, iterationError(PhaseApproving, i, ErrApprovalDenied, err)
	}
	rec.Decision = &decision
	if !decision.Approved {
		return rec, &IterationError{
			Phase:     PhaseApproving,
			Iteration: i,
			Kind:      ErrApprovalDenied,
			Err:       fmt.Errorf("%s (%s)", denialReason(decision), decision.Source),
		}
	}

	approved := *spec
	approved.Recommendations = kept
	applied, err := runPhase(ctx, c, rs, PhaseImplementing, func(ctx context.Context) (*changeset.ChangeSet, error) {
		cs, err := withRetry(ctx, c, "implementation", func(ctx context.Context) (*changeset.ChangeSet, error) {
			return c.deps.Implementer.Implement(ctx, &approved, c.cfg.ProjectRoot)
		})
		if err != nil {
			return nil, err
		}
		if cs == nil || cs.Empty() {
			return nil, errors.New("no file changes produced")
		}
		return c.deps.Applier.Apply(ctx, cs)
	})
	if err != nil {
		return rec, iterationError(PhaseImplementing, i, ErrImplementation, err)
	}
	rec.ChangeSet = applied

	result, err := runPhase(ctx, c, rs, PhaseVerifying, func(ctx context.Context) (*verify.Result, error) {
		return c.deps.Verifier.Verify(ctx, applied)
	})
	if err != nil {
		// Only cancellation gets here; the project is left as it was found.
		if rbErr := c.rollback(context.WithoutCancel(ctx), applied, "cancelled"); rbErr == nil {
			rec.RolledBack = true
			rec.RollbackReason = "run cancelled during verification"
		}
		return rec, err
	}
	rec.Verification = result

	if !result.BuildSucceeded {
		return rec, c.recoverBuild(ctx, rs, rec, kept, applied, result)
	}

	after, err := runPhase(ctx, c, rs, PhaseCapturingAfter, func(ctx context.Context) (*pipeline.Snapshot, error) {
		if err := c.sleep(ctx, c.cfg.SettleDelay); err != nil {
			return nil, err
		}
		return c.capture(ctx)
	})
	if err != nil {
		return rec, iterationError(PhaseCapturingAfter, i, ErrCapture, err)
	}
	rec.After = after

	eval, err := runPhase(ctx, c, rs, PhaseEvaluating, func(ctx context.Context) (*pipeline.Evaluation, error) {
		eval, err := c.deps.Evaluator.Evaluate(ctx, after)
		if err == nil && eval == nil {
			err = errors.New("evaluator returned no result")
		}
		return eval, err
	})
	if err != nil {
		return rec, iterationError(PhaseEvaluating, i, ErrAnalysis, err)
	}
	rec.Evaluation = eval

	afterScore := eval.CompositeScore
	delta := afterScore - beforeScore
	status := classify(delta)
	rec.AfterScore = afterScore
	rec.Delta = delta
	rec.Status = status

	if err := c.step(ctx, rs, PhaseRecording, func(context.Context) error {
		reason := fmt.Sprintf("score %.2f -> %.2f (%+.2f)", beforeScore, afterScore, delta)
		for _, r := range kept {
			rs.memory.RecordAttempt(r, i, status, filesFor(r, applied), reason)
		}
		rs.memory.RecordScore(memory.NewScoreEntry(i, beforeScore, afterScore))
		if status == memory.StatusSuccess {
			rs.memory.RecordSuccessfulChanges(applied.Changes)
		}
		return nil
	}); err != nil {
		return rec, err
	}
	rs.current = afterScore

	ic := pipeline.IterationContext{
		Iteration:     i,
		BeforeScore:   beforeScore,
		AfterScore:    afterScore,
		Delta:         delta,
		Spec:          &approved,
		ChangeSet:     applied,
		Evaluation:    eval,
		MemorySummary: rs.memory.ContextSummary(c.cfg.AvoidThreshold),
	}
	reflection, err := runPhase(ctx, c, rs, PhaseReflecting, func(ctx context.Context) (*pipeline.Reflection, error) {
		return c.deps.Reflector.Reflect(ctx, ic)
	})
	switch {
	case errors.Is(err, context.Canceled):
		return rec, err
	case err != nil:
		c.logger.Warn(ctx, "reflection failed, keeping changes", zap.Error(err))
	case reflection != nil:
		rec.Reflection = reflection
		if reflection.ShouldRollback {
			c.recoverRegression(ctx, rs, rec, applied, reflection)
		}
	}

	return rec, c.decide(ctx, rs, rec)
}

// recoverBuild handles a failed verification: attempts are recorded as
// build-breaking, the change set is rolled back and the score stays flat.
func (c *Controller) recoverBuild(ctx context.Context, rs *runState, rec *runlog.IterationRecord, kept []changeset.Recommendation, applied *changeset.ChangeSet, result *verify.Result) error {
	i := rs.iteration
	buildErr := &IterationError{Phase: PhaseVerifying, Iteration: i, Kind: ErrBuild, Err: errors.New(firstLine(result.Diagnostics))}
	c.logger.Warn(ctx, "build failed, rolling back", zap.Error(buildErr))

	reason := truncate(result.Diagnostics, maxReasonLen)
	for _, r := range kept {
		rs.memory.RecordAttempt(r, i, memory.StatusBrokeBuild, filesFor(r, applied), reason)
	}
	rs.memory.RecordScore(memory.NewScoreEntry(i, rec.BeforeScore, rec.BeforeScore))

	rec.Status = memory.StatusBrokeBuild
	rec.Error = buildErr.Error()
	rbErr := c.step(ctx, rs, PhaseRollingBack, func(ctx context.Context) error {
		return c.rollback(ctx, applied, "build")
	})
	rec.RolledBack = rbErr == nil
	rec.RollbackReason = "build failed"
	if rbErr != nil {
		if errors.Is(rbErr, context.Canceled) {
			return rbErr
		}
		rec.Error += "; " + rbErr.Error()
	}
	return c.decide(ctx, rs, rec)
}

// recoverRegression undoes a change that built but that reflection judged a
// regression. The running baseline reverts to the before-score and memory
// stops crediting the iteration's attempts as successful.
func (c *Controller) recoverRegression(ctx context.Context, rs *runState, rec *runlog.IterationRecord, applied *changeset.ChangeSet, reflection *pipeline.Reflection) {
	regression := &IterationError{Phase: PhaseReflecting, Iteration: rs.iteration, Kind: ErrRegression, Err: errors.New(reflection.Reasoning)}
	c.logger.Warn(ctx, "reflection requested rollback", zap.Error(regression))

	rbErr := c.step(ctx, rs, PhaseRollingBack, func(ctx context.Context) error {
		return c.rollback(ctx, applied, "regression")
	})
	rec.RolledBack = rbErr == nil
	rec.RollbackReason = reflection.Reasoning
	if rbErr != nil {
		rec.Error = rbErr.Error()
	}

	var credited []changeset.FileChange
	if rec.RolledBack && rec.Status == memory.StatusSuccess {
		credited = applied.Changes
	}
	rs.memory.RecordRollback(rs.iteration, credited, truncate("rolled back: "+reflection.Reasoning, maxReasonLen))
	rs.current = rec.BeforeScore
}

// decide closes an iteration: memory is persisted, metrics recorded and the
// stop condition evaluated.
func (c *Controller) decide(ctx context.Context, rs *runState, rec *runlog.IterationRecord) error {
	return c.step(ctx, rs, PhaseDeciding, func(ctx context.Context) error {
		c.saveMemory(ctx, rs)
		rs.completed++
		rs.targetReached = rs.current >= c.cfg.TargetScore

		c.inst.iterationFinished(ctx, string(rec.Status))
		c.inst.recordScore(ctx, c.cfg.RunID, rs.current)

		c.logger.Info(ctx, "iteration finished",
			zap.String("status", string(rec.Status)),
			zap.Float64("before_score", rec.BeforeScore),
			zap.Float64("after_score", rec.AfterScore),
			zap.Float64("delta", rec.Delta),
			zap.Bool("rolled_back", rec.RolledBack),
			zap.Float64("current_score", rs.current),
			zap.Bool("target_reached", rs.targetReached))

		score := rs.current
		c.emit(ctx, rs, events.KindProgress, fmt.Sprintf("iteration %d %s", rec.Iteration, rec.Status), &score)
		return nil
	})
}

func (c *Controller) finish(ctx context.Context, rs *runState, report *runlog.Report, err error) {
	cancelled := ctx.Err() != nil
	// Persisting and reporting must happen even after cancellation.
	ctx = context.WithoutCancel(ctx)

	switch {
	case err == nil:
		report.Status = runlog.StatusCompleted
	case cancelled:
		report.Status = runlog.StatusCancelled
	default:
		report.Status = runlog.StatusFailed
	}
	if err != nil {
		_ = c.transition(rs, PhaseFailed)
		report.Error = err.Error()
		c.saveMemory(ctx, rs)
	}

	report.FinishedAt = c.now().UTC()
	report.Duration = report.FinishedAt.Sub(report.StartedAt)
	if report.StartingScore == 0 {
		report.StartingScore = rs.starting
	}
	report.FinalScore = rs.current
	report.Improvement = report.FinalScore - report.StartingScore
	report.TargetReached = rs.baselineSet && rs.current >= c.cfg.TargetScore
	report.TotalIterations = rs.completed
	report.BestIteration, report.BestScore = runlog.BestIteration(report.Iterations)
	report.ScoreHistory = rs.memory.ScoreHistory

	if werr := c.log.WriteReport(report); werr != nil {
		c.logger.Error(ctx, "writing run report failed", zap.Error(werr))
	}

	fields := []zap.Field{
		zap.String("status", string(report.Status)),
		zap.Int("iterations", report.TotalIterations),
		zap.Float64("starting_score", report.StartingScore),
		zap.Float64("final_score", report.FinalScore),
		zap.Int("best_iteration", report.BestIteration),
		zap.Duration("duration", report.Duration),
	}
	kind := events.KindCompleted
	if err != nil {
		kind = events.KindFailed
		c.logger.Error(ctx, "run failed", append(fields, zap.Error(err))...)
	} else {
		c.logger.Info(ctx, "run finished", fields...)
	}
	score := report.FinalScore
	c.emit(ctx, rs, kind, string(report.Status), &score)
}

func (c *Controller) capture(ctx context.Context) (*pipeline.Snapshot, error) {
	snap, err := withRetry(ctx, c, "capture", func(ctx context.Context) (*pipeline.Snapshot, error) {
		return c.deps.Capturer.Capture(ctx, c.cfg.TargetURL, c.cfg.Viewport)
	})
	if err == nil && snap == nil {
		err = errors.New("capturer returned no snapshot")
	}
	return snap, err
}

func (c *Controller) rollback(ctx context.Context, cs *changeset.ChangeSet, reason string) error {
	res, err := c.deps.Rollbacker.Rollback(ctx, cs)
	c.inst.rolledBack(ctx, reason)
	if res != nil {
		c.logger.Info(ctx, "change set rolled back",
			zap.String("reason", reason),
			zap.Strings("restored", res.Restored),
			zap.Strings("removed", res.Removed),
			zap.Strings("failed", res.Failed))
	}
	if err != nil {
		c.logger.Error(ctx, "rollback incomplete", zap.String("reason", reason), zap.Error(err))
	}
	return err
}

func (c *Controller) loadMemory(ctx context.Context) *memory.State {
	st, err := memory.Load(c.log.MemoryPath())
	if err != nil {
		c.logger.Warn(ctx, "starting with empty memory", zap.Error(fmt.Errorf("%w: %v", ErrMemoryIO, err)))
		return memory.New()
	}
	if n := len(st.ScoreHistory); n > 0 {
		c.logger.Info(ctx, "resuming run from memory", zap.Int("recorded_iterations", n))
	}
	return st
}

func (c *Controller) saveMemory(ctx context.Context, rs *runState) {
	if err := memory.Save(c.log.MemoryPath(), rs.memory); err != nil {
		c.logger.Warn(ctx, "memory not persisted, continuing in memory", zap.Error(fmt.Errorf("%w: %v", ErrMemoryIO, err)))
	}
}

func (c *Controller) writeIteration(ctx context.Context, rec *runlog.IterationRecord) {
	if err := c.log.WriteIteration(rec); err != nil {
		c.logger.Warn(ctx, "iteration artifacts incomplete", zap.Error(err))
	}
}

func (c *Controller) revision(ctx context.Context) *gitinfo.Revision {
	rev, err := gitinfo.Detect(c.cfg.ProjectRoot)
	if err != nil {
		c.logger.Debug(ctx, "project revision unavailable", zap.Error(err))
		return nil
	}
	return rev
}

func (c *Controller) transition(rs *runState, next Phase) error {
	if err := CanTransition(rs.phase, next); err != nil {
		return err
	}
	rs.phase = next
	return nil
}

func (c *Controller) emit(ctx context.Context, rs *runState, kind events.Kind, msg string, score *float64) {
	if c.progress != nil {
		c.progress(Progress{
			RunID:     c.cfg.RunID,
			Iteration: rs.iteration,
			Phase:     rs.phase,
			Message:   msg,
			Score:     score,
		})
	}

	ev := events.Event{
		RunID:     c.cfg.RunID,
		Kind:      kind,
		Iteration: rs.iteration,
		Phase:     string(rs.phase),
		Message:   msg,
		Score:     score,
		Timestamp: c.now().UTC(),
	}
	if kind == events.KindCompleted || kind == events.KindFailed {
		ev.Status = msg
	}
	if err := c.deps.Events.Publish(ctx, ev); err != nil {
		c.logger.Debug(ctx, "run event not published", zap.Error(err))
	}
}

// step runs a phase that produces no value.
func (c *Controller) step(ctx context.Context, rs *runState, p Phase, fn func(context.Context) error) error {
	_, err := runPhase(ctx, c, rs, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// runPhase moves the state machine to p and runs fn inside the phase's span.
func runPhase[T any](ctx context.Context, c *Controller, rs *runState, p Phase, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := c.transition(rs, p); err != nil {
		return zero, err
	}
	ctx = logging.WithPhase(ctx, string(p))
	ctx, end := c.inst.startPhase(ctx, p, rs.iteration)
	c.emit(ctx, rs, events.KindProgress, "", nil)
	c.logger.Debug(ctx, "phase started")

	v, err := fn(ctx)
	end(err)
	return v, err
}

func withRetry[T any](ctx context.Context, c *Controller, what string, op func(context.Context) (T, error)) (T, error) {
	if !c.cfg.Retry.Enabled() {
		return op(ctx)
	}
	return retry.Do(ctx, c.cfg.Retry, op, func(err error, wait time.Duration) {
		c.logger.Warn(ctx, "retrying "+what, zap.Error(err), zap.Duration("wait", wait))
	})
}

func classify(delta float64) memory.AttemptStatus {
	switch {
	case delta > 0:
		return memory.StatusSuccess
	case delta == 0:
		return memory.StatusNoEffect
	default:
		return memory.StatusFailed
	}
}

func denialReason(d approval.Decision) string {
	if d.Reason != "" {
		return d.Reason
	}
	return "no reason given"
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if s == "" {
		return "verification failed"
	}
	return truncate(s, maxReasonLen)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
