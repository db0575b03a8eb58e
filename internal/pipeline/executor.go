package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const defaultEpilogueTimeout = 2 * time.Minute

// Handler performs the side effects of one stage.
type Handler func(ctx context.Context, rc *RunContext) error

// Handlers binds stage IDs to their handlers. The epilogue uses StageEpilogue.
type Handlers map[StageID]Handler

// Gate asks an operator to confirm destructive stages before the run starts.
type Gate interface {
	Confirm(ctx context.Context, action Action, stages []Stage) (bool, error)
}

// SecretChecker reports whether a named secret was supplied.
type SecretChecker interface {
	Has(name string) bool
}

// Executor runs plans stage by stage.
type Executor struct {
	handlers        Handlers
	secrets         SecretChecker
	gate            Gate
	logger          *slog.Logger
	parallelLanes   bool
	timeout         time.Duration
	epilogueTimeout time.Duration
	now             func() time.Time
	newID           func() string
}

// Option configures an Executor.
type Option func(*Executor)

// WithSecrets sets the secret checker used for the fail-fast secret validation.
func WithSecrets(s SecretChecker) Option {
	return func(e *Executor) { e.secrets = s }
}

// WithGate sets the confirmation gate for destructive stages. A nil gate approves.
func WithGate(g Gate) Option {
	return func(e *Executor) { e.gate = g }
}

// WithLogger sets the executor logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithParallelImages runs the client and server image lanes concurrently.
func WithParallelImages(enabled bool) Option {
	return func(e *Executor) { e.parallelLanes = enabled }
}

// WithTimeout bounds the whole run. Zero disables the limit.
func WithTimeout(d time.Duration) Option {
	return func(e *Executor) { e.timeout = d }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		if now != nil {
			e.now = now
		}
	}
}

// WithIDGenerator overrides the run ID generator.
func WithIDGenerator(gen func() string) Option {
	return func(e *Executor) {
		if gen != nil {
			e.newID = gen
		}
	}
}

// NewExecutor constructs an Executor for the given handlers.
func NewExecutor(handlers Handlers, opts ...Option) *Executor {
	e := &Executor{
		handlers:        handlers,
		logger:          slog.Default(),
		epilogueTimeout: defaultEpilogueTimeout,
		now:             time.Now,
		newID:           func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes plan. The returned Run is always non-nil and fully populated; the error
// is the first fatal failure, a missing-secret error or ErrNotConfirmed.
func (e *Executor) Run(ctx context.Context, plan Plan) (*Run, error) {
	run := &Run{
		ID:        e.newID(),
		Action:    plan.Action,
		StartedAt: e.now().UTC(),
		Stages:    make([]StageResult, len(plan.Stages)),
	}
	for i, s := range plan.Stages {
		run.Stages[i] = StageResult{Stage: s.ID, Outcome: OutcomeSkipped}
	}

	logger := e.logger.With("run", run.ID, "action", string(plan.Action))
	rc := NewRunContext(run.ID, plan.Action, logger)

	runCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	logger.Info("run started", "stages", len(plan.Stages))
	err := e.execute(runCtx, rc, plan, run)

	run.Epilogue = e.runEpilogue(ctx, rc)
	run.Outputs = rc.Outputs()
	run.FinishedAt = e.now().UTC()
	run.Status = runStatus(run, err)
	if err != nil {
		run.Error = err.Error()
		if id, ok := FailedStage(err); ok {
			run.FailedStage = id
		}
		logger.Error("run failed", "failed_stage", string(run.FailedStage), "error", err)
	} else {
		logger.Info("run finished", "status", string(run.Status), "warnings", len(run.Warnings()))
	}
	return run, err
}

func (e *Executor) execute(ctx context.Context, rc *RunContext, plan Plan, run *Run) error {
	if err := e.checkSecrets(plan); err != nil {
		return err
	}
	if err := e.confirm(ctx, rc, plan); err != nil {
		return err
	}

	stages := plan.Stages
	for i := 0; i < len(stages); {
		if err := ctx.Err(); err != nil {
			return abortStage(run, i, stages[i], err)
		}
		if e.parallelLanes && stages[i].Lane != "" {
			j := i
			for j < len(stages) && stages[j].Lane != "" {
				j++
			}
			if err := e.runLanes(ctx, rc, stages, run, i, j); err != nil {
				return err
			}
			i = j
			continue
		}
		res, err := e.runStage(ctx, rc, stages[i])
		run.Stages[i] = res
		if err != nil {
			return err
		}
		i++
	}
	return nil
}

func (e *Executor) checkSecrets(plan Plan) error {
	if e.secrets == nil {
		return nil
	}
	var missing []MissingSecret
	for _, s := range plan.Stages {
		var names []string
		for _, name := range s.Secrets {
			if !e.secrets.Has(name) {
				names = append(names, name)
			}
		}
		if len(names) > 0 {
			missing = append(missing, MissingSecret{Stage: s.ID, Names: names})
		}
	}
	if len(missing) > 0 {
		return &MissingSecretsError{Missing: missing}
	}
	return nil
}

func (e *Executor) confirm(ctx context.Context, rc *RunContext, plan Plan) error {
	destructive := plan.Destructive()
	if len(destructive) == 0 {
		return nil
	}
	if e.gate == nil {
		rc.Logger.Warn("destructive stages approved without confirmation", "stages", stageNames(destructive))
		return nil
	}
	ok, err := e.gate.Confirm(ctx, plan.Action, destructive)
	if err != nil {
		return fmt.Errorf("confirm destructive stages: %w", err)
	}
	if !ok {
		return ErrNotConfirmed
	}
	rc.Logger.Info("destructive stages confirmed", "stages", stageNames(destructive))
	return nil
}

// runLanes runs stages[from:to] grouped by lane; lanes run concurrently, stages within a
// lane keep table order.
func (e *Executor) runLanes(ctx context.Context, rc *RunContext, stages []Stage, run *Run, from, to int) error {
	lanes := make(map[string][]int)
	var order []string
	for i := from; i < to; i++ {
		lane := stages[i].Lane
		if _, ok := lanes[lane]; !ok {
			order = append(order, lane)
		}
		lanes[lane] = append(lanes[lane], i)
	}

	rc.Logger.Info("running image lanes concurrently", "lanes", order)
	g, gctx := errgroup.WithContext(ctx)
	for _, lane := range order {
		indexes := lanes[lane]
		g.Go(func() error {
			for _, idx := range indexes {
				if err := ctx.Err(); err != nil {
					return abortStage(run, idx, stages[idx], err)
				}
				if err := gctx.Err(); err != nil {
					return err
				}
				res, err := e.runStage(gctx, rc, stages[idx])
				run.Stages[idx] = res
				if err != nil {
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// abortStage records that the run was interrupted before stage i started.
func abortStage(run *Run, i int, stage Stage, cause error) error {
	err := fmt.Errorf("run aborted before %s: %w", stage.ID, cause)
	run.Stages[i] = StageResult{Stage: stage.ID, Outcome: OutcomeFailed, Error: err.Error()}
	return &StageError{Stage: stage.ID, Err: err}
}

func (e *Executor) runStage(ctx context.Context, rc *RunContext, stage Stage) (StageResult, error) {
	src := rc.ForStage(stage)
	res := StageResult{Stage: stage.ID, StartedAt: e.now().UTC()}

	handler, ok := e.handlers[stage.ID]
	var err error
	if !ok || handler == nil {
		err = fmt.Errorf("no handler registered for stage %s", stage.ID)
	} else {
		src.Logger.Info("stage started", "name", stage.Name)
		err = handler(ctx, src)
	}
	res.Duration = e.now().UTC().Sub(res.StartedAt)

	if err == nil {
		res.Outcome = OutcomeSucceeded
		src.Logger.Info("stage succeeded", "duration", res.Duration.String())
		return res, nil
	}

	res.Error = err.Error()
	if stage.BestEffort() {
		res.Outcome = OutcomeWarned
		src.Logger.Warn("best-effort stage failed, continuing", "error", err)
		return res, nil
	}
	res.Outcome = OutcomeFailed
	src.Logger.Error("stage failed", "error", err)
	return res, &StageError{Stage: stage.ID, Err: err}
}

// runEpilogue runs the epilogue detached from run cancellation so it executes even after
// a timeout.
func (e *Executor) runEpilogue(ctx context.Context, rc *RunContext) StageResult {
	ectx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.epilogueTimeout)
	defer cancel()

	stage := epilogueStage
	src := rc.ForStage(stage)
	res := StageResult{Stage: stage.ID, StartedAt: e.now().UTC()}

	handler := e.handlers[StageEpilogue]
	if handler == nil {
		res.Outcome = OutcomeSucceeded
		return res
	}
	err := handler(ectx, src)
	res.Duration = e.now().UTC().Sub(res.StartedAt)
	if err != nil {
		res.Outcome = OutcomeWarned
		res.Error = err.Error()
		src.Logger.Warn("epilogue failed", "error", err)
		return res
	}
	res.Outcome = OutcomeSucceeded
	return res
}

func runStatus(run *Run, err error) Status {
	if err != nil {
		return StatusFailed
	}
	if len(run.Warnings()) > 0 {
		return StatusSucceededWithWarning
	}
	return StatusSucceeded
}

func stageNames(stages []Stage) []string {
	out := make([]string, 0, len(stages))
	for _, s := range stages {
		out = append(out, string(s.ID))
	}
	return out
}

// IsNotConfirmed reports whether err is the operator refusal.
func IsNotConfirmed(err error) bool {
	return errors.Is(err, ErrNotConfirmed)
}
