package pipeline

import (
	"log/slog"
	"sync"
	"time"
)

// Outcome is the result of a single stage within a run.
type Outcome string

const (
	// OutcomeSucceeded means the stage completed without error.
	OutcomeSucceeded Outcome = "succeeded"
	// OutcomeWarned means a best-effort stage failed and the run continued.
	OutcomeWarned Outcome = "warned"
	// OutcomeFailed means the stage failed.
	OutcomeFailed Outcome = "failed"
	// OutcomeSkipped means the stage was included but never started.
	OutcomeSkipped Outcome = "skipped"
)

// Status is the overall result of a run.
type Status string

const (
	StatusSucceeded            Status = "succeeded"
	StatusSucceededWithWarning Status = "succeeded-with-warnings"
	StatusFailed               Status = "failed"
)

// StageResult records what happened to one stage.
type StageResult struct {
	Stage     StageID       `json:"stage"`
	Outcome   Outcome       `json:"outcome"`
	Error     string        `json:"error,omitempty"`
	StartedAt time.Time     `json:"startedAt,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// Run is one execution of a plan.
type Run struct {
	ID          string            `json:"id"`
	Action      Action            `json:"action"`
	Status      Status            `json:"status"`
	FailedStage StageID           `json:"failedStage,omitempty"`
	Error       string            `json:"error,omitempty"`
	StartedAt   time.Time         `json:"startedAt"`
	FinishedAt  time.Time         `json:"finishedAt"`
	Stages      []StageResult     `json:"stages"`
	Epilogue    StageResult       `json:"epilogue"`
	Outputs     map[string]string `json:"outputs,omitempty"`
}

// Warnings returns the stages whose failures were absorbed.
func (r *Run) Warnings() []StageResult {
	var out []StageResult
	for _, s := range r.Stages {
		if s.Outcome == OutcomeWarned {
			out = append(out, s)
		}
	}
	if r.Epilogue.Outcome == OutcomeWarned {
		out = append(out, r.Epilogue)
	}
	return out
}

// Executed returns the IDs of stages that were started, in order.
func (r *Run) Executed() []StageID {
	var out []StageID
	for _, s := range r.Stages {
		if s.Outcome != OutcomeSkipped {
			out = append(out, s.ID())
		}
	}
	return out
}

// ID returns the stage identifier of the result.
func (s StageResult) ID() StageID {
	return s.Stage
}

// Duration returns the wall-clock duration of the run.
func (r *Run) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// RunContext is handed to stage handlers. It is shared by all stages of a run.
type RunContext struct {
	// RunID identifies the run.
	RunID string
	// Action is the action bound to the run.
	Action Action
	// Stage is the stage currently executing.
	Stage Stage
	// Logger is scoped to the run and stage.
	Logger *slog.Logger

	outputs *outputs
}

type outputs struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewRunContext constructs a RunContext without a current stage.
func NewRunContext(runID string, action Action, logger *slog.Logger) *RunContext {
	if logger == nil {
		logger = slog.Default()
	}
	return &RunContext{
		RunID:   runID,
		Action:  action,
		Logger:  logger,
		outputs: &outputs{values: make(map[string]string)},
	}
}

// ForStage returns a copy of rc bound to stage, sharing the outputs.
func (rc *RunContext) ForStage(stage Stage) *RunContext {
	cp := *rc
	cp.Stage = stage
	cp.Logger = rc.Logger.With("stage", string(stage.ID))
	return &cp
}

// SetOutput stores a value produced by a stage for later stages.
func (rc *RunContext) SetOutput(key, value string) {
	rc.outputs.mu.Lock()
	defer rc.outputs.mu.Unlock()
	rc.outputs.values[key] = value
}

// Output returns a value stored by an earlier stage.
func (rc *RunContext) Output(key string) (string, bool) {
	rc.outputs.mu.RLock()
	defer rc.outputs.mu.RUnlock()
	v, ok := rc.outputs.values[key]
	return v, ok
}

// Outputs returns a snapshot of all stored outputs.
func (rc *RunContext) Outputs() map[string]string {
	rc.outputs.mu.RLock()
	defer rc.outputs.mu.RUnlock()
	out := make(map[string]string, len(rc.outputs.values))
	for k, v := range rc.outputs.values {
		out[k] = v
	}
	return out
}
