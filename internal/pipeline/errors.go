package pipeline

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotConfirmed is returned when the operator declines destructive stages.
var ErrNotConfirmed = errors.New("destructive stages were not confirmed by the operator")

// ActionError reports an unknown action value.
type ActionError struct {
	// Value is the rejected input.
	Value string
}

func (e *ActionError) Error() string {
	names := make([]string, 0, len(allActions))
	for _, a := range allActions {
		names = append(names, string(a))
	}
	return fmt.Sprintf("unknown action %q (valid: %s)", e.Value, strings.Join(names, ", "))
}

// StageError reports a fatal failure of a single stage.
type StageError struct {
	// Stage is the failing stage.
	Stage StageID
	// Err is the underlying failure.
	Err error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Err)
}

// Unwrap returns the underlying stage failure.
func (e *StageError) Unwrap() error { return e.Err }

// MissingSecret names the secrets a stage requires but which were not supplied.
type MissingSecret struct {
	Stage StageID
	Names []string
}

// MissingSecretsError is returned before any stage runs when required secrets are absent.
type MissingSecretsError struct {
	Missing []MissingSecret
}

func (e *MissingSecretsError) Error() string {
	parts := make([]string, 0, len(e.Missing))
	for _, m := range e.Missing {
		parts = append(parts, fmt.Sprintf("%s requires %s", m.Stage, strings.Join(m.Names, ", ")))
	}
	return "missing required secrets: " + strings.Join(parts, "; ")
}

// Names returns the distinct missing secret names in first-seen order.
func (e *MissingSecretsError) Names() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, m := range e.Missing {
		for _, n := range m.Names {
			if _, ok := seen[n]; ok {
				continue
			}
			seen[n] = struct{}{}
			out = append(out, n)
		}
	}
	return out
}

// FailedStage extracts the failing stage from err, if any.
func FailedStage(err error) (StageID, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage, true
	}
	return "", false
}
