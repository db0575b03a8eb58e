// Package execxtest provides a recording Runner for tests.
package execxtest

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/codex-k8s/shipctl/internal/execx"
)

// Call is one recorded invocation.
type Call struct {
	Command execx.Command
	// Stdin holds what the command would have read.
	Stdin string
}

// Line returns "name arg1 arg2 ...".
func (c Call) Line() string {
	return c.Command.String()
}

// Recorder records commands instead of running them. Errors and outputs are keyed by
// command-line prefix; the longest matching prefix wins.
type Recorder struct {
	mu      sync.Mutex
	calls   []Call
	errs    map[string]error
	outputs map[string]string
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{errs: make(map[string]error), outputs: make(map[string]string)}
}

// FailOn makes commands whose line starts with prefix return err.
func (r *Recorder) FailOn(prefix string, err error) *Recorder {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs[prefix] = err
	return r
}

// Respond makes Output for commands starting with prefix return out.
func (r *Recorder) Respond(prefix, out string) *Recorder {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outputs[prefix] = out
	return r
}

// Run implements execx.Runner.
func (r *Recorder) Run(ctx context.Context, _ *slog.Logger, cmd execx.Command) error {
	_, err := r.record(ctx, cmd)
	return err
}

// Output implements execx.Runner.
func (r *Recorder) Output(ctx context.Context, _ *slog.Logger, cmd execx.Command) ([]byte, error) {
	out, err := r.record(ctx, cmd)
	if err != nil {
		return nil, err
	}
	return []byte(out), nil
}

// Calls returns the recorded calls in order.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// Lines returns the recorded command lines in order.
func (r *Recorder) Lines() []string {
	calls := r.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.Line()
	}
	return out
}

func (r *Recorder) record(ctx context.Context, cmd execx.Command) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	call := Call{Command: cmd}
	if cmd.Stdin != nil {
		b, _ := io.ReadAll(cmd.Stdin)
		call.Stdin = string(b)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
	line := cmd.String()
	return longestMatch(r.outputs, line), longestMatchErr(r.errs, line)
}

func longestMatch(m map[string]string, line string) string {
	best, out := -1, ""
	for prefix, v := range m {
		if strings.HasPrefix(line, prefix) && len(prefix) > best {
			best, out = len(prefix), v
		}
	}
	return out
}

func longestMatchErr(m map[string]error, line string) error {
	best := -1
	var out error
	for prefix, v := range m {
		if strings.HasPrefix(line, prefix) && len(prefix) > best {
			best, out = len(prefix), v
		}
	}
	return out
}
