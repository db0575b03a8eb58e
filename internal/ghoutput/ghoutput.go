// Package ghoutput publishes run results as GitHub Actions step outputs.
package ghoutput

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/codex-k8s/shipctl/internal/pipeline"
)

// Write appends outputs to the GITHUB_OUTPUT file when running inside GitHub Actions.
func Write(values map[string]string) error {
	path := strings.TrimSpace(os.Getenv("GITHUB_OUTPUT"))
	if path == "" || len(values) == 0 {
		return nil
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o600)
	if err != nil {
		return fmt.Errorf("open GITHUB_OUTPUT: %w", err)
	}
	defer func() { _ = f.Close() }()
	return Encode(f, values)
}

// Encode writes values in GITHUB_OUTPUT format, sorted by key. Multi-line values use
// the heredoc form with a random delimiter.
func Encode(w io.Writer, values map[string]string) error {
	keys := make([]string, 0, len(values))
	for k := range values {
		if strings.TrimSpace(k) == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := values[key]
		var err error
		if strings.ContainsAny(value, "\r\n") {
			delim := "ghadelimiter_" + uuid.NewString()
			_, err = fmt.Fprintf(w, "%s<<%s\n%s\n%s\n", key, delim, value, delim)
		} else {
			_, err = fmt.Fprintf(w, "%s=%s\n", key, value)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// RunOutputs returns the step outputs describing run.
func RunOutputs(run *pipeline.Run) map[string]string {
	if run == nil {
		return nil
	}
	out := map[string]string{
		"run_id":       run.ID,
		"action":       string(run.Action),
		"status":       string(run.Status),
		"failed_stage": string(run.FailedStage),
	}
	warned := make([]string, 0)
	for _, s := range run.Warnings() {
		warned = append(warned, string(s.Stage))
	}
	out["warned_stages"] = strings.Join(warned, ",")
	for k, v := range run.Outputs {
		out[k] = v
	}
	return out
}
