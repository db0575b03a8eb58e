// Package terraform drives the terraform CLI through hashicorp/terraform-exec.
package terraform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/hashicorp/terraform-exec/tfexec"
	tfjson "github.com/hashicorp/terraform-json"

	"github.com/codex-k8s/shipctl/internal/execx"
	"github.com/codex-k8s/shipctl/internal/logging"
)

// cli is the subset of *tfexec.Terraform used by Executor.
type cli interface {
	Init(ctx context.Context, opts ...tfexec.InitOption) error
	Validate(ctx context.Context) (*tfjson.ValidateOutput, error)
	Plan(ctx context.Context, opts ...tfexec.PlanOption) (bool, error)
	Apply(ctx context.Context, opts ...tfexec.ApplyOption) error
	Destroy(ctx context.Context, opts ...tfexec.DestroyOption) error
	Output(ctx context.Context, opts ...tfexec.OutputOption) (map[string]tfexec.OutputMeta, error)
	SetStdout(w io.Writer)
	SetStderr(w io.Writer)
}

// Options configure an Executor.
type Options struct {
	// Dir is the terraform working directory.
	Dir string
	// Binary overrides the terraform executable; empty looks it up in PATH.
	Binary string
	// PlanFile is the plan artifact name relative to Dir.
	PlanFile string
	// Env is added to the process environment (cloud credentials).
	Env map[string]string
	// Secrets are masked in streamed output.
	Secrets []string
}

// Executor wraps terraform-exec for one working directory.
type Executor struct {
	opts Options

	mu  sync.Mutex
	tf  cli
	new func() (cli, error)
}

// NewExecutor returns an Executor. The terraform binary is resolved on first use.
func NewExecutor(opts Options) *Executor {
	e := &Executor{opts: opts}
	e.new = e.newCLI
	return e
}

func (e *Executor) newCLI() (cli, error) {
	if _, err := os.Stat(e.opts.Dir); err != nil {
		return nil, fmt.Errorf("terraform dir: %w", err)
	}
	bin := e.opts.Binary
	if bin == "" {
		path, ok := execx.LookPath("terraform")
		if !ok {
			return nil, errors.New("terraform not found in PATH")
		}
		bin = path
	}
	tf, err := tfexec.NewTerraform(e.opts.Dir, bin)
	if err != nil {
		return nil, fmt.Errorf("create terraform executor: %w", err)
	}
	if len(e.opts.Env) > 0 {
		// SetEnv replaces the inherited environment and refuses the TF_* keys tfexec
		// manages itself; TF_VAR_* values reach terraform as -var instead.
		environ := make(map[string]string)
		for _, kv := range os.Environ() {
			if k, v, ok := strings.Cut(kv, "="); ok {
				environ[k] = v
			}
		}
		for k, v := range e.opts.Env {
			environ[k] = v
		}
		if err := tf.SetEnv(tfexec.CleanEnv(environ)); err != nil {
			return nil, fmt.Errorf("set terraform env: %w", err)
		}
	}
	return tf, nil
}

const varEnvPrefix = "TF_VAR_"

// withInheritedVars adds TF_VAR_* entries of environ to vars. Explicit vars win.
func withInheritedVars(environ []string, vars map[string]string) map[string]string {
	out := make(map[string]string, len(vars))
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(k, varEnvPrefix) || len(k) == len(varEnvPrefix) {
			continue
		}
		out[strings.TrimPrefix(k, varEnvPrefix)] = v
	}
	for k, v := range vars {
		out[k] = v
	}
	return out
}

func (e *Executor) cli(logger *slog.Logger) (cli, func(), error) {
	e.mu.Lock()
	if e.tf == nil {
		tf, err := e.new()
		if err != nil {
			e.mu.Unlock()
			return nil, nil, err
		}
		e.tf = tf
	}
	stdout := logging.NewWriter(logger, "stdout", e.opts.Secrets...)
	stderr := logging.NewWriter(logger, "stderr", e.opts.Secrets...)
	e.tf.SetStdout(stdout)
	e.tf.SetStderr(stderr)
	return e.tf, func() {
		stdout.Flush()
		stderr.Flush()
		e.mu.Unlock()
	}, nil
}

// PlanPath returns the absolute plan artifact path.
func (e *Executor) PlanPath() string {
	return filepath.Join(e.opts.Dir, e.opts.PlanFile)
}

// Init runs terraform init.
func (e *Executor) Init(ctx context.Context, logger *slog.Logger) error {
	tf, done, err := e.cli(logger)
	if err != nil {
		return err
	}
	defer done()

	logger.Info("running terraform init", "dir", e.opts.Dir)
	if err := tf.Init(ctx, tfexec.Upgrade(false)); err != nil {
		return fmt.Errorf("terraform init: %w", err)
	}
	return nil
}

// ValidationError reports an invalid terraform configuration.
type ValidationError struct {
	Diagnostics []string
}

func (e *ValidationError) Error() string {
	if len(e.Diagnostics) == 0 {
		return "terraform configuration is invalid"
	}
	return "terraform configuration is invalid: " + strings.Join(e.Diagnostics, "; ")
}

// Validate runs terraform validate and returns *ValidationError for invalid configs.
func (e *Executor) Validate(ctx context.Context, logger *slog.Logger) error {
	tf, done, err := e.cli(logger)
	if err != nil {
		return err
	}
	defer done()

	logger.Info("running terraform validate", "dir", e.opts.Dir)
	out, err := tf.Validate(ctx)
	if err != nil {
		return fmt.Errorf("terraform validate: %w", err)
	}
	for _, d := range out.Diagnostics {
		if d.Severity == tfjson.DiagnosticSeverityWarning {
			logger.Warn("terraform validate warning", "summary", d.Summary, "detail", d.Detail)
		}
	}
	if out.Valid {
		return nil
	}
	verr := &ValidationError{}
	for _, d := range out.Diagnostics {
		if d.Severity != tfjson.DiagnosticSeverityError {
			continue
		}
		msg := d.Summary
		if d.Range != nil && d.Range.Filename != "" {
			msg = fmt.Sprintf("%s:%d: %s", d.Range.Filename, d.Range.Start.Line, d.Summary)
		}
		verr.Diagnostics = append(verr.Diagnostics, msg)
	}
	return verr
}

// PlanResult describes a saved plan.
type PlanResult struct {
	HasChanges bool
	PlanPath   string
}

// Plan runs terraform plan with vars and saves the plan to the plan file.
func (e *Executor) Plan(ctx context.Context, logger *slog.Logger, vars map[string]string) (PlanResult, error) {
	tf, done, err := e.cli(logger)
	if err != nil {
		return PlanResult{}, err
	}
	defer done()

	path := e.PlanPath()
	vars = withInheritedVars(os.Environ(), vars)
	opts := []tfexec.PlanOption{tfexec.Out(path)}
	for _, v := range varArgs(vars) {
		opts = append(opts, tfexec.Var(v))
	}
	logger.Info("running terraform plan", "dir", e.opts.Dir, "out", path, "vars", len(vars))
	changed, err := tf.Plan(ctx, opts...)
	if err != nil {
		return PlanResult{}, fmt.Errorf("terraform plan: %w", err)
	}
	return PlanResult{HasChanges: changed, PlanPath: path}, nil
}

// Apply applies the saved plan file.
func (e *Executor) Apply(ctx context.Context, logger *slog.Logger) error {
	path := e.PlanPath()
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("plan artifact %s: %w", path, err)
	}
	tf, done, err := e.cli(logger)
	if err != nil {
		return err
	}
	defer done()

	logger.Info("running terraform apply", "plan", path)
	if err := tf.Apply(ctx, tfexec.DirOrPlan(path)); err != nil {
		return fmt.Errorf("terraform apply: %w", err)
	}
	return nil
}

// Destroy runs terraform destroy with vars.
func (e *Executor) Destroy(ctx context.Context, logger *slog.Logger, vars map[string]string) error {
	tf, done, err := e.cli(logger)
	if err != nil {
		return err
	}
	defer done()

	vars = withInheritedVars(os.Environ(), vars)
	var opts []tfexec.DestroyOption
	for _, v := range varArgs(vars) {
		opts = append(opts, tfexec.Var(v))
	}
	logger.Info("running terraform destroy", "dir", e.opts.Dir)
	if err := tf.Destroy(ctx, opts...); err != nil {
		return fmt.Errorf("terraform destroy: %w", err)
	}
	return nil
}

// Outputs returns every root module output rendered as a string. String outputs are
// unquoted; other types keep their JSON form. Sensitive outputs are omitted.
func (e *Executor) Outputs(ctx context.Context, logger *slog.Logger) (map[string]string, error) {
	tf, done, err := e.cli(logger)
	if err != nil {
		return nil, err
	}
	defer done()

	raw, err := tf.Output(ctx)
	if err != nil {
		return nil, fmt.Errorf("terraform output: %w", err)
	}
	out := make(map[string]string, len(raw))
	for k, meta := range raw {
		if meta.Sensitive {
			continue
		}
		out[k] = outputString(meta.Value)
	}
	return out, nil
}

// Output returns a single output value.
func (e *Executor) Output(ctx context.Context, logger *slog.Logger, name string) (string, error) {
	outputs, err := e.Outputs(ctx, logger)
	if err != nil {
		return "", err
	}
	v, ok := outputs[name]
	if !ok || v == "" {
		return "", fmt.Errorf("terraform output %q is not set", name)
	}
	return v, nil
}

func varArgs(vars map[string]string) []string {
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	args := make([]string, 0, len(keys))
	for _, k := range keys {
		args = append(args, k+"="+vars[k])
	}
	return args
}

func outputString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}

// CleanState removes the plan artifact and state files from dir. Missing files are
// ignored. It returns the paths actually removed.
func CleanState(dir, planFile string, stateFiles []string) ([]string, error) {
	names := append([]string{planFile}, stateFiles...)
	var removed []string
	for _, name := range names {
		if strings.TrimSpace(name) == "" {
			continue
		}
		path := name
		if !filepath.IsAbs(path) {
			path = filepath.Join(dir, name)
		}
		if err := os.Remove(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return removed, fmt.Errorf("remove %s: %w", path, err)
		}
		removed = append(removed, path)
	}
	return removed, nil
}
