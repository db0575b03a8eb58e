// Package execx runs external CLIs (docker, kubectl, aws) with their output streamed into slog.
package execx

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/codex-k8s/shipctl/internal/logging"
)

// Command describes one external process invocation.
type Command struct {
	Name string
	Args []string
	// Dir is the working directory; empty inherits the current one.
	Dir string
	// Env holds KEY=VALUE pairs appended to the process environment.
	Env []string
	// Stdin is passed to the process when set.
	Stdin io.Reader
	// Secrets are masked in logged output.
	Secrets []string
}

// String renders the command line for logs and errors.
func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Name
	}
	return c.Name + " " + strings.Join(c.Args, " ")
}

func (c Command) maskedArgs() []string {
	if len(c.Secrets) == 0 {
		return c.Args
	}
	out := make([]string, len(c.Args))
	for i, a := range c.Args {
		for _, s := range c.Secrets {
			if s != "" {
				a = strings.ReplaceAll(a, s, "***")
			}
		}
		out[i] = a
	}
	return out
}

// Runner executes commands. Implementations must honour ctx cancellation.
type Runner interface {
	// Run executes cmd, forwarding stdout and stderr to logger.
	Run(ctx context.Context, logger *slog.Logger, cmd Command) error
	// Output executes cmd and returns its stdout; stderr goes to logger.
	Output(ctx context.Context, logger *slog.Logger, cmd Command) ([]byte, error)
}

// Exec is the os/exec backed Runner.
type Exec struct{}

// Run implements Runner.
func (Exec) Run(ctx context.Context, logger *slog.Logger, c Command) error {
	logger.Info("running command", "cmd", c.Name, "args", c.maskedArgs())
	stdout := logging.NewWriter(logger, "stdout", c.Secrets...)
	stderr := logging.NewWriter(logger, "stderr", c.Secrets...)
	cmd := build(ctx, c)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	err := cmd.Run()
	stdout.Flush()
	stderr.Flush()
	if err != nil {
		return fmt.Errorf("%s failed: %w", c.Name+" "+firstArg(c.Args), err)
	}
	return nil
}

// Output implements Runner.
func (Exec) Output(ctx context.Context, logger *slog.Logger, c Command) ([]byte, error) {
	logger.Debug("running command", "cmd", c.Name, "args", c.maskedArgs())
	stderr := logging.NewWriter(logger, "stderr", c.Secrets...)
	var stdout bytes.Buffer
	cmd := build(ctx, c)
	cmd.Stdout = &stdout
	cmd.Stderr = stderr

	err := cmd.Run()
	stderr.Flush()
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", c.Name+" "+firstArg(c.Args), err)
	}
	return stdout.Bytes(), nil
}

func build(ctx context.Context, c Command) *exec.Cmd {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	cmd.Stdin = c.Stdin
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	return cmd
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

// LookPath reports whether name is available in PATH and where.
func LookPath(name string) (string, bool) {
	path, err := exec.LookPath(name)
	if err != nil {
		return "", false
	}
	return path, true
}
