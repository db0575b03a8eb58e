// Package kube provides low-level integration with Kubernetes via kubectl and the aws CLI.
package kube

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/codex-k8s/shipctl/internal/execx"
)

// Client wraps kubectl execution with optional kubeconfig and context selection.
type Client struct {
	Kubeconfig string
	Context    string

	runner execx.Runner
	env    []string
}

// NewClient constructs a new Kubernetes client wrapper. A nil runner uses os/exec.
func NewClient(kubeconfig, context string, runner execx.Runner) *Client {
	if runner == nil {
		runner = execx.Exec{}
	}
	return &Client{
		Kubeconfig: kubeconfig,
		Context:    context,
		runner:     runner,
	}
}

// WithEnv sets KEY=VALUE pairs passed to every kubectl and aws invocation, such as
// the AWS credentials an EKS kubeconfig needs to fetch tokens.
func (c *Client) WithEnv(env ...string) *Client {
	c.env = append([]string(nil), env...)
	return c
}

// DeleteTarget selects resources for DeleteResources.
type DeleteTarget struct {
	Kind      string
	Namespace string
	Selector  string
	Names     []string
	All       bool
}

func (t DeleteTarget) String() string {
	var b strings.Builder
	b.WriteString(t.Kind)
	if t.Namespace != "" {
		b.WriteString(" in " + t.Namespace)
	}
	switch {
	case len(t.Names) > 0:
		b.WriteString(" named " + strings.Join(t.Names, ","))
	case t.Selector != "":
		b.WriteString(" with " + t.Selector)
	case t.All:
		b.WriteString(" (all)")
	}
	return b.String()
}

// DeleteResources deletes the selected resources, ignoring ones that do not exist.
func (c *Client) DeleteResources(ctx context.Context, logger *slog.Logger, target DeleteTarget) error {
	if strings.TrimSpace(target.Kind) == "" {
		return fmt.Errorf("delete target kind is empty")
	}
	args := []string{"delete", target.Kind}
	args = append(args, target.Names...)
	if target.Namespace != "" {
		args = append(args, "-n", target.Namespace)
	}
	switch {
	case len(target.Names) > 0:
	case target.Selector != "":
		args = append(args, "-l", target.Selector)
	case target.All:
		args = append(args, "--all")
	default:
		return fmt.Errorf("delete target %s needs names, selector or all", target.Kind)
	}
	args = append(args, "--ignore-not-found")
	return c.run(ctx, logger, args...)
}

// WaitForDeployments waits until deployments in the namespace are Available. An empty
// names list waits for all of them.
func (c *Client) WaitForDeployments(ctx context.Context, logger *slog.Logger, namespace, timeout string, names ...string) error {
	if timeout == "" {
		timeout = "300s"
	}
	args := []string{"wait", "--for=condition=Available"}
	if len(names) == 0 {
		args = append(args, "deployment", "--all")
	} else {
		for _, n := range names {
			args = append(args, "deployment/"+n)
		}
	}
	args = append(args, fmt.Sprintf("--timeout=%s", timeout))
	if namespace != "" {
		args = append(args, "-n", namespace)
	}
	return c.run(ctx, logger, args...)
}

// GetNodes lists cluster nodes; it fails when the API server is unreachable.
func (c *Client) GetNodes(ctx context.Context, logger *slog.Logger) (string, error) {
	out, err := c.output(ctx, logger, "get", "nodes", "-o", "wide")
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// GetPods lists pods in a namespace.
func (c *Client) GetPods(ctx context.Context, logger *slog.Logger, namespace string) (string, error) {
	args := []string{"get", "pods"}
	if namespace != "" {
		args = append(args, "-n", namespace)
	}
	out, err := c.output(ctx, logger, args...)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// UpdateKubeconfig writes credentials for an EKS cluster into the client's kubeconfig
// using the aws CLI. env carries the AWS credentials.
func (c *Client) UpdateKubeconfig(ctx context.Context, logger *slog.Logger, cluster, region string, env []string) error {
	if strings.TrimSpace(cluster) == "" {
		return fmt.Errorf("cluster name is empty")
	}
	args := []string{"eks", "update-kubeconfig", "--name", cluster}
	if region != "" {
		args = append(args, "--region", region)
	}
	if c.Kubeconfig != "" {
		args = append(args, "--kubeconfig", c.Kubeconfig)
	}
	err := c.runner.Run(ctx, logger, execx.Command{Name: "aws", Args: args, Env: mergeEnv(c.env, env)})
	if err != nil {
		return fmt.Errorf("aws eks update-kubeconfig for %q: %w", cluster, err)
	}
	return nil
}

// mergeEnv appends extra to base; a key present in both keeps the value from extra.
func mergeEnv(base, extra []string) []string {
	override := make(map[string]bool, len(extra))
	for _, kv := range extra {
		k, _, _ := strings.Cut(kv, "=")
		override[k] = true
	}
	out := make([]string, 0, len(base)+len(extra))
	for _, kv := range base {
		if k, _, _ := strings.Cut(kv, "="); !override[k] {
			out = append(out, kv)
		}
	}
	return append(out, extra...)
}

func (c *Client) command(args ...string) execx.Command {
	cmdArgs := make([]string, 0, len(args)+2)
	if c.Context != "" {
		cmdArgs = append(cmdArgs, "--context", c.Context)
	}
	cmdArgs = append(cmdArgs, args...)

	cmd := execx.Command{Name: "kubectl", Args: cmdArgs}
	cmd.Env = append(cmd.Env, c.env...)
	if c.Kubeconfig != "" {
		cmd.Env = append(cmd.Env, "KUBECONFIG="+c.Kubeconfig)
	}
	return cmd
}

func (c *Client) run(ctx context.Context, logger *slog.Logger, args ...string) error {
	if err := c.runner.Run(ctx, logger, c.command(args...)); err != nil {
		return fmt.Errorf("kubectl %s: %w", strings.Join(args, " "), err)
	}
	return nil
}

func (c *Client) output(ctx context.Context, logger *slog.Logger, args ...string) ([]byte, error) {
	out, err := c.runner.Output(ctx, logger, c.command(args...))
	if err != nil {
		return nil, fmt.Errorf("kubectl %s: %w", strings.Join(args, " "), err)
	}
	return out, nil
}
