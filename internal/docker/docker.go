// Package docker builds, pushes and authenticates container images through the docker CLI.
package docker

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/codex-k8s/shipctl/internal/execx"
)

// BuildSpec describes one docker build.
type BuildSpec struct {
	// Repository is the image name without tag.
	Repository string
	// Tags are applied to the built image.
	Tags []string
	// Dockerfile is optional; docker defaults to <context>/Dockerfile.
	Dockerfile string
	// Context is the build context directory.
	Context string
	// BuildArgs are passed as --build-arg.
	BuildArgs map[string]string
}

// Refs returns repository:tag for every tag.
func (b BuildSpec) Refs() []string {
	refs := make([]string, 0, len(b.Tags))
	for _, t := range b.Tags {
		refs = append(refs, b.Repository+":"+t)
	}
	return refs
}

// Client wraps the docker CLI. It remembers registry logins so Logout only runs
// when a login happened.
type Client struct {
	runner execx.Runner

	mu       sync.Mutex
	loggedIn map[string]bool
}

// NewClient constructs a docker client. A nil runner uses os/exec.
func NewClient(runner execx.Runner) *Client {
	if runner == nil {
		runner = execx.Exec{}
	}
	return &Client{runner: runner, loggedIn: make(map[string]bool)}
}

// Build runs docker build for spec.
func (c *Client) Build(ctx context.Context, logger *slog.Logger, spec BuildSpec) error {
	if strings.TrimSpace(spec.Repository) == "" {
		return fmt.Errorf("image repository is empty")
	}
	if len(spec.Tags) == 0 {
		return fmt.Errorf("image %s has no tags", spec.Repository)
	}
	contextPath := strings.TrimSpace(spec.Context)
	if contextPath == "" {
		contextPath = "."
	}

	args := []string{"build"}
	for _, ref := range spec.Refs() {
		args = append(args, "-t", ref)
	}
	if spec.Dockerfile != "" {
		args = append(args, "-f", spec.Dockerfile)
	}
	keys := make([]string, 0, len(spec.BuildArgs))
	for k := range spec.BuildArgs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	secrets := make([]string, 0, len(keys))
	for _, k := range keys {
		args = append(args, "--build-arg", k+"="+spec.BuildArgs[k])
		secrets = append(secrets, spec.BuildArgs[k])
	}
	args = append(args, contextPath)

	logger.Info("building image", "image", spec.Repository, "tags", spec.Tags, "context", contextPath)
	// build args may carry secrets; mask them in streamed output
	if err := c.runner.Run(ctx, logger, execx.Command{Name: "docker", Args: args, Secrets: secrets}); err != nil {
		return fmt.Errorf("docker build %s: %w", spec.Repository, err)
	}
	return nil
}

// Push pushes every ref in order.
func (c *Client) Push(ctx context.Context, logger *slog.Logger, refs ...string) error {
	for _, ref := range refs {
		logger.Info("pushing image", "image", ref)
		if err := c.runner.Run(ctx, logger, execx.Command{Name: "docker", Args: []string{"push", ref}}); err != nil {
			return fmt.Errorf("docker push %s: %w", ref, err)
		}
	}
	return nil
}

// Login authenticates to registry once per client; repeated calls are no-ops.
// The password is passed on stdin.
func (c *Client) Login(ctx context.Context, logger *slog.Logger, registry, username, password string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loggedIn[registry] {
		return nil
	}
	if username == "" || password == "" {
		return fmt.Errorf("registry credentials are empty")
	}

	args := []string{"login", "--username", username, "--password-stdin"}
	if registry != "" {
		args = append(args, registry)
	}
	logger.Info("logging in to registry", "registry", registryName(registry), "username", username)
	cmd := execx.Command{
		Name:    "docker",
		Args:    args,
		Stdin:   strings.NewReader(password),
		Secrets: []string{password},
	}
	if err := c.runner.Run(ctx, logger, cmd); err != nil {
		return fmt.Errorf("docker login %s: %w", registryName(registry), err)
	}
	c.loggedIn[registry] = true
	return nil
}

// LoggedIn reports whether Login succeeded for any registry.
func (c *Client) LoggedIn() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.loggedIn) > 0
}

// Logout logs out of every registry this client logged in to.
func (c *Client) Logout(ctx context.Context, logger *slog.Logger) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	registries := make([]string, 0, len(c.loggedIn))
	for r := range c.loggedIn {
		registries = append(registries, r)
	}
	sort.Strings(registries)

	var firstErr error
	for _, r := range registries {
		args := []string{"logout"}
		if r != "" {
			args = append(args, r)
		}
		if err := c.runner.Run(ctx, logger, execx.Command{Name: "docker", Args: args}); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("docker logout %s: %w", registryName(r), err)
			}
			continue
		}
		delete(c.loggedIn, r)
	}
	return firstErr
}

func registryName(r string) string {
	if r == "" {
		return "docker.io"
	}
	return r
}
