// Package config contains the loader and strongly typed model for shipctl.yaml.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultPath is the default path to the pipeline configuration file.
	DefaultPath = "shipctl.yaml"

	defaultTerraformDir   = "terraform"
	defaultPlanFile       = "tfplan"
	defaultClusterOutput  = "cluster_name"
	defaultRegion         = "us-east-1"
	defaultMonitoringNS   = "monitoring"
	defaultWaitTimeout    = "300s"
	defaultRunTimeout     = "60m"
	defaultHistoryPath    = ".shipctl/history.db"
	defaultArtifactPrefix = "plans"
)

var defaultStateFiles = []string{"terraform.tfstate", "terraform.tfstate.backup"}

var defaultImageTags = []string{"{{ .BuildNumber }}", "latest"}

// Config is the immutable description of one deployable project. It is loaded once
// and passed by pointer; nothing mutates it after Load returns.
type Config struct {
	// Project is the short project name used in logs and tags.
	Project string `yaml:"project"`
	// EnvFiles lists .env files loaded before resolving secrets. Prefix with "?" for optional files.
	EnvFiles []string `yaml:"envFiles,omitempty"`
	// Images describes the client and server images.
	Images ImagesConfig `yaml:"images"`
	// Terraform describes the infrastructure working directory.
	Terraform TerraformConfig `yaml:"terraform"`
	// Kube describes cluster access, cleanup targets and monitoring checks.
	Kube KubeConfig `yaml:"kube"`
	// Secrets maps secret names to environment keys.
	Secrets []SecretSpec `yaml:"secrets,omitempty"`
	// Confirm controls the operator confirmation gate.
	Confirm ConfirmConfig `yaml:"confirm,omitempty"`
	// History configures the local run history store.
	History HistoryConfig `yaml:"history,omitempty"`
	// Artifacts optionally archives plan artifacts to S3-compatible storage.
	Artifacts *ArtifactsConfig `yaml:"artifacts,omitempty"`
	// Timeouts bounds run execution.
	Timeouts TimeoutsConfig `yaml:"timeouts,omitempty"`
	// Versions provides named version strings available in templates.
	Versions map[string]string `yaml:"versions,omitempty"`

	// ProjectRoot is the directory containing the config file.
	ProjectRoot string `yaml:"-"`
}

// ImagesConfig describes the container images built by the pipeline.
type ImagesConfig struct {
	// Registry is the registry host used for docker login/logout (empty means Docker Hub).
	Registry string `yaml:"registry,omitempty"`
	// Parallel builds and pushes the client and server images concurrently.
	Parallel bool `yaml:"parallel,omitempty"`
	// Tags are tag templates applied to every image. Two tags by default: build number and latest.
	Tags []string `yaml:"tags,omitempty"`
	// Client is the frontend image.
	Client ImageSpec `yaml:"client"`
	// Server is the backend image.
	Server ImageSpec `yaml:"server"`
}

// ImageSpec describes how to build one image.
type ImageSpec struct {
	// Repository is the image repository without tag (e.g. "acme/shop-client").
	Repository string `yaml:"repository"`
	// Dockerfile is the Dockerfile path relative to the project root.
	Dockerfile string `yaml:"dockerfile,omitempty"`
	// Context is the build context relative to the project root.
	Context string `yaml:"context,omitempty"`
	// BuildArgs are docker build arguments (key -> value template).
	BuildArgs map[string]string `yaml:"buildArgs,omitempty"`
}

// TerraformConfig describes the terraform working directory and inputs.
type TerraformConfig struct {
	// Dir is the terraform working directory relative to the project root.
	Dir string `yaml:"dir,omitempty"`
	// Binary overrides the terraform executable looked up in PATH.
	Binary string `yaml:"binary,omitempty"`
	// PlanFile is the plan artifact name inside Dir.
	PlanFile string `yaml:"planFile,omitempty"`
	// StateFiles are removed by the clean-state stage.
	StateFiles []string `yaml:"stateFiles,omitempty"`
	// Vars are terraform variables (name -> value template).
	Vars map[string]string `yaml:"vars,omitempty"`
	// ClusterOutput is the terraform output holding the cluster name.
	ClusterOutput string `yaml:"clusterOutput,omitempty"`
	// Region is the cloud region used for cluster access.
	Region string `yaml:"region,omitempty"`
}

// KubeConfig describes cluster access and the Kubernetes-side stages.
type KubeConfig struct {
	// Kubeconfig is the kubeconfig written by configure-cluster. Empty uses a temp file per run.
	Kubeconfig string `yaml:"kubeconfig,omitempty"`
	// Context selects a kubeconfig context.
	Context string `yaml:"context,omitempty"`
	// Cleanup lists resources deleted before terraform apply.
	Cleanup []CleanupTarget `yaml:"cleanup,omitempty"`
	// Monitoring describes what verify-monitoring checks.
	Monitoring MonitoringConfig `yaml:"monitoring,omitempty"`
}

// CleanupTarget selects existing resources that would conflict with terraform-managed manifests.
type CleanupTarget struct {
	// Kind is the resource kind (e.g. "networkpolicy", "resourcequota").
	Kind string `yaml:"kind"`
	// Namespace is the namespace to delete from.
	Namespace string `yaml:"namespace,omitempty"`
	// Selector is a label selector.
	Selector string `yaml:"selector,omitempty"`
	// Names lists explicit resource names.
	Names []string `yaml:"names,omitempty"`
	// All deletes every resource of Kind in Namespace.
	All bool `yaml:"all,omitempty"`
}

// MonitoringConfig describes monitoring verification.
type MonitoringConfig struct {
	// Namespace is where the monitoring stack runs.
	Namespace string `yaml:"namespace,omitempty"`
	// Deployments lists deployments that must become Available. Empty waits for all.
	Deployments []string `yaml:"deployments,omitempty"`
	// WaitTimeout is passed to kubectl wait.
	WaitTimeout string `yaml:"waitTimeout,omitempty"`
}

// SecretSpec maps a secret name to the environment key it is read from.
type SecretSpec struct {
	// Name is the secret name used by stages and templates.
	Name string `yaml:"name"`
	// Env is the environment variable (or .env key) holding the value.
	Env string `yaml:"env"`
	// Description is shown by doctor.
	Description string `yaml:"description,omitempty"`
}

// ConfirmConfig controls the confirmation gate.
type ConfirmConfig struct {
	// Destructive requires operator confirmation for destructive stages. Defaults to true.
	Destructive *bool `yaml:"destructive,omitempty"`
}

// HistoryConfig configures the run history store.
type HistoryConfig struct {
	// Path is the SQLite database path relative to the project root.
	Path string `yaml:"path,omitempty"`
	// Disabled turns history recording off.
	Disabled bool `yaml:"disabled,omitempty"`
}

// TimeoutsConfig holds string-form durations.
type TimeoutsConfig struct {
	// Run bounds the whole run (e.g. "60m").
	Run string `yaml:"run,omitempty"`
}

// Load reads, defaults and validates the configuration at path.
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path is empty")
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	raw, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("read config %q: %w", absPath, err)
	}
	cfg, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse config %q: %w", absPath, err)
	}
	cfg.ProjectRoot = filepath.Dir(absPath)
	return cfg, nil
}

// Parse decodes raw YAML, applies defaults and validates the result.
func Parse(raw []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if len(c.Images.Tags) == 0 {
		c.Images.Tags = append([]string(nil), defaultImageTags...)
	}
	for _, img := range []*ImageSpec{&c.Images.Client, &c.Images.Server} {
		if strings.TrimSpace(img.Context) == "" {
			img.Context = "."
		}
	}
	if c.Terraform.Dir == "" {
		c.Terraform.Dir = defaultTerraformDir
	}
	if c.Terraform.PlanFile == "" {
		c.Terraform.PlanFile = defaultPlanFile
	}
	if len(c.Terraform.StateFiles) == 0 {
		c.Terraform.StateFiles = append([]string(nil), defaultStateFiles...)
	}
	if c.Terraform.ClusterOutput == "" {
		c.Terraform.ClusterOutput = defaultClusterOutput
	}
	if c.Terraform.Region == "" {
		c.Terraform.Region = defaultRegion
	}
	if c.Kube.Monitoring.Namespace == "" {
		c.Kube.Monitoring.Namespace = defaultMonitoringNS
	}
	if c.Kube.Monitoring.WaitTimeout == "" {
		c.Kube.Monitoring.WaitTimeout = defaultWaitTimeout
	}
	if c.History.Path == "" {
		c.History.Path = defaultHistoryPath
	}
	if c.Timeouts.Run == "" {
		c.Timeouts.Run = defaultRunTimeout
	}
	if c.Artifacts != nil && c.Artifacts.Prefix == "" {
		c.Artifacts.Prefix = defaultArtifactPrefix
	}
	c.Secrets = mergeSecretSpecs(DefaultSecretSpecs(), c.Secrets)
}

// Validate reports configuration errors.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Project) == "" {
		errs = append(errs, errors.New("project is required"))
	}
	if strings.TrimSpace(c.Images.Client.Repository) == "" {
		errs = append(errs, errors.New("images.client.repository is required"))
	}
	if strings.TrimSpace(c.Images.Server.Repository) == "" {
		errs = append(errs, errors.New("images.server.repository is required"))
	}
	if len(c.Images.Tags) != 2 {
		errs = append(errs, fmt.Errorf("images.tags must contain exactly two tags, got %d", len(c.Images.Tags)))
	}
	for i, target := range c.Kube.Cleanup {
		if strings.TrimSpace(target.Kind) == "" {
			errs = append(errs, fmt.Errorf("kube.cleanup[%d].kind is required", i))
		}
		if !target.All && strings.TrimSpace(target.Selector) == "" && len(target.Names) == 0 {
			errs = append(errs, fmt.Errorf("kube.cleanup[%d] needs selector, names or all", i))
		}
	}
	seen := make(map[string]struct{})
	for i, s := range c.Secrets {
		if strings.TrimSpace(s.Name) == "" || strings.TrimSpace(s.Env) == "" {
			errs = append(errs, fmt.Errorf("secrets[%d] needs name and env", i))
			continue
		}
		if _, dup := seen[s.Name]; dup {
			errs = append(errs, fmt.Errorf("secret %q declared twice", s.Name))
		}
		seen[s.Name] = struct{}{}
	}
	if _, err := time.ParseDuration(c.Timeouts.Run); err != nil {
		errs = append(errs, fmt.Errorf("timeouts.run: %w", err))
	}
	if c.Artifacts != nil {
		if err := c.Artifacts.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("artifacts: %w", err))
		}
	}
	return errors.Join(errs...)
}

// RunTimeout returns the parsed run timeout.
func (c *Config) RunTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeouts.Run)
	if err != nil {
		return 0
	}
	return d
}

// ConfirmDestructive reports whether destructive stages need operator confirmation.
func (c *Config) ConfirmDestructive() bool {
	if c.Confirm.Destructive == nil {
		return true
	}
	return *c.Confirm.Destructive
}

// Path resolves p relative to the project root.
func (c *Config) Path(p string) string {
	if p == "" || filepath.IsAbs(p) || c.ProjectRoot == "" {
		return p
	}
	return filepath.Join(c.ProjectRoot, p)
}

// TerraformDir returns the absolute terraform working directory.
func (c *Config) TerraformDir() string {
	return c.Path(c.Terraform.Dir)
}

// HistoryPath returns the absolute history database path.
func (c *Config) HistoryPath() string {
	return c.Path(c.History.Path)
}

// Image returns the image spec for a lane ("client" or "server").
func (c *Config) Image(lane string) (ImageSpec, bool) {
	switch lane {
	case "client":
		return c.Images.Client, true
	case "server":
		return c.Images.Server, true
	default:
		return ImageSpec{}, false
	}
}
