// Package stages binds every pipeline stage to its production handler.
package stages

import (
	"context"
	"log/slog"

	"github.com/codex-k8s/shipctl/internal/config"
	"github.com/codex-k8s/shipctl/internal/docker"
	"github.com/codex-k8s/shipctl/internal/kube"
	"github.com/codex-k8s/shipctl/internal/pipeline"
	"github.com/codex-k8s/shipctl/internal/terraform"
)

// Output keys shared between stages and published as run outputs.
const (
	OutputClusterName = "cluster_name"
	OutputPlanPath    = "plan_path"
	OutputPlanChanges = "plan_has_changes"
	OutputPlanArchive = "plan_archive"
	OutputImagePrefix = "image_"
)

// Docker builds and publishes images.
type Docker interface {
	Build(ctx context.Context, logger *slog.Logger, spec docker.BuildSpec) error
	Push(ctx context.Context, logger *slog.Logger, refs ...string) error
	Login(ctx context.Context, logger *slog.Logger, registry, username, password string) error
	LoggedIn() bool
	Logout(ctx context.Context, logger *slog.Logger) error
}

// Terraform drives the infrastructure working directory.
type Terraform interface {
	Init(ctx context.Context, logger *slog.Logger) error
	Validate(ctx context.Context, logger *slog.Logger) error
	Plan(ctx context.Context, logger *slog.Logger, vars map[string]string) (terraform.PlanResult, error)
	Apply(ctx context.Context, logger *slog.Logger) error
	Destroy(ctx context.Context, logger *slog.Logger, vars map[string]string) error
	Output(ctx context.Context, logger *slog.Logger, name string) (string, error)
}

// Kube talks to the cluster.
type Kube interface {
	DeleteResources(ctx context.Context, logger *slog.Logger, target kube.DeleteTarget) error
	WaitForDeployments(ctx context.Context, logger *slog.Logger, namespace, timeout string, names ...string) error
	GetNodes(ctx context.Context, logger *slog.Logger) (string, error)
	GetPods(ctx context.Context, logger *slog.Logger, namespace string) (string, error)
	UpdateKubeconfig(ctx context.Context, logger *slog.Logger, cluster, region string, env []string) error
}

// Archiver stores plan artifacts off the runner.
type Archiver interface {
	ArchivePlan(ctx context.Context, project, runID, planPath string) (string, error)
}

// Deps are the collaborators the handlers use. Archiver is optional.
type Deps struct {
	Config    *config.Config
	Secrets   config.Secrets
	Template  config.TemplateContext
	Docker    Docker
	Terraform Terraform
	Kube      Kube
	Archiver  Archiver
	// TempKubeconfig is removed by the epilogue when set.
	TempKubeconfig string
}

// New returns handlers for every stage and the epilogue.
func New(d Deps) pipeline.Handlers {
	h := &handlers{deps: d, tmpl: d.Template.WithSecrets(d.Secrets)}
	return pipeline.Handlers{
		pipeline.StageDestroyInfra:     h.destroyInfra,
		pipeline.StageCleanState:       h.cleanState,
		pipeline.StageBuildClient:      h.build(pipeline.LaneClient),
		pipeline.StageBuildServer:      h.build(pipeline.LaneServer),
		pipeline.StagePushClient:       h.push(pipeline.LaneClient),
		pipeline.StagePushServer:       h.push(pipeline.LaneServer),
		pipeline.StageTerraformPlan:    h.terraformPlan,
		pipeline.StageCleanupResources: h.cleanupResources,
		pipeline.StageTerraformApply:   h.terraformApply,
		pipeline.StageConfigureCluster: h.configureCluster,
		pipeline.StageVerifyMonitoring: h.verifyMonitoring,
		pipeline.StageEpilogue:         h.epilogue,
	}
}

type handlers struct {
	deps Deps
	tmpl config.TemplateContext
	// kubeReady is set once kubeconfig credentials were written in this run.
	kubeReady bool
}

// awsEnv returns the credential environment for terraform, aws and kubectl.
func (h *handlers) awsEnv() []string {
	var env []string
	if v, ok := h.deps.Secrets.Value(pipeline.SecretAWSAccessKeyID); ok {
		env = append(env, "AWS_ACCESS_KEY_ID="+v)
	}
	if v, ok := h.deps.Secrets.Value(pipeline.SecretAWSSecretAccessKey); ok {
		env = append(env, "AWS_SECRET_ACCESS_KEY="+v)
	}
	if r := h.deps.Config.Terraform.Region; r != "" {
		env = append(env, "AWS_DEFAULT_REGION="+r)
	}
	return env
}
