package stages

import (
	"context"
	"log/slog"

	"github.com/stretchr/testify/mock"

	"github.com/codex-k8s/shipctl/internal/docker"
	"github.com/codex-k8s/shipctl/internal/kube"
	"github.com/codex-k8s/shipctl/internal/terraform"
)

type mockDocker struct {
	mock.Mock
}

func (m *mockDocker) Build(ctx context.Context, _ *slog.Logger, spec docker.BuildSpec) error {
	return m.Called(ctx, spec).Error(0)
}

func (m *mockDocker) Push(ctx context.Context, _ *slog.Logger, refs ...string) error {
	return m.Called(ctx, refs).Error(0)
}

func (m *mockDocker) Login(ctx context.Context, _ *slog.Logger, registry, username, password string) error {
	return m.Called(ctx, registry, username, password).Error(0)
}

func (m *mockDocker) LoggedIn() bool {
	return m.Called().Bool(0)
}

func (m *mockDocker) Logout(ctx context.Context, _ *slog.Logger) error {
	return m.Called(ctx).Error(0)
}

type mockTerraform struct {
	mock.Mock
}

func (m *mockTerraform) Init(ctx context.Context, _ *slog.Logger) error {
	return m.Called(ctx).Error(0)
}

func (m *mockTerraform) Validate(ctx context.Context, _ *slog.Logger) error {
	return m.Called(ctx).Error(0)
}

func (m *mockTerraform) Plan(ctx context.Context, _ *slog.Logger, vars map[string]string) (terraform.PlanResult, error) {
	args := m.Called(ctx, vars)
	return args.Get(0).(terraform.PlanResult), args.Error(1)
}

func (m *mockTerraform) Apply(ctx context.Context, _ *slog.Logger) error {
	return m.Called(ctx).Error(0)
}

func (m *mockTerraform) Destroy(ctx context.Context, _ *slog.Logger, vars map[string]string) error {
	return m.Called(ctx, vars).Error(0)
}

func (m *mockTerraform) Output(ctx context.Context, _ *slog.Logger, name string) (string, error) {
	args := m.Called(ctx, name)
	return args.String(0), args.Error(1)
}

type mockKube struct {
	mock.Mock
}

func (m *mockKube) DeleteResources(ctx context.Context, _ *slog.Logger, target kube.DeleteTarget) error {
	return m.Called(ctx, target).Error(0)
}

func (m *mockKube) WaitForDeployments(ctx context.Context, _ *slog.Logger, namespace, timeout string, names ...string) error {
	return m.Called(ctx, namespace, timeout, names).Error(0)
}

func (m *mockKube) GetNodes(ctx context.Context, _ *slog.Logger) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *mockKube) GetPods(ctx context.Context, _ *slog.Logger, namespace string) (string, error) {
	args := m.Called(ctx, namespace)
	return args.String(0), args.Error(1)
}

func (m *mockKube) UpdateKubeconfig(ctx context.Context, _ *slog.Logger, cluster, region string, env []string) error {
	return m.Called(ctx, cluster, region, env).Error(0)
}

type mockArchiver struct {
	mock.Mock
}

func (m *mockArchiver) ArchivePlan(ctx context.Context, project, runID, planPath string) (string, error) {
	args := m.Called(ctx, project, runID, planPath)
	return args.String(0), args.Error(1)
}
