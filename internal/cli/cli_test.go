package cli

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/codex-k8s/shipctl/internal/config"
	"github.com/codex-k8s/shipctl/internal/confirm"
	"github.com/codex-k8s/shipctl/internal/env"
	"github.com/codex-k8s/shipctl/internal/execx/execxtest"
	"github.com/codex-k8s/shipctl/internal/logging"
	"github.com/codex-k8s/shipctl/internal/pipeline"
)

const testConfig = `
project: shop
images:
  registry: registry.example.com
  client:
    repository: registry.example.com/shop-client
    context: client
    buildArgs:
      STRIPE_KEY: '{{ secret "stripe_publishable_key" }}'
  server:
    repository: registry.example.com/shop-server
    context: server
`

var secretEnvKeys = []string{
	"AWS_ACCESS_KEY_ID", "AWS_SECRET_ACCESS_KEY", "DB_PASSWORD", "JWT_SECRET",
	"GRAFANA_ADMIN_PASSWORD", "STRIPE_PUBLISHABLE_KEY", "DOCKER_USERNAME", "DOCKER_PASSWORD",
}

// isolateEnv blanks every variable the CLI reads so the host environment cannot leak in.
func isolateEnv(t *testing.T) {
	t.Helper()
	for _, k := range secretEnvKeys {
		t.Setenv(k, "")
	}
	for _, k := range []string{
		"SHIPCTL_CONFIG", "SHIPCTL_LOG_LEVEL", "SHIPCTL_ACTION", "SHIPCTL_VARS", "SHIPCTL_VAR_FILE",
		"SHIPCTL_BUILD_NUMBER", "BUILD_NUMBER", "GITHUB_RUN_NUMBER",
		"SHIPCTL_GIT_COMMIT", "GIT_COMMIT", "GITHUB_SHA", "GITHUB_OUTPUT", "SHIPCTL_HISTORY_LIMIT",
		"SHIPCTL_YES", "SHIPCTL_PARALLEL_IMAGES", "SHIPCTL_NO_HISTORY", "SHIPCTL_NO_COLOR",
	} {
		t.Setenv(k, "")
	}
}

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "shipctl.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testConfig), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand(&Options{ConfigPath: defaultConfigPath}, logging.Discard())
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestActionsCommand(t *testing.T) {
	isolateEnv(t)
	out, err := execute(t, "actions")
	require.NoError(t, err)
	require.Contains(t, out, "verify-monitoring")
	require.Contains(t, out, "A6 = terraform-clean-and-apply")
}

func TestStagesCommand(t *testing.T) {
	isolateEnv(t)
	out, err := execute(t, "stages", "--action", "terraform-clean-and-apply")
	require.NoError(t, err)
	require.Less(t, strings.Index(out, "destroy-infra"), strings.Index(out, "clean-state"))
	require.Less(t, strings.Index(out, "clean-state"), strings.Index(out, "terraform-plan"))
	require.NotContains(t, out, "build-client")
}

func TestStagesCommandReadsActionFromEnv(t *testing.T) {
	isolateEnv(t)
	t.Setenv("SHIPCTL_ACTION", "docker-only")
	out, err := execute(t, "stages")
	require.NoError(t, err)
	require.Contains(t, out, "push-server")
	require.NotContains(t, out, "terraform-plan")
}

func TestStagesCommandRejectsUnknownAction(t *testing.T) {
	isolateEnv(t)
	_, err := execute(t, "stages", "--action", "deploy-all")
	var ae *pipeline.ActionError
	require.ErrorAs(t, err, &ae)
}

func TestRunFailsFastOnMissingSecrets(t *testing.T) {
	isolateEnv(t)
	path := writeConfig(t)
	outputs := filepath.Join(t.TempDir(), "github_output")
	t.Setenv("GITHUB_OUTPUT", outputs)

	out, err := execute(t, "-c", path, "run", "--action", "docker-only", "--build-number", "42")
	var missing *pipeline.MissingSecretsError
	require.ErrorAs(t, err, &missing)
	require.Contains(t, missing.Names(), pipeline.SecretRegistryPassword)
	require.Contains(t, out, "failed")

	raw, err := os.ReadFile(outputs)
	require.NoError(t, err)
	require.Contains(t, string(raw), "status=failed\n")
	require.Contains(t, string(raw), "action=docker-only\n")

	listed, err := execute(t, "-c", path, "history", "list", "--action", "docker-only")
	require.NoError(t, err)
	require.Contains(t, listed, "docker-only")
	require.NotContains(t, listed, "no runs recorded")
}

func TestRunNoHistory(t *testing.T) {
	isolateEnv(t)
	path := writeConfig(t)

	_, err := execute(t, "-c", path, "run", "--action", "docker-only", "--no-history")
	require.Error(t, err)

	listed, err := execute(t, "-c", path, "history", "list")
	require.NoError(t, err)
	require.Contains(t, listed, "no runs recorded")
}

func TestHistoryShowUnknownRun(t *testing.T) {
	isolateEnv(t)
	path := writeConfig(t)
	_, err := execute(t, "-c", path, "history", "show", "does-not-exist")
	require.Error(t, err)
}

func testProject(t *testing.T, secrets map[string]string) *project {
	t.Helper()
	cfg, err := config.Parse([]byte(testConfig))
	require.NoError(t, err)
	cfg.ProjectRoot = t.TempDir()
	vars := env.Vars{}
	for k, v := range secrets {
		vars[k] = v
	}
	return &project{cfg: cfg, vars: vars, secrets: config.ResolveSecrets(cfg.Secrets, vars)}
}

func TestExecuteRunDockerOnly(t *testing.T) {
	isolateEnv(t)
	p := testProject(t, map[string]string{
		"STRIPE_PUBLISHABLE_KEY": "pk_test",
		"DOCKER_USERNAME":        "bot",
		"DOCKER_PASSWORD":        "hunter2",
	})
	plan, err := pipeline.NewPlan(pipeline.ActionDockerOnly)
	require.NoError(t, err)

	rec := execxtest.NewRecorder()
	run, err := executeRun(context.Background(), logging.Discard(), rec, p, plan, runOptions{buildNumber: "42"}, confirm.Static(false))
	require.NoError(t, err)
	require.Equal(t, pipeline.StatusSucceeded, run.Status)
	require.Equal(t, "registry.example.com/shop-client:42", run.Outputs["image_client"])

	lines := rec.Lines()
	require.Len(t, lines, 8)
	require.True(t, strings.HasPrefix(lines[0], "docker build -t registry.example.com/shop-client:42 -t registry.example.com/shop-client:latest"))
	require.Contains(t, lines[0], "--build-arg STRIPE_KEY=pk_test")
	require.True(t, strings.HasPrefix(lines[1], "docker build -t registry.example.com/shop-server:42"))
	require.Equal(t, "docker login --username bot --password-stdin registry.example.com", lines[2])
	require.Equal(t, "docker push registry.example.com/shop-client:42", lines[3])
	require.Equal(t, "docker push registry.example.com/shop-client:latest", lines[4])
	require.Equal(t, "docker push registry.example.com/shop-server:42", lines[5])
	require.Equal(t, "docker push registry.example.com/shop-server:latest", lines[6])
	require.Equal(t, "docker logout registry.example.com", lines[7])
	require.Equal(t, "hunter2", rec.Calls()[2].Stdin)
}

func TestExecuteRunDestructiveNeedsApproval(t *testing.T) {
	isolateEnv(t)
	p := testProject(t, map[string]string{
		"AWS_ACCESS_KEY_ID":      "AKIA",
		"AWS_SECRET_ACCESS_KEY":  "secret",
		"DB_PASSWORD":            "db",
		"JWT_SECRET":             "jwt",
		"GRAFANA_ADMIN_PASSWORD": "grafana",
	})
	plan, err := pipeline.NewPlan(pipeline.ActionTerraformDestroy)
	require.NoError(t, err)

	rec := execxtest.NewRecorder()
	run, err := executeRun(context.Background(), logging.Discard(), rec, p, plan, runOptions{}, confirm.Static(false))
	require.ErrorIs(t, err, pipeline.ErrNotConfirmed)
	require.Equal(t, pipeline.StatusFailed, run.Status)
	require.Empty(t, rec.Lines())
}

func TestApplyRunEnvFallbacks(t *testing.T) {
	isolateEnv(t)
	t.Setenv("BUILD_NUMBER", "17")
	t.Setenv("GITHUB_SHA", "abc123")
	t.Setenv("SHIPCTL_YES", "true")

	cmd := newRunCommand(&Options{})
	var ro runOptions
	require.NoError(t, applyRunEnv(cmd, &ro))
	require.Equal(t, "17", ro.buildNumber)
	require.Equal(t, "abc123", ro.gitCommit)
	require.True(t, ro.yes)

	t.Setenv("SHIPCTL_BUILD_NUMBER", "99")
	require.NoError(t, cmd.Flags().Set("build-number", "5"))
	ro = runOptions{buildNumber: "5"}
	require.NoError(t, applyRunEnv(cmd, &ro))
	require.Equal(t, "5", ro.buildNumber)
}

func TestSelectGate(t *testing.T) {
	cfg, err := config.Parse([]byte(testConfig))
	require.NoError(t, err)
	require.Equal(t, confirm.Static(true), selectGate(cfg, true))
	require.IsType(t, &confirm.Gate{}, selectGate(cfg, false))

	off := false
	cfg.Confirm.Destructive = &off
	require.Equal(t, confirm.Static(true), selectGate(cfg, false))
}

func TestKubeClientCarriesAWSCredentials(t *testing.T) {
	isolateEnv(t)
	p := testProject(t, map[string]string{
		"AWS_ACCESS_KEY_ID":     "AKIA1",
		"AWS_SECRET_ACCESS_KEY": "s3cret",
	})
	rec := execxtest.NewRecorder()
	c := newKubeClient(p.cfg, "/tmp/kc", terraformEnv(p.cfg, p.secrets), rec)

	_, err := c.GetNodes(context.Background(), logging.Discard())
	require.NoError(t, err)
	env := rec.Calls()[0].Command.Env
	require.Contains(t, env, "AWS_ACCESS_KEY_ID=AKIA1")
	require.Contains(t, env, "AWS_SECRET_ACCESS_KEY=s3cret")
	require.Contains(t, env, "KUBECONFIG=/tmp/kc")
}
