package stages

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/codex-k8s/shipctl/internal/pipeline"
)

func (h *handlers) clusterName(ctx context.Context, rc *pipeline.RunContext) (string, error) {
	if name, ok := rc.Output(OutputClusterName); ok && name != "" {
		return name, nil
	}
	name, err := h.deps.Terraform.Output(ctx, rc.Logger, h.deps.Config.Terraform.ClusterOutput)
	if err != nil {
		return "", fmt.Errorf("resolve cluster name: %w", err)
	}
	rc.SetOutput(OutputClusterName, name)
	return name, nil
}

// updateKubeconfig writes cluster credentials for the resolved cluster.
func (h *handlers) updateKubeconfig(ctx context.Context, rc *pipeline.RunContext) (string, error) {
	cluster, err := h.clusterName(ctx, rc)
	if err != nil {
		return "", err
	}
	if err := h.deps.Kube.UpdateKubeconfig(ctx, rc.Logger, cluster, h.deps.Config.Terraform.Region, h.awsEnv()); err != nil {
		return "", err
	}
	h.kubeReady = true
	return cluster, nil
}

// ensureKubeAccess makes sure kubectl has credentials before configure-cluster ran,
// using the cluster recorded in the existing terraform state. A user supplied
// kubeconfig is trusted as is.
func (h *handlers) ensureKubeAccess(ctx context.Context, rc *pipeline.RunContext) error {
	if h.deps.Config.Kube.Kubeconfig != "" || h.kubeReady {
		return nil
	}
	_, err := h.updateKubeconfig(ctx, rc)
	return err
}

func (h *handlers) configureCluster(ctx context.Context, rc *pipeline.RunContext) error {
	cluster, err := h.updateKubeconfig(ctx, rc)
	if err != nil {
		return err
	}
	nodes, err := h.deps.Kube.GetNodes(ctx, rc.Logger)
	if err != nil {
		return err
	}
	rc.Logger.Info("cluster reachable", "cluster", cluster, "nodes", countRows(nodes))
	return nil
}

func (h *handlers) verifyMonitoring(ctx context.Context, rc *pipeline.RunContext) error {
	mon := h.deps.Config.Kube.Monitoring
	if err := h.ensureKubeAccess(ctx, rc); err != nil {
		return err
	}
	if err := h.deps.Kube.WaitForDeployments(ctx, rc.Logger, mon.Namespace, mon.WaitTimeout, mon.Deployments...); err != nil {
		return err
	}
	pods, err := h.deps.Kube.GetPods(ctx, rc.Logger, mon.Namespace)
	if err != nil {
		return err
	}
	rc.Logger.Info("monitoring stack ready", "namespace", mon.Namespace, "pods", countRows(pods))
	return nil
}

// epilogue releases what the run acquired. It must not depend on which stages ran.
func (h *handlers) epilogue(ctx context.Context, rc *pipeline.RunContext) error {
	var errs []error
	if h.deps.Docker != nil && h.deps.Docker.LoggedIn() {
		if err := h.deps.Docker.Logout(ctx, rc.Logger); err != nil {
			errs = append(errs, err)
		}
	}
	if h.deps.TempKubeconfig != "" {
		if err := os.Remove(h.deps.TempKubeconfig); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("remove temp kubeconfig: %w", err))
		}
	}
	return errors.Join(errs...)
}

// countRows counts data rows in kubectl table output.
func countRows(table string) int {
	lines := strings.Split(strings.TrimSpace(table), "\n")
	if len(lines) <= 1 {
		return 0
	}
	return len(lines) - 1
}
