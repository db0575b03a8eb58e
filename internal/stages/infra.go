package stages

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/codex-k8s/shipctl/internal/config"
	"github.com/codex-k8s/shipctl/internal/kube"
	"github.com/codex-k8s/shipctl/internal/pipeline"
	"github.com/codex-k8s/shipctl/internal/terraform"
)

func (h *handlers) terraformVars() (map[string]string, error) {
	return config.RenderMap("terraform.vars", h.deps.Config.Terraform.Vars, h.tmpl)
}

func (h *handlers) destroyInfra(ctx context.Context, rc *pipeline.RunContext) error {
	vars, err := h.terraformVars()
	if err != nil {
		return err
	}
	if err := h.deps.Terraform.Init(ctx, rc.Logger); err != nil {
		return err
	}
	return h.deps.Terraform.Destroy(ctx, rc.Logger, vars)
}

func (h *handlers) cleanState(_ context.Context, rc *pipeline.RunContext) error {
	tf := h.deps.Config.Terraform
	removed, err := terraform.CleanState(h.deps.Config.TerraformDir(), tf.PlanFile, tf.StateFiles)
	if err != nil {
		return err
	}
	rc.Logger.Info("removed local terraform state", "files", removed)
	return nil
}

func (h *handlers) terraformPlan(ctx context.Context, rc *pipeline.RunContext) error {
	vars, err := h.terraformVars()
	if err != nil {
		return err
	}
	if err := h.deps.Terraform.Init(ctx, rc.Logger); err != nil {
		return err
	}
	if err := h.deps.Terraform.Validate(ctx, rc.Logger); err != nil {
		return err
	}
	res, err := h.deps.Terraform.Plan(ctx, rc.Logger, vars)
	if err != nil {
		return err
	}
	rc.SetOutput(OutputPlanPath, res.PlanPath)
	rc.SetOutput(OutputPlanChanges, strconv.FormatBool(res.HasChanges))
	rc.Logger.Info("plan saved", "path", res.PlanPath, "changes", res.HasChanges)

	if h.deps.Archiver != nil {
		key, err := h.deps.Archiver.ArchivePlan(ctx, h.deps.Config.Project, rc.RunID, res.PlanPath)
		if err != nil {
			rc.Logger.Warn("plan archive upload failed", "error", err)
			return nil
		}
		rc.SetOutput(OutputPlanArchive, key)
		rc.Logger.Info("plan archived", "key", key)
	}
	return nil
}

func (h *handlers) cleanupResources(ctx context.Context, rc *pipeline.RunContext) error {
	if len(h.deps.Config.Kube.Cleanup) == 0 {
		rc.Logger.Info("no cleanup targets configured")
		return nil
	}
	if err := h.ensureKubeAccess(ctx, rc); err != nil {
		return fmt.Errorf("cluster access for cleanup: %w", err)
	}
	var errs []error
	for _, t := range h.deps.Config.Kube.Cleanup {
		target := kube.DeleteTarget{
			Kind:      t.Kind,
			Namespace: t.Namespace,
			Selector:  t.Selector,
			Names:     t.Names,
			All:       t.All,
		}
		rc.Logger.Info("deleting conflicting resources", "target", target.String())
		if err := h.deps.Kube.DeleteResources(ctx, rc.Logger, target); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (h *handlers) terraformApply(ctx context.Context, rc *pipeline.RunContext) error {
	if err := h.deps.Terraform.Apply(ctx, rc.Logger); err != nil {
		return err
	}
	name, err := h.deps.Terraform.Output(ctx, rc.Logger, h.deps.Config.Terraform.ClusterOutput)
	if err != nil {
		rc.Logger.Warn("cluster name output unavailable", "output", h.deps.Config.Terraform.ClusterOutput, "error", err)
		return nil
	}
	rc.SetOutput(OutputClusterName, name)
	return nil
}
