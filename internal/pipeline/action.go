// Package pipeline contains the deployment action orchestrator: the fixed stage table,
// the per-action plan derived from it and the executor that runs a plan.
package pipeline

import (
	"strings"
)

// Action selects which stages of the pipeline run. Exactly one action is bound per run.
type Action string

const (
	// ActionDockerOnly builds and pushes images without touching infrastructure.
	ActionDockerOnly Action = "docker-only"
	// ActionTerraformPlan runs terraform init, validate and plan.
	ActionTerraformPlan Action = "terraform-plan"
	// ActionTerraformApply plans and applies infrastructure and configures cluster access.
	ActionTerraformApply Action = "terraform-apply"
	// ActionTerraformDestroy tears down infrastructure.
	ActionTerraformDestroy Action = "terraform-destroy"
	// ActionFullDeploy builds images, applies infrastructure and verifies monitoring.
	ActionFullDeploy Action = "full-deploy"
	// ActionTerraformCleanAndApply destroys, resets local state and applies from scratch.
	ActionTerraformCleanAndApply Action = "terraform-clean-and-apply"
)

var allActions = []Action{
	ActionDockerOnly,
	ActionTerraformPlan,
	ActionTerraformApply,
	ActionTerraformDestroy,
	ActionFullDeploy,
	ActionTerraformCleanAndApply,
}

// Actions returns every supported action in declaration order.
func Actions() []Action {
	out := make([]Action, len(allActions))
	copy(out, allActions)
	return out
}

// ParseAction converts a textual action into an Action value.
func ParseAction(value string) (Action, error) {
	v := Action(strings.ToLower(strings.TrimSpace(value)))
	for _, a := range allActions {
		if a == v {
			return a, nil
		}
	}
	return "", &ActionError{Value: value}
}

// String returns the action name.
func (a Action) String() string {
	return string(a)
}
