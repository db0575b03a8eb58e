package pipeline

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseAction(t *testing.T) {
	a, err := ParseAction(" Full-Deploy ")
	require.NoError(t, err)
	require.Equal(t, ActionFullDeploy, a)

	_, err = ParseAction("deploy-everything")
	require.Error(t, err)
	var ae *ActionError
	require.ErrorAs(t, err, &ae)
	require.Contains(t, err.Error(), "terraform-clean-and-apply")
}

func TestPlanMatchesInclusionTable(t *testing.T) {
	cases := map[Action][]StageID{
		ActionDockerOnly: {
			StageBuildClient, StageBuildServer, StagePushClient, StagePushServer,
		},
		ActionTerraformPlan: {
			StageTerraformPlan,
		},
		ActionTerraformApply: {
			StageTerraformPlan, StageCleanupResources, StageTerraformApply, StageConfigureCluster,
		},
		ActionTerraformDestroy: {
			StageDestroyInfra,
		},
		ActionFullDeploy: {
			StageBuildClient, StageBuildServer, StagePushClient, StagePushServer,
			StageTerraformPlan, StageCleanupResources, StageTerraformApply, StageConfigureCluster,
			StageVerifyMonitoring,
		},
		ActionTerraformCleanAndApply: {
			StageDestroyInfra, StageCleanState, StageTerraformPlan, StageCleanupResources,
			StageTerraformApply, StageConfigureCluster,
		},
	}
	require.Len(t, cases, len(Actions()))

	for action, want := range cases {
		t.Run(string(action), func(t *testing.T) {
			plan, err := NewPlan(action)
			require.NoError(t, err)
			require.Equal(t, want, plan.IDs())
		})
	}
}

func TestPlanRejectsUnknownAction(t *testing.T) {
	_, err := NewPlan(Action("nope"))
	require.Error(t, err)
}

func TestDockerOnlyNeverTouchesInfrastructure(t *testing.T) {
	plan, err := NewPlan(ActionDockerOnly)
	require.NoError(t, err)
	kinds := plan.Kinds()
	for _, k := range []Kind{KindPlan, KindApply, KindDestroy, KindVerify, KindCleanup} {
		require.False(t, kinds[k], "docker-only must not include %s stages", k)
	}
	require.Empty(t, plan.Destructive())
}

func TestDestroyNeverBuildsOrPushes(t *testing.T) {
	plan, err := NewPlan(ActionTerraformDestroy)
	require.NoError(t, err)
	kinds := plan.Kinds()
	require.False(t, kinds[KindBuild])
	require.False(t, kinds[KindPush])
	require.True(t, kinds[KindDestroy])
}

func TestStageOrderIsStableAcrossActions(t *testing.T) {
	position := make(map[StageID]int)
	for i, s := range Stages() {
		position[s.ID] = i
	}
	for _, action := range Actions() {
		plan, err := NewPlan(action)
		require.NoError(t, err)
		for i := 1; i < len(plan.Stages); i++ {
			require.Less(t, position[plan.Stages[i-1].ID], position[plan.Stages[i].ID], "action %s", action)
		}
	}
}

func TestFailurePolicies(t *testing.T) {
	bestEffort := map[StageID]bool{
		StageDestroyInfra:     true,
		StageCleanupResources: true,
		StageVerifyMonitoring: true,
	}
	for _, s := range Stages() {
		require.Equal(t, bestEffort[s.ID], s.BestEffort(), "stage %s", s.ID)
	}
}

func TestRequiredSecretsAreDistinct(t *testing.T) {
	plan, err := NewPlan(ActionFullDeploy)
	require.NoError(t, err)
	secrets := plan.RequiredSecrets()
	require.ElementsMatch(t, []string{
		SecretStripePublishableKey,
		SecretRegistryUsername,
		SecretRegistryPassword,
		SecretAWSAccessKeyID,
		SecretAWSSecretAccessKey,
		SecretDBPassword,
		SecretJWTSecret,
		SecretGrafanaAdminPassword,
	}, secrets)
	require.Equal(t, SecretStripePublishableKey, secrets[0])
}

func TestCleanAndApplyIsDestructive(t *testing.T) {
	plan, err := NewPlan(ActionTerraformCleanAndApply)
	require.NoError(t, err)
	var ids []StageID
	for _, s := range plan.Destructive() {
		ids = append(ids, s.ID)
	}
	require.Equal(t, []StageID{StageDestroyInfra, StageCleanState}, ids)
}
