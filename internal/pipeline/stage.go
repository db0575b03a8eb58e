package pipeline

// StageID identifies a stage in the fixed stage table.
type StageID string

const (
	StageDestroyInfra     StageID = "destroy-infra"
	StageCleanState       StageID = "clean-state"
	StageBuildClient      StageID = "build-client"
	StageBuildServer      StageID = "build-server"
	StagePushClient       StageID = "push-client"
	StagePushServer       StageID = "push-server"
	StageTerraformPlan    StageID = "terraform-plan"
	StageCleanupResources StageID = "cleanup-resources"
	StageTerraformApply   StageID = "terraform-apply"
	StageConfigureCluster StageID = "configure-cluster"
	StageVerifyMonitoring StageID = "verify-monitoring"
	StageEpilogue         StageID = "epilogue"
)

// Kind classifies the side effect a stage has.
type Kind string

const (
	KindBuild   Kind = "build"
	KindPush    Kind = "push"
	KindPlan    Kind = "plan"
	KindApply   Kind = "apply"
	KindDestroy Kind = "destroy"
	KindVerify  Kind = "verify"
	KindCleanup Kind = "cleanup"
)

// Policy decides whether a stage failure aborts the run.
type Policy string

const (
	// PolicyFatal aborts the remaining stages on failure.
	PolicyFatal Policy = "fatal"
	// PolicyBestEffort logs the failure as a warning and continues.
	PolicyBestEffort Policy = "best-effort"
)

// Image lanes used by the concurrent image mode.
const (
	LaneClient = "client"
	LaneServer = "server"
)

// Secret names understood by the stage table. The config maps each to an env key.
const (
	SecretAWSAccessKeyID       = "aws_access_key_id"
	SecretAWSSecretAccessKey   = "aws_secret_access_key"
	SecretDBPassword           = "db_password"
	SecretJWTSecret            = "jwt_secret"
	SecretGrafanaAdminPassword = "grafana_admin_password"
	SecretStripePublishableKey = "stripe_publishable_key"
	SecretRegistryUsername     = "registry_username"
	SecretRegistryPassword     = "registry_password"
)

// Stage describes one row of the stage table.
type Stage struct {
	// ID is the stable stage identifier.
	ID StageID
	// Name is the human-readable label.
	Name string
	// Kind is the side-effect classification.
	Kind Kind
	// Policy is the failure policy.
	Policy Policy
	// Lane groups image stages that may run concurrently with the other lane.
	Lane string
	// Destructive stages are gated behind operator confirmation.
	Destructive bool
	// Secrets lists the secret names the stage needs.
	Secrets []string

	actions []Action
}

// IncludedIn reports whether the stage runs for the given action.
func (s Stage) IncludedIn(a Action) bool {
	for _, candidate := range s.actions {
		if candidate == a {
			return true
		}
	}
	return false
}

// Actions returns the actions that include the stage.
func (s Stage) Actions() []Action {
	out := make([]Action, len(s.actions))
	copy(out, s.actions)
	return out
}

// BestEffort reports whether failures of the stage are absorbed.
func (s Stage) BestEffort() bool {
	return s.Policy == PolicyBestEffort
}

var (
	awsSecrets       = []string{SecretAWSAccessKeyID, SecretAWSSecretAccessKey}
	terraformSecrets = []string{
		SecretAWSAccessKeyID,
		SecretAWSSecretAccessKey,
		SecretDBPassword,
		SecretJWTSecret,
		SecretGrafanaAdminPassword,
	}
	registrySecrets = []string{SecretRegistryUsername, SecretRegistryPassword}
)

// stageTable is the single source of truth for ordering, inclusion and failure policy.
var stageTable = []Stage{
	{
		ID: StageDestroyInfra, Name: "Destroy infrastructure", Kind: KindDestroy, Policy: PolicyBestEffort,
		Destructive: true, Secrets: terraformSecrets,
		actions: []Action{ActionTerraformDestroy, ActionTerraformCleanAndApply},
	},
	{
		ID: StageCleanState, Name: "Clean state files", Kind: KindCleanup, Policy: PolicyFatal,
		Destructive: true,
		actions:     []Action{ActionTerraformCleanAndApply},
	},
	{
		ID: StageBuildClient, Name: "Build client image", Kind: KindBuild, Policy: PolicyFatal,
		Lane: LaneClient, Secrets: []string{SecretStripePublishableKey},
		actions: []Action{ActionDockerOnly, ActionFullDeploy},
	},
	{
		ID: StageBuildServer, Name: "Build server image", Kind: KindBuild, Policy: PolicyFatal,
		Lane:    LaneServer,
		actions: []Action{ActionDockerOnly, ActionFullDeploy},
	},
	{
		ID: StagePushClient, Name: "Push client image", Kind: KindPush, Policy: PolicyFatal,
		Lane: LaneClient, Secrets: registrySecrets,
		actions: []Action{ActionDockerOnly, ActionFullDeploy},
	},
	{
		ID: StagePushServer, Name: "Push server image", Kind: KindPush, Policy: PolicyFatal,
		Lane: LaneServer, Secrets: registrySecrets,
		actions: []Action{ActionDockerOnly, ActionFullDeploy},
	},
	{
		ID: StageTerraformPlan, Name: "Terraform init/validate/plan", Kind: KindPlan, Policy: PolicyFatal,
		Secrets: terraformSecrets,
		actions: []Action{ActionTerraformPlan, ActionTerraformApply, ActionFullDeploy, ActionTerraformCleanAndApply},
	},
	{
		ID: StageCleanupResources, Name: "Cleanup existing Kubernetes resources", Kind: KindCleanup, Policy: PolicyBestEffort,
		Secrets: awsSecrets,
		actions: []Action{ActionTerraformApply, ActionFullDeploy, ActionTerraformCleanAndApply},
	},
	{
		ID: StageTerraformApply, Name: "Terraform apply", Kind: KindApply, Policy: PolicyFatal,
		Secrets: awsSecrets,
		actions: []Action{ActionTerraformApply, ActionFullDeploy, ActionTerraformCleanAndApply},
	},
	{
		ID: StageConfigureCluster, Name: "Configure cluster access", Kind: KindVerify, Policy: PolicyFatal,
		Secrets: awsSecrets,
		actions: []Action{ActionTerraformApply, ActionFullDeploy, ActionTerraformCleanAndApply},
	},
	{
		ID: StageVerifyMonitoring, Name: "Verify monitoring", Kind: KindVerify, Policy: PolicyBestEffort,
		Secrets: awsSecrets,
		actions: []Action{ActionFullDeploy},
	},
}

// epilogueStage always runs after the stages of a plan, regardless of outcome.
var epilogueStage = Stage{
	ID:      StageEpilogue,
	Name:    "Logout and cleanup",
	Kind:    KindCleanup,
	Policy:  PolicyBestEffort,
	actions: allActions,
}

// Stages returns a copy of the stage table in execution order.
func Stages() []Stage {
	out := make([]Stage, len(stageTable))
	copy(out, stageTable)
	return out
}

// Epilogue returns the unconditional final stage.
func Epilogue() Stage {
	return epilogueStage
}

// LookupStage finds a stage by ID, including the epilogue.
func LookupStage(id StageID) (Stage, bool) {
	if id == StageEpilogue {
		return epilogueStage, true
	}
	for _, s := range stageTable {
		if s.ID == id {
			return s, true
		}
	}
	return Stage{}, false
}
