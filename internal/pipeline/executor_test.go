package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu    sync.Mutex
	calls []StageID
}

func (r *recorder) add(id StageID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, id)
}

func (r *recorder) list() []StageID {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]StageID, len(r.calls))
	copy(out, r.calls)
	return out
}

// recordingHandlers returns handlers for every stage; failures maps a stage to the error it
// returns.
func recordingHandlers(rec *recorder, failures map[StageID]error) Handlers {
	h := make(Handlers)
	for _, s := range append(Stages(), Epilogue()) {
		id := s.ID
		h[id] = func(_ context.Context, rc *RunContext) error {
			rec.add(id)
			if rc.Stage.ID != id {
				return errors.New("run context bound to wrong stage")
			}
			return failures[id]
		}
	}
	return h
}

type staticSecrets map[string]bool

func (s staticSecrets) Has(name string) bool { return s[name] }

func allSecrets() staticSecrets {
	out := make(staticSecrets)
	for _, s := range Stages() {
		for _, n := range s.Secrets {
			out[n] = true
		}
	}
	return out
}

type stubGate struct {
	answer bool
	err    error
	asked  []Stage
}

func (g *stubGate) Confirm(_ context.Context, _ Action, stages []Stage) (bool, error) {
	g.asked = stages
	return g.answer, g.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestExecutor(h Handlers, opts ...Option) *Executor {
	base := []Option{
		WithLogger(testLogger()),
		WithSecrets(allSecrets()),
		WithIDGenerator(func() string { return "run-1" }),
	}
	return NewExecutor(h, append(base, opts...)...)
}

func mustPlan(t *testing.T, a Action) Plan {
	t.Helper()
	p, err := NewPlan(a)
	require.NoError(t, err)
	return p
}

func TestExecutedStagesMatchPlanForEveryAction(t *testing.T) {
	for _, action := range Actions() {
		t.Run(string(action), func(t *testing.T) {
			rec := &recorder{}
			plan := mustPlan(t, action)
			run, err := newTestExecutor(recordingHandlers(rec, nil)).Run(context.Background(), plan)
			require.NoError(t, err)
			require.Equal(t, StatusSucceeded, run.Status)

			want := append(plan.IDs(), StageEpilogue)
			require.Equal(t, want, rec.list())
			require.Equal(t, plan.IDs(), run.Executed())
		})
	}
}

func TestFullDeployOrder(t *testing.T) {
	rec := &recorder{}
	run, err := newTestExecutor(recordingHandlers(rec, nil)).Run(context.Background(), mustPlan(t, ActionFullDeploy))
	require.NoError(t, err)
	require.Equal(t, []StageID{
		StageBuildClient,
		StageBuildServer,
		StagePushClient,
		StagePushServer,
		StageTerraformPlan,
		StageCleanupResources,
		StageTerraformApply,
		StageConfigureCluster,
		StageVerifyMonitoring,
		StageEpilogue,
	}, rec.list())
	require.Equal(t, "run-1", run.ID)
	require.Equal(t, OutcomeSucceeded, run.Epilogue.Outcome)
}

func TestCleanAndApplyStrictOrdering(t *testing.T) {
	rec := &recorder{}
	_, err := newTestExecutor(recordingHandlers(rec, nil)).Run(context.Background(), mustPlan(t, ActionTerraformCleanAndApply))
	require.NoError(t, err)

	idx := make(map[StageID]int)
	for i, id := range rec.list() {
		idx[id] = i
	}
	require.Less(t, idx[StageDestroyInfra], idx[StageCleanState])
	require.Less(t, idx[StageCleanState], idx[StageTerraformPlan])
	require.Less(t, idx[StageTerraformPlan], idx[StageTerraformApply])
}

func TestFatalFailureHaltsRun(t *testing.T) {
	rec := &recorder{}
	boom := errors.New("apply exploded")
	h := recordingHandlers(rec, map[StageID]error{StageTerraformApply: boom})

	run, err := newTestExecutor(h).Run(context.Background(), mustPlan(t, ActionFullDeploy))
	require.Error(t, err)
	require.ErrorIs(t, err, boom)

	id, ok := FailedStage(err)
	require.True(t, ok)
	require.Equal(t, StageTerraformApply, id)
	require.Equal(t, StageTerraformApply, run.FailedStage)
	require.Equal(t, StatusFailed, run.Status)

	calls := rec.list()
	require.NotContains(t, calls, StageConfigureCluster)
	require.NotContains(t, calls, StageVerifyMonitoring)
	require.Equal(t, StageEpilogue, calls[len(calls)-1])

	outcomes := make(map[StageID]Outcome)
	for _, r := range run.Stages {
		outcomes[r.Stage] = r.Outcome
	}
	require.Equal(t, OutcomeFailed, outcomes[StageTerraformApply])
	require.Equal(t, OutcomeSkipped, outcomes[StageConfigureCluster])
	require.Equal(t, OutcomeSkipped, outcomes[StageVerifyMonitoring])
}

func TestBestEffortFailuresAreAbsorbed(t *testing.T) {
	for _, id := range []StageID{StageCleanupResources, StageVerifyMonitoring} {
		t.Run(string(id), func(t *testing.T) {
			rec := &recorder{}
			h := recordingHandlers(rec, map[StageID]error{id: errors.New("not there yet")})

			run, err := newTestExecutor(h).Run(context.Background(), mustPlan(t, ActionFullDeploy))
			require.NoError(t, err)
			require.Equal(t, StatusSucceededWithWarning, run.Status)
			require.Len(t, run.Warnings(), 1)
			require.Equal(t, id, run.Warnings()[0].Stage)
			require.Contains(t, rec.list(), StageEpilogue)
		})
	}
}

func TestDestroyFailureDoesNotBlockCleanAndApply(t *testing.T) {
	rec := &recorder{}
	h := recordingHandlers(rec, map[StageID]error{StageDestroyInfra: errors.New("nothing to destroy")})

	run, err := newTestExecutor(h).Run(context.Background(), mustPlan(t, ActionTerraformCleanAndApply))
	require.NoError(t, err)
	require.Equal(t, StatusSucceededWithWarning, run.Status)
	require.Contains(t, rec.list(), StageTerraformApply)
}

func TestEpilogueRunsOnFailurePaths(t *testing.T) {
	rec := &recorder{}
	h := recordingHandlers(rec, map[StageID]error{StageBuildClient: errors.New("docker daemon down")})

	run, err := newTestExecutor(h).Run(context.Background(), mustPlan(t, ActionDockerOnly))
	require.Error(t, err)
	require.Equal(t, []StageID{StageBuildClient, StageEpilogue}, rec.list())
	require.Equal(t, OutcomeSucceeded, run.Epilogue.Outcome)
}

func TestEpilogueFailureReportsWarning(t *testing.T) {
	rec := &recorder{}
	h := recordingHandlers(rec, map[StageID]error{StageEpilogue: errors.New("logout failed")})

	run, err := newTestExecutor(h).Run(context.Background(), mustPlan(t, ActionTerraformPlan))
	require.NoError(t, err)
	require.Equal(t, StatusSucceededWithWarning, run.Status)
	require.Equal(t, OutcomeWarned, run.Epilogue.Outcome)
	require.Equal(t, []StageResult{run.Epilogue}, run.Warnings())
}

func TestMissingSecretsFailFast(t *testing.T) {
	rec := &recorder{}
	secrets := allSecrets()
	delete(secrets, SecretDBPassword)
	delete(secrets, SecretRegistryPassword)

	run, err := newTestExecutor(recordingHandlers(rec, nil), WithSecrets(secrets)).
		Run(context.Background(), mustPlan(t, ActionFullDeploy))
	require.Error(t, err)

	var mse *MissingSecretsError
	require.ErrorAs(t, err, &mse)
	require.Equal(t, []string{SecretRegistryPassword, SecretDBPassword}, mse.Names())
	require.Contains(t, err.Error(), string(StagePushClient))
	require.Empty(t, run.Executed())
	require.Equal(t, []StageID{StageEpilogue}, rec.list())
}

func TestSecretsOnlyCheckedForIncludedStages(t *testing.T) {
	secrets := staticSecrets{
		SecretStripePublishableKey: true,
		SecretRegistryUsername:     true,
		SecretRegistryPassword:     true,
	}
	rec := &recorder{}
	_, err := newTestExecutor(recordingHandlers(rec, nil), WithSecrets(secrets)).
		Run(context.Background(), mustPlan(t, ActionDockerOnly))
	require.NoError(t, err)
}

func TestGateRefusalStopsDestructiveRun(t *testing.T) {
	rec := &recorder{}
	gate := &stubGate{answer: false}

	run, err := newTestExecutor(recordingHandlers(rec, nil), WithGate(gate)).
		Run(context.Background(), mustPlan(t, ActionTerraformCleanAndApply))
	require.ErrorIs(t, err, ErrNotConfirmed)
	require.True(t, IsNotConfirmed(err))
	require.Len(t, gate.asked, 2)
	require.Equal(t, []StageID{StageEpilogue}, rec.list())
	require.Equal(t, StatusFailed, run.Status)
}

func TestGateNotAskedWithoutDestructiveStages(t *testing.T) {
	rec := &recorder{}
	gate := &stubGate{answer: false}

	_, err := newTestExecutor(recordingHandlers(rec, nil), WithGate(gate)).
		Run(context.Background(), mustPlan(t, ActionTerraformApply))
	require.NoError(t, err)
	require.Nil(t, gate.asked)
}

func TestGateApprovalRunsDestroy(t *testing.T) {
	rec := &recorder{}
	gate := &stubGate{answer: true}

	_, err := newTestExecutor(recordingHandlers(rec, nil), WithGate(gate)).
		Run(context.Background(), mustPlan(t, ActionTerraformDestroy))
	require.NoError(t, err)
	require.Equal(t, []StageID{StageDestroyInfra, StageEpilogue}, rec.list())
}

func TestParallelLanesKeepLaneOrder(t *testing.T) {
	rec := &recorder{}
	run, err := newTestExecutor(recordingHandlers(rec, nil), WithParallelImages(true)).
		Run(context.Background(), mustPlan(t, ActionFullDeploy))
	require.NoError(t, err)

	idx := make(map[StageID]int)
	for i, id := range rec.list() {
		idx[id] = i
	}
	require.Less(t, idx[StageBuildClient], idx[StagePushClient])
	require.Less(t, idx[StageBuildServer], idx[StagePushServer])
	for _, img := range []StageID{StageBuildClient, StageBuildServer, StagePushClient, StagePushServer} {
		require.Less(t, idx[img], idx[StageTerraformPlan])
	}
	require.Equal(t, []StageID{
		StageBuildClient, StageBuildServer, StagePushClient, StagePushServer,
	}, []StageID{run.Stages[0].Stage, run.Stages[1].Stage, run.Stages[2].Stage, run.Stages[3].Stage})
}

func TestParallelLaneFailureIsFatal(t *testing.T) {
	rec := &recorder{}
	h := recordingHandlers(rec, map[StageID]error{StageBuildServer: errors.New("bad Dockerfile")})

	run, err := newTestExecutor(h, WithParallelImages(true)).Run(context.Background(), mustPlan(t, ActionFullDeploy))
	require.Error(t, err)
	require.Equal(t, StageBuildServer, run.FailedStage)
	calls := rec.list()
	require.NotContains(t, calls, StagePushServer)
	require.NotContains(t, calls, StageTerraformPlan)
	require.Equal(t, StageEpilogue, calls[len(calls)-1])
}

func TestRunTimeoutStillRunsEpilogue(t *testing.T) {
	rec := &recorder{}
	h := recordingHandlers(rec, nil)
	h[StageTerraformPlan] = func(ctx context.Context, _ *RunContext) error {
		rec.add(StageTerraformPlan)
		<-ctx.Done()
		return ctx.Err()
	}

	run, err := newTestExecutor(h, WithTimeout(20*time.Millisecond)).
		Run(context.Background(), mustPlan(t, ActionTerraformApply))
	require.Error(t, err)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, []StageID{StageTerraformPlan, StageEpilogue}, rec.list())
	require.Equal(t, StatusFailed, run.Status)
}

func TestCancelBetweenStagesNamesNextStage(t *testing.T) {
	rec := &recorder{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := recordingHandlers(rec, nil)
	h[StageTerraformPlan] = func(context.Context, *RunContext) error {
		rec.add(StageTerraformPlan)
		cancel()
		return nil
	}

	run, err := newTestExecutor(h).Run(ctx, mustPlan(t, ActionTerraformApply))
	require.ErrorIs(t, err, context.Canceled)
	id, ok := FailedStage(err)
	require.True(t, ok)
	require.Equal(t, StageCleanupResources, id)
	require.Equal(t, StageCleanupResources, run.FailedStage)
	require.Equal(t, StatusFailed, run.Status)
	require.Equal(t, OutcomeSucceeded, run.Stages[0].Outcome)
	require.Equal(t, OutcomeFailed, run.Stages[1].Outcome)
	require.Equal(t, OutcomeSkipped, run.Stages[2].Outcome)
	require.Equal(t, []StageID{StageTerraformPlan, StageEpilogue}, rec.list())
}

func TestCancelDuringParallelLanesNamesStage(t *testing.T) {
	rec := &recorder{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := recordingHandlers(rec, nil)
	for _, id := range []StageID{StageBuildClient, StageBuildServer} {
		h[id] = func(context.Context, *RunContext) error {
			rec.add(id)
			cancel()
			return nil
		}
	}

	run, err := newTestExecutor(h, WithParallelImages(true)).Run(ctx, mustPlan(t, ActionDockerOnly))
	require.ErrorIs(t, err, context.Canceled)
	require.Contains(t, []StageID{StageBuildServer, StagePushClient, StagePushServer}, run.FailedStage)
	require.NotContains(t, rec.list(), StagePushClient)
	require.NotContains(t, rec.list(), StagePushServer)
}

func TestMissingHandlerIsFatal(t *testing.T) {
	rec := &recorder{}
	h := recordingHandlers(rec, nil)
	delete(h, StageTerraformPlan)

	run, err := newTestExecutor(h).Run(context.Background(), mustPlan(t, ActionTerraformPlan))
	require.Error(t, err)
	require.Equal(t, StageTerraformPlan, run.FailedStage)
}

func TestOutputsFlowBetweenStages(t *testing.T) {
	rec := &recorder{}
	h := recordingHandlers(rec, nil)
	h[StageTerraformApply] = func(_ context.Context, rc *RunContext) error {
		rc.SetOutput("cluster_name", "shop-eks")
		return nil
	}
	var seen string
	h[StageConfigureCluster] = func(_ context.Context, rc *RunContext) error {
		seen, _ = rc.Output("cluster_name")
		return nil
	}

	run, err := newTestExecutor(h).Run(context.Background(), mustPlan(t, ActionTerraformApply))
	require.NoError(t, err)
	require.Equal(t, "shop-eks", seen)
	require.Equal(t, "shop-eks", run.Outputs["cluster_name"])
}
