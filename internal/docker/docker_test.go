package docker

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/codex-k8s/shipctl/internal/execx/execxtest"
	"github.com/codex-k8s/shipctl/internal/logging"
)

func TestBuildUsesTagsAndSortedArgs(t *testing.T) {
	rec := execxtest.NewRecorder()
	c := NewClient(rec)
	err := c.Build(context.Background(), logging.Discard(), BuildSpec{
		Repository: "acme/shop-client",
		Tags:       []string{"42", "latest"},
		Dockerfile: "client/Dockerfile",
		Context:    "client",
		BuildArgs:  map[string]string{"STRIPE_KEY": "pk_test", "API_URL": "https://api"},
	})
	require.NoError(t, err)
	require.Equal(t, []string{
		"docker build -t acme/shop-client:42 -t acme/shop-client:latest -f client/Dockerfile " +
			"--build-arg API_URL=https://api --build-arg STRIPE_KEY=pk_test client",
	}, rec.Lines())
	require.Contains(t, rec.Calls()[0].Command.Secrets, "pk_test")
}

func TestBuildValidates(t *testing.T) {
	c := NewClient(execxtest.NewRecorder())
	require.Error(t, c.Build(context.Background(), logging.Discard(), BuildSpec{Tags: []string{"1"}}))
	require.Error(t, c.Build(context.Background(), logging.Discard(), BuildSpec{Repository: "a"}))
}

func TestLoginOnceAndLogout(t *testing.T) {
	rec := execxtest.NewRecorder()
	c := NewClient(rec)
	ctx := context.Background()

	require.False(t, c.LoggedIn())
	require.NoError(t, c.Login(ctx, logging.Discard(), "", "bot", "s3cret"))
	require.NoError(t, c.Login(ctx, logging.Discard(), "", "bot", "s3cret"))
	require.True(t, c.LoggedIn())
	require.NoError(t, c.Logout(ctx, logging.Discard()))
	require.False(t, c.LoggedIn())

	calls := rec.Calls()
	require.Len(t, calls, 2)
	require.Equal(t, "docker login --username bot --password-stdin", calls[0].Line())
	require.Equal(t, "s3cret", calls[0].Stdin)
	require.NotContains(t, calls[0].Line(), "s3cret")
	require.Equal(t, "docker logout", calls[1].Line())
}

func TestLoginFailureIsNotRemembered(t *testing.T) {
	rec := execxtest.NewRecorder().FailOn("docker login", errors.New("unauthorized"))
	c := NewClient(rec)
	err := c.Login(context.Background(), logging.Discard(), "ghcr.io", "bot", "bad")
	require.ErrorContains(t, err, "unauthorized")
	require.False(t, c.LoggedIn())
	require.NoError(t, c.Logout(context.Background(), logging.Discard()))
	require.Len(t, rec.Calls(), 1)
}

func TestLoginRequiresCredentials(t *testing.T) {
	c := NewClient(execxtest.NewRecorder())
	require.Error(t, c.Login(context.Background(), logging.Discard(), "", "", "x"))
}

func TestPushEachRef(t *testing.T) {
	rec := execxtest.NewRecorder().FailOn("docker push acme/api:latest", errors.New("denied"))
	c := NewClient(rec)
	err := c.Push(context.Background(), logging.Discard(), "acme/api:42", "acme/api:latest")
	require.ErrorContains(t, err, "denied")
	require.Equal(t, []string{"docker push acme/api:42", "docker push acme/api:latest"}, rec.Lines())
}
