package stages

import (
	"context"
	"fmt"

	"github.com/codex-k8s/shipctl/internal/config"
	"github.com/codex-k8s/shipctl/internal/docker"
	"github.com/codex-k8s/shipctl/internal/pipeline"
)

// imageSpec renders the build spec for a lane.
func (h *handlers) imageSpec(lane string) (docker.BuildSpec, error) {
	cfg := h.deps.Config
	img, ok := cfg.Image(lane)
	if !ok {
		return docker.BuildSpec{}, fmt.Errorf("no image configured for lane %q", lane)
	}
	tags, err := config.RenderList("images.tags", cfg.Images.Tags, h.tmpl)
	if err != nil {
		return docker.BuildSpec{}, err
	}
	for i, t := range tags {
		if t == "" {
			return docker.BuildSpec{}, fmt.Errorf("images.tags[%d] rendered empty for %s", i, lane)
		}
	}
	args, err := config.RenderMap("images."+lane+".buildArgs", img.BuildArgs, h.tmpl)
	if err != nil {
		return docker.BuildSpec{}, err
	}
	spec := docker.BuildSpec{
		Repository: img.Repository,
		Tags:       tags,
		Context:    cfg.Path(img.Context),
		BuildArgs:  args,
	}
	if img.Dockerfile != "" {
		spec.Dockerfile = cfg.Path(img.Dockerfile)
	}
	return spec, nil
}

func (h *handlers) build(lane string) pipeline.Handler {
	return func(ctx context.Context, rc *pipeline.RunContext) error {
		spec, err := h.imageSpec(lane)
		if err != nil {
			return err
		}
		if err := h.deps.Docker.Build(ctx, rc.Logger, spec); err != nil {
			return err
		}
		rc.SetOutput(OutputImagePrefix+lane, spec.Refs()[0])
		return nil
	}
}

func (h *handlers) push(lane string) pipeline.Handler {
	return func(ctx context.Context, rc *pipeline.RunContext) error {
		spec, err := h.imageSpec(lane)
		if err != nil {
			return err
		}
		user, _ := h.deps.Secrets.Value(pipeline.SecretRegistryUsername)
		pass, _ := h.deps.Secrets.Value(pipeline.SecretRegistryPassword)
		if err := h.deps.Docker.Login(ctx, rc.Logger, h.deps.Config.Images.Registry, user, pass); err != nil {
			return err
		}
		return h.deps.Docker.Push(ctx, rc.Logger, spec.Refs()...)
	}
}
