package config

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"text/template"
	"time"

	"github.com/codex-k8s/shipctl/internal/env"
)

// TemplateContext is the data exposed to template fields (image tags, build args and
// terraform vars). It is built once per run.
type TemplateContext struct {
	// Project is the project identifier.
	Project string
	// Action is the requested pipeline action.
	Action string
	// RunID is the run identifier.
	RunID string
	// BuildNumber identifies the CI build and becomes the first image tag.
	BuildNumber string
	// GitCommit is the commit being deployed, when known.
	GitCommit string
	// Region is the cloud region.
	Region string
	// Now is the timestamp captured for rendering.
	Now time.Time
	// EnvMap merges OS env and envFiles.
	EnvMap env.Vars
	// Versions contains version strings from shipctl.yaml.
	Versions map[string]string

	secrets Secrets
}

// WithSecrets returns a copy of ctx whose templates may call {{ secret "name" }}.
func (ctx TemplateContext) WithSecrets(s Secrets) TemplateContext {
	ctx.secrets = s
	return ctx
}

// RenderTemplate renders text content with the template context and helpers.
func RenderTemplate(name string, raw string, ctx TemplateContext) (string, error) {
	tmpl, err := template.New(name).Funcs(buildFuncMap(ctx)).Option("missingkey=error").Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse template %q: %w", name, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, ctx); err != nil {
		return "", fmt.Errorf("execute template %q: %w", name, err)
	}
	return buf.String(), nil
}

// RenderList renders each entry in values.
func RenderList(name string, values []string, ctx TemplateContext) ([]string, error) {
	out := make([]string, 0, len(values))
	for i, v := range values {
		rendered, err := RenderTemplate(fmt.Sprintf("%s[%d]", name, i), v, ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, strings.TrimSpace(rendered))
	}
	return out, nil
}

// RenderMap renders each value in values. Keys are not templated.
func RenderMap(name string, values map[string]string, ctx TemplateContext) (map[string]string, error) {
	out := make(map[string]string, len(values))
	for _, k := range SortedKeys(values) {
		rendered, err := RenderTemplate(name+"."+k, values[k], ctx)
		if err != nil {
			return nil, err
		}
		out[k] = rendered
	}
	return out, nil
}

// SortedKeys returns the keys of m in sorted order.
func SortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// buildFuncMap constructs the template functions available in shipctl.yaml fields.
func buildFuncMap(ctx TemplateContext) template.FuncMap {
	return template.FuncMap{
		"default":    funcDef,
		"toLower":    strings.ToLower,
		"slug":       funcSlug,
		"truncSHA":   funcTruncSHA,
		"envOr":      funcEnvOr(ctx.EnvMap),
		"ternary":    funcTernary,
		"now":        func() time.Time { return ctx.Now },
		"join":       strings.Join,
		"trimPrefix": strings.TrimPrefix,
		"secret":     funcSecret(ctx.secrets),
	}
}

func funcDef(value, def string) string {
	if strings.TrimSpace(value) == "" {
		return def
	}
	return value
}

// funcSlug normalizes a value into a lower-case dash-separated slug.
func funcSlug(value string) string {
	v := strings.ToLower(strings.TrimSpace(value))
	v = strings.ReplaceAll(v, " ", "-")
	v = strings.ReplaceAll(v, "_", "-")
	return v
}

func funcTruncSHA(s string) string {
	const max = 12
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func funcEnvOr(envMap env.Vars) func(key, def string) string {
	return func(key, def string) string {
		if v, ok := envMap[key]; ok && v != "" {
			return v
		}
		return def
	}
}

func funcTernary(cond bool, a, b any) any {
	if cond {
		return a
	}
	return b
}

// funcSecret resolves a secret by name; a missing secret fails the render.
func funcSecret(s Secrets) func(name string) (string, error) {
	return func(name string) (string, error) {
		v, ok := s.Value(name)
		if !ok {
			return "", fmt.Errorf("secret %q is not set", name)
		}
		return v, nil
	}
}
