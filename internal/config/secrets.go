package config

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/codex-k8s/shipctl/internal/env"
)

// DefaultSecretSpecs returns the secret-to-environment mapping used when shipctl.yaml
// does not override it.
func DefaultSecretSpecs() []SecretSpec {
	return []SecretSpec{
		{Name: "aws_access_key_id", Env: "AWS_ACCESS_KEY_ID", Description: "AWS access key for terraform and cluster access"},
		{Name: "aws_secret_access_key", Env: "AWS_SECRET_ACCESS_KEY", Description: "AWS secret key for terraform and cluster access"},
		{Name: "db_password", Env: "DB_PASSWORD", Description: "database password passed to terraform"},
		{Name: "jwt_secret", Env: "JWT_SECRET", Description: "JWT signing secret passed to terraform"},
		{Name: "grafana_admin_password", Env: "GRAFANA_ADMIN_PASSWORD", Description: "Grafana admin password passed to terraform"},
		{Name: "stripe_publishable_key", Env: "STRIPE_PUBLISHABLE_KEY", Description: "Stripe key baked into the client image"},
		{Name: "registry_username", Env: "DOCKER_USERNAME", Description: "container registry user"},
		{Name: "registry_password", Env: "DOCKER_PASSWORD", Description: "container registry password"},
	}
}

// mergeSecretSpecs overlays user specs on the defaults, keeping default order first.
func mergeSecretSpecs(defaults, overrides []SecretSpec) []SecretSpec {
	out := append([]SecretSpec(nil), defaults...)
	index := make(map[string]int, len(out))
	for i, s := range out {
		index[s.Name] = i
	}
	for _, s := range overrides {
		if i, ok := index[s.Name]; ok {
			if s.Description == "" {
				s.Description = out[i].Description
			}
			out[i] = s
			continue
		}
		index[s.Name] = len(out)
		out = append(out, s)
	}
	return out
}

// Secrets is the resolved set of secret values for one run. It never renders values
// when printed or logged.
type Secrets struct {
	values map[string]string
}

// ResolveSecrets looks up every declared secret in vars. Secrets with no or blank
// value are left out; presence is checked per stage by the executor.
func ResolveSecrets(specs []SecretSpec, vars env.Vars) Secrets {
	values := make(map[string]string, len(specs))
	for _, s := range specs {
		if v, ok := vars.Lookup(s.Env); ok {
			values[s.Name] = v
		}
	}
	return Secrets{values: values}
}

// NewSecrets builds a Secrets record from explicit values. Blank values are dropped.
func NewSecrets(values map[string]string) Secrets {
	out := make(map[string]string, len(values))
	for k, v := range values {
		if strings.TrimSpace(v) != "" {
			out[k] = v
		}
	}
	return Secrets{values: out}
}

// Has reports whether name resolved to a non-empty value.
func (s Secrets) Has(name string) bool {
	_, ok := s.values[name]
	return ok
}

// Value returns the secret value for name.
func (s Secrets) Value(name string) (string, bool) {
	v, ok := s.values[name]
	return v, ok
}

// Names returns resolved secret names in sorted order.
func (s Secrets) Names() []string {
	names := make([]string, 0, len(s.values))
	for k := range s.values {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Values returns every resolved secret value, for masking tool output.
func (s Secrets) Values() []string {
	out := make([]string, 0, len(s.values))
	for _, name := range s.Names() {
		out = append(out, s.values[name])
	}
	return out
}

func (s Secrets) String() string {
	return fmt.Sprintf("Secrets{%s}", strings.Join(s.Names(), ", "))
}

// LogValue implements slog.LogValuer.
func (s Secrets) LogValue() slog.Value {
	return slog.AnyValue(s.Names())
}
