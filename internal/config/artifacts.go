package config

import (
	"errors"
	"fmt"
	"strings"
)

// ArtifactsConfig describes the S3-compatible bucket that receives plan artifacts.
type ArtifactsConfig struct {
	// Endpoint is host[:port] without scheme.
	Endpoint string `yaml:"endpoint"`
	// Bucket receives the archived plans.
	Bucket string `yaml:"bucket"`
	// Region of the bucket.
	Region string `yaml:"region,omitempty"`
	// Prefix is prepended to object keys.
	Prefix string `yaml:"prefix,omitempty"`
	// AccessKeyEnv names the env key holding the access key (defaults to AWS_ACCESS_KEY_ID).
	AccessKeyEnv string `yaml:"accessKeyEnv,omitempty"`
	// SecretKeyEnv names the env key holding the secret key (defaults to AWS_SECRET_ACCESS_KEY).
	SecretKeyEnv string `yaml:"secretKeyEnv,omitempty"`
	// UseSSL enables TLS to the endpoint.
	UseSSL bool `yaml:"useSSL,omitempty"`
}

// Validate checks the artifact store settings.
func (a ArtifactsConfig) Validate() error {
	if strings.TrimSpace(a.Endpoint) == "" {
		return errors.New("endpoint is required")
	}
	if strings.TrimSpace(a.Bucket) == "" {
		return errors.New("bucket is required")
	}
	if strings.Contains(a.Endpoint, "://") {
		return fmt.Errorf("endpoint must not include scheme: %q", a.Endpoint)
	}
	return nil
}

// AccessKeyVar returns the env key holding the access key.
func (a ArtifactsConfig) AccessKeyVar() string {
	if a.AccessKeyEnv == "" {
		return "AWS_ACCESS_KEY_ID"
	}
	return a.AccessKeyEnv
}

// SecretKeyVar returns the env key holding the secret key.
func (a ArtifactsConfig) SecretKeyVar() string {
	if a.SecretKeyEnv == "" {
		return "AWS_SECRET_ACCESS_KEY"
	}
	return a.SecretKeyEnv
}
