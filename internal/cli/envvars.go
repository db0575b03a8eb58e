package cli

import (
	"os"
	"strings"

	envparse "github.com/caarlos0/env/v11"
)

// baseEnv defines root CLI defaults sourced from SHIPCTL_* env vars.
type baseEnv struct {
	// ConfigPath is the shipctl.yaml path from SHIPCTL_CONFIG.
	ConfigPath string `env:"SHIPCTL_CONFIG"`
	// LogLevel is the logging level from SHIPCTL_LOG_LEVEL.
	LogLevel string `env:"SHIPCTL_LOG_LEVEL"`
	// NoColor disables colored logs from SHIPCTL_NO_COLOR.
	NoColor bool `env:"SHIPCTL_NO_COLOR"`
}

// varsEnv describes inline vars and var files passed via env.
type varsEnv struct {
	// Vars is a k=v,k2=v2 list from SHIPCTL_VARS.
	Vars string `env:"SHIPCTL_VARS"`
	// VarFile is a YAML/ENV path from SHIPCTL_VAR_FILE.
	VarFile string `env:"SHIPCTL_VAR_FILE"`
}

// actionEnv selects the action for run, stages and doctor.
type actionEnv struct {
	// Action is the pipeline action from SHIPCTL_ACTION.
	Action string `env:"SHIPCTL_ACTION"`
}

// runEnv captures SHIPCTL_* inputs for the run command.
type runEnv struct {
	// Yes skips the destructive confirmation from SHIPCTL_YES.
	Yes bool `env:"SHIPCTL_YES"`
	// ParallelImages runs image lanes concurrently from SHIPCTL_PARALLEL_IMAGES.
	ParallelImages bool `env:"SHIPCTL_PARALLEL_IMAGES"`
	// BuildNumber is the CI build number from SHIPCTL_BUILD_NUMBER, BUILD_NUMBER or GITHUB_RUN_NUMBER.
	BuildNumber string `env:"SHIPCTL_BUILD_NUMBER"`
	// JenkinsBuildNumber is BUILD_NUMBER as set by Jenkins.
	JenkinsBuildNumber string `env:"BUILD_NUMBER"`
	// GitHubRunNumber is GITHUB_RUN_NUMBER as set by GitHub Actions.
	GitHubRunNumber string `env:"GITHUB_RUN_NUMBER"`
	// GitCommit is the deployed commit from SHIPCTL_GIT_COMMIT, GIT_COMMIT or GITHUB_SHA.
	GitCommit string `env:"SHIPCTL_GIT_COMMIT"`
	// JenkinsCommit is GIT_COMMIT as set by Jenkins.
	JenkinsCommit string `env:"GIT_COMMIT"`
	// GitHubSHA is GITHUB_SHA as set by GitHub Actions.
	GitHubSHA string `env:"GITHUB_SHA"`
	// NoHistory disables the run history store from SHIPCTL_NO_HISTORY.
	NoHistory bool `env:"SHIPCTL_NO_HISTORY"`
}

// buildNumber returns the first non-empty build number source.
func (e runEnv) buildNumber() string {
	return firstNonEmpty(e.BuildNumber, e.JenkinsBuildNumber, e.GitHubRunNumber)
}

// gitCommit returns the first non-empty commit source.
func (e runEnv) gitCommit() string {
	return firstNonEmpty(e.GitCommit, e.JenkinsCommit, e.GitHubSHA)
}

// historyEnv captures inputs for history commands.
type historyEnv struct {
	// Limit caps listed runs from SHIPCTL_HISTORY_LIMIT.
	Limit int `env:"SHIPCTL_HISTORY_LIMIT"`
}

// parseEnv fills target from SHIPCTL_* env vars via caarlos0/env.
func parseEnv(target any) error {
	return envparse.Parse(target)
}

// envPresent reports whether a non-empty env var exists.
func envPresent(key string) bool {
	val, ok := os.LookupEnv(key)
	if !ok {
		return false
	}
	return strings.TrimSpace(val) != ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
