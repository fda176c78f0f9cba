// Copyright Contributors to the AgentRun project

// Package config loads and validates the operator configuration.
//
// Configuration is resolved in order: the file at DefaultConfigPath, the
// ConfigMap named ConfigMapName in the operator namespace (key "config"),
// and finally built-in defaults. The document is YAML/JSON with the shape
// of the Config struct.
package config

import (
	"context"
	"fmt"
	"os"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/yaml"
)

const (
	// DefaultConfigPath is the well-known mount point of the config document.
	DefaultConfigPath = "/etc/agentrun/config.yaml"

	// ConfigMapName is the cluster-stored configuration object.
	ConfigMapName = "agentrun-config"

	// ConfigMapKey is the key holding the config document inside the ConfigMap.
	ConfigMapKey = "config"

	// MissingImageSentinel marks unconfigured image coordinates. Deployments
	// template this value in when no image was provided; validation rejects it.
	MissingImageSentinel = "MISSING_IMAGE_CONFIG"
)

// ConfigError indicates missing or invalid configuration: an unparseable
// document, sentinel image coordinates, a missing template, or a template
// render failure. It is fatal for the current reconciliation.
type ConfigError struct {
	Msg string
	Err error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("config: %s: %v", e.Msg, e.Err)
	}
	return "config: " + e.Msg
}

func (e *ConfigError) Unwrap() error { return e.Err }

// NewConfigError builds a ConfigError wrapping err.
func NewConfigError(msg string, err error) *ConfigError {
	return &ConfigError{Msg: msg, Err: err}
}

// ImageConfig holds the agent container image coordinates.
type ImageConfig struct {
	Repository string `json:"repository"`
	Tag        string `json:"tag"`
}

// Ref returns the full image reference.
func (c ImageConfig) Ref() string {
	return c.Repository + ":" + c.Tag
}

// SecretsConfig names the Secrets the controller injects into agent Jobs.
// Only names are carried here; secret material stays in the cluster.
type SecretsConfig struct {
	// APIKeySecretName / APIKeySecretKey locate the upstream model API token.
	APIKeySecretName string `json:"apiKeyName"`
	APIKeySecretKey  string `json:"apiKeyKey"`

	// GithubAppSecretName locates the app-installation credentials
	// (keys "app-id" and "private-key").
	GithubAppSecretName string `json:"githubAppSecretName,omitempty"`
}

// StorageConfig holds workspace claim parameters.
type StorageConfig struct {
	// StorageClassName is optional; empty uses the cluster default class.
	StorageClassName string `json:"storageClassName,omitempty"`
	// WorkspaceSize is the claim request, e.g. "10Gi".
	WorkspaceSize string `json:"workspaceSize,omitempty"`
}

// CleanupConfig controls post-completion Job deletion.
type CleanupConfig struct {
	// Enabled is the master switch for deleting terminal Jobs.
	Enabled bool `json:"enabled"`
	// CompletedJobDelayMinutes is the retention for successful Jobs.
	CompletedJobDelayMinutes int32 `json:"completedJobDelayMinutes,omitempty"`
	// FailedJobDelayMinutes is the retention for failed Jobs, typically
	// longer to aid debugging.
	FailedJobDelayMinutes int32 `json:"failedJobDelayMinutes,omitempty"`
}

// PermissionsConfig holds tool-permission patterns surfaced into the
// rendered settings file.
type PermissionsConfig struct {
	Allow []string `json:"allow,omitempty"`
	Deny  []string `json:"deny,omitempty"`
}

// TelemetryConfig holds the telemetry endpoint coordinates surfaced into the
// rendered settings file. Environment variables OTLP_ENDPOINT, LOGS_ENDPOINT
// and LOGS_PROTOCOL override the document values.
type TelemetryConfig struct {
	Enabled      bool   `json:"enabled,omitempty"`
	OTLPEndpoint string `json:"otlpEndpoint,omitempty"`
	OTLPProtocol string `json:"otlpProtocol,omitempty"`
	LogsEndpoint string `json:"logsEndpoint,omitempty"`
	LogsProtocol string `json:"logsProtocol,omitempty"`
}

// JobConfig holds per-Job execution limits.
type JobConfig struct {
	// ActiveDeadlineSeconds is the wall-clock ceiling on a single attempt.
	ActiveDeadlineSeconds int64 `json:"activeDeadlineSeconds,omitempty"`
}

// Config is the operator configuration. It is loaded once at startup and
// passed by shared-read reference; nothing mutates it afterwards.
type Config struct {
	Agent struct {
		Image ImageConfig `json:"image"`
	} `json:"agent"`
	Secrets     SecretsConfig     `json:"secrets"`
	Storage     StorageConfig     `json:"storage"`
	Cleanup     CleanupConfig     `json:"cleanup"`
	Permissions PermissionsConfig `json:"permissions"`
	Telemetry   TelemetryConfig   `json:"telemetry"`
	Job         JobConfig         `json:"job"`

	// TemplateDir is where the .hbs template sources are mounted.
	TemplateDir string `json:"templateDir,omitempty"`

	// ToolCatalogPath is the optional pre-rendered catalog of external tools
	// embedded into the docs prompt. Missing file means an empty catalog.
	ToolCatalogPath string `json:"toolCatalogPath,omitempty"`
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg := &Config{}
	cfg.Agent.Image = ImageConfig{Repository: MissingImageSentinel, Tag: "latest"}
	cfg.Secrets = SecretsConfig{
		APIKeySecretName:    "agentrun-api-key",
		APIKeySecretKey:     "api-key",
		GithubAppSecretName: "agentrun-github-app",
	}
	cfg.Storage = StorageConfig{WorkspaceSize: "10Gi"}
	cfg.Cleanup = CleanupConfig{
		Enabled:                  true,
		CompletedJobDelayMinutes: 5,
		FailedJobDelayMinutes:    60,
	}
	cfg.Job = JobConfig{ActiveDeadlineSeconds: 7200}
	cfg.TemplateDir = "/templates"
	cfg.ToolCatalogPath = "/templates/tool-catalog.json"
	return cfg
}

// Load resolves the configuration: file, then ConfigMap, then defaults.
// The reader may be nil, in which case the ConfigMap lookup is skipped
// (used by the CLI and in tests).
func Load(ctx context.Context, reader client.Reader, namespace string) (*Config, error) {
	return loadFrom(ctx, reader, namespace, DefaultConfigPath)
}

func loadFrom(ctx context.Context, reader client.Reader, namespace, path string) (*Config, error) {
	if data, err := os.ReadFile(path); err == nil {
		return parse(data)
	} else if !os.IsNotExist(err) {
		return nil, NewConfigError(fmt.Sprintf("reading %s", path), err)
	}

	if reader != nil {
		cm := &corev1.ConfigMap{}
		key := types.NamespacedName{Name: ConfigMapName, Namespace: namespace}
		err := reader.Get(ctx, key, cm)
		switch {
		case err == nil:
			doc, ok := cm.Data[ConfigMapKey]
			if !ok {
				return nil, NewConfigError(fmt.Sprintf("ConfigMap %s has no %q key", ConfigMapName, ConfigMapKey), nil)
			}
			return parse([]byte(doc))
		case !apierrors.IsNotFound(err):
			return nil, fmt.Errorf("getting ConfigMap %s: %w", ConfigMapName, err)
		}
	}

	cfg := Default()
	cfg.applyEnvOverrides()
	return cfg, nil
}

func parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, NewConfigError("unparseable configuration document", err)
	}
	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides lets the deployment environment override telemetry
// coordinates without editing the config document.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("OTLP_ENDPOINT"); v != "" {
		c.Telemetry.OTLPEndpoint = v
	}
	if v := os.Getenv("LOGS_ENDPOINT"); v != "" {
		c.Telemetry.LogsEndpoint = v
	}
	if v := os.Getenv("LOGS_PROTOCOL"); v != "" {
		c.Telemetry.LogsProtocol = v
	}
}

// Validate rejects configurations the controller cannot safely run with.
// Controller startup refuses to proceed on a Validate error.
func (c *Config) Validate() error {
	if c.Agent.Image.Repository == "" || c.Agent.Image.Tag == "" {
		return NewConfigError("agent image coordinates are missing", nil)
	}
	if c.Agent.Image.Repository == MissingImageSentinel || c.Agent.Image.Tag == MissingImageSentinel {
		return NewConfigError("agent image coordinates are unconfigured (sentinel value present)", nil)
	}
	if c.Secrets.APIKeySecretName == "" || c.Secrets.APIKeySecretKey == "" {
		return NewConfigError("API key secret coordinates are missing", nil)
	}
	if c.Storage.WorkspaceSize == "" {
		return NewConfigError("storage.workspaceSize is missing", nil)
	}
	return nil
}
