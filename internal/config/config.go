// Package config loads runtime configuration for the genie binaries by
// merging defaults, an optional YAML config file, environment variables,
// and caller overrides, in that order of increasing precedence.
package config

import (
	"fmt"
	"strings"
	"time"
)

const (
	DefaultStoragePath   = "~/.genie/progress.json"
	DefaultBackupDir     = "~/.genie/backups"
	DefaultRetentionDays = 30

	DefaultLLMBaseURL = "https://api.openai.com/v1"
	DefaultLLMModel   = "gpt-4o-mini"

	DefaultResearchBaseURL = "https://api.perplexity.ai"
	DefaultResearchModel   = "sonar"
	DefaultMemoryPath      = "~/.genie/memory"

	DefaultCalendarBaseURL = "https://www.googleapis.com/calendar/v3"
	DefaultCalendarID      = "primary"
	DefaultSummaryPrefix   = "[Genie] "

	DefaultOverallDeadline  = 60 * time.Second
	DefaultLLMDeadline      = 30 * time.Second
	DefaultCalendarDeadline = 10 * time.Second
	DefaultResearchDeadline = 10 * time.Second

	DefaultServerHost    = "0.0.0.0"
	DefaultServerPort    = 8080
	DefaultMaxConcurrent = 8
)

// LLM provider selectors. The mock provider runs the pipeline against
// scripted responses and needs no credentials.
const (
	ProviderOpenAI = "openai"
	ProviderMock   = "mock"
)

// Tracing exporter selectors.
const (
	TracingExporterOTLP   = "otlp"
	TracingExporterZipkin = "zipkin"
)

// Config carries every runtime setting shared by the genie binaries.
type Config struct {
	Storage    StorageConfig
	LLM        LLMConfig
	Research   ResearchConfig
	Calendar   CalendarConfig
	Pipeline   PipelineConfig
	Server     ServerConfig
	Telemetry  TelemetryConfig
	Log        LogConfig
	IDStrategy string
}

// StorageConfig locates the progress document and its backups.
type StorageConfig struct {
	Path          string
	BackupDir     string
	AutoBackup    bool
	RetentionDays int
}

// LLMConfig selects the language model provider used by the extraction,
// planning, and breakdown stages.
type LLMConfig struct {
	Provider string
	APIKey   string
	BaseURL  string
	Model    string
	Timeout  time.Duration
}

// ResearchConfig selects the web research provider. An empty APIKey
// disables research; the pipeline then plans without resources.
type ResearchConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	MemoryPath string
	Timeout    time.Duration
}

// CalendarConfig locates calendar credentials and write settings. Missing
// credentials put the calendar client in degraded mode rather than
// failing the pipeline.
type CalendarConfig struct {
	CredentialsPath string
	TokenPath       string
	BaseURL         string
	CalendarID      string
	SummaryPrefix   string
	Timeout         time.Duration
}

// PipelineConfig bounds utterance processing.
type PipelineConfig struct {
	OverallDeadline time.Duration
	MaxConcurrent   int
}

// ServerConfig holds the HTTP listen address.
type ServerConfig struct {
	Host string
	Port int
}

// TelemetryConfig toggles the metrics endpoint and trace export.
type TelemetryConfig struct {
	MetricsEnabled  bool
	TracingEnabled  bool
	TracingExporter string
	TracingEndpoint string
}

// LogConfig selects the log destination and verbosity. An empty File
// logs to stderr.
type LogConfig struct {
	File  string
	Level string
}

// Default returns the configuration used when no file, env, or override
// supplies a value.
func Default() Config {
	return Config{
		Storage: StorageConfig{
			Path:          DefaultStoragePath,
			BackupDir:     DefaultBackupDir,
			AutoBackup:    true,
			RetentionDays: DefaultRetentionDays,
		},
		LLM: LLMConfig{
			Provider: ProviderOpenAI,
			BaseURL:  DefaultLLMBaseURL,
			Model:    DefaultLLMModel,
			Timeout:  DefaultLLMDeadline,
		},
		Research: ResearchConfig{
			BaseURL:    DefaultResearchBaseURL,
			Model:      DefaultResearchModel,
			MemoryPath: DefaultMemoryPath,
			Timeout:    DefaultResearchDeadline,
		},
		Calendar: CalendarConfig{
			BaseURL:       DefaultCalendarBaseURL,
			CalendarID:    DefaultCalendarID,
			SummaryPrefix: DefaultSummaryPrefix,
			Timeout:       DefaultCalendarDeadline,
		},
		Pipeline: PipelineConfig{
			OverallDeadline: DefaultOverallDeadline,
			MaxConcurrent:   DefaultMaxConcurrent,
		},
		Server: ServerConfig{
			Host: DefaultServerHost,
			Port: DefaultServerPort,
		},
		Telemetry: TelemetryConfig{
			MetricsEnabled:  true,
			TracingExporter: TracingExporterOTLP,
		},
		Log: LogConfig{
			Level: "info",
		},
		IDStrategy: "ksuid",
	}
}

// Validate reports the first setting that cannot be used as loaded.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Storage.Path) == "" {
		return fmt.Errorf("storage path must not be empty")
	}
	if c.Storage.RetentionDays < 0 {
		return fmt.Errorf("backup retention days must not be negative, got %d", c.Storage.RetentionDays)
	}
	switch c.LLM.Provider {
	case ProviderOpenAI, ProviderMock:
	default:
		return fmt.Errorf("unknown llm provider %q", c.LLM.Provider)
	}
	if c.LLM.Provider == ProviderOpenAI && c.LLM.APIKey == "" {
		return fmt.Errorf("llm provider %q requires LLM_API_KEY", c.LLM.Provider)
	}
	for name, timeout := range map[string]time.Duration{
		"llm":      c.LLM.Timeout,
		"research": c.Research.Timeout,
		"calendar": c.Calendar.Timeout,
		"overall":  c.Pipeline.OverallDeadline,
	} {
		if timeout <= 0 {
			return fmt.Errorf("%s deadline must be positive, got %v", name, timeout)
		}
	}
	if c.Pipeline.MaxConcurrent <= 0 {
		return fmt.Errorf("max concurrent utterances must be positive, got %d", c.Pipeline.MaxConcurrent)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port out of range: %d", c.Server.Port)
	}
	switch c.Telemetry.TracingExporter {
	case TracingExporterOTLP, TracingExporterZipkin:
	default:
		return fmt.Errorf("unknown tracing exporter %q", c.Telemetry.TracingExporter)
	}
	if c.Telemetry.TracingEnabled && c.Telemetry.TracingExporter == TracingExporterZipkin && c.Telemetry.TracingEndpoint == "" {
		return fmt.Errorf("tracing exporter %q requires TRACING_ENDPOINT", TracingExporterZipkin)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Log.Level)
	}
	switch c.IDStrategy {
	case "ksuid", "uuidv7":
	default:
		return fmt.Errorf("unknown id strategy %q", c.IDStrategy)
	}
	return nil
}
