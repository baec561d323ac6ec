package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultConfigDir  = ".genie"
	defaultConfigName = "config.yaml"
)

// ValueSource describes where a configuration value originated from.
type ValueSource string

const (
	SourceDefault  ValueSource = "default"
	SourceFile     ValueSource = "file"
	SourceEnv      ValueSource = "environment"
	SourceOverride ValueSource = "override"
)

// Metadata contains provenance details for loaded configuration.
type Metadata struct {
	sources  map[string]ValueSource
	loadedAt time.Time
}

// Source returns the origin for the given configuration field.
func (m Metadata) Source(field string) ValueSource {
	if m.sources == nil {
		return SourceDefault
	}
	if src, ok := m.sources[field]; ok {
		return src
	}
	return SourceDefault
}

// Sources returns a copy of the provenance map.
func (m Metadata) Sources() map[string]ValueSource {
	out := make(map[string]ValueSource, len(m.sources))
	for key, value := range m.sources {
		out[key] = value
	}
	return out
}

// LoadedAt returns the timestamp when the configuration was constructed.
func (m Metadata) LoadedAt() time.Time {
	return m.loadedAt
}

// EnvLookup resolves the value for an environment variable.
type EnvLookup func(string) (string, bool)

// DefaultEnvLookup delegates to os.LookupEnv.
func DefaultEnvLookup(key string) (string, bool) {
	return os.LookupEnv(key)
}

// Overrides conveys caller-specified values that win over env and file
// sources. CLI flags land here.
type Overrides struct {
	StoragePath    *string
	BackupDir      *string
	AutoBackup     *bool
	LLMProvider    *string
	LLMAPIKey      *string
	LLMBaseURL     *string
	LLMModel       *string
	ResearchAPIKey *string
	CalendarID     *string
	ServerHost     *string
	ServerPort     *int
	MaxConcurrent  *int
	MetricsEnabled *bool
	LogFile        *string
	LogLevel       *string
	IDStrategy     *string
}

// Option customises the loader behaviour.
type Option func(*loadOptions)

type loadOptions struct {
	envLookup  EnvLookup
	readFile   func(string) ([]byte, error)
	homeDir    func() (string, error)
	overrides  Overrides
	configPath string
}

// WithEnv supplies a custom environment lookup implementation.
func WithEnv(lookup EnvLookup) Option {
	return func(o *loadOptions) {
		o.envLookup = lookup
	}
}

// WithOverrides applies caller overrides that take highest precedence.
func WithOverrides(overrides Overrides) Option {
	return func(o *loadOptions) {
		o.overrides = overrides
	}
}

// WithConfigPath forces the loader to read configuration from a specific file.
func WithConfigPath(path string) Option {
	return func(o *loadOptions) {
		o.configPath = path
	}
}

// WithFileReader injects a custom reader, used primarily for tests.
func WithFileReader(reader func(string) ([]byte, error)) Option {
	return func(o *loadOptions) {
		o.readFile = reader
	}
}

// WithHomeDir overrides how the loader resolves the user's home directory.
func WithHomeDir(resolver func() (string, error)) Option {
	return func(o *loadOptions) {
		o.homeDir = resolver
	}
}

// ResolveConfigPath returns the configuration file path and its source label.
// Priority order:
//  1. Explicit GENIE_CONFIG_PATH.
//  2. $HOME/.genie/config.yaml.
//  3. ./configs/config.yaml (fallback when the home directory is unavailable).
func ResolveConfigPath(envLookup EnvLookup, homeDir func() (string, error)) (string, string) {
	if envLookup == nil {
		envLookup = DefaultEnvLookup
	}
	if value, ok := envLookup("GENIE_CONFIG_PATH"); ok {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed, "GENIE_CONFIG_PATH"
		}
	}

	home := ""
	if homeDir != nil {
		if resolved, err := homeDir(); err == nil {
			home = strings.TrimSpace(resolved)
		}
	}
	if home == "" {
		if resolved, err := os.UserHomeDir(); err == nil {
			home = strings.TrimSpace(resolved)
		}
	}
	if home != "" {
		return filepath.Join(home, defaultConfigDir, defaultConfigName), "default"
	}

	return filepath.Join("configs", defaultConfigName), "fallback"
}

// Load constructs the runtime configuration by merging defaults, file, env
// and overrides.
func Load(opts ...Option) (Config, Metadata, error) {
	options := loadOptions{
		envLookup: DefaultEnvLookup,
		readFile:  os.ReadFile,
		homeDir:   os.UserHomeDir,
	}
	for _, opt := range opts {
		opt(&options)
	}

	meta := Metadata{sources: map[string]ValueSource{}, loadedAt: time.Now()}
	cfg := Default()

	if err := applyFile(&cfg, &meta, options); err != nil {
		return Config{}, Metadata{}, err
	}
	if err := applyEnv(&cfg, &meta, options); err != nil {
		return Config{}, Metadata{}, err
	}
	applyOverrides(&cfg, &meta, options.overrides)

	normalize(&cfg, options)

	// Without credentials the OpenAI-compatible client cannot run; fall back
	// to the scripted mock provider so local commands still work.
	if cfg.LLM.APIKey == "" && cfg.LLM.Provider != ProviderMock {
		cfg.LLM.Provider = ProviderMock
		meta.sources["llm.provider"] = SourceDefault
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, Metadata{}, err
	}
	return cfg, meta, nil
}

type fileConfig struct {
	Storage    *storageFileConfig   `yaml:"storage"`
	LLM        *llmFileConfig       `yaml:"llm"`
	Research   *researchFileConfig  `yaml:"research"`
	Calendar   *calendarFileConfig  `yaml:"calendar"`
	Pipeline   *pipelineFileConfig  `yaml:"pipeline"`
	Server     *serverFileConfig    `yaml:"server"`
	Telemetry  *telemetryFileConfig `yaml:"telemetry"`
	Log        *logFileConfig       `yaml:"log"`
	IDStrategy string               `yaml:"id_strategy"`
}

type storageFileConfig struct {
	Path          string `yaml:"path"`
	BackupDir     string `yaml:"backup_dir"`
	AutoBackup    *bool  `yaml:"auto_backup"`
	RetentionDays *int   `yaml:"backup_retention_days"`
}

type llmFileConfig struct {
	Provider   string `yaml:"provider"`
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	Model      string `yaml:"model"`
	DeadlineMS *int   `yaml:"deadline_ms"`
}

type researchFileConfig struct {
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	Model      string `yaml:"model"`
	MemoryPath string `yaml:"memory_path"`
	DeadlineMS *int   `yaml:"deadline_ms"`
}

type calendarFileConfig struct {
	CredentialsPath string  `yaml:"credentials_path"`
	TokenPath       string  `yaml:"token_path"`
	BaseURL         string  `yaml:"base_url"`
	CalendarID      string  `yaml:"calendar_id"`
	SummaryPrefix   *string `yaml:"event_summary_prefix"`
	DeadlineMS      *int    `yaml:"deadline_ms"`
}

type pipelineFileConfig struct {
	OverallDeadlineMS *int `yaml:"overall_deadline_ms"`
	MaxConcurrent     *int `yaml:"max_concurrent_utterances"`
}

type serverFileConfig struct {
	Host string `yaml:"host"`
	Port *int   `yaml:"port"`
}

type telemetryFileConfig struct {
	MetricsEnabled  *bool  `yaml:"metrics_enabled"`
	TracingEnabled  *bool  `yaml:"tracing_enabled"`
	TracingExporter string `yaml:"tracing_exporter"`
	TracingEndpoint string `yaml:"tracing_endpoint"`
}

type logFileConfig struct {
	File  string `yaml:"file"`
	Level string `yaml:"level"`
}

func applyFile(cfg *Config, meta *Metadata, opts loadOptions) error {
	configPath := strings.TrimSpace(opts.configPath)
	if configPath == "" {
		configPath, _ = ResolveConfigPath(opts.envLookup, opts.homeDir)
	}
	if configPath == "" {
		return nil
	}

	data, err := opts.readFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config file: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}

	var parsed fileConfig
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	lookup := opts.envLookup
	if lookup == nil {
		lookup = DefaultEnvLookup
	}
	expandFileConfigEnv(lookup, &parsed)

	if parsed.Storage != nil {
		if parsed.Storage.Path != "" {
			cfg.Storage.Path = parsed.Storage.Path
			meta.sources["storage.path"] = SourceFile
		}
		if parsed.Storage.BackupDir != "" {
			cfg.Storage.BackupDir = parsed.Storage.BackupDir
			meta.sources["storage.backup_dir"] = SourceFile
		}
		if parsed.Storage.AutoBackup != nil {
			cfg.Storage.AutoBackup = *parsed.Storage.AutoBackup
			meta.sources["storage.auto_backup"] = SourceFile
		}
		if parsed.Storage.RetentionDays != nil {
			cfg.Storage.RetentionDays = *parsed.Storage.RetentionDays
			meta.sources["storage.backup_retention_days"] = SourceFile
		}
	}
	if parsed.LLM != nil {
		if parsed.LLM.Provider != "" {
			cfg.LLM.Provider = parsed.LLM.Provider
			meta.sources["llm.provider"] = SourceFile
		}
		if parsed.LLM.APIKey != "" {
			cfg.LLM.APIKey = parsed.LLM.APIKey
			meta.sources["llm.api_key"] = SourceFile
		}
		if parsed.LLM.BaseURL != "" {
			cfg.LLM.BaseURL = parsed.LLM.BaseURL
			meta.sources["llm.base_url"] = SourceFile
		}
		if parsed.LLM.Model != "" {
			cfg.LLM.Model = parsed.LLM.Model
			meta.sources["llm.model"] = SourceFile
		}
		if parsed.LLM.DeadlineMS != nil {
			cfg.LLM.Timeout = time.Duration(*parsed.LLM.DeadlineMS) * time.Millisecond
			meta.sources["llm.deadline_ms"] = SourceFile
		}
	}
	if parsed.Research != nil {
		if parsed.Research.APIKey != "" {
			cfg.Research.APIKey = parsed.Research.APIKey
			meta.sources["research.api_key"] = SourceFile
		}
		if parsed.Research.BaseURL != "" {
			cfg.Research.BaseURL = parsed.Research.BaseURL
			meta.sources["research.base_url"] = SourceFile
		}
		if parsed.Research.Model != "" {
			cfg.Research.Model = parsed.Research.Model
			meta.sources["research.model"] = SourceFile
		}
		if parsed.Research.MemoryPath != "" {
			cfg.Research.MemoryPath = parsed.Research.MemoryPath
			meta.sources["research.memory_path"] = SourceFile
		}
		if parsed.Research.DeadlineMS != nil {
			cfg.Research.Timeout = time.Duration(*parsed.Research.DeadlineMS) * time.Millisecond
			meta.sources["research.deadline_ms"] = SourceFile
		}
	}
	if parsed.Calendar != nil {
		if parsed.Calendar.CredentialsPath != "" {
			cfg.Calendar.CredentialsPath = parsed.Calendar.CredentialsPath
			meta.sources["calendar.credentials_path"] = SourceFile
		}
		if parsed.Calendar.TokenPath != "" {
			cfg.Calendar.TokenPath = parsed.Calendar.TokenPath
			meta.sources["calendar.token_path"] = SourceFile
		}
		if parsed.Calendar.BaseURL != "" {
			cfg.Calendar.BaseURL = parsed.Calendar.BaseURL
			meta.sources["calendar.base_url"] = SourceFile
		}
		if parsed.Calendar.CalendarID != "" {
			cfg.Calendar.CalendarID = parsed.Calendar.CalendarID
			meta.sources["calendar.calendar_id"] = SourceFile
		}
		if parsed.Calendar.SummaryPrefix != nil {
			cfg.Calendar.SummaryPrefix = *parsed.Calendar.SummaryPrefix
			meta.sources["calendar.event_summary_prefix"] = SourceFile
		}
		if parsed.Calendar.DeadlineMS != nil {
			cfg.Calendar.Timeout = time.Duration(*parsed.Calendar.DeadlineMS) * time.Millisecond
			meta.sources["calendar.deadline_ms"] = SourceFile
		}
	}
	if parsed.Pipeline != nil {
		if parsed.Pipeline.OverallDeadlineMS != nil {
			cfg.Pipeline.OverallDeadline = time.Duration(*parsed.Pipeline.OverallDeadlineMS) * time.Millisecond
			meta.sources["pipeline.overall_deadline_ms"] = SourceFile
		}
		if parsed.Pipeline.MaxConcurrent != nil {
			cfg.Pipeline.MaxConcurrent = *parsed.Pipeline.MaxConcurrent
			meta.sources["pipeline.max_concurrent_utterances"] = SourceFile
		}
	}
	if parsed.Server != nil {
		if parsed.Server.Host != "" {
			cfg.Server.Host = parsed.Server.Host
			meta.sources["server.host"] = SourceFile
		}
		if parsed.Server.Port != nil {
			cfg.Server.Port = *parsed.Server.Port
			meta.sources["server.port"] = SourceFile
		}
	}
	if parsed.Telemetry != nil {
		if parsed.Telemetry.MetricsEnabled != nil {
			cfg.Telemetry.MetricsEnabled = *parsed.Telemetry.MetricsEnabled
			meta.sources["telemetry.metrics_enabled"] = SourceFile
		}
		if parsed.Telemetry.TracingEnabled != nil {
			cfg.Telemetry.TracingEnabled = *parsed.Telemetry.TracingEnabled
			meta.sources["telemetry.tracing_enabled"] = SourceFile
		}
		if parsed.Telemetry.TracingExporter != "" {
			cfg.Telemetry.TracingExporter = parsed.Telemetry.TracingExporter
			meta.sources["telemetry.tracing_exporter"] = SourceFile
		}
		if parsed.Telemetry.TracingEndpoint != "" {
			cfg.Telemetry.TracingEndpoint = parsed.Telemetry.TracingEndpoint
			meta.sources["telemetry.tracing_endpoint"] = SourceFile
		}
	}
	if parsed.Log != nil {
		if parsed.Log.File != "" {
			cfg.Log.File = parsed.Log.File
			meta.sources["log.file"] = SourceFile
		}
		if parsed.Log.Level != "" {
			cfg.Log.Level = parsed.Log.Level
			meta.sources["log.level"] = SourceFile
		}
	}
	if parsed.IDStrategy != "" {
		cfg.IDStrategy = parsed.IDStrategy
		meta.sources["id_strategy"] = SourceFile
	}

	return nil
}

func expandFileConfigEnv(lookup EnvLookup, parsed *fileConfig) {
	if parsed.Storage != nil {
		parsed.Storage.Path = expandEnvValue(lookup, parsed.Storage.Path)
		parsed.Storage.BackupDir = expandEnvValue(lookup, parsed.Storage.BackupDir)
	}
	if parsed.LLM != nil {
		parsed.LLM.APIKey = expandEnvValue(lookup, parsed.LLM.APIKey)
		parsed.LLM.BaseURL = expandEnvValue(lookup, parsed.LLM.BaseURL)
		parsed.LLM.Model = expandEnvValue(lookup, parsed.LLM.Model)
	}
	if parsed.Research != nil {
		parsed.Research.APIKey = expandEnvValue(lookup, parsed.Research.APIKey)
		parsed.Research.BaseURL = expandEnvValue(lookup, parsed.Research.BaseURL)
		parsed.Research.Model = expandEnvValue(lookup, parsed.Research.Model)
		parsed.Research.MemoryPath = expandEnvValue(lookup, parsed.Research.MemoryPath)
	}
	if parsed.Calendar != nil {
		parsed.Calendar.CredentialsPath = expandEnvValue(lookup, parsed.Calendar.CredentialsPath)
		parsed.Calendar.TokenPath = expandEnvValue(lookup, parsed.Calendar.TokenPath)
		parsed.Calendar.BaseURL = expandEnvValue(lookup, parsed.Calendar.BaseURL)
		parsed.Calendar.CalendarID = expandEnvValue(lookup, parsed.Calendar.CalendarID)
	}
	if parsed.Server != nil {
		parsed.Server.Host = expandEnvValue(lookup, parsed.Server.Host)
	}
	if parsed.Telemetry != nil {
		parsed.Telemetry.TracingEndpoint = expandEnvValue(lookup, parsed.Telemetry.TracingEndpoint)
	}
	if parsed.Log != nil {
		parsed.Log.File = expandEnvValue(lookup, parsed.Log.File)
	}
}

var envRefPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvValue substitutes ${VAR} references so config files can point at
// secrets without embedding them. Unresolved references collapse to "".
func expandEnvValue(lookup EnvLookup, value string) string {
	if value == "" || !strings.Contains(value, "${") {
		return value
	}
	return envRefPattern.ReplaceAllStringFunc(value, func(match string) string {
		key := match[2 : len(match)-1]
		if resolved, ok := lookup(key); ok {
			return resolved
		}
		return ""
	})
}

func applyEnv(cfg *Config, meta *Metadata, opts loadOptions) error {
	lookup := opts.envLookup
	if lookup == nil {
		lookup = DefaultEnvLookup
	}

	if value, ok := lookup("STORAGE_PATH"); ok && value != "" {
		cfg.Storage.Path = value
		meta.sources["storage.path"] = SourceEnv
	}
	if value, ok := lookup("BACKUP_DIR"); ok && value != "" {
		cfg.Storage.BackupDir = value
		meta.sources["storage.backup_dir"] = SourceEnv
	}
	if value, ok := lookup("AUTO_BACKUP"); ok && value != "" {
		parsed, err := parseBoolEnv(value)
		if err != nil {
			return fmt.Errorf("parse AUTO_BACKUP: %w", err)
		}
		cfg.Storage.AutoBackup = parsed
		meta.sources["storage.auto_backup"] = SourceEnv
	}
	if value, ok := lookup("BACKUP_RETENTION_DAYS"); ok && value != "" {
		parsed, err := parseIntEnv(value)
		if err != nil {
			return fmt.Errorf("parse BACKUP_RETENTION_DAYS: %w", err)
		}
		cfg.Storage.RetentionDays = parsed
		meta.sources["storage.backup_retention_days"] = SourceEnv
	}

	if value, ok := lookup("LLM_PROVIDER"); ok && value != "" {
		cfg.LLM.Provider = value
		meta.sources["llm.provider"] = SourceEnv
	}
	if value, ok := lookup("LLM_API_KEY"); ok && value != "" {
		cfg.LLM.APIKey = value
		meta.sources["llm.api_key"] = SourceEnv
	}
	if value, ok := lookup("LLM_BASE_URL"); ok && value != "" {
		cfg.LLM.BaseURL = value
		meta.sources["llm.base_url"] = SourceEnv
	}
	if value, ok := lookup("LLM_MODEL"); ok && value != "" {
		cfg.LLM.Model = value
		meta.sources["llm.model"] = SourceEnv
	}
	if value, ok := lookup("LLM_DEADLINE_MS"); ok && value != "" {
		deadline, err := parseDeadlineEnv(value)
		if err != nil {
			return fmt.Errorf("parse LLM_DEADLINE_MS: %w", err)
		}
		cfg.LLM.Timeout = deadline
		meta.sources["llm.deadline_ms"] = SourceEnv
	}

	if value, ok := lookup("RESEARCH_API_KEY"); ok && value != "" {
		cfg.Research.APIKey = value
		meta.sources["research.api_key"] = SourceEnv
	}
	if value, ok := lookup("RESEARCH_BASE_URL"); ok && value != "" {
		cfg.Research.BaseURL = value
		meta.sources["research.base_url"] = SourceEnv
	}
	if value, ok := lookup("RESEARCH_MODEL"); ok && value != "" {
		cfg.Research.Model = value
		meta.sources["research.model"] = SourceEnv
	}
	if value, ok := lookup("RESEARCH_MEMORY_PATH"); ok && value != "" {
		cfg.Research.MemoryPath = value
		meta.sources["research.memory_path"] = SourceEnv
	}
	if value, ok := lookup("RESEARCH_DEADLINE_MS"); ok && value != "" {
		deadline, err := parseDeadlineEnv(value)
		if err != nil {
			return fmt.Errorf("parse RESEARCH_DEADLINE_MS: %w", err)
		}
		cfg.Research.Timeout = deadline
		meta.sources["research.deadline_ms"] = SourceEnv
	}

	if value, ok := lookup("CALENDAR_CREDENTIALS_PATH"); ok && value != "" {
		cfg.Calendar.CredentialsPath = value
		meta.sources["calendar.credentials_path"] = SourceEnv
	}
	if value, ok := lookup("CALENDAR_TOKEN_PATH"); ok && value != "" {
		cfg.Calendar.TokenPath = value
		meta.sources["calendar.token_path"] = SourceEnv
	}
	if value, ok := lookup("CALENDAR_BASE_URL"); ok && value != "" {
		cfg.Calendar.BaseURL = value
		meta.sources["calendar.base_url"] = SourceEnv
	}
	if value, ok := lookup("DEFAULT_CALENDAR_ID"); ok && value != "" {
		cfg.Calendar.CalendarID = value
		meta.sources["calendar.calendar_id"] = SourceEnv
	}
	if value, ok := lookup("EVENT_SUMMARY_PREFIX"); ok && value != "" {
		cfg.Calendar.SummaryPrefix = value
		meta.sources["calendar.event_summary_prefix"] = SourceEnv
	}
	if value, ok := lookup("CALENDAR_DEADLINE_MS"); ok && value != "" {
		deadline, err := parseDeadlineEnv(value)
		if err != nil {
			return fmt.Errorf("parse CALENDAR_DEADLINE_MS: %w", err)
		}
		cfg.Calendar.Timeout = deadline
		meta.sources["calendar.deadline_ms"] = SourceEnv
	}

	if value, ok := lookup("OVERALL_DEADLINE_MS"); ok && value != "" {
		deadline, err := parseDeadlineEnv(value)
		if err != nil {
			return fmt.Errorf("parse OVERALL_DEADLINE_MS: %w", err)
		}
		cfg.Pipeline.OverallDeadline = deadline
		meta.sources["pipeline.overall_deadline_ms"] = SourceEnv
	}
	if value, ok := lookup("MAX_CONCURRENT_UTTERANCES"); ok && value != "" {
		parsed, err := parseIntEnv(value)
		if err != nil {
			return fmt.Errorf("parse MAX_CONCURRENT_UTTERANCES: %w", err)
		}
		cfg.Pipeline.MaxConcurrent = parsed
		meta.sources["pipeline.max_concurrent_utterances"] = SourceEnv
	}

	if value, ok := lookup("SERVER_HOST"); ok && value != "" {
		cfg.Server.Host = value
		meta.sources["server.host"] = SourceEnv
	}
	if value, ok := lookup("SERVER_PORT"); ok && value != "" {
		parsed, err := parseIntEnv(value)
		if err != nil {
			return fmt.Errorf("parse SERVER_PORT: %w", err)
		}
		cfg.Server.Port = parsed
		meta.sources["server.port"] = SourceEnv
	}

	if value, ok := lookup("METRICS_ENABLED"); ok && value != "" {
		parsed, err := parseBoolEnv(value)
		if err != nil {
			return fmt.Errorf("parse METRICS_ENABLED: %w", err)
		}
		cfg.Telemetry.MetricsEnabled = parsed
		meta.sources["telemetry.metrics_enabled"] = SourceEnv
	}
	if value, ok := lookup("TRACING_ENABLED"); ok && value != "" {
		parsed, err := parseBoolEnv(value)
		if err != nil {
			return fmt.Errorf("parse TRACING_ENABLED: %w", err)
		}
		cfg.Telemetry.TracingEnabled = parsed
		meta.sources["telemetry.tracing_enabled"] = SourceEnv
	}
	if value, ok := lookup("TRACING_EXPORTER"); ok && value != "" {
		cfg.Telemetry.TracingExporter = value
		meta.sources["telemetry.tracing_exporter"] = SourceEnv
	}
	if value, ok := lookup("TRACING_ENDPOINT"); ok && value != "" {
		cfg.Telemetry.TracingEndpoint = value
		meta.sources["telemetry.tracing_endpoint"] = SourceEnv
	}

	if value, ok := lookup("LOG_FILE"); ok && value != "" {
		cfg.Log.File = value
		meta.sources["log.file"] = SourceEnv
	}
	if value, ok := lookup("LOG_LEVEL"); ok && value != "" {
		cfg.Log.Level = value
		meta.sources["log.level"] = SourceEnv
	}

	return nil
}

func applyOverrides(cfg *Config, meta *Metadata, overrides Overrides) {
	if overrides.StoragePath != nil {
		cfg.Storage.Path = *overrides.StoragePath
		meta.sources["storage.path"] = SourceOverride
	}
	if overrides.BackupDir != nil {
		cfg.Storage.BackupDir = *overrides.BackupDir
		meta.sources["storage.backup_dir"] = SourceOverride
	}
	if overrides.AutoBackup != nil {
		cfg.Storage.AutoBackup = *overrides.AutoBackup
		meta.sources["storage.auto_backup"] = SourceOverride
	}
	if overrides.LLMProvider != nil {
		cfg.LLM.Provider = *overrides.LLMProvider
		meta.sources["llm.provider"] = SourceOverride
	}
	if overrides.LLMAPIKey != nil {
		cfg.LLM.APIKey = *overrides.LLMAPIKey
		meta.sources["llm.api_key"] = SourceOverride
	}
	if overrides.LLMBaseURL != nil {
		cfg.LLM.BaseURL = *overrides.LLMBaseURL
		meta.sources["llm.base_url"] = SourceOverride
	}
	if overrides.LLMModel != nil {
		cfg.LLM.Model = *overrides.LLMModel
		meta.sources["llm.model"] = SourceOverride
	}
	if overrides.ResearchAPIKey != nil {
		cfg.Research.APIKey = *overrides.ResearchAPIKey
		meta.sources["research.api_key"] = SourceOverride
	}
	if overrides.CalendarID != nil {
		cfg.Calendar.CalendarID = *overrides.CalendarID
		meta.sources["calendar.calendar_id"] = SourceOverride
	}
	if overrides.ServerHost != nil {
		cfg.Server.Host = *overrides.ServerHost
		meta.sources["server.host"] = SourceOverride
	}
	if overrides.ServerPort != nil {
		cfg.Server.Port = *overrides.ServerPort
		meta.sources["server.port"] = SourceOverride
	}
	if overrides.MaxConcurrent != nil {
		cfg.Pipeline.MaxConcurrent = *overrides.MaxConcurrent
		meta.sources["pipeline.max_concurrent_utterances"] = SourceOverride
	}
	if overrides.MetricsEnabled != nil {
		cfg.Telemetry.MetricsEnabled = *overrides.MetricsEnabled
		meta.sources["telemetry.metrics_enabled"] = SourceOverride
	}
	if overrides.LogFile != nil {
		cfg.Log.File = *overrides.LogFile
		meta.sources["log.file"] = SourceOverride
	}
	if overrides.LogLevel != nil {
		cfg.Log.Level = *overrides.LogLevel
		meta.sources["log.level"] = SourceOverride
	}
	if overrides.IDStrategy != nil {
		cfg.IDStrategy = *overrides.IDStrategy
		meta.sources["id_strategy"] = SourceOverride
	}
}

// normalize trims free-form values and expands home-relative paths.
// SummaryPrefix is left untouched: the orphan adoption marker carries a
// trailing space that must survive loading bit for bit.
func normalize(cfg *Config, opts loadOptions) {
	homeDir := opts.homeDir
	if homeDir == nil {
		homeDir = os.UserHomeDir
	}

	cfg.Storage.Path = expandHomePath(strings.TrimSpace(cfg.Storage.Path), homeDir)
	cfg.Storage.BackupDir = expandHomePath(strings.TrimSpace(cfg.Storage.BackupDir), homeDir)

	cfg.LLM.Provider = strings.ToLower(strings.TrimSpace(cfg.LLM.Provider))
	cfg.LLM.APIKey = strings.TrimSpace(cfg.LLM.APIKey)
	cfg.LLM.BaseURL = strings.TrimSpace(cfg.LLM.BaseURL)
	cfg.LLM.Model = strings.TrimSpace(cfg.LLM.Model)

	cfg.Research.APIKey = strings.TrimSpace(cfg.Research.APIKey)
	cfg.Research.BaseURL = strings.TrimSpace(cfg.Research.BaseURL)
	cfg.Research.Model = strings.TrimSpace(cfg.Research.Model)
	cfg.Research.MemoryPath = expandHomePath(strings.TrimSpace(cfg.Research.MemoryPath), homeDir)

	cfg.Calendar.CredentialsPath = expandHomePath(strings.TrimSpace(cfg.Calendar.CredentialsPath), homeDir)
	cfg.Calendar.TokenPath = expandHomePath(strings.TrimSpace(cfg.Calendar.TokenPath), homeDir)
	cfg.Calendar.BaseURL = strings.TrimSpace(cfg.Calendar.BaseURL)
	cfg.Calendar.CalendarID = strings.TrimSpace(cfg.Calendar.CalendarID)

	cfg.Server.Host = strings.TrimSpace(cfg.Server.Host)

	cfg.Telemetry.TracingExporter = strings.ToLower(strings.TrimSpace(cfg.Telemetry.TracingExporter))
	cfg.Telemetry.TracingEndpoint = strings.TrimSpace(cfg.Telemetry.TracingEndpoint)

	cfg.Log.File = expandHomePath(strings.TrimSpace(cfg.Log.File), homeDir)
	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))

	cfg.IDStrategy = strings.ToLower(strings.TrimSpace(cfg.IDStrategy))
}

func expandHomePath(path string, homeDir func() (string, error)) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := homeDir()
	if err != nil || strings.TrimSpace(home) == "" {
		return path
	}
	return filepath.Join(home, path[2:])
}

func parseBoolEnv(value string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean value %q", value)
	}
}

func parseIntEnv(value string) (int, error) {
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("invalid integer value %q", value)
	}
	return parsed, nil
}

func parseDeadlineEnv(value string) (time.Duration, error) {
	ms, err := parseIntEnv(value)
	if err != nil {
		return 0, err
	}
	if ms <= 0 {
		return 0, fmt.Errorf("deadline must be positive, got %d", ms)
	}
	return time.Duration(ms) * time.Millisecond, nil
}
