// Package config provides configuration management for Agentgrid.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for Agentgrid.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Artifact  ArtifactConfig  `mapstructure:"artifact"`
	LLM       LLMConfig       `mapstructure:"llm"`
	MCP       MCPConfig       `mapstructure:"mcp"`
	Workspace WorkspaceConfig `mapstructure:"workspace"`
	Upload    UploadConfig    `mapstructure:"upload"`
	Docs      DocsConfig      `mapstructure:"docs"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// DatabaseConfig holds Postgres connection configuration for the document store.
// An empty host selects the in-memory store (single-process mode).
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbName"`
	SSLMode  string `mapstructure:"sslMode"`
	MaxConns int    `mapstructure:"maxConns"`
	MinConns int    `mapstructure:"minConns"`
}

// NATSConfig holds NATS broker configuration.
// An empty URL selects the in-memory event bus (single-process mode).
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
	MaxRedeliver  int    `mapstructure:"maxRedeliver"` // handler retries before dead-letter
}

// RedisConfig holds the session-cache backend configuration.
// An empty addr selects the in-memory session cache.
type RedisConfig struct {
	Addr       string `mapstructure:"addr"`
	Password   string `mapstructure:"password"`
	DB         int    `mapstructure:"db"`
	SessionTTL int    `mapstructure:"sessionTtl"` // in seconds
}

// ArtifactConfig holds the S3-compatible artifact store configuration.
// An empty endpoint selects the in-memory artifact store.
type ArtifactConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"accessKey"`
	SecretKey string `mapstructure:"secretKey"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	UseSSL    bool   `mapstructure:"useSsl"`
}

// LLMConfig holds defaults for LLM SDK invocations.
type LLMConfig struct {
	APIKey       string `mapstructure:"apiKey"`
	DefaultModel string `mapstructure:"defaultModel"`
	MaxTurns     int    `mapstructure:"maxTurns"`
	MaxRetries   int    `mapstructure:"maxRetries"`
}

// MCPConfig holds MCP server configuration injected into workspaces and used
// by the embedded gateway server.
type MCPConfig struct {
	ServerEnabled bool   `mapstructure:"serverEnabled"`
	ServerPort    int    `mapstructure:"serverPort"`
	BaseURL       string `mapstructure:"baseUrl"`
	TimeoutMS     int    `mapstructure:"timeoutMs"`

	// MetadataAgentID identifies the dedicated metadata-synthesis agent used
	// by the tool metadata orchestrator, and MetadataAgentProject the project
	// hosting it.
	MetadataAgentID      string `mapstructure:"metadataAgentId"`
	MetadataAgentProject string `mapstructure:"metadataAgentProject"`
}

// WorkspaceConfig holds per-task workspace provisioning configuration.
type WorkspaceConfig struct {
	BasePath       string `mapstructure:"basePath"`
	TemplatePath   string `mapstructure:"templatePath"` // CLAUDE.md template file
	SkillsPath     string `mapstructure:"skillsPath"`   // skills folder copied into each workspace
	SandboxEnabled bool   `mapstructure:"sandboxEnabled"`
}

// UploadConfig holds folder-upload limits.
type UploadConfig struct {
	MaxFileSize       int64    `mapstructure:"maxFileSize"`   // bytes
	MaxFolderSize     int64    `mapstructure:"maxFolderSize"` // bytes
	MaxFolderDepth    int      `mapstructure:"maxFolderDepth"`
	MaxFilesPerFolder int      `mapstructure:"maxFilesPerFolder"`
	BlockedExtensions []string `mapstructure:"blockedExtensions"`
}

// DocsConfig configures documentation generation. Documentation agents are
// hosted under a dedicated project rather than the project they document.
type DocsConfig struct {
	ProjectID string `mapstructure:"projectId"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// SessionTTLDuration returns the session cache TTL as a time.Duration.
func (r *RedisConfig) SessionTTLDuration() time.Duration {
	return time.Duration(r.SessionTTL) * time.Second
}

// Timeout returns the MCP call timeout as a time.Duration.
func (m *MCPConfig) Timeout() time.Duration {
	return time.Duration(m.TimeoutMS) * time.Millisecond
}

// BlockedExtensionDefaults is the closed set of file extensions rejected by
// folder uploads.
var BlockedExtensionDefaults = []string{
	".exe", ".dll", ".so", ".dylib", ".msi", ".dmg", ".pkg", ".deb", ".rpm",
	".com", ".scr", ".pif", ".vbs", ".vbe", ".jse", ".ws", ".wsf", ".hta",
	".cpl", ".jar", ".app", ".elf", ".bin", ".run",
}

// detectDefaultLogFormat returns the appropriate log format based on environment.
// Returns "json" if running in Kubernetes or other production environments.
// Returns "text" for terminal/development use (human-readable console format).
func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("AGENTGRID_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	// Database defaults - empty host means in-memory store
	v.SetDefault("database.host", "")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "agentgrid")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbName", "agentgrid")
	v.SetDefault("database.sslMode", "disable")
	v.SetDefault("database.maxConns", 25)
	v.SetDefault("database.minConns", 5)

	// NATS defaults - empty URL means use in-memory event bus
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "agentgrid")
	v.SetDefault("nats.maxReconnects", 10)
	v.SetDefault("nats.maxRedeliver", 3)

	// Redis defaults - empty addr means in-memory session cache
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.sessionTtl", 24*60*60)

	// Artifact store defaults
	v.SetDefault("artifact.endpoint", "")
	v.SetDefault("artifact.bucket", "agentgrid")
	v.SetDefault("artifact.region", "us-east-1")
	v.SetDefault("artifact.useSsl", true)

	// LLM defaults
	v.SetDefault("llm.defaultModel", "claude-sonnet-4-20250514")
	v.SetDefault("llm.maxTurns", 15)
	v.SetDefault("llm.maxRetries", 3)

	// MCP defaults
	v.SetDefault("mcp.serverEnabled", true)
	v.SetDefault("mcp.serverPort", 9090)
	v.SetDefault("mcp.baseUrl", "")
	v.SetDefault("mcp.timeoutMs", 300000)

	// Workspace defaults
	v.SetDefault("workspace.basePath", "/data/workspaces")
	v.SetDefault("workspace.templatePath", "")
	v.SetDefault("workspace.skillsPath", "")
	v.SetDefault("workspace.sandboxEnabled", true)

	// Upload defaults
	v.SetDefault("upload.maxFileSize", int64(50)*1024*1024)
	v.SetDefault("upload.maxFolderSize", int64(500)*1024*1024)
	v.SetDefault("upload.maxFolderDepth", 10)
	v.SetDefault("upload.maxFilesPerFolder", 1000)
	v.SetDefault("upload.blockedExtensions", BlockedExtensionDefaults)

	// Docs defaults
	v.SetDefault("docs.projectId", "docs")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix AGENTGRID_ with snake_case naming.
// Config file should be named config.yaml and placed in the current directory or /etc/agentgrid/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("AGENTGRID")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit bindings for env vars whose names differ from config keys.
	// AutomaticEnv does not handle camelCase to SNAKE_CASE conversion.
	_ = v.BindEnv("llm.apiKey", "ANTHROPIC_API_KEY")
	_ = v.BindEnv("llm.defaultModel", "DEFAULT_MODEL", "AGENTGRID_LLM_DEFAULT_MODEL")
	_ = v.BindEnv("llm.maxTurns", "DEFAULT_MAX_TURNS", "AGENTGRID_LLM_MAX_TURNS")
	_ = v.BindEnv("mcp.timeoutMs", "MCP_TIMEOUT", "AGENTGRID_MCP_TIMEOUT_MS")
	_ = v.BindEnv("mcp.baseUrl", "AGENTGRID_MCP_BASE_URL")
	_ = v.BindEnv("workspace.basePath", "AGENTGRID_WORKSPACE_BASE_PATH")
	_ = v.BindEnv("upload.maxFileSize", "MAX_FILE_SIZE", "AGENTGRID_UPLOAD_MAX_FILE_SIZE")
	_ = v.BindEnv("upload.maxFolderSize", "MAX_FOLDER_SIZE", "AGENTGRID_UPLOAD_MAX_FOLDER_SIZE")
	_ = v.BindEnv("upload.maxFolderDepth", "MAX_FOLDER_DEPTH", "AGENTGRID_UPLOAD_MAX_FOLDER_DEPTH")
	_ = v.BindEnv("upload.maxFilesPerFolder", "MAX_FILES_PER_FOLDER", "AGENTGRID_UPLOAD_MAX_FILES_PER_FOLDER")

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/agentgrid/")

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required configuration fields are set.
// In development mode (default), most backends are optional and fall back to
// their in-memory implementations.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	if cfg.Database.Host != "" {
		if cfg.Database.Port <= 0 || cfg.Database.Port > 65535 {
			errs = append(errs, "database.port must be between 1 and 65535")
		}
		if cfg.Database.User == "" {
			errs = append(errs, "database.user is required when database.host is set")
		}
		if cfg.Database.DBName == "" {
			errs = append(errs, "database.dbName is required when database.host is set")
		}
	}

	if cfg.Artifact.Endpoint != "" && cfg.Artifact.Bucket == "" {
		errs = append(errs, "artifact.bucket is required when artifact.endpoint is set")
	}

	if cfg.LLM.MaxTurns <= 0 {
		errs = append(errs, "llm.maxTurns must be positive")
	}
	if cfg.LLM.MaxRetries <= 0 {
		errs = append(errs, "llm.maxRetries must be positive")
	}
	if cfg.NATS.MaxRedeliver < 0 {
		errs = append(errs, "nats.maxRedeliver must not be negative")
	}
	if cfg.Upload.MaxFolderDepth <= 0 || cfg.Upload.MaxFilesPerFolder <= 0 {
		errs = append(errs, "upload limits must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}
