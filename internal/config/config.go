package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Supported inference providers.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
)

// Supported record store backends.
const (
	DBTypeSurrealDB = "surrealdb"
	DBTypeSQLite    = "sqlite"
)

// Config holds all configuration values.
type Config struct {
	// HTTP server
	Host  string
	Port  int
	Debug bool

	// Record store
	DBType     string
	SQLitePath string

	// SurrealDB connection
	SurrealDBURL       string
	SurrealDBNamespace string
	SurrealDBDatabase  string
	SurrealDBUser      string
	SurrealDBPass      string
	SurrealDBAuthLevel string

	// Inference provider
	LLMProvider     string
	LLMModel        string
	OpenAIAPIKey    string
	AnthropicAPIKey string
	OllamaHost      string

	// Capture device
	CameraDevice  string
	CameraWidth   int
	CameraHeight  int
	CameraFormat  string
	CameraTimeout time.Duration

	// Logging
	LogFile  string
	LogLevel slog.Level
}

// fileOverlay mirrors Config for the YAML file. Pointer fields let an
// absent key keep the environment value.
type fileOverlay struct {
	Host               *string `yaml:"host"`
	Port               *int    `yaml:"port"`
	Debug              *bool   `yaml:"debug"`
	DBType             *string `yaml:"db_type"`
	SQLitePath         *string `yaml:"sqlite_path"`
	SurrealDBURL       *string `yaml:"surrealdb_url"`
	SurrealDBNamespace *string `yaml:"surrealdb_namespace"`
	SurrealDBDatabase  *string `yaml:"surrealdb_database"`
	SurrealDBUser      *string `yaml:"surrealdb_user"`
	SurrealDBPass      *string `yaml:"surrealdb_pass"`
	SurrealDBAuthLevel *string `yaml:"surrealdb_auth_level"`
	LLMProvider        *string `yaml:"llm_provider"`
	LLMModel           *string `yaml:"llm_model"`
	OpenAIAPIKey       *string `yaml:"openai_api_key"`
	AnthropicAPIKey    *string `yaml:"anthropic_api_key"`
	OllamaHost         *string `yaml:"ollama_host"`
	CameraDevice       *string `yaml:"camera_device"`
	CameraWidth        *int    `yaml:"camera_width"`
	CameraHeight       *int    `yaml:"camera_height"`
	CameraFormat       *string `yaml:"camera_format"`
	CameraTimeout      *string `yaml:"camera_timeout"`
	LogFile            *string `yaml:"log_file"`
	LogLevel           *string `yaml:"log_level"`
}

// Load reads configuration from environment variables, then applies the
// YAML file named by CONFIG_PATH when it is set.
func Load() (Config, error) {
	cfg := Config{
		Host:  getEnv("HOST", "0.0.0.0"),
		Port:  getEnvInt("PORT", 5001),
		Debug: getEnv("DEBUG", "true") == "true",

		DBType:     strings.ToLower(getEnv("DB_TYPE", DBTypeSurrealDB)),
		SQLitePath: getEnv("SQLITE_PATH", "./observer.db"),

		SurrealDBURL:       getEnv("SURREALDB_URL", "ws://localhost:8000/rpc"),
		SurrealDBNamespace: getEnv("SURREALDB_NAMESPACE", "observer"),
		SurrealDBDatabase:  getEnv("SURREALDB_DATABASE", "ai_observer"),
		SurrealDBUser:      getEnv("SURREALDB_USER", "root"),
		SurrealDBPass:      getEnv("SURREALDB_PASS", "root"),
		SurrealDBAuthLevel: getEnv("SURREALDB_AUTH_LEVEL", "root"),

		LLMProvider:     strings.ToLower(getEnv("LLM_PROVIDER", ProviderOpenAI)),
		LLMModel:        getEnv("LLM_MODEL", "gpt-4o"),
		OpenAIAPIKey:    os.Getenv("OPENAI_API_KEY"),
		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		OllamaHost:      getEnv("OLLAMA_HOST", "http://localhost:11434"),

		CameraDevice:  getEnv("CAMERA_DEVICE", "/dev/video0"),
		CameraWidth:   getEnvInt("CAMERA_WIDTH", 640),
		CameraHeight:  getEnvInt("CAMERA_HEIGHT", 480),
		CameraFormat:  getEnv("CAMERA_FORMAT", "BGR"),
		CameraTimeout: getEnvDuration("CAMERA_TIMEOUT", 5*time.Second),

		LogFile:  getEnv("LOG_FILE", "./server_debug.log"),
		LogLevel: parseLogLevel(getEnv("LOG_LEVEL", "INFO")),
	}

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var o fileOverlay
	if err := yaml.Unmarshal(data, &o); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	setString(&c.Host, o.Host)
	setInt(&c.Port, o.Port)
	if o.Debug != nil {
		c.Debug = *o.Debug
	}
	setString(&c.DBType, o.DBType)
	setString(&c.SQLitePath, o.SQLitePath)
	setString(&c.SurrealDBURL, o.SurrealDBURL)
	setString(&c.SurrealDBNamespace, o.SurrealDBNamespace)
	setString(&c.SurrealDBDatabase, o.SurrealDBDatabase)
	setString(&c.SurrealDBUser, o.SurrealDBUser)
	setString(&c.SurrealDBPass, o.SurrealDBPass)
	setString(&c.SurrealDBAuthLevel, o.SurrealDBAuthLevel)
	setString(&c.LLMProvider, o.LLMProvider)
	setString(&c.LLMModel, o.LLMModel)
	setString(&c.OpenAIAPIKey, o.OpenAIAPIKey)
	setString(&c.AnthropicAPIKey, o.AnthropicAPIKey)
	setString(&c.OllamaHost, o.OllamaHost)
	setString(&c.CameraDevice, o.CameraDevice)
	setInt(&c.CameraWidth, o.CameraWidth)
	setInt(&c.CameraHeight, o.CameraHeight)
	setString(&c.CameraFormat, o.CameraFormat)
	if o.CameraTimeout != nil {
		d, err := time.ParseDuration(*o.CameraTimeout)
		if err != nil {
			return fmt.Errorf("parse camera_timeout: %w", err)
		}
		c.CameraTimeout = d
	}
	setString(&c.LogFile, o.LogFile)
	if o.LogLevel != nil {
		c.LogLevel = parseLogLevel(*o.LogLevel)
	}

	c.DBType = strings.ToLower(c.DBType)
	c.LLMProvider = strings.ToLower(c.LLMProvider)
	return nil
}

// Validate reports configuration that would make the server unusable.
func (c Config) Validate() error {
	var errs []error

	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid port %d", c.Port))
	}

	switch c.DBType {
	case DBTypeSurrealDB, DBTypeSQLite:
	default:
		errs = append(errs, fmt.Errorf("unknown DB_TYPE %q (want %s or %s)", c.DBType, DBTypeSurrealDB, DBTypeSQLite))
	}

	switch c.LLMProvider {
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			errs = append(errs, errors.New("OPENAI_API_KEY environment variable is not set"))
		}
	case ProviderAnthropic:
		if c.AnthropicAPIKey == "" {
			errs = append(errs, errors.New("ANTHROPIC_API_KEY environment variable is not set"))
		}
	case ProviderOllama:
	default:
		errs = append(errs, fmt.Errorf("unknown LLM_PROVIDER %q", c.LLMProvider))
	}

	return errors.Join(errs...)
}

// Addr returns the listen address for the HTTP server.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		slog.Warn("invalid integer in environment, using default", "key", key, "value", val, "default", defaultVal)
		return defaultVal
	}
	return n
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		slog.Warn("invalid duration in environment, using default", "key", key, "value", val, "default", defaultVal)
		return defaultVal
	}
	return d
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
