package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix is the prefix of environment overrides, e.g. CODINGOFFICER_LLM__API_KEY
	EnvPrefix = "CODINGOFFICER_"

	MinThreads = 1
	MaxThreads = 8

	// NoLimit makes a run process every pending prompt
	NoLimit = -1
)

var (
	ErrMissingModel  = errors.New("no model selected")
	ErrMissingAPIKey = errors.New("API key is empty")
)

// Config represents the application configuration
type Config struct {
	General  GeneralConfig  `koanf:"general"`
	LLM      LLMConfig      `koanf:"llm"`
	Batch    BatchConfig    `koanf:"batch"`
	Database DatabaseConfig `koanf:"database"`
	Export   ExportConfig   `koanf:"export"`
	Logging  LoggingConfig  `koanf:"logging"`
	Server   ServerConfig   `koanf:"server"`
}

type GeneralConfig struct {
	Language string `koanf:"language"`
	DataDir  string `koanf:"data_dir"`
}

type LLMConfig struct {
	APIKey            string        `koanf:"api_key"`
	Model             string        `koanf:"model"`
	BaseURL           string        `koanf:"base_url"`
	Temperature       float64       `koanf:"temperature"`
	MaxTokens         int           `koanf:"max_tokens"`
	RequestsPerSecond float64       `koanf:"requests_per_second"`
	Timeout           time.Duration `koanf:"timeout"`
}

type BatchConfig struct {
	ThreadCount  int           `koanf:"thread_count"`
	Limit        int           `koanf:"limit"`
	TestLimit    int           `koanf:"test_limit"`
	PollInterval time.Duration `koanf:"poll_interval"`
}

type DatabaseConfig struct {
	Path string `koanf:"path"`
}

type ExportConfig struct {
	Dir            string `koanf:"dir"`
	FileNameFormat string `koanf:"file_name_format"`
	RepairJSON     bool   `koanf:"repair_json"`
}

type LoggingConfig struct {
	Level string `koanf:"level"`
	Dir   string `koanf:"dir"`
}

type ServerConfig struct {
	Port int `koanf:"port"`
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"general.language":        "en",
		"llm.base_url":            "https://api.aihubmix.com/v1",
		"llm.temperature":         0.7,
		"llm.max_tokens":          0,
		"llm.requests_per_second": 0,
		"llm.timeout":             "0s",
		"batch.thread_count":      4,
		"batch.limit":             NoLimit,
		"batch.test_limit":        10,
		"batch.poll_interval":     "100ms",
		"export.file_name_format": "coding_result_{date}_{time}.csv",
		"export.repair_json":      false,
		"logging.level":           "info",
		"server.port":             8877,
	}
}

// LoadConfig loads the configuration from a file, the environment and defaults
func LoadConfig(configPath string) (*Config, error) {
	var k = koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("error loading defaults: %w", err)
	}

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
				return nil, fmt.Errorf("error loading config: %w", err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("error reading config %s: %w", configPath, err)
		}
	} else {
		for _, path := range []string{"./codingofficer.toml", "$HOME/.codingofficer.toml"} {
			path = os.ExpandEnv(path)
			if _, err := os.Stat(path); err == nil {
				if err := k.Load(file.Provider(path), toml.Parser()); err == nil {
					break
				}
			}
		}
	}

	// CODINGOFFICER_LLM__API_KEY -> llm.api_key
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		return strings.ReplaceAll(key, "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("error loading environment: %w", err)
	}

	var config Config
	if err := k.Unmarshal("", &config); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	config.resolvePaths()
	return &config, nil
}

// resolvePaths fills in the locations derived from the data directory
func (c *Config) resolvePaths() {
	if c.General.DataDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			c.General.DataDir = filepath.Join(home, ".config", "codingofficer")
		} else {
			c.General.DataDir = "codingofficer_data"
		}
	}
	if c.Database.Path == "" {
		c.Database.Path = filepath.Join(c.General.DataDir, "coding.db")
	}
	if c.Export.Dir == "" {
		c.Export.Dir = filepath.Join(c.General.DataDir, "export")
	}
	if c.Logging.Dir == "" {
		c.Logging.Dir = filepath.Join(c.General.DataDir, "logs")
	}
}

// InitConfig initializes a new configuration file
func InitConfig(configPath string) error {
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("configuration file already exists at %s", configPath)
	}

	sampleConfig := `# codingofficer configuration

[general]
language = "en" # en | zh

[llm]
api_key = ""
model = ""
base_url = "https://api.aihubmix.com/v1"
temperature = 0.7
requests_per_second = 0

[batch]
thread_count = 4
limit = -1
test_limit = 10
poll_interval = "100ms"

[export]
file_name_format = "coding_result_{date}_{time}.csv"
repair_json = false

[logging]
level = "info"
`

	return os.WriteFile(configPath, []byte(sampleConfig), 0600)
}

// Validate validates the static configuration values
func Validate(config *Config) error {
	switch config.General.Language {
	case "en", "zh":
	default:
		return fmt.Errorf("unsupported language %q (use en or zh)", config.General.Language)
	}

	if config.Batch.ThreadCount < MinThreads || config.Batch.ThreadCount > MaxThreads {
		return fmt.Errorf("batch.thread_count must be between %d and %d, got %d",
			MinThreads, MaxThreads, config.Batch.ThreadCount)
	}

	if config.Batch.Limit < NoLimit || config.Batch.Limit == 0 {
		return fmt.Errorf("batch.limit must be -1 or a positive number, got %d", config.Batch.Limit)
	}

	if config.Batch.TestLimit <= 0 {
		return fmt.Errorf("batch.test_limit must be positive, got %d", config.Batch.TestLimit)
	}

	if config.Batch.PollInterval <= 0 {
		return fmt.Errorf("batch.poll_interval must be positive")
	}

	if config.LLM.RequestsPerSecond < 0 {
		return fmt.Errorf("llm.requests_per_second must not be negative")
	}

	if config.LLM.Temperature < 0 || config.LLM.Temperature > 2 {
		return fmt.Errorf("llm.temperature must be between 0 and 2")
	}

	if config.LLM.BaseURL == "" {
		return fmt.Errorf("llm.base_url is required")
	}

	return nil
}

// ValidateForDispatch reports configuration errors that must stop a run before it starts
func ValidateForDispatch(config *Config) error {
	if err := Validate(config); err != nil {
		return err
	}
	if strings.TrimSpace(config.LLM.Model) == "" {
		return ErrMissingModel
	}
	if strings.TrimSpace(config.LLM.APIKey) == "" {
		return ErrMissingAPIKey
	}
	return nil
}

// RunLimit returns the row limit for a test batch or a full run
func (c *Config) RunLimit(test bool) int {
	if test {
		return c.Batch.TestLimit
	}
	return c.Batch.Limit
}
