package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"

	apperrors "asrsexport/internal/errors"
)

// EnvPrefix namespaces every environment variable read by Load.
const EnvPrefix = "ASRS"

// DefaultQueryURL is the ASRS database online query wizard.
const DefaultQueryURL = "https://akama.arc.nasa.gov/ASRSDBOnline/QueryWizard_Filter.aspx"

// Config represents the complete application configuration
type Config struct {
	Export    ExportConfig    `yaml:"export" envconfig:"EXPORT"`
	Upload    UploadConfig    `yaml:"upload" envconfig:"UPLOAD"`
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	Telemetry TelemetryConfig `yaml:"telemetry" envconfig:"TELEMETRY"`
}

// ExportConfig controls the batch export loop
type ExportConfig struct {
	StartYear    int           `yaml:"start_year" envconfig:"START_YEAR" validate:"gte=1988,lte=2024"`
	EndYear      int           `yaml:"end_year" envconfig:"END_YEAR" validate:"gte=1988,lte=2024,gtefield=StartYear"`
	ScratchDir   string        `yaml:"scratch_dir" envconfig:"SCRATCH_DIR" validate:"required"`
	QueryURL     string        `yaml:"query_url" envconfig:"QUERY_URL" validate:"required,url"`
	Cooldown     time.Duration `yaml:"cooldown" envconfig:"COOLDOWN" validate:"gte=0"`
	StepTimeout  time.Duration `yaml:"step_timeout" envconfig:"STEP_TIMEOUT" validate:"gt=0"`
	Headless     bool          `yaml:"headless" envconfig:"HEADLESS"`
	SkipExisting bool          `yaml:"skip_existing" envconfig:"SKIP_EXISTING"`
}

// UploadConfig holds the remote store settings. Credentials are only
// required when Enabled is set.
type UploadConfig struct {
	Enabled         bool   `yaml:"enabled" envconfig:"ENABLED"`
	CredentialsFile string `yaml:"credentials_file" envconfig:"CREDENTIALS_FILE" validate:"required_if=Enabled true"`
	FolderID        string `yaml:"folder_id" envconfig:"FOLDER_ID" validate:"required_if=Enabled true"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level       string `yaml:"level" envconfig:"LEVEL" validate:"oneof=debug info warn warning error"`
	Format      string `yaml:"format" envconfig:"FORMAT"`
	Output      string `yaml:"output" envconfig:"OUTPUT" validate:"oneof=console file both"`
	FilePath    string `yaml:"file_path" envconfig:"FILE_PATH"`
	Development bool   `yaml:"development" envconfig:"DEVELOPMENT"`
}

// TelemetryConfig controls tracing, metrics and the optional status listener
type TelemetryConfig struct {
	EnableTracing bool    `yaml:"enable_tracing" envconfig:"ENABLE_TRACING"`
	EnableMetrics bool    `yaml:"enable_metrics" envconfig:"ENABLE_METRICS"`
	SampleRatio   float64 `yaml:"sample_ratio" envconfig:"SAMPLE_RATIO" validate:"gte=0,lte=1"`
	ListenAddr    string  `yaml:"listen_addr" envconfig:"LISTEN_ADDR"`
}

// Load loads configuration from .env, environment variables and an
// optional YAML file, in that order of precedence for explicitly set values,
// and validates it.
func Load() (*Config, error) {
	cfg, err := LoadUnvalidated()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadUnvalidated is Load without validation, for callers that apply
// further overrides before calling Validate. Values are layered defaults,
// then the YAML file, then the environment, so a file may set any value
// including false and zero.
func LoadUnvalidated() (*Config, error) {
	// .env is optional; a missing file is not an error
	_ = godotenv.Load()

	cfg := Default()

	if configFile := getConfigFilePath(); configFile != "" {
		if err := loadFromFile(configFile, cfg); err != nil {
			return nil, apperrors.NewConfigError("failed to load config from file", err).
				WithContext("file", configFile)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, apperrors.NewConfigError("failed to load config from env", err)
	}

	cfg.applyFallbacks()

	return cfg, nil
}

// loadFromFile decodes the YAML file at filePath over cfg. Keys absent
// from the file leave cfg untouched.
func loadFromFile(filePath string, cfg *Config) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// applyFallbacks fills values that have a conventional source outside the
// ASRS_ namespace.
func (c *Config) applyFallbacks() {
	if c.Upload.CredentialsFile == "" {
		c.Upload.CredentialsFile = os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")
	}
	// JSON is the only supported log format
	c.Logging.Format = "json"
}

// Validate validates the configuration. Every failure is a CONFIG error.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			first := verrs[0]
			return apperrors.NewConfigError(
				fmt.Sprintf("invalid %s: failed %q check", first.Namespace(), first.Tag()), err).
				WithContext("field", first.Namespace())
		}
		return apperrors.NewConfigError("config validation failed", err)
	}
	return nil
}

// getConfigFilePath returns the path to the config file
func getConfigFilePath() string {
	if explicit := os.Getenv(EnvPrefix + "_CONFIG_FILE"); explicit != "" {
		return explicit
	}

	locations := []string{
		"config.yaml",
		"configs/config.yaml",
	}

	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}

	return "" // No config file found, use env vars only
}

// Default returns default configuration, the base layer Load starts from
func Default() *Config {
	return &Config{
		Export: ExportConfig{
			StartYear:   1988,
			EndYear:     2024,
			ScratchDir:  "output/asrs-tmp",
			QueryURL:    DefaultQueryURL,
			Cooldown:    5 * time.Second,
			StepTimeout: 2 * time.Minute,
			Headless:    true,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			Output:   "both",
			FilePath: "logs/exporter.log",
		},
		Telemetry: TelemetryConfig{
			EnableMetrics: true,
			SampleRatio:   1.0,
		},
	}
}
