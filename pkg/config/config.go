package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Config is everything the CLI needs at process start. Values resolve in
// the usual precedence: flags override environment variables (CARTOUCHE_*),
// which override the config file, which overrides defaults.
type Config struct {
	// Store selection.
	StoreBackend string `mapstructure:"store-backend"`
	StoreDSN     string `mapstructure:"store-dsn"`

	// RedisURL switches session locking from in-process to Redis when set,
	// so concurrent processes on different hosts exclude each other.
	RedisURL string `mapstructure:"redis-url"`

	ArtifactsDir string `mapstructure:"artifacts-dir"`

	// Provider selection and credentials.
	Generator       string `mapstructure:"generator"`
	Judge           string `mapstructure:"judge"`
	JudgeModel      string `mapstructure:"judge-model"`
	GeneratorModel  string `mapstructure:"generator-model"`
	OpenAIAPIKey    string `mapstructure:"openai-api-key"`
	AnthropicAPIKey string `mapstructure:"anthropic-api-key"`
	GeminiAPIKey    string `mapstructure:"gemini-api-key"`

	// Loop tuning.
	TargetScore   float64       `mapstructure:"target-score"`
	MaxIterations int           `mapstructure:"max-iterations"`
	Variants      int           `mapstructure:"variants"`
	TurnTimeout   time.Duration `mapstructure:"turn-timeout"`
	RubricFile    string        `mapstructure:"rubric-file"`

	ImageSize    string `mapstructure:"image-size"`
	ImageQuality string `mapstructure:"image-quality"`

	LogLevel  string `mapstructure:"log-level"`
	LogFormat string `mapstructure:"log-format"`
}

// Load reads configuration from the given file (or the default locations
// when empty), the environment, and defaults.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("CARTOUCHE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "config: read %s", configFile)
		}
	} else {
		v.SetConfigName("cartouche")
		v.SetConfigType("yaml")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "cartouche"))
		}
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, errors.Wrap(err, "config: read config file")
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "config: unmarshal")
	}

	// Standard provider variables work without the CARTOUCHE_ prefix too.
	if cfg.OpenAIAPIKey == "" {
		cfg.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.AnthropicAPIKey == "" {
		cfg.AnthropicAPIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if cfg.GeminiAPIKey == "" {
		cfg.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	home, _ := os.UserHomeDir()
	dataDir := filepath.Join(home, ".cartouche")

	v.SetDefault("store-backend", "sqlite")
	v.SetDefault("store-dsn", filepath.Join(dataDir, "sessions.db"))
	v.SetDefault("artifacts-dir", filepath.Join(dataDir, "artifacts"))
	v.SetDefault("generator", "mock")
	v.SetDefault("judge", "mock")
	v.SetDefault("target-score", 8.0)
	v.SetDefault("max-iterations", 5)
	v.SetDefault("variants", 1)
	v.SetDefault("turn-timeout", 5*time.Minute)
	v.SetDefault("log-level", "info")
	v.SetDefault("log-format", "text")
}
