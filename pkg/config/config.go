// Package config loads agentx settings from defaults, an optional YAML file
// and AGENTX_* environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Session  SessionConfig  `mapstructure:"session"`
	Sandbox  SandboxConfig  `mapstructure:"sandbox"`
	Model    ModelConfig    `mapstructure:"model"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdownTimeout"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// SessionConfig selects where pipeline session state lives. The sqlite
// backend shares the database file; jsonl keeps one file per session in Dir.
type SessionConfig struct {
	Backend string `mapstructure:"backend"`
	Dir     string `mapstructure:"dir"`
	App     string `mapstructure:"app"`
	User    string `mapstructure:"user"`
}

type SandboxConfig struct {
	Provider         string       `mapstructure:"provider"`
	Template         string       `mapstructure:"template"`
	ServicePort      int          `mapstructure:"servicePort"`
	PortCommand      string       `mapstructure:"portCommand"`
	BuildCommand     string       `mapstructure:"buildCommand"`
	TypeCheckCommand string       `mapstructure:"typeCheckCommand"`
	LocalDir         string       `mapstructure:"localDir"`
	Docker           DockerConfig `mapstructure:"docker"`
}

type DockerConfig struct {
	// Images maps template names to images.
	Images            map[string]string `mapstructure:"images"`
	DefaultImage      string            `mapstructure:"defaultImage"`
	HostIP            string            `mapstructure:"hostIP"`
	ReconcileInterval time.Duration     `mapstructure:"reconcileInterval"`
}

type ModelConfig struct {
	// Provider is gemini, or scripted for offline runs.
	Provider   string `mapstructure:"provider"`
	APIKey     string `mapstructure:"apiKey"`
	CodeModel  string `mapstructure:"codeModel"`
	TitleModel string `mapstructure:"titleModel"`
}

type PipelineConfig struct {
	MaxSteps          int           `mapstructure:"maxSteps"`
	MaxConcurrentRuns int64         `mapstructure:"maxConcurrentRuns"`
	RunTimeout        time.Duration `mapstructure:"runTimeout"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdownTimeout", 10*time.Second)

	v.SetDefault("database.path", "data/agentx.db")

	v.SetDefault("session.backend", "sqlite")
	v.SetDefault("session.dir", "data/sessions")
	v.SetDefault("session.app", "agentx")
	v.SetDefault("session.user", "default")

	v.SetDefault("sandbox.provider", "docker")
	v.SetDefault("sandbox.template", "agentX-test")
	v.SetDefault("sandbox.servicePort", 3000)
	v.SetDefault("sandbox.portCommand", "")
	v.SetDefault("sandbox.buildCommand", "npm run build --if-present")
	v.SetDefault("sandbox.typeCheckCommand", "npx --no-install tsc --noEmit")
	v.SetDefault("sandbox.localDir", "data/sandboxes")
	v.SetDefault("sandbox.docker.images", map[string]string{})
	v.SetDefault("sandbox.docker.defaultImage", "agentx-sandbox:latest")
	v.SetDefault("sandbox.docker.hostIP", "127.0.0.1")
	v.SetDefault("sandbox.docker.reconcileInterval", time.Minute)

	v.SetDefault("model.provider", "gemini")
	v.SetDefault("model.apiKey", "")
	v.SetDefault("model.codeModel", "gemini-2.5-pro")
	v.SetDefault("model.titleModel", "gemini-2.5-flash")

	v.SetDefault("pipeline.maxSteps", 30)
	v.SetDefault("pipeline.maxConcurrentRuns", 4)
	v.SetDefault("pipeline.runTimeout", 15*time.Minute)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// Load reads configuration, looking for agentx.yaml in the working directory
// unless path names a file.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("AGENTX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("model.apiKey", "AGENTX_MODEL_APIKEY", "GEMINI_API_KEY")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("agentx")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// normalize lowercases the enumerated settings so callers can compare them
// exactly.
func (c *Config) normalize() {
	for _, p := range []*string{
		&c.Session.Backend,
		&c.Sandbox.Provider,
		&c.Model.Provider,
		&c.Logging.Level,
		&c.Logging.Format,
	} {
		*p = strings.ToLower(strings.TrimSpace(*p))
	}
}

// Validate reports every invalid setting at once. Enumerated settings must be
// lowercase; Load normalizes them.
func (c *Config) Validate() error {
	var errs []error
	oneOf := func(key, val string, allowed ...string) {
		for _, a := range allowed {
			if val == a {
				return
			}
		}
		errs = append(errs, fmt.Errorf("%s must be one of %s, got %q", key, strings.Join(allowed, ", "), val))
	}

	oneOf("session.backend", c.Session.Backend, "sqlite", "jsonl")
	oneOf("sandbox.provider", c.Sandbox.Provider, "docker", "local")
	oneOf("model.provider", c.Model.Provider, "gemini", "scripted")
	oneOf("logging.level", c.Logging.Level, "debug", "info", "warn", "error")
	oneOf("logging.format", c.Logging.Format, "text", "json")

	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path is required"))
	}
	if c.Sandbox.ServicePort <= 0 || c.Sandbox.ServicePort > 65535 {
		errs = append(errs, errors.New("sandbox.servicePort must be between 1 and 65535"))
	}
	if c.Pipeline.MaxSteps <= 0 {
		errs = append(errs, errors.New("pipeline.maxSteps must be positive"))
	}
	if c.Pipeline.MaxConcurrentRuns <= 0 {
		errs = append(errs, errors.New("pipeline.maxConcurrentRuns must be positive"))
	}
	if c.Model.Provider == "gemini" && c.Model.APIKey == "" {
		errs = append(errs, errors.New("model.apiKey (or GEMINI_API_KEY) is required for the gemini provider"))
	}
	return errors.Join(errs...)
}

// Handler returns the slog handler described by the logging settings.
func (l LoggingConfig) Handler(w io.Writer) slog.Handler {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(l.Format, "json") {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}
