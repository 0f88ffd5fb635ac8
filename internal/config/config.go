// Package config loads the daemon settings from a YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"limone/internal/gateway"
	"limone/internal/history"
	"limone/internal/ipc"
	"limone/internal/speech"
)

const (
	InterpreterBackend = "backend"
	InterpreterOpenAI  = "openai"
)

const (
	EnvAPIURL    = "LIMONE_API_URL"
	EnvBusURL    = "LIMONE_BUS_URL"
	EnvProxy     = "LIMONE_PROXY"
	EnvOpenAIKey = "OPENAI_API_KEY"
)

type OfflineQueue struct {
	Enabled     bool          `yaml:"enabled"`
	MaxAttempts int           `yaml:"max_attempts"`
	Backoff     time.Duration `yaml:"backoff"`
}

type Config struct {
	APIURL      string `yaml:"api_url"`
	Interpreter string `yaml:"interpreter"`
	OpenAIModel string `yaml:"openai_model"`
	OpenAIKey   string `yaml:"-"`
	Proxy       string `yaml:"proxy"`

	HealthTimeout  time.Duration `yaml:"health_timeout"`
	CommandTimeout time.Duration `yaml:"command_timeout"`
	PollInterval   time.Duration `yaml:"poll_interval"`

	// ProbeBeforeSend health-checks the backend ahead of every command.
	ProbeBeforeSend bool `yaml:"probe_before_send"`

	HistoryCap int    `yaml:"history_cap"`
	DBPath     string `yaml:"db_path"`
	Socket     string `yaml:"socket"`
	BusURL     string `yaml:"bus_url"`

	Language     string        `yaml:"language"`
	Voice        string        `yaml:"voice"`
	SpeechPolicy string        `yaml:"speech_policy"`
	WhisperModel string        `yaml:"whisper_model"`
	MaxRecord    time.Duration `yaml:"max_record"`
	DuckFactor   float64       `yaml:"duck_factor"`
	DuckFloor    int           `yaml:"duck_floor"`

	OfflineQueue OfflineQueue `yaml:"offline_queue"`

	BeepPath      string `yaml:"beep_path"`
	DesktopNotify bool   `yaml:"desktop_notify"`
}

func Default() Config {
	return Config{
		APIURL:         "http://localhost:8000",
		Interpreter:    InterpreterBackend,
		HealthTimeout:  gateway.DefaultHealthTimeout,
		CommandTimeout: gateway.DefaultCommandTimeout,
		PollInterval:   gateway.DefaultPollInterval,
		HistoryCap:     history.DefaultCap,
		DBPath:         "limone.db",
		Socket:         ipc.DefaultSocketPath,
		Language:       "ko",
		Voice:          "ko",
		SpeechPolicy:   string(speech.PolicyReplace),
		WhisperModel:   "models/ggml-medium.bin",
		MaxRecord:      15 * time.Second,
		DuckFactor:     0.3,
		DuckFloor:      10,
		OfflineQueue: OfflineQueue{
			Enabled:     true,
			MaxAttempts: gateway.DefaultMaxAttempts,
			Backoff:     gateway.DefaultBackoff,
		},
		BeepPath:      "beep.mp3",
		DesktopNotify: true,
	}
}

// Load reads path over the defaults, then applies environment overrides.
// An empty path or a missing file leaves the defaults in place.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	cfg.applyEnv(os.Getenv)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv(EnvAPIURL); v != "" {
		c.APIURL = v
	}
	if v := getenv(EnvBusURL); v != "" {
		c.BusURL = v
	}
	if v := getenv(EnvProxy); v != "" {
		c.Proxy = v
	}
	if v := getenv(EnvOpenAIKey); v != "" {
		c.OpenAIKey = v
	}
}

func (c Config) Validate() error {
	var errs []error

	switch c.Interpreter {
	case InterpreterBackend:
		if c.APIURL == "" {
			errs = append(errs, errors.New("api_url is required for the backend interpreter"))
		}
	case InterpreterOpenAI:
		if c.OpenAIKey == "" {
			errs = append(errs, fmt.Errorf("%s is required for the openai interpreter", EnvOpenAIKey))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown interpreter %q", c.Interpreter))
	}

	if _, err := speech.ParsePolicy(c.SpeechPolicy); err != nil {
		errs = append(errs, err)
	}
	if c.HistoryCap <= 0 {
		errs = append(errs, fmt.Errorf("history_cap must be positive, got %d", c.HistoryCap))
	}
	if c.HealthTimeout <= 0 || c.CommandTimeout <= 0 || c.PollInterval <= 0 {
		errs = append(errs, errors.New("timeouts and poll_interval must be positive"))
	}
	if c.DuckFactor < 0 || c.DuckFactor > 1 {
		errs = append(errs, fmt.Errorf("duck_factor must be within [0, 1], got %v", c.DuckFactor))
	}
	if c.Socket == "" {
		errs = append(errs, errors.New("socket is required"))
	}

	return errors.Join(errs...)
}
