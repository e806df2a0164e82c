package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	AI        AIConfig        `yaml:"ai"`
	NATS      NATSConfig      `yaml:"nats"`
	Store     StoreConfig     `yaml:"store"`
	Web       WebConfig       `yaml:"web"`
	Jobs      JobsConfig      `yaml:"jobs"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Vault     VaultConfig     `yaml:"vault"`
}

// AIConfig points at any OpenAI-compatible chat completions endpoint.
type AIConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

type NATSConfig struct {
	Port    int    `yaml:"port"`
	DataDir string `yaml:"data_dir"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Auth    string `yaml:"auth"`
	User    string `yaml:"user"`
	Role    string `yaml:"role"`
}

type JobsConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	Retention    time.Duration `yaml:"retention"`
}

type SchedulerConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
}

type TelegramConfig struct {
	Token     string  `yaml:"token"`
	AllowFrom []int64 `yaml:"allow_from"`
	Role      string  `yaml:"role"`
}

type VaultConfig struct {
	Passphrase string `yaml:"passphrase"`
}

func defaults() Config {
	return Config{
		AI: AIConfig{
			Model:   "gpt-4o-mini",
			Timeout: 2 * time.Minute,
		},
		NATS: NATSConfig{
			Port:    4222,
			DataDir: "data/nats",
		},
		Store: StoreConfig{
			Path: "data/meshwork.db",
		},
		Web: WebConfig{
			Enabled: true,
			Port:    8080,
			User:    "admin",
			Role:    "admin",
		},
		Jobs: JobsConfig{
			PollInterval: time.Second,
		},
		Scheduler: SchedulerConfig{
			PollInterval: 30 * time.Second,
		},
		Telegram: TelegramConfig{
			Role: "operator",
		},
	}
}

func Load() (*Config, error) {
	cfg := defaults()

	path := os.Getenv("MESHWORK_CONFIG")
	if path == "" {
		path = "config/meshwork.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("MESHWORK_AI_API_KEY"); v != "" {
		cfg.AI.APIKey = v
	}
	if v := os.Getenv("MESHWORK_AI_MODEL"); v != "" {
		cfg.AI.Model = v
	}
	if v := os.Getenv("MESHWORK_AI_BASE_URL"); v != "" {
		cfg.AI.BaseURL = v
	}
	if v := os.Getenv("MESHWORK_WEB_PASSWORD"); v != "" {
		cfg.Web.Auth = v
	}
	if v := os.Getenv("MESHWORK_WEB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Web.Port = port
		}
	}
	if v := os.Getenv("MESHWORK_NATS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.NATS.Port = port
		}
	}
	if v := os.Getenv("MESHWORK_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("MESHWORK_TELEGRAM_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}
	if v := os.Getenv("MESHWORK_VAULT_PASSPHRASE"); v != "" {
		cfg.Vault.Passphrase = v
	}
	if v := os.Getenv("MESHWORK_JOBS_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Jobs.PollInterval = d
		}
	}
}

func (c *Config) validate() error {
	if c.Jobs.PollInterval <= 0 {
		return fmt.Errorf("jobs.poll_interval must be positive, got %v", c.Jobs.PollInterval)
	}
	if c.Jobs.Retention < 0 {
		return fmt.Errorf("jobs.retention must not be negative")
	}
	return nil
}
