package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Remote  RemoteConfig
	Query   QueryConfig
	History HistoryConfig
	Upload  UploadConfig
	Session SessionConfig
	Notify  NotifyConfig
	Storage StorageConfig
	Log     LogConfig
}

type RemoteConfig struct {
	BaseURL        string
	APIToken       string
	RequestTimeout time.Duration // zero means no timeout
}

type QueryConfig struct {
	TopK int
}

type HistoryConfig struct {
	Limit int
}

type UploadConfig struct {
	Concurrency int
}

type SessionConfig struct {
	RefreshInterval time.Duration
}

type NotifyConfig struct {
	TTL time.Duration
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level   string
	Console bool
}

// LogFile is where the rotating log is written.
func (c Config) LogFile() string {
	return filepath.Join(c.Storage.DataDir, "logs", "ragdesk.log")
}

func defaults() Config {
	return Config{
		Remote:  RemoteConfig{BaseURL: "http://localhost:8000"},
		Query:   QueryConfig{TopK: 4},
		History: HistoryConfig{Limit: 50},
		Upload:  UploadConfig{Concurrency: 1},
		Session: SessionConfig{RefreshInterval: 30 * time.Second},
		Notify:  NotifyConfig{TTL: 3 * time.Second},
		Storage: StorageConfig{DataDir: defaultDataDir()},
		Log:     LogConfig{Level: "info"},
	}
}

// Load reads configuration from the JSON file at
// $XDG_CONFIG_HOME/ragdesk/config.json and environment variables.
//
// A .env file in the working directory is loaded into the environment first;
// variables already set win. Environment variables (RAGDESK_*) override file
// values. The API token is only read from the environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "[WARN] could not read .env: %v\n", err)
	}
	b, err := openFileBackend(configFilePath())
	if err != nil {
		return Config{}, err
	}
	return loadWith(b)
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	u, err := url.Parse(c.Remote.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid remote.base_url %q: want an absolute http(s) URL", c.Remote.BaseURL)
	}
	if c.Query.TopK < 1 {
		return fmt.Errorf("query.top_k must be at least 1, got %d", c.Query.TopK)
	}
	if c.History.Limit < 1 {
		return fmt.Errorf("history.limit must be at least 1, got %d", c.History.Limit)
	}
	if c.Upload.Concurrency < 1 {
		return fmt.Errorf("upload.concurrency must be at least 1, got %d", c.Upload.Concurrency)
	}
	if c.Session.RefreshInterval <= 0 {
		return fmt.Errorf("session.refresh_interval must be positive, got %s", c.Session.RefreshInterval)
	}
	if c.Notify.TTL <= 0 {
		return fmt.Errorf("notify.ttl must be positive, got %s", c.Notify.TTL)
	}
	if c.Storage.DataDir == "" {
		return errors.New("storage.data_dir must not be empty")
	}
	return nil
}
