package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kDuration
)

func (t keyType) String() string {
	switch t {
	case kInt:
		return "integer"
	case kBool:
		return "bool"
	case kDuration:
		return "duration"
	}
	return "string"
}

// parse converts env and command-line text into the key's Go value.
func (t keyType) parse(raw string) (any, error) {
	switch t {
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	case kDuration:
		return parseDuration(raw)
	}
	return raw, nil
}

// encode is the form written to the backend.
func (t keyType) encode(v any) any {
	if t == kDuration {
		return formatDuration(v.(time.Duration))
	}
	return v
}

// read fetches key from b with the getter matching t.
func (t keyType) read(b ConfigBackend, key string) (any, bool, error) {
	switch t {
	case kInt:
		v, ok, err := b.GetInt(key)
		return v, ok, err
	case kBool:
		v, ok, err := b.GetBool(key)
		return v, ok, err
	case kDuration:
		v, ok, err := b.GetDuration(key)
		return v, ok, err
	}
	v, ok, err := b.GetString(key)
	return v, ok, err
}

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "remote.base_url", typ: kString, env: "RAGDESK_REMOTE_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Remote.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Remote.BaseURL },
	},
	{
		key: "remote.api_token", typ: kString, env: "RAGDESK_REMOTE_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Remote.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Remote.APIToken },
	},
	{
		key: "remote.request_timeout", typ: kDuration, env: "RAGDESK_REMOTE_REQUEST_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Remote.RequestTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return formatDuration(cfg.Remote.RequestTimeout) },
	},
	{
		key: "query.top_k", typ: kInt, env: "RAGDESK_QUERY_TOP_K",
		apply:   func(cfg *Config, v any) { cfg.Query.TopK = v.(int) },
		extract: func(cfg Config) any { return cfg.Query.TopK },
	},
	{
		key: "history.limit", typ: kInt, env: "RAGDESK_HISTORY_LIMIT",
		apply:   func(cfg *Config, v any) { cfg.History.Limit = v.(int) },
		extract: func(cfg Config) any { return cfg.History.Limit },
	},
	{
		key: "upload.concurrency", typ: kInt, env: "RAGDESK_UPLOAD_CONCURRENCY",
		apply:   func(cfg *Config, v any) { cfg.Upload.Concurrency = v.(int) },
		extract: func(cfg Config) any { return cfg.Upload.Concurrency },
	},
	{
		key: "session.refresh_interval", typ: kDuration, env: "RAGDESK_SESSION_REFRESH_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Session.RefreshInterval = v.(time.Duration) },
		extract: func(cfg Config) any { return formatDuration(cfg.Session.RefreshInterval) },
	},
	{
		key: "notify.ttl", typ: kDuration, env: "RAGDESK_NOTIFY_TTL",
		apply:   func(cfg *Config, v any) { cfg.Notify.TTL = v.(time.Duration) },
		extract: func(cfg Config) any { return formatDuration(cfg.Notify.TTL) },
	},
	{
		key: "storage.data_dir", typ: kString, env: "RAGDESK_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "RAGDESK_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "log.console", typ: kBool, env: "RAGDESK_LOG_CONSOLE",
		apply:   func(cfg *Config, v any) { cfg.Log.Console = v.(bool) },
		extract: func(cfg Config) any { return cfg.Log.Console },
	},
}

// formatDuration renders zero as the empty string, which parseDuration reads
// back as zero.
func formatDuration(d time.Duration) string {
	if d == 0 {
		return ""
	}
	return d.String()
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		v, ok, err := s.typ.read(b, s.key)
		if err != nil {
			return fmt.Errorf("config key %s: want a %s: %w", s.key, s.typ, err)
		}
		if ok {
			s.apply(cfg, v)
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := s.typ.parse(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse %s from env var %s=%q: %v. Using default value.\n", s.typ, s.env, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}
