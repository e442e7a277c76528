package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// xdgDir resolves an XDG base directory for ragdesk. fallback is relative
// to the home directory and used when env is unset.
func xdgDir(env, fallback string) string {
	dir := os.Getenv(env)
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "ragdesk"
		}
		dir = filepath.Join(home, fallback)
	}
	return filepath.Join(dir, "ragdesk")
}

func defaultDataDir() string {
	return xdgDir("XDG_DATA_HOME", filepath.Join(".local", "share"))
}

func configFilePath() string {
	return filepath.Join(xdgDir("XDG_CONFIG_HOME", ".config"), "config.json")
}

// fileBackend is a flat JSON object keyed by dotted config key. Values keep
// their raw encoding until a typed getter asks for them, so a hand-edited
// "20" and 20 both read as an int.
type fileBackend struct {
	path   string
	values map[string]json.RawMessage
}

// openFileBackend reads path. A missing file is an empty config; an
// unreadable or malformed one is an error so that Set never overwrites it.
func openFileBackend(path string) (*fileBackend, error) {
	b := &fileBackend{path: path, values: map[string]json.RawMessage{}}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return b, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &b.values); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return b, nil
}

// lookup decodes key as T, falling back to parsing a JSON string with
// fromString when the value is quoted.
func lookup[T any](b *fileBackend, key string, fromString func(string) (T, error)) (T, bool, error) {
	var zero T
	raw, ok := b.values[key]
	if !ok {
		return zero, false, nil
	}
	var v T
	if err := json.Unmarshal(raw, &v); err == nil {
		return v, true, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil || fromString == nil {
		return zero, true, fmt.Errorf("unexpected value %s", raw)
	}
	v, err := fromString(s)
	if err != nil {
		return zero, true, err
	}
	return v, true, nil
}

func (b *fileBackend) GetString(key string) (string, bool, error) {
	return lookup[string](b, key, nil)
}

func (b *fileBackend) GetInt(key string) (int, bool, error) {
	return lookup(b, key, strconv.Atoi)
}

func (b *fileBackend) GetBool(key string) (bool, bool, error) {
	return lookup(b, key, strconv.ParseBool)
}

// GetDuration only accepts strings; a bare number has no unit.
func (b *fileBackend) GetDuration(key string) (time.Duration, bool, error) {
	s, ok, err := lookup[string](b, key, nil)
	if !ok || err != nil {
		return 0, ok, err
	}
	d, err := parseDuration(s)
	return d, true, err
}

func (b *fileBackend) Set(key string, val any) error {
	raw, err := json.Marshal(val)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	b.values[key] = raw
	return b.save()
}

func (b *fileBackend) Unset(key string) error {
	if _, ok := b.values[key]; !ok {
		return nil
	}
	delete(b.values, key)
	return b.save()
}

func (b *fileBackend) save() error {
	if err := os.MkdirAll(filepath.Dir(b.path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	data, err := json.MarshalIndent(b.values, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(b.path, append(data, '\n'), 0o600)
}
