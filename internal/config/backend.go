package config

import "time"

// ConfigBackend persists non-secret settings. Getters report ok=false for
// unset keys and an error when the stored value has the wrong type.
type ConfigBackend interface {
	GetString(key string) (val string, ok bool, err error)
	GetInt(key string) (val int, ok bool, err error)
	GetBool(key string) (val bool, ok bool, err error)
	GetDuration(key string) (val time.Duration, ok bool, err error)
	Set(key string, val any) error
	Unset(key string) error
}
