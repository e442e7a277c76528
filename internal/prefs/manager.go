package prefs

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/kalambet/ragdesk/internal/storage"
)

// Storage keys.
const (
	KeyTheme     = "theme"
	KeyFavorites = "favorites"
)

// ErrCorrupt marks a persisted payload that could not be parsed. It is only
// logged; Load substitutes defaults.
var ErrCorrupt = errors.New("corrupt preference payload")

// PreferenceStore defines the storage operations the Manager needs.
// Implemented by storage.Store.
type PreferenceStore interface {
	GetPreference(key string) (string, error)
	SetPreference(key, value string) error
}

// Manager holds the in-memory preferences and writes every mutation through
// to the store before returning.
type Manager struct {
	store  PreferenceStore
	logger *zap.Logger

	mu    sync.RWMutex
	prefs Preferences
}

// Load reads preferences once from store. Missing or unparsable values fall
// back to defaults per key; Load never fails.
func Load(store PreferenceStore, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{store: store, logger: logger, prefs: Defaults()}

	theme, err := loadTheme(store)
	if err != nil {
		logger.Warn("using default theme", zap.Error(err))
	} else {
		m.prefs.Theme = theme
	}

	favs, err := loadFavorites(store)
	if err != nil {
		logger.Warn("using empty favorites", zap.Error(err))
	} else {
		m.prefs.Favorites = favs
	}
	return m
}

func loadTheme(store PreferenceStore) (Theme, error) {
	raw, err := store.GetPreference(KeyTheme)
	if errors.Is(err, storage.ErrNotFound) {
		return ThemeLight, nil
	}
	if err != nil {
		return "", fmt.Errorf("reading theme: %w", err)
	}
	t := Theme(raw)
	if !t.Valid() {
		return "", fmt.Errorf("theme %q: %w", raw, ErrCorrupt)
	}
	return t, nil
}

func loadFavorites(store PreferenceStore) (map[string]struct{}, error) {
	raw, err := store.GetPreference(KeyFavorites)
	if errors.Is(err, storage.ErrNotFound) {
		return map[string]struct{}{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading favorites: %w", err)
	}
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil, fmt.Errorf("favorites: %w: %v", ErrCorrupt, err)
	}
	favs := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		favs[id] = struct{}{}
	}
	return favs, nil
}

// Preferences returns a copy of the current preferences.
func (m *Manager) Preferences() Preferences {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.prefs.clone()
}

// IsFavorite reports whether id is favorited.
func (m *Manager) IsFavorite(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.prefs.IsFavorite(id)
}

// SetTheme updates the theme and persists it.
func (m *Manager) SetTheme(t Theme) error {
	if !t.Valid() {
		return fmt.Errorf("unknown theme %q", t)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.prefs.Theme = t
	if err := m.store.SetPreference(KeyTheme, string(t)); err != nil {
		return fmt.Errorf("persisting theme: %w", err)
	}
	return nil
}

// ToggleTheme flips light/dark, persists, and returns the new theme.
func (m *Manager) ToggleTheme() (Theme, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.prefs.Theme = m.prefs.Theme.Toggled()
	if err := m.store.SetPreference(KeyTheme, string(m.prefs.Theme)); err != nil {
		return m.prefs.Theme, fmt.Errorf("persisting theme: %w", err)
	}
	return m.prefs.Theme, nil
}

// ToggleFavorite flips membership of id, persists the whole set, and
// reports whether id is now a favorite.
func (m *Manager) ToggleFavorite(id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, had := m.prefs.Favorites[id]
	if had {
		delete(m.prefs.Favorites, id)
	} else {
		m.prefs.Favorites[id] = struct{}{}
	}

	data, err := json.Marshal(m.prefs.FavoriteIDs())
	if err != nil {
		return !had, fmt.Errorf("marshalling favorites: %w", err)
	}
	if err := m.store.SetPreference(KeyFavorites, string(data)); err != nil {
		return !had, fmt.Errorf("persisting favorites: %w", err)
	}
	return !had, nil
}
