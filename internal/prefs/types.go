package prefs

import "sort"

// Theme is the binary light/dark display switch.
type Theme string

const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
)

// Valid reports whether t is a known theme.
func (t Theme) Valid() bool {
	return t == ThemeLight || t == ThemeDark
}

// Toggled returns the opposite theme.
func (t Theme) Toggled() Theme {
	if t == ThemeDark {
		return ThemeLight
	}
	return ThemeDark
}

// Preferences is the durable personalization state.
type Preferences struct {
	Theme     Theme
	Favorites map[string]struct{} // message ids
}

// Defaults returns the preferences used when nothing valid is persisted.
func Defaults() Preferences {
	return Preferences{Theme: ThemeLight, Favorites: map[string]struct{}{}}
}

// IsFavorite reports whether id is in the favorite set.
func (p Preferences) IsFavorite(id string) bool {
	_, ok := p.Favorites[id]
	return ok
}

// FavoriteIDs returns the favorite set sorted for stable output.
func (p Preferences) FavoriteIDs() []string {
	ids := make([]string, 0, len(p.Favorites))
	for id := range p.Favorites {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (p Preferences) clone() Preferences {
	cp := Preferences{Theme: p.Theme, Favorites: make(map[string]struct{}, len(p.Favorites))}
	for id := range p.Favorites {
		cp.Favorites[id] = struct{}{}
	}
	return cp
}
