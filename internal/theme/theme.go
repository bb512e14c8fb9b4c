package theme

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Reserved names in a theme document.
const (
	// DefaultMode holds colours shared by every mode.
	DefaultMode = "default"

	// DefaultKey is the per-mode fallback colour.
	DefaultKey = "default"

	// GroupingsSection names the groupings table. It is never a mode.
	GroupingsSection = "groupings"
)

// Palette maps key names to colours for one mode.
type Palette map[string]Color

// Theme is a raw or compiled theme.
type Theme struct {
	// Modes maps a mode name to its palette. Never contains GroupingsSection.
	Modes map[string]Palette

	// Groupings maps a group name to its ordered member keys.
	Groupings map[string][]string
}

// New returns an empty theme.
func New() *Theme {
	return &Theme{
		Modes:     make(map[string]Palette),
		Groupings: make(map[string][]string),
	}
}

// LoadFile reads and parses a YAML theme file.
//
// Parameters:
//   - path: Path to the theme file
//
// Returns:
//   - *Theme: Parsed (uncompiled) theme
//   - error: If the file cannot be read or is not a usable theme
func LoadFile(path string) (*Theme, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading theme file: %w", err)
	}

	t, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing theme file %s: %w", path, err)
	}
	return t, nil
}

// Parse decodes a YAML theme document.
func Parse(data []byte) (*Theme, error) {
	t := New()
	if err := yaml.Unmarshal(data, t); err != nil {
		return nil, err
	}
	if len(t.Modes) == 0 {
		return nil, fmt.Errorf("%w: no modes defined", ErrInvalidTheme)
	}
	return t, nil
}

// UnmarshalYAML splits the top-level mapping into modes and groupings.
func (t *Theme) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.DocumentNode && len(node.Content) == 1 {
		node = node.Content[0]
	}
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("%w: line %d: expected a mapping of modes", ErrInvalidTheme, node.Line)
	}

	if t.Modes == nil {
		t.Modes = make(map[string]Palette)
	}
	if t.Groupings == nil {
		t.Groupings = make(map[string][]string)
	}

	for i := 0; i+1 < len(node.Content); i += 2 {
		name := node.Content[i].Value
		value := node.Content[i+1]

		if name == GroupingsSection {
			groups := make(map[string][]string)
			if err := value.Decode(&groups); err != nil {
				return fmt.Errorf("%w: groupings: %w", ErrInvalidTheme, err)
			}
			for g, members := range groups {
				t.Groupings[g] = members
			}
			continue
		}

		palette := make(Palette)
		if err := value.Decode(&palette); err != nil {
			return fmt.Errorf("mode %q: %w", name, err)
		}
		t.Modes[name] = palette
	}

	return nil
}

// Clone returns a deep copy of the theme.
func (t *Theme) Clone() *Theme {
	out := &Theme{
		Modes:     make(map[string]Palette, len(t.Modes)),
		Groupings: make(map[string][]string, len(t.Groupings)),
	}
	for mode, palette := range t.Modes {
		cp := make(Palette, len(palette))
		for k, c := range palette {
			cp[k] = c
		}
		out.Modes[mode] = cp
	}
	for g, members := range t.Groupings {
		out.Groupings[g] = append([]string(nil), members...)
	}
	return out
}

// Explicit returns the colour set directly on key in mode, without fallbacks.
func (t *Theme) Explicit(mode, key string) (Color, bool) {
	palette, ok := t.Modes[mode]
	if !ok {
		return Color{}, false
	}
	c, ok := palette[key]
	return c, ok
}

// ModeNames returns the defined modes in sorted order.
func (t *Theme) ModeNames() []string {
	names := make([]string, 0, len(t.Modes))
	for name := range t.Modes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GroupNames returns the defined groupings in sorted order.
func (t *Theme) GroupNames() []string {
	names := make([]string, 0, len(t.Groupings))
	for name := range t.Groupings {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate reports structural problems that make resolution unreliable.
//
// All problems are returned as *ConfigError warnings; none of them stop
// the theme from being used.
func Validate(t *Theme) []error {
	var warnings []error

	if _, ok := t.Modes[GroupingsSection]; ok {
		warnings = append(warnings, &ConfigError{Mode: GroupingsSection, Err: ErrReservedMode})
	}

	base, ok := t.Modes[DefaultMode]
	if !ok {
		warnings = append(warnings, &ConfigError{Mode: DefaultMode, Err: ErrMissingDefault})
		return warnings
	}
	if _, ok := base[DefaultKey]; !ok {
		warnings = append(warnings, &ConfigError{Mode: DefaultMode, Key: DefaultKey, Err: ErrMissingDefault})
	}

	return warnings
}
