package theme

import (
	"errors"
	"fmt"
)

// Domain errors for the theme package.
//
// ConfigError values wrap one of these, so callers can branch with errors.Is:
//
//	if errors.Is(err, theme.ErrUnknownKey) {
//	    // a grouping references a key no device has
//	}
var (
	// ErrInvalidTheme is returned when a theme document cannot be used at all.
	ErrInvalidTheme = errors.New("theme: invalid")

	// ErrInvalidColor is returned when a colour value cannot be parsed.
	ErrInvalidColor = errors.New("theme: invalid colour")

	// ErrUnknownKey is reported when a grouping references a key that no device exposes.
	ErrUnknownKey = errors.New("theme: unknown key")

	// ErrNestedGroup is reported when a grouping lists another grouping as a member.
	ErrNestedGroup = errors.New("theme: groupings cannot reference other groupings")

	// ErrEmptyGroup is reported for a grouping without members.
	ErrEmptyGroup = errors.New("theme: empty grouping")

	// ErrGroupConflict is reported when two groupings colour the same key in one mode.
	ErrGroupConflict = errors.New("theme: key claimed by more than one grouping")

	// ErrMissingDefault is reported when the default mode or its default key is absent.
	ErrMissingDefault = errors.New("theme: missing default fallback")

	// ErrReservedMode is reported when "groupings" is used in a mode position.
	ErrReservedMode = errors.New("theme: reserved mode name")
)

// ConfigError describes a non-fatal problem in a theme.
//
// The zero values of Mode, Group and Key mean "not applicable".
type ConfigError struct {
	Mode  string
	Group string
	Key   string
	Err   error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	msg := e.Err.Error()
	if e.Mode != "" {
		msg += fmt.Sprintf(" (mode %q)", e.Mode)
	}
	if e.Group != "" {
		msg += fmt.Sprintf(" (group %q)", e.Group)
	}
	if e.Key != "" {
		msg += fmt.Sprintf(" (key %q)", e.Key)
	}
	return msg
}

// Unwrap returns the sentinel error this ConfigError wraps.
func (e *ConfigError) Unwrap() error {
	return e.Err
}
