package theme

// CompileOptions tunes grouping expansion.
type CompileOptions struct {
	// KnownKeys, when non-nil, is the set of key names the attached devices
	// expose. Grouping members outside this set are skipped with ErrUnknownKey.
	KnownKeys map[string]bool
}

// Compile expands groupings into explicit per-key colours.
//
// For every grouping G and every mode M whose palette colours G, each member
// key is given G's colour in M unless the key is explicitly coloured in M or
// in the default mode. "Explicitly" is judged against the input theme, so the
// result does not depend on the order groups or modes are visited, and
// compiling a compiled theme changes nothing.
//
// When two groupings colour the same key in the same mode, the grouping
// whose name sorts first wins and an ErrGroupConflict warning is reported.
//
// The input theme is not modified.
//
// Parameters:
//   - t: Raw theme
//   - opts: Expansion options
//
// Returns:
//   - *Theme: Compiled theme (a deep copy; groupings are retained)
//   - []error: *ConfigError warnings for skipped members
func Compile(t *Theme, opts CompileOptions) (*Theme, []error) {
	out := t.Clone()
	if len(t.Groupings) == 0 {
		return out, nil
	}

	var warnings []error
	base := t.Modes[DefaultMode]

	// claimed[mode][key] is the group that coloured key in mode.
	claimed := make(map[string]map[string]string)

	for _, group := range t.GroupNames() {
		members := validMembers(t, group, opts, &warnings)
		if len(members) == 0 {
			continue
		}

		for _, mode := range t.ModeNames() {
			if mode == GroupingsSection {
				continue
			}
			palette := t.Modes[mode]
			colour, ok := palette[group]
			if !ok {
				continue
			}

			for _, key := range members {
				if _, explicit := palette[key]; explicit {
					continue
				}
				if _, inDefault := base[key]; inDefault {
					continue
				}

				if owner, taken := claimed[mode][key]; taken {
					if owner != group {
						warnings = append(warnings, &ConfigError{Mode: mode, Group: group, Key: key, Err: ErrGroupConflict})
					}
					continue
				}

				out.Modes[mode][key] = colour
				if claimed[mode] == nil {
					claimed[mode] = make(map[string]string)
				}
				claimed[mode][key] = group
			}
		}
	}

	return out, warnings
}

// validMembers returns the members of group that can be expanded, recording
// a warning for each one that is skipped.
func validMembers(t *Theme, group string, opts CompileOptions, warnings *[]error) []string {
	members := t.Groupings[group]
	if len(members) == 0 {
		*warnings = append(*warnings, &ConfigError{Group: group, Err: ErrEmptyGroup})
		return nil
	}

	valid := make([]string, 0, len(members))
	seen := make(map[string]bool, len(members))
	for _, key := range members {
		if seen[key] {
			continue
		}
		seen[key] = true

		if _, nested := t.Groupings[key]; nested {
			*warnings = append(*warnings, &ConfigError{Group: group, Key: key, Err: ErrNestedGroup})
			continue
		}
		if opts.KnownKeys != nil && !opts.KnownKeys[key] {
			*warnings = append(*warnings, &ConfigError{Group: group, Key: key, Err: ErrUnknownKey})
			continue
		}
		valid = append(valid, key)
	}
	return valid
}
