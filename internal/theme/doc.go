// Package theme loads, validates and compiles VimRGB keyboard themes.
//
// A theme maps editor modes to per-key colours. Two names are reserved:
// the "default" mode supplies colours shared by every mode, and the
// "default" key inside a mode supplies the colour for keys the mode does
// not mention. An optional "groupings" section names sets of keys so a
// single entry can colour all of them:
//
//	default:
//	  default: [0, 0, 0]
//	insert:
//	  default: "#202020"
//	  movement: [0, 255, 0]
//	groupings:
//	  movement: [w, a, s, d]
//
// # Compilation
//
// Compile expands groupings into explicit per-key entries. A group colour
// never overrides a key that the mode (or the default mode) already
// colours explicitly. Compilation is idempotent and independent of map
// iteration order.
//
// # Errors
//
// Problems in a theme are reported as *ConfigError values. They are
// warnings: the offending entry is skipped and the rest of the theme is
// still usable, so a typo never leaves the keyboard dark.
package theme
