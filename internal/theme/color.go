package theme

import (
	"fmt"
	"strings"

	"github.com/lucasb-eyer/go-colorful"
	"gopkg.in/yaml.v3"
)

// rgbChannels is the number of channels in a colour triple.
const rgbChannels = 3

// Color is an RGB triple with 8 bits per channel.
type Color struct {
	R uint8
	G uint8
	B uint8
}

// RGB returns the colour with the given channel values.
func RGB(r, g, b uint8) Color {
	return Color{R: r, G: g, B: b}
}

// ParseColor parses a hex colour in "#rrggbb" or "#rgb" form.
// The leading '#' is optional.
func ParseColor(s string) (Color, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "#") {
		s = "#" + s
	}

	c, err := colorful.Hex(s)
	if err != nil {
		return Color{}, fmt.Errorf("%w: %q", ErrInvalidColor, s)
	}

	r, g, b := c.RGB255()
	return Color{R: r, G: g, B: b}, nil
}

// String returns the colour as "#rrggbb".
func (c Color) String() string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

// MarshalText encodes the colour as "#rrggbb".
func (c Color) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText decodes a hex colour.
func (c *Color) UnmarshalText(text []byte) error {
	parsed, err := ParseColor(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// UnmarshalYAML accepts either a [r, g, b] sequence or a hex string.
func (c *Color) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		return c.UnmarshalText([]byte(node.Value))

	case yaml.SequenceNode:
		var channels []int
		if err := node.Decode(&channels); err != nil {
			return fmt.Errorf("%w: line %d: %w", ErrInvalidColor, node.Line, err)
		}
		if len(channels) != rgbChannels {
			return fmt.Errorf("%w: line %d: want %d channels, got %d", ErrInvalidColor, node.Line, rgbChannels, len(channels))
		}
		for _, v := range channels {
			if v < 0 || v > 255 {
				return fmt.Errorf("%w: line %d: channel %d out of range 0-255", ErrInvalidColor, node.Line, v)
			}
		}
		*c = Color{R: uint8(channels[0]), G: uint8(channels[1]), B: uint8(channels[2])} // #nosec G115 -- range checked above
		return nil

	default:
		return fmt.Errorf("%w: line %d: expected sequence or string", ErrInvalidColor, node.Line)
	}
}
