// Package color holds the 8-bit RGB value exchanged between the TV sampler,
// the mixer and the streaming session.
package color

import (
	"fmt"

	colorful "github.com/lucasb-eyer/go-colorful"
)

// RGB is one 8-bit-per-channel color sample.
type RGB struct {
	R uint8
	G uint8
	B uint8
}

// Black is the zero value, spelled out for readability at call sites.
var Black = RGB{}

// Hex returns the color as "#rrggbb".
func (c RGB) Hex() string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

// Colorful converts to a go-colorful color for distance math.
func (c RGB) Colorful() colorful.Color {
	return colorful.Color{
		R: float64(c.R) / 255.0,
		G: float64(c.G) / 255.0,
		B: float64(c.B) / 255.0,
	}
}

// BelowThreshold reports whether every channel is at or below the given value.
func (c RGB) BelowThreshold(threshold uint8) bool {
	return c.R <= threshold && c.G <= threshold && c.B <= threshold
}

// namedColor is one entry of the debug-name table.
type namedColor struct {
	name string
	c    colorful.Color
}

// A compact CSS palette; enough to make debug logs readable without shipping
// the full 148-name table.
var cssPalette = []namedColor{
	{"black", mustHex("#000000")},
	{"white", mustHex("#ffffff")},
	{"gray", mustHex("#808080")},
	{"silver", mustHex("#c0c0c0")},
	{"red", mustHex("#ff0000")},
	{"darkred", mustHex("#8b0000")},
	{"orange", mustHex("#ffa500")},
	{"gold", mustHex("#ffd700")},
	{"yellow", mustHex("#ffff00")},
	{"olive", mustHex("#808000")},
	{"green", mustHex("#008000")},
	{"lime", mustHex("#00ff00")},
	{"teal", mustHex("#008080")},
	{"cyan", mustHex("#00ffff")},
	{"skyblue", mustHex("#87ceeb")},
	{"blue", mustHex("#0000ff")},
	{"navy", mustHex("#000080")},
	{"purple", mustHex("#800080")},
	{"magenta", mustHex("#ff00ff")},
	{"pink", mustHex("#ffc0cb")},
	{"brown", mustHex("#a52a2a")},
	{"maroon", mustHex("#800000")},
	{"coral", mustHex("#ff7f50")},
	{"salmon", mustHex("#fa8072")},
	{"indigo", mustHex("#4b0082")},
	{"turquoise", mustHex("#40e0d0")},
}

func mustHex(s string) colorful.Color {
	c, err := colorful.Hex(s)
	if err != nil {
		panic(err)
	}
	return c
}

// Name returns the closest CSS color name, for human-readable debug output.
func (c RGB) Name() string {
	cc := c.Colorful()
	best := cssPalette[0].name
	bestDist := cc.DistanceLab(cssPalette[0].c)
	for _, cand := range cssPalette[1:] {
		if d := cc.DistanceLab(cand.c); d < bestDist {
			best = cand.name
			bestDist = d
		}
	}
	return best
}

// String implements fmt.Stringer: "#1e90ff (skyblue)".
func (c RGB) String() string {
	return fmt.Sprintf("%s (%s)", c.Hex(), c.Name())
}
