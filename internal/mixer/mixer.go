// Package mixer maps TV ambilight zones onto light fixtures: per-fixture
// channel averaging plus exponential smoothing across frames.
package mixer

import (
	"github.com/dokzlo13/ambilightd/internal/color"
	"github.com/dokzlo13/ambilightd/internal/tv"
)

// Fixture is one light in the entertainment area, drawing its color from a
// fixed set of TV zones. Built once from validated config, immutable after.
type Fixture struct {
	Name    string
	Channel uint8 // channel id inside the entertainment area
	Zones   []int // zone indices this fixture averages over
}

// FixtureColor pairs a fixture channel with the color to display.
type FixtureColor struct {
	Fixture *Fixture
	Color   color.RGB
}

// Mix computes the per-fixture average color from one frame. Pure function:
// configuration validation has already guaranteed every zone index is in
// range for the frame size, so no error path exists here.
func Mix(frame tv.ZoneFrame, fixtures []Fixture) []FixtureColor {
	out := make([]FixtureColor, len(fixtures))
	for i := range fixtures {
		f := &fixtures[i]
		var r, g, b int
		for _, z := range f.Zones {
			c := frame[z]
			r += int(c.R)
			g += int(c.G)
			b += int(c.B)
		}
		n := len(f.Zones)
		out[i] = FixtureColor{
			Fixture: f,
			Color: color.RGB{
				R: uint8(r / n),
				G: uint8(g / n),
				B: uint8(b / n),
			},
		}
	}
	return out
}
