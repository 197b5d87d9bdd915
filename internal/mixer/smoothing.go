package mixer

import (
	"github.com/dokzlo13/ambilightd/internal/color"
)

// MaxSmoothing is the upper bound for the smoothing factor. Above this the
// lights take several seconds to follow a scene cut, which reads as lag
// rather than smoothness.
const MaxSmoothing = 0.95

// Smoother keeps one exponential moving average per fixture:
//
//	out = alpha*prev + (1-alpha)*in
//
// alpha 0 disables smoothing, higher values converge slower. The first frame
// for a fixture seeds the average with the input so startup does not ramp up
// from black. The memory set is fixed to the configured fixtures and never
// grows or shrinks. The running average is kept in floating point so the
// filter converges all the way to a constant input instead of stalling a few
// counts short from 8-bit truncation.
type Smoother struct {
	alpha float64
	prev  map[uint8][3]float64
}

// NewSmoother creates a smoother for the given fixture set. The alpha range
// has been checked by config validation.
func NewSmoother(alpha float64, fixtures []Fixture) *Smoother {
	return &Smoother{
		alpha: alpha,
		prev:  make(map[uint8][3]float64, len(fixtures)),
	}
}

// Apply smooths one fixture color against its running average and updates
// the average. Called exactly once per fixture per frame.
func (s *Smoother) Apply(fc FixtureColor) FixtureColor {
	if s.alpha == 0 {
		return fc
	}

	in := [3]float64{float64(fc.Color.R), float64(fc.Color.G), float64(fc.Color.B)}

	prev, ok := s.prev[fc.Fixture.Channel]
	if !ok {
		s.prev[fc.Fixture.Channel] = in
		return fc
	}

	var next [3]float64
	for i := 0; i < 3; i++ {
		next[i] = s.alpha*prev[i] + (1-s.alpha)*in[i]
	}
	s.prev[fc.Fixture.Channel] = next

	return FixtureColor{
		Fixture: fc.Fixture,
		Color: color.RGB{
			R: uint8(next[0] + 0.5),
			G: uint8(next[1] + 0.5),
			B: uint8(next[2] + 0.5),
		},
	}
}

// ApplyAll smooths a whole frame's worth of fixture colors in order.
func (s *Smoother) ApplyAll(colors []FixtureColor) []FixtureColor {
	for i := range colors {
		colors[i] = s.Apply(colors[i])
	}
	return colors
}
