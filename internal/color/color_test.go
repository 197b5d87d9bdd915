package color

import (
	"testing"
)

func TestHex(t *testing.T) {
	tests := []struct {
		c        RGB
		expected string
	}{
		{RGB{}, "#000000"},
		{RGB{R: 255, G: 255, B: 255}, "#ffffff"},
		{RGB{R: 30, G: 144, B: 255}, "#1e90ff"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.c.Hex(); got != tt.expected {
				t.Errorf("Hex() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestBelowThreshold(t *testing.T) {
	tests := []struct {
		name      string
		c         RGB
		threshold uint8
		expected  bool
	}{
		{"zero_at_zero", RGB{}, 0, true},
		{"at_threshold", RGB{R: 15, G: 15, B: 15}, 15, true},
		{"one_channel_over", RGB{R: 0, G: 16, B: 0}, 15, false},
		{"bright", RGB{R: 255, G: 128, B: 0}, 15, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.c.BelowThreshold(tt.threshold); got != tt.expected {
				t.Errorf("BelowThreshold(%d) = %v, want %v", tt.threshold, got, tt.expected)
			}
		})
	}
}

func TestName(t *testing.T) {
	tests := []struct {
		c        RGB
		expected string
	}{
		{RGB{}, "black"},
		{RGB{R: 255, G: 255, B: 255}, "white"},
		{RGB{R: 255}, "red"},
		{RGB{G: 255}, "lime"},
		{RGB{B: 255}, "blue"},
		{RGB{R: 250, G: 5, B: 3}, "red"}, // near misses snap to the closest entry
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.c.Name(); got != tt.expected {
				t.Errorf("Name() = %q, want %q", got, tt.expected)
			}
		})
	}
}
