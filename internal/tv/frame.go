package tv

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/dokzlo13/ambilightd/internal/color"
)

// ZoneFrame is one instant of per-zone edge colors, ordered counter-clockwise:
// left edge bottom-to-top, then the top edge left-to-right, then the right
// edge top-to-bottom. A 2014+ generation panel reports 17 zones
// (4 left, 9 top, 4 right); older panels report fewer.
//
//	[4]  [5]  [6]  [7]  [8]  [9]  [10] [11] [12]
//	[3]                                     [13]
//	[2]                                     [14]
//	[1]                                     [15]
//	[0]                                     [16]
type ZoneFrame []color.RGB

// Zones returns the number of zones in the frame.
func (f ZoneFrame) Zones() int { return len(f) }

// IsBlack reports whether every zone is at or below the brightness threshold,
// the proxy for "TV shows no content".
func (f ZoneFrame) IsBlack(threshold uint8) bool {
	if len(f) == 0 {
		return true
	}
	for _, c := range f {
		if !c.BelowThreshold(threshold) {
			return false
		}
	}
	return true
}

// processedPayload mirrors the JointSpace ambilight/processed response.
type processedPayload struct {
	Layer1 struct {
		Left  map[string]zoneColor `json:"left"`
		Top   map[string]zoneColor `json:"top"`
		Right map[string]zoneColor `json:"right"`
	} `json:"layer1"`
}

type zoneColor struct {
	R uint8 `json:"r"`
	G uint8 `json:"g"`
	B uint8 `json:"b"`
}

// ParseProcessed decodes an ambilight/processed body into a ZoneFrame.
// The right edge is reversed so the sequence runs one continuous loop
// around the panel.
func ParseProcessed(data []byte) (ZoneFrame, error) {
	var payload processedPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode ambilight payload: %w", err)
	}

	left := sideColors(payload.Layer1.Left, false)
	top := sideColors(payload.Layer1.Top, false)
	right := sideColors(payload.Layer1.Right, true)

	if len(left)+len(top)+len(right) == 0 {
		return nil, fmt.Errorf("ambilight payload has no zones")
	}

	frame := make(ZoneFrame, 0, len(left)+len(top)+len(right))
	frame = append(frame, left...)
	frame = append(frame, top...)
	frame = append(frame, right...)
	return frame, nil
}

// sideColors orders one edge's map ("0","1",...) by numeric key.
func sideColors(side map[string]zoneColor, reversed bool) []color.RGB {
	keys := make([]int, 0, len(side))
	byIndex := make(map[int]zoneColor, len(side))
	for k, v := range side {
		idx, err := strconv.Atoi(k)
		if err != nil {
			continue
		}
		keys = append(keys, idx)
		byIndex[idx] = v
	}
	sort.Ints(keys)

	out := make([]color.RGB, 0, len(keys))
	for _, k := range keys {
		zc := byIndex[k]
		out = append(out, color.RGB{R: zc.R, G: zc.G, B: zc.B})
	}
	if reversed {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out
}
