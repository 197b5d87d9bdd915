package stream

import (
	"encoding/binary"

	"github.com/dokzlo13/ambilightd/internal/mixer"
)

// HueStream protocol v2 frame layout:
//
//	 0..8   "HueStream"
//	 9..10  version (0x02, 0x00)
//	11      sequence id
//	12..13  reserved
//	14      color space (0x00 = RGB)
//	15      reserved
//	16..51  entertainment configuration id (36 ASCII bytes)
//	52..    channel records: id (1 byte) + R,G,B as big-endian uint16
const (
	protocolName  = "HueStream"
	headerLen     = 16
	areaIDLen     = 36
	channelRecLen = 7

	colorSpaceRGB = 0x00

	// MaxChannels is the bridge's per-message channel limit.
	MaxChannels = 20
)

// encodeMessage builds one streaming frame for the given fixture colors.
// Channel counts beyond MaxChannels are impossible by construction: the
// fixture list was validated against the entertainment area at startup.
func encodeMessage(areaID string, seq uint8, colors []mixer.FixtureColor) []byte {
	msg := make([]byte, 0, headerLen+areaIDLen+len(colors)*channelRecLen)

	msg = append(msg, protocolName...)
	msg = append(msg, 0x02, 0x00) // version 2.0
	msg = append(msg, seq)
	msg = append(msg, 0x00, 0x00) // reserved
	msg = append(msg, colorSpaceRGB)
	msg = append(msg, 0x00) // reserved
	msg = append(msg, areaID...)

	var rec [channelRecLen]byte
	for _, fc := range colors {
		rec[0] = fc.Fixture.Channel
		binary.BigEndian.PutUint16(rec[1:3], widen(fc.Color.R))
		binary.BigEndian.PutUint16(rec[3:5], widen(fc.Color.G))
		binary.BigEndian.PutUint16(rec[5:7], widen(fc.Color.B))
		msg = append(msg, rec[:]...)
	}

	return msg
}

// widen scales an 8-bit channel onto the full 16-bit wire range, so that
// 0xff maps to 0xffff rather than 0xff00.
func widen(v uint8) uint16 {
	return uint16(v)<<8 | uint16(v)
}
