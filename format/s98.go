package format

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
)

// S98Header holds the fields of an S98 file header.
type S98Header struct {
	Version    uint32 // format version, 1..3
	TimerNum   uint32 // timer numerator (default 10)
	TimerDen   uint32 // timer denominator (default 1000)
	TagOffset  uint32
	DataOffset uint32
	LoopOffset uint32 // 0 = no loop
}

func (*S98Header) isHeader() {}

// s98DeviceNames maps S98 v3 device type IDs to chip names.
var s98DeviceNames = map[uint32]string{
	1:  "YM2149",
	2:  "YM2203",
	3:  "YM2612",
	4:  "YM2608",
	5:  "YM2151",
	6:  "YM2413",
	7:  "YM3526",
	8:  "YM3812",
	9:  "YMF262",
	15: "AY8910",
	16: "SN76489",
}

// s98TagKeys maps lowercase S98 tag names to the canonical dictionary keys.
var s98TagKeys = map[string]string{
	"title":     "TITLE",
	"game":      "GAME",
	"artist":    "ARTIST",
	"year":      "DATE",
	"comment":   "COMMENT",
	"s98by":     "ENCODED_BY",
	"system":    "SYSTEM",
	"genre":     "GENRE",
	"copyright": "COPYRIGHT",
}

type s98Backend struct {
	hdr     *S98Header
	tags    map[string]string
	devices []Device
}

func (b *s98Backend) Family() Family { return FamilyS98 }

func (b *s98Backend) Detect(data []byte) bool {
	return len(data) >= 4 && string(data[:3]) == "S98" &&
		data[3] >= '0' && data[3] <= '3'
}

func (b *s98Backend) Load(data []byte) error {
	if !b.Detect(data) {
		return fmt.Errorf("s98: bad signature")
	}
	if len(data) < 0x20 {
		return fmt.Errorf("s98: header truncated (%d bytes)", len(data))
	}

	le := binary.LittleEndian
	hdr := &S98Header{
		Version:    uint32(data[3] - '0'),
		TimerNum:   le.Uint32(data[0x04:]),
		TimerDen:   le.Uint32(data[0x08:]),
		TagOffset:  le.Uint32(data[0x10:]),
		DataOffset: le.Uint32(data[0x14:]),
		LoopOffset: le.Uint32(data[0x18:]),
	}
	if hdr.Version == 0 {
		hdr.Version = 1
	}
	if hdr.TimerNum == 0 {
		hdr.TimerNum = 10
	}
	if hdr.TimerDen == 0 {
		hdr.TimerDen = 1000
	}

	b.hdr = hdr
	b.devices = parseS98Devices(data, hdr)
	b.tags = parseS98Tags(data, hdr)
	return nil
}

func parseS98Devices(data []byte, hdr *S98Header) []Device {
	// Versions 1 and 2 have no device table and imply a single OPNA.
	if hdr.Version < 3 || len(data) < 0x20 {
		return []Device{{Name: "YM2608", Clock: 7987200}}
	}

	count := binary.LittleEndian.Uint32(data[0x1C:])
	if count == 0 {
		return []Device{{Name: "YM2608", Clock: 7987200}}
	}

	var devices []Device
	for i := uint32(0); i < count; i++ {
		entry := 0x20 + i*0x10
		if entry+8 > uint32(len(data)) {
			break
		}
		devType := binary.LittleEndian.Uint32(data[entry:])
		clock := binary.LittleEndian.Uint32(data[entry+4:])
		name, ok := s98DeviceNames[devType]
		if !ok {
			name = "Unknown"
		}
		devices = append(devices, Device{Name: name, Clock: clock})
	}
	return devices
}

func parseS98Tags(data []byte, hdr *S98Header) map[string]string {
	tags := make(map[string]string)
	if hdr.TagOffset == 0 || hdr.TagOffset >= uint32(len(data)) {
		return tags
	}
	raw := data[hdr.TagOffset:]

	// Version 3 tag blocks begin with "[S98]" and hold key=value lines.
	// Older versions store a bare title string.
	if hdr.Version >= 3 && bytes.HasPrefix(raw, []byte("[S98]")) {
		raw = raw[5:]
		raw = bytes.TrimPrefix(raw, []byte{0xEF, 0xBB, 0xBF})
		if i := bytes.IndexByte(raw, 0); i >= 0 {
			raw = raw[:i]
		}
		for _, line := range strings.FieldsFunc(string(raw), func(r rune) bool {
			return r == '\n' || r == '\r'
		}) {
			key, value, ok := strings.Cut(line, "=")
			if !ok || value == "" {
				continue
			}
			if canonical, known := s98TagKeys[strings.ToLower(key)]; known {
				tags[canonical] = value
			}
		}
		return tags
	}

	if i := bytes.IndexByte(raw, 0); i >= 0 {
		raw = raw[:i]
	}
	if title := strings.TrimSpace(string(raw)); title != "" {
		tags["TITLE"] = title
	}
	return tags
}

func (b *s98Backend) Header() Header {
	if b.hdr == nil {
		return nil
	}
	return b.hdr
}

func (b *s98Backend) Tags() map[string]string { return b.tags }
func (b *s98Backend) Devices() []Device       { return b.devices }

// TotalTicks is 0: the song length is defined by the command stream,
// which is collaborator territory.
func (b *s98Backend) TotalTicks() uint32 { return 0 }
func (b *s98Backend) LoopTicks() uint32  { return 0 }

func (b *s98Backend) HasLoop() bool {
	return b.hdr != nil && b.hdr.LoopOffset != 0
}

// TickRate derives ticks per second from the header timer fields
// (denominator over numerator, 100 Hz with the defaults).
func (b *s98Backend) TickRate() uint32 {
	if b.hdr == nil || b.hdr.TimerNum == 0 {
		return 0
	}
	return b.hdr.TimerDen / b.hdr.TimerNum
}
