package format

import (
	"encoding/binary"
	"fmt"
	"unicode/utf16"
)

// VGMHeader holds the fields of a VGM file header that the playback core
// needs. Offsets and semantics follow the VGM 1.71 specification.
type VGMHeader struct {
	Version      uint32 // packed BCD, e.g. 0x00000171 for v1.71
	EOFOffset    uint32
	GD3Offset    uint32 // absolute offset, 0 if no GD3 block
	DataOffset   uint32 // absolute offset of the command stream
	TotalSamples uint32 // song length in 44100 Hz ticks
	LoopOffset   uint32 // absolute offset of the loop point, 0 if none
	LoopSamples  uint32 // loop body length in 44100 Hz ticks
	Rate         uint32 // recording rate hint (50/60 Hz), informational
	LoopBase     int8
	LoopModifier uint8
}

func (*VGMHeader) isHeader() {}

// ModifiedLoopCount applies the header's loop base/modifier fields to a
// configured loop count. The modifier is a 4.4 fixed-point multiplier.
func (h *VGMHeader) ModifiedLoopCount(loops uint32) uint32 {
	n := int64(loops)
	if h.LoopModifier != 0 {
		n = (n*int64(h.LoopModifier) + 0x08) / 0x10
	}
	n += int64(h.LoopBase)
	if n < 0 {
		n = 0
	}
	return uint32(n)
}

// vgmChipField maps a header clock field offset to a chip name. Fields
// are only read when the header is long enough to contain them.
type vgmChipField struct {
	offset uint32
	minVer uint32
	name   string
}

var vgmChipFields = []vgmChipField{
	{0x0C, 0x100, "SN76489"},
	{0x10, 0x100, "YM2413"},
	{0x2C, 0x110, "YM2612"},
	{0x30, 0x110, "YM2151"},
	{0x38, 0x151, "SegaPCM"},
	{0x40, 0x151, "RF5C68"},
	{0x44, 0x151, "YM2203"},
	{0x48, 0x151, "YM2608"},
	{0x4C, 0x151, "YM2610"},
	{0x50, 0x151, "YM3812"},
	{0x54, 0x151, "YM3526"},
	{0x58, 0x151, "Y8950"},
	{0x5C, 0x151, "YMF262"},
	{0x60, 0x151, "YMF278B"},
	{0x64, 0x151, "YMF271"},
	{0x68, 0x151, "YMZ280B"},
	{0x6C, 0x151, "RF5C164"},
	{0x70, 0x151, "PWM"},
	{0x74, 0x151, "AY8910"},
	{0x80, 0x161, "GB DMG"},
	{0x84, 0x161, "NES APU"},
	{0x88, 0x161, "MultiPCM"},
	{0x8C, 0x161, "uPD7759"},
	{0x90, 0x161, "OKIM6258"},
	{0x98, 0x161, "OKIM6295"},
	{0x9C, 0x161, "K051649"},
	{0xA0, 0x161, "K054539"},
	{0xA4, 0x161, "HuC6280"},
	{0xA8, 0x161, "C140"},
	{0xAC, 0x161, "K053260"},
	{0xB0, 0x161, "Pokey"},
	{0xB4, 0x161, "QSound"},
	{0xB8, 0x171, "SCSP"},
	{0xC0, 0x171, "WonderSwan"},
	{0xC4, 0x171, "VSU"},
	{0xC8, 0x171, "SAA1099"},
	{0xCC, 0x171, "ES5503"},
	{0xD0, 0x171, "ES5506"},
	{0xD8, 0x171, "X1-010"},
	{0xDC, 0x171, "C352"},
	{0xE0, 0x171, "GA20"},
}

// gd3TagKeys lists the tag keys of the eleven GD3 strings in file order.
var gd3TagKeys = []string{
	"TITLE", "TITLE-JPN",
	"GAME", "GAME-JPN",
	"SYSTEM", "SYSTEM-JPN",
	"ARTIST", "ARTIST-JPN",
	"DATE", "ENCODED_BY", "COMMENT",
}

type vgmBackend struct {
	hdr     *VGMHeader
	tags    map[string]string
	devices []Device
}

func (b *vgmBackend) Family() Family { return FamilyVGM }

func (b *vgmBackend) Detect(data []byte) bool {
	return len(data) >= 4 && string(data[:4]) == "Vgm "
}

func (b *vgmBackend) Load(data []byte) error {
	if !b.Detect(data) {
		return fmt.Errorf("vgm: bad signature")
	}
	if len(data) < 0x40 {
		return fmt.Errorf("vgm: header truncated (%d bytes)", len(data))
	}

	le := binary.LittleEndian
	hdr := &VGMHeader{
		EOFOffset:    le.Uint32(data[0x04:]),
		Version:      le.Uint32(data[0x08:]),
		TotalSamples: le.Uint32(data[0x18:]),
		LoopSamples:  le.Uint32(data[0x20:]),
		Rate:         le.Uint32(data[0x24:]),
	}
	if v := le.Uint32(data[0x14:]); v != 0 {
		hdr.GD3Offset = 0x14 + v
	}
	if v := le.Uint32(data[0x1C:]); v != 0 {
		hdr.LoopOffset = 0x1C + v
	}

	// Before v1.50 the command stream starts at the fixed offset 0x40.
	hdr.DataOffset = 0x40
	if hdr.Version >= 0x150 {
		if v := le.Uint32(data[0x34:]); v != 0 {
			hdr.DataOffset = 0x34 + v
		}
	}
	if len(data) >= 0x80 && hdr.DataOffset >= 0x80 {
		hdr.LoopBase = int8(data[0x7E])
		hdr.LoopModifier = data[0x7F]
	}

	b.hdr = hdr
	b.devices = parseVGMDevices(data, hdr)
	b.tags = parseGD3(data, hdr.GD3Offset)
	return nil
}

func parseVGMDevices(data []byte, hdr *VGMHeader) []Device {
	headerEnd := hdr.DataOffset
	if headerEnd > uint32(len(data)) {
		headerEnd = uint32(len(data))
	}

	var devices []Device
	for _, f := range vgmChipFields {
		if hdr.Version < f.minVer || f.offset+4 > headerEnd {
			continue
		}
		clock := binary.LittleEndian.Uint32(data[f.offset:])
		if clock == 0 {
			continue
		}
		// Bit 30 marks a second instance of the same chip.
		dual := clock&0x40000000 != 0
		clock &^= 0xC0000000
		devices = append(devices, Device{Name: f.name, Clock: clock})
		if dual {
			devices = append(devices, Device{Name: f.name, Clock: clock})
		}
	}
	return devices
}

// parseGD3 extracts the GD3 tag block. Strings are UTF-16LE, NUL
// terminated, in the fixed order given by gd3TagKeys. Empty values are
// omitted from the dictionary.
func parseGD3(data []byte, offset uint32) map[string]string {
	tags := make(map[string]string)
	// Offset comes from the file; widen before the bounds math so a
	// corrupt value near the uint32 ceiling cannot wrap past the check.
	if offset == 0 || uint64(offset)+12 > uint64(len(data)) {
		return tags
	}
	if string(data[offset:offset+4]) != "Gd3 " {
		return tags
	}

	length := binary.LittleEndian.Uint32(data[offset+8:])
	pos := offset + 12
	end := uint32(len(data))
	if uint64(pos)+uint64(length) < uint64(end) {
		end = pos + length
	}

	for _, key := range gd3TagKeys {
		value, next, ok := readUTF16String(data, pos, end)
		if !ok {
			break
		}
		if value != "" {
			tags[key] = value
		}
		pos = next
	}
	return tags
}

func readUTF16String(data []byte, pos, end uint32) (string, uint32, bool) {
	var units []uint16
	for pos+2 <= end {
		u := binary.LittleEndian.Uint16(data[pos:])
		pos += 2
		if u == 0 {
			return string(utf16.Decode(units)), pos, true
		}
		units = append(units, u)
	}
	return "", pos, false
}

func (b *vgmBackend) Header() Header {
	if b.hdr == nil {
		return nil
	}
	return b.hdr
}

func (b *vgmBackend) Tags() map[string]string { return b.tags }
func (b *vgmBackend) Devices() []Device       { return b.devices }

func (b *vgmBackend) TotalTicks() uint32 {
	if b.hdr == nil {
		return 0
	}
	return b.hdr.TotalSamples
}

func (b *vgmBackend) LoopTicks() uint32 {
	if b.hdr == nil {
		return 0
	}
	return b.hdr.LoopSamples
}

func (b *vgmBackend) HasLoop() bool {
	return b.hdr != nil && b.hdr.LoopOffset != 0 && b.hdr.LoopSamples > 0
}

// TickRate returns the VGM tick rate, which is always 44100 Hz.
func (b *vgmBackend) TickRate() uint32 { return 44100 }
