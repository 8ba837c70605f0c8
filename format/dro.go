package format

import (
	"encoding/binary"
	"fmt"
)

// DROHeader holds the fields of a DOSBox Raw OPL capture header.
type DROHeader struct {
	VerMajor     uint16
	VerMinor     uint16
	LengthMs     uint32 // song length in milliseconds (v1 field, v2 derived)
	HardwareType uint8
}

func (*DROHeader) isHeader() {}

type droBackend struct {
	hdr     *DROHeader
	devices []Device
}

func (b *droBackend) Family() Family { return FamilyDRO }

func (b *droBackend) Detect(data []byte) bool {
	return len(data) >= 8 && string(data[:8]) == "DBRAWOPL"
}

func (b *droBackend) Load(data []byte) error {
	if !b.Detect(data) {
		return fmt.Errorf("dro: bad signature")
	}
	if len(data) < 0x18 {
		return fmt.Errorf("dro: header truncated (%d bytes)", len(data))
	}

	le := binary.LittleEndian
	hdr := &DROHeader{
		VerMajor: le.Uint16(data[0x08:]),
		VerMinor: le.Uint16(data[0x0A:]),
	}

	// v0.1 stores version as 0.1 and length/hardware at fixed offsets;
	// v2.0 swaps the length fields and shrinks hardware type to a byte.
	if hdr.VerMajor >= 2 {
		hdr.LengthMs = le.Uint32(data[0x10:])
		hdr.HardwareType = data[0x14]
	} else {
		hdr.LengthMs = le.Uint32(data[0x0C:])
		hdr.HardwareType = uint8(le.Uint32(data[0x14:]))
	}

	b.hdr = hdr
	b.devices = droDevices(hdr)
	return nil
}

func droDevices(hdr *DROHeader) []Device {
	const oplClock = 3579545

	if hdr.VerMajor >= 2 {
		switch hdr.HardwareType {
		case 1:
			return []Device{
				{Name: "YM3812", Clock: oplClock},
				{Name: "YM3812", Clock: oplClock},
			}
		case 2:
			return []Device{{Name: "YMF262", Clock: oplClock * 4}}
		}
		return []Device{{Name: "YM3812", Clock: oplClock}}
	}

	switch hdr.HardwareType {
	case 1:
		return []Device{{Name: "YMF262", Clock: oplClock * 4}}
	case 2:
		return []Device{
			{Name: "YM3812", Clock: oplClock},
			{Name: "YM3812", Clock: oplClock},
		}
	}
	return []Device{{Name: "YM3812", Clock: oplClock}}
}

func (b *droBackend) Header() Header {
	if b.hdr == nil {
		return nil
	}
	return b.hdr
}

// Tags returns an empty dictionary: DRO files carry no metadata.
func (b *droBackend) Tags() map[string]string { return map[string]string{} }

func (b *droBackend) Devices() []Device { return b.devices }

func (b *droBackend) TotalTicks() uint32 {
	if b.hdr == nil {
		return 0
	}
	return b.hdr.LengthMs
}

// LoopTicks is always 0: DRO captures never loop.
func (b *droBackend) LoopTicks() uint32 { return 0 }
func (b *droBackend) HasLoop() bool     { return false }

// TickRate is 1000: DRO delays are expressed in milliseconds.
func (b *droBackend) TickRate() uint32 { return 1000 }
