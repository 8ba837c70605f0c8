// Package format provides detection and header-level parsing of the
// supported chiptune file families (VGM, S98, DRO, GYM).
//
// Backends parse headers, tag blocks and device lists. Interpreting the
// command stream and producing PCM is the job of a playback engine, see
// the engine package.
package format

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Family identifies one of the supported file families.
type Family uint8

const (
	// FamilyNone means no file family (nothing loaded or unrecognized).
	FamilyNone Family = iota
	// FamilyVGM is the VGM register-dump log format (.vgm/.vgz).
	FamilyVGM
	// FamilyS98 is the S98 command stream format used by PC-98 rips.
	FamilyS98
	// FamilyDRO is the DOSBox Raw OPL capture format.
	FamilyDRO
	// FamilyGYM is the Genesis YM2612 capture format.
	FamilyGYM
)

// String returns the display name of the family.
func (f Family) String() string {
	switch f {
	case FamilyVGM:
		return "VGM"
	case FamilyS98:
		return "S98"
	case FamilyDRO:
		return "DRO"
	case FamilyGYM:
		return "GYM"
	default:
		return "none"
	}
}

// Device describes one sound device declared by a file header.
type Device struct {
	Name  string // chip name, e.g. "YM2612"
	Clock uint32 // chip clock in Hz, 0 if the header does not carry one
}

// Header is the parsed family-specific file header. The concrete type
// depends on the family: *VGMHeader, *S98Header, *DROHeader or *GYMHeader.
type Header interface {
	isHeader()
}

// Backend parses one file family at header level.
type Backend interface {
	// Family returns the family this backend handles.
	Family() Family
	// Detect reports whether the byte signature matches this family.
	Detect(data []byte) bool
	// Load parses the header, tag block and device list.
	Load(data []byte) error
	// Header returns the parsed header, or nil before a successful Load.
	Header() Header
	// Tags returns the raw tag dictionary extracted from the file.
	// Keys follow the libvgm convention (TITLE, TITLE-JPN, GAME, ...).
	Tags() map[string]string
	// Devices returns the sound devices declared by the header.
	Devices() []Device
	// TotalTicks returns the song length in the family's native tick
	// domain, or 0 when the header does not carry it.
	TotalTicks() uint32
	// LoopTicks returns the loop body length in native ticks, 0 if none.
	LoopTicks() uint32
	// HasLoop reports whether the file declares a loop point.
	HasLoop() bool
	// TickRate returns native ticks per second, 0 when stream-defined.
	TickRate() uint32
}

// PayloadCarrier is implemented by backends that pre-extract the raw
// command stream from the file body (GYMX stores it zlib-compressed).
// Engines use the original file bytes for the rest.
type PayloadCarrier interface {
	Payload() []byte
}

// New returns a fresh backend for the given family, or nil for FamilyNone
// and unknown values.
func New(family Family) Backend {
	switch family {
	case FamilyVGM:
		return &vgmBackend{}
	case FamilyS98:
		return &s98Backend{}
	case FamilyDRO:
		return &droBackend{}
	case FamilyGYM:
		return &gymBackend{}
	default:
		return nil
	}
}

// Sniff determines the file family from the leading bytes, falling back
// to the file extension for headerless formats (raw GYM dumps carry no
// signature at all).
func Sniff(data []byte, name string) Family {
	for _, f := range []Family{FamilyVGM, FamilyS98, FamilyDRO, FamilyGYM} {
		if New(f).Detect(data) {
			return f
		}
	}

	switch strings.ToLower(filepath.Ext(name)) {
	case ".vgm", ".vgz":
		return FamilyVGM
	case ".s98":
		return FamilyS98
	case ".dro":
		return FamilyDRO
	case ".gym":
		return FamilyGYM
	}
	return FamilyNone
}

// Extensions returns the file extensions of the supported families,
// lowercase with a leading dot.
func Extensions() []string {
	return []string{".vgm", ".vgz", ".s98", ".dro", ".gym"}
}

// FormatString builds the human-readable format/version string for a
// loaded backend. A backend whose header is missing or of an unexpected
// type yields the bare family name; an unknown family yields "???".
func FormatString(b Backend) string {
	if b == nil {
		return ""
	}

	family := b.Family()
	switch family {
	case FamilyVGM:
		if hdr, ok := b.Header().(*VGMHeader); ok {
			return fmt.Sprintf("VGM %X.%02X", (hdr.Version>>8)&0xFF, hdr.Version&0xFF)
		}
	case FamilyS98:
		if hdr, ok := b.Header().(*S98Header); ok {
			return fmt.Sprintf("S98 v%d", hdr.Version)
		}
	case FamilyDRO:
		if hdr, ok := b.Header().(*DROHeader); ok {
			return fmt.Sprintf("DRO v%d", hdr.VerMajor)
		}
	case FamilyGYM:
		if hdr, ok := b.Header().(*GYMHeader); ok {
			switch {
			case !hdr.HasHeader:
				return "GYM"
			case hdr.PackedSize == 0:
				return "GYMX"
			default:
				return "GYMX (z)"
			}
		}
	default:
		return "???"
	}
	return family.String()
}
