package format

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zlib"
)

// gymHeaderSize is the size of the extended GYMX header.
const gymHeaderSize = 0x1AC

// GYMHeader holds the fields of a GYM capture. Raw dumps have no header
// at all; the extended GYMX variant carries tags, a loop frame and an
// optionally zlib-compressed payload.
type GYMHeader struct {
	HasHeader  bool
	LoopFrame  uint32 // frame index of the loop point, 0 = no loop
	PackedSize uint32 // uncompressed payload size, 0 = stored raw
}

func (*GYMHeader) isHeader() {}

type gymBackend struct {
	hdr     *GYMHeader
	tags    map[string]string
	payload []byte
}

func (b *gymBackend) Family() Family { return FamilyGYM }

func (b *gymBackend) Detect(data []byte) bool {
	return len(data) >= 4 && string(data[:4]) == "GYMX"
}

func (b *gymBackend) Load(data []byte) error {
	b.tags = make(map[string]string)

	if !b.Detect(data) {
		// Headerless dump: commands from byte zero, no metadata.
		b.hdr = &GYMHeader{}
		b.payload = data
		return nil
	}
	if len(data) < gymHeaderSize {
		return fmt.Errorf("gym: extended header truncated (%d bytes)", len(data))
	}

	le := binary.LittleEndian
	b.hdr = &GYMHeader{
		HasHeader:  true,
		LoopFrame:  le.Uint32(data[0x1A4:]),
		PackedSize: le.Uint32(data[0x1A8:]),
	}

	setTag := func(key string, field []byte) {
		if v := gymString(field); v != "" {
			b.tags[key] = v
		}
	}
	setTag("TITLE", data[0x04:0x24])
	setTag("GAME", data[0x24:0x44])
	setTag("COPYRIGHT", data[0x44:0x64])
	setTag("EMULATOR", data[0x64:0x84])
	setTag("ENCODED_BY", data[0x84:0xA4])
	setTag("COMMENT", data[0xA4:0x1A4])

	// GYMX may store the command stream zlib-compressed; inflate it so
	// engines always see raw commands.
	body := data[gymHeaderSize:]
	if b.hdr.PackedSize != 0 {
		zr, err := zlib.NewReader(bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("gym: compressed payload: %w", err)
		}
		defer zr.Close()
		// The header declares the uncompressed size; use it as a
		// ceiling so a corrupt stream cannot balloon memory.
		payload, err := io.ReadAll(io.LimitReader(zr, int64(b.hdr.PackedSize)+1))
		if err != nil {
			return fmt.Errorf("gym: inflating payload: %w", err)
		}
		if uint64(len(payload)) > uint64(b.hdr.PackedSize) {
			return fmt.Errorf("gym: payload larger than declared size %d", b.hdr.PackedSize)
		}
		b.payload = payload
	} else {
		b.payload = body
	}
	return nil
}

// Payload returns the raw command stream, inflated if the file stored
// it compressed.
func (b *gymBackend) Payload() []byte {
	return b.payload
}

func gymString(field []byte) string {
	if i := bytes.IndexByte(field, 0); i >= 0 {
		field = field[:i]
	}
	return strings.TrimSpace(string(field))
}

func (b *gymBackend) Header() Header {
	if b.hdr == nil {
		return nil
	}
	return b.hdr
}

func (b *gymBackend) Tags() map[string]string {
	if b.tags == nil {
		return map[string]string{}
	}
	return b.tags
}

// Devices returns the fixed Mega Drive chip pair: every GYM capture
// addresses the YM2612 and the SN76489.
func (b *gymBackend) Devices() []Device {
	return []Device{
		{Name: "YM2612", Clock: 7670454},
		{Name: "SN76489", Clock: 3579545},
	}
}

// TotalTicks is 0: the frame count is only known after walking the
// command stream.
func (b *gymBackend) TotalTicks() uint32 { return 0 }

func (b *gymBackend) LoopTicks() uint32 {
	if b.hdr == nil {
		return 0
	}
	return b.hdr.LoopFrame
}

func (b *gymBackend) HasLoop() bool {
	return b.hdr != nil && b.hdr.LoopFrame > 0
}

// TickRate is 60: GYM captures advance in NTSC frames.
func (b *gymBackend) TickRate() uint32 { return 60 }
