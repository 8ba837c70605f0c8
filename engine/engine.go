// Package engine defines the playback engine boundary. An engine owns
// the semantics of one file family's command stream and the chip cores
// behind it: given file bytes it produces interleaved stereo samples.
//
// The playback session drives engines through this interface only.
// Emulation packages register factories for the families they support;
// families without a registered factory fall back to the built-in
// silence engine, which honors header timing so transport, loop and
// fade handling work end-to-end without any chip cores (the same role
// the mock backends play elsewhere in this codebase).
package engine

import (
	"fmt"
	"sync"

	"github.com/dewi-tim/vgmkit/format"
)

// Event is a notification raised by an engine during rendering.
type Event uint8

const (
	// EventNone is the zero value and never delivered.
	EventNone Event = iota
	// EventLoop fires when the command stream wraps to its loop point.
	EventLoop
	// EventEnd fires when the command stream is exhausted.
	EventEnd
)

// EventHandler receives engine events during Render. For EventLoop the
// return value decides whether the engine keeps looping; returning
// false makes the engine finish instead of wrapping. The return value
// is ignored for other events.
type EventHandler func(ev Event) bool

// Engine renders one loaded file. Implementations are not safe for
// concurrent use; the session serializes all calls.
type Engine interface {
	// SetSampleRate sets the output sample rate. Takes effect on the
	// next Reset.
	SetSampleRate(rate uint32)
	// SetPlaybackSpeed scales command-stream time. 1.0 is native speed.
	SetPlaybackSpeed(speed float64)
	// SetEventHandler installs the loop/end notification callback.
	SetEventHandler(h EventHandler)

	// Start readies the engine for rendering, constructing chip
	// instances. Render may be called with zero frames right after to
	// execute initialization commands.
	Start() error
	// Stop tears down chip instances. Idempotent.
	Stop()
	// Reset rewinds to the beginning without tearing down chips.
	Reset()
	// Seek repositions to an absolute offset in output samples.
	Seek(samples uint32)

	// Render produces up to len(dst)/2 stereo frames of interleaved
	// samples and returns the number of frames produced. Fewer frames
	// than requested mean end of stream.
	Render(dst []int16) uint32

	// TotalSamples returns the length of one full pass at the current
	// sample rate, 0 if unknown.
	TotalSamples() uint32
	// LoopSamples returns the loop body length at the current sample
	// rate, 0 if the file does not loop.
	LoopSamples() uint32

	// DeviceCores returns the emulation core identifier per device, in
	// the same order as the backend's device list. Entries are empty
	// until chip instances exist, i.e. before the first Start.
	DeviceCores() []string
}

// Factory builds an engine for a loaded backend and the raw file bytes.
type Factory func(b format.Backend, data []byte) (Engine, error)

var (
	factoryMu sync.RWMutex
	factories = make(map[format.Family]Factory)
)

// Register installs the engine factory for a family, replacing any
// previous registration. A nil factory removes the registration.
// Emulation packages call this from init.
func Register(family format.Family, f Factory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	if f == nil {
		delete(factories, family)
		return
	}
	factories[family] = f
}

// New builds an engine for the loaded backend. Families without a
// registered factory get a silence engine derived from header timing.
func New(b format.Backend, data []byte) (Engine, error) {
	if b == nil {
		return nil, fmt.Errorf("engine: nil backend")
	}

	factoryMu.RLock()
	f, ok := factories[b.Family()]
	factoryMu.RUnlock()

	if !ok {
		return newSilenceEngine(b), nil
	}
	return f(b, data)
}
