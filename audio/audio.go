// Package audio binds a PCM renderer to realtime output backends. An
// Output owns the binding: setters configure the stream format, Start
// opens the backend, and the backend's callback pulls samples through
// FillBuffer. The same binding drives speaker output, WAV capture to
// disk and a discarding null backend for headless use.
package audio

import (
	"errors"
	"fmt"
	"sync"
)

// Audio subsystem errors.
var (
	ErrNotInit      = errors.New("audio: audio system not initialized")
	ErrNoDrivers    = errors.New("audio: no audio drivers available")
	ErrDriverCreate = errors.New("audio: failed to create audio driver")
	ErrDriverStart  = errors.New("audio: failed to start audio driver")
	ErrBind         = errors.New("audio: failed to bind player")
	ErrClosed       = errors.New("audio: driver is closed")
)

// Driver type constants.
const (
	DriverTypeOut  = 0x01 // stream to speakers
	DriverTypeDisk = 0x02 // write to disk
)

// Driver signature constants.
const (
	DriverSigOto       = 0x4F // 'O'
	DriverSigPortAudio = 0x50 // 'P'
	DriverSigWave      = 0x57 // 'W'
	DriverSigNull      = 0x4E // 'N'
)

// DriverInfo describes an available audio driver.
type DriverInfo struct {
	ID        uint32
	Name      string
	Signature uint8
	Type      uint8
}

// backend is the lifecycle half of a driver. Backends pull samples
// from the owning Output while running; Output takes care of binding,
// pause state and format conversion.
type backend interface {
	open(o *Output, deviceID uint32) error
	close() error
	pause() error
	resume() error
}

// backendFactory creates a backend for one registered driver.
type backendFactory func() backend

type driverEntry struct {
	info    DriverInfo
	factory backendFactory
}

// System enumerates audio drivers and creates outputs. It must be
// created before any driver use and closed once all outputs are done;
// the explicit lifecycle keeps every caller's assumptions visible
// instead of hiding them in package state.
type System struct {
	mu      sync.Mutex
	closed  bool
	drivers []driverEntry
}

// NewSystem initializes the audio subsystem and enumerates the
// available drivers.
func NewSystem() (*System, error) {
	s := &System{
		drivers: []driverEntry{
			{
				info:    DriverInfo{Name: "OTO", Signature: DriverSigOto, Type: DriverTypeOut},
				factory: func() backend { return &otoBackend{} },
			},
			{
				info:    DriverInfo{Name: "PortAudio", Signature: DriverSigPortAudio, Type: DriverTypeOut},
				factory: func() backend { return &portAudioBackend{} },
			},
			{
				info:    DriverInfo{Name: "WaveWriter", Signature: DriverSigWave, Type: DriverTypeDisk},
				factory: func() backend { return &waveBackend{} },
			},
			{
				info:    DriverInfo{Name: "Null", Signature: DriverSigNull, Type: DriverTypeOut},
				factory: func() backend { return &nullBackend{} },
			},
		},
	}
	for i := range s.drivers {
		s.drivers[i].info.ID = uint32(i)
	}
	return s, nil
}

// Close shuts down the audio subsystem. Outputs must be closed first.
func (s *System) Close() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

// Drivers returns the available audio drivers of the given type.
// Pass 0 for all types.
func (s *System) Drivers(driverType uint8) []DriverInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	drivers := make([]DriverInfo, 0, len(s.drivers))
	for _, d := range s.drivers {
		if driverType == 0 || d.info.Type == driverType {
			drivers = append(drivers, d.info)
		}
	}
	return drivers
}

// NewOutput creates an output bound to the given driver ID, configured
// with the default stream format.
func (s *System) NewOutput(driverID uint32) (*Output, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrNotInit
	}
	if driverID >= uint32(len(s.drivers)) {
		return nil, fmt.Errorf("%w: driver id %d", ErrDriverCreate, driverID)
	}

	entry := s.drivers[driverID]
	return newOutput(entry.info, entry.factory()), nil
}
