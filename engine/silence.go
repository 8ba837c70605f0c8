package engine

import "github.com/dewi-tim/vgmkit/format"

// silenceEngine renders digital silence while advancing time according
// to the backend's header tick counts. It lets the session's transport,
// loop and fade machinery run for families with no registered cores.
type silenceEngine struct {
	rate    uint32
	speed   float64
	handler EventHandler

	tickRate   uint32
	totalTicks uint32
	loopTicks  uint32
	hasLoop    bool
	devices    int

	started bool
	pos     uint32 // output samples into the current pass
	done    bool
}

// NewSilence builds a silence engine for a loaded backend. Decorating
// engines wrap it to add output while keeping header-driven timing.
func NewSilence(b format.Backend) Engine {
	return newSilenceEngine(b)
}

func newSilenceEngine(b format.Backend) *silenceEngine {
	return &silenceEngine{
		rate:       44100,
		speed:      1.0,
		tickRate:   b.TickRate(),
		totalTicks: b.TotalTicks(),
		loopTicks:  b.LoopTicks(),
		hasLoop:    b.HasLoop(),
		devices:    len(b.Devices()),
	}
}

func (e *silenceEngine) SetSampleRate(rate uint32) {
	if rate > 0 {
		e.rate = rate
	}
}

func (e *silenceEngine) SetPlaybackSpeed(speed float64) {
	if speed > 0 {
		e.speed = speed
	}
}

func (e *silenceEngine) SetEventHandler(h EventHandler) { e.handler = h }

func (e *silenceEngine) Start() error {
	e.started = true
	e.pos = 0
	e.done = false
	return nil
}

func (e *silenceEngine) Stop() { e.started = false }

func (e *silenceEngine) Reset() {
	e.pos = 0
	e.done = false
}

func (e *silenceEngine) Seek(samples uint32) {
	total := e.TotalSamples()
	if total > 0 && samples > total {
		samples = total
	}
	e.pos = samples
	e.done = false
}

func (e *silenceEngine) Render(dst []int16) uint32 {
	if !e.started || e.done {
		return 0
	}

	want := uint32(len(dst) / 2)
	if want == 0 {
		return 0
	}
	total := e.TotalSamples()
	if total == 0 {
		// No header timing at all: an endless silent stream would stall
		// the session, so finish immediately.
		e.done = true
		e.emit(EventEnd)
		return 0
	}

	rendered := uint32(0)
	for rendered < want {
		remaining := total - e.pos
		if remaining == 0 {
			if loop := e.LoopSamples(); loop > 0 && loop <= total && e.emit(EventLoop) {
				e.pos = total - loop
				continue
			}
			e.done = true
			e.emit(EventEnd)
			break
		}

		n := want - rendered
		if n > remaining {
			n = remaining
		}
		for i := rendered * 2; i < (rendered+n)*2; i++ {
			dst[i] = 0
		}
		rendered += n
		e.pos += n
	}
	return rendered
}

func (e *silenceEngine) emit(ev Event) bool {
	if e.handler == nil {
		return ev == EventLoop
	}
	return e.handler(ev)
}

// ticksToSamples converts native ticks to output samples, honoring the
// playback speed multiplier.
func (e *silenceEngine) ticksToSamples(ticks uint32) uint32 {
	if e.tickRate == 0 {
		return 0
	}
	samples := float64(ticks) * float64(e.rate) / float64(e.tickRate)
	if e.speed != 1.0 && e.speed > 0 {
		samples /= e.speed
	}
	return uint32(samples + 0.5)
}

func (e *silenceEngine) TotalSamples() uint32 { return e.ticksToSamples(e.totalTicks) }

func (e *silenceEngine) LoopSamples() uint32 {
	if !e.hasLoop {
		return 0
	}
	return e.ticksToSamples(e.loopTicks)
}

func (e *silenceEngine) DeviceCores() []string {
	cores := make([]string, e.devices)
	if !e.started {
		return cores
	}
	for i := range cores {
		cores[i] = "NULL"
	}
	return cores
}
