package audio

import (
	"sync"
	"sync/atomic"
	"time"
)

// Default stream settings.
const (
	DefaultSampleRate     = 44100
	DefaultChannels       = 2
	DefaultBits           = 16
	DefaultBufferTimeUsec = 10000 // 10ms per buffer
	DefaultBufferCount    = 8     // 80ms total
)

// Renderer produces interleaved stereo signed 16-bit PCM on demand.
// Render returns the number of frames produced; shortfalls mean the
// renderer has nothing to play and the caller supplies silence.
// Render is invoked from the realtime callback with the output's render
// mutex held; the Safe* operations on Output serialize against it.
type Renderer interface {
	Render(frames uint32, buf []int16) uint32
	Seek(pos time.Duration)
	Reset()
	FadeOut()
}

// boundRenderer wraps a Renderer so the binding can be swapped with a
// single atomic pointer store.
type boundRenderer struct {
	r Renderer
}

// Output binds a Renderer to one audio driver backend. Configure the
// stream with the setters, bind a renderer, then Start. The backend's
// callback pulls samples through FillBuffer; it checks the pause flag
// and the binding lock-free and only takes the render mutex to call
// into the renderer, so a paused or unbound output never contends.
type Output struct {
	// renderMu serializes renderer access between the realtime
	// callback and the Safe* control operations.
	renderMu sync.Mutex

	paused atomic.Bool
	bound  atomic.Pointer[boundRenderer]

	info    DriverInfo
	backend backend

	// stream format, applied at Start
	sampleRate  uint32
	channels    uint8
	bits        uint8
	bufferUsec  uint32
	bufferCount uint32
	outputFile  string

	started bool
	closed  bool
	scratch []int16
}

func newOutput(info DriverInfo, b backend) *Output {
	return &Output{
		info:        info,
		backend:     b,
		sampleRate:  DefaultSampleRate,
		channels:    DefaultChannels,
		bits:        DefaultBits,
		bufferUsec:  DefaultBufferTimeUsec,
		bufferCount: DefaultBufferCount,
	}
}

// Driver returns the driver this output was created from.
func (o *Output) Driver() DriverInfo {
	return o.info
}

// SetSampleRate sets the output sample rate in Hz. Takes effect on the
// next Start.
func (o *Output) SetSampleRate(rate uint32) {
	if rate != 0 {
		o.sampleRate = rate
	}
}

// SetChannels sets the number of output channels, 1 or 2. Mono output
// downmixes the stereo render.
func (o *Output) SetChannels(channels uint8) {
	if channels == 1 || channels == 2 {
		o.channels = channels
	}
}

// SetBits sets the bits per output sample, 16 or 8.
func (o *Output) SetBits(bits uint8) {
	if bits == 8 || bits == 16 {
		o.bits = bits
	}
}

// SetBufferTime sets the length of one stream buffer in microseconds.
func (o *Output) SetBufferTime(usec uint32) {
	if usec != 0 {
		o.bufferUsec = usec
	}
}

// SetBufferCount sets the number of stream buffers.
func (o *Output) SetBufferCount(count uint32) {
	if count != 0 {
		o.bufferCount = count
	}
}

// SetOutputFile sets the destination path for disk-writer drivers.
func (o *Output) SetOutputFile(path string) {
	o.outputFile = path
}

// BindPlayer attaches a renderer to the output. The realtime callback
// starts pulling from it on the next buffer.
func (o *Output) BindPlayer(r Renderer) error {
	if o == nil || r == nil {
		return ErrBind
	}
	o.bound.Store(&boundRenderer{r: r})
	return nil
}

// UnbindPlayer detaches the renderer. Any callback already inside the
// renderer finishes first; later callbacks produce silence.
func (o *Output) UnbindPlayer() {
	if o == nil {
		return
	}
	// The swap is atomic but a callback may hold the old renderer.
	// Taking the render mutex once ensures it has left before return.
	o.bound.Store(nil)
	o.renderMu.Lock()
	o.renderMu.Unlock() //nolint:staticcheck // barrier, not a critical section
}

// Start opens the backend and begins streaming. Use deviceID 0 for the
// default device.
func (o *Output) Start(deviceID uint32) error {
	if o == nil || o.backend == nil {
		return ErrClosed
	}
	if o.closed {
		return ErrClosed
	}
	if o.started {
		return nil
	}
	if err := o.backend.open(o, deviceID); err != nil {
		return err
	}
	o.started = true
	return nil
}

// Stop halts streaming and closes the backend stream. The renderer
// stays bound.
func (o *Output) Stop() error {
	if o == nil || !o.started {
		return nil
	}
	o.started = false
	return o.backend.close()
}

// Pause suspends output. The callback keeps firing on some backends
// but produces silence without touching the renderer.
func (o *Output) Pause() error {
	if o == nil {
		return ErrClosed
	}
	o.paused.Store(true)
	if o.started {
		return o.backend.pause()
	}
	return nil
}

// Resume continues output after a Pause.
func (o *Output) Resume() error {
	if o == nil {
		return ErrClosed
	}
	o.paused.Store(false)
	if o.started {
		return o.backend.resume()
	}
	return nil
}

// Latency returns the approximate output latency.
func (o *Output) Latency() time.Duration {
	if o == nil {
		return 0
	}
	return time.Duration(o.bufferUsec) * time.Microsecond * time.Duration(o.bufferCount)
}

// Close stops the output and releases the backend. The output cannot
// be restarted afterwards.
func (o *Output) Close() error {
	if o == nil || o.closed {
		return nil
	}
	err := o.Stop()
	o.UnbindPlayer()
	o.closed = true
	return err
}

// SafeDo runs fn serialized against the realtime callback. Use it for
// renderer operations beyond the built-in Safe* set, such as loading a
// new file or changing playback settings the render path reads.
func (o *Output) SafeDo(fn func()) {
	o.renderMu.Lock()
	defer o.renderMu.Unlock()
	fn()
}

// SafeSeek seeks the bound renderer, serialized against the realtime
// callback. No-op when nothing is bound.
func (o *Output) SafeSeek(pos time.Duration) {
	o.renderMu.Lock()
	defer o.renderMu.Unlock()

	if b := o.bound.Load(); b != nil {
		b.r.Seek(pos)
	}
}

// SafeReset resets the bound renderer, serialized against the realtime
// callback.
func (o *Output) SafeReset() {
	o.renderMu.Lock()
	defer o.renderMu.Unlock()

	if b := o.bound.Load(); b != nil {
		b.r.Reset()
	}
}

// SafeFadeOut triggers a fade-out on the bound renderer, serialized
// against the realtime callback.
func (o *Output) SafeFadeOut() {
	o.renderMu.Lock()
	defer o.renderMu.Unlock()

	if b := o.bound.Load(); b != nil {
		b.r.FadeOut()
	}
}

// frameBytes returns the output size of one frame in bytes.
func (o *Output) frameBytes() int {
	return int(o.channels) * int(o.bits) / 8
}

// bufferFrames returns the number of frames in one stream buffer.
func (o *Output) bufferFrames() uint32 {
	frames := uint64(o.bufferUsec) * uint64(o.sampleRate) / 1e6
	if frames == 0 {
		frames = 1
	}
	return uint32(frames)
}

// fillFrames renders up to len(dst)/2 stereo frames into dst and
// zero-fills the remainder. It is the realtime pull path: the pause
// flag and the binding are checked without locking, and the render
// mutex is held only around the renderer call. It never blocks on
// anything other than that mutex.
func (o *Output) fillFrames(dst []int16) {
	frames := uint32(len(dst) / 2)
	if frames == 0 {
		return
	}

	rendered := uint32(0)
	if !o.paused.Load() && o.bound.Load() != nil {
		o.renderMu.Lock()
		// Re-check under the mutex: an unbind may have won the race.
		if b := o.bound.Load(); b != nil {
			rendered = b.r.Render(frames, dst)
		}
		o.renderMu.Unlock()
	}

	for i := rendered * 2; i < frames*2; i++ {
		dst[i] = 0
	}
}

// FillBuffer fills dst with encoded output samples and returns the
// number of bytes written, always len(dst) rounded down to whole
// frames. 16-bit output is little-endian; 8-bit output is unsigned.
func (o *Output) FillBuffer(dst []byte) int {
	fb := o.frameBytes()
	if fb == 0 {
		return 0
	}
	frames := len(dst) / fb

	need := frames * 2
	if cap(o.scratch) < need {
		o.scratch = make([]int16, need)
	}
	buf := o.scratch[:need]
	o.fillFrames(buf)

	mono := o.channels == 1
	switch {
	case mono && o.bits == 8:
		for f := 0; f < frames; f++ {
			smp := (int32(buf[f*2]) + int32(buf[f*2+1])) / 2
			dst[f] = byte(smp>>8) ^ 0x80
		}
	case mono:
		for f := 0; f < frames; f++ {
			smp := int16((int32(buf[f*2]) + int32(buf[f*2+1])) / 2)
			dst[f*2] = byte(smp)
			dst[f*2+1] = byte(smp >> 8)
		}
	case o.bits == 8:
		for i, smp := range buf {
			dst[i] = byte(smp>>8) ^ 0x80
		}
	default:
		for i, smp := range buf {
			dst[i*2] = byte(smp)
			dst[i*2+1] = byte(smp >> 8)
		}
	}
	return frames * fb
}
