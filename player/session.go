package player

import (
	"fmt"
	"time"

	"github.com/retroenv/retrogolib/log"

	"github.com/dewi-tim/vgmkit/engine"
	"github.com/dewi-tim/vgmkit/format"
	"github.com/dewi-tim/vgmkit/timeconv"
)

// Playback state flags. Fade and Finish overlap with Play.
const (
	statePlay   = 0x01
	stateFade   = 0x10
	stateFinish = 0x20
)

// unityVolume is the 16.16 fixed-point representation of gain 1.0.
const unityVolume = 0x10000

// Default session settings.
const (
	DefaultSampleRate = 44100
	DefaultChannels   = 2
	DefaultBitDepth   = 16
	DefaultLoopCount  = 2
	DefaultFadeTime   = 4 * time.Second
	DefaultEndSilence = time.Second
)

// Config holds the construction-time session settings. All of them can
// be changed later through the session setters.
type Config struct {
	// SampleRate is the output sample rate in Hz.
	SampleRate uint32
	// LoopCount is the number of times to play looped tracks
	// (0 = loop forever).
	LoopCount uint32
	// FadeTime is the fade-out ramp length.
	FadeTime time.Duration
	// EndSilence is the silent padding after the song ends.
	EndSilence time.Duration
	// Volume is the master gain (0.0 = silent, 1.0 = native).
	Volume float64
	// Speed is the playback speed multiplier (1.0 = normal).
	Speed float64
}

// DefaultConfig returns a Config with the standard playback settings.
func DefaultConfig() Config {
	return Config{
		SampleRate: DefaultSampleRate,
		LoopCount:  DefaultLoopCount,
		FadeTime:   DefaultFadeTime,
		EndSilence: DefaultEndSilence,
		Volume:     1.0,
		Speed:      1.0,
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.SampleRate == 0 {
		return fmt.Errorf("sample rate must be positive")
	}
	if c.Volume < 0 {
		return fmt.Errorf("volume must not be negative, got %f", c.Volume)
	}
	if c.Speed <= 0 {
		return fmt.Errorf("speed must be positive, got %f", c.Speed)
	}
	return nil
}

// Session is the playback state machine for one loaded track. It owns
// format detection, metadata resolution, chip enumeration and all
// sample-domain time, loop and fade bookkeeping, and renders PCM as
// interleaved stereo signed 16-bit samples.
//
// A Session is not internally synchronized. When bound to an
// audio.Output the output's mutex serializes the realtime callback
// against the thread-safe control variants; unbound sessions expect a
// single caller.
type Session struct {
	logger *log.Logger

	// configuration; fade and silence keep their duration source values
	// so sample counts can be re-derived losslessly on rate changes
	sampleRate uint32
	loopCount  uint32
	fadeTime   time.Duration
	endSilence time.Duration
	speed      float64
	volume     float64
	volumeFP   int32 // 16.16 fixed point

	// derived sample-domain values, consistent with sampleRate
	fadeSamples    uint32
	silenceSamples uint32

	// loaded file
	path      string
	family    format.Family
	backend   format.Backend
	eng       engine.Engine
	formatStr string
	tags      map[string]string
	meta      format.Metadata
	chips     []ChipInfo

	// playback bookkeeping
	state         uint8
	engineStarted bool
	engineDone    bool
	playSmpl      uint32 // loop-inclusive position in output samples
	curLoop       uint32
	maxLoops      uint32 // effective loop count after format overrides
	fadeStart     uint32 // playSmpl at the moment the fade began
	silenceLeft   uint32
}

// NewSession creates a playback session. A nil logger falls back to the
// default logger.
func NewSession(cfg Config, logger *log.Logger) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = log.NewWithConfig(log.DefaultConfig())
	}

	s := &Session{
		logger:     logger,
		sampleRate: cfg.SampleRate,
		loopCount:  cfg.LoopCount,
		fadeTime:   cfg.FadeTime,
		endSilence: cfg.EndSilence,
		speed:      cfg.Speed,
	}
	s.setVolume(cfg.Volume)
	s.deriveSampleCounts()
	return s, nil
}

// Close releases the session's resources. The session must be unbound
// from any audio output first.
func (s *Session) Close() {
	if s == nil {
		return
	}
	s.Unload()
}

// deriveSampleCounts recomputes every sample-domain field from its
// duration source value at the current sample rate.
func (s *Session) deriveSampleCounts() {
	s.fadeSamples = timeconv.DurationToSamples(s.fadeTime, s.sampleRate)
	s.silenceSamples = timeconv.DurationToSamples(s.endSilence, s.sampleRate)
}

// SetSampleRate changes the output sample rate. Sample-domain settings
// are re-derived from their duration sources. Rates of zero are ignored.
func (s *Session) SetSampleRate(rate uint32) {
	if s == nil || rate == 0 {
		return
	}
	s.sampleRate = rate
	s.deriveSampleCounts()
	if s.eng != nil {
		s.eng.SetSampleRate(rate)
	}
}

// SetLoopCount sets the number of loops to play (0 = infinite).
func (s *Session) SetLoopCount(count uint32) {
	if s == nil {
		return
	}
	s.loopCount = count
	s.maxLoops = s.effectiveLoopCount()
}

// SetFadeTime sets the fade-out time in milliseconds.
func (s *Session) SetFadeTime(ms uint32) {
	if s == nil {
		return
	}
	s.fadeTime = time.Duration(ms) * time.Millisecond
	s.fadeSamples = timeconv.MsToSamples(ms, s.sampleRate)
}

// SetEndSilence sets the end silence time in milliseconds.
func (s *Session) SetEndSilence(ms uint32) {
	if s == nil {
		return
	}
	s.endSilence = time.Duration(ms) * time.Millisecond
	s.silenceSamples = timeconv.MsToSamples(ms, s.sampleRate)
}

// SetVolume sets the master volume (0.0 = silent, 1.0 = native scale).
// Negative values are ignored.
func (s *Session) SetVolume(vol float64) {
	if s == nil || vol < 0 {
		return
	}
	s.setVolume(vol)
}

func (s *Session) setVolume(vol float64) {
	s.volume = vol
	s.volumeFP = int32(vol * unityVolume)
}

// SetSpeed sets the playback speed multiplier. Values <= 0 are ignored.
func (s *Session) SetSpeed(speed float64) {
	if s == nil || speed <= 0 {
		return
	}
	s.speed = speed
	if s.eng != nil {
		s.eng.SetPlaybackSpeed(speed)
	}
}

// Load opens and parses a file, replacing any previously loaded one.
// It returns ErrFileOpen when the source cannot be read and
// ErrFileFormat when the bytes are not a recognized format.
func (s *Session) Load(path string) error {
	if s == nil || path == "" {
		return ErrNullPointer
	}

	data, err := format.LoadFile(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFileOpen, err)
	}
	return s.LoadData(data, path)
}

// LoadData parses an in-memory file image. The name is used for
// extension-based detection of headerless formats and as the track path.
func (s *Session) LoadData(data []byte, name string) error {
	if s == nil || data == nil {
		return ErrNullPointer
	}

	s.Unload()

	data, err := format.Decompress(data)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFileFormat, err)
	}

	family := format.Sniff(data, name)
	if family == format.FamilyNone {
		return ErrFileFormat
	}

	backend := format.New(family)
	if err := backend.Load(data); err != nil {
		return fmt.Errorf("%w: %v", ErrFileFormat, err)
	}

	eng, err := engine.New(backend, data)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFileFormat, err)
	}
	eng.SetSampleRate(s.sampleRate)
	eng.SetPlaybackSpeed(s.speed)
	eng.SetEventHandler(s.onEngineEvent)

	s.path = name
	s.family = family
	s.backend = backend
	s.eng = eng
	s.formatStr = format.FormatString(backend)
	s.tags = backend.Tags()
	s.meta = format.Resolve(s.tags)
	s.maxLoops = s.effectiveLoopCount()
	s.refreshChips()

	s.logger.Debug("track loaded",
		log.String("path", name),
		log.String("format", s.formatStr),
		log.Int("chips", len(s.chips)))
	return nil
}

// Unload releases the loaded file and clears all derived metadata.
// Idempotent; always succeeds.
func (s *Session) Unload() {
	if s == nil {
		return
	}
	if s.eng != nil {
		s.eng.Stop()
	}

	s.path = ""
	s.family = format.FamilyNone
	s.backend = nil
	s.eng = nil
	s.formatStr = ""
	s.tags = nil
	s.meta = format.Metadata{}
	s.chips = nil

	s.state = 0
	s.engineStarted = false
	s.engineDone = false
	s.playSmpl = 0
	s.curLoop = 0
	s.maxLoops = 0
	s.fadeStart = 0
	s.silenceLeft = 0
}

// effectiveLoopCount applies any format-declared loop override to the
// configured loop count.
func (s *Session) effectiveLoopCount() uint32 {
	if hdr, ok := s.header().(*format.VGMHeader); ok {
		return hdr.ModifiedLoopCount(s.loopCount)
	}
	return s.loopCount
}

func (s *Session) header() format.Header {
	if s.backend == nil {
		return nil
	}
	return s.backend.Header()
}

// refreshChips rebuilds the chip list from the backend device list and
// the engine's core identifiers. Core identifiers are only meaningful
// once chip instances exist, i.e. after the first Start.
func (s *Session) refreshChips() {
	if s.backend == nil {
		s.chips = nil
		return
	}

	devices := s.backend.Devices()
	cores := s.eng.DeviceCores()
	chips := make([]ChipInfo, len(devices))
	for i, d := range devices {
		chips[i] = ChipInfo{Name: d.Name}
		if i < len(cores) {
			chips[i].Core = cores[i]
		}
	}
	s.chips = chips
}

// Start begins playback. It returns ErrState when no file is loaded.
// The first Start runs a zero-length priming render so initialization
// commands ahead of the first timed wait execute before real output;
// some chips need their sample tables loaded before they sound right.
// The chip list is re-queried afterwards, since emulation core
// identifiers only become available once chip instances exist.
func (s *Session) Start() error {
	if s == nil || s.eng == nil {
		return ErrState
	}
	if s.state&statePlay != 0 {
		return nil
	}

	if !s.engineStarted {
		pending := s.playSmpl
		if err := s.eng.Start(); err != nil {
			return fmt.Errorf("%w: %v", ErrState, err)
		}
		s.eng.Render(nil)
		s.refreshChips()
		s.engineStarted = true
		if pending != 0 {
			// Starting rewound the engine to the top; re-apply a seek
			// issued before the first start so the engine position and
			// the sample counters agree.
			s.SeekSamples(pending)
		}
	}

	s.state |= statePlay
	return nil
}

// Stop halts playback from any state. The playback position is left
// untouched; use Seek or Reset before restarting from the beginning.
func (s *Session) Stop() {
	if s == nil {
		return
	}
	s.state &^= statePlay | stateFade
}

// Reset restores the playback position to the beginning and re-applies
// initialization. The loaded file is unaffected.
func (s *Session) Reset() {
	if s == nil || s.eng == nil {
		return
	}

	s.eng.Reset()
	s.playSmpl = 0
	s.curLoop = 0
	s.engineDone = false
	s.silenceLeft = 0
	s.state &^= stateFade | stateFinish
}

// FadeOut schedules a linear ramp to silence over the configured fade
// time. No-op unless currently playing and not already fading.
func (s *Session) FadeOut() {
	if s == nil {
		return
	}
	if s.state&statePlay == 0 || s.state&stateFade != 0 {
		return
	}
	s.beginFade()
}

func (s *Session) beginFade() {
	if s.fadeSamples == 0 {
		s.state |= stateFinish
		return
	}
	s.state |= stateFade
	s.fadeStart = s.playSmpl
}

// Seek repositions playback to the given loop-inclusive offset. Valid
// whenever a file is loaded, in any playback state; it does not start
// playback. Negative positions are ignored.
func (s *Session) Seek(pos time.Duration) {
	if s == nil || s.eng == nil || pos < 0 {
		return
	}
	s.SeekSamples(timeconv.DurationToSamples(pos, s.sampleRate))
}

// SeekSamples repositions playback to an absolute sample offset.
func (s *Session) SeekSamples(samples uint32) {
	if s == nil || s.eng == nil {
		return
	}

	total := s.eng.TotalSamples()
	loop := s.eng.LoopSamples()

	local := samples
	s.curLoop = 0
	if total > 0 && samples > total {
		if loop > 0 {
			over := samples - total
			s.curLoop = over/loop + 1
			local = total - loop + over%loop
		} else {
			local = total
			samples = total
		}
	}

	s.eng.Seek(local)
	s.playSmpl = samples
	s.engineDone = false
	s.silenceLeft = 0
	s.state &^= stateFade | stateFinish
}

// onEngineEvent handles loop/end notifications raised by the engine
// during Render. For loop events the return value decides whether the
// engine keeps looping.
func (s *Session) onEngineEvent(ev engine.Event) bool {
	switch ev {
	case engine.EventLoop:
		s.curLoop++
		if s.maxLoops == 0 || s.curLoop < s.maxLoops {
			return true
		}
		// Loop budget exhausted: ride out through the fade if one is
		// configured, otherwise let the engine finish. The loop counter
		// keeps tracking wraps during the ride-out.
		if s.fadeSamples > 0 {
			if s.state&stateFade == 0 {
				s.beginFade()
			}
			return true
		}
		return false
	case engine.EventEnd:
		s.engineDone = true
		s.silenceLeft = s.silenceSamples
	}
	return false
}

// Render produces up to frames stereo frames of interleaved signed
// 16-bit samples into buf and returns the number of frames produced.
// When the session is stopped or finished it returns 0 and leaves the
// buffer untouched; callers that need silence (such as the audio
// callback) zero-fill the shortfall themselves.
func (s *Session) Render(frames uint32, buf []int16) uint32 {
	if s == nil || s.eng == nil || frames == 0 || len(buf) < int(frames)*2 {
		return 0
	}
	if s.state&statePlay == 0 || s.state&stateFinish != 0 {
		return 0
	}

	rendered := uint32(0)
	for rendered < frames && !s.engineDone && s.state&stateFinish == 0 {
		if s.state&stateFade != 0 && s.playSmpl-s.fadeStart >= s.fadeSamples {
			s.state |= stateFinish
			break
		}
		n := s.eng.Render(buf[rendered*2 : frames*2])
		if n == 0 {
			break
		}
		s.applyGain(buf[rendered*2:], n)
		rendered += n
	}

	// Trailing silence after the stream ends, before Finish.
	for rendered < frames && s.engineDone && s.state&stateFinish == 0 {
		if s.silenceLeft == 0 {
			s.state |= stateFinish
			break
		}
		n := frames - rendered
		if n > s.silenceLeft {
			n = s.silenceLeft
		}
		for i := rendered * 2; i < (rendered+n)*2; i++ {
			buf[i] = 0
		}
		s.silenceLeft -= n
		s.playSmpl += n
		rendered += n
	}

	if s.engineDone && s.silenceLeft == 0 && s.state&stateFinish == 0 {
		s.state |= stateFinish
	}
	return rendered
}

// applyGain applies master volume and the fade ramp in place to n
// frames and advances the sample position.
func (s *Session) applyGain(buf []int16, n uint32) {
	fading := s.state&stateFade != 0

	if !fading && s.volumeFP == unityVolume {
		s.playSmpl += n
		return
	}

	for f := uint32(0); f < n; f++ {
		gain := int64(s.volumeFP)
		if fading {
			elapsed := s.playSmpl - s.fadeStart
			if elapsed >= s.fadeSamples {
				gain = 0
				if s.state&stateFinish == 0 {
					s.state |= stateFinish
				}
			} else {
				remaining := s.fadeSamples - elapsed
				gain = gain * int64(remaining) / int64(s.fadeSamples)
			}
		}

		for c := uint32(0); c < 2; c++ {
			i := f*2 + c
			v := int64(buf[i]) * gain >> 16
			if v > 32767 {
				v = 32767
			} else if v < -32768 {
				v = -32768
			}
			buf[i] = int16(v)
		}
		s.playSmpl++
	}
}

// IsLoaded reports whether a file is loaded.
func (s *Session) IsLoaded() bool {
	return s != nil && s.eng != nil
}

// IsPlaying reports whether playback is active.
func (s *Session) IsPlaying() bool {
	return s != nil && s.state&statePlay != 0
}

// IsFading reports whether a fade-out is in progress.
func (s *Session) IsFading() bool {
	return s != nil && s.state&stateFade != 0
}

// IsFinished reports whether playback has run to completion.
func (s *Session) IsFinished() bool {
	return s != nil && s.state&stateFinish != 0
}

// Position returns the current loop-inclusive playback position.
func (s *Session) Position() time.Duration {
	if s == nil {
		return 0
	}
	return timeconv.SamplesToDuration(s.playSmpl, s.sampleRate)
}

// Duration returns the total playback duration including configured
// loops and the fade-out. Tracks that loop forever report one full pass.
func (s *Session) Duration() time.Duration {
	if s == nil || s.eng == nil {
		return 0
	}
	return timeconv.SamplesToDuration(s.durationSamples(), s.sampleRate)
}

func (s *Session) durationSamples() uint32 {
	total := s.eng.TotalSamples()
	if !s.HasLoop() || s.maxLoops == 0 {
		return total
	}
	return total + (s.maxLoops-1)*s.eng.LoopSamples() + s.fadeSamples
}

// HasLoop reports whether the loaded file declares a loop point.
func (s *Session) HasLoop() bool {
	return s != nil && s.backend != nil && s.backend.HasLoop()
}

// LoopPoint returns the position where the loop body begins, 0 if the
// file does not loop.
func (s *Session) LoopPoint() time.Duration {
	if !s.HasLoop() || s.eng == nil {
		return 0
	}
	total := s.eng.TotalSamples()
	loop := s.eng.LoopSamples()
	if loop > total {
		return 0
	}
	return timeconv.SamplesToDuration(total-loop, s.sampleRate)
}

// CurrentLoop returns the loop the playback is in (0 = first pass).
func (s *Session) CurrentLoop() uint32 {
	if s == nil {
		return 0
	}
	return s.curLoop
}

// SampleRate returns the configured output sample rate.
func (s *Session) SampleRate() uint32 {
	if s == nil {
		return 0
	}
	return s.sampleRate
}

// Metadata getters. Each returns an empty string when the tag is absent
// or no file is loaded.

// Title returns the track title.
func (s *Session) Title() string { return s.metaField(func(m format.Metadata) string { return m.Title }) }

// Game returns the game or album name.
func (s *Session) Game() string { return s.metaField(func(m format.Metadata) string { return m.Game }) }

// System returns the system or platform name.
func (s *Session) System() string {
	return s.metaField(func(m format.Metadata) string { return m.System })
}

// Composer returns the composer or artist name.
func (s *Session) Composer() string {
	return s.metaField(func(m format.Metadata) string { return m.Composer })
}

// Date returns the release date.
func (s *Session) Date() string { return s.metaField(func(m format.Metadata) string { return m.Date }) }

// VGMBy returns the dump author.
func (s *Session) VGMBy() string {
	return s.metaField(func(m format.Metadata) string { return m.VGMBy })
}

// Notes returns the free-form comment.
func (s *Session) Notes() string {
	return s.metaField(func(m format.Metadata) string { return m.Notes })
}

func (s *Session) metaField(pick func(format.Metadata) string) string {
	if s == nil {
		return ""
	}
	return pick(s.meta)
}

// Format returns the file format display string, e.g. "VGM 1.71".
func (s *Session) Format() string {
	if s == nil {
		return ""
	}
	return s.formatStr
}

// Tag returns a raw tag value by its dictionary key, "" when absent.
func (s *Session) Tag(key string) string {
	if s == nil {
		return ""
	}
	return s.tags[key]
}

// ChipCount returns the number of sound chips in the loaded file.
func (s *Session) ChipCount() uint32 {
	if s == nil {
		return 0
	}
	return uint32(len(s.chips))
}

// ChipName returns the chip name at the given index, "" if out of range.
func (s *Session) ChipName(index uint32) string {
	if s == nil || index >= uint32(len(s.chips)) {
		return ""
	}
	return s.chips[index].Name
}

// ChipCore returns the emulation core identifier at the given index,
// "" if out of range or before the core has been constructed.
func (s *Session) ChipCore(index uint32) string {
	if s == nil || index >= uint32(len(s.chips)) {
		return ""
	}
	return s.chips[index].Core
}

// Track assembles the full metadata of the loaded track.
func (s *Session) Track() Track {
	if s == nil {
		return Track{}
	}

	track := Track{
		Path:      s.path,
		Title:     s.meta.Title,
		Game:      s.meta.Game,
		System:    s.meta.System,
		Composer:  s.meta.Composer,
		Date:      s.meta.Date,
		VGMBy:     s.meta.VGMBy,
		Notes:     s.meta.Notes,
		Family:    s.family,
		Format:    s.formatStr,
		Duration:  s.Duration(),
		HasLoop:   s.HasLoop(),
		LoopPoint: s.LoopPoint(),
	}
	track.Chips = make([]ChipInfo, len(s.chips))
	copy(track.Chips, s.chips)
	return track
}

// Info returns the current playback information.
func (s *Session) Info() PlaybackInfo {
	info := PlaybackInfo{
		State:  StateStopped,
		Volume: 1.0,
		Speed:  1.0,
	}
	if s == nil {
		return info
	}

	switch {
	case s.state&stateFinish != 0:
		info.State = StateFinished
	case s.state&stateFade != 0:
		info.State = StateFading
	case s.state&statePlay != 0:
		info.State = StatePlaying
	}

	info.Position = s.Position()
	info.Duration = s.Duration()
	info.CurrentLoop = int(s.curLoop)
	info.TotalLoops = int(s.maxLoops)
	info.HasLoop = s.HasLoop()
	info.Volume = s.volume
	info.Speed = s.speed
	return info
}
