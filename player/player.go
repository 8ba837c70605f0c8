package player

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/retroenv/retrogolib/log"

	"github.com/dewi-tim/vgmkit/audio"
)

const (
	// DefaultTickInterval is how often subscribers receive playback
	// info updates.
	DefaultTickInterval = 50 * time.Millisecond
)

// Player is the high-level interface for chiptune playback.
type Player interface {
	// Load loads a track from a file path.
	Load(path string) error
	// Unload unloads the current track.
	Unload()

	// Play starts or resumes playback.
	Play() error
	// Pause pauses playback.
	Pause()
	// Stop stops playback.
	Stop()
	// Toggle toggles between play and pause.
	Toggle()

	// Seek seeks to a position in the track.
	Seek(pos time.Duration)
	// SeekRelative seeks relative to current position.
	SeekRelative(delta time.Duration)

	// FadeOut triggers a fade-out.
	FadeOut()
	// Reset resets playback to the beginning.
	Reset()

	// SetVolume sets the volume (0.0 - 1.0+).
	SetVolume(vol float64)
	// SetSpeed sets the playback speed.
	SetSpeed(speed float64)
	// SetLoopCount sets the number of loops.
	SetLoopCount(count int)

	// Track returns metadata about the current track.
	Track() *Track
	// Info returns current playback information.
	Info() PlaybackInfo
	// IsLoaded returns true if a track is loaded.
	IsLoaded() bool

	// Subscribe returns a channel that receives playback info updates.
	Subscribe() <-chan PlaybackInfo
	// Unsubscribe removes a subscription channel.
	Unsubscribe(ch <-chan PlaybackInfo)

	// Close releases all resources.
	Close() error
}

// AudioPlayer implements Player by binding a Session to an audio
// output driver.
type AudioPlayer struct {
	// Atomic state for lock-free access
	playingAtomic uint32 // 1 = playing, 0 = not
	pausedAtomic  uint32 // 1 = paused, 0 = not

	// Mutex for non-hot-path operations (track loading, config changes)
	mu sync.Mutex

	logger  *log.Logger
	system  *audio.System
	output  *audio.Output
	session *Session

	// Current track info
	track     *Track
	trackPath string

	// Playback config (protected by mu)
	volume    float64
	speed     float64
	loopCount int

	// Subscribers for playback info updates
	subscribers map[chan PlaybackInfo]struct{}
	subMu       sync.RWMutex

	closed   chan struct{}
	tickWg   sync.WaitGroup
	tickOnce sync.Once
}

// selectOutputDriver finds the best available output driver.
// Prefers OTO, falls back to PortAudio, then anything that streams.
func selectOutputDriver(system *audio.System) (uint32, error) {
	drivers := system.Drivers(audio.DriverTypeOut)
	if len(drivers) == 0 {
		return 0, audio.ErrNoDrivers
	}

	for _, drv := range drivers {
		if drv.Signature == audio.DriverSigOto {
			return drv.ID, nil
		}
	}
	for _, drv := range drivers {
		if drv.Signature == audio.DriverSigPortAudio {
			return drv.ID, nil
		}
	}
	return drivers[0].ID, nil
}

// NewAudioPlayer creates a player streaming to the best available
// output driver. A nil logger falls back to the default logger.
func NewAudioPlayer(cfg Config, logger *log.Logger) (*AudioPlayer, error) {
	system, err := audio.NewSystem()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audio system: %w", err)
	}

	driverID, err := selectOutputDriver(system)
	if err != nil {
		system.Close()
		return nil, fmt.Errorf("no audio drivers available: %w", err)
	}

	p, err := newAudioPlayer(system, driverID, cfg, logger)
	if err != nil {
		system.Close()
		return nil, err
	}
	return p, nil
}

// newAudioPlayer wires a player to a specific driver. Tests use it with
// the null driver; NewAudioPlayer picks a speaker driver.
func newAudioPlayer(system *audio.System, driverID uint32, cfg Config, logger *log.Logger) (*AudioPlayer, error) {
	output, err := system.NewOutput(driverID)
	if err != nil {
		return nil, fmt.Errorf("failed to create audio driver: %w", err)
	}

	output.SetSampleRate(cfg.SampleRate)
	output.SetChannels(DefaultChannels)
	output.SetBits(DefaultBitDepth)

	session, err := NewSession(cfg, logger)
	if err != nil {
		output.Close()
		return nil, err
	}

	if err := output.BindPlayer(session); err != nil {
		session.Close()
		output.Close()
		return nil, fmt.Errorf("failed to bind player to audio driver: %w", err)
	}

	if err := output.Start(0); err != nil {
		session.Close()
		output.Close()
		return nil, fmt.Errorf("failed to start audio driver: %w", err)
	}

	// Driver runs but stays paused until Play; it renders silence
	// either way, pausing just skips the renderer.
	output.Pause()

	p := &AudioPlayer{
		logger:      session.logger,
		system:      system,
		output:      output,
		session:     session,
		volume:      cfg.Volume,
		speed:       cfg.Speed,
		loopCount:   int(cfg.LoopCount),
		subscribers: make(map[chan PlaybackInfo]struct{}),
		closed:      make(chan struct{}),
	}
	return p, nil
}

// Load loads a track from a file path.
func (p *AudioPlayer) Load(path string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopLocked()

	var err error
	p.output.SafeDo(func() {
		err = p.session.Load(path)
	})
	if err != nil {
		return err
	}

	var track Track
	p.output.SafeDo(func() {
		track = p.session.Track()
	})
	p.track = &track
	p.trackPath = path
	return nil
}

// Unload unloads the current track.
func (p *AudioPlayer) Unload() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopLocked()
	p.output.SafeDo(p.session.Unload)
	p.track = nil
	p.trackPath = ""
}

// Play starts or resumes playback.
func (p *AudioPlayer) Play() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.playLocked()
}

// Pause pauses playback.
func (p *AudioPlayer) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.pauseLocked()
}

// Stop stops playback.
func (p *AudioPlayer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopLocked()
}

func (p *AudioPlayer) stopLocked() {
	if atomic.LoadUint32(&p.playingAtomic) == 1 {
		atomic.StoreUint32(&p.playingAtomic, 0)
		atomic.StoreUint32(&p.pausedAtomic, 0)

		p.output.SafeDo(p.session.Stop)
		p.output.Pause()
	}
}

// Toggle toggles between play and pause.
func (p *AudioPlayer) Toggle() {
	p.mu.Lock()
	defer p.mu.Unlock()

	playing := atomic.LoadUint32(&p.playingAtomic) == 1
	paused := atomic.LoadUint32(&p.pausedAtomic) == 1

	if playing && !paused {
		p.pauseLocked()
	} else {
		p.playLocked()
	}
}

// pauseLocked pauses playback (must be called with mu held).
func (p *AudioPlayer) pauseLocked() {
	if atomic.LoadUint32(&p.playingAtomic) == 1 && atomic.LoadUint32(&p.pausedAtomic) == 0 {
		atomic.StoreUint32(&p.pausedAtomic, 1)
		p.output.Pause()
	}
}

// playLocked starts or resumes playback (must be called with mu held).
func (p *AudioPlayer) playLocked() error {
	if p.track == nil {
		return ErrState
	}

	// If paused, just resume.
	if atomic.LoadUint32(&p.pausedAtomic) == 1 {
		atomic.StoreUint32(&p.pausedAtomic, 0)
		p.output.Resume()
		return nil
	}

	if atomic.LoadUint32(&p.playingAtomic) == 1 {
		return nil
	}

	var err error
	p.output.SafeDo(func() {
		err = p.session.Start()
	})
	if err != nil {
		return err
	}

	// Re-read track info: emulation core names exist after start.
	var track Track
	p.output.SafeDo(func() {
		track = p.session.Track()
	})
	p.track = &track

	atomic.StoreUint32(&p.pausedAtomic, 0)
	atomic.StoreUint32(&p.playingAtomic, 1)

	p.output.Resume()

	p.tickWg.Add(1)
	go p.tickLoop()

	return nil
}

// Seek seeks to a position in the track.
func (p *AudioPlayer) Seek(pos time.Duration) {
	if pos < 0 {
		pos = 0
	}
	p.output.SafeSeek(pos)
}

// SeekRelative seeks relative to current position.
func (p *AudioPlayer) SeekRelative(delta time.Duration) {
	p.output.SafeDo(func() {
		pos := p.session.Position() + delta
		if pos < 0 {
			pos = 0
		}
		p.session.Seek(pos)
	})
}

// FadeOut triggers a fade-out.
func (p *AudioPlayer) FadeOut() {
	p.output.SafeFadeOut()
}

// Reset resets playback to the beginning.
func (p *AudioPlayer) Reset() {
	p.output.SafeReset()
}

// SetVolume sets the volume (0.0 - 1.0+).
func (p *AudioPlayer) SetVolume(vol float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if vol < 0 {
		vol = 0
	}
	p.volume = vol
	p.output.SafeDo(func() {
		p.session.SetVolume(vol)
	})
}

// SetSpeed sets the playback speed, clamped to 0.1 - 8.0.
func (p *AudioPlayer) SetSpeed(speed float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if speed < 0.1 {
		speed = 0.1
	}
	if speed > 8.0 {
		speed = 8.0
	}
	p.speed = speed
	p.output.SafeDo(func() {
		p.session.SetSpeed(speed)
	})
}

// SetLoopCount sets the number of loops.
func (p *AudioPlayer) SetLoopCount(count int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if count < 0 {
		count = 0
	}
	p.loopCount = count
	p.output.SafeDo(func() {
		p.session.SetLoopCount(uint32(count))
	})
}

// Track returns metadata about the current track.
func (p *AudioPlayer) Track() *Track {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.track
}

// Info returns current playback information.
func (p *AudioPlayer) Info() PlaybackInfo {
	var info PlaybackInfo
	p.output.SafeDo(func() {
		info = p.session.Info()
	})

	// Adjust state based on our atomic flags; the session does not
	// know about driver-level pause.
	paused := atomic.LoadUint32(&p.pausedAtomic) == 1
	playing := atomic.LoadUint32(&p.playingAtomic) == 1

	if paused {
		info.State = StatePaused
	} else if !playing && info.State == StatePlaying {
		info.State = StateStopped
	}

	return info
}

// IsLoaded returns true if a track is loaded.
func (p *AudioPlayer) IsLoaded() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.track != nil
}

// State returns the current playback state without tick delay.
func (p *AudioPlayer) State() PlayState {
	if atomic.LoadUint32(&p.pausedAtomic) == 1 {
		return StatePaused
	}
	if atomic.LoadUint32(&p.playingAtomic) == 0 {
		return StateStopped
	}

	// The track may have finished without Stop being called yet.
	var finished bool
	p.output.SafeDo(func() {
		finished = p.session.IsFinished()
	})
	if finished {
		return StateFinished
	}
	return StatePlaying
}

// Subscribe returns a channel that receives playback info updates.
func (p *AudioPlayer) Subscribe() <-chan PlaybackInfo {
	p.subMu.Lock()
	defer p.subMu.Unlock()

	ch := make(chan PlaybackInfo, 1)
	p.subscribers[ch] = struct{}{}
	return ch
}

// Unsubscribe removes a subscription channel.
func (p *AudioPlayer) Unsubscribe(ch <-chan PlaybackInfo) {
	p.subMu.Lock()
	defer p.subMu.Unlock()

	for subCh := range p.subscribers {
		if subCh == ch {
			delete(p.subscribers, subCh)
			close(subCh)
			break
		}
	}
}

// tickLoop sends periodic playback info updates to subscribers.
func (p *AudioPlayer) tickLoop() {
	defer p.tickWg.Done()

	ticker := time.NewTicker(DefaultTickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.closed:
			return
		case <-ticker.C:
			if atomic.LoadUint32(&p.playingAtomic) == 0 {
				return
			}

			info := p.Info()

			p.subMu.RLock()
			for ch := range p.subscribers {
				select {
				case ch <- info:
				default:
					// drop if the channel is full
				}
			}
			p.subMu.RUnlock()

			if info.State == StateFinished || info.State == StateStopped {
				return
			}
		}
	}
}

// Close releases all resources.
func (p *AudioPlayer) Close() error {
	p.mu.Lock()
	p.tickOnce.Do(func() { close(p.closed) })
	p.stopLocked()
	p.mu.Unlock()

	// Wait for tickLoop to exit before closing subscriber channels.
	p.tickWg.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.output != nil {
		p.output.UnbindPlayer()
		p.output.Stop()
		p.output.Close()
		p.output = nil
	}

	p.subMu.Lock()
	for ch := range p.subscribers {
		close(ch)
	}
	p.subscribers = nil
	p.subMu.Unlock()

	if p.session != nil {
		p.session.Close()
		p.session = nil
	}

	if p.system != nil {
		p.system.Close()
		p.system = nil
	}

	return nil
}

// Ensure AudioPlayer implements Player.
var _ Player = (*AudioPlayer)(nil)

// Ensure Session satisfies the audio renderer contract.
var _ audio.Renderer = (*Session)(nil)
