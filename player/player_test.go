package player

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/retroenv/retrogolib/assert"
	"github.com/retroenv/retrogolib/log"

	"github.com/dewi-tim/vgmkit/audio"
)

// newNullPlayer creates an AudioPlayer on the null driver so tests run
// without a sound device.
func newNullPlayer(t *testing.T) *AudioPlayer {
	t.Helper()

	system, err := audio.NewSystem()
	assert.NoError(t, err)

	var id uint32
	found := false
	for _, drv := range system.Drivers(audio.DriverTypeOut) {
		if drv.Signature == audio.DriverSigNull {
			id = drv.ID
			found = true
		}
	}
	assert.True(t, found)

	p, err := newAudioPlayer(system, id, DefaultConfig(), log.NewTestLogger(t))
	assert.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, p.Close())
	})
	return p
}

// writeTrack writes a ten-second synthetic VGM file.
func writeTrack(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "track.vgm")
	data := buildVGM(t, 441000, 0, []string{
		"Title", "", "Game", "", "", "", "", "", "", "", "",
	}, nil)
	assert.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestAudioPlayerPlayWithoutTrack(t *testing.T) {
	p := newNullPlayer(t)

	assert.False(t, p.IsLoaded())
	assert.Error(t, p.Play())
}

func TestAudioPlayerLoadAndTransport(t *testing.T) {
	p := newNullPlayer(t)

	assert.NoError(t, p.Load(writeTrack(t)))
	assert.True(t, p.IsLoaded())

	track := p.Track()
	assert.NotNil(t, track)
	assert.Equal(t, "Title", track.Title)
	assert.Equal(t, "VGM 1.71", track.Format)

	assert.NoError(t, p.Play())
	assert.Equal(t, StatePlaying, p.State())

	p.Pause()
	assert.Equal(t, StatePaused, p.State())

	p.Toggle()
	assert.Equal(t, StatePlaying, p.State())

	p.Stop()
	assert.Equal(t, StateStopped, p.State())
	assert.Equal(t, StateStopped, p.Info().State)
}

func TestAudioPlayerUnload(t *testing.T) {
	p := newNullPlayer(t)

	assert.NoError(t, p.Load(writeTrack(t)))
	assert.NoError(t, p.Play())

	p.Unload()
	assert.False(t, p.IsLoaded())
	assert.Nil(t, p.Track())
	assert.Error(t, p.Play())
}

func TestAudioPlayerSeekAndSettings(t *testing.T) {
	p := newNullPlayer(t)

	assert.NoError(t, p.Load(writeTrack(t)))
	assert.NoError(t, p.Play())

	p.Seek(5 * time.Second)
	info := p.Info()
	assert.True(t, info.Position >= 5*time.Second)

	p.SeekRelative(-2 * time.Second)
	info = p.Info()
	assert.True(t, info.Position < 5*time.Second)
	assert.True(t, info.Position >= 2*time.Second)

	p.SetVolume(0.5)
	p.SetSpeed(2.0)
	p.SetLoopCount(3)
	info = p.Info()
	assert.Equal(t, 0.5, info.Volume)
	assert.Equal(t, 2.0, info.Speed)
	assert.Equal(t, 3, info.TotalLoops)

	// Out-of-range settings are clamped.
	p.SetVolume(-1)
	p.SetSpeed(100)
	info = p.Info()
	assert.Equal(t, 0.0, info.Volume)
	assert.Equal(t, 8.0, info.Speed)
}

func TestAudioPlayerSubscribe(t *testing.T) {
	p := newNullPlayer(t)

	assert.NoError(t, p.Load(writeTrack(t)))
	ch := p.Subscribe()

	assert.NoError(t, p.Play())

	select {
	case info := <-ch:
		assert.True(t, info.State == StatePlaying || info.State == StateFinished)
	case <-time.After(2 * time.Second):
		t.Fatal("no playback info update received")
	}

	p.Unsubscribe(ch)
	_, open := <-ch
	assert.False(t, open)
}

func TestAudioPlayerFadeAndReset(t *testing.T) {
	p := newNullPlayer(t)

	assert.NoError(t, p.Load(writeTrack(t)))
	assert.NoError(t, p.Play())

	p.FadeOut()
	info := p.Info()
	assert.Equal(t, StateFading, info.State)

	p.Reset()
	info = p.Info()
	assert.Equal(t, StatePlaying, info.State)
	assert.True(t, info.Position < time.Second)
}

func TestOutputLateCallbackAfterSessionClose(t *testing.T) {
	system, err := audio.NewSystem()
	assert.NoError(t, err)
	defer system.Close()

	var id uint32
	for _, drv := range system.Drivers(audio.DriverTypeOut) {
		if drv.Signature == audio.DriverSigNull {
			id = drv.ID
		}
	}
	out, err := system.NewOutput(id)
	assert.NoError(t, err)
	defer out.Close()

	s, err := NewSession(DefaultConfig(), nil)
	assert.NoError(t, err)
	assert.NoError(t, s.LoadData(buildVGM(t, 441000, 0, nil, nil), "a.vgm"))
	assert.NoError(t, out.BindPlayer(s))
	out.SafeDo(func() {
		assert.NoError(t, s.Start())
	})

	buf := make([]byte, 64)
	out.FillBuffer(buf)

	// Unbind, destroy the session, then simulate a late realtime tick:
	// the callback must fall back to silence, not touch the session.
	out.UnbindPlayer()
	s.Close()

	for i := range buf {
		buf[i] = 0xFF
	}
	assert.Equal(t, 64, out.FillBuffer(buf))
	for _, b := range buf {
		assert.Equal(t, byte(0), b)
	}
}

func TestAudioPlayerConcurrentControl(t *testing.T) {
	p := newNullPlayer(t)

	assert.NoError(t, p.Load(writeTrack(t)))
	assert.NoError(t, p.Play())

	// Exercise the control surface from multiple goroutines while the
	// driver callback keeps pulling samples.
	done := make(chan struct{})
	var wg sync.WaitGroup
	ops := []func(){
		func() { p.Seek(time.Second) },
		func() { p.SeekRelative(100 * time.Millisecond) },
		func() { p.SetVolume(0.7) },
		func() { p.Info() },
		func() { p.State() },
		func() { p.Toggle() },
	}
	for _, op := range ops {
		wg.Add(1)
		go func(op func()) {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
					op()
				}
			}
		}(op)
	}

	time.Sleep(100 * time.Millisecond)
	close(done)
	wg.Wait()
}
