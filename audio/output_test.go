package audio

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/retroenv/retrogolib/assert"
)

// fakeRenderer produces a constant amplitude and records control calls.
// Render runs under the output's render mutex; the fake's own mutex
// lets test goroutines read the counters safely.
type fakeRenderer struct {
	mu     sync.Mutex
	amp    int16
	frames uint32
	seeks  int
	resets int
	fades  int
}

func (f *fakeRenderer) Render(frames uint32, buf []int16) uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i := uint32(0); i < frames*2; i++ {
		buf[i] = f.amp
	}
	f.frames += frames
	return frames
}

func (f *fakeRenderer) Seek(time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seeks++
}

func (f *fakeRenderer) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
}

func (f *fakeRenderer) FadeOut() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fades++
}

func (f *fakeRenderer) renderedFrames() uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.frames
}

func nullOutput(t *testing.T) (*System, *Output) {
	t.Helper()

	system, err := NewSystem()
	assert.NoError(t, err)

	var id uint32
	found := false
	for _, drv := range system.Drivers(0) {
		if drv.Signature == DriverSigNull {
			id = drv.ID
			found = true
		}
	}
	assert.True(t, found)

	out, err := system.NewOutput(id)
	assert.NoError(t, err)
	return system, out
}

func TestSystemDriverEnumeration(t *testing.T) {
	system, err := NewSystem()
	assert.NoError(t, err)
	defer system.Close()

	all := system.Drivers(0)
	assert.Len(t, all, 4)
	for i, drv := range all {
		assert.Equal(t, uint32(i), drv.ID)
	}

	// Disk writers are not output drivers.
	for _, drv := range system.Drivers(DriverTypeOut) {
		assert.True(t, drv.Signature != DriverSigWave)
	}

	disk := system.Drivers(DriverTypeDisk)
	assert.Len(t, disk, 1)
	assert.Equal(t, "WaveWriter", disk[0].Name)

	system.Close()
	assert.Nil(t, system.Drivers(0))
	_, err = system.NewOutput(0)
	assert.Error(t, err)
}

func TestOutputFillBufferUnbound(t *testing.T) {
	system, out := nullOutput(t)
	defer system.Close()
	defer out.Close()

	buf := make([]byte, 64)
	for i := range buf {
		buf[i] = 0xAA
	}
	n := out.FillBuffer(buf)
	assert.Equal(t, 64, n)
	for _, b := range buf {
		assert.Equal(t, byte(0), b)
	}
}

func TestOutputFillBufferPaused(t *testing.T) {
	system, out := nullOutput(t)
	defer system.Close()
	defer out.Close()

	fake := &fakeRenderer{amp: 0x1234}
	assert.NoError(t, out.BindPlayer(fake))
	out.Pause()

	buf := make([]byte, 64)
	out.FillBuffer(buf)
	assert.Equal(t, uint32(0), fake.renderedFrames())
	for _, b := range buf {
		assert.Equal(t, byte(0), b)
	}

	out.Resume()
	out.FillBuffer(buf)
	assert.Equal(t, uint32(16), fake.renderedFrames())
}

func TestOutputFillBufferEncoding(t *testing.T) {
	system, out := nullOutput(t)
	defer system.Close()
	defer out.Close()

	fake := &fakeRenderer{amp: 0x1234}
	assert.NoError(t, out.BindPlayer(fake))

	// 16-bit stereo: little-endian sample pairs.
	buf := make([]byte, 16)
	assert.Equal(t, 16, out.FillBuffer(buf))
	assert.Equal(t, byte(0x34), buf[0])
	assert.Equal(t, byte(0x12), buf[1])

	// 8-bit output: top byte, offset to unsigned.
	out.SetBits(8)
	buf8 := make([]byte, 8)
	assert.Equal(t, 8, out.FillBuffer(buf8))
	assert.Equal(t, byte(0x12)^0x80, buf8[0])
}

func TestOutputMonoDownmix(t *testing.T) {
	system, out := nullOutput(t)
	defer system.Close()
	defer out.Close()

	fake := &fakeRenderer{amp: 0x1000}
	assert.NoError(t, out.BindPlayer(fake))
	out.SetChannels(1)

	buf := make([]byte, 8) // 4 mono 16-bit frames
	assert.Equal(t, 8, out.FillBuffer(buf))
	assert.Equal(t, uint32(4), fake.renderedFrames())
	assert.Equal(t, int16(0x1000), int16(binary.LittleEndian.Uint16(buf)))
}

func TestOutputSafeOps(t *testing.T) {
	system, out := nullOutput(t)
	defer system.Close()
	defer out.Close()

	// No renderer bound: all Safe* calls are no-ops.
	out.SafeSeek(time.Second)
	out.SafeReset()
	out.SafeFadeOut()

	fake := &fakeRenderer{}
	assert.NoError(t, out.BindPlayer(fake))
	out.SafeSeek(time.Second)
	out.SafeReset()
	out.SafeFadeOut()
	out.SafeDo(func() {})

	assert.Equal(t, 1, fake.seeks)
	assert.Equal(t, 1, fake.resets)
	assert.Equal(t, 1, fake.fades)
}

func TestNullDriverLifecycle(t *testing.T) {
	system, out := nullOutput(t)
	defer system.Close()

	fake := &fakeRenderer{amp: 100}
	assert.NoError(t, out.BindPlayer(fake))

	assert.NoError(t, out.Start(0))
	assert.NoError(t, out.Start(0)) // second start is a no-op

	time.Sleep(50 * time.Millisecond)
	assert.True(t, fake.renderedFrames() > 0)

	assert.NoError(t, out.Stop())
	n := fake.renderedFrames()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, fake.renderedFrames())

	assert.NoError(t, out.Close())
	assert.Error(t, out.Start(0))
}

func TestOutputConcurrentControl(t *testing.T) {
	system, out := nullOutput(t)
	defer system.Close()

	fake := &fakeRenderer{amp: 1}
	assert.NoError(t, out.BindPlayer(fake))
	assert.NoError(t, out.Start(0))

	// Hammer the control surface while the driver callback runs.
	done := make(chan struct{})
	var wg sync.WaitGroup
	for _, op := range []func(){
		func() { out.SafeSeek(time.Second) },
		func() { out.SafeReset() },
		func() { out.SafeFadeOut() },
		func() { out.Pause(); out.Resume() },
		func() {
			out.UnbindPlayer()
			out.BindPlayer(fake)
		},
	} {
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

	assert.NoError(t, out.Close())
}

func TestOutputUnbindSilencesCallback(t *testing.T) {
	system, out := nullOutput(t)
	defer system.Close()
	defer out.Close()

	fake := &fakeRenderer{amp: 0x7FFF}
	assert.NoError(t, out.BindPlayer(fake))

	buf := make([]byte, 16)
	out.FillBuffer(buf)
	assert.Equal(t, byte(0xFF), buf[0])

	out.UnbindPlayer()
	out.FillBuffer(buf)
	for _, b := range buf {
		assert.Equal(t, byte(0), b)
	}
}

func TestWaveWriter(t *testing.T) {
	system, err := NewSystem()
	assert.NoError(t, err)
	defer system.Close()

	var id uint32
	for _, drv := range system.Drivers(DriverTypeDisk) {
		id = drv.ID
	}
	out, err := system.NewOutput(id)
	assert.NoError(t, err)

	// Starting without a destination fails.
	assert.Error(t, out.Start(0))

	path := filepath.Join(t.TempDir(), "capture.wav")
	out.SetOutputFile(path)
	out.SetBufferTime(1000) // 1ms pacing so the test stays short

	fake := &fakeRenderer{amp: 0x0102}
	assert.NoError(t, out.BindPlayer(fake))
	assert.NoError(t, out.Start(0))

	time.Sleep(50 * time.Millisecond)
	assert.NoError(t, out.Close())

	data, err := os.ReadFile(path)
	assert.NoError(t, err)
	assert.True(t, len(data) > wavHeaderSize)

	le := binary.LittleEndian
	assert.Equal(t, "RIFF", string(data[0:4]))
	assert.Equal(t, "WAVE", string(data[8:12]))
	assert.Equal(t, "data", string(data[36:40]))

	dataBytes := le.Uint32(data[40:44])
	assert.Equal(t, uint32(len(data)-wavHeaderSize), dataBytes)
	assert.Equal(t, uint32(len(data)-8), le.Uint32(data[4:8]))

	assert.Equal(t, uint16(2), le.Uint16(data[22:24]))       // channels
	assert.Equal(t, uint32(44100), le.Uint32(data[24:28]))   // rate
	assert.Equal(t, uint16(16), le.Uint16(data[34:36]))      // bits
	assert.Equal(t, int16(0x0102), int16(le.Uint16(data[44:46])))
}
