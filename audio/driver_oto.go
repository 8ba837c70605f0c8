package audio

import (
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
)

// The oto context is process-global and keeps the stream format it was
// created with. The first output to open fixes rate and channel count;
// later opens with a different format fail.
var otoShared struct {
	sync.Mutex
	ctx      *oto.Context
	rate     int
	channels int
}

// otoBackend streams through oto's pull model: oto reads encoded bytes
// from the output on its own mixer goroutine.
type otoBackend struct {
	player *oto.Player
}

// otoSource adapts an Output to the io.Reader oto pulls from.
type otoSource struct {
	out *Output
}

func (s *otoSource) Read(p []byte) (int, error) {
	n := s.out.FillBuffer(p)
	// oto expects full reads; pad partial frames with silence.
	for i := n; i < len(p); i++ {
		p[i] = 0
	}
	return len(p), nil
}

func (b *otoBackend) open(o *Output, _ uint32) error {
	if o.bits != 16 {
		return fmt.Errorf("%w: oto output requires 16-bit samples", ErrDriverStart)
	}

	otoShared.Lock()
	defer otoShared.Unlock()

	rate := int(o.sampleRate)
	channels := int(o.channels)
	if otoShared.ctx == nil {
		ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   rate,
			ChannelCount: channels,
			Format:       oto.FormatSignedInt16LE,
			BufferSize:   time.Duration(o.bufferUsec) * time.Microsecond * time.Duration(o.bufferCount),
		})
		if err != nil {
			return fmt.Errorf("%w: %v", ErrDriverStart, err)
		}
		<-ready
		otoShared.ctx = ctx
		otoShared.rate = rate
		otoShared.channels = channels
	} else if otoShared.rate != rate || otoShared.channels != channels {
		return fmt.Errorf("%w: oto context already open at %d Hz / %d ch",
			ErrDriverStart, otoShared.rate, otoShared.channels)
	}

	b.player = otoShared.ctx.NewPlayer(&otoSource{out: o})
	b.player.Play()
	return nil
}

func (b *otoBackend) close() error {
	if b.player == nil {
		return nil
	}
	err := b.player.Close()
	b.player = nil
	return err
}

func (b *otoBackend) pause() error {
	if b.player != nil {
		b.player.Pause()
	}
	return nil
}

func (b *otoBackend) resume() error {
	if b.player != nil {
		b.player.Play()
	}
	return nil
}
