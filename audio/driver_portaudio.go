package audio

import (
	"fmt"

	"github.com/gordonklaus/portaudio"
)

// portAudioBackend streams through a portaudio callback stream. The
// callback hands us an int16 slice to fill on the realtime thread.
type portAudioBackend struct {
	stream *portaudio.Stream
}

func (b *portAudioBackend) open(o *Output, _ uint32) error {
	if o.bits != 16 {
		return fmt.Errorf("%w: portaudio output requires 16-bit samples", ErrDriverStart)
	}
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("%w: %v", ErrDriverStart, err)
	}

	stream, err := portaudio.OpenDefaultStream(
		0, int(o.channels), float64(o.sampleRate), int(o.bufferFrames()),
		func(out []int16) {
			if o.channels == 2 {
				o.fillFrames(out)
				return
			}
			// Mono stream: render stereo and downmix.
			frames := len(out)
			need := frames * 2
			if cap(o.scratch) < need {
				o.scratch = make([]int16, need)
			}
			buf := o.scratch[:need]
			o.fillFrames(buf)
			for f := 0; f < frames; f++ {
				out[f] = int16((int32(buf[f*2]) + int32(buf[f*2+1])) / 2)
			}
		})
	if err != nil {
		portaudio.Terminate()
		return fmt.Errorf("%w: %v", ErrDriverStart, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return fmt.Errorf("%w: %v", ErrDriverStart, err)
	}

	b.stream = stream
	return nil
}

func (b *portAudioBackend) close() error {
	if b.stream == nil {
		return nil
	}
	err := b.stream.Stop()
	if cerr := b.stream.Close(); err == nil {
		err = cerr
	}
	b.stream = nil
	if terr := portaudio.Terminate(); err == nil {
		err = terr
	}
	return err
}

func (b *portAudioBackend) pause() error {
	if b.stream != nil {
		return b.stream.Stop()
	}
	return nil
}

func (b *portAudioBackend) resume() error {
	if b.stream != nil {
		return b.stream.Start()
	}
	return nil
}
