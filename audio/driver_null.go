package audio

import (
	"sync"
	"time"
)

// nullBackend pulls buffers at the configured stream rate and discards
// them. It keeps playback bookkeeping moving without a sound device,
// which is what tests and headless hosts want.
type nullBackend struct {
	stop chan struct{}
	wg   sync.WaitGroup
}

func (b *nullBackend) open(o *Output, _ uint32) error {
	b.stop = make(chan struct{})

	interval := time.Duration(o.bufferUsec) * time.Microsecond
	buf := make([]int16, int(o.bufferFrames())*2)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-b.stop:
				return
			case <-ticker.C:
				o.fillFrames(buf)
			}
		}
	}()
	return nil
}

func (b *nullBackend) close() error {
	if b.stop == nil {
		return nil
	}
	close(b.stop)
	b.wg.Wait()
	b.stop = nil
	return nil
}

func (b *nullBackend) pause() error  { return nil }
func (b *nullBackend) resume() error { return nil }
