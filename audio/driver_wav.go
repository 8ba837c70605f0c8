package audio

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"
	"time"
)

const wavHeaderSize = 44

// waveBackend is the disk-writer driver: a pacing goroutine pulls
// buffers at the configured stream rate and appends them to a RIFF
// WAVE file. The RIFF and data chunk sizes are patched on close.
type waveBackend struct {
	file      *os.File
	dataBytes uint32

	stop chan struct{}
	wg   sync.WaitGroup

	pauseMu sync.Mutex
	writing bool
}

func (b *waveBackend) open(o *Output, _ uint32) error {
	if o.outputFile == "" {
		return fmt.Errorf("%w: no output file set", ErrDriverStart)
	}

	f, err := os.Create(o.outputFile)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDriverStart, err)
	}
	if err := b.writeHeader(f, o); err != nil {
		f.Close()
		os.Remove(o.outputFile)
		return fmt.Errorf("%w: %v", ErrDriverStart, err)
	}

	b.file = f
	b.dataBytes = 0
	b.writing = true
	b.stop = make(chan struct{})

	interval := time.Duration(o.bufferUsec) * time.Microsecond
	frames := o.bufferFrames()
	buf := make([]byte, int(frames)*o.frameBytes())

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
				b.pauseMu.Lock()
				if b.writing {
					n := o.FillBuffer(buf)
					if n > 0 {
						if _, err := b.file.Write(buf[:n]); err == nil {
							b.dataBytes += uint32(n)
						}
					}
				}
				b.pauseMu.Unlock()
			}
		}
	}()
	return nil
}

func (b *waveBackend) writeHeader(f *os.File, o *Output) error {
	byteRate := o.sampleRate * uint32(o.frameBytes())

	var hdr [wavHeaderSize]byte
	copy(hdr[0:4], "RIFF")
	// chunk sizes at offsets 4 and 40 are patched on close
	copy(hdr[8:12], "WAVE")
	copy(hdr[12:16], "fmt ")
	binary.LittleEndian.PutUint32(hdr[16:20], 16)
	binary.LittleEndian.PutUint16(hdr[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(hdr[22:24], uint16(o.channels))
	binary.LittleEndian.PutUint32(hdr[24:28], o.sampleRate)
	binary.LittleEndian.PutUint32(hdr[28:32], byteRate)
	binary.LittleEndian.PutUint16(hdr[32:34], uint16(o.frameBytes()))
	binary.LittleEndian.PutUint16(hdr[34:36], uint16(o.bits))
	copy(hdr[36:40], "data")

	_, err := f.Write(hdr[:])
	return err
}

func (b *waveBackend) close() error {
	if b.file == nil {
		return nil
	}
	close(b.stop)
	b.wg.Wait()

	var sizes [4]byte
	binary.LittleEndian.PutUint32(sizes[:], wavHeaderSize-8+b.dataBytes)
	_, err := b.file.WriteAt(sizes[:], 4)

	binary.LittleEndian.PutUint32(sizes[:], b.dataBytes)
	if _, werr := b.file.WriteAt(sizes[:], 40); err == nil {
		err = werr
	}

	if cerr := b.file.Close(); err == nil {
		err = cerr
	}
	b.file = nil
	return err
}

func (b *waveBackend) pause() error {
	b.pauseMu.Lock()
	b.writing = false
	b.pauseMu.Unlock()
	return nil
}

func (b *waveBackend) resume() error {
	b.pauseMu.Lock()
	b.writing = true
	b.pauseMu.Unlock()
	return nil
}
