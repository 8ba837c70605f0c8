package format

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
)

// LoadFile reads a chiptune file from disk. Gzip-compressed files
// (notably .vgz) are decompressed transparently, so callers always see
// the raw container bytes.
func LoadFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return Decompress(data)
}

// Decompress unwraps a gzip layer if the data carries the gzip magic,
// and returns the data unchanged otherwise.
func Decompress(data []byte) ([]byte, error) {
	if len(data) < 2 || data[0] != 0x1F || data[1] != 0x8B {
		return data, nil
	}

	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("opening gzip stream: %w", err)
	}
	defer zr.Close()

	raw, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("decompressing: %w", err)
	}
	return raw, nil
}
