package player

import "errors"

// Error values returned by the playback session.
var (
	// ErrNullPointer indicates a nil session or argument.
	ErrNullPointer = errors.New("player: null pointer")
	// ErrFileOpen indicates the source file could not be read.
	ErrFileOpen = errors.New("player: failed to open file")
	// ErrFileFormat indicates the bytes are not a recognized format.
	ErrFileFormat = errors.New("player: unsupported file format")
	// ErrState indicates an operation invalid in the current state,
	// such as Start without a loaded file.
	ErrState = errors.New("player: invalid state")
)
