package player

import "fmt"

// ReadTrackMetadata loads a file just long enough to extract its
// metadata, without starting any emulation. Useful for building track
// listings where full playback setup would be wasted work.
func ReadTrackMetadata(path string) (Track, error) {
	session, err := NewSession(DefaultConfig(), nil)
	if err != nil {
		return Track{}, fmt.Errorf("creating session: %w", err)
	}
	defer session.Close()

	if err := session.Load(path); err != nil {
		return Track{}, fmt.Errorf("loading %s: %w", path, err)
	}
	return session.Track(), nil
}
