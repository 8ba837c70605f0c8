// Package library provides chiptune music library indexing: it walks a
// directory tree, reads metadata from every supported file and exposes
// a system/game/track hierarchy.
package library

import (
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/retroenv/retrogolib/log"

	"github.com/dewi-tim/vgmkit/format"
	"github.com/dewi-tim/vgmkit/player"
)

// Track represents a track in the library with full metadata.
type Track struct {
	Path     string
	Title    string
	Game     string
	System   string
	Composer string
	Format   string
	Duration time.Duration
}

// Game represents a game/album containing tracks.
type Game struct {
	Name   string
	System string
	Tracks []Track
}

// System represents a system/platform containing games.
type System struct {
	Name  string
	Games map[string]*Game
}

// Library represents an indexed chiptune music library.
type Library struct {
	mu      sync.RWMutex
	logger  *log.Logger
	root    string
	systems map[string]*System
	tracks  []Track // flat list for quick access
}

// New creates a library rooted at the given directory. A nil logger
// falls back to the default logger.
func New(root string, logger *log.Logger) *Library {
	if logger == nil {
		logger = log.NewWithConfig(log.DefaultConfig())
	}
	return &Library{
		logger:  logger,
		root:    root,
		systems: make(map[string]*System),
		tracks:  make([]Track, 0),
	}
}

// Root returns the library root directory.
func (l *Library) Root() string {
	return l.root
}

// Scan walks the library directory and indexes every supported file,
// replacing the previous index. It returns the number of tracks found.
// Unreadable or unrecognized files are logged and skipped.
func (l *Library) Scan() (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.systems = make(map[string]*System)
	l.tracks = make([]Track, 0)

	err := filepath.WalkDir(l.root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return nil // skip entries we cannot access
		}

		if entry.IsDir() {
			if strings.HasPrefix(entry.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}

		if !isSupportedFile(entry.Name()) {
			return nil
		}

		meta, err := player.ReadTrackMetadata(path)
		if err != nil {
			l.logger.Debug("skipping unreadable track",
				log.String("path", path), log.Err(err))
			return nil
		}

		track := Track{
			Path:     path,
			Title:    meta.Title,
			Game:     meta.Game,
			System:   meta.System,
			Composer: meta.Composer,
			Format:   meta.Format,
			Duration: meta.Duration,
		}

		// Fall back to path-derived names for untagged files.
		if track.Title == "" {
			track.Title = strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		}
		if track.Game == "" {
			track.Game = filepath.Base(filepath.Dir(path))
		}
		if track.System == "" {
			track.System = "Unknown"
		}

		l.tracks = append(l.tracks, track)
		l.addTrack(track)
		return nil
	})
	if err != nil {
		return 0, err
	}

	for _, system := range l.systems {
		for _, game := range system.Games {
			sort.Slice(game.Tracks, func(i, j int) bool {
				return game.Tracks[i].Title < game.Tracks[j].Title
			})
		}
	}

	l.logger.Debug("library scan complete",
		log.String("root", l.root), log.Int("tracks", len(l.tracks)))
	return len(l.tracks), nil
}

// addTrack adds a track to the system/game hierarchy.
func (l *Library) addTrack(track Track) {
	system, ok := l.systems[track.System]
	if !ok {
		system = &System{
			Name:  track.System,
			Games: make(map[string]*Game),
		}
		l.systems[track.System] = system
	}

	game, ok := system.Games[track.Game]
	if !ok {
		game = &Game{
			Name:   track.Game,
			System: track.System,
			Tracks: make([]Track, 0),
		}
		system.Games[track.Game] = game
	}

	game.Tracks = append(game.Tracks, track)
}

// Systems returns a sorted list of system names.
func (l *Library) Systems() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	names := make([]string, 0, len(l.systems))
	for name := range l.systems {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetSystem returns a system by name.
func (l *Library) GetSystem(name string) *System {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.systems[name]
}

// Games returns a sorted list of game names for a system.
func (l *Library) Games(systemName string) []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	system, ok := l.systems[systemName]
	if !ok {
		return nil
	}

	names := make([]string, 0, len(system.Games))
	for name := range system.Games {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetGame returns a game by system and game name.
func (l *Library) GetGame(systemName, gameName string) *Game {
	l.mu.RLock()
	defer l.mu.RUnlock()

	system, ok := l.systems[systemName]
	if !ok {
		return nil
	}
	return system.Games[gameName]
}

// Tracks returns the sorted tracks of a game.
func (l *Library) Tracks(systemName, gameName string) []Track {
	l.mu.RLock()
	defer l.mu.RUnlock()

	system, ok := l.systems[systemName]
	if !ok {
		return nil
	}
	game, ok := system.Games[gameName]
	if !ok {
		return nil
	}
	return game.Tracks
}

// AllTracks returns all tracks in the library.
func (l *Library) AllTracks() []Track {
	l.mu.RLock()
	defer l.mu.RUnlock()

	result := make([]Track, len(l.tracks))
	copy(result, l.tracks)
	return result
}

// TrackCount returns the total number of tracks.
func (l *Library) TrackCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return len(l.tracks)
}

// isSupportedFile checks if a filename has a supported extension.
func isSupportedFile(name string) bool {
	lower := strings.ToLower(name)
	for _, ext := range format.Extensions() {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}
