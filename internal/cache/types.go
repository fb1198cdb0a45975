package cache

import (
	"errors"
	"time"

	"github.com/dgnsrekt/ttscache/internal/tts"
)

// Common errors for cache operations
var (
	// ErrCacheCorrupted is returned when a sidecar cannot be decoded.
	ErrCacheCorrupted = errors.New("cache metadata corrupted")

	// ErrInvalidArchiveEntry is returned when an archive member does not
	// follow the sharded layout.
	ErrInvalidArchiveEntry = errors.New("invalid archive entry")
)

// Entry describes one committed artifact. It is written once as a JSON
// sidecar next to the audio file and never updated.
type Entry struct {
	Fingerprint tts.Fingerprint `json:"fingerprint"`
	RelPath     string          `json:"path"` // slash-separated, relative to the root
	Format      tts.Format      `json:"format"`
	Duration    *float64        `json:"duration,omitempty"` // seconds
	Size        int64           `json:"size"`
	CreatedAt   time.Time       `json:"created_at"`
	Engine      string          `json:"engine"` // provenance, may differ from the requested engine
	Voice       string          `json:"voice"`

	// Path is the absolute artifact path under the current root.
	Path string `json:"-"`
}

// DurationSeconds returns the duration or zero when it is unknown.
func (e *Entry) DurationSeconds() float64 {
	if e.Duration == nil {
		return 0
	}
	return *e.Duration
}

// Meta is the provenance recorded by Commit.
type Meta struct {
	Format   tts.Format
	Duration time.Duration // zero when unknown
	Engine   string
	Voice    string
}

// Stats holds store counters. Hits, Misses and Commits are counted since
// the process started; Entries and Bytes are read from disk.
type Stats struct {
	Root    string `json:"root"`
	Enabled bool   `json:"enabled"`
	Entries int64  `json:"entries"`
	Bytes   int64  `json:"bytes"`
	Hits    int64  `json:"hits"`
	Misses  int64  `json:"misses"`
	Commits int64  `json:"commits"`
	Indexed int    `json:"indexed"`
}

// HitRate returns hits / (hits + misses).
func (s Stats) HitRate() float64 {
	if s.Hits+s.Misses == 0 {
		return 0
	}
	return float64(s.Hits) / float64(s.Hits+s.Misses)
}
