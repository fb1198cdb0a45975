package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/ttscache/internal/tts"
	"github.com/dustin/go-humanize"
)

const (
	sidecarExt = ".json"
	tempMarker = ".tmp-"

	// DefaultIndexSize is the number of entries kept in memory.
	DefaultIndexSize = 4096
)

// Options configures a Store.
type Options struct {
	// Root is the audio directory. It is created if missing.
	Root string

	// Enabled turns lookups on. A disabled store never hits and only
	// places artifacts so they can be served once.
	Enabled bool

	// IndexSize bounds the in-memory entry index; zero uses the default,
	// negative disables it.
	IndexSize int

	Logger *log.Logger
}

// Store maps fingerprints to artifacts under a sharded directory tree:
//
//	<root>/<hex[0:2]>/<hex>.<ext>   audio
//	<root>/<hex[0:2]>/<hex>.json    sidecar metadata
//
// Committed files are immutable, so reads take no locks.
type Store struct {
	root    string
	enabled bool
	index   *MemoryIndex
	logger  *log.Logger

	hits    atomic.Int64
	misses  atomic.Int64
	commits atomic.Int64
}

// NewStore opens (and creates) a store rooted at opts.Root.
func NewStore(opts Options) (*Store, error) {
	if opts.Root == "" {
		return nil, errors.New("cache root is required")
	}
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve cache root: %w", err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	size := opts.IndexSize
	if size == 0 {
		size = DefaultIndexSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	return &Store{
		root:    root,
		enabled: opts.Enabled,
		index:   NewMemoryIndex(size),
		logger:  logger.WithPrefix("cache"),
	}, nil
}

// Root returns the absolute audio directory.
func (s *Store) Root() string { return s.root }

// Enabled reports whether lookups can hit.
func (s *Store) Enabled() bool { return s.enabled }

// RelPath returns the slash-separated artifact path relative to the root.
func RelPath(fp tts.Fingerprint, format tts.Format) string {
	return path.Join(fp.Shard(), string(fp)+"."+format.Ext())
}

// PathFor returns the absolute artifact path for fp in format.
func (s *Store) PathFor(fp tts.Fingerprint, format tts.Format) string {
	return filepath.Join(s.root, filepath.FromSlash(RelPath(fp, format)))
}

func (s *Store) sidecarPath(fp tts.Fingerprint) string {
	return filepath.Join(s.root, fp.Shard(), string(fp)+sidecarExt)
}

// Lookup reports whether fp has a committed entry. It never synthesizes.
// A sidecar whose artifact is gone, or that cannot be decoded, is a miss.
func (s *Store) Lookup(fp tts.Fingerprint) (*Entry, bool, error) {
	if !s.enabled {
		s.misses.Add(1)
		return nil, false, nil
	}

	if e, ok := s.index.Get(fp); ok {
		if _, err := os.Stat(e.Path); err == nil {
			s.hits.Add(1)
			return e, true, nil
		}
		s.index.Remove(fp)
	}

	e, err := s.readSidecar(fp)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		s.misses.Add(1)
		return nil, false, nil
	case errors.Is(err, ErrCacheCorrupted):
		s.logger.Warn("Ignoring unreadable sidecar", "fingerprint", fp.Short(), "err", err)
		s.misses.Add(1)
		return nil, false, nil
	case err != nil:
		return nil, false, tts.NewError(tts.KindStorage, "lookup", "cannot read cache metadata", err)
	}

	if _, err := os.Stat(e.Path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("Sidecar without artifact", "fingerprint", fp.Short(), "path", e.Path)
			s.misses.Add(1)
			return nil, false, nil
		}
		return nil, false, tts.NewError(tts.KindStorage, "lookup", "cannot stat artifact", err)
	}

	s.index.Put(e)
	s.hits.Add(1)
	return e, true, nil
}

func (s *Store) readSidecar(fp tts.Fingerprint) (*Entry, error) {
	data, err := os.ReadFile(s.sidecarPath(fp))
	if err != nil {
		return nil, err
	}
	return s.decodeEntry(fp, data)
}

func (s *Store) decodeEntry(fp tts.Fingerprint, data []byte) (*Entry, error) {
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCacheCorrupted, err)
	}
	if e.Fingerprint != fp {
		return nil, fmt.Errorf("%w: sidecar names %q", ErrCacheCorrupted, e.Fingerprint)
	}
	if _, err := tts.ParseFormat(string(e.Format)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCacheCorrupted, err)
	}
	e.RelPath = RelPath(fp, e.Format)
	e.Path = s.PathFor(fp, e.Format)
	return &e, nil
}

// Commit stores audio for fp. The artifact and then its sidecar are each
// written to a temporary file in the destination directory, flushed and
// renamed into place, so readers see either nothing or the whole file.
// When the store is disabled only the artifact is placed.
func (s *Store) Commit(fp tts.Fingerprint, audio []byte, meta Meta) (*Entry, error) {
	if len(audio) == 0 {
		return nil, tts.NewError(tts.KindStorage, "commit", "refusing to store empty audio", nil)
	}

	e := &Entry{
		Fingerprint: fp,
		RelPath:     RelPath(fp, meta.Format),
		Format:      meta.Format,
		Size:        int64(len(audio)),
		CreatedAt:   time.Now().UTC(),
		Engine:      meta.Engine,
		Voice:       meta.Voice,
		Path:        s.PathFor(fp, meta.Format),
	}
	if meta.Duration > 0 {
		secs := meta.Duration.Seconds()
		e.Duration = &secs
	}

	if err := writeFileAtomic(e.Path, audio); err != nil {
		return nil, tts.NewError(tts.KindStorage, "commit", "cannot write artifact", err)
	}

	if !s.enabled {
		s.logger.Debug("Placed uncached artifact", "fingerprint", fp.Short(), "size", humanize.Bytes(uint64(e.Size)))
		return e, nil
	}

	sidecar, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return nil, tts.NewError(tts.KindStorage, "commit", "cannot encode metadata", err)
	}
	if err := writeFileAtomic(s.sidecarPath(fp), sidecar); err != nil {
		return nil, tts.NewError(tts.KindStorage, "commit", "cannot write metadata", err)
	}

	s.index.Put(e)
	s.commits.Add(1)
	s.logger.Debug("Committed entry",
		"fingerprint", fp.Short(),
		"format", e.Format,
		"engine", e.Engine,
		"size", humanize.Bytes(uint64(e.Size)))

	return e, nil
}

// writeFileAtomic writes data next to dst and renames it into place.
func writeFileAtomic(dst string, data []byte) error {
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create shard directory: %w", err)
	}

	f, err := os.CreateTemp(dir, "."+filepath.Base(dst)+tempMarker+"*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmp := f.Name()
	cleanup := func() { _ = os.Remove(tmp) }

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		cleanup()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		cleanup()
		return fmt.Errorf("failed to flush temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmp, 0o644); err != nil {
		cleanup()
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		cleanup()
		return fmt.Errorf("failed to rename into place: %w", err)
	}
	return nil
}

// Walk calls fn for every committed entry. Temporary files and artifacts
// without a sidecar are skipped.
func (s *Store) Walk(fn func(*Entry) error) error {
	shards, err := os.ReadDir(s.root)
	if err != nil {
		return fmt.Errorf("failed to read cache root: %w", err)
	}

	for _, shard := range shards {
		if !shard.IsDir() || len(shard.Name()) != 2 {
			continue
		}
		files, err := os.ReadDir(filepath.Join(s.root, shard.Name()))
		if err != nil {
			return fmt.Errorf("failed to read shard %s: %w", shard.Name(), err)
		}
		for _, f := range files {
			name := f.Name()
			if f.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, sidecarExt) {
				continue
			}
			fp, err := tts.ParseFingerprint(strings.TrimSuffix(name, sidecarExt))
			if err != nil || fp.Shard() != shard.Name() {
				continue
			}
			e, err := s.readSidecar(fp)
			if err != nil {
				s.logger.Warn("Skipping entry", "fingerprint", fp.Short(), "err", err)
				continue
			}
			if err := fn(e); err != nil {
				return err
			}
		}
	}
	return nil
}

// Stats returns counters plus the on-disk entry count and size.
func (s *Store) Stats() (Stats, error) {
	st := Stats{
		Root:    s.root,
		Enabled: s.enabled,
		Hits:    s.hits.Load(),
		Misses:  s.misses.Load(),
		Commits: s.commits.Load(),
		Indexed: s.index.Len(),
	}
	err := s.Walk(func(e *Entry) error {
		st.Entries++
		st.Bytes += e.Size
		return nil
	})
	return st, err
}
