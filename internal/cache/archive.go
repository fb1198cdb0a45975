package cache

import (
	"archive/tar"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/dgnsrekt/ttscache/internal/tts"
	"github.com/klauspost/compress/zstd"
)

// maxArchiveMember bounds a single archive member to keep a hostile
// archive from exhausting memory.
const maxArchiveMember = 256 << 20

// Export writes every committed entry to w as a zstd-compressed tar
// stream. Each artifact is followed by its sidecar, using the same
// relative paths as the store. It returns the number of entries written.
func (s *Store) Export(w io.Writer, level int) (int, error) {
	zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
	if err != nil {
		return 0, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	tw := tar.NewWriter(zw)

	count := 0
	walkErr := s.Walk(func(e *Entry) error {
		audio, err := os.ReadFile(e.Path)
		if err != nil {
			s.logger.Warn("Skipping entry without artifact", "fingerprint", e.Fingerprint.Short(), "err", err)
			return nil
		}
		sidecar, err := os.ReadFile(s.sidecarPath(e.Fingerprint))
		if err != nil {
			return fmt.Errorf("failed to read sidecar: %w", err)
		}
		if err := writeTarMember(tw, e.RelPath, audio, e.CreatedAt); err != nil {
			return err
		}
		sidecarName := path.Join(e.Fingerprint.Shard(), string(e.Fingerprint)+sidecarExt)
		if err := writeTarMember(tw, sidecarName, sidecar, e.CreatedAt); err != nil {
			return err
		}
		count++
		return nil
	})

	if err := tw.Close(); err != nil && walkErr == nil {
		walkErr = fmt.Errorf("failed to finish archive: %w", err)
	}
	if err := zw.Close(); err != nil && walkErr == nil {
		walkErr = fmt.Errorf("failed to flush compressed stream: %w", err)
	}
	return count, walkErr
}

func writeTarMember(tw *tar.Writer, name string, data []byte, modTime time.Time) error {
	hdr := &tar.Header{
		Name:     name,
		Mode:     0o644,
		Size:     int64(len(data)),
		Typeflag: tar.TypeReg,
		ModTime:  modTime,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("failed to write header for %s: %w", name, err)
	}
	if _, err := tw.Write(data); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}

// Import reads an archive produced by Export. Fingerprints that already
// have an entry are skipped; everything else goes through the same atomic
// write path as Commit. It returns the number of entries added.
func (s *Store) Import(r io.Reader) (int, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return 0, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	defer zr.Close()

	tr := tar.NewReader(zr)
	pending := map[tts.Fingerprint]string{}
	imported := 0

	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return imported, fmt.Errorf("failed to read archive: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		if hdr.Size > maxArchiveMember {
			return imported, fmt.Errorf("%w: %s is %d bytes", ErrInvalidArchiveEntry, hdr.Name, hdr.Size)
		}

		fp, ext, err := parseMemberName(hdr.Name)
		if err != nil {
			return imported, err
		}
		if _, err := os.Stat(s.sidecarPath(fp)); err == nil {
			continue
		}

		data, err := io.ReadAll(io.LimitReader(tr, maxArchiveMember))
		if err != nil {
			return imported, fmt.Errorf("failed to read %s: %w", hdr.Name, err)
		}

		if ext != strings.TrimPrefix(sidecarExt, ".") {
			format, err := tts.ParseFormat(ext)
			if err != nil {
				return imported, fmt.Errorf("%w: %s", ErrInvalidArchiveEntry, hdr.Name)
			}
			if err := writeFileAtomic(s.PathFor(fp, format), data); err != nil {
				return imported, err
			}
			pending[fp] = ext
			continue
		}

		e, err := s.decodeEntry(fp, data)
		if err != nil {
			return imported, fmt.Errorf("%s: %w", hdr.Name, err)
		}
		if pending[fp] != e.Format.Ext() {
			return imported, fmt.Errorf("%w: sidecar %s precedes its artifact", ErrInvalidArchiveEntry, hdr.Name)
		}
		encoded, err := json.MarshalIndent(e, "", "  ")
		if err != nil {
			return imported, err
		}
		if err := writeFileAtomic(s.sidecarPath(fp), encoded); err != nil {
			return imported, err
		}
		delete(pending, fp)
		imported++
	}

	for fp := range pending {
		s.logger.Warn("Archive artifact without sidecar", "fingerprint", fp.Short())
	}
	return imported, nil
}

// parseMemberName accepts "<shard>/<hex>.<ext>" only.
func parseMemberName(name string) (tts.Fingerprint, string, error) {
	dir, file := path.Split(path.Clean(name))
	base, ext, ok := strings.Cut(file, ".")
	if !ok {
		return "", "", fmt.Errorf("%w: %s", ErrInvalidArchiveEntry, name)
	}
	fp, err := tts.ParseFingerprint(base)
	if err != nil || strings.TrimSuffix(dir, "/") != fp.Shard() {
		return "", "", fmt.Errorf("%w: %s", ErrInvalidArchiveEntry, name)
	}
	return fp, ext, nil
}
