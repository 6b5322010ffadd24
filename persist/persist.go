// Package persist stores index snapshots and change-journal bookmarks in
// the data directory so restarts resume from the journal instead of
// rescanning.
//
// A saved snapshot and its bookmark share a generation id. A bookmark
// whose generation does not match the loaded snapshot belongs to some
// other build of the index and must not be resumed from.
package persist

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ntfind/ntfind"
	"github.com/ntfind/ntfind/index"
	"github.com/ntfind/ntfind/internal/util"
)

// Index files open with a plain 8-byte header so version checks never
// depend on the compressed payload decoding.
var indexMagic = [4]byte{'N', 'T', 'F', 'I'}

const indexVersion = 1

// Store reads and writes per-volume snapshot and bookmark files under one
// directory. All writes go through a temp file and rename, so a reader
// never observes a half-written file; torn writes surface as parse
// failures on the next load.
type Store struct {
	dir string
	log util.Logger
}

// NewStore opens (and creates if needed) the data directory.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data dir %s: %w", dir, err)
	}
	return &Store{
		dir: dir,
		log: util.GetLogger("persist").With().Str("dir", dir).Logger(),
	}, nil
}

// Dir returns the store's data directory.
func (s *Store) Dir() string { return s.dir }

// BookmarkRecord is the bookmark sidecar contents.
type BookmarkRecord struct {
	Generation string          `json:"generation"`
	Bookmark   ntfind.Bookmark `json:"bookmark"`
	SavedAt    time.Time       `json:"saved_at"`
}

// SaveIndex writes the snapshot and its bookmark under a fresh generation
// and returns that generation.
func (s *Store) SaveIndex(volume string, snap *index.Snapshot, bm ntfind.Bookmark) (string, error) {
	gen := uuid.New()
	if err := s.writeIndexFile(volume, snap, gen); err != nil {
		return "", err
	}
	rec := BookmarkRecord{Generation: gen.String(), Bookmark: bm, SavedAt: time.Now().UTC()}
	if err := s.writeBookmarkFile(volume, rec); err != nil {
		return "", err
	}
	s.log.Info().
		Str("volume", volume).
		Str("generation", gen.String()).
		Int("entries", snap.Len()).
		Msg("index saved")
	return gen.String(), nil
}

// LoadIndex reads a saved snapshot back as an entry list plus the
// generation it was saved under. Missing files map to ErrNotFound and
// malformed ones to ErrParse; both mean the caller scans instead.
func (s *Store) LoadIndex(volume string) ([]ntfind.FileEntry, string, error) {
	f, err := os.Open(s.indexPath(volume))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", fmt.Errorf("index for %s: %w", volume, ntfind.ErrNotFound)
		}
		return nil, "", fmt.Errorf("opening index for %s: %w", volume, err)
	}
	defer f.Close()

	entries, gen, err := readIndexStream(f)
	if err != nil {
		return nil, "", fmt.Errorf("index for %s: %w", volume, err)
	}
	return entries, gen, nil
}

// SaveBookmark implements the monitor's bookmark store. A bookmark saved
// on its own carries no generation: the live index has moved past the
// snapshot on disk, so that pair must not be resumed from anymore. The
// next SaveIndex writes a matched pair again.
func (s *Store) SaveBookmark(volume string, b ntfind.Bookmark) error {
	return s.writeBookmarkFile(volume, BookmarkRecord{
		Bookmark: b,
		SavedAt:  time.Now().UTC(),
	})
}

// LoadBookmark implements the monitor's bookmark store.
func (s *Store) LoadBookmark(volume string) (ntfind.Bookmark, error) {
	rec, err := s.LoadBookmarkRecord(volume)
	if err != nil {
		return ntfind.Bookmark{}, err
	}
	return rec.Bookmark, nil
}

// LoadBookmarkRecord reads the full sidecar, generation included.
func (s *Store) LoadBookmarkRecord(volume string) (BookmarkRecord, error) {
	data, err := os.ReadFile(s.bookmarkPath(volume))
	if err != nil {
		if os.IsNotExist(err) {
			return BookmarkRecord{}, fmt.Errorf("bookmark for %s: %w", volume, ntfind.ErrNotFound)
		}
		return BookmarkRecord{}, fmt.Errorf("reading bookmark for %s: %w", volume, err)
	}
	var rec BookmarkRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return BookmarkRecord{}, fmt.Errorf("bookmark for %s: %w: %v", volume, ntfind.ErrParse, err)
	}
	return rec, nil
}

func (s *Store) indexPath(volume string) string {
	return filepath.Join(s.dir, "index_"+volumeKey(volume)+".idx")
}

func (s *Store) bookmarkPath(volume string) string {
	return filepath.Join(s.dir, "bookmark_"+volumeKey(volume)+".json")
}

// volumeKey turns a volume name into a filename-safe key: "C:" becomes
// "C", anything outside [A-Za-z0-9_-] becomes "_".
func volumeKey(volume string) string {
	volume = strings.TrimSuffix(volume, ":")
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, volume)
}

func (s *Store) writeBookmarkFile(volume string, rec BookmarkRecord) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding bookmark for %s: %w", volume, err)
	}
	return s.atomicWrite(s.bookmarkPath(volume), func(w io.Writer) error {
		_, werr := w.Write(data)
		return werr
	})
}

func (s *Store) writeIndexFile(volume string, snap *index.Snapshot, gen uuid.UUID) error {
	return s.atomicWrite(s.indexPath(volume), func(w io.Writer) error {
		return writeIndexStream(w, snap, gen)
	})
}

// atomicWrite writes into a temp file in the same directory and renames
// it over the target.
func (s *Store) atomicWrite(path string, fill func(io.Writer) error) error {
	tmp, err := os.CreateTemp(s.dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := fill(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replacing %s: %w", filepath.Base(path), err)
	}
	return nil
}
