// Package index holds the in-memory file store shared between the scan,
// monitor and search sides.
package index

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ntfind/ntfind"
	"github.com/ntfind/ntfind/internal/util"
)

// FileIndex maps file ids to entries, with a path key alongside for change
// streams that identify files by path.
//
// Mutations take a write lock for a short critical section. Searches never
// touch the lock at all: they run against an immutable Snapshot that is
// rebuilt lazily when the store has changed since the last one. A burst of
// updates therefore never waits on a long search pass, and a search never
// observes a half-applied mutation.
type FileIndex struct {
	mu      sync.RWMutex
	entries map[ntfind.FileID]*ntfind.FileEntry
	byPath  map[string]ntfind.FileID
	files   int
	dirs    int

	dirty  atomic.Bool
	snap   atomic.Pointer[Snapshot]
	snapMu sync.Mutex

	log util.Logger
}

// New returns an empty index.
func New() *FileIndex {
	return &FileIndex{
		entries: make(map[ntfind.FileID]*ntfind.FileEntry),
		byPath:  make(map[string]ntfind.FileID),
		log:     util.GetLogger("index"),
	}
}

// MetadataUpdate is a partial entry update. Nil fields are left untouched,
// so a truncation to zero bytes and "size unknown" stay distinguishable.
type MetadataUpdate struct {
	Size     *uint64
	Created  *time.Time
	Modified *time.Time
	Accessed *time.Time
}

// BulkLoad replaces the whole store with the given entries. One lock
// acquisition covers the load, there is no per-entry overhead; used on
// cold start and after rescans.
func (ix *FileIndex) BulkLoad(entries []ntfind.FileEntry) {
	m := make(map[ntfind.FileID]*ntfind.FileEntry, len(entries))
	byPath := make(map[string]ntfind.FileID, len(entries))
	files, dirs := 0, 0
	for i := range entries {
		e := entries[i]
		if prev, ok := m[e.ID]; ok {
			// Duplicate id in the input; last one wins.
			delete(byPath, prev.Path)
			if prev.IsDir {
				dirs--
			} else {
				files--
			}
		}
		m[e.ID] = &e
		byPath[e.Path] = e.ID
		if e.IsDir {
			dirs++
		} else {
			files++
		}
	}

	ix.mu.Lock()
	ix.entries = m
	ix.byPath = byPath
	ix.files = files
	ix.dirs = dirs
	ix.mu.Unlock()
	ix.dirty.Store(true)
	ix.log.Debug().Int("files", files).Int("dirs", dirs).Msg("index loaded")
}

// Insert adds or replaces one entry. Inserting an entry identical to the
// stored one is a no-op, so replayed change batches converge instead of
// churning. Returns whether the store changed.
func (ix *FileIndex) Insert(e ntfind.FileEntry) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if prev, ok := ix.entries[e.ID]; ok {
		if prev.Equal(&e) {
			return false
		}
		ix.detachLocked(prev)
	}
	stored := e
	ix.entries[e.ID] = &stored
	ix.byPath[e.Path] = e.ID
	if e.IsDir {
		ix.dirs++
	} else {
		ix.files++
	}
	ix.dirty.Store(true)
	return true
}

// RemoveByID drops an entry if present. Removing a directory does not
// cascade to its children; they stay until their own events or the next
// rescan correct them.
func (ix *FileIndex) RemoveByID(id ntfind.FileID) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	e, ok := ix.entries[id]
	if !ok {
		return false
	}
	ix.detachLocked(e)
	delete(ix.entries, id)
	ix.dirty.Store(true)
	return true
}

// RemoveTree drops the entry at path and every entry beneath it. Change
// streams keyed by path report a removed directory as one event with no
// per-child notifications, so the subtree has to go in one sweep. Returns
// the number of entries removed.
func (ix *FileIndex) RemoveTree(path string) int {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	n := 0
	for p, id := range ix.byPath {
		if p != path && !strings.HasPrefix(p, path+`\`) && !strings.HasPrefix(p, path+`/`) {
			continue
		}
		if e, ok := ix.entries[id]; ok {
			if e.IsDir {
				ix.dirs--
			} else {
				ix.files--
			}
			delete(ix.entries, id)
		}
		delete(ix.byPath, p)
		n++
	}
	if n > 0 {
		ix.dirty.Store(true)
	}
	return n
}

// RemoveByPath drops the entry stored under a path, for change streams
// that do not carry file ids.
func (ix *FileIndex) RemoveByPath(path string) bool {
	ix.mu.Lock()
	id, ok := ix.byPath[path]
	ix.mu.Unlock()
	if !ok {
		return false
	}
	return ix.RemoveByID(id)
}

// UpdatePath moves an entry to a new path, keeping its identity and
// metadata. The name is rederived from the path's last segment.
func (ix *FileIndex) UpdatePath(id ntfind.FileID, newPath string) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	e, ok := ix.entries[id]
	if !ok {
		return false
	}
	if e.Path == newPath {
		return true
	}
	if cur, ok := ix.byPath[e.Path]; ok && cur == id {
		delete(ix.byPath, e.Path)
	}
	e.Path = newPath
	e.Name = util.LastSegment(newPath)
	ix.byPath[newPath] = id
	ix.dirty.Store(true)
	return true
}

// UpdateMetadata applies a partial update to an entry's size and
// timestamps.
func (ix *FileIndex) UpdateMetadata(id ntfind.FileID, upd MetadataUpdate) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	e, ok := ix.entries[id]
	if !ok {
		return false
	}
	ix.applyMetadataLocked(e, upd)
	return true
}

// UpdateMetadataByPath is UpdateMetadata keyed by path.
func (ix *FileIndex) UpdateMetadataByPath(path string, upd MetadataUpdate) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	id, ok := ix.byPath[path]
	if !ok {
		return false
	}
	e, ok := ix.entries[id]
	if !ok {
		return false
	}
	ix.applyMetadataLocked(e, upd)
	return true
}

// IDByPath resolves a path to the id stored under it.
func (ix *FileIndex) IDByPath(path string) (ntfind.FileID, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	id, ok := ix.byPath[path]
	return id, ok
}

// Get returns a copy of the entry for id.
func (ix *FileIndex) Get(id ntfind.FileID) (ntfind.FileEntry, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	e, ok := ix.entries[id]
	if !ok {
		return ntfind.FileEntry{}, false
	}
	return *e, true
}

// Len returns the number of stored entries.
func (ix *FileIndex) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.entries)
}

// Counts returns the file and directory totals.
func (ix *FileIndex) Counts() (files, dirs int) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.files, ix.dirs
}

func (ix *FileIndex) detachLocked(e *ntfind.FileEntry) {
	if cur, ok := ix.byPath[e.Path]; ok && cur == e.ID {
		delete(ix.byPath, e.Path)
	}
	if e.IsDir {
		ix.dirs--
	} else {
		ix.files--
	}
}

func (ix *FileIndex) applyMetadataLocked(e *ntfind.FileEntry, upd MetadataUpdate) {
	if upd.Size != nil {
		e.Size = *upd.Size
	}
	if upd.Created != nil {
		e.Created = *upd.Created
	}
	if upd.Modified != nil {
		e.Modified = *upd.Modified
	}
	if upd.Accessed != nil {
		e.Accessed = *upd.Accessed
	}
	ix.dirty.Store(true)
}
