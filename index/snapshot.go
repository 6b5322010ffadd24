package index

import "github.com/ntfind/ntfind"

// Snapshot is an immutable point-in-time view of the index. Entries are
// copies; holders may read them for any duration without coordination.
type Snapshot struct {
	entries []ntfind.FileEntry
	files   int
	dirs    int
}

// Entries returns the snapshot's entry slice, shared by every holder.
// Callers must not modify it.
func (s *Snapshot) Entries() []ntfind.FileEntry { return s.entries }

// Len returns the number of entries in the view.
func (s *Snapshot) Len() int { return len(s.entries) }

// Files returns the file count at snapshot time.
func (s *Snapshot) Files() int { return s.files }

// Dirs returns the directory count at snapshot time.
func (s *Snapshot) Dirs() int { return s.dirs }

// Snapshot returns the current immutable view. The cached view is served
// until a mutation invalidates it; the rebuild happens on the next call,
// under a read lock, so writers are delayed by at most one entry copy.
func (ix *FileIndex) Snapshot() *Snapshot {
	if !ix.dirty.Load() {
		if s := ix.snap.Load(); s != nil {
			return s
		}
	}

	// One rebuilder at a time; losers of the race reuse its result.
	ix.snapMu.Lock()
	defer ix.snapMu.Unlock()
	if !ix.dirty.Load() {
		if s := ix.snap.Load(); s != nil {
			return s
		}
	}

	// Clear before copying: a mutation that lands mid-build re-marks the
	// store dirty and the next call rebuilds again.
	ix.dirty.Store(false)

	ix.mu.RLock()
	s := &Snapshot{
		entries: make([]ntfind.FileEntry, 0, len(ix.entries)),
		files:   ix.files,
		dirs:    ix.dirs,
	}
	for _, e := range ix.entries {
		s.entries = append(s.entries, *e)
	}
	ix.mu.RUnlock()

	ix.snap.Store(s)
	return s
}
