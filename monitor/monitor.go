// Package monitor keeps a FileIndex current by applying live change
// streams: the NTFS change journal for whole volumes, a directory watch
// for folders outside MFT coverage.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ntfind/ntfind"
	"github.com/ntfind/ntfind/config"
	"github.com/ntfind/ntfind/index"
	"github.com/ntfind/ntfind/internal/util"
)

// ChangeSource yields ordered change batches for one volume, resumable
// from a Bookmark.
type ChangeSource interface {
	// Latest returns a bookmark at the stream's current end, for starting
	// fresh after a full scan.
	Latest(ctx context.Context) (ntfind.Bookmark, error)
	// ReadBatch returns events after `from` and the bookmark to resume
	// from next. An empty batch with an unchanged bookmark means the
	// stream is drained. Returns ErrStaleBookmark when `from` can no
	// longer be replayed.
	ReadBatch(ctx context.Context, from ntfind.Bookmark, max int) ([]ntfind.ChangeEvent, ntfind.Bookmark, error)
}

// BookmarkStore persists resume positions between runs.
type BookmarkStore interface {
	SaveBookmark(volume string, b ntfind.Bookmark) error
	LoadBookmark(volume string) (ntfind.Bookmark, error)
}

// Config wires one Monitor.
type Config struct {
	// Volume is the mount label, e.g. "C:". It doubles as the path root
	// for entries whose parent is unknown.
	Volume string
	Source ChangeSource
	Index  *index.FileIndex
	// Bookmarks may be nil; resume positions are then kept only in memory.
	Bookmarks    BookmarkStore
	PollInterval time.Duration
	BatchSize    int

	// Initial, when set, is the resume position to start from. Zero means
	// load the stored bookmark, or start at the stream's end if none.
	Initial ntfind.Bookmark
}

// Monitor applies one volume's change stream to its index.
//
// Delivery is at-least-once: after a crash between applying a batch and
// saving its bookmark, the batch replays, and every mutation it carries
// is idempotent on the index.
type Monitor struct {
	vol   string
	src   ChangeSource
	ix    *index.FileIndex
	store BookmarkStore
	poll  time.Duration
	batch int

	// pauseMu gates the poll loop; Pause holds it so the next cycle
	// blocks until Resume.
	pauseMu sync.Mutex
	pending map[ntfind.FileID]struct{}
	applied atomic.Uint64

	initial ntfind.Bookmark
	bmMu    sync.Mutex
	bm      ntfind.Bookmark

	log util.Logger
}

// New builds a monitor. Zero PollInterval and BatchSize take the
// configured defaults.
func New(cfg Config) *Monitor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = config.DefaultPollInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = config.DefaultBatchSize
	}
	return &Monitor{
		vol:     cfg.Volume,
		src:     cfg.Source,
		ix:      cfg.Index,
		store:   cfg.Bookmarks,
		poll:    cfg.PollInterval,
		batch:   cfg.BatchSize,
		initial: cfg.Initial,
		pending: make(map[ntfind.FileID]struct{}),
		log:     util.GetLogger("monitor").With().Str("volume", cfg.Volume).Logger(),
	}
}

// Applied returns the number of change events applied so far.
func (m *Monitor) Applied() uint64 { return m.applied.Load() }

// Bookmark returns the stream position every applied event is at or
// before. Pausing the monitor makes it exact for the paused span.
func (m *Monitor) Bookmark() ntfind.Bookmark {
	m.bmMu.Lock()
	defer m.bmMu.Unlock()
	return m.bm
}

func (m *Monitor) setBookmark(b ntfind.Bookmark) {
	m.bmMu.Lock()
	m.bm = b
	m.bmMu.Unlock()
}

// Pause blocks the poll loop after its current cycle, for operations that
// need the index quiescent, like saving it.
func (m *Monitor) Pause() { m.pauseMu.Lock() }

// Resume releases a Pause.
func (m *Monitor) Resume() { m.pauseMu.Unlock() }

// Run polls the change stream until ctx is done, applying each batch and
// persisting the bookmark afterwards. Returns nil on shutdown, or
// ErrStaleBookmark when the journal no longer reaches back to the resume
// position and the volume needs a full rescan.
func (m *Monitor) Run(ctx context.Context) error {
	bm, err := m.initialBookmark(ctx)
	if err != nil {
		return fmt.Errorf("volume %s: %w", m.vol, err)
	}
	m.setBookmark(bm)
	m.log.Info().Int64("usn", bm.USN).Msg("monitoring changes")

	ticker := time.NewTicker(m.poll)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return nil
		}
		m.pauseMu.Lock()
		m.pauseMu.Unlock()

		events, next, err := m.src.ReadBatch(ctx, bm, m.batch)
		switch {
		case errors.Is(err, ntfind.ErrStaleBookmark):
			return fmt.Errorf("volume %s: %w", m.vol, err)
		case err != nil:
			if ctx.Err() != nil {
				return nil
			}
			// One bad cycle must not kill the monitor or touch the bookmark.
			m.log.Warn().Err(err).Msg("change batch failed, skipping cycle")
		default:
			for _, ev := range events {
				m.apply(ev)
			}
			if next != bm {
				m.saveBookmark(next)
				bm = next
				m.setBookmark(bm)
			}
			if len(events) > 0 {
				// Backlog; read again without sleeping.
				continue
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (m *Monitor) initialBookmark(ctx context.Context) (ntfind.Bookmark, error) {
	if !m.initial.IsZero() {
		return m.initial, nil
	}
	if m.store != nil {
		bm, err := m.store.LoadBookmark(m.vol)
		if err == nil && !bm.IsZero() {
			m.log.Debug().Int64("usn", bm.USN).Msg("resuming from saved bookmark")
			return bm, nil
		}
		if err != nil && !errors.Is(err, ntfind.ErrNotFound) {
			m.log.Warn().Err(err).Msg("bookmark load failed, starting from now")
		}
	}
	return m.src.Latest(ctx)
}

func (m *Monitor) saveBookmark(b ntfind.Bookmark) {
	if m.store == nil {
		return
	}
	if err := m.store.SaveBookmark(m.vol, b); err != nil {
		// Losing a save only widens the replay window.
		m.log.Warn().Err(err).Msg("bookmark save failed")
	}
}

func (m *Monitor) apply(ev ntfind.ChangeEvent) {
	m.applied.Add(1)
	switch ev.Kind {
	case ntfind.ChangeCreate:
		m.ix.Insert(m.entryFor(ev))

	case ntfind.ChangeRemove:
		delete(m.pending, ev.ID)
		m.ix.RemoveByID(ev.ID)

	case ntfind.ChangeRenameFrom:
		// The old-name half carries no destination; hold until the pair
		// completes so the entry is moved, never dropped and recreated.
		m.pending[ev.ID] = struct{}{}

	case ntfind.ChangeRenameTo:
		delete(m.pending, ev.ID)
		if _, ok := m.ix.Get(ev.ID); ok {
			m.ix.UpdatePath(ev.ID, m.composePath(ev))
		} else {
			// Rename of a file this index has never seen: the new path is
			// the first sighting, so it enters as a create.
			m.ix.Insert(m.entryFor(ev))
		}

	case ntfind.ChangeModify:
		if _, ok := m.ix.Get(ev.ID); ok {
			ts := ev.Timestamp
			m.ix.UpdateMetadata(ev.ID, index.MetadataUpdate{Modified: &ts})
		} else {
			m.log.Debug().Uint64("id", uint64(ev.ID)).Str("name", ev.Name).
				Msg("modify for unindexed file dropped")
		}
	}
}

func (m *Monitor) entryFor(ev ntfind.ChangeEvent) ntfind.FileEntry {
	e := ntfind.FileEntry{
		ID:       ev.ID,
		ParentID: ev.ParentID,
		Name:     ev.Name,
		Path:     m.composePath(ev),
		IsDir:    ev.IsDir,
	}
	if ev.Kind == ntfind.ChangeCreate {
		e.Created = ev.Timestamp
	}
	return e
}

// composePath builds the full path from the indexed parent directory.
// Parents outside the index (system directories, not-yet-seen creates)
// fall back to the orphan root until a rescan restores the real location.
func (m *Monitor) composePath(ev ntfind.ChangeEvent) string {
	if ev.Path != "" {
		return ev.Path
	}
	if parent, ok := m.ix.Get(ev.ParentID); ok && parent.IsDir {
		return parent.Path + ntfind.PathSeparator + ev.Name
	}
	return m.vol + ntfind.PathSeparator + ntfind.OrphanSegment + ntfind.PathSeparator + ev.Name
}
