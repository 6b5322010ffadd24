// Package drives orchestrates per-volume index pipelines behind one search
// surface. Every volume gets its own FileIndex, search engine and change
// monitor; queries fan out to all live pipelines and merge into a single
// ranked list. A volume that fails to scan is reported unavailable without
// disturbing the others.
package drives

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/ntfind/ntfind"
	"github.com/ntfind/ntfind/config"
	"github.com/ntfind/ntfind/index"
	"github.com/ntfind/ntfind/internal/util"
	"github.com/ntfind/ntfind/mft"
	"github.com/ntfind/ntfind/monitor"
	"github.com/ntfind/ntfind/persist"
	"github.com/ntfind/ntfind/search"
	"github.com/ntfind/ntfind/volume"
)

// changeStream is a ChangeSource the manager opens and therefore must close.
type changeStream interface {
	monitor.ChangeSource
	Close() error
}

// scanFunc produces the full entry set for a volume.
type scanFunc func(ctx context.Context, vol string, progress mft.ProgressFunc) ([]ntfind.FileEntry, *mft.Stats, error)

// Manager owns the set of indexed volumes and watched folders.
type Manager struct {
	cfg   *config.Config
	store *persist.Store // nil disables persistence

	pipes   *xsync.MapOf[string, *pipeline]
	watches *xsync.MapOf[string, *watchPipeline]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Seams for tests and non-Windows hosts.
	newSource func(vol string) (changeStream, error)
	scan      scanFunc

	log util.Logger
}

// NewManager wires a manager over cfg. store may be nil to keep everything
// in memory regardless of cfg.Persist.
func NewManager(cfg *config.Config, store *persist.Store) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:     cfg,
		store:   store,
		pipes:   xsync.NewMapOf[string, *pipeline](),
		watches: xsync.NewMapOf[string, *watchPipeline](),
		ctx:     ctx,
		cancel:  cancel,
		log:     util.GetLogger("drives"),
	}
	m.newSource = func(vol string) (changeStream, error) {
		return monitor.NewUsnSource(vol)
	}
	m.scan = m.scanVolume
	return m
}

// Discover lists the NTFS volumes present on this machine.
func (m *Manager) Discover() ([]volume.Info, error) {
	return volume.Discover()
}

// Add brings a volume under management: load its persisted index if one is
// current, otherwise scan, then start the change monitor. The volume stays
// registered on failure so Stats can report it unavailable.
func (m *Manager) Add(ctx context.Context, vol string) error {
	pipe := &pipeline{
		volume: vol,
		ix:     index.New(),
		engine: search.NewEngine(m.cfg.FilenameWeight, m.cfg.SearchLimit),
		state:  StateScanning,
	}
	if _, loaded := m.pipes.LoadOrStore(vol, pipe); loaded {
		return fmt.Errorf("volume %s is already indexed", vol)
	}

	initial, src, err := m.build(ctx, pipe)
	if err != nil {
		pipe.fail(err)
		return fmt.Errorf("volume %s: %w", vol, err)
	}
	pipe.setState(StateReady)

	if pipe.tryStartRun() {
		m.wg.Add(1)
		go m.runPipeline(pipe, initial, src)
	}
	return nil
}

// build fills the pipeline's index from the persisted pair when its
// generation check passes, else from a fresh scan. It returns the monitor's
// resume position and, for the scan path, the already-open change stream
// whose position it is. A zero bookmark means no resume position exists
// and the monitor starts at the stream end.
func (m *Manager) build(ctx context.Context, pipe *pipeline) (ntfind.Bookmark, changeStream, error) {
	if m.store != nil && m.cfg.Persist {
		entries, gen, err := m.store.LoadIndex(pipe.volume)
		switch {
		case err == nil:
			rec, berr := m.store.LoadBookmarkRecord(pipe.volume)
			if berr == nil && rec.Generation == gen && !rec.Bookmark.IsZero() {
				pipe.ix.BulkLoad(entries)
				m.log.Info().
					Str("volume", pipe.volume).
					Int("entries", len(entries)).
					Str("generation", gen).
					Msg("resumed from persisted index")
				return rec.Bookmark, nil, nil
			}
			m.log.Debug().
				Str("volume", pipe.volume).
				Msg("persisted index has no matching bookmark, scanning")
		case errors.Is(err, ntfind.ErrNotFound):
			// First run for this volume.
		default:
			m.log.Warn().
				Err(err).
				Str("volume", pipe.volume).
				Msg("persisted index unreadable, scanning")
		}
	}
	return m.rebuild(ctx, pipe)
}

// rebuild scans the volume into the pipeline's index. The change stream is
// opened and its position captured before the scan starts, so a monitor
// replaying from that position covers every change the scan raced with;
// the stream is handed back for the monitor to consume. When persistence
// is on, the scanned index and the pre-scan position are saved as a pair.
func (m *Manager) rebuild(ctx context.Context, pipe *pipeline) (ntfind.Bookmark, changeStream, error) {
	var pre ntfind.Bookmark
	src, err := m.newSource(pipe.volume)
	if err != nil {
		m.log.Warn().
			Err(err).
			Str("volume", pipe.volume).
			Msg("change stream unavailable, scanning without a resume position")
		src = nil
	} else if pre, err = src.Latest(ctx); err != nil {
		m.log.Warn().
			Err(err).
			Str("volume", pipe.volume).
			Msg("could not read the stream position before scanning")
		src.Close()
		src = nil
		pre = ntfind.Bookmark{}
	}

	if err := m.freshScan(ctx, pipe); err != nil {
		if src != nil {
			src.Close()
		}
		return ntfind.Bookmark{}, nil, err
	}

	if m.store != nil && m.cfg.Persist && !pre.IsZero() {
		if _, serr := m.store.SaveIndex(pipe.volume, pipe.ix.Snapshot(), pre); serr != nil {
			m.log.Warn().
				Err(serr).
				Str("volume", pipe.volume).
				Msg("could not persist scanned index")
		}
	}
	return pre, src, nil
}

// freshScan fills the pipeline's index from a volume scan.
func (m *Manager) freshScan(ctx context.Context, pipe *pipeline) error {
	entries, stats, err := m.scan(ctx, pipe.volume, m.progressFor(pipe))
	if err != nil {
		return err
	}
	pipe.ix.BulkLoad(entries)
	if stats != nil {
		pipe.setScanStats(*stats)
	}
	ev := m.log.Info().Str("volume", pipe.volume).Int("entries", len(entries))
	if stats != nil {
		ev = ev.Uint64("records", stats.Records).
			Uint64("skipped", stats.Skipped).
			Uint64("orphans", stats.Orphans).
			Dur("elapsed", stats.Elapsed)
	}
	ev.Msg("volume scan complete")
	return nil
}

// scanVolume is the default scan seam. Fast mode asks the kernel to stream
// the MFT; full mode reads the raw device.
func (m *Manager) scanVolume(ctx context.Context, vol string, progress mft.ProgressFunc) ([]ntfind.FileEntry, *mft.Stats, error) {
	if m.cfg.ScanMode == config.ScanModeFast {
		return mft.ScanFast(ctx, vol, progress)
	}
	r, err := volume.Open(volume.DevicePath(vol))
	if err != nil {
		return nil, nil, err
	}
	defer r.Close()
	s, err := mft.NewScanner(r, vol)
	if err != nil {
		return nil, nil, err
	}
	return s.ScanFull(ctx, progress)
}

func (m *Manager) progressFor(pipe *pipeline) mft.ProgressFunc {
	return func(done, total uint64) {
		m.log.Debug().
			Str("volume", pipe.volume).
			Uint64("done", done).
			Uint64("total", total).
			Msg("scan progress")
	}
}

// runPipeline keeps one volume's monitor alive until shutdown. A stale
// bookmark triggers a rescan of this volume only; queries keep fanning out
// to the others, and to this volume's outgoing index while it rebuilds.
func (m *Manager) runPipeline(pipe *pipeline, initial ntfind.Bookmark, src changeStream) {
	defer m.wg.Done()
	defer pipe.endRun()
	for {
		err := m.monitorOnce(pipe, initial, src)
		src = nil
		if err == nil || m.ctx.Err() != nil {
			return
		}
		if errors.Is(err, ntfind.ErrStaleBookmark) {
			m.log.Info().
				Str("volume", pipe.volume).
				Msg("change journal truncated, rescanning volume")
			pipe.setState(StateRescanning)
			pre, fresh, rerr := m.rebuild(m.ctx, pipe)
			if rerr != nil {
				pipe.fail(rerr)
				m.log.Error().
					Err(rerr).
					Str("volume", pipe.volume).
					Msg("rescan after journal truncation failed")
				return
			}
			pipe.setState(StateReady)
			initial, src = pre, fresh
			continue
		}
		// The index stays searchable; it just stops tracking changes.
		pipe.setErr(err)
		m.log.Error().
			Err(err).
			Str("volume", pipe.volume).
			Msg("live updates stopped")
		return
	}
}

// monitorOnce runs the monitor until it returns, over the handed stream or
// one it opens itself. With no resume position it starts at the stream's
// end. The position the monitor stopped at is kept on the pipeline so a
// save after shutdown still pairs the index with it.
func (m *Manager) monitorOnce(pipe *pipeline, initial ntfind.Bookmark, src changeStream) error {
	if src == nil {
		var err error
		src, err = m.newSource(pipe.volume)
		if err != nil {
			return fmt.Errorf("open change stream: %w", err)
		}
	}
	defer src.Close()

	if initial.IsZero() {
		var err error
		initial, err = src.Latest(m.ctx)
		if err != nil {
			return fmt.Errorf("query stream position: %w", err)
		}
	}

	var bs monitor.BookmarkStore
	if m.store != nil && m.cfg.Persist {
		bs = m.store
	}
	mon := monitor.New(monitor.Config{
		Volume:       pipe.volume,
		Source:       src,
		Index:        pipe.ix,
		Bookmarks:    bs,
		PollInterval: m.cfg.PollInterval,
		BatchSize:    m.cfg.BatchSize,
		Initial:      initial,
	})
	pipe.setMonitor(mon)
	defer func() {
		pipe.setLastBookmark(mon.Bookmark())
		pipe.setMonitor(nil)
	}()
	return mon.Run(m.ctx)
}

// Rescan rebuilds one volume's index in place. The running monitor keeps
// applying changes; applying them over the rescanned entries is idempotent.
func (m *Manager) Rescan(ctx context.Context, vol string) error {
	pipe, ok := m.pipes.Load(vol)
	if !ok {
		return fmt.Errorf("volume %s: %w", vol, ntfind.ErrNotFound)
	}
	pipe.mu.Lock()
	switch pipe.state {
	case StateScanning, StateRescanning:
		pipe.mu.Unlock()
		return fmt.Errorf("volume %s is already scanning", vol)
	default:
		pipe.state = StateRescanning
	}
	pipe.mu.Unlock()

	pre, src, err := m.rebuild(ctx, pipe)
	if err != nil {
		pipe.fail(err)
		return fmt.Errorf("volume %s: %w", vol, err)
	}
	pipe.setState(StateReady)
	pipe.setErr(nil)

	// A pipeline that lost its monitor, or never had one, gets a new run.
	// One that is still monitoring keeps its stream; the running monitor's
	// position is ahead of pre already.
	if pipe.tryStartRun() {
		m.wg.Add(1)
		go m.runPipeline(pipe, pre, src)
	} else if src != nil {
		src.Close()
	}
	return nil
}

// Search fans the query out to every searchable pipeline and merges the
// per-volume rankings into one list of at most limit results. limit <= 0
// uses the configured default.
func (m *Manager) Search(ctx context.Context, text string, preds []ntfind.Predicate, limit int) (*search.Response, error) {
	if limit <= 0 {
		limit = m.cfg.SearchLimit
	}
	start := time.Now()

	type target struct {
		engine *search.Engine
		ix     *index.FileIndex
	}
	var targets []target
	m.pipes.Range(func(_ string, pipe *pipeline) bool {
		if pipe.searchable() {
			targets = append(targets, target{pipe.engine, pipe.ix})
		}
		return true
	})
	m.watches.Range(func(_ string, w *watchPipeline) bool {
		targets = append(targets, target{w.engine, w.ix})
		return true
	})

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		lists    [][]search.Result
		total    int
		firstErr error
	)
	for _, tgt := range targets {
		wg.Add(1)
		go func(tgt target) {
			defer wg.Done()
			resp, err := tgt.engine.Query(ctx, tgt.ix.Snapshot(), text, preds, limit)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				return
			}
			lists = append(lists, resp.Results)
			total += resp.TotalMatches
		}(tgt)
	}
	wg.Wait()
	if firstErr != nil {
		return nil, firstErr
	}
	return &search.Response{
		Results:      search.Merge(limit, lists...),
		TotalMatches: total,
		Elapsed:      time.Since(start),
	}, nil
}

// Save persists one volume's index paired with its monitor's position. The
// monitor pauses for the duration so the pair stays consistent. After the
// monitor has exited the index is frozen, and the position it stopped at
// still pairs with it.
func (m *Manager) Save(vol string) error {
	if m.store == nil {
		return errors.New("persistence is disabled")
	}
	pipe, ok := m.pipes.Load(vol)
	if !ok {
		return fmt.Errorf("volume %s: %w", vol, ntfind.ErrNotFound)
	}
	if s := pipe.getState(); s != StateReady {
		return fmt.Errorf("volume %s is %s", vol, s)
	}

	var bm ntfind.Bookmark
	if mon := pipe.monitor(); mon != nil {
		mon.Pause()
		defer mon.Resume()
		bm = mon.Bookmark()
	} else {
		bm = pipe.lastBookmark()
	}
	snap := pipe.ix.Snapshot()
	gen, err := m.store.SaveIndex(vol, snap, bm)
	if err != nil {
		return fmt.Errorf("volume %s: %w", vol, err)
	}
	m.log.Info().
		Str("volume", vol).
		Str("generation", gen).
		Int("entries", snap.Len()).
		Msg("index saved")
	return nil
}

// SaveAll persists every ready volume, collecting per-volume failures.
func (m *Manager) SaveAll() error {
	if m.store == nil {
		return errors.New("persistence is disabled")
	}
	var errs []error
	m.pipes.Range(func(vol string, pipe *pipeline) bool {
		if pipe.getState() != StateReady {
			return true
		}
		if err := m.Save(vol); err != nil {
			errs = append(errs, err)
		}
		return true
	})
	return errors.Join(errs...)
}

// PipelineStats is one row of Stats.
type PipelineStats struct {
	Name      string
	Kind      string // "volume" or "watch"
	State     State
	Files     int
	Dirs      int
	Scan      mft.Stats
	Search    search.MetricsSnapshot
	LastError string
}

// Stats reports every pipeline, volumes first, sorted by name.
func (m *Manager) Stats() []PipelineStats {
	var out []PipelineStats
	m.pipes.Range(func(vol string, pipe *pipeline) bool {
		files, dirs := pipe.ix.Counts()
		row := PipelineStats{
			Name:   vol,
			Kind:   "volume",
			State:  pipe.getState(),
			Files:  files,
			Dirs:   dirs,
			Scan:   pipe.scanStats(),
			Search: pipe.engine.Metrics(),
		}
		if err := pipe.lastError(); err != nil {
			row.LastError = err.Error()
		}
		out = append(out, row)
		return true
	})
	m.watches.Range(func(root string, w *watchPipeline) bool {
		files, dirs := w.ix.Counts()
		row := PipelineStats{
			Name:   root,
			Kind:   "watch",
			State:  StateReady,
			Files:  files,
			Dirs:   dirs,
			Search: w.engine.Metrics(),
		}
		if err := w.lastError(); err != nil {
			row.LastError = err.Error()
		}
		out = append(out, row)
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind == "volume"
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Close stops all monitors and watchers and waits for them to exit.
func (m *Manager) Close() {
	m.cancel()
	m.wg.Wait()
}
