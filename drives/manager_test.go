package drives

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ntfind/ntfind"
	"github.com/ntfind/ntfind/config"
	"github.com/ntfind/ntfind/index"
	"github.com/ntfind/ntfind/mft"
	"github.com/ntfind/ntfind/persist"
)

func testConfig() *config.Config {
	return &config.Config{
		ScanMode:       config.ScanModeFull,
		Persist:        false,
		PollInterval:   5 * time.Millisecond,
		BatchSize:      16,
		SearchLimit:    10,
		FilenameWeight: config.DefaultFilenameWeight,
	}
}

// fakeStream is an idle change stream unless read is set. It records the
// position of the first ReadBatch so tests can check where a monitor
// resumed.
type fakeStream struct {
	latest ntfind.Bookmark
	read   func(from ntfind.Bookmark, max int) ([]ntfind.ChangeEvent, ntfind.Bookmark, error)

	mu        sync.Mutex
	firstFrom *ntfind.Bookmark
}

func (f *fakeStream) Latest(_ context.Context) (ntfind.Bookmark, error) {
	return f.latest, nil
}

func (f *fakeStream) ReadBatch(_ context.Context, from ntfind.Bookmark, max int) ([]ntfind.ChangeEvent, ntfind.Bookmark, error) {
	f.mu.Lock()
	if f.firstFrom == nil {
		b := from
		f.firstFrom = &b
	}
	read := f.read
	f.mu.Unlock()
	if read != nil {
		return read(from, max)
	}
	return nil, from, nil
}

func (f *fakeStream) Close() error { return nil }

func (f *fakeStream) firstReadFrom() (ntfind.Bookmark, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.firstFrom == nil {
		return ntfind.Bookmark{}, false
	}
	return *f.firstFrom, true
}

func idleSources(latest ntfind.Bookmark) func(string) (changeStream, error) {
	return func(string) (changeStream, error) {
		return &fakeStream{latest: latest}, nil
	}
}

func volEntries(vol string, names ...string) []ntfind.FileEntry {
	out := make([]ntfind.FileEntry, 0, len(names))
	for i, name := range names {
		out = append(out, ntfind.FileEntry{
			ID:       ntfind.NewFileID(uint64(i)+50, 1),
			ParentID: ntfind.NewFileID(5, 5),
			Name:     name,
			Path:     vol + `\` + name,
			Size:     100,
		})
	}
	return out
}

func TestManager_AddScansAndServes(t *testing.T) {
	m := NewManager(testConfig(), nil)
	defer m.Close()

	var scans atomic.Int32
	m.scan = func(_ context.Context, vol string, _ mft.ProgressFunc) ([]ntfind.FileEntry, *mft.Stats, error) {
		scans.Add(1)
		return volEntries(vol, "quarterly_report.pdf", "notes.txt"), &mft.Stats{Records: 2, Indexed: 2}, nil
	}
	m.newSource = idleSources(ntfind.Bookmark{JournalID: 1, USN: 10})

	require.NoError(t, m.Add(context.Background(), "C:"))
	assert.EqualValues(t, 1, scans.Load())

	resp, err := m.Search(context.Background(), "quarterly", nil, 0)
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, `C:\quarterly_report.pdf`, resp.Results[0].Entry.Path)

	st := m.Stats()
	require.Len(t, st, 1)
	assert.Equal(t, "C:", st[0].Name)
	assert.Equal(t, "volume", st[0].Kind)
	assert.Equal(t, StateReady, st[0].State)
	assert.Equal(t, 2, st[0].Files)
	assert.EqualValues(t, 2, st[0].Scan.Records)
}

func TestManager_MonitorReusesPreScanStream(t *testing.T) {
	m := NewManager(testConfig(), nil)
	defer m.Close()

	m.scan = func(_ context.Context, vol string, _ mft.ProgressFunc) ([]ntfind.FileEntry, *mft.Stats, error) {
		return volEntries(vol, "a.txt"), &mft.Stats{}, nil
	}
	pre := ntfind.Bookmark{JournalID: 4, USN: 200}
	var mu sync.Mutex
	var streams []*fakeStream
	m.newSource = func(string) (changeStream, error) {
		fs := &fakeStream{latest: pre}
		mu.Lock()
		streams = append(streams, fs)
		mu.Unlock()
		return fs, nil
	}

	require.NoError(t, m.Add(context.Background(), "C:"))

	// The stream opened before the scan is the one the monitor reads, from
	// the position captured back then, so nothing between the two is lost.
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		if len(streams) != 1 {
			return false
		}
		from, ok := streams[0].firstReadFrom()
		return ok && from == pre
	}, time.Second, 2*time.Millisecond)
}

func TestManager_AddSameVolumeTwice(t *testing.T) {
	m := NewManager(testConfig(), nil)
	defer m.Close()

	m.scan = func(_ context.Context, vol string, _ mft.ProgressFunc) ([]ntfind.FileEntry, *mft.Stats, error) {
		return volEntries(vol, "a.txt"), &mft.Stats{}, nil
	}
	m.newSource = idleSources(ntfind.Bookmark{JournalID: 1, USN: 1})

	require.NoError(t, m.Add(context.Background(), "C:"))
	err := m.Add(context.Background(), "C:")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already indexed")
}

func TestManager_ScanFailureLeavesOthersServing(t *testing.T) {
	m := NewManager(testConfig(), nil)
	defer m.Close()

	m.scan = func(_ context.Context, vol string, _ mft.ProgressFunc) ([]ntfind.FileEntry, *mft.Stats, error) {
		if vol == "E:" {
			return nil, nil, fmt.Errorf("open volume: %w", ntfind.ErrAccessDenied)
		}
		return volEntries(vol, "steady_report.pdf"), &mft.Stats{}, nil
	}
	m.newSource = idleSources(ntfind.Bookmark{JournalID: 1, USN: 1})

	require.NoError(t, m.Add(context.Background(), "C:"))
	err := m.Add(context.Background(), "E:")
	require.ErrorIs(t, err, ntfind.ErrAccessDenied)

	st := m.Stats()
	require.Len(t, st, 2)
	assert.Equal(t, "C:", st[0].Name)
	assert.Equal(t, StateReady, st[0].State)
	assert.Equal(t, "E:", st[1].Name)
	assert.Equal(t, StateUnavailable, st[1].State)
	assert.Contains(t, st[1].LastError, "access denied")

	resp, err := m.Search(context.Background(), "steady", nil, 0)
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, `C:\steady_report.pdf`, resp.Results[0].Entry.Path)
}

func TestManager_SearchMergesAcrossVolumes(t *testing.T) {
	m := NewManager(testConfig(), nil)
	defer m.Close()

	m.scan = func(_ context.Context, vol string, _ mft.ProgressFunc) ([]ntfind.FileEntry, *mft.Stats, error) {
		if vol == "C:" {
			return volEntries(vol, "alpha_report.pdf"), &mft.Stats{}, nil
		}
		return volEntries(vol, "beta_report.pdf", "report.pdf"), &mft.Stats{}, nil
	}
	m.newSource = idleSources(ntfind.Bookmark{JournalID: 1, USN: 1})

	require.NoError(t, m.Add(context.Background(), "C:"))
	require.NoError(t, m.Add(context.Background(), "D:"))

	resp, err := m.Search(context.Background(), "report", nil, 0)
	require.NoError(t, err)
	require.Len(t, resp.Results, 3)
	assert.Equal(t, 3, resp.TotalMatches)

	var paths []string
	for _, r := range resp.Results {
		paths = append(paths, r.Entry.Path)
	}
	assert.Contains(t, paths, `C:\alpha_report.pdf`)
	assert.Contains(t, paths, `D:\beta_report.pdf`)
	assert.Contains(t, paths, `D:\report.pdf`)

	for i := 1; i < len(resp.Results); i++ {
		assert.GreaterOrEqual(t, resp.Results[i-1].Score, resp.Results[i].Score,
			"merged results must stay ranked")
	}

	limited, err := m.Search(context.Background(), "report", nil, 2)
	require.NoError(t, err)
	assert.Len(t, limited.Results, 2)
	assert.Equal(t, 3, limited.TotalMatches)
}

func TestManager_SearchCancelled(t *testing.T) {
	m := NewManager(testConfig(), nil)
	defer m.Close()

	m.scan = func(_ context.Context, vol string, _ mft.ProgressFunc) ([]ntfind.FileEntry, *mft.Stats, error) {
		return volEntries(vol, "a.txt"), &mft.Stats{}, nil
	}
	m.newSource = idleSources(ntfind.Bookmark{JournalID: 1, USN: 1})
	require.NoError(t, m.Add(context.Background(), "C:"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.Search(ctx, "a", nil, 0)
	require.ErrorIs(t, err, ntfind.ErrCancelled)
}

func TestManager_StaleBookmarkRescanIsIsolated(t *testing.T) {
	m := NewManager(testConfig(), nil)
	defer m.Close()

	release := make(chan struct{})
	var dScans atomic.Int32
	m.scan = func(ctx context.Context, vol string, _ mft.ProgressFunc) ([]ntfind.FileEntry, *mft.Stats, error) {
		if vol != "D:" {
			return volEntries(vol, "steady_report.pdf"), &mft.Stats{}, nil
		}
		if dScans.Add(1) == 1 {
			return volEntries(vol, "old_notes.md"), &mft.Stats{}, nil
		}
		select {
		case <-release:
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		}
		return volEntries(vol, "rebuilt_notes.md"), &mft.Stats{}, nil
	}

	var dSources atomic.Int32
	m.newSource = func(vol string) (changeStream, error) {
		fs := &fakeStream{latest: ntfind.Bookmark{JournalID: 9, USN: 1}}
		if vol == "D:" && dSources.Add(1) == 1 {
			fs.read = func(from ntfind.Bookmark, _ int) ([]ntfind.ChangeEvent, ntfind.Bookmark, error) {
				return nil, from, fmt.Errorf("journal wrapped: %w", ntfind.ErrStaleBookmark)
			}
		}
		return fs, nil
	}

	require.NoError(t, m.Add(context.Background(), "C:"))
	require.NoError(t, m.Add(context.Background(), "D:"))

	dpipe, ok := m.pipes.Load("D:")
	require.True(t, ok)
	require.Eventually(t, func() bool {
		return dpipe.getState() == StateRescanning
	}, time.Second, 2*time.Millisecond, "stale bookmark must push the volume into a rescan")

	// The blocked rescan must not take queries down: the other volume
	// answers, and the rescanning one still serves its outgoing index.
	resp, err := m.Search(context.Background(), "steady", nil, 0)
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)

	resp, err = m.Search(context.Background(), "old_notes", nil, 0)
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)

	close(release)
	require.Eventually(t, func() bool {
		return dpipe.getState() == StateReady
	}, time.Second, 2*time.Millisecond)

	resp, err = m.Search(context.Background(), "rebuilt", nil, 0)
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)

	resp, err = m.Search(context.Background(), "old_notes", nil, 0)
	require.NoError(t, err)
	assert.Empty(t, resp.Results, "rescan must replace the old entries")
	assert.EqualValues(t, 2, dScans.Load())
}

func TestManager_ResumeFromPersistedPair(t *testing.T) {
	store, err := persist.NewStore(t.TempDir())
	require.NoError(t, err)

	ix := index.New()
	ix.BulkLoad(volEntries("C:", "resume_target.txt"))
	saved := ntfind.Bookmark{JournalID: 3, USN: 777}
	_, err = store.SaveIndex("C:", ix.Snapshot(), saved)
	require.NoError(t, err)

	cfg := testConfig()
	cfg.Persist = true
	m := NewManager(cfg, store)
	defer m.Close()

	var scans atomic.Int32
	m.scan = func(_ context.Context, vol string, _ mft.ProgressFunc) ([]ntfind.FileEntry, *mft.Stats, error) {
		scans.Add(1)
		return volEntries(vol, "scanned.txt"), &mft.Stats{}, nil
	}
	var mu sync.Mutex
	var streams []*fakeStream
	m.newSource = func(string) (changeStream, error) {
		fs := &fakeStream{latest: ntfind.Bookmark{JournalID: 3, USN: 900}}
		mu.Lock()
		streams = append(streams, fs)
		mu.Unlock()
		return fs, nil
	}

	require.NoError(t, m.Add(context.Background(), "C:"))
	assert.Zero(t, scans.Load(), "a current persisted pair must replace the scan")

	resp, err := m.Search(context.Background(), "resume_target", nil, 0)
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		if len(streams) == 0 {
			return false
		}
		from, ok := streams[0].firstReadFrom()
		return ok && from == saved
	}, time.Second, 2*time.Millisecond, "monitor must resume at the saved position, not the stream end")
}

func TestManager_ZeroBookmarkPairForcesScan(t *testing.T) {
	store, err := persist.NewStore(t.TempDir())
	require.NoError(t, err)

	ix := index.New()
	ix.BulkLoad(volEntries("C:", "stale_snapshot.txt"))
	_, err = store.SaveIndex("C:", ix.Snapshot(), ntfind.Bookmark{})
	require.NoError(t, err)

	cfg := testConfig()
	cfg.Persist = true
	m := NewManager(cfg, store)
	defer m.Close()

	var scans atomic.Int32
	m.scan = func(_ context.Context, vol string, _ mft.ProgressFunc) ([]ntfind.FileEntry, *mft.Stats, error) {
		scans.Add(1)
		return volEntries(vol, "fresh.txt"), &mft.Stats{}, nil
	}
	m.newSource = idleSources(ntfind.Bookmark{JournalID: 3, USN: 1})

	require.NoError(t, m.Add(context.Background(), "C:"))
	assert.EqualValues(t, 1, scans.Load(), "a pair without a resume position cannot be trusted")

	resp, err := m.Search(context.Background(), "fresh", nil, 0)
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
}

func TestManager_DirtyBookmarkForcesScan(t *testing.T) {
	store, err := persist.NewStore(t.TempDir())
	require.NoError(t, err)

	ix := index.New()
	ix.BulkLoad(volEntries("C:", "snapshot_only.txt"))
	_, err = store.SaveIndex("C:", ix.Snapshot(), ntfind.Bookmark{JournalID: 3, USN: 10})
	require.NoError(t, err)
	// A standalone bookmark save means the index moved on after the
	// snapshot was written, as after a crash mid-run.
	require.NoError(t, store.SaveBookmark("C:", ntfind.Bookmark{JournalID: 3, USN: 50}))

	cfg := testConfig()
	cfg.Persist = true
	m := NewManager(cfg, store)
	defer m.Close()

	var scans atomic.Int32
	m.scan = func(_ context.Context, vol string, _ mft.ProgressFunc) ([]ntfind.FileEntry, *mft.Stats, error) {
		scans.Add(1)
		return volEntries(vol, "rescanned.txt"), &mft.Stats{}, nil
	}
	m.newSource = idleSources(ntfind.Bookmark{JournalID: 3, USN: 60})

	require.NoError(t, m.Add(context.Background(), "C:"))
	assert.EqualValues(t, 1, scans.Load(), "a broken pair must not be resumed from")

	resp, err := m.Search(context.Background(), "rescanned", nil, 0)
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
}

func TestManager_FreshScanPersistsPair(t *testing.T) {
	store, err := persist.NewStore(t.TempDir())
	require.NoError(t, err)

	cfg := testConfig()
	cfg.Persist = true
	m := NewManager(cfg, store)
	defer m.Close()

	m.scan = func(_ context.Context, vol string, _ mft.ProgressFunc) ([]ntfind.FileEntry, *mft.Stats, error) {
		return volEntries(vol, "will_persist.txt"), &mft.Stats{}, nil
	}
	latest := ntfind.Bookmark{JournalID: 5, USN: 42}
	m.newSource = idleSources(latest)

	require.NoError(t, m.Add(context.Background(), "C:"))

	require.Eventually(t, func() bool {
		entries, gen, err := store.LoadIndex("C:")
		if err != nil || len(entries) != 1 {
			return false
		}
		rec, err := store.LoadBookmarkRecord("C:")
		return err == nil && rec.Generation == gen && rec.Bookmark == latest
	}, time.Second, 5*time.Millisecond, "a fresh scan with persistence on must write a matched pair")
}

func TestManager_SaveWritesPairAtMonitorPosition(t *testing.T) {
	store, err := persist.NewStore(t.TempDir())
	require.NoError(t, err)

	m := NewManager(testConfig(), store)
	defer m.Close()

	m.scan = func(_ context.Context, vol string, _ mft.ProgressFunc) ([]ntfind.FileEntry, *mft.Stats, error) {
		return volEntries(vol, "doc_one.txt", "doc_two.txt"), &mft.Stats{}, nil
	}
	latest := ntfind.Bookmark{JournalID: 8, USN: 64}
	m.newSource = idleSources(latest)

	require.NoError(t, m.Add(context.Background(), "C:"))

	pipe, ok := m.pipes.Load("C:")
	require.True(t, ok)
	require.Eventually(t, func() bool {
		mon := pipe.monitor()
		return mon != nil && mon.Bookmark() == latest
	}, time.Second, 2*time.Millisecond)

	require.NoError(t, m.Save("C:"))

	entries, gen, err := store.LoadIndex("C:")
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	rec, err := store.LoadBookmarkRecord("C:")
	require.NoError(t, err)
	assert.Equal(t, gen, rec.Generation)
	assert.Equal(t, latest, rec.Bookmark)
}

func TestManager_SaveAfterClosePairsAtStoppedPosition(t *testing.T) {
	store, err := persist.NewStore(t.TempDir())
	require.NoError(t, err)

	m := NewManager(testConfig(), store)
	defer m.Close()

	m.scan = func(_ context.Context, vol string, _ mft.ProgressFunc) ([]ntfind.FileEntry, *mft.Stats, error) {
		return volEntries(vol, "final_state.txt"), &mft.Stats{}, nil
	}
	latest := ntfind.Bookmark{JournalID: 7, USN: 21}
	m.newSource = idleSources(latest)

	require.NoError(t, m.Add(context.Background(), "C:"))
	pipe, ok := m.pipes.Load("C:")
	require.True(t, ok)
	require.Eventually(t, func() bool {
		mon := pipe.monitor()
		return mon != nil && mon.Bookmark() == latest
	}, time.Second, 2*time.Millisecond)

	// Shutdown saves run after the monitors stop; the frozen index still
	// pairs with the position updates stopped at.
	m.Close()
	require.NoError(t, m.Save("C:"))

	entries, gen, err := store.LoadIndex("C:")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	rec, err := store.LoadBookmarkRecord("C:")
	require.NoError(t, err)
	assert.Equal(t, gen, rec.Generation)
	assert.Equal(t, latest, rec.Bookmark)
}

func TestManager_SaveErrors(t *testing.T) {
	m := NewManager(testConfig(), nil)
	defer m.Close()
	err := m.Save("C:")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "persistence is disabled")

	store, err := persist.NewStore(t.TempDir())
	require.NoError(t, err)
	withStore := NewManager(testConfig(), store)
	defer withStore.Close()
	require.ErrorIs(t, withStore.Save("Z:"), ntfind.ErrNotFound)
}

func TestManager_RescanRebuildsInPlace(t *testing.T) {
	m := NewManager(testConfig(), nil)
	defer m.Close()

	var scans atomic.Int32
	m.scan = func(_ context.Context, vol string, _ mft.ProgressFunc) ([]ntfind.FileEntry, *mft.Stats, error) {
		if scans.Add(1) == 1 {
			return volEntries(vol, "first_pass.txt"), &mft.Stats{}, nil
		}
		return volEntries(vol, "second_pass.txt"), &mft.Stats{}, nil
	}
	m.newSource = idleSources(ntfind.Bookmark{JournalID: 2, USN: 5})

	require.NoError(t, m.Add(context.Background(), "C:"))
	require.NoError(t, m.Rescan(context.Background(), "C:"))
	assert.EqualValues(t, 2, scans.Load())

	pipe, ok := m.pipes.Load("C:")
	require.True(t, ok)
	assert.Equal(t, StateReady, pipe.getState())

	resp, err := m.Search(context.Background(), "second_pass", nil, 0)
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)

	resp, err = m.Search(context.Background(), "first_pass", nil, 0)
	require.NoError(t, err)
	assert.Empty(t, resp.Results)

	require.ErrorIs(t, m.Rescan(context.Background(), "Q:"), ntfind.ErrNotFound)
}

func TestManager_WatchIndexesFolder(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "meeting_agenda.txt"), []byte("x"), 0o644))

	m := NewManager(testConfig(), nil)
	defer m.Close()

	require.NoError(t, m.Watch(dir))
	require.Eventually(t, func() bool {
		resp, err := m.Search(context.Background(), "meeting_agenda", nil, 0)
		return err == nil && len(resp.Results) == 1
	}, 2*time.Second, 10*time.Millisecond)

	err := m.Watch(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already watched")

	st := m.Stats()
	require.Len(t, st, 1)
	assert.Equal(t, "watch", st[0].Kind)
	assert.Equal(t, StateReady, st[0].State)
	assert.Equal(t, 1, st[0].Files)
}

func TestManager_CloseStopsMonitors(t *testing.T) {
	m := NewManager(testConfig(), nil)

	m.scan = func(_ context.Context, vol string, _ mft.ProgressFunc) ([]ntfind.FileEntry, *mft.Stats, error) {
		return volEntries(vol, "a.txt"), &mft.Stats{}, nil
	}
	m.newSource = idleSources(ntfind.Bookmark{JournalID: 1, USN: 1})

	require.NoError(t, m.Add(context.Background(), "C:"))
	pipe, ok := m.pipes.Load("C:")
	require.True(t, ok)
	require.Eventually(t, func() bool {
		return pipe.monitor() != nil
	}, time.Second, 2*time.Millisecond)

	m.Close()
	assert.Nil(t, pipe.monitor(), "Close must wait for the monitor goroutine to exit")
}
