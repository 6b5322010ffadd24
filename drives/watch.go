package drives

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/ntfind/ntfind/index"
	"github.com/ntfind/ntfind/monitor"
	"github.com/ntfind/ntfind/search"
)

// watchPipeline serves queries over one watched folder tree. Watches have
// no scan phase and no persistence; the walk inside DirWatcher.Run fills
// the index progressively, so the pipeline is searchable from the start.
type watchPipeline struct {
	root   string
	ix     *index.FileIndex
	engine *search.Engine

	mu      sync.Mutex
	lastErr error
}

func (w *watchPipeline) setErr(err error) {
	w.mu.Lock()
	w.lastErr = err
	w.mu.Unlock()
}

func (w *watchPipeline) lastError() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastErr
}

// Watch indexes a folder tree through filesystem notifications and folds it
// into the search surface. Meant for trees raw volume scanning cannot see,
// like network mounts or cloud-sync folders.
func (m *Manager) Watch(folder string) error {
	abs, err := filepath.Abs(folder)
	if err != nil {
		return fmt.Errorf("watch folder %s: %w", folder, err)
	}

	w := &watchPipeline{
		root:   abs,
		ix:     index.New(),
		engine: search.NewEngine(m.cfg.FilenameWeight, m.cfg.SearchLimit),
	}
	if _, loaded := m.watches.LoadOrStore(abs, w); loaded {
		return fmt.Errorf("folder %s is already watched", abs)
	}

	dw, err := monitor.NewDirWatcher(abs, w.ix)
	if err != nil {
		m.watches.Delete(abs)
		return err
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := dw.Run(m.ctx); err != nil {
			w.setErr(err)
			m.log.Error().Err(err).Str("root", w.root).Msg("folder watch stopped")
		}
	}()
	return nil
}
