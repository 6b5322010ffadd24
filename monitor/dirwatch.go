package monitor

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/djherbis/times"
	"github.com/fsnotify/fsnotify"

	"github.com/ntfind/ntfind"
	"github.com/ntfind/ntfind/index"
	"github.com/ntfind/ntfind/internal/util"
)

// DirWatcher indexes a folder tree that raw MFT scanning cannot reach,
// like cloud-sync or network mounts, and keeps it current through
// filesystem notifications.
//
// Entries here are keyed by path; ids are synthetic and only unique
// within the watcher's own index. A rename arrives as a remove of the old
// path and a create of the new one, so identity does not survive moves.
type DirWatcher struct {
	root   string
	ix     *index.FileIndex
	w      *fsnotify.Watcher
	nextID atomic.Uint64
	log    util.Logger
}

// NewDirWatcher prepares a watcher over root. The tree is not read until
// Run.
func NewDirWatcher(root string, ix *index.FileIndex) (*DirWatcher, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("watch folder %s: %w", root, err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch folder %s: %w", root, err)
	}
	return &DirWatcher{
		root: abs,
		ix:   ix,
		w:    w,
		log:  util.GetLogger("dirwatch").With().Str("root", abs).Logger(),
	}, nil
}

// Root returns the watched folder.
func (d *DirWatcher) Root() string { return d.root }

// Run walks the tree into the index, then applies notifications until ctx
// is done.
func (d *DirWatcher) Run(ctx context.Context) error {
	defer d.w.Close()

	if err := d.addTree(d.root); err != nil {
		return fmt.Errorf("watch folder %s: %w", d.root, err)
	}
	files, dirs := d.ix.Counts()
	d.log.Info().Int("files", files).Int("dirs", dirs).Msg("watching folder")

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-d.w.Events:
			if !ok {
				return nil
			}
			d.handle(ev)
		case err, ok := <-d.w.Errors:
			if !ok {
				return nil
			}
			d.log.Warn().Err(err).Msg("watch error")
		}
	}
}

func (d *DirWatcher) handle(ev fsnotify.Event) {
	switch {
	case ev.Has(fsnotify.Create):
		if err := d.upsert(ev.Name); err != nil {
			// Short-lived files can vanish before the stat.
			d.log.Debug().Str("path", ev.Name).Err(err).Msg("create dropped")
			return
		}
		if fi, err := os.Lstat(ev.Name); err == nil && fi.IsDir() {
			// Contents created before the watch was in place are only
			// visible by walking.
			if err := d.addTree(ev.Name); err != nil {
				d.log.Warn().Str("path", ev.Name).Err(err).Msg("subtree walk failed")
			}
		}

	case ev.Has(fsnotify.Write):
		if err := d.upsert(ev.Name); err != nil {
			d.log.Debug().Str("path", ev.Name).Err(err).Msg("write dropped")
		}

	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		// Rename reports only the old path; the new location arrives as
		// its own create.
		if e, ok := d.entryAt(ev.Name); ok && e.IsDir {
			d.ix.RemoveTree(ev.Name)
		} else {
			d.ix.RemoveByPath(ev.Name)
		}
	}
}

// addTree walks dir, upserting every entry and watching every directory.
func (d *DirWatcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, de fs.DirEntry, err error) error {
		if err != nil {
			d.log.Debug().Str("path", path).Err(err).Msg("walk entry skipped")
			return nil
		}
		if de.IsDir() {
			if werr := d.w.Add(path); werr != nil {
				d.log.Warn().Str("path", path).Err(werr).Msg("watch add failed")
			}
		}
		if path == dir {
			return nil // the root itself is not an entry
		}
		if uerr := d.upsert(path); uerr != nil {
			d.log.Debug().Str("path", path).Err(uerr).Msg("walk entry skipped")
		}
		return nil
	})
}

// upsert stats path and inserts or refreshes its entry, reusing the
// stored id when the path is already known so repeated notifications do
// not duplicate entries.
func (d *DirWatcher) upsert(path string) error {
	fi, err := os.Lstat(path)
	if err != nil {
		return err
	}
	e := ntfind.FileEntry{
		Name:  filepath.Base(path),
		Path:  path,
		IsDir: fi.IsDir(),
	}
	if !fi.IsDir() {
		e.Size = uint64(fi.Size())
	}
	ts := times.Get(fi)
	e.Modified = ts.ModTime()
	e.Accessed = ts.AccessTime()
	if ts.HasBirthTime() {
		e.Created = ts.BirthTime()
	}

	if id, ok := d.ix.IDByPath(path); ok {
		e.ID = id
	} else {
		e.ID = ntfind.FileID(d.nextID.Add(1))
	}
	d.ix.Insert(e)
	return nil
}

func (d *DirWatcher) entryAt(path string) (ntfind.FileEntry, bool) {
	id, ok := d.ix.IDByPath(path)
	if !ok {
		return ntfind.FileEntry{}, false
	}
	return d.ix.Get(id)
}
