package mft

import (
	"strings"

	"github.com/ntfind/ntfind"
)

const (
	// MaxParentHops bounds the parent-chain walk. Chains are acyclic on a
	// healthy volume; a corrupted one must not hang resolution.
	MaxParentHops = 64

	// RootRecordNumber is the MFT record of the volume root directory.
	RootRecordNumber = 5
)

type dirNode struct {
	nameIdx int32
	parent  ntfind.FileID
}

type dirPath struct {
	path   string
	orphan bool
}

// Resolver turns parent references into full paths.
//
// It must see every directory before the first PathFor call: paths resolved
// against an incomplete directory map silently collapse files to the volume
// root. Scans therefore register all directories (pass one) before resolving
// any entry (pass two).
//
// Directory names are interned in a segment arena; nodes hold arena indices,
// so millions of directories named "src" or "bin" share one string each.
type Resolver struct {
	label string

	segs   []string
	segIdx map[string]int32

	dirs  map[ntfind.FileID]dirNode
	roots map[ntfind.FileID]struct{}
	memo  map[ntfind.FileID]dirPath

	orphans uint64
}

// NewResolver creates a resolver rooted at the volume label, e.g. "C:".
func NewResolver(label string) *Resolver {
	return &Resolver{
		label:  label,
		segIdx: make(map[string]int32),
		dirs:   make(map[ntfind.FileID]dirNode),
		roots:  make(map[ntfind.FileID]struct{}),
		memo:   make(map[ntfind.FileID]dirPath),
	}
}

// AddDir registers one directory. Directories whose parent reference points
// at themselves or at record zero are roots; their own name is replaced by
// the volume label (the on-disk root is named ".").
func (r *Resolver) AddDir(id ntfind.FileID, name string, parent ntfind.FileID) {
	if id.RecordNumber() == RootRecordNumber || parent == 0 || parent == id {
		r.roots[id] = struct{}{}
		return
	}
	r.dirs[id] = dirNode{nameIdx: r.intern(name), parent: parent}
}

// Dirs returns the number of registered non-root directories.
func (r *Resolver) Dirs() int { return len(r.dirs) }

// Orphans returns how many distinct directories resolved to the synthetic root.
func (r *Resolver) Orphans() uint64 { return r.orphans }

// PathFor builds the full path of an entry from its parent reference and
// name. Entries whose chain cannot reach a root within MaxParentHops are
// filed under the synthetic orphan root instead of a false top level.
func (r *Resolver) PathFor(parent ntfind.FileID, name string) (string, bool) {
	dp := r.resolveDir(parent)
	return dp.path + ntfind.PathSeparator + name, dp.orphan
}

func (r *Resolver) isRoot(id ntfind.FileID) bool {
	if id == 0 || id.RecordNumber() == RootRecordNumber {
		return true
	}
	_, ok := r.roots[id]
	return ok
}

// resolveDir walks up from id until it hits a root, a memoized ancestor, or
// a defect (missing parent, hop bound). Every directory visited on the way
// is memoized, so resolution over a whole volume is linear in directories.
func (r *Resolver) resolveDir(id ntfind.FileID) dirPath {
	if r.isRoot(id) {
		return dirPath{path: r.label}
	}
	if dp, ok := r.memo[id]; ok {
		return dp
	}

	var chain []ntfind.FileID
	base := dirPath{path: r.label}
	cur := id

	for {
		if len(chain) > MaxParentHops {
			base = r.orphanBase()
			break
		}
		if r.isRoot(cur) {
			break
		}
		if dp, ok := r.memo[cur]; ok {
			base = dp
			break
		}
		node, ok := r.dirs[cur]
		if !ok {
			// Parent vanished or was never a directory record.
			base = r.orphanBase()
			break
		}
		chain = append(chain, cur)
		cur = node.parent
	}

	// Unwind from the ancestor nearest the root, memoizing as we build.
	var sb strings.Builder
	sb.WriteString(base.path)
	for i := len(chain) - 1; i >= 0; i-- {
		sb.WriteString(ntfind.PathSeparator)
		sb.WriteString(r.segs[r.dirs[chain[i]].nameIdx])
		r.memo[chain[i]] = dirPath{path: sb.String(), orphan: base.orphan}
	}

	if len(chain) == 0 {
		// id itself was unresolvable; memoize so siblings under the same
		// missing parent do not re-walk.
		r.memo[id] = base
		return base
	}
	return r.memo[id]
}

func (r *Resolver) orphanBase() dirPath {
	r.orphans++
	return dirPath{
		path:   r.label + ntfind.PathSeparator + ntfind.OrphanSegment,
		orphan: true,
	}
}

func (r *Resolver) intern(seg string) int32 {
	if i, ok := r.segIdx[seg]; ok {
		return i
	}
	i := int32(len(r.segs))
	r.segs = append(r.segs, seg)
	r.segIdx[seg] = i
	return i
}
