package mft

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ntfind/ntfind"
)

func TestResolver_NestedPath(t *testing.T) {
	t.Parallel()

	root := ntfind.NewFileID(RootRecordNumber, 5)
	users := ntfind.NewFileID(40, 1)

	r := NewResolver("C:")
	r.AddDir(root, ".", root)
	r.AddDir(users, "Users", root)

	path, orphan := r.PathFor(users, "readme.txt")
	assert.Equal(t, `C:\Users\readme.txt`, path)
	assert.False(t, orphan)
}

func TestResolver_RootFile(t *testing.T) {
	t.Parallel()

	r := NewResolver("C:")
	r.AddDir(ntfind.NewFileID(RootRecordNumber, 5), ".", 0)

	path, orphan := r.PathFor(ntfind.NewFileID(RootRecordNumber, 5), "pagefile.sys")
	assert.Equal(t, `C:\pagefile.sys`, path)
	assert.False(t, orphan)
}

func TestResolver_DeepChainMemoized(t *testing.T) {
	t.Parallel()

	r := NewResolver("D:")
	root := ntfind.NewFileID(RootRecordNumber, 1)
	r.AddDir(root, ".", 0)

	// ten nested directories named level0..level9
	parent := root
	want := "D:"
	ids := make([]ntfind.FileID, 10)
	for i := range ids {
		ids[i] = ntfind.NewFileID(uint64(100+i), 1)
		name := fmt.Sprintf("level%d", i)
		r.AddDir(ids[i], name, parent)
		parent = ids[i]
		want += ntfind.PathSeparator + name
	}

	path, orphan := r.PathFor(ids[9], "leaf.txt")
	assert.Equal(t, want+`\leaf.txt`, path)
	assert.False(t, orphan)

	// Every ancestor resolves from the memo now.
	mid, _ := r.PathFor(ids[4], "mid.txt")
	assert.Equal(t, `D:\level0\level1\level2\level3\level4\mid.txt`, mid)
}

func TestResolver_MissingParentIsOrphan(t *testing.T) {
	t.Parallel()

	r := NewResolver("C:")
	r.AddDir(ntfind.NewFileID(RootRecordNumber, 5), ".", 0)

	ghost := ntfind.NewFileID(999, 1)
	path, orphan := r.PathFor(ghost, "stranded.dat")
	assert.Equal(t, `C:\$Orphan\stranded.dat`, path)
	assert.True(t, orphan)
	assert.Equal(t, uint64(1), r.Orphans())

	// A sibling under the same missing parent reuses the memoized base.
	path2, orphan2 := r.PathFor(ghost, "also.dat")
	assert.Equal(t, `C:\$Orphan\also.dat`, path2)
	assert.True(t, orphan2)
	assert.Equal(t, uint64(1), r.Orphans())
}

func TestResolver_CycleHitsHopBound(t *testing.T) {
	t.Parallel()

	r := NewResolver("C:")
	r.AddDir(ntfind.NewFileID(RootRecordNumber, 5), ".", 0)

	// a and b point at each other; neither can reach the root.
	a := ntfind.NewFileID(70, 1)
	b := ntfind.NewFileID(71, 1)
	r.AddDir(a, "a", b)
	r.AddDir(b, "b", a)

	path, orphan := r.PathFor(a, "trapped.txt")
	assert.True(t, orphan)
	assert.Contains(t, path, ntfind.OrphanSegment)
	// Never a false top-level path.
	assert.NotEqual(t, `C:\trapped.txt`, path)
}

func TestResolver_OrphanedSubtreeKeepsShape(t *testing.T) {
	t.Parallel()

	r := NewResolver("C:")
	r.AddDir(ntfind.NewFileID(RootRecordNumber, 5), ".", 0)

	// lost's parent is unknown, but its child chain is intact.
	lost := ntfind.NewFileID(80, 1)
	sub := ntfind.NewFileID(81, 1)
	r.AddDir(lost, "lost", ntfind.NewFileID(500, 1))
	r.AddDir(sub, "sub", lost)

	path, orphan := r.PathFor(sub, "file.txt")
	assert.Equal(t, `C:\$Orphan\lost\sub\file.txt`, path)
	assert.True(t, orphan)
}

func TestResolver_SelfParentIsRoot(t *testing.T) {
	t.Parallel()

	r := NewResolver("E:")
	weird := ntfind.NewFileID(33, 1)
	r.AddDir(weird, "weird", weird)

	path, orphan := r.PathFor(weird, "direct.txt")
	assert.Equal(t, `E:\direct.txt`, path)
	assert.False(t, orphan)
}

func TestResolver_SharedSegmentNames(t *testing.T) {
	t.Parallel()

	r := NewResolver("C:")
	root := ntfind.NewFileID(RootRecordNumber, 5)
	r.AddDir(root, ".", 0)

	// Many directories share the name "src"; each keeps its own position.
	for i := uint64(0); i < 100; i++ {
		project := ntfind.NewFileID(200+i*2, 1)
		src := ntfind.NewFileID(201+i*2, 1)
		r.AddDir(project, fmt.Sprintf("project%d", i), root)
		r.AddDir(src, "src", project)
	}
	assert.Equal(t, 200, r.Dirs())

	path, _ := r.PathFor(ntfind.NewFileID(201+42*2, 1), "main.go")
	assert.Equal(t, `C:\project42\src\main.go`, path)
}
