package search

import "container/heap"

// topK keeps the k best results seen so far. The weakest kept result sits
// at the heap root so each new candidate is one comparison against it.
type topK struct {
	k     int
	items []Result
}

func newTopK(k int) *topK {
	return &topK{k: k, items: make([]Result, 0, k)}
}

// worse orders results: higher score wins, then the shorter path, then
// the lexicographically smaller path. The path rules make equal-score
// output stable across runs and across index orderings.
func worse(a, b Result) bool {
	if a.Score != b.Score {
		return a.Score < b.Score
	}
	if len(a.Entry.Path) != len(b.Entry.Path) {
		return len(a.Entry.Path) > len(b.Entry.Path)
	}
	return a.Entry.Path > b.Entry.Path
}

// Merge combines ranked result lists, one per volume, into a single list
// of at most limit results under the same order queries use.
func Merge(limit int, lists ...[]Result) []Result {
	if limit < 1 {
		limit = 1
	}
	top := newTopK(limit)
	for _, list := range lists {
		for _, r := range list {
			top.offer(r)
		}
	}
	return top.sorted()
}

func (t *topK) offer(r Result) {
	if len(t.items) < t.k {
		heap.Push(t, r)
		return
	}
	if worse(t.items[0], r) {
		t.items[0] = r
		heap.Fix(t, 0)
	}
}

// sorted drains the heap into a best-first slice. The topK is empty
// afterwards.
func (t *topK) sorted() []Result {
	out := make([]Result, len(t.items))
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(t).(Result)
	}
	return out
}

func (t *topK) Len() int            { return len(t.items) }
func (t *topK) Less(i, j int) bool  { return worse(t.items[i], t.items[j]) }
func (t *topK) Swap(i, j int)       { t.items[i], t.items[j] = t.items[j], t.items[i] }
func (t *topK) Push(x any)          { t.items = append(t.items, x.(Result)) }
func (t *topK) Pop() any {
	last := len(t.items) - 1
	r := t.items[last]
	t.items = t.items[:last]
	return r
}
