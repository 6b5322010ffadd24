package ntfind

// Predicate is a precompiled boolean filter evaluated against entries before
// they are scored by search. Implementations must be cheap and safe for
// concurrent use: a predicate runs once per entry per query.
type Predicate interface {
	Matches(e *FileEntry) bool
}

// PredicateFunc adapts a plain function to the Predicate interface.
type PredicateFunc func(e *FileEntry) bool

func (f PredicateFunc) Matches(e *FileEntry) bool { return f(e) }

// MatchAll reports whether every predicate accepts e. An empty predicate
// list accepts everything.
func MatchAll(preds []Predicate, e *FileEntry) bool {
	for _, p := range preds {
		if !p.Matches(e) {
			return false
		}
	}
	return true
}
