package ntfind

import "errors"

// Error taxonomy shared across components. Call sites wrap these with
// operation context via fmt.Errorf("...: %w", err) and match with errors.Is.
var (
	// ErrAccessDenied: insufficient privilege to open a raw device.
	ErrAccessDenied = errors.New("ntfind: access denied")

	// ErrDevice: an I/O failure not explained by sector alignment.
	ErrDevice = errors.New("ntfind: device error")

	// ErrParse: a malformed on-disk structure. Record-scoped failures are
	// counted and skipped; scans never abort on one bad record.
	ErrParse = errors.New("ntfind: parse error")

	// ErrNotFound: a volume or watched path is missing. Fatal to that
	// volume's pipeline only.
	ErrNotFound = errors.New("ntfind: not found")

	// ErrStaleBookmark: the change journal no longer retains the bookmarked
	// position. The affected volume needs a full rescan; other volumes are
	// untouched.
	ErrStaleBookmark = errors.New("ntfind: stale bookmark")

	// ErrCancelled: a query was superseded before it finished. A normal
	// outcome of typing, not a failure.
	ErrCancelled = errors.New("ntfind: cancelled")
)
