package util

import (
	"fmt"
	"time"
)

// FILETIME counts 100ns ticks since 1601-01-01; Unix time starts
// 11644473600 seconds later.
const filetimeEpochDiff = 116444736000000000

// Pointer simply returns a pointer to the supplied value
func Pointer[T any](v T) *T {
	return &v
}

// FiletimeToTime converts a Windows FILETIME to UTC. Zero means the
// timestamp was never set and maps to the zero time.
func FiletimeToTime(ft uint64) time.Time {
	if ft == 0 {
		return time.Time{}
	}
	ticks := int64(ft) - filetimeEpochDiff
	return time.Unix(ticks/1e7, (ticks%1e7)*100).UTC()
}

// TimeToFiletime is the inverse of FiletimeToTime; the zero time maps to 0.
func TimeToFiletime(t time.Time) uint64 {
	if t.IsZero() {
		return 0
	}
	return uint64(t.UnixNano()/100 + filetimeEpochDiff)
}

// FormatFileSize renders a byte count with 1024-based units and one
// decimal place, e.g. "1.5 MB". Plain bytes print without a decimal.
func FormatFileSize(bytes uint64) string {
	units := []string{"B", "KB", "MB", "GB", "TB"}
	size := float64(bytes)
	i := 0
	for size >= 1024 && i < len(units)-1 {
		size /= 1024
		i++
	}
	if i == 0 {
		return fmt.Sprintf("%d B", bytes)
	}
	return fmt.Sprintf("%.1f %s", size, units[i])
}

// LastSegment returns the final segment of a path. Volume paths use
// backslashes; watched-folder paths arrive with the host separator, so
// both are recognized.
func LastSegment(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '\\' || path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}
