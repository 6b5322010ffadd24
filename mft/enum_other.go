//go:build !windows

package mft

import (
	"context"
	"errors"
	"fmt"

	"github.com/ntfind/ntfind"
)

// ScanFast needs the change journal driver and is only available on
// Windows. Other platforms fall back to ScanFull against a raw device or
// image file.
func ScanFast(ctx context.Context, label string, progress ProgressFunc) ([]ntfind.FileEntry, *Stats, error) {
	return nil, nil, fmt.Errorf("fast scan of %s: %w", label, errors.ErrUnsupported)
}
