//go:build !windows

package volume

import (
	"fmt"
	"os"

	"github.com/ntfind/ntfind"
)

// OpenDevice opens path as an ordinary file. Raw volume handles are a
// Windows surface; elsewhere this serves NTFS image files, which keeps the
// whole parse pipeline runnable on any platform.
func OpenDevice(path string) (Device, error) {
	f, err := os.Open(path)
	if err != nil {
		switch {
		case os.IsNotExist(err):
			return nil, fmt.Errorf("open %s: %w", path, ntfind.ErrNotFound)
		case os.IsPermission(err):
			return nil, fmt.Errorf("open %s: %w", path, ntfind.ErrAccessDenied)
		}
		return nil, fmt.Errorf("open %s: %w: %v", path, ntfind.ErrDevice, err)
	}
	return f, nil
}
