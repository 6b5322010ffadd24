//go:build windows

package volume

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/windows"

	"github.com/ntfind/ntfind"
)

// OpenDevice opens a raw volume handle such as `\\.\C:` for reading.
// Full sharing is required: the volume is mounted and in use.
func OpenDevice(path string) (Device, error) {
	p := DevicePath(path)
	namep, err := windows.UTF16PtrFromString(p)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w: %v", p, ntfind.ErrNotFound, err)
	}

	h, err := windows.CreateFile(
		namep,
		windows.GENERIC_READ,
		windows.FILE_SHARE_READ|windows.FILE_SHARE_WRITE|windows.FILE_SHARE_DELETE,
		nil,
		windows.OPEN_EXISTING,
		0,
		0,
	)
	if err != nil {
		switch {
		case errors.Is(err, windows.ERROR_ACCESS_DENIED):
			return nil, fmt.Errorf("open %s: %w (run elevated)", p, ntfind.ErrAccessDenied)
		case errors.Is(err, windows.ERROR_FILE_NOT_FOUND),
			errors.Is(err, windows.ERROR_PATH_NOT_FOUND):
			return nil, fmt.Errorf("open %s: %w", p, ntfind.ErrNotFound)
		}
		return nil, fmt.Errorf("open %s: %w: %v", p, ntfind.ErrDevice, err)
	}

	return os.NewFile(uintptr(h), p), nil
}
