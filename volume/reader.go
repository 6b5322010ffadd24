// Package volume provides raw block device access normalized into ordinary
// byte-stream reads, plus NTFS volume discovery.
package volume

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/ntfind/ntfind"
	"github.com/ntfind/ntfind/internal/util"
)

const (
	// DefaultSectorSize matches the logical sector size of nearly every
	// volume in the field; callers with 4Kn devices pass their own.
	DefaultSectorSize = 512

	// windowSectors sizes the aligned buffer window.
	windowSectors = 16
)

// Device is the raw block surface behind a Reader. Raw volume handles only
// accept reads that start on a sector boundary and span whole sectors;
// Reader hides that constraint from callers.
type Device interface {
	io.ReadSeeker
	io.Closer
}

// Reader adapts a sector-constrained Device into random-access byte reads.
//
// One aligned window of windowSectors sectors is kept in memory. Requests
// inside the window are served without device I/O; requests outside it
// reseek the device to the aligned floor of the requested offset and refill.
// The logical position advanced by Read/Seek is tracked independently of the
// device's physical position, which only ever lands on sector boundaries.
type Reader struct {
	mu         sync.Mutex
	dev        Device
	sectorSize int

	window    []byte
	windowOff int64 // device offset of window start, sector aligned
	windowLen int   // valid bytes in window
	logical   int64

	log util.Logger
}

// NewReader wraps an open device. sectorSize <= 0 selects DefaultSectorSize.
func NewReader(dev Device, sectorSize int) *Reader {
	if sectorSize <= 0 {
		sectorSize = DefaultSectorSize
	}
	return &Reader{
		dev:        dev,
		sectorSize: sectorSize,
		window:     make([]byte, sectorSize*windowSectors),
		windowOff:  -1,
		log:        util.GetLogger("volume"),
	}
}

// Open opens the device at path and wraps it with default geometry.
// Returns ErrAccessDenied or ErrNotFound as applicable.
func Open(path string) (*Reader, error) {
	dev, err := OpenDevice(path)
	if err != nil {
		return nil, err
	}
	return NewReader(dev, DefaultSectorSize), nil
}

// SectorSize returns the sector geometry the reader aligns against.
func (r *Reader) SectorSize() int { return r.sectorSize }

// ReadAt reads len(p) bytes from the device starting at off, satisfying the
// io.ReaderAt contract. Short reads at end of device return io.EOF.
func (r *Reader) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("read at %d: %w: negative offset", off, ntfind.ErrDevice)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	// Requests larger than the window bypass it with one aligned read.
	if len(p) > len(r.window) {
		return r.readLargeLocked(p, off)
	}

	n := 0
	for n < len(p) {
		pos := off + int64(n)
		if !r.inWindow(pos) {
			if err := r.fillLocked(pos); err != nil {
				return n, err
			}
			if r.windowLen == 0 {
				return n, io.EOF
			}
		}
		start := int(pos - r.windowOff)
		if start >= r.windowLen {
			return n, io.EOF
		}
		n += copy(p[n:], r.window[start:r.windowLen])
	}
	return n, nil
}

// ReadAtOffset allocates and reads length bytes at off.
func (r *Reader) ReadAtOffset(off int64, length int) ([]byte, error) {
	p := make([]byte, length)
	n, err := r.ReadAt(p, off)
	if err != nil {
		return nil, err
	}
	return p[:n], nil
}

// Read reads from the current logical position, advancing it.
func (r *Reader) Read(p []byte) (int, error) {
	n, err := r.ReadAt(p, r.logical)
	r.logical += int64(n)
	return n, err
}

// Seek sets the logical position. The device's physical position is managed
// internally and only ever moves to sector boundaries.
func (r *Reader) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
		r.logical = offset
	case io.SeekCurrent:
		r.logical += offset
	default:
		return 0, fmt.Errorf("seek: %w: unsupported whence %d", ntfind.ErrDevice, whence)
	}
	if r.logical < 0 {
		r.logical = 0
	}
	return r.logical, nil
}

// Close releases the underlying device handle.
func (r *Reader) Close() error {
	return r.dev.Close()
}

func (r *Reader) inWindow(pos int64) bool {
	return r.windowOff >= 0 && pos >= r.windowOff && pos < r.windowOff+int64(r.windowLen)
}

// fillLocked repositions the window so it covers pos. The request sent to
// the device is always aligned; a device error here cannot be a caller
// alignment problem and is reported loudly instead of retried.
func (r *Reader) fillLocked(pos int64) error {
	aligned := pos - pos%int64(r.sectorSize)
	if aligned%int64(r.sectorSize) != 0 {
		// Unreachable unless the alignment arithmetic above is broken.
		return fmt.Errorf("window fill at %d: %w: reader produced misaligned offset %d",
			pos, ntfind.ErrDevice, aligned)
	}
	if _, err := r.dev.Seek(aligned, io.SeekStart); err != nil {
		r.windowOff, r.windowLen = -1, 0
		return fmt.Errorf("seek device to %d: %w: %v", aligned, ntfind.ErrDevice, err)
	}
	n, err := io.ReadFull(r.dev, r.window)
	if err == io.ErrUnexpectedEOF || err == io.EOF {
		// End of device inside the window; whatever arrived is valid.
		err = nil
	}
	if err != nil {
		r.windowOff, r.windowLen = -1, 0
		return fmt.Errorf("aligned read of %d sectors at %d rejected by device: %w: %v",
			windowSectors, aligned, ntfind.ErrDevice, err)
	}
	r.windowOff, r.windowLen = aligned, n
	return nil
}

// readLargeLocked serves requests that exceed the window with a single
// aligned read, leaving the window untouched.
func (r *Reader) readLargeLocked(p []byte, off int64) (int, error) {
	ss := int64(r.sectorSize)
	aligned := off - off%ss
	pad := int(off - aligned)
	span := pad + len(p)
	if rem := span % int(ss); rem != 0 {
		span += int(ss) - rem
	}

	buf := make([]byte, span)
	if _, err := r.dev.Seek(aligned, io.SeekStart); err != nil {
		return 0, fmt.Errorf("seek device to %d: %w: %v", aligned, ntfind.ErrDevice, err)
	}
	n, err := io.ReadFull(r.dev, buf)
	if err == io.ErrUnexpectedEOF || err == io.EOF {
		err = nil
	}
	if err != nil {
		return 0, fmt.Errorf("aligned read of %d bytes at %d rejected by device: %w: %v",
			span, aligned, ntfind.ErrDevice, err)
	}
	if n <= pad {
		return 0, io.EOF
	}
	copied := copy(p, buf[pad:n])
	if copied < len(p) {
		return copied, io.EOF
	}
	return copied, nil
}

// DevicePath converts a mount like "C:" or `C:\` into the raw volume handle
// path `\\.\C:`. Paths already in raw form pass through unchanged.
func DevicePath(mount string) string {
	if strings.HasPrefix(mount, `\\.\`) {
		return mount
	}
	return `\\.\` + strings.TrimSuffix(mount, `\`)
}
