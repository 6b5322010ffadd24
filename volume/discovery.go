package volume

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shirou/gopsutil/disk"

	"github.com/ntfind/ntfind"
)

// Info describes one mounted filesystem eligible for indexing.
type Info struct {
	Mount  string // mount point without trailing separator, e.g. "C:"
	Device string // raw device path, e.g. `\\.\C:`
	Fstype string
}

// Discover lists mounted NTFS volumes, sorted by mount point. Volumes on
// other filesystems are skipped: only NTFS carries an MFT and a change
// journal (non-MFT folders go through the directory watch instead).
func Discover() ([]Info, error) {
	parts, err := disk.Partitions(false)
	if err != nil {
		return nil, fmt.Errorf("list partitions: %w: %v", ntfind.ErrDevice, err)
	}

	var out []Info
	for _, p := range parts {
		if !strings.EqualFold(p.Fstype, "ntfs") {
			continue
		}
		mount := strings.TrimSuffix(p.Mountpoint, `\`)
		out = append(out, Info{
			Mount:  mount,
			Device: DevicePath(mount),
			Fstype: p.Fstype,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Mount < out[j].Mount })
	return out, nil
}
