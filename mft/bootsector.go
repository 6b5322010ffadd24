// Package mft parses NTFS on-disk structures and enumerates Master File
// Table records into resolved index entries.
package mft

import (
	"encoding/binary"
	"fmt"

	"github.com/ntfind/ntfind"
)

// BootSectorSize is the byte length of the volume boot sector.
const BootSectorSize = 512

const ntfsOEM = "NTFS    "

// BootSector carries the geometry needed to locate and walk the MFT.
type BootSector struct {
	BytesPerSector    uint32
	SectorsPerCluster uint32
	ClusterSize       uint32
	MftCluster        uint64
	MftOffset         uint64 // byte offset of the first MFT record
	RecordSize        uint32 // bytes per FILE record segment
}

// ParseBootSector reads volume geometry from the first sector.
func ParseBootSector(b []byte) (*BootSector, error) {
	if len(b) < BootSectorSize {
		return nil, fmt.Errorf("boot sector: %w: %d bytes", ntfind.ErrParse, len(b))
	}
	if string(b[3:11]) != ntfsOEM {
		return nil, fmt.Errorf("boot sector: %w: OEM id %q is not NTFS", ntfind.ErrParse, b[3:11])
	}

	bps := uint32(binary.LittleEndian.Uint16(b[11:13]))
	if bps == 0 || bps&(bps-1) != 0 {
		return nil, fmt.Errorf("boot sector: %w: bytes per sector %d", ntfind.ErrParse, bps)
	}

	// Values above 0x80 encode two's-complement exponents for large clusters.
	spcRaw := b[13]
	var spc uint32
	if spcRaw > 0x80 {
		spc = 1 << (256 - uint32(spcRaw))
	} else {
		spc = uint32(spcRaw)
	}
	if spc == 0 {
		return nil, fmt.Errorf("boot sector: %w: zero sectors per cluster", ntfind.ErrParse)
	}

	clusterSize := bps * spc
	mftCluster := binary.LittleEndian.Uint64(b[48:56])

	// Positive values count clusters; negative values n mean 2^(-n) bytes.
	recRaw := int8(b[64])
	var recordSize uint32
	if recRaw < 0 {
		recordSize = 1 << uint32(-recRaw)
	} else {
		recordSize = uint32(recRaw) * clusterSize
	}
	if recordSize == 0 || recordSize > 1<<20 {
		return nil, fmt.Errorf("boot sector: %w: record size %d", ntfind.ErrParse, recordSize)
	}

	return &BootSector{
		BytesPerSector:    bps,
		SectorsPerCluster: spc,
		ClusterSize:       clusterSize,
		MftCluster:        mftCluster,
		MftOffset:         mftCluster * uint64(clusterSize),
		RecordSize:        recordSize,
	}, nil
}
