package config

import "time"

// Scan modes. Fast mode enumerates names, parents and directory flags
// through the change journal's bulk API; full mode walks every MFT record
// through the raw volume reader and also extracts sizes and timestamps.
const (
	ScanModeFull = "full"
	ScanModeFast = "fast"
)

// Default configuration constants. See [Config] for field descriptions.
const (
	// DefaultDataDirName is created under the user's home directory.
	DefaultDataDirName = ".ntfind"

	// DefaultScanMode trades scan time for complete metadata.
	DefaultScanMode = ScanModeFull

	// DefaultPollInterval is the change journal poll cadence.
	DefaultPollInterval = 500 * time.Millisecond

	// DefaultBatchSize bounds how many change events one poll cycle applies.
	DefaultBatchSize = 1024

	// DefaultSearchLimit is the number of results a query materializes.
	DefaultSearchLimit = 50

	// DefaultFilenameWeight multiplies name-match scores so filename hits
	// outrank path-only hits.
	DefaultFilenameWeight = 2

	// DefaultPersist enables saving indexes and bookmarks to the data dir.
	DefaultPersist = true
)
