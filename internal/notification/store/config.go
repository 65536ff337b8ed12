package store

import "time"

type Config struct {
	// OperationTimeout bounds every backend call on top of the caller's context.
	OperationTimeout time.Duration
	// UnreadScanLimit is how many of the newest index entries CountUnread inspects.
	UnreadScanLimit int64
	// ScanCount is the COUNT hint passed to SCAN during cleanup.
	ScanCount int64
	// MaxUpdateRetries bounds optimistic update retries when a WATCHed record changes.
	MaxUpdateRetries int
}

func DefaultConfig() *Config {
	return &Config{
		OperationTimeout: 3 * time.Second,
		UnreadScanLimit:  1000,
		ScanCount:        100,
		MaxUpdateRetries: 5,
	}
}
