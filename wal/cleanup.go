package wal

import (
	"fmt"
	"os"
	"time"
)

// RetentionConfig controls how long journal files are kept.
type RetentionConfig struct {
	RetentionDays int
}

// CleanupStats tracks cleanup operation results
type CleanupStats struct {
	FilesRemoved int
	BytesFreed   int64
}

// Cleanup removes journal files last modified before the retention
// window. The file currently being written is never old enough to match.
// A zero or negative retention keeps everything.
func Cleanup(dir string, cfg RetentionConfig) (CleanupStats, error) {
	var stats CleanupStats
	if cfg.RetentionDays <= 0 {
		return stats, nil
	}

	files, err := Files(dir)
	if err != nil {
		return stats, err
	}

	cutoff := time.Now().AddDate(0, 0, -cfg.RetentionDays)
	for _, file := range files {
		info, err := os.Stat(file)
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(file); err != nil {
			return stats, fmt.Errorf("failed to remove %s: %w", file, err)
		}
		stats.FilesRemoved++
		stats.BytesFreed += info.Size()
	}
	return stats, nil
}
