package server

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// RunCleaner periodically removes stored logs older than the retention
// window until ctx ends.
func (s *UploadServer) RunCleaner(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("Cleaner started. Retention: %v, Interval: %v", s.opts.Retention, interval)

	for {
		select {
		case <-ticker.C:
			if s.opts.Retention <= 0 {
				continue
			}
			s.purgeExpiredFiles(time.Now())
		case <-ctx.Done():
			return
		}
	}
}

func (s *UploadServer) purgeExpiredFiles(now time.Time) int {
	entries, err := os.ReadDir(s.opts.DataDir)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("Cleaner error: failed to read data dir: %v", err)
		}
		return 0
	}

	threshold := now.Add(-s.opts.Retention)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".log") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(threshold) {
			continue
		}

		path := filepath.Join(s.opts.DataDir, entry.Name())
		if err := os.Remove(path); err != nil {
			log.Printf("Cleaner error: failed to delete %s: %v", entry.Name(), err)
			continue
		}
		log.Printf("Expired file deleted: %s", entry.Name())
		purgedFiles.Inc()
		removed++
	}
	return removed
}
