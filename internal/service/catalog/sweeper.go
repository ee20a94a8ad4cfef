package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	DefaultOrphanTTL     = 24 * time.Hour
	DefaultSweepInterval = time.Hour
)

// SweepOrphans deletes files in dir that no document row references and
// that were last modified more than ttl ago. It returns the number removed.
func (s *Service) SweepOrphans(ctx context.Context, dir string, ttl time.Duration) (int, error) {
	if ttl <= 0 {
		ttl = DefaultOrphanTTL
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("read upload dir: %w", err)
	}

	referenced, err := s.referencedFiles(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-ttl)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || referenced[entry.Name()] {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.log.Warn("remove orphan upload failed", "path", path, "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		s.log.Info("orphan uploads removed", "count", removed, "dir", dir)
	}
	return removed, nil
}

func (s *Service) referencedFiles(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT original_path FROM documents`)
	if err != nil {
		return nil, fmt.Errorf("list document paths: %w", err)
	}
	defer rows.Close()

	referenced := make(map[string]bool)
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan document path: %w", err)
		}
		referenced[filepath.Base(p)] = true
	}
	return referenced, rows.Err()
}

// StartOrphanSweeper runs SweepOrphans every interval until ctx is done.
func (s *Service) StartOrphanSweeper(ctx context.Context, dir string, ttl, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	go s.sweepLoop(ctx, dir, ttl, interval)
}

func (s *Service) sweepLoop(ctx context.Context, dir string, ttl, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SweepOrphans(ctx, dir, ttl); err != nil {
				s.log.Error("sweep orphan uploads", "error", err)
			}
		}
	}
}
