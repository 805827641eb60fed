// ABOUTME: Detects writes made to the database file by other processes
// ABOUTME: Polls PRAGMA data_version and broadcasts a table-wide update when it moves
package backend

import (
	"context"
	"database/sql"
	"time"
)

// DataVersion reads SQLite's per-connection data_version, which changes
// only when another connection commits to the file.
func DataVersion(ctx context.Context, database *sql.DB) (int64, error) {
	var v int64
	err := database.QueryRowContext(ctx, "PRAGMA data_version").Scan(&v)
	return v, err
}

// WatchExternal blocks until ctx is cancelled, polling every interval.
// A change seen in the version token is debounced for one interval and
// then broadcast to every subscriber, since the writer is unknown.
func (s *Service) WatchExternal(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	database := s.repo.DB()

	last, err := DataVersion(ctx, database)
	if err != nil {
		s.logger.Warn("initial data_version check failed", "err", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	pending := false
	s.logger.Debug("watching for external writes", "interval", interval)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cur, err := DataVersion(ctx, database)
			if err != nil {
				if ctx.Err() == nil {
					s.logger.Warn("data_version check failed", "err", err)
				}
				continue
			}
			if cur != last {
				last = cur
				pending = true
				continue
			}
			if pending {
				pending = false
				s.logger.Info("external write detected")
				s.Broadcast("")
			}
		}
	}
}
