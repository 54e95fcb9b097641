package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// PushEvent is one recorded push attempt against a repository. Rejected
// pushes are recorded too: the event id is a "most recent activity" cursor,
// not an "accepted content" cursor.
type PushEvent struct {
	ID           int64
	RepositoryID string
	DeviceID     string
	UserID       string
	Accepted     bool
	Epoch        int64
}

// RecordPushEvent appends a push event and returns its id. Ids are
// monotonic across the whole log; they mint post-write versions.
func (s *Store) RecordPushEvent(ctx context.Context, ev PushEvent) (int64, error) {
	accepted := 0
	if ev.Accepted {
		accepted = 1
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO push_events (repository_id, device_id, user_id, accepted, epoch)
		VALUES (?, ?, ?, ?, ?)
	`, ev.RepositoryID, ev.DeviceID, ev.UserID, accepted, ev.Epoch)
	if err != nil {
		return 0, fmt.Errorf("record push event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("record push event: last insert id: %w", err)
	}
	return id, nil
}

// MostRecentPushEvent returns the id of the newest push event for a
// repository. ok is false when the repository has no recorded pushes.
func (s *Store) MostRecentPushEvent(ctx context.Context, repositoryID string) (int64, bool, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM push_events
		WHERE repository_id = ?
		ORDER BY id DESC
		LIMIT 1
	`, repositoryID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("most recent push event: %w", err)
	}
	return id, true, nil
}
