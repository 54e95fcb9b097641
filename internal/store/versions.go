package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// WriteProperties describes an in-flight write: who is writing, when the
// write started, and which device it originated on.
//
// The row payload is free-form JSON. Fields this version of the code does
// not know about are kept in Extra and written back untouched, so newer
// writers and older readers can share a database.
type WriteProperties struct {
	UserID   string
	Epoch    int64
	DeviceID string

	// Extra holds unrecognized payload fields for round-tripping.
	Extra map[string]json.RawMessage
}

// knownPropertyKeys are the payload fields owned by this version of the code.
var knownPropertyKeys = map[string]bool{
	"userID":   true,
	"epoch":    true,
	"deviceID": true,
}

// MarshalJSON merges the typed fields with any retained unknown fields.
func (p WriteProperties) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(p.Extra)+3)
	for k, v := range p.Extra {
		if !knownPropertyKeys[k] {
			out[k] = v
		}
	}
	var err error
	if out["userID"], err = json.Marshal(p.UserID); err != nil {
		return nil, err
	}
	if out["epoch"], err = json.Marshal(p.Epoch); err != nil {
		return nil, err
	}
	if out["deviceID"], err = json.Marshal(p.DeviceID); err != nil {
		return nil, err
	}
	return json.Marshal(out)
}

// UnmarshalJSON extracts the typed fields and retains everything else.
func (p *WriteProperties) UnmarshalJSON(data []byte) error {
	raw := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if v, ok := raw["userID"]; ok {
		if err := json.Unmarshal(v, &p.UserID); err != nil {
			return err
		}
	}
	if v, ok := raw["epoch"]; ok {
		if err := json.Unmarshal(v, &p.Epoch); err != nil {
			return err
		}
	}
	if v, ok := raw["deviceID"]; ok {
		if err := json.Unmarshal(v, &p.DeviceID); err != nil {
			return err
		}
	}
	for k := range knownPropertyKeys {
		delete(raw, k)
	}
	if len(raw) > 0 {
		p.Extra = raw
	}
	return nil
}

// VersionRow is one (repository, device) working copy version record.
type VersionRow struct {
	RepositoryID string
	DeviceID     string
	Version      int64
	IsWriting    bool
	WriteOwner   string

	// WriteProperties is nil unless a write marker is present.
	WriteProperties *WriteProperties
}

// LoadVersions returns all version rows for a repository, keyed by device.
// Read-only and non-locking; returns an empty map when the repository has
// no rows (no leader is known).
func (s *Store) LoadVersions(ctx context.Context, repositoryID string) (map[string]VersionRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT repository_id, device_id, version, is_writing, write_properties, write_owner
		FROM working_copy_versions
		WHERE repository_id = ?
		ORDER BY device_id COLLATE BINARY ASC
	`, repositoryID)
	if err != nil {
		return nil, fmt.Errorf("load versions: %w", err)
	}
	defer rows.Close()

	out := map[string]VersionRow{}
	for rows.Next() {
		var (
			row   VersionRow
			props sql.NullString
		)
		var writing int
		if err := rows.Scan(&row.RepositoryID, &row.DeviceID, &row.Version, &writing, &props, &row.WriteOwner); err != nil {
			return nil, fmt.Errorf("scan version row: %w", err)
		}
		row.IsWriting = writing != 0
		if props.Valid && props.String != "" {
			p := &WriteProperties{}
			if err := json.Unmarshal([]byte(props.String), p); err != nil {
				return nil, fmt.Errorf("decode write properties for device %q: %w", row.DeviceID, err)
			}
			row.WriteProperties = p
		}
		out[row.DeviceID] = row
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate version rows: %w", err)
	}

	return out, nil
}

// UpdateVersion upserts the version for a (repository, device) pair and
// clears any write marker. Only valid outside a held write; writes go
// through WillWrite/DidWrite instead.
func (s *Store) UpdateVersion(ctx context.Context, repositoryID, deviceID string, version int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO working_copy_versions
			(repository_id, device_id, version, is_writing, write_properties, write_owner)
		VALUES (?, ?, ?, 0, NULL, '')
		ON CONFLICT(repository_id, device_id) DO UPDATE SET
			version = excluded.version,
			is_writing = 0,
			write_properties = NULL,
			write_owner = ''
	`, repositoryID, deviceID, version)
	if err != nil {
		return fmt.Errorf("update version: %w", err)
	}
	return nil
}

// WillWrite upserts the durable write marker for a (repository, device)
// pair: is_writing becomes true with the given properties and owner token.
//
// When conn is non-nil the statement executes on that connection - the one
// holding the repository write lock - so the marker and the lock commit
// together. A nil conn falls back to the pool.
func (s *Store) WillWrite(ctx context.Context, conn *sql.Conn, repositoryID, deviceID string, props WriteProperties, owner string) error {
	payload, err := json.Marshal(props)
	if err != nil {
		return fmt.Errorf("will write: encode properties: %w", err)
	}

	const stmt = `
		INSERT INTO working_copy_versions
			(repository_id, device_id, version, is_writing, write_properties, write_owner)
		VALUES (?, ?, 0, 1, ?, ?)
		ON CONFLICT(repository_id, device_id) DO UPDATE SET
			is_writing = 1,
			write_properties = excluded.write_properties,
			write_owner = excluded.write_owner
	`
	if conn != nil {
		_, err = conn.ExecContext(ctx, stmt, repositoryID, deviceID, string(payload), owner)
	} else {
		_, err = s.db.ExecContext(ctx, stmt, repositoryID, deviceID, string(payload), owner)
	}
	if err != nil {
		return fmt.Errorf("will write: %w", err)
	}
	return nil
}

// DidWrite clears the write marker and advances the version, but only if
// the row's owner token matches. A mismatched token means another actor has
// taken over the row; the call is a no-op and reports updated=false.
//
// The conditional update is what makes AfterWrite retries safe.
func (s *Store) DidWrite(ctx context.Context, repositoryID, deviceID string, oldVersion, newVersion int64, owner string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE working_copy_versions
		SET version = ?, is_writing = 0, write_properties = NULL, write_owner = ''
		WHERE repository_id = ? AND device_id = ? AND write_owner = ?
	`, newVersion, repositoryID, deviceID, owner)
	if err != nil {
		return false, fmt.Errorf("did write: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("did write: rows affected: %w", err)
	}
	return n > 0, nil
}

// ClearWriteMarker is the operator escape hatch for a frozen repository:
// it drops the write marker for a device without touching the version.
// Reports whether a marker was present.
func (s *Store) ClearWriteMarker(ctx context.Context, repositoryID, deviceID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE working_copy_versions
		SET is_writing = 0, write_properties = NULL, write_owner = ''
		WHERE repository_id = ? AND device_id = ? AND is_writing = 1
	`, repositoryID, deviceID)
	if err != nil {
		return false, fmt.Errorf("clear write marker: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("clear write marker: rows affected: %w", err)
	}
	return n > 0, nil
}
