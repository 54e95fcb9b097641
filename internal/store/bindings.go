package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrUnknownService is returned when a cluster service id resolves to
// nothing. Distinct from a service with zero active bindings.
var ErrUnknownService = errors.New("unknown cluster service")

// Binding associates a device with a cluster service: which host to reach
// it on and over which protocol. Bindings are administered externally; the
// sync engine only reads the active set.
type Binding struct {
	ServiceID string
	DeviceID  string
	Protocol  string
	Host      string
	Port      int
	Active    bool
}

// UpsertClusterService creates or renames a cluster service.
func (s *Store) UpsertClusterService(ctx context.Context, id, name string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cluster_services (id, name) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name
	`, id, name)
	if err != nil {
		return fmt.Errorf("upsert cluster service: %w", err)
	}
	return nil
}

// UpsertBinding creates or updates a device binding on a cluster service.
// The service must already exist.
func (s *Store) UpsertBinding(ctx context.Context, b Binding) error {
	active := 0
	if b.Active {
		active = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cluster_bindings (service_id, device_id, protocol, host, port, active)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(service_id, device_id) DO UPDATE SET
			protocol = excluded.protocol,
			host = excluded.host,
			port = excluded.port,
			active = excluded.active
	`, b.ServiceID, b.DeviceID, b.Protocol, b.Host, b.Port, active)
	if err != nil {
		return fmt.Errorf("upsert binding: %w", err)
	}
	return nil
}

// DisableBinding marks a device binding inactive, removing the device from
// service without forgetting its transport configuration.
func (s *Store) DisableBinding(ctx context.Context, serviceID, deviceID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE cluster_bindings SET active = 0
		WHERE service_id = ? AND device_id = ?
	`, serviceID, deviceID)
	if err != nil {
		return fmt.Errorf("disable binding: %w", err)
	}
	return nil
}

// ActiveBindings returns the active device bindings of a cluster service,
// ordered by device id for deterministic leader failover. Returns
// ErrUnknownService when the service does not exist; a known service with
// nothing in service returns an empty slice.
func (s *Store) ActiveBindings(ctx context.Context, serviceID string) ([]Binding, error) {
	var name string
	err := s.db.QueryRowContext(ctx, `
		SELECT name FROM cluster_services WHERE id = ?
	`, serviceID).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("cluster service %q: %w", serviceID, ErrUnknownService)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve cluster service: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT service_id, device_id, protocol, host, port
		FROM cluster_bindings
		WHERE service_id = ? AND active = 1
		ORDER BY device_id COLLATE BINARY ASC
	`, serviceID)
	if err != nil {
		return nil, fmt.Errorf("active bindings: %w", err)
	}
	defer rows.Close()

	var out []Binding
	for rows.Next() {
		b := Binding{Active: true}
		if err := rows.Scan(&b.ServiceID, &b.DeviceID, &b.Protocol, &b.Host, &b.Port); err != nil {
			return nil, fmt.Errorf("scan binding: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bindings: %w", err)
	}

	return out, nil
}
