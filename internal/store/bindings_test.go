package store

import (
	"context"
	"errors"
	"testing"
)

func TestActiveBindings_UnknownService(t *testing.T) {
	s := openStore(t)

	_, err := s.ActiveBindings(context.Background(), "nope")
	if !errors.Is(err, ErrUnknownService) {
		t.Fatalf("ActiveBindings() = %v, want ErrUnknownService", err)
	}
}

func TestActiveBindings_OrderedAndFiltered(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	mustSeedService(t, s, "svc",
		Binding{DeviceID: "web002", Protocol: "ssh", Host: "host2", Port: 22, Active: true},
		Binding{DeviceID: "web001", Protocol: "ssh", Host: "host1", Port: 2222, Active: true},
		Binding{DeviceID: "web003", Protocol: "http", Host: "host3", Port: 80, Active: false},
	)

	bindings, err := s.ActiveBindings(ctx, "svc")
	if err != nil {
		t.Fatalf("ActiveBindings() failed: %v", err)
	}
	if len(bindings) != 2 {
		t.Fatalf("ActiveBindings() = %d bindings, want 2", len(bindings))
	}
	if bindings[0].DeviceID != "web001" || bindings[1].DeviceID != "web002" {
		t.Errorf("bindings not ordered by device: %q, %q", bindings[0].DeviceID, bindings[1].DeviceID)
	}
	if bindings[0].Port != 2222 {
		t.Errorf("port = %d, want 2222", bindings[0].Port)
	}
}

func TestDisableBinding(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	mustSeedService(t, s, "svc",
		Binding{DeviceID: "web001", Protocol: "ssh", Host: "host1", Port: 22, Active: true},
		Binding{DeviceID: "web002", Protocol: "ssh", Host: "host2", Port: 22, Active: true},
	)

	if err := s.DisableBinding(ctx, "svc", "web002"); err != nil {
		t.Fatalf("DisableBinding() failed: %v", err)
	}

	bindings, err := s.ActiveBindings(ctx, "svc")
	if err != nil {
		t.Fatalf("ActiveBindings() failed: %v", err)
	}
	if len(bindings) != 1 || bindings[0].DeviceID != "web001" {
		t.Errorf("ActiveBindings() after disable = %+v", bindings)
	}
}

func TestUpsertBinding_UpdatesTransport(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	mustSeedService(t, s, "svc",
		Binding{DeviceID: "web001", Protocol: "http", Host: "old", Port: 80, Active: true},
	)
	if err := s.UpsertBinding(ctx, Binding{
		ServiceID: "svc", DeviceID: "web001", Protocol: "ssh", Host: "new", Port: 22, Active: true,
	}); err != nil {
		t.Fatalf("UpsertBinding() failed: %v", err)
	}

	bindings, err := s.ActiveBindings(ctx, "svc")
	if err != nil {
		t.Fatalf("ActiveBindings() failed: %v", err)
	}
	if len(bindings) != 1 {
		t.Fatalf("ActiveBindings() = %d bindings, want 1", len(bindings))
	}
	b := bindings[0]
	if b.Protocol != "ssh" || b.Host != "new" || b.Port != 22 {
		t.Errorf("binding not updated: %+v", b)
	}
}
