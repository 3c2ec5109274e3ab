package service

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/controlforge/controlforge/internal/config"
	"github.com/controlforge/controlforge/internal/model"
)

func TestAuditRecordPersists(t *testing.T) {
	store, err := config.NewStore(config.StoreConfig{})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer store.Close()

	audit := NewAuditService(store, slog.New(slog.NewTextHandler(io.Discard, nil)))
	p := &Principal{UserID: "user-1", OrgID: "org-1", Email: "admin@example.com", Role: model.RoleAdmin}

	audit.Record(p, "api_key.created", "api_key", "key-1", map[string]any{"name": "ci"})
	audit.Wait()

	events, err := store.ListAuditEvents(context.Background(), "org-1", 10)
	if err != nil {
		t.Fatalf("ListAuditEvents: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	ev := events[0]
	if ev.Action != "api_key.created" || ev.TargetType != "api_key" || ev.TargetID != "key-1" {
		t.Errorf("event = %+v", ev)
	}
	if ev.ActorID != "user-1" || ev.ActorEmail != "admin@example.com" {
		t.Errorf("actor = %q/%q", ev.ActorID, ev.ActorEmail)
	}
	if ev.Metadata["name"] != "ci" {
		t.Errorf("metadata = %v", ev.Metadata)
	}
}

func TestAuditRecordNilPrincipal(t *testing.T) {
	store, err := config.NewStore(config.StoreConfig{})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer store.Close()

	audit := NewAuditService(store, nil)
	audit.Record(nil, "organization.updated", "organization", "org-1", nil)
	audit.Wait()

	events, err := store.ListAuditEvents(context.Background(), "org-1", 10)
	if err != nil {
		t.Fatalf("ListAuditEvents: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("got %d events, want none", len(events))
	}
}

func TestAuditRecordSwallowsStoreErrors(t *testing.T) {
	store, err := config.NewStore(config.StoreConfig{})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	store.Close()

	audit := NewAuditService(store, slog.New(slog.NewTextHandler(io.Discard, nil)))
	p := &Principal{UserID: "u", OrgID: "o", Email: "e@x", Role: model.RoleAdmin}

	// Must not panic or block even though every write fails.
	audit.Record(p, "organization.created", "organization", "org-1", nil)
	audit.Wait()
}
