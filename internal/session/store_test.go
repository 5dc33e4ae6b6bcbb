package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"richfield/internal/editor"
)

func TestMemoryStore(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewMemoryStore()
	m.now = func() time.Time { return now }
	ctx := context.Background()

	if err := m.Save(ctx, snapshot("ses_1", "fld_1"), time.Minute); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := m.Save(ctx, snapshot("ses_2", "fld_1"), time.Hour); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	got, err := m.ListByField(ctx, "fld_1")
	if err != nil || len(got) != 2 {
		t.Fatalf("ListByField() = %+v, %v", got, err)
	}

	now = now.Add(2 * time.Minute)
	if _, err := m.Load(ctx, "ses_1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Load(expired) error = %v", err)
	}
	got, _ = m.ListByField(ctx, "fld_1")
	if len(got) != 1 || got[0].ID != "ses_2" {
		t.Fatalf("ListByField() after expiry = %+v", got)
	}

	if err := m.Delete(ctx, "ses_2"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := m.Load(ctx, "ses_2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Load(deleted) error = %v", err)
	}
}

func TestSnapshotSaved(t *testing.T) {
	snap := snapshot("ses_1", "fld_1")
	c := editor.NewController(editor.Options{})
	c.Restore(snap.Saved())
	if c.State() != editor.Diverged || !c.Dirty() || c.External() != snap.Base {
		t.Fatalf("restored controller = %+v", c.Snapshot())
	}
	if got, _ := c.Apply(); got != snap.Markup {
		t.Fatalf("Apply() = %q, want %q", got, snap.Markup)
	}
}
