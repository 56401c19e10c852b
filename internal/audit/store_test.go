package audit

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/SatoKazuma1/wake-on-lan-bot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "nested", "audit.db"), testLogger())
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestLogAuditAndRecent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	entries := []domain.AuditEntry{
		{IntentID: "i1", Caller: "42", Action: domain.AuditConfirmRequested, Code: "power_restart", Result: "ok"},
		{IntentID: "i2", Caller: "42", Action: domain.AuditConfirmed, Code: "power_restart", Result: "ok", Details: "restart issued"},
		{IntentID: "i3", Caller: "7", Action: domain.AuditDenied, Result: "denied"},
	}
	for _, e := range entries {
		if err := s.LogAudit(ctx, e); err != nil {
			t.Fatalf("LogAudit: %v", err)
		}
	}

	got, err := s.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if got[0].IntentID != "i3" || got[0].Action != domain.AuditDenied {
		t.Fatalf("newest entry first, got %+v", got[0])
	}
	if got[1].Details != "restart issued" || got[1].Code != "power_restart" {
		t.Fatalf("unexpected second entry %+v", got[1])
	}
}

func TestPrune(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := domain.AuditEntry{Action: domain.AuditExecuted, CreatedAt: time.Now().UTC().Add(-48 * time.Hour)}
	fresh := domain.AuditEntry{Action: domain.AuditExecuted}
	if err := s.LogAudit(ctx, old); err != nil {
		t.Fatal(err)
	}
	if err := s.LogAudit(ctx, fresh); err != nil {
		t.Fatal(err)
	}

	n, err := s.Prune(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 pruned row, got %d", n)
	}
	rest, _ := s.Recent(ctx, 10)
	if len(rest) != 1 {
		t.Fatalf("expected 1 remaining row, got %d", len(rest))
	}
}
