package store

import (
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(dsn)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertAndFindAgent(t *testing.T) {
	s := openTestStore(t)

	if err := s.UpsertAgent("agent-1", "box", "admin-tok", "share-tok"); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	id, ok, err := s.FindByAdminToken("admin-tok")
	if err != nil || !ok || id != "agent-1" {
		t.Fatalf("find by admin token: id=%q ok=%v err=%v", id, ok, err)
	}

	id, ok, err = s.FindByShareToken("share-tok")
	if err != nil || !ok || id != "agent-1" {
		t.Fatalf("find by share token: id=%q ok=%v err=%v", id, ok, err)
	}

	if _, ok, _ := s.FindByAdminToken("wrong-tok"); ok {
		t.Fatal("expected no match for wrong token")
	}
}

func TestUpsertAgentOverwritesOnReregister(t *testing.T) {
	s := openTestStore(t)
	if err := s.UpsertAgent("agent-1", "box", "admin-1", "share-1"); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.UpsertAgent("agent-1", "box-renamed", "admin-2", "share-2"); err != nil {
		t.Fatalf("re-upsert: %v", err)
	}
	rec, err := s.FindByID("agent-1")
	if err != nil || rec == nil {
		t.Fatalf("find by id: %+v err=%v", rec, err)
	}
	if rec.Name != "box-renamed" {
		t.Fatalf("expected updated name, got %q", rec.Name)
	}
	if _, ok, _ := s.FindByAdminToken("admin-1"); ok {
		t.Fatal("old admin token should no longer match")
	}
}

func TestAgentTagsCRUD(t *testing.T) {
	s := openTestStore(t)
	if err := s.UpsertAgent("agent-1", "box", "a", "b"); err != nil {
		t.Fatal(err)
	}
	if err := s.AddAgentTag("agent-1", "prod"); err != nil {
		t.Fatalf("add tag: %v", err)
	}
	if err := s.AddAgentTag("agent-1", "gpu"); err != nil {
		t.Fatalf("add tag: %v", err)
	}
	tags, err := s.GetAgentTags("agent-1")
	if err != nil || len(tags) != 2 {
		t.Fatalf("expected 2 tags, got %v err=%v", tags, err)
	}
	if err := s.RemoveAgentTag("agent-1", "gpu"); err != nil {
		t.Fatalf("remove tag: %v", err)
	}
	tags, err = s.GetAgentTags("agent-1")
	if err != nil || len(tags) != 1 || tags[0] != "prod" {
		t.Fatalf("expected [prod], got %v err=%v", tags, err)
	}
}

func TestTerminalHistoryRingTrim(t *testing.T) {
	s := openTestStore(t)
	// 1 KiB buffer limit: write five 300-byte chunks (1500 bytes total),
	// which must trim down to <= 90% of 1024 bytes (921 bytes).
	for i := 0; i < 5; i++ {
		if err := s.SaveTerminalHistory("inst-1", "ZGF0YQ==", 300, 1); err != nil {
			t.Fatalf("save history: %v", err)
		}
	}
	recs, err := s.GetTerminalHistory("inst-1")
	if err != nil {
		t.Fatalf("get history: %v", err)
	}
	var total int
	for _, r := range recs {
		total += r.ByteSize
	}
	if total > 921 {
		t.Fatalf("expected trimmed total <= 921 bytes, got %d", total)
	}
}

func TestDeleteTerminalHistory(t *testing.T) {
	s := openTestStore(t)
	if err := s.SaveTerminalHistory("inst-1", "ZGF0YQ==", 4, 1024); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteTerminalHistory("inst-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	recs, err := s.GetTerminalHistory("inst-1")
	if err != nil || len(recs) != 0 {
		t.Fatalf("expected no history after delete, got %v err=%v", recs, err)
	}
}

func TestAuditLogPagination(t *testing.T) {
	s := openTestStore(t)
	for i := 0; i < 3; i++ {
		if err := s.InsertAuditLog(AuditEntry{EventType: "auth_success", UserRole: "admin", ClientIP: "127.0.0.1", Success: true}); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	records, total, err := s.GetAuditLogs("auth_success", 2, 0)
	if err != nil {
		t.Fatalf("get audit logs: %v", err)
	}
	if total != 3 {
		t.Fatalf("expected total 3, got %d", total)
	}
	if len(records) != 2 {
		t.Fatalf("expected page of 2, got %d", len(records))
	}
}
