package server

import (
	"errors"
	"testing"
	"time"

	"github.com/shelltether/shelltether/internal/tokenauth"
	"github.com/shelltether/shelltether/internal/tunnelerr"
)

func newTestPeer() *Peer {
	return newPeer()
}

func TestRegisterAndUnregisterAgent(t *testing.T) {
	s := NewState(nil)
	peer := newTestPeer()
	s.RegisterAgent("agent-1", "box", "admin-hash", "share-hash", peer)

	if !s.IsAgentOnline("agent-1") {
		t.Fatal("expected agent-1 online")
	}
	name, status, ok := s.GetAgent("agent-1")
	if !ok || name != "box" || status != AgentOnline {
		t.Fatalf("unexpected agent entry: name=%q status=%v ok=%v", name, status, ok)
	}

	s.UnregisterAgent("agent-1")
	if s.IsAgentOnline("agent-1") {
		t.Fatal("expected agent-1 offline after unregister")
	}
}

func TestRestoreInstanceRequiresSuspendedStatus(t *testing.T) {
	s := NewState(nil)
	s.RegisterAgent("agent-1", "box", "a", "b", newTestPeer())
	s.AddInstance("agent-1", "inst-1", "/tmp")

	if s.RestoreInstance("agent-1", "inst-1") {
		t.Fatal("expected restore to fail on a Running instance")
	}

	s.UpdateAgentInstancesStatus("agent-1", InstanceSuspended)
	if !s.RestoreInstance("agent-1", "inst-1") {
		t.Fatal("expected restore to succeed on a Suspended instance")
	}

	instances := s.GetInstances("agent-1")
	if len(instances) != 1 || instances[0].Status != InstanceRunning {
		t.Fatalf("expected restored instance Running, got %+v", instances)
	}
}

func TestAttachDetachTracksUserCount(t *testing.T) {
	s := NewState(nil)
	s.RegisterAgent("agent-1", "box", "a", "b", newTestPeer())
	s.AddInstance("agent-1", "inst-1", "/tmp")
	s.RegisterUser("sess-1", tokenauth.RoleAdmin, "agent-1", newTestPeer())

	count, err := s.AttachUserToInstance("sess-1", "inst-1")
	if err != nil || count != 1 {
		t.Fatalf("expected count 1, got %d err=%v", count, err)
	}

	count, err = s.DetachUserFromInstance("sess-1", "inst-1")
	if err != nil || count != 0 {
		t.Fatalf("expected count 0, got %d err=%v", count, err)
	}
}

func TestUnregisterUserDecrementsAttachedInstances(t *testing.T) {
	s := NewState(nil)
	s.RegisterAgent("agent-1", "box", "a", "b", newTestPeer())
	s.AddInstance("agent-1", "inst-1", "/tmp")
	s.RegisterUser("sess-1", tokenauth.RoleUser, "agent-1", newTestPeer())
	if _, err := s.AttachUserToInstance("sess-1", "inst-1"); err != nil {
		t.Fatal(err)
	}

	s.UnregisterUser("sess-1")
	if got := s.GetInstanceUserCount("inst-1"); got != 0 {
		t.Fatalf("expected 0 attached users after unregister, got %d", got)
	}
}

func TestGetEffectiveAgentIDSuperAdminUsesWorkingAgent(t *testing.T) {
	s := NewState(nil)
	s.RegisterAgent("agent-1", "box", "a", "b", newTestPeer())
	s.RegisterUser("sess-1", tokenauth.RoleSuperAdmin, "", newTestPeer())

	if _, ok := s.GetEffectiveAgentID("sess-1"); ok {
		t.Fatal("expected no effective agent before selection")
	}

	s.SetWorkingAgent("sess-1", "agent-1")
	id, ok := s.GetEffectiveAgentID("sess-1")
	if !ok || id != "agent-1" {
		t.Fatalf("expected agent-1, got %q ok=%v", id, ok)
	}

	s.ClearWorkingAgent("sess-1")
	if _, ok := s.GetEffectiveAgentID("sess-1"); ok {
		t.Fatal("expected no effective agent after clear")
	}
}

func TestGetEffectiveAgentIDNonSuperAdminUsesBoundAgent(t *testing.T) {
	s := NewState(nil)
	s.RegisterUser("sess-1", tokenauth.RoleAdmin, "agent-1", newTestPeer())

	id, ok := s.GetEffectiveAgentID("sess-1")
	if !ok || id != "agent-1" {
		t.Fatalf("expected agent-1, got %q ok=%v", id, ok)
	}

	// SetWorkingAgent is a no-op for non-SuperAdmin roles.
	s.SetWorkingAgent("sess-1", "agent-2")
	id, ok = s.GetEffectiveAgentID("sess-1")
	if !ok || id != "agent-1" {
		t.Fatalf("expected bound agent-1 unaffected by SetWorkingAgent, got %q", id)
	}
}

func TestCleanupExpiredSuspendedInstancesUsesCreatedAt(t *testing.T) {
	s := NewState(nil)
	s.RegisterAgent("agent-1", "box", "a", "b", newTestPeer())
	s.AddInstance("agent-1", "inst-old", "/tmp")
	s.AddInstance("agent-1", "inst-new", "/tmp")
	s.UpdateAgentInstancesStatus("agent-1", InstanceSuspended)

	// Backdate inst-old's created_at directly to simulate age.
	s.mu.Lock()
	s.agents["agent-1"].Instances["inst-old"].CreatedAt = time.Now().Add(-2 * time.Hour)
	s.mu.Unlock()

	removed := s.CleanupExpiredSuspendedInstances(30 * time.Minute)
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
	remaining := s.GetInstances("agent-1")
	if len(remaining) != 1 || remaining[0].ID != "inst-new" {
		t.Fatalf("expected only inst-new to remain, got %+v", remaining)
	}
}

func TestBroadcastToAgentUsersIncludesUnboundSuperAdmin(t *testing.T) {
	s := NewState(nil)
	adminPeer := newTestPeer()
	superPeer := newTestPeer()
	otherPeer := newTestPeer()
	s.RegisterUser("admin-sess", tokenauth.RoleAdmin, "agent-1", adminPeer)
	s.RegisterUser("super-sess", tokenauth.RoleSuperAdmin, "", superPeer)
	s.RegisterUser("other-sess", tokenauth.RoleAdmin, "agent-2", otherPeer)

	s.BroadcastToAgentUsers("agent-1", struct {
		Type string `json:"type"`
	}{Type: "agent_status_changed"})

	select {
	case <-adminPeer.ch:
	default:
		t.Fatal("expected bound admin session to receive broadcast")
	}
	select {
	case <-superPeer.ch:
	default:
		t.Fatal("expected unbound super-admin session to receive broadcast")
	}
	select {
	case <-otherPeer.ch:
		t.Fatal("other agent's session should not receive the broadcast")
	default:
	}
}

func TestSendToAgentReturnsAgentOfflineForUnknownAgent(t *testing.T) {
	s := NewState(nil)
	err := s.SendToAgent("no-such-agent", struct{}{})
	if !errors.Is(err, tunnelerr.ErrAgentOffline) {
		t.Fatalf("expected ErrAgentOffline, got %v", err)
	}
}

func TestAttachUserToInstanceReturnsInstanceNotFound(t *testing.T) {
	s := NewState(nil)
	s.RegisterUser("sess-1", tokenauth.RoleUser, "agent-1", newTestPeer())
	_, err := s.AttachUserToInstance("sess-1", "no-such-instance")
	if !errors.Is(err, tunnelerr.ErrInstanceNotFound) {
		t.Fatalf("expected ErrInstanceNotFound, got %v", err)
	}
}

func TestAdminStatsAggregatesAcrossAgents(t *testing.T) {
	s := NewState(nil)
	s.RegisterAgent("agent-1", "box1", "a", "b", newTestPeer())
	s.RegisterAgent("agent-2", "box2", "c", "d", newTestPeer())
	s.AddInstance("agent-1", "inst-1", "/tmp")
	s.AddInstance("agent-1", "inst-2", "/tmp")
	s.RegisterUser("sess-1", tokenauth.RoleAdmin, "agent-1", newTestPeer())

	infos, global := s.AdminStats()
	if global.TotalAgents != 2 || global.OnlineAgents != 2 {
		t.Fatalf("unexpected global stats: %+v", global)
	}
	if global.TotalInstances != 2 || global.RunningInstances != 2 {
		t.Fatalf("unexpected instance stats: %+v", global)
	}
	if global.TotalUsers != 1 {
		t.Fatalf("expected 1 total user, got %d", global.TotalUsers)
	}
	if len(infos) != 2 {
		t.Fatalf("expected 2 agent infos, got %d", len(infos))
	}
}
