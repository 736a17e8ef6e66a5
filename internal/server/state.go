// Package server implements the routing core's server half: the agent
// and user session registries with suspend/restore logic (C6), the
// agent-side and user-side channel handlers (C7, C8), and the
// background reapers (C9).
package server

import (
	"fmt"
	"sync"
	"time"

	"github.com/shelltether/shelltether/internal/proto"
	"github.com/shelltether/shelltether/internal/store"
	"github.com/shelltether/shelltether/internal/tokenauth"
	"github.com/shelltether/shelltether/internal/tunnelerr"
)

// AgentStatus is an agent's connectivity state as seen by the server.
type AgentStatus int

const (
	AgentOnline AgentStatus = iota
	AgentOffline
)

func (s AgentStatus) String() string {
	if s == AgentOnline {
		return "online"
	}
	return "offline"
}

// InstanceStatus is a PTY instance's lifecycle state.
type InstanceStatus int

const (
	InstanceRunning InstanceStatus = iota
	InstanceSuspended
	InstanceStopped
)

func (s InstanceStatus) String() string {
	switch s {
	case InstanceRunning:
		return "running"
	case InstanceSuspended:
		return "suspended"
	default:
		return "stopped"
	}
}

// Instance is the server's in-memory view of one agent-owned PTY.
type Instance struct {
	ID                string
	OwningAgentID     string
	Cwd               string
	Status            InstanceStatus
	CreatedAt         time.Time
	AttachedUserCount int
}

// agentEntry is the server's in-memory view of one connected agent.
// It is present in the registry iff its control channel is live.
type agentEntry struct {
	ID             string
	DisplayName    string
	Status         AgentStatus
	ConnectedAt    time.Time
	AdminTokenHash string
	ShareTokenHash string
	Sink           *Peer
	Instances      map[string]*Instance
}

// Session is the server's in-memory view of one authenticated user
// channel.
type Session struct {
	SessionID           string
	Role                tokenauth.Role
	BoundAgentID        string // "" means unbound (SuperAdmin)
	WorkingAgentID      string // SuperAdmin-only override, "" means unset
	AttachedInstanceIDs map[string]struct{}
	Sink                *Peer
}

// State holds the agent registry, the user session registry, and
// orchestrates suspend/restore across agent disconnects. All mutable
// maps share one RWMutex: readers run concurrently, writers are
// exclusive, and the lock is always released before any broadcast so a
// peer Send never happens while the lock is held.
type State struct {
	mu       sync.RWMutex
	agents   map[string]*agentEntry
	sessions map[string]*Session
	repo     *store.Store

	// suspended holds an agent's Instances map across the gap between
	// UnregisterAgent (disconnect) and a later RegisterAgent
	// (reconnect), keyed by agent id. agentEntry itself does not
	// survive disconnect, so without this, RestoreInstance would never
	// find anything to restore: the Suspended instances it depends on
	// would already have been deleted along with the old entry.
	suspended map[string]map[string]*Instance
}

// NewState builds an empty State. repo may be nil; persistence failures
// are then impossible by construction rather than silently swallowed.
func NewState(repo *store.Store) *State {
	return &State{
		agents:    make(map[string]*agentEntry),
		sessions:  make(map[string]*Session),
		repo:      repo,
		suspended: make(map[string]map[string]*Instance),
	}
}

// RegisterAgent overwrites any prior entry for id (a reconnection) and
// marks it Online. Any instances left behind by a prior UnregisterAgent
// call for the same id are adopted into the new entry so RestoreInstance
// can find them. Persistence failures are logged by the caller, never
// propagated to the connection.
func (s *State) RegisterAgent(id, name, adminTokenHash, shareTokenHash string, sink *Peer) {
	s.mu.Lock()
	instances := s.suspended[id]
	delete(s.suspended, id)
	if instances == nil {
		instances = make(map[string]*Instance)
	}
	s.agents[id] = &agentEntry{
		ID:             id,
		DisplayName:    name,
		Status:         AgentOnline,
		ConnectedAt:    time.Now(),
		AdminTokenHash: adminTokenHash,
		ShareTokenHash: shareTokenHash,
		Sink:           sink,
		Instances:      instances,
	}
	s.mu.Unlock()

	s.broadcastToAgentUsers(id, proto.AgentStatusChanged{Type: proto.TypeAgentStatusChanged, AgentID: id, Online: true})
}

// UnregisterAgent removes id from the registry and broadcasts its
// offline status. Its instances (already marked Suspended by the caller's
// preceding UpdateAgentInstancesStatus call) are held in s.suspended so a
// later RegisterAgent for the same id can restore them.
func (s *State) UnregisterAgent(id string) {
	s.mu.Lock()
	if agent, ok := s.agents[id]; ok && len(agent.Instances) > 0 {
		s.suspended[id] = agent.Instances
	}
	delete(s.agents, id)
	s.mu.Unlock()

	s.broadcastToAgentUsers(id, proto.AgentStatusChanged{Type: proto.TypeAgentStatusChanged, AgentID: id, Online: false})
}

// UpdateAgentInstancesStatus sets every instance owned by agentID to
// status. Called just before unregistration so attached users observe
// Suspended, and so a later RestoreInstance call can detect eligibility.
func (s *State) UpdateAgentInstancesStatus(agentID string, status InstanceStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	agent, ok := s.agents[agentID]
	if !ok {
		return
	}
	for _, inst := range agent.Instances {
		inst.Status = status
	}
}

// RestoreInstance flips a Suspended instance back to Running if found,
// reporting whether the adoption happened. A false result means the
// caller should instead treat the id as a brand-new instance.
func (s *State) RestoreInstance(agentID, instanceID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	agent, ok := s.agents[agentID]
	if !ok {
		return false
	}
	inst, ok := agent.Instances[instanceID]
	if !ok || inst.Status != InstanceSuspended {
		return false
	}
	inst.Status = InstanceRunning
	return true
}

// AddInstance inserts a new instance record for agentID.
func (s *State) AddInstance(agentID, instanceID, cwd string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	agent, ok := s.agents[agentID]
	if !ok {
		return
	}
	agent.Instances[instanceID] = &Instance{
		ID:            instanceID,
		OwningAgentID: agentID,
		Cwd:           cwd,
		Status:        InstanceRunning,
		CreatedAt:     time.Now(),
	}
}

// RemoveInstance deletes instanceID from agentID's instance map.
func (s *State) RemoveInstance(agentID, instanceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	agent, ok := s.agents[agentID]
	if !ok {
		return
	}
	delete(agent.Instances, instanceID)
}

// GetInstances returns every instance owned by agentID.
func (s *State) GetInstances(agentID string) []*Instance {
	s.mu.RLock()
	defer s.mu.RUnlock()
	agent, ok := s.agents[agentID]
	if !ok {
		return nil
	}
	out := make([]*Instance, 0, len(agent.Instances))
	for _, inst := range agent.Instances {
		out = append(out, inst)
	}
	return out
}

// FindInstance scans every connected agent for instanceID, returning its
// owning agent id if found.
func (s *State) FindInstance(instanceID string) (agentID string, inst *Instance, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for aid, agent := range s.agents {
		if i, found := agent.Instances[instanceID]; found {
			return aid, i, true
		}
	}
	return "", nil, false
}

// GetAgent returns the agent entry's public fields, or ok=false if
// agentID is not currently connected.
func (s *State) GetAgent(agentID string) (name string, status AgentStatus, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	agent, ok := s.agents[agentID]
	if !ok {
		return "", 0, false
	}
	return agent.DisplayName, agent.Status, true
}

// ConnectedAgents snapshots every connected agent's token hashes, for
// the authenticator's fast path.
func (s *State) ConnectedAgents() []tokenauth.ConnectedAgent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]tokenauth.ConnectedAgent, 0, len(s.agents))
	for _, a := range s.agents {
		out = append(out, tokenauth.ConnectedAgent{ID: a.ID, AdminTokenHash: a.AdminTokenHash, ShareTokenHash: a.ShareTokenHash})
	}
	return out
}

// SendToAgent delivers msg to agentID's sink, erroring if it is not
// connected.
func (s *State) SendToAgent(agentID string, msg any) error {
	s.mu.RLock()
	agent, ok := s.agents[agentID]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", tunnelerr.ErrAgentOffline, agentID)
	}
	return agent.Sink.Send(msg)
}

// RegisterUser inserts a new session. bindAgentID is "" for a
// SuperAdmin; non-SuperAdmin roles always carry one.
func (s *State) RegisterUser(sessionID string, role tokenauth.Role, bindAgentID string, sink *Peer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sessionID] = &Session{
		SessionID:           sessionID,
		Role:                role,
		BoundAgentID:        bindAgentID,
		AttachedInstanceIDs: make(map[string]struct{}),
		Sink:                sink,
	}
}

// UnregisterUser removes a session, decrementing the attached_user_count
// of every instance it was attached to.
func (s *State) UnregisterUser(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return
	}
	for instanceID := range sess.AttachedInstanceIDs {
		for _, agent := range s.agents {
			if inst, found := agent.Instances[instanceID]; found {
				inst.AttachedUserCount--
			}
		}
	}
	delete(s.sessions, sessionID)
}

// SendToUser delivers msg to sessionID's sink, erroring if the session
// is gone.
func (s *State) SendToUser(sessionID string, msg any) error {
	s.mu.RLock()
	sess, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("session %s not found", sessionID)
	}
	return sess.Sink.Send(msg)
}

// GetSession returns a defensive snapshot-free pointer for callers that
// need to read multiple fields under the registry's lock discipline (the
// handler layer only ever reads; State methods remain the sole mutator).
func (s *State) GetSession(sessionID string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	return sess, ok
}

// AttachUserToInstance records the attachment and returns the instance's
// new attached_user_count.
func (s *State) AttachUserToInstance(sessionID, instanceID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return 0, fmt.Errorf("session %s not found", sessionID)
	}
	agentID, inst, ok := s.findInstanceLocked(instanceID)
	if !ok {
		return 0, fmt.Errorf("%w: %s", tunnelerr.ErrInstanceNotFound, instanceID)
	}
	_ = agentID
	sess.AttachedInstanceIDs[instanceID] = struct{}{}
	inst.AttachedUserCount++
	return inst.AttachedUserCount, nil
}

// DetachUserFromInstance is the inverse of AttachUserToInstance.
func (s *State) DetachUserFromInstance(sessionID, instanceID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return 0, fmt.Errorf("session %s not found", sessionID)
	}
	delete(sess.AttachedInstanceIDs, instanceID)
	_, inst, ok := s.findInstanceLocked(instanceID)
	if !ok {
		return 0, nil
	}
	if inst.AttachedUserCount > 0 {
		inst.AttachedUserCount--
	}
	return inst.AttachedUserCount, nil
}

func (s *State) findInstanceLocked(instanceID string) (string, *Instance, bool) {
	for aid, agent := range s.agents {
		if inst, ok := agent.Instances[instanceID]; ok {
			return aid, inst, true
		}
	}
	return "", nil, false
}

// GetInstanceUserCount returns an instance's attached_user_count.
func (s *State) GetInstanceUserCount(instanceID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, inst, ok := s.findInstanceLocked(instanceID)
	if !ok {
		return 0
	}
	return inst.AttachedUserCount
}

// BroadcastToInstance sends msg to every session attached to
// instanceID.
func (s *State) BroadcastToInstance(instanceID string, msg any) {
	s.mu.RLock()
	var targets []*Peer
	for _, sess := range s.sessions {
		if _, attached := sess.AttachedInstanceIDs[instanceID]; attached {
			targets = append(targets, sess.Sink)
		}
	}
	s.mu.RUnlock()

	for _, sink := range targets {
		_ = sink.Send(msg)
	}
}

// broadcastToAgentUsers sends msg to every session bound to agentID plus
// every unbound (SuperAdmin) session.
func (s *State) broadcastToAgentUsers(agentID string, msg any) {
	s.mu.RLock()
	var targets []*Peer
	for _, sess := range s.sessions {
		if sess.BoundAgentID == agentID || sess.BoundAgentID == "" {
			targets = append(targets, sess.Sink)
		}
	}
	s.mu.RUnlock()

	for _, sink := range targets {
		_ = sink.Send(msg)
	}
}

// BroadcastToAgentUsers is the exported form used by the agent-side
// handler for instance_created/instance_closed fan-out (pty_output goes
// through BroadcastToInstance instead).
func (s *State) BroadcastToAgentUsers(agentID string, msg any) {
	s.broadcastToAgentUsers(agentID, msg)
}

// GetEffectiveAgentID resolves the target of an outbound action for a
// session: SuperAdmin uses WorkingAgentID (possibly ""); all other roles
// use BoundAgentID.
func (s *State) GetEffectiveAgentID(sessionID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return "", false
	}
	if sess.Role == tokenauth.RoleSuperAdmin {
		return sess.WorkingAgentID, sess.WorkingAgentID != ""
	}
	return sess.BoundAgentID, sess.BoundAgentID != ""
}

// SetWorkingAgent is a SuperAdmin-only override; a no-op for any other
// role.
func (s *State) SetWorkingAgent(sessionID, agentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok || sess.Role != tokenauth.RoleSuperAdmin {
		return
	}
	sess.WorkingAgentID = agentID
}

// ClearWorkingAgent resets a SuperAdmin's working agent override.
func (s *State) ClearWorkingAgent(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok || sess.Role != tokenauth.RoleSuperAdmin {
		return
	}
	sess.WorkingAgentID = ""
}

// IsAgentOnline reports whether agentID currently has a live channel.
func (s *State) IsAgentOnline(agentID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.agents[agentID]
	return ok
}

// CleanupExpiredSuspendedInstances removes every Suspended instance
// whose CreatedAt is older than timeout, whether its agent is still
// connected (s.agents) or has since disconnected (s.suspended). This
// preserves the original system's observed behavior of measuring from
// CreatedAt rather than a separate suspended-at timestamp; see
// DESIGN.md's open-question entry.
func (s *State) CleanupExpiredSuspendedInstances(timeout time.Duration) int {
	cutoff := time.Now().Add(-timeout)
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for _, agent := range s.agents {
		for id, inst := range agent.Instances {
			if inst.Status == InstanceSuspended && inst.CreatedAt.Before(cutoff) {
				delete(agent.Instances, id)
				removed++
			}
		}
	}
	for agentID, instances := range s.suspended {
		for id, inst := range instances {
			if inst.Status == InstanceSuspended && inst.CreatedAt.Before(cutoff) {
				delete(instances, id)
				removed++
			}
		}
		if len(instances) == 0 {
			delete(s.suspended, agentID)
		}
	}
	return removed
}

// ForceDisconnectAgent removes agentID from the registry without
// waiting for its own channel to notice, and broadcasts its offline
// status. The owning forwarder goroutine observes its sink is gone the
// next time it tries to send and exits.
func (s *State) ForceDisconnectAgent(agentID string) {
	s.UnregisterAgent(agentID)
}

// ForceCloseInstance locates instanceID's owning agent and returns its
// id so the caller can issue a close_instance command; ok is false if
// the instance is not owned by any currently-connected agent.
func (s *State) ForceCloseInstance(instanceID string) (agentID string, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	aid, _, found := s.findInstanceLocked(instanceID)
	return aid, found
}

// AgentInfo is the admin-panel summary row (supplemented from the
// original's AgentInfo / admin stats view).
type AgentInfo struct {
	ID            string
	Name          string
	Status        AgentStatus
	ConnectedAt   time.Time
	InstanceCount int
	UserCount     int
}

// GlobalStats aggregates registry-wide counts (supplemented from the
// original's GlobalStats / get_admin_stats).
type GlobalStats struct {
	TotalAgents      int
	OnlineAgents     int
	TotalInstances   int
	RunningInstances int
	TotalUsers       int
}

// AdminStats returns the admin dashboard's per-agent rows and aggregate
// counts in one consistent snapshot.
func (s *State) AdminStats() ([]AgentInfo, GlobalStats) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var infos []AgentInfo
	var stats GlobalStats
	stats.TotalAgents = len(s.agents)
	for _, agent := range s.agents {
		if agent.Status == AgentOnline {
			stats.OnlineAgents++
		}
		userCount := 0
		for _, sess := range s.sessions {
			if sess.BoundAgentID == agent.ID {
				userCount++
			}
		}
		running := 0
		for _, inst := range agent.Instances {
			stats.TotalInstances++
			if inst.Status == InstanceRunning {
				stats.TotalInstances -= 0 // no-op, keeps intent explicit
				running++
			}
		}
		stats.RunningInstances += running
		infos = append(infos, AgentInfo{
			ID:            agent.ID,
			Name:          agent.DisplayName,
			Status:        agent.Status,
			ConnectedAt:   agent.ConnectedAt,
			InstanceCount: len(agent.Instances),
			UserCount:     userCount,
		})
	}
	stats.TotalUsers = len(s.sessions)
	return infos, stats
}
