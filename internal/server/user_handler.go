package server

import (
	"context"
	"encoding/base64"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/shelltether/shelltether/internal/logger"
	"github.com/shelltether/shelltether/internal/proto"
	"github.com/shelltether/shelltether/internal/store"
	"github.com/shelltether/shelltether/internal/tokenauth"
	"github.com/shelltether/shelltether/internal/tunnelerr"
)

// userAuthTimeout bounds how long the server waits for the first
// auth{token} frame on a user channel.
const userAuthTimeout = 30 * time.Second

// HandleUserConn drives one user's control channel end to end: auth,
// session registration, command dispatch under role checks, and audit
// logging. It blocks until the connection closes.
func (srv *Server) HandleUserConn(ctx context.Context, conn *websocket.Conn, r *http.Request) {
	defer conn.CloseNow()

	ip := clientIP(r)

	if srv.Limiter != nil {
		if allowed, err := srv.Limiter.CheckLimit(ip); err != nil || !allowed {
			logger.Warn("user handler: rate limited", "client_ip", ip, "err", tunnelerr.ErrRateLimited)
			return
		}
	}

	authCtx, cancel := context.WithTimeout(ctx, userAuthTimeout)
	_, raw, err := conn.Read(authCtx)
	cancel()
	if err != nil {
		logger.Warn("user handler: no auth frame received", "client_ip", ip, "err", err)
		return
	}
	msg, err := proto.DecodeFromUser(raw)
	if err != nil {
		return
	}
	auth, ok := msg.(proto.Auth)
	if !ok {
		_ = writeFrame(ctx, conn, proto.NewError("first message must be auth"))
		return
	}

	result, ok := srv.Auth.Authenticate(auth.Token)
	if !ok {
		srv.audit(ip, "auth_failure", "", result.Role, "", "", false, "")
		_ = writeFrame(ctx, conn, proto.AuthResult{Type: proto.TypeAuthResult, Success: false})
		return
	}

	sessionID := newSessionID()
	peer := newPeer()
	srv.State.RegisterUser(sessionID, result.Role, result.AgentID, peer)
	defer func() {
		srv.State.UnregisterUser(sessionID)
		peer.Close()
	}()

	var agentName string
	if result.AgentID != "" {
		if name, _, online := srv.State.GetAgent(result.AgentID); online {
			agentName = name
		}
	}
	srv.audit(ip, "auth_success", sessionID, result.Role, result.AgentID, "", true, "")

	if err := peer.Send(proto.AuthResult{
		Type: proto.TypeAuthResult, Success: true, Role: result.Role.String(), AgentID: result.AgentID, AgentName: agentName,
	}); err != nil {
		return
	}
	if result.AgentID != "" {
		_ = peer.Send(srv.buildInstanceList(result.AgentID))
	}

	forwardCtx, cancelForward := context.WithCancel(ctx)
	defer cancelForward()
	go peer.Forward(forwardCtx, conn)

	for {
		_, raw, err := conn.Read(ctx)
		if err != nil {
			return
		}
		msg, err := proto.DecodeFromUser(raw)
		if err != nil {
			logger.Warn("user handler: malformed frame, dropping", "session_id", sessionID, "err", err)
			continue
		}
		srv.dispatchFromUser(ctx, sessionID, result.Role, ip, msg, peer)
	}
}

func (srv *Server) buildInstanceList(agentID string) proto.InstanceList {
	instances := srv.State.GetInstances(agentID)
	out := make([]proto.InstanceSummary, 0, len(instances))
	for _, inst := range instances {
		out = append(out, proto.InstanceSummary{
			ID: inst.ID, Cwd: inst.Cwd, Status: inst.Status.String(), AttachedUserCount: inst.AttachedUserCount,
		})
	}
	return proto.InstanceList{Type: proto.TypeInstanceList, Instances: out}
}

// audit writes one audit-log row, swallowing persistence failures;
// audit logging is best-effort and never fatal to the command it records.
func (srv *Server) audit(clientIP, eventType, sessionID string, role tokenauth.Role, agentID, instanceID string, success bool, details string) {
	if srv.Store == nil {
		return
	}
	entry := store.AuditEntry{
		EventType:  eventType,
		UserRole:   role.String(),
		AgentID:    agentID,
		InstanceID: instanceID,
		TargetID:   sessionID,
		ClientIP:   clientIP,
		Success:    success,
		Details:    details,
	}
	if err := srv.Store.InsertAuditLog(entry); err != nil {
		logger.Warn("user handler: audit log write failed", "event_type", eventType, "err", err)
	}
}

func (srv *Server) dispatchFromUser(ctx context.Context, sessionID string, role tokenauth.Role, ip string, msg any, peer *Peer) {
	switch m := msg.(type) {
	case proto.CreateInstanceReq:
		if !role.CanCreateInstance() {
			srv.denyAndAudit(peer, ip, sessionID, role, "create_instance", "")
			return
		}
		agentID, ok := srv.State.GetEffectiveAgentID(sessionID)
		if !ok {
			_ = peer.Send(proto.NewError("no agent selected"))
			srv.audit(ip, "create_instance", sessionID, role, "", "", false, "no effective agent")
			return
		}
		instanceID := newSessionID()
		if err := srv.State.SendToAgent(agentID, proto.NewCreateInstance(instanceID, m.Cwd)); err != nil {
			_ = peer.Send(proto.NewError("agent not connected"))
			srv.audit(ip, "create_instance", sessionID, role, agentID, instanceID, false, err.Error())
			return
		}
		srv.audit(ip, "create_instance", sessionID, role, agentID, instanceID, true, "")

	case proto.CloseInstanceReq:
		if !role.CanCloseInstance() {
			srv.denyAndAudit(peer, ip, sessionID, role, "close_instance", m.InstanceID)
			return
		}
		agentID, ok := srv.State.GetEffectiveAgentID(sessionID)
		if !ok {
			_ = peer.Send(proto.NewError("no agent selected"))
			return
		}
		err := srv.State.SendToAgent(agentID, proto.NewCloseInstance(m.InstanceID))
		srv.audit(ip, "close_instance", sessionID, role, agentID, m.InstanceID, err == nil, errString(err))

	case proto.Attach:
		count, err := srv.State.AttachUserToInstance(sessionID, m.InstanceID)
		if err != nil {
			_ = peer.Send(proto.NewError("instance not found"))
			srv.audit(ip, "attach", sessionID, role, "", m.InstanceID, false, err.Error())
			return
		}
		if srv.Store != nil {
			if recs, err := srv.Store.GetTerminalHistory(m.InstanceID); err == nil {
				for _, rec := range recs {
					_ = peer.Send(proto.PTYOutputNotice{Type: proto.TypePTYOutput, InstanceID: m.InstanceID, DataB64: rec.DataB64})
				}
			}
		}
		srv.State.BroadcastToInstance(m.InstanceID, proto.UserJoined{Type: proto.TypeUserJoined, InstanceID: m.InstanceID, UserCount: count})
		srv.audit(ip, "attach", sessionID, role, "", m.InstanceID, true, "")

	case proto.Detach:
		count, _ := srv.State.DetachUserFromInstance(sessionID, m.InstanceID)
		srv.State.BroadcastToInstance(m.InstanceID, proto.UserLeft{Type: proto.TypeUserLeft, InstanceID: m.InstanceID, UserCount: count})
		srv.audit(ip, "detach", sessionID, role, "", m.InstanceID, true, "")

	case proto.PTYInputReq:
		agentID, ok := srv.State.GetEffectiveAgentID(sessionID)
		if !ok {
			return
		}
		data, err := base64.StdEncoding.DecodeString(m.DataB64)
		if err != nil {
			return
		}
		_ = srv.State.SendToAgent(agentID, proto.NewPTYInput(m.InstanceID, base64.StdEncoding.EncodeToString(data)))

	case proto.ResizeReq:
		agentID, ok := srv.State.GetEffectiveAgentID(sessionID)
		if !ok {
			return
		}
		_ = srv.State.SendToAgent(agentID, proto.NewResize(m.InstanceID, m.Cols, m.Rows))

	case proto.ListInstances:
		agentID, ok := srv.State.GetEffectiveAgentID(sessionID)
		if !ok {
			_ = peer.Send(proto.InstanceList{Type: proto.TypeInstanceList})
			return
		}
		_ = peer.Send(srv.buildInstanceList(agentID))

	case proto.Heartbeat:
		_ = peer.Send(proto.Pong{Type: proto.TypePong})

	case proto.GetAdminStats:
		if !role.CanManageAllAgents() {
			srv.denyAndAudit(peer, ip, sessionID, role, "get_admin_stats", "")
			return
		}
		agents, global := srv.State.AdminStats()
		infos := make([]proto.AgentInfo, 0, len(agents))
		for _, a := range agents {
			infos = append(infos, proto.AgentInfo{
				ID: a.ID, Name: a.Name, Status: a.Status.String(),
				ConnectedAt: a.ConnectedAt.Format(time.RFC3339), InstanceCount: a.InstanceCount, UserCount: a.UserCount,
			})
		}
		_ = peer.Send(proto.AdminStats{Type: proto.TypeAdminStats, Agents: infos, Global: proto.GlobalStats{
			TotalAgents: global.TotalAgents, OnlineAgents: global.OnlineAgents, TotalInstances: global.TotalInstances,
			RunningInstances: global.RunningInstances, TotalUsers: global.TotalUsers,
		}})

	case proto.ForceDisconnectAgent:
		if !role.CanManageAllAgents() {
			srv.denyAndAudit(peer, ip, sessionID, role, "force_disconnect_agent", m.AgentID)
			return
		}
		srv.State.ForceDisconnectAgent(m.AgentID)
		srv.audit(ip, "force_disconnect_agent", sessionID, role, m.AgentID, "", true, "")

	case proto.ForceCloseInstance:
		if !role.CanManageAllAgents() {
			srv.denyAndAudit(peer, ip, sessionID, role, "force_close_instance", m.InstanceID)
			return
		}
		agentID, ok := srv.State.ForceCloseInstance(m.InstanceID)
		if !ok {
			_ = peer.Send(proto.NewError("instance not owned by a connected agent"))
			srv.audit(ip, "force_close_instance", sessionID, role, "", m.InstanceID, false, "not found")
			return
		}
		err := srv.State.SendToAgent(agentID, proto.NewCloseInstance(m.InstanceID))
		srv.audit(ip, "force_close_instance", sessionID, role, agentID, m.InstanceID, err == nil, errString(err))

	case proto.DeleteAgent:
		if !role.CanManageAllAgents() {
			srv.denyAndAudit(peer, ip, sessionID, role, "delete_agent", m.AgentID)
			return
		}
		srv.State.ForceDisconnectAgent(m.AgentID)
		var err error
		if srv.Store != nil {
			err = srv.Store.DeleteAgent(m.AgentID)
		}
		srv.audit(ip, "delete_agent", sessionID, role, m.AgentID, "", err == nil, errString(err))

	case proto.SelectWorkingAgent:
		if !role.CanManageAllAgents() {
			srv.denyAndAudit(peer, ip, sessionID, role, "select_working_agent", m.AgentID)
			return
		}
		if !srv.State.IsAgentOnline(m.AgentID) {
			_ = peer.Send(proto.NewError("agent not online"))
			srv.audit(ip, "select_working_agent", sessionID, role, m.AgentID, "", false, "agent not online")
			return
		}
		srv.State.SetWorkingAgent(sessionID, m.AgentID)
		_ = peer.Send(proto.WorkingAgentSelected{Type: proto.TypeWorkingAgentSelected, AgentID: m.AgentID})
		_ = peer.Send(srv.buildInstanceList(m.AgentID))
		srv.audit(ip, "select_working_agent", sessionID, role, m.AgentID, "", true, "")

	case proto.ClearWorkingAgent:
		if !role.CanManageAllAgents() {
			srv.denyAndAudit(peer, ip, sessionID, role, "clear_working_agent", "")
			return
		}
		srv.State.ClearWorkingAgent(sessionID)
		srv.audit(ip, "clear_working_agent", sessionID, role, "", "", true, "")

	case proto.ListAgentInstances:
		if !role.CanManageAllAgents() {
			srv.denyAndAudit(peer, ip, sessionID, role, "list_agent_instances", m.AgentID)
			return
		}
		_ = peer.Send(proto.AgentInstances{Type: proto.TypeAgentInstances, AgentID: m.AgentID, Instances: instanceSummaries(srv.State.GetInstances(m.AgentID))})

	case proto.GetAllTags:
		if !role.CanCreateInstance() {
			srv.denyAndAudit(peer, ip, sessionID, role, "get_all_tags", "")
			return
		}
		var tags []string
		if srv.Store != nil {
			tags, _ = srv.Store.GetAllTags()
		}
		_ = peer.Send(proto.AllTags{Type: proto.TypeAllTags, Tags: tags})

	case proto.GetAgentTags:
		if !role.CanCreateInstance() {
			srv.denyAndAudit(peer, ip, sessionID, role, "get_agent_tags", m.AgentID)
			return
		}
		var tags []string
		if srv.Store != nil {
			tags, _ = srv.Store.GetAgentTags(m.AgentID)
		}
		_ = peer.Send(proto.AgentTagsResp{Type: proto.TypeAgentTags, AgentID: m.AgentID, Tags: tags})

	case proto.AddAgentTag:
		if !role.CanCreateInstance() {
			srv.denyAndAudit(peer, ip, sessionID, role, "add_agent_tag", m.AgentID)
			return
		}
		var err error
		if srv.Store != nil {
			err = srv.Store.AddAgentTag(m.AgentID, m.Tag)
		}
		srv.audit(ip, "add_agent_tag", sessionID, role, m.AgentID, "", err == nil, m.Tag)

	case proto.RemoveAgentTag:
		if !role.CanCreateInstance() {
			srv.denyAndAudit(peer, ip, sessionID, role, "remove_agent_tag", m.AgentID)
			return
		}
		var err error
		if srv.Store != nil {
			err = srv.Store.RemoveAgentTag(m.AgentID, m.Tag)
		}
		srv.audit(ip, "remove_agent_tag", sessionID, role, m.AgentID, "", err == nil, m.Tag)

	case proto.GetAuditLogs:
		if !role.CanManageAllAgents() {
			srv.denyAndAudit(peer, ip, sessionID, role, "get_audit_logs", "")
			return
		}
		if srv.Store == nil {
			_ = peer.Send(proto.AuditLogs{Type: proto.TypeAuditLogs})
			return
		}
		limit := m.Limit
		if limit <= 0 {
			limit = 100
		}
		records, total, err := srv.Store.GetAuditLogs(m.EventType, limit, m.Offset)
		if err != nil {
			_ = peer.Send(proto.NewError("failed to read audit logs"))
			return
		}
		entries := make([]proto.AuditLogEntry, 0, len(records))
		for _, rec := range records {
			entries = append(entries, proto.AuditLogEntry{
				ID: rec.ID, Timestamp: rec.Timestamp.Format(time.RFC3339), EventType: rec.EventType, UserRole: rec.UserRole,
				AgentID: rec.AgentID, InstanceID: rec.InstanceID, TargetID: rec.TargetID, ClientIP: rec.ClientIP,
				Success: rec.Success, Details: rec.Details,
			})
		}
		_ = peer.Send(proto.AuditLogs{Type: proto.TypeAuditLogs, Records: entries, Total: total})

	default:
		logger.Warn("user handler: unhandled message type", "session_id", sessionID)
	}
}

func (srv *Server) denyAndAudit(peer *Peer, ip, sessionID string, role tokenauth.Role, eventType, targetID string) {
	_ = peer.Send(proto.NewError("permission denied"))
	srv.audit(ip, eventType, sessionID, role, "", targetID, false, "permission denied")
}

func instanceSummaries(instances []*Instance) []proto.InstanceSummary {
	out := make([]proto.InstanceSummary, 0, len(instances))
	for _, inst := range instances {
		out = append(out, proto.InstanceSummary{ID: inst.ID, Cwd: inst.Cwd, Status: inst.Status.String(), AttachedUserCount: inst.AttachedUserCount})
	}
	return out
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
