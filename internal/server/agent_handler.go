package server

import (
	"context"
	"encoding/base64"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/shelltether/shelltether/internal/logger"
	"github.com/shelltether/shelltether/internal/proto"
	"github.com/shelltether/shelltether/internal/tokenauth"
)

// agentRegisterTimeout bounds how long the server waits for the
// control channel's first frame to be a register message.
const agentRegisterTimeout = 10 * time.Second

// HandleAgentConn drives one agent's control channel end to end: await
// register, adopt or create each reported instance, fan in commands
// from connected users, and suspend on disconnect. It blocks until the
// connection closes.
func (srv *Server) HandleAgentConn(ctx context.Context, conn *websocket.Conn) {
	defer conn.CloseNow()

	regCtx, cancel := context.WithTimeout(ctx, agentRegisterTimeout)
	_, raw, err := conn.Read(regCtx)
	cancel()
	if err != nil {
		logger.Warn("agent handler: no register frame received", "err", err)
		return
	}
	msg, err := proto.DecodeFromAgent(raw)
	if err != nil {
		logger.Warn("agent handler: malformed first frame", "err", err)
		return
	}
	reg, ok := msg.(proto.Register)
	if !ok {
		logger.Warn("agent handler: first frame was not register")
		_ = writeFrame(ctx, conn, proto.NewError("first message must be register"))
		return
	}

	if srv.Store != nil {
		if err := srv.Store.UpsertAgent(reg.AgentID, reg.Name, reg.AdminToken, reg.ShareToken); err != nil {
			logger.Warn("agent handler: persist agent failed", "agent_id", reg.AgentID, "err", err)
		}
	}

	peer := newPeer()
	srv.State.RegisterAgent(reg.AgentID, reg.Name, tokenauth.HashToken(reg.AdminToken), tokenauth.HashToken(reg.ShareToken), peer)

	// One background worker drains persist jobs in the order the read
	// loop below enqueues them, so history writes for this agent's
	// instances never race each other or the delete-on-close job.
	persist := make(chan persistJob, 256)
	go srv.runPersistWorker(persist)
	defer close(persist)

	defer func() {
		srv.State.UpdateAgentInstancesStatus(reg.AgentID, InstanceSuspended)
		srv.State.UnregisterAgent(reg.AgentID)
		peer.Close()
	}()

	forwardCtx, cancelForward := context.WithCancel(ctx)
	defer cancelForward()
	go peer.Forward(forwardCtx, conn)

	if err := peer.Send(proto.NewRegistered("ok")); err != nil {
		logger.Warn("agent handler: send registered failed", "err", err)
		return
	}

	for _, info := range reg.ExistingInstances {
		if srv.State.RestoreInstance(reg.AgentID, info.ID) {
			continue
		}
		srv.State.AddInstance(reg.AgentID, info.ID, info.Cwd)
		srv.State.BroadcastToAgentUsers(reg.AgentID, proto.InstanceCreatedNotice{
			Type: proto.TypeInstanceCreated, InstanceID: info.ID, Cwd: info.Cwd,
		})
	}

	for {
		_, raw, err := conn.Read(ctx)
		if err != nil {
			return
		}
		msg, err := proto.DecodeFromAgent(raw)
		if err != nil {
			logger.Warn("agent handler: malformed frame, dropping", "agent_id", reg.AgentID, "err", err)
			continue
		}
		srv.dispatchFromAgent(reg.AgentID, msg, persist)
	}
}

// persistJob is one terminal-history write or delete, queued onto a
// single per-connection worker so that jobs for the same instance
// always complete in the order the agent's read loop produced them.
type persistJob struct {
	instanceID string
	dataB64    string
	byteLen    int
	delete     bool
}

// runPersistWorker processes jobs strictly in arrival order until
// jobs is closed (on agent disconnect), so a save enqueued before an
// instance's close can never land after that instance's history has
// already been deleted.
func (srv *Server) runPersistWorker(jobs <-chan persistJob) {
	for job := range jobs {
		if srv.Store == nil {
			continue
		}
		var err error
		if job.delete {
			err = srv.Store.DeleteTerminalHistory(job.instanceID)
		} else {
			err = srv.Store.SaveTerminalHistory(job.instanceID, job.dataB64, job.byteLen, srv.HistoryBufferKB)
		}
		if err != nil {
			logger.Warn("agent handler: persist job failed", "instance_id", job.instanceID, "delete", job.delete, "err", err)
		}
	}
}

func (srv *Server) dispatchFromAgent(agentID string, msg any, persist chan<- persistJob) {
	switch m := msg.(type) {
	case proto.Register:
		logger.Warn("agent handler: duplicate register on live channel", "agent_id", agentID)

	case proto.InstanceCreated:
		srv.State.AddInstance(agentID, m.InstanceID, m.Cwd)
		srv.State.BroadcastToAgentUsers(agentID, proto.InstanceCreatedNotice{
			Type: proto.TypeInstanceCreated, InstanceID: m.InstanceID, Cwd: m.Cwd,
		})

	case proto.InstanceClosed:
		srv.State.RemoveInstance(agentID, m.InstanceID)
		if srv.Store != nil {
			// Enqueued behind any pending saves for this instance, so the
			// worker always deletes last.
			persist <- persistJob{instanceID: m.InstanceID, delete: true}
		}
		srv.State.BroadcastToAgentUsers(agentID, proto.InstanceClosedNotice{
			Type: proto.TypeInstanceClosed, InstanceID: m.InstanceID,
		})

	case proto.PTYOutput:
		if srv.Store != nil {
			if data, err := base64.StdEncoding.DecodeString(m.DataB64); err == nil {
				// Handed to the persist worker (non-blocking under normal
				// load) so a slow history write never stalls delivery of
				// the next frame, while still landing in arrival order.
				persist <- persistJob{instanceID: m.InstanceID, dataB64: m.DataB64, byteLen: len(data)}
			}
		}
		srv.State.BroadcastToInstance(m.InstanceID, proto.PTYOutputNotice{
			Type: proto.TypePTYOutput, InstanceID: m.InstanceID, DataB64: m.DataB64,
		})

	case proto.Heartbeat:
		// presence on the read loop is sufficient; no response required

	case proto.ErrorMsg:
		logger.Warn("agent handler: error frame from agent", "agent_id", agentID, "message", m.Message)
	}
}

func writeFrame(ctx context.Context, conn *websocket.Conn, msg any) error {
	raw, err := proto.Encode(msg)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, raw)
}

// newSessionID mints a fresh session identifier for a user connection.
func newSessionID() string {
	return uuid.NewString()
}

// clientIP extracts the remote address from an HTTP request for audit
// logging, preferring X-Forwarded-For when present (reverse-proxy
// deployments) and falling back to RemoteAddr.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	return r.RemoteAddr
}
