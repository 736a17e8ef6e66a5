// Package agentconn implements the agent's outbound control channel:
// dial, register, drain-then-stream, and fixed-interval reconnect (C4).
// It owns no PTYs itself; it drives a *pty.Manager through the Sink
// interface and the inbound command callbacks below.
package agentconn

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/shelltether/shelltether/internal/logger"
	"github.com/shelltether/shelltether/internal/proto"
	"github.com/shelltether/shelltether/internal/pty"
)

// Handlers are the callbacks the connection loop invokes for each
// server->agent command. CreateInstance/CloseInstance/Write/Resize
// mirror the instance manager's own method set; the loop itself never
// touches *pty.Manager directly so callers can interpose instance
// lifecycle bookkeeping (e.g. emitting instance_created back to the
// server).
type Handlers struct {
	CreateInstance func(instanceID, cwd string)
	CloseInstance  func(instanceID string)
	Write          func(instanceID string, data []byte)
	Resize         func(instanceID string, cols, rows uint16)
}

// Config configures one connection loop.
type Config struct {
	ServerURL         string
	AgentID           string
	DisplayName       string
	AdminToken        string
	ShareToken        string
	ReconnectInterval time.Duration
	HeartbeatInterval time.Duration
}

// Client drives the agent's side of the control channel against a
// *pty.Manager, looping Connecting -> Registering -> Streaming ->
// ReconnectWait forever until ctx is cancelled.
type Client struct {
	cfg      Config
	mgr      *pty.Manager
	handlers Handlers

	mu   sync.Mutex
	live *connSink // nil whenever no connection is up
}

// New builds a Client bound to mgr and handlers.
func New(cfg Config, mgr *pty.Manager, handlers Handlers) *Client {
	if cfg.ReconnectInterval == 0 {
		cfg.ReconnectInterval = 5 * time.Second
	}
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	return &Client{cfg: cfg, mgr: mgr, handlers: handlers}
}

// UpdateCredentials swaps the admin/share tokens presented on the next
// register frame (this connection's already-sent register is
// unaffected; the new tokens take effect on the next reconnect). Used
// when the agent config file is edited externally, e.g. an operator
// rotating a compromised share token.
func (c *Client) UpdateCredentials(adminToken, shareToken string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.AdminToken = adminToken
	c.cfg.ShareToken = shareToken
}

// Sink returns the current connection's output sink, or nil if the
// agent is between connections. Handlers spawning a fresh instance in
// response to create_instance pass this to pty.Manager.Create.
func (c *Client) Sink() pty.Sink {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.live == nil {
		return nil
	}
	return c.live
}

// NotifyInstanceCreated reports a newly created instance to the server.
// A no-op if the connection has since dropped; the next reconnect's
// register frame re-syncs state via existing_instances.
func (c *Client) NotifyInstanceCreated(instanceID, cwd string) {
	c.writeIfLive(proto.NewInstanceCreated(instanceID, cwd))
}

// NotifyInstanceClosed reports a closed instance to the server.
func (c *Client) NotifyInstanceClosed(instanceID string) {
	c.writeIfLive(proto.NewInstanceClosed(instanceID))
}

func (c *Client) writeIfLive(msg any) {
	c.mu.Lock()
	sink := c.live
	c.mu.Unlock()
	if sink == nil {
		return
	}
	if err := writeJSON(sink.ctx, sink.conn, msg); err != nil {
		logger.Warn("agentconn: notify failed", "err", err)
	}
}

// Run loops forever, reconnecting on any transport failure, until ctx is
// cancelled.
func (c *Client) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if err := c.connectAndServe(ctx); err != nil {
			logger.Warn("agentconn: connection lost", "err", err)
		}
		c.mgr.SetAllDisconnected()
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.cfg.ReconnectInterval):
		}
	}
}

func wsURL(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws/agent"
	return u.String(), nil
}

// connSink wraps one live websocket.Conn as a pty.Sink, base64-encoding
// and framing each chunk as a pty_output message. A nil chunk (the
// monitor task's exit sentinel) becomes an empty-payload frame.
type connSink struct {
	ctx  context.Context
	conn *websocket.Conn
}

func (s *connSink) Send(instanceID string, data []byte) error {
	msg := proto.NewPTYOutput(instanceID, base64.StdEncoding.EncodeToString(data))
	raw, err := proto.Encode(msg)
	if err != nil {
		return err
	}
	return s.conn.Write(s.ctx, websocket.MessageText, raw)
}

func (c *Client) connectAndServe(ctx context.Context) error {
	c.mu.Lock()
	cfg := c.cfg
	c.mu.Unlock()

	target, err := wsURL(cfg.ServerURL)
	if err != nil {
		return fmt.Errorf("build ws url: %w", err)
	}

	conn, _, err := websocket.Dial(ctx, target, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.CloseNow()

	sink := &connSink{ctx: ctx, conn: conn}
	c.mu.Lock()
	c.live = sink
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.live = nil
		c.mu.Unlock()
	}()
	c.mgr.RebindAll(sink)

	existing := c.mgr.ListRunningInfo()
	infos := make([]proto.InstanceInfo, 0, len(existing))
	for _, e := range existing {
		infos = append(infos, proto.InstanceInfo{ID: e.ID, Cwd: e.Cwd})
	}

	reg := proto.NewRegister(cfg.AgentID, cfg.DisplayName, cfg.AdminToken, cfg.ShareToken, infos)
	if err := writeJSON(ctx, conn, reg); err != nil {
		return fmt.Errorf("send register: %w", err)
	}

	for id, buf := range c.mgr.DrainAll() {
		out := proto.NewPTYOutput(id, base64.StdEncoding.EncodeToString(buf))
		if err := writeJSON(ctx, conn, out); err != nil {
			return fmt.Errorf("flush buffered output: %w", err)
		}
	}

	hbCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	hbErrCh := make(chan error, 1)
	go c.heartbeatLoop(hbCtx, conn, cfg.HeartbeatInterval, hbErrCh)

	readErrCh := make(chan error, 1)
	go c.readLoop(ctx, conn, readErrCh)

	select {
	case err := <-hbErrCh:
		return err
	case err := <-readErrCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) heartbeatLoop(ctx context.Context, conn *websocket.Conn, interval time.Duration, errCh chan<- error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := writeJSON(ctx, conn, proto.NewHeartbeat()); err != nil {
				errCh <- fmt.Errorf("heartbeat send: %w", err)
				return
			}
		}
	}
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn, errCh chan<- error) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			errCh <- fmt.Errorf("read: %w", err)
			return
		}
		msg, err := proto.DecodeFromServerToAgent(data)
		if err != nil {
			logger.Warn("agentconn: malformed frame, dropping", "err", err)
			continue
		}
		c.dispatch(msg)
	}
}

func (c *Client) dispatch(msg any) {
	switch m := msg.(type) {
	case proto.Registered:
		logger.Info("agentconn: registered", "message", m.Message)
	case proto.CreateInstance:
		if c.handlers.CreateInstance != nil {
			c.handlers.CreateInstance(m.InstanceID, m.Cwd)
		}
	case proto.CloseInstance:
		if c.handlers.CloseInstance != nil {
			c.handlers.CloseInstance(m.InstanceID)
		}
	case proto.PTYInput:
		data, err := base64.StdEncoding.DecodeString(m.DataB64)
		if err != nil {
			logger.Warn("agentconn: bad pty_input base64", "err", err)
			return
		}
		if c.handlers.Write != nil {
			c.handlers.Write(m.InstanceID, data)
		}
	case proto.Resize:
		if c.handlers.Resize != nil {
			c.handlers.Resize(m.InstanceID, m.Cols, m.Rows)
		}
	case proto.Ping:
		// no response required; presence on the read loop is sufficient
	case proto.ErrorMsg:
		logger.Warn("agentconn: server error frame", "message", m.Message)
	}
}

func writeJSON(ctx context.Context, conn *websocket.Conn, msg any) error {
	raw, err := proto.Encode(msg)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, raw)
}

