package server

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/shelltether/shelltether/internal/proto"
	"github.com/shelltether/shelltether/internal/ratelimit"
)

func dialUser(t *testing.T, ts *httptest.Server) (*websocket.Conn, context.Context) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/user"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial user ws: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "done") })
	return conn, ctx
}

// readServerFrame decodes one server->user frame directly: there is no
// shared decoder for this direction since the server only ever encodes
// these frames, never decodes them (see internal/proto's messages.go).
func readServerFrame(t *testing.T, ctx context.Context, conn *websocket.Conn, frameType string) json.RawMessage {
	t.Helper()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if frameType != "" && env.Type != frameType {
		t.Fatalf("expected frame type %q, got %q", frameType, env.Type)
	}
	return data
}

func authResult(t *testing.T, ctx context.Context, conn *websocket.Conn) proto.AuthResult {
	t.Helper()
	data := readServerFrame(t, ctx, conn, proto.TypeAuthResult)
	var res proto.AuthResult
	if err := json.Unmarshal(data, &res); err != nil {
		t.Fatalf("unmarshal auth result: %v", err)
	}
	return res
}

func TestUserHandlerSuperAdminAuthSucceeds(t *testing.T) {
	srv := New(nil, ratelimit.New(60), "super-secret", 1024, nil)
	ts := httptest.NewServer(srv.Mux())
	defer ts.Close()

	conn, ctx := dialUser(t, ts)
	if err := writeFrame(ctx, conn, proto.Auth{Type: proto.TypeAuth, Token: "super-secret"}); err != nil {
		t.Fatalf("write auth: %v", err)
	}

	res := authResult(t, ctx, conn)
	if !res.Success {
		t.Fatal("expected auth success for super-admin token")
	}
	if res.Role != "super_admin" {
		t.Fatalf("expected role super_admin, got %q", res.Role)
	}
}

func TestUserHandlerBadTokenAuthFails(t *testing.T) {
	srv := New(nil, ratelimit.New(60), "super-secret", 1024, nil)
	ts := httptest.NewServer(srv.Mux())
	defer ts.Close()

	conn, ctx := dialUser(t, ts)
	if err := writeFrame(ctx, conn, proto.Auth{Type: proto.TypeAuth, Token: "not-a-real-token"}); err != nil {
		t.Fatalf("write auth: %v", err)
	}

	res := authResult(t, ctx, conn)
	if res.Success {
		t.Fatal("expected auth failure for unknown token")
	}
}

func TestUserHandlerCreateInstanceWithoutSelectedAgentFails(t *testing.T) {
	srv := New(nil, ratelimit.New(60), "super-secret", 1024, nil)
	srv.State.RegisterAgent("agent-1", "box", "a", "b", newTestPeer())

	ts := httptest.NewServer(srv.Mux())
	defer ts.Close()

	conn, ctx := dialUser(t, ts)
	// A super-admin has create-instance capability but still has no
	// effective agent until select_working_agent is sent, so this
	// exercises the "no agent selected" failure path rather than a
	// permission denial.
	if err := writeFrame(ctx, conn, proto.Auth{Type: proto.TypeAuth, Token: "super-secret"}); err != nil {
		t.Fatalf("write auth: %v", err)
	}
	authResult(t, ctx, conn)

	if err := writeFrame(ctx, conn, proto.CreateInstanceReq{Type: proto.TypeCreateInstance, Cwd: "/tmp"}); err != nil {
		t.Fatalf("write create_instance: %v", err)
	}

	data := readServerFrame(t, ctx, conn, proto.TypeError)
	var errMsg proto.ErrorMsg
	if err := json.Unmarshal(data, &errMsg); err != nil {
		t.Fatalf("unmarshal error frame: %v", err)
	}
	if errMsg.Message == "" {
		t.Fatal("expected a non-empty error message")
	}
}
