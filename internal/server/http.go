package server

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/shelltether/shelltether/internal/logger"
)

// shutdownGrace bounds how long Serve waits for in-flight requests to
// finish once ctx is cancelled.
const shutdownGrace = 5 * time.Second

// wsReadLimit is generous enough for a register frame's
// existing_instances list or a pty_output carrying a large base64 chunk.
const wsReadLimit = 512 * 1024

// Mux builds the server's HTTP handler: a health check, the agent
// control-channel upgrade, and the user control-channel upgrade. A
// browser-served UI is explicitly out of scope; any other path 404s.
func (srv *Server) Mux() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	mux.HandleFunc("GET /ws/agent", func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			logger.Warn("http: agent websocket upgrade failed", "err", err)
			return
		}
		conn.SetReadLimit(wsReadLimit)
		srv.HandleAgentConn(r.Context(), conn)
	})

	mux.HandleFunc("GET /ws/user", func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			logger.Warn("http: user websocket upgrade failed", "err", err)
			return
		}
		conn.SetReadLimit(wsReadLimit)
		srv.HandleUserConn(r.Context(), conn, r)
	})

	return mux
}

// Serve runs an HTTP server bound to addr until ctx is cancelled, then
// shuts it down gracefully.
func Serve(ctx context.Context, addr string, handler http.Handler) error {
	httpSrv := &http.Server{Addr: addr, Handler: handler}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	}
}
