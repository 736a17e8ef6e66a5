package server

import (
	"github.com/shelltether/shelltether/internal/ratelimit"
	"github.com/shelltether/shelltether/internal/store"
	"github.com/shelltether/shelltether/internal/tokenauth"
)

// Server bundles the routing core's shared dependencies: the in-memory
// registry (State), the optional persistence layer, the token
// authenticator, and the auth-attempt rate limiter. One Server instance
// backs the whole process; each inbound connection gets its own
// goroutine via HandleAgentConn / HandleUserConn.
type Server struct {
	State   *State
	Store   *store.Store
	Auth    *tokenauth.Authenticator
	Limiter ratelimit.Checker

	// HistoryBufferKB bounds each instance's persisted terminal history
	// ring.
	HistoryBufferKB int
}

// New wires a Server around repo (nil disables persistence), limiter
// (nil always allows), and superAdminToken. The authenticator's
// connected-agent fast path reads live from State. A non-empty
// jwtSigningKey enables the signed-token fast path ahead of the
// hash-compare lookup; pass nil to disable it.
func New(repo *store.Store, limiter ratelimit.Checker, superAdminToken string, historyBufferKB int, jwtSigningKey []byte) *Server {
	state := NewState(repo)
	srv := &Server{State: state, Store: repo, Limiter: limiter, HistoryBufferKB: historyBufferKB}

	// A typed-nil *store.Store satisfies tokenauth.Repository but is not
	// comparable to nil once boxed in the interface, so only wire it in
	// when a real store is present (persistence-fallback lookup step 3
	// then always misses, per its own contract).
	var authRepo tokenauth.Repository
	if repo != nil {
		authRepo = repo
	}
	srv.Auth = tokenauth.New(superAdminToken, func() []tokenauth.ConnectedAgent {
		return state.ConnectedAgents()
	}, authRepo)
	if len(jwtSigningKey) > 0 {
		srv.Auth.WithJWTFastPath(jwtSigningKey)
	}
	return srv
}
