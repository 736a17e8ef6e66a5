// Package tokenauth resolves a presented token to a role and, for
// non-super-admin roles, an owning agent id. It never logs; callers are
// responsible for audit logging and rate limiting around Authenticate.
package tokenauth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// Role is the three-tier capability level a user session carries.
type Role int

const (
	RoleNone Role = iota
	RoleUser
	RoleAdmin
	RoleSuperAdmin
)

func (r Role) String() string {
	switch r {
	case RoleSuperAdmin:
		return "super_admin"
	case RoleAdmin:
		return "admin"
	case RoleUser:
		return "user"
	default:
		return "none"
	}
}

func (r Role) CanCreateInstance() bool  { return r == RoleAdmin || r == RoleSuperAdmin }
func (r Role) CanCloseInstance() bool   { return r == RoleAdmin || r == RoleSuperAdmin }
func (r Role) CanManageAllAgents() bool { return r == RoleSuperAdmin }

// HashToken returns the hex-encoded SHA-256 digest of token, the form
// persisted as admin_token_hash / share_token_hash.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// VerifyToken reports whether token hashes to hash.
func VerifyToken(token, hash string) bool {
	return HashToken(token) == hash
}

// ConnectedAgent is the minimal shape Authenticate needs from a live
// agent to satisfy the fast path (lookup 2) without a repository call.
type ConnectedAgent struct {
	ID             string
	AdminTokenHash string
	ShareTokenHash string
}

// Repository is the persistence-backed fallback (lookup 3). Implemented
// by internal/store.
type Repository interface {
	FindByAdminToken(token string) (agentID string, ok bool, err error)
	FindByShareToken(token string) (agentID string, ok bool, err error)
}

// Authenticator resolves presented tokens per the three-step lookup
// order: configured super-admin token, then connected agents' hashes,
// then the persistence repository.
type Authenticator struct {
	superAdminToken string
	connected       func() []ConnectedAgent
	repo            Repository
	jwtKey          []byte
}

// New builds an Authenticator. connectedAgents is called on every
// Authenticate to get a fresh snapshot of currently-connected agents
// (the fast path of lookup step 2); repo may be nil, in which case step
// 3 always misses.
func New(superAdminToken string, connectedAgents func() []ConnectedAgent, repo Repository) *Authenticator {
	return &Authenticator{superAdminToken: superAdminToken, connected: connectedAgents, repo: repo}
}

// Result is the outcome of a successful Authenticate call.
type Result struct {
	Role    Role
	AgentID string // empty for SuperAdmin
}

// Authenticate implements the lookup order of the token authenticator:
// byte-equal super-admin token, then the signed-JWT step (only when
// WithJWTFastPath has set a key), then connected-agent hash fast path,
// then persisted hash lookup. A zero Result and ok=false mean no match.
func (a *Authenticator) Authenticate(token string) (Result, bool) {
	if a.superAdminToken != "" && subtle.ConstantTimeCompare([]byte(token), []byte(a.superAdminToken)) == 1 {
		return Result{Role: RoleSuperAdmin}, true
	}

	if res, ok := a.tryJWT(token); ok {
		return res, true
	}

	hash := HashToken(token)
	if a.connected != nil {
		for _, agent := range a.connected() {
			if agent.AdminTokenHash == hash {
				return Result{Role: RoleAdmin, AgentID: agent.ID}, true
			}
			if agent.ShareTokenHash == hash {
				return Result{Role: RoleUser, AgentID: agent.ID}, true
			}
		}
	}

	if a.repo != nil {
		if id, ok, err := a.repo.FindByAdminToken(token); err == nil && ok {
			return Result{Role: RoleAdmin, AgentID: id}, true
		}
		if id, ok, err := a.repo.FindByShareToken(token); err == nil && ok {
			return Result{Role: RoleUser, AgentID: id}, true
		}
	}

	return Result{}, false
}
