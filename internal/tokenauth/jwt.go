package tokenauth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// jwtClaims is the self-describing shape a signed fast-path token
// carries: role and, for non-super-admin roles, the owning agent id.
// This runs ahead of the plain SHA-256 hash-compare lookup in
// Authenticate, so a deployment can hand out short-lived signed tokens
// (e.g. for a dashboard) without a repository round-trip.
type jwtClaims struct {
	Role    string `json:"role"`
	AgentID string `json:"agent_id,omitempty"`
	jwt.RegisteredClaims
}

// WithJWTFastPath sets signingKey on a (and returns a) so that
// Authenticate, right after the super-admin token compare, tries to
// parse the presented token as a JWT signed with signingKey; on success
// it trusts the embedded role/agent_id without consulting connected
// agents or the repository. Tokens that don't parse as a valid JWT fall
// through to the connected-agent and repository lookups.
func (a *Authenticator) WithJWTFastPath(signingKey []byte) *Authenticator {
	a.jwtKey = signingKey
	return a
}

func (a *Authenticator) tryJWT(token string) (Result, bool) {
	if len(a.jwtKey) == 0 {
		return Result{}, false
	}
	parsed, err := jwt.ParseWithClaims(token, &jwtClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.jwtKey, nil
	})
	if err != nil || !parsed.Valid {
		return Result{}, false
	}
	claims, ok := parsed.Claims.(*jwtClaims)
	if !ok {
		return Result{}, false
	}
	switch claims.Role {
	case "super_admin":
		return Result{Role: RoleSuperAdmin}, true
	case "admin":
		return Result{Role: RoleAdmin, AgentID: claims.AgentID}, true
	case "user":
		return Result{Role: RoleUser, AgentID: claims.AgentID}, true
	default:
		return Result{}, false
	}
}
