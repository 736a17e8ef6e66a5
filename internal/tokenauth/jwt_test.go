package tokenauth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signHS256(t *testing.T, key []byte, claims jwtClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return signed
}

func TestAuthenticateJWTFastPathAdmin(t *testing.T) {
	key := []byte("test-signing-key")
	a := New("root-token", func() []ConnectedAgent { return nil }, nil)
	a.WithJWTFastPath(key)

	tok := signHS256(t, key, jwtClaims{
		Role:    "admin",
		AgentID: "agent-1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	res, ok := a.Authenticate(tok)
	if !ok || res.Role != RoleAdmin || res.AgentID != "agent-1" {
		t.Fatalf("expected admin match via jwt fast path, got %+v ok=%v", res, ok)
	}
}

func TestAuthenticateJWTFastPathSuperAdminIgnoresAgentID(t *testing.T) {
	key := []byte("test-signing-key")
	a := New("root-token", func() []ConnectedAgent { return nil }, nil)
	a.WithJWTFastPath(key)

	tok := signHS256(t, key, jwtClaims{Role: "super_admin", AgentID: "agent-1"})
	res, ok := a.Authenticate(tok)
	if !ok || res.Role != RoleSuperAdmin || res.AgentID != "" {
		t.Fatalf("expected super admin match with no agent id, got %+v ok=%v", res, ok)
	}
}

func TestAuthenticateJWTFastPathWrongKeyFallsThrough(t *testing.T) {
	a := New("root-token", func() []ConnectedAgent { return nil }, nil)
	a.WithJWTFastPath([]byte("real-key"))

	tok := signHS256(t, []byte("wrong-key"), jwtClaims{Role: "admin", AgentID: "agent-1"})
	if _, ok := a.Authenticate(tok); ok {
		t.Fatal("expected a JWT signed with the wrong key to fail, not fall through to a match")
	}
}

func TestAuthenticateJWTFastPathRejectsNoneAlgorithm(t *testing.T) {
	key := []byte("test-signing-key")
	a := New("root-token", func() []ConnectedAgent { return nil }, nil)
	a.WithJWTFastPath(key)

	token := jwt.NewWithClaims(jwt.SigningMethodNone, jwtClaims{Role: "super_admin"})
	tok, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if _, ok := a.Authenticate(tok); ok {
		t.Fatal("expected a none-algorithm token to be rejected, not trusted as super_admin")
	}
}

func TestAuthenticateJWTFastPathDisabledWhenNoKeyConfigured(t *testing.T) {
	a := New("root-token", func() []ConnectedAgent { return nil }, nil)
	tok := signHS256(t, []byte("some-key"), jwtClaims{Role: "admin", AgentID: "agent-1"})
	if _, ok := a.Authenticate(tok); ok {
		t.Fatal("expected no jwt fast path to be attempted without WithJWTFastPath")
	}
}
