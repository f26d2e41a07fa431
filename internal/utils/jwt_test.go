package utils

import (
	"testing"

	"github.com/golang-jwt/jwt/v5"

	"github.com/drivetime/lesson-booking/internal/model"
)

func TestNewAccessTokenClaims(t *testing.T) {
	const secret = "test-secret"

	at, err := NewAccessToken(secret, 42, model.RoleInstructor, 15)
	if err != nil {
		t.Fatalf("NewAccessToken: %v", err)
	}

	tok, err := jwt.Parse(at.Token, func(*jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	})
	if err != nil || !tok.Valid {
		t.Fatalf("parse signed token: %v", err)
	}
	claims := tok.Claims.(jwt.MapClaims)

	if sub, _ := claims["sub"].(float64); uint64(sub) != 42 {
		t.Fatalf("sub = %v, want 42", claims["sub"])
	}
	if role, _ := claims["role"].(string); model.ParseRole(role) != model.RoleInstructor {
		t.Fatalf("role = %v, want instructor", claims["role"])
	}
}

func TestRefreshTokenHashingIsStable(t *testing.T) {
	rt, err := NewRefreshToken(30)
	if err != nil {
		t.Fatalf("NewRefreshToken: %v", err)
	}
	if len(rt.Raw) != 96 {
		t.Fatalf("raw token length = %d, want 96 hex chars", len(rt.Raw))
	}
	if HashRefreshRaw(rt.Raw) != HashRefreshRaw(rt.Raw) {
		t.Fatal("hashing the same raw token twice disagreed")
	}
	if HashRefreshRaw(rt.Raw) == rt.Raw {
		t.Fatal("stored hash must differ from the raw token")
	}
}
