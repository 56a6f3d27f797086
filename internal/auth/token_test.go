package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/PRX2112/image-opration-tools-sub001/internal/model"

	"github.com/golang-jwt/jwt/v5"
)

func TestIssueAndValidate(t *testing.T) {
	m := NewTokenManager("secret", time.Hour)
	token, expires, err := m.Issue(&model.Account{ID: "acc-1", Email: "a@example.com"})
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}
	if time.Until(expires) <= 0 {
		t.Fatalf("expected expiry in the future, got %s", expires)
	}
	claims, err := m.Validate(token)
	if err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
	if claims.Subject != "acc-1" || claims.Email != "a@example.com" {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestValidateRejects(t *testing.T) {
	m := NewTokenManager("secret", time.Hour)
	good, _, _ := m.Issue(&model.Account{ID: "acc-1"})

	other := NewTokenManager("other-secret", time.Hour)
	foreign, _, _ := other.Issue(&model.Account{ID: "acc-1"})

	expiredMgr := NewTokenManager("secret", time.Hour)
	expiredMgr.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, _, _ := expiredMgr.Issue(&model.Account{ID: "acc-1"})

	none, _ := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "acc-1", Issuer: issuer}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)

	tests := map[string]string{
		"garbage":      "not-a-token",
		"wrong secret": foreign,
		"expired":      expired,
		"alg none":     none,
		"truncated":    good[:len(good)-4],
	}
	for name, tok := range tests {
		if _, err := m.Validate(tok); !errors.Is(err, model.ErrUnauthenticated) {
			t.Errorf("%s: expected ErrUnauthenticated, got %v", name, err)
		}
	}
}
