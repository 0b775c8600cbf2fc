package security

import (
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signToken(t *testing.T, secret string, method jwt.SigningMethod, claims Claims) string {
	t.Helper()
	raw, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return raw
}

func TestTokenVerifier(t *testing.T) {
	verifier, err := NewTokenVerifier("s3cret")
	if err != nil {
		t.Fatalf("NewTokenVerifier() error = %v", err)
	}

	valid := Claims{
		Email: "kim@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	expired := valid
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
	noExpiry := valid
	noExpiry.ExpiresAt = nil
	noSubject := valid
	noSubject.Subject = ""
	longSubject := valid
	longSubject.Subject = strings.Repeat("u", MaxSubjectLength+1)
	widestSubject := valid
	widestSubject.Subject = strings.Repeat("u", MaxSubjectLength)

	tests := []struct {
		name    string
		token   string
		wantErr error
	}{
		{"valid", signToken(t, "s3cret", jwt.SigningMethodHS256, valid), nil},
		{"empty", "", ErrMissingToken},
		{"wrong secret", signToken(t, "other", jwt.SigningMethodHS256, valid), ErrInvalidToken},
		{"wrong algorithm", signToken(t, "s3cret", jwt.SigningMethodHS512, valid), ErrInvalidToken},
		{"expired", signToken(t, "s3cret", jwt.SigningMethodHS256, expired), ErrInvalidToken},
		{"no expiry", signToken(t, "s3cret", jwt.SigningMethodHS256, noExpiry), ErrInvalidToken},
		{"no subject", signToken(t, "s3cret", jwt.SigningMethodHS256, noSubject), ErrInvalidToken},
		{"subject too long", signToken(t, "s3cret", jwt.SigningMethodHS256, longSubject), ErrInvalidToken},
		{"garbage", "not.a.token", ErrInvalidToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := verifier.Verify(tt.token)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Verify() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Verify() error = %v", err)
			}
			if claims.Subject != "user-1" || claims.Email != "kim@example.com" {
				t.Errorf("claims = %+v", claims)
			}
		})
	}

	if _, err := verifier.Verify(signToken(t, "s3cret", jwt.SigningMethodHS256, widestSubject)); err != nil {
		t.Errorf("Verify() with a %d byte subject error = %v", MaxSubjectLength, err)
	}
}

func TestNewTokenVerifierRequiresSecret(t *testing.T) {
	if _, err := NewTokenVerifier(""); err == nil {
		t.Error("expected error for empty secret")
	}
}

func TestBearerToken(t *testing.T) {
	tests := map[string]string{
		"Bearer abc.def":  "abc.def",
		"bearer   xyz ":   "xyz",
		"Basic dXNlcjpw":  "",
		"":                "",
		"Bearer":          "",
	}
	for header, want := range tests {
		if got := BearerToken(header); got != want {
			t.Errorf("BearerToken(%q) = %q, want %q", header, got, want)
		}
	}
}

func TestRateLimiterWindow(t *testing.T) {
	var mu sync.Mutex
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	rl := newRateLimiter(2, time.Minute, clock)

	if !rl.Allow("a") || !rl.Allow("a") {
		t.Fatal("first two requests should pass")
	}
	if rl.Allow("a") {
		t.Error("third request in window should be rejected")
	}
	if !rl.Allow("b") {
		t.Error("other keys have their own bucket")
	}

	mu.Lock()
	now = now.Add(time.Minute)
	mu.Unlock()
	if !rl.Allow("a") {
		t.Error("bucket should refill after the window")
	}

	mu.Lock()
	now = now.Add(5 * time.Minute)
	mu.Unlock()
	rl.prune()
	if len(rl.visitors) != 0 {
		t.Errorf("prune left %d visitors", len(rl.visitors))
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	rl := newRateLimiter(0, time.Minute, time.Now)
	for i := 0; i < 10; i++ {
		if !rl.Allow("a") {
			t.Fatal("rate 0 disables limiting")
		}
	}
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"forwarded chain", map[string]string{"X-Forwarded-For": "203.0.113.5, 10.0.0.1"}, "10.0.0.2:1234", "203.0.113.5"},
		{"real ip", map[string]string{"X-Real-IP": "198.51.100.7"}, "10.0.0.2:1234", "198.51.100.7"},
		{"remote addr", nil, "192.0.2.1:5555", "192.0.2.1"},
		{"remote without port", nil, "192.0.2.1", "192.0.2.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			if got := GetClientIP(r); got != tt.want {
				t.Errorf("GetClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}
