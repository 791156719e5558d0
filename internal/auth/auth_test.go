package auth

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rohitpatil2845/BAATKANE/internal/apperr"
)

func TestIssueVerifyRoundTrip(t *testing.T) {
	a := New("secret", time.Hour)
	tok, exp, err := a.Issue("user-1")
	if err != nil {
		t.Fatal(err)
	}
	if !exp.After(time.Now()) {
		t.Errorf("exp = %v, want future", exp)
	}
	got, err := a.Verify(tok)
	if err != nil {
		t.Fatal(err)
	}
	if got != "user-1" {
		t.Errorf("user = %q, want user-1", got)
	}
}

func TestVerifyRejects(t *testing.T) {
	a := New("secret", time.Hour)
	good, _, err := a.Issue("user-1")
	if err != nil {
		t.Fatal(err)
	}

	expired := New("secret", time.Hour)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	old, _, err := expired.Issue("user-1")
	if err != nil {
		t.Fatal(err)
	}

	other, _, err := New("other", time.Hour).Issue("user-1")
	if err != nil {
		t.Fatal(err)
	}

	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{UserID: "user-1"}).SignedString([]byte("secret"))
	if err != nil {
		t.Fatal(err)
	}

	noUser, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}).SignedString([]byte("secret"))
	if err != nil {
		t.Fatal(err)
	}

	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{
		UserID:           "user-1",
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}).SignedString([]byte("secret"))
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"malformed", "not.a.token"},
		{"expired", old},
		{"wrong secret", other},
		{"missing exp", noExp},
		{"missing user", noUser},
		{"other algorithm", hs512},
		{"tampered", good + "x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.Verify(tt.token)
			if !apperr.Is(err, apperr.Authentication) {
				t.Errorf("Verify() err = %v, want authentication error", err)
			}
		})
	}
}

func TestTokenFromRequest(t *testing.T) {
	tests := []struct {
		name   string
		url    string
		header string
		want   string
	}{
		{"bearer header", "/ws", "Bearer abc", "abc"},
		{"query param", "/ws?token=xyz", "", "xyz"},
		{"header wins", "/ws?token=xyz", "Bearer abc", "abc"},
		{"non-bearer header", "/ws?token=xyz", "Basic abc", ""},
		{"none", "/ws", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", tt.url, nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			if got := TokenFromRequest(r); got != tt.want {
				t.Errorf("TokenFromRequest() = %q, want %q", got, tt.want)
			}
		})
	}
}
