package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func newSigner() *Signer {
	return NewSigner("gymops-test", "secret", time.Minute, time.Hour)
}

func TestIssueAndParse(t *testing.T) {
	s := newSigner()
	pair, err := s.Issue("kiosk-1", RoleKiosk)
	if err != nil {
		t.Fatal(err)
	}
	claims, err := s.ParseAccess(pair.AccessToken)
	if err != nil {
		t.Fatal(err)
	}
	if claims.Subject != "kiosk-1" || claims.Role != RoleKiosk {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if _, err := s.ParseAccess(pair.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("refresh token must not pass as access, got %v", err)
	}
	if _, err := s.ParseRefresh(pair.RefreshToken); err != nil {
		t.Fatal(err)
	}
}

func TestParseRejects(t *testing.T) {
	s := newSigner()
	pair, _ := s.Issue("admin-1", RoleAdmin)

	other := NewSigner("someone-else", "secret", time.Minute, time.Hour)
	if _, err := other.ParseAccess(pair.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("issuer mismatch must fail, got %v", err)
	}
	wrongKey := NewSigner("gymops-test", "other", time.Minute, time.Hour)
	if _, err := wrongKey.ParseAccess(pair.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("bad signature must fail, got %v", err)
	}

	s.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	if _, err := s.ParseAccess(pair.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expired token must fail, got %v", err)
	}
	if _, err := s.Issue("x", "root"); !errors.Is(err, ErrUnknownRole) {
		t.Fatalf("expected ErrUnknownRole, got %v", err)
	}
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s := newSigner()
	r := gin.New()
	r.GET("/admin", Bearer(s), RequireRole(RoleAdmin), func(c *gin.Context) {
		claims, _ := ClaimsFrom(c)
		c.String(http.StatusOK, claims.Subject)
	})

	kiosk, _ := s.Issue("kiosk-1", RoleKiosk)
	admin, _ := s.Issue("admin-1", RoleAdmin)

	cases := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"garbage", "Bearer nope", http.StatusUnauthorized},
		{"wrong role", "Bearer " + kiosk.AccessToken, http.StatusForbidden},
		{"admin", "Bearer " + admin.AccessToken, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tc.want {
				t.Fatalf("got %d, want %d", w.Code, tc.want)
			}
			if tc.want == http.StatusOK && w.Body.String() != "admin-1" {
				t.Fatalf("unexpected body %q", w.Body.String())
			}
		})
	}
}
