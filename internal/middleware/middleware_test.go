package middleware

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/vidaleve/backend/internal/auth"
	"github.com/vidaleve/backend/internal/models"
	"github.com/vidaleve/backend/internal/validation"
)

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

type stubTokens struct {
	principal *auth.Principal
	err       error
}

func (s *stubTokens) ValidateToken(_ context.Context, _ string) (*auth.Principal, error) {
	return s.principal, s.err
}

type stubProfiles struct {
	role string
	err  error
}

func (s *stubProfiles) Ensure(_ context.Context, id uuid.UUID, email string) (*models.Profile, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &models.Profile{ID: id, Email: email, Role: s.role}, nil
}

// okHandler writes the profile email (for assertions).
var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	if p := ProfileFromCtx(r.Context()); p != nil {
		w.Write([]byte(p.Email))
	}
})

func validTokens() *stubTokens {
	return &stubTokens{principal: &auth.Principal{UserID: uuid.New(), Email: "ana@example.com"}}
}

// ---------------------------------------------------------------------------
// Authenticate
// ---------------------------------------------------------------------------

func TestAuthenticate_Valid(t *testing.T) {
	mw := Authenticate(validTokens(), &stubProfiles{role: models.RoleUser}, nil)(okHandler)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer good")
	rec := httptest.NewRecorder()
	mw.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != "ana@example.com" {
		t.Errorf("profile not in context, body %q", rec.Body.String())
	}
}

func TestAuthenticate_Rejections(t *testing.T) {
	cases := []struct {
		name   string
		header string
		tokens *stubTokens
		prof   *stubProfiles
		want   int
	}{
		{"missing header", "", validTokens(), &stubProfiles{}, http.StatusUnauthorized},
		{"basic scheme", "Basic abc", validTokens(), &stubProfiles{}, http.StatusUnauthorized},
		{"invalid token", "Bearer bad", &stubTokens{err: auth.ErrInvalidToken}, &stubProfiles{}, http.StatusUnauthorized},
		{"profile failure", "Bearer good", validTokens(), &stubProfiles{err: errors.New("db")}, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mw := Authenticate(tc.tokens, tc.prof, nil)(okHandler)
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			mw.ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Errorf("expected %d, got %d", tc.want, rec.Code)
			}
		})
	}
}

func TestAuthenticate_WebsocketQueryToken(t *testing.T) {
	mw := Authenticate(validTokens(), &stubProfiles{}, nil)(okHandler)

	req := httptest.NewRequest(http.MethodGet, "/realtime/wallet?token=abc", nil)
	req.Header.Set("Upgrade", "websocket")
	rec := httptest.NewRecorder()
	mw.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("websocket query token: expected 200, got %d", rec.Code)
	}

	// Plain requests must not accept tokens in the URL.
	req = httptest.NewRequest(http.MethodGet, "/wallet?token=abc", nil)
	rec = httptest.NewRecorder()
	mw.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("query token on plain request: expected 401, got %d", rec.Code)
	}
}

// ---------------------------------------------------------------------------
// RequireAdmin / CronOrAdmin
// ---------------------------------------------------------------------------

func TestRequireAdmin(t *testing.T) {
	h := RequireAdmin(okHandler)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no profile: expected 401, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithProfile(req.Context(), &models.Profile{Role: models.RoleUser}))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("user: expected 403, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithProfile(req.Context(), &models.Profile{Role: models.RoleAdmin}))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("admin: expected 200, got %d", rec.Code)
	}
}

func TestCronOrAdmin(t *testing.T) {
	authn := Authenticate(&stubTokens{err: auth.ErrInvalidToken}, &stubProfiles{}, nil)
	h := CronOrAdmin("cron-secret", authn)(okHandler)

	req := httptest.NewRequest(http.MethodPost, "/expire-wallet-credits", nil)
	req.Header.Set("Authorization", "Bearer cron-secret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("cron secret: expected 200, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/expire-wallet-credits", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong secret: expected 401, got %d", rec.Code)
	}

	admin := CronOrAdmin("cron-secret", Authenticate(validTokens(), &stubProfiles{role: models.RoleAdmin}, nil))(okHandler)
	req = httptest.NewRequest(http.MethodPost, "/expire-wallet-credits", nil)
	req.Header.Set("Authorization", "Bearer user-jwt")
	rec = httptest.NewRecorder()
	admin.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("admin jwt: expected 200, got %d", rec.Code)
	}
}

// ---------------------------------------------------------------------------
// ValidateBody
// ---------------------------------------------------------------------------

func TestValidateBody(t *testing.T) {
	v, err := validation.New()
	if err != nil {
		t.Fatal(err)
	}
	echo := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		if string(b) != string(BodyFromCtx(r.Context())) {
			t.Error("restored body and context body differ")
		}
		w.Write(b)
	})
	h := ValidateBody(v, validation.WaterIntake)(echo)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"amount_ml":300}`)))
	if rec.Code != http.StatusOK || rec.Body.String() != `{"amount_ml":300}` {
		t.Fatalf("valid body: got %d %q", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"amount_ml":-3}`)))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("invalid body: expected 422, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "validation failed") {
		t.Errorf("error body should describe the failure: %s", rec.Body.String())
	}

	big := strings.NewReader(`{"amount_ml":1,"pad":"` + strings.Repeat("x", maxBodyBytes) + `"}`)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", big))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("oversized body: expected 413, got %d", rec.Code)
	}
}

// ---------------------------------------------------------------------------
// RateLimiter
// ---------------------------------------------------------------------------

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(1, 2, nil)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	h := rl.Handler(okHandler)

	hit := func(ip string) int {
		req := httptest.NewRequest(http.MethodPost, "/kiwify-webhook", nil)
		req.Header.Set("X-Forwarded-For", ip+", 10.0.0.1")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	if hit("1.1.1.1") != 200 || hit("1.1.1.1") != 200 {
		t.Fatal("burst of 2 should pass")
	}
	if code := hit("1.1.1.1"); code != http.StatusTooManyRequests {
		t.Fatalf("third request: expected 429, got %d", code)
	}
	if hit("2.2.2.2") != 200 {
		t.Fatal("other clients have their own bucket")
	}

	now = now.Add(time.Second)
	if hit("1.1.1.1") != 200 {
		t.Fatal("bucket refills over time")
	}

	now = now.Add(time.Hour)
	rl.Cleanup(time.Minute)
	if len(rl.limiters) != 0 {
		t.Errorf("idle buckets should be dropped, have %d", len(rl.limiters))
	}
}

func TestOptionalAuthenticate(t *testing.T) {
	mw := OptionalAuthenticate(&stubTokens{err: auth.ErrInvalidToken}, &stubProfiles{}, nil)(okHandler)

	rec := httptest.NewRecorder()
	mw.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/create-checkout", nil))
	if rec.Code != http.StatusOK || rec.Body.Len() != 0 {
		t.Fatalf("anonymous: expected 200 with no profile, got %d %q", rec.Code, rec.Body.String())
	}

	req := httptest.NewRequest(http.MethodPost, "/create-checkout", nil)
	req.Header.Set("Authorization", "Bearer expired")
	rec = httptest.NewRecorder()
	mw.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad token: expected 401, got %d", rec.Code)
	}
}
