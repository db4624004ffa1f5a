package ajaxapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestHashPassword(t *testing.T) {
	t.Parallel()

	const want = "2bb80d537b1da3e38bd30361aa855686bde0eacd7162fef6a25fe97bf527a25b"
	if got := HashPassword("secret"); got != want {
		t.Errorf("HashPassword(secret) = %q, want %q", got, want)
	}
}

func TestTokenExpired(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		expiry time.Time
		want   bool
	}{
		{"fresh token", base.Add(15 * time.Minute), false},
		{"just outside margin", base.Add(5*time.Minute + time.Second), false},
		{"inside margin", base.Add(4 * time.Minute), true},
		{"exactly at margin", base.Add(5 * time.Minute), true},
		{"already expired", base.Add(-time.Minute), true},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			c := NewUserCredentials("http://example.invalid", "key", "user", "hash")
			c.now = func() time.Time { return base }
			c.SetTokens("st", "rt", "uid", tc.expiry)

			if got := c.tokenExpired(); got != tc.want {
				t.Errorf("tokenExpired() = %v, want %v", got, tc.want)
			}
		})
	}

	t.Run("no token yet", func(t *testing.T) {
		t.Parallel()

		c := NewUserCredentials("http://example.invalid", "key", "user", "hash")
		if !c.tokenExpired() {
			t.Error("credentials without a token should read expired")
		}
	})

	t.Run("company tokens never expire", func(t *testing.T) {
		t.Parallel()

		c := NewCompanyCredentials("http://example.invalid", "key", "co", "tok")
		if c.tokenExpired() {
			t.Error("company token should never read expired")
		}
	})
}

func TestEnsureValidTokenLogsIn(t *testing.T) {
	t.Parallel()

	var loginBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/login" {
			t.Errorf("unexpected path %s", r.URL.Path)
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("X-Api-Key"); got != "key" {
			t.Errorf("X-Api-Key = %q, want key", got)
		}
		_ = json.NewDecoder(r.Body).Decode(&loginBody)

		_ = json.NewEncoder(w).Encode(tokenResponse{
			SessionToken: "st-1",
			RefreshToken: "rt-1",
			UserID:       "uid-1",
		})
	}))
	defer srv.Close()

	c := NewUserCredentials(srv.URL, "key", "jane@example.com", "deadbeef")
	if err := c.EnsureValidToken(context.Background()); err != nil {
		t.Fatalf("EnsureValidToken() error: %v", err)
	}

	if loginBody["login"] != "jane@example.com" || loginBody["passwordHash"] != "deadbeef" {
		t.Errorf("login body = %v", loginBody)
	}
	if loginBody["userRole"] != "USER" {
		t.Errorf("userRole = %q, want USER", loginBody["userRole"])
	}

	st, rt, uid := c.Tokens()
	if st != "st-1" || rt != "rt-1" || uid != "uid-1" {
		t.Errorf("tokens = %q/%q/%q", st, rt, uid)
	}
	if c.tokenExpired() {
		t.Error("fresh tokens should not read expired")
	}
}

func TestEnsureValidTokenPrefersRefresh(t *testing.T) {
	t.Parallel()

	var refreshBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/refresh":
			_ = json.NewDecoder(r.Body).Decode(&refreshBody)
			_ = json.NewEncoder(w).Encode(tokenResponse{
				SessionToken: "st-2",
				RefreshToken: "rt-2",
				UserID:       "uid-1",
			})
		case "/login":
			t.Error("should refresh, not log in, when a refresh token exists")
			http.Error(w, "no", http.StatusForbidden)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewUserCredentials(srv.URL, "key", "jane@example.com", "deadbeef")
	c.SetTokens("st-old", "rt-old", "uid-1", time.Now().Add(-time.Minute))

	if err := c.EnsureValidToken(context.Background()); err != nil {
		t.Fatalf("EnsureValidToken() error: %v", err)
	}

	if refreshBody["userId"] != "uid-1" || refreshBody["refreshToken"] != "rt-old" {
		t.Errorf("refresh body = %v", refreshBody)
	}

	st, rt, _ := c.Tokens()
	if st != "st-2" || rt != "rt-2" {
		t.Errorf("tokens = %q/%q, want rotated pair", st, rt)
	}
}

func TestEnsureValidTokenNoops(t *testing.T) {
	t.Parallel()

	// any network call would hit a dead URL and fail the test
	c := NewUserCredentials("http://127.0.0.1:1", "key", "user", "hash")
	c.SetTokens("st", "rt", "uid", time.Now().Add(15*time.Minute))

	if err := c.EnsureValidToken(context.Background()); err != nil {
		t.Errorf("EnsureValidToken() with a fresh token: %v", err)
	}

	co := NewCompanyCredentials("http://127.0.0.1:1", "key", "co", "tok")
	if err := co.EnsureValidToken(context.Background()); err != nil {
		t.Errorf("EnsureValidToken() in company mode: %v", err)
	}
}

func TestEnsureValidTokenConcurrentCallers(t *testing.T) {
	t.Parallel()

	// a real token endpoint spends each refresh token exactly once;
	// a second exchange with the same token is rejected
	var mu sync.Mutex
	spent := map[string]bool{}
	refreshCalls := 0

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/refresh" {
			http.NotFound(w, r)
			return
		}

		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)

		mu.Lock()
		refreshCalls++
		reused := spent[body["refreshToken"]]
		spent[body["refreshToken"]] = true
		n := refreshCalls
		mu.Unlock()

		if reused {
			http.Error(w, "refresh token already spent", http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(tokenResponse{
			SessionToken: fmt.Sprintf("st-%d", n),
			RefreshToken: fmt.Sprintf("rt-%d", n),
			UserID:       "uid-1",
		})
	}))
	defer srv.Close()

	c := NewUserCredentials(srv.URL, "key", "jane@example.com", "deadbeef")
	c.SetTokens("st-old", "rt-old", "uid-1", time.Now().Add(-time.Minute))

	const callers = 8
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		go func() {
			errs <- c.EnsureValidToken(context.Background())
		}()
	}
	for i := 0; i < callers; i++ {
		if err := <-errs; err != nil {
			t.Errorf("concurrent EnsureValidToken() error: %v", err)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if refreshCalls != 1 {
		t.Errorf("refresh calls = %d, want 1", refreshCalls)
	}
}

func TestLoginConcurrentWithExport(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(tokenResponse{
			SessionToken: "st-1",
			RefreshToken: "rt-1",
			UserID:       "uid-1",
		})
	}))
	defer srv.Close()

	c := NewUserCredentials(srv.URL, "key", "jane@example.com", "deadbeef")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			_ = c.String()
		}
	}()

	for i := 0; i < 50; i++ {
		if err := c.Login(context.Background(), "jane@example.com", "deadbeef"); err != nil {
			t.Fatalf("Login() error: %v", err)
		}
	}
	<-done
}

func TestTokenExchangeRejected(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad credentials", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewUserCredentials(srv.URL, "key", "jane@example.com", "wrong")
	err := c.Login(context.Background(), "jane@example.com", "wrong")

	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("Login() error = %v, want *AuthError", err)
	}
}

func TestCredentialsSaveLoad(t *testing.T) {
	t.Parallel()

	fileName := filepath.Join(t.TempDir(), "state.json")

	c := NewUserCredentials("http://example.invalid", "key", "jane@example.com", "deadbeef")
	expiry := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	c.SetTokens("st-1", "rt-1", "uid-1", expiry)

	if err := c.Save(fileName); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	loaded := NewUserCredentials("http://example.invalid", "key", "", "")
	if err := loaded.Load(fileName); err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	st, rt, uid := loaded.Tokens()
	if st != "st-1" || rt != "rt-1" || uid != "uid-1" {
		t.Errorf("tokens = %q/%q/%q", st, rt, uid)
	}
	if loaded.username != "jane@example.com" || loaded.passwordHash != "deadbeef" {
		t.Errorf("identity = %q/%q", loaded.username, loaded.passwordHash)
	}
	if !loaded.tokenExpiry.Equal(expiry) {
		t.Errorf("tokenExpiry = %v, want %v", loaded.tokenExpiry, expiry)
	}
}

func TestCredentialsLoadMissingFile(t *testing.T) {
	t.Parallel()

	c := NewUserCredentials("http://example.invalid", "key", "user", "hash")
	if err := c.Load(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Error("Load() of a missing file should fail")
	}
}

func TestCredentialsStringObfuscation(t *testing.T) {
	t.Parallel()

	c := NewUserCredentials("http://example.invalid", "key", "jane@example.com", "deadbeef")
	c.SetTokens("super-secret-session", "super-secret-refresh", "uid-1", time.Time{})

	s := c.String()
	if strings.Contains(s, "super-secret") {
		t.Errorf("String() leaks raw tokens: %s", s)
	}
	if !strings.Contains(s, "jane@example.com") {
		t.Errorf("String() should still identify the account: %s", s)
	}

	co := NewCompanyCredentials("http://example.invalid", "key", "co-1", "company-token")
	if s := co.String(); strings.Contains(s, "company-token") {
		t.Errorf("String() leaks the company token: %s", s)
	}
}
