// token/token_test.go
package token

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/deploymenttheory/go-jamfpro-api-client/jamferrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeJamfAuth is a minimal stand-in for the Jamf Pro auth endpoints with
// switchable failure behavior and request counters.
type fakeJamfAuth struct {
	user, password string

	failKeepAlive  atomic.Bool
	failPassword   atomic.Bool
	tokenLifetime  time.Duration
	issueCount     atomic.Int64
	keepAliveCount atomic.Int64
	invalidated    atomic.Int64
	tokenSerial    atomic.Int64
}

func (f *fakeJamfAuth) writeToken(w http.ResponseWriter) {
	serial := f.tokenSerial.Add(1)
	lifetime := f.tokenLifetime
	if lifetime == 0 {
		lifetime = 30 * time.Minute
	}
	body := map[string]interface{}{
		"token":   fmt.Sprintf("tok-%d", serial),
		"expires": time.Now().Add(lifetime).UnixMilli(),
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(body)
}

func (f *fakeJamfAuth) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/auth/token", func(w http.ResponseWriter, r *http.Request) {
		f.issueCount.Add(1)
		user, pw, ok := r.BasicAuth()
		if f.failPassword.Load() || !ok || user != f.user || pw != f.password {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		f.writeToken(w)
	})
	mux.HandleFunc("/api/v1/auth/keep-alive", func(w http.ResponseWriter, r *http.Request) {
		f.keepAliveCount.Add(1)
		if f.failKeepAlive.Load() || r.Header.Get("Authorization") == "Bearer " {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		f.writeToken(w)
	})
	mux.HandleFunc("/api/v1/auth/invalidate-token", func(w http.ResponseWriter, r *http.Request) {
		f.invalidated.Add(1)
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/api/v1/auth", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer "+"bad-token" || r.Header.Get("Authorization") == "Bearer " {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"account": {"username": %q}}`, f.user)
	})
	return mux
}

func newFakeServer(t *testing.T) (*fakeJamfAuth, *httptest.Server) {
	t.Helper()
	fake := &fakeJamfAuth{user: "jamfadmin", password: "s3cret"}
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)
	return fake, srv
}

func passwordConfig(srv *httptest.Server, pwFallback bool) Config {
	return Config{
		BaseURL:    srv.URL,
		User:       "jamfadmin",
		Password:   "s3cret",
		PWFallback: pwFallback,
	}
}

func TestNewFromPassword(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		_, srv := newFakeServer(t)
		tok, err := NewFromPassword(passwordConfig(srv, false))
		require.NoError(t, err)

		assert.Equal(t, "jamfadmin", tok.User())
		assert.Equal(t, "tok-1", tok.TokenString())
		assert.False(t, tok.Expired())
		assert.Greater(t, tok.SecsRemaining(), 0.0)
		assert.False(t, tok.PWFallbackRetained(), "password must be discarded without pw_fallback")
	})

	t.Run("Bad Credentials", func(t *testing.T) {
		_, srv := newFakeServer(t)
		cfg := passwordConfig(srv, false)
		cfg.Password = "wrong"

		_, err := NewFromPassword(cfg)
		var authErr *jamferrors.AuthenticationError
		require.ErrorAs(t, err, &authErr)
		assert.Equal(t, "Incorrect name or password", authErr.Message)
	})

	t.Run("Missing Credentials", func(t *testing.T) {
		_, srv := newFakeServer(t)
		cfg := passwordConfig(srv, false)
		cfg.Password = ""

		_, err := NewFromPassword(cfg)
		var missingErr *jamferrors.MissingDataError
		assert.ErrorAs(t, err, &missingErr)
	})

	t.Run("Password Retained With Fallback", func(t *testing.T) {
		_, srv := newFakeServer(t)
		tok, err := NewFromPassword(passwordConfig(srv, true))
		require.NoError(t, err)
		assert.True(t, tok.PWFallbackRetained())
	})
}

func TestNewFromTokenString(t *testing.T) {
	t.Run("Valid String Forces Refresh", func(t *testing.T) {
		fake, srv := newFakeServer(t)
		tok, err := NewFromTokenString(Config{BaseURL: srv.URL, TokenString: "adopted-token"})
		require.NoError(t, err)

		// The adopted string's own expiry is never trusted: a keep-alive runs
		// at construction and replaces the token with a freshly-issued one.
		assert.Equal(t, int64(1), fake.keepAliveCount.Load())
		assert.Equal(t, "jamfadmin", tok.User())
		assert.NotEqual(t, "adopted-token", tok.TokenString())
		assert.Equal(t, RefreshResultRefreshed, tok.LastRefreshResult())
	})

	t.Run("Invalid String", func(t *testing.T) {
		_, srv := newFakeServer(t)
		_, err := NewFromTokenString(Config{BaseURL: srv.URL, TokenString: "bad-token"})
		var invalidErr *jamferrors.InvalidDataError
		require.ErrorAs(t, err, &invalidErr)
		assert.Equal(t, "Token is not valid", invalidErr.Message)
	})
}

func TestNewForSandbox(t *testing.T) {
	tok, err := New(Config{BaseURL: "https://" + OpenSandboxHost})
	require.NoError(t, err)
	assert.False(t, tok.Expired())
	assert.NotEmpty(t, tok.TokenString())
	assert.Greater(t, tok.SecsRemaining(), float64((24 * time.Hour).Seconds()))
}

// TestRefreshMonotonicity verifies that a successful refresh strictly advances
// the expiry and leaves at least the refresh buffer of lifetime remaining.
func TestRefreshMonotonicity(t *testing.T) {
	_, srv := newFakeServer(t)
	tok, err := NewFromPassword(passwordConfig(srv, false))
	require.NoError(t, err)

	before := tok.Expires()
	time.Sleep(10 * time.Millisecond)

	newExpiry, err := tok.Refresh()
	require.NoError(t, err)
	assert.True(t, newExpiry.After(before), "refresh must strictly advance expiry")
	assert.GreaterOrEqual(t, tok.SecsRemaining(), tok.RefreshBuffer().Seconds())
	assert.Equal(t, RefreshResultRefreshed, tok.LastRefreshResult())
}

// TestRefreshFallbackOrdering verifies that with a retained password a failed
// keep-alive falls back to re-authentication, and that without one it raises.
func TestRefreshFallbackOrdering(t *testing.T) {
	t.Run("With Fallback", func(t *testing.T) {
		fake, srv := newFakeServer(t)
		tok, err := NewFromPassword(passwordConfig(srv, true))
		require.NoError(t, err)

		fake.failKeepAlive.Store(true)
		_, err = tok.Refresh()
		require.NoError(t, err)
		assert.Equal(t, RefreshResultRefreshedPW, tok.LastRefreshResult())
		assert.Equal(t, int64(2), fake.issueCount.Load(), "fallback must re-authenticate")
	})

	t.Run("Without Fallback", func(t *testing.T) {
		fake, srv := newFakeServer(t)
		tok, err := NewFromPassword(passwordConfig(srv, false))
		require.NoError(t, err)

		fake.failKeepAlive.Store(true)
		_, err = tok.Refresh()
		var refreshErr *jamferrors.TokenRefreshError
		require.ErrorAs(t, err, &refreshErr)
		assert.Equal(t, RefreshResultFailedNoFallback, tok.LastRefreshResult())
	})

	t.Run("Fallback Password Also Rejected", func(t *testing.T) {
		fake, srv := newFakeServer(t)
		tok, err := NewFromPassword(passwordConfig(srv, true))
		require.NoError(t, err)

		fake.failKeepAlive.Store(true)
		fake.failPassword.Store(true)
		_, err = tok.Refresh()
		require.Error(t, err)
		assert.Equal(t, RefreshResultFailed, tok.LastRefreshResult())
	})
}

// TestRefreshExpired verifies the expired-token branches, including that the
// no-fallback case never touches the network.
func TestRefreshExpired(t *testing.T) {
	t.Run("No Fallback Raises Without Network Call", func(t *testing.T) {
		fake, srv := newFakeServer(t)
		tok, err := NewFromPassword(passwordConfig(srv, false))
		require.NoError(t, err)

		tok.mu.Lock()
		tok.expires = time.Now().Add(-time.Minute)
		tok.mu.Unlock()
		keepAlivesBefore := fake.keepAliveCount.Load()

		_, err = tok.Refresh()
		var invalidErr *jamferrors.InvalidTokenError
		require.ErrorAs(t, err, &invalidErr)
		assert.Equal(t, "Token has expired", invalidErr.Message)
		assert.Equal(t, RefreshResultExpiredNoFallback, tok.LastRefreshResult())
		assert.Equal(t, keepAlivesBefore, fake.keepAliveCount.Load(), "expired refresh must not POST keep-alive")
	})

	t.Run("Fallback Re-Authenticates", func(t *testing.T) {
		_, srv := newFakeServer(t)
		tok, err := NewFromPassword(passwordConfig(srv, true))
		require.NoError(t, err)

		tok.mu.Lock()
		tok.expires = time.Now().Add(-time.Minute)
		tok.mu.Unlock()

		newExpiry, err := tok.Refresh()
		require.NoError(t, err)
		assert.True(t, newExpiry.After(time.Now()))
		assert.Equal(t, RefreshResultExpiredRefreshed, tok.LastRefreshResult())
	})

	t.Run("Fallback Fails", func(t *testing.T) {
		fake, srv := newFakeServer(t)
		tok, err := NewFromPassword(passwordConfig(srv, true))
		require.NoError(t, err)

		tok.mu.Lock()
		tok.expires = time.Now().Add(-time.Minute)
		tok.mu.Unlock()
		fake.failPassword.Store(true)

		_, err = tok.Refresh()
		require.Error(t, err)
		assert.Equal(t, RefreshResultExpiredFailed, tok.LastRefreshResult())
	})
}

func TestInvalidate(t *testing.T) {
	fake, srv := newFakeServer(t)
	tok, err := NewFromPassword(passwordConfig(srv, true))
	require.NoError(t, err)

	tok.Invalidate()
	assert.True(t, tok.Invalidated())
	assert.False(t, tok.Valid())
	assert.Empty(t, tok.TokenString())
	assert.False(t, tok.PWFallbackRetained(), "invalidate must drop the retained password")
	assert.Equal(t, int64(1), fake.invalidated.Load())

	// Idempotent: a second call is a no-op, server-side included.
	tok.Invalidate()
	assert.Equal(t, int64(1), fake.invalidated.Load())
}

func TestKeepAliveTask(t *testing.T) {
	t.Run("Refuses When Expired", func(t *testing.T) {
		_, srv := newFakeServer(t)
		tok, err := NewFromPassword(passwordConfig(srv, false))
		require.NoError(t, err)

		tok.mu.Lock()
		tok.expires = time.Now().Add(-time.Minute)
		tok.mu.Unlock()

		var invalidErr *jamferrors.InvalidTokenError
		assert.ErrorAs(t, tok.StartKeepAlive(), &invalidErr)
		assert.False(t, tok.KeepAliveRunning())
	})

	t.Run("Single Task And Stop", func(t *testing.T) {
		_, srv := newFakeServer(t)
		tok, err := NewFromPassword(passwordConfig(srv, false))
		require.NoError(t, err)

		require.NoError(t, tok.StartKeepAlive())
		require.NoError(t, tok.StartKeepAlive(), "second start must be a no-op")
		assert.True(t, tok.KeepAliveRunning())

		tok.StopKeepAlive()
		assert.False(t, tok.KeepAliveRunning())
		tok.StopKeepAlive() // no-op
	})

	t.Run("Refreshes When Inside Buffer", func(t *testing.T) {
		fake, srv := newFakeServer(t)
		cfg := passwordConfig(srv, false)
		cfg.KeepAliveInterval = 10 * time.Millisecond
		tok, err := NewFromPassword(cfg)
		require.NoError(t, err)

		// Force the remaining lifetime under the buffer so the next tick
		// triggers a refresh.
		tok.mu.Lock()
		tok.expires = time.Now().Add(time.Minute)
		tok.mu.Unlock()

		require.NoError(t, tok.StartKeepAlive())
		defer tok.StopKeepAlive()

		assert.Eventually(t, func() bool {
			return fake.keepAliveCount.Load() > 0
		}, time.Second, 5*time.Millisecond, "background task should have refreshed")
		assert.False(t, tok.NeedsRefresh(), "refresh should have restored the full lifetime")
	})
}

// TestConcurrentTokenUse hammers accessors and refreshes from several
// goroutines on a token adopted from a string; run with the race detector to
// catch lock-discipline slips.
func TestConcurrentTokenUse(t *testing.T) {
	_, srv := newFakeServer(t)
	tok, err := NewFromTokenString(Config{BaseURL: srv.URL, TokenString: "adopted-token"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				tok.TokenString()
				tok.SecsRemaining()
				tok.NeedsRefresh()
				tok.Refresh()
			}
		}()
	}
	wg.Wait()

	assert.False(t, tok.Expired())
	assert.NotEmpty(t, tok.TokenString())
}

func TestValid(t *testing.T) {
	_, srv := newFakeServer(t)
	tok, err := NewFromPassword(passwordConfig(srv, false))
	require.NoError(t, err)

	assert.True(t, tok.Valid(), "live introspection should succeed")

	tok.mu.Lock()
	tok.expires = time.Now().Add(-time.Second)
	tok.mu.Unlock()
	assert.False(t, tok.Valid(), "expired token is invalid without a network call")
}

func TestNormalizeBaseURL(t *testing.T) {
	cases := []struct {
		in       string
		expected string
	}{
		{"https://jamf.example.com", "https://jamf.example.com/api"},
		{"https://jamf.example.com/", "https://jamf.example.com/api"},
		{"https://jamf.example.com/api", "https://jamf.example.com/api"},
		{"https://jamf.example.com:8443", "https://jamf.example.com:8443/api"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.expected, NormalizeBaseURL(tc.in))
	}
}

func TestHumanizeDuration(t *testing.T) {
	cases := []struct {
		d        time.Duration
		expected string
	}{
		{0, "0 seconds"},
		{time.Second, "1 second"},
		{61 * time.Second, "1 minute 1 second"},
		{26*time.Hour + 3*time.Minute, "1 day 2 hours 3 minutes"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.expected, humanizeDuration(tc.d))
	}
}
