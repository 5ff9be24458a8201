// token/refresh.go
package token

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/deploymenttheory/go-jamfpro-api-client/jamferrors"
	"go.uber.org/zap"
)

// Refresh renews the token and returns the new expiry.
//
// Not yet expired: the keep-alive endpoint is POSTed with the current bearer
// value. If that fails and a fallback password is retained, full
// re-authentication is attempted instead.
//
// Already expired: the keep-alive call is skipped entirely. With a retained
// password, full re-authentication is attempted; without one, Refresh raises
// InvalidTokenError without touching the network.
//
// Every path records its outcome in LastRefreshResult.
func (t *Token) Refresh() (time.Time, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.expiredLocked() {
		if t.pwFallback && t.password != "" {
			if err := t.acquireFromPassword(t.user, t.password); err != nil {
				t.lastRefreshResult = RefreshResultExpiredFailed
				return time.Time{}, err
			}
			t.lastRefreshResult = RefreshResultExpiredRefreshed
			t.log.Info("expired token re-acquired via password fallback", zap.Time("expires", t.expires))
			return t.expires, nil
		}

		t.lastRefreshResult = RefreshResultExpiredNoFallback
		return time.Time{}, &jamferrors.InvalidTokenError{Message: "Token has expired"}
	}

	if err := t.keepAliveOnce(); err != nil {
		t.log.Warn("keep-alive refresh failed", zap.Error(err))

		if t.pwFallback && t.password != "" {
			if pwErr := t.acquireFromPassword(t.user, t.password); pwErr != nil {
				t.lastRefreshResult = RefreshResultFailed
				return time.Time{}, pwErr
			}
			t.lastRefreshResult = RefreshResultRefreshedPW
			t.log.Info("token re-acquired via password fallback", zap.Time("expires", t.expires))
			return t.expires, nil
		}

		t.lastRefreshResult = RefreshResultFailedNoFallback
		return time.Time{}, &jamferrors.TokenRefreshError{
			Message: "token refresh failed and no password fallback is available",
		}
	}

	t.lastRefreshResult = RefreshResultRefreshed
	t.log.Debug("token refreshed via keep-alive", zap.Time("expires", t.expires))
	return t.expires, nil
}

// keepAliveOnce POSTs the keep-alive endpoint with the current bearer value
// and installs the returned token. Caller holds the lock.
func (t *Token) keepAliveOnce() error {
	endpoint := t.baseURL + TokenRefreshEndpoint

	req, err := http.NewRequest(http.MethodPost, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+t.token)
	req.Header.Set("Accept", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return t.log.Error("keep-alive returned non-success status", zap.Int("status_code", resp.StatusCode))
	}

	tokenResp := &tokenResponse{}
	if err := json.NewDecoder(resp.Body).Decode(tokenResp); err != nil {
		return err
	}
	expires, err := tokenResp.expiry()
	if err != nil {
		return err
	}

	t.token = tokenResp.Token
	t.loginTime = time.Now()
	t.expires = expires
	return nil
}

// Invalidate POSTs the invalidation endpoint and marks the token permanently
// invalid. It is idempotent and never returns an error: disconnect-time
// cleanup must always complete, whatever the server says.
func (t *Token) Invalidate() {
	t.mu.Lock()
	if t.invalidated {
		t.mu.Unlock()
		return
	}
	t.invalidated = true
	tokenString := t.token
	t.token = ""
	t.expires = time.Time{}
	t.password = ""
	t.mu.Unlock()

	t.StopKeepAlive()

	if tokenString == "" {
		return
	}

	endpoint := t.baseURL + TokenInvalidateEndpoint
	req, err := http.NewRequest(http.MethodPost, endpoint, nil)
	if err != nil {
		return
	}
	req.Header.Set("Authorization", "Bearer "+tokenString)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		t.log.Debug("token invalidation request failed", zap.Error(err))
		return
	}
	resp.Body.Close()
	t.log.Debug("token invalidated", zap.Int("status_code", resp.StatusCode))
}

// Invalidated reports whether Invalidate has run.
func (t *Token) Invalidated() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.invalidated
}
