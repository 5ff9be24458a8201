// token/token.go
/* The token package manages the Jamf Pro bearer-token lifecycle: acquisition
from a username/password pair or an existing token string, validity and expiry
tracking, refresh via the keep-alive endpoint with optional password fallback,
invalidation, and an optional background keep-alive task. A Token is owned by
exactly one Connection at a time. */
package token

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/deploymenttheory/go-jamfpro-api-client/jamferrors"
	"github.com/deploymenttheory/go-jamfpro-api-client/logger"
	"github.com/deploymenttheory/go-jamfpro-api-client/redact"
	"go.uber.org/zap"
)

// Endpoint constants represent the URL suffixes used for Jamf API token
// interactions, relative to the Jamf Pro API base path.
const (
	BearerTokenEndpoint     = "/v1/auth/token"            // Obtain a bearer token via basic auth.
	TokenRefreshEndpoint    = "/v1/auth/keep-alive"       // Refresh an existing token.
	TokenInvalidateEndpoint = "/v1/auth/invalidate-token" // Invalidate an active token.
	CurrentAuthEndpoint     = "/v1/auth"                  // Introspect the current token.

	// JamfProAPIPathSegment is the path prefix of the Jamf Pro API. Base URLs
	// are normalized to always end with it.
	JamfProAPIPathSegment = "/api"

	// OpenSandboxHost is Jamf's public try-it-out server, which disables real
	// authentication. Matching it exactly enables the no-auth token mode.
	OpenSandboxHost = "tryitout.jamfcloud.com"
)

const (
	// MinRefreshBuffer is the enforced floor for the refresh buffer. Values
	// below it are clamped up at construction.
	MinRefreshBuffer = 5 * time.Minute

	// DefaultKeepAliveInterval is how often the background keep-alive task
	// wakes to check remaining token lifetime.
	DefaultKeepAliveInterval = 60 * time.Second
)

// RefreshResult records the outcome of the most recent Refresh call.
type RefreshResult string

const (
	RefreshResultUnknown           RefreshResult = ""
	RefreshResultRefreshed         RefreshResult = "refreshed"
	RefreshResultRefreshedPW       RefreshResult = "refreshed_pw"
	RefreshResultFailed            RefreshResult = "refresh_failed"
	RefreshResultFailedNoFallback  RefreshResult = "refresh_failed_no_pw_fallback"
	RefreshResultExpiredRefreshed  RefreshResult = "expired_refreshed"
	RefreshResultExpiredFailed     RefreshResult = "expired_failed"
	RefreshResultExpiredNoFallback RefreshResult = "expired_no_pw_fallback"
)

// Config carries the parameters for constructing a Token.
type Config struct {
	// BaseURL is the server root, e.g. "https://myjamf.jamfcloud.com". The
	// Jamf Pro API path segment is appended if missing.
	BaseURL string

	User        string
	Password    string
	TokenString string

	// PWFallback retains the password in memory so Refresh can fall back to
	// full re-authentication when keep-alive fails or the token has expired.
	// When false the password is discarded immediately after construction.
	PWFallback bool

	// RefreshBuffer is the remaining-lifetime threshold below which a refresh
	// is triggered. Clamped up to MinRefreshBuffer.
	RefreshBuffer time.Duration

	// KeepAliveInterval overrides the background task's wake interval. Zero
	// means DefaultKeepAliveInterval.
	KeepAliveInterval time.Duration

	HTTPClient        *http.Client
	Logger            logger.Logger
	HideSensitiveData bool
}

// Token owns the credential material and bearer token for one session.
type Token struct {
	mu sync.Mutex

	baseURL string // always ends with the Jamf Pro API path segment
	user    string

	token     string
	loginTime time.Time
	expires   time.Time

	lastRefreshResult RefreshResult

	pwFallback bool
	password   string // retained only when pwFallback

	refreshBuffer     time.Duration
	keepAliveInterval time.Duration
	keepAlive         *keepAliveTask

	httpClient        *http.Client
	log               logger.Logger
	hideSensitiveData bool

	invalidated bool
}

// tokenResponse is the wire shape of a successful token issuance or refresh.
// The expires field is epoch milliseconds on older servers and an RFC 3339
// timestamp on newer ones.
type tokenResponse struct {
	Token   string          `json:"token"`
	Expires json.RawMessage `json:"expires"`
}

func (tr *tokenResponse) expiry() (time.Time, error) {
	var millis int64
	if err := json.Unmarshal(tr.Expires, &millis); err == nil {
		return time.UnixMilli(millis), nil
	}
	var stamp string
	if err := json.Unmarshal(tr.Expires, &stamp); err == nil {
		return time.Parse(time.RFC3339, stamp)
	}
	return time.Time{}, fmt.Errorf("unparseable token expiry: %s", string(tr.Expires))
}

func newFromConfig(cfg Config) *Token {
	t := &Token{
		baseURL:           NormalizeBaseURL(cfg.BaseURL),
		user:              cfg.User,
		pwFallback:        cfg.PWFallback,
		refreshBuffer:     cfg.RefreshBuffer,
		keepAliveInterval: cfg.KeepAliveInterval,
		httpClient:        cfg.HTTPClient,
		log:               cfg.Logger,
		hideSensitiveData: cfg.HideSensitiveData,
	}
	if t.refreshBuffer < MinRefreshBuffer {
		t.refreshBuffer = MinRefreshBuffer
	}
	if t.keepAliveInterval <= 0 {
		t.keepAliveInterval = DefaultKeepAliveInterval
	}
	if t.httpClient == nil {
		t.httpClient = &http.Client{}
	}
	if t.log == nil {
		t.log = logger.NewNopLogger()
	}
	if cfg.PWFallback {
		t.password = cfg.Password
	}
	return t
}

// New constructs a Token, dispatching on the supplied credentials: the open
// sandbox host needs none, a token string adopts an existing session, and a
// username/password pair performs full authentication.
func New(cfg Config) (*Token, error) {
	host := hostOf(cfg.BaseURL)
	switch {
	case host == OpenSandboxHost:
		return NewForSandbox(cfg), nil
	case cfg.TokenString != "":
		return NewFromTokenString(cfg)
	case cfg.User != "" && cfg.Password != "":
		return NewFromPassword(cfg)
	default:
		return nil, jamferrors.NewMissingDataError("cannot create a token: need either user and password, or a token string")
	}
}

// NewFromPassword authenticates with HTTP basic auth against the token
// issuance endpoint.
func NewFromPassword(cfg Config) (*Token, error) {
	t := newFromConfig(cfg)
	if cfg.User == "" || cfg.Password == "" {
		return nil, jamferrors.NewMissingDataError("password-mode token requires both user and password")
	}

	if err := t.acquireFromPassword(cfg.User, cfg.Password); err != nil {
		return nil, err
	}

	t.log.Info("token acquired",
		zap.String("user", t.user),
		zap.String("token", redact.RedactSensitiveCredential(t.hideSensitiveData, redact.TruncateToken(t.token))),
		zap.Time("expires", t.expires),
		zap.Bool("pw_fallback", t.pwFallback),
	)
	return t, nil
}

// NewFromTokenString adopts an existing bearer-token string. The string is
// introspected to learn the username, then immediately refreshed: the supplied
// string's own expiry is not trusted, and the refresh yields a concrete one.
func NewFromTokenString(cfg Config) (*Token, error) {
	t := newFromConfig(cfg)

	user, err := t.introspect(cfg.TokenString)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	t.user = user
	t.token = cfg.TokenString
	t.loginTime = time.Now()
	// Placeholder until the forced refresh below reports the real expiry.
	t.expires = time.Now().Add(t.refreshBuffer + time.Minute)

	if err := t.keepAliveOnce(); err != nil {
		t.mu.Unlock()
		return nil, jamferrors.NewInvalidDataError("Token is not valid")
	}
	t.lastRefreshResult = RefreshResultRefreshed
	expires := t.expires
	t.mu.Unlock()

	t.log.Info("token adopted from string",
		zap.String("user", user),
		zap.Time("expires", expires),
	)
	return t, nil
}

// NewForSandbox synthesizes a non-expiring token for the open test server
// without any network call. Real authentication is disabled there.
func NewForSandbox(cfg Config) *Token {
	t := newFromConfig(cfg)
	t.user = "jamfsw"
	t.token = "no-auth-open-sandbox"
	t.loginTime = time.Now()
	t.expires = time.Now().AddDate(100, 0, 0)
	return t
}

// acquireFromPassword POSTs to the token issuance endpoint with basic auth and
// installs the returned token. Caller must hold no lock or the write lock; the
// method itself does not lock.
func (t *Token) acquireFromPassword(user, password string) error {
	endpoint := t.baseURL + BearerTokenEndpoint

	req, err := http.NewRequest(http.MethodPost, endpoint, nil)
	if err != nil {
		return err
	}
	req.SetBasicAuth(user, password)
	req.Header.Set("Accept", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return t.log.Error("failed to request token", zap.String("url", endpoint), zap.Error(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return &jamferrors.AuthenticationError{Message: "Incorrect name or password"}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(resp.Body)
		return &jamferrors.AuthenticationError{
			Message: fmt.Sprintf("token request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
		}
	}

	tokenResp := &tokenResponse{}
	if err := json.NewDecoder(resp.Body).Decode(tokenResp); err != nil {
		return t.log.Error("failed to decode token response", zap.Error(err))
	}
	expires, err := tokenResp.expiry()
	if err != nil {
		return t.log.Error("failed to parse token expiry", zap.Error(err))
	}

	t.user = user
	t.token = tokenResp.Token
	t.loginTime = time.Now()
	t.expires = expires
	t.invalidated = false
	return nil
}

// introspect GETs the current-auth endpoint with the given bearer string and
// returns the authenticated username.
func (t *Token) introspect(tokenString string) (string, error) {
	endpoint := t.baseURL + CurrentAuthEndpoint

	req, err := http.NewRequest(http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+tokenString)
	req.Header.Set("Accept", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", jamferrors.NewInvalidDataError("Token is not valid")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", jamferrors.NewInvalidDataError("Token is not valid")
	}

	var authBody struct {
		Account struct {
			Username string `json:"username"`
		} `json:"account"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&authBody); err != nil {
		return "", jamferrors.NewInvalidDataError("Token is not valid")
	}
	return authBody.Account.Username, nil
}

// Expired reports whether the stored expiry has passed. Pure clock comparison,
// no network.
func (t *Token) Expired() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.expiredLocked()
}

func (t *Token) expiredLocked() bool {
	return !time.Now().Before(t.expires)
}

// Valid reports network-verified validity: false immediately when expired or
// invalidated, otherwise the result of a live introspection call.
func (t *Token) Valid() bool {
	t.mu.Lock()
	if t.invalidated || t.expiredLocked() {
		t.mu.Unlock()
		return false
	}
	tokenString := t.token
	t.mu.Unlock()

	_, err := t.introspect(tokenString)
	return err == nil
}

// SecsRemaining returns the seconds until expiry. Negative once expired.
func (t *Token) SecsRemaining() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return time.Until(t.expires).Seconds()
}

// TimeRemaining returns the remaining lifetime as a humanized string such as
// "2 hours 5 minutes 3 seconds", or "expired".
func (t *Token) TimeRemaining() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	remaining := time.Until(t.expires)
	if remaining <= 0 {
		return "expired"
	}
	return humanizeDuration(remaining)
}

// NeedsRefresh reports whether the remaining lifetime has dropped below the
// refresh buffer.
func (t *Token) NeedsRefresh() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return time.Until(t.expires) < t.refreshBuffer
}

// TokenString returns the current bearer value.
func (t *Token) TokenString() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.token
}

// User returns the authenticated username.
func (t *Token) User() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.user
}

// Expires returns the current expiry timestamp.
func (t *Token) Expires() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.expires
}

// LoginTime returns when the current token value was acquired.
func (t *Token) LoginTime() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.loginTime
}

// LastRefreshResult returns the outcome of the most recent Refresh call.
func (t *Token) LastRefreshResult() RefreshResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastRefreshResult
}

// PWFallbackRetained reports whether a password is held for refresh fallback.
func (t *Token) PWFallbackRetained() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pwFallback && t.password != ""
}

// RefreshBuffer returns the effective (clamped) refresh buffer.
func (t *Token) RefreshBuffer() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.refreshBuffer
}

// BaseURL returns the normalized Jamf Pro API base URL.
func (t *Token) BaseURL() string {
	return t.baseURL
}

// NormalizeBaseURL trims trailing slashes and guarantees the URL ends with the
// Jamf Pro API path segment.
func NormalizeBaseURL(base string) string {
	base = strings.TrimRight(base, "/")
	if !strings.HasSuffix(base, JamfProAPIPathSegment) {
		base += JamfProAPIPathSegment
	}
	return base
}

func hostOf(base string) string {
	u, err := url.Parse(base)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// humanizeDuration renders a duration as its largest three non-zero units.
func humanizeDuration(d time.Duration) string {
	d = d.Round(time.Second)

	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	var parts []string
	appendUnit := func(n int, unit string) {
		if n == 0 {
			return
		}
		if n == 1 {
			parts = append(parts, fmt.Sprintf("1 %s", unit))
			return
		}
		parts = append(parts, fmt.Sprintf("%d %ss", n, unit))
	}
	appendUnit(days, "day")
	appendUnit(hours, "hour")
	appendUnit(minutes, "minute")
	appendUnit(seconds, "second")

	if len(parts) == 0 {
		return "0 seconds"
	}
	if len(parts) > 3 {
		parts = parts[:3]
	}
	return strings.Join(parts, " ")
}
