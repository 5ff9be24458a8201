// connection/connection.go
/* The connection package provides the facade applications and resource
wrappers use to talk to a Jamf Pro server. A Connection owns one Token, two
HTTP client contexts (the legacy XML/JSON Classic API and the modern JSON
Jamf Pro API), per-connection list caches, and the translation of transport
failures into the jamferrors taxonomy. Connections are fully independent of
each other: no global state, no shared caches. */
package connection

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/deploymenttheory/go-jamfpro-api-client/jamferrors"
	"github.com/deploymenttheory/go-jamfpro-api-client/logger"
	"github.com/deploymenttheory/go-jamfpro-api-client/token"
	"go.uber.org/zap"
)

const (
	// ClassicAPIPathSegment prefixes every legacy API resource path.
	ClassicAPIPathSegment = "/JSSResource"

	// MinJamfProVersion is the lowest server version this client supports.
	// Bearer-token auth endpoints appeared in this release.
	MinJamfProVersion = "10.35.0"

	// UploadResourceBase is the Classic API's multipart file upload base.
	UploadResourceBase = "fileuploads"

	// XMLHeader is the fixed standalone declaration prepended to Classic API
	// write bodies.
	XMLHeader = `<?xml version="1.0" encoding="UTF-8" standalone="no"?>`
)

// Connection is a session with one Jamf Pro server. The zero value is
// disconnected; call Connect before any verb method.
type Connection struct {
	mu sync.Mutex

	name      string
	connected bool
	cfg       Config

	token *token.Token

	classicBase string // .../JSSResource
	jamfProBase string // .../api

	classicClient *http.Client
	jamfProClient *http.Client

	serverVersion string
	serverBuild   string

	lastHTTPResponse *http.Response

	caches *cacheStore

	log logger.Logger
}

// New returns a disconnected Connection with the given name. An empty name is
// replaced with "user@host:port" once connected.
func New(name string) *Connection {
	return &Connection{
		name:   name,
		caches: newCacheStore(),
		log:    logger.NewNopLogger(),
	}
}

// Connect establishes the session: tears down any prior one, resolves the
// layered parameter defaults, acquires or adopts a Token, verifies the server
// version, and opens both API client contexts. On any failure the Connection
// is left fully disconnected.
func (c *Connection) Connect(cfg Config) error {
	c.mu.Lock()
	if c.caches == nil {
		c.caches = newCacheStore()
	}
	if c.log == nil {
		c.log = logger.NewNopLogger()
	}
	c.mu.Unlock()

	c.Disconnect()

	if err := cfg.setDefaults(); err != nil {
		return err
	}
	if err := cfg.validate(); err != nil {
		return err
	}

	if cfg.LogLevel != "" {
		c.mu.Lock()
		c.log = logger.BuildLogger(logger.ParseLogLevelFromString(cfg.LogLevel), cfg.LogOutputFormat)
		c.mu.Unlock()
	}
	log := c.logger()

	baseURL := cfg.baseURL()
	httpClient, err := c.buildHTTPClient(&cfg)
	if err != nil {
		return err
	}

	tok := cfg.Token
	if tok == nil {
		tok, err = token.New(token.Config{
			BaseURL:           baseURL,
			User:              cfg.User,
			Password:          cfg.Password,
			TokenString:       cfg.TokenString,
			PWFallback:        cfg.PWFallback,
			RefreshBuffer:     cfg.TokenRefreshBuffer,
			HTTPClient:        httpClient,
			Logger:            log,
			HideSensitiveData: cfg.HideSensitiveData,
		})
		if err != nil {
			return err
		}
	}

	c.mu.Lock()
	c.cfg = cfg
	c.token = tok
	c.classicBase = baseURL + ClassicAPIPathSegment
	c.jamfProBase = token.NormalizeBaseURL(baseURL)
	c.classicClient = httpClient
	c.jamfProClient = c.cloneHTTPClient(httpClient)
	c.connected = true
	if c.name == "" {
		c.name = fmt.Sprintf("%s@%s:%d", tok.User(), cfg.Host, cfg.Port)
	}
	c.mu.Unlock()

	if err := c.checkServerVersion(); err != nil {
		c.Disconnect()
		return err
	}

	if cfg.KeepAlive {
		if err := tok.StartKeepAlive(); err != nil {
			c.Disconnect()
			return err
		}
	}

	log.Info("connected to Jamf Pro server",
		zap.String("name", c.Name()),
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
		zap.String("server_version", c.ServerVersion()),
	)
	return nil
}

// Disconnect invalidates the Token server-side (best effort, never raising),
// flushes every cache, and releases both client contexts. Idempotent.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	tok := c.token
	wasConnected := c.connected
	log := c.log
	name := c.name
	c.token = nil
	c.classicClient = nil
	c.jamfProClient = nil
	c.classicBase = ""
	c.jamfProBase = ""
	c.serverVersion = ""
	c.serverBuild = ""
	c.lastHTTPResponse = nil
	c.connected = false
	c.mu.Unlock()

	if tok != nil {
		tok.StopKeepAlive()
		tok.Invalidate()
	}

	if c.caches != nil {
		c.caches.flushAll()
	}

	if wasConnected && log != nil {
		log.Info("disconnected", zap.String("name", name))
	}
}

// Connected reports whether the Connection holds a live session.
func (c *Connection) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// buildHTTPClient constructs an HTTP client context with the configured TLS
// version, certificate-verification flag, timeouts, cookie jar and custom
// cookies.
func (c *Connection) buildHTTPClient(cfg *Config) (*http.Client, error) {
	tlsCfg := &tls.Config{
		InsecureSkipVerify: !cfg.verifyCert(),
	}
	switch cfg.SSLVersion {
	case "TLS1_3", "TLSv1_3":
		tlsCfg.MinVersion = tls.VersionTLS13
	case "TLS1_2", "TLSv1_2":
		tlsCfg.MinVersion = tls.VersionTLS12
	default:
		return nil, jamferrors.NewInvalidDataError("unsupported TLS version %q", cfg.SSLVersion)
	}

	transport := &http.Transport{
		TLSClientConfig: tlsCfg,
		DialContext: (&net.Dialer{
			Timeout: cfg.OpenTimeout,
		}).DialContext,
	}

	client := &http.Client{
		Timeout:   cfg.Timeout,
		Transport: transport,
	}

	if cfg.EnableCookieJar {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, err
		}
		client.Jar = jar
	}

	if len(cfg.CustomCookies) > 0 && client.Jar != nil {
		cookieURL, err := url.Parse(cfg.baseURL())
		if err != nil {
			return nil, err
		}
		cookies := make([]*http.Cookie, 0, len(cfg.CustomCookies))
		for k, v := range cfg.CustomCookies {
			cookies = append(cookies, &http.Cookie{Name: k, Value: v})
		}
		client.Jar.SetCookies(cookieURL, cookies)
	}

	return client, nil
}

// cloneHTTPClient gives the second API context its own client sharing the
// transport, so timeout changes can be applied to each independently but TLS
// settings and connection pooling stay common.
func (c *Connection) cloneHTTPClient(src *http.Client) *http.Client {
	return &http.Client{
		Timeout:   src.Timeout,
		Transport: src.Transport,
		Jar:       src.Jar,
	}
}

// checkServerVersion fetches the server's reported product version and fails
// with UnsupportedError below the minimum.
func (c *Connection) checkServerVersion() error {
	body, err := c.JamfProGet("v1/jamf-pro-version")
	if err != nil {
		return err
	}

	version, _ := body["version"].(string)
	if version == "" {
		return jamferrors.NewInvalidDataError("server did not report a product version")
	}

	// Version strings look like "11.5.1-t1715872885" with an optional build
	// suffix after the dash.
	bare := version
	if idx := strings.Index(version, "-"); idx >= 0 {
		bare = version[:idx]
		c.mu.Lock()
		c.serverBuild = version[idx+1:]
		c.mu.Unlock()
	}

	c.mu.Lock()
	c.serverVersion = bare
	c.mu.Unlock()

	if compareVersions(bare, MinJamfProVersion) < 0 {
		return &jamferrors.UnsupportedError{
			Message: fmt.Sprintf("this client requires Jamf Pro %s or higher, server is %s", MinJamfProVersion, bare),
		}
	}
	return nil
}

// compareVersions compares dotted numeric version strings. Missing segments
// compare as zero.
func compareVersions(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	for i := 0; i < len(as) || i < len(bs); i++ {
		var av, bv int
		if i < len(as) {
			fmt.Sscanf(as[i], "%d", &av)
		}
		if i < len(bs) {
			fmt.Sscanf(bs[i], "%d", &bv)
		}
		if av != bv {
			if av < bv {
				return -1
			}
			return 1
		}
	}
	return 0
}

// SetTimeout changes the overall request timeout on both API client contexts.
func (c *Connection) SetTimeout(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.classicClient != nil {
		c.classicClient.Timeout = d
	}
	if c.jamfProClient != nil {
		c.jamfProClient.Timeout = d
	}
	c.cfg.Timeout = d
}

// SetOpenTimeout changes the connection-open timeout on the shared transport,
// affecting both API client contexts.
func (c *Connection) SetOpenTimeout(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.OpenTimeout = d
	if c.classicClient == nil {
		return
	}
	if transport, ok := c.classicClient.Transport.(*http.Transport); ok {
		transport.DialContext = (&net.Dialer{Timeout: d}).DialContext
	}
}

// Name returns the connection's display name.
func (c *Connection) Name() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.name
}

// Host returns the connected hostname.
func (c *Connection) Host() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.Host
}

// Port returns the connected TCP port.
func (c *Connection) Port() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.Port
}

// User returns the authenticated username.
func (c *Connection) User() string {
	c.mu.Lock()
	tok := c.token
	c.mu.Unlock()
	if tok == nil {
		return ""
	}
	return tok.User()
}

// BaseURL returns "scheme://host:port[/server_path]" for the session.
func (c *Connection) BaseURL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.baseURL()
}

// SSLVersion returns the configured TLS protocol version name.
func (c *Connection) SSLVersion() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.SSLVersion
}

// VerifyCert reports whether server certificates are validated.
func (c *Connection) VerifyCert() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.verifyCert()
}

// ServerVersion returns the server's reported product version.
func (c *Connection) ServerVersion() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverVersion
}

// ServerBuild returns the build suffix of the server's version string.
func (c *Connection) ServerBuild() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverBuild
}

// KeepAliveRunning reports whether the token's background refresh is active.
func (c *Connection) KeepAliveRunning() bool {
	c.mu.Lock()
	tok := c.token
	c.mu.Unlock()
	return tok != nil && tok.KeepAliveRunning()
}

// PWFallbackRetained reports whether the token holds a fallback password.
func (c *Connection) PWFallbackRetained() bool {
	c.mu.Lock()
	tok := c.token
	c.mu.Unlock()
	return tok != nil && tok.PWFallbackRetained()
}

// Token returns the owned Token, or nil when disconnected.
func (c *Connection) Token() *token.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// LastHTTPResponse returns the most recent raw transport response, retained
// for diagnostic introspection after an error. Its body is already consumed.
func (c *Connection) LastHTTPResponse() *http.Response {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastHTTPResponse
}
