// connection/config.go
package connection

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/deploymenttheory/go-jamfpro-api-client/jamferrors"
	"github.com/deploymenttheory/go-jamfpro-api-client/token"
)

const (
	// DefaultOnPremPort is the standard Tomcat port for self-hosted servers.
	DefaultOnPremPort = 8443
	// DefaultCloudPort is the port for Jamf Cloud hosted instances.
	DefaultCloudPort = 443
	// CloudDomainSuffix identifies Jamf Cloud hostnames, which get the cloud
	// port by default.
	CloudDomainSuffix = ".jamfcloud.com"

	DefaultTimeout     = 60 * time.Second
	DefaultOpenTimeout = 60 * time.Second

	DefaultSSLVersion = "TLS1_2"
)

// Config carries the connection parameters recognized by Connect. Zero values
// fall back through the precedence chain: explicit field, supplied Token
// object, parsed URL, then built-in defaults.
type Config struct {
	// URL is a full server URL, e.g. "https://myjamf.jamfcloud.com:443/prefix".
	// Host, Port and ServerPath parsed from it fill any unset fields below.
	URL string

	Host       string
	Port       int
	ServerPath string // optional path prefix below the hostname

	User     string
	Password string

	// Token adopts a pre-existing Token object; TokenString adopts a bearer
	// string. Either replaces User/Password authentication.
	Token       *token.Token
	TokenString string

	Timeout     time.Duration
	OpenTimeout time.Duration

	SSLVersion string // TLS protocol version name, e.g. "TLS1_2" or "TLS1_3"
	VerifyCert *bool  // nil means true

	KeepAlive          bool // start the token's background auto-refresh task
	PWFallback         bool // retain the password for refresh-after-failure
	TokenRefreshBuffer time.Duration

	EnableCookieJar bool              // sticky-session support behind load balancers
	CustomCookies   map[string]string // cookies injected on every request

	LogLevel          string
	LogOutputFormat   string
	HideSensitiveData bool

	// scheme is parsed from URL; https unless the URL says otherwise.
	scheme string
}

// setDefaults fills unset fields, resolving the URL into host/port/path parts
// first so explicit fields keep precedence.
func (cfg *Config) setDefaults() error {
	if cfg.Token != nil {
		if u, err := url.Parse(cfg.Token.BaseURL()); err == nil {
			if cfg.Host == "" {
				cfg.Host = u.Hostname()
			}
			if cfg.Port == 0 && u.Port() != "" {
				fmt.Sscanf(u.Port(), "%d", &cfg.Port)
			}
			if cfg.scheme == "" && u.Scheme != "" {
				cfg.scheme = u.Scheme
			}
		}
	}

	if cfg.URL != "" {
		u, err := url.Parse(cfg.URL)
		if err != nil {
			return jamferrors.NewInvalidDataError("unparseable server URL %q: %v", cfg.URL, err)
		}
		if cfg.Host == "" {
			cfg.Host = u.Hostname()
		}
		if cfg.Port == 0 && u.Port() != "" {
			fmt.Sscanf(u.Port(), "%d", &cfg.Port)
		}
		if cfg.ServerPath == "" {
			cfg.ServerPath = strings.Trim(u.Path, "/")
		}
		if u.Scheme != "" {
			cfg.scheme = u.Scheme
		}
	}
	if cfg.scheme == "" {
		cfg.scheme = "https"
	}

	if cfg.Port == 0 {
		if strings.HasSuffix(cfg.Host, CloudDomainSuffix) {
			cfg.Port = DefaultCloudPort
		} else {
			cfg.Port = DefaultOnPremPort
		}
	}

	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.OpenTimeout == 0 {
		cfg.OpenTimeout = DefaultOpenTimeout
	}
	if cfg.SSLVersion == "" {
		cfg.SSLVersion = DefaultSSLVersion
	}
	if cfg.TokenRefreshBuffer == 0 {
		cfg.TokenRefreshBuffer = token.MinRefreshBuffer
	}
	return nil
}

// validate confirms the resolved parameters are usable: a host, plus either a
// token or a full user/password pair. The open sandbox host needs neither.
func (cfg *Config) validate() error {
	if cfg.Host == "" {
		return jamferrors.NewMissingDataError("no host or server URL provided")
	}
	if cfg.Host == token.OpenSandboxHost {
		return nil
	}
	if cfg.Token != nil || cfg.TokenString != "" {
		return nil
	}
	if cfg.User == "" {
		return jamferrors.NewMissingDataError("no API user provided")
	}
	if cfg.Password == "" {
		return jamferrors.NewMissingDataError("no password provided for user %q", cfg.User)
	}
	return nil
}

// verifyCert returns the effective certificate-verification flag.
func (cfg *Config) verifyCert() bool {
	return cfg.VerifyCert == nil || *cfg.VerifyCert
}

// baseURL assembles "scheme://host:port[/server_path]".
func (cfg *Config) baseURL() string {
	base := fmt.Sprintf("%s://%s:%d", cfg.scheme, cfg.Host, cfg.Port)
	if cfg.ServerPath != "" {
		base += "/" + strings.Trim(cfg.ServerPath, "/")
	}
	return base
}
