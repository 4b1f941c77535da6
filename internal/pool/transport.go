package pool

import (
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"outbound-pool/internal/common/errors"
)

// SchemeConfig holds connection limits for one scheme
type SchemeConfig struct {
	// MaxSockets caps concurrent connections per host
	MaxSockets int `yaml:"max_sockets"`
	// MaxFreeSockets caps idle connections kept per host
	MaxFreeSockets int `yaml:"max_free_sockets"`
	// MaxTotalFreeSockets caps idle connections across all hosts
	MaxTotalFreeSockets int           `yaml:"max_total_free_sockets"`
	IdleTimeout         time.Duration `yaml:"idle_timeout"`
	KeepAlive           bool          `yaml:"keep_alive"`
	KeepAliveInterval   time.Duration `yaml:"keep_alive_interval"`
	DialTimeout         time.Duration `yaml:"dial_timeout"`
	TLSHandshakeTimeout time.Duration `yaml:"tls_handshake_timeout"`
}

// TransportConfig holds separate limits for plain and TLS upstreams
type TransportConfig struct {
	HTTP  SchemeConfig `yaml:"http"`
	HTTPS SchemeConfig `yaml:"https"`
}

// DefaultSchemeConfig returns default per-scheme limits
func DefaultSchemeConfig() SchemeConfig {
	return SchemeConfig{
		MaxSockets:          50,
		MaxFreeSockets:      10,
		MaxTotalFreeSockets: 100,
		IdleTimeout:         90 * time.Second,
		KeepAlive:           true,
		KeepAliveInterval:   30 * time.Second,
		DialTimeout:         10 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
}

// DefaultTransportConfig returns the same defaults for both schemes
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		HTTP:  DefaultSchemeConfig(),
		HTTPS: DefaultSchemeConfig(),
	}
}

// Capacity returns the combined per-host socket limit of both schemes
func (c TransportConfig) Capacity() int {
	return c.HTTP.MaxSockets + c.HTTPS.MaxSockets
}

func newTransport(cfg SchemeConfig) *http.Transport {
	keepAlive := cfg.KeepAliveInterval
	if !cfg.KeepAlive {
		keepAlive = -1
	}

	dialer := &net.Dialer{
		Timeout:   cfg.DialTimeout,
		KeepAlive: keepAlive,
	}

	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		MaxConnsPerHost:       cfg.MaxSockets,
		MaxIdleConnsPerHost:   cfg.MaxFreeSockets,
		MaxIdleConns:          cfg.MaxTotalFreeSockets,
		IdleConnTimeout:       cfg.IdleTimeout,
		DisableKeepAlives:     !cfg.KeepAlive,
		TLSHandshakeTimeout:   cfg.TLSHandshakeTimeout,
		ExpectContinueTimeout: time.Second,
		ForceAttemptHTTP2:     true,
	}
}

// Codes carried by URL validation errors
const (
	CodeInvalidURL        = "invalid_url"
	CodeUnsupportedScheme = "unsupported_scheme"
	CodeMissingHost       = "missing_host"
)

// HostKey returns the scheme-qualified authority used to key breakers and
// limiters, e.g. "https://api.example.com". Default ports are dropped.
func HostKey(rawURL string) (key, scheme string, err error) {
	u, parseErr := url.Parse(rawURL)
	if parseErr != nil {
		return "", "", errors.ValidationError("invalid request URL").WithCode(CodeInvalidURL).WithContext("url", rawURL)
	}

	scheme = strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", "", errors.ValidationError("unsupported URL scheme").WithCode(CodeUnsupportedScheme).WithContext("scheme", u.Scheme)
	}
	if u.Host == "" {
		return "", "", errors.ValidationError("request URL has no host").WithCode(CodeMissingHost).WithContext("url", rawURL)
	}

	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		host = net.JoinHostPort(host, port)
	} else if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}

	return scheme + "://" + host, scheme, nil
}
