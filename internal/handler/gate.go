package handler

import (
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"

	apperrors "github.com/carticy-dev/agentic-checkout/pkg/errors"
	"github.com/carticy-dev/agentic-checkout/pkg/httputil"
	"github.com/carticy-dev/agentic-checkout/pkg/logger"
)

// HeaderAPIVersion carries the protocol version; requests without it are
// treated as the configured default version.
const HeaderAPIVersion = "API-Version"

// GateConfig configures the access gate.
type GateConfig struct {
	Credentials []string
	TestMode    bool
	APIVersion  string

	// TrustedProxies lists CIDR ranges of load balancers allowed to set
	// X-Forwarded-Proto and X-Forwarded-For. Forwarding headers from any
	// other peer are ignored, since the client controls them.
	TrustedProxies []string
}

// Gate authenticates every protocol call. Checks run in order: transport
// security presence, bearer credential by constant-time comparison, network
// origin against the refreshed allowlist, then the per-credential
// per-endpoint rate limit. Only the rate counter has side effects.
type Gate struct {
	credentials    [][32]byte
	testMode       bool
	apiVersion     string
	trustedProxies []*net.IPNet
	allowlist      *Allowlist
	limiter        *RateLimiter
	logger         *slog.Logger
}

// NewGate creates the access gate middleware.
func NewGate(cfg GateConfig, allowlist *Allowlist, limiter *RateLimiter, log *slog.Logger) (*Gate, error) {
	creds := make([][32]byte, 0, len(cfg.Credentials))
	for _, c := range cfg.Credentials {
		creds = append(creds, sha256.Sum256([]byte(c)))
	}
	proxies := make([]*net.IPNet, 0, len(cfg.TrustedProxies))
	for _, cidr := range cfg.TrustedProxies {
		cidr = strings.TrimSpace(cidr)
		if cidr == "" {
			continue
		}
		_, ipnet, err := net.ParseCIDR(cidr)
		if err != nil {
			return nil, fmt.Errorf("parse trusted proxy CIDR %q: %w", cidr, err)
		}
		proxies = append(proxies, ipnet)
	}
	return &Gate{
		credentials:    creds,
		testMode:       cfg.TestMode,
		apiVersion:     cfg.APIVersion,
		trustedProxies: proxies,
		allowlist:      allowlist,
		limiter:        limiter,
		logger:         log,
	}, nil
}

// Middleware wraps protocol routes with the gate checks.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.transportSecure(r) {
			httputil.WriteError(w, r, apperrors.AuthenticationFailed("transport security is required"), g.logger)
			return
		}

		credential, ok := g.authenticate(r)
		if !ok {
			httputil.WriteError(w, r, apperrors.AuthenticationFailed("invalid or missing bearer credential"), g.logger)
			return
		}

		origin := g.clientIP(r)
		if !g.allowlist.Allows(origin) {
			httputil.WriteError(w, r, apperrors.OriginNotAllowed(origin.String()), g.logger)
			return
		}

		endpoint := r.Method + " " + routeShape(r.URL.Path)
		if allowed, retryAfter := g.limiter.Allow(credential, endpoint); !allowed {
			httputil.WriteError(w, r, apperrors.RateLimited(retryAfter), g.logger)
			return
		}

		if r.Header.Get(HeaderAPIVersion) == "" {
			r.Header.Set(HeaderAPIVersion, g.apiVersion)
		}

		ctx := logger.WithMerchantID(r.Context(), credentialID(credential))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// transportSecure checks for TLS. The X-Forwarded-Proto announcement counts
// only when the direct peer is a trusted proxy; anyone else can set the
// header. Test mode skips the check for local development.
func (g *Gate) transportSecure(r *http.Request) bool {
	if g.testMode {
		return true
	}
	if r.TLS != nil {
		return true
	}
	return g.fromTrustedProxy(r) && strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}

// fromTrustedProxy reports whether the direct peer is a configured proxy.
func (g *Gate) fromTrustedProxy(r *http.Request) bool {
	peer := remoteIP(r)
	if peer == nil {
		return false
	}
	for _, ipnet := range g.trustedProxies {
		if ipnet.Contains(peer) {
			return true
		}
	}
	return false
}

// authenticate validates the bearer credential with a constant-time
// comparison against every issued key, returning the matching credential.
func (g *Gate) authenticate(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok || token == "" {
		return "", false
	}

	sum := sha256.Sum256([]byte(token))
	matched := false
	for _, cred := range g.credentials {
		// Compare against every key so timing does not reveal which one matched.
		if subtle.ConstantTimeCompare(sum[:], cred[:]) == 1 {
			matched = true
		}
	}
	return token, matched
}

// credentialID returns a loggable identifier for the credential without
// exposing the key itself.
func credentialID(credential string) string {
	if len(credential) <= 8 {
		return credential
	}
	return credential[:8]
}

// clientIP resolves the request origin. X-Forwarded-For is honored only when
// the direct peer is a trusted proxy; otherwise the socket address is
// authoritative so a client cannot spoof its way onto the allowlist.
func (g *Gate) clientIP(r *http.Request) net.IP {
	if g.fromTrustedProxy(r) {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
				return ip
			}
		}
	}
	return remoteIP(r)
}

// remoteIP parses the socket peer address.
func remoteIP(r *http.Request) net.IP {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return net.ParseIP(r.RemoteAddr)
	}
	return net.ParseIP(host)
}

// routeShape collapses session ids so all calls to the same logical endpoint
// share one rate bucket.
func routeShape(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	for i, p := range parts {
		if strings.HasPrefix(p, "cs_") {
			parts[i] = "{id}"
		}
	}
	return "/" + strings.Join(parts, "/")
}
