package efi

import (
	"context"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/boddenberg/sindicato-efi-bridge/internal/domain"
	"github.com/boddenberg/sindicato-efi-bridge/internal/infra/observability"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	primaryTokenPath   = "/v1/authorize"
	alternateTokenPath = "/oauth/token"

	// A cached token is reused only while it has more than tokenSkew left.
	tokenSkew   = 15 * time.Second
	minTokenTTL = 30 * time.Second
)

// Statuses that may mean "wrong token path" rather than "bad credentials".
var pathFallbackStatuses = map[int]bool{
	http.StatusBadRequest: true,
	http.StatusNotFound:   true,
	http.StatusBadGateway: true,
}

// hostFamilies lists hosts serving the same charge API. A configured host
// that is a member of a family, or any host under gatewayDomains, is probed
// together with its siblings.
var (
	productionHosts = []string{"cobrancas.api.efipay.com.br", "api.gerencianet.com.br"}
	sandboxHosts    = []string{"cobrancas-h.api.efipay.com.br", "sandbox.gerencianet.com.br"}
	hostFamilies    = [][]string{productionHosts, sandboxHosts}
	gatewayDomains  = []string{"efipay.com.br", "gerencianet.com.br"}
)

type bearerToken struct {
	accessToken string
	baseURL     string
	expiresAt   time.Time
}

// Session is an access token together with the base URL that issued it.
// Requests must use both or neither.
type Session struct {
	Token   string
	BaseURL string
}

// TokenAuthenticator obtains and caches a client-credentials token and pins
// the first base URL that answered it.
type TokenAuthenticator struct {
	baseURL      string
	clientID     string
	clientSecret string
	transport    *Transport
	metrics      *observability.Metrics
	logger       *zap.Logger
	now          func() time.Time

	mu       sync.RWMutex
	token    *bearerToken
	resolved string

	group singleflight.Group
}

// NewTokenAuthenticator creates an authenticator for the given credentials.
func NewTokenAuthenticator(baseURL, clientID, clientSecret string, transport *Transport, metrics *observability.Metrics, logger *zap.Logger) *TokenAuthenticator {
	return &TokenAuthenticator{
		baseURL:      strings.TrimRight(baseURL, "/"),
		clientID:     clientID,
		clientSecret: clientSecret,
		transport:    transport,
		metrics:      metrics,
		logger:       logger,
		now:          time.Now,
	}
}

// Session returns a valid token and its base URL, authenticating when the
// cache is empty or about to expire. Concurrent callers share one refresh.
func (a *TokenAuthenticator) Session(ctx context.Context) (Session, error) {
	if sess, ok := a.cachedSession(); ok {
		return sess, nil
	}

	v, err, shared := a.group.Do("token", func() (any, error) {
		if sess, ok := a.cachedSession(); ok {
			return sess, nil
		}
		return a.refresh(context.WithoutCancel(ctx))
	})
	if err != nil {
		return Session{}, err
	}
	if shared {
		a.logger.Debug("efi: shared in-flight token refresh")
	}
	return v.(Session), nil
}

// GetAccessToken returns only the token part of Session.
func (a *TokenAuthenticator) GetAccessToken(ctx context.Context) (string, error) {
	sess, err := a.Session(ctx)
	return sess.Token, err
}

// ResolvedBaseURL is the pinned base URL, or the configured one before the
// first successful authentication.
func (a *TokenAuthenticator) ResolvedBaseURL() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.resolved != "" {
		return a.resolved
	}
	return a.baseURL
}

// InvalidateToken forces a new token on the next call.
func (a *TokenAuthenticator) InvalidateToken() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.token = nil
}

// Invalidate drops both the token and the pinned endpoint so the next call
// probes the candidates again.
func (a *TokenAuthenticator) Invalidate() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.token = nil
	a.resolved = ""
}

func (a *TokenAuthenticator) cachedSession() (Session, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.token != nil && a.token.expiresAt.After(a.now().Add(tokenSkew)) {
		return Session{Token: a.token.accessToken, BaseURL: a.token.baseURL}, true
	}
	return Session{}, false
}

// authFailure describes why one token attempt failed.
type authFailure struct {
	kind   string // http, connection, invalid
	status int
	path   string
	reason string
	body   any
}

func (a *TokenAuthenticator) refresh(ctx context.Context) (Session, error) {
	candidates := candidateBaseURLs(a.baseURL)

	var last *authFailure
	for _, base := range candidates {
		tok, fail := a.authorize(ctx, base, primaryTokenPath)
		if fail != nil && fail.kind == "http" && pathFallbackStatuses[fail.status] {
			a.logger.Debug("efi: retrying alternate token path",
				zap.String("base_url", base),
				zap.Int("status", fail.status),
			)
			tok, fail = a.authorize(ctx, base, alternateTokenPath)
		}

		if fail == nil {
			a.mu.Lock()
			a.token = tok
			a.resolved = base
			a.mu.Unlock()

			a.metrics.IncrTokenRefresh()
			a.logger.Info("efi: access token obtained",
				zap.String("base_url", base),
				zap.Time("expires_at", tok.expiresAt),
			)
			return Session{Token: tok.accessToken, BaseURL: base}, nil
		}

		a.logger.Warn("efi: authentication candidate failed",
			zap.String("base_url", base),
			zap.String("path", fail.path),
			zap.String("kind", fail.kind),
			zap.Int("status", fail.status),
			zap.String("reason", fail.reason),
		)
		last = fail
	}

	return Session{}, a.aggregateError(candidates, last)
}

func (a *TokenAuthenticator) authorize(ctx context.Context, base, path string) (*bearerToken, *authFailure) {
	basic := base64.StdEncoding.EncodeToString([]byte(a.clientID + ":" + a.clientSecret))

	resp, err := a.transport.RequestJSON(ctx, Request{
		URL:    base + path,
		Method: http.MethodPost,
		Headers: map[string]string{
			"Authorization": "Basic " + basic,
			"Content-Type":  "application/json",
		},
		Body: map[string]string{"grant_type": "client_credentials"},
	})
	if err != nil {
		return nil, &authFailure{kind: "connection", path: path, reason: err.Error()}
	}

	if resp.Status < 200 || resp.Status >= 300 {
		return nil, &authFailure{
			kind:   "http",
			status: resp.Status,
			path:   path,
			reason: fmt.Sprintf("status %d", resp.Status),
			body:   resp.Body,
		}
	}

	accessToken, _ := resp.Body["access_token"].(string)
	expiresIn, ok := numberField(resp.Body["expires_in"])
	if accessToken == "" || !ok || expiresIn <= 0 {
		return nil, &authFailure{
			kind:   "invalid",
			status: resp.Status,
			path:   path,
			reason: "token response without access_token or expires_in",
			body:   redactToken(resp.Body),
		}
	}

	ttl := time.Duration(expiresIn * float64(time.Second))
	if ttl < minTokenTTL {
		ttl = minTokenTTL
	}
	return &bearerToken{accessToken: accessToken, baseURL: base, expiresAt: a.now().Add(ttl)}, nil
}

func (a *TokenAuthenticator) aggregateError(candidates []string, last *authFailure) *domain.IntegrationError {
	details := map[string]any{
		"candidates":         candidates,
		"certPathConfigured": a.transport.CertConfigured(),
	}
	if last == nil {
		return domain.NewAuthConnectionError(details)
	}

	details["reason"] = last.reason
	details["tokenPath"] = last.path
	if last.status > 0 {
		details["lastStatus"] = last.status
	}
	if last.body != nil {
		details["upstream"] = last.body
	}

	switch last.kind {
	case "invalid":
		return domain.NewInvalidTokenResponseError(details)
	case "http":
		return domain.MapGatewayStatus(last.status, details)
	default:
		return domain.NewAuthConnectionError(details)
	}
}

// candidateBaseURLs returns the configured base URL followed by the known
// sibling hosts of its domain family, without duplicates.
func candidateBaseURLs(baseURL string) []string {
	base := strings.TrimRight(baseURL, "/")
	out := []string{base}

	u, err := url.Parse(base)
	if err != nil || u.Host == "" {
		return out
	}

	seen := map[string]bool{base: true}
	for _, host := range siblingHosts(u.Host) {
		c := *u
		c.Host = host
		candidate := strings.TrimRight(c.String(), "/")
		if !seen[candidate] {
			seen[candidate] = true
			out = append(out, candidate)
		}
	}
	return out
}

// siblingHosts takes a host[:port] and returns the family it belongs to.
func siblingHosts(hostport string) []string {
	h := strings.ToLower(hostport)
	for _, family := range hostFamilies {
		if slices.Contains(family, h) {
			return family
		}
	}

	name := h
	if host, _, err := net.SplitHostPort(h); err == nil {
		name = host
	}
	known := false
	for _, d := range gatewayDomains {
		if strings.HasSuffix(name, d) {
			known = true
			break
		}
	}
	if !known {
		return nil
	}
	if strings.Contains(name, "sandbox") || strings.Contains(name, "-h.") {
		return sandboxHosts
	}
	return productionHosts
}

func numberField(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func redactToken(body map[string]any) map[string]any {
	out := make(map[string]any, len(body))
	for k, v := range body {
		if k == "access_token" || k == "refresh_token" {
			out[k] = "[redacted]"
			continue
		}
		out[k] = v
	}
	return out
}
