package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-appsec/relay/relayd/service/store"
)

// Failure taxonomy. Handlers map these onto 400/403/502/504.
var (
	ErrInvalidTarget       = errors.New("invalid proxy target")
	ErrForbiddenDomain     = errors.New("target domain not allowed")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrUpstreamTimeout     = errors.New("upstream timeout")
)

const (
	// DefaultTimeout bounds a single upstream call. No retries; the
	// calling page retries at its own layer.
	DefaultTimeout = 45 * time.Second

	// maxRewriteBody caps the payload size eligible for text rewriting.
	// Larger bodies pass through untouched.
	maxRewriteBody = 2 << 20
)

// requestHeaderAllowList is the fixed set of safe inbound request headers
// copied to the upstream request. Everything else is dropped.
var requestHeaderAllowList = []string{
	"Accept",
	"Accept-Language",
	"Content-Type",
	"Cache-Control",
	"Pragma",
	"If-None-Match",
	"If-Modified-Since",
}

// hopByHopHeaders are stripped from upstream responses before forwarding.
// Content-Encoding and Content-Length are included because the body may
// be decoded and rewritten on the way through.
var hopByHopHeaders = []string{
	"Transfer-Encoding",
	"Content-Encoding",
	"Content-Length",
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Trailer",
	"Upgrade",
}

// Config carries the identity the upstream should observe and the single
// allowed upstream domain.
type Config struct {
	// AllowedDomain is the only hostname suffix the proxy will forward
	// to. The allow-list check runs before any network call.
	AllowedDomain string

	// PublicBaseURL is the relay's externally visible base URL.
	// Occurrences in textual payloads are rewritten to CanonicalOrigin
	// so upstream SDK telemetry sees a consistent calling page.
	PublicBaseURL   string
	CanonicalOrigin string

	// Fixed identity presented to the upstream.
	UserAgent string
	Origin    string
	Referer   string

	Timeout time.Duration
}

// Engine forwards inbound requests to the allow-listed upstream,
// substituting identity headers and rewriting self-referential URLs in
// textual payloads in both directions.
type Engine struct {
	cfg    Config
	client *http.Client

	requestRules  []Rule
	responseRules []Rule

	captures *store.CaptureStore
	ips      *store.Expiring[string]
}

// NewEngine creates a proxy engine. captures and ips may be shared with
// the relay; captures enables the observational capture side effect.
func NewEngine(cfg Config, captures *store.CaptureStore, ips *store.Expiring[string]) *Engine {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	e := &Engine{
		cfg: cfg,
		client: &http.Client{
			// Redirects are forwarded to the caller, not followed.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		captures: captures,
		ips:      ips,
	}
	e.requestRules = canonicalizationRules(cfg.PublicBaseURL, cfg.CanonicalOrigin)
	e.responseRules = e.requestRules
	return e
}

// canonicalizationRules builds the fixed substitution table mapping the
// relay's own URL (and bare host) to the upstream's canonical origin.
func canonicalizationRules(publicBaseURL, canonicalOrigin string) []Rule {
	if publicBaseURL == "" || canonicalOrigin == "" {
		return nil
	}

	rules := []Rule{LiteralRule(publicBaseURL, canonicalOrigin)}
	pu, errP := url.Parse(publicBaseURL)
	cu, errC := url.Parse(canonicalOrigin)
	if errP == nil && errC == nil && pu.Host != "" && cu.Host != "" && pu.Host != cu.Host {
		rules = append(rules, LiteralRule(pu.Host, cu.Host))
	}
	return rules
}

// ForwardInput is one inbound request to relay upstream.
type ForwardInput struct {
	Method    string
	ClientKey string
	Target    string // upstream host plus path, e.g. "api.vendor.com/idv/session"
	RawQuery  string
	Header    http.Header
	Body      []byte
}

// ForwardResult carries the upstream response back to the handler.
type ForwardResult struct {
	Status int
	Header http.Header
	Body   []byte
}

// Forward relays one request to the upstream and returns its response.
// The allow-list check always runs before any network I/O.
func (e *Engine) Forward(ctx context.Context, in ForwardInput) (*ForwardResult, error) {
	scheme, host, pathAndQuery, err := resolveTarget(in.Target, in.RawQuery)
	if err != nil {
		return nil, err
	}
	if !hostAllowed(hostname(host), e.cfg.AllowedDomain) {
		return nil, fmt.Errorf("%w: %s", ErrForbiddenDomain, hostname(host))
	}

	body := in.Body
	reqType := in.Header.Get("Content-Type")
	if len(e.requestRules) > 0 && IsTextual(reqType) && len(body) <= maxRewriteBody {
		body = []byte(Rewrite(string(body), e.requestRules))
	}

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, in.Method, scheme+"://"+host+pathAndQuery, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}
	e.buildHeaders(req, in)

	resp, err := e.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: %v", ErrUpstreamTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrUpstreamUnavailable, err)
	}

	// Hop-by-hop headers are stripped below, so the body is delivered
	// decoded when the encoding is one we understand.
	if decoded, wasCompressed := Decompress(respBody, resp.Header.Get("Content-Encoding")); wasCompressed && decoded != nil {
		respBody = decoded
	}
	respType := resp.Header.Get("Content-Type")
	if len(e.responseRules) > 0 && IsScriptOrMarkup(respType) && len(respBody) <= maxRewriteBody {
		respBody = []byte(Rewrite(string(respBody), e.responseRules))
	}

	outHeader := filterResponseHeaders(resp.Header)
	forceCORS(outHeader)

	// Capture is a purely observational side effect for session-scoped
	// keys; the response delivered to the caller is unchanged.
	if e.captures != nil && e.captures.Has(in.ClientKey) {
		e.captures.Append(in.ClientKey, store.CapturedExchange{
			Method:       in.Method,
			Scheme:       scheme,
			Host:         host,
			Path:         pathAndQuery,
			RequestType:  reqType,
			RequestBody:  body,
			Status:       resp.StatusCode,
			ResponseType: respType,
			ResponseBody: respBody,
			At:           time.Now(),
		})
	}

	return &ForwardResult{
		Status: resp.StatusCode,
		Header: outHeader,
		Body:   respBody,
	}, nil
}

// buildHeaders assembles the outbound header set: allow-listed inbound
// headers, fixed identity overrides, and the client's associated origin
// IP when one is known.
func (e *Engine) buildHeaders(req *http.Request, in ForwardInput) {
	for _, name := range requestHeaderAllowList {
		if v := in.Header.Get(name); v != "" {
			req.Header.Set(name, v)
		}
	}

	if e.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", e.cfg.UserAgent)
	}
	if e.cfg.Origin != "" {
		req.Header.Set("Origin", e.cfg.Origin)
	}
	if e.cfg.Referer != "" {
		req.Header.Set("Referer", e.cfg.Referer)
	}

	if e.ips != nil {
		if ip, ok := e.ips.Get(in.ClientKey); ok && ip != "" {
			req.Header.Set("X-Forwarded-For", ip)
			req.Header.Set("X-Real-IP", ip)
		}
	}
}

// resolveTarget splits "host[:port]/path" into scheme, host, and
// path+query. Hosts with an explicit non-443 port resolve to http, which
// keeps local upstreams reachable; everything else is https.
func resolveTarget(target, rawQuery string) (scheme, host, pathAndQuery string, err error) {
	target = strings.TrimPrefix(target, "/")
	if target == "" {
		return "", "", "", fmt.Errorf("%w: empty target", ErrInvalidTarget)
	}

	host = target
	path := "/"
	if idx := strings.Index(target, "/"); idx >= 0 {
		host = target[:idx]
		path = target[idx:]
	}

	u, parseErr := url.Parse("https://" + host)
	if parseErr != nil || u.Hostname() == "" {
		return "", "", "", fmt.Errorf("%w: %q", ErrInvalidTarget, target)
	}

	scheme = "https"
	if port := u.Port(); port != "" && port != "443" {
		scheme = "http"
	}

	pathAndQuery = path
	if rawQuery != "" {
		pathAndQuery += "?" + rawQuery
	}
	return scheme, host, pathAndQuery, nil
}

// hostAllowed reports whether host equals the allowed domain or is a
// subdomain of it.
func hostAllowed(host, allowedDomain string) bool {
	if allowedDomain == "" {
		return false
	}
	host = strings.ToLower(host)
	allowedDomain = strings.ToLower(allowedDomain)
	return host == allowedDomain || strings.HasSuffix(host, "."+allowedDomain)
}

// hostname strips an optional port from host.
func hostname(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}

// filterResponseHeaders copies upstream headers minus hop-by-hop ones.
func filterResponseHeaders(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for name, values := range h {
		if isHopByHop(name) {
			continue
		}
		for _, v := range values {
			out.Add(name, v)
		}
	}
	return out
}

func isHopByHop(name string) bool {
	for _, hop := range hopByHopHeaders {
		if strings.EqualFold(name, hop) {
			return true
		}
	}
	return false
}

// forceCORS overrides any upstream CORS policy. The relay, not the
// upstream, is the cross-origin target seen by the calling page.
func forceCORS(h http.Header) {
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "*")
}

// isTimeout reports whether err is a deadline or network timeout.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// SchemeForHost returns the scheme the proxy would use for a recorded
// host. Shared with the replay engine so replays hit the same endpoint
// shape that was captured.
func SchemeForHost(host string) string {
	if _, port, err := net.SplitHostPort(host); err == nil && port != "" && port != "443" {
		return "http"
	}
	return "https"
}
