package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// mediumDomain is the only host suffix outbound requests may target.
const mediumDomain = "medium.com"

// ErrUnsafeURL is returned when a URL fails the pre-flight safety gate. It is
// a policy violation, not a transient fault, and is never retried.
var ErrUnsafeURL = errors.New("unsafe url")

// HTTPError represents an HTTP error with status code
type HTTPError struct {
	StatusCode int
	URL        string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d for %s", e.StatusCode, e.URL)
}

// Request describes one HTTP call. JSONBody takes precedence over RawBody.
// TTL and BypassCache are interpreted by CachedSender and ignored by the
// concrete backends.
type Request struct {
	Method      string
	URL         string
	Headers     http.Header
	JSONBody    any
	RawBody     string
	Timeout     time.Duration
	TTL         time.Duration
	BypassCache bool
}

// RequestSender performs one HTTP request and returns an HttpResponse or an
// error. Implementations exist for direct requests, a remote scraper API, and
// a caching wrapper around either.
type RequestSender interface {
	Request(ctx context.Context, req *Request) (*HttpResponse, error)
}

// checkScrapeTarget rejects any URL that is not encrypted or that points
// outside the target platform's domain. Every concrete sender calls it before
// dispatching; this prevents SSRF through attacker-controlled feed URLs.
func checkScrapeTarget(rawURL, domain string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrUnsafeURL, rawURL)
	}
	host := u.Hostname()
	if u.Scheme != "https" || !(host == domain || strings.HasSuffix(host, "."+domain)) {
		return fmt.Errorf("%w: %s", ErrUnsafeURL, rawURL)
	}
	return nil
}

// userAgents is a small rotation set of current desktop browser strings.
var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36 Edg/126.0.0.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36 Edg/125.0.0.0",
}

// browserHeaders returns a fresh set of realistic request headers. A new
// User-Agent is picked per request for variability across a run.
func browserHeaders() http.Header {
	h := http.Header{}
	h.Set("User-Agent", userAgents[rand.Intn(len(userAgents))])
	h.Set("Accept", "application/json,text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8")
	h.Set("Accept-Language", "en-US,en;q=0.9")
	h.Set("Referer", "https://medium.com/")
	return h
}

// HTTPSender performs requests directly with net/http. A proxy list may be
// supplied; a random entry is selected per request.
type HTTPSender struct {
	client  *http.Client
	domain  string
	proxies []*url.URL
}

// NewHTTPSender creates a direct sender. proxies may be empty; entries must be
// parseable proxy URLs.
func NewHTTPSender(timeout time.Duration, proxies []string) (*HTTPSender, error) {
	s := &HTTPSender{domain: mediumDomain}
	for _, p := range proxies {
		u, err := url.Parse(p)
		if err != nil {
			return nil, fmt.Errorf("parsing proxy %q: %w", p, err)
		}
		s.proxies = append(s.proxies, u)
	}
	transport := &http.Transport{Proxy: s.pickProxy}
	s.client = &http.Client{Timeout: timeout, Transport: transport}
	return s, nil
}

// pickProxy selects a random proxy for the request, or falls back to the
// environment configuration when no list was given.
func (s *HTTPSender) pickProxy(r *http.Request) (*url.URL, error) {
	if len(s.proxies) == 0 {
		return http.ProxyFromEnvironment(r)
	}
	return s.proxies[rand.Intn(len(s.proxies))], nil
}

// Request performs the HTTP call. Responses are returned for any status code;
// only transport-level failures produce an error.
func (s *HTTPSender) Request(ctx context.Context, req *Request) (*HttpResponse, error) {
	if err := checkScrapeTarget(req.URL, s.domain); err != nil {
		return nil, err
	}

	var body io.Reader
	contentType := ""
	if req.JSONBody != nil {
		encoded, err := json.Marshal(req.JSONBody)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
		body = bytes.NewReader(encoded)
		contentType = "application/json"
	} else if req.RawBody != "" {
		body = strings.NewReader(req.RawBody)
	}

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(ctx, strings.ToUpper(req.Method), req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("creating request for %s: %w", req.URL, err)
	}
	httpReq.Header = browserHeaders()
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	for k, vs := range req.Headers {
		httpReq.Header[http.CanonicalHeaderKey(k)] = vs
	}

	slog.Debug("sending request", "method", httpReq.Method, "url", req.URL)
	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("requesting %s: %w", req.URL, err)
	}
	defer resp.Body.Close()

	text, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response from %s: %w", req.URL, err)
	}

	return &HttpResponse{
		URL:        resp.Request.URL.String(),
		StatusCode: resp.StatusCode,
		Headers:    resp.Header.Clone(),
		Text:       string(text),
	}, nil
}
