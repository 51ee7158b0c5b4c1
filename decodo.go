package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// defaultDecodoEndpoint is the Decodo Scraper API scrape endpoint.
const defaultDecodoEndpoint = "https://scraper-api.decodo.com/v2/scrape"

// DecodoSender routes every request through the Decodo Scraper API. The
// target URL, method and optional payload are posted as a JSON instruction;
// the API reply body is the scraped content.
type DecodoSender struct {
	client   *http.Client
	domain   string
	apiKey   string
	endpoint string
	advanced bool
}

// NewDecodoSender creates a proxy-backed sender. apiKey is required; the
// "Basic " prefix is added when missing. advanced enables headless rendering
// on plans that support it.
func NewDecodoSender(apiKey, endpoint string, advanced bool, timeout time.Duration) (*DecodoSender, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("decodo sender requires a non-empty api key")
	}
	if !strings.HasPrefix(apiKey, "Basic ") {
		apiKey = "Basic " + apiKey
	}
	if endpoint == "" {
		endpoint = defaultDecodoEndpoint
	}
	return &DecodoSender{
		client:   &http.Client{Timeout: timeout},
		domain:   mediumDomain,
		apiKey:   apiKey,
		endpoint: endpoint,
		advanced: advanced,
	}, nil
}

// decodoPayload is the instruction posted to the scrape endpoint.
type decodoPayload struct {
	URL        string `json:"url"`
	HTTPMethod string `json:"http_method"`
	Headless   string `json:"headless,omitempty"`
	Payload    string `json:"payload,omitempty"`
}

// Request posts the instruction and adapts the API reply into an
// HttpResponse attributed to the original target URL.
func (s *DecodoSender) Request(ctx context.Context, req *Request) (*HttpResponse, error) {
	if err := checkScrapeTarget(req.URL, s.domain); err != nil {
		return nil, err
	}

	payload := decodoPayload{URL: req.URL, HTTPMethod: strings.ToUpper(req.Method)}
	if s.advanced {
		payload.Headless = "html"
	}
	if req.JSONBody != nil {
		encoded, err := json.Marshal(req.JSONBody)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
		payload.Payload = base64.StdEncoding.EncodeToString(encoded)
	} else if req.RawBody != "" {
		payload.Payload = req.RawBody
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding scrape instruction: %w", err)
	}

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating scrape request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", s.apiKey)

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("requesting %s via scraper api: %w", req.URL, err)
	}
	defer resp.Body.Close()

	text, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading scraper api response: %w", err)
	}

	return &HttpResponse{
		URL:        req.URL,
		StatusCode: resp.StatusCode,
		Headers:    resp.Header.Clone(),
		Text:       string(text),
	}, nil
}
