package main

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Cache is a persistent HTTP response store backed by SQLite. Entries are
// keyed by a stable fingerprint and carry an optional TTL; expired entries
// are ignored and purged lazily on read. The row format is kept compatible
// with pre-existing cache files.
type Cache struct {
	readDB  *sql.DB
	writeDB *sql.DB
	now     func() time.Time
}

// OpenCache opens (creating if needed) the cache database at dbPath.
func OpenCache(dbPath string) (*Cache, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating cache dir: %w", err)
		}
	}

	writeDB, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening write db: %w", err)
	}
	writeDB.SetMaxOpenConns(1)

	readDB, err := sql.Open("sqlite", dbPath+"?mode=ro")
	if err != nil {
		writeDB.Close()
		return nil, fmt.Errorf("opening read db: %w", err)
	}

	c := &Cache{readDB: readDB, writeDB: writeDB, now: time.Now}
	if err := c.init(); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Cache) init() error {
	_, err := c.writeDB.Exec(`
		CREATE TABLE IF NOT EXISTS http_cache (
			cache_key   TEXT PRIMARY KEY,
			url         TEXT NOT NULL,
			status_code INTEGER NOT NULL,
			headers     TEXT NOT NULL,
			body        TEXT NOT NULL,
			created_at  REAL NOT NULL,
			ttl_seconds REAL
		);
	`)
	if err != nil {
		return fmt.Errorf("initializing schema: %w", err)
	}
	return nil
}

func (c *Cache) Close() error {
	var errs []error
	if c.readDB != nil {
		errs = append(errs, c.readDB.Close())
	}
	if c.writeDB != nil {
		errs = append(errs, c.writeDB.Close())
	}
	for _, e := range errs {
		if e != nil {
			return e
		}
	}
	return nil
}

// cacheEntry is one persisted row.
type cacheEntry struct {
	url        string
	statusCode int
	headers    string
	body       string
	createdAt  float64
	ttlSeconds sql.NullFloat64
}

// expired reports whether the entry's age exceeds its TTL at the given time.
// Entries without a TTL never expire.
func (e *cacheEntry) expired(now time.Time) bool {
	if !e.ttlSeconds.Valid {
		return false
	}
	age := float64(now.Unix()) - e.createdAt
	return age > e.ttlSeconds.Float64
}

// Get returns the cached response for key, or nil on a miss. An entry read
// past its TTL is deleted and treated as a miss.
func (c *Cache) Get(key string) (*HttpResponse, error) {
	row := c.readDB.QueryRow(
		"SELECT url, status_code, headers, body, created_at, ttl_seconds FROM http_cache WHERE cache_key = ?",
		key,
	)
	var e cacheEntry
	err := row.Scan(&e.url, &e.statusCode, &e.headers, &e.body, &e.createdAt, &e.ttlSeconds)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading cache entry: %w", err)
	}

	if e.expired(c.now()) {
		if err := c.Delete(key); err != nil {
			slog.Warn("purging expired cache entry failed", "error", err)
		}
		return nil, nil
	}

	headers := http.Header{}
	if err := json.Unmarshal([]byte(e.headers), &headers); err != nil {
		headers = http.Header{}
	}
	return &HttpResponse{
		URL:        e.url,
		StatusCode: e.statusCode,
		Headers:    headers,
		Text:       e.body,
	}, nil
}

// Set persists a response under key. Only status-200 responses are stored;
// everything else is silently dropped. ttl <= 0 stores the entry without an
// expiry.
func (c *Cache) Set(key string, resp *HttpResponse, ttl time.Duration) error {
	if resp.StatusCode != http.StatusOK {
		return nil
	}
	headers, err := json.Marshal(resp.Headers)
	if err != nil {
		return fmt.Errorf("encoding headers: %w", err)
	}
	var ttlSeconds sql.NullFloat64
	if ttl > 0 {
		ttlSeconds = sql.NullFloat64{Float64: ttl.Seconds(), Valid: true}
	}
	_, err = c.writeDB.Exec(
		"REPLACE INTO http_cache (cache_key, url, status_code, headers, body, created_at, ttl_seconds) VALUES (?, ?, ?, ?, ?, ?, ?)",
		key, resp.URL, resp.StatusCode, string(headers), resp.Text, float64(c.now().Unix()), ttlSeconds,
	)
	if err != nil {
		return fmt.Errorf("writing cache entry: %w", err)
	}
	return nil
}

// Delete removes the entry for key, if present.
func (c *Cache) Delete(key string) error {
	_, err := c.writeDB.Exec("DELETE FROM http_cache WHERE cache_key = ?", key)
	return err
}

// PurgeExpired deletes every expired entry and returns the number removed.
func (c *Cache) PurgeExpired() (int64, error) {
	res, err := c.writeDB.Exec(
		"DELETE FROM http_cache WHERE ttl_seconds IS NOT NULL AND (? - created_at) > ttl_seconds",
		float64(c.now().Unix()),
	)
	if err != nil {
		return 0, fmt.Errorf("purging expired entries: %w", err)
	}
	return res.RowsAffected()
}

// fingerprintKey is the canonical material hashed into a cache key. Headers
// are deliberately excluded so hits stay stable across header churn such as
// rotating user agents.
type fingerprintKey struct {
	Method string          `json:"method"`
	URL    string          `json:"url"`
	JSON   json.RawMessage `json:"json"`
	Data   string          `json:"data"`
}

// fingerprint derives the stable cache key for a request.
func fingerprint(method, rawURL string, jsonBody any, rawBody string) (string, error) {
	encoded := json.RawMessage("null")
	if jsonBody != nil {
		b, err := json.Marshal(jsonBody)
		if err != nil {
			return "", fmt.Errorf("encoding body for fingerprint: %w", err)
		}
		encoded = b
	}
	material, err := json.Marshal(fingerprintKey{
		Method: strings.ToUpper(method),
		URL:    rawURL,
		JSON:   encoded,
		Data:   rawBody,
	})
	if err != nil {
		return "", fmt.Errorf("encoding fingerprint: %w", err)
	}
	sum := sha256.Sum256(material)
	return hex.EncodeToString(sum[:]), nil
}

// CachedSender adds persistent response caching on top of another sender.
// Lookups precede dispatch unless the request bypasses the cache; only
// status-200 responses are written back. Transport errors propagate unchanged.
type CachedSender struct {
	inner      RequestSender
	cache      *Cache
	defaultTTL time.Duration
}

// NewCachedSender wraps inner with the cache at dbPath. defaultTTL applies to
// requests that carry no TTL of their own; zero means entries never expire.
func NewCachedSender(inner RequestSender, dbPath string, defaultTTL time.Duration) (*CachedSender, error) {
	cache, err := OpenCache(dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening response cache: %w", err)
	}
	return &CachedSender{inner: inner, cache: cache, defaultTTL: defaultTTL}, nil
}

// Close releases the underlying cache store.
func (s *CachedSender) Close() error {
	return s.cache.Close()
}

// Request serves from the cache when possible, otherwise delegates to the
// inner sender and memoizes a successful result.
func (s *CachedSender) Request(ctx context.Context, req *Request) (*HttpResponse, error) {
	key, err := fingerprint(req.Method, req.URL, req.JSONBody, req.RawBody)
	if err != nil {
		return nil, err
	}

	if !req.BypassCache {
		cached, err := s.cache.Get(key)
		if err != nil {
			slog.Warn("cache lookup failed", "url", req.URL, "error", err)
		} else if cached != nil {
			slog.Debug("cache hit", "url", req.URL)
			return cached, nil
		}
	}

	resp, err := s.inner.Request(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusOK {
		ttl := req.TTL
		if ttl == 0 {
			ttl = s.defaultTTL
		}
		if err := s.cache.Set(key, resp, ttl); err != nil {
			slog.Warn("caching response failed", "url", req.URL, "error", err)
		}
	}
	return resp, nil
}
