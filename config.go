package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Settings is the application configuration. Durations are expressed in
// seconds to keep the file format in line with the cache schema.
type Settings struct {
	// Sender selects the request backend: auto, direct or decodo. auto uses
	// decodo when an API key is configured and direct requests otherwise.
	Sender string `yaml:"sender"`

	Decodo struct {
		APIKey   string `yaml:"api_key"`
		Endpoint string `yaml:"endpoint"`
		Advanced bool   `yaml:"advanced"`
	} `yaml:"decodo"`

	// BaseURL is the site root the explorer queries; Domain is the only host
	// suffix outbound requests may target.
	BaseURL string `yaml:"base_url"`
	Domain  string `yaml:"domain"`

	CachePath         string  `yaml:"cache_path"`
	DefaultTTLSeconds float64 `yaml:"default_ttl_seconds"`

	TimeoutSeconds      float64 `yaml:"timeout_seconds"`
	Concurrency         int     `yaml:"concurrency"`
	MaxRetries          int     `yaml:"max_retries"`
	RetryBackoffSeconds float64 `yaml:"retry_backoff_seconds"`
	PageSize            int     `yaml:"page_size"`

	OutputDirectory string `yaml:"output_directory"`
	ProxiesFile     string `yaml:"proxies_file"`
	LogLevel        string `yaml:"log_level"`
}

// defaultSettings returns the configuration used when no settings file
// exists.
func defaultSettings() *Settings {
	s := &Settings{
		Sender:              "auto",
		BaseURL:             "https://medium.com",
		Domain:              mediumDomain,
		CachePath:           "cache.db",
		TimeoutSeconds:      30,
		Concurrency:         10,
		MaxRetries:          3,
		RetryBackoffSeconds: 0.75,
		PageSize:            50,
		OutputDirectory:     "out",
		LogLevel:            "info",
	}
	return s
}

// loadSettings loads settings from a YAML file, falling back to defaults
// when the file does not exist.
func loadSettings(path string) (*Settings, error) {
	settings := defaultSettings()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return settings, nil
		}
		return nil, fmt.Errorf("reading settings: %w", err)
	}
	if err := yaml.Unmarshal(data, settings); err != nil {
		return nil, fmt.Errorf("parsing settings: %w", err)
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return settings, nil
}

// Validate checks the settings for values the pipeline cannot run with.
func (s *Settings) Validate() error {
	switch s.Sender {
	case "auto", "direct", "decodo":
	default:
		return fmt.Errorf("sender must be one of: auto, direct, decodo (got %q)", s.Sender)
	}
	if s.Sender == "decodo" && s.Decodo.APIKey == "" {
		return fmt.Errorf("decodo.api_key is required when sender is decodo")
	}
	if s.Domain == "" {
		return fmt.Errorf("domain must not be empty")
	}
	if !strings.HasPrefix(s.BaseURL, "https://") {
		return fmt.Errorf("base_url must use https (got %q)", s.BaseURL)
	}
	if s.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive")
	}
	if s.PageSize <= 0 {
		return fmt.Errorf("page_size must be positive")
	}
	if s.MaxRetries <= 0 {
		return fmt.Errorf("max_retries must be positive")
	}
	return nil
}

func (s *Settings) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds * float64(time.Second))
}

func (s *Settings) DefaultTTL() time.Duration {
	return time.Duration(s.DefaultTTLSeconds * float64(time.Second))
}

func (s *Settings) RetryBackoff() time.Duration {
	return time.Duration(s.RetryBackoffSeconds * float64(time.Second))
}

// buildSender assembles the configured transport chain: the selected backend
// wrapped in the persistent response cache.
func (s *Settings) buildSender() (*CachedSender, error) {
	var inner RequestSender
	useDecodo := s.Sender == "decodo" || (s.Sender == "auto" && s.Decodo.APIKey != "")
	if useDecodo {
		decodo, err := NewDecodoSender(s.Decodo.APIKey, s.Decodo.Endpoint, s.Decodo.Advanced, s.Timeout())
		if err != nil {
			return nil, err
		}
		decodo.domain = s.Domain
		inner = decodo
	} else {
		proxies, err := loadProxies(s.ProxiesFile)
		if err != nil {
			return nil, err
		}
		direct, err := NewHTTPSender(s.Timeout(), proxies)
		if err != nil {
			return nil, err
		}
		direct.domain = s.Domain
		inner = direct
	}
	return NewCachedSender(inner, s.CachePath, s.DefaultTTL())
}

// loadProxies reads a proxy list from path: a JSON array of URL strings or a
// newline-delimited file. An empty path means no proxies.
func loadProxies(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading proxies file: %w", err)
	}

	var fromJSON []string
	if err := json.Unmarshal(data, &fromJSON); err == nil {
		return fromJSON, nil
	}

	var proxies []string
	for _, line := range strings.Split(string(data), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			proxies = append(proxies, line)
		}
	}
	return proxies, nil
}
