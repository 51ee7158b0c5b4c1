package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

const manifestName = "results.json"

var (
	slugStripRe    = regexp.MustCompile(`[^a-z0-9\-_\s]+`)
	slugSpaceRe    = regexp.MustCompile(`\s+`)
	slugCollapseRe = regexp.MustCompile(`-+`)
)

// slugify reduces text to a lowercase hyphenated filename token.
func slugify(text string) string {
	text = strings.ToLower(strings.TrimSpace(text))
	text = slugStripRe.ReplaceAllString(text, "")
	text = slugSpaceRe.ReplaceAllString(text, "-")
	text = slugCollapseRe.ReplaceAllString(text, "-")
	if text == "" {
		return "article"
	}
	return text
}

// resultFilename derives the Markdown filename for a scraped article from
// the URL tail, falling back to the title.
func resultFilename(res ScrapeResult) string {
	tail := res.URL
	if idx := strings.LastIndex(tail, "/"); idx >= 0 {
		tail = tail[idx+1:]
	}
	slug := slugify(tail)
	if slug == "" || slug == "article" {
		slug = slugify(res.Title)
	}
	return slug + ".md"
}

// SaveResults writes one Markdown file per successful result plus a JSON
// manifest of every outcome into outDir. The returned slice carries the
// filename each article was saved under.
func SaveResults(outDir string, results []ScrapeResult) ([]ScrapeResult, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	for i, res := range results {
		if !res.OK {
			continue
		}
		filename := resultFilename(res)
		path := filepath.Join(outDir, filename)
		if err := os.WriteFile(path, []byte(res.Markdown), 0o644); err != nil {
			return nil, fmt.Errorf("writing %s: %w", path, err)
		}
		results[i].File = filename
	}

	manifest, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding manifest: %w", err)
	}
	manifestPath := filepath.Join(outDir, manifestName)
	if err := os.WriteFile(manifestPath, manifest, 0o644); err != nil {
		return nil, fmt.Errorf("writing manifest: %w", err)
	}
	slog.Info("saved results", "count", len(results), "dir", outDir)
	return results, nil
}

// LoadURLs reads a URL list from path. The file may be a newline-delimited
// list of URLs or the JSON produced by the paginate command (a list of
// articles with a url field, or a plain list of URL strings).
func LoadURLs(path string) ([]string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading urls file: %w", err)
	}

	var asArticles []struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(content, &asArticles); err == nil {
		var urls []string
		for _, a := range asArticles {
			if a.URL != "" {
				urls = append(urls, a.URL)
			}
		}
		return urls, nil
	}

	var asStrings []string
	if err := json.Unmarshal(content, &asStrings); err == nil {
		var urls []string
		for _, u := range asStrings {
			if u = strings.TrimSpace(u); u != "" {
				urls = append(urls, u)
			}
		}
		return urls, nil
	}

	var urls []string
	for _, line := range strings.Split(string(content), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			urls = append(urls, line)
		}
	}
	return urls, nil
}
