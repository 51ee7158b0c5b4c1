package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlugify(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Hello World", "hello-world"},
		{"Already-Slugged", "already-slugged"},
		{"  Mixed CASE  with   spaces ", "mixed-case-with-spaces"},
		{"symbols!@#$%", "symbols"},
		{"", "article"},
		{"!!!", "article"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, slugify(tt.in), tt.in)
	}
}

func TestResultFilename(t *testing.T) {
	assert.Equal(t, "my-post-abc123.md", resultFilename(ScrapeResult{
		URL: "https://medium.com/@user/my-post-abc123",
	}))

	// An unusable URL tail falls back to the title.
	assert.Equal(t, "fallback-title.md", resultFilename(ScrapeResult{
		URL:   "https://medium.com/@user/",
		Title: "Fallback Title",
	}))
}

func TestSaveResults(t *testing.T) {
	dir := t.TempDir()
	results := []ScrapeResult{
		{URL: "https://medium.com/p/first-post", OK: true, Title: "First Post", Markdown: "# First\n"},
		{URL: "https://medium.com/p/broken", Error: "HTTP 404"},
	}

	saved, err := SaveResults(dir, results)
	require.NoError(t, err)
	require.Len(t, saved, 2)

	assert.Equal(t, "first-post.md", saved[0].File)
	content, err := os.ReadFile(filepath.Join(dir, "first-post.md"))
	require.NoError(t, err)
	assert.Equal(t, "# First\n", string(content))

	// Failures get no file but stay in the manifest.
	assert.Empty(t, saved[1].File)
	manifest, err := os.ReadFile(filepath.Join(dir, "results.json"))
	require.NoError(t, err)

	var decoded []ScrapeResult
	require.NoError(t, json.Unmarshal(manifest, &decoded))
	require.Len(t, decoded, 2)
	assert.True(t, decoded[0].OK)
	assert.Equal(t, "HTTP 404", decoded[1].Error)
}

func TestLoadURLsNewlineList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "urls.txt")
	require.NoError(t, os.WriteFile(path, []byte("https://medium.com/p/1\n\n  https://medium.com/p/2  \n"), 0o644))

	urls, err := LoadURLs(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://medium.com/p/1", "https://medium.com/p/2"}, urls)
}

func TestLoadURLsArticleJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "articles.json")
	require.NoError(t, os.WriteFile(path, []byte(`[
		{"post_id":"p1","title":"One","url":"https://medium.com/p/1"},
		{"post_id":"p2","title":"Two","url":"https://medium.com/p/2"}
	]`), 0o644))

	urls, err := LoadURLs(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://medium.com/p/1", "https://medium.com/p/2"}, urls)
}

func TestLoadURLsStringJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "urls.json")
	require.NoError(t, os.WriteFile(path, []byte(`["https://medium.com/p/1","https://medium.com/p/2"]`), 0o644))

	urls, err := LoadURLs(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://medium.com/p/1", "https://medium.com/p/2"}, urls)
}

func TestLoadURLsMissingFile(t *testing.T) {
	_, err := LoadURLs(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}
