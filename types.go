package main

import "net/http"

// HttpResponse is the uniform result of one HTTP request, whichever backend
// performed it. It is immutable once constructed.
type HttpResponse struct {
	URL        string      `json:"url"`
	StatusCode int         `json:"status_code"`
	Headers    http.Header `json:"headers"`
	Text       string      `json:"text"`
}

// Article is one feed item returned by the explorer. Content is reserved for
// downstream enrichment and always empty at this stage.
type Article struct {
	PostID   string `json:"post_id"`
	Title    string `json:"title"`
	Author   string `json:"author"`
	Date     string `json:"date"`
	Category string `json:"category"`
	URL      string `json:"url"`
	Content  string `json:"content"`
}

// ParseResult is the outcome of one HTML-to-Markdown conversion attempt.
// Either Err is false and Title/Markdown are set, or Err is true and Message
// explains the failure. It is never partially populated.
type ParseResult struct {
	Err       bool
	Title     string
	Markdown  string
	Author    string
	AuthorURL string
	Message   string
}

// parseSuccess builds a successful ParseResult.
func parseSuccess(title, markdown, author, authorURL string) ParseResult {
	return ParseResult{Title: title, Markdown: markdown, Author: author, AuthorURL: authorURL}
}

// parseFailure builds a failed ParseResult carrying the given message.
func parseFailure(message string) ParseResult {
	return ParseResult{Err: true, Message: message}
}

// FetchResult is the per-URL outcome of a raw fetch batch.
type FetchResult struct {
	URL        string      `json:"url"`
	OK         bool        `json:"ok"`
	StatusCode int         `json:"status_code,omitempty"`
	Headers    http.Header `json:"headers,omitempty"`
	Text       string      `json:"text,omitempty"`
	Error      string      `json:"error,omitempty"`
}

// ScrapeResult is the per-URL outcome of a fetch-and-convert batch.
type ScrapeResult struct {
	URL      string `json:"url"`
	OK       bool   `json:"ok"`
	Title    string `json:"title,omitempty"`
	Markdown string `json:"markdown,omitempty"`
	File     string `json:"file,omitempty"`
	Error    string `json:"error,omitempty"`
}

// ProgressSnapshot is an immutable copy of the orchestrator's counters,
// handed to progress callbacks after every task completion.
type ProgressSnapshot struct {
	Completed   int
	Total       int
	Percentage  float64
	Succeeded   int
	Failed      int
	ParseFailed int
	CurrentURL  string
}

// ProgressFunc receives a snapshot once before any task starts and once after
// every completion. Callbacks run inside the completion critical section and
// should return quickly.
type ProgressFunc func(ProgressSnapshot)
