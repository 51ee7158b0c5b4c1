package main

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

const defaultConcurrency = 10

// ScrapeOptions tunes a batch run. The zero value (or nil) is usable.
type ScrapeOptions struct {
	// Concurrency caps the number of in-flight fetch+convert tasks.
	Concurrency int
	// Timeout applies per request; zero leaves the sender's default.
	Timeout time.Duration
	// Headers are forwarded on every request.
	Headers http.Header
	// TTL overrides the cache TTL for responses fetched during the run.
	TTL time.Duration
	// BypassCache forces fresh fetches even when a cached copy exists.
	BypassCache bool
	// OnProgress, when set, receives a snapshot at 0/total and after every
	// task completion.
	OnProgress ProgressFunc
}

func (o *ScrapeOptions) concurrency() int {
	if o == nil || o.Concurrency <= 0 {
		return defaultConcurrency
	}
	return o.Concurrency
}

func (o *ScrapeOptions) progress() ProgressFunc {
	if o == nil {
		return nil
	}
	return o.OnProgress
}

// outcome classifies one finished task for the progress tally.
type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeFetchFailure
	outcomeParseFailure
)

// progressTracker owns the mutable counters for one run. Counters are only
// touched inside the completion critical section and callbacks receive an
// immutable snapshot copy.
type progressTracker struct {
	mu   sync.Mutex
	snap ProgressSnapshot
	cb   ProgressFunc
}

func newProgressTracker(total int, cb ProgressFunc) *progressTracker {
	t := &progressTracker{cb: cb}
	t.snap.Total = total
	if cb != nil {
		cb(t.snap)
	}
	return t
}

// setCurrent records the URL most recently dispatched. Best-effort under
// concurrency: the snapshot reflects whichever task wrote last.
func (t *progressTracker) setCurrent(url string) {
	t.mu.Lock()
	t.snap.CurrentURL = url
	t.mu.Unlock()
}

func (t *progressTracker) complete(o outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.Completed++
	switch o {
	case outcomeSuccess:
		t.snap.Succeeded++
	case outcomeFetchFailure:
		t.snap.Failed++
	case outcomeParseFailure:
		t.snap.ParseFailed++
	}
	if t.snap.Total > 0 {
		t.snap.Percentage = float64(t.snap.Completed) / float64(t.snap.Total) * 100
	}
	if t.cb != nil {
		t.cb(t.snap)
	}
}

// fetchOne performs a single GET through the sender and normalizes non-200
// replies into an HTTPError.
func fetchOne(ctx context.Context, sender RequestSender, url string, opts *ScrapeOptions) (*HttpResponse, error) {
	req := &Request{Method: http.MethodGet, URL: url}
	if opts != nil {
		req.Headers = opts.Headers
		req.Timeout = opts.Timeout
		req.TTL = opts.TTL
		req.BypassCache = opts.BypassCache
	}
	resp, err := sender.Request(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPError{StatusCode: resp.StatusCode, URL: url}
	}
	return resp, nil
}

// FetchAll fetches every URL through the sender with at most
// opts.Concurrency requests in flight. Results come back in input order
// regardless of completion order, and one URL's failure never aborts the
// batch.
func FetchAll(ctx context.Context, urls []string, sender RequestSender, opts *ScrapeOptions) []FetchResult {
	results := make([]FetchResult, len(urls))
	tracker := newProgressTracker(len(urls), opts.progress())
	sem := semaphore.NewWeighted(int64(opts.concurrency()))

	var wg sync.WaitGroup
	for i, url := range urls {
		wg.Add(1)
		go func(i int, url string) {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				results[i] = FetchResult{URL: url, Error: err.Error()}
				tracker.complete(outcomeFetchFailure)
				return
			}
			defer sem.Release(1)
			tracker.setCurrent(url)

			resp, err := fetchOne(ctx, sender, url, opts)
			if err != nil {
				results[i] = FetchResult{URL: url, Error: err.Error()}
				tracker.complete(outcomeFetchFailure)
				return
			}
			results[i] = FetchResult{
				URL:        resp.URL,
				OK:         true,
				StatusCode: resp.StatusCode,
				Headers:    resp.Headers,
				Text:       resp.Text,
			}
			tracker.complete(outcomeSuccess)
		}(i, url)
	}
	wg.Wait()
	return results
}

// ScrapeAll fetches every URL and converts each successful response to
// Markdown. Fetch failures and conversion failures are tallied separately;
// both leave the rest of the batch untouched.
func ScrapeAll(ctx context.Context, urls []string, sender RequestSender, opts *ScrapeOptions) []ScrapeResult {
	results := make([]ScrapeResult, len(urls))
	tracker := newProgressTracker(len(urls), opts.progress())
	sem := semaphore.NewWeighted(int64(opts.concurrency()))

	var wg sync.WaitGroup
	for i, url := range urls {
		wg.Add(1)
		go func(i int, url string) {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				results[i] = ScrapeResult{URL: url, Error: err.Error()}
				tracker.complete(outcomeFetchFailure)
				return
			}
			defer sem.Release(1)
			tracker.setCurrent(url)

			resp, err := fetchOne(ctx, sender, url, opts)
			if err != nil {
				results[i] = ScrapeResult{URL: url, Error: err.Error()}
				tracker.complete(outcomeFetchFailure)
				return
			}

			parsed := NewParser().Convert(resp.Text, resp.URL)
			if parsed.Err {
				message := parsed.Message
				if message == "" {
					message = "parse failed"
				}
				results[i] = ScrapeResult{URL: resp.URL, Error: message}
				tracker.complete(outcomeParseFailure)
				return
			}
			results[i] = ScrapeResult{
				URL:      resp.URL,
				OK:       true,
				Title:    parsed.Title,
				Markdown: parsed.Markdown,
			}
			tracker.complete(outcomeSuccess)
		}(i, url)
	}
	wg.Wait()
	return results
}
