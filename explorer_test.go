package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptSender replays a fixed sequence of responses and records every
// request it saw.
type scriptSender struct {
	tb        testing.TB
	mu        sync.Mutex
	requests  []*Request
	responses []*HttpResponse
	errs      []error
}

func (s *scriptSender) Request(ctx context.Context, req *Request) (*HttpResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	idx := len(s.requests) - 1
	if idx < len(s.errs) && s.errs[idx] != nil {
		return nil, s.errs[idx]
	}
	require.Less(s.tb, idx, len(s.responses), "sender ran out of scripted responses")
	return s.responses[idx], nil
}

func newScriptSender(t *testing.T, responses ...*HttpResponse) *scriptSender {
	return &scriptSender{tb: t, responses: responses}
}

// feedResponse builds one 200 feed reply carrying the given edges.
func feedResponse(t *testing.T, edges string) *HttpResponse {
	t.Helper()
	body := fmt.Sprintf(`[{"data":{"tagFromSlug":{"id":"t1","sortedFeed":{"edges":[%s]}}}}]`, edges)
	require.True(t, json.Valid([]byte(body)))
	return &HttpResponse{StatusCode: 200, Text: body}
}

func feedEdgeJSON(cursor, id, title, author string, publishedMillis int64, url string) string {
	return fmt.Sprintf(
		`{"cursor":%q,"node":{"id":%q,"title":%q,"creator":{"name":%q,"id":"u1"},"firstPublishedAt":%d,"mediumUrl":%q}}`,
		cursor, id, title, author, publishedMillis, url,
	)
}

func fastExplorer(sender RequestSender) *Explorer {
	e := NewExplorer(sender)
	e.retryBackoff = time.Millisecond
	return e
}

func TestArticlesByTagPaginates(t *testing.T) {
	sender := newScriptSender(t,
		feedResponse(t, feedEdgeJSON("c1", "p1", "First", "Alice", 1719792000000, "https://medium.com/p/1")+","+
			feedEdgeJSON("c2", "p2", "Second", "Bob", 1719792000000, "https://medium.com/p/2")),
		feedResponse(t, feedEdgeJSON("c3", "p3", "Third", "Carol", 1719792000000, "https://medium.com/p/3")+","+
			feedEdgeJSON("c4", "p4", "Fourth", "Dave", 1719792000000, "https://medium.com/p/4")),
		feedResponse(t, feedEdgeJSON("c5", "p5", "Fifth", "Erin", 1719792000000, "https://medium.com/p/5")),
		feedResponse(t, ""),
	)

	articles, err := fastExplorer(sender).ArticlesByTag(context.Background(), "golang", 2024, 7, 2)
	require.NoError(t, err)
	require.Len(t, articles, 5)

	assert.Equal(t, "p1", articles[0].PostID)
	assert.Equal(t, "First", articles[0].Title)
	assert.Equal(t, "Alice", articles[0].Author)
	assert.Equal(t, "golang", articles[0].Category)
	assert.Equal(t, "2024-07-01", articles[0].Date)
	assert.Equal(t, "https://medium.com/p/1", articles[0].URL)
	assert.Equal(t, "p5", articles[4].PostID)

	// One request per page, including the empty terminator.
	require.Len(t, sender.requests, 4)
}

func TestArticlesByTagEndToEnd(t *testing.T) {
	sender := newScriptSender(t,
		feedResponse(t, feedEdgeJSON("c1", "p1", "One", "A", 1719792000000, "https://medium.com/p/1")+","+
			feedEdgeJSON("c2", "p2", "Two", "B", 1719792000000, "https://medium.com/p/2")),
		feedResponse(t, ""),
	)

	articles, err := fastExplorer(sender).ArticlesByTag(context.Background(), "example", 2024, 7, 2)
	require.NoError(t, err)
	require.Len(t, articles, 2)
	for _, a := range articles {
		assert.Equal(t, "example", a.Category)
		assert.Empty(t, a.Content)
	}
}

func TestArticlesByTagRequestShape(t *testing.T) {
	sender := newScriptSender(t, feedResponse(t, ""))

	_, err := fastExplorer(sender).ArticlesByTag(context.Background(), "golang", 2024, 7, 25)
	require.NoError(t, err)
	require.Len(t, sender.requests, 1)

	req := sender.requests[0]
	assert.Equal(t, "POST", req.Method)
	assert.Equal(t, "https://medium.com/_/graphql", req.URL)

	ops, ok := req.JSONBody.([]graphqlOperation)
	require.True(t, ok)
	require.Len(t, ops, 1)
	assert.Equal(t, "TagArchiveFeedQuery", ops[0].OperationName)
	assert.Equal(t, "golang", ops[0].Variables.TagSlug)
	assert.Equal(t, 25, ops[0].Variables.First)
	assert.Equal(t, "NEWEST", ops[0].Variables.SortOrder)
	assert.Equal(t, "", ops[0].Variables.After)
	assert.Equal(t, "IN_MONTH", ops[0].Variables.TimeRange.Kind)
	assert.Equal(t, 2024, ops[0].Variables.TimeRange.InMonth.Year)
	assert.Equal(t, 7, ops[0].Variables.TimeRange.InMonth.Month)
}

func TestArticlesByTagCursorAdvances(t *testing.T) {
	sender := newScriptSender(t,
		feedResponse(t, feedEdgeJSON("cursor-1", "p1", "First", "A", 0, "https://medium.com/p/1")),
		feedResponse(t, ""),
	)

	articles, err := fastExplorer(sender).ArticlesByTag(context.Background(), "golang", 0, 0, 1)
	require.NoError(t, err)
	require.Len(t, articles, 1)
	assert.Equal(t, "", articles[0].Date)

	require.Len(t, sender.requests, 2)
	second := sender.requests[1].JSONBody.([]graphqlOperation)
	assert.Equal(t, "cursor-1", second[0].Variables.After)
}

func TestArticlesByTagSkipsMalformedEdges(t *testing.T) {
	edges := `{"cursor":"c1","node":null},` +
		`{"cursor":"c2","node":{"id":"","title":"no id"}},` +
		feedEdgeJSON("c3", "p3", "Kept", "A", 0, "https://medium.com/p/3")
	sender := newScriptSender(t, feedResponse(t, edges), feedResponse(t, ""))

	articles, err := fastExplorer(sender).ArticlesByTag(context.Background(), "golang", 0, 0, 3)
	require.NoError(t, err)
	require.Len(t, articles, 1)
	assert.Equal(t, "p3", articles[0].PostID)
}

func TestArticlesByTagStopsOnStructuralDrift(t *testing.T) {
	sender := newScriptSender(t, &HttpResponse{StatusCode: 200, Text: `[{"data":{"tagFromSlug":null}}]`})

	articles, err := fastExplorer(sender).ArticlesByTag(context.Background(), "golang", 0, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, articles)
}

func TestArticlesByTagStopsOnEmptyCursor(t *testing.T) {
	sender := newScriptSender(t,
		feedResponse(t, feedEdgeJSON("", "p1", "Only", "A", 0, "https://medium.com/p/1")),
	)

	articles, err := fastExplorer(sender).ArticlesByTag(context.Background(), "golang", 0, 0, 1)
	require.NoError(t, err)
	require.Len(t, articles, 1)
	require.Len(t, sender.requests, 1)
}

func TestPostGraphQLRetriesThenSucceeds(t *testing.T) {
	sender := newScriptSender(t,
		&HttpResponse{StatusCode: 503, Text: "unavailable"},
		&HttpResponse{StatusCode: 200, Text: "not json"},
		feedResponse(t, ""),
	)

	articles, err := fastExplorer(sender).ArticlesByTag(context.Background(), "golang", 0, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, articles)
	assert.Len(t, sender.requests, 3)
}

func TestPostGraphQLExhaustsRetries(t *testing.T) {
	sender := newScriptSender(t,
		&HttpResponse{StatusCode: 500, Text: "a"},
		&HttpResponse{StatusCode: 500, Text: "b"},
		&HttpResponse{StatusCode: 500, Text: "c"},
	)

	_, err := fastExplorer(sender).ArticlesByTag(context.Background(), "golang", 0, 0, 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Len(t, sender.requests, 3)

	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, 500, httpErr.StatusCode)
}

func TestPostGraphQLDoesNotRetryUnsafeURL(t *testing.T) {
	sender := newScriptSender(t)
	sender.errs = []error{fmt.Errorf("%w: http://medium.com", ErrUnsafeURL)}

	_, err := fastExplorer(sender).ArticlesByTag(context.Background(), "golang", 0, 0, 10)
	require.ErrorIs(t, err, ErrUnsafeURL)
	assert.Len(t, sender.requests, 1)
}

func TestTimestampToDate(t *testing.T) {
	assert.Equal(t, "2024-07-01", timestampToDate(1719792000))
	assert.Equal(t, "", timestampToDate(0))
	assert.Equal(t, "", timestampToDate(-5))
}
