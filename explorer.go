package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

const tagGraphQLPath = "/_/graphql"

// tagArchiveQuery is the fixed GraphQL document used for every feed page.
const tagArchiveQuery = `
query TagArchiveFeedQuery($tagSlug: String!, $timeRange: TagPostsTimeRange!, $sortOrder: TagPostsSortOrder!, $first: Int!, $after: String) {
  tagFromSlug(tagSlug: $tagSlug) {
    id
    sortedFeed: posts(
      timeRange: $timeRange
      sortOrder: $sortOrder
      first: $first
      after: $after
    ) {
      edges { cursor node { id title creator { name id } firstPublishedAt mediumUrl } }
      pageInfo { hasNextPage endCursor }
      __typename
    }
    __typename
  }
}
`

// Explorer walks a tag's monthly archive through the GraphQL feed endpoint,
// following cursors until the feed is exhausted.
type Explorer struct {
	sender       RequestSender
	baseURL      string
	maxRetries   int
	retryBackoff time.Duration
}

// NewExplorer creates an explorer over the given sender with default retry
// behavior (3 attempts, 750ms linear backoff) against medium.com.
func NewExplorer(sender RequestSender) *Explorer {
	return &Explorer{
		sender:       sender,
		baseURL:      "https://medium.com",
		maxRetries:   3,
		retryBackoff: 750 * time.Millisecond,
	}
}

type graphqlOperation struct {
	OperationName string              `json:"operationName"`
	Query         string              `json:"query"`
	Variables     tagArchiveVariables `json:"variables"`
}

type tagArchiveVariables struct {
	After     string       `json:"after"`
	First     int          `json:"first"`
	SortOrder string       `json:"sortOrder"`
	TagSlug   string       `json:"tagSlug"`
	TimeRange tagTimeRange `json:"timeRange"`
}

type tagTimeRange struct {
	InMonth monthWindow `json:"inMonth"`
	Kind    string      `json:"kind"`
}

// monthWindow scopes one pagination pass; year 0 / month 0 means no filter
// per the upstream contract.
type monthWindow struct {
	Month int `json:"month"`
	Year  int `json:"year"`
}

// The feed endpoint replies with a top-level JSON array of one element.
// Pointer fields let a structurally drifted response surface as nil instead
// of a decode error.
type feedPage struct {
	Data struct {
		TagFromSlug *struct {
			SortedFeed *struct {
				Edges []feedEdge `json:"edges"`
			} `json:"sortedFeed"`
		} `json:"tagFromSlug"`
	} `json:"data"`
}

type feedEdge struct {
	Cursor string    `json:"cursor"`
	Node   *feedNode `json:"node"`
}

type feedNode struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Creator *struct {
		Name string `json:"name"`
	} `json:"creator"`
	FirstPublishedAt int64  `json:"firstPublishedAt"`
	MediumURL        string `json:"mediumUrl"`
}

// postGraphQL posts one batch of operations and decodes the reply. Transport
// failures, non-200 replies and undecodable bodies are retried with linearly
// increasing backoff; the last error surfaces after the attempts run out.
// Safety-gate violations are never retried.
func (e *Explorer) postGraphQL(ctx context.Context, operations []graphqlOperation) ([]feedPage, error) {
	endpoint := strings.TrimRight(e.baseURL, "/") + tagGraphQLPath

	var lastErr error
	for attempt := 1; attempt <= e.maxRetries; attempt++ {
		resp, err := e.sender.Request(ctx, &Request{
			Method:   "POST",
			URL:      endpoint,
			JSONBody: operations,
		})
		if err == nil && resp.StatusCode != 200 {
			err = &HTTPError{StatusCode: resp.StatusCode, URL: endpoint}
		}
		if err == nil {
			var pages []feedPage
			if uerr := json.Unmarshal([]byte(resp.Text), &pages); uerr != nil {
				err = fmt.Errorf("decoding feed response: %w", uerr)
			} else {
				return pages, nil
			}
		}
		if errors.Is(err, ErrUnsafeURL) {
			return nil, err
		}
		lastErr = err
		if attempt < e.maxRetries {
			backoff := time.Duration(attempt) * e.retryBackoff
			slog.Warn("feed query failed, retrying", "attempt", attempt, "backoff", backoff, "error", err)
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}
	}
	return nil, fmt.Errorf("feed query failed after %d attempts: %w", e.maxRetries, lastErr)
}

// ArticlesByTag returns all articles for a tag within one month window,
// newest-first. Pagination ends on an empty page or when the response no
// longer has the expected shape; the latter is treated as end-of-feed to
// tolerate upstream schema drift. Edges missing their node are skipped.
func (e *Explorer) ArticlesByTag(ctx context.Context, tag string, year, month, pageSize int) ([]Article, error) {
	cursor := ""
	var results []Article
	for {
		operations := []graphqlOperation{{
			OperationName: "TagArchiveFeedQuery",
			Query:         tagArchiveQuery,
			Variables: tagArchiveVariables{
				After:     cursor,
				First:     pageSize,
				SortOrder: "NEWEST",
				TagSlug:   tag,
				TimeRange: tagTimeRange{
					Kind:    "IN_MONTH",
					InMonth: monthWindow{Month: month, Year: year},
				},
			},
		}}

		pages, err := e.postGraphQL(ctx, operations)
		if err != nil {
			return nil, err
		}
		if len(pages) == 0 || pages[0].Data.TagFromSlug == nil || pages[0].Data.TagFromSlug.SortedFeed == nil {
			slog.Debug("feed structure missing, stopping pagination", "tag", tag)
			break
		}
		edges := pages[0].Data.TagFromSlug.SortedFeed.Edges
		if len(edges) == 0 {
			break
		}

		for _, edge := range edges {
			node := edge.Node
			if node == nil || node.ID == "" {
				continue
			}
			author := ""
			if node.Creator != nil {
				author = node.Creator.Name
			}
			date := ""
			if node.FirstPublishedAt > 0 {
				date = timestampToDate(node.FirstPublishedAt / 1000)
			}
			results = append(results, Article{
				PostID:   node.ID,
				Title:    node.Title,
				Author:   author,
				Date:     date,
				Category: tag,
				URL:      node.MediumURL,
			})
		}

		next := edges[len(edges)-1].Cursor
		if next == "" {
			// An empty cursor on a non-empty page would replay the first
			// page forever; stop instead.
			slog.Debug("empty cursor on non-empty page, stopping pagination", "tag", tag)
			break
		}
		cursor = next
	}
	return results, nil
}

// timestampToDate converts a unix timestamp in seconds to YYYY-MM-DD (UTC);
// empty when the timestamp is zero or negative.
func timestampToDate(timestamp int64) string {
	if timestamp <= 0 {
		return ""
	}
	return time.Unix(timestamp, 0).UTC().Format("2006-01-02")
}
