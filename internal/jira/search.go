package jira

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// csvExportPath is the issue navigator export of all fields as CSV.
const csvExportPath = "sr/jira.issueviews:searchrequest-csv-all-fields/temp/SearchRequest.csv"

// SearchRequest describes one page of a JQL search.
// StartAt is used by Server/Data Center, PageToken by Cloud.
type SearchRequest struct {
	JQL        string
	Fields     []string
	Expand     []string
	MaxResults int
	StartAt    int
	PageToken  string
}

// SearchResult is one page of issues as raw JSON objects.
type SearchResult struct {
	Issues        []json.RawMessage
	Total         int // Negative when the endpoint does not report a total
	NextPageToken string
}

// SearchTotal returns the number of issues matching jql without fetching them.
func (c *Client) SearchTotal(ctx context.Context, jql string) (int, error) {
	if c.cloudAPI != nil {
		count, resp, err := c.cloudAPI.Issue.Search.ApproximateCount(ctx, jql)
		if err != nil {
			return 0, fmt.Errorf("failed to count issues: %w", callError(resp, err))
		}
		return count.Count, nil
	}

	page, resp, err := c.serverAPI.Issue.Search.Get(ctx, jql, nil, nil, 0, 0, "")
	if err != nil {
		return 0, fmt.Errorf("failed to count issues: %w", callError(resp, err))
	}
	return page.Total, nil
}

// ExportCSV returns rows [start, start+max) of the all-fields CSV export of jql.
// The header repeats a column name once per value of multi-valued fields, so
// two pages of the same query may have different headers.
func (c *Client) ExportCSV(ctx context.Context, jql string, start, max int) ([]byte, error) {
	q := url.Values{}
	q.Set("jqlQuery", jql)
	q.Set("tempMax", strconv.Itoa(max))
	q.Set("pager/start", strconv.Itoa(start))

	req, err := c.rest.NewRequest(ctx, http.MethodGet, csvExportPath+"?"+q.Encode(), "", nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "text/csv")

	resp, err := c.rest.Call(req, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to export issues at %d: %w", start, callError(resp, err))
	}
	return resp.Bytes.Bytes(), nil
}

// Search fetches one page of issues.
// On Cloud it follows nextPageToken through the v3 search endpoint; on
// Server/Data Center it pages by StartAt and reports the total.
func (c *Client) Search(ctx context.Context, req SearchRequest) (SearchResult, error) {
	if c.cloudAPI != nil {
		return c.searchToken(ctx, req)
	}
	return c.searchOffset(ctx, req)
}

func (c *Client) searchOffset(ctx context.Context, req SearchRequest) (SearchResult, error) {
	page, resp, err := c.serverAPI.Issue.Search.Get(ctx, req.JQL, req.Fields, req.Expand, req.StartAt, req.MaxResults, "")
	if err != nil {
		return SearchResult{}, fmt.Errorf("jira search at %d: %w", req.StartAt, callError(resp, err))
	}

	issues, err := encodeIssues(page.Issues)
	if err != nil {
		return SearchResult{}, err
	}
	return SearchResult{Issues: issues, Total: page.Total}, nil
}

func (c *Client) searchToken(ctx context.Context, req SearchRequest) (SearchResult, error) {
	page, resp, err := c.cloudAPI.Issue.Search.SearchJQL(
		ctx,
		req.JQL,
		req.Fields,
		req.Expand,
		req.MaxResults,
		req.PageToken,
	)
	if err != nil {
		return SearchResult{}, fmt.Errorf("jira search: %w", callError(resp, err))
	}

	issues, err := encodeIssues(page.Issues)
	if err != nil {
		return SearchResult{}, err
	}
	return SearchResult{Issues: issues, Total: -1, NextPageToken: page.NextPageToken}, nil
}

// encodeIssues re-encodes typed issues so Cloud and Server results share one
// gjson parsing path downstream.
func encodeIssues[T any](issues []T) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, 0, len(issues))
	for _, issue := range issues {
		raw, err := json.Marshal(issue)
		if err != nil {
			return nil, fmt.Errorf("encode issue: %w", err)
		}
		out = append(out, raw)
	}
	return out, nil
}

// IssueChangelog returns one issue with its changelog expanded.
func (c *Client) IssueChangelog(ctx context.Context, key string) (json.RawMessage, error) {
	var (
		issue interface{}
		err   error
	)
	fields, expand := []string{"summary"}, []string{"changelog"}
	if c.cloudAPI != nil {
		got, resp, gerr := c.cloudAPI.Issue.Get(ctx, key, fields, expand)
		issue, err = got, callError(resp, gerr)
	} else {
		got, resp, gerr := c.serverAPI.Issue.Get(ctx, key, fields, expand)
		issue, err = got, callError(resp, gerr)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get changelog of %s: %w", key, err)
	}

	raw, err := json.Marshal(issue)
	if err != nil {
		return nil, fmt.Errorf("encode issue %s: %w", key, err)
	}
	return raw, nil
}
