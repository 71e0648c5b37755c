// Package jira provides a REST client for the Jira endpoints the export
// pipeline drives.
// It implements a deep module interface - simple methods hiding the
// differences between Jira Cloud and Jira Server/Data Center.
package jira

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	v2 "github.com/ctreminiom/go-atlassian/v2/jira/v2"
	v3 "github.com/ctreminiom/go-atlassian/v2/jira/v3"
	"github.com/ctreminiom/go-atlassian/v2/pkg/infra/models"
	"github.com/ctreminiom/go-atlassian/v2/service/common"
	"github.com/h0rv/jex/internal/auth"
)

// ErrUnauthorized is returned when Jira rejects the credentials.
var ErrUnauthorized = errors.New("jira rejected the credentials")

// StatusError is a non-2xx response from Jira.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string // First part of the response body
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Code, e.Body)
}

// Config holds the connection settings of a Client.
type Config struct {
	BaseURL     string
	Credentials auth.Credentials
	// Cloud selects the Jira Cloud endpoints (token-paginated search, accountId users).
	Cloud      bool
	HTTPClient *http.Client // Optional; a client with a 60s timeout is used when nil
	UserAgent  string
}

// restClient builds and sends requests for endpoints without a typed service.
type restClient interface {
	NewRequest(ctx context.Context, method, urlStr, contentType string, body interface{}) (*http.Request, error)
	Call(request *http.Request, structure interface{}) (*models.ResponseScheme, error)
}

// The services below are shared by the v2 and v3 clients.

type myselfService interface {
	Details(ctx context.Context, expand []string) (*models.UserScheme, *models.ResponseScheme, error)
}

type fieldService interface {
	Gets(ctx context.Context) ([]*models.IssueFieldScheme, *models.ResponseScheme, error)
}

type componentService interface {
	Gets(ctx context.Context, projectKeyOrID string) ([]*models.ComponentScheme, *models.ResponseScheme, error)
}

type versionService interface {
	Gets(ctx context.Context, projectKeyOrID string) ([]*models.VersionScheme, *models.ResponseScheme, error)
}

// Client is a Jira REST API client.
// It provides high-level methods returning domain types or raw JSON that
// callers pick apart with gjson.
type Client struct {
	baseURL string
	cloud   bool

	rest       restClient
	myself     myselfService
	fields     fieldService
	components componentService
	versions   versionService

	// Exactly one of these is set: v3 for Cloud, v2 for Server/Data Center.
	cloudAPI  *v3.Client
	serverAPI *v2.Client
}

// New creates a new Jira client.
// Returns an error if the base URL is missing or malformed.
func New(cfg Config) (*Client, error) {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		return nil, errors.New("jira base URL is required")
	}
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("invalid jira base URL %q: %w", base, err)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	agent := cfg.UserAgent
	if agent == "" {
		agent = "jex/1.0"
	}

	c := &Client{baseURL: base, cloud: cfg.Cloud}

	if cfg.Cloud {
		atl, err := v3.New(httpClient, base)
		if err != nil {
			return nil, fmt.Errorf("create jira cloud client: %w", err)
		}
		authorize(atl.Auth, cfg.Credentials, agent)
		c.cloudAPI = atl
		c.rest = atl
		c.myself = atl.MySelf
		c.fields = atl.Issue.Field
		c.components = atl.Project.Component
		c.versions = atl.Project.Version
		return c, nil
	}

	atl, err := v2.New(httpClient, base)
	if err != nil {
		return nil, fmt.Errorf("create jira server client: %w", err)
	}
	authorize(atl.Auth, cfg.Credentials, agent)
	c.serverAPI = atl
	c.rest = atl
	c.myself = atl.MySelf
	c.fields = atl.Issue.Field
	c.components = atl.Project.Component
	c.versions = atl.Project.Version
	return c, nil
}

func authorize(a common.Authentication, creds auth.Credentials, agent string) {
	if creds.IsBearer() {
		a.SetBearerToken(creds.Token)
	} else {
		a.SetBasicAuth(creds.Email, creds.Token)
	}
	a.SetUserAgent(agent)
}

// Cloud reports whether the client talks to Jira Cloud.
func (c *Client) Cloud() bool {
	return c.cloud
}

// TokenPaging reports whether Search pages by nextPageToken rather than by
// startAt offsets.
func (c *Client) TokenPaging() bool {
	return c.cloudAPI != nil
}

// BaseURL returns the instance URL without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// CheckAuth verifies the client can authenticate with Jira.
// Returns ErrUnauthorized when the credentials are rejected.
func (c *Client) CheckAuth(ctx context.Context) error {
	if _, resp, err := c.myself.Details(ctx, nil); err != nil {
		return fmt.Errorf("jira auth check failed: %w", callError(resp, err))
	}
	return nil
}

// get performs an authenticated GET of an endpoint relative to the base URL
// and decodes the JSON response into out.
func (c *Client) get(ctx context.Context, endpoint string, query url.Values, out interface{}) error {
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := c.rest.NewRequest(ctx, http.MethodGet, endpoint, "", nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := c.rest.Call(req, out)
	if err != nil {
		return callError(resp, err)
	}
	return nil
}

// callError converts a failed go-atlassian call into the package errors.
// 401 and 403 map to ErrUnauthorized, other non-2xx responses to
// *StatusError. Transport and decode errors are returned unchanged.
func callError(resp *models.ResponseScheme, err error) error {
	if resp == nil {
		return err
	}

	path := resp.Endpoint
	if u, perr := url.Parse(resp.Endpoint); perr == nil {
		path = u.Path
	}

	switch {
	case resp.Code == http.StatusUnauthorized || resp.Code == http.StatusForbidden:
		return fmt.Errorf("%w: %s %s returned %d", ErrUnauthorized, resp.Method, path, resp.Code)
	case resp.Code < 200 || resp.Code > 299:
		snippet := resp.Bytes.String()
		if len(snippet) > 512 {
			snippet = snippet[:512]
		}
		return &StatusError{Method: resp.Method, Path: path, Code: resp.Code, Body: snippet}
	}
	return err
}
