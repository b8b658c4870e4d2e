// Package github is a minimal GitHub REST client covering what the skip
// gate needs: reading the labels attached to a pull request.
package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

// apiVersion pins the REST API version header.
const apiVersion = "2022-11-28"

// defaultBaseURL is the base URL for the public GitHub API.
const defaultBaseURL = "https://api.github.com"

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 4 << 20

// Config holds configuration for a Client.
type Config struct {
	// BaseURL is the API root. Defaults to https://api.github.com. Must be
	// HTTPS unless it points at a loopback address.
	BaseURL string

	// Token is sent as a bearer credential. Required.
	Token string

	// HTTPClient defaults to http.DefaultClient.
	HTTPClient *http.Client

	Logger *zap.Logger
}

// Client reads issue labels from the GitHub REST API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *zap.Logger
}

// Label is one label attached to an issue or pull request.
type Label struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

// NewClient validates cfg and returns a Client.
func NewClient(cfg Config) (*Client, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("github: invalid base URL %q: %w", baseURL, err)
	}
	if parsed.Scheme != "https" && !(parsed.Scheme == "http" && isLoopback(parsed.Hostname())) {
		return nil, fmt.Errorf("github: API client requires HTTPS (got %q)", baseURL)
	}

	if cfg.Token == "" {
		return nil, errors.New("github: no token configured")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		baseURL:    baseURL,
		token:      cfg.Token,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// maxLabelPages bounds how many pages of labels are followed.
const maxLabelPages = 20

// ListIssueLabels returns the labels on issue or pull request number of repo
// ("owner/name"). Pages are followed through the Link header; no request is
// retried.
func (c *Client) ListIssueLabels(ctx context.Context, repo, number string) ([]Label, error) {
	owner, name, ok := strings.Cut(repo, "/")
	if !ok || owner == "" || name == "" {
		return nil, fmt.Errorf("github: repository %q is not in owner/name form", repo)
	}

	next := c.baseURL + fmt.Sprintf("/repos/%s/%s/issues/%s/labels?per_page=100",
		url.PathEscape(owner), url.PathEscape(name), url.PathEscape(number))

	var labels []Label
	for page := 1; next != ""; page++ {
		if page > maxLabelPages {
			return nil, fmt.Errorf("github: labels of %s#%s span more than %d pages", repo, number, maxLabelPages)
		}
		if !strings.HasPrefix(next, c.baseURL+"/") {
			return nil, fmt.Errorf("github: refusing to follow page link outside %s: %q", c.baseURL, next)
		}

		body, header, err := c.get(ctx, next)
		if err != nil {
			return nil, err
		}

		var batch []Label
		if err := json.Unmarshal(body, &batch); err != nil {
			return nil, fmt.Errorf("github: decoding labels: %w", err)
		}
		labels = append(labels, batch...)
		next = nextLink(header.Get("Link"))
	}

	c.logger.Debug("fetched labels",
		zap.String("repo", repo),
		zap.String("pull", number),
		zap.Int("count", len(labels)),
	)
	return labels, nil
}

// nextLink extracts the rel="next" target of a Link header, or "".
func nextLink(header string) string {
	for _, part := range strings.Split(header, ",") {
		target, params, ok := strings.Cut(strings.TrimSpace(part), ";")
		if !ok {
			continue
		}
		target = strings.TrimSpace(target)
		if !strings.HasPrefix(target, "<") || !strings.HasSuffix(target, ">") {
			continue
		}
		for _, param := range strings.Split(params, ";") {
			if strings.TrimSpace(param) == `rel="next"` {
				return target[1 : len(target)-1]
			}
		}
	}
	return ""
}

// LabelNames returns the set of label names on repo#number. Its signature
// matches gate.LabelFetcher.
func (c *Client) LabelNames(ctx context.Context, repo, number string) (map[string]struct{}, error) {
	labels, err := c.ListIssueLabels(ctx, repo, number)
	if err != nil {
		return nil, err
	}
	names := make(map[string]struct{}, len(labels))
	for _, label := range labels {
		names[label.Name] = struct{}{}
	}
	return names, nil
}

// get performs an authenticated GET of target and returns the body and
// headers of a 2xx response. Non-2xx responses become *APIError.
func (c *Client) get(ctx context.Context, target string) ([]byte, http.Header, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("github: creating request: %w", err)
	}
	request.Header.Set("Authorization", "Bearer "+c.token)
	request.Header.Set("Accept", "application/vnd.github+json")
	request.Header.Set("X-GitHub-Api-Version", apiVersion)

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, nil, fmt.Errorf("github: GET %s: %w", strings.TrimPrefix(target, c.baseURL), err)
	}
	defer response.Body.Close()

	body, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBytes))
	if err != nil {
		return nil, nil, fmt.Errorf("github: reading response body: %w", err)
	}

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return nil, nil, parseAPIError(response.StatusCode, body)
	}
	return body, response.Header, nil
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
