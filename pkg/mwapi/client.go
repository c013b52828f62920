// Package mwapi wraps the MediaWiki HTTP API behind typed calls. All
// traffic goes through the shared retrying fetcher; a failed call after
// retries surfaces as an error with an empty result.
package mwapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Fetcher is the transport dependency (implemented by fetch.Client).
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, http.Header, error)
}

// Client issues typed api.php and REST calls.
type Client struct {
	fetcher Fetcher
	apiURL  string
	restURL string
}

// New builds a client. apiURL points at api.php, restURL at the
// mobile-sections REST base (no trailing slash).
func New(fetcher Fetcher, apiURL, restURL string) *Client {
	return &Client{fetcher: fetcher, apiURL: apiURL, restURL: restURL}
}

func (c *Client) query(ctx context.Context, params url.Values) (*apiResponse, error) {
	params.Set("action", "query")
	params.Set("format", "json")
	target := c.apiURL + "?" + params.Encode()
	body, _, err := c.fetcher.Fetch(ctx, target)
	if err != nil {
		return nil, err
	}
	var resp apiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("bad api response for %s: %w", target, err)
	}
	return &resp, nil
}

// SiteInfo fetches the wiki's general settings and namespace table.
func (c *Client) SiteInfo(ctx context.Context) (*SiteInfo, error) {
	params := url.Values{
		"meta":   {"siteinfo"},
		"siprop": {"general|namespaces"},
	}
	resp, err := c.query(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("siteinfo: %w", err)
	}
	if resp.Query.General == nil {
		return nil, fmt.Errorf("siteinfo: response carries no general section")
	}
	return &SiteInfo{
		General:    *resp.Query.General,
		Namespaces: resp.Query.Namespaces,
	}, nil
}

// AllPages fetches one generator=allpages page for a namespace,
// excluding redirects, with revisions and coordinates. cont is the
// gapcontinue cursor from the previous call, empty for the first.
// Returns the pages, the next cursor (empty when exhausted).
func (c *Client) AllPages(ctx context.Context, namespace int, cont string) (map[string]Page, string, error) {
	params := url.Values{
		"generator":      {"allpages"},
		"gapfilterredir": {"nonredirects"},
		"gapnamespace":   {strconv.Itoa(namespace)},
		"gaplimit":       {"max"},
		"prop":           {"revisions|coordinates"},
		"rawcontinue":    {"1"},
	}
	if cont != "" {
		params.Set("gapcontinue", cont)
	}
	resp, err := c.query(ctx, params)
	if err != nil {
		return nil, "", fmt.Errorf("allpages ns %d: %w", namespace, err)
	}
	return resp.Query.Pages, resp.QueryContinue.AllPages.GapContinue, nil
}

// Backlinks fetches one page of redirect backlinks pointing at title.
func (c *Client) Backlinks(ctx context.Context, title, cont string) ([]Backlink, string, error) {
	params := url.Values{
		"list":          {"backlinks"},
		"blfilterredir": {"redirects"},
		"bltitle":       {title},
		"bllimit":       {"max"},
		"rawcontinue":   {"1"},
	}
	if cont != "" {
		params.Set("blcontinue", cont)
	}
	resp, err := c.query(ctx, params)
	if err != nil {
		return nil, "", fmt.Errorf("backlinks %s: %w", title, err)
	}
	return resp.Query.Backlinks, resp.QueryContinue.Backlinks.BlContinue, nil
}

// TitleInfo resolves explicit titles (file mode) to revisions and
// coordinates. Redirect inputs are followed; the from/to pairs come
// back alongside the resolved pages.
func (c *Client) TitleInfo(ctx context.Context, titles []string) (map[string]Page, []Redirect, error) {
	joined := strings.Join(titles, "|")
	params := url.Values{
		"redirects": {"1"},
		"prop":      {"revisions|coordinates"},
		"titles":    {joined},
	}
	resp, err := c.query(ctx, params)
	if err != nil {
		return nil, nil, fmt.Errorf("titleinfo: %w", err)
	}
	return resp.Query.Pages, resp.Query.Redirects, nil
}

// MobileSections fetches the rendered article from the REST
// mobile-sections endpoint. The raw JSON is handed to the rewriter.
func (c *Client) MobileSections(ctx context.Context, title string) ([]byte, error) {
	target := c.restURL + "/" + url.PathEscape(title)
	body, _, err := c.fetcher.Fetch(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("mobile-sections %s: %w", title, err)
	}
	return body, nil
}

// MobileSectionsURL returns the REST URL for a title, for cache keying.
func (c *Client) MobileSectionsURL(title string) string {
	return c.restURL + "/" + url.PathEscape(title)
}

// ParseTimestamp converts an API revision timestamp to UNIX seconds.
func ParseTimestamp(ts string) int64 {
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return 0
	}
	return t.Unix()
}
