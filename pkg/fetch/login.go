package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/openzim/mwoffliner/internal/logger"
)

type loginResponse struct {
	Login struct {
		Result string `json:"result"`
		Token  string `json:"token"`
		Reason string `json:"reason"`
	} `json:"login"`
}

// Login performs the two-step action=login token handshake against a
// private wiki. The session cookie lands in the client's jar and rides
// along on every later request.
func (c *Client) Login(ctx context.Context, apiURL, username, password, domain string) error {
	form := url.Values{
		"action":     {"login"},
		"format":     {"json"},
		"lgname":     {username},
		"lgpassword": {password},
	}
	if domain != "" {
		form.Set("lgdomain", domain)
	}

	first, err := c.postForm(ctx, apiURL, form)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if first.Login.Result == "Success" {
		logger.Info("logged in", "user", username)
		return nil
	}
	if first.Login.Result != "NeedToken" || first.Login.Token == "" {
		return fmt.Errorf("login refused: %s %s", first.Login.Result, first.Login.Reason)
	}

	form.Set("lgtoken", first.Login.Token)
	second, err := c.postForm(ctx, apiURL, form)
	if err != nil {
		return fmt.Errorf("login token step: %w", err)
	}
	if second.Login.Result != "Success" {
		return fmt.Errorf("login refused: %s %s", second.Login.Result, second.Login.Reason)
	}
	logger.Info("logged in", "user", username)
	return nil
}

func (c *Client) postForm(ctx context.Context, apiURL string, form url.Values) (*loginResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var parsed loginResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("bad login response: %w", err)
	}
	return &parsed, nil
}
