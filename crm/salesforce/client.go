// Package salesforce pushes mapped objects to Salesforce via external
// ID upserts.
//
// Writes use PATCH /services/data/{version}/sobjects/{type}/{field}/{value},
// which creates or updates by the external ID. The upsert makes pushes
// idempotent: replaying a record after a crash rewrites the same row.
package salesforce

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/lanternworks/stitch/iox"
	"github.com/lanternworks/stitch/types"
)

// DefaultAPIVersion is the Salesforce REST API version used for upserts.
const DefaultAPIVersion = "v59.0"

// DefaultTimeout is the default per-request timeout.
const DefaultTimeout = 30 * time.Second

// errorBodyLimit caps how much of an error response is kept for logs.
const errorBodyLimit = 2048

// Config configures the Salesforce client.
type Config struct {
	// LoginURL is the OAuth host, e.g. https://login.salesforce.com (required).
	LoginURL string
	// ClientID and ClientSecret identify the connected app (required).
	ClientID     string
	ClientSecret string
	// Username and Password authenticate the integration user. Password
	// carries the security token appended (required).
	Username string
	Password string
	// APIVersion overrides the REST API version (default v59.0).
	APIVersion string
	// Timeout is the per-request timeout (default 30s).
	Timeout time.Duration
}

// Client pushes mapped objects to a Salesforce org.
type Client struct {
	config Config
	client *http.Client

	mu          sync.Mutex
	accessToken string
	instanceURL string
}

// New creates a Salesforce client from the given config.
func New(cfg Config) (*Client, error) {
	switch {
	case cfg.LoginURL == "":
		return nil, errors.New("salesforce client requires a login URL")
	case cfg.ClientID == "" || cfg.ClientSecret == "":
		return nil, errors.New("salesforce client requires connected app credentials")
	case cfg.Username == "" || cfg.Password == "":
		return nil, errors.New("salesforce client requires user credentials")
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &Client{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// Push upserts one mapped object, refreshing the session once on 401.
func (c *Client) Push(ctx context.Context, obj types.MappedObject) error {
	resp, err := c.upsert(ctx, obj)
	if err != nil {
		return err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		iox.DrainClose(resp.Body)
		if err := c.login(ctx); err != nil {
			return err
		}
		resp, err = c.upsert(ctx, obj)
		if err != nil {
			return err
		}
	}
	defer iox.DrainClose(resp.Body)

	// 200 updated, 201 created, 204 updated without body.
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
	perr := &types.PushError{
		SObject:    obj.SObject,
		StatusCode: resp.StatusCode,
		Body:       string(body),
	}
	if resp.StatusCode == http.StatusUnauthorized {
		perr.Err = types.ErrAuthFailure
	}
	return perr
}

func (c *Client) upsert(ctx context.Context, obj types.MappedObject) (*http.Response, error) {
	token, instance, err := c.session(ctx)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(obj.Fields)
	if err != nil {
		return nil, fmt.Errorf("salesforce: encode %s: %w", obj.SObject, err)
	}

	u := fmt.Sprintf("%s/services/data/%s/sobjects/%s/%s/%s",
		instance, c.config.APIVersion, obj.SObject,
		url.PathEscape(obj.MatchField), url.PathEscape(obj.MatchValue))

	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, u, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("salesforce: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &types.PushError{SObject: obj.SObject, Err: fmt.Errorf("%w: %w", types.ErrUpstreamUnavailable, err)}
	}
	return resp, nil
}

func (c *Client) session(ctx context.Context) (token, instance string, err error) {
	c.mu.Lock()
	token, instance = c.accessToken, c.instanceURL
	c.mu.Unlock()
	if token != "" {
		return token, instance, nil
	}
	if err := c.login(ctx); err != nil {
		return "", "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accessToken, c.instanceURL, nil
}

// login performs the OAuth2 username-password grant.
func (c *Client) login(ctx context.Context) error {
	form := url.Values{}
	form.Set("grant_type", "password")
	form.Set("client_id", c.config.ClientID)
	form.Set("client_secret", c.config.ClientSecret)
	form.Set("username", c.config.Username)
	form.Set("password", c.config.Password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.config.LoginURL+"/services/oauth2/token",
		bytes.NewReader([]byte(form.Encode())))
	if err != nil {
		return fmt.Errorf("salesforce login: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("salesforce login: request failed: %w: %w", types.ErrUpstreamUnavailable, err)
	}
	defer iox.DrainClose(resp.Body)

	switch {
	case resp.StatusCode == http.StatusBadRequest, resp.StatusCode == http.StatusUnauthorized:
		// The password grant reports bad credentials as 400.
		return fmt.Errorf("salesforce login: status %d: %w", resp.StatusCode, types.ErrAuthFailure)
	case resp.StatusCode >= 500:
		return fmt.Errorf("salesforce login: status %d: %w", resp.StatusCode, types.ErrUpstreamUnavailable)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("salesforce login: unexpected status %d", resp.StatusCode)
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
		InstanceURL string `json:"instance_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return fmt.Errorf("salesforce login: decode response: %w", err)
	}
	if tokenResp.AccessToken == "" || tokenResp.InstanceURL == "" {
		return fmt.Errorf("salesforce login: incomplete token response: %w", types.ErrAuthFailure)
	}

	c.mu.Lock()
	c.accessToken = tokenResp.AccessToken
	c.instanceURL = tokenResp.InstanceURL
	c.mu.Unlock()
	return nil
}
