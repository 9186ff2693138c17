// Package paypal fetches transactions from the PayPal reporting API.
//
// Authentication uses the OAuth2 client-credentials grant. Access tokens
// expire server-side; a single 401 triggers one token refresh and retry
// before the failure is surfaced as an auth error.
package paypal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/lanternworks/stitch/iox"
	"github.com/lanternworks/stitch/source"
	"github.com/lanternworks/stitch/types"
)

// DefaultBaseURL is the production PayPal API host.
const DefaultBaseURL = "https://api.paypal.com"

// DefaultTimeout is the default per-request timeout.
const DefaultTimeout = 30 * time.Second

// dateFormat is the timestamp layout the reporting API expects.
const dateFormat = "2006-01-02T15:04:05-0700"

// pageSize is the reporting API page size. 500 is the documented maximum.
const pageSize = 500

// Config configures the PayPal client.
type Config struct {
	// ClientID and ClientSecret are the OAuth2 client credentials (required).
	ClientID     string
	ClientSecret string
	// BaseURL overrides the API host (tests, sandbox).
	BaseURL string
	// Timeout is the per-request timeout (default 30s).
	Timeout time.Duration
}

// Client fetches transactions from the PayPal reporting API.
type Client struct {
	config Config
	client *http.Client

	mu    sync.Mutex
	token string
}

// New creates a PayPal client from the given config.
func New(cfg Config) (*Client, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, errors.New("paypal client requires client ID and secret")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &Client{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// Name identifies the source system.
func (c *Client) Name() types.SourceSystem {
	return types.SourcePayPal
}

// FetchPending fetches all transactions in the window, following the
// reporting API's rel=next pagination.
func (c *Client) FetchPending(ctx context.Context, window source.Window) ([]types.ExternalRecord, error) {
	params := url.Values{}
	params.Set("start_date", window.Start.UTC().Format(dateFormat))
	params.Set("end_date", window.End.UTC().Format(dateFormat))
	params.Set("fields", "all")
	params.Set("page_size", fmt.Sprintf("%d", pageSize))

	pageURL := c.config.BaseURL + "/v1/reporting/transactions?" + params.Encode()

	var records []types.ExternalRecord
	now := time.Now().UTC()

	for pageURL != "" {
		page, err := c.getTransactionPage(ctx, pageURL)
		if err != nil {
			return nil, err
		}

		for _, raw := range page.TransactionDetails {
			rec, err := recordFromTransaction(raw, now)
			if err != nil {
				// Unparsable transactions are surfaced as skip records so
				// the cycle summary accounts for them.
				records = append(records, types.ExternalRecord{
					Source:    types.SourcePayPal,
					Kind:      types.KindSkip,
					Fields:    map[string]any{"parse_error": err.Error()},
					FetchedAt: now,
				})
				continue
			}
			if rec.Kind == types.KindSubscription {
				if err := c.enrichSubscription(ctx, &rec); err != nil {
					return nil, err
				}
			}
			records = append(records, rec)
		}

		pageURL = page.nextLink()
	}

	return records, nil
}

// transactionPage is the reporting API response shape we consume.
type transactionPage struct {
	TransactionDetails []map[string]any `json:"transaction_details"`
	Links              []pageLink       `json:"links"`
}

type pageLink struct {
	Href string `json:"href"`
	Rel  string `json:"rel"`
}

func (p *transactionPage) nextLink() string {
	for _, l := range p.Links {
		if l.Rel == "next" {
			return l.Href
		}
	}
	return ""
}

// getTransactionPage performs one authenticated GET, refreshing the
// token once on 401.
func (c *Client) getTransactionPage(ctx context.Context, pageURL string) (*transactionPage, error) {
	resp, err := c.authorizedGet(ctx, pageURL)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		iox.DrainClose(resp.Body)
		if err := c.refreshToken(ctx); err != nil {
			return nil, err
		}
		resp, err = c.authorizedGet(ctx, pageURL)
		if err != nil {
			return nil, err
		}
	}
	defer iox.DrainClose(resp.Body)

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("paypal transactions: status %d: %w", resp.StatusCode, types.ErrAuthFailure)
	case resp.StatusCode >= 500, resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("paypal transactions: status %d: %w", resp.StatusCode, types.ErrUpstreamUnavailable)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("paypal transactions: unexpected status %d", resp.StatusCode)
	}

	var page transactionPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("paypal transactions: decode response: %w", err)
	}
	return &page, nil
}

// enrichSubscription resolves the billing cadence of a subscription
// payment from the billing API's subscription detail: the gap between
// the last payment and the next billing time. The reporting API never
// carries the cadence itself. Transport and auth failures propagate;
// a detail with an unusable shape just leaves the cadence unset.
func (c *Client) enrichSubscription(ctx context.Context, rec *types.ExternalRecord) error {
	if stringField(rec.Fields, "reference_type") != "SUB" {
		return nil
	}
	subscriptionID := stringField(rec.Fields, "reference_id")
	if subscriptionID == "" {
		return nil
	}

	detail, err := c.getSubscription(ctx, subscriptionID)
	if err != nil {
		return err
	}

	status, _ := detail["status"].(string)
	rec.Fields["subscription_status"] = status
	// Canceled and suspended subscriptions have no next billing time to
	// measure against.
	if status == "CANCELLED" || status == "SUSPENDED" {
		return nil
	}

	billing, ok := detail["billing_info"].(map[string]any)
	if !ok {
		return nil
	}
	lastPayment, ok := billing["last_payment"].(map[string]any)
	if !ok {
		return nil
	}
	last, err1 := time.Parse(time.RFC3339, stringField(lastPayment, "time"))
	next, err2 := time.Parse(time.RFC3339, stringField(billing, "next_billing_time"))
	if err1 != nil || err2 != nil {
		return nil
	}

	rec.Fields["billing_interval_days"] = float64(int(next.Sub(last).Hours() / 24))
	return nil
}

// getSubscription fetches one subscription detail, refreshing the
// token once on 401.
func (c *Client) getSubscription(ctx context.Context, subscriptionID string) (map[string]any, error) {
	detailURL := c.config.BaseURL + "/v1/billing/subscriptions/" + url.PathEscape(subscriptionID)

	resp, err := c.authorizedGet(ctx, detailURL)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		iox.DrainClose(resp.Body)
		if err := c.refreshToken(ctx); err != nil {
			return nil, err
		}
		resp, err = c.authorizedGet(ctx, detailURL)
		if err != nil {
			return nil, err
		}
	}
	defer iox.DrainClose(resp.Body)

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("paypal subscription %s: status %d: %w", subscriptionID, resp.StatusCode, types.ErrAuthFailure)
	case resp.StatusCode >= 500, resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("paypal subscription %s: status %d: %w", subscriptionID, resp.StatusCode, types.ErrUpstreamUnavailable)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("paypal subscription %s: unexpected status %d", subscriptionID, resp.StatusCode)
	}

	var detail map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&detail); err != nil {
		return nil, fmt.Errorf("paypal subscription %s: decode response: %w", subscriptionID, err)
	}
	return detail, nil
}

func (c *Client) authorizedGet(ctx context.Context, rawURL string) (*http.Response, error) {
	token, err := c.currentToken(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("paypal: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("paypal: request failed: %w: %w", types.ErrUpstreamUnavailable, err)
	}
	return resp, nil
}

func (c *Client) currentToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()
	if token != "" {
		return token, nil
	}
	if err := c.refreshToken(ctx); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token, nil
}

// refreshToken fetches a fresh access token via the client-credentials grant.
func (c *Client) refreshToken(ctx context.Context) error {
	tokenURL := c.config.BaseURL + "/v1/oauth2/token"
	body := strings.NewReader("grant_type=client_credentials")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, body)
	if err != nil {
		return fmt.Errorf("paypal token: create request: %w", err)
	}
	req.SetBasicAuth(c.config.ClientID, c.config.ClientSecret)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("paypal token: request failed: %w: %w", types.ErrUpstreamUnavailable, err)
	}
	defer iox.DrainClose(resp.Body)

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("paypal token: status %d: %w", resp.StatusCode, types.ErrAuthFailure)
	case resp.StatusCode >= 500:
		return fmt.Errorf("paypal token: status %d: %w", resp.StatusCode, types.ErrUpstreamUnavailable)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("paypal token: unexpected status %d", resp.StatusCode)
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return fmt.Errorf("paypal token: decode response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return fmt.Errorf("paypal token: empty access_token: %w", types.ErrAuthFailure)
	}

	c.mu.Lock()
	c.token = tokenResp.AccessToken
	c.mu.Unlock()
	return nil
}
