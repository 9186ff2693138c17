// Package eventbrite fetches attendee registrations from the Eventbrite API.
package eventbrite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lanternworks/stitch/iox"
	"github.com/lanternworks/stitch/source"
	"github.com/lanternworks/stitch/types"
)

// DefaultBaseURL is the production Eventbrite API host.
const DefaultBaseURL = "https://www.eventbriteapi.com"

// DefaultTimeout is the default per-request timeout.
const DefaultTimeout = 30 * time.Second

// Config configures the Eventbrite client.
type Config struct {
	// Token is the private API token (required).
	Token string
	// OrganizationID scopes event listing (required).
	OrganizationID string
	// BaseURL overrides the API host (tests).
	BaseURL string
	// Timeout is the per-request timeout (default 30s).
	Timeout time.Duration
}

// Client fetches attendees for an organization's events.
type Client struct {
	config Config
	client *http.Client
}

// New creates an Eventbrite client from the given config.
func New(cfg Config) (*Client, error) {
	if cfg.Token == "" {
		return nil, errors.New("eventbrite client requires an API token")
	}
	if cfg.OrganizationID == "" {
		return nil, errors.New("eventbrite client requires an organization ID")
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
	return types.SourceEventbrite
}

// FetchPending lists the organization's recent and upcoming events and
// fetches every attendee of those events. Events that ended before the
// window opened are too old to sync.
func (c *Client) FetchPending(ctx context.Context, window source.Window) ([]types.ExternalRecord, error) {
	events, err := c.listEvents(ctx, window)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var records []types.ExternalRecord
	for _, ev := range events {
		attendees, err := c.listAttendees(ctx, ev)
		if err != nil {
			return nil, err
		}
		for _, a := range attendees {
			rec, err := recordFromAttendee(a, ev, now)
			if err != nil {
				records = append(records, types.ExternalRecord{
					Source:    types.SourceEventbrite,
					Kind:      types.KindSkip,
					Fields:    map[string]any{"parse_error": err.Error()},
					FetchedAt: now,
				})
				continue
			}
			records = append(records, rec)
		}
	}
	return records, nil
}

// event is the slice of the events API response the attendee records need.
type event struct {
	ID            string
	Name          string
	Start         time.Time
	End           time.Time
	TicketClasses []ticketClass
}

type ticketClass struct {
	ID         string
	Name       string
	IncludeFee bool
	Category   string
}

// listEvents pages through the organization's events, dropping those
// that ended before the window opened. Ongoing and future events are
// always kept: registrations arrive long before an event ends.
func (c *Client) listEvents(ctx context.Context, window source.Window) ([]event, error) {
	params := url.Values{}
	params.Set("expand", "ticket_classes")
	params.Set("order_by", "start_desc")

	path := fmt.Sprintf("/v3/organizations/%s/events/", c.config.OrganizationID)
	var events []event

	err := c.paginate(ctx, path, params, func(body map[string]any) error {
		raw, _ := body["events"].([]any)
		for _, e := range raw {
			em, ok := e.(map[string]any)
			if !ok {
				continue
			}
			ev := parseEvent(em)
			if ev.ID == "" {
				continue
			}
			if !ev.End.IsZero() && ev.End.Before(window.Start) {
				continue
			}
			events = append(events, ev)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

func parseEvent(em map[string]any) event {
	ev := event{}
	ev.ID, _ = em["id"].(string)
	if n, ok := em["name"].(map[string]any); ok {
		ev.Name, _ = n["text"].(string)
	}
	if s, ok := em["start"].(map[string]any); ok {
		if utc, ok := s["utc"].(string); ok {
			ev.Start, _ = time.Parse(time.RFC3339, utc)
		}
	}
	if e, ok := em["end"].(map[string]any); ok {
		if utc, ok := e["utc"].(string); ok {
			ev.End, _ = time.Parse(time.RFC3339, utc)
		}
	}
	if tcs, ok := em["ticket_classes"].([]any); ok {
		for _, tc := range tcs {
			tcm, ok := tc.(map[string]any)
			if !ok {
				continue
			}
			cls := ticketClass{}
			cls.ID, _ = tcm["id"].(string)
			cls.Name, _ = tcm["name"].(string)
			cls.IncludeFee, _ = tcm["include_fee"].(bool)
			cls.Category, _ = tcm["category"].(string)
			ev.TicketClasses = append(ev.TicketClasses, cls)
		}
	}
	return ev
}

// listAttendees pages through an event's attendees.
func (c *Client) listAttendees(ctx context.Context, ev event) ([]map[string]any, error) {
	path := fmt.Sprintf("/v3/events/%s/attendees/", ev.ID)
	var attendees []map[string]any

	err := c.paginate(ctx, path, url.Values{}, func(body map[string]any) error {
		raw, _ := body["attendees"].([]any)
		for _, a := range raw {
			am, ok := a.(map[string]any)
			if !ok {
				continue
			}
			attendees = append(attendees, am)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return attendees, nil
}

// paginate follows the API's continuation-token pagination: each page
// carries pagination.has_more_items and a continuation token for the
// next request.
func (c *Client) paginate(ctx context.Context, path string, params url.Values, visit func(map[string]any) error) error {
	continuation := ""
	for {
		q := url.Values{}
		for k, vs := range params {
			q[k] = vs
		}
		if continuation != "" {
			q.Set("continuation", continuation)
		}

		body, err := c.get(ctx, path, q)
		if err != nil {
			return err
		}
		if err := visit(body); err != nil {
			return err
		}

		pg, _ := body["pagination"].(map[string]any)
		more, _ := pg["has_more_items"].(bool)
		if !more {
			return nil
		}
		continuation, _ = pg["continuation"].(string)
		if continuation == "" {
			return fmt.Errorf("eventbrite %s: has_more_items without continuation token", path)
		}
	}
}

func (c *Client) get(ctx context.Context, path string, params url.Values) (map[string]any, error) {
	u := c.config.BaseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("eventbrite: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.config.Token)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("eventbrite: request failed: %w: %w", types.ErrUpstreamUnavailable, err)
	}
	defer iox.DrainClose(resp.Body)

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("eventbrite %s: status %d: %w", path, resp.StatusCode, types.ErrAuthFailure)
	case resp.StatusCode >= 500, resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("eventbrite %s: status %d: %w", path, resp.StatusCode, types.ErrUpstreamUnavailable)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("eventbrite %s: unexpected status %d", path, resp.StatusCode)
	}

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("eventbrite %s: decode response: %w", path, err)
	}
	return body, nil
}

// recordFromAttendee flattens an attendee payload plus its event into
// the field map the mapping layer consumes.
func recordFromAttendee(raw map[string]any, ev event, fetchedAt time.Time) (types.ExternalRecord, error) {
	id, _ := raw["id"].(string)
	if id == "" {
		return types.ExternalRecord{}, errors.New("attendee missing id")
	}

	fields := map[string]any{
		"event_id":        ev.ID,
		"event_name":      ev.Name,
		"event_start":     ev.Start.Format(time.RFC3339),
		"status":          stringField(raw, "status"),
		"refunded":        boolField(raw, "refunded"),
		"cancelled":       boolField(raw, "cancelled"),
		"checked_in":      boolField(raw, "checked_in"),
		"created":         stringField(raw, "created"),
		"ticket_class_id": stringField(raw, "ticket_class_id"),
		"ticket_class":    "",
		"ticket_category": "",
		"include_fee":     false,
	}

	for _, tc := range ev.TicketClasses {
		if tc.ID == fields["ticket_class_id"] {
			fields["ticket_class"] = tc.Name
			fields["ticket_category"] = tc.Category
			fields["include_fee"] = tc.IncludeFee
			break
		}
	}

	if profile, ok := raw["profile"].(map[string]any); ok {
		if email, ok := profile["email"].(string); ok {
			fields["email"] = strings.ToLower(email)
		}
		fields["first_name"] = stringField(profile, "first_name")
		fields["last_name"] = stringField(profile, "last_name")
		fields["attendee_name"] = stringField(profile, "name")
		fields["cell_phone"] = stringField(profile, "cell_phone")
		fields["company"] = stringField(profile, "company")

		if addrs, ok := profile["addresses"].(map[string]any); ok {
			if billing, ok := addrs["bill"].(map[string]any); ok {
				fields["address_line_1"] = stringField(billing, "address_1")
				fields["address_line_2"] = stringField(billing, "address_2")
				fields["address_city"] = stringField(billing, "city")
				fields["address_state"] = stringField(billing, "region")
				fields["address_postal_code"] = stringField(billing, "postal_code")
				fields["address_country"] = stringField(billing, "country")
			}
		}
	}

	if costs, ok := raw["costs"].(map[string]any); ok {
		fields["gross_amount"] = costValue(costs, "gross")
		fields["base_price"] = costValue(costs, "base_price")
		fields["fee_amount"] = costValue(costs, "eventbrite_fee") + costValue(costs, "payment_fee")
	} else {
		fields["gross_amount"] = 0.0
		fields["base_price"] = 0.0
		fields["fee_amount"] = 0.0
	}

	// Registration forms sometimes collect postal code as a question
	// when the profile carries no billing address.
	if _, ok := fields["address_postal_code"]; !ok {
		if answers, ok := raw["answers"].([]any); ok {
			for _, ans := range answers {
				am, ok := ans.(map[string]any)
				if !ok {
					continue
				}
				q, _ := am["question"].(string)
				if strings.Contains(strings.ToLower(q), "postal") || strings.Contains(strings.ToLower(q), "zip") {
					if v, ok := am["answer"].(string); ok && v != "" {
						fields["address_postal_code"] = v
					}
					break
				}
			}
		}
	}

	return types.ExternalRecord{
		Source:     types.SourceEventbrite,
		ExternalID: id,
		Kind:       types.KindAttendee,
		Fields:     fields,
		FetchedAt:  fetchedAt,
	}, nil
}

// costValue extracts the major-unit value from the costs API's
// {"value": 2500, "major_value": "25.00"} shape.
func costValue(costs map[string]any, key string) float64 {
	m, ok := costs[key].(map[string]any)
	if !ok {
		return 0
	}
	// value is in minor units (cents).
	if v, ok := m["value"].(float64); ok {
		return v / 100
	}
	return 0
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func boolField(m map[string]any, key string) bool {
	b, _ := m[key].(bool)
	return b
}
