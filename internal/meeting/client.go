package meeting

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"vigil/internal/types"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// Provider fetches the participant roster for a meeting and time range.
type Provider interface {
	Participants(ctx context.Context, meetingID string, from, to time.Time) ([]Participant, error)
}

// Client is the HTTP implementation of Provider.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a Provider from the meeting configuration.
func NewClient(configManager types.ConfigManager) *Client {
	cfg := configManager.GetMeetingConfig()
	return &Client{
		baseURL: cfg.BaseURL,
		token:   cfg.APIToken,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
	}
}

// Participants fetches the roster for [from, to). A 404 or an explicit
// data-unavailable marker in the payload maps to ErrNoData; other non-2xx
// statuses are transient provider errors.
func (c *Client) Participants(ctx context.Context, meetingID string, from, to time.Time) ([]Participant, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("meeting provider is not configured")
	}

	endpoint := fmt.Sprintf("%s/meetings/%s/participants?from=%s&to=%s",
		c.baseURL,
		url.PathEscape(meetingID),
		url.QueryEscape(from.UTC().Format(time.RFC3339)),
		url.QueryEscape(to.UTC().Format(time.RFC3339)),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build participants request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("participants request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read participants response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNoData
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, fmt.Errorf("provider returned status %d", resp.StatusCode)
	}

	// Providers signal missing history inside a 200 payload as well
	if gjson.GetBytes(body, "data_available").Exists() && !gjson.GetBytes(body, "data_available").Bool() {
		return nil, ErrNoData
	}

	participants := make([]Participant, 0)
	for _, entry := range gjson.GetBytes(body, "participants").Array() {
		joined, errJoin := time.Parse(time.RFC3339, entry.Get("join_time").String())
		left, errLeave := time.Parse(time.RFC3339, entry.Get("leave_time").String())
		if errJoin != nil || errLeave != nil {
			logrus.WithFields(logrus.Fields{
				"identifier": entry.Get("email").String(),
				"join_time":  entry.Get("join_time").String(),
				"leave_time": entry.Get("leave_time").String(),
			}).Warn("Skipping participant with unparseable join/leave times")
			continue
		}
		participants = append(participants, Participant{
			Identifier: entry.Get("email").String(),
			Name:       entry.Get("name").String(),
			JoinedAt:   joined.UTC(),
			LeftAt:     left.UTC(),
		})
	}

	return participants, nil
}
