package messenger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"vigil/internal/types"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// Client is the HTTP implementation of Messenger.
type Client struct {
	baseURL    string
	token      string
	senderID   string
	httpClient *http.Client
}

// NewClient creates a Messenger from the channel configuration.
func NewClient(configManager types.ConfigManager) *Client {
	cfg := configManager.GetMessengerConfig()
	return &Client{
		baseURL:  cfg.BaseURL,
		token:    cfg.APIToken,
		senderID: cfg.SenderID,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
	}
}

type sendRequest struct {
	From     string   `json:"from"`
	To       string   `json:"to"`
	Type     string   `json:"type"`
	Body     string   `json:"body,omitempty"`
	Template string   `json:"template,omitempty"`
	Params   []string `json:"params,omitempty"`
}

// SendText sends free-form text. The compliance gate guarantees this is only
// called inside the 24-hour session window.
func (c *Client) SendText(ctx context.Context, recipient, body string) error {
	return c.send(ctx, sendRequest{
		From: c.senderID,
		To:   recipient,
		Type: ModeText,
		Body: body,
	})
}

// SendTemplate sends a pre-approved named template with positional parameters.
func (c *Client) SendTemplate(ctx context.Context, recipient, template string, params ...string) error {
	return c.send(ctx, sendRequest{
		From:     c.senderID,
		To:       recipient,
		Type:     ModeTemplate,
		Template: template,
		Params:   params,
	})
}

func (c *Client) send(ctx context.Context, payload sendRequest) error {
	if c.baseURL == "" {
		// Degraded mode: log the message instead of dropping the dispatch silently
		logrus.WithFields(logrus.Fields{
			"to":       payload.To,
			"type":     payload.Type,
			"template": payload.Template,
		}).Warn("Messenger not configured, message not sent")
		return fmt.Errorf("messenger is not configured")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal send request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build send request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail := gjson.GetBytes(respBody, "error.message").String()
		if detail == "" {
			detail = string(respBody)
		}
		return fmt.Errorf("channel returned status %d: %s", resp.StatusCode, detail)
	}

	return nil
}
