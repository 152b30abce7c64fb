// Package messenger is the boundary to the outbound messaging channel. The
// channel accepts either free-form text (only valid inside the 24-hour
// inbound session window) or a pre-approved named template with positional
// parameters; delivery is asynchronous on the provider side.
package messenger

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Send modes recorded on dispatch records.
const (
	ModeText     = "text"
	ModeTemplate = "template"
)

// Template names pre-approved with the channel provider.
const (
	TemplateSlotReminder   = "slot_reminder"    // params: holder name, slot time
	TemplateSlotReleased   = "slot_released"    // params: holder name, slot time
	TemplateDailyContent   = "daily_content"    // params: holder name
	TemplateBroadcastAlert = "broadcast_alert"  // params: subject
)

// Messenger sends outbound messages on the channel.
type Messenger interface {
	SendText(ctx context.Context, recipient, body string) error
	SendTemplate(ctx context.Context, recipient, template string, params ...string) error
}

// InboundMessage is one message received on the channel webhook.
type InboundMessage struct {
	Sender string
	Body   string
}

// VerifySignature checks an HMAC-SHA256 webhook signature (hex encoded).
func VerifySignature(secret string, payload []byte, signature string) bool {
	if secret == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
