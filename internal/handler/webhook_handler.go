package handler

import (
	"io"

	app_errors "vigil/internal/errors"
	"vigil/internal/messenger"
	"vigil/internal/response"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// signatureHeader carries the channel's HMAC-SHA256 hex signature.
const signatureHeader = "X-Signature"

// InboundWebhook handles POST /webhook/messages from the messaging channel.
// The signature covers the raw body; requests that fail verification are
// rejected before any parsing. Keyword processing is synchronous so a STOP is
// effective before the webhook responds.
func (s *Server) InboundWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		response.Error(c, app_errors.ErrBadRequest)
		return
	}

	secret := s.config.GetMessengerConfig().WebhookSecret
	if !messenger.VerifySignature(secret, body, c.GetHeader(signatureHeader)) {
		logrus.Warn("Rejected inbound webhook with invalid signature")
		response.Error(c, app_errors.ErrUnauthorized)
		return
	}

	msg := messenger.InboundMessage{
		Sender: gjson.GetBytes(body, "from").String(),
		Body:   gjson.GetBytes(body, "text").String(),
	}
	if msg.Sender == "" {
		response.Error(c, app_errors.NewValidationError("missing sender"))
		return
	}

	reply, err := s.Gate.HandleInbound(msg, gjson.GetBytes(body, "lang").String())
	if HandleServiceError(c, err) {
		return
	}

	// Reply delivery is best effort; the inbound processing already committed
	if reply != "" {
		if err := s.Sender.SendText(c.Request.Context(), msg.Sender, reply); err != nil {
			logrus.WithError(err).WithField("recipient", msg.Sender).
				Warn("Failed to send webhook reply")
		}
	}

	response.Success(c, nil)
}
