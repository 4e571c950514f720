// Package email provides outbound email senders.
package email

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/nurture/pkg/models"
	"github.com/dukex/nurture/pkg/protocol"
	"github.com/dukex/nurture/pkg/retry"
	"github.com/google/uuid"
)

// RelaySender hands messages to an HTTP email relay that answers {"id": "<message id>"}.
// Unavailable relays are transient failures; rejected messages are permanent.
type RelaySender struct {
	url    string
	client protocol.WebhookClient
	logger *slog.Logger
}

func NewRelaySender(url string, client protocol.WebhookClient, logger *slog.Logger) *RelaySender {
	return &RelaySender{
		url:    url,
		client: client,
		logger: logger.With("module", "email_relay"),
	}
}

func (s *RelaySender) Send(ctx context.Context, message *models.EmailMessage) (string, error) {
	headers := map[string]string{"Idempotency-Key": message.IdempotencyKey}

	resp, err := s.client.Post(ctx, s.url, headers, message)
	if err != nil {
		nodeErr := retry.Classify(err)
		if nodeErr.Retryable() {
			return "", retry.Transient(retry.CodeEmailUnavailable, err)
		}

		return "", retry.Permanent(retry.CodeEmailRejected, err)
	}

	messageID := message.IdempotencyKey

	if body, ok := resp.Body.(map[string]any); ok {
		if id, ok := body["id"].(string); ok && id != "" {
			messageID = id
		}
	}

	s.logger.InfoContext(ctx, "email accepted", "to", message.To, "message_id", messageID)

	return messageID, nil
}

// LogSender accepts every message and only logs it. Used when no relay is configured.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger.With("module", "email_log")}
}

func (s *LogSender) Send(ctx context.Context, message *models.EmailMessage) (string, error) {
	if message.To == "" {
		return "", retry.Permanent(retry.CodeEmailRejected, fmt.Errorf("message %s has no recipient", message.IdempotencyKey))
	}

	messageID := uuid.NewString()

	s.logger.InfoContext(ctx, "email accepted",
		"to", message.To,
		"subject", message.Subject,
		"message_id", messageID,
		"idempotency_key", message.IdempotencyKey,
	)

	return messageID, nil
}
