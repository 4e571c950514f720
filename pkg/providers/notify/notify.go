// Package notify delivers internal messages to workflow owners over email, Slack or Discord.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/nurture/pkg/models"
	"github.com/dukex/nurture/pkg/protocol"
)

var (
	// ErrChannelNotConfigured is returned when the target channel has no destination configured.
	ErrChannelNotConfigured = errors.New("notification channel not configured")

	// ErrUnknownChannel is returned for channels other than email, slack and discord.
	ErrUnknownChannel = errors.New("unknown notification channel")
)

// Config holds the destinations of each channel. Empty URLs disable the channel.
type Config struct {
	SlackWebhookURL   string
	DiscordWebhookURL string
}

// Notifier routes notifications by channel. Slack and Discord go through their incoming
// webhooks; email goes through the regular email sender.
type Notifier struct {
	config  Config
	email   protocol.EmailSender
	webhook protocol.WebhookClient
	logger  *slog.Logger
}

func NewNotifier(config Config, email protocol.EmailSender, webhook protocol.WebhookClient, logger *slog.Logger) *Notifier {
	return &Notifier{
		config:  config,
		email:   email,
		webhook: webhook,
		logger:  logger.With("module", "notifier"),
	}
}

func (n *Notifier) Notify(ctx context.Context, notification *models.Notification) error {
	var err error

	switch notification.Channel {
	case models.NotifyChannelSlack:
		err = n.post(ctx, n.config.SlackWebhookURL, map[string]any{"text": text(notification)})
	case models.NotifyChannelDiscord:
		err = n.post(ctx, n.config.DiscordWebhookURL, map[string]any{"content": text(notification)})
	case models.NotifyChannelEmail, "":
		err = n.sendEmail(ctx, notification)
	default:
		err = fmt.Errorf("%w: %s", ErrUnknownChannel, notification.Channel)
	}

	if err != nil {
		return fmt.Errorf("failed to notify via %s: %w", notification.Channel, err)
	}

	n.logger.DebugContext(ctx, "notification sent", "channel", notification.Channel, "subject", notification.Subject)

	return nil
}

func (n *Notifier) post(ctx context.Context, url string, body map[string]any) error {
	if url == "" {
		return ErrChannelNotConfigured
	}

	_, err := n.webhook.Post(ctx, url, nil, body)

	return err
}

func (n *Notifier) sendEmail(ctx context.Context, notification *models.Notification) error {
	if notification.To == "" {
		return ErrChannelNotConfigured
	}

	_, err := n.email.Send(ctx, &models.EmailMessage{
		To:             notification.To,
		FromName:       "Nurture",
		Subject:        notification.Subject,
		Text:           notification.Message,
		IdempotencyKey: notification.Key,
	})

	return err
}

func text(notification *models.Notification) string {
	if notification.Subject == "" {
		return notification.Message
	}

	return "*" + notification.Subject + "*\n" + notification.Message
}
