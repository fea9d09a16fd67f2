package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

// Notifier delivers a rendered message to a recipient on a channel.
type Notifier interface {
	Send(ctx context.Context, channel, recipient, message string) error
}

type ProviderConfig struct {
	Kind         string
	WebhookURL   string
	WebhookToken string
}

func NewNotifier(cfg ProviderConfig, logger *zap.Logger) Notifier {
	switch cfg.Kind {
	case "noop":
		return noopProvider{}
	case "fail":
		return failProvider{}
	case "webhook":
		if cfg.WebhookURL == "" {
			return logProvider{logger: logger}
		}
		return newWebhookProvider(cfg.WebhookURL, cfg.WebhookToken)
	case "", "log":
		if cfg.WebhookURL != "" {
			return newWebhookProvider(cfg.WebhookURL, cfg.WebhookToken)
		}
		return logProvider{logger: logger}
	default:
		if strings.HasPrefix(cfg.Kind, "http://") || strings.HasPrefix(cfg.Kind, "https://") {
			return newWebhookProvider(cfg.Kind, cfg.WebhookToken)
		}
		return logProvider{logger: logger}
	}
}

type logProvider struct {
	logger *zap.Logger
}

func (p logProvider) Send(ctx context.Context, channel, recipient, message string) error {
	p.logger.Info("notification",
		zap.String("channel", channel),
		zap.String("recipient", recipient),
		zap.String("message", message),
	)
	return nil
}

type noopProvider struct{}

func (noopProvider) Send(ctx context.Context, channel, recipient, message string) error {
	return nil
}

type failProvider struct{}

func (failProvider) Send(ctx context.Context, channel, recipient, message string) error {
	return errors.New("provider failure")
}

type webhookProvider struct {
	url    string
	token  string
	client *http.Client
}

func newWebhookProvider(url, token string) webhookProvider {
	return webhookProvider{
		url:   url,
		token: token,
		client: &http.Client{
			Timeout:   5 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

func (p webhookProvider) Send(ctx context.Context, channel, recipient, message string) error {
	payload := map[string]string{
		"channel":   channel,
		"recipient": recipient,
		"message":   message,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("provider rejected request: %d", resp.StatusCode)
	}
	return nil
}
