package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"heirloom/internal/vault"
)

// Notifier hands a delivered item reference to the notification provider
// for recipient delivery. Called only after the conditional delivery write
// has committed, so implementations see each firing once.
type Notifier interface {
	NotifyDelivery(ctx context.Context, item vault.Item) error
}

// WebhookNotifier posts fired item references to the notification provider.
// With no URL configured it logs and reports success, which keeps minimal
// deployments delivering without a transport hooked up.
type WebhookNotifier struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

func NewWebhookNotifier(url string, logger *slog.Logger) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}
}

func (n *WebhookNotifier) NotifyDelivery(ctx context.Context, item vault.Item) error {
	if n.url == "" {
		n.logger.InfoContext(ctx, "item delivery handed off",
			"item_id", item.ID.String(),
			"owner_id", item.OwnerID.String(),
		)
		return nil
	}
	body, err := json.Marshal(map[string]string{
		"item_id":     item.ID.String(),
		"owner_id":    item.OwnerID.String(),
		"kind":        string(item.Kind),
		"content_ref": item.ContentRef,
	})
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("call webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
