package emergency

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// WebhookVerifier asks an external verification provider to start checking
// a request. With no URL configured it logs and reports success, which
// leaves requests parked in UnderVerification until an operator records an
// outcome.
type WebhookVerifier struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

func NewWebhookVerifier(url string, logger *slog.Logger) *WebhookVerifier {
	return &WebhookVerifier{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}
}

func (v *WebhookVerifier) RequestVerification(ctx context.Context, req Request) error {
	if v.url == "" {
		v.logger.InfoContext(ctx, "verification requested",
			"request_id", req.ID.String(),
			"target_owner_id", req.TargetOwnerID.String(),
		)
		return nil
	}
	return postJSON(ctx, v.client, v.url, map[string]string{
		"request_id":         req.ID.String(),
		"requester_id":       req.RequesterID.String(),
		"target_owner_id":    req.TargetOwnerID.String(),
		"relationship_claim": req.RelationshipClaim,
		"evidence_ref":       req.EvidenceRef,
	})
}

// WebhookNotifier tells the notification provider to reach the target owner
// about a verified request. Unlike the verifier, a missing URL still
// reports success: the waiting period must open even in minimal deployments.
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

func (n *WebhookNotifier) NotifyOwner(ctx context.Context, req Request) error {
	if n.url == "" {
		n.logger.InfoContext(ctx, "owner notified of verified request",
			"request_id", req.ID.String(),
			"target_owner_id", req.TargetOwnerID.String(),
		)
		return nil
	}
	return postJSON(ctx, n.client, n.url, map[string]string{
		"request_id":      req.ID.String(),
		"requester_id":    req.RequesterID.String(),
		"target_owner_id": req.TargetOwnerID.String(),
	})
}

func postJSON(ctx context.Context, client *http.Client, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("call webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
