package service

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const (
	defaultHTTPStatusThreshold = 300
	defaultWebhookTimeout      = 5 * time.Second
)

type SecurityEventType string

const (
	EventPermissionDenied  SecurityEventType = "permission_denied"
	EventCSRFFailure       SecurityEventType = "csrf_failure"
	EventRefreshTokenReuse SecurityEventType = "refresh_token_reuse"
	EventInvalidToken      SecurityEventType = "invalid_token"
)

type SecurityEvent struct {
	Type       SecurityEventType `json:"type"`
	UserID     string            `json:"user_id,omitempty"`
	Path       string            `json:"path,omitempty"`
	Method     string            `json:"method,omitempty"`
	IPAddress  string            `json:"ip_address,omitempty"`
	UserAgent  string            `json:"user_agent,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

type SecurityEventNotifier interface {
	Notify(ctx context.Context, event SecurityEvent)
}

type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, SecurityEvent) {}

// WebhookService posts security events to an external receiver. Delivery is
// best effort and never blocks the request.
type WebhookService struct {
	client     *http.Client
	log        *zap.SugaredLogger
	webhookURL string
	signer     *WebhookVerifier
}

// NewWebhookService returns a notifier posting to webhookURL. When signer is
// not nil every payload carries an X-Webhook-Signature header.
func NewWebhookService(log *zap.SugaredLogger, webhookURL string, signer *WebhookVerifier) *WebhookService {
	return &WebhookService{
		client:     &http.Client{Timeout: defaultWebhookTimeout},
		log:        log,
		webhookURL: webhookURL,
		signer:     signer,
	}
}

func (s *WebhookService) Notify(ctx context.Context, event SecurityEvent) {
	if s.webhookURL == "" {
		return
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	// the request context is cancelled as soon as the handler returns
	ctx = context.WithoutCancel(ctx)

	go func() {
		payload, err := json.Marshal(event)
		if err != nil {
			s.log.Errorw("failed to marshal webhook payload", "error", err)
			return
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewBuffer(payload))
		if err != nil {
			s.log.Errorw("failed to create webhook request", "error", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")
		if s.signer != nil {
			req.Header.Set(SignatureHeader, s.signer.Sign(payload))
		}

		resp, err := s.client.Do(req)
		if err != nil {
			s.log.Errorw("failed to send webhook", "error", err, "event", event.Type)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode >= defaultHTTPStatusThreshold {
			s.log.Warnw("webhook returned non-2xx status", "status", resp.StatusCode, "event", event.Type)
		}
	}()
}
