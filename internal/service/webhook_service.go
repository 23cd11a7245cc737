package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/oklog/ulid/v2"
	svix "github.com/svix/svix-webhooks/go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/jmylchreest/ledger-api/internal/ledger"
	"github.com/jmylchreest/ledger-api/internal/version"
)

// Standard Webhooks header names.
const (
	HeaderWebhookID        = "webhook-id"
	HeaderWebhookTimestamp = "webhook-timestamp"
	HeaderWebhookSignature = "webhook-signature"
)

// WebhookConfig configures delivery.
type WebhookConfig struct {
	// SigningKey is the raw HMAC key payloads are signed with.
	SigningKey []byte
	Timeout    time.Duration
	Retries    int
	// Backoff is multiplied by attempt squared between retries.
	Backoff time.Duration
}

// WebhookService delivers payment notifications to the webhook URL stored on
// a payment.
type WebhookService struct {
	logger  *slog.Logger
	client  *http.Client
	signer  *svix.Webhook
	retries int
	backoff time.Duration
}

// NewWebhookService creates a new webhook service.
func NewWebhookService(cfg WebhookConfig, logger *slog.Logger) (*WebhookService, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Retries == 0 {
		cfg.Retries = 3
	}
	if cfg.Backoff == 0 {
		cfg.Backoff = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	signer, err := svix.NewWebhookRaw(cfg.SigningKey)
	if err != nil {
		return nil, fmt.Errorf("invalid webhook signing key: %w", err)
	}

	return &WebhookService{
		logger:  logger.With("component", "webhooks"),
		client:  &http.Client{Timeout: cfg.Timeout},
		signer:  signer,
		retries: cfg.Retries,
		backoff: cfg.Backoff,
	}, nil
}

// Deliver POSTs the payment to its webhook URL and returns the last HTTP
// status received. A transport failure on every attempt returns 0 and the
// last error; a non-2xx status returns that status and a *WebhookError.
func (s *WebhookService) Deliver(ctx context.Context, p *ledger.Payment) (int, error) {
	ctx, span := otel.Tracer("github.com/jmylchreest/ledger-api/internal/service").Start(ctx, "webhooks.deliver")
	defer span.End()
	span.SetAttributes(
		attribute.String("payment.wallet", p.Wallet),
		attribute.String("payment.checking_id", p.CheckingID),
	)

	body, err := json.Marshal(p)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal payment: %w", err)
	}

	// One message id for every attempt, so receivers can drop duplicates.
	msgID := "msg_" + ulid.Make().String()

	var (
		status  int
		lastErr error
	)
	for attempt := 0; attempt < s.retries; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, time.Duration(attempt*attempt)*s.backoff); err != nil {
				lastErr = err
				break
			}
		}

		status, err = s.post(ctx, p.Webhook, msgID, body)
		if err != nil {
			lastErr = err
			s.logger.Warn("delivery failed", "url", p.Webhook, "attempt", attempt+1, "error", err)
			continue
		}

		if status >= 200 && status < 300 {
			s.logger.Info("delivered", "url", p.Webhook, "checking_id", p.CheckingID, "status", status)
			span.SetAttributes(attribute.Int("http.status_code", status))
			return status, nil
		}

		lastErr = &WebhookError{StatusCode: status}
		s.logger.Warn("non-success status", "url", p.Webhook, "status", status, "attempt", attempt+1)
	}

	span.RecordError(lastErr)
	span.SetStatus(codes.Error, "webhook delivery failed")
	s.logger.Error("delivery failed after retries", "url", p.Webhook, "checking_id", p.CheckingID, "error", lastErr)
	return status, lastErr
}

func (s *WebhookService) post(ctx context.Context, url, msgID string, body []byte) (int, error) {
	now := time.Now()
	signature, err := s.signer.Sign(msgID, now, body)
	if err != nil {
		return 0, fmt.Errorf("failed to sign payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.Get().UserAgent("Ledger-Webhook"))
	req.Header.Set(HeaderWebhookID, msgID)
	req.Header.Set(HeaderWebhookTimestamp, strconv.FormatInt(now.Unix(), 10))
	req.Header.Set(HeaderWebhookSignature, signature)

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	_ = resp.Body.Close()
	return resp.StatusCode, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// WebhookError represents a webhook delivery error.
type WebhookError struct {
	StatusCode int
}

func (e *WebhookError) Error() string {
	return "webhook delivery failed with status: " + http.StatusText(e.StatusCode)
}
