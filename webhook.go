package x402

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shulam/x402-go/signature"
)

// WebhookEnvelope is an inbound webhook as received: the exact payload
// bytes (never a re-serialized form, which would change the signature
// input) and the raw signature header. The secret stays with the
// merchant and is never transmitted.
type WebhookEnvelope struct {
	PayloadBytes    []byte
	SignatureHeader string
}

// VerifyWebhookSignature reports whether the envelope's signature was
// computed over its exact payload bytes with the given secret. It is a
// predicate: malformed headers yield false, not distinguishable errors,
// and comparison time does not depend on where a mismatch occurs.
func VerifyWebhookSignature(payloadBytes []byte, signatureHeader string, secret []byte) bool {
	return signature.Verify(payloadBytes, signatureHeader, secret)
}

// Verify checks the envelope against the merchant's secret.
func (e WebhookEnvelope) Verify(secret []byte) bool {
	return VerifyWebhookSignature(e.PayloadBytes, e.SignatureHeader, secret)
}

// WebhookEventType enumerates the settlement webhook events.
type WebhookEventType string

const (
	WebhookEventTypeSettlementCompleted WebhookEventType = "settlement_completed"
	WebhookEventTypeSettlementFailed    WebhookEventType = "settlement_failed"
)

// EventData is implemented by webhook payloads.
type EventData interface {
	eventType() WebhookEventType
}

// SettlementCompleted is emitted after the facilitator finalizes a
// payment.
type SettlementCompleted struct {
	TransactionHash string    `json:"transactionHash"`
	NetAmount       string    `json:"netAmount"`
	FeeAmount       string    `json:"fee"`
	Network         string    `json:"network"`
	SettledAt       time.Time `json:"settledAt"`
}

func (SettlementCompleted) eventType() WebhookEventType { return WebhookEventTypeSettlementCompleted }

// SettlementFailed is emitted when a previously verified payment could
// not be settled.
type SettlementFailed struct {
	Reason  string `json:"reason"`
	Network string `json:"network"`
}

func (SettlementFailed) eventType() WebhookEventType { return WebhookEventTypeSettlementFailed }

type webhookEvent struct {
	Type WebhookEventType `json:"type"`
	Data any              `json:"data"`
}

// WebhookSender delivers signed settlement events to a merchant-facing
// endpoint. Configure it with [WithWebhookOptions].
type WebhookSender struct {
	cfg *webhookConfig
}

// NewWebhookSender builds a sender; [WithWebhookOptions] is mandatory.
func NewWebhookSender(opts ...Option) *WebhookSender {
	cfg := newConfig(opts...)
	if cfg.webhook == nil {
		panic("x402: webhook options must be configured")
	}
	return &WebhookSender{cfg: cfg.webhook}
}

// SendWebhook posts the event as JSON with the X-Shulam-Signature header
// computed over the exact request body bytes.
func (s *WebhookSender) SendWebhook(ctx context.Context, data EventData) error {
	if data == nil {
		return errors.New("x402: webhook event data is required")
	}
	body, err := json.Marshal(webhookEvent{
		Type: data.eventType(),
		Data: data,
	})
	if err != nil {
		return fmt.Errorf("x402: marshal webhook payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("x402: build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderWebhookSignature, signature.Sign(s.cfg.secret, body))

	resp, err := s.cfg.client.Do(req)
	if err != nil {
		return fmt.Errorf("x402: send webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("x402: webhook endpoint %s returned %s: %s", s.cfg.endpoint, resp.Status, strings.TrimSpace(string(snippet)))
	}
	return nil
}
