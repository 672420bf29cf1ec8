package x402

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	canonicaljson "github.com/gibson042/canonicaljson-go"
	"github.com/google/uuid"
)

// RetryPolicy bounds the facilitator client's behavior on transport
// failures. Only network errors and exceeded deadlines are retried;
// explicit facilitator rejections are terminal.
type RetryPolicy struct {
	// MaxRetries is the number of additional attempts after the first.
	MaxRetries int
	// InitialBackoff is the delay before the first retry; it doubles on
	// each subsequent attempt.
	InitialBackoff time.Duration
	// Timeout bounds each individual attempt.
	Timeout time.Duration
}

// DefaultRetryPolicy matches the documented wire contract: three attempts
// total, 100ms doubling backoff, 5s per attempt.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:     2,
		InitialBackoff: 100 * time.Millisecond,
		Timeout:        5 * time.Second,
	}
}

// KeyDerivationFunc produces the settlement idempotency key for a
// credential and the requirement it was verified against.
type KeyDerivationFunc func(credential PaymentCredential, requirement PaymentRequirement) string

// DeriveIdempotencyKey is the default [KeyDerivationFunc]: the hex
// SHA-256 of the canonical JSON of the credential nonce plus the
// requirement's payTo, amount, and network. Deterministic in the nonce,
// so a retried settle reuses the key; scoped to the requirement, so the
// same nonce presented against a different price cannot collide.
func DeriveIdempotencyKey(credential PaymentCredential, requirement PaymentRequirement) string {
	input, err := canonicaljson.Marshal(map[string]string{
		"nonce":   credential.Nonce,
		"payTo":   requirement.PayTo,
		"amount":  requirement.Amount,
		"network": requirement.Network,
	})
	if err != nil {
		panic(fmt.Sprintf("x402: canonicalize idempotency input: %v", err))
	}
	sum := sha256.Sum256(input)
	return hex.EncodeToString(sum[:])
}

// FacilitatorClient is a typed RPC client for the remote verify and
// settle endpoints. It holds configuration only; outcomes are never
// cached client-side.
type FacilitatorClient struct {
	baseURL    string
	httpClient *http.Client
	retry      RetryPolicy
	deriveKey  KeyDerivationFunc
	apiKey     string
}

// NewFacilitatorClient builds a client for the facilitator at baseURL.
func NewFacilitatorClient(baseURL string, opts ...Option) *FacilitatorClient {
	cfg := newConfig(opts...)
	return &FacilitatorClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: cfg.httpClient,
		retry:      cfg.retry,
		deriveKey:  cfg.deriveKey,
		apiKey:     cfg.apiKey,
	}
}

// DeriveKey returns the settlement idempotency key for the pair using the
// configured derivation function.
func (c *FacilitatorClient) DeriveKey(credential PaymentCredential, requirement PaymentRequirement) string {
	return c.deriveKey(credential, requirement)
}

type verifyRequest struct {
	Credential  PaymentCredential  `json:"credential"`
	Requirement PaymentRequirement `json:"requirement"`
}

type settleRequest struct {
	Credential     PaymentCredential  `json:"credential"`
	Requirement    PaymentRequirement `json:"requirement"`
	IdempotencyKey string             `json:"idempotencyKey"`
}

type facilitatorErrorBody struct {
	Error string `json:"error"`
}

// Verify asks the facilitator whether the credential is valid for the
// requirement. A negative outcome is returned as a value, not an error;
// an error means the facilitator could not be consulted and must never be
// treated as "verified: false".
func (c *FacilitatorClient) Verify(ctx context.Context, credential PaymentCredential, requirement PaymentRequirement) (*VerificationOutcome, error) {
	body, err := json.Marshal(verifyRequest{Credential: credential, Requirement: requirement})
	if err != nil {
		return nil, fmt.Errorf("x402: marshal verify request: %w", err)
	}

	var outcome VerificationOutcome
	if err := c.post(ctx, "/verify", body, "", false, &outcome); err != nil {
		return nil, err
	}
	return &outcome, nil
}

// Settle executes the verified payment. Every attempt carries the same
// caller-supplied idempotency key, so a retry after a transient failure
// cannot double-settle. A non-2xx facilitator response is a terminal
// [SettlementRejected] and is not retried.
func (c *FacilitatorClient) Settle(ctx context.Context, credential PaymentCredential, requirement PaymentRequirement, idempotencyKey string) (*SettlementResult, error) {
	if idempotencyKey == "" {
		return nil, errors.New("x402: settle requires an idempotency key")
	}
	body, err := json.Marshal(settleRequest{
		Credential:     credential,
		Requirement:    requirement,
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		return nil, fmt.Errorf("x402: marshal settle request: %w", err)
	}

	var result SettlementResult
	if err := c.post(ctx, "/settle", body, idempotencyKey, true, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// post runs one facilitator RPC under the retry policy. Each attempt gets
// its own deadline and a fresh Request-Id; the Idempotency-Key header, if
// any, is identical across attempts. When detach is set, an attempt
// already in flight is allowed to finish even if ctx is canceled (the
// idempotency key, not the call count, is the unit of at-most-once), but
// no further attempt is issued for a dead caller.
func (c *FacilitatorClient) post(ctx context.Context, path string, body []byte, idempotencyKey string, detach bool, out any) error {
	attemptCtx := ctx
	if detach {
		attemptCtx = context.WithoutCancel(ctx)
	}
	backoff := c.retry.InitialBackoff
	var lastErr error

	for attempt := 0; attempt <= c.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return facilitatorUnreachable(path, ctx.Err())
			}
			backoff *= 2
		}

		err := c.attempt(attemptCtx, path, body, idempotencyKey, out)
		if err == nil {
			return nil
		}
		var httpErr *Error
		if errors.As(err, &httpErr) {
			// Explicit facilitator rejection; terminal.
			return err
		}
		lastErr = err
	}

	return facilitatorUnreachable(path, lastErr)
}

func (c *FacilitatorClient) attempt(ctx context.Context, path string, body []byte, idempotencyKey string, out any) error {
	attemptCtx, cancel := context.WithTimeout(ctx, c.retry.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("x402: build facilitator request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Request-Id", uuid.NewString())
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusInternalServerError {
		// Facilitator-side failure, not a decision about the payment;
		// retryable like any transport error.
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("facilitator %s returned %s: %s", path, resp.Status, strings.TrimSpace(string(snippet)))
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var rejection facilitatorErrorBody
		message := strings.TrimSpace(string(snippet))
		if err := json.Unmarshal(snippet, &rejection); err == nil && rejection.Error != "" {
			message = rejection.Error
		}
		code := SettlementRejected
		if path == "/verify" {
			code = VerificationRejected
		}
		return NewPaymentRequiredError(code, fmt.Sprintf("facilitator %s returned %s: %s", path, resp.Status, message))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("x402: decode facilitator %s response: %w", path, err)
	}
	return nil
}

func facilitatorUnreachable(path string, cause error) *Error {
	code := FacilitatorUnreachable
	if errors.Is(cause, context.DeadlineExceeded) {
		code = FacilitatorTimeout
	}
	message := fmt.Sprintf("facilitator %s unreachable after retries", path)
	if cause != nil {
		message = fmt.Sprintf("%s: %v", message, cause)
	}
	return NewFacilitatorUnavailableError(code, message, WithRetryAfter(5*time.Second))
}
