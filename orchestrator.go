package x402

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"
)

// Outcome is the single terminal result of processing one request:
// exactly one of Settlement or Err is set. Adapters place the settlement
// wherever their framework conventions expect and translate Err via its
// status code (402 for payment rejections, 5xx for facilitator
// infrastructure failures).
type Outcome struct {
	Settlement *SettlementResult
	Err        *Error
}

// Settled reports whether the request may be forwarded to the protected
// handler.
func (o *Outcome) Settled() bool {
	return o != nil && o.Settlement != nil
}

// Orchestrator classifies one request at a time: no credential emits a
// 402, a decodable credential is verified and then settled against the
// facilitator. It holds no state across requests; concurrent use needs
// no locking.
type Orchestrator struct {
	facilitator *FacilitatorClient
	clock       func() time.Time
}

// NewOrchestrator builds an orchestrator around the facilitator client.
func NewOrchestrator(facilitator *FacilitatorClient, opts ...Option) *Orchestrator {
	if facilitator == nil {
		panic("x402: facilitator client is required")
	}
	cfg := newConfig(opts...)
	return &Orchestrator{
		facilitator: facilitator,
		clock:       cfg.clock,
	}
}

// Process runs the request classification machine for one request.
// rawHeader is the X-PAYMENT header value, empty when absent; requirement
// must already be resolved to concrete values (dynamic pricing happens
// before this point). The orchestrator never calls settle unless verify
// accepted the credential against the current requirement.
func (o *Orchestrator) Process(ctx context.Context, rawHeader string, requirement PaymentRequirement) *Outcome {
	if rawHeader == "" {
		return &Outcome{Err: NewPaymentRequiredError("", "payment required")}
	}

	credential, err := DecodeCredentialHeader(rawHeader)
	if err != nil {
		return outcomeFromError(err)
	}

	if rejection := o.checkAgainstRequirement(*credential, requirement); rejection != nil {
		return &Outcome{Err: rejection}
	}

	outcome, err := o.facilitator.Verify(ctx, *credential, requirement)
	if err != nil {
		return outcomeFromError(err)
	}
	if !outcome.Verified {
		reason := ErrorCode(outcome.Reason)
		if reason == "" {
			reason = VerificationRejected
		}
		return &Outcome{Err: NewPaymentRequiredError(reason, "facilitator rejected the payment credential")}
	}

	key := o.facilitator.DeriveKey(*credential, requirement)
	settlement, err := o.facilitator.Settle(ctx, *credential, requirement, key)
	if err != nil {
		return outcomeFromError(err)
	}

	return &Outcome{Settlement: settlement}
}

// checkAgainstRequirement runs the local, deterministic rejections that
// need no facilitator round trip. The merchant's current requirement is
// authoritative: a credential minted against a stale price is rejected
// even if the facilitator would accept it.
func (o *Orchestrator) checkAgainstRequirement(credential PaymentCredential, requirement PaymentRequirement) *Error {
	if credential.Scheme != SchemeExact {
		return NewPaymentRequiredError(RequirementMismatch, fmt.Sprintf("unsupported payment scheme %q", credential.Scheme))
	}
	if !credential.ValidAt(o.clock()) {
		return NewPaymentRequiredError(CredentialExpired, "payment credential is outside its validity window")
	}
	if credential.To != requirement.PayTo {
		return NewPaymentRequiredError(RequirementMismatch, "payment credential recipient does not match the current requirement")
	}
	if !amountCovers(credential.Value, requirement.Amount) {
		return NewPaymentRequiredError(RequirementMismatch, "payment credential value does not cover the current price")
	}
	return nil
}

// amountCovers compares two fixed-point decimal strings without floating
// point. Both inputs have already matched the decimal pattern.
func amountCovers(value, required string) bool {
	v, okV := new(big.Rat).SetString(value)
	r, okR := new(big.Rat).SetString(required)
	if !okV || !okR {
		return false
	}
	return v.Cmp(r) >= 0
}

func outcomeFromError(err error) *Outcome {
	var httpErr *Error
	if errors.As(err, &httpErr) {
		return &Outcome{Err: httpErr}
	}
	return &Outcome{Err: NewFacilitatorUnavailableError(FacilitatorUnreachable, err.Error())}
}
