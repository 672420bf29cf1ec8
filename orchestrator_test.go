package x402

import (
	"context"
	"net/http"
	"testing"
	"time"
)

func encodeCredential(t *testing.T, c PaymentCredential) string {
	t.Helper()
	header, err := EncodeCredential(c)
	if err != nil {
		t.Fatalf("EncodeCredential() error = %v", err)
	}
	return header
}

func fixedClock() Option {
	return withClock(func() time.Time {
		return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	})
}

func newTestOrchestrator(t *testing.T, facilitator *fakeFacilitator) *Orchestrator {
	t.Helper()
	client := NewFacilitatorClient(facilitator.URL(), WithRetryPolicy(testRetryPolicy()))
	return NewOrchestrator(client, fixedClock())
}

func TestProcessNoCredentialEmits402(t *testing.T) {
	t.Parallel()

	facilitator := newFakeFacilitator(t)
	orchestrator := newTestOrchestrator(t, facilitator)

	outcome := orchestrator.Process(context.Background(), "", sampleRequirement())
	if outcome.Settled() {
		t.Fatal("unpaid request must not settle")
	}
	if outcome.Err.StatusCode() != http.StatusPaymentRequired {
		t.Fatalf("expected 402 got %d", outcome.Err.StatusCode())
	}
	if outcome.Err.Code != "" {
		t.Fatalf("missing credential carries no rejection reason, got %s", outcome.Err.Code)
	}
	if verify, settle := facilitator.counts(); verify != 0 || settle != 0 {
		t.Fatal("no facilitator calls expected without a credential")
	}
}

func TestProcessValidCredentialSettles(t *testing.T) {
	t.Parallel()

	facilitator := newFakeFacilitator(t)
	facilitator.verifyOutcome = VerificationOutcome{Verified: true}
	facilitator.settleResult = SettlementResult{
		TransactionHash: "0x1",
		FeeAmount:       "0.001",
		NetAmount:       "0.099",
		Network:         "base-sepolia",
	}
	orchestrator := newTestOrchestrator(t, facilitator)

	outcome := orchestrator.Process(context.Background(), encodeCredential(t, sampleCredential()), sampleRequirement())
	if !outcome.Settled() {
		t.Fatalf("expected settlement, got error %v", outcome.Err)
	}
	if outcome.Settlement.TransactionHash != "0x1" || outcome.Settlement.NetAmount != "0.099" {
		t.Fatalf("unexpected settlement %+v", outcome.Settlement)
	}
	if verify, settle := facilitator.counts(); verify != 1 || settle != 1 {
		t.Fatalf("expected exactly one verify and one settle, observed %d/%d", verify, settle)
	}
}

func TestProcessRejectedCredentialEmits402WithReason(t *testing.T) {
	t.Parallel()

	facilitator := newFakeFacilitator(t)
	facilitator.verifyOutcome = VerificationOutcome{Verified: false, Reason: "SignatureInvalid"}
	orchestrator := newTestOrchestrator(t, facilitator)

	outcome := orchestrator.Process(context.Background(), encodeCredential(t, sampleCredential()), sampleRequirement())
	if outcome.Settled() {
		t.Fatal("rejected credential must not settle")
	}
	if outcome.Err.Code != SignatureInvalid {
		t.Fatalf("expected SignatureInvalid got %s", outcome.Err.Code)
	}
	if outcome.Err.StatusCode() != http.StatusPaymentRequired {
		t.Fatalf("expected 402 got %d", outcome.Err.StatusCode())
	}
	if _, settle := facilitator.counts(); settle != 0 {
		t.Fatal("settle must never run after a failed verification")
	}
}

func TestProcessExpiredCredentialNeverReachesFacilitator(t *testing.T) {
	t.Parallel()

	facilitator := newFakeFacilitator(t)
	facilitator.verifyOutcome = VerificationOutcome{Verified: true}
	orchestrator := newTestOrchestrator(t, facilitator)

	expired := sampleCredential()
	expired.ValidBefore = time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC).Unix()

	notYet := sampleCredential()
	notYet.ValidAfter = time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC).Unix()
	notYet.ValidBefore = time.Date(2026, 3, 1, 14, 0, 0, 0, time.UTC).Unix()

	for name, credential := range map[string]PaymentCredential{"expired": expired, "not yet valid": notYet} {
		outcome := orchestrator.Process(context.Background(), encodeCredential(t, credential), sampleRequirement())
		if outcome.Settled() {
			t.Fatalf("%s credential must not settle", name)
		}
		if outcome.Err.Code != CredentialExpired {
			t.Fatalf("%s: expected CredentialExpired got %s", name, outcome.Err.Code)
		}
	}
	if verify, settle := facilitator.counts(); verify != 0 || settle != 0 {
		t.Fatal("window violations are rejected locally, before any facilitator call")
	}
}

func TestProcessRequirementMismatch(t *testing.T) {
	t.Parallel()

	facilitator := newFakeFacilitator(t)
	facilitator.verifyOutcome = VerificationOutcome{Verified: true}
	orchestrator := newTestOrchestrator(t, facilitator)

	t.Run("stale price", func(t *testing.T) {
		underpaid := sampleCredential()
		underpaid.Value = "0.05"
		outcome := orchestrator.Process(context.Background(), encodeCredential(t, underpaid), sampleRequirement())
		if outcome.Err == nil || outcome.Err.Code != RequirementMismatch {
			t.Fatalf("expected RequirementMismatch got %+v", outcome)
		}
	})

	t.Run("wrong recipient", func(t *testing.T) {
		misdirected := sampleCredential()
		misdirected.To = "0xDEAD00000000000000000000000000000000000F"
		outcome := orchestrator.Process(context.Background(), encodeCredential(t, misdirected), sampleRequirement())
		if outcome.Err == nil || outcome.Err.Code != RequirementMismatch {
			t.Fatalf("expected RequirementMismatch got %+v", outcome)
		}
	})

	t.Run("wrong scheme", func(t *testing.T) {
		wrongScheme := sampleCredential()
		wrongScheme.Scheme = "upto"
		outcome := orchestrator.Process(context.Background(), encodeCredential(t, wrongScheme), sampleRequirement())
		if outcome.Err == nil || outcome.Err.Code != RequirementMismatch {
			t.Fatalf("expected RequirementMismatch got %+v", outcome)
		}
	})

	t.Run("overpayment covers the price", func(t *testing.T) {
		generous := sampleCredential()
		generous.Value = "0.50"
		outcome := orchestrator.Process(context.Background(), encodeCredential(t, generous), sampleRequirement())
		if !outcome.Settled() {
			t.Fatalf("value above the price must be accepted, got %+v", outcome.Err)
		}
	})

	if _, settle := facilitator.counts(); settle != 1 {
		t.Fatalf("only the covering credential may settle, observed %d settles", settle)
	}
}

func TestProcessInfraFailureIsNot402(t *testing.T) {
	t.Parallel()

	facilitator := newFakeFacilitator(t)
	facilitator.verifyFailures = 10
	orchestrator := newTestOrchestrator(t, facilitator)

	outcome := orchestrator.Process(context.Background(), encodeCredential(t, sampleCredential()), sampleRequirement())
	if outcome.Settled() {
		t.Fatal("unreachable facilitator must not settle")
	}
	if outcome.Err.StatusCode() != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d", outcome.Err.StatusCode())
	}
	if outcome.Err.Code != FacilitatorUnreachable {
		t.Fatalf("expected FacilitatorUnreachable got %s", outcome.Err.Code)
	}
	if _, settle := facilitator.counts(); settle != 0 {
		t.Fatal("settle must never run when verification could not complete")
	}
}

func TestProcessVerifyRecoversWithinRetryBudget(t *testing.T) {
	t.Parallel()

	facilitator := newFakeFacilitator(t)
	facilitator.verifyFailures = 2
	facilitator.verifyOutcome = VerificationOutcome{Verified: true}
	facilitator.settleResult = SettlementResult{TransactionHash: "0x1"}
	orchestrator := newTestOrchestrator(t, facilitator)

	outcome := orchestrator.Process(context.Background(), encodeCredential(t, sampleCredential()), sampleRequirement())
	if !outcome.Settled() {
		t.Fatalf("expected settlement after retries, got %+v", outcome.Err)
	}
	if verify, _ := facilitator.counts(); verify != 3 {
		t.Fatalf("expected exactly 3 verify attempts, observed %d", verify)
	}
}
