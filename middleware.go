package x402

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
)

// PricingFunc resolves the payment requirement for one request. Dynamic
// pricing happens here, before the orchestrator runs, so the state
// machine only ever sees a fully resolved requirement.
type PricingFunc func(r *http.Request) (PaymentRequirement, error)

// StaticPricing returns a PricingFunc quoting the same requirement for
// every request.
func StaticPricing(req PaymentRequirement) PricingFunc {
	return func(*http.Request) (PaymentRequirement, error) {
		return req, nil
	}
}

// PaymentMiddleware is the reference net/http integration: it wraps a
// handler so every request must carry a verified, settled credential.
// Unpaid requests receive the 402 requirement body; facilitator
// infrastructure failures surface as 503, never as 402. On success the
// handler runs with the settlement in the request context and the
// X-PAYMENT-RESPONSE receipt header set.
func PaymentMiddleware(facilitator *FacilitatorClient, pricing PricingFunc, opts ...Option) func(http.Handler) http.Handler {
	if pricing == nil {
		panic("x402: pricing func is required")
	}
	cfg := newConfig(opts...)
	orchestrator := NewOrchestrator(facilitator, withClock(cfg.clock))
	skip := append([]string{ManifestPath}, cfg.skipPaths...)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skipPath(r.URL.Path, skip) {
				next.ServeHTTP(w, r)
				return
			}

			requirement, err := pricing(r)
			if err != nil {
				writeOutcomeError(w, NewConfigError(InvalidConfiguration, "unable to resolve payment requirement"))
				return
			}
			if err := requirement.Validate(); err != nil {
				writeOutcomeError(w, NewConfigError(InvalidConfiguration, err.Error()))
				return
			}

			outcome := orchestrator.Process(r.Context(), strings.TrimSpace(r.Header.Get(HeaderPayment)), requirement)
			if !outcome.Settled() {
				if outcome.Err.StatusCode() == http.StatusPaymentRequired {
					writePaymentRequired(w, requirement, outcome.Err.Code)
					return
				}
				writeOutcomeError(w, outcome.Err)
				return
			}

			setReceiptHeader(w, outcome.Settlement)
			next.ServeHTTP(w, r.WithContext(ContextWithSettlement(r.Context(), outcome.Settlement)))
		})
	}
}

func skipPath(path string, skip []string) bool {
	for _, prefix := range skip {
		if path == prefix || (strings.HasSuffix(prefix, "/") && strings.HasPrefix(path, prefix)) {
			return true
		}
	}
	return false
}

func setReceiptHeader(w http.ResponseWriter, settlement *SettlementResult) {
	receipt, err := json.Marshal(PaymentReceipt{
		Success:     true,
		Transaction: settlement.TransactionHash,
		Network:     settlement.Network,
	})
	if err != nil {
		return
	}
	w.Header().Set(HeaderPaymentResponse, base64.StdEncoding.EncodeToString(receipt))
}
