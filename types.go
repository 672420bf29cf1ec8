package x402

import (
	"regexp"
	"time"
)

// Protocol constants shared by the codec, middleware, and manifest.
const (
	// SchemeExact is the only authorization scheme this module accepts.
	SchemeExact = "exact"

	// HeaderPayment carries the inbound base64url payment credential.
	HeaderPayment = "X-PAYMENT"

	// HeaderPaymentResponse carries the base64 settlement receipt on
	// successful responses.
	HeaderPaymentResponse = "X-PAYMENT-RESPONSE"

	// HeaderWebhookSignature carries the HMAC digest on facilitator
	// webhooks.
	HeaderWebhookSignature = "X-Shulam-Signature"

	// ManifestVersion is the capability manifest schema version.
	ManifestVersion = "1.0"

	// ManifestPath is the well-known route the manifest is served on.
	ManifestPath = "/.well-known/x402-manifest.json"
)

var (
	amountPattern  = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)
	addressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{4,64}$`)
)

// PaymentRequirement describes what a protected endpoint demands. It is
// immutable once constructed for a given request; dynamically priced
// routes build a fresh value per request before the orchestrator runs.
type PaymentRequirement struct {
	// Amount is the price as a non-negative fixed-point decimal string,
	// e.g. "0.10".
	Amount string `json:"maxAmountRequired" validate:"required,amount"`
	// PayTo is the chain address funds must be sent to.
	PayTo string `json:"payTo" validate:"required,chain_address"`
	// Asset identifies the settlement asset, e.g. a stablecoin contract.
	Asset string `json:"asset" validate:"required"`
	// Network is the chain identifier, e.g. "base-sepolia".
	Network string `json:"network" validate:"required"`
	// Description explains what the payment buys.
	Description string `json:"description"`
	// RateLimit is an advisory requests-per-minute limit, 0 if unset.
	RateLimit int `json:"rateLimit,omitempty" validate:"omitempty,gt=0"`
	// TTLSeconds bounds how long a quoted requirement stays payable.
	TTLSeconds int `json:"ttlSeconds,omitempty" validate:"omitempty,gt=0"`
}

// Validate checks the requirement against the wire contract so malformed
// merchant configuration is caught before a 402 is ever emitted.
func (r PaymentRequirement) Validate() error {
	if err := validate.Struct(r); err != nil {
		return normalizeValidationError(err)
	}
	return nil
}

// PaymentCredential is the decoded X-PAYMENT header: a signed
// authorization proving the payer's intent to pay a specific amount.
type PaymentCredential struct {
	Scheme string `json:"scheme"`
	// From is the payer's chain address.
	From string `json:"from"`
	// To is the recipient the payer authorized.
	To string `json:"to"`
	// Value is the authorized amount as a decimal string.
	Value string `json:"value"`
	// ValidAfter and ValidBefore bound the validity window, Unix seconds.
	ValidAfter  int64 `json:"validAfter"`
	ValidBefore int64 `json:"validBefore"`
	// Nonce is the replay-prevention token; the settlement idempotency
	// key is derived from it.
	Nonce string `json:"nonce"`
	// Signature is the payer's raw authorization signature.
	Signature []byte `json:"signature"`
}

// ValidAt reports whether the credential's window contains t.
func (c PaymentCredential) ValidAt(t time.Time) bool {
	now := t.Unix()
	return c.ValidAfter < now && now < c.ValidBefore
}

// VerificationOutcome is the facilitator's answer to a verify call.
// Reason is set iff Verified is false and holds a taxonomy code.
type VerificationOutcome struct {
	Verified bool   `json:"verified"`
	Reason   string `json:"reason,omitempty"`
}

// SettlementResult is the facilitator's receipt for an accepted
// credential. It is produced at most once per idempotency key; the
// TransactionHash is a durable external reference the merchant may
// persist.
type SettlementResult struct {
	TransactionHash string    `json:"transactionHash"`
	FeeAmount       string    `json:"fee"`
	NetAmount       string    `json:"netAmount"`
	Network         string    `json:"network"`
	SettledAt       time.Time `json:"settledAt"`
}

// PaymentRequiredResponse is the 402 response body. Error is present only
// when a presented credential was rejected.
type PaymentRequiredResponse struct {
	MaxAmountRequired string `json:"maxAmountRequired"`
	PayTo             string `json:"payTo"`
	Asset             string `json:"asset"`
	Network           string `json:"network"`
	Description       string `json:"description"`
	Error             string `json:"error,omitempty"`
}

// PaymentReceipt is the X-PAYMENT-RESPONSE header payload set after a
// successful settlement.
type PaymentReceipt struct {
	Success     bool   `json:"success"`
	Transaction string `json:"transaction,omitempty"`
	Network     string `json:"network,omitempty"`
	Payer       string `json:"payer,omitempty"`
}
