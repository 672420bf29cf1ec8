// Package x402 implements the merchant side of the x402 payment protocol:
// require proof of payment over HTTP before serving a resource.
//
// # Middleware
//
// Use [PaymentMiddleware] to protect a handler. Requests without an
// X-PAYMENT header receive a 402 Payment Required response carrying a
// machine-readable [PaymentRequirement]. Requests bearing a credential are
// verified and settled against a remote facilitator via
// [FacilitatorClient]; on success the handler runs with the
// [SettlementResult] attached to the request context (see
// [SettlementFromContext]).
//
// # Orchestrator
//
// Framework adapters that cannot use net/http middleware can drive
// [Orchestrator.Process] directly: it takes the raw header value plus the
// resolved requirement and returns a single [Outcome], either a
// settlement or a typed [Error] whose status code distinguishes payment
// rejections (402) from facilitator infrastructure failures (5xx).
//
// # Manifest
//
// [ManifestBuilder] collects protected route registrations and publishes
// the /.well-known/x402-manifest.json capability manifest, so automated
// buyers can discover prices before paying. [ValidateManifest] checks a
// serialized manifest and reports every violation found.
//
// # Webhooks
//
// Facilitator webhooks are authenticated with an HMAC-SHA256 digest over
// the exact payload bytes in the X-Shulam-Signature header; verify them
// with [github.com/shulam/x402-go/signature.Verify].
package x402
