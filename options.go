package x402

import (
	"net/http"
	"time"
)

type config struct {
	httpClient *http.Client
	retry      RetryPolicy
	deriveKey  KeyDerivationFunc
	apiKey     string
	clock      func() time.Time
	skipPaths  []string
	webhook    *webhookConfig
}

func newConfig(opts ...Option) config {
	cfg := config{
		httpClient: &http.Client{},
		retry:      DefaultRetryPolicy(),
		deriveKey:  DeriveIdempotencyKey,
		clock:      time.Now,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}
	return cfg
}

// Option customizes client, middleware, and webhook behavior.
type Option func(*config)

// WithHTTPClient overrides the HTTP client used for facilitator calls
// and webhook deliveries.
func WithHTTPClient(client *http.Client) Option {
	if client == nil {
		panic("x402: http client must not be nil")
	}
	return func(cfg *config) {
		cfg.httpClient = client
	}
}

// WithRetryPolicy replaces the facilitator retry policy. Tests substitute
// deterministic policies here.
func WithRetryPolicy(policy RetryPolicy) Option {
	if policy.MaxRetries < 0 || policy.Timeout <= 0 {
		panic("x402: retry policy requires a positive timeout and non-negative retries")
	}
	return func(cfg *config) {
		cfg.retry = policy
	}
}

// WithKeyDerivation replaces the settlement idempotency key derivation.
func WithKeyDerivation(fn KeyDerivationFunc) Option {
	if fn == nil {
		panic("x402: key derivation func must not be nil")
	}
	return func(cfg *config) {
		cfg.deriveKey = fn
	}
}

// WithFacilitatorAPIKey sends the key as a bearer token on every
// facilitator call. Hosted facilitators require one.
func WithFacilitatorAPIKey(key string) Option {
	return func(cfg *config) {
		cfg.apiKey = key
	}
}

// WithSkipPaths lists request paths the middleware serves without
// requiring payment. The manifest path is always skipped.
func WithSkipPaths(paths ...string) Option {
	return func(cfg *config) {
		cfg.skipPaths = append(cfg.skipPaths, paths...)
	}
}

// WebhookOptions configures outbound settlement webhooks.
type WebhookOptions struct {
	// Endpoint receives the signed webhook POSTs.
	Endpoint string
	// SecretKey signs each payload; the merchant holds the same secret
	// to verify.
	SecretKey []byte
	// Client is the HTTP client for deliveries; defaults to the shared
	// configured client.
	Client *http.Client
}

type webhookConfig struct {
	endpoint string
	secret   []byte
	client   *http.Client
}

// WithWebhookOptions enables signed webhook delivery via [SendWebhook].
func WithWebhookOptions(opts WebhookOptions) Option {
	if opts.Endpoint == "" {
		panic("x402: webhook endpoint is required")
	}
	if len(opts.SecretKey) == 0 {
		panic("x402: webhook secret key is required")
	}
	return func(cfg *config) {
		client := opts.Client
		if client == nil {
			client = cfg.httpClient
		}
		cfg.webhook = &webhookConfig{
			endpoint: opts.Endpoint,
			secret:   opts.SecretKey,
			client:   client,
		}
	}
}

// withClock provides deterministic time in tests.
func withClock(fn func() time.Time) Option {
	return func(cfg *config) {
		cfg.clock = fn
	}
}
