package x402

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"

	canonicaljson "github.com/gibson042/canonicaljson-go"
	"github.com/oapi-codegen/runtime"
)

// PricingStatic prices an endpoint at a fixed amount.
type PricingStatic struct {
	Type   string `json:"type"`
	Amount string `json:"amount"`
}

// PricingDynamic flags an endpoint whose price is computed per request.
// RepresentativeAmount is a typical quote so buyers can budget.
type PricingDynamic struct {
	Type                 string `json:"type"`
	RepresentativeAmount string `json:"representativeAmount"`
}

// Pricing union values for the type discriminator.
const (
	PricingTypeStatic  = "static"
	PricingTypeDynamic = "dynamic"
)

// Pricing is the static-or-dynamic union published per manifest endpoint.
type Pricing struct {
	union json.RawMessage
}

// AsPricingStatic returns the union data inside the Pricing as a PricingStatic
func (t Pricing) AsPricingStatic() (PricingStatic, error) {
	var body PricingStatic
	err := json.Unmarshal(t.union, &body)
	return body, err
}

// FromPricingStatic overwrites any union data inside the Pricing as the provided PricingStatic
func (t *Pricing) FromPricingStatic(v PricingStatic) error {
	v.Type = PricingTypeStatic
	b, err := json.Marshal(v)
	t.union = b
	return err
}

// MergePricingStatic performs a merge with any union data inside the Pricing, using the provided PricingStatic
func (t *Pricing) MergePricingStatic(v PricingStatic) error {
	v.Type = PricingTypeStatic
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}

	merged, err := runtime.JSONMerge(t.union, b)
	t.union = merged
	return err
}

// AsPricingDynamic returns the union data inside the Pricing as a PricingDynamic
func (t Pricing) AsPricingDynamic() (PricingDynamic, error) {
	var body PricingDynamic
	err := json.Unmarshal(t.union, &body)
	return body, err
}

// FromPricingDynamic overwrites any union data inside the Pricing as the provided PricingDynamic
func (t *Pricing) FromPricingDynamic(v PricingDynamic) error {
	v.Type = PricingTypeDynamic
	b, err := json.Marshal(v)
	t.union = b
	return err
}

// MergePricingDynamic performs a merge with any union data inside the Pricing, using the provided PricingDynamic
func (t *Pricing) MergePricingDynamic(v PricingDynamic) error {
	v.Type = PricingTypeDynamic
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}

	merged, err := runtime.JSONMerge(t.union, b)
	t.union = merged
	return err
}

// Discriminator returns the pricing type discriminator value.
func (t Pricing) Discriminator() (string, error) {
	var discriminator struct {
		Type string `json:"type"`
	}
	err := json.Unmarshal(t.union, &discriminator)
	return discriminator.Type, err
}

// MarshalJSON serializes the underlying union for Pricing.
func (t Pricing) MarshalJSON() ([]byte, error) {
	b, err := t.union.MarshalJSON()
	return b, err
}

// UnmarshalJSON loads union data for Pricing.
func (t *Pricing) UnmarshalJSON(b []byte) error {
	err := t.union.UnmarshalJSON(b)
	return err
}

// ManifestEndpoint describes one payable route: the requirement fields
// denormalized next to the route so buyers need no second lookup.
type ManifestEndpoint struct {
	Path        string  `json:"path" validate:"required,startswith=/"`
	Method      string  `json:"method" validate:"required,http_method"`
	Pricing     Pricing `json:"pricing"`
	PayTo       string  `json:"payTo" validate:"required,chain_address"`
	Asset       string  `json:"asset" validate:"required"`
	Network     string  `json:"network" validate:"required"`
	Description string  `json:"description"`
	RateLimit   int     `json:"rateLimit,omitempty" validate:"omitempty,gt=0"`
	TTLSeconds  int     `json:"ttlSeconds,omitempty" validate:"omitempty,gt=0"`
}

// X402Manifest is the machine-readable capability manifest served at
// /.well-known/x402-manifest.json. No two endpoints share (path, method).
type X402Manifest struct {
	Version   string             `json:"version" validate:"required,eq=1.0"`
	Provider  string             `json:"provider" validate:"required"`
	Endpoints []ManifestEndpoint `json:"endpoints" validate:"required,min=1,dive"`
}

// MarshalCanonical renders the manifest as canonical JSON so repeated
// publishes of the same manifest are byte-identical.
func (m *X402Manifest) MarshalCanonical() ([]byte, error) {
	return canonicaljson.Marshal(m)
}

// ManifestBuilder accumulates protected route registrations and produces
// manifests. Registration is not concurrency-safe against itself; callers
// serialize rebuilds and hand the result to [ManifestHandler.Publish].
type ManifestBuilder struct {
	endpoints []ManifestEndpoint
	seen      map[string]struct{}
}

// NewManifestBuilder returns an empty builder.
func NewManifestBuilder() *ManifestBuilder {
	return &ManifestBuilder{seen: make(map[string]struct{})}
}

// Register adds a statically priced route. Registering the same
// (path, method) twice is a configuration error, not an overwrite.
func (b *ManifestBuilder) Register(method, path string, req PaymentRequirement) error {
	return b.add(method, path, req, false)
}

// RegisterDynamic adds a route whose price is computed per request; req
// carries the representative amount shown in the manifest.
func (b *ManifestBuilder) RegisterDynamic(method, path string, req PaymentRequirement) error {
	return b.add(method, path, req, true)
}

func (b *ManifestBuilder) add(method, path string, req PaymentRequirement, dynamic bool) error {
	if err := req.Validate(); err != nil {
		return NewConfigError(InvalidConfiguration, fmt.Sprintf("invalid requirement for %s %s: %v", method, path, err))
	}
	key := method + " " + path
	if _, dup := b.seen[key]; dup {
		return NewConfigError(DuplicateEndpoint, fmt.Sprintf("endpoint %s %s registered twice", method, path))
	}

	var pricing Pricing
	var err error
	if dynamic {
		err = pricing.FromPricingDynamic(PricingDynamic{RepresentativeAmount: req.Amount})
	} else {
		err = pricing.FromPricingStatic(PricingStatic{Amount: req.Amount})
	}
	if err != nil {
		return fmt.Errorf("x402: encode pricing for %s %s: %w", method, path, err)
	}

	b.seen[key] = struct{}{}
	b.endpoints = append(b.endpoints, ManifestEndpoint{
		Path:        path,
		Method:      method,
		Pricing:     pricing,
		PayTo:       req.PayTo,
		Asset:       req.Asset,
		Network:     req.Network,
		Description: req.Description,
		RateLimit:   req.RateLimit,
		TTLSeconds:  req.TTLSeconds,
	})
	return nil
}

// Build produces a manifest from the registrations in registration order.
func (b *ManifestBuilder) Build(providerName string) (*X402Manifest, error) {
	if providerName == "" {
		return nil, NewConfigError(InvalidConfiguration, "manifest provider name is required")
	}
	if len(b.endpoints) == 0 {
		return nil, NewConfigError(InvalidConfiguration, "manifest requires at least one registered endpoint")
	}
	endpoints := make([]ManifestEndpoint, len(b.endpoints))
	copy(endpoints, b.endpoints)
	return &X402Manifest{
		Version:   ManifestVersion,
		Provider:  providerName,
		Endpoints: endpoints,
	}, nil
}

type publishedManifest struct {
	body []byte
}

// ManifestHandler serves the currently published manifest. Publishing
// swaps the whole manifest atomically, so concurrent readers never see a
// partial update; until the first publish it answers 404.
type ManifestHandler struct {
	current atomic.Pointer[publishedManifest]
}

// NewManifestHandler returns a handler with nothing published yet.
func NewManifestHandler() *ManifestHandler {
	return &ManifestHandler{}
}

// Publish validates and atomically swaps in a new manifest.
func (h *ManifestHandler) Publish(m *X402Manifest) error {
	body, err := m.MarshalCanonical()
	if err != nil {
		return fmt.Errorf("x402: marshal manifest: %w", err)
	}
	if report := ValidateManifest(body); !report.Valid() {
		return NewConfigError(InvalidConfiguration, fmt.Sprintf("manifest failed validation: %s", report.Issues[0]))
	}
	h.current.Store(&publishedManifest{body: body})
	return nil
}

// ServeHTTP satisfies http.Handler.
func (h *ManifestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	published := h.current.Load()
	if published == nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(published.body)
}
