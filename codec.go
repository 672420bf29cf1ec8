package x402

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// BuildRequirementResponse serializes a requirement into the 402 body.
// errCode is the taxonomy reason for a rejected credential, or empty when
// no credential was presented. The input originates from validated
// configuration, so marshaling cannot fail.
func BuildRequirementResponse(req PaymentRequirement, errCode ErrorCode) []byte {
	body, err := json.Marshal(PaymentRequiredResponse{
		MaxAmountRequired: req.Amount,
		PayTo:             req.PayTo,
		Asset:             req.Asset,
		Network:           req.Network,
		Description:       req.Description,
		Error:             string(errCode),
	})
	if err != nil {
		panic(fmt.Sprintf("x402: marshal requirement response: %v", err))
	}
	return body
}

// EncodeCredential renders a credential as an X-PAYMENT header value:
// unpadded base64url over the JSON payload. Buyers and tests use it; it
// is the exact inverse of [DecodeCredentialHeader].
func EncodeCredential(c PaymentCredential) (string, error) {
	payload, err := json.Marshal(credentialWire{
		Scheme:      c.Scheme,
		From:        c.From,
		To:          c.To,
		Value:       c.Value,
		ValidAfter:  &c.ValidAfter,
		ValidBefore: &c.ValidBefore,
		Nonce:       c.Nonce,
		Signature:   base64.RawURLEncoding.EncodeToString(c.Signature),
	})
	if err != nil {
		return "", fmt.Errorf("x402: marshal credential: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(payload), nil
}

// credentialWire is the JSON shape inside the X-PAYMENT header. The
// timestamps are pointers so a missing field is distinguishable from an
// explicit zero.
type credentialWire struct {
	Scheme      string `json:"scheme"`
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  *int64 `json:"validAfter"`
	ValidBefore *int64 `json:"validBefore"`
	Nonce       string `json:"nonce"`
	Signature   string `json:"signature"`
}

// DecodeCredentialHeader parses an attacker-controlled X-PAYMENT header
// value. It is pure: no network, no side effects. Failures carry distinct
// codes: [MalformedEncoding] for invalid base64url, [MalformedPayload]
// for bytes that are not the expected JSON document, and [MissingField]
// for a payload lacking any required field or carrying one of the wrong
// type.
func DecodeCredentialHeader(rawHeaderValue string) (*PaymentCredential, error) {
	payload, err := base64.RawURLEncoding.DecodeString(rawHeaderValue)
	if err != nil {
		// Tolerate padded input from clients using standard base64url.
		payload, err = base64.URLEncoding.DecodeString(rawHeaderValue)
		if err != nil {
			return nil, NewPaymentRequiredError(MalformedEncoding, "payment header is not valid base64url")
		}
	}

	var wire credentialWire
	dec := json.NewDecoder(bytes.NewReader(payload))
	if err := dec.Decode(&wire); err != nil {
		return nil, NewPaymentRequiredError(MalformedPayload, "payment header does not contain the expected JSON payload")
	}
	if dec.More() {
		return nil, NewPaymentRequiredError(MalformedPayload, "payment header contains trailing data")
	}

	missing := firstMissingField(wire)
	if missing != "" {
		return nil, NewPaymentRequiredError(MissingField, fmt.Sprintf("payment credential field %q is missing or empty", missing))
	}
	if !amountPattern.MatchString(wire.Value) {
		return nil, NewPaymentRequiredError(MissingField, "payment credential field \"value\" must be a decimal string")
	}
	sig, err := base64.RawURLEncoding.DecodeString(wire.Signature)
	if err != nil {
		return nil, NewPaymentRequiredError(MissingField, "payment credential field \"signature\" must be base64url bytes")
	}

	return &PaymentCredential{
		Scheme:      wire.Scheme,
		From:        wire.From,
		To:          wire.To,
		Value:       wire.Value,
		ValidAfter:  *wire.ValidAfter,
		ValidBefore: *wire.ValidBefore,
		Nonce:       wire.Nonce,
		Signature:   sig,
	}, nil
}

func firstMissingField(wire credentialWire) string {
	switch {
	case wire.Scheme == "":
		return "scheme"
	case wire.From == "":
		return "from"
	case wire.To == "":
		return "to"
	case wire.Value == "":
		return "value"
	case wire.ValidAfter == nil:
		return "validAfter"
	case wire.ValidBefore == nil:
		return "validBefore"
	case wire.Nonce == "":
		return "nonce"
	case wire.Signature == "":
		return "signature"
	}
	return ""
}
