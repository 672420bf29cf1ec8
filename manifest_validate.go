package x402

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Severity ranks a manifest validation issue.
type Severity string

const (
	SeverityError   Severity = "error"   // Schema violation; the manifest must not be served.
	SeverityWarning Severity = "warning" // Advisory; buyers may still consume the manifest.
)

// ValidationIssue is one finding against a serialized manifest.
type ValidationIssue struct {
	FieldPath string   `json:"fieldPath"`
	Reason    string   `json:"reason"`
	Severity  Severity `json:"severity"`
}

// String renders the issue for log lines and error messages.
func (i ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s %s", i.Severity, i.FieldPath, i.Reason)
}

// ValidationReport lists every issue found in a manifest, not just the
// first, so a merchant can fix a broken manifest in one pass.
type ValidationReport struct {
	Issues []ValidationIssue `json:"issues"`
}

// Valid reports whether the manifest is free of error-severity issues.
// Warnings do not invalidate a manifest.
func (r *ValidationReport) Valid() bool {
	for _, issue := range r.Issues {
		if issue.Severity == SeverityError {
			return false
		}
	}
	return true
}

// Errors returns only the error-severity issues.
func (r *ValidationReport) Errors() []ValidationIssue {
	var out []ValidationIssue
	for _, issue := range r.Issues {
		if issue.Severity == SeverityError {
			out = append(out, issue)
		}
	}
	return out
}

func (r *ValidationReport) addError(fieldPath, reason string) {
	r.Issues = append(r.Issues, ValidationIssue{FieldPath: fieldPath, Reason: reason, Severity: SeverityError})
}

func (r *ValidationReport) addWarning(fieldPath, reason string) {
	r.Issues = append(r.Issues, ValidationIssue{FieldPath: fieldPath, Reason: reason, Severity: SeverityWarning})
}

// ValidateManifest parses and checks a serialized manifest against the
// schema. It reports every violation found: schema failures and duplicate
// (path, method) pairs are errors, a missing optional rateLimit is a
// warning.
func ValidateManifest(manifestBytes []byte) *ValidationReport {
	report := &ValidationReport{}

	var manifest X402Manifest
	dec := json.NewDecoder(bytes.NewReader(manifestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&manifest); err != nil {
		report.addError("$", fmt.Sprintf("manifest is not a valid JSON document: %v", err))
		return report
	}
	if dec.More() {
		report.addError("$", "manifest contains trailing data")
		return report
	}

	if err := validate.Struct(manifest); err != nil {
		var validationErrs validator.ValidationErrors
		if errors.As(err, &validationErrs) {
			for _, fe := range validationErrs {
				report.addError(jsonPath(fe), validationMessage(fe))
			}
		} else {
			report.addError("$", err.Error())
		}
	}

	seen := make(map[string]int)
	for i, endpoint := range manifest.Endpoints {
		fieldPath := fmt.Sprintf("endpoints[%d]", i)
		key := endpoint.Method + " " + endpoint.Path
		if first, dup := seen[key]; dup {
			report.addError(fieldPath, fmt.Sprintf("duplicates (path, method) of endpoints[%d]", first))
		} else {
			seen[key] = i
		}

		checkPricing(report, fieldPath, endpoint.Pricing)

		if endpoint.RateLimit == 0 {
			report.addWarning(fieldPath+".rateLimit", "no rate limit declared")
		}
	}

	return report
}

func checkPricing(report *ValidationReport, fieldPath string, pricing Pricing) {
	discriminator, err := pricing.Discriminator()
	if err != nil {
		report.addError(fieldPath+".pricing", "pricing must be a JSON object with a type field")
		return
	}
	switch discriminator {
	case PricingTypeStatic:
		static, err := pricing.AsPricingStatic()
		if err != nil || !amountPattern.MatchString(static.Amount) {
			report.addError(fieldPath+".pricing.amount", "must be a non-negative fixed-point decimal string")
		}
	case PricingTypeDynamic:
		dynamic, err := pricing.AsPricingDynamic()
		if err != nil || !amountPattern.MatchString(dynamic.RepresentativeAmount) {
			report.addError(fieldPath+".pricing.representativeAmount", "must be a non-negative fixed-point decimal string")
		}
	default:
		report.addError(fieldPath+".pricing.type", fmt.Sprintf("must be one of [%s, %s]", PricingTypeStatic, PricingTypeDynamic))
	}
}
