// Package validation implements step 9 of the Pipeline: structural and
// policy-driven validation of a trade capture request against its
// enriched working blotter.
package validation

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/rego"

	apperrors "github.com/srviswan/pb-synth-tradecapture-svc-sub000/internal/errors"
	"github.com/srviswan/pb-synth-tradecapture-svc-sub000/pkg/model"
)

// defaultPolicy is the compiled-in Rego module backing the step-9
// validation bundle: accounts must be open (i.e. present in the
// enrichment fields under "accountStatus"="OPEN") and the credit check
// field, when present, must not be "BREACH".
const defaultPolicy = `
package tradecapture.validation

default allow = false

violations[msg] {
	input.accountStatus != ""
	input.accountStatus != "OPEN"
	msg := sprintf("account %v is not open", [input.accountId])
}

violations[msg] {
	input.creditStatus == "BREACH"
	msg := sprintf("credit check breached for account %v", [input.accountId])
}

allow {
	count(violations) == 0
}
`

// Validator evaluates the compiled Rego policy bundle against a
// request's enrichment-derived facts, after first checking the
// request's own structural invariants.
type Validator struct {
	query rego.PreparedEvalQuery
}

// New compiles the default policy bundle. regoModule may be empty to
// use the built-in bundle, or supplied to override it at startup (e.g.
// loaded from a bundle store).
func New(ctx context.Context, regoModule string) (*Validator, error) {
	if regoModule == "" {
		regoModule = defaultPolicy
	}
	query, err := rego.New(
		rego.Query("data.tradecapture.validation"),
		rego.Module("validation.rego", regoModule),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile validation policy: %w", err)
	}
	return &Validator{query: query}, nil
}

// Validate runs the structural checks on the request, then evaluates
// the policy bundle against the working blotter's enrichment fields.
func (v *Validator) Validate(ctx context.Context, req *model.TradeCaptureRequest, enrichment map[string]string) error {
	if err := req.Validate(); err != nil {
		return apperrors.NewValidationError(err.Error())
	}

	input := map[string]interface{}{
		"accountId":     req.AccountID,
		"accountStatus": enrichment["accountStatus"],
		"creditStatus":  enrichment["creditStatus"],
	}

	results, err := v.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return apperrors.NewDependencyUnavailableError("validation policy", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return apperrors.NewValidationError("validation policy produced no result")
	}

	decision, ok := results[0].Expressions[0].Value.(map[string]interface{})
	if !ok {
		return apperrors.NewValidationError("validation policy result had unexpected shape")
	}
	if allow, _ := decision["allow"].(bool); allow {
		return nil
	}

	violations, _ := decision["violations"].([]interface{})
	if len(violations) > 0 {
		if msg, ok := violations[0].(string); ok {
			return apperrors.NewValidationError(msg)
		}
	}
	return apperrors.NewValidationError("request failed validation policy")
}
