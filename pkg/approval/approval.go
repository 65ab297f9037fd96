// Package approval implements the step-10 workflow-approval policy: an
// external collaborator referenced only by the decision it returns, per
// the non-goal that approval services are specified solely by the
// methods the core invokes.
package approval

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/rego"

	apperrors "github.com/srviswan/pb-synth-tradecapture-svc-sub000/internal/errors"
	"github.com/srviswan/pb-synth-tradecapture-svc-sub000/pkg/model"
)

// defaultPolicy approves any blotter whose rules evaluation already
// marked it APPROVED, rejects anything the rules engine explicitly
// rejected, and otherwise defers the decision (PENDING_APPROVAL stays
// pending until a human approves out of band).
const defaultPolicy = `
package tradecapture.approval

default decision = "PENDING_APPROVAL"

decision = "APPROVED" {
	input.workflowStatus == "APPROVED"
}

decision = "REJECTED" {
	input.workflowStatus == "REJECTED"
}
`

// Service decides the workflow outcome for a blotter awaiting approval,
// per §4.7 step 10.
type Service interface {
	Decide(ctx context.Context, blotter *model.SwapBlotter) (model.WorkflowStatus, error)
}

// OPAService evaluates a compiled Rego policy to make the call.
type OPAService struct {
	query rego.PreparedEvalQuery
}

func New(ctx context.Context, regoModule string) (*OPAService, error) {
	if regoModule == "" {
		regoModule = defaultPolicy
	}
	query, err := rego.New(
		rego.Query("data.tradecapture.approval.decision"),
		rego.Module("approval.rego", regoModule),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile approval policy: %w", err)
	}
	return &OPAService{query: query}, nil
}

func (s *OPAService) Decide(ctx context.Context, blotter *model.SwapBlotter) (model.WorkflowStatus, error) {
	input := map[string]interface{}{
		"workflowStatus": string(blotter.WorkflowStatus),
		"partitionKey":   blotter.PartitionKey,
	}

	results, err := s.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return "", apperrors.NewDependencyUnavailableError("approval policy", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return model.WorkflowPendingApproval, nil
	}

	decision, _ := results[0].Expressions[0].Value.(string)
	switch decision {
	case string(model.WorkflowApproved):
		return model.WorkflowApproved, nil
	case string(model.WorkflowRejected):
		return model.WorkflowRejected, nil
	default:
		return model.WorkflowPendingApproval, nil
	}
}
