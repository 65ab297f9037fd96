package restapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/srviswan/pb-synth-tradecapture-svc-sub000/internal/errors"
	"github.com/srviswan/pb-synth-tradecapture-svc-sub000/pkg/model"
)

var ruleTypesByPath = map[string]model.RuleType{
	"economic":     model.RuleEconomic,
	"non-economic": model.RuleNonEconomic,
	"workflow":     model.RuleWorkflow,
}

// putRule implements POST /rules/{economic|non-economic|workflow}. A
// written rule shadows any config-seeded rule sharing its id until
// deleted, per the config-vs-admin-API precedence decision (DESIGN.md).
func (h *handler) putRule(w http.ResponseWriter, r *http.Request) {
	ruleType, ok := ruleTypesByPath[chi.URLParam(r, "ruleType")]
	if !ok {
		writeError(w, apperrors.NewValidationError("ruleType must be economic, non-economic, or workflow"))
		return
	}

	var rule model.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeError(w, apperrors.NewValidationError("malformed rule body"))
		return
	}
	if rule.ID == "" {
		writeError(w, apperrors.NewValidationError("rule id is required"))
		return
	}
	rule.RuleType = ruleType

	h.deps.Rules.Put(rule)
	writeJSON(w, http.StatusCreated, rule)
}

// deleteRule implements DELETE /rules/{id}.
func (h *handler) deleteRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.deps.Rules.Delete(id) {
		writeError(w, apperrors.NewNotFoundError("rule "+id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
