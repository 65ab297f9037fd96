// Package rulesengine implements C5: ordered evaluation of economic,
// non-economic, and workflow rule sets against an in-flight
// TradeCaptureRequest and the working SwapBlotter being assembled.
package rulesengine

import (
	"context"
	"fmt"
	"reflect"
	"sort"

	"go.uber.org/zap"

	"github.com/srviswan/pb-synth-tradecapture-svc-sub000/internal/logging"
	"github.com/srviswan/pb-synth-tradecapture-svc-sub000/pkg/model"
)

// evaluationOrder is fixed per §4.5: economic rules may not depend on
// workflow outcomes, so they always run first.
var evaluationOrder = []model.RuleType{model.RuleEconomic, model.RuleNonEconomic, model.RuleWorkflow}

// Source supplies the current rule set. The config-seed loader and the
// admin REST API both implement it; the admin copy takes precedence per
// rule id once written (see DESIGN.md Open Question decisions).
type Source interface {
	Rules(ctx context.Context) ([]model.Rule, error)
}

// Engine evaluates a Source's rule set against a working SwapBlotter.
// Readers snapshot the rule set at the start of Evaluate so a concurrent
// admin-API mutation never breaks an in-flight evaluation (§4.5).
type Engine struct {
	source Source
	logger *zap.Logger
}

func New(source Source, logger *zap.Logger) *Engine {
	return &Engine{source: source, logger: logger}
}

// Evaluate applies every enabled rule, in fixed set order and ascending
// priority (ties broken by id), mutating blotter in place and returning
// the ordered list of applied rule ids for processingMetadata.
func (e *Engine) Evaluate(ctx context.Context, req *model.TradeCaptureRequest, blotter *model.SwapBlotter) ([]string, error) {
	rules, err := e.source.Rules(ctx)
	if err != nil {
		return nil, err
	}

	bySet := make(map[model.RuleType][]model.Rule)
	for _, r := range rules {
		if !r.Enabled {
			continue
		}
		bySet[r.RuleType] = append(bySet[r.RuleType], r)
	}
	for _, set := range bySet {
		sortRules(set)
	}

	var applied []string
	for _, ruleType := range evaluationOrder {
		for _, rule := range bySet[ruleType] {
			if !matches(rule.Criteria, req, blotter) {
				continue
			}
			for _, action := range rule.Actions {
				if err := apply(blotter, action); err != nil {
					return applied, err
				}
			}
			applied = append(applied, rule.ID)
			e.logger.Debug("rule applied",
				logging.RulesFields("apply", rule.ID).Custom("ruleType", ruleType).ToZap()...)
		}
	}
	return applied, nil
}

func sortRules(rules []model.Rule) {
	sort.Slice(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority < rules[j].Priority
		}
		return rules[i].ID < rules[j].ID
	})
}

// matches reports whether every criterion in the set holds (AND), per
// §4.5. Fields are looked up from the request first, then the working
// blotter's processingMetadata and workflowStatus, since workflow rules
// may inspect fields produced by earlier sets.
func matches(criteria []model.Criterion, req *model.TradeCaptureRequest, blotter *model.SwapBlotter) bool {
	for _, c := range criteria {
		if !matchOne(c, req, blotter) {
			return false
		}
	}
	return true
}

func matchOne(c model.Criterion, req *model.TradeCaptureRequest, blotter *model.SwapBlotter) bool {
	actual, ok := fieldValue(c.Field, req, blotter)
	if !ok {
		return false
	}
	switch c.Operator {
	case model.OpEquals:
		return reflect.DeepEqual(actual, c.Value)
	case model.OpNotEquals:
		return !reflect.DeepEqual(actual, c.Value)
	case model.OpGreaterThan:
		af, aok := toFloat(actual)
		bf, bok := toFloat(c.Value)
		return aok && bok && af > bf
	case model.OpLessThan:
		af, aok := toFloat(actual)
		bf, bok := toFloat(c.Value)
		return aok && bok && af < bf
	case model.OpContains:
		s, ok := actual.(string)
		sub, ok2 := c.Value.(string)
		return ok && ok2 && containsSubstring(s, sub)
	case model.OpIn:
		values, ok := c.Value.([]interface{})
		if !ok {
			return false
		}
		for _, v := range values {
			if reflect.DeepEqual(actual, v) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// fieldValue resolves a dotted field path against the request first,
// falling back to the working blotter.
func fieldValue(field string, req *model.TradeCaptureRequest, blotter *model.SwapBlotter) (interface{}, bool) {
	switch field {
	case "accountId":
		return req.AccountID, true
	case "bookId":
		return req.BookID, true
	case "securityId":
		return req.SecurityID, true
	case "source":
		return string(req.Source), true
	case "counterpartyIds":
		return req.CounterpartyIDs, true
	case "workflowStatus":
		return string(blotter.WorkflowStatus), true
	case "enrichmentStatus":
		return string(blotter.EnrichmentStatus), true
	case "state":
		return string(blotter.State), true
	default:
		return nil, false
	}
}

// apply sets the action's target field on the working blotter. Only the
// fields the RulesEngine is specified to drive (§4.5, §4.7 step 8) are
// writable; an unknown target is a configuration error surfaced to the
// caller rather than silently ignored.
func apply(blotter *model.SwapBlotter, action model.Action) error {
	switch action.TargetField {
	case "workflowStatus":
		status, ok := action.Value.(string)
		if !ok {
			return fmt.Errorf("rulesengine: workflowStatus action value must be a string")
		}
		blotter.WorkflowStatus = model.WorkflowStatus(status)
	case "taxonomy":
		s, ok := action.Value.(string)
		if !ok {
			return fmt.Errorf("rulesengine: taxonomy action value must be a string")
		}
		blotter.Contract.Taxonomy = s
	default:
		return fmt.Errorf("rulesengine: unknown action target field %q", action.TargetField)
	}
	return nil
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func containsSubstring(s, sub string) bool {
	return len(sub) == 0 || (len(s) >= len(sub) && indexOf(s, sub) >= 0)
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}
