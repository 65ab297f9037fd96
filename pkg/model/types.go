// Package model defines the domain entities that flow through the trade
// capture ingestion pipeline: the immutable inbound request, the durable
// idempotency and partition-state records, the published SwapBlotter, and
// the supporting enums and value objects every component (C1-C14) shares.
package model

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// requestValidator enforces the struct-tag invariants below; registered
// once so the compiled tag cache is shared across every call, per the
// library's own concurrency contract.
var requestValidator = newRequestValidator()

func newRequestValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("nofuture", func(fl validator.FieldLevel) bool {
		t, ok := fl.Field().Interface().(time.Time)
		if !ok || t.IsZero() {
			return true
		}
		return !t.After(time.Now())
	})
	// isinshape: a securityId is "claimed as ISIN" when it is exactly 12
	// characters long (the ISIN-12 shape); such values must then be
	// alphanumeric. Any other length is a different identifier scheme
	// (CUSIP, SEDOL, ticker, ...) and is exempt.
	_ = v.RegisterValidation("isinshape", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		if len(s) != 12 {
			return true
		}
		for _, r := range s {
			if !(r >= 'A' && r <= 'Z' || r >= 'a' && r <= 'z' || r >= '0' && r <= '9') {
				return false
			}
		}
		return true
	})
	// Report violations by this type's JSON tag rather than its Go field
	// name, so a validation error names the field the caller actually sent.
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return field.Name
		}
		return name
	})
	return v
}

// TradeSource distinguishes automated feed submissions from manually
// entered trades, which the RulesEngine (C5) routes through approval.
type TradeSource string

const (
	SourceAutomated TradeSource = "AUTOMATED"
	SourceManual    TradeSource = "MANUAL"
)

// TradeLot is one fill/lot within a TradeCaptureRequest.
type TradeLot struct {
	Quantity float64 `json:"qty"`
	Price    float64 `json:"price"`
}

// ManualEntry records who keyed a manual trade and when, present only when
// Source is SourceManual.
type ManualEntry struct {
	User      string    `json:"user"`
	Timestamp time.Time `json:"timestamp"`
}

// TradeCaptureRequest is the immutable inbound payload carried on the
// ingress topic and per-partition sub-topics (§6).
type TradeCaptureRequest struct {
	TradeID           string            `json:"tradeId" validate:"required"`
	IdempotencyKey    string            `json:"idempotencyKey,omitempty"`
	AccountID         string            `json:"accountId" validate:"required"`
	BookID            string            `json:"bookId" validate:"required"`
	SecurityID        string            `json:"securityId" validate:"required,isinshape"`
	Source            TradeSource       `json:"source"`
	TradeDate         time.Time         `json:"tradeDate" validate:"nofuture"`
	BookingTimestamp  time.Time         `json:"bookingTimestamp"`
	SequenceNumber    *int64            `json:"sequenceNumber,omitempty"`
	TradeLots         []TradeLot        `json:"tradeLots" validate:"required,min=1"`
	CounterpartyIDs   []string          `json:"counterpartyIds" validate:"required,min=1"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	ManualEntry       *ManualEntry      `json:"manualEntry,omitempty"`
}

// PartitionKey derives the stable partition key for a request, per §3:
// concat(accountId, "_", bookId, "_", securityId). The same tradeId must
// always derive the same key across retries.
func (r *TradeCaptureRequest) PartitionKey() string {
	return r.AccountID + "_" + r.BookID + "_" + r.SecurityID
}

// IdempotencyRecordKey returns the IdempotencyKey if present, else the TradeID,
// per the §3 IdempotencyRecord key derivation.
func (r *TradeCaptureRequest) IdempotencyRecordKey() string {
	if r.IdempotencyKey != "" {
		return r.IdempotencyKey
	}
	return r.TradeID
}

// SanitizePartitionKey replaces any character outside [A-Za-z0-9_/-] with
// "_", per the IngressRouter (C9) contract.
func SanitizePartitionKey(key string) string {
	var b strings.Builder
	b.Grow(len(key))
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '_', r == '/', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// IdempotencyStatus is the lifecycle of an IdempotencyRecord (§3).
type IdempotencyStatus string

const (
	IdempotencyProcessing IdempotencyStatus = "PROCESSING"
	IdempotencyCompleted  IdempotencyStatus = "COMPLETED"
	IdempotencyFailed     IdempotencyStatus = "FAILED"
)

// IdempotencyRecord is the durable dedup record for C2.
type IdempotencyRecord struct {
	Key          string            `json:"key" db:"key"`
	PartitionKey string            `json:"partitionKey" db:"partition_key"`
	Status       IdempotencyStatus `json:"status" db:"status"`
	ResultRef    string            `json:"resultRef,omitempty" db:"result_ref"`
	PayloadHash  string            `json:"payloadHash" db:"payload_hash"`
	FailReason   string            `json:"failReason,omitempty" db:"fail_reason"`
	CreatedAt    time.Time         `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time         `json:"updatedAt" db:"updated_at"`
	ExpiresAt    time.Time         `json:"expiresAt" db:"expires_at"`
}

// PositionState is the CDM-style lifecycle state of a partition (§3).
type PositionState string

const (
	StateExecuted  PositionState = "Executed"
	StateFormed    PositionState = "Formed"
	StateSettled   PositionState = "Settled"
	StateCancelled PositionState = "Cancelled"
	StateClosed    PositionState = "Closed"
)

// transitionDAG enumerates every legal PositionState edge (§3). An empty
// "from" represents the initial creation edge into Executed.
var transitionDAG = map[PositionState]map[PositionState]bool{
	"":              {StateExecuted: true},
	StateExecuted:   {StateFormed: true, StateCancelled: true, StateClosed: true},
	StateFormed:     {StateSettled: true, StateClosed: true},
	StateSettled:    {StateClosed: true},
	StateCancelled:  {StateClosed: true},
}

// IsLegalTransition reports whether from→to is an edge of the §3 DAG.
func IsLegalTransition(from, to PositionState) bool {
	edges, ok := transitionDAG[from]
	if !ok {
		return false
	}
	return edges[to]
}

// PartitionState is the durable, version-guarded per-partition state
// record mutated only under the C1 partition lock (§3).
type PartitionState struct {
	PartitionKey       string        `json:"partitionKey" db:"partition_key"`
	PositionState      PositionState `json:"positionState" db:"position_state"`
	StateBlob          []byte        `json:"stateBlob,omitempty" db:"state_blob"`
	LastSequenceNumber int64         `json:"lastSequenceNumber" db:"last_sequence_number"`
	Version            int64         `json:"version" db:"version"`
}

// EnrichmentStatus reports how completely C6 populated reference data.
type EnrichmentStatus string

const (
	EnrichmentComplete EnrichmentStatus = "COMPLETE"
	EnrichmentPartial  EnrichmentStatus = "PARTIAL"
	EnrichmentFailed   EnrichmentStatus = "FAILED"
	EnrichmentPending  EnrichmentStatus = "PENDING"
)

// WorkflowStatus is set by WORKFLOW rules during RulesEngine evaluation.
type WorkflowStatus string

const (
	WorkflowApproved        WorkflowStatus = "APPROVED"
	WorkflowPendingApproval WorkflowStatus = "PENDING_APPROVAL"
	WorkflowRejected        WorkflowStatus = "REJECTED"
)

// PayoutKind tags which payout variant a Payout carries (§3, §9 tagged
// variant guidance in place of inheritance/dynamic dispatch).
type PayoutKind string

const (
	PayoutPerformance PayoutKind = "PERFORMANCE"
	PayoutInterest    PayoutKind = "INTEREST"
)

// PerformancePayout models an equity/index performance leg.
type PerformancePayout struct {
	UnderlierID   string  `json:"underlierId"`
	InitialPrice  float64 `json:"initialPrice"`
	NotionalAmount float64 `json:"notionalAmount"`
}

// InterestPayout models a floating/fixed interest leg.
type InterestPayout struct {
	RateIndex    string  `json:"rateIndex"`
	Spread       float64 `json:"spread"`
	NotionalAmount float64 `json:"notionalAmount"`
}

// Payout is a tagged variant of {PerformancePayout | InterestPayout}: at
// most one of Performance/Interest is populated, selected by Kind.
type Payout struct {
	Kind        PayoutKind         `json:"kind"`
	Performance *PerformancePayout `json:"performance,omitempty"`
	Interest    *InterestPayout    `json:"interest,omitempty"`
}

// ContractEconomicTerms holds the effective/termination dates and ordered
// payout legs of the SwapBlotter's contract (§3).
type ContractEconomicTerms struct {
	EffectiveDate   time.Time `json:"effectiveDate"`
	TerminationDate time.Time `json:"terminationDate"`
	Payouts         []Payout  `json:"payouts"`
}

// Contract wraps the identifiers, taxonomy, and economic terms of a
// SwapBlotter (§3).
type Contract struct {
	Identifiers   map[string]string     `json:"identifiers"`
	Taxonomy      string                `json:"taxonomy"`
	EconomicTerms ContractEconomicTerms `json:"economicTerms"`
}

// ProcessingMetadata records the provenance of a SwapBlotter (§3).
type ProcessingMetadata struct {
	ProcessedAt       time.Time `json:"processedAt"`
	ElapsedMillis     int64     `json:"elapsedMillis"`
	RulesApplied      []string  `json:"rulesApplied"`
	EnrichmentSources []string  `json:"enrichmentSources"`
}

// SwapBlotter is the immutable, write-once output of the Pipeline (§3).
type SwapBlotter struct {
	TradeID            string             `json:"tradeId"`
	PartitionKey       string             `json:"partitionKey"`
	TradeLots          []TradeLot         `json:"tradeLots"`
	Contract           Contract           `json:"contract"`
	State              PositionState      `json:"state"`
	EnrichmentStatus   EnrichmentStatus   `json:"enrichmentStatus"`
	WorkflowStatus     WorkflowStatus     `json:"workflowStatus"`
	ProcessingMetadata ProcessingMetadata `json:"processingMetadata"`
}

// JobState is the lifecycle of an async job row (§3, C14).
type JobState string

const (
	JobPending    JobState = "PENDING"
	JobProcessing JobState = "PROCESSING"
	JobCompleted  JobState = "COMPLETED"
	JobFailed     JobState = "FAILED"
	JobCancelled  JobState = "CANCELLED"
)

// jobTransitionDAG enumerates the legal JobState edges (C14).
var jobTransitionDAG = map[JobState]map[JobState]bool{
	JobPending:    {JobProcessing: true, JobCancelled: true},
	JobProcessing: {JobCompleted: true, JobFailed: true},
}

// IsLegalJobTransition reports whether from→to is a legal C14 edge.
func IsLegalJobTransition(from, to JobState) bool {
	edges, ok := jobTransitionDAG[from]
	return ok && edges[to]
}

// JobStatus tracks an async /trades/capture submission end-to-end (§3).
type JobStatus struct {
	JobID       string    `json:"jobId" db:"job_id"`
	TradeID     string    `json:"tradeId" db:"trade_id"`
	Status      JobState  `json:"status" db:"status"`
	Progress    int       `json:"progress" db:"progress"`
	ResultRef   string    `json:"result,omitempty" db:"result_ref"`
	Error       string    `json:"error,omitempty" db:"error"`
	CallbackURL string    `json:"callbackUrl,omitempty" db:"callback_url"`
	CreatedAt   time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time `json:"updatedAt" db:"updated_at"`
}

// BufferedMessage is a transient, per-partition entry held by the
// SequenceGate (C3) while awaiting its contiguous predecessor.
type BufferedMessage struct {
	PartitionKey   string
	SequenceNumber int64
	Payload        *TradeCaptureRequest
	ArrivalTime    time.Time
}

// RuleType selects which evaluation pass (C5) a Rule belongs to. Order is
// fixed: Economic, then NonEconomic, then Workflow.
type RuleType string

const (
	RuleEconomic    RuleType = "ECONOMIC"
	RuleNonEconomic RuleType = "NON_ECONOMIC"
	RuleWorkflow    RuleType = "WORKFLOW"
)

// Operator is a criterion comparison operator evaluated by the RulesEngine.
type Operator string

const (
	OpEquals      Operator = "EQUALS"
	OpNotEquals   Operator = "NOT_EQUALS"
	OpGreaterThan Operator = "GREATER_THAN"
	OpLessThan    Operator = "LESS_THAN"
	OpContains    Operator = "CONTAINS"
	OpIn          Operator = "IN"
)

// Criterion is one field/operator/value test a Rule's criteria set
// ANDs together before its actions apply.
type Criterion struct {
	Field    string      `json:"field"`
	Operator Operator    `json:"operator"`
	Value    interface{} `json:"value"`
}

// Action sets a target field on the working SwapBlotter when a Rule's
// criteria all match.
type Action struct {
	TargetField string      `json:"targetField"`
	Value       interface{} `json:"value"`
}

// Rule is a runtime-configurable matching rule (§3, C5), sourced from the
// config seed and overridable via the admin REST API.
type Rule struct {
	ID        string      `json:"id"`
	RuleType  RuleType    `json:"ruleType"`
	Priority  int         `json:"priority"`
	Enabled   bool        `json:"enabled"`
	Criteria  []Criterion `json:"criteria"`
	Actions   []Action    `json:"actions"`
	Version   int64       `json:"version"`
}

// Validate checks the §7 step-9 structural invariants against a request,
// returning the first violation found.
func (r *TradeCaptureRequest) Validate() error {
	if err := requestValidator.Struct(r); err != nil {
		if fieldErrs, ok := err.(validator.ValidationErrors); ok && len(fieldErrs) > 0 {
			return fmt.Errorf("%s failed %q validation", fieldErrs[0].Field(), fieldErrs[0].Tag())
		}
		return err
	}
	return nil
}
