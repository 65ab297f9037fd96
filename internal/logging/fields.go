// Package logging builds structured zap fields shared across the ingestion
// pipeline's components, plus a logger factory driven by internal/config.
package logging

import (
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Fields is a chainable builder for structured log fields, collected as a
// plain map so call sites can merge, test, and forward them without
// depending on zap directly.
type Fields map[string]interface{}

// NewFields returns an empty Fields builder.
func NewFields() Fields {
	return Fields{}
}

func (f Fields) Component(name string) Fields {
	f["component"] = name
	return f
}

func (f Fields) Operation(op string) Fields {
	f["operation"] = op
	return f
}

func (f Fields) Resource(resourceType, resourceName string) Fields {
	f["resource_type"] = resourceType
	if resourceName != "" {
		f["resource_name"] = resourceName
	}
	return f
}

func (f Fields) Duration(d time.Duration) Fields {
	f["duration_ms"] = d.Milliseconds()
	return f
}

func (f Fields) Error(err error) Fields {
	if err != nil {
		f["error"] = err.Error()
	}
	return f
}

func (f Fields) RequestID(id string) Fields {
	if id != "" {
		f["request_id"] = id
	}
	return f
}

func (f Fields) TraceID(id string) Fields {
	if id != "" {
		f["trace_id"] = id
	}
	return f
}

func (f Fields) StatusCode(code int) Fields {
	f["status_code"] = code
	return f
}

func (f Fields) Method(method string) Fields {
	f["method"] = method
	return f
}

func (f Fields) URL(url string) Fields {
	f["url"] = url
	return f
}

func (f Fields) Count(n int) Fields {
	f["count"] = n
	return f
}

func (f Fields) Size(bytes int64) Fields {
	f["size_bytes"] = bytes
	return f
}

func (f Fields) Version(v string) Fields {
	f["version"] = v
	return f
}

func (f Fields) Custom(key string, value interface{}) Fields {
	f[key] = value
	return f
}

// PartitionKey tags the C1-derived partition key a log line concerns.
func (f Fields) PartitionKey(key string) Fields {
	if key != "" {
		f["partition_key"] = key
	}
	return f
}

// TradeID tags the trade identifier a log line concerns.
func (f Fields) TradeID(id string) Fields {
	if id != "" {
		f["trade_id"] = id
	}
	return f
}

// Sequence tags the per-partition sequence number a log line concerns.
func (f Fields) Sequence(seq int64) Fields {
	f["sequence"] = seq
	return f
}

// ToZap renders the builder as a slice of zap.Field for passing to a
// zap.Logger call.
func (f Fields) ToZap() []zap.Field {
	out := make([]zap.Field, 0, len(f))
	for k, v := range f {
		out = append(out, zap.Any(k, v))
	}
	return out
}

// DatabaseFields builds the standard field set for a durable-store call.
func DatabaseFields(operation, table string) Fields {
	return NewFields().Component("database").Operation(operation).Resource("table", table)
}

// HTTPFields builds the standard field set for a REST façade request.
func HTTPFields(method, url string, statusCode int) Fields {
	return NewFields().Component("http").Method(method).URL(url).StatusCode(statusCode)
}

// PartitionFields builds the standard field set for partition-lock and
// state-machine operations (C1/C4).
func PartitionFields(operation, partitionKey string) Fields {
	return NewFields().Component("partition").Operation(operation).PartitionKey(partitionKey)
}

// TradeFields builds the standard field set for trade-lot ingestion
// operations (C2/C3).
func TradeFields(operation, tradeID string) Fields {
	return NewFields().Component("trade").Operation(operation).TradeID(tradeID)
}

// RulesFields builds the standard field set for rules-engine evaluation
// (C5).
func RulesFields(operation, ruleID string) Fields {
	return NewFields().Component("rules").Operation(operation).Resource("rule", ruleID)
}

// PublishFields builds the standard field set for SwapBlotter fan-out
// publishing (C8).
func PublishFields(operation, subscriber string) Fields {
	return NewFields().Component("publisher").Operation(operation).Resource("subscriber", subscriber)
}

// MetricsFields builds the standard field set for a metric emission.
func MetricsFields(operation, metricName string, value float64) Fields {
	return NewFields().Component("metrics").Operation(operation).Custom("metric_name", metricName).Custom("value", value)
}

// SecurityFields builds the standard field set for auth/authz events.
func SecurityFields(operation, subject string) Fields {
	return NewFields().Component("security").Operation(operation).Custom("subject", subject)
}

// PerformanceFields builds the standard field set for a timed operation.
func PerformanceFields(operation string, d time.Duration, success bool) Fields {
	return NewFields().Component("performance").Operation(operation).Duration(d).Custom("success", success)
}

// NewLogger builds a zap.Logger from the given level ("debug"/"info"/
// "warn"/"error") and format ("json"/"console").
func NewLogger(level, format string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.Set(level); err != nil {
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	if format == "console" {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
