package logging

import (
	"errors"
	"testing"
	"time"
)

func TestNewFields(t *testing.T) {
	fields := NewFields()
	if fields == nil {
		t.Fatal("NewFields() returned nil")
	}
	if len(fields) != 0 {
		t.Errorf("NewFields() should be empty, got %d fields", len(fields))
	}
}

func TestStandardFields_Component(t *testing.T) {
	fields := NewFields().Component("test-component")

	if fields["component"] != "test-component" {
		t.Errorf("Component() = %v, want %v", fields["component"], "test-component")
	}
}

func TestStandardFields_Resource(t *testing.T) {
	fields := NewFields().Resource("partition", "US-10Y-BANKA")

	if fields["resource_type"] != "partition" {
		t.Errorf("Resource() resource_type = %v, want %v", fields["resource_type"], "partition")
	}
	if fields["resource_name"] != "US-10Y-BANKA" {
		t.Errorf("Resource() resource_name = %v, want %v", fields["resource_name"], "US-10Y-BANKA")
	}
}

func TestStandardFields_ResourceWithoutName(t *testing.T) {
	fields := NewFields().Resource("partition", "")

	if _, exists := fields["resource_name"]; exists {
		t.Error("Resource() should not set resource_name when empty")
	}
}

func TestStandardFields_Duration(t *testing.T) {
	fields := NewFields().Duration(150 * time.Millisecond)

	if fields["duration_ms"] != int64(150) {
		t.Errorf("Duration() = %v, want %v", fields["duration_ms"], int64(150))
	}
}

func TestStandardFields_Error(t *testing.T) {
	err := errors.New("test error")
	fields := NewFields().Error(err)

	if fields["error"] != "test error" {
		t.Errorf("Error() = %v, want %v", fields["error"], "test error")
	}
}

func TestStandardFields_ErrorNil(t *testing.T) {
	fields := NewFields().Error(nil)

	if _, exists := fields["error"]; exists {
		t.Error("Error(nil) should not set error field")
	}
}

func TestStandardFields_PartitionKey(t *testing.T) {
	fields := NewFields().PartitionKey("US-10Y-BANKA")

	if fields["partition_key"] != "US-10Y-BANKA" {
		t.Errorf("PartitionKey() = %v, want %v", fields["partition_key"], "US-10Y-BANKA")
	}
}

func TestStandardFields_TradeID(t *testing.T) {
	fields := NewFields().TradeID("T-1001")

	if fields["trade_id"] != "T-1001" {
		t.Errorf("TradeID() = %v, want %v", fields["trade_id"], "T-1001")
	}
}

func TestStandardFields_Sequence(t *testing.T) {
	fields := NewFields().Sequence(42)

	if fields["sequence"] != int64(42) {
		t.Errorf("Sequence() = %v, want %v", fields["sequence"], int64(42))
	}
}

func TestStandardFields_StatusCode(t *testing.T) {
	fields := NewFields().StatusCode(404)

	if fields["status_code"] != 404 {
		t.Errorf("StatusCode() = %v, want %v", fields["status_code"], 404)
	}
}

func TestStandardFields_Count(t *testing.T) {
	fields := NewFields().Count(42)

	if fields["count"] != 42 {
		t.Errorf("Count() = %v, want %v", fields["count"], 42)
	}
}

func TestStandardFields_ChainedCalls(t *testing.T) {
	fields := NewFields().
		Component("test").
		Operation("create").
		Resource("partition", "US-10Y-BANKA").
		Duration(100 * time.Millisecond).
		Count(5)

	expected := map[string]interface{}{
		"component":     "test",
		"operation":     "create",
		"resource_type": "partition",
		"resource_name": "US-10Y-BANKA",
		"duration_ms":   int64(100),
		"count":         5,
	}

	for key, expectedValue := range expected {
		if fields[key] != expectedValue {
			t.Errorf("Chained calls: %s = %v, want %v", key, fields[key], expectedValue)
		}
	}
}

func TestStandardFields_ToZap(t *testing.T) {
	fields := NewFields().Component("test").Operation("create")

	zapFields := fields.ToZap()
	if len(zapFields) != 2 {
		t.Fatalf("ToZap() should return 2 fields, got %d", len(zapFields))
	}
}

func TestDatabaseFields(t *testing.T) {
	fields := DatabaseFields("insert", "idempotency_record")

	expected := map[string]interface{}{
		"component":     "database",
		"operation":     "insert",
		"resource_type": "table",
		"resource_name": "idempotency_record",
	}

	for key, expectedValue := range expected {
		if fields[key] != expectedValue {
			t.Errorf("DatabaseFields() %s = %v, want %v", key, fields[key], expectedValue)
		}
	}
}

func TestHTTPFields(t *testing.T) {
	fields := HTTPFields("POST", "/api/v1/trades", 202)

	expected := map[string]interface{}{
		"component":   "http",
		"method":      "POST",
		"url":         "/api/v1/trades",
		"status_code": 202,
	}

	for key, expectedValue := range expected {
		if fields[key] != expectedValue {
			t.Errorf("HTTPFields() %s = %v, want %v", key, fields[key], expectedValue)
		}
	}
}

func TestPartitionFields(t *testing.T) {
	fields := PartitionFields("acquire_lock", "US-10Y-BANKA")

	expected := map[string]interface{}{
		"component":     "partition",
		"operation":     "acquire_lock",
		"partition_key": "US-10Y-BANKA",
	}

	for key, expectedValue := range expected {
		if fields[key] != expectedValue {
			t.Errorf("PartitionFields() %s = %v, want %v", key, fields[key], expectedValue)
		}
	}
}

func TestTradeFields(t *testing.T) {
	fields := TradeFields("ingest", "T-1001")

	expected := map[string]interface{}{
		"component": "trade",
		"operation": "ingest",
		"trade_id":  "T-1001",
	}

	for key, expectedValue := range expected {
		if fields[key] != expectedValue {
			t.Errorf("TradeFields() %s = %v, want %v", key, fields[key], expectedValue)
		}
	}
}

func TestRulesFields(t *testing.T) {
	fields := RulesFields("evaluate", "rule-001")

	expected := map[string]interface{}{
		"component":     "rules",
		"operation":     "evaluate",
		"resource_type": "rule",
		"resource_name": "rule-001",
	}

	for key, expectedValue := range expected {
		if fields[key] != expectedValue {
			t.Errorf("RulesFields() %s = %v, want %v", key, fields[key], expectedValue)
		}
	}
}

func TestPublishFields(t *testing.T) {
	fields := PublishFields("deliver", "slack")

	expected := map[string]interface{}{
		"component":     "publisher",
		"operation":     "deliver",
		"resource_type": "subscriber",
		"resource_name": "slack",
	}

	for key, expectedValue := range expected {
		if fields[key] != expectedValue {
			t.Errorf("PublishFields() %s = %v, want %v", key, fields[key], expectedValue)
		}
	}
}

func TestMetricsFields(t *testing.T) {
	fields := MetricsFields("record", "consumer_lag", 85.5)

	expected := map[string]interface{}{
		"component":   "metrics",
		"operation":   "record",
		"metric_name": "consumer_lag",
		"value":       85.5,
	}

	for key, expectedValue := range expected {
		if fields[key] != expectedValue {
			t.Errorf("MetricsFields() %s = %v, want %v", key, fields[key], expectedValue)
		}
	}
}

func TestSecurityFields(t *testing.T) {
	fields := SecurityFields("authenticate", "svc-account-001")

	expected := map[string]interface{}{
		"component": "security",
		"operation": "authenticate",
		"subject":   "svc-account-001",
	}

	for key, expectedValue := range expected {
		if fields[key] != expectedValue {
			t.Errorf("SecurityFields() %s = %v, want %v", key, fields[key], expectedValue)
		}
	}
}

func TestPerformanceFields(t *testing.T) {
	duration := 250 * time.Millisecond
	fields := PerformanceFields("evaluate_rules", duration, true)

	expected := map[string]interface{}{
		"component":   "performance",
		"operation":   "evaluate_rules",
		"duration_ms": int64(250),
		"success":     true,
	}

	for key, expectedValue := range expected {
		if fields[key] != expectedValue {
			t.Errorf("PerformanceFields() %s = %v, want %v", key, fields[key], expectedValue)
		}
	}
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger("info", "json")
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	if logger == nil {
		t.Fatal("NewLogger() returned nil logger")
	}
}

func TestNewLogger_InvalidLevelFallsBackToInfo(t *testing.T) {
	logger, err := NewLogger("not-a-level", "json")
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	if logger == nil {
		t.Fatal("NewLogger() returned nil logger")
	}
}
