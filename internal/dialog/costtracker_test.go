package dialog

import (
	"strings"
	"testing"
)

func TestDefaultPricing(t *testing.T) {
	pricing := DefaultPricing()
	if len(pricing) == 0 {
		t.Fatal("default pricing should not be empty")
	}
	for _, model := range []string{"claude-sonnet-4-20250514", "gpt-4o", "deepseek-chat"} {
		if _, ok := pricing[model]; !ok {
			t.Errorf("expected pricing for %q", model)
		}
	}
	for model, p := range pricing {
		if p.InputPerMillion <= 0 || p.OutputPerMillion <= 0 {
			t.Errorf("model %q has non-positive pricing: in=%f out=%f",
				model, p.InputPerMillion, p.OutputPerMillion)
		}
	}
}

func TestRecordTurn(t *testing.T) {
	ct := NewCostTracker(nil)
	cost := ct.RecordTurn("deepseek-chat", 1000, 500)
	if cost <= 0 {
		t.Fatal("expected positive cost for known model")
	}
	if ct.TotalCost() != cost {
		t.Fatalf("total cost %f != turn cost %f", ct.TotalCost(), cost)
	}
	// deepseek-chat: input=0.27/M, output=1.10/M
	expected := (1000.0*0.27 + 500.0*1.10) / 1_000_000
	if cost != expected {
		t.Fatalf("cost %f != expected %f", cost, expected)
	}
}

func TestRecordTurnUnknownModel(t *testing.T) {
	ct := NewCostTracker(nil)
	cost := ct.RecordTurn("unknown-model-xyz", 1000, 500)
	if cost != 0 {
		t.Fatalf("expected 0 cost for unknown model, got %f", cost)
	}
	if ct.TotalCost() != 0 {
		t.Fatalf("expected 0 total cost, got %f", ct.TotalCost())
	}
}

func TestRecordTurnWithOverrides(t *testing.T) {
	overrides := map[string]ModelPricing{
		"my-custom-model": {InputPerMillion: 10.0, OutputPerMillion: 20.0},
	}
	ct := NewCostTracker(overrides)
	cost := ct.RecordTurn("my-custom-model", 1_000_000, 500_000)
	expected := 10.0 + (500_000.0 * 20.0 / 1_000_000)
	if cost != expected {
		t.Fatalf("cost %f != expected %f", cost, expected)
	}
}

func TestRecordTurnPrefixMatch(t *testing.T) {
	ct := NewCostTracker(nil)
	// "gpt-4o-2024-08-06" should prefix-match "gpt-4o"
	cost := ct.RecordTurn("gpt-4o-2024-08-06", 1000, 500)
	if cost <= 0 {
		t.Fatal("expected positive cost via prefix match")
	}
}

func TestSummaryEmpty(t *testing.T) {
	ct := NewCostTracker(nil)
	if s := ct.Summary(); s != "No usage recorded." {
		t.Fatalf("expected 'No usage recorded.', got %q", s)
	}
}

func TestSummary(t *testing.T) {
	ct := NewCostTracker(nil)
	ct.RecordTurn("deepseek-chat", 1000, 500)
	ct.RecordTurn("gpt-4o", 2000, 1000)

	s := ct.Summary()
	if !strings.Contains(s, "Conversation cost:") {
		t.Fatal("summary should contain 'Conversation cost:'")
	}
	if !strings.Contains(s, "2 calls") {
		t.Fatal("summary should mention 2 calls")
	}
	if !strings.Contains(s, "Call 1:") || !strings.Contains(s, "Call 2:") {
		t.Fatal("summary should contain per-call details")
	}
	if !strings.Contains(s, "deepseek-chat") {
		t.Fatal("summary should mention model names")
	}
	if !strings.Contains(s, "3000 input") {
		t.Fatal("summary should show total input tokens")
	}
}
