package dialog

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/bookline-ai/bookline/internal/booking"
	"github.com/bookline-ai/bookline/internal/budget"
	"github.com/bookline-ai/bookline/internal/nlu"
	"github.com/bookline-ai/bookline/internal/provider"
)

// stubUnderstander is a deterministic understanding capability for tests.
// Extraction is keyed on the exact user message.
type stubUnderstander struct {
	fields      map[string][]nlu.ExtractedField
	reply       string
	generateErr error
}

func (s *stubUnderstander) ClassifyIntent(_ context.Context, _ []string, message string) (nlu.IntentResult, error) {
	if strings.Contains(strings.ToLower(message), "cancel") {
		return nlu.IntentResult{Label: nlu.IntentCancel, Confidence: 0.95}, nil
	}
	return nlu.IntentResult{Label: nlu.IntentBooking, Confidence: 0.9}, nil
}

func (s *stubUnderstander) ExtractFields(_ context.Context, _ []string, message string) ([]nlu.ExtractedField, error) {
	return s.fields[message], nil
}

func (s *stubUnderstander) Generate(context.Context, nlu.GenerateInput) (string, *provider.Usage, error) {
	if s.generateErr != nil {
		return "", nil, s.generateErr
	}
	return s.reply, &provider.Usage{InputTokens: 100, OutputTokens: 20}, nil
}

func newTestDriver(und nlu.Understander) *Driver {
	return NewDriver(Options{Understander: und, UserID: "user-1"})
}

func TestConversationFullFlow(t *testing.T) {
	und := &stubUnderstander{
		reply: "Got it!",
		fields: map[string][]nlu.ExtractedField{
			"I need an oil change, my name is John": {
				{Section: "customer", Name: "first_name", Value: "John", Confidence: 0.9},
				{Section: "appointment", Name: "service_type", Value: "oil change", Confidence: 0.85},
			},
			"555-1234": {
				{Section: "customer", Name: "phone", Value: "555-1234", Confidence: 0.9},
			},
			"it's a Honda": {
				{Section: "vehicle", Name: "brand", Value: "Honda", Confidence: 0.9},
			},
			"December 15th works": {
				{Section: "appointment", Name: "date", Value: "2024-12-15", Confidence: 0.8},
			},
		},
	}
	d := newTestDriver(und)
	ctx := context.Background()

	turns := []string{
		"I need an oil change, my name is John",
		"555-1234",
		"it's a Honda",
	}
	for _, text := range turns {
		result, err := d.ProcessTurn(ctx, text)
		if err != nil {
			t.Fatalf("ProcessTurn(%q): %v", text, err)
		}
		if result.Done {
			t.Fatalf("conversation ended early at %q", text)
		}
	}
	if d.Stage() != booking.StageDataCollection {
		t.Fatalf("expected data_collection after partial fields, got %s", d.Stage())
	}

	// Final required field moves the conversation to confirmation.
	result, err := d.ProcessTurn(ctx, "December 15th works")
	if err != nil {
		t.Fatal(err)
	}
	if d.Stage() != booking.StageConfirmation {
		t.Fatalf("expected confirmation, got %s", d.Stage())
	}
	if !strings.Contains(result.Reply, "John") || !strings.Contains(result.Reply, "2024-12-15") {
		t.Errorf("confirmation prompt should summarize collected fields: %q", result.Reply)
	}

	// Confirming commits the booking.
	result, err = d.ProcessTurn(ctx, "yes, that's right")
	if err != nil {
		t.Fatal(err)
	}
	if !result.Done {
		t.Fatal("expected conversation to be done after confirmation")
	}
	if d.Stage() != booking.StageCompletion {
		t.Fatalf("expected completion, got %s", d.Stage())
	}
	req := result.Request
	if req == nil {
		t.Fatal("expected a built request")
	}
	if got := req.Customer["first_name"].Text(); got != "John" {
		t.Errorf("customer.first_name = %q, want John", got)
	}
	if got := req.Appointment["date"].Text(); got != "2024-12-15" {
		t.Errorf("appointment.date = %q, want 2024-12-15", got)
	}
	if len(req.CollectionSources) != 5 {
		t.Errorf("expected 5 collection sources, got %d", len(req.CollectionSources))
	}
	if req.ConversationID != d.ConversationID() {
		t.Errorf("request conversation ID mismatch")
	}
}

func TestConversationEditAtConfirmation(t *testing.T) {
	und := &stubUnderstander{
		reply: "Got it!",
		fields: map[string][]nlu.ExtractedField{
			"book me in": {
				{Section: "customer", Name: "first_name", Value: "Ana", Confidence: 0.9},
				{Section: "customer", Name: "phone", Value: "555-0000", Confidence: 0.9},
				{Section: "vehicle", Name: "brand", Value: "Toyota", Confidence: 0.9},
				{Section: "appointment", Name: "date", Value: "2024-12-15", Confidence: 0.9},
			},
		},
	}
	d := newTestDriver(und)
	ctx := context.Background()

	if _, err := d.ProcessTurn(ctx, "book me in"); err != nil {
		t.Fatal(err)
	}
	if d.Stage() != booking.StageConfirmation {
		t.Fatalf("expected confirmation, got %s", d.Stage())
	}

	result, err := d.ProcessTurn(ctx, "change the date to 2024-12-25")
	if err != nil {
		t.Fatal(err)
	}
	// The edit loop returns to confirmation with the updated value.
	if d.Stage() != booking.StageConfirmation {
		t.Fatalf("expected confirmation after edit, got %s", d.Stage())
	}
	if !strings.Contains(result.Reply, "2024-12-25") {
		t.Errorf("updated prompt should show new date: %q", result.Reply)
	}
	f, ok := d.Scratchpad().GetField("appointment", "date")
	if !ok || f.Value.Text() != "2024-12-25" {
		t.Errorf("appointment.date = %v, want 2024-12-25", f.Value)
	}
	if f.Source != "user_edit" {
		t.Errorf("edit source = %q, want user_edit", f.Source)
	}

	// History shows the confirmation -> data_collection -> confirmation loop.
	history := d.machine.History()
	want := []booking.Stage{
		booking.StageGreeting, booking.StageDataCollection, booking.StageConfirmation,
		booking.StageDataCollection, booking.StageConfirmation,
	}
	if len(history) != len(want) {
		t.Fatalf("history length = %d, want %d (%v)", len(history), len(want), history)
	}
	for i, s := range want {
		if history[i] != s {
			t.Errorf("history[%d] = %s, want %s", i, history[i], s)
		}
	}
}

func TestConversationCancel(t *testing.T) {
	und := &stubUnderstander{
		reply: "Got it!",
		fields: map[string][]nlu.ExtractedField{
			"my name is Bob": {
				{Section: "customer", Name: "first_name", Value: "Bob", Confidence: 0.9},
			},
		},
	}
	d := newTestDriver(und)
	ctx := context.Background()

	if _, err := d.ProcessTurn(ctx, "my name is Bob"); err != nil {
		t.Fatal(err)
	}

	result, err := d.ProcessTurn(ctx, "actually, cancel that")
	if err != nil {
		t.Fatal(err)
	}
	if !result.Done {
		t.Fatal("expected cancel to end the conversation")
	}
	if !d.machine.IsCancelled() {
		t.Fatalf("expected cancelled stage, got %s", d.Stage())
	}
	if !d.Scratchpad().IsEmpty() {
		t.Error("cancel should clear the scratchpad")
	}
	if result.Request != nil {
		t.Error("cancelled conversation must not build a request")
	}

	// Further messages get a terminal reply without state changes.
	after, err := d.ProcessTurn(ctx, "wait, book it")
	if err != nil {
		t.Fatal(err)
	}
	if !after.Done || after.Stage != booking.StageCancelled {
		t.Errorf("terminal conversation should stay cancelled, got %s", after.Stage)
	}
}

func TestFallbackReplyWhenGeneratorUnavailable(t *testing.T) {
	und := &stubUnderstander{
		generateErr: context.DeadlineExceeded,
		fields: map[string][]nlu.ExtractedField{
			"my name is Sam": {
				{Section: "customer", Name: "first_name", Value: "Sam", Confidence: 0.9},
			},
		},
	}
	d := newTestDriver(und)

	result, err := d.ProcessTurn(context.Background(), "my name is Sam")
	if err != nil {
		t.Fatal(err)
	}
	// first_name is now present, so the fallback asks for the phone next.
	if !strings.Contains(result.Reply, "phone") {
		t.Errorf("fallback should ask for the next missing field, got %q", result.Reply)
	}
}

func TestEmptyUserMessage(t *testing.T) {
	d := newTestDriver(&stubUnderstander{reply: "ok"})

	result, err := d.ProcessTurn(context.Background(), "   ")
	if err != nil {
		t.Fatal(err)
	}
	if d.Stage() != booking.StageGreeting {
		t.Errorf("blank input should not advance the stage, got %s", d.Stage())
	}
	if result.Reply == "" {
		t.Error("expected a reprompt for blank input")
	}
}

func TestExtractionRejectsNullValues(t *testing.T) {
	und := &stubUnderstander{
		reply: "ok",
		fields: map[string][]nlu.ExtractedField{
			"hello": {
				{Section: "customer", Name: "first_name", Value: nil, Confidence: 0.5},
				{Section: "customer", Name: "phone", Value: "", Confidence: 0.5},
			},
		},
	}
	d := newTestDriver(und)

	if _, err := d.ProcessTurn(context.Background(), "hello"); err != nil {
		t.Fatal(err)
	}
	if !d.Scratchpad().IsEmpty() {
		t.Error("null and empty extracted values must not be written")
	}
}

type stubSummarizer struct {
	calls int
}

func (s *stubSummarizer) Summarize(_ context.Context, previous string, messages []provider.Message) (string, error) {
	s.calls++
	return fmt.Sprintf("summary #%d of %d messages", s.calls, len(messages)), nil
}

func TestHistoryCompaction(t *testing.T) {
	summ := &stubSummarizer{}
	d := NewDriver(Options{
		Understander: &stubUnderstander{reply: "ok"},
		Summarizer:   summ,
	})
	ctx := context.Background()

	// Each turn adds two messages; enough turns push history past the
	// compaction threshold.
	for i := 0; i < 12; i++ {
		if _, err := d.ProcessTurn(ctx, fmt.Sprintf("thinking about it %d", i)); err != nil {
			t.Fatal(err)
		}
	}

	if summ.calls == 0 {
		t.Fatal("expected summarizer to run")
	}
	if len(d.sess.Messages) > 2*historyWindow {
		t.Errorf("history not bounded: %d messages", len(d.sess.Messages))
	}

	found := false
	for _, snap := range d.recent.Snapshots() {
		if snap.Category == "summary" {
			found = true
		}
	}
	if !found {
		t.Error("expected a summary snapshot in the recent-context store")
	}
}

func TestCompactionOnTokenPressure(t *testing.T) {
	summ := &stubSummarizer{}
	d := NewDriver(Options{
		Understander: &stubUnderstander{reply: "ok"},
		Summarizer:   summ,
		Budget: budget.TokenBudget{
			Total:             240,
			SystemReserve:     60,
			GenerationReserve: 60,
			ContextBudget:     120,
		},
	})
	ctx := context.Background()

	// Long messages blow past the context limit well before the message
	// count threshold does.
	long := strings.Repeat("the brakes squeal when cold and the oil light stays on ", 3)
	for i := 0; i < 6; i++ {
		if _, err := d.ProcessTurn(ctx, fmt.Sprintf("%s %d", long, i)); err != nil {
			t.Fatal(err)
		}
	}

	if summ.calls == 0 {
		t.Fatal("expected token pressure to trigger the summarizer")
	}
	if len(d.sess.Messages) > historyWindow {
		t.Errorf("history not cut back to the window: %d messages", len(d.sess.Messages))
	}
}

func TestClearHistoryKeepsBookingState(t *testing.T) {
	und := &stubUnderstander{
		reply: "ok",
		fields: map[string][]nlu.ExtractedField{
			"my name is Bob": {
				{Section: "customer", Name: "first_name", Value: "Bob", Confidence: 0.9},
			},
		},
	}
	d := newTestDriver(und)
	ctx := context.Background()

	if _, err := d.ProcessTurn(ctx, "my name is Bob"); err != nil {
		t.Fatal(err)
	}

	d.ClearHistory()
	if len(d.sess.Messages) != 0 {
		t.Errorf("expected empty history, got %d messages", len(d.sess.Messages))
	}
	if _, ok := d.Scratchpad().GetField("customer", "first_name"); !ok {
		t.Error("collected fields must survive a history clear")
	}
	if d.Stage() != booking.StageDataCollection {
		t.Errorf("stage should be unchanged, got %s", d.Stage())
	}

	// The conversation continues normally after the clear.
	result, err := d.ProcessTurn(ctx, "555-1234")
	if err != nil {
		t.Fatal(err)
	}
	if result.Done {
		t.Error("clearing history must not end the conversation")
	}
}

func TestCostTrackingAcrossTurns(t *testing.T) {
	costs := NewCostTracker(nil)
	d := NewDriver(Options{
		Understander: &stubUnderstander{reply: "ok"},
		Costs:        costs,
		Model:        "gpt-4o-mini",
	})

	if _, err := d.ProcessTurn(context.Background(), "hello there"); err != nil {
		t.Fatal(err)
	}
	if costs.TotalCost() <= 0 {
		t.Errorf("expected nonzero cost after a generated turn, got %v", costs.TotalCost())
	}
}

func TestDriverEventLogRoundTrip(t *testing.T) {
	t.Setenv("BOOKLINE_EVENTS_DIR", t.TempDir())

	d := newTestDriver(&stubUnderstander{reply: "ok"})
	logger, err := NewEventLogger(d.ConversationID())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(logger.Close)
	d.SetEvents(logger)

	if _, err := d.ProcessTurn(context.Background(), "hello"); err != nil {
		t.Fatal(err)
	}

	events, err := d.Events().ReadRecent(0)
	if err != nil {
		t.Fatal(err)
	}
	types := make(map[EventType]bool)
	for _, e := range events {
		types[e.Type] = true
	}
	for _, want := range []EventType{EventUserMessage, EventIntent, EventStageTransition, EventAssistantText} {
		if !types[want] {
			t.Errorf("missing %s event in log", want)
		}
	}
	if out := FormatEvents(events, "Recent events"); !strings.Contains(out, "stage=data_collection") {
		t.Errorf("formatted output should show the stage transition, got:\n%s", out)
	}
}

func TestFieldValueConversion(t *testing.T) {
	tests := []struct {
		in   any
		want string
		zero bool
	}{
		{"Honda", "Honda", false},
		{float64(2019), "2019", false},
		{7, "7", false},
		{true, "true", false},
		{nil, "", true},
		{[]string{"x"}, "", true},
	}
	for _, tt := range tests {
		v := fieldValue(tt.in)
		if v.IsZero() != tt.zero {
			t.Errorf("fieldValue(%v).IsZero() = %v, want %v", tt.in, v.IsZero(), tt.zero)
		}
		if !tt.zero && v.Text() != tt.want {
			t.Errorf("fieldValue(%v).Text() = %q, want %q", tt.in, v.Text(), tt.want)
		}
	}
}
