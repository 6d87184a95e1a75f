// Package dialog runs the per-conversation turn loop: it wires the
// understanding capabilities, the booking core, the token budget, and
// long-term memory together, one user turn at a time. Turns for a single
// conversation are processed sequentially; the driver is not safe for
// concurrent use.
package dialog

import (
	"context"
	"fmt"
	"strings"

	"github.com/bookline-ai/bookline/internal/booking"
	"github.com/bookline-ai/bookline/internal/budget"
	"github.com/bookline-ai/bookline/internal/nlu"
	"github.com/bookline-ai/bookline/internal/provider"
	"github.com/bookline-ai/bookline/internal/session"
)

const defaultSystemPrompt = `You are a friendly booking assistant for an auto service shop.
Help the customer schedule a service appointment. Collect their name, phone
number, vehicle details, and preferred date. Ask for one missing detail at a
time. Keep replies short and conversational. Never invent details the customer
has not given you.`

// historyWindow caps how many recent messages are passed to the
// understanding capabilities.
const historyWindow = 10

// Options configures a Driver. Understander is required; everything else
// has a working default.
type Options struct {
	Understander nlu.Understander
	Summarizer   session.Summarizer // optional history compaction
	Memory       session.MemoryStore
	Events       *EventLogger
	Costs        *CostTracker
	Budget       budget.TokenBudget
	MaxSnapshots int
	Required     []string // "<section>.<name>" keys gating confirmation
	SystemPrompt string
	UserID       string
	Model        string // for cost attribution
}

// TurnResult is the outcome of one processed user turn.
type TurnResult struct {
	Reply   string
	Intent  nlu.Intent
	Stage   booking.Stage
	Request *booking.ServiceRequestRecord // non-nil once the booking is committed
	Done    bool                          // terminal stage reached
}

// Driver owns the state for one booking conversation.
type Driver struct {
	und     nlu.Understander
	summ    session.Summarizer
	summary string
	machine *booking.StateMachine
	pad     *booking.Scratchpad
	confirm *booking.ConfirmationController
	manager *budget.TokenManager
	recent  *budget.RecentContextStore
	alloc   budget.PriorityAllocator
	sess    *session.Session
	memory  session.MemoryStore
	events  *EventLogger
	costs   *CostTracker

	required     []string
	systemPrompt string
	model        string
	request      *booking.ServiceRequestRecord
}

// NewDriver creates a conversation driver in the greeting stage.
func NewDriver(opts Options) *Driver {
	b := opts.Budget
	if b.Total == 0 {
		b = budget.DefaultBudget()
	}
	maxSnapshots := opts.MaxSnapshots
	if maxSnapshots <= 0 {
		maxSnapshots = budget.DefaultMaxSnapshots
	}
	memory := opts.Memory
	if memory == nil {
		memory = session.NullMemoryStore{}
	}
	systemPrompt := opts.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = defaultSystemPrompt
	}
	required := opts.Required
	if len(required) == 0 {
		required = []string{"customer.first_name", "customer.phone", "vehicle.brand", "appointment.date"}
	}

	pad := booking.NewScratchpad()
	return &Driver{
		und:          opts.Understander,
		summ:         opts.Summarizer,
		machine:      booking.NewStateMachine(),
		pad:          pad,
		confirm:      booking.NewConfirmationController(pad),
		manager:      budget.NewTokenManager(b),
		recent:       budget.NewRecentContextStore(b.ContextLimit(), maxSnapshots),
		sess:         session.New(opts.UserID),
		memory:       memory,
		events:       opts.Events,
		costs:        opts.Costs,
		required:     required,
		systemPrompt: systemPrompt,
		model:        opts.Model,
	}
}

// ConversationID returns the conversation's unique ID.
func (d *Driver) ConversationID() string { return d.sess.ID }

// SetEvents attaches an audit event logger. The logger is usually created
// after the driver, since its filename carries the conversation ID.
func (d *Driver) SetEvents(el *EventLogger) { d.events = el }

// Stage returns the current booking stage.
func (d *Driver) Stage() booking.Stage { return d.machine.Current() }

// Scratchpad exposes the collected fields (read-only use expected).
func (d *Driver) Scratchpad() *booking.Scratchpad { return d.pad }

// Request returns the committed service request, or nil before booking.
func (d *Driver) Request() *booking.ServiceRequestRecord { return d.request }

// Events returns the attached event logger, or nil when logging is off.
func (d *Driver) Events() *EventLogger { return d.events }

// ClearHistory drops the message history and running summary while keeping
// the collected booking details and the current stage.
func (d *Driver) ClearHistory() {
	d.sess.Clear()
	d.summary = ""
}

// Greeting returns the assistant's opening message.
func (d *Driver) Greeting() string {
	d.log(EventConversationStart, map[string]any{"user_id": d.sess.UserID})
	return "Hi! I can help you book a service appointment. What can I do for you today?"
}

// ProcessTurn handles one user message and returns the assistant's reply
// plus the resulting conversation state.
func (d *Driver) ProcessTurn(ctx context.Context, userText string) (*TurnResult, error) {
	userText = strings.TrimSpace(userText)
	if userText == "" {
		return &TurnResult{
			Reply: "Sorry, I didn't catch that. Could you say it again?",
			Stage: d.machine.Current(),
		}, nil
	}

	if d.machine.IsTerminal() {
		return d.terminalReply(), nil
	}

	turn := d.sess.NextTurn()
	d.log(EventUserMessage, map[string]any{"text": userText, "turn": turn})
	d.sess.AddMessage(provider.Message{Role: provider.RoleUser, Text: userText})

	intent := d.classify(ctx, userText)
	d.log(EventIntent, map[string]any{"intent": string(intent.Label), "confidence": intent.Confidence})

	result := d.advance(ctx, userText, turn, intent)
	result.Intent = intent.Label
	result.Stage = d.machine.Current()
	result.Done = d.machine.IsTerminal()

	d.sess.AddMessage(provider.Message{Role: provider.RoleAssistant, Text: result.Reply})
	d.log(EventAssistantText, map[string]any{"text": result.Reply})
	d.snapshotTurn(userText, result.Reply)
	d.compactHistory(ctx)

	if result.Done {
		d.log(EventConversationEnd, map[string]any{"stage": string(d.machine.Current())})
	}
	return result, nil
}

// advance applies the stage logic for one turn and produces the reply.
func (d *Driver) advance(ctx context.Context, userText string, turn int, intent nlu.IntentResult) *TurnResult {
	// At confirmation the controller's ordered rules decide, so an edit
	// mentioning "cancel" is not mistaken for an abort.
	if intent.Label == nlu.IntentCancel && d.machine.Current() != booking.StageConfirmation {
		return d.cancel()
	}

	switch d.machine.Current() {
	case booking.StageGreeting:
		d.transition(booking.StageDataCollection)
		fallthrough

	case booking.StageDataCollection:
		d.extract(ctx, userText, turn)
		if len(d.missingFields()) == 0 {
			d.transition(booking.StageConfirmation)
			return &TurnResult{Reply: d.confirmationPrompt()}
		}
		return &TurnResult{Reply: d.collectReply(ctx, userText)}

	case booking.StageConfirmation:
		return d.handleConfirmation(ctx, userText, turn)
	}

	// booking/completion/cancelled are never reached here: booking commits
	// within handleConfirmation and terminal stages return early.
	return &TurnResult{Reply: d.collectReply(ctx, userText)}
}

// handleConfirmation interprets the user's response to the summary.
func (d *Driver) handleConfirmation(ctx context.Context, userText string, turn int) *TurnResult {
	switch d.confirm.DetectAction(userText) {
	case booking.ActionEdit:
		field, ok := d.confirm.HandleEdit(userText, turn)
		if !ok {
			return &TurnResult{Reply: "Which detail would you like to change? For example: \"change the date to 2024-12-20\"."}
		}
		d.logField(field)
		// Edit loop: back to data collection, then straight back to
		// confirmation if everything required is still present.
		d.transition(booking.StageDataCollection)
		if len(d.missingFields()) == 0 {
			d.transition(booking.StageConfirmation)
			return &TurnResult{Reply: fmt.Sprintf("Updated %s. %s", field.Name, d.confirmationPrompt())}
		}
		return &TurnResult{Reply: d.collectReply(ctx, userText)}

	case booking.ActionCancel:
		return d.cancel()

	case booking.ActionConfirm:
		d.confirm.HandleConfirm()
		d.transition(booking.StageBooking)
		d.request = booking.BuildRequest(d.pad, d.sess.ID)
		d.log(EventRequestBuilt, map[string]any{"request_id": d.request.ID})
		d.persistMemory()
		d.transition(booking.StageCompletion)
		return &TurnResult{
			Reply:   fmt.Sprintf("You're all set! Your booking is confirmed (reference %s). See you then!", d.request.ID),
			Request: d.request,
		}
	}

	return &TurnResult{Reply: "Should I confirm the booking? You can also change a detail or cancel."}
}

// cancel walks the machine to the cancelled stage along legal transitions
// and clears the scratchpad.
func (d *Driver) cancel() *TurnResult {
	switch d.machine.Current() {
	case booking.StageGreeting:
		d.transition(booking.StageDataCollection)
		d.transition(booking.StageConfirmation)
	case booking.StageDataCollection:
		d.transition(booking.StageConfirmation)
	}
	d.transition(booking.StageCancelled)
	msg := d.confirm.HandleCancel()
	d.log(EventCancelled, nil)
	return &TurnResult{Reply: msg}
}

// terminalReply answers messages arriving after the conversation ended.
func (d *Driver) terminalReply() *TurnResult {
	reply := "This booking was cancelled. Start a new conversation to book an appointment."
	if d.machine.IsComplete() {
		reply = fmt.Sprintf("Your booking is already confirmed (reference %s). Start a new conversation for another appointment.", d.request.ID)
	}
	return &TurnResult{
		Reply:   reply,
		Stage:   d.machine.Current(),
		Request: d.request,
		Done:    true,
	}
}

// classify runs intent classification, degrading to a low-confidence
// question on any failure.
func (d *Driver) classify(ctx context.Context, userText string) nlu.IntentResult {
	result, err := d.und.ClassifyIntent(ctx, d.historyTexts(), userText)
	if err != nil {
		d.log(EventError, map[string]any{"op": "classify", "error": err.Error()})
		return nlu.IntentResult{Label: nlu.IntentQuestion, Confidence: 0.3}
	}
	return result
}

// extract pulls structured fields out of the message and writes them to
// the scratchpad. "No extraction" is an ordinary outcome, not an error.
func (d *Driver) extract(ctx context.Context, userText string, turn int) {
	fields, err := d.und.ExtractFields(ctx, d.historyTexts(), userText)
	if err != nil {
		d.log(EventError, map[string]any{"op": "extract", "error": err.Error()})
		return
	}
	for _, f := range fields {
		conf := f.Confidence
		if d.pad.AddField(f.Section, f.Name, fieldValue(f.Value), "direct_extraction", turn, &conf, "llm") {
			if written, ok := d.pad.GetField(f.Section, f.Name); ok {
				d.logField(written)
			}
		}
	}
}

// collectReply generates the conversational reply during data collection,
// falling back to a deterministic prompt for the next missing field.
func (d *Driver) collectReply(ctx context.Context, userText string) string {
	reply, usage, err := d.und.Generate(ctx, nlu.GenerateInput{
		SystemPrompt: d.systemPrompt,
		Context:      d.packContext(ctx, userText),
		History:      d.recentMessages(),
		UserMessage:  userText,
		MaxTokens:    d.manager.Budget().GenerationReserve,
	})
	if usage != nil && d.costs != nil {
		d.costs.RecordTurn(d.model, usage.InputTokens, usage.OutputTokens)
		d.sess.TokensUsed += usage.InputTokens + usage.OutputTokens
	}
	if err != nil {
		d.log(EventError, map[string]any{"op": "generate", "error": err.Error()})
	}
	if reply = strings.TrimSpace(reply); reply != "" {
		return reply
	}
	return d.fallbackReply()
}

// fallbackReply is the deterministic reply used when generation is
// unavailable: ask for the first missing required field.
func (d *Driver) fallbackReply() string {
	missing := d.missingFields()
	if len(missing) == 0 {
		return "Got it. Anything else I should note for the appointment?"
	}
	prompts := map[string]string{
		"customer.first_name":      "May I have your first name?",
		"customer.phone":           "What's the best phone number to reach you?",
		"vehicle.brand":            "What make is your vehicle?",
		"vehicle.model":            "And the model?",
		"appointment.date":         "What date works for you?",
		"appointment.service_type": "What service do you need?",
	}
	if p, ok := prompts[missing[0]]; ok {
		return p
	}
	return fmt.Sprintf("Could you tell me your %s?", strings.ReplaceAll(missing[0], ".", " "))
}

// confirmationPrompt summarizes collected details and asks for confirmation.
func (d *Driver) confirmationPrompt() string {
	return fmt.Sprintf("Here's what I have:\n%s\nShall I confirm this booking? You can also change a detail or cancel.", d.pad.Summary())
}

// missingFields returns the required "<section>.<name>" keys not yet
// present in the scratchpad, in configured order.
func (d *Driver) missingFields() []string {
	var missing []string
	for _, key := range d.required {
		section, name, ok := strings.Cut(key, ".")
		if !ok {
			continue
		}
		if _, found := d.pad.GetField(section, name); !found {
			missing = append(missing, key)
		}
	}
	return missing
}

// packContext assembles the background context for generation under the
// token budget: scratchpad state, recent snapshots, and recalled memories,
// in priority order.
func (d *Driver) packContext(ctx context.Context, userText string) string {
	limit := d.manager.ContextLimit()

	var candidates []budget.Candidate
	if !d.pad.IsEmpty() {
		candidates = append(candidates, budget.Candidate{
			Content:  "Collected booking details:\n" + d.pad.Summary(),
			Priority: 1,
		})
	}
	if recent := d.recent.RenderRecent(5); recent != "" {
		candidates = append(candidates, budget.Candidate{Content: recent, Priority: 2})
	}
	if hits, err := d.memory.Search(userText, d.sess.UserID, 3); err == nil {
		for _, h := range hits {
			candidates = append(candidates, budget.Candidate{
				Content:  "Known about this customer: " + h.Memory.Content,
				Priority: 3,
			})
		}
	}

	selected := d.alloc.Select(candidates, limit)
	parts := make([]string, 0, len(selected))
	for _, c := range selected {
		parts = append(parts, c.Content)
	}
	packed := strings.Join(parts, "\n\n")

	packed, truncated := d.manager.TruncateToBudget(packed)
	if truncated {
		d.log(EventContextTrim, map[string]any{"reason": "truncate", "limit": limit})
	}
	return packed
}

// compactHistory condenses messages that fell out of the recent window
// into an iterative summary, stored as a context snapshot. Session
// messages are cut back to the window so history stays bounded.
// Compaction triggers on message count or on estimated token pressure,
// whichever comes first.
func (d *Driver) compactHistory(ctx context.Context) {
	if d.summ == nil || len(d.sess.Messages) <= historyWindow {
		return
	}
	if len(d.sess.Messages) <= 2*historyWindow && d.sess.EstimateTokens() <= d.manager.ContextLimit() {
		return
	}
	cut := len(d.sess.Messages) - historyWindow
	summary, err := d.summ.Summarize(ctx, d.summary, d.sess.Messages[:cut])
	if err != nil {
		d.log(EventError, map[string]any{"op": "summarize", "error": err.Error()})
		return
	}
	d.summary = summary
	d.sess.Messages = append([]provider.Message(nil), d.sess.Messages[cut:]...)
	if _, trimmed := d.recent.AddInstant("Conversation summary: "+summary, "summary", nil); trimmed {
		d.log(EventContextTrim, map[string]any{"reason": "evict", "items": d.recent.Len()})
	}
}

// snapshotTurn records the finished exchange in the recent-context store.
func (d *Driver) snapshotTurn(userText, reply string) {
	content := fmt.Sprintf("Customer: %s\nAssistant: %s", userText, reply)
	if _, trimmed := d.recent.AddInstant(content, "turn", nil); trimmed {
		d.log(EventContextTrim, map[string]any{"reason": "evict", "items": d.recent.Len()})
	}
}

// persistMemory stores a durable note about the committed booking.
func (d *Driver) persistMemory() {
	if d.sess.UserID == "" {
		return
	}
	var parts []string
	for _, key := range []struct{ section, name string }{
		{booking.SectionVehicle, "brand"},
		{booking.SectionVehicle, "model"},
		{booking.SectionAppointment, "service_type"},
		{booking.SectionAppointment, "date"},
	} {
		if f, ok := d.pad.GetField(key.section, key.name); ok {
			parts = append(parts, f.Value.Text())
		}
	}
	if len(parts) == 0 {
		return
	}
	_, err := d.memory.Store(
		"booked service: "+strings.Join(parts, " "),
		d.sess.UserID,
		map[string]string{"request_id": d.request.ID, "conversation_id": d.sess.ID},
	)
	if err != nil {
		d.log(EventError, map[string]any{"op": "memory_store", "error": err.Error()})
	}
}

// historyTexts returns the recent dialogue as plain "role: text" lines.
func (d *Driver) historyTexts() []string {
	msgs := d.recentMessages()
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, string(m.Role)+": "+m.Text)
	}
	return out
}

// recentMessages returns the last historyWindow messages.
func (d *Driver) recentMessages() []provider.Message {
	msgs := d.sess.Messages
	if len(msgs) > historyWindow {
		msgs = msgs[len(msgs)-historyWindow:]
	}
	return msgs
}

func (d *Driver) transition(target booking.Stage) {
	from := d.machine.Current()
	if d.machine.Transition(target) {
		d.log(EventStageTransition, map[string]any{"from": string(from), "to": string(target)})
	}
}

func (d *Driver) logField(f booking.Field) {
	d.log(EventFieldWritten, map[string]any{
		"field":  f.Section + "." + f.Name,
		"value":  f.Value.Text(),
		"source": f.Source,
		"turn":   f.Turn,
	})
}

func (d *Driver) log(t EventType, data any) {
	if d.events != nil {
		d.events.Log(t, data)
	}
}

// fieldValue converts an extracted scalar into a scratchpad value.
// Unsupported types map to the zero value, which AddField rejects.
func fieldValue(v any) booking.FieldValue {
	switch x := v.(type) {
	case string:
		return booking.String(x)
	case float64:
		return booking.Number(x)
	case int:
		return booking.Number(float64(x))
	case bool:
		return booking.Bool(x)
	}
	return booking.FieldValue{}
}
