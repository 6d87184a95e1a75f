package booking

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ValueKind tags the variant held by a FieldValue.
type ValueKind int

const (
	KindInvalid ValueKind = iota
	KindString
	KindNumber
	KindBool
)

// FieldValue is a tagged-variant scalar collected from the user.
// The zero value is invalid and represents "no value": the scratchpad
// never persists it, so key absence always means "not yet collected".
type FieldValue struct {
	kind ValueKind
	str  string
	num  float64
	b    bool
}

func String(s string) FieldValue  { return FieldValue{kind: KindString, str: s} }
func Number(n float64) FieldValue { return FieldValue{kind: KindNumber, num: n} }
func Bool(b bool) FieldValue      { return FieldValue{kind: KindBool, b: b} }

// Kind returns the variant tag.
func (v FieldValue) Kind() ValueKind { return v.kind }

// IsZero reports whether the value counts as "no value": the invalid
// zero value or a blank string.
func (v FieldValue) IsZero() bool {
	if v.kind == KindInvalid {
		return true
	}
	return v.kind == KindString && strings.TrimSpace(v.str) == ""
}

// Text returns the value rendered as a string.
func (v FieldValue) Text() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return formatNumber(v.num)
	case KindBool:
		if v.b {
			return "true"
		}
		return "false"
	}
	return ""
}

// Float returns the numeric value, or 0 for non-numbers.
func (v FieldValue) Float() float64 { return v.num }

// Equal reports exact equality of kind and payload.
func (v FieldValue) Equal(o FieldValue) bool { return v == o }

// formatNumber formats a float without a trailing ".0" for whole numbers.
func formatNumber(f float64) string {
	if f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%g", f)
}

// MarshalJSON emits the bare scalar so records serialize as plain
// field-name -> value mappings.
func (v FieldValue) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindString:
		return json.Marshal(v.str)
	case KindNumber:
		return json.Marshal(v.num)
	case KindBool:
		return json.Marshal(v.b)
	}
	return []byte("null"), nil
}

// UnmarshalJSON sniffs the JSON scalar type, restoring the variant tag.
func (v *FieldValue) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch t := raw.(type) {
	case string:
		*v = String(t)
	case float64:
		*v = Number(t)
	case bool:
		*v = Bool(t)
	case nil:
		*v = FieldValue{}
	default:
		return fmt.Errorf("field value must be a scalar, got %T", raw)
	}
	return nil
}

// Field is one collected value with its full provenance: how, when, and
// with what confidence it was obtained.
type Field struct {
	Section    string
	Name       string
	Value      FieldValue
	Source     string // e.g. "direct_extraction", "retroactive_extraction", "user_edit"
	Turn       int
	Confidence *float64 // nil when the source reports none
	Extractor  string   // optional extractor identifier
	WrittenAt  time.Time
}

// Scratchpad is a sectioned, versioned field store for one conversation.
// Writes are idempotent by (section, name), last-write-wins; prior values
// are not retained. Single-writer, like the state machine.
type Scratchpad struct {
	sections map[string]map[string]Field
}

func NewScratchpad() *Scratchpad {
	return &Scratchpad{sections: make(map[string]map[string]Field)}
}

// AddField records a field with provenance, unconditionally overwriting
// any existing field at that key. Writes of empty values are rejected
// as a no-op: absence represents "not collected", never a null. Returns
// whether the write happened.
func (p *Scratchpad) AddField(section, name string, value FieldValue, source string, turn int, confidence *float64, extractor string) bool {
	if value.IsZero() {
		return false
	}
	sec, ok := p.sections[section]
	if !ok {
		sec = make(map[string]Field)
		p.sections[section] = sec
	}
	sec[name] = Field{
		Section:    section,
		Name:       name,
		Value:      value,
		Source:     source,
		Turn:       turn,
		Confidence: confidence,
		Extractor:  extractor,
		WrittenAt:  time.Now(),
	}
	return true
}

// GetField returns the field at (section, name) and whether it exists.
func (p *Scratchpad) GetField(section, name string) (Field, bool) {
	f, ok := p.sections[section][name]
	return f, ok
}

// Section returns a copy of the named section's fields. Unseen sections
// return an empty map.
func (p *Scratchpad) Section(section string) map[string]Field {
	out := make(map[string]Field, len(p.sections[section]))
	for name, f := range p.sections[section] {
		out[name] = f
	}
	return out
}

// ClearSection drops every field in the named section.
func (p *Scratchpad) ClearSection(section string) {
	delete(p.sections, section)
}

// ClearAll drops every section.
func (p *Scratchpad) ClearAll() {
	p.sections = make(map[string]map[string]Field)
}

// IsEmpty reports whether no field is stored in any section.
func (p *Scratchpad) IsEmpty() bool {
	for _, sec := range p.sections {
		if len(sec) > 0 {
			return false
		}
	}
	return true
}

// Fields returns every stored field ordered by section, then name.
// The order is deterministic so audit output is reproducible.
func (p *Scratchpad) Fields() []Field {
	var secNames []string
	for s := range p.sections {
		secNames = append(secNames, s)
	}
	sort.Strings(secNames)

	var out []Field
	for _, s := range secNames {
		var names []string
		for n := range p.sections[s] {
			names = append(names, n)
		}
		sort.Strings(names)
		for _, n := range names {
			out = append(out, p.sections[s][n])
		}
	}
	return out
}

// Summary renders the collected fields for the confirmation prompt,
// one "section.name: value" line per field.
func (p *Scratchpad) Summary() string {
	fields := p.Fields()
	if len(fields) == 0 {
		return "(nothing collected yet)"
	}
	var sb strings.Builder
	for i, f := range fields {
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "%s.%s: %s", f.Section, f.Name, f.Value.Text())
	}
	return sb.String()
}
