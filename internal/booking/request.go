package booking

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// The three fixed scratchpad sections a service request is built from.
const (
	SectionCustomer    = "customer"
	SectionVehicle     = "vehicle"
	SectionAppointment = "appointment"
)

// CollectionSource is one audit entry linking a built request's field to
// how it was originally collected.
type CollectionSource struct {
	FieldName  string   `json:"field_name"` // "<section>.<name>"
	Source     string   `json:"source"`
	Confidence *float64 `json:"confidence,omitempty"`
	Turn       int      `json:"turn"`
}

// ServiceRequestRecord is the immutable, auditable output of a confirmed
// booking conversation. Fields never collected are absent from the
// section mappings, never present with a placeholder.
type ServiceRequestRecord struct {
	ID                string                `json:"id"`
	ConversationID    string                `json:"conversation_id"`
	Customer          map[string]FieldValue `json:"customer"`
	Vehicle           map[string]FieldValue `json:"vehicle"`
	Appointment       map[string]FieldValue `json:"appointment"`
	CollectionSources []CollectionSource    `json:"collection_sources"`
	Status            string                `json:"status"`
	CreatedAt         time.Time             `json:"created_at"`
	ConfirmedAt       time.Time             `json:"confirmed_at"`
}

// BuildRequest snapshots a completed scratchpad into a service request.
// Only collected fields are copied, provenance stripped from the section
// mappings; the audit trail carries it per field instead. CreatedAt and
// ConfirmedAt are both set to the construction instant: this is a
// point-in-time commit, not a staged one.
func BuildRequest(pad *Scratchpad, conversationID string) *ServiceRequestRecord {
	now := time.Now().UTC().Truncate(time.Millisecond)
	rec := &ServiceRequestRecord{
		ID:                "req-" + uuid.New().String()[:8],
		ConversationID:    conversationID,
		Customer:          sectionValues(pad, SectionCustomer),
		Vehicle:           sectionValues(pad, SectionVehicle),
		Appointment:       sectionValues(pad, SectionAppointment),
		CollectionSources: []CollectionSource{},
		Status:            "confirmed",
		CreatedAt:         now,
		ConfirmedAt:       now,
	}

	for _, f := range pad.Fields() {
		rec.CollectionSources = append(rec.CollectionSources, CollectionSource{
			FieldName:  f.Section + "." + f.Name,
			Source:     f.Source,
			Confidence: f.Confidence,
			Turn:       f.Turn,
		})
	}
	return rec
}

func sectionValues(pad *Scratchpad, section string) map[string]FieldValue {
	out := make(map[string]FieldValue)
	for name, f := range pad.Section(section) {
		out[name] = f.Value
	}
	return out
}

// Encode serializes the record. The shape round-trips losslessly through
// Decode, including an empty collection_sources list.
func (r *ServiceRequestRecord) Encode() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// Decode restores a record serialized by Encode.
func Decode(data []byte) (*ServiceRequestRecord, error) {
	var rec ServiceRequestRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	if rec.CollectionSources == nil {
		rec.CollectionSources = []CollectionSource{}
	}
	return &rec, nil
}
