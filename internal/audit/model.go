// Package audit provides the append-only compliance audit trail: entry
// models, checksum chaining, chain verification, and export for
// compliance reporting and incident response.
package audit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// EventType identifies the kind of tracked action that produced an entry.
type EventType string

// Tracked compliance event types.
const (
	EventAssignmentCreated   EventType = "assignment_created"
	EventAssignmentCompleted EventType = "assignment_completed"
	EventStatusChanged       EventType = "status_changed"
	EventEscalationTriggered EventType = "escalation_triggered"
	EventExemptionRequested  EventType = "exemption_requested"
	EventExemptionApproved   EventType = "exemption_approved"
	EventExemptionRejected   EventType = "exemption_rejected"
	EventGracePeriodExtended EventType = "grace_period_extended"
	EventRequirementCreated  EventType = "requirement_created"
	EventRequirementUpdated  EventType = "requirement_updated"
	EventBulkAssignment      EventType = "bulk_assignment"
	EventPreferenceUpdated   EventType = "preference_updated"
	EventRatesLocked         EventType = "rates_locked"
)

// ValidEventTypes defines the allowed event types for audit entries.
var ValidEventTypes = map[EventType]bool{
	EventAssignmentCreated:   true,
	EventAssignmentCompleted: true,
	EventStatusChanged:       true,
	EventEscalationTriggered: true,
	EventExemptionRequested:  true,
	EventExemptionApproved:   true,
	EventExemptionRejected:   true,
	EventGracePeriodExtended: true,
	EventRequirementCreated:  true,
	EventRequirementUpdated:  true,
	EventBulkAssignment:      true,
	EventPreferenceUpdated:   true,
	EventRatesLocked:         true,
}

// ValueKind tags the type of a snapshot field value.
type ValueKind string

// Snapshot field value kinds.
const (
	KindString ValueKind = "string"
	KindNumber ValueKind = "number"
	KindBool   ValueKind = "bool"
	KindNull   ValueKind = "null"
	// KindBlob carries a nested object or array as an opaque JSON blob.
	KindBlob ValueKind = "blob"
)

// FieldValue is a tagged union of the primitive value types that can appear
// in a before/after snapshot. Exactly the field matching Kind is meaningful.
type FieldValue struct {
	Kind ValueKind       `cbor:"kind"`
	Str  string          `cbor:"str,omitempty"`
	Num  float64         `cbor:"num,omitempty"`
	Bool bool            `cbor:"bool,omitempty"`
	Blob json.RawMessage `cbor:"blob,omitempty"`
}

// String returns a FieldValue holding a string.
func String(s string) FieldValue { return FieldValue{Kind: KindString, Str: s} }

// Number returns a FieldValue holding a number.
func Number(n float64) FieldValue { return FieldValue{Kind: KindNumber, Num: n} }

// Bool returns a FieldValue holding a boolean.
func Bool(b bool) FieldValue { return FieldValue{Kind: KindBool, Bool: b} }

// Null returns a FieldValue holding null.
func Null() FieldValue { return FieldValue{Kind: KindNull} }

// Blob returns a FieldValue holding an opaque JSON blob.
func Blob(raw json.RawMessage) FieldValue { return FieldValue{Kind: KindBlob, Blob: raw} }

// Field is a single named value in a snapshot.
type Field struct {
	Name  string     `cbor:"name"`
	Value FieldValue `cbor:"value"`
}

// Snapshot is an ordered field-level capture of a business entity, used for
// the before/after states of a tracked change. Order is preserved so that
// diffs render the way the entity schema defines them.
type Snapshot []Field

// Get returns the value for a field name and whether it was present.
func (s Snapshot) Get(name string) (FieldValue, bool) {
	for _, f := range s {
		if f.Name == name {
			return f.Value, true
		}
	}
	return FieldValue{}, false
}

// MarshalJSON renders the snapshot as a JSON object, preserving field order.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	if s == nil {
		return []byte("null"), nil
	}
	buf := new(bytes.Buffer)
	buf.WriteByte('{')
	for i, f := range s {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(f.Name)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		val, err := f.Value.appendJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// appendJSON renders the raw JSON for a single field value.
func (v FieldValue) appendJSON() ([]byte, error) {
	switch v.Kind {
	case KindString:
		return json.Marshal(v.Str)
	case KindNumber:
		return json.Marshal(v.Num)
	case KindBool:
		return json.Marshal(v.Bool)
	case KindNull:
		return []byte("null"), nil
	case KindBlob:
		if len(v.Blob) == 0 {
			return []byte("null"), nil
		}
		return v.Blob, nil
	default:
		return nil, fmt.Errorf("unknown value kind: %q", v.Kind)
	}
}

// UnmarshalJSON parses a JSON object into a snapshot, preserving the order
// fields appear in the document. Nested objects and arrays become blobs.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		*s = nil
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("snapshot must be a JSON object")
	}

	out := Snapshot{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("snapshot keys must be strings")
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		val, err := parseFieldValue(raw)
		if err != nil {
			return fmt.Errorf("field %q: %w", name, err)
		}
		out = append(out, Field{Name: name, Value: val})
	}

	// Consume the closing brace.
	if _, err := dec.Token(); err != nil {
		return err
	}

	*s = out
	return nil
}

// parseFieldValue classifies a raw JSON value into the tagged union.
func parseFieldValue(raw json.RawMessage) (FieldValue, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return Null(), nil
	}
	switch trimmed[0] {
	case '"':
		var str string
		if err := json.Unmarshal(trimmed, &str); err != nil {
			return FieldValue{}, err
		}
		return String(str), nil
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(trimmed, &b); err != nil {
			return FieldValue{}, err
		}
		return Bool(b), nil
	case '{', '[':
		return Blob(append(json.RawMessage(nil), trimmed...)), nil
	default:
		var n float64
		if err := json.Unmarshal(trimmed, &n); err != nil {
			return FieldValue{}, err
		}
		return Number(n), nil
	}
}

// Entry is a single immutable audit log record. Entries are written once at
// the moment of a tracked action and never modified or deleted afterward.
type Entry struct {
	ID             string    `json:"id"`
	CompanyID      string    `json:"company_id"`
	EventTimestamp time.Time `json:"event_timestamp"`
	EventType      EventType `json:"event_type"`
	EntityType     string    `json:"entity_type"`
	EntityID       string    `json:"entity_id"`

	// ActorID is nil for system-initiated events.
	ActorID *string `json:"actor_id,omitempty"`

	OldValues Snapshot `json:"old_values,omitempty"`
	NewValues Snapshot `json:"new_values,omitempty"`

	// Checksum is a SHA-256 hex digest of this entry's content; nil on
	// legacy entries written before checksums existed.
	Checksum *string `json:"checksum,omitempty"`
	// PreviousChecksum links to the checksum of the chronologically
	// preceding entry in the same company's chain.
	PreviousChecksum *string `json:"previous_checksum,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
