package audit

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MaxQueryLimit caps the number of entries any single query returns.
var MaxQueryLimit = 500

// Validation errors for audit recording.
var (
	// ErrNilRepository is returned when a nil repository is passed to recording functions.
	ErrNilRepository = errors.New("audit repository cannot be nil")
	// ErrInvalidCompanyID is returned when the company ID is empty.
	ErrInvalidCompanyID = errors.New("company ID cannot be empty")
	// ErrInvalidEventType is returned when the event type is empty or unknown.
	ErrInvalidEventType = errors.New("invalid event type")
	// ErrInvalidEntityType is returned when an invalid entity type is provided.
	ErrInvalidEntityType = errors.New("entity type cannot be empty")
	// ErrInvalidEntityID is returned when an invalid entity ID is provided.
	ErrInvalidEntityID = errors.New("entity ID cannot be empty")
)

// RecordInput is the input for appending an audit entry.
type RecordInput struct {
	CompanyID      string
	EventTimestamp time.Time // zero value means "now"
	EventType      EventType
	EntityType     string
	EntityID       string
	ActorID        *string // nil for system-initiated events
	OldValues      Snapshot
	NewValues      Snapshot
}

// Filter narrows an audit query. Zero values mean "no constraint" except
// CompanyID, which is always required: the trail is tenant-scoped.
type Filter struct {
	CompanyID  string
	EventTypes []EventType
	EntityType string
	EntityID   string
	ActorID    string
	From       time.Time
	To         time.Time
	// Limit caps returned entries; values <= 0 or above MaxQueryLimit are
	// clamped to MaxQueryLimit.
	Limit int
}

// effectiveLimit resolves the filter's limit against the hard cap.
func (f Filter) effectiveLimit() int {
	if f.Limit <= 0 || f.Limit > MaxQueryLimit {
		return MaxQueryLimit
	}
	return f.Limit
}

// matches reports whether an entry satisfies every filter constraint
// other than the limit.
func (f Filter) matches(e *Entry) bool {
	if e.CompanyID != f.CompanyID {
		return false
	}
	if len(f.EventTypes) > 0 {
		found := false
		for _, et := range f.EventTypes {
			if e.EventType == et {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.EntityType != "" && e.EntityType != f.EntityType {
		return false
	}
	if f.EntityID != "" && e.EntityID != f.EntityID {
		return false
	}
	if f.ActorID != "" && (e.ActorID == nil || *e.ActorID != f.ActorID) {
		return false
	}
	if !f.From.IsZero() && e.EventTimestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.EventTimestamp.After(f.To) {
		return false
	}
	return true
}

// Repository defines the audit trail storage contract. The trail is
// append-only: implementations must never expose mutation or deletion.
type Repository interface {
	// Append records a new entry at the head of the company's chain,
	// computing its checksum and linking it to the previous entry.
	// Returns the stored entry.
	Append(ctx context.Context, input RecordInput) (*Entry, error)

	// Query retrieves entries matching the filter, sorted newest-first by
	// (event_timestamp, created_at), capped at the filter's effective
	// limit. A backdated EventTimestamp therefore sorts by its stated
	// event time, which can differ from the chain's append order.
	Query(ctx context.Context, filter Filter) ([]*Entry, error)

	// LastChecksum returns the checksum at the head of the company's
	// chain, or the empty string when the chain is empty or the head
	// entry predates checksums.
	LastChecksum(ctx context.Context, companyID string) (string, error)
}

// validateRecordInput checks the required fields of a record input.
func validateRecordInput(input RecordInput) error {
	if input.CompanyID == "" {
		return ErrInvalidCompanyID
	}
	if !ValidEventTypes[input.EventType] {
		return ErrInvalidEventType
	}
	if input.EntityType == "" {
		return ErrInvalidEntityType
	}
	if input.EntityID == "" {
		return ErrInvalidEntityID
	}
	return nil
}

// InMemoryRepository is an in-memory implementation of Repository.
// Used for testing and development. Thread-safe via RWMutex.
type InMemoryRepository struct {
	mu sync.RWMutex
	// entries holds each company's chain in append order (oldest first).
	entries map[string][]*Entry
}

// NewInMemoryRepository creates a new in-memory audit repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		entries: make(map[string][]*Entry),
	}
}

// Append records a new entry at the head of the company's chain.
func (r *InMemoryRepository) Append(ctx context.Context, input RecordInput) (*Entry, error) {
	if err := validateRecordInput(input); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	ts := input.EventTimestamp
	if ts.IsZero() {
		ts = now
	}

	entry := &Entry{
		ID:             uuid.New().String(),
		CompanyID:      input.CompanyID,
		EventTimestamp: ts,
		EventType:      input.EventType,
		EntityType:     input.EntityType,
		EntityID:       input.EntityID,
		ActorID:        input.ActorID,
		OldValues:      input.OldValues,
		NewValues:      input.NewValues,
		CreatedAt:      now,
	}

	previous := r.lastChecksumLocked(input.CompanyID)
	checksum, err := ComputeChecksum(entry, previous)
	if err != nil {
		return nil, err
	}
	entry.Checksum = &checksum
	if previous != "" {
		prev := previous
		entry.PreviousChecksum = &prev
	}

	r.entries[input.CompanyID] = append(r.entries[input.CompanyID], entry)

	// Return a copy to prevent external modification
	entryCopy := *entry
	return &entryCopy, nil
}

// Query retrieves entries matching the filter, newest-first by
// (event_timestamp, created_at). This matches the Postgres ORDER BY, so
// both implementations return the same window even when an entry was
// appended with a backdated event timestamp.
func (r *InMemoryRepository) Query(ctx context.Context, filter Filter) ([]*Entry, error) {
	if filter.CompanyID == "" {
		return nil, ErrInvalidCompanyID
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var results []*Entry
	for _, entry := range r.entries[filter.CompanyID] {
		if !filter.matches(entry) {
			continue
		}
		entryCopy := *entry
		results = append(results, &entryCopy)
	}

	sort.SliceStable(results, func(i, j int) bool {
		if !results[i].EventTimestamp.Equal(results[j].EventTimestamp) {
			return results[i].EventTimestamp.After(results[j].EventTimestamp)
		}
		return results[i].CreatedAt.After(results[j].CreatedAt)
	})

	if limit := filter.effectiveLimit(); len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// LastChecksum returns the checksum at the head of the company's chain.
func (r *InMemoryRepository) LastChecksum(ctx context.Context, companyID string) (string, error) {
	if companyID == "" {
		return "", ErrInvalidCompanyID
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastChecksumLocked(companyID), nil
}

// lastChecksumLocked requires r.mu to be held.
func (r *InMemoryRepository) lastChecksumLocked(companyID string) string {
	chain := r.entries[companyID]
	if len(chain) == 0 {
		return ""
	}
	head := chain[len(chain)-1]
	if head.Checksum == nil {
		return ""
	}
	return *head.Checksum
}
