package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// checksumEncMode is a deterministic CBOR encoding mode. Core deterministic
// encoding guarantees the same entry content always produces the same bytes,
// which is what makes the checksum chain reproducible across writers.
var checksumEncMode cbor.EncMode

func init() {
	mode, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("audit: invalid CBOR encoding options: %v", err))
	}
	checksumEncMode = mode
}

// checksumPayload is the canonical content an entry's checksum covers.
// CreatedAt is excluded: it is storage metadata, not event content.
type checksumPayload struct {
	ID               string    `cbor:"id"`
	CompanyID        string    `cbor:"company_id"`
	EventTimestampNS int64     `cbor:"event_timestamp_ns"`
	EventType        EventType `cbor:"event_type"`
	EntityType       string    `cbor:"entity_type"`
	EntityID         string    `cbor:"entity_id"`
	ActorID          string    `cbor:"actor_id"`
	OldValues        Snapshot  `cbor:"old_values"`
	NewValues        Snapshot  `cbor:"new_values"`
	PreviousChecksum string    `cbor:"previous_checksum"`
}

// ComputeChecksum derives the SHA-256 hex checksum for an entry, covering
// its content and the checksum of its chain predecessor. previousChecksum
// is the empty string for the first entry in a company's chain.
func ComputeChecksum(e *Entry, previousChecksum string) (string, error) {
	payload := checksumPayload{
		ID:               e.ID,
		CompanyID:        e.CompanyID,
		EventTimestampNS: e.EventTimestamp.UnixNano(),
		EventType:        e.EventType,
		EntityType:       e.EntityType,
		EntityID:         e.EntityID,
		OldValues:        e.OldValues,
		NewValues:        e.NewValues,
		PreviousChecksum: previousChecksum,
	}
	if e.ActorID != nil {
		payload.ActorID = *e.ActorID
	}

	encoded, err := checksumEncMode.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode entry for checksum: %w", err)
	}

	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:]), nil
}
