package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/daryls-hrplus/intellihrm-sub048/internal/tracing"
)

// auditTable is the backing table, used for queries and span naming.
const auditTable = "audit_log_entries"

// PostgresRepository is the Postgres-backed implementation of Repository.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a Postgres audit repository.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Append records a new entry at the head of the company's chain. The chain
// head read and the insert happen in one transaction under a per-company
// advisory lock, so concurrent writers cannot fork the chain.
func (r *PostgresRepository) Append(ctx context.Context, input RecordInput) (entry *Entry, err error) {
	if err := validateRecordInput(input); err != nil {
		return nil, err
	}

	ctx, end := tracing.StartDBSpan(ctx, auditTable, tracing.DBOperationInsert)
	defer func() { end(err) }()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize appends per company.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, input.CompanyID); err != nil {
		return nil, fmt.Errorf("failed to lock audit chain: %w", err)
	}

	var previous sql.NullString
	err = tx.QueryRowContext(ctx, `
		SELECT checksum
		FROM audit_log_entries
		WHERE company_id = $1
		ORDER BY event_timestamp DESC, created_at DESC
		LIMIT 1`, input.CompanyID).Scan(&previous)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to read chain head: %w", err)
	}

	now := time.Now().UTC()
	ts := input.EventTimestamp
	if ts.IsZero() {
		ts = now
	}

	entry = &Entry{
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

	checksum, err := ComputeChecksum(entry, previous.String)
	if err != nil {
		return nil, err
	}
	entry.Checksum = &checksum
	if previous.Valid && previous.String != "" {
		prev := previous.String
		entry.PreviousChecksum = &prev
	}

	oldValues, err := snapshotJSON(entry.OldValues)
	if err != nil {
		return nil, err
	}
	newValues, err := snapshotJSON(entry.NewValues)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO audit_log_entries
			(id, company_id, event_timestamp, event_type, entity_type, entity_id,
			 actor_id, old_values, new_values, checksum, previous_checksum, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		entry.ID, entry.CompanyID, entry.EventTimestamp, string(entry.EventType),
		entry.EntityType, entry.EntityID, entry.ActorID, oldValues, newValues,
		entry.Checksum, entry.PreviousChecksum, entry.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert audit entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit audit entry: %w", err)
	}

	entryCopy := *entry
	return &entryCopy, nil
}

// Query retrieves entries matching the filter, newest-first.
func (r *PostgresRepository) Query(ctx context.Context, filter Filter) (results []*Entry, err error) {
	if filter.CompanyID == "" {
		return nil, ErrInvalidCompanyID
	}

	ctx, end := tracing.StartDBSpan(ctx, auditTable, tracing.DBOperationQuery)
	defer func() { end(err) }()

	conditions := []string{"company_id = $1"}
	args := []interface{}{filter.CompanyID}

	if len(filter.EventTypes) > 0 {
		types := make([]string, len(filter.EventTypes))
		for i, et := range filter.EventTypes {
			types[i] = string(et)
		}
		args = append(args, pq.Array(types))
		conditions = append(conditions, fmt.Sprintf("event_type = ANY($%d)", len(args)))
	}
	if filter.EntityType != "" {
		args = append(args, filter.EntityType)
		conditions = append(conditions, fmt.Sprintf("entity_type = $%d", len(args)))
	}
	if filter.EntityID != "" {
		args = append(args, filter.EntityID)
		conditions = append(conditions, fmt.Sprintf("entity_id = $%d", len(args)))
	}
	if filter.ActorID != "" {
		args = append(args, filter.ActorID)
		conditions = append(conditions, fmt.Sprintf("actor_id = $%d", len(args)))
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		conditions = append(conditions, fmt.Sprintf("event_timestamp >= $%d", len(args)))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		conditions = append(conditions, fmt.Sprintf("event_timestamp <= $%d", len(args)))
	}

	args = append(args, filter.effectiveLimit())
	query := fmt.Sprintf(`
		SELECT id, company_id, event_timestamp, event_type, entity_type, entity_id,
		       actor_id, old_values, new_values, checksum, previous_checksum, created_at
		FROM audit_log_entries
		WHERE %s
		ORDER BY event_timestamp DESC, created_at DESC
		LIMIT $%d`, strings.Join(conditions, " AND "), len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit entries: %w", err)
	}

	return results, nil
}

// LastChecksum returns the checksum at the head of the company's chain.
func (r *PostgresRepository) LastChecksum(ctx context.Context, companyID string) (head string, err error) {
	if companyID == "" {
		return "", ErrInvalidCompanyID
	}

	ctx, end := tracing.StartDBSpan(ctx, auditTable, tracing.DBOperationQuery)
	defer func() { end(err) }()

	var checksum sql.NullString
	err = r.db.QueryRowContext(ctx, `
		SELECT checksum
		FROM audit_log_entries
		WHERE company_id = $1
		ORDER BY event_timestamp DESC, created_at DESC
		LIMIT 1`, companyID).Scan(&checksum)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read chain head: %w", err)
	}
	return checksum.String, nil
}

// snapshotJSON serializes a snapshot for JSONB storage; nil stays SQL NULL.
func snapshotJSON(s Snapshot) (interface{}, error) {
	if s == nil {
		return nil, nil
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return data, nil
}

// scanEntry reads one audit row.
func scanEntry(rows *sql.Rows) (*Entry, error) {
	var (
		entry            Entry
		eventType        string
		actorID          sql.NullString
		oldValues        []byte
		newValues        []byte
		checksum         sql.NullString
		previousChecksum sql.NullString
	)
	err := rows.Scan(
		&entry.ID, &entry.CompanyID, &entry.EventTimestamp, &eventType,
		&entry.EntityType, &entry.EntityID, &actorID, &oldValues, &newValues,
		&checksum, &previousChecksum, &entry.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan audit entry: %w", err)
	}

	entry.EventType = EventType(eventType)
	if actorID.Valid {
		actor := actorID.String
		entry.ActorID = &actor
	}
	if len(oldValues) > 0 {
		if err := json.Unmarshal(oldValues, &entry.OldValues); err != nil {
			return nil, fmt.Errorf("failed to decode old values: %w", err)
		}
	}
	if len(newValues) > 0 {
		if err := json.Unmarshal(newValues, &entry.NewValues); err != nil {
			return nil, fmt.Errorf("failed to decode new values: %w", err)
		}
	}
	if checksum.Valid {
		sum := checksum.String
		entry.Checksum = &sum
	}
	if previousChecksum.Valid {
		prev := previousChecksum.String
		entry.PreviousChecksum = &prev
	}

	return &entry, nil
}
