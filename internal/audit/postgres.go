package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/antevus/labtrail/internal/tracing"
)

// PostgresRepository is the production Repository backed by the
// audit_events table. The unique index on sequence_number is the
// multi-writer safety net: a writer that loses the append race gets
// ErrSequenceConflict instead of forking the chain.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a Postgres-backed audit repository.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const auditColumns = `id, user_id, event_type, resource_type, resource_id, success,
	error_message, request_id, ip_address, user_agent, metadata,
	hash, previous_hash, signature, sequence_number, merkle_root, created_at`

// Append persists an event. Returns ErrSequenceConflict when another
// writer already holds the sequence number.
func (r *PostgresRepository) Append(ctx context.Context, e *Event) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "audit_events", tracing.DBOperationInsert)
	defer func() { endSpan(err) }()

	var metadata []byte
	if e.Metadata != nil {
		metadata, err = json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("failed to serialize event metadata: %w", err)
		}
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO audit_events (`+auditColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		e.ID,
		nullString(e.UserID),
		e.EventType,
		nullString(e.ResourceType),
		nullString(e.ResourceID),
		e.Success,
		nullString(e.ErrorMessage),
		nullString(e.RequestID),
		nullString(e.IPAddress),
		nullString(e.UserAgent),
		metadata,
		e.Hash,
		e.PreviousHash,
		e.Signature,
		e.SequenceNumber,
		nullString(e.MerkleRoot),
		e.Timestamp,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrSequenceConflict
		}
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

// Latest returns the event with the highest sequence number, or nil when
// the log is empty.
func (r *PostgresRepository) Latest(ctx context.Context) (*Event, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+auditColumns+`
		FROM audit_events
		ORDER BY sequence_number DESC
		LIMIT 1`)

	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

// QueryRange returns events within [start, end] sorted by timestamp
// ascending, with sequence number as the tiebreaker.
func (r *PostgresRepository) QueryRange(ctx context.Context, start, end time.Time) (events []*Event, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "audit_events", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	query := `SELECT ` + auditColumns + ` FROM audit_events`
	var args []any
	var conditions []string

	if !start.IsZero() {
		args = append(args, start)
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if !end.IsZero() {
		args = append(args, end)
		conditions = append(conditions, fmt.Sprintf("created_at <= $%d", len(args)))
	}
	for i, c := range conditions {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}
	query += " ORDER BY created_at ASC, sequence_number ASC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// QueryByUser returns events for a user, newest first. Limit 0 means no limit.
func (r *PostgresRepository) QueryByUser(ctx context.Context, userID string, limit int) (events []*Event, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "audit_events", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	query := `SELECT ` + auditColumns + `
		FROM audit_events
		WHERE user_id = $1
		ORDER BY created_at DESC, sequence_number DESC`
	args := []any{userID}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events by user: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*Event, error) {
	var e Event
	var userID, resourceType, resourceID, errorMessage sql.NullString
	var requestID, ipAddress, userAgent, merkleRoot sql.NullString
	var metadata []byte

	err := row.Scan(
		&e.ID,
		&userID,
		&e.EventType,
		&resourceType,
		&resourceID,
		&e.Success,
		&errorMessage,
		&requestID,
		&ipAddress,
		&userAgent,
		&metadata,
		&e.Hash,
		&e.PreviousHash,
		&e.Signature,
		&e.SequenceNumber,
		&merkleRoot,
		&e.Timestamp,
	)
	if err != nil {
		return nil, err
	}

	e.UserID = userID.String
	e.ResourceType = resourceType.String
	e.ResourceID = resourceID.String
	e.ErrorMessage = errorMessage.String
	e.RequestID = requestID.String
	e.IPAddress = ipAddress.String
	e.UserAgent = userAgent.String
	e.MerkleRoot = merkleRoot.String
	e.Timestamp = e.Timestamp.UTC()

	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode event metadata: %w", err)
		}
	}
	return &e, nil
}

func scanEvents(rows *sql.Rows) ([]*Event, error) {
	var events []*Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit events: %w", err)
	}
	return events, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
