package db

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/morezero/jsonrpc2/pkg/events"
)

const journalLogPrefix = "db:journal"

// FailureRecord is one row of the invocation failure journal.
type FailureRecord struct {
	ID           int64           `json:"id"`
	Method       string          `json:"method"`
	Lane         string          `json:"lane,omitempty"`
	RequestID    json.RawMessage `json:"requestId,omitempty"`
	Notification bool            `json:"notification"`
	Code         int             `json:"code"`
	Message      string          `json:"message"`
	Detail       string          `json:"detail,omitempty"`
	OccurredAt   time.Time       `json:"occurredAt"`
}

// MethodCount is the number of journaled failures for one method.
type MethodCount struct {
	Method string `json:"method"`
	Count  int64  `json:"count"`
}

// Journal persists invocation failure events. It implements events.EventPublisher.
type Journal struct {
	pool *pgxpool.Pool
}

// NewJournal creates a new Journal with the given connection pool.
func NewJournal(pool *pgxpool.Pool) *Journal {
	return &Journal{pool: pool}
}

// PublishFailed inserts one failure event.
func (j *Journal) PublishFailed(ctx context.Context, event *events.InvocationFailedEvent) error {
	occurred := time.Now().UTC()
	if event.Timestamp != "" {
		if ts, err := time.Parse(time.RFC3339Nano, event.Timestamp); err == nil {
			occurred = ts
		}
	}

	var requestID *string
	if len(event.ID) > 0 {
		s := string(event.ID)
		requestID = &s
	}

	_, err := j.pool.Exec(ctx,
		`INSERT INTO invocation_failures (method, lane, request_id, notification, code, message, detail, occurred_at)
		 VALUES ($1, $2, $3::jsonb, $4, $5, $6, $7, $8)`,
		event.Method, event.Lane, requestID, event.Notification, event.Code, event.Message, event.Detail, occurred)
	if err != nil {
		return fmt.Errorf("%s - insert failure for %s: %w", journalLogPrefix, event.Method, err)
	}
	slog.Debug(fmt.Sprintf("%s - Journaled failure for %s (code %d)", journalLogPrefix, event.Method, event.Code))
	return nil
}

// Recent returns up to limit failures, newest first. limit <= 0 means 50.
func (j *Journal) Recent(ctx context.Context, limit int) ([]FailureRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.pool.Query(ctx,
		`SELECT id, method, lane, request_id::text, notification, code, message, detail, occurred_at
		 FROM invocation_failures
		 ORDER BY occurred_at DESC, id DESC
		 LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("%s - query recent failures: %w", journalLogPrefix, err)
	}
	defer rows.Close()

	var out []FailureRecord
	for rows.Next() {
		var (
			r         FailureRecord
			requestID *string
		)
		if err := rows.Scan(&r.ID, &r.Method, &r.Lane, &requestID, &r.Notification,
			&r.Code, &r.Message, &r.Detail, &r.OccurredAt); err != nil {
			return nil, fmt.Errorf("%s - scan failure row: %w", journalLogPrefix, err)
		}
		if requestID != nil {
			r.RequestID = json.RawMessage(*requestID)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s - iterate failures: %w", journalLogPrefix, err)
	}
	return out, nil
}

// CountByMethod returns failure counts per method since the given time, highest first.
func (j *Journal) CountByMethod(ctx context.Context, since time.Time) ([]MethodCount, error) {
	rows, err := j.pool.Query(ctx,
		`SELECT method, COUNT(*)
		 FROM invocation_failures
		 WHERE occurred_at >= $1
		 GROUP BY method
		 ORDER BY COUNT(*) DESC, method`, since)
	if err != nil {
		return nil, fmt.Errorf("%s - count failures: %w", journalLogPrefix, err)
	}
	defer rows.Close()

	var out []MethodCount
	for rows.Next() {
		var c MethodCount
		if err := rows.Scan(&c.Method, &c.Count); err != nil {
			return nil, fmt.Errorf("%s - scan count row: %w", journalLogPrefix, err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Purge deletes failures older than the given age and returns how many were removed.
func (j *Journal) Purge(ctx context.Context, olderThan time.Duration) (int64, error) {
	slog.Info(fmt.Sprintf("%s - Purging failures older than %s", journalLogPrefix, olderThan))
	tag, err := j.pool.Exec(ctx,
		`DELETE FROM invocation_failures WHERE occurred_at < $1`, time.Now().UTC().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("%s - purge failed: %w", journalLogPrefix, err)
	}
	return tag.RowsAffected(), nil
}

// Ping checks database connectivity.
func (j *Journal) Ping(ctx context.Context) error {
	return j.pool.Ping(ctx)
}
