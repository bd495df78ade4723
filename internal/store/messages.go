package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

type pgMessages struct {
	q querier
}

func (r *pgMessages) Insert(ctx context.Context, m *Message) error {
	query := `
		INSERT INTO messages (
			uid, type_id, producer_id, producer_version, user_id, app_id,
			content_encoding, content_type, content,
			correlation_id_1, correlation_id_2, correlation_id_3,
			timestamp, timestamp_raw
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING created_at
	`

	err := r.q.QueryRowContext(ctx, query,
		m.UID, m.TypeID, m.ProducerID, nullString(m.ProducerVersion), nullString(m.UserID), nullString(m.AppID),
		m.ContentEncoding, m.ContentType, m.Content,
		nullString(m.CorrelationID1), nullString(m.CorrelationID2), nullString(m.CorrelationID3),
		m.Timestamp, m.TimestampRaw,
	).Scan(&m.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateKey.WithCause(err).WithDetail("uid", m.UID)
		}
		return fmt.Errorf("insert message %s: %w", m.UID, err)
	}
	return nil
}

func (r *pgMessages) Get(ctx context.Context, uid string) (*Message, error) {
	query := `
		SELECT uid, type_id, producer_id, COALESCE(producer_version, ''), COALESCE(user_id, ''), COALESCE(app_id, ''),
			content_encoding, content_type, content,
			COALESCE(correlation_id_1, ''), COALESCE(correlation_id_2, ''), COALESCE(correlation_id_3, ''),
			timestamp, timestamp_raw, content_purged, created_at
		FROM messages
		WHERE uid = $1
	`

	var m Message
	err := r.q.QueryRowContext(ctx, query, uid).Scan(
		&m.UID, &m.TypeID, &m.ProducerID, &m.ProducerVersion, &m.UserID, &m.AppID,
		&m.ContentEncoding, &m.ContentType, &m.Content,
		&m.CorrelationID1, &m.CorrelationID2, &m.CorrelationID3,
		&m.Timestamp, &m.TimestampRaw, &m.ContentPurged, &m.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("message", uid)
	}
	if err != nil {
		return nil, fmt.Errorf("get message %s: %w", uid, err)
	}
	return &m, nil
}

func (r *pgMessages) PurgeContent(ctx context.Context, uid string) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE messages SET content = NULL, content_purged = TRUE WHERE uid = $1`, uid)
	if err != nil {
		return fmt.Errorf("purge message %s: %w", uid, err)
	}
	return expectRow(res, "message", uid)
}
