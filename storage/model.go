package storage

import (
	"github.com/jackc/pgx/v5"

	"github.com/systeric/pgqueue/message"
)

// columns is the fixed column order every SELECT/RETURNING in this
// package uses, matched one-to-one by scanMessage.
const columns = "id, type, payload, status, priority, retry_count, max_retries, last_error, next_retry_at, created_at, updated_at"

// rowScanner abstracts pgx.Row and pgx.Rows, the two types this package
// scans result rows from.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*message.Message, error) {
	var m message.Message
	var status string
	if err := row.Scan(
		&m.Id,
		&m.Type,
		&m.Payload,
		&status,
		&m.Priority,
		&m.RetryCount,
		&m.MaxRetries,
		&m.LastError,
		&m.NextRetryAt,
		&m.CreatedAt,
		&m.UpdatedAt,
	); err != nil {
		return nil, err
	}
	parsed, err := message.ParseStatus(status)
	if err != nil {
		return nil, err
	}
	m.Status = parsed
	return &m, nil
}

// isNoRows reports whether err is pgx's no-rows sentinel.
func isNoRows(err error) bool {
	return err == pgx.ErrNoRows
}
