package shared

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// AuditEntry represents a record stored in activity_logs. EntryID is the
// stable external reference for the row; it is generated on write when the
// caller leaves it empty.
type AuditEntry struct {
	EntryID string
	TeamID  int64
	UserID  int64
	Action  string
	Meta    map[string]any
	At      time.Time
}

// AuditExecutor is satisfied by pgxpool.Pool and pgx.Tx. Mutating services
// pass their transaction so the audit row commits or rolls back together
// with the mutation it describes.
type AuditExecutor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// AuditLogger writes append-only rows into activity_logs.
type AuditLogger struct{}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger() *AuditLogger {
	return &AuditLogger{}
}

// Record persists the log entry using the supplied executor.
func (l *AuditLogger) Record(ctx context.Context, db AuditExecutor, entry AuditEntry) error {
	if l == nil || db == nil {
		return errors.New("audit logger not initialised")
	}
	if entry.TeamID == 0 || entry.Action == "" {
		return errors.New("audit entry requires team and action")
	}
	metaJSON, err := json.Marshal(entry.Meta)
	if err != nil {
		return err
	}
	if entry.EntryID == "" {
		entry.EntryID = uuid.NewString()
	}
	_, err = db.Exec(ctx, `INSERT INTO activity_logs (entry_id, team_id, user_id, action, meta, occurred_at) VALUES ($1, $2, $3, $4, $5, COALESCE(NULLIF($6, '0001-01-01'::timestamptz), NOW()))`,
		entry.EntryID, entry.TeamID, entry.UserID, entry.Action, metaJSON, entry.At)
	return err
}
