package audit

import (
	"context"
	"log/slog"
)

type recordStore interface {
	Record(context.Context, *Record) error
}

// Logger emits a structured log line for every record and persists it when
// a store is configured.
type Logger struct {
	store recordStore
	log   *slog.Logger
}

// NewLogger creates an audit logger. A nil store makes the logger log-only.
func NewLogger(store recordStore, log *slog.Logger) *Logger {
	if log == nil {
		log = slog.Default()
	}
	return &Logger{store: store, log: log}
}

// Record persists and logs rec.
func (l *Logger) Record(ctx context.Context, rec *Record) error {
	if l.store != nil {
		if err := l.store.Record(ctx, rec); err != nil {
			l.log.ErrorContext(ctx, "audit record failed",
				"event_id", rec.EventID,
				"tenant_id", rec.TenantID,
				"error", err,
			)
			return err
		}
	}

	l.log.InfoContext(ctx, "apitable call recorded",
		"event_id", rec.EventID,
		"tenant_id", rec.TenantID,
		"agent_id", rec.AgentID,
		"action", rec.Action,
		"method", rec.Method,
		"path", rec.Path,
		"status", rec.Result.Status,
		"error_code", rec.Result.ErrorCode,
		"http_status", rec.Result.HTTPStatus,
		"duration_ms", rec.Result.DurationMS,
		"hash", rec.Hash,
	)
	return nil
}
