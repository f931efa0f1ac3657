package audit

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS apitable_calls (
	seq           BIGSERIAL PRIMARY KEY,
	event_id      UUID        NOT NULL UNIQUE,
	tenant_id     TEXT        NOT NULL,
	agent_id      TEXT        NOT NULL DEFAULT '',
	action        TEXT        NOT NULL,
	method        TEXT        NOT NULL DEFAULT '',
	path          TEXT        NOT NULL DEFAULT '',
	params_json   JSONB,
	status        TEXT        NOT NULL,
	error_code    TEXT        NOT NULL DEFAULT '',
	http_status   INTEGER     NOT NULL DEFAULT 0,
	message_kind  TEXT        NOT NULL,
	message_hash  TEXT        NOT NULL,
	duration_ms   BIGINT      NOT NULL,
	call_canon    BYTEA       NOT NULL,
	result_canon  BYTEA       NOT NULL,
	recorded_at   TIMESTAMPTZ NOT NULL,
	hash          TEXT        NOT NULL,
	prev_hash     TEXT        NOT NULL
);
CREATE INDEX IF NOT EXISTS apitable_calls_tenant_seq ON apitable_calls (tenant_id, seq);
`

// Store persists audit records in Postgres.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new audit store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// EnsureSchema creates the audit table when it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("audit.EnsureSchema: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// ──────────────────────────────────────────────────────────────────────────────
// Write path
// ──────────────────────────────────────────────────────────────────────────────

// Record appends rec to its tenant chain. A per-tenant advisory lock
// serialises appends so concurrent writers cannot fork the chain. Hash,
// PrevHash and RecordedAt are filled in on rec.
func (s *Store) Record(ctx context.Context, rec *Record) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("audit.Record begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", tenantLockID(rec.TenantID)); err != nil {
		return fmt.Errorf("audit.Record advisory lock: %w", err)
	}

	prevHash, err := lastHashTx(ctx, tx, rec.TenantID)
	if err != nil {
		return fmt.Errorf("audit.Record last hash: %w", err)
	}
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now().UTC()
	}
	ev, err := rec.Seal(prevHash)
	if err != nil {
		return fmt.Errorf("audit.Record seal: %w", err)
	}

	var params any
	if len(rec.Params) > 0 {
		params = rec.Params
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO apitable_calls (
			event_id, tenant_id, agent_id, action, method, path, params_json,
			status, error_code, http_status, message_kind, message_hash, duration_ms,
			call_canon, result_canon, recorded_at, hash, prev_hash
		) VALUES (
			$1,$2,$3,$4,$5,$6,$7,
			$8,$9,$10,$11,$12,$13,
			$14,$15,$16,$17,$18
		)`,
		rec.EventID, rec.TenantID, rec.AgentID, rec.Action, rec.Method, rec.Path, params,
		rec.Result.Status, rec.Result.ErrorCode, rec.Result.HTTPStatus,
		rec.Result.MessageKind, rec.Result.MessageSHA256, rec.Result.DurationMS,
		ev.CanonCall, ev.CanonResult, rec.RecordedAt, rec.Hash, rec.PrevHash,
	)
	if err != nil {
		return fmt.Errorf("audit.Record insert: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("audit.Record commit: %w", err)
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Read path
// ──────────────────────────────────────────────────────────────────────────────

// GetRecord retrieves a single record by event ID. It returns nil, nil when
// no record exists.
func (s *Store) GetRecord(ctx context.Context, eventID string) (*Record, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT event_id::text, tenant_id, agent_id, action, method, path, params_json,
		       status, error_code, http_status, message_kind, message_hash, duration_ms,
		       recorded_at, hash, prev_hash
		FROM apitable_calls WHERE event_id = $1`, eventID)

	var rec Record
	var params []byte
	err := row.Scan(
		&rec.EventID, &rec.TenantID, &rec.AgentID,
		&rec.Action, &rec.Method, &rec.Path, &params,
		&rec.Result.Status, &rec.Result.ErrorCode, &rec.Result.HTTPStatus,
		&rec.Result.MessageKind, &rec.Result.MessageSHA256, &rec.Result.DurationMS,
		&rec.RecordedAt, &rec.Hash, &rec.PrevHash,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("audit.GetRecord: %w", err)
	}
	if len(params) > 0 {
		rec.Params = json.RawMessage(params)
	}
	return &rec, nil
}

// ChainEvents returns a tenant's chain after seq, oldest first.
func (s *Store) ChainEvents(ctx context.Context, tenantID string, afterSeq int64) ([]ChainEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT seq, event_id::text, hash, prev_hash, call_canon, result_canon
		FROM apitable_calls
		WHERE tenant_id = $1 AND seq > $2
		ORDER BY seq ASC`, tenantID, afterSeq)
	if err != nil {
		return nil, fmt.Errorf("audit.ChainEvents: %w", err)
	}
	defer rows.Close()

	var events []ChainEvent
	for rows.Next() {
		var ev ChainEvent
		if err := rows.Scan(&ev.Seq, &ev.EventID, &ev.Hash, &ev.PrevHash, &ev.CanonCall, &ev.CanonResult); err != nil {
			return nil, fmt.Errorf("audit.ChainEvents scan: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit.ChainEvents iteration: %w", err)
	}
	return events, nil
}

// VerifyTenant checks the full chain of a tenant and returns its length.
func (s *Store) VerifyTenant(ctx context.Context, tenantID string) (int, error) {
	events, err := s.ChainEvents(ctx, tenantID, 0)
	if err != nil {
		return 0, err
	}
	if err := VerifyChain(events); err != nil {
		return len(events), err
	}
	return len(events), nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────────────────────────────────

// lastHashTx fetches the latest hash for a tenant inside an existing transaction.
func lastHashTx(ctx context.Context, tx pgx.Tx, tenantID string) (string, error) {
	var h string
	err := tx.QueryRow(ctx, `
		SELECT hash FROM apitable_calls
		WHERE tenant_id = $1
		ORDER BY seq DESC LIMIT 1`, tenantID).Scan(&h)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return h, err
}

// tenantLockID produces a deterministic int64 advisory-lock ID from a tenant string.
func tenantLockID(tenantID string) int64 {
	h := fnv.New64a()
	h.Write([]byte("apitable_calls:" + tenantID))
	return int64(binary.BigEndian.Uint64(h.Sum(nil)))
}
