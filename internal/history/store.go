// internal/history/store.go
package history

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xanthous9/intentflow/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DBPool is the database surface the store needs. *pgxpool.Pool satisfies
// it; tests substitute a mock.
type DBPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS executions (
	id          BIGSERIAL PRIMARY KEY,
	intent_id   TEXT NOT NULL,
	task        TEXT NOT NULL DEFAULT '',
	success     BOOLEAN NOT NULL,
	duration_ms BIGINT NOT NULL,
	tokens_used INTEGER NOT NULL DEFAULT 0,
	error_count INTEGER NOT NULL DEFAULT 0,
	payload     JSONB NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS executions_intent_id_idx ON executions (intent_id);
CREATE INDEX IF NOT EXISTS executions_created_at_idx ON executions (created_at DESC);
`

// ExecutionRecord is one persisted execution, as read back from the store.
type ExecutionRecord struct {
	ID         int64     `json:"id"`
	IntentID   string    `json:"intent_id"`
	Task       string    `json:"task"`
	Success    bool      `json:"success"`
	DurationMS int64     `json:"duration_ms"`
	TokensUsed int       `json:"tokens_used"`
	ErrorCount int       `json:"error_count"`
	CreatedAt  time.Time `json:"created_at"`
}

// Store persists execution results to Postgres. Persistence is optional and
// best-effort: the engine's outcome never depends on it.
type Store struct {
	pool   DBPool
	logger *zap.Logger
}

// Connect opens a pool for the URL and pings it.
func Connect(ctx context.Context, databaseURL string, logger *zap.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open history pool: %w", err)
	}
	store := NewStore(pool, logger)
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping history database: %w", err)
	}
	return store, nil
}

// NewStore wraps an existing pool.
func NewStore(pool DBPool, logger *zap.Logger) *Store {
	return &Store{pool: pool, logger: logger.Named("history")}
}

// EnsureSchema creates the executions table and indexes when absent.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure history schema: %w", err)
	}
	return nil
}

// SaveResult persists one execution outcome with the full result as JSONB.
func (s *Store) SaveResult(ctx context.Context, task string, result *schemas.ExecutionResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode execution result: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO executions (intent_id, task, success, duration_ms, tokens_used, error_count, payload)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		result.IntentID,
		task,
		result.Success,
		result.Duration.Milliseconds(),
		result.TokensUsed,
		len(result.Errors),
		payload,
	)
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}
	s.logger.Debug("Execution persisted",
		zap.String("intent_id", result.IntentID),
		zap.Bool("success", result.Success),
	)
	return nil
}

// Recent returns the newest executions, most recent first.
func (s *Store) Recent(ctx context.Context, limit int) ([]ExecutionRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, intent_id, task, success, duration_ms, tokens_used, error_count, created_at
		 FROM executions ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query executions: %w", err)
	}
	defer rows.Close()

	var records []ExecutionRecord
	for rows.Next() {
		var r ExecutionRecord
		if err := rows.Scan(&r.ID, &r.IntentID, &r.Task, &r.Success, &r.DurationMS, &r.TokensUsed, &r.ErrorCount, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan execution row: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// SuccessRate reports the fraction of successful executions for a task
// substring, over the most recent window.
func (s *Store) SuccessRate(ctx context.Context, taskLike string, window int) (float64, error) {
	if window <= 0 {
		window = 100
	}
	var total, succeeded int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*), count(*) FILTER (WHERE success)
		 FROM (SELECT success FROM executions WHERE task ILIKE '%' || $1 || '%'
		       ORDER BY created_at DESC LIMIT $2) w`,
		taskLike, window).Scan(&total, &succeeded)
	if err != nil {
		return 0, fmt.Errorf("query success rate: %w", err)
	}
	if total == 0 {
		return 0, nil
	}
	return float64(succeeded) / float64(total), nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}
