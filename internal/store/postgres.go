package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Sentinel errors surfaced by structural document operations. The app layer
// translates them into caller-facing typed errors.
var (
	ErrParentNotFound      = errors.New("parent document not found")
	ErrCircularReference   = errors.New("move would create a cycle")
	ErrSelfParent          = errors.New("document cannot be its own parent")
	ErrInvalidPosition     = errors.New("invalid position")
	ErrSiblingSetMismatch  = errors.New("ordered ids do not match the live sibling set")
	ErrConflict            = errors.New("concurrent update conflict, retry")
	ErrStructuralInvariant = errors.New("document tree structural invariant violated")
)

const maxTreeDepth = 64

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// Ping verifies the database connection is alive.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// lockWorkspaceTree serializes structural tree mutations for one workspace.
// Transaction-scoped advisory lock: released automatically on commit/rollback.
func lockWorkspaceTree(ctx context.Context, tx *sql.Tx, workspaceID string) error {
	_, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtextextended('doctree:' || $1, 0))`, workspaceID)
	if err != nil {
		return fmt.Errorf("lock workspace tree: %w", err)
	}
	return nil
}

// retryable reports whether err is a serialization failure, deadlock, or a
// unique violation on the sibling position index - all safe to retry.
func retryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "40001", "40P01": // serialization_failure, deadlock_detected
		return true
	case "23505": // unique_violation (sibling position index)
		return pgErr.ConstraintName == "documents_sibling_position"
	}
	return false
}

func wrapRetryable(err error, verb string) error {
	if retryable(err) {
		return fmt.Errorf("%s: %w", verb, ErrConflict)
	}
	return fmt.Errorf("%s: %w", verb, err)
}

func encodeTags(tags []string) (string, error) {
	if tags == nil {
		tags = []string{}
	}
	encoded, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("marshal tags: %w", err)
	}
	return string(encoded), nil
}

func decodeTags(raw []byte, into *[]string) {
	*into = []string{}
	_ = json.Unmarshal(raw, into)
}
