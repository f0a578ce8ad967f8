// Package store persists assembled artifacts and recovery verdicts in
// PostgreSQL. A corrected payload becomes a new revision of the same
// identifier; history is never rewritten.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/koopa0/canvas/internal/artifact"
	"github.com/koopa0/canvas/internal/log"
	"github.com/koopa0/canvas/internal/recovery"
	"github.com/koopa0/canvas/internal/resolve"
)

// ErrNotFound is returned when no row matches.
var ErrNotFound = errors.New("store: not found")

// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	pool   *pgxpool.Pool
	logger log.Logger
}

// New creates a Store on an open connection pool.
func New(pool *pgxpool.Pool, logger log.Logger) *Store {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Store{pool: pool, logger: logger}
}

// SaveArtifact inserts the artifact as the next revision of its identifier
// and returns the revision number.
func (s *Store) SaveArtifact(ctx context.Context, a *artifact.Artifact) (int, error) {
	if err := a.Validate(); err != nil {
		return 0, fmt.Errorf("save artifact: %w", err)
	}

	files, err := json.Marshal(a.Files)
	if err != nil {
		return 0, fmt.Errorf("encode files: %w", err)
	}
	deps, err := json.Marshal(a.Dependencies)
	if err != nil {
		return 0, fmt.Errorf("encode dependencies: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var revision int
	err = tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(revision), 0) + 1 FROM artifacts WHERE identifier = $1`,
		a.Identifier,
	).Scan(&revision)
	if err != nil {
		return 0, fmt.Errorf("next revision: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO artifacts
		   (identifier, revision, kind, title, description, message_id, confidence, files, dependencies)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.Identifier, revision, string(a.Kind), a.Title, a.Description,
		pgtype.UUID{Bytes: a.MessageID, Valid: true}, a.Confidence, files, deps,
	)
	if err != nil {
		return 0, fmt.Errorf("insert artifact: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}

	s.logger.Debug("artifact saved", "identifier", a.Identifier, "revision", revision)
	return revision, nil
}

// GetArtifact returns the latest revision of an identifier.
func (s *Store) GetArtifact(ctx context.Context, identifier string) (*artifact.Artifact, error) {
	var (
		a         artifact.Artifact
		kind      string
		messageID pgtype.UUID
		files     []byte
		deps      []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT identifier, kind, title, description, message_id, confidence, files, dependencies, created_at
		   FROM artifacts
		  WHERE identifier = $1
		  ORDER BY revision DESC
		  LIMIT 1`,
		identifier,
	).Scan(&a.Identifier, &kind, &a.Title, &a.Description, &messageID, &a.Confidence, &files, &deps, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get artifact: %w", err)
	}

	a.Kind = artifact.Kind(kind)
	a.MessageID = uuid.UUID(messageID.Bytes)
	if err := json.Unmarshal(files, &a.Files); err != nil {
		return nil, fmt.Errorf("decode files: %w", err)
	}
	if err := json.Unmarshal(deps, &a.Dependencies); err != nil {
		return nil, fmt.Errorf("decode dependencies: %w", err)
	}
	return &a, nil
}

// ListIdentifiers returns every stored identifier, most recent first.
func (s *Store) ListIdentifiers(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT identifier FROM artifacts GROUP BY identifier ORDER BY MAX(created_at) DESC`)
	if err != nil {
		return nil, fmt.Errorf("list identifiers: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan identifier: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// RecoveryRecord is one persisted recovery verdict.
type RecoveryRecord struct {
	Identifier   string
	Success      bool
	Strategy     string
	Confidence   float64
	BreakerState string
	Attempts     []resolve.Attempt
	Elapsed      time.Duration
	CreatedAt    time.Time
}

// SaveRecovery appends one orchestrator verdict to the history.
func (s *Store) SaveRecovery(ctx context.Context, identifier string, res *recovery.Result) error {
	attempts, err := json.Marshal(res.Attempts)
	if err != nil {
		return fmt.Errorf("encode attempts: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO recoveries
		   (identifier, success, strategy, confidence, breaker_state, attempts, elapsed_ms)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		identifier, res.Success, res.Strategy, res.Confidence,
		res.BreakerState.String(), attempts, res.Elapsed.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("insert recovery: %w", err)
	}
	return nil
}

// ListRecoveries returns the recovery history of an identifier, oldest
// first.
func (s *Store) ListRecoveries(ctx context.Context, identifier string) ([]RecoveryRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT identifier, success, strategy, confidence, breaker_state, attempts, elapsed_ms, created_at
		   FROM recoveries
		  WHERE identifier = $1
		  ORDER BY id`,
		identifier,
	)
	if err != nil {
		return nil, fmt.Errorf("list recoveries: %w", err)
	}
	defer rows.Close()

	var out []RecoveryRecord
	for rows.Next() {
		var (
			rec       RecoveryRecord
			attempts  []byte
			elapsedMS int64
		)
		err := rows.Scan(&rec.Identifier, &rec.Success, &rec.Strategy, &rec.Confidence,
			&rec.BreakerState, &attempts, &elapsedMS, &rec.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan recovery: %w", err)
		}
		if err := json.Unmarshal(attempts, &rec.Attempts); err != nil {
			return nil, fmt.Errorf("decode attempts: %w", err)
		}
		rec.Elapsed = time.Duration(elapsedMS) * time.Millisecond
		out = append(out, rec)
	}
	return out, rows.Err()
}
