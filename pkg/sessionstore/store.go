package sessionstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cvpilot/cvpilot/pkg/fsm"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id            TEXT PRIMARY KEY,
	version       INTEGER NOT NULL,
	stage         TEXT NOT NULL,
	document      TEXT NOT NULL,
	metadata      TEXT NOT NULL,
	artifact_refs TEXT NOT NULL,
	created_at    INTEGER NOT NULL,
	expires_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_expires_at ON sessions(expires_at);
`

// Store is the durable, versioned session store. All mutation goes
// through an optimistic-version check: a write that does not observe the
// latest version fails with ConflictError and applies nothing.
type Store struct {
	db               *sql.DB
	maxPropertyBytes int
	logger           zerolog.Logger
	now              func() time.Time
}

// Config holds store configuration.
type Config struct {
	DBPath           string
	MaxPropertyBytes int
	Logger           zerolog.Logger
	Now              func() time.Time
}

// New opens (creating if needed) the session database.
func New(cfg Config) (*Store, error) {
	if cfg.DBPath == "" {
		return nil, errors.New("database path is required")
	}
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open session database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	s := &Store{
		db:               db,
		maxPropertyBytes: cfg.MaxPropertyBytes,
		logger:           cfg.Logger,
		now:              now,
	}
	s.logger.Info().Str("path", cfg.DBPath).Msg("Session store opened")
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Create persists a new session document with version 0 in the INGEST
// stage. The initial document is capped before persistence.
func (s *Store) Create(ctx context.Context, initial map[string]interface{}, ttl time.Duration) (*Document, error) {
	if initial == nil {
		initial = map[string]interface{}{}
	}
	now := s.now().UTC()
	doc := &Document{
		ID:           uuid.NewString(),
		Version:      0,
		Stage:        fsm.StageIngest,
		Document:     capValue(initial, s.maxPropertyBytes).(map[string]interface{}),
		Metadata:     map[string]interface{}{},
		ArtifactRefs: map[string]ArtifactRef{},
		CreatedAt:    now,
		ExpiresAt:    now.Add(ttl),
	}

	if err := s.insert(ctx, doc); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("session_id", doc.ID).
		Time("expires_at", doc.ExpiresAt).
		Msg("Session created")

	return doc, nil
}

// Load returns the session or ErrSessionNotFound / ErrSessionExpired.
func (s *Store) Load(ctx context.Context, id string) (*Document, error) {
	doc, err := s.scanRow(s.db.QueryRowContext(ctx,
		`SELECT id, version, stage, document, metadata, artifact_refs, created_at, expires_at
		 FROM sessions WHERE id = ?`, id))
	if err != nil {
		return nil, err
	}
	if doc.Expired(s.now()) {
		return nil, fmt.Errorf("session %s: %w", id, ErrSessionExpired)
	}
	return doc, nil
}

// Patch applies an ordered batch of operations against the session's
// nested document. Either every op succeeds and the version increments
// by exactly one, or none are applied.
func (s *Store) Patch(ctx context.Context, id string, expectedVersion int64, ops []PatchOp) (*Document, error) {
	if len(ops) == 0 {
		return nil, fmt.Errorf("%w: empty batch", ErrPatchRejected)
	}
	return s.Update(ctx, id, expectedVersion, func(doc *Document) error {
		return applyOps(doc.Document, ops, s.maxPropertyBytes)
	})
}

// Update runs mutate against a deep copy of the stored document and
// persists the result under the optimistic-version check. It is the
// single write path: stage membership, flag exclusivity, and artifact
// ref immutability are enforced here for every mutation.
func (s *Store) Update(ctx context.Context, id string, expectedVersion int64, mutate func(*Document) error) (*Document, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	prev, err := s.scanRow(tx.QueryRowContext(ctx,
		`SELECT id, version, stage, document, metadata, artifact_refs, created_at, expires_at
		 FROM sessions WHERE id = ?`, id))
	if err != nil {
		return nil, err
	}
	if prev.Expired(s.now()) {
		return nil, fmt.Errorf("session %s: %w", id, ErrSessionExpired)
	}
	if prev.Version != expectedVersion {
		return nil, &ConflictError{
			SessionID:       id,
			ExpectedVersion: expectedVersion,
			ActualVersion:   prev.Version,
		}
	}

	next, err := prev.Clone()
	if err != nil {
		return nil, err
	}
	if err := mutate(next); err != nil {
		return nil, err
	}
	if err := checkInvariants(prev, next); err != nil {
		return nil, err
	}

	next.Version = prev.Version + 1

	docJSON, metaJSON, refsJSON, err := marshalColumns(next)
	if err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE sessions SET version = ?, stage = ?, document = ?, metadata = ?, artifact_refs = ?
		 WHERE id = ? AND version = ?`,
		next.Version, string(next.Stage), docJSON, metaJSON, refsJSON, id, expectedVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to update session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected != 1 {
		return nil, &ConflictError{SessionID: id, ExpectedVersion: expectedVersion, ActualVersion: -1}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit session update: %w", err)
	}

	s.logger.Debug().
		Str("session_id", id).
		Int64("version", next.Version).
		Str("stage", string(next.Stage)).
		Msg("Session updated")

	return next, nil
}

// PutArtifactRef appends an artifact ref under its fingerprint. The same
// fingerprint never maps to two different artifacts: re-putting an
// identical ref is a no-op, a different one is rejected.
func (s *Store) PutArtifactRef(ctx context.Context, id string, expectedVersion int64, fingerprint string, ref ArtifactRef) (*Document, error) {
	return s.Update(ctx, id, expectedVersion, func(doc *Document) error {
		if existing, ok := doc.ArtifactRefs[fingerprint]; ok {
			if existing.ArtifactID != ref.ArtifactID {
				return fmt.Errorf("%w: fingerprint %s already maps to artifact %s",
					ErrInvariantViolated, fingerprint, existing.ArtifactID)
			}
			return nil
		}
		doc.ArtifactRefs[fingerprint] = ref
		return nil
	})
}

// ExpireSweep removes sessions past their TTL and returns how many were
// removed, along with the artifact ids they referenced so the caller can
// clean up stored bytes.
func (s *Store) ExpireSweep(ctx context.Context, now time.Time) (int, []string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT artifact_refs FROM sessions WHERE expires_at < ?`, now.UnixMilli())
	if err != nil {
		return 0, nil, fmt.Errorf("failed to query expired sessions: %w", err)
	}
	var artifactIDs []string
	for rows.Next() {
		var refsJSON string
		if err := rows.Scan(&refsJSON); err != nil {
			rows.Close()
			return 0, nil, fmt.Errorf("failed to scan expired session: %w", err)
		}
		var refs map[string]ArtifactRef
		if err := json.Unmarshal([]byte(refsJSON), &refs); err != nil {
			continue
		}
		for _, ref := range refs {
			artifactIDs = append(artifactIDs, ref.ArtifactID)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, nil, fmt.Errorf("failed to iterate expired sessions: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at < ?`, now.UnixMilli())
	if err != nil {
		return 0, nil, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected > 0 {
		s.logger.Info().
			Int64("removed", affected).
			Int("artifacts", len(artifactIDs)).
			Msg("Expired sessions swept")
	}

	return int(affected), artifactIDs, nil
}

func (s *Store) insert(ctx context.Context, doc *Document) error {
	docJSON, metaJSON, refsJSON, err := marshalColumns(doc)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, version, stage, document, metadata, artifact_refs, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.Version, string(doc.Stage), docJSON, metaJSON, refsJSON,
		doc.CreatedAt.UnixMilli(), doc.ExpiresAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

func (s *Store) scanRow(row *sql.Row) (*Document, error) {
	var (
		doc                         Document
		stage                       string
		docJSON, metaJSON, refsJSON string
		createdAtMs, expiresAtMs    int64
	)
	err := row.Scan(&doc.ID, &doc.Version, &stage, &docJSON, &metaJSON, &refsJSON, &createdAtMs, &expiresAtMs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan session row: %w", err)
	}

	parsed, err := fsm.ParseStage(stage)
	if err != nil {
		return nil, err
	}
	doc.Stage = parsed

	if err := json.Unmarshal([]byte(docJSON), &doc.Document); err != nil {
		return nil, fmt.Errorf("failed to decode document column: %w", err)
	}
	if err := json.Unmarshal([]byte(metaJSON), &doc.Metadata); err != nil {
		return nil, fmt.Errorf("failed to decode metadata column: %w", err)
	}
	if err := json.Unmarshal([]byte(refsJSON), &doc.ArtifactRefs); err != nil {
		return nil, fmt.Errorf("failed to decode artifact refs column: %w", err)
	}
	doc.CreatedAt = time.UnixMilli(createdAtMs).UTC()
	doc.ExpiresAt = time.UnixMilli(expiresAtMs).UTC()
	return &doc, nil
}

func marshalColumns(doc *Document) (string, string, string, error) {
	docJSON, err := json.Marshal(doc.Document)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to marshal document: %w", err)
	}
	metaJSON, err := json.Marshal(doc.Metadata)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to marshal metadata: %w", err)
	}
	refsJSON, err := json.Marshal(doc.ArtifactRefs)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to marshal artifact refs: %w", err)
	}
	return string(docJSON), string(metaJSON), string(refsJSON), nil
}
