package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/evanrhodes/tern/internal/observability"
	"github.com/evanrhodes/tern/pkg/llm"
)

// SQLiteStore keeps one row per session with the message history as a
// JSON blob. All writes are transactional upserts, so a committed
// session survives crashes without a repair pass.
type SQLiteStore struct {
	db     *sql.DB
	logger zerolog.Logger
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS schema_meta (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	turn_count INTEGER NOT NULL DEFAULT 0,
	total_tokens INTEGER NOT NULL DEFAULT 0,
	schema_version INTEGER NOT NULL,
	body BLOB NOT NULL
);
`

// NewSQLiteStore opens (or creates) the database at path and applies
// the schema.
func NewSQLiteStore(path string, logger zerolog.Logger) (*SQLiteStore, error) {
	observability.EnsureRegistered()

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, llm.WrapError(llm.CodeSessionFailed, "failed to open session database", false, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, llm.WrapError(llm.CodeSessionFailed, "failed to apply session schema", false, err)
	}

	var version int
	err = db.QueryRow(`SELECT version FROM schema_meta LIMIT 1`).Scan(&version)
	switch {
	case err == sql.ErrNoRows:
		if _, err := db.Exec(`INSERT INTO schema_meta (version) VALUES (?)`, SchemaVersion); err != nil {
			db.Close()
			return nil, llm.WrapError(llm.CodeSessionFailed, "failed to record schema version", false, err)
		}
	case err != nil:
		db.Close()
		return nil, llm.WrapError(llm.CodeSessionFailed, "failed to read schema version", false, err)
	case version != SchemaVersion:
		db.Close()
		return nil, llm.NewError(llm.CodeSessionFailed, "session database schema version mismatch", false)
	}

	logger.Info().Str("path", path).Msg("SQLite session store initialized")
	return &SQLiteStore{db: db, logger: logger}, nil
}

func (st *SQLiteStore) Create(ctx context.Context, systemPrompt string) (*Session, error) {
	s := newSessionWithPrompt(systemPrompt)
	if err := st.Save(ctx, s); err != nil {
		return nil, err
	}
	observability.RecordSessionAudit(ctx, "create", s.Meta.ID, nil)
	return s, nil
}

func (st *SQLiteStore) Load(ctx context.Context, id string) (*Session, error) {
	start := time.Now()
	defer func() {
		observability.RecordSessionLoad(time.Since(start))
	}()

	if err := validateID(id); err != nil {
		return nil, err
	}

	var body []byte
	err := st.db.QueryRowContext(ctx, `SELECT body FROM sessions WHERE id = ?`, id).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound(id)
	}
	if err != nil {
		return nil, llm.WrapError(llm.CodeSessionFailed, "failed to load session", false, err)
	}

	var s Session
	if err := json.Unmarshal(body, &s); err != nil {
		return nil, llm.WrapError(llm.CodeSessionFailed, "session row is corrupt", false, err)
	}
	return &s, nil
}

func (st *SQLiteStore) Save(ctx context.Context, s *Session) error {
	start := time.Now()
	defer func() {
		observability.RecordSessionSave(time.Since(start))
	}()

	if err := validateID(s.Meta.ID); err != nil {
		return err
	}

	body, err := json.Marshal(s)
	if err != nil {
		return llm.WrapError(llm.CodeSessionFailed, "failed to encode session", false, err)
	}

	_, err = st.db.ExecContext(ctx, `
		INSERT INTO sessions (id, created_at, updated_at, turn_count, total_tokens, schema_version, body)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			updated_at = excluded.updated_at,
			turn_count = excluded.turn_count,
			total_tokens = excluded.total_tokens,
			schema_version = excluded.schema_version,
			body = excluded.body`,
		s.Meta.ID, s.Meta.CreatedAt, s.Meta.UpdatedAt,
		s.Meta.TurnCount, s.Meta.TotalTokens, s.SchemaVersion, body)
	if err != nil {
		return llm.WrapError(llm.CodeSessionFailed, "failed to save session", false, err)
	}
	return nil
}

func (st *SQLiteStore) Exists(ctx context.Context, id string) (bool, error) {
	if err := validateID(id); err != nil {
		return false, err
	}
	var one int
	err := st.db.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE id = ?`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, llm.WrapError(llm.CodeSessionFailed, "failed to check session", false, err)
	}
	return true, nil
}

func (st *SQLiteStore) Delete(ctx context.Context, id string) error {
	if err := validateID(id); err != nil {
		return err
	}
	if _, err := st.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return llm.WrapError(llm.CodeSessionFailed, "failed to delete session", false, err)
	}
	observability.RecordSessionAudit(ctx, "delete", id, nil)
	return nil
}

func (st *SQLiteStore) List(ctx context.Context) ([]string, error) {
	rows, err := st.db.QueryContext(ctx, `SELECT id FROM sessions ORDER BY id`)
	if err != nil {
		return nil, llm.WrapError(llm.CodeSessionFailed, "failed to list sessions", false, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, llm.WrapError(llm.CodeSessionFailed, "failed to scan session id", false, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, llm.WrapError(llm.CodeSessionFailed, "failed to list sessions", false, err)
	}
	return ids, nil
}

// Close closes the underlying database.
func (st *SQLiteStore) Close() error {
	return st.db.Close()
}
