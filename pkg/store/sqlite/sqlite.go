package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/nstogner/agentx/pkg/domain"
	"github.com/nstogner/agentx/pkg/store"
)

// Store implements ProjectStore, MessageStore and SessionStore using SQLite.
type Store struct {
	db       *sql.DB
	sessions store.KeyLock
}

// Verify interface compliance at compile time.
var _ store.ProjectStore = (*Store)(nil)
var _ store.MessageStore = (*Store)(nil)
var _ store.SessionStore = (*Store)(nil)

// New opens (or creates) a SQLite database at the given path and runs migrations.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		sandbox_id TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		role TEXT NOT NULL,
		type TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		seq INTEGER NOT NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (project_id) REFERENCES projects(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_messages_project_seq ON messages(project_id, seq);

	CREATE TABLE IF NOT EXISTS fragments (
		id TEXT PRIMARY KEY,
		message_id TEXT NOT NULL UNIQUE,
		title TEXT NOT NULL DEFAULT '',
		files TEXT NOT NULL DEFAULT '{}',
		sandbox_url TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (message_id) REFERENCES messages(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS sessions (
		app TEXT NOT NULL,
		user_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		state TEXT NOT NULL DEFAULT '{}',
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (app, user_id, session_id)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// --- ProjectStore ---

func (s *Store) CreateProject(ctx context.Context, p *domain.Project) error {
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO projects (id, name, sandbox_id, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.SandboxID, p.CreatedAt, p.UpdatedAt,
	)
	return err
}

func (s *Store) GetProject(ctx context.Context, id string) (*domain.Project, error) {
	p := &domain.Project{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, sandbox_id, created_at, updated_at FROM projects WHERE id = ?`, id,
	).Scan(&p.ID, &p.Name, &p.SandboxID, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrProjectNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Store) ListProjects(ctx context.Context) ([]domain.Project, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, sandbox_id, created_at, updated_at FROM projects ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var projects []domain.Project
	for rows.Next() {
		var p domain.Project
		if err := rows.Scan(&p.ID, &p.Name, &p.SandboxID, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

func (s *Store) CountProjects(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM projects`).Scan(&n)
	return n, err
}

func (s *Store) UpdateSandboxID(ctx context.Context, projectID, sandboxID string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE projects SET sandbox_id=?, updated_at=? WHERE id=?`,
		sandboxID, time.Now().UTC(), projectID,
	)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrProjectNotFound, projectID)
	}
	return nil
}

// ListSandboxIDs returns the sandbox identities referenced by projects (used
// by sandbox reconciliation).
func (s *Store) ListSandboxIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT sandbox_id FROM projects WHERE sandbox_id != ''`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// --- MessageStore ---

func (s *Store) AppendMessage(ctx context.Context, projectID string, role domain.Role, typ domain.MessageType, content string) (*domain.Message, error) {
	now := time.Now().UTC()
	m := &domain.Message{
		ID:        uuid.New().String(),
		ProjectID: projectID,
		Role:      role,
		Type:      typ,
		Content:   content,
		CreatedAt: now,
		UpdatedAt: now,
	}

	// The sequence number is computed inside the insert so concurrent appends
	// to one project cannot collide.
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, project_id, role, type, content, seq, created_at, updated_at)
		 SELECT ?, ?, ?, ?, ?, COALESCE(MAX(seq), 0) + 1, ?, ? FROM messages WHERE project_id = ?`,
		m.ID, m.ProjectID, m.Role, m.Type, m.Content, m.CreatedAt, m.UpdatedAt, projectID,
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (s *Store) ListMessages(ctx context.Context, projectID string) ([]domain.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT m.id, m.project_id, m.role, m.type, m.content, m.created_at, m.updated_at,
		        f.id, f.title, f.files, f.sandbox_url, f.created_at, f.updated_at
		 FROM messages m LEFT JOIN fragments f ON f.message_id = m.id
		 WHERE m.project_id = ? ORDER BY m.seq ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []domain.Message
	for rows.Next() {
		var m domain.Message
		var (
			fragID, fragTitle, fragFiles, fragURL sql.NullString
			fragCreated, fragUpdated             sql.NullTime
		)
		if err := rows.Scan(&m.ID, &m.ProjectID, &m.Role, &m.Type, &m.Content, &m.CreatedAt, &m.UpdatedAt,
			&fragID, &fragTitle, &fragFiles, &fragURL, &fragCreated, &fragUpdated,
		); err != nil {
			return nil, err
		}
		if fragID.Valid {
			f := &domain.Fragment{
				ID:         fragID.String,
				MessageID:  m.ID,
				Title:      fragTitle.String,
				SandboxURL: fragURL.String,
				CreatedAt:  fragCreated.Time,
				UpdatedAt:  fragUpdated.Time,
			}
			if err := json.Unmarshal([]byte(fragFiles.String), &f.Files); err != nil {
				return nil, fmt.Errorf("decoding fragment files: %w", err)
			}
			m.Fragment = f
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func (s *Store) AttachFragment(ctx context.Context, messageID, title string, files map[string]string, sandboxURL string) (*domain.Fragment, error) {
	if files == nil {
		files = map[string]string{}
	}
	data, err := json.Marshal(files)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	f := &domain.Fragment{
		ID:         uuid.New().String(),
		MessageID:  messageID,
		Title:      title,
		Files:      files,
		SandboxURL: sandboxURL,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO fragments (id, message_id, title, files, sandbox_url, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(message_id) DO UPDATE SET
		   title=excluded.title, files=excluded.files, sandbox_url=excluded.sandbox_url, updated_at=excluded.updated_at
		 RETURNING id, created_at`,
		f.ID, f.MessageID, f.Title, string(data), f.SandboxURL, f.CreatedAt, f.UpdatedAt,
	).Scan(&f.ID, &f.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("attaching fragment to %s: %w", messageID, err)
	}
	return f, nil
}

// --- SessionStore ---

func (s *Store) lockSession(key domain.SessionKey) func() {
	return s.sessions.Lock(store.SessionLockKey(key.App, key.User, key.SessionID))
}

func (s *Store) CreateOrGetSession(ctx context.Context, key domain.SessionKey, initial *domain.SessionState) (*domain.SessionState, error) {
	unlock := s.lockSession(key)
	defer unlock()

	state, err := s.getSession(ctx, s.db, key)
	if err == nil {
		return state, nil
	}
	if !errors.Is(err, domain.ErrSessionNotFound) {
		return nil, err
	}

	if initial == nil {
		initial = domain.NewSessionState()
	}
	state = initial.Clone()
	state.UpdatedAt = time.Now().UTC()
	if err := s.putSession(ctx, s.db, key, state); err != nil {
		return nil, err
	}
	return state, nil
}

func (s *Store) GetSession(ctx context.Context, key domain.SessionKey) (*domain.SessionState, error) {
	return s.getSession(ctx, s.db, key)
}

func (s *Store) UpdateSession(ctx context.Context, key domain.SessionKey, fn func(*domain.SessionState) error) (*domain.SessionState, error) {
	unlock := s.lockSession(key)
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	state, err := s.getSession(ctx, tx, key)
	if err != nil {
		return nil, err
	}
	if err := fn(state); err != nil {
		return nil, err
	}
	state.UpdatedAt = time.Now().UTC()
	if err := s.putSession(ctx, tx, key, state); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return state, nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) getSession(ctx context.Context, q queryer, key domain.SessionKey) (*domain.SessionState, error) {
	var data string
	err := q.QueryRowContext(ctx,
		`SELECT state FROM sessions WHERE app=? AND user_id=? AND session_id=?`,
		key.App, key.User, key.SessionID,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, key.SessionID)
	}
	if err != nil {
		return nil, err
	}
	state := domain.NewSessionState()
	if err := json.Unmarshal([]byte(data), state); err != nil {
		return nil, fmt.Errorf("decoding session state: %w", err)
	}
	if state.Files == nil {
		state.Files = map[string]string{}
	}
	return state, nil
}

func (s *Store) putSession(ctx context.Context, q queryer, key domain.SessionKey, state *domain.SessionState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx,
		`INSERT INTO sessions (app, user_id, session_id, state, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(app, user_id, session_id) DO UPDATE SET state=excluded.state, updated_at=excluded.updated_at`,
		key.App, key.User, key.SessionID, string(data), state.UpdatedAt,
	)
	return err
}
