// Package store persists patch sessions in SQLite: the session's file
// overlay, its conversation log, and the history of applied patches with
// the prior content of every path they changed.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/kvit-s/kvit-patch/internal/orchestrator"
)

// timeLayout is fixed-width so stored timestamps sort as text
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ErrNotFound is returned when a session or apply record does not exist
var ErrNotFound = errors.New("not found")

// Store is a SQLite-backed session store
type Store struct {
	db *sql.DB
}

// SessionInfo contains metadata about a session.
type SessionInfo struct {
	ID           string
	Name         string
	Root         string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	FileCount    int
	MessageCount int
}

// Version is the content of a path before an apply changed it
type Version struct {
	Content string
	Existed bool
}

// ApplyRecord is one stored apply
type ApplyRecord struct {
	ID           string
	Dialect      string
	UpdatedPaths []string
	DeletedPaths []string
	Errors       []orchestrator.FileError
	Explanation  string
	CreatedAt    time.Time
	Before       map[string]Version
}

// Open opens (creating if needed) the database at path and migrates it
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("sqlite path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := (migrator{}).upToLatest(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// withTx commits on nil error and rolls back otherwise
func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// OpenSession returns the session called name, creating it for root
func (s *Store) OpenSession(ctx context.Context, name, root string) (SessionInfo, error) {
	info, err := s.Session(ctx, name)
	if err == nil || !errors.Is(err, ErrNotFound) {
		return info, err
	}

	now := time.Now().UTC()
	info = SessionInfo{ID: uuid.NewString(), Name: name, Root: root, CreatedAt: now, UpdatedAt: now}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions(id,name,root_path,created_at,updated_at) VALUES(?,?,?,?,?)`,
		info.ID, name, root, now.Format(timeLayout), now.Format(timeLayout))
	if err != nil {
		return SessionInfo{}, fmt.Errorf("create session %q: %w", name, err)
	}
	return info, nil
}

// Session returns the session called name
func (s *Store) Session(ctx context.Context, name string) (SessionInfo, error) {
	row := s.db.QueryRowContext(ctx, sessionQuery+` WHERE s.name=?`, name)
	info, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return SessionInfo{}, fmt.Errorf("session %q: %w", name, ErrNotFound)
	}
	return info, err
}

// SessionExists reports whether a session called name exists
func (s *Store) SessionExists(ctx context.Context, name string) (bool, error) {
	_, err := s.Session(ctx, name)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// ListSessions returns all sessions, most recently updated first
func (s *Store) ListSessions(ctx context.Context) ([]SessionInfo, error) {
	rows, err := s.db.QueryContext(ctx, sessionQuery+` ORDER BY s.updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionInfo
	for rows.Next() {
		info, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

// DeleteSession removes a session and everything stored for it
func (s *Store) DeleteSession(ctx context.Context, name string) error {
	info, err := s.Session(ctx, name)
	if err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmts := []string{
			`DELETE FROM apply_versions WHERE apply_id IN (SELECT id FROM applies WHERE session_id=?)`,
			`DELETE FROM applies WHERE session_id=?`,
			`DELETE FROM session_messages WHERE session_id=?`,
			`DELETE FROM session_files WHERE session_id=?`,
			`DELETE FROM sessions WHERE id=?`,
		}
		for _, stmt := range stmts {
			if _, err := tx.ExecContext(ctx, stmt, info.ID); err != nil {
				return err
			}
		}
		return nil
	})
}

const sessionQuery = `SELECT s.id, s.name, s.root_path, s.created_at, s.updated_at,
    (SELECT COUNT(1) FROM session_files f WHERE f.session_id=s.id),
    (SELECT COUNT(1) FROM session_messages m WHERE m.session_id=s.id)
    FROM sessions s`

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (SessionInfo, error) {
	var info SessionInfo
	var created, updated string
	if err := row.Scan(&info.ID, &info.Name, &info.Root, &created, &updated, &info.FileCount, &info.MessageCount); err != nil {
		return SessionInfo{}, err
	}
	info.CreatedAt, _ = time.Parse(timeLayout, created)
	info.UpdatedAt, _ = time.Parse(timeLayout, updated)
	return info, nil
}

// Files returns the session's file overlay
func (s *Store) Files(ctx context.Context, sessionID string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT path, content FROM session_files WHERE session_id=?`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	files := make(map[string]string)
	for rows.Next() {
		var path, content string
		if err := rows.Scan(&path, &content); err != nil {
			return nil, err
		}
		files[path] = content
	}
	return files, rows.Err()
}

// Messages returns the session's conversation log, oldest first
func (s *Store) Messages(ctx context.Context, sessionID string) ([]orchestrator.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content, created_at FROM session_messages WHERE session_id=? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []orchestrator.Message
	for rows.Next() {
		var m orchestrator.Message
		var created string
		if err := rows.Scan(&m.Role, &m.Content, &created); err != nil {
			return nil, err
		}
		m.Time, _ = time.Parse(timeLayout, created)
		out = append(out, m)
	}
	return out, rows.Err()
}

// SaveApply stores the outcome of one apply in a single transaction: the new
// content of updated paths, removal of deleted ones, the conversation log,
// and an apply record holding the prior version of every changed path.
func (s *Store) SaveApply(ctx context.Context, sessionID string, res orchestrator.Result, files map[string]string, before map[string]Version, msgs []orchestrator.Message) (string, error) {
	applyID := uuid.NewString()
	now := time.Now().UTC().Format(timeLayout)

	payload, err := json.Marshal(res)
	if err != nil {
		return "", fmt.Errorf("marshal result: %w", err)
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		for _, p := range res.UpdatedPaths {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO session_files(session_id,path,content,updated_at) VALUES(?,?,?,?)
                 ON CONFLICT(session_id,path) DO UPDATE SET content=excluded.content, updated_at=excluded.updated_at`,
				sessionID, p, files[p], now); err != nil {
				return fmt.Errorf("save %s: %w", p, err)
			}
		}
		for _, p := range res.DeletedPaths {
			if _, err := tx.ExecContext(ctx, `DELETE FROM session_files WHERE session_id=? AND path=?`, sessionID, p); err != nil {
				return fmt.Errorf("delete %s: %w", p, err)
			}
		}

		if err := replaceMessages(ctx, tx, sessionID, msgs); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO applies(id,session_id,dialect,result,created_at) VALUES(?,?,?,?,?)`,
			applyID, sessionID, string(res.Dialect), string(payload), now); err != nil {
			return fmt.Errorf("record apply: %w", err)
		}
		for p, v := range before {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO apply_versions(apply_id,path,content,existed) VALUES(?,?,?,?)`,
				applyID, p, v.Content, boolInt(v.Existed)); err != nil {
				return fmt.Errorf("record version of %s: %w", p, err)
			}
		}

		_, err := tx.ExecContext(ctx, `UPDATE sessions SET updated_at=? WHERE id=?`, now, sessionID)
		return err
	})
	if err != nil {
		return "", err
	}
	return applyID, nil
}

// SaveMessages replaces the session's conversation log
func (s *Store) SaveMessages(ctx context.Context, sessionID string, msgs []orchestrator.Message) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return replaceMessages(ctx, tx, sessionID, msgs)
	})
}

func replaceMessages(ctx context.Context, tx *sql.Tx, sessionID string, msgs []orchestrator.Message) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM session_messages WHERE session_id=?`, sessionID); err != nil {
		return err
	}
	for i, m := range msgs {
		ts := m.Time
		if ts.IsZero() {
			ts = time.Now()
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO session_messages(session_id,seq,role,content,created_at) VALUES(?,?,?,?,?)`,
			sessionID, i, m.Role, m.Content, ts.UTC().Format(timeLayout)); err != nil {
			return fmt.Errorf("save message %d: %w", i, err)
		}
	}
	return nil
}

// Applies returns the session's apply history, newest first
func (s *Store) Applies(ctx context.Context, sessionID string) ([]ApplyRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, dialect, result, created_at FROM applies WHERE session_id=? ORDER BY created_at DESC, rowid DESC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ApplyRecord
	for rows.Next() {
		rec, err := scanApply(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		if out[i].Before, err = s.versions(ctx, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Undo removes the newest apply record and restores the session overlay to
// the versions it recorded. The record is returned so the caller can restore
// the same versions on disk.
func (s *Store) Undo(ctx context.Context, sessionID string) (ApplyRecord, error) {
	applies, err := s.Applies(ctx, sessionID)
	if err != nil {
		return ApplyRecord{}, err
	}
	if len(applies) == 0 {
		return ApplyRecord{}, fmt.Errorf("no apply to undo: %w", ErrNotFound)
	}
	rec := applies[0]

	now := time.Now().UTC().Format(timeLayout)
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		for p, v := range rec.Before {
			var err error
			if v.Existed {
				_, err = tx.ExecContext(ctx,
					`INSERT INTO session_files(session_id,path,content,updated_at) VALUES(?,?,?,?)
                     ON CONFLICT(session_id,path) DO UPDATE SET content=excluded.content, updated_at=excluded.updated_at`,
					sessionID, p, v.Content, now)
			} else {
				_, err = tx.ExecContext(ctx, `DELETE FROM session_files WHERE session_id=? AND path=?`, sessionID, p)
			}
			if err != nil {
				return fmt.Errorf("restore %s: %w", p, err)
			}
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM apply_versions WHERE apply_id=?`, rec.ID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM applies WHERE id=?`, rec.ID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `UPDATE sessions SET updated_at=? WHERE id=?`, now, sessionID)
		return err
	})
	if err != nil {
		return ApplyRecord{}, err
	}
	return rec, nil
}

func (s *Store) versions(ctx context.Context, applyID string) (map[string]Version, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT path, content, existed FROM apply_versions WHERE apply_id=?`, applyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]Version)
	for rows.Next() {
		var path string
		var content sql.NullString
		var existed int
		if err := rows.Scan(&path, &content, &existed); err != nil {
			return nil, err
		}
		out[path] = Version{Content: content.String, Existed: existed != 0}
	}
	return out, rows.Err()
}

// storedResult is the subset of orchestrator.Result kept in apply history
type storedResult struct {
	UpdatedPaths []string                 `json:"updated_paths"`
	DeletedPaths []string                 `json:"deleted_paths"`
	Errors       []orchestrator.FileError `json:"errors"`
	Explanation  string                   `json:"explanation"`
}

func scanApply(row scanner) (ApplyRecord, error) {
	var rec ApplyRecord
	var payload, created string
	if err := row.Scan(&rec.ID, &rec.Dialect, &payload, &created); err != nil {
		return ApplyRecord{}, err
	}
	var sr storedResult
	if err := json.Unmarshal([]byte(payload), &sr); err != nil {
		return ApplyRecord{}, fmt.Errorf("decode apply %s: %w", rec.ID, err)
	}
	rec.UpdatedPaths = sr.UpdatedPaths
	rec.DeletedPaths = sr.DeletedPaths
	rec.Errors = sr.Errors
	rec.Explanation = sr.Explanation
	rec.CreatedAt, _ = time.Parse(timeLayout, created)
	return rec, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
