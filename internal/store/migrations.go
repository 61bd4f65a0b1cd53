package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// migrator handles schema versioning
type migrator struct{}

const latestVersion = 2

func (m migrator) ensureTable(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER NOT NULL);`)
	if err != nil {
		return err
	}
	// initialize row if empty
	var cnt int
	_ = db.QueryRowContext(ctx, `SELECT COUNT(1) FROM schema_migrations`).Scan(&cnt)
	if cnt == 0 {
		_, err = db.ExecContext(ctx, `INSERT INTO schema_migrations(version) VALUES(0)`)
	}
	return err
}

func (m migrator) version(ctx context.Context, db *sql.DB) (int, error) {
	if err := m.ensureTable(ctx, db); err != nil {
		return 0, err
	}
	var v int
	if err := db.QueryRowContext(ctx, `SELECT version FROM schema_migrations`).Scan(&v); err != nil {
		return 0, err
	}
	return v, nil
}

func (m migrator) setVersion(ctx context.Context, db *sql.DB, v int) error {
	_, err := db.ExecContext(ctx, `UPDATE schema_migrations SET version=?`, v)
	return err
}

// upToLatest applies migrations to reach latestVersion
func (m migrator) upToLatest(ctx context.Context, db *sql.DB) error {
	cur, err := m.version(ctx, db)
	if err != nil {
		return err
	}
	for v := cur + 1; v <= latestVersion; v++ {
		if err := m.up(ctx, db, v); err != nil {
			return fmt.Errorf("migrate up to v%d: %w", v, err)
		}
		if err := m.setVersion(ctx, db, v); err != nil {
			return err
		}
	}
	return nil
}

// downOne rolls back the last migration if supported
func (m migrator) downOne(ctx context.Context, db *sql.DB) error {
	cur, err := m.version(ctx, db)
	if err != nil {
		return err
	}
	if cur <= 0 {
		return nil
	}
	if err := m.down(ctx, db, cur); err != nil {
		return err
	}
	return m.setVersion(ctx, db, cur-1)
}

func (m migrator) up(ctx context.Context, db *sql.DB, v int) error {
	var stmts []string
	switch v {
	case 1:
		// sessions with their file overlay and conversation log
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS sessions (
                id TEXT PRIMARY KEY,
                name TEXT NOT NULL UNIQUE,
                root_path TEXT NOT NULL,
                created_at TEXT NOT NULL,
                updated_at TEXT NOT NULL
            );`,
			`CREATE TABLE IF NOT EXISTS session_files (
                session_id TEXT NOT NULL,
                path TEXT NOT NULL,
                content TEXT NOT NULL,
                updated_at TEXT NOT NULL,
                PRIMARY KEY(session_id, path),
                FOREIGN KEY(session_id) REFERENCES sessions(id)
            );`,
			`CREATE TABLE IF NOT EXISTS session_messages (
                session_id TEXT NOT NULL,
                seq INTEGER NOT NULL,
                role TEXT NOT NULL,
                content TEXT NOT NULL,
                created_at TEXT NOT NULL,
                PRIMARY KEY(session_id, seq),
                FOREIGN KEY(session_id) REFERENCES sessions(id)
            );`,
		}
	case 2:
		// apply history with the prior version of every changed path
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS applies (
                id TEXT PRIMARY KEY,
                session_id TEXT NOT NULL,
                dialect TEXT NOT NULL,
                result TEXT NOT NULL,
                created_at TEXT NOT NULL,
                FOREIGN KEY(session_id) REFERENCES sessions(id)
            );`,
			`CREATE INDEX IF NOT EXISTS idx_applies_session_created ON applies(session_id, created_at);`,
			`CREATE TABLE IF NOT EXISTS apply_versions (
                apply_id TEXT NOT NULL,
                path TEXT NOT NULL,
                content TEXT,
                existed INTEGER NOT NULL,
                PRIMARY KEY(apply_id, path),
                FOREIGN KEY(apply_id) REFERENCES applies(id)
            );`,
		}
	default:
		return fmt.Errorf("unknown migration version %d", v)
	}

	for i, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("v%d step %d: %w", v, i, err)
		}
	}
	return nil
}

func (m migrator) down(ctx context.Context, db *sql.DB, v int) error {
	switch v {
	case 2:
		stmts := []string{
			`DROP TABLE IF EXISTS apply_versions;`,
			`DROP TABLE IF EXISTS applies;`,
		}
		for _, s := range stmts {
			if _, err := db.ExecContext(ctx, s); err != nil {
				return err
			}
		}
		return nil
	case 1:
		return errors.New("down from v1 not supported")
	default:
		return fmt.Errorf("unknown migration version %d", v)
	}
}
