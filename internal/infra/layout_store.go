package infra

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	// Ensure sqlcipher driver is registered.
	_ "github.com/mutecomm/go-sqlcipher/v4"
	_ "modernc.org/sqlite"

	"github.com/lbmctl/lbmctl/internal/domain"
)

const (
	layoutDBName          = "layouts.db"
	encryptedLayoutDBName = "layouts.enc.db"
)

// SQLLayoutStore implements domain.LayoutStore on SQLite.
// The same schema serves the plain (modernc) and encrypted (SQLCipher) databases.
type SQLLayoutStore struct {
	db     *sql.DB
	dbPath string
}

// OpenLayoutStore opens (or creates) a plain SQLite layout database in dataDir.
func OpenLayoutStore(ctx context.Context, dataDir string) (*SQLLayoutStore, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, layoutDBName)
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	return newSQLLayoutStore(ctx, db, dbPath)
}

// OpenEncryptedLayoutStore opens (or creates) a SQLCipher layout database.
// The key is used as the SQLCipher passphrase via PRAGMA key.
func OpenEncryptedLayoutStore(ctx context.Context, dataDir string, key []byte) (*SQLLayoutStore, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, encryptedLayoutDBName)
	dsn := fmt.Sprintf("%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096&_foreign_keys=1",
		dbPath, hex.EncodeToString(key))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open encrypted database: %w", err)
	}
	db.SetMaxOpenConns(1)

	return newSQLLayoutStore(ctx, db, dbPath)
}

// OpenStore opens the encrypted store when encrypted is set, generating the
// key on first use, and the plain store otherwise.
func OpenStore(ctx context.Context, dataDir string, encrypted bool) (*SQLLayoutStore, error) {
	if !encrypted {
		return OpenLayoutStore(ctx, dataDir)
	}
	key, err := EnsureKey(NewEnvKeyProvider(NewFileKeyProvider(dataDir)))
	if err != nil {
		return nil, fmt.Errorf("failed to get database key: %w", err)
	}
	return OpenEncryptedLayoutStore(ctx, dataDir, key)
}

func newSQLLayoutStore(ctx context.Context, db *sql.DB, dbPath string) (*SQLLayoutStore, error) {
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := os.Chmod(dbPath, 0o600); err != nil && !errors.Is(err, os.ErrNotExist) {
		db.Close()
		return nil, fmt.Errorf("failed to chmod database: %w", err)
	}

	// A wrong SQLCipher key surfaces on the first schema statement.
	s := &SQLLayoutStore{db: db, dbPath: dbPath}
	if err := s.createTables(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// createTables creates the schema if it doesn't exist.
func (s *SQLLayoutStore) createTables(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS layouts (
		id TEXT PRIMARY KEY,
		enabled INTEGER NOT NULL DEFAULT 0,
		algorithm TEXT NOT NULL DEFAULT '',
		priority TEXT NOT NULL DEFAULT '',
		adjust_pointer INTEGER NOT NULL DEFAULT 0,
		adjust_speed INTEGER NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS layout_monitors (
		layout_id TEXT NOT NULL REFERENCES layouts(id) ON DELETE CASCADE,
		device_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		x_mm REAL NOT NULL,
		y_mm REAL NOT NULL,
		width_mm REAL NOT NULL,
		height_mm REAL NOT NULL,
		attached INTEGER NOT NULL DEFAULT 1,
		PRIMARY KEY (layout_id, device_id)
	);

	CREATE TABLE IF NOT EXISTS excluded_processes (
		layout_id TEXT NOT NULL REFERENCES layouts(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		name TEXT NOT NULL,
		PRIMARY KEY (layout_id, name)
	);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// SaveLayout replaces the full record in one transaction.
func (s *SQLLayoutStore) SaveLayout(ctx context.Context, rec domain.LayoutRecord) error {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	o := rec.Options
	_, err = tx.ExecContext(ctx, `
		INSERT INTO layouts (id, enabled, algorithm, priority, adjust_pointer, adjust_speed, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			enabled = excluded.enabled,
			algorithm = excluded.algorithm,
			priority = excluded.priority,
			adjust_pointer = excluded.adjust_pointer,
			adjust_speed = excluded.adjust_speed,
			updated_at = excluded.updated_at`,
		rec.ID, rec.Enabled, o.Algorithm, o.Priority, o.AdjustPointer, o.AdjustSpeed, rec.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert layout: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM layout_monitors WHERE layout_id = ?`, rec.ID); err != nil {
		return fmt.Errorf("failed to clear monitors: %w", err)
	}
	for i, m := range rec.Monitors {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO layout_monitors (layout_id, device_id, position, name, x_mm, y_mm, width_mm, height_mm, attached)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.ID, m.DeviceID, i, m.Name, m.XMM, m.YMM, m.WidthMM, m.HeightMM, m.Attached,
		)
		if err != nil {
			return fmt.Errorf("failed to insert monitor %s: %w", m.DeviceID, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM excluded_processes WHERE layout_id = ?`, rec.ID); err != nil {
		return fmt.Errorf("failed to clear excluded processes: %w", err)
	}
	for i, name := range o.ExcludedProcesses {
		_, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO excluded_processes (layout_id, position, name) VALUES (?, ?, ?)`,
			rec.ID, i, name,
		)
		if err != nil {
			return fmt.Errorf("failed to insert excluded process %q: %w", name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit layout: %w", err)
	}
	return nil
}

// SaveEnabled updates only the enabled flag, creating the row when missing.
func (s *SQLLayoutStore) SaveEnabled(ctx context.Context, id string, enabled bool) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO layouts (id, enabled, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET enabled = excluded.enabled, updated_at = excluded.updated_at`,
		id, enabled, time.Now().UTC().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to save enabled flag: %w", err)
	}
	return nil
}

// LoadLayout returns the record, or domain.ErrNotFound.
func (s *SQLLayoutStore) LoadLayout(ctx context.Context, id string) (*domain.LayoutRecord, error) {
	rec := &domain.LayoutRecord{ID: id}
	var updated int64
	err := s.db.QueryRowContext(ctx, `
		SELECT enabled, algorithm, priority, adjust_pointer, adjust_speed, updated_at
		FROM layouts WHERE id = ?`, id,
	).Scan(&rec.Enabled, &rec.Options.Algorithm, &rec.Options.Priority,
		&rec.Options.AdjustPointer, &rec.Options.AdjustSpeed, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query layout: %w", err)
	}
	rec.UpdatedAt = time.Unix(updated, 0).UTC()

	monitors, err := s.loadMonitors(ctx, id)
	if err != nil {
		return nil, err
	}
	rec.Monitors = monitors

	excluded, err := s.loadExcluded(ctx, id)
	if err != nil {
		return nil, err
	}
	rec.Options.ExcludedProcesses = excluded

	return rec, nil
}

func (s *SQLLayoutStore) loadMonitors(ctx context.Context, id string) ([]domain.MonitorSpec, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT device_id, name, x_mm, y_mm, width_mm, height_mm, attached
		FROM layout_monitors WHERE layout_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query monitors: %w", err)
	}
	defer rows.Close()

	var out []domain.MonitorSpec
	for rows.Next() {
		var m domain.MonitorSpec
		if err := rows.Scan(&m.DeviceID, &m.Name, &m.XMM, &m.YMM, &m.WidthMM, &m.HeightMM, &m.Attached); err != nil {
			return nil, fmt.Errorf("failed to scan monitor: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLLayoutStore) loadExcluded(ctx context.Context, id string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name FROM excluded_processes WHERE layout_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query excluded processes: %w", err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan excluded process: %w", err)
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// Path returns the database file path.
func (s *SQLLayoutStore) Path() string {
	return s.dbPath
}

// Close releases the database connection.
func (s *SQLLayoutStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ensure SQLLayoutStore implements domain.LayoutStore.
var _ domain.LayoutStore = (*SQLLayoutStore)(nil)
