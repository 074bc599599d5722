package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/nhle/emailflesh/internal/model"
)

// SQLiteStore implements the Store interface using a local SQLite database.
type SQLiteStore struct {
	db *sqlx.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) a SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// The worker is the only writer; one connection also keeps an
	// in-memory database alive across queries.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// RecordDownload appends one ledger row. A missing ID is generated.
func (s *SQLiteStore) RecordDownload(
	ctx context.Context,
	rec model.DownloadRecord,
) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	rec.SavedAt = rec.SavedAt.UTC()

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO downloads (
			id, account, message_index, message_uid,
			filename, path, size, saved_at
		) VALUES (
			:id, :account, :message_index, :message_uid,
			:filename, :path, :size, :saved_at
		)`, rec)
	if err != nil {
		return fmt.Errorf("recording download %s: %w", rec.Filename, err)
	}

	return nil
}

// ListDownloads returns ledger rows, newest first.
func (s *SQLiteStore) ListDownloads(
	ctx context.Context,
	opts HistoryFilter,
) ([]model.DownloadRecord, error) {
	var conditions []string
	var args []interface{}

	if opts.Account != nil {
		conditions = append(conditions, "account = ?")
		args = append(args, *opts.Account)
	}
	if opts.Since != nil {
		conditions = append(conditions, "message_index >= ?")
		args = append(args, *opts.Since)
	}

	query := "SELECT id, account, message_index, message_uid, filename, path, size, saved_at FROM downloads"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY saved_at DESC, message_index DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", opts.Limit)
		if opts.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", opts.Offset)
		}
	}

	var records []model.DownloadRecord
	if err := s.db.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, fmt.Errorf("querying downloads: %w", err)
	}

	return records, nil
}

// CountDownloads returns how many attachments were recorded for account.
func (s *SQLiteStore) CountDownloads(
	ctx context.Context,
	account string,
) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		"SELECT COUNT(*) FROM downloads WHERE account = ?", account,
	)
	if err != nil {
		return 0, fmt.Errorf("counting downloads for %s: %w", account, err)
	}
	return n, nil
}

// DeleteAccountHistory removes every ledger row for account.
func (s *SQLiteStore) DeleteAccountHistory(
	ctx context.Context,
	account string,
) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM downloads WHERE account = ?", account,
	)
	if err != nil {
		return 0, fmt.Errorf("deleting history for %s: %w", account, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting deleted rows: %w", err)
	}
	return n, nil
}
