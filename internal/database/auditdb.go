package database

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"lens0/internal/models"
)

// AuditDB is the SQLite-backed promotion audit log. Every promotion the
// pipeline sees is recorded here, applied or refused.
type AuditDB struct {
	db *sql.DB
}

// NewAuditDB opens (and creates if needed) the audit database.
func NewAuditDB(path string) (*AuditDB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audit db directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit db: %w", err)
	}

	// Single writer; SQLite handles its own locking.
	db.SetMaxOpenConns(1)

	a := &AuditDB{db: db}
	if err := a.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	log.Printf("✅ Promotion audit log ready: %s", path)
	return a, nil
}

func (a *AuditDB) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS promotion_audit (
		id         TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL,
		expert     TEXT NOT NULL,
		source     TEXT NOT NULL,
		decision   TEXT NOT NULL,
		reason     TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_audit_user_time ON promotion_audit(user_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_audit_created ON promotion_audit(created_at);
	`
	if _, err := a.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize audit schema: %w", err)
	}
	return nil
}

// Record inserts one audit entry.
func (a *AuditDB) Record(ctx context.Context, entry models.AuditEntry) error {
	_, err := a.db.ExecContext(ctx,
		`INSERT INTO promotion_audit (id, user_id, expert, source, decision, reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.UserID, entry.Expert, entry.Source, entry.Decision, entry.Reason, entry.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record audit entry: %w", err)
	}
	return nil
}

// ListForUser returns the most recent audit entries for a user.
func (a *AuditDB) ListForUser(ctx context.Context, userID string, limit int) ([]models.AuditEntry, error) {
	if limit < 1 || limit > 500 {
		limit = 100
	}

	rows, err := a.db.QueryContext(ctx,
		`SELECT id, user_id, expert, source, decision, reason, created_at
		 FROM promotion_audit WHERE user_id = ?
		 ORDER BY created_at DESC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Expert, &e.Source, &e.Decision, &e.Reason, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// PurgeOlderThan deletes audit entries past the retention window and
// returns how many rows were removed.
func (a *AuditDB) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := a.db.ExecContext(ctx,
		`DELETE FROM promotion_audit WHERE created_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to purge audit entries: %w", err)
	}
	return result.RowsAffected()
}

// Close closes the audit database.
func (a *AuditDB) Close() error {
	return a.db.Close()
}
