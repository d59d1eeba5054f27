package repository

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/NevoLevi/mini-project-cdss/internal/domain"
)

// FactLog persists every fact ever recorded to SQLite. The log is append
// only: corrections land as new rows and retractions land as tombstone rows
// marking exactly one earlier version, so the full recording history stays
// reconstructable.
type FactLog struct {
	db     *sql.DB
	dbPath string
}

// NewFactLog opens the fact log at dbPath, creating the file and schema if
// they don't exist.
func NewFactLog(dbPath string) (*FactLog, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	if err := createLogSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &FactLog{db: db, dbPath: dbPath}, nil
}

func createLogSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS facts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		patient_id TEXT NOT NULL,
		parameter TEXT NOT NULL,
		value TEXT NOT NULL,
		unit TEXT DEFAULT '',
		valid_time DATETIME NOT NULL,
		transaction_time DATETIME NOT NULL,
		retracted INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_facts_patient ON facts(patient_id);
	CREATE INDEX IF NOT EXISTS idx_facts_parameter ON facts(patient_id, parameter);
	CREATE INDEX IF NOT EXISTS idx_facts_valid_time ON facts(valid_time);
	`

	_, err := db.Exec(schema)
	return err
}

// Append records one fact row.
func (l *FactLog) Append(ctx context.Context, fact domain.Fact) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO facts (patient_id, parameter, value, unit, valid_time, transaction_time)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		fact.PatientID,
		fact.Parameter,
		fact.Value,
		fact.Unit,
		fact.ValidTime.UTC(),
		fact.TransactionTime.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert fact: %w", err)
	}
	return nil
}

// Retract tombstones the single logged version matching the fact exactly.
// The row stays in the log for audit; replay skips it.
func (l *FactLog) Retract(ctx context.Context, fact domain.Fact) error {
	res, err := l.db.ExecContext(ctx, `
		UPDATE facts SET retracted = 1
		WHERE id = (
			SELECT id FROM facts
			WHERE patient_id = ? AND parameter = ? AND valid_time = ? AND transaction_time = ?
				AND retracted = 0
			ORDER BY id DESC
			LIMIT 1
		)
	`,
		fact.PatientID,
		fact.Parameter,
		fact.ValidTime.UTC(),
		fact.TransactionTime.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to tombstone fact: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check tombstone: %w", err)
	}
	if n == 0 {
		return domain.ErrNoSuchMeasurement
	}
	return nil
}

// Replay streams every live (non-tombstoned) fact in recording order into
// apply. Used at startup to rebuild the in-memory store.
func (l *FactLog) Replay(ctx context.Context, apply func(domain.Fact)) error {
	rows, err := l.db.QueryContext(ctx, `
		SELECT patient_id, parameter, value, unit, valid_time, transaction_time
		FROM facts
		WHERE retracted = 0
		ORDER BY id ASC
	`)
	if err != nil {
		return fmt.Errorf("failed to query facts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var f domain.Fact
		var validTime, txnTime time.Time
		if err := rows.Scan(&f.PatientID, &f.Parameter, &f.Value, &f.Unit, &validTime, &txnTime); err != nil {
			return fmt.Errorf("failed to scan row: %w", err)
		}
		f.ValidTime = validTime
		f.TransactionTime = txnTime
		apply(f)
	}
	return rows.Err()
}

// Count returns the number of live facts in the log.
func (l *FactLog) Count(ctx context.Context) (int64, error) {
	var count int64
	err := l.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM facts WHERE retracted = 0").Scan(&count)
	return count, err
}

// Close closes the log and releases resources.
func (l *FactLog) Close() error {
	return l.db.Close()
}
