package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

// Migrator applies the base schema: enumeration partitions, completion
// markers, raw observations, base fractions and batch runs. Caller provides
// an opened *sql.DB.
type Migrator struct{}

func (m Migrator) Up(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		// one row per valid model code; seq is the 1-based position in the
		// lexicographic traversal for size k
		`CREATE TABLE IF NOT EXISTS enum_codes (
            k INTEGER NOT NULL,
            seq INTEGER NOT NULL,
            mask INTEGER NOT NULL,
            code TEXT NOT NULL,
            PRIMARY KEY(k, seq)
        );`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_enum_codes_k_mask ON enum_codes(k, mask);`,
		`CREATE TABLE IF NOT EXISTS enum_complete (
            k INTEGER PRIMARY KEY,
            total INTEGER NOT NULL,
            completed_at TEXT NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS observations (
            equipment_name TEXT NOT NULL,
            data_type TEXT NOT NULL,
            sample_number INTEGER NOT NULL,
            value REAL NOT NULL,
            created_at TEXT NOT NULL,
            PRIMARY KEY(equipment_name, data_type, sample_number)
        );`,
		`CREATE TABLE IF NOT EXISTS fractions (
            sample_number INTEGER PRIMARY KEY,
            f0 REAL NOT NULL,
            f1 REAL NOT NULL,
            f2 REAL NOT NULL,
            f3 REAL NOT NULL,
            f4 REAL NOT NULL,
            f5 REAL NOT NULL,
            f6 REAL NOT NULL,
            updated_at TEXT NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS runs (
            id TEXT PRIMARY KEY,
            kind TEXT NOT NULL,
            status TEXT NOT NULL,
            started_at TEXT NOT NULL,
            finished_at TEXT,
            metrics TEXT
        );`,
	}
	for i, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("migrate step %d: %w", i, err)
		}
	}
	return nil
}
