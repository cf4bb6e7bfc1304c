/**
 * @description
 * PostgreSQL schema and versioned migrations for the SQL backend. Versions
 * mirror the flat-file migrator: v1 adds referral/assignment columns and
 * backfills referred_by from ambassador_id, v2 adds the routing and payment
 * columns. Applied versions are recorded in schema_migrations.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: transactions and advisory locking.
 * - github.com/jackc/pgx/v5/pgconn: SQLSTATE inspection.
 */
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// migrationLockKey is the advisory lock id held while migrations run, so two
// processes starting together apply each version once.
const migrationLockKey int64 = 0x5167_6e75_7073

type sqlMigration struct {
	Version    int
	Name       string
	Statements []string
}

var signupSQLMigrations = []sqlMigration{
	{
		Version: 0,
		Name:    "create signups",
		Statements: []string{`
			CREATE TABLE IF NOT EXISTS signups (
				seq BIGSERIAL,
				ts TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				plan_type TEXT NOT NULL DEFAULT 'free',
				payment_status TEXT NOT NULL DEFAULT 'n/a',
				first_name TEXT NOT NULL DEFAULT '',
				last_name TEXT NOT NULL DEFAULT '',
				full_name TEXT NOT NULL DEFAULT '',
				age TEXT NOT NULL DEFAULT '',
				played_before TEXT NOT NULL DEFAULT '',
				experience_level TEXT NOT NULL DEFAULT '',
				played_club TEXT NOT NULL DEFAULT '',
				club_name TEXT NOT NULL DEFAULT '',
				gender TEXT NOT NULL DEFAULT '',
				has_disability TEXT NOT NULL DEFAULT '',
				location TEXT NOT NULL DEFAULT '',
				email TEXT PRIMARY KEY,
				phone TEXT NOT NULL DEFAULT '',
				position TEXT NOT NULL DEFAULT '',
				goal TEXT NOT NULL DEFAULT '',
				why_join TEXT NOT NULL DEFAULT '',
				why_join_reason TEXT NOT NULL DEFAULT '',
				birthday TEXT NOT NULL DEFAULT '',
				status TEXT NOT NULL DEFAULT 'waitlisted',
				ambassador_id TEXT NOT NULL DEFAULT ''
			)`,
		},
	},
	{
		Version: 1,
		Name:    "add referredBy/assignedTo",
		Statements: []string{
			`ALTER TABLE signups ADD COLUMN IF NOT EXISTS referred_by TEXT NOT NULL DEFAULT ''`,
			`ALTER TABLE signups ADD COLUMN IF NOT EXISTS assigned_to TEXT NOT NULL DEFAULT ''`,
			`UPDATE signups SET referred_by = ambassador_id WHERE referred_by = '' AND ambassador_id <> ''`,
		},
	},
	{
		Version: 2,
		Name:    "add routing and payment columns",
		Statements: []string{
			`ALTER TABLE signups ADD COLUMN IF NOT EXISTS processed_by TEXT NOT NULL DEFAULT ''`,
			`ALTER TABLE signups ADD COLUMN IF NOT EXISTS payment_id TEXT NOT NULL DEFAULT ''`,
			`ALTER TABLE signups ADD COLUMN IF NOT EXISTS amount TEXT NOT NULL DEFAULT ''`,
			`ALTER TABLE signups ADD COLUMN IF NOT EXISTS currency TEXT NOT NULL DEFAULT ''`,
			`ALTER TABLE signups ADD COLUMN IF NOT EXISTS billing TEXT NOT NULL DEFAULT ''`,
			`ALTER TABLE signups ADD COLUMN IF NOT EXISTS reject_reason TEXT NOT NULL DEFAULT ''`,
			`ALTER TABLE signups ADD COLUMN IF NOT EXISTS assigned_controller TEXT NOT NULL DEFAULT ''`,
			`CREATE UNIQUE INDEX IF NOT EXISTS signups_payment_id_key ON signups (payment_id) WHERE payment_id <> ''`,
		},
	},
}

var staffSQLMigrations = []sqlMigration{
	{
		Version: 0,
		Name:    "create staff_accounts",
		Statements: []string{`
			CREATE TABLE IF NOT EXISTS staff_accounts (
				seq BIGSERIAL,
				id TEXT PRIMARY KEY,
				username TEXT NOT NULL UNIQUE,
				password TEXT NOT NULL DEFAULT '',
				role TEXT NOT NULL,
				created TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`,
		},
	},
	{
		Version: 1,
		Name:    "add stats",
		Statements: []string{
			`ALTER TABLE staff_accounts ADD COLUMN IF NOT EXISTS stats JSONB NOT NULL DEFAULT '{}'::jsonb`,
		},
	},
}

// runSQLMigrations applies every version of plan not yet recorded for table.
func runSQLMigrations(ctx context.Context, db *pgxpool.Pool, table string, plan []sqlMigration, logger *slog.Logger) (*MigrationReport, error) {
	report := &MigrationReport{Table: table}

	tx, err := db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin migration tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", migrationLockKey); err != nil {
		return nil, fmt.Errorf("acquire migration lock: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			table_name TEXT NOT NULL,
			version INT NOT NULL,
			name TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (table_name, version)
		)`); err != nil {
		return nil, fmt.Errorf("create schema_migrations: %w", err)
	}

	applied, err := appliedVersions(ctx, tx, table)
	if err != nil {
		return nil, err
	}

	for _, m := range pendingMigrations(plan, applied) {
		for _, stmt := range m.Statements {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return nil, fmt.Errorf("apply %s v%d: %w", table, m.Version, err)
			}
		}
		if _, err := tx.Exec(ctx,
			"INSERT INTO schema_migrations (table_name, version, name) VALUES ($1, $2, $3)",
			table, m.Version, m.Name,
		); err != nil {
			return nil, fmt.Errorf("record %s v%d: %w", table, m.Version, err)
		}
		if m.Version == 0 {
			report.Initialized = true
			continue
		}
		report.Applied = append(report.Applied, fmt.Sprintf("v%d %s", m.Version, m.Name))
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit migrations: %w", err)
	}
	logMigration(logger, report)
	return report, nil
}

// pendingMigrations returns the steps of plan not yet applied, in ascending
// version order.
func pendingMigrations(plan []sqlMigration, applied map[int]bool) []sqlMigration {
	pending := make([]sqlMigration, 0, len(plan))
	for _, m := range plan {
		if !applied[m.Version] {
			pending = append(pending, m)
		}
	}
	slices.SortStableFunc(pending, func(a, b sqlMigration) int { return a.Version - b.Version })
	return pending
}

func appliedVersions(ctx context.Context, tx pgx.Tx, table string) (map[int]bool, error) {
	rows, err := tx.Query(ctx, "SELECT version FROM schema_migrations WHERE table_name = $1", table)
	if err != nil {
		return nil, fmt.Errorf("load schema_migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func uniqueViolationConstraint(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return pgErr.ConstraintName
	}
	return ""
}
