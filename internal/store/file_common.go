package store

import (
	"errors"
	"log/slog"

	"github.com/transfa/signup-service/internal/lock"
)

// errNothingMatched aborts a mutation that found nothing to change, so the
// table is not rewritten.
var errNothingMatched = errors.New("nothing matched")

// migrateFile runs the migrator against the table at path and rewrites it
// only when the layout changed.
func migrateFile(guard *lock.Guard, resource, path string, schema Schema, logger *slog.Logger) (*MigrationReport, error) {
	return lock.Do(guard, resource, func() (*MigrationReport, error) {
		unlock, err := lockFile(path)
		if err != nil {
			return nil, err
		}
		defer unlock()

		t, err := readTable(path)
		if err != nil {
			return nil, err
		}
		report := Migrate(t, schema)
		if !report.Changed() {
			return report, nil
		}
		logMigration(logger, report)
		if err := writeTableAtomic(path, t); err != nil {
			return nil, err
		}
		return report, nil
	})
}
