/**
 * @description
 * Schema migrator for the flat tables. Brings any persisted header and its
 * rows up to the current column set without touching unrelated data.
 *
 * Steps, in order:
 *   1. Collapse duplicate header names (values merged by column name) and
 *      drop cells past the end of the header, reporting both as repairs.
 *   2. Apply each versioned migration whose columns are still missing.
 *   3. Add any remaining current columns and put them in layout order;
 *      unknown columns are kept after the known ones.
 *
 * @notes
 * - Detection is header-only, so running the migrator on a current table is a
 *   cheap no-op. Running it twice equals running it once.
 * - Legacy columns (ambassadorId) are never removed or renamed.
 */
package store

import (
	"fmt"
	"log/slog"
	"slices"
)

// Migration is one versioned, header-detected schema step.
type Migration struct {
	Version int
	Name    string
	// Apply performs the step if it is still needed and returns a short
	// description of what changed, or "" when the table was already current.
	Apply func(t *Table) string
}

// Schema describes the current layout of one table.
type Schema struct {
	Table      string
	Columns    []string
	Migrations []Migration
}

// MigrationReport describes what a migrator run changed.
type MigrationReport struct {
	Table       string   `json:"table" yaml:"table"`
	Initialized bool     `json:"initialized,omitempty" yaml:"initialized,omitempty"`
	Repairs     []string `json:"repairs,omitempty" yaml:"repairs,omitempty"`
	Applied     []string `json:"applied,omitempty" yaml:"applied,omitempty"`
	Reordered   bool     `json:"reordered,omitempty" yaml:"reordered,omitempty"`
}

// Changed reports whether the table needs to be rewritten.
func (r *MigrationReport) Changed() bool {
	return r.Initialized || len(r.Repairs) > 0 || len(r.Applied) > 0 || r.Reordered
}

// Migrate upgrades t in place to schema s.
func Migrate(t *Table, s Schema) *MigrationReport {
	report := &MigrationReport{Table: s.Table}

	if len(t.Header) == 0 {
		t.Header = append([]string(nil), s.Columns...)
		t.reindex()
		for i := range t.Rows {
			t.padRow(i)
		}
		report.Initialized = true
		return report
	}

	if detail := dropSurplusCells(t); detail != "" {
		report.Repairs = append(report.Repairs, detail)
	}
	report.Repairs = append(report.Repairs, collapseDuplicateHeaders(t)...)

	for _, m := range s.Migrations {
		if detail := m.Apply(t); detail != "" {
			report.Applied = append(report.Applied, fmt.Sprintf("v%d %s: %s", m.Version, m.Name, detail))
		}
	}

	for _, col := range s.Columns {
		if !t.Has(col) {
			t.AddColumn(col)
			report.Applied = append(report.Applied, fmt.Sprintf("added column %s", col))
		}
	}
	report.Reordered = reorderColumns(t, s.Columns)
	return report
}

// dropSurplusCells truncates rows that carry more cells than the header has
// columns. The cells have no column name, so they cannot be kept.
func dropSurplusCells(t *Table) string {
	rows, cells := 0, 0
	for i, row := range t.Rows {
		if extra := len(row) - len(t.Header); extra > 0 {
			rows++
			cells += extra
			t.Rows[i] = row[:len(t.Header)]
		}
	}
	if rows == 0 {
		return ""
	}
	return fmt.Sprintf("dropped %d surplus cells from %d rows", cells, rows)
}

// collapseDuplicateHeaders merges repeated column names into one column. For
// each row the first non-empty value among the duplicates wins.
func collapseDuplicateHeaders(t *Table) []string {
	positions := make(map[string][]int, len(t.Header))
	var order []string
	for i, name := range t.Header {
		if _, seen := positions[name]; !seen {
			order = append(order, name)
		}
		positions[name] = append(positions[name], i)
	}
	if len(order) == len(t.Header) {
		return nil
	}

	var repaired []string
	for _, name := range order {
		if n := len(positions[name]); n > 1 {
			repaired = append(repaired, fmt.Sprintf("collapsed %d duplicate %q columns", n, name))
		}
	}

	for r, row := range t.Rows {
		merged := make([]string, len(order))
		for c, name := range order {
			for _, pos := range positions[name] {
				if pos < len(row) && row[pos] != "" {
					merged[c] = row[pos]
					break
				}
			}
		}
		t.Rows[r] = merged
	}
	t.Header = order
	t.reindex()
	return repaired
}

// reorderColumns puts known columns first in layout order, followed by any
// unknown columns in their existing order.
func reorderColumns(t *Table, columns []string) bool {
	target := make([]string, 0, len(t.Header))
	target = append(target, columns...)
	for _, name := range t.Header {
		if !slices.Contains(columns, name) {
			target = append(target, name)
		}
	}
	if slices.Equal(target, t.Header) {
		return false
	}

	old := t.index
	for r, row := range t.Rows {
		next := make([]string, len(target))
		for c, name := range target {
			if pos, ok := old[name]; ok && pos < len(row) {
				next[c] = row[pos]
			}
		}
		t.Rows[r] = next
	}
	t.Header = target
	t.reindex()
	return true
}

func logMigration(logger *slog.Logger, report *MigrationReport) {
	if logger == nil || !report.Changed() {
		return
	}
	if len(report.Repairs) > 0 {
		logger.Warn("repaired table header",
			"table", report.Table,
			"error", ErrSchemaInconsistency,
			"repairs", report.Repairs,
		)
	}
	if len(report.Applied) > 0 || report.Reordered {
		logger.Warn("migrated table schema",
			"table", report.Table,
			"applied", report.Applied,
			"reordered", report.Reordered,
		)
	}
	if report.Initialized {
		logger.Info("initialized table", "table", report.Table)
	}
}
