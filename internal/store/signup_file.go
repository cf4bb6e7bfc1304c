/**
 * @description
 * Flat-file implementation of SignupRepository. The table lives in a single
 * CSV file; each mutation is a full read-migrate-modify-rewrite cycle under
 * the "signups" guard and the cross-process file lock.
 *
 * @notes
 * - Reads migrate rows in memory only; the upgraded layout is persisted by
 *   the first write after startup.
 * - Email comparison is exact (case-sensitive as supplied).
 */
package store

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/transfa/signup-service/internal/domain"
	"github.com/transfa/signup-service/internal/lock"
)

// SignupFileName is the table file inside the data directory.
const SignupFileName = "signups.csv"

// FileSignupRepository persists signups to a CSV file.
type FileSignupRepository struct {
	path   string
	guard  *lock.Guard
	logger *slog.Logger
	now    func() time.Time
}

var _ SignupRepository = (*FileSignupRepository)(nil)

// NewFileSignupRepository creates a repository rooted at dataDir.
func NewFileSignupRepository(dataDir string, guard *lock.Guard, logger *slog.Logger) *FileSignupRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileSignupRepository{
		path:   filepath.Join(dataDir, SignupFileName),
		guard:  guard,
		logger: logger,
		now:    time.Now,
	}
}

// Path returns the table file location.
func (r *FileSignupRepository) Path() string { return r.path }

func (r *FileSignupRepository) load() (*Table, error) {
	t, err := readTable(r.path)
	if err != nil {
		return nil, err
	}
	Migrate(t, SignupSchema)
	return t, nil
}

// mutate runs fn against the freshly loaded table and persists the result.
// Nothing is written when fn fails.
func (r *FileSignupRepository) mutate(fn func(t *Table) error) error {
	return r.guard.WithLock(lock.ResourceSignups, func() error {
		unlock, err := lockFile(r.path)
		if err != nil {
			return err
		}
		defer unlock()

		t, err := readTable(r.path)
		if err != nil {
			return err
		}
		logMigration(r.logger, Migrate(t, SignupSchema))

		if err := fn(t); err != nil {
			return err
		}
		return writeTableAtomic(r.path, t)
	})
}

// List returns every record in persisted order.
func (r *FileSignupRepository) List(ctx context.Context) ([]domain.SignupRecord, error) {
	t, err := r.load()
	if err != nil {
		return nil, err
	}
	out := make([]domain.SignupRecord, 0, len(t.Rows))
	for i := range t.Rows {
		out = append(out, signupFromRow(t, i))
	}
	return out, nil
}

// Add appends a record after filling defaults. A duplicate email is ErrConflict.
func (r *FileSignupRepository) Add(ctx context.Context, rec domain.SignupRecord) (*domain.SignupRecord, error) {
	rec.ApplyDefaults(r.now())
	if err := validateNewSignup(rec); err != nil {
		return nil, err
	}

	err := r.mutate(func(t *Table) error {
		if t.Find(colEmail, rec.Email) >= 0 {
			return fmt.Errorf("%w: email %s", ErrConflict, rec.Email)
		}
		i := t.AppendRow()
		writeSignupRow(t, i, rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// FindByEmail returns the record keyed by email or ErrNotFound.
func (r *FileSignupRepository) FindByEmail(ctx context.Context, email string) (*domain.SignupRecord, error) {
	return r.findBy(colEmail, email)
}

// FindByPaymentReference returns the record carrying ref or ErrNotFound.
func (r *FileSignupRepository) FindByPaymentReference(ctx context.Context, ref string) (*domain.SignupRecord, error) {
	return r.findBy(colPaymentID, ref)
}

func (r *FileSignupRepository) findBy(column, value string) (*domain.SignupRecord, error) {
	if value == "" {
		return nil, ErrNotFound
	}
	t, err := r.load()
	if err != nil {
		return nil, err
	}
	i := t.Find(column, value)
	if i < 0 {
		return nil, ErrNotFound
	}
	rec := signupFromRow(t, i)
	return &rec, nil
}

// Update merges upd into the record keyed by email.
func (r *FileSignupRepository) Update(ctx context.Context, email string, upd domain.SignupUpdate) (*domain.SignupRecord, error) {
	var updated domain.SignupRecord
	err := r.mutate(func(t *Table) error {
		i := t.Find(colEmail, email)
		if i < 0 {
			return ErrNotFound
		}
		next, err := applySignupUpdate(signupFromRow(t, i), upd)
		if err != nil {
			return err
		}
		writeSignupRow(t, i, next)
		updated = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// BulkAssign writes assigneeID into the routing column for kind on every
// matching email and returns how many rows matched. Unknown emails are skipped.
func (r *FileSignupRepository) BulkAssign(ctx context.Context, emails []string, assigneeID string, kind domain.AssigneeKind) (int, error) {
	upd, err := assignmentUpdate(assigneeID, kind)
	if err != nil {
		return 0, err
	}
	emails = uniqueEmails(emails)
	if len(emails) == 0 {
		return 0, nil
	}

	matched := 0
	err = r.mutate(func(t *Table) error {
		for _, email := range emails {
			i := t.Find(colEmail, email)
			if i < 0 {
				continue
			}
			next, err := applySignupUpdate(signupFromRow(t, i), upd)
			if err != nil {
				return err
			}
			writeSignupRow(t, i, next)
			matched++
		}
		if matched == 0 {
			return errNothingMatched
		}
		return nil
	})
	if err == errNothingMatched {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return matched, nil
}

// DeleteByEmail removes exactly one row.
func (r *FileSignupRepository) DeleteByEmail(ctx context.Context, email string) error {
	return r.mutate(func(t *Table) error {
		i := t.Find(colEmail, email)
		if i < 0 {
			return ErrNotFound
		}
		t.DeleteRow(i)
		return nil
	})
}

// Migrate persists the current layout if the file is out of date.
func (r *FileSignupRepository) Migrate(ctx context.Context) (*MigrationReport, error) {
	return migrateFile(r.guard, lock.ResourceSignups, r.path, SignupSchema, r.logger)
}
