/**
 * @description
 * Flat-file implementation of StaffRepository, keyed by id with a unique
 * username. Same write discipline as the signup table, under the
 * "staff-accounts" guard.
 */
package store

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/transfa/signup-service/internal/domain"
	"github.com/transfa/signup-service/internal/lock"
)

// StaffFileName is the staff table file inside the data directory.
const StaffFileName = "staff-accounts.csv"

// FileStaffRepository persists staff accounts to a CSV file.
type FileStaffRepository struct {
	path   string
	guard  *lock.Guard
	logger *slog.Logger
	now    func() time.Time

	// lastSuffix is only touched while the staff lock is held.
	lastSuffix int64
}

var _ StaffRepository = (*FileStaffRepository)(nil)

// NewFileStaffRepository creates a repository rooted at dataDir.
func NewFileStaffRepository(dataDir string, guard *lock.Guard, logger *slog.Logger) *FileStaffRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStaffRepository{
		path:   filepath.Join(dataDir, StaffFileName),
		guard:  guard,
		logger: logger,
		now:    time.Now,
	}
}

func (r *FileStaffRepository) load() (*Table, error) {
	t, err := readTable(r.path)
	if err != nil {
		return nil, err
	}
	Migrate(t, StaffSchema)
	return t, nil
}

func (r *FileStaffRepository) mutate(fn func(t *Table) error) error {
	return r.guard.WithLock(lock.ResourceStaffAccounts, func() error {
		unlock, err := lockFile(r.path)
		if err != nil {
			return err
		}
		defer unlock()

		t, err := readTable(r.path)
		if err != nil {
			return err
		}
		logMigration(r.logger, Migrate(t, StaffSchema))

		if err := fn(t); err != nil {
			return err
		}
		return writeTableAtomic(r.path, t)
	})
}

// List returns every staff account in persisted order.
func (r *FileStaffRepository) List(ctx context.Context) ([]domain.StaffAccount, error) {
	t, err := r.load()
	if err != nil {
		return nil, err
	}
	out := make([]domain.StaffAccount, 0, len(t.Rows))
	for i := range t.Rows {
		out = append(out, staffFromRow(t, i))
	}
	return out, nil
}

// Add stores a new account with a generated id. A taken username is ErrConflict.
func (r *FileStaffRepository) Add(ctx context.Context, acct domain.StaffAccount) (*domain.StaffAccount, error) {
	if strings.TrimSpace(acct.Username) == "" {
		return nil, fmt.Errorf("username is required")
	}
	if _, ok := domain.ParseStaffRole(string(acct.Role)); !ok {
		return nil, fmt.Errorf("invalid staff role %q", acct.Role)
	}

	err := r.mutate(func(t *Table) error {
		if t.Find(colUsername, acct.Username) >= 0 {
			return fmt.Errorf("%w: username %s", ErrConflict, acct.Username)
		}
		acct.ID = r.nextID(t, acct.Role)
		if acct.Created.IsZero() {
			acct.Created = r.now()
		}
		i := t.AppendRow()
		writeStaffRow(t, i, acct)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &acct, nil
}

// nextID builds "{role}-{millis}", bumping the suffix until it is unused.
func (r *FileStaffRepository) nextID(t *Table, role domain.Role) string {
	suffix := r.now().UnixMilli()
	if suffix <= r.lastSuffix {
		suffix = r.lastSuffix + 1
	}
	for {
		id := string(role) + "-" + strconv.FormatInt(suffix, 10)
		if t.Find(colID, id) < 0 {
			r.lastSuffix = suffix
			return id
		}
		suffix++
	}
}

// FindByID returns the account with id or ErrNotFound.
func (r *FileStaffRepository) FindByID(ctx context.Context, id string) (*domain.StaffAccount, error) {
	return r.findBy(colID, id)
}

// FindByUsername returns the account with username or ErrNotFound.
func (r *FileStaffRepository) FindByUsername(ctx context.Context, username string) (*domain.StaffAccount, error) {
	return r.findBy(colUsername, username)
}

func (r *FileStaffRepository) findBy(column, value string) (*domain.StaffAccount, error) {
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
	acct := staffFromRow(t, i)
	return &acct, nil
}

// Update merges upd into the account with id. Renaming onto a taken username
// is ErrConflict.
func (r *FileStaffRepository) Update(ctx context.Context, id string, upd domain.StaffUpdate) (*domain.StaffAccount, error) {
	var updated domain.StaffAccount
	err := r.mutate(func(t *Table) error {
		i := t.Find(colID, id)
		if i < 0 {
			return ErrNotFound
		}
		acct := staffFromRow(t, i)
		if upd.Username != nil && *upd.Username != acct.Username {
			if strings.TrimSpace(*upd.Username) == "" {
				return fmt.Errorf("username is required")
			}
			if j := t.Find(colUsername, *upd.Username); j >= 0 && j != i {
				return fmt.Errorf("%w: username %s", ErrConflict, *upd.Username)
			}
			acct.Username = *upd.Username
		}
		if upd.Password != nil {
			acct.Password = *upd.Password
		}
		if upd.Stats != nil {
			acct.Stats = *upd.Stats
		}
		writeStaffRow(t, i, acct)
		updated = acct
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// Delete removes the account with id.
func (r *FileStaffRepository) Delete(ctx context.Context, id string) error {
	return r.mutate(func(t *Table) error {
		i := t.Find(colID, id)
		if i < 0 {
			return ErrNotFound
		}
		t.DeleteRow(i)
		return nil
	})
}

// Migrate persists the current staff layout if the file is out of date.
func (r *FileStaffRepository) Migrate(ctx context.Context) (*MigrationReport, error) {
	return migrateFile(r.guard, lock.ResourceStaffAccounts, r.path, StaffSchema, r.logger)
}
