package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/transfa/signup-service/internal/domain"
	"github.com/transfa/signup-service/internal/lock"
)

// PostgresStaffRepository persists staff accounts to PostgreSQL.
type PostgresStaffRepository struct {
	db     *pgxpool.Pool
	guard  *lock.Guard
	logger *slog.Logger
	now    func() time.Time

	mu         sync.Mutex
	lastSuffix int64
}

var _ StaffRepository = (*PostgresStaffRepository)(nil)

// NewPostgresStaffRepository creates a new repository.
func NewPostgresStaffRepository(db *pgxpool.Pool, guard *lock.Guard, logger *slog.Logger) *PostgresStaffRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStaffRepository{db: db, guard: guard, logger: logger, now: time.Now}
}

const staffSelectColumns = "id, username, password, role, created, stats"

func scanStaff(row pgx.Row) (domain.StaffAccount, error) {
	var (
		acct  domain.StaffAccount
		stats []byte
	)
	if err := row.Scan(&acct.ID, &acct.Username, &acct.Password, &acct.Role, &acct.Created, &stats); err != nil {
		return acct, err
	}
	if len(stats) > 0 {
		_ = json.Unmarshal(stats, &acct.Stats)
	}
	return acct, nil
}

// List returns every account in creation order.
func (r *PostgresStaffRepository) List(ctx context.Context) ([]domain.StaffAccount, error) {
	rows, err := r.db.Query(ctx, "SELECT "+staffSelectColumns+" FROM staff_accounts ORDER BY seq")
	if err != nil {
		return nil, fmt.Errorf("list staff: %w", err)
	}
	defer rows.Close()

	var out []domain.StaffAccount
	for rows.Next() {
		acct, err := scanStaff(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, acct)
	}
	return out, rows.Err()
}

func (r *PostgresStaffRepository) nextID(role domain.Role) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	suffix := r.now().UnixMilli()
	if suffix <= r.lastSuffix {
		suffix = r.lastSuffix + 1
	}
	r.lastSuffix = suffix
	return string(role) + "-" + strconv.FormatInt(suffix, 10)
}

// Add inserts an account with a generated id. A taken username is ErrConflict.
func (r *PostgresStaffRepository) Add(ctx context.Context, acct domain.StaffAccount) (*domain.StaffAccount, error) {
	if strings.TrimSpace(acct.Username) == "" {
		return nil, fmt.Errorf("username is required")
	}
	if _, ok := domain.ParseStaffRole(string(acct.Role)); !ok {
		return nil, fmt.Errorf("invalid staff role %q", acct.Role)
	}
	if acct.Created.IsZero() {
		acct.Created = r.now()
	}
	stats, _ := json.Marshal(acct.Stats)

	err := r.guard.WithLock(lock.ResourceStaffAccounts, func() error {
		// Another process may have minted the same id; retry with a later suffix.
		for attempt := 0; attempt < 3; attempt++ {
			acct.ID = r.nextID(acct.Role)
			_, err := r.db.Exec(ctx, `
				INSERT INTO staff_accounts (id, username, password, role, created, stats)
				VALUES ($1, $2, $3, $4, $5, $6::jsonb)
			`, acct.ID, acct.Username, acct.Password, string(acct.Role), acct.Created, string(stats))
			retry, err := staffInsertError(err, acct.Username)
			if !retry {
				return err
			}
		}
		return fmt.Errorf("%w: could not allocate id for %s", ErrConflict, acct.Username)
	})
	if err != nil {
		return nil, err
	}
	return &acct, nil
}

// staffInsertError maps an INSERT failure onto the store taxonomy. retry is
// true when only the generated id collided.
func staffInsertError(err error, username string) (retry bool, out error) {
	if err == nil {
		return false, nil
	}
	switch uniqueViolationConstraint(err) {
	case "staff_accounts_pkey":
		return true, err
	case "":
		return false, fmt.Errorf("insert staff account: %w", err)
	default:
		return false, fmt.Errorf("%w: username %s", ErrConflict, username)
	}
}

// FindByID returns the account with id or ErrNotFound.
func (r *PostgresStaffRepository) FindByID(ctx context.Context, id string) (*domain.StaffAccount, error) {
	return r.findOne(ctx, "id", id)
}

// FindByUsername returns the account with username or ErrNotFound.
func (r *PostgresStaffRepository) FindByUsername(ctx context.Context, username string) (*domain.StaffAccount, error) {
	return r.findOne(ctx, "username", username)
}

func (r *PostgresStaffRepository) findOne(ctx context.Context, column, value string) (*domain.StaffAccount, error) {
	if value == "" {
		return nil, ErrNotFound
	}
	acct, err := scanStaff(r.db.QueryRow(ctx,
		"SELECT "+staffSelectColumns+" FROM staff_accounts WHERE "+column+" = $1", value))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &acct, nil
}

// Update merges upd into the account with id.
func (r *PostgresStaffRepository) Update(ctx context.Context, id string, upd domain.StaffUpdate) (*domain.StaffAccount, error) {
	return lock.Do(r.guard, lock.ResourceStaffAccounts, func() (*domain.StaffAccount, error) {
		tx, err := r.db.Begin(ctx)
		if err != nil {
			return nil, fmt.Errorf("begin staff update tx: %w", err)
		}
		defer tx.Rollback(ctx)

		acct, err := scanStaff(tx.QueryRow(ctx,
			"SELECT "+staffSelectColumns+" FROM staff_accounts WHERE id = $1 FOR UPDATE", id))
		if err != nil {
			if err == pgx.ErrNoRows {
				return nil, ErrNotFound
			}
			return nil, err
		}

		if upd.Username != nil {
			if strings.TrimSpace(*upd.Username) == "" {
				return nil, fmt.Errorf("username is required")
			}
			acct.Username = *upd.Username
		}
		if upd.Password != nil {
			acct.Password = *upd.Password
		}
		if upd.Stats != nil {
			acct.Stats = *upd.Stats
		}
		stats, _ := json.Marshal(acct.Stats)

		_, err = tx.Exec(ctx, `
			UPDATE staff_accounts SET username = $2, password = $3, stats = $4::jsonb
			WHERE id = $1
		`, id, acct.Username, acct.Password, string(stats))
		if err != nil {
			if isUniqueViolation(err) {
				return nil, fmt.Errorf("%w: username %s", ErrConflict, acct.Username)
			}
			return nil, fmt.Errorf("update staff account: %w", err)
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, err
		}
		return &acct, nil
	})
}

// Delete removes the account with id.
func (r *PostgresStaffRepository) Delete(ctx context.Context, id string) error {
	return r.guard.WithLock(lock.ResourceStaffAccounts, func() error {
		tag, err := r.db.Exec(ctx, "DELETE FROM staff_accounts WHERE id = $1", id)
		if err != nil {
			return fmt.Errorf("delete staff account: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// Migrate applies pending SQL migrations for the staff table.
func (r *PostgresStaffRepository) Migrate(ctx context.Context) (*MigrationReport, error) {
	return lock.Do(r.guard, lock.ResourceStaffAccounts, func() (*MigrationReport, error) {
		return runSQLMigrations(ctx, r.db, StaffSchema.Table, staffSQLMigrations, r.logger)
	})
}
