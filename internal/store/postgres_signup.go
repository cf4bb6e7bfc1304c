/**
 * @description
 * PostgreSQL implementation of SignupRepository. Same contract as the flat
 * file: writes go through the "signups" guard, row-level changes run inside a
 * transaction with SELECT ... FOR UPDATE, and the record invariants are
 * checked by the shared update merge.
 */
package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/transfa/signup-service/internal/domain"
	"github.com/transfa/signup-service/internal/lock"
)

const signupSelectColumns = `
	ts, plan_type, payment_status, first_name, last_name, full_name, age,
	played_before, experience_level, played_club, club_name, gender,
	has_disability, location, email, phone, position, goal, why_join,
	why_join_reason, birthday, status, referred_by, assigned_to, ambassador_id,
	processed_by, payment_id, amount, currency, billing, reject_reason,
	assigned_controller`

// PostgresSignupRepository persists signups to PostgreSQL.
type PostgresSignupRepository struct {
	db     *pgxpool.Pool
	guard  *lock.Guard
	logger *slog.Logger
	now    func() time.Time
}

var _ SignupRepository = (*PostgresSignupRepository)(nil)

// NewPostgresSignupRepository creates a new repository.
func NewPostgresSignupRepository(db *pgxpool.Pool, guard *lock.Guard, logger *slog.Logger) *PostgresSignupRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresSignupRepository{db: db, guard: guard, logger: logger, now: time.Now}
}

func scanSignup(row pgx.Row) (domain.SignupRecord, error) {
	var rec domain.SignupRecord
	err := row.Scan(
		&rec.Timestamp, &rec.PlanType, &rec.PaymentStatus, &rec.FirstName,
		&rec.LastName, &rec.FullName, &rec.Age, &rec.PlayedBefore,
		&rec.ExperienceLevel, &rec.PlayedClub, &rec.ClubName, &rec.Gender,
		&rec.HasDisability, &rec.Location, &rec.Email, &rec.Phone,
		&rec.Position, &rec.Goal, &rec.WhyJoin, &rec.WhyJoinReason,
		&rec.Birthday, &rec.Status, &rec.ReferredBy, &rec.AssignedTo,
		&rec.AmbassadorID, &rec.ProcessedBy, &rec.PaymentID, &rec.Amount,
		&rec.Currency, &rec.Billing, &rec.RejectReason, &rec.AssignedController,
	)
	return rec, err
}

// List returns every record in insertion order.
func (r *PostgresSignupRepository) List(ctx context.Context) ([]domain.SignupRecord, error) {
	rows, err := r.db.Query(ctx, "SELECT "+signupSelectColumns+" FROM signups ORDER BY seq")
	if err != nil {
		return nil, fmt.Errorf("list signups: %w", err)
	}
	defer rows.Close()

	var out []domain.SignupRecord
	for rows.Next() {
		rec, err := scanSignup(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Add inserts a record after filling defaults. A duplicate email is ErrConflict.
func (r *PostgresSignupRepository) Add(ctx context.Context, rec domain.SignupRecord) (*domain.SignupRecord, error) {
	rec.ApplyDefaults(r.now())
	if err := validateNewSignup(rec); err != nil {
		return nil, err
	}

	err := r.guard.WithLock(lock.ResourceSignups, func() error {
		query := `
			INSERT INTO signups (` + signupSelectColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
				$17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31, $32)
		`
		_, err := r.db.Exec(ctx, query, signupArgs(rec)...)
		return signupInsertError(err, rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// signupInsertError maps an INSERT failure onto the store taxonomy.
func signupInsertError(err error, rec domain.SignupRecord) error {
	if err == nil {
		return nil
	}
	if !isUniqueViolation(err) {
		return fmt.Errorf("insert signup: %w", err)
	}
	if uniqueViolationConstraint(err) == "signups_payment_id_key" {
		return fmt.Errorf("%w: payment reference %s", ErrConflict, rec.PaymentID)
	}
	return fmt.Errorf("%w: email %s", ErrConflict, rec.Email)
}

func signupArgs(rec domain.SignupRecord) []any {
	return []any{
		rec.Timestamp, string(rec.PlanType), string(rec.PaymentStatus), rec.FirstName,
		rec.LastName, rec.FullName, rec.Age, rec.PlayedBefore,
		rec.ExperienceLevel, rec.PlayedClub, rec.ClubName, rec.Gender,
		rec.HasDisability, rec.Location, rec.Email, rec.Phone,
		rec.Position, rec.Goal, rec.WhyJoin, rec.WhyJoinReason,
		rec.Birthday, string(rec.Status), rec.ReferredBy, rec.AssignedTo,
		rec.AmbassadorID, rec.ProcessedBy, rec.PaymentID, rec.Amount,
		rec.Currency, rec.Billing, rec.RejectReason, rec.AssignedController,
	}
}

// FindByEmail returns the record keyed by email or ErrNotFound.
func (r *PostgresSignupRepository) FindByEmail(ctx context.Context, email string) (*domain.SignupRecord, error) {
	return r.findOne(ctx, "email", email)
}

// FindByPaymentReference returns the record carrying ref or ErrNotFound.
func (r *PostgresSignupRepository) FindByPaymentReference(ctx context.Context, ref string) (*domain.SignupRecord, error) {
	return r.findOne(ctx, "payment_id", ref)
}

func (r *PostgresSignupRepository) findOne(ctx context.Context, column, value string) (*domain.SignupRecord, error) {
	if value == "" {
		return nil, ErrNotFound
	}
	query := "SELECT " + signupSelectColumns + " FROM signups WHERE " + column + " = $1 ORDER BY seq LIMIT 1"
	rec, err := scanSignup(r.db.QueryRow(ctx, query, value))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// Update merges upd into the record keyed by email.
func (r *PostgresSignupRepository) Update(ctx context.Context, email string, upd domain.SignupUpdate) (*domain.SignupRecord, error) {
	return lock.Do(r.guard, lock.ResourceSignups, func() (*domain.SignupRecord, error) {
		tx, err := r.db.Begin(ctx)
		if err != nil {
			return nil, fmt.Errorf("begin update tx: %w", err)
		}
		defer tx.Rollback(ctx)

		next, err := updateSignupTx(ctx, tx, email, upd)
		if err != nil {
			return nil, err
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, err
		}
		return next, nil
	})
}

func updateSignupTx(ctx context.Context, tx pgx.Tx, email string, upd domain.SignupUpdate) (*domain.SignupRecord, error) {
	// Use FOR UPDATE to lock the row while the merge is validated.
	current, err := scanSignup(tx.QueryRow(ctx,
		"SELECT "+signupSelectColumns+" FROM signups WHERE email = $1 FOR UPDATE", email))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}

	next, err := applySignupUpdate(current, upd)
	if err != nil {
		return nil, err
	}

	query := `
		UPDATE signups SET
			plan_type = $2, payment_status = $3, first_name = $4, last_name = $5,
			full_name = $6, phone = $7, status = $8, referred_by = $9,
			assigned_to = $10, processed_by = $11, payment_id = $12, amount = $13,
			currency = $14, billing = $15, reject_reason = $16, assigned_controller = $17
		WHERE email = $1
	`
	_, err = tx.Exec(ctx, query,
		email, string(next.PlanType), string(next.PaymentStatus), next.FirstName, next.LastName,
		next.FullName, next.Phone, string(next.Status), next.ReferredBy,
		next.AssignedTo, next.ProcessedBy, next.PaymentID, next.Amount,
		next.Currency, next.Billing, next.RejectReason, next.AssignedController,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: payment reference %s", ErrConflict, next.PaymentID)
		}
		return nil, fmt.Errorf("update signup: %w", err)
	}
	return &next, nil
}

// BulkAssign writes assigneeID into the routing column for kind on every
// matching email and returns how many rows matched.
func (r *PostgresSignupRepository) BulkAssign(ctx context.Context, emails []string, assigneeID string, kind domain.AssigneeKind) (int, error) {
	upd, err := assignmentUpdate(assigneeID, kind)
	if err != nil {
		return 0, err
	}
	emails = uniqueEmails(emails)
	if len(emails) == 0 {
		return 0, nil
	}

	return lock.Do(r.guard, lock.ResourceSignups, func() (int, error) {
		tx, err := r.db.Begin(ctx)
		if err != nil {
			return 0, fmt.Errorf("begin assign tx: %w", err)
		}
		defer tx.Rollback(ctx)

		matched := 0
		for _, email := range emails {
			_, err := updateSignupTx(ctx, tx, email, upd)
			if err == ErrNotFound {
				continue
			}
			if err != nil {
				return 0, err
			}
			matched++
		}
		if matched == 0 {
			return 0, nil
		}
		if err := tx.Commit(ctx); err != nil {
			return 0, err
		}
		return matched, nil
	})
}

// DeleteByEmail removes exactly one row.
func (r *PostgresSignupRepository) DeleteByEmail(ctx context.Context, email string) error {
	return r.guard.WithLock(lock.ResourceSignups, func() error {
		tag, err := r.db.Exec(ctx, "DELETE FROM signups WHERE email = $1", email)
		if err != nil {
			return fmt.Errorf("delete signup: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// Migrate applies pending SQL migrations for the signup table.
func (r *PostgresSignupRepository) Migrate(ctx context.Context) (*MigrationReport, error) {
	return lock.Do(r.guard, lock.ResourceSignups, func() (*MigrationReport, error) {
		return runSQLMigrations(ctx, r.db, SignupSchema.Table, signupSQLMigrations, r.logger)
	})
}
