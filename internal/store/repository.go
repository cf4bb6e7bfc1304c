/**
 * @description
 * Persistence contracts for signup records and staff accounts. The application
 * layer depends only on these interfaces; the flat-file and PostgreSQL
 * implementations are interchangeable behind them.
 *
 * @notes
 * - Every mutating call is serialized per resource by lock.Guard.
 * - Reads never take the write lock. A reader racing a writer sees either the
 *   old or the new table, never a partial one.
 */
package store

import (
	"context"

	"github.com/transfa/signup-service/internal/domain"
)

// SignupRepository owns persistence of SignupRecord.
type SignupRepository interface {
	List(ctx context.Context) ([]domain.SignupRecord, error)
	Add(ctx context.Context, rec domain.SignupRecord) (*domain.SignupRecord, error)
	FindByEmail(ctx context.Context, email string) (*domain.SignupRecord, error)
	FindByPaymentReference(ctx context.Context, ref string) (*domain.SignupRecord, error)
	Update(ctx context.Context, email string, upd domain.SignupUpdate) (*domain.SignupRecord, error)
	BulkAssign(ctx context.Context, emails []string, assigneeID string, kind domain.AssigneeKind) (int, error)
	DeleteByEmail(ctx context.Context, email string) error
	Migrate(ctx context.Context) (*MigrationReport, error)
}

// StaffRepository owns persistence of StaffAccount.
type StaffRepository interface {
	List(ctx context.Context) ([]domain.StaffAccount, error)
	Add(ctx context.Context, acct domain.StaffAccount) (*domain.StaffAccount, error)
	FindByID(ctx context.Context, id string) (*domain.StaffAccount, error)
	FindByUsername(ctx context.Context, username string) (*domain.StaffAccount, error)
	Update(ctx context.Context, id string, upd domain.StaffUpdate) (*domain.StaffAccount, error)
	Delete(ctx context.Context, id string) error
	Migrate(ctx context.Context) (*MigrationReport, error)
}
