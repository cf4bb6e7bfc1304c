package store

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/transfa/signup-service/internal/domain"
	"github.com/transfa/signup-service/internal/lock"
)

func TestIsUniqueViolation(t *testing.T) {
	tests := []struct {
		name           string
		err            error
		wantViolation  bool
		wantConstraint string
	}{
		{name: "nil error", err: nil},
		{name: "plain error", err: errors.New("connection reset")},
		{
			name:           "unique violation",
			err:            &pgconn.PgError{Code: "23505", ConstraintName: "signups_pkey"},
			wantViolation:  true,
			wantConstraint: "signups_pkey",
		},
		{
			name:           "wrapped unique violation",
			err:            fmt.Errorf("exec: %w", &pgconn.PgError{Code: "23505", ConstraintName: "staff_accounts_username_key"}),
			wantViolation:  true,
			wantConstraint: "staff_accounts_username_key",
		},
		{
			name: "foreign key violation",
			err:  &pgconn.PgError{Code: "23503", ConstraintName: "signups_pkey"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isUniqueViolation(tt.err); got != tt.wantViolation {
				t.Fatalf("isUniqueViolation = %v, want %v", got, tt.wantViolation)
			}
			if got := uniqueViolationConstraint(tt.err); got != tt.wantConstraint {
				t.Fatalf("uniqueViolationConstraint = %q, want %q", got, tt.wantConstraint)
			}
		})
	}
}

func TestSignupInsertError(t *testing.T) {
	rec := domain.SignupRecord{Email: "a@x.com", PaymentID: "pi_123"}
	tests := []struct {
		name         string
		err          error
		wantConflict bool
		wantText     string
	}{
		{name: "success", err: nil},
		{
			name:         "duplicate email",
			err:          &pgconn.PgError{Code: "23505", ConstraintName: "signups_pkey"},
			wantConflict: true,
			wantText:     "email a@x.com",
		},
		{
			name:         "duplicate payment reference",
			err:          &pgconn.PgError{Code: "23505", ConstraintName: "signups_payment_id_key"},
			wantConflict: true,
			wantText:     "payment reference pi_123",
		},
		{
			name:     "other failure",
			err:      errors.New("disk full"),
			wantText: "insert signup",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := signupInsertError(tt.err, rec)
			if tt.err == nil {
				if got != nil {
					t.Fatalf("expected nil, got %v", got)
				}
				return
			}
			if errors.Is(got, ErrConflict) != tt.wantConflict {
				t.Fatalf("conflict = %v, want %v (err %v)", errors.Is(got, ErrConflict), tt.wantConflict, got)
			}
			if !strings.Contains(got.Error(), tt.wantText) {
				t.Fatalf("expected %q in %q", tt.wantText, got.Error())
			}
		})
	}
}

func TestStaffInsertError(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		wantRetry    bool
		wantConflict bool
		wantNil      bool
	}{
		{name: "success", err: nil, wantNil: true},
		{
			name:      "generated id collided",
			err:       &pgconn.PgError{Code: "23505", ConstraintName: "staff_accounts_pkey"},
			wantRetry: true,
		},
		{
			name:         "username taken",
			err:          &pgconn.PgError{Code: "23505", ConstraintName: "staff_accounts_username_key"},
			wantConflict: true,
		},
		{name: "other failure", err: errors.New("timeout")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			retry, err := staffInsertError(tt.err, "carol")
			if retry != tt.wantRetry {
				t.Fatalf("retry = %v, want %v", retry, tt.wantRetry)
			}
			if tt.wantNil {
				if err != nil {
					t.Fatalf("expected nil, got %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected an error")
			}
			if errors.Is(err, ErrConflict) != tt.wantConflict {
				t.Fatalf("conflict = %v, want %v (err %v)", errors.Is(err, ErrConflict), tt.wantConflict, err)
			}
		})
	}
}

func TestSQLMigrationPlansAreOrdered(t *testing.T) {
	plans := map[string][]sqlMigration{
		"signups":        signupSQLMigrations,
		"staff_accounts": staffSQLMigrations,
	}

	for table, plan := range plans {
		t.Run(table, func(t *testing.T) {
			for i, m := range plan {
				if m.Version != i {
					t.Fatalf("step %d has version %d; versions must be contiguous from 0", i, m.Version)
				}
				if strings.TrimSpace(m.Name) == "" || len(m.Statements) == 0 {
					t.Fatalf("v%d is missing a name or statements", m.Version)
				}
			}
			if !strings.Contains(plan[0].Statements[0], "CREATE TABLE IF NOT EXISTS "+table) {
				t.Fatalf("v0 must create %s", table)
			}
		})
	}
}

func TestSignupSQLMigrations_BackfillFollowsNewColumn(t *testing.T) {
	stmts := signupSQLMigrations[1].Statements
	addAt, backfillAt := -1, -1
	for i, stmt := range stmts {
		switch {
		case strings.Contains(stmt, "ADD COLUMN IF NOT EXISTS referred_by"):
			addAt = i
		case strings.HasPrefix(strings.TrimSpace(stmt), "UPDATE signups SET referred_by = ambassador_id"):
			backfillAt = i
		}
	}
	if addAt < 0 || backfillAt < 0 || backfillAt < addAt {
		t.Fatalf("referred_by must be added before it is backfilled: add=%d backfill=%d", addAt, backfillAt)
	}
	if !strings.Contains(stmts[backfillAt], "referred_by = ''") {
		t.Fatalf("backfill must not overwrite an existing referrer: %s", stmts[backfillAt])
	}
}

func TestPendingMigrations(t *testing.T) {
	plan := []sqlMigration{
		{Version: 2, Name: "two"},
		{Version: 0, Name: "zero"},
		{Version: 1, Name: "one"},
	}

	tests := []struct {
		name    string
		applied map[int]bool
		want    []int
	}{
		{name: "fresh database", applied: map[int]bool{}, want: []int{0, 1, 2}},
		{name: "partially applied", applied: map[int]bool{0: true}, want: []int{1, 2}},
		{name: "current", applied: map[int]bool{0: true, 1: true, 2: true}, want: []int{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := pendingMigrations(plan, tt.applied)
			if len(got) != len(tt.want) {
				t.Fatalf("expected %d pending, got %d", len(tt.want), len(got))
			}
			for i, m := range got {
				if m.Version != tt.want[i] {
					t.Fatalf("pending[%d] = v%d, want v%d", i, m.Version, tt.want[i])
				}
			}
		})
	}
}

func TestSignupSelectColumnsMatchInsertArgs(t *testing.T) {
	columns := strings.Split(signupSelectColumns, ",")
	if got, want := len(columns), len(signupArgs(domain.SignupRecord{})); got != want {
		t.Fatalf("select lists %d columns, insert binds %d args", got, want)
	}
	if got := len(SignupColumns); got != len(columns) {
		t.Fatalf("flat layout has %d columns, sql layout has %d", got, len(columns))
	}
}

func TestPostgresStaffRepository_NextIDIsMonotonic(t *testing.T) {
	repo := NewPostgresStaffRepository(nil, lock.NewGuard(), nil)
	fixed := time.UnixMilli(1_700_000_000_000)
	repo.now = func() time.Time { return fixed }

	first := repo.nextID(domain.RoleController)
	second := repo.nextID(domain.RoleController)
	third := repo.nextID(domain.RoleAmbassador)

	if first != "controller-1700000000000" {
		t.Fatalf("unexpected first id %q", first)
	}
	if second != "controller-1700000000001" || third != "ambassador-1700000000002" {
		t.Fatalf("ids must not repeat within one millisecond: %q %q", second, third)
	}
}
