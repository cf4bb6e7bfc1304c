package app

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/transfa/signup-service/internal/domain"
	"github.com/transfa/signup-service/internal/store"
)

func TestCreateStaff_HashesPassword(t *testing.T) {
	env := newTestEnv(t)
	acct := env.createStaff(t, "carol", domain.RoleController)

	if !strings.HasPrefix(acct.ID, "controller-") {
		t.Fatalf("unexpected id %q", acct.ID)
	}
	stored, err := env.staff.FindByID(context.Background(), acct.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if !isBcryptHash(stored.Password) || stored.Password == "password-123" {
		t.Fatalf("expected bcrypt hash, got %q", stored.Password)
	}
	if env.publisher.count(domain.EventStaffCreated) != 1 {
		t.Fatalf("expected staff.created event")
	}
}

func TestCreateStaff_Validation(t *testing.T) {
	tests := []struct {
		name string
		req  StaffRequest
		want error
	}{
		{name: "missing username", req: StaffRequest{Password: "password-123", Role: "controller"}, want: ErrValidation},
		{name: "admin role", req: StaffRequest{Username: "x", Password: "password-123", Role: "admin"}, want: ErrValidation},
		{name: "short password", req: StaffRequest{Username: "x", Password: "short", Role: "ambassador"}, want: ErrValidation},
		{name: "reserved username", req: StaffRequest{Username: "ROOT", Password: "password-123", Role: "ambassador"}, want: ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			if _, err := env.svc.CreateStaff(context.Background(), tt.req); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestCreateStaff_DuplicateUsername(t *testing.T) {
	env := newTestEnv(t)
	env.createStaff(t, "carol", domain.RoleController)

	_, err := env.svc.CreateStaff(context.Background(), StaffRequest{Username: "carol", Password: "password-123", Role: "ambassador"})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestListStaff_HidesPasswords(t *testing.T) {
	env := newTestEnv(t)
	env.createStaff(t, "carol", domain.RoleController)

	accounts, err := env.svc.ListStaff(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(accounts) != 1 || accounts[0].Password != "" {
		t.Fatalf("expected one account without password, got %+v", accounts)
	}
}

func TestLogin_StaffAccount(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	acct := env.createStaff(t, "carol", domain.RoleController)

	session, err := env.svc.Login(ctx, "carol", "password-123")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if session.ID != acct.ID || session.Role != domain.RoleController {
		t.Fatalf("unexpected session %+v", session)
	}

	principal, err := env.svc.Tokens().Parse(session.Token)
	if err != nil {
		t.Fatalf("parse issued token: %v", err)
	}
	if principal.ID != acct.ID || principal.Role != domain.RoleController || principal.Username != "carol" {
		t.Fatalf("unexpected principal %+v", principal)
	}

	if _, err := env.svc.Login(ctx, "carol", "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := env.svc.Login(ctx, "nobody", "password-123"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown user, got %v", err)
	}
}

func TestLogin_Admin(t *testing.T) {
	env := newTestEnv(t)

	session, err := env.svc.Login(context.Background(), "root", "root-password")
	if err != nil {
		t.Fatalf("admin login: %v", err)
	}
	if session.Role != domain.RoleAdmin || session.ID != AdminID {
		t.Fatalf("unexpected admin session %+v", session)
	}
	if _, err := env.svc.Login(context.Background(), "root", "guess"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestLogin_UpgradesLegacyPlaintextPassword(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	acct, err := env.staff.Add(ctx, domain.StaffAccount{Username: "legacy", Password: "old-secret", Role: domain.RoleAmbassador})
	if err != nil {
		t.Fatalf("seed legacy account: %v", err)
	}

	if _, err := env.svc.Login(ctx, "legacy", "old-secret"); err != nil {
		t.Fatalf("legacy login: %v", err)
	}
	stored, err := env.staff.FindByID(ctx, acct.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if !isBcryptHash(stored.Password) {
		t.Fatalf("expected password to be rehashed, got %q", stored.Password)
	}
	if _, err := env.svc.Login(ctx, "legacy", "old-secret"); err != nil {
		t.Fatalf("login after rehash: %v", err)
	}
}

func TestUpdateAndDeleteStaff(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	acct := env.createStaff(t, "carol", domain.RoleController)

	if _, err := env.svc.UpdateStaff(ctx, acct.ID, StaffRequest{}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for empty update, got %v", err)
	}
	updated, err := env.svc.UpdateStaff(ctx, acct.ID, StaffRequest{Username: "caroline", Password: "new-password-1"})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Username != "caroline" {
		t.Fatalf("expected rename, got %q", updated.Username)
	}
	if _, err := env.svc.Login(ctx, "caroline", "new-password-1"); err != nil {
		t.Fatalf("login with new credentials: %v", err)
	}

	if err := env.svc.DeleteStaff(ctx, acct.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := env.svc.DeleteStaff(ctx, acct.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
	if env.publisher.count(domain.EventStaffDeleted) != 1 {
		t.Fatalf("expected staff.deleted event")
	}
}

func TestTokenIssuer_RejectsExpiredAndForeignTokens(t *testing.T) {
	issuer := NewTokenIssuer("secret-a", time.Minute)
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	issuer.now = func() time.Time { return base }

	token, expiresAt, err := issuer.Issue(Principal{ID: "controller-1", Username: "carol", Role: domain.RoleController})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if !expiresAt.Equal(base.Add(time.Minute)) {
		t.Fatalf("unexpected expiry %v", expiresAt)
	}
	if _, err := issuer.Parse(token); err != nil {
		t.Fatalf("parse fresh token: %v", err)
	}

	issuer.now = func() time.Time { return base.Add(2 * time.Minute) }
	if _, err := issuer.Parse(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expired token to be rejected, got %v", err)
	}

	other := NewTokenIssuer("secret-b", time.Minute)
	other.now = func() time.Time { return base }
	if _, err := other.Parse(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected token signed with another secret to be rejected, got %v", err)
	}
}
