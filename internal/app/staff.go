package app

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/signup-service/internal/domain"
	"github.com/transfa/signup-service/internal/store"
	"golang.org/x/crypto/bcrypt"
)

// AdminID is the principal id of the configured administrator.
const AdminID = domain.AdminID

const minPasswordLength = 8

// StaffRequest creates or edits a staff account.
type StaffRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// Session is the result of a successful login.
type Session struct {
	Token     string      `json:"token"`
	Role      domain.Role `json:"role"`
	ID        string      `json:"id"`
	Username  string      `json:"username"`
	ExpiresAt time.Time   `json:"expiresAt"`
}

func hashPassword(password string) (string, error) {
	if len(password) < minPasswordLength {
		return "", validationErrorf("password must be at least %d characters", minPasswordLength)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

func isBcryptHash(stored string) bool {
	return strings.HasPrefix(stored, "$2a$") || strings.HasPrefix(stored, "$2b$") || strings.HasPrefix(stored, "$2y$")
}

// CreateStaff adds a controller or ambassador.
func (s *Service) CreateStaff(ctx context.Context, req StaffRequest) (*domain.StaffAccount, error) {
	username := strings.TrimSpace(req.Username)
	if username == "" {
		return nil, validationErrorf("username is required")
	}
	if strings.EqualFold(username, s.opts.AdminUsername) {
		return nil, validationErrorf("username %q is reserved", username)
	}
	role, ok := domain.ParseStaffRole(req.Role)
	if !ok {
		return nil, validationErrorf("role must be controller or ambassador")
	}
	hash, err := hashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	acct, err := s.staff.Add(ctx, domain.StaffAccount{Username: username, Password: hash, Role: role})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, fmt.Errorf("%w: username %s is taken", store.ErrConflict, username)
		}
		return nil, fmt.Errorf("failed to create staff account: %w", err)
	}

	s.logger.Info("staff account created", "staff_id", acct.ID, "role", acct.Role)
	s.publish(ctx, domain.EventStaffCreated, s.staffEvent(acct))
	return acct, nil
}

// UpdateStaff changes the username and/or password of an account. Empty
// fields are left as they are.
func (s *Service) UpdateStaff(ctx context.Context, id string, req StaffRequest) (*domain.StaffAccount, error) {
	var upd domain.StaffUpdate
	if username := strings.TrimSpace(req.Username); username != "" {
		if strings.EqualFold(username, s.opts.AdminUsername) {
			return nil, validationErrorf("username %q is reserved", username)
		}
		upd.Username = &username
	}
	if req.Password != "" {
		hash, err := hashPassword(req.Password)
		if err != nil {
			return nil, err
		}
		upd.Password = &hash
	}
	if upd.Username == nil && upd.Password == nil {
		return nil, validationErrorf("nothing to update")
	}

	acct, err := s.staff.Update(ctx, id, upd)
	if err != nil {
		return nil, err
	}
	s.logger.Info("staff account updated", "staff_id", id, "password_changed", upd.Password != nil)
	return acct, nil
}

// DeleteStaff removes an account. Records routed to it keep the id and show
// up as unresolved.
func (s *Service) DeleteStaff(ctx context.Context, id string) error {
	acct, err := s.staff.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.staff.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("staff account deleted", "staff_id", id)
	s.publish(ctx, domain.EventStaffDeleted, s.staffEvent(acct))
	return nil
}

// ListStaff returns every account. Passwords never leave the process.
func (s *Service) ListStaff(ctx context.Context) ([]domain.StaffAccount, error) {
	accounts, err := s.staff.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list staff: %w", err)
	}
	for i := range accounts {
		accounts[i].Password = ""
	}
	return accounts, nil
}

func (s *Service) staffEvent(acct *domain.StaffAccount) domain.StaffEvent {
	return domain.StaffEvent{
		EventID:    uuid.NewString(),
		StaffID:    acct.ID,
		Username:   acct.Username,
		Role:       acct.Role,
		OccurredAt: s.now().UTC(),
	}
}

// Login authenticates the configured administrator or a staff account and
// issues a session token.
func (s *Service) Login(ctx context.Context, username, password string) (*Session, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	principal, err := s.authenticate(ctx, username, password)
	if err != nil {
		return nil, err
	}

	token, expiresAt, err := s.tokens.Issue(*principal)
	if err != nil {
		return nil, err
	}
	s.logger.Info("staff login", "staff_id", principal.ID, "role", principal.Role)
	return &Session{
		Token:     token,
		Role:      principal.Role,
		ID:        principal.ID,
		Username:  principal.Username,
		ExpiresAt: expiresAt,
	}, nil
}

func (s *Service) authenticate(ctx context.Context, username, password string) (*Principal, error) {
	if s.opts.AdminUsername != "" && username == s.opts.AdminUsername {
		if subtle.ConstantTimeCompare([]byte(password), []byte(s.opts.AdminPassword)) != 1 {
			return nil, ErrInvalidCredentials
		}
		return &Principal{ID: AdminID, Username: username, Role: domain.RoleAdmin}, nil
	}

	acct, err := s.staff.FindByUsername(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up staff account: %w", err)
	}

	if isBcryptHash(acct.Password) {
		if bcrypt.CompareHashAndPassword([]byte(acct.Password), []byte(password)) != nil {
			return nil, ErrInvalidCredentials
		}
	} else {
		// Accounts created before hashing was introduced store plaintext.
		if acct.Password == "" || subtle.ConstantTimeCompare([]byte(password), []byte(acct.Password)) != 1 {
			return nil, ErrInvalidCredentials
		}
		s.upgradeLegacyPassword(ctx, acct.ID, password)
	}
	return &Principal{ID: acct.ID, Username: acct.Username, Role: acct.Role}, nil
}

func (s *Service) upgradeLegacyPassword(ctx context.Context, id, password string) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		s.logger.Warn("failed to hash legacy password", "staff_id", id, "error", err)
		return
	}
	encoded := string(hash)
	if _, err := s.staff.Update(ctx, id, domain.StaffUpdate{Password: &encoded}); err != nil {
		s.logger.Warn("failed to upgrade legacy password", "staff_id", id, "error", err)
		return
	}
	s.logger.Info("legacy staff password rehashed", "staff_id", id)
}
