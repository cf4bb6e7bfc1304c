/**
 * @description
 * Core business logic for the signup service: intake, routing, review
 * decisions and the views handed to dashboards. Persistence is delegated to
 * the store repositories; every rule about who may touch a record lives here.
 *
 * @dependencies
 * - internal/store: record and staff repositories.
 * - internal/attribution: referrer/assignee resolution for views and access checks.
 * - internal/stats: rollups and cached stats write-back.
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/signup-service/internal/attribution"
	"github.com/transfa/signup-service/internal/domain"
	"github.com/transfa/signup-service/internal/stats"
	"github.com/transfa/signup-service/internal/store"
)

var (
	// ErrValidation marks a request that failed input validation.
	ErrValidation = errors.New("validation failed")
	// ErrAlreadyRegistered is the user-facing form of a duplicate intake.
	ErrAlreadyRegistered = errors.New("email already registered")
	// ErrForbidden is returned when the caller may not act on a record.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidCredentials is returned by Login for any credential mismatch.
	ErrInvalidCredentials = errors.New("invalid username or password")
)

func validationErrorf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// RateLimitError is returned when a client exceeded the intake limit.
type RateLimitError struct {
	RetryAfterSeconds int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded; retry after %ds", e.RetryAfterSeconds)
}

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, body interface{}) error
}

// IntakeLimiter decides whether a client may submit another signup.
type IntakeLimiter interface {
	AllowIntake(ctx context.Context, clientKey string) (IntakeQuota, error)
}

// Options carries the settings the service reads from config.
type Options struct {
	JWTSecret     string
	JWTTTL        time.Duration
	AdminUsername string
	AdminPassword string
}

// Service provides the business logic for signup management.
type Service struct {
	signups    store.SignupRepository
	staff      store.StaffRepository
	aggregator *stats.Aggregator
	publisher  EventPublisher
	limiter    IntakeLimiter
	tokens     *TokenIssuer
	logger     *slog.Logger
	opts       Options
	now        func() time.Time
}

// NewService creates a new signup service.
func NewService(signups store.SignupRepository, staff store.StaffRepository, publisher EventPublisher, logger *slog.Logger, opts Options) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		signups:    signups,
		staff:      staff,
		aggregator: stats.NewAggregator(signups, staff, logger),
		publisher:  publisher,
		tokens:     NewTokenIssuer(opts.JWTSecret, opts.JWTTTL),
		logger:     logger,
		opts:       opts,
		now:        time.Now,
	}
}

// SetRateLimiter enables intake rate limiting.
func (s *Service) SetRateLimiter(limiter IntakeLimiter) {
	s.limiter = limiter
}

// Tokens returns the session token issuer used by Login.
func (s *Service) Tokens() *TokenIssuer {
	return s.tokens
}

func (s *Service) publish(ctx context.Context, routingKey string, body interface{}) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, routingKey, body); err != nil {
		s.logger.Warn("failed to publish event", "routing_key", routingKey, "error", err)
	}
}

func (s *Service) signupEvent(rec *domain.SignupRecord, actorID string) domain.SignupEvent {
	return domain.SignupEvent{
		EventID:    uuid.NewString(),
		Email:      rec.Email,
		PlanType:   rec.PlanType,
		Status:     rec.Status,
		ReferredBy: rec.ReferredBy,
		ActorID:    actorID,
		Reason:     rec.RejectReason,
		PaymentID:  rec.PaymentID,
		OccurredAt: s.now().UTC(),
	}
}

// Principal is an authenticated caller.
type Principal struct {
	ID       string
	Username string
	Role     domain.Role
}

// IsAdmin reports whether p is the built-in administrator.
func (p Principal) IsAdmin() bool { return p.Role == domain.RoleAdmin }

// SignupRequest is the public intake form.
type SignupRequest struct {
	PlanType        string `json:"planType"`
	FirstName       string `json:"firstName"`
	LastName        string `json:"lastName"`
	Age             string `json:"age"`
	PlayedBefore    string `json:"playedBefore"`
	ExperienceLevel string `json:"experienceLevel"`
	PlayedClub      string `json:"playedClub"`
	ClubName        string `json:"clubName"`
	Gender          string `json:"gender"`
	HasDisability   string `json:"hasDisability"`
	Location        string `json:"location"`
	Email           string `json:"email"`
	Phone           string `json:"phone"`
	Position        string `json:"position"`
	Goal            string `json:"goal"`
	WhyJoin         string `json:"whyJoin"`
	WhyJoinReason   string `json:"whyJoinReason"`
	Birthday        string `json:"birthday"`
	ReferredBy      string `json:"referredBy"`

	// ClientKey identifies the caller for rate limiting (client IP).
	ClientKey string `json:"-"`
}

func validEmail(email string) bool {
	at := strings.Index(email, "@")
	return at > 0 && at < len(email)-1 && !strings.ContainsAny(email, " \t\r\n,")
}

// Intake records a new applicant. Paid plans are held as pending until the
// payment confirmation upgrades them.
func (s *Service) Intake(ctx context.Context, req SignupRequest) (*domain.SignupRecord, error) {
	email := strings.TrimSpace(req.Email)
	if email == "" {
		return nil, validationErrorf("email is required")
	}
	if !validEmail(email) {
		return nil, validationErrorf("email %q is not valid", email)
	}
	plan, ok := domain.ParsePlanType(req.PlanType)
	if !ok {
		return nil, validationErrorf("planType must be one of free, elite, pro")
	}

	if err := s.consumeIntakeLimit(ctx, req.ClientKey); err != nil {
		return nil, err
	}

	rec := domain.SignupRecord{
		PlanType:        plan,
		FirstName:       strings.TrimSpace(req.FirstName),
		LastName:        strings.TrimSpace(req.LastName),
		Age:             req.Age,
		PlayedBefore:    req.PlayedBefore,
		ExperienceLevel: req.ExperienceLevel,
		PlayedClub:      req.PlayedClub,
		ClubName:        req.ClubName,
		Gender:          req.Gender,
		HasDisability:   req.HasDisability,
		Location:        req.Location,
		Email:           email,
		Phone:           strings.TrimSpace(req.Phone),
		Position:        req.Position,
		Goal:            req.Goal,
		WhyJoin:         req.WhyJoin,
		WhyJoinReason:   req.WhyJoinReason,
		Birthday:        req.Birthday,
		ReferredBy:      strings.TrimSpace(req.ReferredBy),
	}
	if plan.IsPremium() {
		rec.Status = domain.StatusPending
	}

	created, err := s.signups.Add(ctx, rec)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, ErrAlreadyRegistered
		}
		return nil, fmt.Errorf("failed to record signup: %w", err)
	}

	s.logger.Info("signup recorded", "email", created.Email, "plan", created.PlanType, "referred_by", created.ReferredBy)
	s.publish(ctx, domain.EventSignupCreated, s.signupEvent(created, ""))
	return created, nil
}

func (s *Service) consumeIntakeLimit(ctx context.Context, clientKey string) error {
	if s.limiter == nil || strings.TrimSpace(clientKey) == "" {
		return nil
	}
	quota, err := s.limiter.AllowIntake(ctx, clientKey)
	if err != nil {
		// Limiter outages must not block signups.
		s.logger.Warn("intake rate limiter unavailable", "error", err)
		return nil
	}
	if !quota.Allowed {
		s.logger.Info("intake rate limited", "client", clientKey, "used", quota.Used, "limit", quota.Limit)
		return &RateLimitError{RetryAfterSeconds: quota.RetryAfterSeconds}
	}
	return nil
}

// BulkAssign routes emails to assigneeID and returns how many matched.
// Unknown staff ids are accepted; they surface as unresolved in views.
func (s *Service) BulkAssign(ctx context.Context, emails []string, assigneeID string, kind domain.AssigneeKind) (int, error) {
	assigneeID = strings.TrimSpace(assigneeID)
	if assigneeID == "" {
		return 0, validationErrorf("assigneeId is required")
	}
	if _, ok := domain.ParseAssigneeKind(string(kind)); !ok {
		return 0, validationErrorf("assigneeKind must be controller or ambassador")
	}
	if len(emails) == 0 {
		return 0, validationErrorf("at least one email is required")
	}

	matched, err := s.signups.BulkAssign(ctx, emails, assigneeID, kind)
	if err != nil {
		return 0, fmt.Errorf("failed to assign signups: %w", err)
	}
	if _, err := s.staff.FindByID(ctx, assigneeID); errors.Is(err, store.ErrNotFound) {
		s.logger.Warn("signups assigned to unknown staff id", "assignee_id", assigneeID, "kind", kind, "matched", matched)
	}

	s.publish(ctx, domain.EventSignupAssigned, domain.AssignmentEvent{
		EventID:      uuid.NewString(),
		AssigneeID:   assigneeID,
		AssigneeKind: kind,
		Emails:       emails,
		Matched:      matched,
		OccurredAt:   s.now().UTC(),
	})
	return matched, nil
}

// Decision is a controller review outcome.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// Decide approves or rejects a signup on behalf of actor. Controllers may only
// decide records routed to them; the administrator may decide any record.
// Routing is re-checked inside the write guard so a concurrent reassignment
// cannot slip a decision past it.
func (s *Service) Decide(ctx context.Context, actor Principal, email string, decision Decision, reason string) (*domain.SignupRecord, error) {
	if _, err := s.signups.FindByEmail(ctx, email); err != nil {
		return nil, err
	}

	status := domain.StatusApproved
	routingKey := domain.EventSignupApproved
	upd := domain.SignupUpdate{Status: &status, ProcessedBy: &actor.ID}
	switch decision {
	case DecisionApprove:
	case DecisionReject:
		status = domain.StatusRejected
		routingKey = domain.EventSignupRejected
		reason = strings.TrimSpace(reason)
		upd.RejectReason = &reason
	default:
		return nil, validationErrorf("unknown decision %q", decision)
	}

	if !actor.IsAdmin() {
		if actor.Role != domain.RoleController {
			return nil, ErrForbidden
		}
		dir, err := s.directory(ctx)
		if err != nil {
			return nil, err
		}
		upd.Check = func(current domain.SignupRecord) error {
			if attribution.CurrentAssignee(current, dir).ControllerID != actor.ID {
				return ErrForbidden
			}
			return nil
		}
	}

	updated, err := s.signups.Update(ctx, email, upd)
	if err != nil {
		return nil, err
	}
	s.logger.Info("signup reviewed", "email", email, "status", updated.Status, "processed_by", actor.ID)
	s.publish(ctx, routingKey, s.signupEvent(updated, actor.ID))
	return updated, nil
}

// DeleteSignup removes a record. Administrators only, enforced by the caller.
func (s *Service) DeleteSignup(ctx context.Context, actor Principal, email string) error {
	rec, err := s.signups.FindByEmail(ctx, email)
	if err != nil {
		return err
	}
	if err := s.signups.DeleteByEmail(ctx, email); err != nil {
		return err
	}
	s.logger.Info("signup deleted", "email", email, "actor", actor.ID)
	s.publish(ctx, domain.EventSignupDeleted, s.signupEvent(rec, actor.ID))
	return nil
}

func (s *Service) directory(ctx context.Context) (attribution.Directory, error) {
	accounts, err := s.staff.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load staff directory: %w", err)
	}
	return attribution.NewDirectory(accounts), nil
}

// SignupView is a record with its referral and routing facts resolved.
type SignupView struct {
	domain.SignupRecord
	Referrer             string   `json:"referrer"`
	ControllerAssignment string   `json:"controllerAssignment"`
	AmbassadorAssignment string   `json:"ambassadorAssignment"`
	LegacyController     bool     `json:"legacyController,omitempty"`
	Unresolved           []string `json:"unresolved,omitempty"`
}

func newSignupView(rec domain.SignupRecord, dir attribution.Directory) SignupView {
	a := attribution.Resolve(rec, dir)
	return SignupView{
		SignupRecord:         rec,
		Referrer:             a.Referrer,
		ControllerAssignment: a.ControllerID,
		AmbassadorAssignment: a.AmbassadorID,
		LegacyController:     a.LegacyController,
		Unresolved:           a.Unresolved,
	}
}

// SignupFilter narrows a listing. Empty fields match everything.
type SignupFilter struct {
	Status       domain.Status
	PlanType     domain.PlanType
	Referrer     string
	ControllerID string
	AmbassadorID string
	// Search matches email or full name, case-insensitively.
	Search string
}

func (f SignupFilter) matches(v SignupView) bool {
	if f.Status != "" && v.Status != f.Status {
		return false
	}
	if f.PlanType != "" && v.PlanType != f.PlanType {
		return false
	}
	if f.Referrer != "" && v.Referrer != f.Referrer {
		return false
	}
	if f.ControllerID != "" && v.ControllerAssignment != f.ControllerID {
		return false
	}
	if f.AmbassadorID != "" && v.AmbassadorAssignment != f.AmbassadorID {
		return false
	}
	if q := strings.ToLower(strings.TrimSpace(f.Search)); q != "" {
		if !strings.Contains(strings.ToLower(v.Email), q) && !strings.Contains(strings.ToLower(v.FullName), q) {
			return false
		}
	}
	return true
}

// ListSignups returns resolved views of every record matching filter.
func (s *Service) ListSignups(ctx context.Context, filter SignupFilter) ([]SignupView, error) {
	records, err := s.signups.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list signups: %w", err)
	}
	dir, err := s.directory(ctx)
	if err != nil {
		return nil, err
	}

	views := make([]SignupView, 0, len(records))
	for _, rec := range records {
		v := newSignupView(rec, dir)
		if filter.matches(v) {
			views = append(views, v)
		}
	}
	return views, nil
}

// ControllerSignups lists the records routed to a controller.
func (s *Service) ControllerSignups(ctx context.Context, actor Principal) ([]SignupView, error) {
	if actor.IsAdmin() {
		return s.ListSignups(ctx, SignupFilter{})
	}
	return s.ListSignups(ctx, SignupFilter{ControllerID: actor.ID})
}

// AmbassadorSignups lists records an ambassador referred or is working.
func (s *Service) AmbassadorSignups(ctx context.Context, actor Principal) ([]SignupView, error) {
	all, err := s.ListSignups(ctx, SignupFilter{})
	if err != nil {
		return nil, err
	}
	out := make([]SignupView, 0)
	for _, v := range all {
		if v.Referrer == actor.ID || v.AmbassadorAssignment == actor.ID {
			out = append(out, v)
		}
	}
	return out, nil
}

// Stats returns every rollup.
func (s *Service) Stats(ctx context.Context) (*stats.Report, error) {
	return s.aggregator.Compute(ctx)
}

// ControllerStats returns the workload of the calling controller.
func (s *Service) ControllerStats(ctx context.Context, actor Principal) (*stats.ControllerStats, error) {
	return s.aggregator.Controller(ctx, actor.ID)
}

// AmbassadorStats returns the referral performance of the calling ambassador.
func (s *Service) AmbassadorStats(ctx context.Context, actor Principal) (*stats.AmbassadorStats, error) {
	return s.aggregator.Ambassador(ctx, actor.ID)
}

// RefreshStaffStats writes the cached stats snapshot onto staff accounts.
func (s *Service) RefreshStaffStats(ctx context.Context) (int, error) {
	return s.aggregator.WriteBack(ctx)
}
