package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/transfa/signup-service/internal/config"
	"github.com/transfa/signup-service/internal/domain"
)

type statsRefresherStub struct {
	calls int
	err   error
}

func (s *statsRefresherStub) RefreshStaffStats(ctx context.Context) (int, error) {
	s.calls++
	return 0, s.err
}

func newTestJobs(refresher StatsRefresher) *Jobs {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewJobs(refresher, logger, config.Config{StatsRefreshSchedule: "@every 1m"})
}

func TestRefreshStaffStatsJob_CallsRefresher(t *testing.T) {
	refresher := &statsRefresherStub{}
	newTestJobs(refresher).RefreshStaffStats()

	if refresher.calls != 1 {
		t.Fatalf("expected one refresh, got %d", refresher.calls)
	}
}

func TestRefreshStaffStatsJob_SurvivesErrors(t *testing.T) {
	refresher := &statsRefresherStub{err: errors.New("disk full")}
	newTestJobs(refresher).RefreshStaffStats()

	if refresher.calls != 1 {
		t.Fatalf("expected one refresh attempt, got %d", refresher.calls)
	}
}

func TestRefreshStaffStatsJob_WritesCachedStats(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	amb := env.createStaff(t, "amy", domain.RoleAmbassador)

	if _, err := env.svc.Intake(ctx, SignupRequest{Email: "a@x.com", ReferredBy: amb.ID}); err != nil {
		t.Fatalf("intake: %v", err)
	}
	if _, err := env.svc.Intake(ctx, SignupRequest{Email: "b@x.com", ReferredBy: amb.ID}); err != nil {
		t.Fatalf("intake: %v", err)
	}
	if _, err := env.svc.Decide(ctx, adminPrincipal, "a@x.com", DecisionApprove, ""); err != nil {
		t.Fatalf("approve: %v", err)
	}

	newTestJobs(env.svc).RefreshStaffStats()

	stored, err := env.staff.FindByID(ctx, amb.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if stored.Stats.Signups != 2 || stored.Stats.Conversions != 1 {
		t.Fatalf("unexpected cached stats %+v", stored.Stats)
	}
}

func TestScheduler_RejectsBadSchedule(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	jobs := NewJobs(&statsRefresherStub{}, logger, config.Config{})
	s := NewScheduler(jobs, logger, config.Config{StatsRefreshSchedule: "not a schedule"})

	if err := s.Start(); err == nil {
		<-s.Stop().Done()
		t.Fatal("expected invalid schedule to fail")
	}
}
