package stats

import (
	"context"
	"errors"
	"testing"

	"github.com/transfa/signup-service/internal/domain"
	"github.com/transfa/signup-service/internal/lock"
	"github.com/transfa/signup-service/internal/store"
)

func TestConversionRate(t *testing.T) {
	tests := []struct {
		approved, total, want int
	}{
		{0, 0, 0},
		{2, 4, 50},
		{1, 3, 33},
		{2, 3, 67},
		{1, 8, 13},
		{5, 5, 100},
	}
	for _, tt := range tests {
		if got := ConversionRate(tt.approved, tt.total); got != tt.want {
			t.Fatalf("ConversionRate(%d, %d): expected %d, got %d", tt.approved, tt.total, tt.want, got)
		}
	}
}

func TestAggregate(t *testing.T) {
	accounts := []domain.StaffAccount{
		{ID: "amb-1", Username: "ana", Role: domain.RoleAmbassador},
		{ID: "amb-2", Username: "ava", Role: domain.RoleAmbassador},
		{ID: "ctrl-1", Username: "carl", Role: domain.RoleController},
	}
	records := []domain.SignupRecord{
		{Email: "1@x.com", PlanType: domain.PlanFree, Status: domain.StatusApproved, ReferredBy: "amb-1", AssignedController: "ctrl-1"},
		{Email: "2@x.com", PlanType: domain.PlanFree, Status: domain.StatusWaitlisted, ReferredBy: "amb-1", AssignedController: "ctrl-1"},
		{Email: "3@x.com", PlanType: domain.PlanFree, Status: domain.StatusPending, AmbassadorID: "amb-1"},
		{Email: "4@x.com", PlanType: domain.PlanElite, Status: domain.StatusApproved, ReferredBy: "amb-1", AssignedTo: "amb-2"},
		{Email: "5@x.com", PlanType: domain.PlanFree, Status: domain.StatusRejected, ProcessedBy: "ctrl-1"},
		{Email: "6@x.com", PlanType: domain.PlanPremium, Status: domain.StatusApproved, AssignedTo: "ctrl-1"},
	}

	report := Aggregate(records, accounts)

	wantGlobal := Global{Total: 6, Waitlisted: 2, Approved: 1, Premium: 2, Referred: 4, ControllerRouted: 4}
	if report.Global != wantGlobal {
		t.Fatalf("expected global %+v, got %+v", wantGlobal, report.Global)
	}

	if len(report.Ambassadors) != 2 {
		t.Fatalf("expected two ambassadors, got %+v", report.Ambassadors)
	}
	amb := report.Ambassadors[0]
	if amb.ID != "amb-1" || amb.TotalSignups != 4 || amb.ApprovedSignups != 2 || amb.ConversionRate != 50 {
		t.Fatalf("unexpected amb-1 stats %+v", amb)
	}
	if idle := report.Ambassadors[1]; idle.TotalSignups != 0 || idle.ConversionRate != 0 {
		t.Fatalf("reassignment must not credit amb-2: %+v", idle)
	}

	if len(report.Controllers) != 1 {
		t.Fatalf("expected one controller, got %+v", report.Controllers)
	}
	ctrl := report.Controllers[0]
	want := ControllerStats{ID: "ctrl-1", Username: "carl", Total: 4, Approved: 2, Rejected: 1, Pending: 1}
	if ctrl != want {
		t.Fatalf("expected controller %+v, got %+v", want, ctrl)
	}
}

func newFileStores(t *testing.T) (*store.FileSignupRepository, *store.FileStaffRepository) {
	t.Helper()
	dir := t.TempDir()
	guard := lock.NewGuard()
	return store.NewFileSignupRepository(dir, guard, nil), store.NewFileStaffRepository(dir, guard, nil)
}

func TestAggregator_WriteBack(t *testing.T) {
	ctx := context.Background()
	signups, staff := newFileStores(t)

	amb, err := staff.Add(ctx, domain.StaffAccount{Username: "ana", Role: domain.RoleAmbassador})
	if err != nil {
		t.Fatalf("add ambassador: %v", err)
	}
	ctrl, err := staff.Add(ctx, domain.StaffAccount{Username: "carl", Role: domain.RoleController})
	if err != nil {
		t.Fatalf("add controller: %v", err)
	}

	seed := []domain.SignupRecord{
		{Email: "1@x.com", ReferredBy: amb.ID, Status: domain.StatusApproved, ProcessedBy: ctrl.ID},
		{Email: "2@x.com", ReferredBy: amb.ID, Status: domain.StatusApproved},
		{Email: "3@x.com", ReferredBy: amb.ID},
		{Email: "4@x.com", ReferredBy: amb.ID, AssignedController: ctrl.ID},
	}
	for _, rec := range seed {
		if _, err := signups.Add(ctx, rec); err != nil {
			t.Fatalf("add %s: %v", rec.Email, err)
		}
	}

	agg := NewAggregator(signups, staff, nil)

	stats, err := agg.Ambassador(ctx, amb.ID)
	if err != nil {
		t.Fatalf("ambassador stats: %v", err)
	}
	if stats.TotalSignups != 4 || stats.ApprovedSignups != 2 || stats.ConversionRate != 50 {
		t.Fatalf("unexpected ambassador stats %+v", stats)
	}

	updated, err := agg.WriteBack(ctx)
	if err != nil {
		t.Fatalf("write back: %v", err)
	}
	if updated != 2 {
		t.Fatalf("expected two accounts updated, got %d", updated)
	}

	gotAmb, _ := staff.FindByID(ctx, amb.ID)
	if gotAmb.Stats != (domain.StaffStats{Signups: 4, Conversions: 2}) {
		t.Fatalf("unexpected cached ambassador stats %+v", gotAmb.Stats)
	}
	gotCtrl, _ := staff.FindByID(ctx, ctrl.ID)
	if gotCtrl.Stats != (domain.StaffStats{Assignments: 2, Completed: 1}) {
		t.Fatalf("unexpected cached controller stats %+v", gotCtrl.Stats)
	}

	again, err := agg.WriteBack(ctx)
	if err != nil {
		t.Fatalf("second write back: %v", err)
	}
	if again != 0 {
		t.Fatalf("expected unchanged snapshot to skip writes, got %d", again)
	}
}

func TestAggregator_UnknownStaff(t *testing.T) {
	signups, staff := newFileStores(t)
	agg := NewAggregator(signups, staff, nil)

	if _, err := agg.Controller(context.Background(), "ctrl-404"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
