package attribution

import (
	"slices"
	"testing"

	"github.com/transfa/signup-service/internal/domain"
)

func TestOriginalReferrer(t *testing.T) {
	tests := []struct {
		name string
		rec  domain.SignupRecord
		want string
	}{
		{name: "canonical referrer", rec: domain.SignupRecord{ReferredBy: "amb-1", AmbassadorID: "amb-9"}, want: "amb-1"},
		{name: "legacy fallback", rec: domain.SignupRecord{AmbassadorID: "amb-9"}, want: "amb-9"},
		{name: "assignedTo is ignored", rec: domain.SignupRecord{AssignedTo: "amb-2"}, want: ""},
		{name: "none", rec: domain.SignupRecord{}, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := OriginalReferrer(tt.rec); got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestCurrentAssignee(t *testing.T) {
	dir := NewDirectory([]domain.StaffAccount{
		{ID: "amb-1", Role: domain.RoleAmbassador},
		{ID: "ctrl-1", Role: domain.RoleController},
		{ID: "ctrl-2", Role: domain.RoleController},
	})

	tests := []struct {
		name string
		rec  domain.SignupRecord
		want Assignee
	}{
		{
			name: "unassigned",
			rec:  domain.SignupRecord{},
			want: Assignee{},
		},
		{
			name: "controller routing and ambassador assignment are independent",
			rec:  domain.SignupRecord{AssignedController: "ctrl-1", AssignedTo: "amb-1"},
			want: Assignee{ControllerID: "ctrl-1", AmbassadorID: "amb-1"},
		},
		{
			name: "processedBy counts as controller routing",
			rec:  domain.SignupRecord{ProcessedBy: "ctrl-2", Status: domain.StatusApproved},
			want: Assignee{ControllerID: "ctrl-2"},
		},
		{
			name: "administrator decision is not routing",
			rec:  domain.SignupRecord{ProcessedBy: domain.AdminID, Status: domain.StatusApproved},
			want: Assignee{},
		},
		{
			name: "administrator decision keeps explicit routing",
			rec:  domain.SignupRecord{AssignedController: "ctrl-1", ProcessedBy: domain.AdminID, Status: domain.StatusRejected},
			want: Assignee{ControllerID: "ctrl-1"},
		},
		{
			name: "assignedController wins over processedBy",
			rec:  domain.SignupRecord{AssignedController: "ctrl-1", ProcessedBy: "ctrl-2"},
			want: Assignee{ControllerID: "ctrl-1"},
		},
		{
			name: "controller in assignedTo is a legacy controller assignment",
			rec:  domain.SignupRecord{AssignedTo: "ctrl-2"},
			want: Assignee{ControllerID: "ctrl-2", LegacyController: true},
		},
		{
			name: "legacy controller does not override explicit routing",
			rec:  domain.SignupRecord{AssignedController: "ctrl-1", AssignedTo: "ctrl-2"},
			want: Assignee{ControllerID: "ctrl-1"},
		},
		{
			name: "unknown ids are unresolved",
			rec:  domain.SignupRecord{AssignedController: "ctrl-404", AssignedTo: "amb-404"},
			want: Assignee{ControllerID: "ctrl-404", Unresolved: []string{"ctrl-404", "amb-404"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CurrentAssignee(tt.rec, dir)
			if got.ControllerID != tt.want.ControllerID ||
				got.AmbassadorID != tt.want.AmbassadorID ||
				got.LegacyController != tt.want.LegacyController ||
				!slices.Equal(got.Unresolved, tt.want.Unresolved) {
				t.Fatalf("expected %+v, got %+v", tt.want, got)
			}
		})
	}
}

func TestResolveKeepsReferrerSeparateFromAssignee(t *testing.T) {
	dir := NewDirectory([]domain.StaffAccount{
		{ID: "amb-1", Role: domain.RoleAmbassador},
		{ID: "amb-2", Role: domain.RoleAmbassador},
		{ID: "ctrl-1", Role: domain.RoleController},
	})
	rec := domain.SignupRecord{ReferredBy: "amb-1", AssignedTo: "amb-2", AssignedController: "ctrl-1"}

	got := Resolve(rec, dir)
	if got.Referrer != "amb-1" || got.AmbassadorID != "amb-2" || got.ControllerID != "ctrl-1" {
		t.Fatalf("unexpected attribution %+v", got)
	}
}
