/**
 * @description
 * Core data structures for applicant signup records. A SignupRecord is one row
 * of the signup table; every column of the persisted layout has a field here.
 *
 * @notes
 * - Attribution (ReferredBy, legacy AmbassadorID) is permanent once set.
 * - Routing (AssignedTo, AssignedController, ProcessedBy) is mutable and
 *   independent of attribution.
 */
package domain

import (
	"strings"
	"time"
)

// PlanType is the plan an applicant signed up for.
type PlanType string

const (
	PlanFree  PlanType = "free"
	PlanElite PlanType = "elite"
	PlanPro   PlanType = "pro"

	// Legacy values still present in older rows.
	PlanPremium PlanType = "premium"
	PlanPaid    PlanType = "paid"
)

// IsPremium reports whether the plan counts as a paid tier.
func (p PlanType) IsPremium() bool {
	switch p {
	case PlanElite, PlanPro, PlanPremium, PlanPaid:
		return true
	}
	return false
}

// ParsePlanType accepts the plan types offered at intake.
func ParsePlanType(raw string) (PlanType, bool) {
	switch p := PlanType(strings.ToLower(strings.TrimSpace(raw))); p {
	case "":
		return PlanFree, true
	case PlanFree, PlanElite, PlanPro:
		return p, true
	}
	return "", false
}

// Status is the lifecycle status of a signup.
type Status string

const (
	StatusWaitlisted Status = "waitlisted"
	StatusPending    Status = "pending"
	StatusApproved   Status = "approved"
	StatusRejected   Status = "rejected"
)

// IsTerminal reports whether no further status transition is allowed.
func (s Status) IsTerminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// IsUnderReview reports whether the record is still waiting on a decision.
func (s Status) IsUnderReview() bool {
	return s == StatusWaitlisted || s == StatusPending || s == ""
}

// CanTransitionTo enforces the one-way waitlisted/pending -> approved/rejected flow.
func (s Status) CanTransitionTo(next Status) bool {
	if s == next {
		return true
	}
	if s.IsTerminal() {
		return false
	}
	return next.IsTerminal()
}

// PaymentStatus describes how (and whether) the applicant paid.
type PaymentStatus string

const (
	PaymentNotApplicable PaymentStatus = "n/a"
	PaymentPaid          PaymentStatus = "paid"
	PaymentSubscription  PaymentStatus = "subscription"
)

// SignupRecord is a single applicant row.
type SignupRecord struct {
	Timestamp     time.Time     `json:"timestamp"`
	PlanType      PlanType      `json:"planType"`
	PaymentStatus PaymentStatus `json:"paymentStatus"`

	FirstName       string `json:"firstName"`
	LastName        string `json:"lastName"`
	FullName        string `json:"fullName"`
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

	Status Status `json:"status"`

	ReferredBy   string `json:"referredBy"`
	AssignedTo   string `json:"assignedTo"`
	AmbassadorID string `json:"ambassadorId"`
	ProcessedBy  string `json:"processedBy"`

	PaymentID string `json:"paymentId"`
	Amount    string `json:"amount"`
	Currency  string `json:"currency"`
	Billing   string `json:"billing"`

	RejectReason       string `json:"rejectReason"`
	AssignedController string `json:"assignedController"`
}

// SignupUpdate is a partial update; nil fields are left untouched.
// Email cannot be changed through an update.
type SignupUpdate struct {
	PlanType      *PlanType
	PaymentStatus *PaymentStatus
	Status        *Status
	RejectReason  *string

	ReferredBy         *string
	AssignedTo         *string
	AssignedController *string
	ProcessedBy        *string

	PaymentID *string
	Amount    *string
	Currency  *string
	Billing   *string

	FirstName *string
	LastName  *string
	FullName  *string
	Phone     *string

	// Check runs against the current row inside the write guard. A non-nil
	// error aborts the update.
	Check func(SignupRecord) error
}

// AssigneeKind selects the routing column written by a bulk assignment.
type AssigneeKind string

const (
	AssigneeController AssigneeKind = "controller"
	AssigneeAmbassador AssigneeKind = "ambassador"
)

// ParseAssigneeKind validates a raw assignee kind.
func ParseAssigneeKind(raw string) (AssigneeKind, bool) {
	switch k := AssigneeKind(strings.ToLower(strings.TrimSpace(raw))); k {
	case AssigneeController, AssigneeAmbassador:
		return k, true
	}
	return "", false
}

// ApplyDefaults fills omitted intake fields with their documented defaults.
func (r *SignupRecord) ApplyDefaults(now time.Time) {
	if r.Timestamp.IsZero() {
		r.Timestamp = now
	}
	if r.PlanType == "" {
		r.PlanType = PlanFree
	}
	if r.PaymentStatus == "" {
		r.PaymentStatus = PaymentNotApplicable
	}
	if r.Status == "" {
		if r.PlanType.IsPremium() {
			r.Status = StatusApproved
		} else {
			r.Status = StatusWaitlisted
		}
	}
	if r.FullName == "" && (r.FirstName != "" || r.LastName != "") {
		r.FullName = strings.TrimSpace(r.FirstName + " " + r.LastName)
	}
}
