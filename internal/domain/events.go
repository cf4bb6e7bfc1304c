package domain

import "time"

// Routing keys published on the signup exchange.
const (
	EventSignupCreated    = "signup.created"
	EventSignupAssigned   = "signup.assigned"
	EventSignupApproved   = "signup.approved"
	EventSignupRejected   = "signup.rejected"
	EventSignupDeleted    = "signup.deleted"
	EventPaymentConfirmed = "payment.confirmed"
	EventStaffCreated     = "staff.created"
	EventStaffDeleted     = "staff.deleted"
)

// SignupEvent is the message body for signup lifecycle events.
type SignupEvent struct {
	EventID    string    `json:"event_id"`
	Email      string    `json:"email"`
	PlanType   PlanType  `json:"plan_type,omitempty"`
	Status     Status    `json:"status,omitempty"`
	ReferredBy string    `json:"referred_by,omitempty"`
	ActorID    string    `json:"actor_id,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	PaymentID  string    `json:"payment_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// AssignmentEvent is published once per bulk assignment.
type AssignmentEvent struct {
	EventID      string       `json:"event_id"`
	AssigneeID   string       `json:"assignee_id"`
	AssigneeKind AssigneeKind `json:"assignee_kind"`
	Emails       []string     `json:"emails"`
	Matched      int          `json:"matched"`
	OccurredAt   time.Time    `json:"occurred_at"`
}

// StaffEvent is published when staff accounts are created or removed.
type StaffEvent struct {
	EventID    string    `json:"event_id"`
	StaffID    string    `json:"staff_id"`
	Username   string    `json:"username"`
	Role       Role      `json:"role"`
	OccurredAt time.Time `json:"occurred_at"`
}
