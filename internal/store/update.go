package store

import (
	"fmt"
	"strings"

	"github.com/transfa/signup-service/internal/domain"
)

// applySignupUpdate merges upd into a copy of rec and validates the result.
// Both backends share it.
func applySignupUpdate(rec domain.SignupRecord, upd domain.SignupUpdate) (domain.SignupRecord, error) {
	if upd.Check != nil {
		if err := upd.Check(rec); err != nil {
			return rec, err
		}
	}
	next := rec

	if upd.ReferredBy != nil {
		ref := strings.TrimSpace(*upd.ReferredBy)
		switch {
		case ref == "" || ref == rec.ReferredBy:
		case rec.ReferredBy == "":
			next.ReferredBy = ref
		default:
			return rec, ErrReferralImmutable
		}
	}

	if upd.Status != nil {
		if !rec.Status.CanTransitionTo(*upd.Status) {
			return rec, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, rec.Status, *upd.Status)
		}
		next.Status = *upd.Status
	}

	setString(&next.RejectReason, upd.RejectReason)
	setString(&next.AssignedTo, upd.AssignedTo)
	setString(&next.AssignedController, upd.AssignedController)
	setString(&next.ProcessedBy, upd.ProcessedBy)
	setString(&next.PaymentID, upd.PaymentID)
	setString(&next.Amount, upd.Amount)
	setString(&next.Currency, upd.Currency)
	setString(&next.Billing, upd.Billing)
	setString(&next.FirstName, upd.FirstName)
	setString(&next.LastName, upd.LastName)
	setString(&next.FullName, upd.FullName)
	setString(&next.Phone, upd.Phone)
	if upd.PlanType != nil {
		next.PlanType = *upd.PlanType
	}
	if upd.PaymentStatus != nil {
		next.PaymentStatus = *upd.PaymentStatus
	}

	if next.ProcessedBy != "" && !next.Status.IsTerminal() {
		return rec, fmt.Errorf("%w: processedBy requires an approved or rejected status", ErrInvalidTransition)
	}
	return next, nil
}

// validateNewSignup checks a defaulted record before it is inserted.
func validateNewSignup(rec domain.SignupRecord) error {
	if strings.TrimSpace(rec.Email) == "" {
		return fmt.Errorf("email is required")
	}
	if rec.ProcessedBy != "" && !rec.Status.IsTerminal() {
		return fmt.Errorf("%w: processedBy requires an approved or rejected status", ErrInvalidTransition)
	}
	return nil
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

// assignmentUpdate builds the routing patch for a bulk assignment.
func assignmentUpdate(assigneeID string, kind domain.AssigneeKind) (domain.SignupUpdate, error) {
	switch kind {
	case domain.AssigneeController:
		return domain.SignupUpdate{AssignedController: &assigneeID}, nil
	case domain.AssigneeAmbassador:
		return domain.SignupUpdate{AssignedTo: &assigneeID}, nil
	}
	return domain.SignupUpdate{}, fmt.Errorf("unknown assignee kind %q", kind)
}

// uniqueEmails drops blanks and repeats so a bulk assignment never counts a
// row twice.
func uniqueEmails(emails []string) []string {
	seen := make(map[string]struct{}, len(emails))
	out := make([]string, 0, len(emails))
	for _, e := range emails {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}
	return out
}
