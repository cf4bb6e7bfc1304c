package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/transfa/signup-service/internal/domain"
	"github.com/transfa/signup-service/internal/store"
)

// PaymentConfirmation is a verified payment notification from the gateway.
type PaymentConfirmation struct {
	PaymentID     string `json:"paymentId"`
	Email         string `json:"email"`
	PlanType      string `json:"planType"`
	PaymentStatus string `json:"paymentStatus"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	Billing       string `json:"billing"`
	FirstName     string `json:"firstName"`
	LastName      string `json:"lastName"`
	Phone         string `json:"phone"`
	ReferredBy    string `json:"referredBy"`
}

// PaymentOutcome describes what a confirmation did.
type PaymentOutcome string

const (
	PaymentAlreadyProcessed PaymentOutcome = "already_processed"
	PaymentUpgraded         PaymentOutcome = "upgraded"
	PaymentCreated          PaymentOutcome = "created"
)

// PaymentResult is returned by ConfirmPayment.
type PaymentResult struct {
	Outcome PaymentOutcome       `json:"outcome"`
	Record  *domain.SignupRecord `json:"record"`
}

func (c PaymentConfirmation) validate() (domain.PlanType, domain.PaymentStatus, error) {
	if strings.TrimSpace(c.PaymentID) == "" {
		return "", "", validationErrorf("paymentId is required")
	}
	if !validEmail(strings.TrimSpace(c.Email)) {
		return "", "", validationErrorf("a valid email is required")
	}
	plan, ok := domain.ParsePlanType(c.PlanType)
	if !ok || !plan.IsPremium() {
		return "", "", validationErrorf("planType must be elite or pro")
	}
	status := domain.PaymentStatus(strings.ToLower(strings.TrimSpace(c.PaymentStatus)))
	switch status {
	case "":
		status = domain.PaymentPaid
	case domain.PaymentPaid, domain.PaymentSubscription:
	default:
		return "", "", validationErrorf("paymentStatus must be paid or subscription")
	}
	return plan, status, nil
}

// ConfirmPayment applies a payment to the applicant it belongs to. It is safe
// to call again for the same payment reference: a redelivery finds the
// record already carrying the reference and changes nothing.
func (s *Service) ConfirmPayment(ctx context.Context, c PaymentConfirmation) (*PaymentResult, error) {
	plan, paymentStatus, err := c.validate()
	if err != nil {
		return nil, err
	}
	ref := strings.TrimSpace(c.PaymentID)
	email := strings.TrimSpace(c.Email)

	existing, err := s.signups.FindByPaymentReference(ctx, ref)
	if err == nil {
		s.logger.Info("payment already processed", "payment_id", ref, "email", existing.Email)
		return &PaymentResult{Outcome: PaymentAlreadyProcessed, Record: existing}, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up payment reference: %w", err)
	}

	result, err := s.upgradeForPayment(ctx, email, ref, plan, paymentStatus, c)
	if errors.Is(err, store.ErrNotFound) {
		result, err = s.createForPayment(ctx, email, ref, plan, paymentStatus, c)
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("payment confirmed", "payment_id", ref, "email", email, "outcome", result.Outcome)
	if result.Outcome != PaymentAlreadyProcessed {
		s.publish(ctx, domain.EventPaymentConfirmed, s.signupEvent(result.Record, ""))
	}
	return result, nil
}

func (s *Service) upgradeForPayment(ctx context.Context, email, ref string, plan domain.PlanType, paymentStatus domain.PaymentStatus, c PaymentConfirmation) (*PaymentResult, error) {
	current, err := s.signups.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}

	amount, currency, billing := c.Amount, c.Currency, c.Billing
	upd := domain.SignupUpdate{
		PlanType:      &plan,
		PaymentStatus: &paymentStatus,
		PaymentID:     &ref,
		Amount:        &amount,
		Currency:      &currency,
		Billing:       &billing,
	}
	if !current.Status.IsTerminal() {
		approved := domain.StatusApproved
		upd.Status = &approved
	} else if current.Status == domain.StatusRejected {
		s.logger.Warn("payment received for rejected signup", "email", email, "payment_id", ref)
	}
	if referrer := strings.TrimSpace(c.ReferredBy); referrer != "" && current.ReferredBy == "" {
		upd.ReferredBy = &referrer
	}

	updated, err := s.signups.Update(ctx, email, upd)
	if err != nil {
		return nil, err
	}
	return &PaymentResult{Outcome: PaymentUpgraded, Record: updated}, nil
}

func (s *Service) createForPayment(ctx context.Context, email, ref string, plan domain.PlanType, paymentStatus domain.PaymentStatus, c PaymentConfirmation) (*PaymentResult, error) {
	created, err := s.signups.Add(ctx, domain.SignupRecord{
		Email:         email,
		PlanType:      plan,
		PaymentStatus: paymentStatus,
		Status:        domain.StatusApproved,
		FirstName:     strings.TrimSpace(c.FirstName),
		LastName:      strings.TrimSpace(c.LastName),
		Phone:         strings.TrimSpace(c.Phone),
		ReferredBy:    strings.TrimSpace(c.ReferredBy),
		PaymentID:     ref,
		Amount:        c.Amount,
		Currency:      c.Currency,
		Billing:       c.Billing,
	})
	if errors.Is(err, store.ErrConflict) {
		// A concurrent intake or redelivery created the row first.
		if again, findErr := s.signups.FindByPaymentReference(ctx, ref); findErr == nil {
			return &PaymentResult{Outcome: PaymentAlreadyProcessed, Record: again}, nil
		}
		return s.upgradeForPayment(ctx, email, ref, plan, paymentStatus, c)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to record paid signup: %w", err)
	}
	return &PaymentResult{Outcome: PaymentCreated, Record: created}, nil
}
