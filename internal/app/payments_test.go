package app

import (
	"context"
	"errors"
	"testing"

	"github.com/transfa/signup-service/internal/domain"
)

func TestConfirmPayment_UpgradesPendingIntakeOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.svc.Intake(ctx, SignupRequest{Email: "p@x.com", PlanType: "elite"}); err != nil {
		t.Fatalf("intake: %v", err)
	}

	confirmation := PaymentConfirmation{PaymentID: "pay_123", Email: "p@x.com", PlanType: "elite", Amount: "49.99", Currency: "USD", Billing: "monthly"}
	first, err := env.svc.ConfirmPayment(ctx, confirmation)
	if err != nil {
		t.Fatalf("first confirmation: %v", err)
	}
	if first.Outcome != PaymentUpgraded {
		t.Fatalf("expected upgraded, got %q", first.Outcome)
	}
	if first.Record.Status != domain.StatusApproved || first.Record.PaymentStatus != domain.PaymentPaid {
		t.Fatalf("unexpected upgraded record %+v", first.Record)
	}
	if first.Record.Amount != "49.99" || first.Record.Currency != "USD" || first.Record.PaymentID != "pay_123" {
		t.Fatalf("payment details not stored: %+v", first.Record)
	}

	second, err := env.svc.ConfirmPayment(ctx, confirmation)
	if err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if second.Outcome != PaymentAlreadyProcessed {
		t.Fatalf("expected already_processed, got %q", second.Outcome)
	}

	records, err := env.signups.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected exactly one record, got %d", len(records))
	}
	if env.publisher.count(domain.EventPaymentConfirmed) != 1 {
		t.Fatalf("expected one payment.confirmed event, got %d", env.publisher.count(domain.EventPaymentConfirmed))
	}
}

func TestConfirmPayment_CreatesMissingApplicant(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	result, err := env.svc.ConfirmPayment(ctx, PaymentConfirmation{
		PaymentID:     "pay_9",
		Email:         "new@x.com",
		PlanType:      "pro",
		PaymentStatus: "subscription",
		FirstName:     "Grace",
		LastName:      "Hopper",
		ReferredBy:    "ambassador-1",
	})
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if result.Outcome != PaymentCreated {
		t.Fatalf("expected created, got %q", result.Outcome)
	}
	rec := result.Record
	if rec.Status != domain.StatusApproved || rec.PaymentStatus != domain.PaymentSubscription || rec.PlanType != domain.PlanPro {
		t.Fatalf("unexpected created record %+v", rec)
	}
	if rec.ReferredBy != "ambassador-1" || rec.FullName != "Grace Hopper" {
		t.Fatalf("unexpected attribution or name on %+v", rec)
	}
}

func TestConfirmPayment_KeepsExistingReferrer(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.svc.Intake(ctx, SignupRequest{Email: "p@x.com", PlanType: "pro", ReferredBy: "ambassador-1"}); err != nil {
		t.Fatalf("intake: %v", err)
	}
	result, err := env.svc.ConfirmPayment(ctx, PaymentConfirmation{PaymentID: "pay_1", Email: "p@x.com", PlanType: "pro", ReferredBy: "ambassador-2"})
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if result.Record.ReferredBy != "ambassador-1" {
		t.Fatalf("referrer must not change, got %q", result.Record.ReferredBy)
	}
}

func TestConfirmPayment_RejectedSignupStaysRejected(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.svc.Intake(ctx, SignupRequest{Email: "p@x.com", PlanType: "pro"}); err != nil {
		t.Fatalf("intake: %v", err)
	}
	if _, err := env.svc.Decide(ctx, adminPrincipal, "p@x.com", DecisionReject, "duplicate person"); err != nil {
		t.Fatalf("reject: %v", err)
	}

	result, err := env.svc.ConfirmPayment(ctx, PaymentConfirmation{PaymentID: "pay_2", Email: "p@x.com", PlanType: "pro"})
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if result.Record.Status != domain.StatusRejected || result.Record.PaymentID != "pay_2" {
		t.Fatalf("expected rejected record carrying the payment, got %+v", result.Record)
	}
}

func TestConfirmPayment_Validation(t *testing.T) {
	tests := []struct {
		name string
		in   PaymentConfirmation
	}{
		{name: "missing payment id", in: PaymentConfirmation{Email: "a@x.com", PlanType: "pro"}},
		{name: "bad email", in: PaymentConfirmation{PaymentID: "p", Email: "nope", PlanType: "pro"}},
		{name: "free plan", in: PaymentConfirmation{PaymentID: "p", Email: "a@x.com", PlanType: "free"}},
		{name: "unknown payment status", in: PaymentConfirmation{PaymentID: "p", Email: "a@x.com", PlanType: "pro", PaymentStatus: "refunded"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			if _, err := env.svc.ConfirmPayment(context.Background(), tt.in); !errors.Is(err, ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
		})
	}
}
