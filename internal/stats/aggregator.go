/**
 * @description
 * Stats Aggregator. Rollups are always recomputed from a full scan of the
 * signup table; the cached stats on staff accounts are only written here and
 * never read back as a source of truth.
 *
 * @notes
 * - Ambassador attribution uses the original referrer, so reassigning a record
 *   never moves credit between ambassadors.
 * - Controller workload uses resolved controller routing, including the
 *   legacy assignedTo shim.
 */
package stats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/transfa/signup-service/internal/attribution"
	"github.com/transfa/signup-service/internal/domain"
	"github.com/transfa/signup-service/internal/store"
)

// Global holds table-wide counts.
type Global struct {
	Total            int `json:"total" yaml:"total"`
	Waitlisted       int `json:"waitlisted" yaml:"waitlisted"`
	Approved         int `json:"approved" yaml:"approved"`
	Premium          int `json:"premium" yaml:"premium"`
	Referred         int `json:"referred" yaml:"referred"`
	ControllerRouted int `json:"controllerRouted" yaml:"controllerRouted"`
}

// AmbassadorStats is the referral performance of one ambassador.
type AmbassadorStats struct {
	ID              string `json:"id" yaml:"id"`
	Username        string `json:"username" yaml:"username"`
	TotalSignups    int    `json:"totalSignups" yaml:"totalSignups"`
	ApprovedSignups int    `json:"approvedSignups" yaml:"approvedSignups"`
	ConversionRate  int    `json:"conversionRate" yaml:"conversionRate"`
}

// ControllerStats is the review workload of one controller.
type ControllerStats struct {
	ID       string `json:"id" yaml:"id"`
	Username string `json:"username" yaml:"username"`
	Total    int    `json:"total" yaml:"total"`
	Approved int    `json:"approved" yaml:"approved"`
	Rejected int    `json:"rejected" yaml:"rejected"`
	Pending  int    `json:"pending" yaml:"pending"`
}

// Report is one full aggregation pass.
type Report struct {
	GeneratedAt time.Time         `json:"generatedAt" yaml:"generatedAt"`
	Global      Global            `json:"global" yaml:"global"`
	Ambassadors []AmbassadorStats `json:"ambassadors" yaml:"ambassadors"`
	Controllers []ControllerStats `json:"controllers" yaml:"controllers"`
}

// ConversionRate returns round(approved/total*100), or 0 when total is 0.
func ConversionRate(approved, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(approved) * 100 / float64(total)))
}

// Aggregate computes every rollup from records and accounts.
func Aggregate(records []domain.SignupRecord, accounts []domain.StaffAccount) Report {
	dir := attribution.NewDirectory(accounts)

	var g Global
	byReferrer := make(map[string]*AmbassadorStats)
	byController := make(map[string]*ControllerStats)

	for _, acct := range accounts {
		switch acct.Role {
		case domain.RoleAmbassador:
			byReferrer[acct.ID] = &AmbassadorStats{ID: acct.ID, Username: acct.Username}
		case domain.RoleController:
			byController[acct.ID] = &ControllerStats{ID: acct.ID, Username: acct.Username}
		}
	}

	for _, rec := range records {
		g.Total++
		premium := rec.PlanType.IsPremium()
		if premium {
			g.Premium++
		}
		if rec.PlanType == domain.PlanFree {
			switch rec.Status {
			case domain.StatusWaitlisted, domain.StatusPending:
				g.Waitlisted++
			case domain.StatusApproved:
				g.Approved++
			}
		}

		if ref := attribution.OriginalReferrer(rec); ref != "" {
			g.Referred++
			if amb, ok := byReferrer[ref]; ok {
				amb.TotalSignups++
				if rec.Status == domain.StatusApproved {
					amb.ApprovedSignups++
				}
			}
		}

		if ctrlID := attribution.CurrentAssignee(rec, dir).ControllerID; ctrlID != "" {
			g.ControllerRouted++
			if ctrl, ok := byController[ctrlID]; ok {
				ctrl.Total++
				switch rec.Status {
				case domain.StatusApproved:
					ctrl.Approved++
				case domain.StatusRejected:
					ctrl.Rejected++
				default:
					ctrl.Pending++
				}
			}
		}
	}

	report := Report{Global: g}
	for _, acct := range accounts {
		if amb, ok := byReferrer[acct.ID]; ok && acct.Role == domain.RoleAmbassador {
			amb.ConversionRate = ConversionRate(amb.ApprovedSignups, amb.TotalSignups)
			report.Ambassadors = append(report.Ambassadors, *amb)
		}
		if ctrl, ok := byController[acct.ID]; ok && acct.Role == domain.RoleController {
			report.Controllers = append(report.Controllers, *ctrl)
		}
	}
	return report
}

// Aggregator reads both stores and writes back cached staff stats.
type Aggregator struct {
	signups store.SignupRepository
	staff   store.StaffRepository
	logger  *slog.Logger
	now     func() time.Time
}

// NewAggregator creates a new aggregator.
func NewAggregator(signups store.SignupRepository, staff store.StaffRepository, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{signups: signups, staff: staff, logger: logger, now: time.Now}
}

// Compute performs a full scan of both tables.
func (a *Aggregator) Compute(ctx context.Context) (*Report, error) {
	records, err := a.signups.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list signups: %w", err)
	}
	accounts, err := a.staff.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list staff: %w", err)
	}
	report := Aggregate(records, accounts)
	report.GeneratedAt = a.now().UTC()
	return &report, nil
}

// Ambassador returns the stats of one ambassador, or store.ErrNotFound.
func (a *Aggregator) Ambassador(ctx context.Context, id string) (*AmbassadorStats, error) {
	report, err := a.Compute(ctx)
	if err != nil {
		return nil, err
	}
	for i := range report.Ambassadors {
		if report.Ambassadors[i].ID == id {
			return &report.Ambassadors[i], nil
		}
	}
	return nil, store.ErrNotFound
}

// Controller returns the stats of one controller, or store.ErrNotFound.
func (a *Aggregator) Controller(ctx context.Context, id string) (*ControllerStats, error) {
	report, err := a.Compute(ctx)
	if err != nil {
		return nil, err
	}
	for i := range report.Controllers {
		if report.Controllers[i].ID == id {
			return &report.Controllers[i], nil
		}
	}
	return nil, store.ErrNotFound
}

// WriteBack recomputes the rollups and stores the cached snapshot on every
// staff account whose stats changed. It returns the number of accounts updated.
func (a *Aggregator) WriteBack(ctx context.Context) (int, error) {
	accounts, err := a.staff.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list staff: %w", err)
	}
	records, err := a.signups.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list signups: %w", err)
	}
	report := Aggregate(records, accounts)

	next := make(map[string]domain.StaffStats, len(accounts))
	for _, acct := range accounts {
		next[acct.ID] = acct.Stats
	}
	for _, amb := range report.Ambassadors {
		s := next[amb.ID]
		s.Signups = amb.TotalSignups
		s.Conversions = amb.ApprovedSignups
		next[amb.ID] = s
	}
	for _, ctrl := range report.Controllers {
		s := next[ctrl.ID]
		s.Assignments = ctrl.Total
		s.Completed = ctrl.Approved + ctrl.Rejected
		next[ctrl.ID] = s
	}

	updated := 0
	for _, acct := range accounts {
		s := next[acct.ID]
		if s == acct.Stats {
			continue
		}
		if _, err := a.staff.Update(ctx, acct.ID, domain.StaffUpdate{Stats: &s}); err != nil {
			// The account may have been deleted since the scan.
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return updated, fmt.Errorf("write back stats for %s: %w", acct.ID, err)
		}
		updated++
	}
	a.logger.Info("staff stats written back", "updated", updated, "accounts", len(accounts))
	return updated, nil
}
