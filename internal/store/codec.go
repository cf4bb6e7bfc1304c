/**
 * @description
 * Column layouts of the persisted tables and the mapping between table rows
 * and domain structs.
 */
package store

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/transfa/signup-service/internal/domain"
)

// Signup table columns.
const (
	colTimestamp          = "timestamp"
	colPlanType           = "planType"
	colPaymentStatus      = "paymentStatus"
	colFirstName          = "firstName"
	colLastName           = "lastName"
	colFullName           = "fullName"
	colAge                = "age"
	colPlayedBefore       = "playedBefore"
	colExperienceLevel    = "experienceLevel"
	colPlayedClub         = "playedClub"
	colClubName           = "clubName"
	colGender             = "gender"
	colHasDisability      = "hasDisability"
	colLocation           = "location"
	colEmail              = "email"
	colPhone              = "phone"
	colPosition           = "position"
	colGoal               = "goal"
	colWhyJoin            = "whyJoin"
	colWhyJoinReason      = "whyJoinReason"
	colBirthday           = "birthday"
	colStatus             = "status"
	colReferredBy         = "referredBy"
	colAssignedTo         = "assignedTo"
	colAmbassadorID       = "ambassadorId"
	colProcessedBy        = "processedBy"
	colPaymentID          = "paymentId"
	colAmount             = "amount"
	colCurrency           = "currency"
	colBilling            = "billing"
	colRejectReason       = "rejectReason"
	colAssignedController = "assignedController"
)

// SignupColumns is the current signup table layout. The order up to billing
// is fixed for compatibility with existing files.
var SignupColumns = []string{
	colTimestamp, colPlanType, colPaymentStatus, colFirstName, colLastName,
	colFullName, colAge, colPlayedBefore, colExperienceLevel, colPlayedClub,
	colClubName, colGender, colHasDisability, colLocation, colEmail, colPhone,
	colPosition, colGoal, colWhyJoin, colWhyJoinReason, colBirthday, colStatus,
	colReferredBy, colAssignedTo, colAmbassadorID, colProcessedBy, colPaymentID,
	colAmount, colCurrency, colBilling, colRejectReason, colAssignedController,
}

// Staff table columns.
const (
	colUsername = "username"
	colPassword = "password"
	colRole     = "role"
	colID       = "id"
	colCreated  = "created"
	colStats    = "stats"
)

// StaffColumns is the current staff table layout.
var StaffColumns = []string{colUsername, colPassword, colRole, colID, colCreated, colStats}

// SignupSchema is the migration plan for the signup table.
var SignupSchema = Schema{
	Table:   "signups",
	Columns: SignupColumns,
	Migrations: []Migration{
		{Version: 1, Name: "add referredBy/assignedTo", Apply: migrateAttributionColumns},
		{Version: 2, Name: "add routing and payment columns", Apply: migrateRoutingColumns},
	},
}

// StaffSchema is the migration plan for the staff table.
var StaffSchema = Schema{
	Table:   "staff-accounts",
	Columns: StaffColumns,
	Migrations: []Migration{
		{Version: 1, Name: "add stats", Apply: migrateStaffStats},
	},
}

func migrateAttributionColumns(t *Table) string {
	var changes []string
	if !t.Has(colReferredBy) {
		t.AddColumn(colReferredBy)
		copied := 0
		if t.Has(colAmbassadorID) {
			for i := range t.Rows {
				if legacy := t.Get(i, colAmbassadorID); legacy != "" && t.Get(i, colReferredBy) == "" {
					t.Set(i, colReferredBy, legacy)
					copied++
				}
			}
		}
		changes = append(changes, "added referredBy", fmt.Sprintf("copied ambassadorId into %d rows", copied))
	}
	if !t.Has(colAssignedTo) {
		t.AddColumn(colAssignedTo)
		changes = append(changes, "added assignedTo")
	}
	return strings.Join(changes, ", ")
}

func migrateRoutingColumns(t *Table) string {
	var added []string
	for _, col := range []string{colAmbassadorID, colProcessedBy, colPaymentID, colAmount, colCurrency, colBilling, colRejectReason, colAssignedController} {
		if !t.Has(col) {
			t.AddColumn(col)
			added = append(added, col)
		}
	}
	if len(added) == 0 {
		return ""
	}
	return "added " + strings.Join(added, ", ")
}

func migrateStaffStats(t *Table) string {
	if t.Has(colStats) {
		return ""
	}
	t.AddColumn(colStats)
	return "added stats"
}

var timestampLayouts = []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"}

func parseTimestamp(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts
		}
	}
	return time.Time{}
}

func formatTimestamp(ts time.Time) string {
	return ts.UTC().Format(time.RFC3339Nano)
}

// signupFromRow decodes row i of an already-migrated signup table.
func signupFromRow(t *Table, i int) domain.SignupRecord {
	return domain.SignupRecord{
		Timestamp:          parseTimestamp(t.Get(i, colTimestamp)),
		PlanType:           domain.PlanType(t.Get(i, colPlanType)),
		PaymentStatus:      domain.PaymentStatus(t.Get(i, colPaymentStatus)),
		FirstName:          t.Get(i, colFirstName),
		LastName:           t.Get(i, colLastName),
		FullName:           t.Get(i, colFullName),
		Age:                t.Get(i, colAge),
		PlayedBefore:       t.Get(i, colPlayedBefore),
		ExperienceLevel:    t.Get(i, colExperienceLevel),
		PlayedClub:         t.Get(i, colPlayedClub),
		ClubName:           t.Get(i, colClubName),
		Gender:             t.Get(i, colGender),
		HasDisability:      t.Get(i, colHasDisability),
		Location:           t.Get(i, colLocation),
		Email:              t.Get(i, colEmail),
		Phone:              t.Get(i, colPhone),
		Position:           t.Get(i, colPosition),
		Goal:               t.Get(i, colGoal),
		WhyJoin:            t.Get(i, colWhyJoin),
		WhyJoinReason:      t.Get(i, colWhyJoinReason),
		Birthday:           t.Get(i, colBirthday),
		Status:             domain.Status(t.Get(i, colStatus)),
		ReferredBy:         t.Get(i, colReferredBy),
		AssignedTo:         t.Get(i, colAssignedTo),
		AmbassadorID:       t.Get(i, colAmbassadorID),
		ProcessedBy:        t.Get(i, colProcessedBy),
		PaymentID:          t.Get(i, colPaymentID),
		Amount:             t.Get(i, colAmount),
		Currency:           t.Get(i, colCurrency),
		Billing:            t.Get(i, colBilling),
		RejectReason:       t.Get(i, colRejectReason),
		AssignedController: t.Get(i, colAssignedController),
	}
}

// writeSignupRow encodes rec into row i. Unknown columns are left as they are,
// and an unparseable stored timestamp is kept rather than blanked.
func writeSignupRow(t *Table, i int, rec domain.SignupRecord) {
	if !rec.Timestamp.IsZero() {
		t.Set(i, colTimestamp, formatTimestamp(rec.Timestamp))
	}
	cells := map[string]string{
		colPlanType:           string(rec.PlanType),
		colPaymentStatus:      string(rec.PaymentStatus),
		colFirstName:          rec.FirstName,
		colLastName:           rec.LastName,
		colFullName:           rec.FullName,
		colAge:                rec.Age,
		colPlayedBefore:       rec.PlayedBefore,
		colExperienceLevel:    rec.ExperienceLevel,
		colPlayedClub:         rec.PlayedClub,
		colClubName:           rec.ClubName,
		colGender:             rec.Gender,
		colHasDisability:      rec.HasDisability,
		colLocation:           rec.Location,
		colEmail:              rec.Email,
		colPhone:              rec.Phone,
		colPosition:           rec.Position,
		colGoal:               rec.Goal,
		colWhyJoin:            rec.WhyJoin,
		colWhyJoinReason:      rec.WhyJoinReason,
		colBirthday:           rec.Birthday,
		colStatus:             string(rec.Status),
		colReferredBy:         rec.ReferredBy,
		colAssignedTo:         rec.AssignedTo,
		colAmbassadorID:       rec.AmbassadorID,
		colProcessedBy:        rec.ProcessedBy,
		colPaymentID:          rec.PaymentID,
		colAmount:             rec.Amount,
		colCurrency:           rec.Currency,
		colBilling:            rec.Billing,
		colRejectReason:       rec.RejectReason,
		colAssignedController: rec.AssignedController,
	}
	for col, value := range cells {
		t.Set(i, col, value)
	}
}

func staffFromRow(t *Table, i int) domain.StaffAccount {
	acct := domain.StaffAccount{
		ID:       t.Get(i, colID),
		Username: t.Get(i, colUsername),
		Password: t.Get(i, colPassword),
		Role:     domain.Role(t.Get(i, colRole)),
		Created:  parseTimestamp(t.Get(i, colCreated)),
	}
	if blob := strings.TrimSpace(t.Get(i, colStats)); blob != "" {
		// A corrupt blob is a stale cache, not data loss; it is rebuilt by the
		// next stats refresh.
		_ = json.Unmarshal([]byte(blob), &acct.Stats)
	}
	return acct
}

func writeStaffRow(t *Table, i int, acct domain.StaffAccount) {
	t.Set(i, colID, acct.ID)
	t.Set(i, colUsername, acct.Username)
	t.Set(i, colPassword, acct.Password)
	t.Set(i, colRole, string(acct.Role))
	if !acct.Created.IsZero() {
		t.Set(i, colCreated, formatTimestamp(acct.Created))
	}
	blob, _ := json.Marshal(acct.Stats)
	t.Set(i, colStats, string(blob))
}
