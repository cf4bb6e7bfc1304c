/**
 * @description
 * Staff account model. Controllers review signups; ambassadors refer them.
 * The built-in administrator is configured, never stored.
 */
package domain

import (
	"strings"
	"time"
)

// Role is a staff role.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleController Role = "controller"
	RoleAmbassador Role = "ambassador"
)

// AdminID is the principal id of the configured administrator. No stored
// account ever carries it.
const AdminID = "admin"

// ParseStaffRole accepts only roles that can be persisted.
func ParseStaffRole(raw string) (Role, bool) {
	switch r := Role(strings.ToLower(strings.TrimSpace(raw))); r {
	case RoleController, RoleAmbassador:
		return r, true
	}
	return "", false
}

// StaffStats is a cached projection written back by the stats aggregator.
// It is a last-known snapshot and never the source of truth.
type StaffStats struct {
	Signups     int `json:"signups"`
	Conversions int `json:"conversions"`
	Assignments int `json:"assignments"`
	Completed   int `json:"completed"`
}

// StaffAccount is a persisted controller or ambassador.
type StaffAccount struct {
	ID       string     `json:"id"`
	Username string     `json:"username"`
	Password string     `json:"-"`
	Role     Role       `json:"role"`
	Created  time.Time  `json:"created"`
	Stats    StaffStats `json:"stats"`
}

// StaffUpdate is a partial update of a staff account.
type StaffUpdate struct {
	Username *string
	Password *string
	Stats    *StaffStats
}
