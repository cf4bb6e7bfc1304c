/**
 * @description
 * Referral/assignment resolution for signup records. Every consumer (stats,
 * API views, CLI output) derives attribution through these functions so the
 * legacy fallbacks are applied identically everywhere.
 *
 * @notes
 * - Referrer, controller routing and ambassador routing are independent facts
 *   and are never collapsed into one "assigned to" value.
 * - An assignedTo value that names a controller is read as a legacy controller
 *   assignment, but only when no controller routing is recorded.
 */
package attribution

import "github.com/transfa/signup-service/internal/domain"

// OriginalReferrer returns the permanent referrer of rec: referredBy, else
// the legacy ambassadorId, else "". assignedTo never influences it.
func OriginalReferrer(rec domain.SignupRecord) string {
	if rec.ReferredBy != "" {
		return rec.ReferredBy
	}
	return rec.AmbassadorID
}

// ControllerRouting returns the controller recorded on rec without consulting
// the staff directory. A decision taken by the administrator is not routing.
func ControllerRouting(rec domain.SignupRecord) string {
	if rec.AssignedController != "" {
		return rec.AssignedController
	}
	if rec.ProcessedBy == domain.AdminID {
		return ""
	}
	return rec.ProcessedBy
}

// Directory maps staff ids to roles.
type Directory map[string]domain.Role

// NewDirectory indexes accounts by id.
func NewDirectory(accounts []domain.StaffAccount) Directory {
	d := make(Directory, len(accounts))
	for _, acct := range accounts {
		d[acct.ID] = acct.Role
	}
	return d
}

// Role returns the role of id and whether the id is known.
func (d Directory) Role(id string) (domain.Role, bool) {
	role, ok := d[id]
	return role, ok
}

// Assignee is the current operational routing of a record.
type Assignee struct {
	ControllerID string `json:"controllerId,omitempty"`
	AmbassadorID string `json:"ambassadorId,omitempty"`
	// LegacyController is set when ControllerID came from assignedTo.
	LegacyController bool `json:"legacyController,omitempty"`
	// Unresolved lists routing ids that match no staff account.
	Unresolved []string `json:"unresolved,omitempty"`
}

// CurrentAssignee resolves who is working rec right now.
func CurrentAssignee(rec domain.SignupRecord, dir Directory) Assignee {
	var a Assignee

	if id := ControllerRouting(rec); id != "" {
		a.ControllerID = id
		if _, ok := dir.Role(id); !ok {
			a.Unresolved = append(a.Unresolved, id)
		}
	}

	if id := rec.AssignedTo; id != "" {
		role, ok := dir.Role(id)
		switch {
		case !ok:
			a.Unresolved = append(a.Unresolved, id)
		case role == domain.RoleAmbassador:
			a.AmbassadorID = id
		case role == domain.RoleController && a.ControllerID == "":
			a.ControllerID = id
			a.LegacyController = true
		}
	}
	return a
}

// Attribution is the full set of independent routing facts for a record.
type Attribution struct {
	Referrer string `json:"referrer,omitempty"`
	Assignee
}

// Resolve combines OriginalReferrer and CurrentAssignee.
func Resolve(rec domain.SignupRecord, dir Directory) Attribution {
	return Attribution{
		Referrer: OriginalReferrer(rec),
		Assignee: CurrentAssignee(rec, dir),
	}
}
