package lifecycle

import (
	"fmt"

	"github.com/lisacharuel/Hackaton-Battery-Passport/engine/domain"
)

// Transition is one edge of the passport state machine together with the
// identity that may trigger it. Exactly one of Role and OwnerOnly is set.
type Transition struct {
	Name        string
	From        domain.Status
	To          domain.Status
	Role        domain.Role
	OwnerOnly   bool
	Description string
}

// The three transitions of the end-of-life hand-off.
var (
	DeclareWasteTransition = Transition{
		Name:        "declare_waste",
		From:        domain.StatusOriginal,
		To:          domain.StatusWasteRequested,
		Role:        domain.RoleGaragiste,
		Description: "Diagnostic: battery declared end-of-life by service center",
	}
	ValidateWasteTransition = Transition{
		Name:        "validate_waste",
		From:        domain.StatusWasteRequested,
		To:          domain.StatusWaste,
		OwnerOnly:   true,
		Description: "Waste status validated by legal owner",
	}
	ReceiveBatteryTransition = Transition{
		Name:        "receive_battery",
		From:        domain.StatusWaste,
		To:          domain.StatusRecycled,
		Role:        domain.RoleSortingCenter,
		Description: "Battery received and checked by sorting center",
	}
)

// Transitions lists the state machine in lifecycle order.
func Transitions() []Transition {
	return []Transition{DeclareWasteTransition, ValidateWasteTransition, ReceiveBatteryTransition}
}

// TransitionFrom returns the transition leaving s, if any.
func TransitionFrom(s domain.Status) (Transition, bool) {
	for _, t := range Transitions() {
		if t.From == s {
			return t, true
		}
	}
	return Transition{}, false
}

// CheckIdentity verifies that requesterID may trigger t on p. actor is the
// looked-up requester; it is ignored for owner-gated transitions, which
// compare against the passport's HAS_OWNER edge.
func (t Transition) CheckIdentity(p domain.Passport, requesterID string, actor domain.Actor) error {
	if t.OwnerOnly {
		if p.OwnerID == "" || requesterID != p.OwnerID {
			return t.violation(domain.ReasonNotOwner, p.CurrentStatus,
				fmt.Sprintf("actor %q is not the owner of passport %s", requesterID, p.PassportID))
		}
		return nil
	}
	if actor.Role != t.Role {
		return t.violation(domain.ReasonWrongRole, p.CurrentStatus,
			fmt.Sprintf("actor %q has role %q, %q required", actor.ActorID, actor.Role, t.Role))
	}
	return nil
}

// CheckStatus verifies that p is in t's source state.
func (t Transition) CheckStatus(p domain.Passport) error {
	if p.CurrentStatus != t.From {
		return t.violation(domain.ReasonWrongStatus, p.CurrentStatus,
			fmt.Sprintf("passport %s is %s, %s required", p.PassportID, p.CurrentStatus, t.From))
	}
	return nil
}

func (t Transition) violation(reason domain.GuardReason, status domain.Status, detail string) *domain.GuardViolation {
	return &domain.GuardViolation{Transition: t.Name, Reason: reason, Status: status, Detail: detail}
}
