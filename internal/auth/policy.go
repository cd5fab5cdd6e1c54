package auth

import (
	"github.com/ejgdev/e5n/internal/apperr"
	"github.com/ejgdev/e5n/internal/model"
)

// Every check returns nil when allowed, apperr.ErrUnauthenticated for a nil
// user and apperr.ErrForbidden otherwise.

func decide(u *model.User, allowed bool) error {
	if u == nil {
		return apperr.ErrUnauthenticated
	}
	if !allowed {
		return apperr.ErrForbidden
	}
	return nil
}

// Admin allows administrators only. Used for slots, event creation and
// deletion, bonus points and scoring.
func Admin(u *model.User) error {
	return decide(u, u != nil && u.HasPermission(model.PermAdmin))
}

// EditEvent allows administrators and organisers of eventID.
func EditEvent(u *model.User, eventID int64) error {
	return decide(u, u != nil && (u.HasPermission(model.PermAdmin) || u.OrganisesEvent(eventID)))
}

func isStaff(u *model.User) bool {
	for _, code := range []model.PermissionCode{model.PermAdmin, model.PermOperator, model.PermTeacher, model.PermTeacherAdmin} {
		if u.HasPermission(code) {
			return true
		}
	}
	return false
}

// Staff allows administrators, operators and teachers. Used for the slot
// student lists.
func Staff(u *model.User) error {
	return decide(u, u != nil && isStaff(u))
}

// Scan allows the staff who record presence and results on eventID.
func Scan(u *model.User, eventID int64) error {
	return decide(u, u != nil && (isStaff(u) || u.OrganisesEvent(eventID)))
}

// SignUp allows a user to sign themself up, a team leader to sign up their
// team, and administrators or organisers of eventID to sign up anyone.
// team must be the loaded team when who is a team attender.
func SignUp(u *model.User, eventID int64, who model.Attender, team *model.Team) error {
	if u == nil {
		return apperr.ErrUnauthenticated
	}
	if u.HasPermission(model.PermAdmin) || u.OrganisesEvent(eventID) {
		return nil
	}
	switch {
	case who.IsUser():
		return decide(u, who.UserID == u.ID)
	case who.IsTeam() && team != nil:
		role, ok := team.RoleOf(u.ID)
		return decide(u, ok && role == model.RoleLeader)
	}
	return apperr.ErrForbidden
}

// ManageTeam allows administrators and leaders of team.
func ManageTeam(u *model.User, team *model.Team) error {
	if u == nil {
		return apperr.ErrUnauthenticated
	}
	if u.HasPermission(model.PermAdmin) {
		return nil
	}
	role, ok := team.RoleOf(u.ID)
	return decide(u, ok && role == model.RoleLeader)
}

// EditUser allows users to edit themselves and administrators anyone.
func EditUser(u *model.User, targetID int64) error {
	return decide(u, u != nil && (u.ID == targetID || u.HasPermission(model.PermAdmin)))
}
