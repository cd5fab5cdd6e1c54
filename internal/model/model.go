// Package model defines the core domain types for the E5N signup system.
package model

import (
	"slices"
	"time"
)

// SlotKind tells presentation slots apart from general programme slots.
type SlotKind string

const (
	SlotPresentation SlotKind = "presentation"
	SlotProgram      SlotKind = "program"
)

// Valid reports whether k is a known slot kind.
func (k SlotKind) Valid() bool {
	return k == SlotPresentation || k == SlotProgram
}

// SignupKind restricts which attenders an event accepts.
type SignupKind string

const (
	SignupIndividual SignupKind = "individual"
	SignupTeam       SignupKind = "team"
	SignupBoth       SignupKind = "both"
	SignupNone       SignupKind = "none"
)

// Accepts reports whether an attender of the given kind may sign up.
func (k SignupKind) Accepts(a AttenderKind) bool {
	switch k {
	case SignupIndividual:
		return a == AttenderUser
	case SignupTeam:
		return a == AttenderTeam
	case SignupBoth:
		return true
	default:
		return false
	}
}

// Slot is a named time window that groups events.
type Slot struct {
	ID       int64     `json:"id"`
	Name     string    `json:"name"`
	StartsAt time.Time `json:"starts_at"`
	EndsAt   time.Time `json:"ends_at"`
	Kind     SlotKind  `json:"slot_type"`
}

// Clamp restricts [start, end] to the slot's window.
func (s *Slot) Clamp(start, end time.Time) (time.Time, time.Time) {
	if start.IsZero() || start.Before(s.StartsAt) {
		start = s.StartsAt
	}
	if end.IsZero() || end.After(s.EndsAt) {
		end = s.EndsAt
	}
	return start, end
}

// Event is an activity inside a slot.
type Event struct {
	ID             int64      `json:"id"`
	SlotID         int64      `json:"slot_id"`
	Name           string     `json:"name"`
	Description    string     `json:"description"`
	Organiser      string     `json:"organiser"`
	StartsAt       time.Time  `json:"starts_at"`
	EndsAt         time.Time  `json:"ends_at"`
	Capacity       *int       `json:"capacity"`
	Occupancy      int        `json:"occupancy"`
	SignupDeadline *time.Time `json:"signup_deadline"`
	SignupKind     SignupKind `json:"signup_type"`
	Weight         int        `json:"weight"`
	DirectChild    *int64     `json:"direct_child"`
	RootParent     *int64     `json:"root_parent"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty"`

	// SlotKind is filled by stores from the owning slot.
	SlotKind SlotKind `json:"slot_kind,omitempty"`
}

// IsFull returns true when the event has a finite capacity and no seat left.
func (e *Event) IsFull() bool {
	return e.Capacity != nil && e.Occupancy >= *e.Capacity
}

// Overlaps reports whether the two events' windows intersect.
func (e *Event) Overlaps(o *Event) bool {
	return e.StartsAt.Before(o.EndsAt) && o.StartsAt.Before(e.EndsAt)
}

// SignupClosed reports whether the signup deadline has passed at now.
func (e *Event) SignupClosed(now time.Time) bool {
	return e.SignupDeadline != nil && now.After(*e.SignupDeadline)
}

// Role is a team membership role.
type Role string

const (
	RoleInvited Role = "invited"
	RoleMember  Role = "member"
	RoleLeader  Role = "leader"
)

// Active reports whether the role counts as being part of the team.
func (r Role) Active() bool {
	return r == RoleMember || r == RoleLeader
}

// MembershipKey identifies a team membership.
type MembershipKey struct {
	TeamCode string `json:"team_code"`
	UserID   int64  `json:"user_id"`
}

// TeamMembership is the role a user holds in a team.
type TeamMembership struct {
	MembershipKey
	Role Role `json:"role"`
}

// Team is a named group of users, addressed by its code.
type Team struct {
	Code      string     `json:"code"`
	Name      string     `json:"name"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
	Members   []Member   `json:"members"`
}

// Member is a user as seen through a team membership.
type Member struct {
	UserID   int64  `json:"id"`
	Name     string `json:"name"`
	EJGClass string `json:"ejg_class"`
	Role     Role   `json:"role"`
}

// ActiveMembers returns the members that are not merely invited.
func (t *Team) ActiveMembers() []Member {
	var out []Member
	for _, m := range t.Members {
		if m.Role.Active() {
			out = append(out, m)
		}
	}
	return out
}

// RoleOf returns the role of userID in the team, or false if not a member.
func (t *Team) RoleOf(userID int64) (Role, bool) {
	for _, m := range t.Members {
		if m.UserID == userID {
			return m.Role, true
		}
	}
	return "", false
}

// PermissionCode is a role code granted to a user.
type PermissionCode string

const (
	PermOrganiser    PermissionCode = "ORG"
	PermAdmin        PermissionCode = "ADM"
	PermTeacher      PermissionCode = "TCH"
	PermStudent      PermissionCode = "STD"
	PermOperator     PermissionCode = "OPT"
	PermTeacherAdmin PermissionCode = "TAD"
)

// PermissionKey identifies a permission. EventID is zero for global grants.
type PermissionKey struct {
	UserID  int64          `json:"user_id"`
	EventID int64          `json:"event_id,omitempty"`
	Code    PermissionCode `json:"code"`
}

// User is a person who can sign up, attend and belong to teams.
type User struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Email       string          `json:"email"`
	E5Code      string          `json:"e5code,omitempty"`
	EJGClass    string          `json:"ejg_class,omitempty"`
	ImgURL      string          `json:"img_url,omitempty"`
	Permissions []PermissionKey `json:"permissions,omitempty"`

	// IdentityHash is the external login credential hash; never serialised.
	IdentityHash string `json:"-"`
}

// HasPermission reports whether the user holds code globally. Grants
// scoped to a single event do not count.
func (u *User) HasPermission(code PermissionCode) bool {
	return slices.ContainsFunc(u.Permissions, func(p PermissionKey) bool {
		return p.Code == code && p.EventID == 0
	})
}

// OrganisesEvent reports whether the user is an organiser of eventID.
func (u *User) OrganisesEvent(eventID int64) bool {
	return slices.Contains(u.Permissions, PermissionKey{UserID: u.ID, EventID: eventID, Code: PermOrganiser})
}

// Attendance records that a user or team signed up for or attended an event.
type Attendance struct {
	ID        string                 `json:"id"`
	EventID   int64                  `json:"event_id"`
	Attender  Attender               `json:"attender"`
	IsPresent bool                   `json:"is_present"`
	Place     *int                   `json:"place"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
	Members   []TeamMemberAttendance `json:"member_attendances,omitempty"`
}

// MemberAttendanceKey identifies a team member's presence row.
type MemberAttendanceKey struct {
	AttendanceID string `json:"attendance_id"`
	UserID       int64  `json:"user_id"`
}

// TeamMemberAttendance is one member's presence inside a team attendance.
type TeamMemberAttendance struct {
	MemberAttendanceKey
	IsPresent bool `json:"is_present"`
}

// Participants lists who signed up for an event.
type Participants struct {
	Users []UserParticipant `json:"users"`
	Teams []TeamParticipant `json:"teams"`
}

// UserParticipant is a user with their attendance on an event.
type UserParticipant struct {
	ID         int64      `json:"id"`
	Name       string     `json:"name"`
	EJGClass   string     `json:"ejg_class"`
	Attendance Attendance `json:"attendance"`
}

// TeamParticipant is a team with its attendance on an event.
type TeamParticipant struct {
	Code       string     `json:"code"`
	Name       string     `json:"name"`
	Members    []Member   `json:"members"`
	Attendance Attendance `json:"attendance"`
}

// Class is a student cohort that collects points.
type Class struct {
	Label  string  `json:"label"`
	Points float64 `json:"points"`
}

// BonusPoints are manually assigned points for a class.
type BonusPoints struct {
	ClassLabel string  `json:"class_label"`
	EventCode  string  `json:"event_code"`
	Points     float64 `json:"points"`
}

// Result is a placed attendance together with the weight of its event.
type Result struct {
	Attender Attender
	Place    int
	Weight   int
}

// ScoringSnapshot is everything needed to recompute class points.
type ScoringSnapshot struct {
	Classes     []Class
	Bonus       []BonusPoints
	Students    []User
	Memberships []TeamMembership
	Results     []Result
}

// SlotWithEvents is a slot listed together with its events.
type SlotWithEvents struct {
	Slot
	Events []Event `json:"events"`
}
