// Package storage defines the persistence contract shared by the PostgreSQL
// and in-memory stores.
//
// Lookups of a single entity that find nothing return an error matching
// apperr.ErrResourceMissing. Reads of events fill Occupancy and SlotKind;
// reads of team attendances fill Members; reads of teams fill Members;
// reads of users fill Permissions.
package storage

import (
	"context"
	"time"

	"github.com/ejgdev/e5n/internal/model"
)

// EventFilter narrows ListEvents.
type EventFilter struct {
	SlotID      int64
	SlotKind    model.SlotKind
	Query       string
	IDs         []int64
	WithDeleted bool
}

// AttendanceFilter narrows ListAttendances. Zero fields match anything.
type AttendanceFilter struct {
	EventID  int64
	SlotID   int64
	UserID   int64
	TeamCode string
	Present  *bool
}

// UserFilter narrows ListUsers. Zero fields match anything.
type UserFilter struct {
	Query      string
	Class      string
	Permission model.PermissionCode
	IDs        []int64
}

// Store is the persistence contract used by the services.
type Store interface {
	// InTx runs fn atomically. Calls on the Store passed to fn join the
	// transaction; nested InTx calls reuse it.
	InTx(ctx context.Context, fn func(Store) error) error

	SlotStore
	EventStore
	AttendanceStore
	UserStore
	TeamStore
	ScoringStore
}

// SlotStore persists slots.
type SlotStore interface {
	CreateSlot(ctx context.Context, s *model.Slot) error
	UpdateSlot(ctx context.Context, s *model.Slot) error
	DeleteSlot(ctx context.Context, id int64) error
	GetSlot(ctx context.Context, id int64) (*model.Slot, error)
	ListSlots(ctx context.Context) ([]model.Slot, error)
}

// EventStore persists events.
type EventStore interface {
	CreateEvent(ctx context.Context, e *model.Event) error
	UpdateEvent(ctx context.Context, e *model.Event) error
	GetEvent(ctx context.Context, id int64, withDeleted bool) (*model.Event, error)
	// LockEvent returns a non-deleted event and holds an exclusive lock on
	// it until the surrounding transaction ends.
	LockEvent(ctx context.Context, id int64) (*model.Event, error)
	ListEvents(ctx context.Context, f EventFilter) ([]model.Event, error)
	SetEventDeleted(ctx context.Context, id int64, deletedAt *time.Time) error
}

// AttendanceStore persists attendances and team member presence.
type AttendanceStore interface {
	FindAttendance(ctx context.Context, eventID int64, a model.Attender) (*model.Attendance, error)
	GetAttendance(ctx context.Context, id string) (*model.Attendance, error)
	ListAttendances(ctx context.Context, f AttendanceFilter) ([]model.Attendance, error)
	// InsertAttendance stores a and its Members rows.
	InsertAttendance(ctx context.Context, a *model.Attendance) error
	// UpdateAttendance stores IsPresent, Place and UpdatedAt.
	UpdateAttendance(ctx context.Context, a *model.Attendance) error
	// DeleteAttendance removes the member rows and then the attendance.
	DeleteAttendance(ctx context.Context, id string) error
	UpdateMemberPresence(ctx context.Context, key model.MemberAttendanceKey, present bool) error
}

// UserStore reads and updates users. Users are created by the identity
// provider integration, not by this service.
type UserStore interface {
	GetUser(ctx context.Context, id int64) (*model.User, error)
	GetUserByE5Code(ctx context.Context, code string) (*model.User, error)
	ListUsers(ctx context.Context, f UserFilter) ([]model.User, error)
	UpdateUser(ctx context.Context, u *model.User) error
}

// TeamStore persists teams and memberships.
type TeamStore interface {
	// CreateTeam stores t with leaderID as its leader. A taken code
	// returns an error matching apperr.ErrTeamExists.
	CreateTeam(ctx context.Context, t *model.Team, leaderID int64) error
	GetTeam(ctx context.Context, code string, withDeleted bool) (*model.Team, error)
	ListTeams(ctx context.Context) ([]model.Team, error)
	UpdateTeam(ctx context.Context, t *model.Team) error
	SetTeamDeleted(ctx context.Context, code string, deletedAt *time.Time) error
	PutMembership(ctx context.Context, m model.TeamMembership) error
	DeleteMembership(ctx context.Context, key model.MembershipKey) error
	ListUserTeams(ctx context.Context, userID int64) ([]model.Team, error)
}

// ScoringStore reads scoring inputs and stores class totals.
type ScoringStore interface {
	ScoringSnapshot(ctx context.Context, bonusEventCode string) (*model.ScoringSnapshot, error)
	SaveClassPoints(ctx context.Context, classes []model.Class) error
	AddBonusPoints(ctx context.Context, b model.BonusPoints) error
	ListClasses(ctx context.Context) ([]model.Class, error)
}
