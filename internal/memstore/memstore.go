// Package memstore is an in-process implementation of storage.Store.
// Transactions are serialised by a single mutex and roll back by restoring
// a snapshot, so concurrent signups behave as with row locks.
package memstore

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/ejgdev/e5n/internal/apperr"
	"github.com/ejgdev/e5n/internal/model"
	"github.com/ejgdev/e5n/internal/storage"
)

type state struct {
	slots       map[int64]model.Slot
	events      map[int64]model.Event
	attendances map[string]model.Attendance
	memberAtt   map[model.MemberAttendanceKey]bool
	users       map[int64]model.User
	perms       map[model.PermissionKey]struct{}
	teams       map[string]model.Team
	memberships map[model.MembershipKey]model.Role
	classes     map[string]float64
	bonus       []model.BonusPoints

	nextSlotID  int64
	nextEventID int64
}

func newState() *state {
	return &state{
		slots:       make(map[int64]model.Slot),
		events:      make(map[int64]model.Event),
		attendances: make(map[string]model.Attendance),
		memberAtt:   make(map[model.MemberAttendanceKey]bool),
		users:       make(map[int64]model.User),
		perms:       make(map[model.PermissionKey]struct{}),
		teams:       make(map[string]model.Team),
		memberships: make(map[model.MembershipKey]model.Role),
		classes:     make(map[string]float64),
	}
}

func (st *state) clone() *state {
	c := *st
	c.slots = maps.Clone(st.slots)
	c.events = maps.Clone(st.events)
	c.attendances = maps.Clone(st.attendances)
	c.memberAtt = maps.Clone(st.memberAtt)
	c.users = maps.Clone(st.users)
	c.perms = maps.Clone(st.perms)
	c.teams = maps.Clone(st.teams)
	c.memberships = maps.Clone(st.memberships)
	c.classes = maps.Clone(st.classes)
	c.bonus = slices.Clone(st.bonus)
	return &c
}

// Store keeps everything in memory.
type Store struct {
	mu     *sync.Mutex
	st     *state
	locked bool
}

var _ storage.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{mu: &sync.Mutex{}, st: newState()}
}

func (s *Store) lock() func() {
	if s.locked {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// InTx implements storage.Store.
func (s *Store) InTx(ctx context.Context, fn func(storage.Store) error) error {
	if s.locked {
		return fn(s)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	tx := &Store{mu: s.mu, st: s.st, locked: true}
	if err := fn(tx); err != nil {
		*s.st = *snapshot
		return err
	}
	if err := ctx.Err(); err != nil {
		*s.st = *snapshot
		return err
	}
	return nil
}

// ─── Seeding ──────────────────────────────────────────────────────────────────

// PutUser inserts or replaces a user. Users normally arrive from the
// identity provider; this is how tests and the demo driver add them.
func (s *Store) PutUser(u model.User) {
	defer s.lock()()
	perms := u.Permissions
	u.Permissions = nil
	s.st.users[u.ID] = u
	for _, p := range perms {
		p.UserID = u.ID
		s.st.perms[p] = struct{}{}
	}
}

// Grant adds a permission.
func (s *Store) Grant(p model.PermissionKey) {
	defer s.lock()()
	s.st.perms[p] = struct{}{}
}

// PutClass registers a class with zero points.
func (s *Store) PutClass(label string) {
	defer s.lock()()
	if _, ok := s.st.classes[label]; !ok {
		s.st.classes[label] = 0
	}
}

// ─── Slots ────────────────────────────────────────────────────────────────────

// CreateSlot implements storage.SlotStore.
func (s *Store) CreateSlot(_ context.Context, sl *model.Slot) error {
	defer s.lock()()
	s.st.nextSlotID++
	sl.ID = s.st.nextSlotID
	s.st.slots[sl.ID] = *sl
	return nil
}

// UpdateSlot implements storage.SlotStore.
func (s *Store) UpdateSlot(_ context.Context, sl *model.Slot) error {
	defer s.lock()()
	if _, ok := s.st.slots[sl.ID]; !ok {
		return apperr.Missing("slot")
	}
	s.st.slots[sl.ID] = *sl
	return nil
}

// DeleteSlot implements storage.SlotStore.
func (s *Store) DeleteSlot(_ context.Context, id int64) error {
	defer s.lock()()
	if _, ok := s.st.slots[id]; !ok {
		return apperr.Missing("slot")
	}
	for _, e := range s.st.events {
		if e.SlotID == id && e.DeletedAt == nil {
			return apperr.New(apperr.CodeNotAllowed, "slot still has events")
		}
	}
	delete(s.st.slots, id)
	return nil
}

// GetSlot implements storage.SlotStore.
func (s *Store) GetSlot(_ context.Context, id int64) (*model.Slot, error) {
	defer s.lock()()
	sl, ok := s.st.slots[id]
	if !ok {
		return nil, apperr.Missing("slot")
	}
	return &sl, nil
}

// ListSlots implements storage.SlotStore.
func (s *Store) ListSlots(_ context.Context) ([]model.Slot, error) {
	defer s.lock()()
	out := slices.Collect(maps.Values(s.st.slots))
	slices.SortFunc(out, func(a, b model.Slot) int {
		return cmp.Or(a.StartsAt.Compare(b.StartsAt), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

// ─── Events ───────────────────────────────────────────────────────────────────

func (s *Store) decorate(e model.Event) model.Event {
	e.Occupancy = 0
	for _, a := range s.st.attendances {
		if a.EventID != e.ID {
			continue
		}
		if a.Attender.IsTeam() {
			if t, ok := s.st.teams[a.Attender.TeamCode]; ok && t.DeletedAt != nil {
				continue
			}
		}
		e.Occupancy++
	}
	e.SlotKind = s.st.slots[e.SlotID].Kind
	return e
}

// CreateEvent implements storage.EventStore.
func (s *Store) CreateEvent(_ context.Context, e *model.Event) error {
	defer s.lock()()
	if _, ok := s.st.slots[e.SlotID]; !ok {
		return apperr.Missing("slot")
	}
	s.st.nextEventID++
	e.ID = s.st.nextEventID
	s.st.events[e.ID] = *e
	*e = s.decorate(*e)
	return nil
}

// UpdateEvent implements storage.EventStore.
func (s *Store) UpdateEvent(_ context.Context, e *model.Event) error {
	defer s.lock()()
	if _, ok := s.st.events[e.ID]; !ok {
		return apperr.Missing("event")
	}
	if _, ok := s.st.slots[e.SlotID]; !ok {
		return apperr.Missing("slot")
	}
	s.st.events[e.ID] = *e
	*e = s.decorate(*e)
	return nil
}

func (s *Store) getEvent(id int64, withDeleted bool) (*model.Event, error) {
	e, ok := s.st.events[id]
	if !ok || (!withDeleted && e.DeletedAt != nil) {
		return nil, apperr.Missing("event")
	}
	e = s.decorate(e)
	return &e, nil
}

// GetEvent implements storage.EventStore.
func (s *Store) GetEvent(_ context.Context, id int64, withDeleted bool) (*model.Event, error) {
	defer s.lock()()
	return s.getEvent(id, withDeleted)
}

// LockEvent implements storage.EventStore. Outside a transaction it only
// reads; inside one the store-wide mutex is already held.
func (s *Store) LockEvent(_ context.Context, id int64) (*model.Event, error) {
	defer s.lock()()
	return s.getEvent(id, false)
}

// ListEvents implements storage.EventStore.
func (s *Store) ListEvents(_ context.Context, f storage.EventFilter) ([]model.Event, error) {
	defer s.lock()()
	q := strings.ToLower(f.Query)
	var out []model.Event
	for _, e := range s.st.events {
		if !f.WithDeleted && e.DeletedAt != nil {
			continue
		}
		if f.SlotID != 0 && e.SlotID != f.SlotID {
			continue
		}
		if f.SlotKind != "" && s.st.slots[e.SlotID].Kind != f.SlotKind {
			continue
		}
		if q != "" && !strings.Contains(strings.ToLower(e.Name), q) {
			continue
		}
		if len(f.IDs) > 0 && !slices.Contains(f.IDs, e.ID) {
			continue
		}
		out = append(out, s.decorate(e))
	}
	slices.SortFunc(out, func(a, b model.Event) int {
		return cmp.Or(a.StartsAt.Compare(b.StartsAt), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

// SetEventDeleted implements storage.EventStore.
func (s *Store) SetEventDeleted(_ context.Context, id int64, deletedAt *time.Time) error {
	defer s.lock()()
	e, ok := s.st.events[id]
	if !ok {
		return apperr.Missing("event")
	}
	e.DeletedAt = deletedAt
	s.st.events[id] = e
	return nil
}

// ─── Attendances ──────────────────────────────────────────────────────────────

func (s *Store) withMembers(a model.Attendance) model.Attendance {
	a.Members = nil
	if !a.Attender.IsTeam() {
		return a
	}
	for key, present := range s.st.memberAtt {
		if key.AttendanceID == a.ID {
			a.Members = append(a.Members, model.TeamMemberAttendance{MemberAttendanceKey: key, IsPresent: present})
		}
	}
	slices.SortFunc(a.Members, func(x, y model.TeamMemberAttendance) int {
		return cmp.Compare(x.UserID, y.UserID)
	})
	return a
}

// FindAttendance implements storage.AttendanceStore.
func (s *Store) FindAttendance(_ context.Context, eventID int64, who model.Attender) (*model.Attendance, error) {
	defer s.lock()()
	for _, a := range s.st.attendances {
		if a.EventID == eventID && a.Attender == who {
			a = s.withMembers(a)
			return &a, nil
		}
	}
	return nil, apperr.Missing("attendance")
}

// GetAttendance implements storage.AttendanceStore.
func (s *Store) GetAttendance(_ context.Context, id string) (*model.Attendance, error) {
	defer s.lock()()
	a, ok := s.st.attendances[id]
	if !ok {
		return nil, apperr.Missing("attendance")
	}
	a = s.withMembers(a)
	return &a, nil
}

// ListAttendances implements storage.AttendanceStore.
func (s *Store) ListAttendances(_ context.Context, f storage.AttendanceFilter) ([]model.Attendance, error) {
	defer s.lock()()
	var out []model.Attendance
	for _, a := range s.st.attendances {
		e, ok := s.st.events[a.EventID]
		if !ok || e.DeletedAt != nil {
			continue
		}
		if f.EventID != 0 && a.EventID != f.EventID {
			continue
		}
		if f.SlotID != 0 && e.SlotID != f.SlotID {
			continue
		}
		if f.UserID != 0 && !(a.Attender.IsUser() && a.Attender.UserID == f.UserID) {
			continue
		}
		if f.TeamCode != "" && !(a.Attender.IsTeam() && a.Attender.TeamCode == f.TeamCode) {
			continue
		}
		if f.Present != nil && a.IsPresent != *f.Present {
			continue
		}
		out = append(out, s.withMembers(a))
	}
	slices.SortFunc(out, func(x, y model.Attendance) int {
		return cmp.Or(x.CreatedAt.Compare(y.CreatedAt), strings.Compare(x.ID, y.ID))
	})
	return out, nil
}

// InsertAttendance implements storage.AttendanceStore.
func (s *Store) InsertAttendance(_ context.Context, a *model.Attendance) error {
	defer s.lock()()
	for _, other := range s.st.attendances {
		if other.EventID == a.EventID && other.Attender == a.Attender {
			return apperr.ErrAlreadySignedUp
		}
	}
	stored := *a
	stored.Members = nil
	s.st.attendances[a.ID] = stored
	for _, m := range a.Members {
		s.st.memberAtt[m.MemberAttendanceKey] = m.IsPresent
	}
	return nil
}

// UpdateAttendance implements storage.AttendanceStore.
func (s *Store) UpdateAttendance(_ context.Context, a *model.Attendance) error {
	defer s.lock()()
	cur, ok := s.st.attendances[a.ID]
	if !ok {
		return apperr.Missing("attendance")
	}
	cur.IsPresent = a.IsPresent
	cur.Place = a.Place
	cur.UpdatedAt = a.UpdatedAt
	s.st.attendances[a.ID] = cur
	return nil
}

// DeleteAttendance implements storage.AttendanceStore.
func (s *Store) DeleteAttendance(_ context.Context, id string) error {
	defer s.lock()()
	if _, ok := s.st.attendances[id]; !ok {
		return apperr.Missing("attendance")
	}
	maps.DeleteFunc(s.st.memberAtt, func(k model.MemberAttendanceKey, _ bool) bool {
		return k.AttendanceID == id
	})
	delete(s.st.attendances, id)
	return nil
}

// UpdateMemberPresence implements storage.AttendanceStore.
func (s *Store) UpdateMemberPresence(_ context.Context, key model.MemberAttendanceKey, present bool) error {
	defer s.lock()()
	if _, ok := s.st.memberAtt[key]; !ok {
		return apperr.Missing("team member attendance")
	}
	s.st.memberAtt[key] = present
	return nil
}

// ─── Users ────────────────────────────────────────────────────────────────────

func (s *Store) withPermissions(u model.User) model.User {
	u.Permissions = nil
	for p := range s.st.perms {
		if p.UserID == u.ID {
			u.Permissions = append(u.Permissions, p)
		}
	}
	slices.SortFunc(u.Permissions, func(a, b model.PermissionKey) int {
		return cmp.Or(strings.Compare(string(a.Code), string(b.Code)), cmp.Compare(a.EventID, b.EventID))
	})
	return u
}

// GetUser implements storage.UserStore.
func (s *Store) GetUser(_ context.Context, id int64) (*model.User, error) {
	defer s.lock()()
	u, ok := s.st.users[id]
	if !ok {
		return nil, apperr.Missing("user")
	}
	u = s.withPermissions(u)
	return &u, nil
}

// GetUserByE5Code implements storage.UserStore.
func (s *Store) GetUserByE5Code(_ context.Context, code string) (*model.User, error) {
	defer s.lock()()
	for _, u := range s.st.users {
		if u.E5Code != "" && u.E5Code == code {
			u = s.withPermissions(u)
			return &u, nil
		}
	}
	return nil, apperr.Missing("user")
}

// ListUsers implements storage.UserStore.
func (s *Store) ListUsers(_ context.Context, f storage.UserFilter) ([]model.User, error) {
	defer s.lock()()
	q := strings.ToLower(f.Query)
	var out []model.User
	for _, u := range s.st.users {
		if q != "" && !strings.Contains(strings.ToLower(u.Name), q) {
			continue
		}
		if f.Class != "" && u.EJGClass != f.Class {
			continue
		}
		if len(f.IDs) > 0 && !slices.Contains(f.IDs, u.ID) {
			continue
		}
		u = s.withPermissions(u)
		if f.Permission != "" && !u.HasPermission(f.Permission) {
			continue
		}
		out = append(out, u)
	}
	slices.SortFunc(out, func(a, b model.User) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

// UpdateUser implements storage.UserStore.
func (s *Store) UpdateUser(_ context.Context, u *model.User) error {
	defer s.lock()()
	cur, ok := s.st.users[u.ID]
	if !ok {
		return apperr.Missing("user")
	}
	if u.E5Code != "" {
		for id, other := range s.st.users {
			if id != u.ID && other.E5Code == u.E5Code {
				return apperr.Invalid("e5code is already taken")
			}
		}
	}
	cur.Name = u.Name
	cur.ImgURL = u.ImgURL
	cur.E5Code = u.E5Code
	cur.EJGClass = u.EJGClass
	s.st.users[u.ID] = cur
	return nil
}

// ─── Teams ────────────────────────────────────────────────────────────────────

func (s *Store) withTeamMembers(t model.Team) model.Team {
	t.Members = nil
	for key, role := range s.st.memberships {
		if key.TeamCode != t.Code {
			continue
		}
		u := s.st.users[key.UserID]
		t.Members = append(t.Members, model.Member{UserID: key.UserID, Name: u.Name, EJGClass: u.EJGClass, Role: role})
	}
	slices.SortFunc(t.Members, func(a, b model.Member) int { return cmp.Compare(a.UserID, b.UserID) })
	return t
}

// CreateTeam implements storage.TeamStore.
func (s *Store) CreateTeam(_ context.Context, t *model.Team, leaderID int64) error {
	defer s.lock()()
	if _, ok := s.st.teams[t.Code]; ok {
		return apperr.ErrTeamExists
	}
	if _, ok := s.st.users[leaderID]; !ok {
		return apperr.Missing("user")
	}
	stored := *t
	stored.Members = nil
	s.st.teams[t.Code] = stored
	s.st.memberships[model.MembershipKey{TeamCode: t.Code, UserID: leaderID}] = model.RoleLeader
	*t = s.withTeamMembers(stored)
	return nil
}

// GetTeam implements storage.TeamStore.
func (s *Store) GetTeam(_ context.Context, code string, withDeleted bool) (*model.Team, error) {
	defer s.lock()()
	t, ok := s.st.teams[code]
	if !ok || (!withDeleted && t.DeletedAt != nil) {
		return nil, apperr.Missing("team")
	}
	t = s.withTeamMembers(t)
	return &t, nil
}

// ListTeams implements storage.TeamStore.
func (s *Store) ListTeams(_ context.Context) ([]model.Team, error) {
	defer s.lock()()
	var out []model.Team
	for _, t := range s.st.teams {
		if t.DeletedAt == nil {
			out = append(out, s.withTeamMembers(t))
		}
	}
	slices.SortFunc(out, func(a, b model.Team) int { return strings.Compare(a.Code, b.Code) })
	return out, nil
}

// UpdateTeam implements storage.TeamStore.
func (s *Store) UpdateTeam(_ context.Context, t *model.Team) error {
	defer s.lock()()
	cur, ok := s.st.teams[t.Code]
	if !ok {
		return apperr.Missing("team")
	}
	cur.Name = t.Name
	s.st.teams[t.Code] = cur
	return nil
}

// SetTeamDeleted implements storage.TeamStore.
func (s *Store) SetTeamDeleted(_ context.Context, code string, deletedAt *time.Time) error {
	defer s.lock()()
	t, ok := s.st.teams[code]
	if !ok {
		return apperr.Missing("team")
	}
	t.DeletedAt = deletedAt
	s.st.teams[code] = t
	return nil
}

// PutMembership implements storage.TeamStore.
func (s *Store) PutMembership(_ context.Context, m model.TeamMembership) error {
	defer s.lock()()
	if _, ok := s.st.teams[m.TeamCode]; !ok {
		return apperr.Missing("team")
	}
	if _, ok := s.st.users[m.UserID]; !ok {
		return apperr.Missing("user")
	}
	s.st.memberships[m.MembershipKey] = m.Role
	return nil
}

// DeleteMembership implements storage.TeamStore.
func (s *Store) DeleteMembership(_ context.Context, key model.MembershipKey) error {
	defer s.lock()()
	if _, ok := s.st.memberships[key]; !ok {
		return apperr.ErrNotTeamMember
	}
	delete(s.st.memberships, key)
	return nil
}

// ListUserTeams implements storage.TeamStore.
func (s *Store) ListUserTeams(_ context.Context, userID int64) ([]model.Team, error) {
	defer s.lock()()
	var out []model.Team
	for key := range s.st.memberships {
		if key.UserID != userID {
			continue
		}
		if t, ok := s.st.teams[key.TeamCode]; ok && t.DeletedAt == nil {
			out = append(out, s.withTeamMembers(t))
		}
	}
	slices.SortFunc(out, func(a, b model.Team) int { return strings.Compare(a.Code, b.Code) })
	return out, nil
}

// ─── Scoring ──────────────────────────────────────────────────────────────────

// ScoringSnapshot implements storage.ScoringStore.
func (s *Store) ScoringSnapshot(_ context.Context, bonusEventCode string) (*model.ScoringSnapshot, error) {
	defer s.lock()()
	snap := &model.ScoringSnapshot{}
	for label, points := range s.st.classes {
		snap.Classes = append(snap.Classes, model.Class{Label: label, Points: points})
	}
	slices.SortFunc(snap.Classes, func(a, b model.Class) int { return strings.Compare(a.Label, b.Label) })
	for _, b := range s.st.bonus {
		if b.EventCode == bonusEventCode {
			snap.Bonus = append(snap.Bonus, b)
		}
	}
	for _, u := range s.st.users {
		if u.EJGClass != "" {
			snap.Students = append(snap.Students, u)
		}
	}
	slices.SortFunc(snap.Students, func(a, b model.User) int { return cmp.Compare(a.ID, b.ID) })
	for key, role := range s.st.memberships {
		if t, ok := s.st.teams[key.TeamCode]; ok && t.DeletedAt == nil {
			snap.Memberships = append(snap.Memberships, model.TeamMembership{MembershipKey: key, Role: role})
		}
	}
	for _, a := range s.st.attendances {
		e, ok := s.st.events[a.EventID]
		if !ok || e.DeletedAt != nil || a.Place == nil {
			continue
		}
		snap.Results = append(snap.Results, model.Result{Attender: a.Attender, Place: *a.Place, Weight: e.Weight})
	}
	return snap, nil
}

// SaveClassPoints implements storage.ScoringStore.
func (s *Store) SaveClassPoints(_ context.Context, classes []model.Class) error {
	defer s.lock()()
	for _, c := range classes {
		s.st.classes[c.Label] = c.Points
	}
	return nil
}

// AddBonusPoints implements storage.ScoringStore.
func (s *Store) AddBonusPoints(_ context.Context, b model.BonusPoints) error {
	defer s.lock()()
	if _, ok := s.st.classes[b.ClassLabel]; !ok {
		s.st.classes[b.ClassLabel] = 0
	}
	s.st.bonus = append(s.st.bonus, b)
	return nil
}

// ListClasses implements storage.ScoringStore.
func (s *Store) ListClasses(_ context.Context) ([]model.Class, error) {
	defer s.lock()()
	out := make([]model.Class, 0, len(s.st.classes))
	for label, points := range s.st.classes {
		out = append(out, model.Class{Label: label, Points: points})
	}
	slices.SortFunc(out, func(a, b model.Class) int {
		return cmp.Or(cmp.Compare(b.Points, a.Points), strings.Compare(a.Label, b.Label))
	})
	return out, nil
}
