package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ejgdev/e5n/internal/cache"
	"github.com/ejgdev/e5n/internal/memstore"
	"github.com/ejgdev/e5n/internal/model"
)

// morning is 10:00 on the test day; the fixture clock starts two hours
// earlier so signup deadlines defaulting to slot start are still open.
var morning = time.Date(2026, 3, 12, 10, 0, 0, 0, time.UTC)

type fixture struct {
	t     *testing.T
	ctx   context.Context
	store *memstore.Store
	cache *cache.Cache
	svc   *Services
	now   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		t:     t,
		ctx:   context.Background(),
		store: memstore.New(),
		cache: cache.New(),
		now:   morning.Add(-2 * time.Hour),
	}
	f.svc = New(f.store, f.cache, Options{
		StudentListTTL: time.Minute,
		Now:            func() time.Time { return f.now },
		Scoring: ScoringConfig{
			BasePoint:        10,
			TeamSizeModifier: teamModifier,
			EventCode:        "E5N",
		},
	})
	return f
}

// teamModifier gives teams of two or more 0.8 of the points.
func teamModifier(size int) float64 {
	if size >= 2 {
		return 0.8
	}
	return 1
}

func (f *fixture) student(id int64, name, class string) model.User {
	u := model.User{
		ID:          id,
		Name:        name,
		Email:       name + "@example.com",
		EJGClass:    class,
		Permissions: []model.PermissionKey{{Code: model.PermStudent}},
	}
	f.store.PutUser(u)
	return u
}

func (f *fixture) slot(kind model.SlotKind, start time.Time, d time.Duration) *model.Slot {
	f.t.Helper()
	s, err := f.svc.Events.CreateSlot(f.ctx, model.CreateSlotRequest{
		Name: "slot", StartsAt: start, EndsAt: start.Add(d), Kind: kind,
	})
	require.NoError(f.t, err)
	return s
}

type eventOpt func(*model.CreateEventRequest)

func withCapacity(n int) eventOpt {
	return func(r *model.CreateEventRequest) { r.Capacity = &n }
}

func withKind(k model.SignupKind) eventOpt {
	return func(r *model.CreateEventRequest) { r.SignupKind = k }
}

func withWindow(start, end time.Time) eventOpt {
	return func(r *model.CreateEventRequest) { r.StartsAt, r.EndsAt = start, end }
}

func withWeight(w int) eventOpt {
	return func(r *model.CreateEventRequest) { r.Weight = w }
}

func (f *fixture) event(slot *model.Slot, name string, opts ...eventOpt) *model.Event {
	f.t.Helper()
	req := model.CreateEventRequest{SlotID: slot.ID, Name: name, SignupKind: model.SignupBoth}
	for _, o := range opts {
		o(&req)
	}
	e, err := f.svc.Events.CreateEvent(f.ctx, req)
	require.NoError(f.t, err)
	return e
}

// team creates a team led by leader with the given extra members.
func (f *fixture) team(code string, leader int64, members ...int64) *model.Team {
	f.t.Helper()
	_, err := f.svc.Teams.Create(f.ctx, leader, model.CreateTeamRequest{Code: code, Name: code})
	require.NoError(f.t, err)
	for _, m := range members {
		require.NoError(f.t, f.store.PutMembership(f.ctx, model.TeamMembership{
			MembershipKey: model.MembershipKey{TeamCode: code, UserID: m},
			Role:          model.RoleMember,
		}))
	}
	t, err := f.store.GetTeam(f.ctx, code, false)
	require.NoError(f.t, err)
	return t
}

func (f *fixture) occupancy(eventID int64) int {
	f.t.Helper()
	e, err := f.store.GetEvent(f.ctx, eventID, true)
	require.NoError(f.t, err)
	return e.Occupancy
}
