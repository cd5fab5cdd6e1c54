package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ejgdev/e5n/internal/apperr"
	"github.com/ejgdev/e5n/internal/model"
)

func TestCreateEventNormalises(t *testing.T) {
	f := newFixture(t)
	slot := f.slot(model.SlotProgram, morning, 2*time.Hour)

	e := f.event(slot, "Chess", withWindow(morning.Add(-time.Hour), morning.Add(3*time.Hour)), withCapacity(4))
	assert.Equal(t, morning, e.StartsAt)
	assert.Equal(t, morning.Add(2*time.Hour), e.EndsAt)
	assert.Equal(t, 1, e.Weight)
	require.NotNil(t, e.SignupDeadline)
	assert.Equal(t, morning, *e.SignupDeadline)
	assert.Equal(t, model.SlotProgram, e.SlotKind)

	deadline := morning.Add(-time.Hour)
	limit := 5
	open, err := f.svc.Events.CreateEvent(f.ctx, model.CreateEventRequest{
		SlotID: slot.ID, Name: "Open day", Capacity: &limit, SignupDeadline: &deadline,
	})
	require.NoError(t, err)
	assert.Equal(t, model.SignupNone, open.SignupKind)
	assert.Nil(t, open.Capacity)
	assert.Nil(t, open.SignupDeadline)

	tests := []struct {
		name string
		req  model.CreateEventRequest
	}{
		{"missing slot", model.CreateEventRequest{SlotID: 99, Name: "x"}},
		{"missing name", model.CreateEventRequest{SlotID: slot.ID}},
		{"negative capacity", model.CreateEventRequest{SlotID: slot.ID, Name: "x", Capacity: ptr(-1)}},
		{"unknown kind", model.CreateEventRequest{SlotID: slot.ID, Name: "x", SignupKind: "crowd"}},
		{"unknown child", model.CreateEventRequest{SlotID: slot.ID, Name: "x", DirectChild: ptr(int64(99))}},
		{"unknown parent", model.CreateEventRequest{SlotID: slot.ID, Name: "x", RootParent: ptr(int64(99))}},
		{"ends before start", model.CreateEventRequest{
			SlotID: slot.ID, Name: "x", StartsAt: morning.Add(time.Hour), EndsAt: morning.Add(30 * time.Minute),
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Events.CreateEvent(f.ctx, tt.req)
			assert.Equal(t, apperr.CodeInvalidArgument, apperr.GetCode(err))
		})
	}
}

func ptr[T any](v T) *T { return &v }

func TestUpdateEvent(t *testing.T) {
	f := newFixture(t)
	slot := f.slot(model.SlotProgram, morning, 2*time.Hour)
	e := f.event(slot, "Chess", withCapacity(4))

	cached, err := f.svc.Events.GetEvent(f.ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, "Chess", cached.Name)

	updated, err := f.svc.Events.UpdateEvent(f.ctx, e.ID, model.UpdateEventRequest{
		Name: ptr("Blitz chess"), ClearCapacity: true, Weight: ptr(3),
	})
	require.NoError(t, err)
	assert.Nil(t, updated.Capacity)
	assert.Equal(t, 3, updated.Weight)

	cached, err = f.svc.Events.GetEvent(f.ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, "Blitz chess", cached.Name)

	_, err = f.svc.Events.UpdateEvent(f.ctx, e.ID, model.UpdateEventRequest{DirectChild: ptr(e.ID)})
	assert.Equal(t, apperr.CodeInvalidArgument, apperr.GetCode(err))

	_, err = f.svc.Events.UpdateEvent(f.ctx, 99, model.UpdateEventRequest{Name: ptr("x")})
	assert.ErrorIs(t, err, apperr.ErrResourceMissing)
}

func TestSlotStudentLists(t *testing.T) {
	f := newFixture(t)
	slot := f.slot(model.SlotPresentation, morning, time.Hour)
	talk := f.event(slot, "Talk")
	workshop := f.event(slot, "Workshop")
	for i, name := range []string{"ann", "ben", "cid", "dan"} {
		f.student(int64(i+1), name, "10.B")
	}
	f.store.PutUser(model.User{ID: 9, Name: "teacher"})
	f.team("ROCKET", 3, 4)

	_, err := f.svc.Signups.SignUp(f.ctx, talk.ID, model.UserAttender(1))
	require.NoError(t, err)
	a, err := f.svc.Signups.SignUp(f.ctx, workshop.ID, model.TeamAttender("ROCKET"))
	require.NoError(t, err)

	_, err = f.svc.Signups.Attend(f.ctx, talk.ID, model.UserAttender(1))
	require.NoError(t, err)
	_, err = f.svc.Signups.SetMemberPresence(f.ctx, a.ID, model.MemberPresenceRequest{
		Members: []model.MemberPresence{{UserID: 3, IsPresent: true}},
	})
	require.NoError(t, err)

	ids := func(users []model.User) []int64 {
		out := []int64{}
		for _, u := range users {
			out = append(out, u.ID)
		}
		return out
	}

	free, err := f.svc.Events.FreeStudents(f.ctx, slot.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, ids(free))

	absent, err := f.svc.Events.NotAttendingStudents(f.ctx, slot.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{4}, ids(absent))

	present, err := f.svc.Events.AttendingStudents(f.ctx, slot.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3}, ids(present))

	_, err = f.svc.Signups.SignUp(f.ctx, talk.ID, model.UserAttender(2))
	require.NoError(t, err)
	free, err = f.svc.Events.FreeStudents(f.ctx, slot.ID)
	require.NoError(t, err)
	assert.Empty(t, free)

	_, err = f.svc.Events.FreeStudents(f.ctx, 99)
	assert.ErrorIs(t, err, apperr.ErrResourceMissing)
}

func TestPresentationsAndSoftDelete(t *testing.T) {
	f := newFixture(t)
	pres := f.slot(model.SlotPresentation, morning, time.Hour)
	prog := f.slot(model.SlotProgram, morning.Add(time.Hour), time.Hour)
	talk := f.event(pres, "Talk")
	f.event(pres, "Panel")
	f.event(prog, "Lunch")

	slots, err := f.svc.Events.Presentations(f.ctx)
	require.NoError(t, err)
	require.Len(t, slots, 1)
	assert.Equal(t, pres.ID, slots[0].ID)
	assert.Len(t, slots[0].Events, 2)

	require.NoError(t, f.svc.Events.DeleteEvent(f.ctx, talk.ID))
	_, err = f.svc.Events.GetEvent(f.ctx, talk.ID)
	assert.ErrorIs(t, err, apperr.ErrResourceMissing)

	slots, err = f.svc.Events.Presentations(f.ctx)
	require.NoError(t, err)
	assert.Len(t, slots[0].Events, 1)

	all, err := f.svc.Events.ListEvents(f.ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
	found, err := f.svc.Events.ListEvents(f.ctx, "lun")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "Lunch", found[0].Name)

	restored, err := f.svc.Events.RestoreEvent(f.ctx, talk.ID)
	require.NoError(t, err)
	assert.Nil(t, restored.DeletedAt)
	_, err = f.svc.Events.RestoreEvent(f.ctx, talk.ID)
	assert.ErrorIs(t, err, apperr.ErrNotAllowed)

	inSlot, err := f.svc.Events.SlotEvents(f.ctx, pres.ID, "")
	require.NoError(t, err)
	assert.Len(t, inSlot, 2)
}

func TestSlotLifecycle(t *testing.T) {
	f := newFixture(t)
	slot := f.slot(model.SlotProgram, morning, time.Hour)
	e := f.event(slot, "Lunch")

	_, err := f.svc.Events.CreateSlot(f.ctx, model.CreateSlotRequest{
		Name: "backwards", StartsAt: morning, EndsAt: morning.Add(-time.Hour), Kind: model.SlotProgram,
	})
	assert.Equal(t, apperr.CodeInvalidArgument, apperr.GetCode(err))

	_, err = f.svc.Events.UpdateSlot(f.ctx, slot.ID, model.UpdateSlotRequest{EndsAt: ptr(morning.Add(-time.Minute))})
	assert.Equal(t, apperr.CodeInvalidArgument, apperr.GetCode(err))

	renamed, err := f.svc.Events.UpdateSlot(f.ctx, slot.ID, model.UpdateSlotRequest{Name: ptr("Break")})
	require.NoError(t, err)
	assert.Equal(t, "Break", renamed.Name)

	slots, err := f.svc.Events.ListSlots(f.ctx)
	require.NoError(t, err)
	require.Len(t, slots, 1)
	assert.Equal(t, "Break", slots[0].Name)

	err = f.svc.Events.DeleteSlot(f.ctx, slot.ID)
	assert.ErrorIs(t, err, apperr.ErrNotAllowed)

	require.NoError(t, f.svc.Events.DeleteEvent(f.ctx, e.ID))
	require.NoError(t, f.svc.Events.DeleteSlot(f.ctx, slot.ID))

	slots, err = f.svc.Events.ListSlots(f.ctx)
	require.NoError(t, err)
	assert.Empty(t, slots)
}

func TestCloseSignup(t *testing.T) {
	f := newFixture(t)
	f.student(1, "ann", "10.B")
	slot := f.slot(model.SlotProgram, morning, time.Hour)
	e := f.event(slot, "Quiz")

	closed, err := f.svc.Events.CloseSignup(f.ctx, e.ID)
	require.NoError(t, err)
	require.NotNil(t, closed.SignupDeadline)
	assert.Equal(t, f.now, *closed.SignupDeadline)

	f.now = f.now.Add(time.Minute)
	_, err = f.svc.Signups.SignUp(f.ctx, e.ID, model.UserAttender(1))
	assert.ErrorIs(t, err, apperr.ErrSignupClosed)
}
