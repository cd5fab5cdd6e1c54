package service

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ejgdev/e5n/internal/apperr"
	"github.com/ejgdev/e5n/internal/model"
)

func TestSignUpNeverExceedsCapacityUnderConcurrency(t *testing.T) {
	f := newFixture(t)
	slot := f.slot(model.SlotProgram, morning, time.Hour)
	e := f.event(slot, "Workshop", withCapacity(3))
	for i := int64(1); i <= 20; i++ {
		f.student(i, "student", "9.A")
	}

	var (
		wg   sync.WaitGroup
		ok   atomic.Int32
		full atomic.Int32
	)
	for i := int64(1); i <= 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Signups.SignUp(f.ctx, e.ID, model.UserAttender(i))
			switch {
			case err == nil:
				ok.Add(1)
			case apperr.GetCode(err) == apperr.CodeEventFull:
				full.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(3), ok.Load())
	assert.Equal(t, int32(17), full.Load())
	assert.Equal(t, 3, f.occupancy(e.ID))
}

func TestSignUpTwiceIsRejected(t *testing.T) {
	f := newFixture(t)
	slot := f.slot(model.SlotPresentation, morning, time.Hour)
	e := f.event(slot, "Rockets")
	f.student(1, "alice", "9.A")

	a, err := f.svc.Signups.SignUp(f.ctx, e.ID, model.UserAttender(1))
	require.NoError(t, err)
	assert.False(t, a.IsPresent)
	assert.NotEmpty(t, a.ID)

	_, err = f.svc.Signups.SignUp(f.ctx, e.ID, model.UserAttender(1))
	assert.ErrorIs(t, err, apperr.ErrAlreadySignedUp)
	assert.Equal(t, 1, f.occupancy(e.ID))
}

func TestSignUpPreconditions(t *testing.T) {
	f := newFixture(t)
	slot := f.slot(model.SlotProgram, morning, time.Hour)
	none := f.event(slot, "Assembly", withKind(model.SignupNone))
	solo := f.event(slot, "Chess", withKind(model.SignupIndividual))
	teams := f.event(slot, "Relay", withKind(model.SignupTeam))
	f.student(1, "alice", "9.A")
	f.team("ROCKET", 1)

	_, err := f.svc.Signups.SignUp(f.ctx, none.ID, model.UserAttender(1))
	assert.ErrorIs(t, err, apperr.ErrWrongSignupType)
	_, err = f.svc.Signups.SignUp(f.ctx, solo.ID, model.TeamAttender("ROCKET"))
	assert.ErrorIs(t, err, apperr.ErrWrongSignupType)
	_, err = f.svc.Signups.SignUp(f.ctx, teams.ID, model.UserAttender(1))
	assert.ErrorIs(t, err, apperr.ErrWrongSignupType)

	_, err = f.svc.Signups.SignUp(f.ctx, solo.ID, model.UserAttender(99))
	assert.ErrorIs(t, err, apperr.ErrResourceMissing)
	_, err = f.svc.Signups.SignUp(f.ctx, 404, model.UserAttender(1))
	assert.ErrorIs(t, err, apperr.ErrResourceMissing)

	f.now = morning.Add(time.Minute)
	_, err = f.svc.Signups.SignUp(f.ctx, solo.ID, model.UserAttender(1))
	assert.ErrorIs(t, err, apperr.ErrSignupClosed)
}

func TestPresentationScenario(t *testing.T) {
	f := newFixture(t)
	first := f.slot(model.SlotPresentation, morning, time.Hour)
	second := f.slot(model.SlotPresentation, morning.Add(30*time.Minute), time.Hour)
	e := f.event(first, "E", withCapacity(1))
	other := f.event(second, "F")
	f.student(1, "A", "9.A")
	f.student(2, "B", "9.B")

	_, err := f.svc.Signups.SignUp(f.ctx, e.ID, model.UserAttender(1))
	require.NoError(t, err)
	assert.Equal(t, 1, f.occupancy(e.ID))

	_, err = f.svc.Signups.SignUp(f.ctx, e.ID, model.UserAttender(2))
	assert.ErrorIs(t, err, apperr.ErrEventFull)

	_, err = f.svc.Signups.SignUp(f.ctx, other.ID, model.UserAttender(1))
	assert.ErrorIs(t, err, apperr.ErrStudentBusy)
	assert.Zero(t, f.occupancy(other.ID))
}

func TestBusyCheckIgnoresProgramSlots(t *testing.T) {
	f := newFixture(t)
	pres := f.slot(model.SlotPresentation, morning, time.Hour)
	prog := f.slot(model.SlotProgram, morning, time.Hour)
	talk := f.event(pres, "Talk")
	lunch := f.event(prog, "Lunch")
	f.student(1, "A", "9.A")

	_, err := f.svc.Signups.SignUp(f.ctx, lunch.ID, model.UserAttender(1))
	require.NoError(t, err)
	_, err = f.svc.Signups.SignUp(f.ctx, talk.ID, model.UserAttender(1))
	assert.NoError(t, err)
}

func TestAttendTogglesPresence(t *testing.T) {
	f := newFixture(t)
	slot := f.slot(model.SlotProgram, morning, time.Hour)
	e := f.event(slot, "Workshop")
	f.student(1, "alice", "9.A")

	_, err := f.svc.Signups.SignUp(f.ctx, e.ID, model.UserAttender(1))
	require.NoError(t, err)

	a, err := f.svc.Signups.Attend(f.ctx, e.ID, model.UserAttender(1))
	require.NoError(t, err)
	assert.True(t, a.IsPresent)

	a, err = f.svc.Signups.Attend(f.ctx, e.ID, model.UserAttender(1))
	require.NoError(t, err)
	assert.False(t, a.IsPresent)
	assert.Equal(t, 1, f.occupancy(e.ID))
}

func TestAttendWithoutSignup(t *testing.T) {
	f := newFixture(t)
	slot := f.slot(model.SlotProgram, morning, time.Hour)
	assembly := f.event(slot, "Assembly", withKind(model.SignupNone))
	solo := f.event(slot, "Chess", withKind(model.SignupIndividual), withCapacity(1))
	f.student(1, "alice", "9.A")
	f.student(2, "bob", "9.A")
	f.team("ROCKET", 2)

	a, err := f.svc.Signups.Attend(f.ctx, assembly.ID, model.UserAttender(1))
	require.NoError(t, err)
	assert.True(t, a.IsPresent)

	_, err = f.svc.Signups.Attend(f.ctx, solo.ID, model.TeamAttender("ROCKET"))
	assert.ErrorIs(t, err, apperr.ErrWrongSignupType)

	_, err = f.svc.Signups.Attend(f.ctx, solo.ID, model.UserAttender(1))
	require.NoError(t, err)
	_, err = f.svc.Signups.Attend(f.ctx, solo.ID, model.UserAttender(2))
	assert.ErrorIs(t, err, apperr.ErrEventFull)

	a, err = f.svc.Signups.Attend(f.ctx, solo.ID, model.UserAttender(1))
	require.NoError(t, err)
	assert.False(t, a.IsPresent)
}

func TestUnsignupPresentAttendanceFails(t *testing.T) {
	f := newFixture(t)
	slot := f.slot(model.SlotProgram, morning, time.Hour)
	e := f.event(slot, "Workshop")
	f.student(1, "alice", "9.A")

	_, err := f.svc.Signups.SignUp(f.ctx, e.ID, model.UserAttender(1))
	require.NoError(t, err)
	_, err = f.svc.Signups.Attend(f.ctx, e.ID, model.UserAttender(1))
	require.NoError(t, err)

	err = f.svc.Signups.Unsignup(f.ctx, e.ID, model.UserAttender(1), false)
	assert.ErrorIs(t, err, apperr.ErrNotAllowed)
	assert.Equal(t, 1, f.occupancy(e.ID))

	err = f.svc.Signups.Unsignup(f.ctx, e.ID, model.UserAttender(2), false)
	assert.ErrorIs(t, err, apperr.ErrResourceMissing)
}

// chain creates parent -> child linked through direct_child/root_parent.
func chain(f *fixture) (parent, child *model.Event) {
	f.t.Helper()
	slot := f.slot(model.SlotProgram, morning, 2*time.Hour)
	child = f.event(slot, "Part 2", withWindow(morning.Add(time.Hour), morning.Add(2*time.Hour)))
	parent = f.event(slot, "Part 1", withWindow(morning, morning.Add(time.Hour)))

	var err error
	parent, err = f.svc.Events.UpdateEvent(f.ctx, parent.ID, model.UpdateEventRequest{DirectChild: &child.ID})
	require.NoError(f.t, err)
	child, err = f.svc.Events.UpdateEvent(f.ctx, child.ID, model.UpdateEventRequest{RootParent: &parent.ID})
	require.NoError(f.t, err)
	return parent, child
}

func TestUnsignupCascadesToChild(t *testing.T) {
	f := newFixture(t)
	parent, child := chain(f)
	f.student(1, "alice", "9.A")
	who := model.UserAttender(1)

	_, err := f.svc.Signups.SignUp(f.ctx, parent.ID, who)
	require.NoError(t, err)
	_, err = f.svc.Signups.SignUp(f.ctx, child.ID, who)
	require.NoError(t, err)

	require.NoError(t, f.svc.Signups.Unsignup(f.ctx, parent.ID, who, false))
	assert.Zero(t, f.occupancy(parent.ID))
	assert.Zero(t, f.occupancy(child.ID))
}

func TestUnsignupFromChildRedirectsToRoot(t *testing.T) {
	f := newFixture(t)
	parent, child := chain(f)
	f.student(1, "alice", "9.A")
	who := model.UserAttender(1)

	_, err := f.svc.Signups.SignUp(f.ctx, parent.ID, who)
	require.NoError(t, err)
	_, err = f.svc.Signups.SignUp(f.ctx, child.ID, who)
	require.NoError(t, err)

	require.NoError(t, f.svc.Signups.Unsignup(f.ctx, child.ID, who, false))
	assert.Zero(t, f.occupancy(parent.ID))
	assert.Zero(t, f.occupancy(child.ID))
}

func TestUnsignupFollowsRootParentsToTheTop(t *testing.T) {
	f := newFixture(t)
	first, second := chain(f)
	slot, err := f.svc.Events.GetSlot(f.ctx, first.SlotID)
	require.NoError(t, err)
	third := f.event(slot, "Part 3", withWindow(morning.Add(time.Hour), morning.Add(2*time.Hour)))
	_, err = f.svc.Events.UpdateEvent(f.ctx, second.ID, model.UpdateEventRequest{DirectChild: &third.ID})
	require.NoError(t, err)
	_, err = f.svc.Events.UpdateEvent(f.ctx, third.ID, model.UpdateEventRequest{RootParent: &second.ID})
	require.NoError(t, err)

	f.student(1, "alice", "9.A")
	who := model.UserAttender(1)
	for _, e := range []*model.Event{first, second, third} {
		_, err := f.svc.Signups.SignUp(f.ctx, e.ID, who)
		require.NoError(t, err)
	}

	require.NoError(t, f.svc.Signups.Unsignup(f.ctx, third.ID, who, false))
	assert.Zero(t, f.occupancy(first.ID))
	assert.Zero(t, f.occupancy(second.ID))
	assert.Zero(t, f.occupancy(third.ID))
}

func TestUnsignupSkipsMissingChildAttendance(t *testing.T) {
	f := newFixture(t)
	parent, child := chain(f)
	f.student(1, "alice", "9.A")
	who := model.UserAttender(1)

	_, err := f.svc.Signups.SignUp(f.ctx, parent.ID, who)
	require.NoError(t, err)

	require.NoError(t, f.svc.Signups.Unsignup(f.ctx, parent.ID, who, false))
	assert.Zero(t, f.occupancy(parent.ID))
	assert.Zero(t, f.occupancy(child.ID))
}

func TestUnsignupPresentChildRollsBack(t *testing.T) {
	f := newFixture(t)
	parent, child := chain(f)
	f.student(1, "alice", "9.A")
	who := model.UserAttender(1)

	_, err := f.svc.Signups.SignUp(f.ctx, parent.ID, who)
	require.NoError(t, err)
	_, err = f.svc.Signups.SignUp(f.ctx, child.ID, who)
	require.NoError(t, err)
	_, err = f.svc.Signups.Attend(f.ctx, child.ID, who)
	require.NoError(t, err)

	err = f.svc.Signups.Unsignup(f.ctx, parent.ID, who, false)
	assert.ErrorIs(t, err, apperr.ErrNotAllowed)
	assert.Equal(t, 1, f.occupancy(parent.ID))
	assert.Equal(t, 1, f.occupancy(child.ID))
}

func TestTeamSignupCreatesMemberRows(t *testing.T) {
	f := newFixture(t)
	slot := f.slot(model.SlotProgram, morning, time.Hour)
	e := f.event(slot, "Relay", withKind(model.SignupTeam))
	f.student(1, "lead", "9.A")
	f.student(2, "member", "9.A")
	f.student(3, "invitee", "9.B")
	f.team("ROCKET", 1, 2)
	require.NoError(t, f.store.PutMembership(f.ctx, model.TeamMembership{
		MembershipKey: model.MembershipKey{TeamCode: "ROCKET", UserID: 3},
		Role:          model.RoleInvited,
	}))

	a, err := f.svc.Signups.SignUp(f.ctx, e.ID, model.TeamAttender("ROCKET"))
	require.NoError(t, err)
	require.Len(t, a.Members, 2)
	assert.Equal(t, int64(1), a.Members[0].UserID)
	assert.Equal(t, int64(2), a.Members[1].UserID)
	assert.False(t, a.Members[0].IsPresent)

	rows, err := f.svc.Signups.SetMemberPresence(f.ctx, a.ID, model.MemberPresenceRequest{
		Members: []model.MemberPresence{{UserID: 2, IsPresent: true}},
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.False(t, rows[0].IsPresent)
	assert.True(t, rows[1].IsPresent)

	_, err = f.svc.Signups.SetMemberPresence(f.ctx, a.ID, model.MemberPresenceRequest{
		Members: []model.MemberPresence{{UserID: 3, IsPresent: true}},
	})
	assert.ErrorIs(t, err, apperr.ErrNotTeamMember)
}

func TestSetMemberPresenceRejectsUserAttendance(t *testing.T) {
	f := newFixture(t)
	slot := f.slot(model.SlotProgram, morning, time.Hour)
	e := f.event(slot, "Workshop")
	f.student(1, "alice", "9.A")

	a, err := f.svc.Signups.SignUp(f.ctx, e.ID, model.UserAttender(1))
	require.NoError(t, err)

	_, err = f.svc.Signups.SetMemberPresence(f.ctx, a.ID, model.MemberPresenceRequest{
		Members: []model.MemberPresence{{UserID: 1, IsPresent: true}},
	})
	assert.ErrorIs(t, err, apperr.ErrNotAllowed)
}

func TestSetPlace(t *testing.T) {
	f := newFixture(t)
	slot := f.slot(model.SlotProgram, morning, time.Hour)
	e := f.event(slot, "Quiz")
	f.student(1, "alice", "9.A")

	place := 2
	_, err := f.svc.Signups.SetPlace(f.ctx, e.ID, model.UserAttender(1), &place)
	assert.ErrorIs(t, err, apperr.ErrResourceMissing)

	_, err = f.svc.Signups.SignUp(f.ctx, e.ID, model.UserAttender(1))
	require.NoError(t, err)
	a, err := f.svc.Signups.SetPlace(f.ctx, e.ID, model.UserAttender(1), &place)
	require.NoError(t, err)
	require.NotNil(t, a.Place)
	assert.Equal(t, 2, *a.Place)

	zero := 0
	_, err = f.svc.Signups.SetPlace(f.ctx, e.ID, model.UserAttender(1), &zero)
	assert.Equal(t, apperr.CodeInvalidArgument, apperr.GetCode(err))

	a, err = f.svc.Signups.SetPlace(f.ctx, e.ID, model.UserAttender(1), nil)
	require.NoError(t, err)
	assert.Nil(t, a.Place)
}

func TestParticipantsFollowSignups(t *testing.T) {
	f := newFixture(t)
	slot := f.slot(model.SlotProgram, morning, time.Hour)
	e := f.event(slot, "Relay")
	f.student(1, "alice", "9.A")
	f.student(2, "bob", "9.B")
	f.student(3, "carol", "9.B")
	f.team("ROCKET", 3)

	_, err := f.svc.Signups.SignUp(f.ctx, e.ID, model.UserAttender(1))
	require.NoError(t, err)
	_, err = f.svc.Signups.SignUp(f.ctx, e.ID, model.TeamAttender("ROCKET"))
	require.NoError(t, err)

	p, err := f.svc.Signups.Participants(f.ctx, e.ID)
	require.NoError(t, err)
	require.Len(t, p.Users, 1)
	assert.Equal(t, "alice", p.Users[0].Name)
	require.Len(t, p.Teams, 1)
	assert.Equal(t, "ROCKET", p.Teams[0].Code)
	require.Len(t, p.Teams[0].Members, 1)
	assert.Len(t, p.Teams[0].Attendance.Members, 1)

	_, err = f.svc.Signups.SignUp(f.ctx, e.ID, model.UserAttender(2))
	require.NoError(t, err)
	p, err = f.svc.Signups.Participants(f.ctx, e.ID)
	require.NoError(t, err)
	assert.Len(t, p.Users, 2)

	_, err = f.svc.Signups.Participants(f.ctx, 404)
	assert.ErrorIs(t, err, apperr.ErrResourceMissing)
}

func TestResolveAttender(t *testing.T) {
	f := newFixture(t)
	u := f.student(7, "alice", "")
	u.E5Code = "2022A09EJG001"
	f.store.PutUser(u)
	f.team("ROCKET", 7)

	who, _, err := f.svc.Signups.ResolveAttender(f.ctx, "2022a09ejg001")
	require.NoError(t, err)
	assert.Equal(t, model.UserAttender(7), who)

	who, _, err = f.svc.Signups.ResolveAttender(f.ctx, "7")
	require.NoError(t, err)
	assert.Equal(t, model.UserAttender(7), who)

	who, team, err := f.svc.Signups.ResolveAttender(f.ctx, "ROCKET")
	require.NoError(t, err)
	assert.Equal(t, model.TeamAttender("ROCKET"), who)
	require.NotNil(t, team)
	assert.Len(t, team.Members, 1)

	_, _, err = f.svc.Signups.ResolveAttender(f.ctx, "8")
	assert.ErrorIs(t, err, apperr.ErrResourceMissing)
	_, _, err = f.svc.Signups.ResolveAttender(f.ctx, " ")
	assert.Equal(t, apperr.CodeInvalidArgument, apperr.GetCode(err))
}

func TestMyPresentations(t *testing.T) {
	f := newFixture(t)
	pres := f.slot(model.SlotPresentation, morning, time.Hour)
	later := f.slot(model.SlotPresentation, morning.Add(2*time.Hour), time.Hour)
	prog := f.slot(model.SlotProgram, morning.Add(4*time.Hour), time.Hour)
	talk := f.event(pres, "Talk")
	demo := f.event(later, "Demo")
	lunch := f.event(prog, "Lunch")
	f.student(1, "alice", "9.A")
	f.team("ROCKET", 1)

	_, err := f.svc.Signups.SignUp(f.ctx, talk.ID, model.UserAttender(1))
	require.NoError(t, err)
	_, err = f.svc.Signups.SignUp(f.ctx, lunch.ID, model.UserAttender(1))
	require.NoError(t, err)

	mine, err := f.svc.Signups.MyPresentations(f.ctx, 1)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, talk.ID, mine[0].ID)

	_, err = f.svc.Signups.SignUp(f.ctx, demo.ID, model.TeamAttender("ROCKET"))
	require.NoError(t, err)
	mine, err = f.svc.Signups.MyPresentations(f.ctx, 1)
	require.NoError(t, err)
	assert.Len(t, mine, 2)
}

func TestDeletedTeamFreesItsSeat(t *testing.T) {
	f := newFixture(t)
	slot := f.slot(model.SlotProgram, morning, time.Hour)
	e := f.event(slot, "Quiz", withCapacity(1))
	f.student(1, "lead", "9.A")
	f.student(2, "bob", "9.B")
	f.team("TEAMA", 1)

	_, err := f.svc.Signups.SignUp(f.ctx, e.ID, model.TeamAttender("TEAMA"))
	require.NoError(t, err)
	_, err = f.svc.Signups.SignUp(f.ctx, e.ID, model.UserAttender(2))
	require.ErrorIs(t, err, apperr.ErrEventFull)

	require.NoError(t, f.svc.Teams.Delete(f.ctx, "TEAMA"))
	assert.Zero(t, f.occupancy(e.ID))

	_, err = f.svc.Signups.SignUp(f.ctx, e.ID, model.UserAttender(2))
	require.NoError(t, err)
	assert.Equal(t, 1, f.occupancy(e.ID))
}
