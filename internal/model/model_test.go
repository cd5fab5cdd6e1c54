package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(h, m int) time.Time {
	return time.Date(2026, 3, 12, h, m, 0, 0, time.UTC)
}

func TestEventIsFull(t *testing.T) {
	one := 1
	e := Event{Capacity: &one}
	assert.False(t, e.IsFull())

	e.Occupancy = 1
	assert.True(t, e.IsFull())

	unlimited := Event{Occupancy: 500}
	assert.False(t, unlimited.IsFull())
}

func TestEventOverlaps(t *testing.T) {
	e := Event{StartsAt: at(10, 0), EndsAt: at(11, 0)}

	assert.True(t, e.Overlaps(&Event{StartsAt: at(10, 30), EndsAt: at(11, 30)}))
	assert.True(t, e.Overlaps(&Event{StartsAt: at(9, 0), EndsAt: at(12, 0)}))
	assert.False(t, e.Overlaps(&Event{StartsAt: at(11, 0), EndsAt: at(12, 0)}), "touching windows do not overlap")
	assert.False(t, e.Overlaps(&Event{StartsAt: at(8, 0), EndsAt: at(10, 0)}))
}

func TestSlotClamp(t *testing.T) {
	s := Slot{StartsAt: at(10, 0), EndsAt: at(11, 0)}

	start, end := s.Clamp(at(9, 0), at(12, 0))
	assert.Equal(t, at(10, 0), start)
	assert.Equal(t, at(11, 0), end)

	start, end = s.Clamp(at(10, 15), at(10, 45))
	assert.Equal(t, at(10, 15), start)
	assert.Equal(t, at(10, 45), end)

	start, end = s.Clamp(time.Time{}, time.Time{})
	assert.Equal(t, at(10, 0), start)
	assert.Equal(t, at(11, 0), end)
}

func TestSignupKindAccepts(t *testing.T) {
	assert.True(t, SignupIndividual.Accepts(AttenderUser))
	assert.False(t, SignupIndividual.Accepts(AttenderTeam))
	assert.True(t, SignupTeam.Accepts(AttenderTeam))
	assert.False(t, SignupTeam.Accepts(AttenderUser))
	assert.True(t, SignupBoth.Accepts(AttenderUser))
	assert.True(t, SignupBoth.Accepts(AttenderTeam))
	assert.False(t, SignupNone.Accepts(AttenderUser))
}

func TestUserPermissions(t *testing.T) {
	u := User{ID: 3, Permissions: []PermissionKey{
		{UserID: 3, Code: PermAdmin},
		{UserID: 3, EventID: 7, Code: PermOrganiser},
	}}

	assert.True(t, u.HasPermission(PermAdmin))
	assert.False(t, u.HasPermission(PermTeacher))
	assert.False(t, u.HasPermission(PermOrganiser), "event-scoped grant is not global")
	assert.True(t, u.OrganisesEvent(7))
	assert.False(t, u.OrganisesEvent(8))
}

func TestTeamRoles(t *testing.T) {
	team := Team{Code: "ROBO", Members: []Member{
		{UserID: 1, Role: RoleLeader},
		{UserID: 2, Role: RoleMember},
		{UserID: 3, Role: RoleInvited},
	}}

	assert.Len(t, team.ActiveMembers(), 2)
	role, ok := team.RoleOf(3)
	assert.True(t, ok)
	assert.Equal(t, RoleInvited, role)
	_, ok = team.RoleOf(4)
	assert.False(t, ok)
}

func TestParseAttender(t *testing.T) {
	ref, err := ParseAttender("42")
	require.NoError(t, err)
	assert.Equal(t, UserAttender(42), ref.Attender)

	ref, err = ParseAttender("2021a09ejg001")
	require.NoError(t, err)
	assert.Equal(t, "2021A09EJG001", ref.E5Code)

	ref, err = ParseAttender("ROBO")
	require.NoError(t, err)
	assert.Equal(t, TeamAttender("ROBO"), ref.Attender)

	_, err = ParseAttender("  ")
	assert.ErrorIs(t, err, ErrEmptyAttender)
}

func TestAttenderJSON(t *testing.T) {
	b, err := json.Marshal(TeamAttender("ROBO"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"team","team_code":"ROBO"}`, string(b))

	var a Attender
	require.NoError(t, json.Unmarshal([]byte(`{"type":"user","user_id":9}`), &a))
	assert.Equal(t, UserAttender(9), a)

	assert.Error(t, json.Unmarshal([]byte(`{"type":"robot"}`), &a))
}

func TestParseE5Code(t *testing.T) {
	c, err := ParseE5Code("2021B09EJG017")
	require.NoError(t, err)
	assert.Equal(t, 2021, c.Year)
	assert.Equal(t, "B", c.Letter)
	assert.Equal(t, 9, c.EntryGrade)
	assert.Equal(t, 17, c.Sequence)

	for _, bad := range []string{"", "2021B09EJG17", "2021b09EJG017", "2021B09XYZ017", "2021B00EJG017"} {
		_, err := ParseE5Code(bad)
		assert.Error(t, err, bad)
	}
}

func TestE5CodeClassLabel(t *testing.T) {
	c, err := ParseE5Code("2021B09EJG017")
	require.NoError(t, err)

	assert.Equal(t, "9.B", c.ClassLabel(time.Date(2021, 9, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "9.B", c.ClassLabel(time.Date(2022, 6, 30, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "10.B", c.ClassLabel(time.Date(2022, 9, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "13.B", c.ClassLabel(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)))
}

func TestIsTeamCode(t *testing.T) {
	assert.True(t, IsTeamCode("ROCKET"))
	assert.True(t, IsTeamCode("R2D2"))
	assert.False(t, IsTeamCode("1234"))
	assert.False(t, IsTeamCode("2022A09EJG001"))
	assert.False(t, IsTeamCode(""))
}
