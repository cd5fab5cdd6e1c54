package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ejgdev/e5n/internal/apperr"
	"github.com/ejgdev/e5n/internal/model"
)

func TestNextRole(t *testing.T) {
	tests := []struct {
		name    string
		current model.Role
		promote bool
		want    model.Role
		wantErr *apperr.Error
	}{
		{"invite outsider", "", true, model.RoleInvited, nil},
		{"demote outsider", "", false, "", apperr.ErrNotTeamMember},
		{"accept invitation", model.RoleInvited, true, model.RoleMember, nil},
		{"kick invitee", model.RoleInvited, false, "", nil},
		{"promote member", model.RoleMember, true, model.RoleLeader, nil},
		{"kick member", model.RoleMember, false, "", nil},
		{"promote leader", model.RoleLeader, true, "", apperr.ErrNotAllowed},
		{"demote leader", model.RoleLeader, false, model.RoleMember, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NextRole(tt.current, tt.promote)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func admin(id int64) *model.User {
	return &model.User{ID: id, Permissions: []model.PermissionKey{{UserID: id, Code: model.PermAdmin}}}
}

func TestPromoteByLeader(t *testing.T) {
	f := newFixture(t)
	f.student(1, "lead", "9.A")
	f.student(2, "newbie", "9.A")
	f.team("ROCKET", 1)
	lead := &model.User{ID: 1}

	team, err := f.svc.Teams.Promote(f.ctx, lead, "ROCKET", model.PromoteRequest{UserID: 2, Promote: true})
	require.NoError(t, err)
	role, _ := team.RoleOf(2)
	assert.Equal(t, model.RoleInvited, role)

	team, err = f.svc.Teams.Promote(f.ctx, lead, "ROCKET", model.PromoteRequest{UserID: 2, Promote: true})
	require.NoError(t, err)
	role, _ = team.RoleOf(2)
	assert.Equal(t, model.RoleMember, role)

	team, err = f.svc.Teams.Promote(f.ctx, lead, "ROCKET", model.PromoteRequest{UserID: 2, Promote: false})
	require.NoError(t, err)
	_, ok := team.RoleOf(2)
	assert.False(t, ok)

	_, err = f.svc.Teams.Promote(f.ctx, lead, "ROCKET", model.PromoteRequest{UserID: 2, Promote: false})
	assert.ErrorIs(t, err, apperr.ErrNotTeamMember)

	_, err = f.svc.Teams.Promote(f.ctx, lead, "ROCKET", model.PromoteRequest{UserID: 1, Promote: true})
	assert.ErrorIs(t, err, apperr.ErrNotAllowed)

	_, err = f.svc.Teams.Promote(f.ctx, lead, "ROCKET", model.PromoteRequest{UserID: 99, Promote: true})
	assert.ErrorIs(t, err, apperr.ErrResourceMissing)
}

func TestPromoteBySelf(t *testing.T) {
	f := newFixture(t)
	f.student(1, "lead", "9.A")
	f.student(2, "invitee", "9.A")
	f.student(3, "outsider", "9.A")
	f.team("ROCKET", 1)
	invitee := &model.User{ID: 2}
	outsider := &model.User{ID: 3}

	_, err := f.svc.Teams.Promote(f.ctx, outsider, "ROCKET", model.PromoteRequest{UserID: 3, Promote: true})
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = f.svc.Teams.Promote(f.ctx, &model.User{ID: 1}, "ROCKET", model.PromoteRequest{UserID: 2, Promote: true})
	require.NoError(t, err)

	team, err := f.svc.Teams.Promote(f.ctx, invitee, "ROCKET", model.PromoteRequest{UserID: 2, Promote: true})
	require.NoError(t, err)
	role, _ := team.RoleOf(2)
	assert.Equal(t, model.RoleMember, role)

	_, err = f.svc.Teams.Promote(f.ctx, invitee, "ROCKET", model.PromoteRequest{UserID: 2, Promote: true})
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	team, err = f.svc.Teams.Promote(f.ctx, invitee, "ROCKET", model.PromoteRequest{UserID: 2, Promote: false})
	require.NoError(t, err)
	_, ok := team.RoleOf(2)
	assert.False(t, ok)
}

func TestPromoteByAdminRefreshesCachedViews(t *testing.T) {
	f := newFixture(t)
	f.student(1, "lead", "9.A")
	f.student(2, "member", "9.A")
	f.team("ROCKET", 1, 2)

	teams, err := f.svc.Users.Teams(f.ctx, 2)
	require.NoError(t, err)
	require.Len(t, teams, 1)
	cached, err := f.svc.Teams.Get(f.ctx, "ROCKET")
	require.NoError(t, err)
	assert.Len(t, cached.Members, 2)

	_, err = f.svc.Teams.Promote(f.ctx, admin(50), "ROCKET", model.PromoteRequest{UserID: 2, Promote: false})
	require.NoError(t, err)

	teams, err = f.svc.Users.Teams(f.ctx, 2)
	require.NoError(t, err)
	assert.Empty(t, teams)
	cached, err = f.svc.Teams.Get(f.ctx, "ROCKET")
	require.NoError(t, err)
	assert.Len(t, cached.Members, 1)
}

func TestTeamLifecycle(t *testing.T) {
	f := newFixture(t)
	f.student(1, "lead", "9.A")

	team, err := f.svc.Teams.Create(f.ctx, 1, model.CreateTeamRequest{Code: "ROCKET", Name: " Rocket "})
	require.NoError(t, err)
	assert.Equal(t, "Rocket", team.Name)
	role, _ := team.RoleOf(1)
	assert.Equal(t, model.RoleLeader, role)

	_, err = f.svc.Teams.Create(f.ctx, 1, model.CreateTeamRequest{Code: "ROCKET", Name: "Again"})
	assert.ErrorIs(t, err, apperr.ErrTeamExists)

	_, err = f.svc.Teams.Create(f.ctx, 1, model.CreateTeamRequest{Code: "no spaces", Name: "x"})
	assert.Equal(t, apperr.CodeInvalidArgument, apperr.GetCode(err))

	name := "Rocketeers"
	team, err = f.svc.Teams.Update(f.ctx, "ROCKET", model.UpdateTeamRequest{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "Rocketeers", team.Name)

	all, err := f.svc.Teams.List(f.ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)

	require.NoError(t, f.svc.Teams.Delete(f.ctx, "ROCKET"))
	_, err = f.svc.Teams.Get(f.ctx, "ROCKET")
	assert.ErrorIs(t, err, apperr.ErrResourceMissing)
	all, err = f.svc.Teams.List(f.ctx)
	require.NoError(t, err)
	assert.Empty(t, all)

	restored, err := f.svc.Teams.Restore(f.ctx, "ROCKET")
	require.NoError(t, err)
	assert.Nil(t, restored.DeletedAt)

	_, err = f.svc.Teams.Restore(f.ctx, "ROCKET")
	assert.ErrorIs(t, err, apperr.ErrNotAllowed)
}

func TestCreateRejectsCodesReadAsUsers(t *testing.T) {
	f := newFixture(t)
	f.student(1, "lead", "9.A")

	for _, code := range []string{"1234", "ABCDEFGHIJKLM"} {
		_, err := f.svc.Teams.Create(f.ctx, 1, model.CreateTeamRequest{Code: code, Name: "x"})
		assert.Equal(t, apperr.CodeInvalidArgument, apperr.GetCode(err), code)
	}

	_, err := f.svc.Teams.Create(f.ctx, 1, model.CreateTeamRequest{Code: "ABCDEFGHIJKL", Name: "x"})
	require.NoError(t, err)
	who, team, err := f.svc.Signups.ResolveAttender(f.ctx, "ABCDEFGHIJKL")
	require.NoError(t, err)
	assert.Equal(t, model.TeamAttender("ABCDEFGHIJKL"), who)
	assert.Equal(t, "ABCDEFGHIJKL", team.Code)
}
