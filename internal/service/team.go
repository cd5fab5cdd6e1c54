package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/ejgdev/e5n/internal/apperr"
	"github.com/ejgdev/e5n/internal/cache"
	"github.com/ejgdev/e5n/internal/model"
	"github.com/ejgdev/e5n/internal/storage"
)

// TeamService manages teams and their memberships.
type TeamService struct {
	store storage.Store
	cache *cache.Cache
	now   func() time.Time
}

// NewTeamService constructs a TeamService.
func NewTeamService(store storage.Store, c *cache.Cache) *TeamService {
	return &TeamService{store: store, cache: c, now: time.Now}
}

// NextRole applies one promote (true) or demote (false) step to current.
// The empty role stands for "not a member": demoting an invited user or a
// member removes them, promoting a non-member invites them.
func NextRole(current model.Role, promote bool) (model.Role, error) {
	switch current {
	case "":
		if promote {
			return model.RoleInvited, nil
		}
		return "", apperr.ErrNotTeamMember
	case model.RoleInvited:
		if promote {
			return model.RoleMember, nil
		}
		return "", nil
	case model.RoleMember:
		if promote {
			return model.RoleLeader, nil
		}
		return "", nil
	case model.RoleLeader:
		if promote {
			return "", apperr.New(apperr.CodeNotAllowed, "a leader cannot be promoted further")
		}
		return model.RoleMember, nil
	}
	return "", fmt.Errorf("unknown role %q", current)
}

// canChangeOwnRole reports whether a user may apply this step to their
// own membership: accepting or declining an invitation, or leaving.
func canChangeOwnRole(current model.Role, promote bool) bool {
	return current == model.RoleInvited || (current == model.RoleMember && !promote)
}

// Create stores a new team with creatorID as its leader.
func (s *TeamService) Create(ctx context.Context, creatorID int64, req model.CreateTeamRequest) (*model.Team, error) {
	req.Code = strings.TrimSpace(req.Code)
	req.Name = strings.TrimSpace(req.Name)
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	t := &model.Team{Code: req.Code, Name: req.Name}
	if err := s.store.CreateTeam(ctx, t, creatorID); err != nil {
		return nil, err
	}
	s.cache.InvalidateTeam(t.Code)
	s.cache.InvalidateUser(creatorID)
	log.Printf("team created code=%s leader=%d", t.Code, creatorID)
	return t, nil
}

// Get returns a live team with members.
func (s *TeamService) Get(ctx context.Context, code string) (*model.Team, error) {
	key := "teams." + code
	tags := []string{cache.TeamTag(code), cache.TagUsers}
	return cache.Remember(ctx, s.cache, key, 0, tags, func(ctx context.Context) (*model.Team, error) {
		return s.store.GetTeam(ctx, code, false)
	})
}

// GetWithDeleted returns a team even when soft-deleted. It is not cached.
func (s *TeamService) GetWithDeleted(ctx context.Context, code string) (*model.Team, error) {
	return s.store.GetTeam(ctx, code, true)
}

// List returns every live team.
func (s *TeamService) List(ctx context.Context) ([]model.Team, error) {
	tags := []string{cache.TagTeams, cache.TagUsers}
	return cache.Remember(ctx, s.cache, "teams.all", 0, tags, func(ctx context.Context) ([]model.Team, error) {
		teams, err := s.store.ListTeams(ctx)
		if err != nil {
			return nil, err
		}
		if teams == nil {
			teams = []model.Team{}
		}
		return teams, nil
	})
}

// Update applies the whitelisted fields of req.
func (s *TeamService) Update(ctx context.Context, code string, req model.UpdateTeamRequest) (*model.Team, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	t, err := s.store.GetTeam(ctx, code, false)
	if err != nil {
		return nil, err
	}
	if req.Name != nil {
		t.Name = strings.TrimSpace(*req.Name)
	}
	if err := s.store.UpdateTeam(ctx, t); err != nil {
		return nil, err
	}
	s.invalidate(t)
	return t, nil
}

// Delete soft-deletes a live team.
func (s *TeamService) Delete(ctx context.Context, code string) error {
	t, err := s.store.GetTeam(ctx, code, false)
	if err != nil {
		return err
	}
	now := s.now().UTC()
	if err := s.store.SetTeamDeleted(ctx, code, &now); err != nil {
		return err
	}
	s.invalidate(t)
	log.Printf("team deleted code=%s", code)
	return nil
}

// Restore brings back a soft-deleted team.
func (s *TeamService) Restore(ctx context.Context, code string) (*model.Team, error) {
	t, err := s.store.GetTeam(ctx, code, true)
	if err != nil {
		return nil, err
	}
	if t.DeletedAt == nil {
		return nil, apperr.New(apperr.CodeNotAllowed, "team is not deleted")
	}
	if err := s.store.SetTeamDeleted(ctx, code, nil); err != nil {
		return nil, err
	}
	t.DeletedAt = nil
	s.invalidate(t)
	return t, nil
}

// Promote moves req.UserID one step up or down in the team.
//
// Administrators and team leaders may apply any step. The user concerned
// may accept or decline their own invitation and may leave the team as a
// member.
func (s *TeamService) Promote(ctx context.Context, actor *model.User, code string, req model.PromoteRequest) (*model.Team, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if actor == nil {
		return nil, apperr.ErrUnauthenticated
	}
	var out *model.Team
	err := s.store.InTx(ctx, func(tx storage.Store) error {
		t, err := tx.GetTeam(ctx, code, false)
		if err != nil {
			return err
		}
		if _, err := tx.GetUser(ctx, req.UserID); err != nil {
			return err
		}
		current, _ := t.RoleOf(req.UserID)

		actorRole, _ := t.RoleOf(actor.ID)
		switch {
		case actor.HasPermission(model.PermAdmin), actorRole == model.RoleLeader:
		case actor.ID == req.UserID && canChangeOwnRole(current, req.Promote):
		default:
			return apperr.ErrForbidden
		}

		next, err := NextRole(current, req.Promote)
		if err != nil {
			return err
		}
		key := model.MembershipKey{TeamCode: code, UserID: req.UserID}
		if next == "" {
			err = tx.DeleteMembership(ctx, key)
		} else {
			err = tx.PutMembership(ctx, model.TeamMembership{MembershipKey: key, Role: next})
		}
		if err != nil {
			return err
		}
		out, err = tx.GetTeam(ctx, code, false)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(out)
	s.cache.InvalidateUser(req.UserID)
	log.Printf("team promote code=%s user=%d promote=%t by=%d", code, req.UserID, req.Promote, actor.ID)
	return out, nil
}

// invalidate drops cached views of t and of each of its members.
func (s *TeamService) invalidate(t *model.Team) {
	s.cache.InvalidateTeam(t.Code)
	for _, m := range t.Members {
		s.cache.InvalidateUser(m.UserID)
	}
}
