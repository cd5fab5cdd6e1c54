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

// UserService reads and edits user profiles.
type UserService struct {
	store storage.Store
	cache *cache.Cache
	now   func() time.Time
}

// NewUserService constructs a UserService.
func NewUserService(store storage.Store, c *cache.Cache) *UserService {
	return &UserService{store: store, cache: c, now: time.Now}
}

// Get returns one user.
func (s *UserService) Get(ctx context.Context, id int64) (*model.User, error) {
	return s.store.GetUser(ctx, id)
}

// Search returns users whose name contains q.
func (s *UserService) Search(ctx context.Context, q string) ([]model.User, error) {
	users, err := s.store.ListUsers(ctx, storage.UserFilter{Query: strings.TrimSpace(q)})
	if err != nil {
		return nil, err
	}
	if users == nil {
		users = []model.User{}
	}
	return users, nil
}

// Update applies the whitelisted fields of req. A new e5code is validated
// and the class label is derived from it.
func (s *UserService) Update(ctx context.Context, id int64, req model.UpdateUserRequest) (*model.User, error) {
	if req.E5Code != nil {
		code := strings.ToUpper(strings.TrimSpace(*req.E5Code))
		req.E5Code = &code
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	u, err := s.store.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Name != nil {
		u.Name = strings.TrimSpace(*req.Name)
	}
	if req.ImgURL != nil {
		u.ImgURL = *req.ImgURL
	}
	if req.E5Code != nil {
		if *req.E5Code == "" {
			u.E5Code, u.EJGClass = "", ""
		} else {
			code, err := model.ParseE5Code(*req.E5Code)
			if err != nil {
				return nil, apperr.Wrap(err, apperr.CodeInvalidE5Code, err.Error())
			}
			u.E5Code = code.Raw
			u.EJGClass = code.ClassLabel(s.now())
		}
	}
	if err := s.store.UpdateUser(ctx, u); err != nil {
		return nil, err
	}
	s.cache.InvalidateUser(id)
	log.Printf("user updated id=%d", id)
	return u, nil
}

// Teams returns the live teams the user has a membership in.
func (s *UserService) Teams(ctx context.Context, id int64) ([]model.Team, error) {
	key := fmt.Sprintf("user.%d.teams", id)
	tags := []string{cache.UserTag(id), cache.TagTeams}
	return cache.Remember(ctx, s.cache, key, 0, tags, func(ctx context.Context) ([]model.Team, error) {
		if _, err := s.store.GetUser(ctx, id); err != nil {
			return nil, err
		}
		teams, err := s.store.ListUserTeams(ctx, id)
		if err != nil {
			return nil, err
		}
		if teams == nil {
			teams = []model.Team{}
		}
		return teams, nil
	})
}
