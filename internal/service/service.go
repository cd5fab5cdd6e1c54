// Package service implements business logic, validation, and orchestration
// between HTTP handlers and the storage layer.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/ejgdev/e5n/internal/apperr"
	"github.com/ejgdev/e5n/internal/cache"
	"github.com/ejgdev/e5n/internal/model"
	"github.com/ejgdev/e5n/internal/storage"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.RegisterValidation("teamcode", func(fl validator.FieldLevel) bool {
		return model.IsTeamCode(fl.Field().String())
	}); err != nil {
		panic(err)
	}
	return v
}

// validateRequest checks the validate tags of req and reports the first
// failing field as an invalid-argument error.
func validateRequest(req any) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		field := strings.ToLower(fe.Field())
		if fe.Param() != "" {
			return apperr.Invalid(fmt.Sprintf("%s failed %s=%s", field, fe.Tag(), fe.Param()))
		}
		return apperr.Invalid(fmt.Sprintf("%s failed %s", field, fe.Tag()))
	}
	return apperr.Wrap(err, apperr.CodeInvalidArgument, "invalid request")
}

// Services bundles every service sharing one store and cache.
type Services struct {
	Signups *SignupService
	Teams   *TeamService
	Events  *EventService
	Users   *UserService
	Scoring *ScoringService
}

// Options configures New.
type Options struct {
	StudentListTTL time.Duration
	Scoring        ScoringConfig
	// Now defaults to time.Now.
	Now func() time.Time
}

// New constructs every service.
func New(store storage.Store, c *cache.Cache, opts Options) *Services {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	signups := NewSignupService(store, c)
	signups.now = opts.Now

	events := NewEventService(store, c, opts.StudentListTTL)
	events.now = opts.Now

	users := NewUserService(store, c)
	users.now = opts.Now

	teams := NewTeamService(store, c)
	teams.now = opts.Now

	return &Services{
		Signups: signups,
		Teams:   teams,
		Events:  events,
		Users:   users,
		Scoring: NewScoringService(store, c, opts.Scoring),
	}
}

func newAttendanceID() string {
	return uuid.NewString()
}

// resolveAttender turns a raw reference into an attender, looking up
// e5codes. The user or live team must exist.
func resolveAttender(ctx context.Context, store storage.Store, raw string) (model.Attender, *model.Team, error) {
	ref, err := model.ParseAttender(raw)
	if err != nil {
		return model.Attender{}, nil, apperr.Invalid(err.Error())
	}
	if ref.E5Code != "" {
		u, err := store.GetUserByE5Code(ctx, ref.E5Code)
		if err != nil {
			return model.Attender{}, nil, err
		}
		return model.UserAttender(u.ID), nil, nil
	}
	return checkAttender(ctx, store, ref.Attender)
}

// checkAttender verifies that who exists and loads the team of a team
// attender.
func checkAttender(ctx context.Context, store storage.Store, who model.Attender) (model.Attender, *model.Team, error) {
	switch who.Kind {
	case model.AttenderUser:
		if _, err := store.GetUser(ctx, who.UserID); err != nil {
			return who, nil, err
		}
		return who, nil, nil
	case model.AttenderTeam:
		team, err := store.GetTeam(ctx, who.TeamCode, false)
		if err != nil {
			return who, nil, err
		}
		return who, team, nil
	}
	return who, nil, apperr.Invalid(model.ErrEmptyAttender.Error())
}
