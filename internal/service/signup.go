package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ejgdev/e5n/internal/apperr"
	"github.com/ejgdev/e5n/internal/cache"
	"github.com/ejgdev/e5n/internal/model"
	"github.com/ejgdev/e5n/internal/storage"
)

// SignupService runs signups, attendance scanning and unsignups for users
// and teams alike. Every operation locks the event first, so operations on
// one event are serialised.
type SignupService struct {
	store storage.Store
	cache *cache.Cache
	now   func() time.Time
	newID func() string
}

// NewSignupService constructs a SignupService.
func NewSignupService(store storage.Store, c *cache.Cache) *SignupService {
	return &SignupService{store: store, cache: c, now: time.Now, newID: newAttendanceID}
}

// ResolveAttender parses raw (user id, e5code or team code) and checks
// that the attender exists. The team is returned for team attenders.
func (s *SignupService) ResolveAttender(ctx context.Context, raw string) (model.Attender, *model.Team, error) {
	return resolveAttender(ctx, s.store, raw)
}

// SignUp registers who for eventID.
//
// Checks run in this order: event exists, attender exists, the event takes
// this kind of signup, the deadline has not passed, a user is not busy in
// an overlapping presentation, the event has room, who is not signed up
// yet.
func (s *SignupService) SignUp(ctx context.Context, eventID int64, who model.Attender) (*model.Attendance, error) {
	var (
		out  *model.Attendance
		slot int64
	)
	err := s.store.InTx(ctx, func(tx storage.Store) error {
		e, err := tx.LockEvent(ctx, eventID)
		if err != nil {
			return err
		}
		_, team, err := checkAttender(ctx, tx, who)
		if err != nil {
			return err
		}
		if !e.SignupKind.Accepts(who.Kind) {
			return apperr.ErrWrongSignupType
		}
		if e.SignupClosed(s.now()) {
			return apperr.ErrSignupClosed
		}
		if who.IsUser() && e.SlotKind == model.SlotPresentation {
			if err := s.checkBusy(ctx, tx, e, who.UserID); err != nil {
				return err
			}
		}
		if e.IsFull() {
			return apperr.ErrEventFull
		}
		if err := ensureNoAttendance(ctx, tx, e.ID, who); err != nil {
			return err
		}

		a := s.newAttendance(e.ID, who, team)
		if err := tx.InsertAttendance(ctx, a); err != nil {
			return err
		}
		out, slot = a, e.SlotID
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.cache.InvalidateEvent(eventID, slot)
	log.Printf("signup event=%d attender=%s", eventID, who)
	return out, nil
}

func ensureNoAttendance(ctx context.Context, tx storage.Store, eventID int64, who model.Attender) error {
	_, err := tx.FindAttendance(ctx, eventID, who)
	switch {
	case err == nil:
		return apperr.ErrAlreadySignedUp
	case errors.Is(err, apperr.ErrResourceMissing):
		return nil
	default:
		return err
	}
}

// checkBusy fails when userID already attends another presentation whose
// window overlaps e.
func (s *SignupService) checkBusy(ctx context.Context, tx storage.Store, e *model.Event, userID int64) error {
	mine, err := tx.ListAttendances(ctx, storage.AttendanceFilter{UserID: userID})
	if err != nil {
		return fmt.Errorf("list user attendances: %w", err)
	}
	var ids []int64
	for _, a := range mine {
		if a.EventID != e.ID {
			ids = append(ids, a.EventID)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	others, err := tx.ListEvents(ctx, storage.EventFilter{IDs: ids, SlotKind: model.SlotPresentation})
	if err != nil {
		return fmt.Errorf("list user events: %w", err)
	}
	for i := range others {
		if others[i].Overlaps(e) {
			return apperr.ErrStudentBusy
		}
	}
	return nil
}

// newAttendance builds an attendance for who. Team attendances carry one
// absent row per member or leader of the team.
func (s *SignupService) newAttendance(eventID int64, who model.Attender, team *model.Team) *model.Attendance {
	now := s.now().UTC()
	a := &model.Attendance{
		ID:        s.newID(),
		EventID:   eventID,
		Attender:  who,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if team != nil {
		for _, m := range team.ActiveMembers() {
			a.Members = append(a.Members, model.TeamMemberAttendance{
				MemberAttendanceKey: model.MemberAttendanceKey{AttendanceID: a.ID, UserID: m.UserID},
			})
		}
	}
	return a
}

// Attend toggles the presence of who at eventID. An attender without an
// attendance gets one, if the event has room, and is marked present.
func (s *SignupService) Attend(ctx context.Context, eventID int64, who model.Attender) (*model.Attendance, error) {
	var (
		out  *model.Attendance
		slot int64
	)
	err := s.store.InTx(ctx, func(tx storage.Store) error {
		e, err := tx.LockEvent(ctx, eventID)
		if err != nil {
			return err
		}
		_, team, err := checkAttender(ctx, tx, who)
		if err != nil {
			return err
		}
		if (e.SignupKind == model.SignupIndividual && who.IsTeam()) ||
			(e.SignupKind == model.SignupTeam && who.IsUser()) {
			return apperr.ErrWrongSignupType
		}

		a, err := tx.FindAttendance(ctx, e.ID, who)
		switch {
		case errors.Is(err, apperr.ErrResourceMissing):
			if e.IsFull() {
				return apperr.ErrEventFull
			}
			a = s.newAttendance(e.ID, who, team)
			a.IsPresent = true
			if err := tx.InsertAttendance(ctx, a); err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			a.IsPresent = !a.IsPresent
			a.UpdatedAt = s.now().UTC()
			if err := tx.UpdateAttendance(ctx, a); err != nil {
				return err
			}
		}
		out, slot = a, e.SlotID
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.cache.InvalidateEvent(eventID, slot)
	log.Printf("attend event=%d attender=%s present=%t", eventID, who, out.IsPresent)
	return out, nil
}

// Unsignup removes the attendance of who from eventID.
//
// Unless force is set, the call is redirected up the root_parent links
// until an event without one is reached.
// It then walks the direct_child chain, removing who from every event on
// it. The first event must have an attendance; later ones without one are
// skipped. An attendance already marked present cannot be removed and
// fails the whole call.
func (s *SignupService) Unsignup(ctx context.Context, eventID int64, who model.Attender, force bool) error {
	var touched []model.Event
	err := s.store.InTx(ctx, func(tx storage.Store) error {
		start := eventID
		if !force {
			for visited := make(map[int64]bool); !visited[start]; {
				visited[start] = true
				e, err := tx.LockEvent(ctx, start)
				if err != nil {
					return err
				}
				if e.RootParent == nil {
					break
				}
				start = *e.RootParent
			}
		}

		seen := make(map[int64]bool)
		for id, first := start, true; !seen[id]; first = false {
			seen[id] = true
			e, err := tx.LockEvent(ctx, id)
			if err != nil {
				if !first && errors.Is(err, apperr.ErrResourceMissing) {
					break
				}
				return err
			}
			a, err := tx.FindAttendance(ctx, id, who)
			switch {
			case errors.Is(err, apperr.ErrResourceMissing) && !first:
			case err != nil:
				return err
			case a.IsPresent:
				return apperr.Newf(apperr.CodeNotAllowed, "attendance on event %d is already marked present", id)
			default:
				if err := tx.DeleteAttendance(ctx, a.ID); err != nil {
					return err
				}
			}
			touched = append(touched, *e)
			if e.DirectChild == nil {
				break
			}
			id = *e.DirectChild
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, e := range touched {
		s.cache.InvalidateEvent(e.ID, e.SlotID)
	}
	log.Printf("unsignup event=%d attender=%s events=%d", eventID, who, len(touched))
	return nil
}

// Attendance returns one attendance by id.
func (s *SignupService) Attendance(ctx context.Context, id string) (*model.Attendance, error) {
	return s.store.GetAttendance(ctx, id)
}

// SetMemberPresence records which members of a team attendance were
// present and returns the member rows.
func (s *SignupService) SetMemberPresence(ctx context.Context, attendanceID string, req model.MemberPresenceRequest) ([]model.TeamMemberAttendance, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	var (
		out  []model.TeamMemberAttendance
		slot int64
		evID int64
	)
	err := s.store.InTx(ctx, func(tx storage.Store) error {
		a, err := tx.GetAttendance(ctx, attendanceID)
		if err != nil {
			return err
		}
		if !a.Attender.IsTeam() {
			return apperr.New(apperr.CodeNotAllowed, "member presence applies to team attendances only")
		}
		e, err := tx.LockEvent(ctx, a.EventID)
		if err != nil {
			return err
		}
		for _, m := range req.Members {
			key := model.MemberAttendanceKey{AttendanceID: a.ID, UserID: m.UserID}
			if !slices.ContainsFunc(a.Members, func(row model.TeamMemberAttendance) bool { return row.MemberAttendanceKey == key }) {
				return apperr.Newf(apperr.CodeNotTeamMember, "user %d is not part of this team attendance", m.UserID)
			}
			if err := tx.UpdateMemberPresence(ctx, key, m.IsPresent); err != nil {
				return err
			}
		}
		fresh, err := tx.GetAttendance(ctx, attendanceID)
		if err != nil {
			return err
		}
		out, slot, evID = fresh.Members, e.SlotID, e.ID
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.cache.InvalidateEvent(evID, slot)
	return out, nil
}

// SetPlace records the result rank of who at eventID. A nil place clears it.
func (s *SignupService) SetPlace(ctx context.Context, eventID int64, who model.Attender, place *int) (*model.Attendance, error) {
	if place != nil && *place < 1 {
		return nil, apperr.Invalid("place must be positive")
	}
	var (
		out  *model.Attendance
		slot int64
	)
	err := s.store.InTx(ctx, func(tx storage.Store) error {
		e, err := tx.LockEvent(ctx, eventID)
		if err != nil {
			return err
		}
		a, err := tx.FindAttendance(ctx, e.ID, who)
		if err != nil {
			return err
		}
		a.Place = place
		a.UpdatedAt = s.now().UTC()
		if err := tx.UpdateAttendance(ctx, a); err != nil {
			return err
		}
		out, slot = a, e.SlotID
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.cache.InvalidateEvent(eventID, slot)
	log.Printf("place event=%d attender=%s place=%v", eventID, who, place)
	return out, nil
}

// Participants lists the users and teams attending eventID.
func (s *SignupService) Participants(ctx context.Context, eventID int64) (*model.Participants, error) {
	key := fmt.Sprintf("events.%d.signups", eventID)
	tags := []string{cache.EventTag(eventID), cache.TagTeams, cache.TagUsers}
	return cache.Remember(ctx, s.cache, key, 0, tags, func(ctx context.Context) (*model.Participants, error) {
		return s.loadParticipants(ctx, eventID)
	})
}

func (s *SignupService) loadParticipants(ctx context.Context, eventID int64) (*model.Participants, error) {
	if _, err := s.store.GetEvent(ctx, eventID, false); err != nil {
		return nil, err
	}
	attendances, err := s.store.ListAttendances(ctx, storage.AttendanceFilter{EventID: eventID})
	if err != nil {
		return nil, fmt.Errorf("list attendances: %w", err)
	}

	var userIDs []int64
	var teamAtt []model.Attendance
	userAtt := make(map[int64]model.Attendance)
	for _, a := range attendances {
		if a.Attender.IsUser() {
			userIDs = append(userIDs, a.Attender.UserID)
			userAtt[a.Attender.UserID] = a
		} else {
			teamAtt = append(teamAtt, a)
		}
	}

	out := &model.Participants{Users: []model.UserParticipant{}, Teams: make([]model.TeamParticipant, len(teamAtt))}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	if len(userIDs) > 0 {
		g.Go(func() error {
			users, err := s.store.ListUsers(gctx, storage.UserFilter{IDs: userIDs})
			if err != nil {
				return fmt.Errorf("list participants: %w", err)
			}
			for _, u := range users {
				out.Users = append(out.Users, model.UserParticipant{
					ID: u.ID, Name: u.Name, EJGClass: u.EJGClass, Attendance: userAtt[u.ID],
				})
			}
			return nil
		})
	}
	for i, a := range teamAtt {
		g.Go(func() error {
			t, err := s.store.GetTeam(gctx, a.Attender.TeamCode, true)
			if err != nil {
				return fmt.Errorf("get team %s: %w", a.Attender.TeamCode, err)
			}
			out.Teams[i] = model.TeamParticipant{Code: t.Code, Name: t.Name, Members: t.Members, Attendance: a}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// MyPresentations returns the presentation events userID is signed up for,
// directly or through a team they belong to.
func (s *SignupService) MyPresentations(ctx context.Context, userID int64) ([]model.Event, error) {
	key := fmt.Sprintf("events.mypresentations.%d", userID)
	tags := []string{cache.UserTag(userID), cache.TagEvents, cache.TagTeams}
	return cache.Remember(ctx, s.cache, key, 0, tags, func(ctx context.Context) ([]model.Event, error) {
		attendances, err := s.store.ListAttendances(ctx, storage.AttendanceFilter{UserID: userID})
		if err != nil {
			return nil, fmt.Errorf("list attendances: %w", err)
		}
		teams, err := s.store.ListUserTeams(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("list user teams: %w", err)
		}
		for _, t := range teams {
			if role, _ := t.RoleOf(userID); !role.Active() {
				continue
			}
			ta, err := s.store.ListAttendances(ctx, storage.AttendanceFilter{TeamCode: t.Code})
			if err != nil {
				return nil, fmt.Errorf("list team attendances: %w", err)
			}
			attendances = append(attendances, ta...)
		}

		ids := make([]int64, 0, len(attendances))
		for _, a := range attendances {
			ids = append(ids, a.EventID)
		}
		if len(ids) == 0 {
			return []model.Event{}, nil
		}
		return s.store.ListEvents(ctx, storage.EventFilter{IDs: ids, SlotKind: model.SlotPresentation})
	})
}
