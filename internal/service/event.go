package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/ejgdev/e5n/internal/apperr"
	"github.com/ejgdev/e5n/internal/cache"
	"github.com/ejgdev/e5n/internal/model"
	"github.com/ejgdev/e5n/internal/storage"
)

// DefaultStudentListTTL is how long free and not-attending student lists
// are served from cache.
const DefaultStudentListTTL = 60 * time.Second

// EventService manages slots and events.
type EventService struct {
	store      storage.Store
	cache      *cache.Cache
	now        func() time.Time
	studentTTL time.Duration
}

// NewEventService constructs an EventService. A zero studentTTL uses
// DefaultStudentListTTL.
func NewEventService(store storage.Store, c *cache.Cache, studentTTL time.Duration) *EventService {
	if studentTTL <= 0 {
		studentTTL = DefaultStudentListTTL
	}
	return &EventService{store: store, cache: c, now: time.Now, studentTTL: studentTTL}
}

// ─── Slots ────────────────────────────────────────────────────────────────────

// CreateSlot validates req and stores a new slot.
func (s *EventService) CreateSlot(ctx context.Context, req model.CreateSlotRequest) (*model.Slot, error) {
	req.Name = strings.TrimSpace(req.Name)
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	slot := &model.Slot{Name: req.Name, StartsAt: req.StartsAt, EndsAt: req.EndsAt, Kind: req.Kind}
	if err := s.store.CreateSlot(ctx, slot); err != nil {
		return nil, err
	}
	s.cache.InvalidateSlot(slot.ID)
	log.Printf("slot created id=%d", slot.ID)
	return slot, nil
}

// UpdateSlot applies the non-nil fields of req.
func (s *EventService) UpdateSlot(ctx context.Context, id int64, req model.UpdateSlotRequest) (*model.Slot, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	slot, err := s.store.GetSlot(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Name != nil {
		slot.Name = strings.TrimSpace(*req.Name)
	}
	if req.StartsAt != nil {
		slot.StartsAt = *req.StartsAt
	}
	if req.EndsAt != nil {
		slot.EndsAt = *req.EndsAt
	}
	if req.Kind != nil {
		slot.Kind = *req.Kind
	}
	if !slot.EndsAt.After(slot.StartsAt) {
		return nil, apperr.Invalid("slot must end after it starts")
	}
	if err := s.store.UpdateSlot(ctx, slot); err != nil {
		return nil, err
	}
	s.cache.InvalidateSlot(id)
	return slot, nil
}

// DeleteSlot removes a slot without events.
func (s *EventService) DeleteSlot(ctx context.Context, id int64) error {
	if err := s.store.DeleteSlot(ctx, id); err != nil {
		return err
	}
	s.cache.InvalidateSlot(id)
	log.Printf("slot deleted id=%d", id)
	return nil
}

// GetSlot returns one slot.
func (s *EventService) GetSlot(ctx context.Context, id int64) (*model.Slot, error) {
	return s.store.GetSlot(ctx, id)
}

// ListSlots returns every slot.
func (s *EventService) ListSlots(ctx context.Context) ([]model.Slot, error) {
	return cache.Remember(ctx, s.cache, "slots.all", 0, []string{cache.TagSlots}, func(ctx context.Context) ([]model.Slot, error) {
		slots, err := s.store.ListSlots(ctx)
		if slots == nil && err == nil {
			slots = []model.Slot{}
		}
		return slots, err
	})
}

// slotPresence collects, per student, whether they are signed up for an
// event in the slot and whether they were present at any of them. Team
// attendances count for each member row.
type slotPresence struct {
	signed  map[int64]bool
	present map[int64]bool
}

func (s *EventService) loadSlotPresence(ctx context.Context, slotID int64) (*slotPresence, error) {
	if _, err := s.store.GetSlot(ctx, slotID); err != nil {
		return nil, err
	}
	attendances, err := s.store.ListAttendances(ctx, storage.AttendanceFilter{SlotID: slotID})
	if err != nil {
		return nil, fmt.Errorf("list slot attendances: %w", err)
	}
	p := &slotPresence{signed: make(map[int64]bool), present: make(map[int64]bool)}
	for _, a := range attendances {
		if a.Attender.IsUser() {
			p.signed[a.Attender.UserID] = true
			if a.IsPresent {
				p.present[a.Attender.UserID] = true
			}
			continue
		}
		for _, m := range a.Members {
			p.signed[m.UserID] = true
			if m.IsPresent {
				p.present[m.UserID] = true
			}
		}
	}
	return p, nil
}

func (s *EventService) students(ctx context.Context, keep func(id int64) bool) ([]model.User, error) {
	all, err := s.store.ListUsers(ctx, storage.UserFilter{Permission: model.PermStudent})
	if err != nil {
		return nil, fmt.Errorf("list students: %w", err)
	}
	out := []model.User{}
	for _, u := range all {
		if keep(u.ID) {
			out = append(out, u)
		}
	}
	return out, nil
}

// FreeStudents returns students with no signup on any event of the slot.
func (s *EventService) FreeStudents(ctx context.Context, slotID int64) ([]model.User, error) {
	key := fmt.Sprintf("freeStudents%d", slotID)
	tags := []string{cache.SlotTag(slotID), cache.TagUsers}
	return cache.Remember(ctx, s.cache, key, s.studentTTL, tags, func(ctx context.Context) ([]model.User, error) {
		p, err := s.loadSlotPresence(ctx, slotID)
		if err != nil {
			return nil, err
		}
		return s.students(ctx, func(id int64) bool { return !p.signed[id] })
	})
}

// NotAttendingStudents returns students signed up in the slot who were
// not present at any of their events.
func (s *EventService) NotAttendingStudents(ctx context.Context, slotID int64) ([]model.User, error) {
	key := fmt.Sprintf("notAttendingStudents%d", slotID)
	tags := []string{cache.SlotTag(slotID), cache.TagUsers}
	return cache.Remember(ctx, s.cache, key, s.studentTTL, tags, func(ctx context.Context) ([]model.User, error) {
		p, err := s.loadSlotPresence(ctx, slotID)
		if err != nil {
			return nil, err
		}
		return s.students(ctx, func(id int64) bool { return p.signed[id] && !p.present[id] })
	})
}

// AttendingStudents returns students present at an event of the slot.
func (s *EventService) AttendingStudents(ctx context.Context, slotID int64) ([]model.User, error) {
	p, err := s.loadSlotPresence(ctx, slotID)
	if err != nil {
		return nil, err
	}
	return s.students(ctx, func(id int64) bool { return p.present[id] })
}

// ─── Events ───────────────────────────────────────────────────────────────────

// normalise fits e into slot and applies the signup kind rules: events
// without signups have no capacity or deadline, the others default their
// deadline to the slot start.
func normalise(e *model.Event, slot *model.Slot) error {
	e.StartsAt, e.EndsAt = slot.Clamp(e.StartsAt, e.EndsAt)
	if !e.EndsAt.After(e.StartsAt) {
		return apperr.Invalid("event must end after it starts")
	}
	if e.SignupKind == "" {
		e.SignupKind = model.SignupNone
	}
	if e.SignupKind == model.SignupNone {
		e.Capacity = nil
		e.SignupDeadline = nil
	} else if e.SignupDeadline == nil {
		deadline := slot.StartsAt
		e.SignupDeadline = &deadline
	}
	if e.DirectChild != nil && *e.DirectChild == e.ID {
		return apperr.Invalid("an event cannot be its own child")
	}
	return nil
}

func (s *EventService) checkEventRef(ctx context.Context, id *int64, field string) error {
	if id == nil {
		return nil
	}
	if _, err := s.store.GetEvent(ctx, *id, true); err != nil {
		if errors.Is(err, apperr.ErrResourceMissing) {
			return apperr.Invalid(field + " does not exist")
		}
		return err
	}
	return nil
}

func (s *EventService) slotFor(ctx context.Context, id int64) (*model.Slot, error) {
	slot, err := s.store.GetSlot(ctx, id)
	if errors.Is(err, apperr.ErrResourceMissing) {
		return nil, apperr.Invalid("slot_id does not exist")
	}
	return slot, err
}

// CreateEvent validates req and stores a new event.
func (s *EventService) CreateEvent(ctx context.Context, req model.CreateEventRequest) (*model.Event, error) {
	req.Name = strings.TrimSpace(req.Name)
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	slot, err := s.slotFor(ctx, req.SlotID)
	if err != nil {
		return nil, err
	}
	e := &model.Event{
		SlotID:         req.SlotID,
		Name:           req.Name,
		Description:    req.Description,
		Organiser:      req.Organiser,
		StartsAt:       req.StartsAt,
		EndsAt:         req.EndsAt,
		Capacity:       req.Capacity,
		SignupDeadline: req.SignupDeadline,
		SignupKind:     req.SignupKind,
		Weight:         req.Weight,
		DirectChild:    req.DirectChild,
		RootParent:     req.RootParent,
	}
	if e.Weight == 0 {
		e.Weight = 1
	}
	if err := normalise(e, slot); err != nil {
		return nil, err
	}
	if err := s.checkEventRef(ctx, e.DirectChild, "direct_child"); err != nil {
		return nil, err
	}
	if err := s.checkEventRef(ctx, e.RootParent, "root_parent"); err != nil {
		return nil, err
	}
	if err := s.store.CreateEvent(ctx, e); err != nil {
		return nil, err
	}
	s.cache.InvalidateEvent(e.ID, e.SlotID)
	log.Printf("event created id=%d slot=%d", e.ID, e.SlotID)
	return e, nil
}

// UpdateEvent applies the non-nil fields of req.
func (s *EventService) UpdateEvent(ctx context.Context, id int64, req model.UpdateEventRequest) (*model.Event, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	e, err := s.store.GetEvent(ctx, id, false)
	if err != nil {
		return nil, err
	}
	oldSlot := e.SlotID

	if req.SlotID != nil {
		e.SlotID = *req.SlotID
	}
	if req.Name != nil {
		e.Name = strings.TrimSpace(*req.Name)
	}
	if req.Description != nil {
		e.Description = *req.Description
	}
	if req.Organiser != nil {
		e.Organiser = *req.Organiser
	}
	if req.StartsAt != nil {
		e.StartsAt = *req.StartsAt
	}
	if req.EndsAt != nil {
		e.EndsAt = *req.EndsAt
	}
	if req.Capacity != nil {
		e.Capacity = req.Capacity
	}
	if req.ClearCapacity {
		e.Capacity = nil
	}
	if req.SignupDeadline != nil {
		e.SignupDeadline = req.SignupDeadline
	}
	if req.SignupKind != nil {
		e.SignupKind = *req.SignupKind
	}
	if req.Weight != nil {
		e.Weight = *req.Weight
	}
	if req.DirectChild != nil {
		e.DirectChild = req.DirectChild
	}
	if req.RootParent != nil {
		e.RootParent = req.RootParent
	}

	slot, err := s.slotFor(ctx, e.SlotID)
	if err != nil {
		return nil, err
	}
	if err := normalise(e, slot); err != nil {
		return nil, err
	}
	if err := s.checkEventRef(ctx, req.DirectChild, "direct_child"); err != nil {
		return nil, err
	}
	if err := s.checkEventRef(ctx, req.RootParent, "root_parent"); err != nil {
		return nil, err
	}
	if err := s.store.UpdateEvent(ctx, e); err != nil {
		return nil, err
	}
	s.cache.InvalidateEvent(id, e.SlotID)
	if oldSlot != e.SlotID {
		s.cache.InvalidateSlot(oldSlot)
	}
	return e, nil
}

// GetEvent returns a live event.
func (s *EventService) GetEvent(ctx context.Context, id int64) (*model.Event, error) {
	key := fmt.Sprintf("events.%d", id)
	return cache.Remember(ctx, s.cache, key, 0, []string{cache.EventTag(id)}, func(ctx context.Context) (*model.Event, error) {
		return s.store.GetEvent(ctx, id, false)
	})
}

// ListEvents returns live events, optionally filtered by a name substring.
// Searches are not cached.
func (s *EventService) ListEvents(ctx context.Context, q string) ([]model.Event, error) {
	q = strings.TrimSpace(q)
	if q != "" {
		return s.listEvents(ctx, storage.EventFilter{Query: q})
	}
	return cache.Remember(ctx, s.cache, "events.all", 0, []string{cache.TagEvents}, func(ctx context.Context) ([]model.Event, error) {
		return s.listEvents(ctx, storage.EventFilter{})
	})
}

// SlotEvents returns the live events of a slot, optionally filtered by a
// name substring.
func (s *EventService) SlotEvents(ctx context.Context, slotID int64, q string) ([]model.Event, error) {
	if _, err := s.store.GetSlot(ctx, slotID); err != nil {
		return nil, err
	}
	q = strings.TrimSpace(q)
	if q != "" {
		return s.listEvents(ctx, storage.EventFilter{SlotID: slotID, Query: q})
	}
	key := fmt.Sprintf("events.slot.%d", slotID)
	tags := []string{cache.SlotTag(slotID), cache.TagEvents}
	return cache.Remember(ctx, s.cache, key, 0, tags, func(ctx context.Context) ([]model.Event, error) {
		return s.listEvents(ctx, storage.EventFilter{SlotID: slotID})
	})
}

func (s *EventService) listEvents(ctx context.Context, f storage.EventFilter) ([]model.Event, error) {
	events, err := s.store.ListEvents(ctx, f)
	if err != nil {
		return nil, err
	}
	if events == nil {
		events = []model.Event{}
	}
	return events, nil
}

// Presentations returns the presentation slots with their events.
func (s *EventService) Presentations(ctx context.Context) ([]model.SlotWithEvents, error) {
	tags := []string{cache.TagEvents, cache.TagSlots}
	return cache.Remember(ctx, s.cache, "events.presentations", 0, tags, func(ctx context.Context) ([]model.SlotWithEvents, error) {
		slots, err := s.store.ListSlots(ctx)
		if err != nil {
			return nil, err
		}
		events, err := s.store.ListEvents(ctx, storage.EventFilter{SlotKind: model.SlotPresentation})
		if err != nil {
			return nil, err
		}
		out := []model.SlotWithEvents{}
		for _, slot := range slots {
			if slot.Kind != model.SlotPresentation {
				continue
			}
			sw := model.SlotWithEvents{Slot: slot, Events: []model.Event{}}
			for _, e := range events {
				if e.SlotID == slot.ID {
					sw.Events = append(sw.Events, e)
				}
			}
			out = append(out, sw)
		}
		return out, nil
	})
}

// DeleteEvent soft-deletes a live event.
func (s *EventService) DeleteEvent(ctx context.Context, id int64) error {
	e, err := s.store.GetEvent(ctx, id, false)
	if err != nil {
		return err
	}
	now := s.now().UTC()
	if err := s.store.SetEventDeleted(ctx, id, &now); err != nil {
		return err
	}
	s.cache.InvalidateEvent(id, e.SlotID)
	log.Printf("event deleted id=%d", id)
	return nil
}

// RestoreEvent brings back a soft-deleted event.
func (s *EventService) RestoreEvent(ctx context.Context, id int64) (*model.Event, error) {
	e, err := s.store.GetEvent(ctx, id, true)
	if err != nil {
		return nil, err
	}
	if e.DeletedAt == nil {
		return nil, apperr.New(apperr.CodeNotAllowed, "event is not deleted")
	}
	if err := s.store.SetEventDeleted(ctx, id, nil); err != nil {
		return nil, err
	}
	e.DeletedAt = nil
	s.cache.InvalidateEvent(id, e.SlotID)
	return e, nil
}

// CloseSignup moves the signup deadline of a live event to now.
func (s *EventService) CloseSignup(ctx context.Context, id int64) (*model.Event, error) {
	e, err := s.store.GetEvent(ctx, id, false)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	e.SignupDeadline = &now
	if err := s.store.UpdateEvent(ctx, e); err != nil {
		return nil, err
	}
	s.cache.InvalidateEvent(id, e.SlotID)
	log.Printf("event signup closed id=%d", id)
	return e, nil
}
