package model

import "time"

// CreateSlotRequest is the payload for creating a slot.
type CreateSlotRequest struct {
	Name     string    `json:"name" validate:"required,max=255"`
	StartsAt time.Time `json:"starts_at" validate:"required"`
	EndsAt   time.Time `json:"ends_at" validate:"required,gtfield=StartsAt"`
	Kind     SlotKind  `json:"slot_type" validate:"required,oneof=presentation program"`
}

// UpdateSlotRequest lists the slot fields that may change. Nil keeps the
// current value.
type UpdateSlotRequest struct {
	Name     *string    `json:"name" validate:"omitempty,min=1,max=255"`
	StartsAt *time.Time `json:"starts_at"`
	EndsAt   *time.Time `json:"ends_at"`
	Kind     *SlotKind  `json:"slot_type" validate:"omitempty,oneof=presentation program"`
}

// CreateEventRequest is the payload for creating an event.
type CreateEventRequest struct {
	SlotID         int64      `json:"slot_id" validate:"required,gt=0"`
	Name           string     `json:"name" validate:"required,max=255"`
	Description    string     `json:"description" validate:"max=10000"`
	Organiser      string     `json:"organiser" validate:"max=255"`
	StartsAt       time.Time  `json:"starts_at"`
	EndsAt         time.Time  `json:"ends_at"`
	Capacity       *int       `json:"capacity" validate:"omitempty,gte=0"`
	SignupDeadline *time.Time `json:"signup_deadline"`
	SignupKind     SignupKind `json:"signup_type" validate:"omitempty,oneof=individual team both none"`
	Weight         int        `json:"weight" validate:"gte=0"`
	DirectChild    *int64     `json:"direct_child" validate:"omitempty,gt=0"`
	RootParent     *int64     `json:"root_parent" validate:"omitempty,gt=0"`
}

// UpdateEventRequest lists the event fields that may change. Nil keeps the
// current value; ClearCapacity makes the event unlimited.
type UpdateEventRequest struct {
	SlotID         *int64      `json:"slot_id" validate:"omitempty,gt=0"`
	Name           *string     `json:"name" validate:"omitempty,min=1,max=255"`
	Description    *string     `json:"description" validate:"omitempty,max=10000"`
	Organiser      *string     `json:"organiser" validate:"omitempty,max=255"`
	StartsAt       *time.Time  `json:"starts_at"`
	EndsAt         *time.Time  `json:"ends_at"`
	Capacity       *int        `json:"capacity" validate:"omitempty,gte=0"`
	ClearCapacity  bool        `json:"clear_capacity"`
	SignupDeadline *time.Time  `json:"signup_deadline"`
	SignupKind     *SignupKind `json:"signup_type" validate:"omitempty,oneof=individual team both none"`
	Weight         *int        `json:"weight" validate:"omitempty,gte=0"`
	DirectChild    *int64      `json:"direct_child" validate:"omitempty,gt=0"`
	RootParent     *int64      `json:"root_parent" validate:"omitempty,gt=0"`
}

// CreateTeamRequest is the payload for creating a team.
type CreateTeamRequest struct {
	Code string `json:"code" validate:"required,min=2,max=32,alphanum,teamcode"`
	Name string `json:"name" validate:"required,max=255"`
}

// UpdateTeamRequest lists the team fields that may change.
type UpdateTeamRequest struct {
	Name *string `json:"name" validate:"omitempty,min=1,max=255"`
}

// UpdateUserRequest lists the user fields that may change.
type UpdateUserRequest struct {
	Name   *string `json:"name" validate:"omitempty,min=1,max=255"`
	ImgURL *string `json:"img_url" validate:"omitempty,url"`
	E5Code *string `json:"e5code" validate:"omitempty,len=13"`
}

// AttenderRequest carries a raw attender reference (user id, e5code or
// team code).
type AttenderRequest struct {
	Attender string `json:"attender" validate:"required"`
}

// PromoteRequest drives the team membership state machine.
type PromoteRequest struct {
	UserID  int64 `json:"userId" validate:"required,gt=0"`
	Promote bool  `json:"promote"`
}

// MemberPresence sets one team member's presence.
type MemberPresence struct {
	UserID    int64 `json:"user_id" validate:"required,gt=0"`
	IsPresent bool  `json:"is_present"`
}

// MemberPresenceRequest sets presence for several team members at once.
type MemberPresenceRequest struct {
	Members []MemberPresence `json:"memberAttendances" validate:"required,dive"`
}

// SetPlaceRequest records the result of an attender. A nil place clears it.
type SetPlaceRequest struct {
	Attender string `json:"attender" validate:"required"`
	Place    *int   `json:"place" validate:"omitempty,gt=0"`
}

// BonusPointsRequest grants manual points to a class.
type BonusPointsRequest struct {
	EventCode string  `json:"event_code" validate:"required,max=32"`
	Points    float64 `json:"points"`
}

// ErrorResponse is a standard JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
