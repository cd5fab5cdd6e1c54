package handler

import (
	"context"
	"net/http"

	"github.com/ejgdev/e5n/internal/auth"
	"github.com/ejgdev/e5n/internal/model"
)

// ListSlots handles GET /slots
func (h *Handler) ListSlots(w http.ResponseWriter, r *http.Request) {
	slots, err := h.svc.Events.ListSlots(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, slots)
}

// GetSlot handles GET /slots/{id}
func (h *Handler) GetSlot(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	slot, err := h.svc.Events.GetSlot(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, slot)
}

// CreateSlot handles POST /slots
func (h *Handler) CreateSlot(w http.ResponseWriter, r *http.Request) {
	if err := auth.Admin(currentUser(r)); err != nil {
		writeError(w, r, err)
		return
	}
	var req model.CreateSlotRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	slot, err := h.svc.Events.CreateSlot(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, slot)
}

// UpdateSlot handles PUT /slots/{id}
func (h *Handler) UpdateSlot(w http.ResponseWriter, r *http.Request) {
	if err := auth.Admin(currentUser(r)); err != nil {
		writeError(w, r, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req model.UpdateSlotRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	slot, err := h.svc.Events.UpdateSlot(r.Context(), id, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, slot)
}

// DeleteSlot handles DELETE /slots/{id}
// A slot that still has live events is refused.
func (h *Handler) DeleteSlot(w http.ResponseWriter, r *http.Request) {
	if err := auth.Admin(currentUser(r)); err != nil {
		writeError(w, r, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.svc.Events.DeleteSlot(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SlotEvents handles GET /slots/{id}/events[?q=]
func (h *Handler) SlotEvents(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	events, err := h.svc.Events.SlotEvents(r.Context(), id, r.URL.Query().Get("q"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

type studentList func(ctx context.Context, slotID int64) ([]model.User, error)

// students serves one of the per-slot student lists to staff.
func (h *Handler) students(list studentList) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := auth.Staff(currentUser(r)); err != nil {
			writeError(w, r, err)
			return
		}
		id, err := pathID(r, "id")
		if err != nil {
			writeError(w, r, err)
			return
		}
		users, err := list(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, users)
	}
}

// FreeStudents handles GET /slots/{id}/free-students
func (h *Handler) FreeStudents(w http.ResponseWriter, r *http.Request) {
	h.students(h.svc.Events.FreeStudents)(w, r)
}

// NotAttendingStudents handles GET /slots/{id}/not-attending-students
func (h *Handler) NotAttendingStudents(w http.ResponseWriter, r *http.Request) {
	h.students(h.svc.Events.NotAttendingStudents)(w, r)
}

// AttendingStudents handles GET /slots/{id}/attending-students
func (h *Handler) AttendingStudents(w http.ResponseWriter, r *http.Request) {
	h.students(h.svc.Events.AttendingStudents)(w, r)
}
