package handler

import (
	"net/http"

	"github.com/ejgdev/e5n/internal/auth"
	"github.com/ejgdev/e5n/internal/model"
)

// ListEvents handles GET /events[?q=]
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.svc.Events.ListEvents(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// Presentations handles GET /events/presentations
// Returns the presentation slots, each with its events.
func (h *Handler) Presentations(w http.ResponseWriter, r *http.Request) {
	slots, err := h.svc.Events.Presentations(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, slots)
}

// MyPresentations handles GET /events/mine
func (h *Handler) MyPresentations(w http.ResponseWriter, r *http.Request) {
	events, err := h.svc.Signups.MyPresentations(r.Context(), currentUser(r).ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// GetEvent handles GET /events/{id}
func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	event, err := h.svc.Events.GetEvent(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, event)
}

// CreateEvent handles POST /events
func (h *Handler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	if err := auth.Admin(currentUser(r)); err != nil {
		writeError(w, r, err)
		return
	}
	var req model.CreateEventRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	event, err := h.svc.Events.CreateEvent(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, event)
}

// UpdateEvent handles PUT /events/{id}
func (h *Handler) UpdateEvent(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := auth.EditEvent(currentUser(r), id); err != nil {
		writeError(w, r, err)
		return
	}
	var req model.UpdateEventRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	event, err := h.svc.Events.UpdateEvent(r.Context(), id, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, event)
}

// DeleteEvent handles DELETE /events/{id}
func (h *Handler) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	if err := auth.Admin(currentUser(r)); err != nil {
		writeError(w, r, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.svc.Events.DeleteEvent(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RestoreEvent handles PUT /events/{id}/restore
func (h *Handler) RestoreEvent(w http.ResponseWriter, r *http.Request) {
	if err := auth.Admin(currentUser(r)); err != nil {
		writeError(w, r, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	event, err := h.svc.Events.RestoreEvent(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, event)
}

// CloseSignup handles PUT /events/{id}/close
func (h *Handler) CloseSignup(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := auth.EditEvent(currentUser(r), id); err != nil {
		writeError(w, r, err)
		return
	}
	event, err := h.svc.Events.CloseSignup(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, event)
}
