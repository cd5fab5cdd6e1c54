package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ejgdev/e5n/internal/auth"
	"github.com/ejgdev/e5n/internal/model"
)

// ListTeams handles GET /teams
func (h *Handler) ListTeams(w http.ResponseWriter, r *http.Request) {
	teams, err := h.svc.Teams.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, teams)
}

// GetTeam handles GET /teams/{code}
func (h *Handler) GetTeam(w http.ResponseWriter, r *http.Request) {
	team, err := h.svc.Teams.Get(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, team)
}

// CreateTeam handles POST /teams
// The caller becomes the leader of the new team.
func (h *Handler) CreateTeam(w http.ResponseWriter, r *http.Request) {
	var req model.CreateTeamRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	team, err := h.svc.Teams.Create(r.Context(), currentUser(r).ID, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, team)
}

// manageable loads a team and checks that the caller may manage it.
func (h *Handler) manageable(r *http.Request, withDeleted bool) (*model.Team, error) {
	code := chi.URLParam(r, "code")
	var (
		team *model.Team
		err  error
	)
	if withDeleted {
		team, err = h.svc.Teams.GetWithDeleted(r.Context(), code)
	} else {
		team, err = h.svc.Teams.Get(r.Context(), code)
	}
	if err != nil {
		return nil, err
	}
	if err := auth.ManageTeam(currentUser(r), team); err != nil {
		return nil, err
	}
	return team, nil
}

// UpdateTeam handles PUT /teams/{code}
func (h *Handler) UpdateTeam(w http.ResponseWriter, r *http.Request) {
	team, err := h.manageable(r, false)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req model.UpdateTeamRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	team, err = h.svc.Teams.Update(r.Context(), team.Code, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, team)
}

// DeleteTeam handles DELETE /teams/{code}
func (h *Handler) DeleteTeam(w http.ResponseWriter, r *http.Request) {
	team, err := h.manageable(r, false)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.svc.Teams.Delete(r.Context(), team.Code); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RestoreTeam handles PUT /teams/{code}/restore
func (h *Handler) RestoreTeam(w http.ResponseWriter, r *http.Request) {
	team, err := h.manageable(r, true)
	if err != nil {
		writeError(w, r, err)
		return
	}
	team, err = h.svc.Teams.Restore(r.Context(), team.Code)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, team)
}

// Promote handles POST /teams/{code}/promote
// Moves a user one step through invited, member and leader.
func (h *Handler) Promote(w http.ResponseWriter, r *http.Request) {
	var req model.PromoteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	team, err := h.svc.Teams.Promote(r.Context(), currentUser(r), chi.URLParam(r, "code"), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, team)
}
