package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ejgdev/e5n/internal/auth"
	"github.com/ejgdev/e5n/internal/model"
)

// Standings handles GET /classes
// Returns the stored class totals, highest first.
func (h *Handler) Standings(w http.ResponseWriter, r *http.Request) {
	classes, err := h.svc.Scoring.Standings(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, classes)
}

type classRow struct {
	Rank   int     `csv:"rank"`
	Label  string  `csv:"class"`
	Points float64 `csv:"points"`
}

// StandingsCSV handles GET /classes.csv
func (h *Handler) StandingsCSV(w http.ResponseWriter, r *http.Request) {
	classes, err := h.svc.Scoring.Standings(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	rows := make([]classRow, len(classes))
	for i, c := range classes {
		rows[i] = classRow{Rank: i + 1, Label: c.Label, Points: c.Points}
	}
	writeCSV(w, r, "classes.csv", rows)
}

// Recalculate handles POST /classes/recalculate
func (h *Handler) Recalculate(w http.ResponseWriter, r *http.Request) {
	if err := auth.Admin(currentUser(r)); err != nil {
		writeError(w, r, err)
		return
	}
	classes, err := h.svc.Scoring.Recalculate(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, classes)
}

// AddBonusPoints handles POST /classes/{label}/bonus
func (h *Handler) AddBonusPoints(w http.ResponseWriter, r *http.Request) {
	if err := auth.Admin(currentUser(r)); err != nil {
		writeError(w, r, err)
		return
	}
	var req model.BonusPointsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	b, err := h.svc.Scoring.AddBonusPoints(r.Context(), chi.URLParam(r, "label"), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}
