package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gocarina/gocsv"

	"github.com/ejgdev/e5n/internal/apperr"
	"github.com/ejgdev/e5n/internal/auth"
	"github.com/ejgdev/e5n/internal/model"
)

// signupTarget resolves the attender a signup request is about. An empty
// reference means the caller themself.
func (h *Handler) signupTarget(r *http.Request, raw string) (model.Attender, *model.Team, error) {
	if strings.TrimSpace(raw) == "" {
		return model.UserAttender(currentUser(r).ID), nil, nil
	}
	return h.svc.Signups.ResolveAttender(r.Context(), raw)
}

// SignUp handles POST /events/{id}/signup
// The body {"attender": ...} is optional; without it the caller signs up.
func (h *Handler) SignUp(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req model.AttenderRequest
	if err := decodeOptionalJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	who, team, err := h.signupTarget(r, req.Attender)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := auth.SignUp(currentUser(r), id, who, team); err != nil {
		writeError(w, r, err)
		return
	}
	a, err := h.svc.Signups.SignUp(r.Context(), id, who)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

// Unsignup handles DELETE /events/{id}/signup[?attender=&force=]
// The attender may also come as a {"attender": ...} body. Only administrators and organisers may force, which skips the redirect
// to the root parent event.
func (h *Handler) Unsignup(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	force := false
	if raw := q.Get("force"); raw != "" {
		if force, err = strconv.ParseBool(raw); err != nil {
			writeError(w, r, apperr.Invalid("force must be a boolean"))
			return
		}
	}
	req := model.AttenderRequest{Attender: q.Get("attender")}
	if req.Attender == "" {
		if err := decodeOptionalJSON(w, r, &req); err != nil {
			writeError(w, r, err)
			return
		}
	}
	who, team, err := h.signupTarget(r, req.Attender)
	if err != nil {
		writeError(w, r, err)
		return
	}
	u := currentUser(r)
	if err := auth.SignUp(u, id, who, team); err != nil {
		writeError(w, r, err)
		return
	}
	if force {
		if err := auth.EditEvent(u, id); err != nil {
			writeError(w, r, err)
			return
		}
	}
	if err := h.svc.Signups.Unsignup(r.Context(), id, who, force); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Attend handles POST /events/{id}/attend
// Toggles the presence of the attender, signing them up if needed.
func (h *Handler) Attend(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := auth.Scan(currentUser(r), id); err != nil {
		writeError(w, r, err)
		return
	}
	var req model.AttenderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	who, _, err := h.svc.Signups.ResolveAttender(r.Context(), req.Attender)
	if err != nil {
		writeError(w, r, err)
		return
	}
	a, err := h.svc.Signups.Attend(r.Context(), id, who)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// SetPlace handles PUT /events/{id}/place
func (h *Handler) SetPlace(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := auth.Scan(currentUser(r), id); err != nil {
		writeError(w, r, err)
		return
	}
	var req model.SetPlaceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	who, _, err := h.svc.Signups.ResolveAttender(r.Context(), req.Attender)
	if err != nil {
		writeError(w, r, err)
		return
	}
	a, err := h.svc.Signups.SetPlace(r.Context(), id, who, req.Place)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// SetMemberPresence handles PUT /attendances/{id}/members
func (h *Handler) SetMemberPresence(w http.ResponseWriter, r *http.Request) {
	attendanceID := chi.URLParam(r, "id")
	a, err := h.svc.Signups.Attendance(r.Context(), attendanceID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := auth.Scan(currentUser(r), a.EventID); err != nil {
		writeError(w, r, err)
		return
	}
	var req model.MemberPresenceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	rows, err := h.svc.Signups.SetMemberPresence(r.Context(), attendanceID, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// Participants handles GET /events/{id}/participants
func (h *Handler) Participants(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	p, err := h.svc.Signups.Participants(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// participantRow is one line of the participants export.
type participantRow struct {
	Kind     string `csv:"kind"`
	Ref      string `csv:"attender"`
	Name     string `csv:"name"`
	Class    string `csv:"class"`
	Members  int    `csv:"members"`
	Present  bool   `csv:"present"`
	Place    string `csv:"place"`
	SignedUp string `csv:"signed_up_at"`
}

func placeString(p *int) string {
	if p == nil {
		return ""
	}
	return strconv.Itoa(*p)
}

// ParticipantsCSV handles GET /events/{id}/participants.csv
func (h *Handler) ParticipantsCSV(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	p, err := h.svc.Signups.Participants(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	rows := make([]participantRow, 0, len(p.Users)+len(p.Teams))
	for _, u := range p.Users {
		rows = append(rows, participantRow{
			Kind:     "user",
			Ref:      strconv.FormatInt(u.ID, 10),
			Name:     u.Name,
			Class:    u.EJGClass,
			Members:  1,
			Present:  u.Attendance.IsPresent,
			Place:    placeString(u.Attendance.Place),
			SignedUp: u.Attendance.CreatedAt.Format("2006-01-02 15:04"),
		})
	}
	for _, t := range p.Teams {
		rows = append(rows, participantRow{
			Kind:     "team",
			Ref:      t.Code,
			Name:     t.Name,
			Members:  len(t.Members),
			Present:  t.Attendance.IsPresent,
			Place:    placeString(t.Attendance.Place),
			SignedUp: t.Attendance.CreatedAt.Format("2006-01-02 15:04"),
		})
	}
	writeCSV(w, r, "participants-"+strconv.FormatInt(id, 10)+".csv", rows)
}

func writeCSV(w http.ResponseWriter, r *http.Request, filename string, rows any) {
	out, err := gocsv.MarshalBytes(rows)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}
