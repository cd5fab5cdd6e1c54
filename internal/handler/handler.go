// Package handler contains chi HTTP handlers that translate HTTP
// requests/responses to and from the service layer.
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/ejgdev/e5n/internal/apperr"
	"github.com/ejgdev/e5n/internal/auth"
	"github.com/ejgdev/e5n/internal/model"
	"github.com/ejgdev/e5n/internal/service"
)

// Handler holds all HTTP handlers of the signup API.
type Handler struct {
	svc  *service.Services
	auth *auth.Authenticator
}

// New constructs a Handler.
func New(svc *service.Services, a *auth.Authenticator) *Handler {
	return &Handler{svc: svc, auth: a}
}

// Router builds the chi router with the global middleware stack and every
// route. Reads are public; mutations need a bearer token.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(Logger)
	r.Use(CORS)
	r.Use(h.auth.Middleware(writeError))

	r.Get("/health", HealthCheck)

	// Public reads.
	r.Group(func(r chi.Router) {
		r.Get("/slots", h.ListSlots)
		r.Get("/slots/{id}", h.GetSlot)
		r.Get("/slots/{id}/events", h.SlotEvents)
		r.Get("/events", h.ListEvents)
		r.Get("/events/presentations", h.Presentations)
		r.Get("/events/{id}", h.GetEvent)
		r.Get("/events/{id}/participants", h.Participants)
		r.Get("/events/{id}/participants.csv", h.ParticipantsCSV)
		r.Get("/teams", h.ListTeams)
		r.Get("/teams/{code}", h.GetTeam)
		r.Get("/users/{id}", h.GetUser)
		r.Get("/users/{id}/teams", h.UserTeams)
		r.Get("/classes", h.Standings)
		r.Get("/classes.csv", h.StandingsCSV)
	})

	// Everything else needs a signed-in user; policies narrow it further.
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireUser(writeError))

		r.Post("/slots", h.CreateSlot)
		r.Put("/slots/{id}", h.UpdateSlot)
		r.Delete("/slots/{id}", h.DeleteSlot)
		r.Get("/slots/{id}/free-students", h.FreeStudents)
		r.Get("/slots/{id}/not-attending-students", h.NotAttendingStudents)
		r.Get("/slots/{id}/attending-students", h.AttendingStudents)

		r.Post("/events", h.CreateEvent)
		r.Get("/events/mine", h.MyPresentations)
		r.Put("/events/{id}", h.UpdateEvent)
		r.Delete("/events/{id}", h.DeleteEvent)
		r.Put("/events/{id}/restore", h.RestoreEvent)
		r.Put("/events/{id}/close", h.CloseSignup)
		r.Post("/events/{id}/signup", h.SignUp)
		r.Delete("/events/{id}/signup", h.Unsignup)
		r.Post("/events/{id}/attend", h.Attend)
		r.Put("/events/{id}/place", h.SetPlace)
		r.Put("/attendances/{id}/members", h.SetMemberPresence)

		r.Post("/teams", h.CreateTeam)
		r.Put("/teams/{code}", h.UpdateTeam)
		r.Delete("/teams/{code}", h.DeleteTeam)
		r.Put("/teams/{code}/restore", h.RestoreTeam)
		r.Post("/teams/{code}/promote", h.Promote)

		r.Get("/users", h.SearchUsers)
		r.Get("/users/me", h.Me)
		r.Put("/users/{id}", h.UpdateUser)

		r.Post("/classes/recalculate", h.Recalculate)
		r.Post("/classes/{label}/bonus", h.AddBonusPoints)
	})

	return r
}

// ─── Helper utilities ─────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders err as {"error", "code"} with the status of its code.
// Errors outside the taxonomy become a generic 500 and are logged.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	e, ok := apperr.As(err)
	if !ok {
		log.Printf("%s %s request_id=%s: %v", r.Method, r.URL.Path, chimiddleware.GetReqID(r.Context()), err)
		writeJSON(w, http.StatusInternalServerError, model.ErrorResponse{
			Error: "internal server error",
			Code:  string(apperr.CodeUnknown),
		})
		return
	}
	status := e.Code.HTTPStatus()
	if status >= http.StatusInternalServerError {
		log.Printf("%s %s request_id=%s: %v", r.Method, r.URL.Path, chimiddleware.GetReqID(r.Context()), err)
	}
	writeJSON(w, status, model.ErrorResponse{Error: e.Message, Code: string(e.Code)})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB limit
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperr.Wrap(err, apperr.CodeInvalidArgument, "invalid request body: "+err.Error())
	}
	return nil
}

// decodeOptionalJSON is decodeJSON for endpoints whose body may be empty.
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	err := decodeJSON(w, r, dst)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Invalid(name + " must be a positive integer")
	}
	return id, nil
}

// currentUser returns the signed-in user. Routes behind RequireUser always
// have one.
func currentUser(r *http.Request) *model.User {
	u, _ := auth.UserFrom(r.Context())
	return u
}

// ─── Health check ─────────────────────────────────────────────────────────────

// HealthCheck handles GET /health
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
