package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/automarketer/publisher/internal/core"
)

type Server struct {
	Store     *core.Store
	Log       zerolog.Logger
	DefaultTZ *time.Location
	// Scheduler is optional; set it when the loop shares this process.
	Scheduler Runner
}

func NewServer(store *core.Store, log zerolog.Logger, defaultTZ string) *Server {
	loc, err := time.LoadLocation(defaultTZ)
	if err != nil {
		if loc, err = time.LoadLocation(core.DefaultTimezone); err != nil {
			loc = time.UTC
		}
	}
	return &Server{Store: store, Log: log, DefaultTZ: loc}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, requestLogger(s.Log), middleware.Recoverer, instrument)

	s.mountHealth(r)
	s.mountMetrics(r)
	s.mountDocs(r)

	r.Post("/users", s.createUser)
	r.Put("/users/{id}/linkedin", s.setLinkedIn)

	r.Route("/posts/scheduled", func(r chi.Router) {
		r.Use(requireUser)
		r.Post("/", s.createScheduledPost)
		r.Get("/", s.listScheduledPosts)
		r.Get("/{id}", s.getScheduledPost)
		r.Put("/{id}", s.updateScheduledPost)
		r.Delete("/{id}", s.deleteScheduledPost)
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

// internalError logs err and answers 500 without leaking details.
func (s *Server) internalError(w http.ResponseWriter, r *http.Request, err error) {
	s.Log.Error().Err(err).Str("req_id", middleware.GetReqID(r.Context())).Msg("request failed")
	writeError(w, http.StatusInternalServerError, "internal_error")
}

type ctxKey int

const userIDKey ctxKey = 0

// requireUser reads the caller from X-User-ID.
func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uid := r.Header.Get("X-User-ID")
		if uid == "" {
			writeError(w, http.StatusBadRequest, "missing_X-User-ID")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userIDKey, uid)))
	})
}

func userID(r *http.Request) string {
	uid, _ := r.Context().Value(userIDKey).(string)
	return uid
}

func (s *Server) createUser(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Email == "" {
		writeError(w, http.StatusBadRequest, "invalid_body")
		return
	}
	id, err := s.Store.CreateUser(r.Context(), in.Email)
	if errors.Is(err, core.ErrEmailTaken) {
		writeError(w, http.StatusConflict, "email_taken")
		return
	}
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id, "email": in.Email})
}

// setLinkedIn stores the credential produced by the OAuth callback.
func (s *Server) setLinkedIn(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var in struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int64  `json:"expires_in"`
		MemberURN    string `json:"member_urn"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.AccessToken == "" || in.ExpiresIn < 0 {
		writeError(w, http.StatusBadRequest, "invalid_body")
		return
	}
	cred := core.Credential{AccessToken: in.AccessToken, RefreshToken: in.RefreshToken, MemberURN: in.MemberURN}
	if in.ExpiresIn > 0 {
		exp := time.Now().UTC().Add(time.Duration(in.ExpiresIn) * time.Second)
		cred.ExpiresAt = &exp
	}
	err := s.Store.SetLinkedInCredential(r.Context(), id, cred)
	if errors.Is(err, core.ErrNotFound) {
		writeError(w, http.StatusNotFound, "user_not_found")
		return
	}
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "expires_at": cred.ExpiresAt})
}
