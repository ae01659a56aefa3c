package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/automarketer/publisher/internal/core"
	"github.com/automarketer/publisher/internal/metrics"
)

func (s *Server) createScheduledPost(w http.ResponseWriter, r *http.Request) {
	owner := userID(r)
	var in struct {
		Content           string `json:"content"`
		ScheduledDatetime string `json:"scheduled_datetime"`
		Timezone          string `json:"timezone"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Content == "" || in.ScheduledDatetime == "" {
		writeError(w, http.StatusBadRequest, "invalid_body")
		return
	}
	loc := s.resolveZone(in.Timezone)
	at, err := parseScheduled(in.ScheduledDatetime, loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_scheduled_datetime")
		return
	}

	if _, err := s.Store.GetUser(r.Context(), owner); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			writeError(w, http.StatusNotFound, "user_not_found")
			return
		}
		s.internalError(w, r, err)
		return
	}

	p, err := s.Store.CreateScheduledPost(r.Context(), core.NewScheduledPost{
		OwnerID: owner, Content: in.Content, ScheduledAt: at, Timezone: loc.String(),
	})
	if err != nil {
		metrics.APISchedule.WithLabelValues("error").Inc()
		s.internalError(w, r, err)
		return
	}
	metrics.APISchedule.WithLabelValues("created").Inc()
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) listScheduledPosts(w http.ResponseWriter, r *http.Request) {
	var status *core.PostStatus
	if v := r.URL.Query().Get("status"); v != "" {
		st := core.PostStatus(v)
		switch st {
		case core.StatusPending, core.StatusPublished, core.StatusFailed:
		default:
			writeError(w, http.StatusBadRequest, "invalid_status")
			return
		}
		status = &st
	}
	items, err := s.Store.ListScheduledPosts(r.Context(), userID(r), status)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if items == nil {
		items = []core.ScheduledPost{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) getScheduledPost(w http.ResponseWriter, r *http.Request) {
	p, err := s.Store.GetScheduledPost(r.Context(), userID(r), chi.URLParam(r, "id"))
	if errors.Is(err, core.ErrNotFound) {
		writeError(w, http.StatusNotFound, "post_not_found")
		return
	}
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) updateScheduledPost(w http.ResponseWriter, r *http.Request) {
	owner, id := userID(r), chi.URLParam(r, "id")
	var in struct {
		Content           *string `json:"content"`
		ScheduledDatetime *string `json:"scheduled_datetime"`
		Timezone          *string `json:"timezone"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || (in.Content != nil && *in.Content == "") {
		writeError(w, http.StatusBadRequest, "invalid_body")
		return
	}

	existing, err := s.Store.GetScheduledPost(r.Context(), owner, id)
	if errors.Is(err, core.ErrNotFound) {
		writeError(w, http.StatusNotFound, "post_not_found")
		return
	}
	if err != nil {
		s.internalError(w, r, err)
		return
	}

	tzName := existing.Timezone
	if in.Timezone != nil && *in.Timezone != "" {
		tzName = *in.Timezone
	}
	loc := s.resolveZone(tzName)
	tz := loc.String()
	patch := core.ScheduledPostPatch{Content: in.Content, Timezone: &tz}
	if in.ScheduledDatetime != nil {
		at, err := parseScheduled(*in.ScheduledDatetime, loc)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_scheduled_datetime")
			return
		}
		patch.ScheduledAt = &at
	}

	p, err := s.Store.UpdateScheduledPost(r.Context(), owner, id, patch)
	switch {
	case errors.Is(err, core.ErrNotFound):
		writeError(w, http.StatusNotFound, "post_not_found")
		return
	case errors.Is(err, core.ErrAlreadyPublished):
		writeError(w, http.StatusConflict, "already_published")
		return
	case err != nil:
		metrics.APISchedule.WithLabelValues("error").Inc()
		s.internalError(w, r, err)
		return
	}
	if existing.Status == core.StatusFailed && p.Status == core.StatusPending {
		metrics.APISchedule.WithLabelValues("requeued").Inc()
	} else {
		metrics.APISchedule.WithLabelValues("updated").Inc()
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) deleteScheduledPost(w http.ResponseWriter, r *http.Request) {
	err := s.Store.DeleteScheduledPost(r.Context(), userID(r), chi.URLParam(r, "id"))
	if errors.Is(err, core.ErrNotFound) {
		writeError(w, http.StatusNotFound, "post_not_found")
		return
	}
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	metrics.APISchedule.WithLabelValues("deleted").Inc()
	w.WriteHeader(http.StatusNoContent)
}
