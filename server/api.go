package main

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gorilla/mux"

	"github.com/mattermost/mattermost-raid-relay/server/history"
)

// statusResponse is returned by GET /api/v1/status.
type statusResponse struct {
	Version  string          `json:"version"`
	Locale   string          `json:"locale"`
	Members  int             `json:"members"`
	Hashtags int             `json:"hashtags"`
	Backends []backendStatus `json:"backends"`
}

type backendStatus struct {
	ID                  string     `json:"id"`
	Name                string     `json:"name"`
	Type                string     `json:"type"`
	Enabled             bool       `json:"enabled"`
	LastPoll            *time.Time `json:"last_poll,omitempty"`
	LastPollAgo         string     `json:"last_poll_ago,omitempty"`
	LastSuccess         *time.Time `json:"last_success,omitempty"`
	LastSuccessAgo      string     `json:"last_success_ago,omitempty"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastError           string     `json:"last_error,omitempty"`
	Cursor              int64      `json:"cursor"`
}

type historyResponse struct {
	Entries []history.Entry `json:"entries"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// newRouter builds the status API. /api/v1 routes require the API token when one is set.
func (r *Relay) newRouter() *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/healthz", r.handleHealth).Methods(http.MethodGet)
	router.Handle("/metrics", r.metrics.Handler()).Methods(http.MethodGet)

	apiRouter := router.PathPrefix("/api/v1").Subrouter()
	apiRouter.Use(r.AuthorizationRequired)
	apiRouter.HandleFunc("/status", r.handleStatus).Methods(http.MethodGet)
	apiRouter.HandleFunc("/history", r.handleHistory).Methods(http.MethodGet)

	return router
}

// AuthorizationRequired rejects requests without the configured bearer token.
func (r *Relay) AuthorizationRequired(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		token := r.getConfiguration().APIToken
		if token == "" {
			next.ServeHTTP(w, req)
			return
		}

		provided, ok := strings.CutPrefix(req.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(provided), []byte(token)) != 1 {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "Not authorized"})
			return
		}

		next.ServeHTTP(w, req)
	})
}

func (r *Relay) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

func (r *Relay) handleStatus(w http.ResponseWriter, _ *http.Request) {
	config := r.getConfiguration()
	now := r.clock.Now()

	response := statusResponse{
		Version:  version,
		Locale:   string(config.locale()),
		Backends: []backendStatus{},
	}

	if r.directory != nil {
		response.Members = r.directory.MemberCount()
		response.Hashtags = r.directory.HashtagCount()
	}

	if r.registry != nil {
		for _, snapshot := range r.registry.Snapshots() {
			status := backendStatus{
				ID:                  snapshot.ID,
				Name:                snapshot.Name,
				Type:                snapshot.Type,
				Enabled:             snapshot.Status.Enabled,
				ConsecutiveFailures: snapshot.Status.ConsecutiveFailures,
				LastError:           snapshot.Status.LastError,
				Cursor:              snapshot.Status.Cursor,
			}
			status.LastPoll, status.LastPollAgo = relativeTime(snapshot.Status.LastPollTime, now)
			status.LastSuccess, status.LastSuccessAgo = relativeTime(snapshot.Status.LastSuccessTime, now)
			response.Backends = append(response.Backends, status)
		}
	}

	writeJSON(w, http.StatusOK, response)
}

func (r *Relay) handleHistory(w http.ResponseWriter, req *http.Request) {
	if r.history == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "delivery history is disabled"})
		return
	}

	limit := history.DefaultLimit
	if raw := req.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = parsed
	}

	entries, err := r.history.Recent(req.Context(), limit)
	if err != nil {
		r.logger.Errorw("Failed to read delivery history", "error", err.Error())
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to read delivery history"})
		return
	}

	writeJSON(w, http.StatusOK, historyResponse{Entries: entries})
}

// relativeTime returns t and its humanized age, or nothing for the zero time.
func relativeTime(t, now time.Time) (*time.Time, string) {
	if t.IsZero() {
		return nil, ""
	}
	return &t, humanize.RelTime(t, now, "ago", "from now")
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
