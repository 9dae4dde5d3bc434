// Package httpapi exposes the read side of the mirror plus the note
// workflow over a small JSON API, and serves the embedded dashboard.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MertK96/azure-boardmetrics/internal/collector"
	"github.com/MertK96/azure-boardmetrics/internal/config"
	"github.com/MertK96/azure-boardmetrics/internal/store"
)

// Refresher triggers an on-demand sync pass. *collector.Collector
// implements it.
type Refresher interface {
	RunOnce(ctx context.Context) (collector.Result, error)
}

const maxBodyBytes = 1 << 20

type Server struct {
	cfg       *config.Config
	store     *store.Store
	refresher Refresher
	dashboard fs.FS

	// now is a test seam; defaults to time.Now.
	now func() time.Time
}

func NewServer(cfg *config.Config, st *store.Store, refresher Refresher, dashboard fs.FS) *Server {
	return &Server{
		cfg:       cfg,
		store:     st,
		refresher: refresher,
		dashboard: dashboard,
		now:       time.Now,
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.URL.Path, "/api/") {
		if s.dashboard != nil && r.Method == http.MethodGet {
			http.FileServer(http.FS(s.dashboard)).ServeHTTP(w, r)
			return
		}
		writeError(w, http.StatusNotFound, "not_found", "route not found", getCorrelationID(r))
		return
	}

	switch {
	case r.URL.Path == "/api/health" && r.Method == http.MethodGet:
		s.handleHealth(w, r)
	case r.URL.Path == "/api/config" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, s.cfg.Sanitized())
	case r.URL.Path == "/api/assignees" && r.Method == http.MethodGet:
		s.handleAssignees(w, r)
	case r.URL.Path == "/api/workitems" && r.Method == http.MethodGet:
		s.handleListItems(w, r)
	case r.URL.Path == "/api/notes" && r.Method == http.MethodGet:
		s.handleListNotes(w, r)
	case r.URL.Path == "/api/refresh" && r.Method == http.MethodPost:
		s.handleRefresh(w, r)
	default:
		s.routeRest(w, r)
	}
}

// routeRest handles the parameterized paths: /api/workitems/{id},
// /api/workitems/{id}/notes and /api/notes/{id}/resolve.
func (s *Server) routeRest(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/"), "/")
	switch {
	case len(parts) == 2 && parts[0] == "workitems" && r.Method == http.MethodGet:
		s.handleGetItem(w, r, parts[1])
	case len(parts) == 3 && parts[0] == "workitems" && parts[2] == "notes" && r.Method == http.MethodPost:
		s.handleAddNote(w, r, parts[1])
	case len(parts) == 3 && parts[0] == "notes" && parts[2] == "resolve" && r.Method == http.MethodPost:
		s.handleResolveNote(w, r, parts[1])
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found", getCorrelationID(r))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	total, flagged, err := s.store.CountItems()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), getCorrelationID(r))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"workItems":      total,
		"flagged":        flagged,
		"azdoConfigured": s.cfg.Azdo.OrganizationURL != "" && s.cfg.Azdo.Pat != "",
	})
}

func (s *Server) handleAssignees(w http.ResponseWriter, r *http.Request) {
	assignees, err := s.store.Assignees()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), getCorrelationID(r))
		return
	}
	if assignees == nil {
		assignees = []string{}
	}
	writeJSON(w, http.StatusOK, assignees)
}

func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.ItemFilter{
		State:       "In Progress",
		Assignee:    q.Get("assignee"),
		FlaggedOnly: q.Get("flagged") == "true" || q.Get("flagged") == "1",
	}
	if q.Get("state") != "" {
		filter.State = q.Get("state")
	} else if q.Get("all") == "true" {
		filter.State = ""
	}
	if top := q.Get("top"); top != "" {
		n, err := strconv.Atoi(top)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "bad_request", "invalid top", getCorrelationID(r))
			return
		}
		filter.Top = n
	}

	items, err := s.store.ListItems(filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), getCorrelationID(r))
		return
	}
	if items == nil {
		items = []store.WorkItem{}
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request, rawID string) {
	id, err := strconv.Atoi(rawID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid work item id", getCorrelationID(r))
		return
	}
	item, err := s.store.GetItem(id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "work item not found", getCorrelationID(r))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), getCorrelationID(r))
		return
	}
	notes, err := s.store.NotesByItem(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), getCorrelationID(r))
		return
	}
	if notes == nil {
		notes = []store.Note{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"item":  item,
		"notes": notes,
	})
}

type addNoteRequest struct {
	Note      string `json:"note"`
	CreatedBy string `json:"createdBy"`
	// Flag pulls the item into the attention pool with the note as reason.
	Flag bool `json:"flag"`
}

func (s *Server) handleAddNote(w http.ResponseWriter, r *http.Request, rawID string) {
	correlationID := getCorrelationID(r)
	id, err := strconv.Atoi(rawID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid work item id", correlationID)
		return
	}
	var req addNoteRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body", correlationID)
		return
	}
	if strings.TrimSpace(req.Note) == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "note must not be empty", correlationID)
		return
	}

	if _, err := s.store.GetItem(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "work item not found", correlationID)
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), correlationID)
		return
	}

	note := &store.Note{
		WorkItemID: id,
		Note:       strings.TrimSpace(req.Note),
		CreatedBy:  req.CreatedBy,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.store.AddNote(note); err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), correlationID)
		return
	}
	if req.Flag {
		if err := s.store.SetAttention(id, true, note.Note, s.now().UTC()); err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), correlationID)
			return
		}
	}
	writeJSON(w, http.StatusCreated, note)
}

func (s *Server) handleListNotes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.NoteFilter{Assignee: q.Get("assignee")}
	switch q.Get("resolved") {
	case "":
	case "true", "1":
		v := true
		filter.Resolved = &v
	case "false", "0":
		v := false
		filter.Resolved = &v
	default:
		writeError(w, http.StatusBadRequest, "bad_request", "invalid resolved", getCorrelationID(r))
		return
	}
	if top := q.Get("top"); top != "" {
		n, err := strconv.Atoi(top)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "bad_request", "invalid top", getCorrelationID(r))
			return
		}
		filter.Top = n
	}

	notes, err := s.store.ListNotes(filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), getCorrelationID(r))
		return
	}
	if notes == nil {
		notes = []store.NoteRow{}
	}
	writeJSON(w, http.StatusOK, notes)
}

type resolveNoteRequest struct {
	Resolved *bool `json:"resolved"`
}

func (s *Server) handleResolveNote(w http.ResponseWriter, r *http.Request, id string) {
	correlationID := getCorrelationID(r)
	resolved := true
	var req resolveNoteRequest
	if err := decodeBody(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body", correlationID)
		return
	}
	if req.Resolved != nil {
		resolved = *req.Resolved
	}

	if err := s.store.ResolveNote(id, resolved, s.now().UTC()); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "note not found", correlationID)
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), correlationID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "resolved": resolved})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	correlationID := getCorrelationID(r)
	if s.refresher == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "collector not configured", correlationID)
		return
	}
	res, err := s.refresher.RunOnce(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, "sync_failed", err.Error(), correlationID)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func decodeBody(r *http.Request, out any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	return dec.Decode(out)
}

func getCorrelationID(r *http.Request) string {
	if id := r.Header.Get("X-Correlation-Id"); id != "" {
		return id
	}
	return uuid.NewString()
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message, correlationID string) {
	writeJSON(w, status, map[string]any{
		"code":          code,
		"message":       message,
		"correlationId": correlationID,
	})
}
