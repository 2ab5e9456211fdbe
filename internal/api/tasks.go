package api

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/persona-sim/internal/completion"
	"github.com/sells-group/persona-sim/internal/model"
	"github.com/sells-group/persona-sim/internal/notify"
	"github.com/sells-group/persona-sim/internal/orchestrator"
	"github.com/sells-group/persona-sim/internal/store"
)

const (
	maxBodyBytes = 1 << 20

	defaultInlinePersonas    = 2
	defaultInlineSimulations = 2

	// ProductMarker tags the product description in a consultant reply.
	ProductMarker = "[Product Description]"
)

type createTaskRequest struct {
	ProductDescription string               `json:"product_description"`
	Conversation       []completion.Message `json:"conversation"`
	NumPersonas        int                  `json:"num_personas"`
	NumSimulations     int                  `json:"num_simulations"`
	Email              string               `json:"email"`
}

type statusResponse struct {
	*orchestrator.StatusView
	ReportURL *string `json:"report_url"`
}

// ExtractProductDescription returns the text following ProductMarker in the
// latest assistant message that carries it, up to the next blank line.
func ExtractProductDescription(msgs []completion.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m.Role != "assistant" {
			continue
		}
		idx := strings.Index(m.Content, ProductMarker)
		if idx < 0 {
			continue
		}
		rest := m.Content[idx+len(ProductMarker):]
		rest = strings.TrimPrefix(strings.TrimPrefix(rest, ":"), "：")
		if end := strings.Index(rest, "\n\n"); end >= 0 {
			rest = rest[:end]
		}
		return strings.TrimSpace(rest)
	}
	return ""
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// createTask creates a task from an explicit description or a consultant
// conversation and starts it right away.
func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	desc := strings.TrimSpace(req.ProductDescription)
	if desc == "" {
		desc = ExtractProductDescription(req.Conversation)
	}
	if desc == "" {
		respondError(w, http.StatusBadRequest, "missing product description")
		return
	}
	if req.NumPersonas == 0 {
		req.NumPersonas = defaultInlinePersonas
	}
	if req.NumSimulations == 0 {
		req.NumSimulations = defaultInlineSimulations
	}
	if req.Email == "" {
		req.Email = notify.InlineRecipient
	}

	task, err := s.tasks.Create(r.Context(), orchestrator.NewTask{
		ProductDescription: desc,
		NumPersonas:        req.NumPersonas,
		NumSimulations:     req.NumSimulations,
		Email:              req.Email,
	})
	if err != nil {
		writeTaskError(w, err)
		return
	}
	if err := s.tasks.Start(r.Context(), task.ID); err != nil {
		writeTaskError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"task_id": task.ID})
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.tasks.List(r.Context(), store.TaskFilter{
		Status: model.TaskStatus(r.URL.Query().Get("status")),
	})
	if err != nil {
		writeTaskError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func (s *Server) taskStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	view, err := s.tasks.Status(r.Context(), id)
	if err != nil {
		writeTaskError(w, err)
		return
	}
	resp := statusResponse{StatusView: view}
	if view.Status == model.TaskStatusCompleted && view.ReportPath != "" {
		u := "/api/tasks/" + id + "/report"
		resp.ReportURL = &u
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) taskReport(w http.ResponseWriter, r *http.Request) {
	view, err := s.tasks.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeTaskError(w, err)
		return
	}
	if view.ReportPath == "" {
		respondError(w, http.StatusNotFound, "report not ready")
		return
	}
	if _, err := os.Stat(view.ReportPath); err != nil {
		respondError(w, http.StatusNotFound, "report file missing")
		return
	}
	w.Header().Set("Content-Disposition", `attachment; filename="`+filepath.Base(view.ReportPath)+`"`)
	http.ServeFile(w, r, view.ReportPath)
}

// admin rejects requests whose key query parameter does not match.
func (s *Server) admin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.adminKey == "" || r.URL.Query().Get("key") != s.adminKey {
			respondError(w, http.StatusForbidden, "unauthorized")
			return
		}
		next(w, r)
	}
}

func (s *Server) control(action func(TaskService, context.Context, string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := action(s.tasks, r.Context(), id); err != nil {
			writeTaskError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"message": "ok", "task_id": id})
	}
}

func writeTaskError(w http.ResponseWriter, err error) {
	switch {
	case eris.Is(err, store.ErrNotFound):
		respondError(w, http.StatusNotFound, "task not found")
	case eris.Is(err, orchestrator.ErrInvalidState), eris.Is(err, orchestrator.ErrInvalidTask):
		respondError(w, http.StatusBadRequest, err.Error())
	default:
		zap.L().Error("api: task request failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}
