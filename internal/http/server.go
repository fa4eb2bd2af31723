package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/velkov/planflow/internal/log"
	"github.com/velkov/planflow/internal/notify"
	"github.com/velkov/planflow/pkg/engine"
	"github.com/velkov/planflow/pkg/models"
	"github.com/velkov/planflow/pkg/storage"
)

// StartServer wires the coordinator, the websocket hub and the routes, and
// blocks serving on the given port.
func StartServer(port string, store storage.Store) error {
	hub := notify.NewHub()
	svc := engine.NewService(store, log.GetLogger(), engine.WithNotifier(hub))

	mux := http.NewServeMux()
	RegisterRoutes(mux, svc, hub)

	log.GetLogger().Infof("Starting PlanFlow server on :%s", port)
	return http.ListenAndServe(":"+port, mux)
}

// RegisterRoutes attaches every handler to the mux; split out so tests can
// serve the same routes from httptest.
func RegisterRoutes(mux *http.ServeMux, svc *engine.Service, hub *notify.Hub) {
	mux.HandleFunc("/health", HealthHandler)
	mux.HandleFunc("/critical-path", CriticalPathHandler(svc))
	mux.HandleFunc("/tasks/", TaskChangeHandler(svc))
	mux.HandleFunc("/workflows", WorkflowsHandler(svc))
	mux.HandleFunc("/workflows/", TriggerHandler(svc))
	mux.HandleFunc("/executions", ExecutionsHandler(svc))
	mux.HandleFunc("/executions/", ResumeHandler(svc))
	if hub != nil {
		mux.HandleFunc("/ws", hub.ServeWS)
	}
}

func HealthHandler(w http.ResponseWriter, r *http.Request) {
	fmt.Fprintf(w, "PlanFlow server is running")
}

// CriticalPathHandler serves GET /critical-path?schedule=<id>.
func CriticalPathHandler(svc *engine.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		scheduleID, err := strconv.ParseInt(r.URL.Query().Get("schedule"), 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Missing or invalid 'schedule' parameter")
			return
		}
		result, err := svc.ComputeCriticalPath(scheduleID)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

// TaskChangeHandler serves PATCH /tasks/{id}.
func TaskChangeHandler(svc *engine.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch {
			writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		taskID := strings.TrimPrefix(r.URL.Path, "/tasks/")
		if taskID == "" {
			writeError(w, http.StatusBadRequest, "Missing task id")
			return
		}
		var change models.TaskChange
		if err := json.NewDecoder(r.Body).Decode(&change); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid JSON body")
			return
		}
		result, err := svc.ApplyTaskChange(r.Context(), taskID, change)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

// WorkflowsHandler serves POST /workflows (create) and GET /workflows (list
// executions across workflows is under /executions).
func WorkflowsHandler(svc *engine.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			var def models.WorkflowDefinition
			if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
				writeError(w, http.StatusBadRequest, "Invalid JSON body")
				return
			}
			created, err := svc.CreateWorkflowDefinition(def)
			if err != nil {
				writeEngineError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, created)
		default:
			writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	}
}

// TriggerHandler serves POST /workflows/{id}/trigger with an entity binding
// in the body.
func TriggerHandler(svc *engine.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || !strings.HasSuffix(r.URL.Path, "/trigger") {
			writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		workflowID := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/workflows/"), "/trigger")
		var body struct {
			EntityType string `json:"entity_type"`
			EntityID   string `json:"entity_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid JSON body")
			return
		}
		exec, err := svc.TriggerWorkflow(r.Context(), workflowID, body.EntityType, body.EntityID)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, exec)
	}
}

// ExecutionsHandler serves GET /executions?workflow=<id>.
func ExecutionsHandler(svc *engine.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		execs, err := svc.ListExecutions(r.URL.Query().Get("workflow"))
		if err != nil {
			writeEngineError(w, err)
			return
		}
		if execs == nil {
			execs = []models.WorkflowExecution{}
		}
		writeJSON(w, http.StatusOK, execs)
	}
}

// ResumeHandler serves POST /executions/{id}/resume.
func ResumeHandler(svc *engine.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || !strings.HasSuffix(r.URL.Path, "/resume") {
			writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		executionID := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/executions/"), "/resume")
		var body struct {
			NodeID string                 `json:"node_id"`
			Result map[string]interface{} `json:"result"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid JSON body")
			return
		}
		exec, err := svc.ResumeExecution(r.Context(), executionID, body.NodeID, body.Result)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, exec)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.GetLogger().Errorf("Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeEngineError maps the engine's typed errors onto HTTP statuses.
func writeEngineError(w http.ResponseWriter, err error) {
	var validation *models.ValidationError
	var cyclic *models.CyclicDependencyError
	var notFound *models.NotFoundError
	var conflict *models.ConflictError
	switch {
	case errors.As(err, &validation):
		writeError(w, http.StatusBadRequest, validation.Error())
	case errors.As(err, &cyclic):
		writeError(w, http.StatusUnprocessableEntity, cyclic.Error())
	case errors.As(err, &notFound):
		writeError(w, http.StatusNotFound, notFound.Error())
	case errors.As(err, &conflict):
		writeError(w, http.StatusConflict, conflict.Error())
	default:
		log.GetLogger().Errorf("Request failed: %v", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
