package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/script-runner/internal/auth"
	"github.com/sakif/script-runner/internal/model"
	"github.com/sakif/script-runner/internal/service"
)

// ExecuteHandler covers the user surface: the script catalog and the
// execution lifecycle.
type ExecuteHandler struct {
	scriptSvc *service.ScriptService
	execSvc   *service.ExecutionService
	logger    *slog.Logger
}

func NewExecuteHandler(scriptSvc *service.ScriptService, execSvc *service.ExecutionService, logger *slog.Logger) *ExecuteHandler {
	return &ExecuteHandler{scriptSvc: scriptSvc, execSvc: execSvc, logger: logger}
}

// HandleListScripts returns the script catalog.
//
// HTTP: GET /api/scripts
func (h *ExecuteHandler) HandleListScripts(w http.ResponseWriter, r *http.Request) {
	scripts, err := h.scriptSvc.ListScripts(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, scripts)
}

type executeRequest struct {
	Arguments   string `json:"arguments"`
	AutoInstall bool   `json:"autoInstall"`
}

// HandleExecute runs a script synchronously and returns the full
// execution record. The request blocks until the pipeline finishes, which
// is bounded by the execution timeout.
//
// HTTP: POST /api/scripts/{id}/execute
func (h *ExecuteHandler) HandleExecute(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "unauthorized", Message: "not authenticated"})
		return
	}

	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: "invalid JSON body"})
		return
	}

	exec, err := h.execSvc.Run(r.Context(), model.ExecutionRequest{
		ScriptID:    chi.URLParam(r, "id"),
		UserID:      userID,
		Arguments:   service.ParseArguments(req.Arguments),
		RawArgs:     req.Arguments,
		AutoInstall: req.AutoInstall,
	})
	if err != nil {
		// A failed execution with a saved record still returns the
		// record body alongside the error status, so the client can
		// show missing packages and the error message.
		if exec != nil {
			h.logger.Warn("execution failed before running",
				slog.String("executionId", exec.ID),
				slog.String("error", err.Error()),
			)
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

// HandleGetExecution returns one execution the caller owns.
//
// HTTP: GET /api/executions/{id}
func (h *ExecuteHandler) HandleGetExecution(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "unauthorized", Message: "not authenticated"})
		return
	}

	exec, err := h.execSvc.GetExecution(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

// HandleListExecutions returns the caller's execution history.
//
// HTTP: GET /api/executions
func (h *ExecuteHandler) HandleListExecutions(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "unauthorized", Message: "not authenticated"})
		return
	}

	execs, err := h.execSvc.ListExecutions(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, execs)
}
