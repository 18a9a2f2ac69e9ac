package handler

import (
	"log/slog"
	"net/http"
	"path"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/script-runner/internal/auth"
	"github.com/sakif/script-runner/internal/model"
	"github.com/sakif/script-runner/internal/service"
)

// FilesHandler serves the stored output files of past executions.
type FilesHandler struct {
	execSvc *service.ExecutionService
	logger  *slog.Logger
}

func NewFilesHandler(execSvc *service.ExecutionService, logger *slog.Logger) *FilesHandler {
	return &FilesHandler{execSvc: execSvc, logger: logger}
}

type filesResponse struct {
	Files   []model.FileRecord `json:"files"`
	Summary model.FileSummary  `json:"summary"`
}

// HandleListFiles re-scans the stored files of an execution the caller
// owns.
//
// HTTP: GET /api/executions/{id}/files
func (h *FilesHandler) HandleListFiles(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "unauthorized", Message: "not authenticated"})
		return
	}

	files, summary, err := h.execSvc.ListExecutionFiles(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, filesResponse{Files: files, Summary: summary})
}

// HandleDownload streams one stored file. Path resolution rejects absolute
// paths and parent-directory segments before touching the filesystem.
//
// HTTP: GET /download/{id}/*
func (h *FilesHandler) HandleDownload(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "unauthorized", Message: "not authenticated"})
		return
	}

	executionID := chi.URLParam(r, "id")
	relPath := chi.URLParam(r, "*")

	fullPath, err := h.execSvc.ResolveDownload(r.Context(), executionID, userID, relPath)
	if err != nil {
		h.logger.Warn("download rejected",
			slog.String("executionId", executionID),
			slog.String("path", relPath),
			slog.String("error", err.Error()),
		)
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Disposition", `attachment; filename="`+path.Base(relPath)+`"`)
	http.ServeFile(w, r, fullPath)
}
