package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/script-runner/internal/auth"
	"github.com/sakif/script-runner/internal/model"
	"github.com/sakif/script-runner/internal/pypkg"
	"github.com/sakif/script-runner/internal/service"
)

// maxUploadBytes bounds the multipart form for script uploads. Script
// sources are text; 10 MiB is generous.
const maxUploadBytes = 10 << 20

// AdminHandler covers the admin surface: the shared-password session,
// script upload and removal, the user list, and invitations.
type AdminHandler struct {
	authSvc   *service.AuthService
	scriptSvc *service.ScriptService
	logger    *slog.Logger
}

func NewAdminHandler(authSvc *service.AuthService, scriptSvc *service.ScriptService, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{authSvc: authSvc, scriptSvc: scriptSvc, logger: logger}
}

// HandleAdminLogin checks the admin password and sets the admin cookie.
//
// HTTP: POST /api/admin/login
func (h *AdminHandler) HandleAdminLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: "invalid JSON body"})
		return
	}

	token, err := h.authSvc.AdminLogin(req.Password)
	if err != nil {
		writeError(w, err)
		return
	}

	setSessionCookie(w, auth.AdminCookie, token)
	writeJSON(w, http.StatusOK, map[string]string{"message": "admin session started"})
}

type uploadScriptResponse struct {
	Script *model.Script `json:"script"`
	Report *pypkg.Report `json:"dependencyReport"`
}

// HandleUploadScript accepts a multipart form with the script source and
// its metadata, and responds with the stored record plus a dependency
// report.
//
// HTTP: POST /api/admin/scripts
// Form fields: file (required), name (required), description,
// requirements, output_type
func (h *AdminHandler) HandleUploadScript(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: "invalid multipart form"})
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: "script file is required"})
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: "reading uploaded file failed"})
		return
	}

	script, report, err := h.scriptSvc.UploadScript(
		r.Context(),
		r.FormValue("name"),
		r.FormValue("description"),
		r.FormValue("requirements"),
		r.FormValue("output_type"),
		header.Filename,
		content,
	)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, uploadScriptResponse{Script: script, Report: report})
}

// HandleDeleteScript removes a script and its source file.
//
// HTTP: DELETE /api/admin/scripts/{id}
func (h *AdminHandler) HandleDeleteScript(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.scriptSvc.DeleteScript(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "script deleted"})
}

// HandleListUsers returns all registered accounts.
//
// HTTP: GET /api/admin/users
func (h *AdminHandler) HandleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.scriptSvc.ListUsers(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

type inviteResponse struct {
	Invitation       *model.Invitation `json:"invitation"`
	RegistrationLink string            `json:"registrationLink"`
	EmailSent        bool              `json:"emailSent"`
}

// HandleInviteUser issues an invitation for an email address. The
// registration link is always returned so the admin can share it by hand
// when email delivery is unavailable.
//
// HTTP: POST /api/admin/invitations
func (h *AdminHandler) HandleInviteUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: "invalid JSON body"})
		return
	}

	inv, link, emailSent, err := h.scriptSvc.InviteUser(r.Context(), req.Email)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, inviteResponse{Invitation: inv, RegistrationLink: link, EmailSent: emailSent})
}

// HandleListInvitations returns pending invitations.
//
// HTTP: GET /api/admin/invitations
func (h *AdminHandler) HandleListInvitations(w http.ResponseWriter, r *http.Request) {
	invitations, err := h.scriptSvc.ListPendingInvitations(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, invitations)
}
