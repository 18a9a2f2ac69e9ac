package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/sakif/script-runner/internal/auth"
	"github.com/sakif/script-runner/internal/config"
	"github.com/sakif/script-runner/internal/handler"
	"github.com/sakif/script-runner/internal/mailer"
	"github.com/sakif/script-runner/internal/model"
	"github.com/sakif/script-runner/internal/output"
	"github.com/sakif/script-runner/internal/pypkg"
	"github.com/sakif/script-runner/internal/repository/sqlite"
	"github.com/sakif/script-runner/internal/runner"
	"github.com/sakif/script-runner/internal/service"
)

// stubRunner stands in for the Python subprocess: it drops files into the
// workspace and reports success.
type stubRunner struct {
	files map[string]string
}

func (s *stubRunner) Run(_ context.Context, _ string, _ []string, workDir string, _ time.Duration) (*runner.Result, error) {
	for name, content := range s.files {
		path := filepath.Join(workDir, name)
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return nil, err
		}
	}
	return &runner.Result{ExitCode: 0, Stdout: "ok\n"}, nil
}

type stubResolver struct{}

func (stubResolver) Analyze(context.Context, string, string) (*pypkg.Report, error) {
	return &pypkg.Report{}, nil
}
func (stubResolver) Install(context.Context, []string) (string, error) { return "", nil }

func (stubResolver) Verify(context.Context, []string) error { return nil }

type stubNotifier struct{}

func (stubNotifier) Configured() bool { return false }

func (stubNotifier) SendExecutionResult(mailer.ResultEmail) error { return nil }

func (stubNotifier) SendInvitation(string, string) error { return nil }

type testApp struct {
	router *chi.Mux
	db     *sqlite.DB
	runner *stubRunner
}

// newTestApp assembles the full HTTP surface over an in-memory database,
// mirroring the production wiring with subprocess and SMTP edges stubbed.
func newTestApp(t *testing.T) *testApp {
	t.Helper()

	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := config.Config{
		BaseURL:            "http://localhost:8080",
		ScriptsDir:         t.TempDir(),
		OutputDir:          t.TempDir(),
		AdminPassword:      "admin-secret",
		ExecutionTimeout:   10 * time.Second,
		AttachmentMaxBytes: 5 * 1024 * 1024,
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	passwords := auth.NewPasswordServiceForTest(bcrypt.MinCost)
	tokens, err := auth.NewTokenService("test-secret-at-least-16-chars")
	require.NoError(t, err)

	workspaces, err := output.NewWorkspaces(cfg.OutputDir)
	require.NoError(t, err)
	store, err := output.NewStore(cfg.OutputDir)
	require.NoError(t, err)

	sr := &stubRunner{files: map[string]string{}}
	authSvc := service.NewAuthService(db, db, passwords, tokens, cfg.AdminPassword, logger)
	scriptSvc := service.NewScriptService(db, db, db, stubResolver{}, stubNotifier{}, cfg.ScriptsDir, cfg.BaseURL, logger)
	execSvc := service.NewExecutionService(db, db, db, workspaces, store, sr, stubResolver{}, stubNotifier{}, cfg, logger)

	authHandler := handler.NewAuthHandler(authSvc, logger)
	adminHandler := handler.NewAdminHandler(authSvc, scriptSvc, logger)
	executeHandler := handler.NewExecuteHandler(scriptSvc, execSvc, logger)
	filesHandler := handler.NewFilesHandler(execSvc, logger)

	requireUser := auth.RequireUser(tokens)
	requireAdmin := auth.RequireAdmin(tokens)

	router := chi.NewRouter()
	router.Route("/api", func(r chi.Router) {
		r.Post("/auth/login", authHandler.HandleLogin)
		r.Post("/auth/register", authHandler.HandleRegister)
		r.Post("/auth/logout", authHandler.HandleLogout)
		r.Post("/admin/login", adminHandler.HandleAdminLogin)

		r.Group(func(r chi.Router) {
			r.Use(requireUser)
			r.Get("/auth/me", authHandler.HandleMe)
			r.Get("/scripts", executeHandler.HandleListScripts)
			r.Post("/scripts/{id}/execute", executeHandler.HandleExecute)
			r.Get("/executions", executeHandler.HandleListExecutions)
			r.Get("/executions/{id}", executeHandler.HandleGetExecution)
			r.Get("/executions/{id}/files", filesHandler.HandleListFiles)
		})

		r.Group(func(r chi.Router) {
			r.Use(requireAdmin)
			r.Post("/admin/scripts", adminHandler.HandleUploadScript)
			r.Delete("/admin/scripts/{id}", adminHandler.HandleDeleteScript)
			r.Get("/admin/users", adminHandler.HandleListUsers)
			r.Post("/admin/invitations", adminHandler.HandleInviteUser)
			r.Get("/admin/invitations", adminHandler.HandleListInvitations)
		})
	})
	router.Group(func(r chi.Router) {
		r.Use(requireUser)
		r.Get("/download/{id}/*", filesHandler.HandleDownload)
	})

	return &testApp{router: router, db: db, runner: sr}
}

func (a *testApp) do(req *http.Request, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func jsonBody(t *testing.T, v any) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	require.NoError(t, json.NewEncoder(buf).Encode(v))
	return buf
}

// adminSession logs in as admin and returns the cookie.
func (a *testApp) adminSession(t *testing.T) *http.Cookie {
	t.Helper()
	rec := a.do(httptest.NewRequest(http.MethodPost, "/api/admin/login",
		bytes.NewBufferString(`{"password":"admin-secret"}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	for _, c := range rec.Result().Cookies() {
		if c.Name == auth.AdminCookie {
			return c
		}
	}
	t.Fatal("no admin cookie set")
	return nil
}

// userSession registers an account through the invitation flow and returns
// the session cookie.
func (a *testApp) userSession(t *testing.T, email string) *http.Cookie {
	t.Helper()
	admin := a.adminSession(t)

	rec := a.do(httptest.NewRequest(http.MethodPost, "/api/admin/invitations",
		jsonBody(t, map[string]string{"email": email})), admin)
	require.Equal(t, http.StatusCreated, rec.Code)

	var invited struct {
		Invitation model.Invitation `json:"invitation"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&invited))

	rec = a.do(httptest.NewRequest(http.MethodPost, "/api/auth/register",
		jsonBody(t, map[string]string{
			"email":    email,
			"password": "longenough",
			"token":    invited.Invitation.Token,
		})))
	require.Equal(t, http.StatusCreated, rec.Code)

	for _, c := range rec.Result().Cookies() {
		if c.Name == auth.SessionCookie && c.Value != "" {
			return c
		}
	}
	t.Fatal("no session cookie set")
	return nil
}

// uploadScript uploads a script through the admin multipart endpoint.
func (a *testApp) uploadScript(t *testing.T, admin *http.Cookie, name string) string {
	t.Helper()
	body := &bytes.Buffer{}
	form := multipart.NewWriter(body)
	require.NoError(t, form.WriteField("name", name))
	part, err := form.CreateFormFile("file", name+".py")
	require.NoError(t, err)
	_, err = part.Write([]byte("print('hi')\n"))
	require.NoError(t, err)
	require.NoError(t, form.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/admin/scripts", body)
	req.Header.Set("Content-Type", form.FormDataContentType())
	rec := a.do(req, admin)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp struct {
		Script model.Script `json:"script"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp.Script.ID
}

func TestProtectedRoutesRequireAuth(t *testing.T) {
	app := newTestApp(t)

	rec := app.do(httptest.NewRequest(http.MethodGet, "/api/scripts", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = app.do(httptest.NewRequest(http.MethodGet, "/api/admin/users", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAdminSessionDoesNotGrantUserAccess(t *testing.T) {
	app := newTestApp(t)
	admin := app.adminSession(t)

	// The admin token lives in a different cookie; even replayed in the
	// session cookie it must not pass the user guard.
	rec := app.do(httptest.NewRequest(http.MethodGet, "/api/scripts", nil),
		&http.Cookie{Name: auth.SessionCookie, Value: admin.Value})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLoginFlow(t *testing.T) {
	app := newTestApp(t)
	app.userSession(t, "alice@example.com")

	rec := app.do(httptest.NewRequest(http.MethodPost, "/api/auth/login",
		jsonBody(t, map[string]string{"email": "alice@example.com", "password": "longenough"})))
	require.Equal(t, http.StatusOK, rec.Code)

	var user model.User
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&user))
	assert.Equal(t, "alice@example.com", user.Email)

	rec = app.do(httptest.NewRequest(http.MethodPost, "/api/auth/login",
		jsonBody(t, map[string]string{"email": "alice@example.com", "password": "wrong"})))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestInvitationIsSingleUse(t *testing.T) {
	app := newTestApp(t)
	admin := app.adminSession(t)

	rec := app.do(httptest.NewRequest(http.MethodPost, "/api/admin/invitations",
		jsonBody(t, map[string]string{"email": "bob@example.com"})), admin)
	require.Equal(t, http.StatusCreated, rec.Code)
	var invited struct {
		Invitation model.Invitation `json:"invitation"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&invited))

	register := func(email string) int {
		r := app.do(httptest.NewRequest(http.MethodPost, "/api/auth/register",
			jsonBody(t, map[string]string{"email": email, "password": "longenough", "token": invited.Invitation.Token})))
		return r.Code
	}

	assert.Equal(t, http.StatusCreated, register("bob@example.com"))
	assert.Equal(t, http.StatusBadRequest, register("bob@example.com"), "a consumed token must be rejected")
}

func TestExecuteAndDownloadFlow(t *testing.T) {
	app := newTestApp(t)
	admin := app.adminSession(t)
	scriptID := app.uploadScript(t, admin, "report")
	session := app.userSession(t, "alice@example.com")

	app.runner.files = map[string]string{
		"chart.png": "pngdata",
		"data.csv":  "a,b\n",
	}

	rec := app.do(httptest.NewRequest(http.MethodPost, "/api/scripts/"+scriptID+"/execute",
		bytes.NewBufferString(`{"arguments":""}`)), session)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var exec model.Execution
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&exec))
	assert.Equal(t, 0, exec.ExitCode)
	require.Len(t, exec.OutputFiles, 2)
	assert.Equal(t, 2, exec.FileSummary.Total)

	// Files endpoint re-scans the permanent store.
	rec = app.do(httptest.NewRequest(http.MethodGet, "/api/executions/"+exec.ID+"/files", nil), session)
	require.Equal(t, http.StatusOK, rec.Code)
	var files struct {
		Files []model.FileRecord `json:"files"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&files))
	assert.Len(t, files.Files, 2)

	// Download a stored file.
	rec = app.do(httptest.NewRequest(http.MethodGet, "/download/"+exec.ID+"/chart.png", nil), session)
	require.Equal(t, http.StatusOK, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	assert.Equal(t, "pngdata", string(body))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "chart.png")
}

func TestDownloadRejectsTraversalAndForeignExecutions(t *testing.T) {
	app := newTestApp(t)
	admin := app.adminSession(t)
	scriptID := app.uploadScript(t, admin, "report")
	alice := app.userSession(t, "alice@example.com")
	mallory := app.userSession(t, "mallory@example.com")

	app.runner.files = map[string]string{"secret.csv": "payroll\n"}
	rec := app.do(httptest.NewRequest(http.MethodPost, "/api/scripts/"+scriptID+"/execute",
		bytes.NewBufferString(`{}`)), alice)
	require.Equal(t, http.StatusOK, rec.Code)
	var exec model.Execution
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&exec))

	// Another user cannot see or download the execution.
	rec = app.do(httptest.NewRequest(http.MethodGet, "/api/executions/"+exec.ID, nil), mallory)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = app.do(httptest.NewRequest(http.MethodGet, "/download/"+exec.ID+"/secret.csv", nil), mallory)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Traversal attempts are rejected even for the owner.
	for _, path := range []string{"%2e%2e/other/file", "a/%2e%2e/%2e%2e/escape"} {
		rec = app.do(httptest.NewRequest(http.MethodGet, "/download/"+exec.ID+"/"+path, nil), alice)
		assert.NotEqual(t, http.StatusOK, rec.Code, "path %q must not resolve", path)
	}
}

func TestAdminScriptLifecycle(t *testing.T) {
	app := newTestApp(t)
	admin := app.adminSession(t)
	scriptID := app.uploadScript(t, admin, "doomed")
	session := app.userSession(t, "alice@example.com")

	rec := app.do(httptest.NewRequest(http.MethodGet, "/api/scripts", nil), session)
	require.Equal(t, http.StatusOK, rec.Code)
	var scripts []model.Script
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&scripts))
	require.Len(t, scripts, 1)

	rec = app.do(httptest.NewRequest(http.MethodDelete, "/api/admin/scripts/"+scriptID, nil), admin)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = app.do(httptest.NewRequest(http.MethodGet, "/api/scripts", nil), session)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&scripts))
	assert.Empty(t, scripts)
}

func TestUploadRejectsNonPython(t *testing.T) {
	app := newTestApp(t)
	admin := app.adminSession(t)

	body := &bytes.Buffer{}
	form := multipart.NewWriter(body)
	require.NoError(t, form.WriteField("name", "bad"))
	part, err := form.CreateFormFile("file", "evil.sh")
	require.NoError(t, err)
	_, err = part.Write([]byte("#!/bin/sh\n"))
	require.NoError(t, err)
	require.NoError(t, form.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/admin/scripts", body)
	req.Header.Set("Content-Type", form.FormDataContentType())
	rec := app.do(req, admin)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMeEndpoint(t *testing.T) {
	app := newTestApp(t)
	session := app.userSession(t, "alice@example.com")

	rec := app.do(httptest.NewRequest(http.MethodGet, "/api/auth/me", nil), session)
	require.Equal(t, http.StatusOK, rec.Code)

	raw := rec.Body.String()
	assert.NotContains(t, raw, "password", "the hash must never leave the server")

	var user model.User
	require.NoError(t, json.Unmarshal([]byte(raw), &user))
	assert.Equal(t, "alice@example.com", user.Email)
}
