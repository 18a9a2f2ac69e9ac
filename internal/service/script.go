package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/rs/xid"

	"github.com/sakif/script-runner/internal/apperror"
	"github.com/sakif/script-runner/internal/model"
	"github.com/sakif/script-runner/internal/pypkg"
	"github.com/sakif/script-runner/internal/repository"
)

var filenameSanitizer = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// ScriptService covers the admin surface: script upload and removal, user
// listing, and invitations. It also serves the script catalog to users.
type ScriptService struct {
	scripts     repository.ScriptRepository
	users       repository.UserRepository
	invitations repository.InvitationRepository
	packages    PackageResolver
	notifier    Notifier
	scriptsDir  string
	baseURL     string
	logger      *slog.Logger
}

func NewScriptService(
	scripts repository.ScriptRepository,
	users repository.UserRepository,
	invitations repository.InvitationRepository,
	packages PackageResolver,
	notifier Notifier,
	scriptsDir string,
	baseURL string,
	logger *slog.Logger,
) *ScriptService {
	return &ScriptService{
		scripts:     scripts,
		users:       users,
		invitations: invitations,
		packages:    packages,
		notifier:    notifier,
		scriptsDir:  scriptsDir,
		baseURL:     baseURL,
		logger:      logger,
	}
}

// UploadScript stores the script source on disk, registers it, and returns
// the record together with a dependency report so the admin sees missing
// packages at upload time rather than at first execution.
func (s *ScriptService) UploadScript(ctx context.Context, name, description, requirements, outputType, originalFilename string, content []byte) (*model.Script, *pypkg.Report, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil, apperror.ValidationFailed("name", "script name is required")
	}
	if !strings.EqualFold(filepath.Ext(originalFilename), ".py") {
		return nil, nil, apperror.ValidationFailed("file", "only .py files are accepted")
	}
	if len(content) == 0 {
		return nil, nil, apperror.ValidationFailed("file", "script file is empty")
	}

	if err := os.MkdirAll(s.scriptsDir, 0o755); err != nil {
		return nil, nil, apperror.Resource("creating scripts directory", err)
	}
	filename := s.uniqueFilename(originalFilename)
	scriptPath := filepath.Join(s.scriptsDir, filename)
	if err := os.WriteFile(scriptPath, content, 0o644); err != nil {
		return nil, nil, apperror.Resource("writing script file", err)
	}

	script := &model.Script{
		Name:         name,
		Filename:     filename,
		Description:  strings.TrimSpace(description),
		Requirements: strings.TrimSpace(requirements),
		OutputType:   strings.TrimSpace(outputType),
	}
	if err := s.scripts.CreateScript(ctx, script); err != nil {
		os.Remove(scriptPath)
		return nil, nil, err
	}

	report, err := s.packages.Analyze(ctx, scriptPath, script.Requirements)
	if err != nil {
		s.logger.Warn("dependency analysis at upload failed", slog.String("scriptId", script.ID), slog.String("error", err.Error()))
		report = &pypkg.Report{Warnings: []string{fmt.Sprintf("dependency analysis failed: %v", err)}}
	}
	s.logger.Info("script uploaded",
		slog.String("scriptId", script.ID),
		slog.String("name", script.Name),
		slog.Int("missingPackages", len(report.Missing)),
	)
	return script, report, nil
}

func (s *ScriptService) ListScripts(ctx context.Context) ([]model.Script, error) {
	return s.scripts.ListScripts(ctx)
}

func (s *ScriptService) GetScript(ctx context.Context, id string) (*model.Script, error) {
	return s.scripts.GetScriptByID(ctx, id)
}

// DeleteScript removes the record and the source file. A missing source
// file is not an error; the record is the authority.
func (s *ScriptService) DeleteScript(ctx context.Context, id string) error {
	script, err := s.scripts.GetScriptByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.scripts.DeleteScript(ctx, id); err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(s.scriptsDir, script.Filename)); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("removing script file failed", slog.String("scriptId", id), slog.String("error", err.Error()))
	}
	s.logger.Info("script deleted", slog.String("scriptId", id), slog.String("name", script.Name))
	return nil
}

func (s *ScriptService) ListUsers(ctx context.Context) ([]model.User, error) {
	return s.users.ListUsers(ctx)
}

// InviteUser issues a single-use invitation bound to the email address and
// tries to deliver it. When email is not configured the registration link
// is returned so the admin can share it manually.
func (s *ScriptService) InviteUser(ctx context.Context, email string) (*model.Invitation, string, bool, error) {
	email = normalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, "", false, apperror.ValidationFailed("email", "a valid email address is required")
	}

	if _, err := s.users.GetUserByEmail(ctx, email); err == nil {
		return nil, "", false, apperror.Conflict("user", email)
	}
	if existing, err := s.invitations.GetPendingInvitationByEmail(ctx, email); err == nil {
		link := s.registrationLink(existing.Token)
		return existing, link, false, nil
	}

	inv := &model.Invitation{
		Email: email,
		Token: xid.New().String() + xid.New().String(),
	}
	if err := s.invitations.CreateInvitation(ctx, inv); err != nil {
		return nil, "", false, err
	}

	emailSent := false
	if s.notifier.Configured() {
		if err := s.notifier.SendInvitation(email, inv.Token); err != nil {
			s.logger.Warn("invitation email failed", slog.String("email", email), slog.String("error", err.Error()))
		} else {
			emailSent = true
		}
	}
	s.logger.Info("invitation created", slog.String("email", email), slog.Bool("emailSent", emailSent))
	return inv, s.registrationLink(inv.Token), emailSent, nil
}

func (s *ScriptService) ListPendingInvitations(ctx context.Context) ([]model.Invitation, error) {
	return s.invitations.ListPendingInvitations(ctx)
}

func (s *ScriptService) registrationLink(token string) string {
	return fmt.Sprintf("%s/register?token=%s", strings.TrimRight(s.baseURL, "/"), token)
}

// uniqueFilename keeps the original base name for readability but prefixes
// an id so repeated uploads of the same file never collide.
func (s *ScriptService) uniqueFilename(original string) string {
	base := filenameSanitizer.ReplaceAllString(filepath.Base(original), "_")
	return xid.New().String() + "_" + base
}
