package service

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sakif/script-runner/internal/apperror"
	"github.com/sakif/script-runner/internal/model"
)

func newScriptFixture(t *testing.T) (*ScriptService, *mockStore, *fakeNotifier, string) {
	t.Helper()
	repo := newMockStore()
	resolver := &fakeResolver{}
	notifier := &fakeNotifier{configured: true}
	scriptsDir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	svc := NewScriptService(repo, repo, repo, resolver, notifier, scriptsDir, "http://localhost:8080", logger)
	return svc, repo, notifier, scriptsDir
}

func TestUploadScript_Success(t *testing.T) {
	svc, repo, _, scriptsDir := newScriptFixture(t)

	script, report, err := svc.UploadScript(context.Background(),
		"Sales Report", "monthly numbers", "pandas, openpyxl", "file",
		"sales_report.py", []byte("import pandas\n"))
	if err != nil {
		t.Fatalf("UploadScript() error = %v", err)
	}

	if script.ID == "" {
		t.Error("expected a stored script with an ID")
	}
	if report == nil {
		t.Error("expected a dependency report")
	}
	if !strings.HasSuffix(script.Filename, "_sales_report.py") {
		t.Errorf("Filename = %q, want unique prefix plus original name", script.Filename)
	}

	content, err := os.ReadFile(filepath.Join(scriptsDir, script.Filename))
	if err != nil {
		t.Fatalf("script source not written: %v", err)
	}
	if string(content) != "import pandas\n" {
		t.Errorf("stored source = %q", content)
	}

	if _, err := repo.GetScriptByID(context.Background(), script.ID); err != nil {
		t.Errorf("script not in repository: %v", err)
	}
}

func TestUploadScript_RejectsNonPython(t *testing.T) {
	svc, _, _, _ := newScriptFixture(t)

	_, _, err := svc.UploadScript(context.Background(), "bad", "", "", "", "evil.sh", []byte("#!/bin/sh\n"))
	if !errors.Is(err, apperror.ErrValidation) {
		t.Errorf("error = %v, want ErrValidation", err)
	}
}

func TestUploadScript_RejectsEmptyNameAndFile(t *testing.T) {
	svc, _, _, _ := newScriptFixture(t)

	if _, _, err := svc.UploadScript(context.Background(), "  ", "", "", "", "x.py", []byte("a")); !errors.Is(err, apperror.ErrValidation) {
		t.Errorf("empty name error = %v, want ErrValidation", err)
	}
	if _, _, err := svc.UploadScript(context.Background(), "x", "", "", "", "x.py", nil); !errors.Is(err, apperror.ErrValidation) {
		t.Errorf("empty file error = %v, want ErrValidation", err)
	}
}

func TestUploadScript_SanitizesFilename(t *testing.T) {
	svc, _, _, scriptsDir := newScriptFixture(t)

	script, _, err := svc.UploadScript(context.Background(), "tricky", "", "", "",
		"../../etc/run me!.py", []byte("print('x')\n"))
	if err != nil {
		t.Fatalf("UploadScript() error = %v", err)
	}

	if strings.Contains(script.Filename, "/") || strings.Contains(script.Filename, "..") {
		t.Errorf("Filename = %q contains path segments", script.Filename)
	}
	if _, err := os.Stat(filepath.Join(scriptsDir, script.Filename)); err != nil {
		t.Errorf("sanitized script not written inside scriptsDir: %v", err)
	}
}

func TestDeleteScript_RemovesRecordAndFile(t *testing.T) {
	svc, repo, _, scriptsDir := newScriptFixture(t)
	script, _, err := svc.UploadScript(context.Background(), "doomed", "", "", "", "doomed.py", []byte("pass\n"))
	if err != nil {
		t.Fatalf("setup: UploadScript() error = %v", err)
	}

	if err := svc.DeleteScript(context.Background(), script.ID); err != nil {
		t.Fatalf("DeleteScript() error = %v", err)
	}

	if _, err := repo.GetScriptByID(context.Background(), script.ID); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("record survives delete: %v", err)
	}
	if _, err := os.Stat(filepath.Join(scriptsDir, script.Filename)); !os.IsNotExist(err) {
		t.Error("source file survives delete")
	}
}

func TestInviteUser_SendsEmailAndReturnsLink(t *testing.T) {
	svc, repo, notifier, _ := newScriptFixture(t)

	inv, link, emailSent, err := svc.InviteUser(context.Background(), "new@example.com")
	if err != nil {
		t.Fatalf("InviteUser() error = %v", err)
	}

	if inv.Token == "" {
		t.Error("expected a token")
	}
	if !strings.Contains(link, inv.Token) {
		t.Errorf("link %q does not carry the token", link)
	}
	if !emailSent {
		t.Error("emailSent = false with a configured notifier")
	}
	if len(notifier.invitations) != 1 || notifier.invitations[0] != "new@example.com" {
		t.Errorf("invitations sent = %v", notifier.invitations)
	}

	if _, err := repo.GetPendingInvitationByEmail(context.Background(), "new@example.com"); err != nil {
		t.Errorf("invitation not stored: %v", err)
	}
}

func TestInviteUser_UnconfiguredMailerStillReturnsLink(t *testing.T) {
	svc, _, notifier, _ := newScriptFixture(t)
	notifier.configured = false

	_, link, emailSent, err := svc.InviteUser(context.Background(), "new@example.com")
	if err != nil {
		t.Fatalf("InviteUser() error = %v", err)
	}
	if emailSent {
		t.Error("emailSent = true without SMTP config")
	}
	if link == "" {
		t.Error("the manual registration link must always be returned")
	}
}

func TestInviteUser_ExistingPendingInvitationIsReused(t *testing.T) {
	svc, _, _, _ := newScriptFixture(t)

	first, _, _, err := svc.InviteUser(context.Background(), "new@example.com")
	if err != nil {
		t.Fatalf("first InviteUser() error = %v", err)
	}
	second, _, _, err := svc.InviteUser(context.Background(), "new@example.com")
	if err != nil {
		t.Fatalf("second InviteUser() error = %v", err)
	}

	if first.Token != second.Token {
		t.Error("a pending invitation should be reused, not replaced")
	}
}

func TestInviteUser_ExistingAccountConflicts(t *testing.T) {
	svc, repo, _, _ := newScriptFixture(t)
	if err := repo.CreateUser(context.Background(), &model.User{Email: "taken@example.com", IsActive: true}); err != nil {
		t.Fatalf("setup: CreateUser() error = %v", err)
	}

	_, _, _, err := svc.InviteUser(context.Background(), "taken@example.com")
	if !errors.Is(err, apperror.ErrConflict) {
		t.Errorf("error = %v, want ErrConflict", err)
	}
}

func TestInviteUser_InvalidEmail(t *testing.T) {
	svc, _, _, _ := newScriptFixture(t)

	for _, email := range []string{"", "   ", "not-an-email"} {
		_, _, _, err := svc.InviteUser(context.Background(), email)
		if !errors.Is(err, apperror.ErrValidation) {
			t.Errorf("InviteUser(%q) error = %v, want ErrValidation", email, err)
		}
	}
}
