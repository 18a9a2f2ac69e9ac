// Package service contains the business logic layer: the execution
// orchestrator that drives the run pipeline, account management, and
// script administration. Services accept primitives and domain types,
// never HTTP, and return apperror values for handlers to translate.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/sakif/script-runner/internal/apperror"
	"github.com/sakif/script-runner/internal/config"
	"github.com/sakif/script-runner/internal/mailer"
	"github.com/sakif/script-runner/internal/model"
	"github.com/sakif/script-runner/internal/output"
	"github.com/sakif/script-runner/internal/pypkg"
	"github.com/sakif/script-runner/internal/repository"
	"github.com/sakif/script-runner/internal/runner"
)

// ScriptRunner runs a script as a subprocess. Satisfied by *runner.Runner.
type ScriptRunner interface {
	Run(ctx context.Context, scriptPath string, args []string, workDir string, timeout time.Duration) (*runner.Result, error)
}

// PackageResolver checks and installs script dependencies. Satisfied by
// *pypkg.Resolver.
type PackageResolver interface {
	Analyze(ctx context.Context, scriptPath, requirements string) (*pypkg.Report, error)
	Install(ctx context.Context, packages []string) (string, error)
	Verify(ctx context.Context, packages []string) error
}

// Notifier delivers execution reports and invitations. Satisfied by
// *mailer.Mailer.
type Notifier interface {
	Configured() bool
	SendExecutionResult(req mailer.ResultEmail) error
	SendInvitation(toEmail, token string) error
}

// ExecutionService is the orchestrator: it sequences workspace allocation,
// the package check, the subprocess run, the output diff, persistence to
// the permanent store, notification, and cleanup, and produces the final
// execution record.
//
// The sequencing policy: results are valuable even when a downstream step
// fails. Only an inability to run the process at all (or a dependency that
// will not import after auto-install) fails the execution; storage and
// email failures degrade the result instead.
type ExecutionService struct {
	scripts    repository.ScriptRepository
	users      repository.UserRepository
	executions repository.ExecutionRepository
	workspaces *output.Workspaces
	store      *output.Store
	runner     ScriptRunner
	packages   PackageResolver
	notifier   Notifier
	cfg        config.Config
	logger     *slog.Logger
}

func NewExecutionService(
	scripts repository.ScriptRepository,
	users repository.UserRepository,
	executions repository.ExecutionRepository,
	workspaces *output.Workspaces,
	store *output.Store,
	scriptRunner ScriptRunner,
	packages PackageResolver,
	notifier Notifier,
	cfg config.Config,
	logger *slog.Logger,
) *ExecutionService {
	return &ExecutionService{
		scripts:    scripts,
		users:      users,
		executions: executions,
		workspaces: workspaces,
		store:      store,
		runner:     scriptRunner,
		packages:   packages,
		notifier:   notifier,
		cfg:        cfg,
		logger:     logger,
	}
}

// ParseArguments turns the free-text argument field into an ordered list.
// Text starting with '[' is decoded as a JSON array (elements stringified);
// anything else is a single argument; empty text means no arguments.
func ParseArguments(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	if strings.HasPrefix(raw, "[") {
		var items []any
		if err := json.Unmarshal([]byte(raw), &items); err == nil {
			args := make([]string, len(items))
			for i, item := range items {
				if s, ok := item.(string); ok {
					args[i] = s
				} else {
					args[i] = fmt.Sprint(item)
				}
			}
			return args
		}
	}
	return []string{raw}
}

// Run executes one ExecutionRequest end to end and returns the saved
// execution record. A returned error means the execution failed before the
// script could run (resource or package verification failure); everything
// else, including non-zero exits, timeouts, storage and email failures, is
// encoded in the record.
func (s *ExecutionService) Run(ctx context.Context, req model.ExecutionRequest) (*model.Execution, error) {
	script, err := s.scripts.GetScriptByID(ctx, req.ScriptID)
	if err != nil {
		return nil, err
	}
	user, err := s.users.GetUserByID(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	exec := &model.Execution{
		ScriptID:  script.ID,
		UserID:    user.ID,
		Arguments: req.RawArgs,
	}
	if err := s.executions.CreateExecution(ctx, exec); err != nil {
		return nil, err
	}

	log := s.logger.With(
		slog.String("executionId", exec.ID),
		slog.String("script", script.Name),
		slog.String("userId", user.ID),
	)
	log.Info("execution started")

	scriptPath, err := filepath.Abs(filepath.Join(s.cfg.ScriptsDir, script.Filename))
	if err != nil {
		return s.fail(ctx, exec, user, script, apperror.Resource("resolving script path", err))
	}

	workspace, err := s.workspaces.Create(exec.ID, user.ID)
	if err != nil {
		return s.fail(ctx, exec, user, script, err)
	}
	defer s.workspaces.Remove(workspace)

	// Package check. Missing packages without auto-install are a warning;
	// with auto-install they must install and verify, or the execution
	// fails before the script runs.
	report, err := s.packages.Analyze(ctx, scriptPath, script.Requirements)
	if err != nil {
		log.Warn("dependency analysis failed", slog.String("error", err.Error()))
		exec.PackageWarnings = append(exec.PackageWarnings, fmt.Sprintf("dependency analysis failed: %v", err))
	} else {
		exec.PackageWarnings = append(exec.PackageWarnings, report.Warnings...)
		if len(report.Missing) > 0 {
			exec.MissingPackages = report.Missing
			if req.AutoInstall {
				if installErr := s.installAndVerify(ctx, report.Missing, log); installErr != nil {
					return s.fail(ctx, exec, user, script, installErr)
				}
				exec.MissingPackages = nil
				exec.PackageWarnings = append(exec.PackageWarnings,
					fmt.Sprintf("installed packages: %s", strings.Join(report.Missing, ", ")))
			} else {
				exec.PackageWarnings = append(exec.PackageWarnings,
					fmt.Sprintf("missing packages: %s", strings.Join(report.Missing, ", ")),
					fmt.Sprintf("install command: %s", report.InstallCommand))
			}
		}
	}

	before, err := output.Snapshot(workspace)
	if err != nil {
		return s.fail(ctx, exec, user, script, apperror.Resource("snapshotting workspace", err))
	}

	// Running. A non-zero exit code or a timeout is data; only a spawn
	// failure aborts.
	result, err := s.runner.Run(ctx, scriptPath, req.Arguments, workspace, s.cfg.ExecutionTimeout)
	if err != nil {
		return s.fail(ctx, exec, user, script, err)
	}
	exec.Stdout = result.Stdout
	exec.Stderr = result.Stderr
	exec.ExitCode = result.ExitCode
	exec.TimedOut = result.TimedOut
	if result.TimedOut {
		exec.ErrorMessage = fmt.Sprintf("script execution timed out after %s", s.cfg.ExecutionTimeout)
	}

	// Diffing always happens, whatever the exit code.
	records, err := output.Diff(workspace, before, script.Filename)
	if err != nil {
		log.Error("output diff failed", slog.String("error", err.Error()))
		exec.PackageWarnings = append(exec.PackageWarnings, fmt.Sprintf("output scan failed: %v", err))
		records = nil
	}
	records = s.enforceSizeLimits(exec, records)
	exec.OutputFiles = records
	exec.FileSummary = output.Summarize(records)

	// Persisting is skipped when there is nothing to persist. A storage
	// failure degrades the result: the user still learns about
	// stdout/stderr/exit code, just without downloads or attachments.
	if len(records) > 0 {
		permanentDir, persistErr := s.store.Persist(exec.ID, workspace, records)
		if persistErr != nil {
			log.Error("persisting output files failed", slog.String("error", persistErr.Error()))
			exec.StorageDegraded = true
		} else {
			exec.PermanentDir = permanentDir
		}
	}

	// Notifying is best-effort; failure is recorded, never fatal.
	outcome := s.notify(exec, user, script, log)
	exec.EmailSent = outcome == output.NotificationSucceeded

	// Cleanup only ever deletes after a confirmed delivery.
	decision := output.DecideCleanup(s.cfg.CleanupAfterEmail, outcome, len(records))
	if err := output.ApplyCleanup(s.store, decision, exec.ID); err != nil {
		log.Error("cleanup failed", slog.String("error", err.Error()))
	} else {
		exec.CleanedUp = decision.Delete
	}
	log.Info("execution finished",
		slog.Int("exitCode", exec.ExitCode),
		slog.Bool("timedOut", exec.TimedOut),
		slog.Int("outputFiles", len(records)),
		slog.Bool("emailSent", exec.EmailSent),
		slog.String("cleanup", decision.Reason),
	)

	if err := s.executions.SaveExecution(ctx, exec); err != nil {
		return nil, err
	}
	return exec, nil
}

// GetExecution returns an execution owned by userID. Executions belonging
// to other users report not found rather than forbidden, so IDs cannot be
// probed.
func (s *ExecutionService) GetExecution(ctx context.Context, executionID, userID string) (*model.Execution, error) {
	exec, err := s.executions.GetExecutionByID(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if exec.UserID != userID {
		return nil, apperror.NotFound("execution", executionID)
	}
	return exec, nil
}

// executionHistoryLimit bounds the history endpoint. Old executions stay
// in the database; the API just stops paging them in.
const executionHistoryLimit = 50

// ListExecutions returns the user's execution history, newest first.
func (s *ExecutionService) ListExecutions(ctx context.Context, userID string) ([]model.Execution, error) {
	return s.executions.ListExecutionsByUser(ctx, userID, executionHistoryLimit)
}

// ListExecutionFiles re-scans the permanent directory of an execution the
// user owns.
func (s *ExecutionService) ListExecutionFiles(ctx context.Context, executionID, userID string) ([]model.FileRecord, model.FileSummary, error) {
	if _, err := s.GetExecution(ctx, executionID, userID); err != nil {
		return nil, model.FileSummary{}, err
	}
	records, err := s.store.List(executionID)
	if err != nil {
		return nil, model.FileSummary{}, err
	}
	return records, output.Summarize(records), nil
}

// ResolveDownload maps a download request to an absolute path, enforcing
// ownership and the store's traversal checks.
func (s *ExecutionService) ResolveDownload(ctx context.Context, executionID, userID, relPath string) (string, error) {
	if _, err := s.GetExecution(ctx, executionID, userID); err != nil {
		return "", err
	}
	return s.store.ResolveDownloadPath(executionID, relPath)
}

func (s *ExecutionService) installAndVerify(ctx context.Context, missing []string, log *slog.Logger) error {
	log.Info("auto-installing packages", slog.String("packages", strings.Join(missing, ", ")))
	installLog, err := s.packages.Install(ctx, missing)
	if err != nil {
		log.Error("package install failed", slog.String("error", err.Error()))
		return &apperror.AppError{
			Err:     apperror.ErrPackageVerification,
			Message: fmt.Sprintf("missing packages could not be installed: %v", err),
		}
	}
	if installLog != "" {
		log.Debug("pip install output", slog.String("log", installLog))
	}
	// Installed is not the same as importable; verify before running.
	return s.packages.Verify(ctx, missing)
}

// fail finalizes an execution that never reached Running: record the error,
// save the row, send a best-effort error report, and surface the error.
func (s *ExecutionService) fail(ctx context.Context, exec *model.Execution, user *model.User, script *model.Script, cause error) (*model.Execution, error) {
	exec.ErrorMessage = cause.Error()
	exec.ExitCode = -1

	var appErr *apperror.AppError
	if errors.As(cause, &appErr) && errors.Is(cause, apperror.ErrPackageVerification) {
		// The error report for a package failure is worth sending; the
		// user can fix requirements without visiting the dashboard.
		s.notify(exec, user, script, s.logger)
	}

	if err := s.executions.SaveExecution(ctx, exec); err != nil {
		s.logger.Error("saving failed execution", slog.String("executionId", exec.ID), slog.String("error", err.Error()))
	}
	return exec, cause
}

func (s *ExecutionService) notify(exec *model.Execution, user *model.User, script *model.Script, log *slog.Logger) output.NotificationOutcome {
	if !s.notifier.Configured() {
		log.Debug("email not configured, skipping result notification")
		return output.NotificationNotAttempted
	}

	var attachments []string
	if !exec.StorageDegraded && exec.PermanentDir != "" {
		for _, f := range exec.OutputFiles {
			if f.Size <= s.cfg.AttachmentMaxBytes {
				attachments = append(attachments, filepath.Join(exec.PermanentDir, filepath.FromSlash(f.Path)))
			}
		}
	}

	err := s.notifier.SendExecutionResult(mailer.ResultEmail{
		To:          user.Email,
		ScriptName:  script.Name,
		Execution:   exec,
		Attachments: attachments,
	})
	if err != nil {
		log.Warn("result email failed", slog.String("error", err.Error()))
		return output.NotificationFailed
	}
	log.Info("result email sent", slog.String("to", user.Email), slog.Int("attachments", len(attachments)))
	return output.NotificationSucceeded
}

// enforceSizeLimits drops oversized files and stops collecting once the
// total output budget is exhausted, recording a warning for each drop.
func (s *ExecutionService) enforceSizeLimits(exec *model.Execution, records []model.FileRecord) []model.FileRecord {
	kept := records[:0]
	var total int64
	for _, r := range records {
		if s.cfg.MaxFileBytes > 0 && r.Size > s.cfg.MaxFileBytes {
			exec.PackageWarnings = append(exec.PackageWarnings,
				fmt.Sprintf("output file %s exceeds the per-file size limit and was not stored", r.Path))
			continue
		}
		if s.cfg.MaxTotalOutputBytes > 0 && total+r.Size > s.cfg.MaxTotalOutputBytes {
			exec.PackageWarnings = append(exec.PackageWarnings,
				fmt.Sprintf("total output size limit reached; %s and later files were not stored", r.Path))
			break
		}
		total += r.Size
		kept = append(kept, r)
	}
	return kept
}
