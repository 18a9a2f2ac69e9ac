package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/script-runner/internal/apperror"
	"github.com/sakif/script-runner/internal/model"
	"github.com/sakif/script-runner/internal/output"
	"github.com/sakif/script-runner/internal/repository"
)

var _ repository.ExecutionRepository = (*DB)(nil)

// CreateExecution inserts the initial row for an attempt, before the
// pipeline runs. The generated ID is what keys the workspace and the
// permanent directory, so it must exist before any filesystem work starts.
func (db *DB) CreateExecution(ctx context.Context, exec *model.Execution) error {
	exec.ID = xid.New().String()
	exec.CreatedAt = time.Now()

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO executions (id, script_id, user_id, arguments, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		exec.ID, exec.ScriptID, exec.UserID, exec.Arguments, exec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: creating execution: %w", err)
	}
	return nil
}

// SaveExecution writes the finished result over the initial row. The row is
// immutable after this save; nothing updates it again.
func (db *DB) SaveExecution(ctx context.Context, exec *model.Execution) error {
	missing, err := json.Marshal(orEmpty(exec.MissingPackages))
	if err != nil {
		return fmt.Errorf("sqlite: encoding missing packages: %w", err)
	}
	warnings, err := json.Marshal(orEmpty(exec.PackageWarnings))
	if err != nil {
		return fmt.Errorf("sqlite: encoding package warnings: %w", err)
	}
	files, err := json.Marshal(exec.OutputFiles)
	if err != nil {
		return fmt.Errorf("sqlite: encoding output files: %w", err)
	}

	result, err := db.conn.ExecContext(ctx,
		`UPDATE executions
		 SET stdout = ?, stderr = ?, exit_code = ?, timed_out = ?,
		     error_message = ?, missing_packages = ?, package_warnings = ?,
		     output_files = ?, storage_degraded = ?, email_sent = ?, cleaned_up = ?
		 WHERE id = ?`,
		exec.Stdout, exec.Stderr, exec.ExitCode, exec.TimedOut,
		exec.ErrorMessage, string(missing), string(warnings),
		string(files), exec.StorageDegraded, exec.EmailSent, exec.CleanedUp,
		exec.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: saving execution %s: %w", exec.ID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if affected == 0 {
		return apperror.NotFound("execution", exec.ID)
	}
	return nil
}

func (db *DB) GetExecutionByID(ctx context.Context, id string) (*model.Execution, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT id, script_id, user_id, arguments, stdout, stderr, exit_code,
		        timed_out, error_message, missing_packages, package_warnings,
		        output_files, storage_degraded, email_sent, cleaned_up, created_at
		 FROM executions WHERE id = ?`, id)

	exec, err := scanExecution(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("execution", id)
		}
		return nil, fmt.Errorf("sqlite: getting execution %s: %w", id, err)
	}
	return exec, nil
}

func (db *DB) ListExecutionsByUser(ctx context.Context, userID string, limit int) ([]model.Execution, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, script_id, user_id, arguments, stdout, stderr, exit_code,
		        timed_out, error_message, missing_packages, package_warnings,
		        output_files, storage_degraded, email_sent, cleaned_up, created_at
		 FROM executions WHERE user_id = ?
		 ORDER BY created_at DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing executions: %w", err)
	}
	defer rows.Close()

	var execs []model.Execution
	for rows.Next() {
		exec, err := scanExecution(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning execution row: %w", err)
		}
		execs = append(execs, *exec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating executions: %w", err)
	}
	return execs, nil
}

func scanExecution(scan func(dest ...any) error) (*model.Execution, error) {
	var e model.Execution
	var missing, warnings, files string
	if err := scan(&e.ID, &e.ScriptID, &e.UserID, &e.Arguments, &e.Stdout, &e.Stderr,
		&e.ExitCode, &e.TimedOut, &e.ErrorMessage, &missing, &warnings,
		&files, &e.StorageDegraded, &e.EmailSent, &e.CleanedUp, &e.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(missing), &e.MissingPackages); err != nil {
		return nil, fmt.Errorf("decoding missing packages: %w", err)
	}
	if err := json.Unmarshal([]byte(warnings), &e.PackageWarnings); err != nil {
		return nil, fmt.Errorf("decoding package warnings: %w", err)
	}
	if err := json.Unmarshal([]byte(files), &e.OutputFiles); err != nil {
		return nil, fmt.Errorf("decoding output files: %w", err)
	}
	// The summary is derived data; recomputing it from the stored records
	// keeps the row schema to one JSON column.
	e.FileSummary = output.Summarize(e.OutputFiles)
	return &e, nil
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
