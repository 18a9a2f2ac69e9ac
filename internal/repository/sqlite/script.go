package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/script-runner/internal/apperror"
	"github.com/sakif/script-runner/internal/model"
	"github.com/sakif/script-runner/internal/repository"
)

var _ repository.ScriptRepository = (*DB)(nil)

func (db *DB) CreateScript(ctx context.Context, script *model.Script) error {
	script.ID = xid.New().String()
	script.CreatedAt = time.Now()
	if script.OutputType == "" {
		script.OutputType = "both"
	}

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO scripts (id, name, filename, description, requirements, output_type, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		script.ID, script.Name, script.Filename, script.Description,
		script.Requirements, script.OutputType, script.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: creating script: %w", err)
	}
	return nil
}

func (db *DB) GetScriptByID(ctx context.Context, id string) (*model.Script, error) {
	var s model.Script
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, name, filename, description, requirements, output_type, created_at
		 FROM scripts WHERE id = ?`, id,
	).Scan(&s.ID, &s.Name, &s.Filename, &s.Description, &s.Requirements, &s.OutputType, &s.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("script", id)
		}
		return nil, fmt.Errorf("sqlite: getting script %s: %w", id, err)
	}
	return &s, nil
}

func (db *DB) ListScripts(ctx context.Context) ([]model.Script, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, name, filename, description, requirements, output_type, created_at
		 FROM scripts ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing scripts: %w", err)
	}
	defer rows.Close()

	var scripts []model.Script
	for rows.Next() {
		var s model.Script
		if err := rows.Scan(&s.ID, &s.Name, &s.Filename, &s.Description,
			&s.Requirements, &s.OutputType, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scanning script row: %w", err)
		}
		scripts = append(scripts, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating scripts: %w", err)
	}
	return scripts, nil
}

func (db *DB) DeleteScript(ctx context.Context, id string) error {
	result, err := db.conn.ExecContext(ctx, `DELETE FROM scripts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: deleting script %s: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if affected == 0 {
		return apperror.NotFound("script", id)
	}
	return nil
}
