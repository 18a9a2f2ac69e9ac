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

var _ repository.InvitationRepository = (*DB)(nil)

func (db *DB) CreateInvitation(ctx context.Context, inv *model.Invitation) error {
	inv.ID = xid.New().String()
	inv.CreatedAt = time.Now()

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO invitations (id, email, token, used, created_at)
		 VALUES (?, ?, ?, 0, ?)`,
		inv.ID, inv.Email, inv.Token, inv.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: creating invitation: %w", err)
	}
	return nil
}

func (db *DB) GetInvitationByToken(ctx context.Context, token string) (*model.Invitation, error) {
	var inv model.Invitation
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, email, token, used, created_at
		 FROM invitations WHERE token = ?`, token,
	).Scan(&inv.ID, &inv.Email, &inv.Token, &inv.Used, &inv.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("invitation", token)
		}
		return nil, fmt.Errorf("sqlite: getting invitation: %w", err)
	}
	return &inv, nil
}

func (db *DB) GetPendingInvitationByEmail(ctx context.Context, email string) (*model.Invitation, error) {
	var inv model.Invitation
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, email, token, used, created_at
		 FROM invitations WHERE email = ? AND used = 0`, email,
	).Scan(&inv.ID, &inv.Email, &inv.Token, &inv.Used, &inv.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("invitation", email)
		}
		return nil, fmt.Errorf("sqlite: getting pending invitation for %s: %w", email, err)
	}
	return &inv, nil
}

func (db *DB) ListPendingInvitations(ctx context.Context) ([]model.Invitation, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, email, token, used, created_at
		 FROM invitations WHERE used = 0 ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing invitations: %w", err)
	}
	defer rows.Close()

	var invs []model.Invitation
	for rows.Next() {
		var inv model.Invitation
		if err := rows.Scan(&inv.ID, &inv.Email, &inv.Token, &inv.Used, &inv.CreatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scanning invitation row: %w", err)
		}
		invs = append(invs, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating invitations: %w", err)
	}
	return invs, nil
}

// MarkInvitationUsed consumes an invitation; it can never be redeemed twice.
func (db *DB) MarkInvitationUsed(ctx context.Context, id string) error {
	result, err := db.conn.ExecContext(ctx,
		`UPDATE invitations SET used = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: marking invitation %s used: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if affected == 0 {
		return apperror.NotFound("invitation", id)
	}
	return nil
}
