// Package repository defines the persistence interfaces the service layer
// programs against. The sqlite subpackage provides the real implementation;
// tests substitute in-memory fakes.
//
// One concrete store implements all four interfaces, so method names are
// entity-qualified to keep the sets disjoint.
package repository

import (
	"context"

	"github.com/sakif/script-runner/internal/model"
)

type UserRepository interface {
	CreateUser(ctx context.Context, user *model.User) error
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	ListUsers(ctx context.Context) ([]model.User, error)
	RecordLogin(ctx context.Context, id string) error
}

type ScriptRepository interface {
	CreateScript(ctx context.Context, script *model.Script) error
	GetScriptByID(ctx context.Context, id string) (*model.Script, error)
	ListScripts(ctx context.Context) ([]model.Script, error)
	DeleteScript(ctx context.Context, id string) error
}

type InvitationRepository interface {
	CreateInvitation(ctx context.Context, inv *model.Invitation) error
	GetInvitationByToken(ctx context.Context, token string) (*model.Invitation, error)
	GetPendingInvitationByEmail(ctx context.Context, email string) (*model.Invitation, error)
	ListPendingInvitations(ctx context.Context) ([]model.Invitation, error)
	MarkInvitationUsed(ctx context.Context, id string) error
}

type ExecutionRepository interface {
	CreateExecution(ctx context.Context, exec *model.Execution) error
	SaveExecution(ctx context.Context, exec *model.Execution) error
	GetExecutionByID(ctx context.Context, id string) (*model.Execution, error)
	ListExecutionsByUser(ctx context.Context, userID string, limit int) ([]model.Execution, error)
}
