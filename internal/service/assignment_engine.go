package service

import (
	"context"
	"errors"

	"github.com/guregu/null/v5"
	"github.com/jackc/pgx/v5"

	"github.com/civicdesk/grievance-service/internal/domain"
	"github.com/civicdesk/grievance-service/internal/repository"
	apperrors "github.com/civicdesk/grievance-service/pkg/util/errorutil"
)

// AssignmentEngine routes tickets to workers.
type AssignmentEngine struct {
	directory repository.DirectoryRepository
}

// NewAssignmentEngine creates the engine.
func NewAssignmentEngine(directory repository.DirectoryRepository) *AssignmentEngine {
	return &AssignmentEngine{directory: directory}
}

// AutoAssign returns the first worker of the category's department in directory
// order, or nil when the department has nobody.
func (e *AssignmentEngine) AutoAssign(ctx context.Context, category domain.Category) (*domain.Worker, error) {
	workers, err := e.directory.WorkersByDepartment(ctx, category)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	for i := range workers {
		if workers[i].Department == category {
			return &workers[i], nil
		}
	}
	return nil, nil
}

// Reassign points the ticket at workerID, or clears it when workerID is null.
// The status is left alone: administrative reassignment is deliberate.
func (e *AssignmentEngine) Reassign(ctx context.Context, actor domain.Principal, ticket *domain.Ticket, workerID null.String) (*domain.Worker, error) {
	if !actor.IsStaff() {
		return nil, apperrors.NewForbidden("only administrators can reassign tickets")
	}
	if !workerID.Valid {
		ticket.AssignedWorkerID = null.String{}
		return nil, nil
	}
	worker, err := e.directory.GetWorker(ctx, workerID.String)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewValidationError("unknown worker", map[string]any{"worker_id": workerID.String})
		}
		return nil, apperrors.NewInternalError(err)
	}
	ticket.AssignedWorkerID = null.StringFrom(worker.ID)
	return worker, nil
}
