package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/guregu/null/v5"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/civicdesk/grievance-service/internal/domain"
	"github.com/civicdesk/grievance-service/internal/events"
	"github.com/civicdesk/grievance-service/internal/repository"
	apperrors "github.com/civicdesk/grievance-service/pkg/util/errorutil"
)

// LifecycleManager is the only component that mutates tickets. Each mutating
// call runs as one unit of work: ticket write and audit entries commit
// together, and notifications go out only after the commit.
type LifecycleManager struct {
	store      repository.Store
	validator  *TransitionValidator
	dispatcher events.Dispatcher
	logger     *zap.Logger
	clock      func() time.Time
}

// LifecycleDependencies bundles collaborators for the manager.
type LifecycleDependencies struct {
	Store      repository.Store
	Validator  *TransitionValidator
	Dispatcher events.Dispatcher
	Logger     *zap.Logger
	Clock      func() time.Time
}

// CreateTicketInput describes a citizen submission.
type CreateTicketInput struct {
	Title         string
	Description   string
	Category      string
	AttachmentRef *string
}

// ListOptions pages a listing. Zero Limit returns everything.
type ListOptions struct {
	Limit  int
	Offset int
}

// PurgeResult counts what PurgeUser touched.
type PurgeResult struct {
	Unassigned int `json:"unassigned"`
	Deleted    int `json:"deleted"`
}

// NewLifecycleManager constructs the manager.
func NewLifecycleManager(deps LifecycleDependencies) *LifecycleManager {
	m := &LifecycleManager{
		store:      deps.Store,
		validator:  deps.Validator,
		dispatcher: deps.Dispatcher,
		logger:     deps.Logger,
		clock:      deps.Clock,
	}
	if m.validator == nil {
		m.validator = NewTransitionValidator()
	}
	if m.logger == nil {
		m.logger = zap.NewNop()
	}
	if m.clock == nil {
		m.clock = time.Now
	}
	return m
}

func (m *LifecycleManager) now() time.Time {
	return m.clock().UTC()
}

// CreateTicket files a grievance, auto-assigns it and records its audit entries.
func (m *LifecycleManager) CreateTicket(ctx context.Context, principal domain.Principal, input CreateTicketInput) (*domain.Ticket, error) {
	if principal.Role != domain.RoleCitizen {
		return nil, apperrors.NewForbidden("only citizens can file grievances")
	}
	title := strings.TrimSpace(input.Title)
	description := strings.TrimSpace(input.Description)
	if title == "" || description == "" {
		return nil, apperrors.NewValidationError("title and description are required", nil)
	}

	var (
		ticket *domain.Ticket
		worker *domain.Worker
	)
	err := m.store.WithinTx(ctx, func(tx repository.Store) error {
		category := domain.NormalizeCategory(strings.TrimSpace(input.Category))
		var err error
		worker, err = NewAssignmentEngine(tx.Directory()).AutoAssign(ctx, category)
		if err != nil {
			return err
		}

		now := m.now()
		ticket = &domain.Ticket{
			ID:          uuid.NewString(),
			Title:       title,
			Description: description,
			Category:    category,
			Status:      domain.TicketStatusOpen,
			Priority:    domain.TicketPriorityLow,
			CreatorID:   principal.UserID,
			CreatedAt:   now,
			UpdatedAt:   now,
			Version:     1,
		}
		if input.AttachmentRef != nil && strings.TrimSpace(*input.AttachmentRef) != "" {
			ticket.AttachmentRef = null.StringFrom(strings.TrimSpace(*input.AttachmentRef))
		}
		if worker != nil {
			ticket.Status = domain.TicketStatusAssigned
			ticket.AssignedWorkerID = null.StringFrom(worker.ID)
		}
		if err := tx.Tickets().Create(ctx, ticket); err != nil {
			return err
		}

		audit := NewAuditTrail(tx.History(), m.clock)
		if _, err := audit.Append(ctx, ticket.ID, domain.ActionCreated, "Ticket submitted by citizen.", principal.Label()); err != nil {
			return err
		}
		if worker != nil {
			if _, err := audit.Append(ctx, ticket.ID, domain.ActionAutoAssign, "System assigned to "+worker.Name, domain.SystemActor); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, internalUnlessDomain(err)
	}

	payload := events.TicketCreatedPayload{
		Title:     ticket.Title,
		Category:  ticket.Category,
		CreatorID: ticket.CreatorID,
	}
	if worker != nil {
		payload.AssignedWorkerID = &worker.ID
		payload.AssignedWorkerName = worker.Name
	}
	m.publish(ctx, events.Event{
		Type:        events.EventTicketCreated,
		TicketID:    ticket.ID,
		RecipientID: ticket.CreatorID,
		Actor:       actorOf(principal),
		Payload:     payload,
	})
	return ticket, nil
}

// UpdateTicket applies the role-permitted part of req. Every field that actually
// changes gets its own audit entry.
func (m *LifecycleManager) UpdateTicket(ctx context.Context, principal domain.Principal, ticketID string, req UpdateRequest) (*domain.Ticket, error) {
	var (
		ticket    *domain.Ticket
		oldStatus domain.TicketStatus
	)
	err := m.store.WithinTx(ctx, func(tx repository.Store) error {
		var err error
		ticket, err = loadTicket(ctx, tx.Tickets().GetForUpdate, ticketID)
		if err != nil {
			return err
		}
		changes, err := m.validator.Authorize(ticket, req, principal)
		if err != nil {
			return err
		}
		oldStatus = ticket.Status
		if changes.Empty() {
			return nil
		}

		oldPriority := ticket.Priority
		oldWorker := ticket.AssignedWorkerID

		if changes.Status != nil {
			ticket.Status = *changes.Status
		}
		if changes.Priority != nil {
			ticket.Priority = *changes.Priority
		}
		var assignee *domain.Worker
		if changes.Assignment != nil {
			assignee, err = NewAssignmentEngine(tx.Directory()).Reassign(ctx, principal, ticket, changes.Assignment.WorkerID)
			if err != nil {
				return err
			}
		}
		if changes.Escalate {
			ticket.AssignedWorkerID = null.String{}
			ticket.Status = domain.TicketStatusOpen
		}

		now := m.now()
		if ticket.Status == domain.TicketStatusResolved && !ticket.ResolvedAt.Valid {
			ticket.ResolvedAt = null.TimeFrom(now)
		}
		ticket.UpdatedAt = now
		if err := tx.Tickets().Update(ctx, ticket); err != nil {
			if errors.Is(err, repository.ErrVersionConflict) {
				return apperrors.NewConflict("ticket was modified concurrently; refresh and retry",
					map[string]any{"ticket_id": ticket.ID})
			}
			return err
		}

		audit := NewAuditTrail(tx.History(), m.clock)
		changedBy := principal.Label()
		if ticket.Status != oldStatus {
			if _, err := audit.Append(ctx, ticket.ID, domain.ActionStatusUpdate,
				deltaDescription(string(oldStatus), string(ticket.Status)), changedBy); err != nil {
				return err
			}
		}
		if ticket.Priority != oldPriority {
			if _, err := audit.Append(ctx, ticket.ID, domain.ActionPriorityUpdate,
				deltaDescription(string(oldPriority), string(ticket.Priority)), changedBy); err != nil {
				return err
			}
		}
		if !ticket.AssignedWorkerID.Equal(oldWorker) {
			if _, err := audit.Append(ctx, ticket.ID, domain.ActionAssignment,
				assignmentDescription(assignee, ticket.AssignedWorkerID.String), changedBy); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, internalUnlessDomain(err)
	}

	if ticket.Status != oldStatus {
		m.notifyStatusChange(ctx, principal, ticket, oldStatus)
	}
	return ticket, nil
}

func (m *LifecycleManager) notifyStatusChange(ctx context.Context, principal domain.Principal, ticket *domain.Ticket, oldStatus domain.TicketStatus) {
	if oldStatus == domain.TicketStatusResolved && ticket.Status == domain.TicketStatusReopened {
		if ticket.AssignedWorkerID.Valid {
			m.publish(ctx, events.Event{
				Type:        events.EventTicketReopened,
				TicketID:    ticket.ID,
				RecipientID: ticket.AssignedWorkerID.String,
				Actor:       actorOf(principal),
				Payload: events.TicketReopenedPayload{
					WorkerID:  ticket.AssignedWorkerID.String,
					CreatorID: ticket.CreatorID,
				},
			})
		}
		return
	}
	if principal.Role == domain.RoleCitizen {
		return
	}
	m.publish(ctx, events.Event{
		Type:        events.EventTicketStatusChanged,
		TicketID:    ticket.ID,
		RecipientID: ticket.CreatorID,
		Actor:       actorOf(principal),
		Payload: events.TicketStatusChangedPayload{
			OldStatus: oldStatus,
			NewStatus: ticket.Status,
		},
	})
}

// DeleteTicket hard-deletes a ticket together with its audit trail.
func (m *LifecycleManager) DeleteTicket(ctx context.Context, principal domain.Principal, ticketID string) error {
	var status domain.TicketStatus
	err := m.store.WithinTx(ctx, func(tx repository.Store) error {
		ticket, err := loadTicket(ctx, tx.Tickets().GetForUpdate, ticketID)
		if err != nil {
			return err
		}
		if err := m.validator.AuthorizeDelete(ticket, principal); err != nil {
			return err
		}
		status = ticket.Status
		if err := NewAuditTrail(tx.History(), m.clock).Purge(ctx, ticket.ID); err != nil {
			return err
		}
		return tx.Tickets().Delete(ctx, ticket.ID)
	})
	if err != nil {
		return internalUnlessDomain(err)
	}
	m.logger.Info("ticket deleted",
		zap.String("ticket_id", ticketID),
		zap.String("status", string(status)),
		zap.String("actor_id", principal.UserID),
		zap.String("actor_role", string(principal.Role)))
	return nil
}

// ListMyTickets returns the owner's tickets newest first.
func (m *LifecycleManager) ListMyTickets(ctx context.Context, principal domain.Principal, ownerID string, opts ListOptions) ([]domain.Ticket, error) {
	switch {
	case principal.IsStaff():
	case principal.Role == domain.RoleCitizen && principal.UserID == ownerID:
	default:
		return nil, apperrors.NewForbidden("access denied")
	}
	tickets, err := m.store.Tickets().List(ctx, repository.TicketFilter{
		CreatorID: &ownerID,
		Limit:     opts.Limit,
		Offset:    opts.Offset,
	})
	return tickets, internalUnlessDomain(err)
}

// ListAssigned returns a worker's queue: HIGH priority first, then newest first.
func (m *LifecycleManager) ListAssigned(ctx context.Context, principal domain.Principal, workerID string, opts ListOptions) ([]domain.Ticket, error) {
	switch {
	case principal.IsStaff():
	case principal.Role == domain.RoleWorker && principal.UserID == workerID:
	default:
		return nil, apperrors.NewForbidden("access denied")
	}
	tickets, err := m.store.Tickets().List(ctx, repository.TicketFilter{
		AssignedWorkerID:  &workerID,
		HighPriorityFirst: true,
		Limit:             opts.Limit,
		Offset:            opts.Offset,
	})
	return tickets, internalUnlessDomain(err)
}

// ListAll returns every ticket newest first.
func (m *LifecycleManager) ListAll(ctx context.Context, principal domain.Principal, opts ListOptions) ([]domain.Ticket, error) {
	if !principal.IsStaff() {
		return nil, apperrors.NewForbidden("access denied")
	}
	tickets, err := m.store.Tickets().List(ctx, repository.TicketFilter{Limit: opts.Limit, Offset: opts.Offset})
	return tickets, internalUnlessDomain(err)
}

// GetHistory returns the audit trail newest first.
func (m *LifecycleManager) GetHistory(ctx context.Context, principal domain.Principal, ticketID string) ([]domain.TicketHistory, error) {
	ticket, err := loadTicket(ctx, m.store.Tickets().GetByID, ticketID)
	if err != nil {
		return nil, err
	}
	if err := m.validator.AuthorizeView(ticket, principal); err != nil {
		return nil, err
	}
	entries, err := NewAuditTrail(m.store.History(), m.clock).GetHistory(ctx, ticket.ID)
	return entries, internalUnlessDomain(err)
}

// GetAttachment returns the opaque attachment reference stored on a ticket.
func (m *LifecycleManager) GetAttachment(ctx context.Context, principal domain.Principal, ticketID string) (string, error) {
	ticket, err := loadTicket(ctx, m.store.Tickets().GetByID, ticketID)
	if err != nil {
		return "", err
	}
	if err := m.validator.AuthorizeView(ticket, principal); err != nil {
		return "", err
	}
	if !ticket.AttachmentRef.Valid {
		return "", apperrors.NewNotFound("attachment", map[string]any{"ticket_id": ticket.ID})
	}
	return ticket.AttachmentRef.String, nil
}

// ListWorkers exposes the directory to administrators.
func (m *LifecycleManager) ListWorkers(ctx context.Context, principal domain.Principal) ([]domain.Worker, error) {
	if !principal.IsStaff() {
		return nil, apperrors.NewForbidden("access denied")
	}
	workers, err := m.store.Directory().ListWorkers(ctx)
	return workers, internalUnlessDomain(err)
}

// PurgeUser cleans up after an account removal: the user's own tickets are
// deleted and tickets assigned to them go back to the pool as OPEN.
func (m *LifecycleManager) PurgeUser(ctx context.Context, principal domain.Principal, userID string) (PurgeResult, error) {
	if principal.Role != domain.RoleSuperAdmin {
		return PurgeResult{}, apperrors.NewForbidden("only super administrators can purge users")
	}
	if strings.TrimSpace(userID) == "" {
		return PurgeResult{}, apperrors.NewValidationError("user id is required", nil)
	}

	var result PurgeResult
	err := m.store.WithinTx(ctx, func(tx repository.Store) error {
		result = PurgeResult{}
		audit := NewAuditTrail(tx.History(), m.clock)

		created, err := tx.Tickets().List(ctx, repository.TicketFilter{CreatorID: &userID})
		if err != nil {
			return err
		}
		for _, ticket := range created {
			if err := audit.Purge(ctx, ticket.ID); err != nil {
				return err
			}
			if err := tx.Tickets().Delete(ctx, ticket.ID); err != nil {
				return err
			}
			result.Deleted++
		}

		assigned, err := tx.Tickets().List(ctx, repository.TicketFilter{AssignedWorkerID: &userID})
		if err != nil {
			return err
		}
		for _, listed := range assigned {
			ticket, err := loadTicket(ctx, tx.Tickets().GetForUpdate, listed.ID)
			if err != nil {
				return err
			}
			oldStatus := ticket.Status
			ticket.AssignedWorkerID = null.String{}
			ticket.Status = domain.TicketStatusOpen
			ticket.UpdatedAt = m.now()
			if err := tx.Tickets().Update(ctx, ticket); err != nil {
				return err
			}
			if _, err := audit.Append(ctx, ticket.ID, domain.ActionAssignment,
				assignmentDescription(nil, ""), domain.SystemActor); err != nil {
				return err
			}
			if oldStatus != ticket.Status {
				if _, err := audit.Append(ctx, ticket.ID, domain.ActionStatusUpdate,
					deltaDescription(string(oldStatus), string(ticket.Status)), domain.SystemActor); err != nil {
					return err
				}
			}
			result.Unassigned++
		}
		return nil
	})
	if err != nil {
		return PurgeResult{}, internalUnlessDomain(err)
	}
	m.logger.Info("user purged",
		zap.String("user_id", userID),
		zap.Int("deleted", result.Deleted),
		zap.Int("unassigned", result.Unassigned),
		zap.String("actor_id", principal.UserID))
	return result, nil
}

func (m *LifecycleManager) publish(ctx context.Context, event events.Event) {
	if m.dispatcher == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = m.now()
	}
	if err := m.dispatcher.Publish(ctx, event); err != nil {
		m.logger.Warn("notification publish failed",
			zap.String("event_type", string(event.Type)),
			zap.String("ticket_id", event.TicketID),
			zap.Error(err))
	}
}

func loadTicket(ctx context.Context, get func(context.Context, string) (*domain.Ticket, error), id string) (*domain.Ticket, error) {
	ticket, err := get(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": id})
		}
		return nil, apperrors.NewInternalError(err)
	}
	return ticket, nil
}

func internalUnlessDomain(err error) error {
	if err == nil {
		return nil
	}
	var domainErr *apperrors.DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	return apperrors.NewInternalError(err)
}

func actorOf(principal domain.Principal) events.Actor {
	return events.Actor{UserID: principal.UserID, Role: principal.Role, Name: principal.Name}
}
