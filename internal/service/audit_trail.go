package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/civicdesk/grievance-service/internal/domain"
	"github.com/civicdesk/grievance-service/internal/repository"
)

// AuditTrail writes history through the repository of the current unit of work,
// so entries commit or roll back together with the ticket change they describe.
type AuditTrail struct {
	entries repository.TicketHistoryRepository
	now     func() time.Time
}

// NewAuditTrail binds the trail to a history repository.
func NewAuditTrail(entries repository.TicketHistoryRepository, now func() time.Time) *AuditTrail {
	if now == nil {
		now = time.Now
	}
	return &AuditTrail{entries: entries, now: now}
}

// Append records one change. Failure must abort the surrounding transaction.
func (a *AuditTrail) Append(ctx context.Context, ticketID string, action domain.HistoryAction, description, changedBy string) (*domain.TicketHistory, error) {
	entry := &domain.TicketHistory{
		ID:          uuid.NewString(),
		TicketID:    ticketID,
		Action:      action,
		Description: description,
		ChangedBy:   changedBy,
		Timestamp:   a.now().UTC(),
	}
	if err := a.entries.Append(ctx, entry); err != nil {
		return nil, fmt.Errorf("append %s history for ticket %s: %w", action, ticketID, err)
	}
	return entry, nil
}

// GetHistory returns the ticket's entries, last accepted mutation first.
func (a *AuditTrail) GetHistory(ctx context.Context, ticketID string) ([]domain.TicketHistory, error) {
	return a.entries.ListByTicket(ctx, ticketID)
}

// Purge drops every entry of a ticket that is being hard-deleted.
func (a *AuditTrail) Purge(ctx context.Context, ticketID string) error {
	return a.entries.DeleteByTicket(ctx, ticketID)
}

func deltaDescription(from, to string) string {
	return fmt.Sprintf("%s ➜ %s", from, to)
}

func assignmentDescription(worker *domain.Worker, workerID string) string {
	if workerID == "" {
		return "Unassigned (sent to pool)"
	}
	if worker != nil && worker.Name != "" {
		return fmt.Sprintf("Assigned to %s", worker.Name)
	}
	return fmt.Sprintf("Assigned to %s", workerID)
}
