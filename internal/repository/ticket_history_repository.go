package repository

import (
	"context"

	"github.com/civicdesk/grievance-service/internal/domain"
)

// TicketHistoryRepository stores audit entries. Entries are never updated;
// they only disappear together with their ticket.
type TicketHistoryRepository interface {
	Append(ctx context.Context, entry *domain.TicketHistory) error
	// ListByTicket returns entries in reverse order of acceptance. seq is taken
	// while the ticket row is locked, so it orders mutations even when replica
	// clocks disagree; created_at is informational.
	ListByTicket(ctx context.Context, ticketID string) ([]domain.TicketHistory, error)
	DeleteByTicket(ctx context.Context, ticketID string) error
}

type ticketHistoryRepository struct {
	db DBTX
}

func (r *ticketHistoryRepository) Append(ctx context.Context, entry *domain.TicketHistory) error {
	const query = `
        INSERT INTO ticket_history (id, ticket_id, action, description, changed_by, created_at)
        VALUES ($1,$2,$3,$4,$5,$6)
        RETURNING seq`
	return r.db.QueryRow(ctx, query,
		entry.ID,
		entry.TicketID,
		entry.Action,
		entry.Description,
		entry.ChangedBy,
		entry.Timestamp,
	).Scan(&entry.Seq)
}

func (r *ticketHistoryRepository) ListByTicket(ctx context.Context, ticketID string) ([]domain.TicketHistory, error) {
	const query = `
        SELECT id, seq, ticket_id, action, description, changed_by, created_at
        FROM ticket_history WHERE ticket_id=$1 ORDER BY seq DESC`
	rows, err := r.db.Query(ctx, query, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []domain.TicketHistory{}
	for rows.Next() {
		var entry domain.TicketHistory
		if err := rows.Scan(
			&entry.ID,
			&entry.Seq,
			&entry.TicketID,
			&entry.Action,
			&entry.Description,
			&entry.ChangedBy,
			&entry.Timestamp,
		); err != nil {
			return nil, err
		}
		result = append(result, entry)
	}
	return result, rows.Err()
}

func (r *ticketHistoryRepository) DeleteByTicket(ctx context.Context, ticketID string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM ticket_history WHERE ticket_id=$1`, ticketID)
	return err
}
