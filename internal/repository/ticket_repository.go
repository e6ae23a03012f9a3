package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/civicdesk/grievance-service/internal/domain"
)

// TicketFilter narrows ticket listings.
type TicketFilter struct {
	CreatorID        *string
	AssignedWorkerID *string
	// HighPriorityFirst floats HIGH tickets above the newest-first ordering.
	HighPriorityFirst bool
	Limit             int
	Offset            int
}

// TicketRepository encapsulates ticket persistence.
type TicketRepository interface {
	Create(ctx context.Context, ticket *domain.Ticket) error
	// Update writes mutable fields when the stored version still matches
	// ticket.Version, then bumps the version.
	Update(ctx context.Context, ticket *domain.Ticket) error
	GetByID(ctx context.Context, id string) (*domain.Ticket, error)
	// GetForUpdate loads the ticket and holds its row lock until the
	// surrounding transaction ends.
	GetForUpdate(ctx context.Context, id string) (*domain.Ticket, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error)
}

type ticketRepository struct {
	db DBTX
}

const ticketColumns = `id, title, description, category, status, priority, creator_id,
               assigned_worker_id, attachment_ref, created_at, updated_at, resolved_at, version`

func (r *ticketRepository) Create(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        INSERT INTO tickets (id, title, description, category, status, priority, creator_id,
            assigned_worker_id, attachment_ref, created_at, updated_at, resolved_at, version)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`
	_, err := r.db.Exec(ctx, query,
		ticket.ID,
		ticket.Title,
		ticket.Description,
		ticket.Category,
		ticket.Status,
		ticket.Priority,
		ticket.CreatorID,
		ticket.AssignedWorkerID,
		ticket.AttachmentRef,
		ticket.CreatedAt,
		ticket.UpdatedAt,
		ticket.ResolvedAt,
		ticket.Version,
	)
	return err
}

func (r *ticketRepository) Update(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        UPDATE tickets SET status=$1, priority=$2, assigned_worker_id=$3, resolved_at=$4,
            updated_at=$5, version=version+1
        WHERE id=$6 AND version=$7`
	cmd, err := r.db.Exec(ctx, query,
		ticket.Status,
		ticket.Priority,
		ticket.AssignedWorkerID,
		ticket.ResolvedAt,
		ticket.UpdatedAt,
		ticket.ID,
		ticket.Version,
	)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrVersionConflict
	}
	ticket.Version++
	return nil
}

func (r *ticketRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE id=$1`
	return scanTicket(r.db.QueryRow(ctx, query, id))
}

func (r *ticketRepository) GetForUpdate(ctx context.Context, id string) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE id=$1 FOR UPDATE`
	return scanTicket(r.db.QueryRow(ctx, query, id))
}

func (r *ticketRepository) Delete(ctx context.Context, id string) error {
	cmd, err := r.db.Exec(ctx, `DELETE FROM tickets WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *ticketRepository) List(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error) {
	clauses := []string{"1=1"}
	args := []any{}

	if filter.CreatorID != nil {
		args = append(args, *filter.CreatorID)
		clauses = append(clauses, fmt.Sprintf("creator_id=$%d", len(args)))
	}
	if filter.AssignedWorkerID != nil {
		args = append(args, *filter.AssignedWorkerID)
		clauses = append(clauses, fmt.Sprintf("assigned_worker_id=$%d", len(args)))
	}

	order := "created_at DESC, id DESC"
	if filter.HighPriorityFirst {
		order = "(priority = 'HIGH') DESC, " + order
	}

	query := fmt.Sprintf(`SELECT %s FROM tickets WHERE %s ORDER BY %s`,
		ticketColumns, strings.Join(clauses, " AND "), order)
	if filter.Limit > 0 {
		offset := filter.Offset
		if offset < 0 {
			offset = 0
		}
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", filter.Limit, offset)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []domain.Ticket{}
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *ticket)
	}
	return result, rows.Err()
}

func scanTicket(row pgx.Row) (*domain.Ticket, error) {
	var ticket domain.Ticket
	if err := row.Scan(
		&ticket.ID,
		&ticket.Title,
		&ticket.Description,
		&ticket.Category,
		&ticket.Status,
		&ticket.Priority,
		&ticket.CreatorID,
		&ticket.AssignedWorkerID,
		&ticket.AttachmentRef,
		&ticket.CreatedAt,
		&ticket.UpdatedAt,
		&ticket.ResolvedAt,
		&ticket.Version,
	); err != nil {
		return nil, err
	}
	return &ticket, nil
}
