package dto

import (
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/civicdesk/grievance-service/internal/domain"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// CreateTicketRequest payload.
type CreateTicketRequest struct {
	Title         string  `json:"title"`
	Description   string  `json:"description"`
	Category      string  `json:"category"`
	AttachmentRef *string `json:"attachment_ref"`
}

// UpdateTicketRequest payload. Absent fields are left alone; an assigned_worker_id
// of "" or null releases the ticket to the unassigned pool.
type UpdateTicketRequest struct {
	Status           *domain.TicketStatus   `json:"status"`
	Priority         *domain.TicketPriority `json:"priority"`
	AssignedWorkerID *string                `json:"assigned_worker_id"`
}

// UnmarshalJSON maps an explicit "assigned_worker_id": null onto the "" unassign value.
func (r *UpdateTicketRequest) UnmarshalJSON(data []byte) error {
	type plain UpdateTicketRequest
	var decoded plain
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	var fields map[string]jsoniter.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	// A present key that left the pointer nil can only have been null.
	if _, ok := fields["assigned_worker_id"]; ok && decoded.AssignedWorkerID == nil {
		unassign := ""
		decoded.AssignedWorkerID = &unassign
	}
	*r = UpdateTicketRequest(decoded)
	return nil
}

// TicketResponse renders a ticket.
type TicketResponse struct {
	ID               string                `json:"id"`
	Title            string                `json:"title"`
	Description      string                `json:"description"`
	Category         domain.Category       `json:"category"`
	Status           domain.TicketStatus   `json:"status"`
	Priority         domain.TicketPriority `json:"priority"`
	CreatorID        string                `json:"creator_id"`
	AssignedWorkerID *string               `json:"assigned_worker_id"`
	HasAttachment    bool                  `json:"has_attachment"`
	CreatedAt        time.Time             `json:"created_at"`
	UpdatedAt        time.Time             `json:"updated_at"`
	ResolvedAt       *time.Time            `json:"resolved_at"`
}

// HistoryEntryResponse renders one audit entry.
type HistoryEntryResponse struct {
	ID          string               `json:"id"`
	Action      domain.HistoryAction `json:"action"`
	Description string               `json:"description"`
	ChangedBy   string               `json:"changed_by"`
	Timestamp   time.Time            `json:"timestamp"`
}

// WorkerResponse renders a directory entry.
type WorkerResponse struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Email      string          `json:"email,omitempty"`
	Department domain.Category `json:"department"`
}

// AttachmentResponse carries the opaque storage reference.
type AttachmentResponse struct {
	TicketID      string `json:"ticket_id"`
	AttachmentRef string `json:"attachment_ref"`
}

// NewTicketResponse maps a domain ticket.
func NewTicketResponse(t *domain.Ticket) TicketResponse {
	return TicketResponse{
		ID:               t.ID,
		Title:            t.Title,
		Description:      t.Description,
		Category:         t.Category,
		Status:           t.Status,
		Priority:         t.Priority,
		CreatorID:        t.CreatorID,
		AssignedWorkerID: t.AssignedWorkerID.Ptr(),
		HasAttachment:    t.AttachmentRef.Valid,
		CreatedAt:        t.CreatedAt,
		UpdatedAt:        t.UpdatedAt,
		ResolvedAt:       t.ResolvedAt.Ptr(),
	}
}

// NewTicketList maps a slice of tickets.
func NewTicketList(tickets []domain.Ticket) []TicketResponse {
	items := make([]TicketResponse, 0, len(tickets))
	for i := range tickets {
		items = append(items, NewTicketResponse(&tickets[i]))
	}
	return items
}

// NewHistoryList maps audit entries, preserving order.
func NewHistoryList(entries []domain.TicketHistory) []HistoryEntryResponse {
	items := make([]HistoryEntryResponse, 0, len(entries))
	for _, e := range entries {
		items = append(items, HistoryEntryResponse{
			ID:          e.ID,
			Action:      e.Action,
			Description: e.Description,
			ChangedBy:   e.ChangedBy,
			Timestamp:   e.Timestamp,
		})
	}
	return items
}

// NewWorkerList maps directory entries.
func NewWorkerList(workers []domain.Worker) []WorkerResponse {
	items := make([]WorkerResponse, 0, len(workers))
	for _, w := range workers {
		items = append(items, WorkerResponse{ID: w.ID, Name: w.Name, Email: w.Email, Department: w.Department})
	}
	return items
}
