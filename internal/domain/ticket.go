package domain

import (
	"time"

	"github.com/guregu/null/v5"
)

// TicketStatus enumerates lifecycle states for grievances.
type TicketStatus string

const (
	TicketStatusOpen     TicketStatus = "OPEN"
	TicketStatusAssigned TicketStatus = "ASSIGNED"
	TicketStatusInReview TicketStatus = "IN_REVIEW"
	TicketStatusResolved TicketStatus = "RESOLVED"
	TicketStatusClosed   TicketStatus = "CLOSED"
	TicketStatusReopened TicketStatus = "RE-OPENED"
)

// Valid reports whether s is one of the enumerated statuses.
func (s TicketStatus) Valid() bool {
	switch s {
	case TicketStatusOpen, TicketStatusAssigned, TicketStatusInReview,
		TicketStatusResolved, TicketStatusClosed, TicketStatusReopened:
		return true
	}
	return false
}

// TicketPriority enumerates staff-assigned urgency.
type TicketPriority string

const (
	TicketPriorityLow    TicketPriority = "LOW"
	TicketPriorityMedium TicketPriority = "MEDIUM"
	TicketPriorityHigh   TicketPriority = "HIGH"
)

// Valid reports whether p is one of the enumerated priorities.
func (p TicketPriority) Valid() bool {
	switch p {
	case TicketPriorityLow, TicketPriorityMedium, TicketPriorityHigh:
		return true
	}
	return false
}

// Category is the fixed classification shared by tickets and worker departments.
type Category string

const (
	CategoryUtilities  Category = "Public Utilities"
	CategorySanitation Category = "Sanitation"
	CategoryTransport  Category = "Roads & Transport"
	CategoryLawOrder   Category = "Law & Order"
	CategoryHealthcare Category = "Healthcare"
	CategoryOther      Category = "Other"
)

// Categories lists the whitelist in display order.
var Categories = []Category{
	CategoryUtilities,
	CategorySanitation,
	CategoryTransport,
	CategoryLawOrder,
	CategoryHealthcare,
	CategoryOther,
}

// NormalizeCategory maps free-form input onto the whitelist; anything unknown becomes Other.
func NormalizeCategory(raw string) Category {
	for _, c := range Categories {
		if string(c) == raw {
			return c
		}
	}
	return CategoryOther
}

// Ticket is the aggregate for a citizen grievance.
type Ticket struct {
	ID               string
	Title            string
	Description      string
	Category         Category
	Status           TicketStatus
	Priority         TicketPriority
	CreatorID        string
	AssignedWorkerID null.String
	AttachmentRef    null.String
	CreatedAt        time.Time
	UpdatedAt        time.Time
	ResolvedAt       null.Time
	Version          int64
}

// IsAssignedTo reports whether workerID currently holds the ticket.
func (t *Ticket) IsAssignedTo(workerID string) bool {
	return t.AssignedWorkerID.Valid && t.AssignedWorkerID.String == workerID
}
