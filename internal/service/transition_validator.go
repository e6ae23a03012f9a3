package service

import (
	"net/http"

	"github.com/guregu/null/v5"

	"github.com/civicdesk/grievance-service/internal/domain"
	apperrors "github.com/civicdesk/grievance-service/pkg/util/errorutil"
)

// UnassignSentinel as AssignedWorkerID releases the ticket to the unassigned pool.
const UnassignSentinel = ""

// UpdateRequest lists the fields a caller asked to change. Nil fields are absent.
type UpdateRequest struct {
	Status           *domain.TicketStatus
	Priority         *domain.TicketPriority
	AssignedWorkerID *string
}

// AssignmentChange carries the new holder of a ticket; an invalid WorkerID unassigns.
type AssignmentChange struct {
	WorkerID null.String
}

// ChangeSet is the subset of a request the caller is allowed to apply.
// Escalate is evaluated after the field changes and always wins: it clears
// the worker and forces the ticket back to OPEN.
type ChangeSet struct {
	Status     *domain.TicketStatus
	Priority   *domain.TicketPriority
	Assignment *AssignmentChange
	Escalate   bool
}

// Empty reports a request that changes nothing.
func (c ChangeSet) Empty() bool {
	return c.Status == nil && c.Priority == nil && c.Assignment == nil && !c.Escalate
}

type rolePolicy func(ticket *domain.Ticket, req UpdateRequest, principal domain.Principal) (ChangeSet, error)

// TransitionValidator decides which parts of an update each role may apply.
type TransitionValidator struct {
	policies map[domain.Role]rolePolicy
}

// NewTransitionValidator wires one policy per role.
func NewTransitionValidator() *TransitionValidator {
	return &TransitionValidator{
		policies: map[domain.Role]rolePolicy{
			domain.RoleCitizen:    citizenPolicy,
			domain.RoleWorker:     workerPolicy,
			domain.RoleAdmin:      staffPolicy,
			domain.RoleSuperAdmin: staffPolicy,
		},
	}
}

// Authorize returns the allowed change set or a FORBIDDEN / VALIDATION_FAILED /
// INVALID_TRANSITION error.
func (v *TransitionValidator) Authorize(ticket *domain.Ticket, req UpdateRequest, principal domain.Principal) (ChangeSet, error) {
	policy, ok := v.policies[principal.Role]
	if !ok {
		return ChangeSet{}, apperrors.NewForbidden("unknown role")
	}
	return policy(ticket, req, principal)
}

// AuthorizeView allows the owner, the assigned worker and staff to read a ticket.
func (v *TransitionValidator) AuthorizeView(ticket *domain.Ticket, principal domain.Principal) error {
	switch principal.Role {
	case domain.RoleAdmin, domain.RoleSuperAdmin:
		return nil
	case domain.RoleWorker:
		if ticket.IsAssignedTo(principal.UserID) {
			return nil
		}
	case domain.RoleCitizen:
		if ticket.CreatorID == principal.UserID {
			return nil
		}
	}
	return apperrors.NewForbidden("access denied")
}

// AuthorizeDelete allows staff unconditionally and the owner while the ticket is OPEN.
func (v *TransitionValidator) AuthorizeDelete(ticket *domain.Ticket, principal domain.Principal) error {
	if principal.IsStaff() {
		return nil
	}
	if principal.Role != domain.RoleCitizen || ticket.CreatorID != principal.UserID {
		return apperrors.NewForbidden("access denied")
	}
	if ticket.Status != domain.TicketStatusOpen {
		return apperrors.NewForbidden("cannot delete: this grievance is already being processed")
	}
	return nil
}

var citizenTransitions = map[domain.TicketStatus]map[domain.TicketStatus]struct{}{
	domain.TicketStatusOpen:     {domain.TicketStatusClosed: {}},
	domain.TicketStatusAssigned: {domain.TicketStatusClosed: {}},
	domain.TicketStatusInReview: {domain.TicketStatusClosed: {}},
	domain.TicketStatusResolved: {domain.TicketStatusClosed: {}, domain.TicketStatusReopened: {}},
	domain.TicketStatusClosed:   {domain.TicketStatusReopened: {}},
	domain.TicketStatusReopened: {domain.TicketStatusClosed: {}},
}

// staffTargets are the statuses staff may move a non-closed ticket into.
var staffTargets = map[domain.TicketStatus]struct{}{
	domain.TicketStatusOpen:     {},
	domain.TicketStatusAssigned: {},
	domain.TicketStatusInReview: {},
	domain.TicketStatusResolved: {},
	domain.TicketStatusClosed:   {},
}

func citizenPolicy(ticket *domain.Ticket, req UpdateRequest, principal domain.Principal) (ChangeSet, error) {
	if ticket.CreatorID != principal.UserID {
		return ChangeSet{}, apperrors.NewForbidden("access denied")
	}
	if err := validateValues(req); err != nil {
		return ChangeSet{}, err
	}
	if req.Priority != nil || req.AssignedWorkerID != nil {
		return ChangeSet{}, apperrors.NewValidationError("citizens can only close or re-open", nil)
	}
	if req.Status == nil {
		return ChangeSet{}, nil
	}
	next := *req.Status
	if next != domain.TicketStatusClosed && next != domain.TicketStatusReopened {
		return ChangeSet{}, apperrors.NewValidationError("citizens can only close or re-open", nil)
	}
	if next == ticket.Status {
		return ChangeSet{}, nil
	}
	if _, ok := citizenTransitions[ticket.Status][next]; !ok {
		return ChangeSet{}, apperrors.NewInvalidTransition(string(ticket.Status), string(next))
	}
	return ChangeSet{Status: &next}, nil
}

func workerPolicy(ticket *domain.Ticket, req UpdateRequest, principal domain.Principal) (ChangeSet, error) {
	if !ticket.IsAssignedTo(principal.UserID) {
		return ChangeSet{}, apperrors.NewForbidden("ticket is not assigned to you")
	}
	if err := validateValues(req); err != nil {
		return ChangeSet{}, err
	}
	if ticket.Status == domain.TicketStatusClosed {
		return ChangeSet{}, errTicketClosed(ticket)
	}

	var cs ChangeSet
	if req.AssignedWorkerID != nil {
		if *req.AssignedWorkerID != UnassignSentinel {
			return ChangeSet{}, apperrors.NewValidationError("workers may only release their own assignment", nil)
		}
		cs.Escalate = true
	}
	// Escalation overrides any requested status.
	if !cs.Escalate {
		status, err := staffStatus(ticket, req.Status)
		if err != nil {
			return ChangeSet{}, err
		}
		cs.Status = status
	}
	cs.Priority = changedPriority(ticket, req.Priority)
	return cs, nil
}

func staffPolicy(ticket *domain.Ticket, req UpdateRequest, principal domain.Principal) (ChangeSet, error) {
	if err := validateValues(req); err != nil {
		return ChangeSet{}, err
	}
	if ticket.Status == domain.TicketStatusClosed {
		return ChangeSet{}, errTicketClosed(ticket)
	}

	status, err := staffStatus(ticket, req.Status)
	if err != nil {
		return ChangeSet{}, err
	}
	cs := ChangeSet{
		Status:   status,
		Priority: changedPriority(ticket, req.Priority),
	}
	holder := ticket.AssignedWorkerID
	if req.AssignedWorkerID != nil {
		target := null.NewString(*req.AssignedWorkerID, *req.AssignedWorkerID != UnassignSentinel)
		if !target.Equal(ticket.AssignedWorkerID) {
			cs.Assignment = &AssignmentChange{WorkerID: target}
		}
		holder = target
	}
	if cs.Status != nil && *cs.Status == domain.TicketStatusAssigned && !holder.Valid {
		return ChangeSet{}, apperrors.NewDomainError(apperrors.CodeInvalidTransition,
			"ASSIGNED requires an assigned worker",
			http.StatusBadRequest,
			map[string]any{"ticket_id": ticket.ID, "from": ticket.Status})
	}
	return cs, nil
}

func staffStatus(ticket *domain.Ticket, requested *domain.TicketStatus) (*domain.TicketStatus, error) {
	if requested == nil || *requested == ticket.Status {
		return nil, nil
	}
	next := *requested
	if _, ok := staffTargets[next]; !ok {
		return nil, apperrors.NewInvalidTransition(string(ticket.Status), string(next))
	}
	return &next, nil
}

func changedPriority(ticket *domain.Ticket, requested *domain.TicketPriority) *domain.TicketPriority {
	if requested == nil || *requested == ticket.Priority {
		return nil
	}
	next := *requested
	return &next
}

func validateValues(req UpdateRequest) error {
	if req.Status != nil && !req.Status.Valid() {
		return apperrors.NewValidationError("unknown status", map[string]any{"status": *req.Status})
	}
	if req.Priority != nil && !req.Priority.Valid() {
		return apperrors.NewValidationError("unknown priority", map[string]any{"priority": *req.Priority})
	}
	return nil
}

func errTicketClosed(ticket *domain.Ticket) error {
	return apperrors.NewDomainError(apperrors.CodeInvalidTransition,
		"ticket is closed; only its owner can re-open it",
		http.StatusBadRequest,
		map[string]any{"ticket_id": ticket.ID})
}
