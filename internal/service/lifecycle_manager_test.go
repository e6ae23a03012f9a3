package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/civicdesk/grievance-service/internal/domain"
	"github.com/civicdesk/grievance-service/internal/events"
	"github.com/civicdesk/grievance-service/internal/repository"
	"github.com/civicdesk/grievance-service/internal/repository/memory"
	apperrors "github.com/civicdesk/grievance-service/pkg/util/errorutil"
)

var (
	citizen    = domain.Principal{UserID: "c-1", Role: domain.RoleCitizen, Name: "Nina"}
	neighbour  = domain.Principal{UserID: "c-2", Role: domain.RoleCitizen, Name: "Omar"}
	asha       = domain.Principal{UserID: "w-1", Role: domain.RoleWorker, Name: "Asha Rao", Department: "Sanitation"}
	bo         = domain.Principal{UserID: "w-2", Role: domain.RoleWorker, Name: "Bo Lind", Department: "Sanitation"}
	admin      = domain.Principal{UserID: "a-1", Role: domain.RoleAdmin, Name: "Ada"}
	superAdmin = domain.Principal{UserID: "s-1", Role: domain.RoleSuperAdmin, Name: "Sam"}
)

var base = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func directory() []domain.Worker {
	return []domain.Worker{
		{ID: "w-1", Name: "Asha Rao", Department: domain.CategorySanitation, CreatedAt: base},
		{ID: "w-2", Name: "Bo Lind", Department: domain.CategorySanitation, CreatedAt: base.Add(time.Hour)},
		{ID: "w-3", Name: "Chen Wu", Department: domain.CategoryTransport, CreatedAt: base},
	}
}

// steppingClock advances one second per reading so audit timestamps are distinct.
type steppingClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type recordingDispatcher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (d *recordingDispatcher) Publish(ctx context.Context, event events.Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, event)
	return d.err
}

func (d *recordingDispatcher) Subscribe(events.EventType, events.EventHandler) {}

func (d *recordingDispatcher) take() []events.Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := d.events
	d.events = nil
	return out
}

type fixture struct {
	manager    *LifecycleManager
	store      *memory.Store
	dispatcher *recordingDispatcher
	clock      *steppingClock
}

func newFixture(t *testing.T, workers []domain.Worker) *fixture {
	t.Helper()
	f := &fixture{
		store:      memory.New(workers),
		dispatcher: &recordingDispatcher{},
		clock:      &steppingClock{now: base},
	}
	f.manager = f.managerFor(f.store)
	return f
}

func (f *fixture) managerFor(store repository.Store) *LifecycleManager {
	return NewLifecycleManager(LifecycleDependencies{
		Store:      store,
		Validator:  NewTransitionValidator(),
		Dispatcher: f.dispatcher,
		Clock:      f.clock.Now,
	})
}

func (f *fixture) create(t *testing.T, category string) *domain.Ticket {
	t.Helper()
	ticket, err := f.manager.CreateTicket(context.Background(), citizen, CreateTicketInput{
		Title:       "Overflowing bin",
		Description: "The bin on 4th street has not been emptied for a week.",
		Category:    category,
	})
	if err != nil {
		t.Fatalf("CreateTicket() error = %v", err)
	}
	f.dispatcher.take()
	return ticket
}

func (f *fixture) update(t *testing.T, p domain.Principal, id string, req UpdateRequest) *domain.Ticket {
	t.Helper()
	ticket, err := f.manager.UpdateTicket(context.Background(), p, id, req)
	if err != nil {
		t.Fatalf("UpdateTicket(%s) error = %v", p.Label(), err)
	}
	return ticket
}

func (f *fixture) history(t *testing.T, id string) []domain.TicketHistory {
	t.Helper()
	entries, err := f.manager.GetHistory(context.Background(), admin, id)
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	return entries
}

func status(s domain.TicketStatus) *domain.TicketStatus       { return &s }
func priority(p domain.TicketPriority) *domain.TicketPriority { return &p }
func str(s string) *string                                    { return &s }

func assertCode(t *testing.T, err error, code string) {
	t.Helper()
	if !apperrors.HasCode(err, code) {
		t.Fatalf("error = %v, want code %s", err, code)
	}
}

func TestCreateTicketAutoAssignsFirstWorkerOfDepartment(t *testing.T) {
	f := newFixture(t, directory())

	ticket, err := f.manager.CreateTicket(context.Background(), citizen, CreateTicketInput{
		Title:       "  Overflowing bin ",
		Description: "Not emptied for a week.",
		Category:    "Sanitation",
	})
	if err != nil {
		t.Fatalf("CreateTicket() error = %v", err)
	}

	if ticket.Status != domain.TicketStatusAssigned {
		t.Fatalf("status = %s, want ASSIGNED", ticket.Status)
	}
	if !ticket.IsAssignedTo("w-1") {
		t.Fatalf("assigned worker = %v, want w-1", ticket.AssignedWorkerID)
	}
	if ticket.Priority != domain.TicketPriorityLow {
		t.Fatalf("priority = %s, want LOW", ticket.Priority)
	}
	if ticket.Title != "Overflowing bin" {
		t.Fatalf("title = %q, want trimmed", ticket.Title)
	}

	entries := f.history(t, ticket.ID)
	if len(entries) != 2 {
		t.Fatalf("history has %d entries, want 2", len(entries))
	}
	autoAssign, created := entries[0], entries[1]
	if created.Action != domain.ActionCreated || created.ChangedBy != "Citizen (Nina)" {
		t.Fatalf("oldest entry = %+v, want CREATED by citizen", created)
	}
	if autoAssign.Action != domain.ActionAutoAssign || autoAssign.ChangedBy != domain.SystemActor {
		t.Fatalf("newest entry = %+v, want AUTO-ASSIGN by System", autoAssign)
	}
	if autoAssign.Description != "System assigned to Asha Rao" {
		t.Fatalf("auto-assign description = %q", autoAssign.Description)
	}
	if !created.Timestamp.Before(autoAssign.Timestamp) {
		t.Fatalf("CREATED must be the earliest entry")
	}

	published := f.dispatcher.take()
	if len(published) != 1 || published[0].Type != events.EventTicketCreated {
		t.Fatalf("events = %+v, want one ticket_created", published)
	}
	payload := published[0].Payload.(events.TicketCreatedPayload)
	if published[0].RecipientID != "c-1" || payload.AssignedWorkerID == nil || *payload.AssignedWorkerID != "w-1" {
		t.Fatalf("ticket_created event = %+v", published[0])
	}
}

func TestCreateTicketWithoutMatchingWorkerStaysOpen(t *testing.T) {
	f := newFixture(t, directory())

	ticket := f.create(t, "Healthcare")

	if ticket.Status != domain.TicketStatusOpen || ticket.AssignedWorkerID.Valid {
		t.Fatalf("ticket = %+v, want OPEN and unassigned", ticket)
	}
	entries := f.history(t, ticket.ID)
	if len(entries) != 1 || entries[0].Action != domain.ActionCreated {
		t.Fatalf("history = %+v, want only CREATED", entries)
	}
}

func TestCreateTicketNormalizesUnknownCategory(t *testing.T) {
	f := newFixture(t, directory())

	ticket := f.create(t, "Potholes??")

	if ticket.Category != domain.CategoryOther {
		t.Fatalf("category = %q, want Other", ticket.Category)
	}
}

func TestCreateTicketRejections(t *testing.T) {
	tests := []struct {
		name      string
		principal domain.Principal
		input     CreateTicketInput
		code      string
	}{
		{"worker cannot file", asha, CreateTicketInput{Title: "t", Description: "d"}, apperrors.CodeForbidden},
		{"admin cannot file", admin, CreateTicketInput{Title: "t", Description: "d"}, apperrors.CodeForbidden},
		{"blank title", citizen, CreateTicketInput{Title: "  ", Description: "d"}, apperrors.CodeValidation},
		{"missing description", citizen, CreateTicketInput{Title: "t"}, apperrors.CodeValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, directory())
			_, err := f.manager.CreateTicket(context.Background(), tt.principal, tt.input)
			assertCode(t, err, tt.code)
			all, _ := f.manager.ListAll(context.Background(), admin, ListOptions{})
			if len(all) != 0 {
				t.Fatalf("rejected create persisted %d tickets", len(all))
			}
		})
	}
}

func TestAutoAssignIsDeterministic(t *testing.T) {
	f := newFixture(t, directory())

	first := f.create(t, "Sanitation")
	second := f.create(t, "Sanitation")

	if first.AssignedWorkerID != second.AssignedWorkerID {
		t.Fatalf("auto-assign picked %v then %v", first.AssignedWorkerID, second.AssignedWorkerID)
	}
}

func TestWorkerResolvesAssignedTicket(t *testing.T) {
	f := newFixture(t, directory())
	ticket := f.create(t, "Sanitation")

	updated := f.update(t, asha, ticket.ID, UpdateRequest{Status: status(domain.TicketStatusResolved)})

	if updated.Status != domain.TicketStatusResolved || !updated.ResolvedAt.Valid {
		t.Fatalf("ticket = %+v, want RESOLVED with resolved_at", updated)
	}
	entries := f.history(t, ticket.ID)
	if len(entries) != 3 {
		t.Fatalf("history has %d entries, want 3", len(entries))
	}
	if entries[0].Action != domain.ActionStatusUpdate || entries[0].Description != "ASSIGNED ➜ RESOLVED" {
		t.Fatalf("newest entry = %+v", entries[0])
	}
	if entries[0].ChangedBy != "Worker (Asha Rao)" {
		t.Fatalf("changed_by = %q", entries[0].ChangedBy)
	}

	published := f.dispatcher.take()
	if len(published) != 1 || published[0].Type != events.EventTicketStatusChanged || published[0].RecipientID != "c-1" {
		t.Fatalf("events = %+v, want status change addressed to creator", published)
	}
}

func TestResolvedAtIsSetOnlyOnce(t *testing.T) {
	f := newFixture(t, directory())
	ticket := f.create(t, "Sanitation")

	first := f.update(t, asha, ticket.ID, UpdateRequest{Status: status(domain.TicketStatusResolved)})
	f.update(t, citizen, ticket.ID, UpdateRequest{Status: status(domain.TicketStatusReopened)})
	f.update(t, asha, ticket.ID, UpdateRequest{Status: status(domain.TicketStatusInReview)})
	again := f.update(t, asha, ticket.ID, UpdateRequest{Status: status(domain.TicketStatusResolved)})

	if !again.ResolvedAt.Time.Equal(first.ResolvedAt.Time) {
		t.Fatalf("resolved_at moved from %v to %v", first.ResolvedAt.Time, again.ResolvedAt.Time)
	}
}

func TestUpdateAuditsEachChangedField(t *testing.T) {
	f := newFixture(t, directory())
	ticket := f.create(t, "Sanitation")
	before := len(f.history(t, ticket.ID))

	f.update(t, admin, ticket.ID, UpdateRequest{
		Status:           status(domain.TicketStatusInReview),
		Priority:         priority(domain.TicketPriorityHigh),
		AssignedWorkerID: str("w-2"),
	})

	entries := f.history(t, ticket.ID)
	if got := len(entries) - before; got != 3 {
		t.Fatalf("update added %d entries, want 3", got)
	}
	descriptions := map[domain.HistoryAction]string{}
	for _, e := range entries[:3] {
		descriptions[e.Action] = e.Description
	}
	want := map[domain.HistoryAction]string{
		domain.ActionStatusUpdate:   "ASSIGNED ➜ IN_REVIEW",
		domain.ActionPriorityUpdate: "LOW ➜ HIGH",
		domain.ActionAssignment:     "Assigned to Bo Lind",
	}
	for action, desc := range want {
		if descriptions[action] != desc {
			t.Fatalf("%s description = %q, want %q", action, descriptions[action], desc)
		}
	}
}

func TestUpdateWithCurrentValuesIsNoop(t *testing.T) {
	f := newFixture(t, directory())
	ticket := f.create(t, "Sanitation")
	before := len(f.history(t, ticket.ID))

	f.update(t, admin, ticket.ID, UpdateRequest{
		Status:           status(domain.TicketStatusAssigned),
		Priority:         priority(domain.TicketPriorityLow),
		AssignedWorkerID: str("w-1"),
	})

	if after := len(f.history(t, ticket.ID)); after != before {
		t.Fatalf("no-op update added %d entries", after-before)
	}
	if published := f.dispatcher.take(); len(published) != 0 {
		t.Fatalf("no-op update published %+v", published)
	}
}

func TestWorkerEscalationForcesOpen(t *testing.T) {
	f := newFixture(t, directory())
	ticket := f.create(t, "Sanitation")

	updated := f.update(t, asha, ticket.ID, UpdateRequest{
		Status:           status(domain.TicketStatusResolved),
		Priority:         priority(domain.TicketPriorityHigh),
		AssignedWorkerID: str(UnassignSentinel),
	})

	if updated.Status != domain.TicketStatusOpen {
		t.Fatalf("status = %s, want OPEN", updated.Status)
	}
	if updated.AssignedWorkerID.Valid {
		t.Fatalf("worker still assigned: %v", updated.AssignedWorkerID)
	}
	if updated.Priority != domain.TicketPriorityHigh {
		t.Fatalf("priority = %s, want HIGH", updated.Priority)
	}
	if updated.ResolvedAt.Valid {
		t.Fatalf("escalation must not record a resolution")
	}

	entries := f.history(t, ticket.ID)
	found := map[string]bool{}
	for _, e := range entries {
		found[e.Description] = true
	}
	for _, desc := range []string{"ASSIGNED ➜ OPEN", "LOW ➜ HIGH", "Unassigned (sent to pool)"} {
		if !found[desc] {
			t.Fatalf("missing audit entry %q in %+v", desc, entries)
		}
	}
}

func TestAdminReassignKeepsStatus(t *testing.T) {
	f := newFixture(t, directory())
	ticket := f.create(t, "Sanitation")
	f.update(t, asha, ticket.ID, UpdateRequest{Status: status(domain.TicketStatusInReview)})
	before := len(f.history(t, ticket.ID))

	updated := f.update(t, admin, ticket.ID, UpdateRequest{AssignedWorkerID: str("w-2")})

	if updated.Status != domain.TicketStatusInReview || !updated.IsAssignedTo("w-2") {
		t.Fatalf("ticket = %+v, want IN_REVIEW held by w-2", updated)
	}
	entries := f.history(t, ticket.ID)
	if len(entries)-before != 1 || entries[0].Action != domain.ActionAssignment {
		t.Fatalf("reassignment entries = %+v", entries[:len(entries)-before])
	}
}

func TestAdminUnassignDoesNotForceOpen(t *testing.T) {
	f := newFixture(t, directory())
	ticket := f.create(t, "Sanitation")
	f.update(t, asha, ticket.ID, UpdateRequest{Status: status(domain.TicketStatusInReview)})

	updated := f.update(t, admin, ticket.ID, UpdateRequest{AssignedWorkerID: str(UnassignSentinel)})

	if updated.Status != domain.TicketStatusInReview || updated.AssignedWorkerID.Valid {
		t.Fatalf("ticket = %+v, want IN_REVIEW and unassigned", updated)
	}
}

func TestReopenNotifiesAssignedWorker(t *testing.T) {
	f := newFixture(t, directory())
	ticket := f.create(t, "Sanitation")
	f.update(t, asha, ticket.ID, UpdateRequest{Status: status(domain.TicketStatusResolved)})
	f.dispatcher.take()

	f.update(t, citizen, ticket.ID, UpdateRequest{Status: status(domain.TicketStatusReopened)})

	published := f.dispatcher.take()
	if len(published) != 1 {
		t.Fatalf("events = %+v, want exactly one", published)
	}
	if published[0].Type != events.EventTicketReopened || published[0].RecipientID != "w-1" {
		t.Fatalf("event = %+v, want ticket_reopened to w-1", published[0])
	}
}

func TestReopenWithoutWorkerNotifiesNobody(t *testing.T) {
	f := newFixture(t, directory())
	ticket := f.create(t, "Healthcare")
	f.update(t, admin, ticket.ID, UpdateRequest{Status: status(domain.TicketStatusResolved)})
	f.dispatcher.take()

	f.update(t, citizen, ticket.ID, UpdateRequest{Status: status(domain.TicketStatusReopened)})

	if published := f.dispatcher.take(); len(published) != 0 {
		t.Fatalf("events = %+v, want none", published)
	}
}

func TestCitizenCloseDoesNotNotify(t *testing.T) {
	f := newFixture(t, directory())
	ticket := f.create(t, "Sanitation")

	updated := f.update(t, citizen, ticket.ID, UpdateRequest{Status: status(domain.TicketStatusClosed)})

	if updated.Status != domain.TicketStatusClosed {
		t.Fatalf("status = %s, want CLOSED", updated.Status)
	}
	if published := f.dispatcher.take(); len(published) != 0 {
		t.Fatalf("citizen-initiated change published %+v", published)
	}
}

func TestCitizenCannotTouchPriorityOrAssignment(t *testing.T) {
	requests := []UpdateRequest{
		{Priority: priority(domain.TicketPriorityHigh)},
		{AssignedWorkerID: str("w-2")},
		{AssignedWorkerID: str(UnassignSentinel)},
		{Status: status(domain.TicketStatusClosed), Priority: priority(domain.TicketPriorityHigh)},
		{Status: status(domain.TicketStatusResolved)},
	}
	for i, req := range requests {
		t.Run(fmt.Sprintf("request %d", i), func(t *testing.T) {
			f := newFixture(t, directory())
			ticket := f.create(t, "Sanitation")

			_, err := f.manager.UpdateTicket(context.Background(), citizen, ticket.ID, req)
			assertCode(t, err, apperrors.CodeValidation)

			stored, _ := f.manager.ListMyTickets(context.Background(), citizen, "c-1", ListOptions{})
			if stored[0].Priority != domain.TicketPriorityLow || !stored[0].IsAssignedTo("w-1") {
				t.Fatalf("citizen request changed ticket: %+v", stored[0])
			}
		})
	}
}

func TestCitizenEmptyRequestIsNoop(t *testing.T) {
	f := newFixture(t, directory())
	ticket := f.create(t, "Sanitation")
	before := len(f.history(t, ticket.ID))

	updated := f.update(t, citizen, ticket.ID, UpdateRequest{})

	if updated.Status != domain.TicketStatusAssigned {
		t.Fatalf("status = %s", updated.Status)
	}
	if after := len(f.history(t, ticket.ID)); after != before {
		t.Fatalf("empty request added %d entries", after-before)
	}
}

func TestUpdateRejections(t *testing.T) {
	tests := []struct {
		name      string
		setup     func(t *testing.T, f *fixture, id string)
		principal domain.Principal
		req       UpdateRequest
		code      string
	}{
		{
			name:      "citizen on someone else's ticket",
			principal: neighbour,
			req:       UpdateRequest{Status: status(domain.TicketStatusClosed)},
			code:      apperrors.CodeForbidden,
		},
		{
			name:      "worker not assigned",
			principal: bo,
			req:       UpdateRequest{Status: status(domain.TicketStatusInReview)},
			code:      apperrors.CodeForbidden,
		},
		{
			name:      "worker assigning someone else",
			principal: asha,
			req:       UpdateRequest{AssignedWorkerID: str("w-2")},
			code:      apperrors.CodeValidation,
		},
		{
			name:      "unknown status",
			principal: admin,
			req:       UpdateRequest{Status: status("PENDING")},
			code:      apperrors.CodeValidation,
		},
		{
			name:      "unknown priority",
			principal: asha,
			req:       UpdateRequest{Priority: priority("URGENT")},
			code:      apperrors.CodeValidation,
		},
		{
			name:      "staff cannot re-open",
			principal: admin,
			req:       UpdateRequest{Status: status(domain.TicketStatusReopened)},
			code:      apperrors.CodeInvalidTransition,
		},
		{
			name:      "citizen re-open before resolution",
			principal: citizen,
			req:       UpdateRequest{Status: status(domain.TicketStatusReopened)},
			code:      apperrors.CodeInvalidTransition,
		},
		{
			name:      "reassign to unknown worker",
			principal: admin,
			req:       UpdateRequest{AssignedWorkerID: str("w-404")},
			code:      apperrors.CodeValidation,
		},
		{
			name: "closed ticket is terminal for staff",
			setup: func(t *testing.T, f *fixture, id string) {
				f.update(t, citizen, id, UpdateRequest{Status: status(domain.TicketStatusClosed)})
			},
			principal: superAdmin,
			req:       UpdateRequest{Status: status(domain.TicketStatusOpen)},
			code:      apperrors.CodeInvalidTransition,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, directory())
			ticket := f.create(t, "Sanitation")
			if tt.setup != nil {
				tt.setup(t, f, ticket.ID)
			}
			before := len(f.history(t, ticket.ID))

			_, err := f.manager.UpdateTicket(context.Background(), tt.principal, ticket.ID, tt.req)
			assertCode(t, err, tt.code)
			if after := len(f.history(t, ticket.ID)); after != before {
				t.Fatalf("rejected update added %d entries", after-before)
			}
		})
	}
}

func TestUpdateUnknownTicket(t *testing.T) {
	f := newFixture(t, directory())

	_, err := f.manager.UpdateTicket(context.Background(), admin, "missing", UpdateRequest{Status: status(domain.TicketStatusOpen)})

	assertCode(t, err, apperrors.CodeNotFound)
}

func TestCitizenCanReopenClosedTicket(t *testing.T) {
	f := newFixture(t, directory())
	ticket := f.create(t, "Sanitation")
	f.update(t, citizen, ticket.ID, UpdateRequest{Status: status(domain.TicketStatusClosed)})

	updated := f.update(t, citizen, ticket.ID, UpdateRequest{Status: status(domain.TicketStatusReopened)})

	if updated.Status != domain.TicketStatusReopened {
		t.Fatalf("status = %s, want RE-OPENED", updated.Status)
	}
}

func TestDeleteTicket(t *testing.T) {
	t.Run("owner deletes open ticket", func(t *testing.T) {
		f := newFixture(t, directory())
		ticket := f.create(t, "Healthcare")

		if err := f.manager.DeleteTicket(context.Background(), citizen, ticket.ID); err != nil {
			t.Fatalf("DeleteTicket() error = %v", err)
		}
		_, err := f.manager.GetHistory(context.Background(), admin, ticket.ID)
		assertCode(t, err, apperrors.CodeNotFound)
		entries, _ := f.store.History().ListByTicket(context.Background(), ticket.ID)
		if len(entries) != 0 {
			t.Fatalf("history survived deletion: %+v", entries)
		}
	})

	t.Run("owner cannot delete resolved ticket", func(t *testing.T) {
		f := newFixture(t, directory())
		ticket := f.create(t, "Sanitation")
		f.update(t, asha, ticket.ID, UpdateRequest{Status: status(domain.TicketStatusResolved)})

		err := f.manager.DeleteTicket(context.Background(), citizen, ticket.ID)
		assertCode(t, err, apperrors.CodeForbidden)
		if len(f.history(t, ticket.ID)) == 0 {
			t.Fatalf("rejected delete removed history")
		}
	})

	t.Run("other citizen cannot delete", func(t *testing.T) {
		f := newFixture(t, directory())
		ticket := f.create(t, "Healthcare")

		err := f.manager.DeleteTicket(context.Background(), neighbour, ticket.ID)
		assertCode(t, err, apperrors.CodeForbidden)
	})

	t.Run("worker cannot delete", func(t *testing.T) {
		f := newFixture(t, directory())
		ticket := f.create(t, "Sanitation")

		err := f.manager.DeleteTicket(context.Background(), asha, ticket.ID)
		assertCode(t, err, apperrors.CodeForbidden)
	})

	t.Run("admin deletes at any status", func(t *testing.T) {
		f := newFixture(t, directory())
		ticket := f.create(t, "Sanitation")
		f.update(t, asha, ticket.ID, UpdateRequest{Status: status(domain.TicketStatusResolved)})

		if err := f.manager.DeleteTicket(context.Background(), admin, ticket.ID); err != nil {
			t.Fatalf("DeleteTicket() error = %v", err)
		}
	})

	t.Run("unknown ticket", func(t *testing.T) {
		f := newFixture(t, directory())
		err := f.manager.DeleteTicket(context.Background(), admin, "missing")
		assertCode(t, err, apperrors.CodeNotFound)
	})
}

func TestListings(t *testing.T) {
	f := newFixture(t, directory())
	first := f.create(t, "Sanitation")
	second := f.create(t, "Sanitation")
	third := f.create(t, "Sanitation")
	f.update(t, admin, first.ID, UpdateRequest{Priority: priority(domain.TicketPriorityHigh)})

	t.Run("assigned queue puts HIGH first then newest", func(t *testing.T) {
		tickets, err := f.manager.ListAssigned(context.Background(), asha, "w-1", ListOptions{})
		if err != nil {
			t.Fatalf("ListAssigned() error = %v", err)
		}
		got := []string{tickets[0].ID, tickets[1].ID, tickets[2].ID}
		want := []string{first.ID, third.ID, second.ID}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("order = %v, want %v", got, want)
			}
		}
	})

	t.Run("owner listing newest first", func(t *testing.T) {
		tickets, err := f.manager.ListMyTickets(context.Background(), citizen, "c-1", ListOptions{})
		if err != nil {
			t.Fatalf("ListMyTickets() error = %v", err)
		}
		if len(tickets) != 3 || tickets[0].ID != third.ID || tickets[2].ID != first.ID {
			t.Fatalf("unexpected order")
		}
	})

	t.Run("paging", func(t *testing.T) {
		tickets, err := f.manager.ListAll(context.Background(), admin, ListOptions{Limit: 2, Offset: 2})
		if err != nil {
			t.Fatalf("ListAll() error = %v", err)
		}
		if len(tickets) != 1 || tickets[0].ID != first.ID {
			t.Fatalf("page = %+v", tickets)
		}
	})

	t.Run("access control", func(t *testing.T) {
		_, err := f.manager.ListMyTickets(context.Background(), neighbour, "c-1", ListOptions{})
		assertCode(t, err, apperrors.CodeForbidden)
		_, err = f.manager.ListAssigned(context.Background(), bo, "w-1", ListOptions{})
		assertCode(t, err, apperrors.CodeForbidden)
		_, err = f.manager.ListAll(context.Background(), citizen, ListOptions{})
		assertCode(t, err, apperrors.CodeForbidden)
		if _, err := f.manager.ListMyTickets(context.Background(), superAdmin, "c-1", ListOptions{}); err != nil {
			t.Fatalf("staff listing error = %v", err)
		}
	})
}

func TestHistoryVisibility(t *testing.T) {
	f := newFixture(t, directory())
	ticket := f.create(t, "Sanitation")

	for _, p := range []domain.Principal{citizen, asha, admin} {
		if _, err := f.manager.GetHistory(context.Background(), p, ticket.ID); err != nil {
			t.Fatalf("%s GetHistory() error = %v", p.Label(), err)
		}
	}
	for _, p := range []domain.Principal{neighbour, bo} {
		_, err := f.manager.GetHistory(context.Background(), p, ticket.ID)
		assertCode(t, err, apperrors.CodeForbidden)
	}
}

func TestGetAttachment(t *testing.T) {
	f := newFixture(t, directory())
	withRef, err := f.manager.CreateTicket(context.Background(), citizen, CreateTicketInput{
		Title: "Broken light", Description: "Dark street", Category: "Public Utilities",
		AttachmentRef: str("uploads/2024/light.jpg"),
	})
	if err != nil {
		t.Fatalf("CreateTicket() error = %v", err)
	}
	without := f.create(t, "Healthcare")

	ref, err := f.manager.GetAttachment(context.Background(), citizen, withRef.ID)
	if err != nil || ref != "uploads/2024/light.jpg" {
		t.Fatalf("GetAttachment() = %q, %v", ref, err)
	}
	_, err = f.manager.GetAttachment(context.Background(), citizen, without.ID)
	assertCode(t, err, apperrors.CodeNotFound)
	_, err = f.manager.GetAttachment(context.Background(), neighbour, withRef.ID)
	assertCode(t, err, apperrors.CodeForbidden)
}

func TestListWorkersRequiresStaff(t *testing.T) {
	f := newFixture(t, directory())

	workers, err := f.manager.ListWorkers(context.Background(), admin)
	if err != nil || len(workers) != 3 {
		t.Fatalf("ListWorkers() = %d workers, %v", len(workers), err)
	}
	_, err = f.manager.ListWorkers(context.Background(), asha)
	assertCode(t, err, apperrors.CodeForbidden)
}

func TestPurgeUser(t *testing.T) {
	t.Run("worker tickets return to the pool", func(t *testing.T) {
		f := newFixture(t, directory())
		ticket := f.create(t, "Sanitation")
		f.update(t, asha, ticket.ID, UpdateRequest{Status: status(domain.TicketStatusInReview)})

		result, err := f.manager.PurgeUser(context.Background(), superAdmin, "w-1")
		if err != nil {
			t.Fatalf("PurgeUser() error = %v", err)
		}
		if result.Unassigned != 1 || result.Deleted != 0 {
			t.Fatalf("result = %+v", result)
		}
		tickets, _ := f.manager.ListMyTickets(context.Background(), admin, "c-1", ListOptions{})
		if tickets[0].Status != domain.TicketStatusOpen || tickets[0].AssignedWorkerID.Valid {
			t.Fatalf("ticket = %+v, want OPEN and unassigned", tickets[0])
		}
		entries := f.history(t, ticket.ID)
		for _, e := range entries[:2] {
			if e.ChangedBy != domain.SystemActor {
				t.Fatalf("purge entry attributed to %q", e.ChangedBy)
			}
		}
	})

	t.Run("citizen tickets are deleted", func(t *testing.T) {
		f := newFixture(t, directory())
		f.create(t, "Sanitation")
		f.create(t, "Healthcare")

		result, err := f.manager.PurgeUser(context.Background(), superAdmin, "c-1")
		if err != nil {
			t.Fatalf("PurgeUser() error = %v", err)
		}
		if result.Deleted != 2 {
			t.Fatalf("result = %+v", result)
		}
		all, _ := f.manager.ListAll(context.Background(), admin, ListOptions{})
		if len(all) != 0 {
			t.Fatalf("%d tickets survived purge", len(all))
		}
	})

	t.Run("admin cannot purge", func(t *testing.T) {
		f := newFixture(t, directory())
		_, err := f.manager.PurgeUser(context.Background(), admin, "c-1")
		assertCode(t, err, apperrors.CodeForbidden)
	})
}

// faultyStore wraps a store and swaps repositories inside transactions.
type faultyStore struct {
	repository.Store
	history repository.TicketHistoryRepository
	tickets repository.TicketRepository
}

func (s faultyStore) History() repository.TicketHistoryRepository {
	if s.history != nil {
		return s.history
	}
	return s.Store.History()
}

func (s faultyStore) Tickets() repository.TicketRepository {
	if s.tickets != nil {
		return s.tickets
	}
	return s.Store.Tickets()
}

func (s faultyStore) WithinTx(ctx context.Context, fn func(tx repository.Store) error) error {
	return s.Store.WithinTx(ctx, func(tx repository.Store) error {
		wrapped := faultyStore{Store: tx}
		if s.history != nil {
			wrapped.history = s.history
		}
		if s.tickets != nil {
			wrapped.tickets = conflictingTickets{TicketRepository: tx.Tickets()}
		}
		return fn(wrapped)
	})
}

type failingHistory struct {
	repository.TicketHistoryRepository
}

func (failingHistory) Append(context.Context, *domain.TicketHistory) error {
	return errors.New("disk full")
}

type conflictingTickets struct {
	repository.TicketRepository
}

func (conflictingTickets) Update(context.Context, *domain.Ticket) error {
	return repository.ErrVersionConflict
}

func TestAuditFailureRollsBackCreate(t *testing.T) {
	f := newFixture(t, directory())
	broken := f.managerFor(faultyStore{Store: f.store, history: failingHistory{}})

	_, err := broken.CreateTicket(context.Background(), citizen, CreateTicketInput{
		Title: "t", Description: "d", Category: "Sanitation",
	})

	assertCode(t, err, apperrors.CodeInternal)
	all, _ := f.manager.ListAll(context.Background(), admin, ListOptions{})
	if len(all) != 0 {
		t.Fatalf("ticket persisted without its audit entry: %+v", all)
	}
	if published := f.dispatcher.take(); len(published) != 0 {
		t.Fatalf("failed create published %+v", published)
	}
}

func TestAuditFailureRollsBackUpdate(t *testing.T) {
	f := newFixture(t, directory())
	ticket := f.create(t, "Sanitation")
	broken := f.managerFor(faultyStore{Store: f.store, history: failingHistory{}})

	_, err := broken.UpdateTicket(context.Background(), asha, ticket.ID, UpdateRequest{Status: status(domain.TicketStatusResolved)})

	assertCode(t, err, apperrors.CodeInternal)
	stored, _ := f.manager.ListMyTickets(context.Background(), citizen, "c-1", ListOptions{})
	if stored[0].Status != domain.TicketStatusAssigned || stored[0].ResolvedAt.Valid {
		t.Fatalf("ticket changed despite audit failure: %+v", stored[0])
	}
}

func TestVersionConflictSurfacesAsConflict(t *testing.T) {
	f := newFixture(t, directory())
	ticket := f.create(t, "Sanitation")
	racing := f.managerFor(faultyStore{Store: f.store, tickets: conflictingTickets{}})

	_, err := racing.UpdateTicket(context.Background(), asha, ticket.ID, UpdateRequest{Status: status(domain.TicketStatusInReview)})

	assertCode(t, err, apperrors.CodeConflict)
}

func TestNotificationFailureIsSwallowed(t *testing.T) {
	f := newFixture(t, directory())
	f.dispatcher.err = errors.New("smtp down")

	ticket := f.create(t, "Sanitation")
	if _, err := f.manager.UpdateTicket(context.Background(), asha, ticket.ID, UpdateRequest{Status: status(domain.TicketStatusResolved)}); err != nil {
		t.Fatalf("UpdateTicket() error = %v, want success despite notification failure", err)
	}
}

func TestConcurrentUpdatesProduceConsistentHistory(t *testing.T) {
	f := newFixture(t, directory())
	ticket := f.create(t, "Sanitation")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p := domain.TicketPriorityHigh
			if i%2 == 0 {
				p = domain.TicketPriorityMedium
			}
			if _, err := f.manager.UpdateTicket(context.Background(), admin, ticket.ID, UpdateRequest{Priority: &p}); err != nil {
				t.Errorf("UpdateTicket() error = %v", err)
			}
		}(i)
	}
	wg.Wait()

	entries := f.history(t, ticket.ID)
	var chain []string
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Action == domain.ActionPriorityUpdate {
			chain = append(chain, entries[i].Description)
		}
	}
	previous := string(domain.TicketPriorityLow)
	for _, desc := range chain {
		parts := strings.Split(desc, " ➜ ")
		if len(parts) != 2 || parts[0] != previous {
			t.Fatalf("priority chain broken at %q (previous %s): %v", desc, previous, chain)
		}
		previous = parts[1]
	}
	stored, _ := f.manager.ListMyTickets(context.Background(), citizen, "c-1", ListOptions{})
	if string(stored[0].Priority) != previous {
		t.Fatalf("stored priority %s does not match last audit entry %s", stored[0].Priority, previous)
	}
}

func TestHistoryFollowsMutationOrderWhenClockStepsBack(t *testing.T) {
	f := newFixture(t, directory())
	ticket := f.create(t, "Sanitation")

	var mu sync.Mutex
	current := base.Add(10 * time.Second)
	lagging := NewLifecycleManager(LifecycleDependencies{
		Store:      f.store,
		Validator:  NewTransitionValidator(),
		Dispatcher: f.dispatcher,
		Clock: func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			return current
		},
	})

	ctx := context.Background()
	if _, err := lagging.UpdateTicket(ctx, asha, ticket.ID, UpdateRequest{Status: status(domain.TicketStatusInReview)}); err != nil {
		t.Fatalf("UpdateTicket(IN_REVIEW) error = %v", err)
	}
	mu.Lock()
	current = base.Add(5 * time.Second)
	mu.Unlock()
	if _, err := lagging.UpdateTicket(ctx, asha, ticket.ID, UpdateRequest{Status: status(domain.TicketStatusResolved)}); err != nil {
		t.Fatalf("UpdateTicket(RESOLVED) error = %v", err)
	}

	entries := f.history(t, ticket.ID)
	want := []string{"IN_REVIEW ➜ RESOLVED", "ASSIGNED ➜ IN_REVIEW"}
	if len(entries) != 4 {
		t.Fatalf("history = %+v", entries)
	}
	for i, desc := range want {
		if entries[i].Description != desc {
			t.Fatalf("entries[%d] = %q, want %q", i, entries[i].Description, desc)
		}
	}
	if !entries[0].Timestamp.Before(entries[1].Timestamp) {
		t.Fatalf("clock did not step back: %v then %v", entries[1].Timestamp, entries[0].Timestamp)
	}
}

func TestStaffCannotMarkPoolTicketAssigned(t *testing.T) {
	f := newFixture(t, directory())
	ticket := f.create(t, "Healthcare")
	if ticket.Status != domain.TicketStatusOpen || ticket.AssignedWorkerID.Valid {
		t.Fatalf("ticket = %+v, want an unassigned OPEN ticket", ticket)
	}
	before := len(f.history(t, ticket.ID))

	_, err := f.manager.UpdateTicket(context.Background(), admin, ticket.ID, UpdateRequest{Status: status(domain.TicketStatusAssigned)})

	assertCode(t, err, apperrors.CodeInvalidTransition)
	stored, _ := f.manager.ListMyTickets(context.Background(), citizen, "c-1", ListOptions{})
	if stored[0].Status != domain.TicketStatusOpen {
		t.Fatalf("status = %s, want OPEN", stored[0].Status)
	}
	if after := len(f.history(t, ticket.ID)); after != before {
		t.Fatalf("rejected update added %d entries", after-before)
	}

	updated := f.update(t, admin, ticket.ID, UpdateRequest{
		Status:           status(domain.TicketStatusAssigned),
		AssignedWorkerID: str("w-3"),
	})
	if updated.Status != domain.TicketStatusAssigned || !updated.IsAssignedTo("w-3") {
		t.Fatalf("updated = %+v", updated)
	}
}
