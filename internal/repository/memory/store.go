// Package memory provides a process-local Store used when no Postgres DSN is
// configured and by tests. Transactions are serialized by a single mutex.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/jackc/pgx/v5"

	"github.com/civicdesk/grievance-service/internal/domain"
	"github.com/civicdesk/grievance-service/internal/repository"
)

type state struct {
	tickets map[string]domain.Ticket
	history map[string][]domain.TicketHistory
	workers []domain.Worker
	seq     int64
}

func (st *state) clone() *state {
	out := &state{
		tickets: make(map[string]domain.Ticket, len(st.tickets)),
		history: make(map[string][]domain.TicketHistory, len(st.history)),
		workers: st.workers,
		seq:     st.seq,
	}
	for id, t := range st.tickets {
		out.tickets[id] = t
	}
	for id, entries := range st.history {
		out.history[id] = append([]domain.TicketHistory(nil), entries...)
	}
	return out
}

// Store is an in-memory repository.Store.
type Store struct {
	mu    sync.Mutex
	state *state
}

// New returns an empty store whose directory holds the given workers.
func New(workers []domain.Worker) *Store {
	return &Store{state: &state{
		tickets: make(map[string]domain.Ticket),
		history: make(map[string][]domain.TicketHistory),
		workers: append([]domain.Worker(nil), workers...),
	}}
}

func (s *Store) Tickets() repository.TicketRepository {
	return &view{store: s}
}

func (s *Store) History() repository.TicketHistoryRepository {
	return &view{store: s}
}

func (s *Store) Directory() repository.DirectoryRepository {
	return &view{store: s}
}

func (s *Store) WithinTx(ctx context.Context, fn func(tx repository.Store) error) error {
	return (&view{store: s}).WithinTx(ctx, fn)
}

// view implements every repository interface over the shared state.
// A locked view belongs to a running transaction and already holds the mutex.
type view struct {
	store  *Store
	locked bool
}

func (v *view) with(fn func(st *state) error) error {
	if !v.locked {
		v.store.mu.Lock()
		defer v.store.mu.Unlock()
	}
	return fn(v.store.state)
}

func (v *view) Tickets() repository.TicketRepository        { return v }
func (v *view) History() repository.TicketHistoryRepository { return v }
func (v *view) Directory() repository.DirectoryRepository   { return v }

func (v *view) WithinTx(ctx context.Context, fn func(tx repository.Store) error) error {
	if v.locked {
		return fn(v)
	}
	v.store.mu.Lock()
	defer v.store.mu.Unlock()

	snapshot := v.store.state.clone()
	err := fn(&view{store: v.store, locked: true})
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		v.store.state = snapshot
	}
	return err
}

func (v *view) Create(ctx context.Context, ticket *domain.Ticket) error {
	return v.with(func(st *state) error {
		if _, exists := st.tickets[ticket.ID]; exists {
			return fmt.Errorf("ticket %s already exists", ticket.ID)
		}
		st.tickets[ticket.ID] = *ticket
		return nil
	})
}

func (v *view) Update(ctx context.Context, ticket *domain.Ticket) error {
	return v.with(func(st *state) error {
		current, ok := st.tickets[ticket.ID]
		if !ok || current.Version != ticket.Version {
			return repository.ErrVersionConflict
		}
		current.Status = ticket.Status
		current.Priority = ticket.Priority
		current.AssignedWorkerID = ticket.AssignedWorkerID
		current.ResolvedAt = ticket.ResolvedAt
		current.UpdatedAt = ticket.UpdatedAt
		current.Version++
		st.tickets[ticket.ID] = current
		ticket.Version = current.Version
		return nil
	})
}

func (v *view) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	var out *domain.Ticket
	err := v.with(func(st *state) error {
		ticket, ok := st.tickets[id]
		if !ok {
			return pgx.ErrNoRows
		}
		out = &ticket
		return nil
	})
	return out, err
}

func (v *view) GetForUpdate(ctx context.Context, id string) (*domain.Ticket, error) {
	return v.GetByID(ctx, id)
}

func (v *view) Delete(ctx context.Context, id string) error {
	return v.with(func(st *state) error {
		if _, ok := st.tickets[id]; !ok {
			return pgx.ErrNoRows
		}
		delete(st.tickets, id)
		delete(st.history, id)
		return nil
	})
}

func (v *view) List(ctx context.Context, filter repository.TicketFilter) ([]domain.Ticket, error) {
	result := []domain.Ticket{}
	err := v.with(func(st *state) error {
		for _, ticket := range st.tickets {
			if filter.CreatorID != nil && ticket.CreatorID != *filter.CreatorID {
				continue
			}
			if filter.AssignedWorkerID != nil && !ticket.IsAssignedTo(*filter.AssignedWorkerID) {
				continue
			}
			result = append(result, ticket)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if filter.HighPriorityFirst {
			aHigh, bHigh := a.Priority == domain.TicketPriorityHigh, b.Priority == domain.TicketPriorityHigh
			if aHigh != bHigh {
				return aHigh
			}
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})

	if filter.Limit > 0 {
		start := filter.Offset
		if start < 0 {
			start = 0
		}
		if start > len(result) {
			start = len(result)
		}
		end := start + filter.Limit
		if end > len(result) {
			end = len(result)
		}
		result = result[start:end]
	}
	return result, nil
}

func (v *view) Append(ctx context.Context, entry *domain.TicketHistory) error {
	return v.with(func(st *state) error {
		if _, ok := st.tickets[entry.TicketID]; !ok {
			return errors.New("history references unknown ticket")
		}
		st.seq++
		entry.Seq = st.seq
		st.history[entry.TicketID] = append(st.history[entry.TicketID], *entry)
		return nil
	})
}

func (v *view) ListByTicket(ctx context.Context, ticketID string) ([]domain.TicketHistory, error) {
	var result []domain.TicketHistory
	_ = v.with(func(st *state) error {
		result = append([]domain.TicketHistory{}, st.history[ticketID]...)
		return nil
	})
	sort.Slice(result, func(i, j int) bool {
		return result[i].Seq > result[j].Seq
	})
	return result, nil
}

func (v *view) DeleteByTicket(ctx context.Context, ticketID string) error {
	return v.with(func(st *state) error {
		delete(st.history, ticketID)
		return nil
	})
}

func (v *view) WorkersByDepartment(ctx context.Context, department domain.Category) ([]domain.Worker, error) {
	result := []domain.Worker{}
	for _, worker := range v.directory() {
		if worker.Department == department {
			result = append(result, worker)
		}
	}
	return result, nil
}

func (v *view) GetWorker(ctx context.Context, id string) (*domain.Worker, error) {
	for _, worker := range v.directory() {
		if worker.ID == id {
			w := worker
			return &w, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (v *view) ListWorkers(ctx context.Context) ([]domain.Worker, error) {
	result := v.directory()
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Department < result[j].Department
	})
	return result, nil
}

// directory returns a copy in directory order.
func (v *view) directory() []domain.Worker {
	var workers []domain.Worker
	_ = v.with(func(st *state) error {
		workers = append([]domain.Worker{}, st.workers...)
		return nil
	})
	sort.SliceStable(workers, func(i, j int) bool {
		if !workers[i].CreatedAt.Equal(workers[j].CreatedAt) {
			return workers[i].CreatedAt.Before(workers[j].CreatedAt)
		}
		return workers[i].ID < workers[j].ID
	})
	return workers
}
