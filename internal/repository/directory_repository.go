package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/civicdesk/grievance-service/internal/domain"
)

// DirectoryRepository reads the worker directory. The core never writes it.
type DirectoryRepository interface {
	// WorkersByDepartment returns workers of one department in directory order
	// (oldest entry first, id as tie-break).
	WorkersByDepartment(ctx context.Context, department domain.Category) ([]domain.Worker, error)
	GetWorker(ctx context.Context, id string) (*domain.Worker, error)
	ListWorkers(ctx context.Context) ([]domain.Worker, error)
}

type directoryRepository struct {
	db DBTX
}

const workerColumns = `id, full_name, email, department, created_at`

func (r *directoryRepository) WorkersByDepartment(ctx context.Context, department domain.Category) ([]domain.Worker, error) {
	query := `SELECT ` + workerColumns + ` FROM directory_workers
        WHERE department=$1 ORDER BY created_at ASC, id ASC`
	rows, err := r.db.Query(ctx, query, department)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanWorkers(rows)
}

func (r *directoryRepository) GetWorker(ctx context.Context, id string) (*domain.Worker, error) {
	query := `SELECT ` + workerColumns + ` FROM directory_workers WHERE id=$1`
	var worker domain.Worker
	if err := r.db.QueryRow(ctx, query, id).Scan(
		&worker.ID,
		&worker.Name,
		&worker.Email,
		&worker.Department,
		&worker.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &worker, nil
}

func (r *directoryRepository) ListWorkers(ctx context.Context) ([]domain.Worker, error) {
	query := `SELECT ` + workerColumns + ` FROM directory_workers ORDER BY department ASC, created_at ASC, id ASC`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanWorkers(rows)
}

func scanWorkers(rows pgx.Rows) ([]domain.Worker, error) {
	result := []domain.Worker{}
	for rows.Next() {
		var worker domain.Worker
		if err := rows.Scan(
			&worker.ID,
			&worker.Name,
			&worker.Email,
			&worker.Department,
			&worker.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, worker)
	}
	return result, rows.Err()
}
