package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/repair-service/internal/domain"
)

// IncidentHistoryRepository stores immutable audit entries.
type IncidentHistoryRepository interface {
	Create(ctx context.Context, entry *domain.IncidentHistory) error
	ListByIncident(ctx context.Context, incidentID string, limit, offset int) ([]domain.IncidentHistory, error)
}

type incidentHistoryRepository struct {
	pool *pgxpool.Pool
}

// NewIncidentHistoryRepository instantiates repository.
func NewIncidentHistoryRepository(pool *pgxpool.Pool) IncidentHistoryRepository {
	return &incidentHistoryRepository{pool: pool}
}

func (r *incidentHistoryRepository) Create(ctx context.Context, entry *domain.IncidentHistory) error {
	const query = `
        INSERT INTO incident_history (incident_id, changed_by_id, change_type, old_value, new_value)
        VALUES ($1,$2,$3,$4,$5)
        RETURNING id, created_at`
	return r.pool.QueryRow(ctx, query,
		entry.IncidentID,
		entry.ChangedByID,
		entry.ChangeType,
		entry.OldValue,
		entry.NewValue,
	).Scan(&entry.ID, &entry.CreatedAt)
}

func (r *incidentHistoryRepository) ListByIncident(ctx context.Context, incidentID string, limit, offset int) ([]domain.IncidentHistory, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	const query = `
        SELECT id, incident_id, changed_by_id, change_type, old_value, new_value, created_at
        FROM incident_history
        WHERE incident_id=$1
        ORDER BY created_at DESC
        LIMIT $2 OFFSET $3`
	rows, err := r.pool.Query(ctx, query, incidentID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.IncidentHistory
	for rows.Next() {
		var entry domain.IncidentHistory
		if err := rows.Scan(
			&entry.ID,
			&entry.IncidentID,
			&entry.ChangedByID,
			&entry.ChangeType,
			&entry.OldValue,
			&entry.NewValue,
			&entry.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, entry)
	}
	return result, rows.Err()
}
