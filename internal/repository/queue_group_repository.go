package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/repair-service/internal/domain"
)

// QueueGroupRepository encapsulates queue group configuration.
type QueueGroupRepository interface {
	Create(ctx context.Context, group *domain.QueueGroup) error
	Update(ctx context.Context, group *domain.QueueGroup) error
	GetByID(ctx context.Context, id string) (*domain.QueueGroup, error)
	ListByCenter(ctx context.Context, serviceCenterID string, activeOnly bool) ([]domain.QueueGroup, error)
}

const queueGroupColumns = `id, service_center_id, name, color, display_order, active,
       member_family_ids, created_at, updated_at`

type queueGroupRepository struct {
	pool *pgxpool.Pool
}

// NewQueueGroupRepository instantiates repository.
func NewQueueGroupRepository(pool *pgxpool.Pool) QueueGroupRepository {
	return &queueGroupRepository{pool: pool}
}

func (r *queueGroupRepository) Create(ctx context.Context, group *domain.QueueGroup) error {
	const query = `
        INSERT INTO queue_groups (service_center_id, name, color, display_order, active, member_family_ids)
        VALUES ($1,$2,$3,$4,$5,$6)
        RETURNING id, created_at, updated_at`
	return r.pool.QueryRow(ctx, query,
		group.ServiceCenterID,
		group.Name,
		group.Color,
		group.DisplayOrder,
		group.Active,
		group.MemberFamilyIDs,
	).Scan(&group.ID, &group.CreatedAt, &group.UpdatedAt)
}

func (r *queueGroupRepository) Update(ctx context.Context, group *domain.QueueGroup) error {
	const query = `
        UPDATE queue_groups
        SET name=$1, color=$2, display_order=$3, active=$4, member_family_ids=$5, updated_at=NOW()
        WHERE id=$6`
	cmd, err := r.pool.Exec(ctx, query,
		group.Name,
		group.Color,
		group.DisplayOrder,
		group.Active,
		group.MemberFamilyIDs,
		group.ID,
	)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *queueGroupRepository) GetByID(ctx context.Context, id string) (*domain.QueueGroup, error) {
	query := `SELECT ` + queueGroupColumns + ` FROM queue_groups WHERE id=$1`
	var group domain.QueueGroup
	if err := r.pool.QueryRow(ctx, query, id).Scan(
		&group.ID,
		&group.ServiceCenterID,
		&group.Name,
		&group.Color,
		&group.DisplayOrder,
		&group.Active,
		&group.MemberFamilyIDs,
		&group.CreatedAt,
		&group.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &group, nil
}

func (r *queueGroupRepository) ListByCenter(ctx context.Context, serviceCenterID string, activeOnly bool) ([]domain.QueueGroup, error) {
	query := `SELECT ` + queueGroupColumns + ` FROM queue_groups WHERE service_center_id=$1`
	if activeOnly {
		query += ` AND active=TRUE`
	}
	query += ` ORDER BY display_order ASC, name ASC`

	rows, err := r.pool.Query(ctx, query, serviceCenterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.QueueGroup
	for rows.Next() {
		var group domain.QueueGroup
		if err := rows.Scan(
			&group.ID,
			&group.ServiceCenterID,
			&group.Name,
			&group.Color,
			&group.DisplayOrder,
			&group.Active,
			&group.MemberFamilyIDs,
			&group.CreatedAt,
			&group.UpdatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, group)
	}
	return result, rows.Err()
}
