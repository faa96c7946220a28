package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/repair-service/internal/domain"
)

// FamilyRepository reads product classification reference data.
type FamilyRepository interface {
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	GetFamily(ctx context.Context, id string) (*domain.Family, error)
}

type familyRepository struct {
	pool *pgxpool.Pool
}

// NewFamilyRepository instantiates repository.
func NewFamilyRepository(pool *pgxpool.Pool) FamilyRepository {
	return &familyRepository{pool: pool}
}

func (r *familyRepository) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	const query = `SELECT id, name, sku, family_id, created_at FROM products WHERE id=$1`
	var product domain.Product
	if err := r.pool.QueryRow(ctx, query, id).Scan(
		&product.ID,
		&product.Name,
		&product.SKU,
		&product.FamilyID,
		&product.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &product, nil
}

func (r *familyRepository) GetFamily(ctx context.Context, id string) (*domain.Family, error) {
	const query = `SELECT id, name, parent_id, created_at FROM families WHERE id=$1`
	var family domain.Family
	if err := r.pool.QueryRow(ctx, query, id).Scan(
		&family.ID,
		&family.Name,
		&family.ParentID,
		&family.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &family, nil
}
