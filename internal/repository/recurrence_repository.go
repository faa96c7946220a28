package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/repair-service/internal/domain"
)

// ErrVerificationExists reports an insert against an already adjudicated
// incident (unique constraint on incident_id).
var ErrVerificationExists = errors.New("recurrence verification already exists")

// RecurrenceRepository encapsulates verification persistence.
type RecurrenceRepository interface {
	// Create persists the single verification for an incident. Returns
	// ErrVerificationExists when one was already recorded, which makes the
	// operation race-safe without a separate existence query per incident.
	Create(ctx context.Context, verification *domain.RecurrenceVerification) error
	GetByIncident(ctx context.Context, incidentID string) (*domain.RecurrenceVerification, error)
	// ListPendingIncidents returns flagged incidents of a center with no
	// verification yet, oldest first.
	ListPendingIncidents(ctx context.Context, serviceCenterID string, limit int) ([]domain.Incident, error)
	// WithTx returns a copy of the repository whose statements run on the
	// given transaction.
	WithTx(tx pgx.Tx) RecurrenceRepository
}

type recurrenceRepository struct {
	db Querier
}

// NewRecurrenceRepository instantiates repository.
func NewRecurrenceRepository(pool *pgxpool.Pool) RecurrenceRepository {
	return &recurrenceRepository{db: pool}
}

func (r *recurrenceRepository) WithTx(tx pgx.Tx) RecurrenceRepository {
	return &recurrenceRepository{db: tx}
}

func (r *recurrenceRepository) Create(ctx context.Context, verification *domain.RecurrenceVerification) error {
	const query = `
        INSERT INTO recurrence_verifications
            (incident_id, prior_incident_id, verified_by_id, is_valid_recurrence, applies_reentry, justification)
        VALUES ($1,$2,$3,$4,$5,$6)
        RETURNING id, created_at`
	err := r.db.QueryRow(ctx, query,
		verification.IncidentID,
		verification.PriorIncidentID,
		verification.VerifiedByID,
		verification.IsValidRecurrence,
		verification.AppliesReentry,
		verification.Justification,
	).Scan(&verification.ID, &verification.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrVerificationExists
		}
		return err
	}
	return nil
}

func (r *recurrenceRepository) GetByIncident(ctx context.Context, incidentID string) (*domain.RecurrenceVerification, error) {
	const query = `
        SELECT id, incident_id, prior_incident_id, verified_by_id, is_valid_recurrence,
               applies_reentry, justification, created_at
        FROM recurrence_verifications WHERE incident_id=$1`
	var verification domain.RecurrenceVerification
	if err := r.db.QueryRow(ctx, query, incidentID).Scan(
		&verification.ID,
		&verification.IncidentID,
		&verification.PriorIncidentID,
		&verification.VerifiedByID,
		&verification.IsValidRecurrence,
		&verification.AppliesReentry,
		&verification.Justification,
		&verification.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &verification, nil
}

func (r *recurrenceRepository) ListPendingIncidents(ctx context.Context, serviceCenterID string, limit int) ([]domain.Incident, error) {
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`
        SELECT %s FROM incidents i
        WHERE i.is_recurrence = TRUE
          AND i.service_center_id = $1
          AND NOT EXISTS (
              SELECT 1 FROM recurrence_verifications v WHERE v.incident_id = i.id
          )
        ORDER BY i.created_at ASC, i.id ASC
        LIMIT %d`, prefixColumns("i", incidentColumns), limit)
	rows, err := r.db.Query(ctx, query, serviceCenterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanIncidents(rows)
}
