package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/repair-service/internal/domain"
)

// ErrPendingRequestExists reports an insert that hit the partial unique
// index allowing one pending request per incident.
var ErrPendingRequestExists = errors.New("pending change request already exists")

// ChangeRequestRepository encapsulates adjudication request persistence.
type ChangeRequestRepository interface {
	// Create persists a new request. Returns ErrPendingRequestExists when a
	// pending request for the incident already exists, so a concurrent
	// duplicate submit surfaces as a conflict rather than a raw driver error.
	Create(ctx context.Context, request *domain.ChangeRequest) error
	GetByID(ctx context.Context, id string) (*domain.ChangeRequest, error)
	// GetPendingByIncident returns nil, pgx.ErrNoRows when no open request
	// exists for the incident.
	GetPendingByIncident(ctx context.Context, incidentID string) (*domain.ChangeRequest, error)
	// Resolve records the outcome conditionally on the request still being
	// pending; pgx.ErrNoRows means it was already resolved.
	Resolve(ctx context.Context, id string, outcome domain.ChangeRequestState, resolvedByID, comments string) (*domain.ChangeRequest, error)
	ListByIncident(ctx context.Context, incidentID string) ([]domain.ChangeRequest, error)
	// WithTx returns a copy of the repository whose statements run on the
	// given transaction.
	WithTx(tx pgx.Tx) ChangeRequestRepository
}

const changeRequestColumns = `id, incident_id, type, justification, evidence_keys,
       requested_by_id, state, resolved_by_id, resolved_at, comments, created_at`

type changeRequestRepository struct {
	db Querier
}

// NewChangeRequestRepository instantiates repository.
func NewChangeRequestRepository(pool *pgxpool.Pool) ChangeRequestRepository {
	return &changeRequestRepository{db: pool}
}

func (r *changeRequestRepository) WithTx(tx pgx.Tx) ChangeRequestRepository {
	return &changeRequestRepository{db: tx}
}

func (r *changeRequestRepository) Create(ctx context.Context, request *domain.ChangeRequest) error {
	const query = `
        INSERT INTO change_requests (incident_id, type, justification, evidence_keys, requested_by_id, state)
        VALUES ($1,$2,$3,$4,$5,$6)
        RETURNING id, created_at`
	err := r.db.QueryRow(ctx, query,
		request.IncidentID,
		request.Type,
		request.Justification,
		request.EvidenceKeys,
		request.RequestedByID,
		request.State,
	).Scan(&request.ID, &request.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrPendingRequestExists
		}
		return err
	}
	return nil
}

func (r *changeRequestRepository) GetByID(ctx context.Context, id string) (*domain.ChangeRequest, error) {
	query := `SELECT ` + changeRequestColumns + ` FROM change_requests WHERE id=$1`
	row := r.db.QueryRow(ctx, query, id)
	return scanChangeRequest(row)
}

func (r *changeRequestRepository) GetPendingByIncident(ctx context.Context, incidentID string) (*domain.ChangeRequest, error) {
	query := `SELECT ` + changeRequestColumns + ` FROM change_requests WHERE incident_id=$1 AND state=$2`
	row := r.db.QueryRow(ctx, query, incidentID, domain.ChangeRequestPending)
	return scanChangeRequest(row)
}

func (r *changeRequestRepository) Resolve(ctx context.Context, id string, outcome domain.ChangeRequestState, resolvedByID, comments string) (*domain.ChangeRequest, error) {
	query := `
        UPDATE change_requests
        SET state=$1, resolved_by_id=$2, resolved_at=NOW(), comments=$3
        WHERE id=$4 AND state=$5
        RETURNING ` + changeRequestColumns
	row := r.db.QueryRow(ctx, query, outcome, resolvedByID, comments, id, domain.ChangeRequestPending)
	return scanChangeRequest(row)
}

func (r *changeRequestRepository) ListByIncident(ctx context.Context, incidentID string) ([]domain.ChangeRequest, error) {
	query := `SELECT ` + changeRequestColumns + ` FROM change_requests WHERE incident_id=$1 ORDER BY created_at ASC`
	rows, err := r.db.Query(ctx, query, incidentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.ChangeRequest
	for rows.Next() {
		request, err := scanChangeRequest(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *request)
	}
	return result, rows.Err()
}

func scanChangeRequest(row pgx.Row) (*domain.ChangeRequest, error) {
	var request domain.ChangeRequest
	if err := row.Scan(
		&request.ID,
		&request.IncidentID,
		&request.Type,
		&request.Justification,
		&request.EvidenceKeys,
		&request.RequestedByID,
		&request.State,
		&request.ResolvedByID,
		&request.ResolvedAt,
		&request.Comments,
		&request.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &request, nil
}
