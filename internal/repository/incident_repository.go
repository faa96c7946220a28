package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/repair-service/internal/domain"
)

// EligibleFilter selects registered incidents for one queue group.
type EligibleFilter struct {
	ServiceCenterID string
	FamilyIDs       []string
	Limit           int
}

// ClaimParams drives the atomic head-of-queue claim.
type ClaimParams struct {
	ServiceCenterID string
	FamilyIDs       []string
	TechnicianID    string
	MaxAssignments  int
}

// IncidentRepository encapsulates incident persistence.
type IncidentRepository interface {
	Create(ctx context.Context, incident *domain.Incident) error
	GetByID(ctx context.Context, id string) (*domain.Incident, error)
	GetByCode(ctx context.Context, code string) (*domain.Incident, error)
	ListEligibleForQueue(ctx context.Context, filter EligibleFilter) ([]domain.Incident, error)
	CountEligibleForQueue(ctx context.Context, filter EligibleFilter) (int, error)
	// ClaimHead atomically selects the FIFO head of the eligible set, assigns
	// it to the technician and moves it to IN_DIAGNOSIS, guarded by the
	// technician's open-assignment cap. Returns pgx.ErrNoRows when nothing
	// was claimed.
	ClaimHead(ctx context.Context, params ClaimParams) (*domain.Incident, error)
	// UpdateState applies a conditional state change; pgx.ErrNoRows means the
	// expected state no longer holds (the caller lost a race).
	UpdateState(ctx context.Context, id string, from, to domain.IncidentState) error
	// ReassignTechnician swaps the assignee while the incident is held and
	// non-terminal.
	ReassignTechnician(ctx context.Context, id, fromTechnicianID, toTechnicianID string) error
	// ReturnToQueue clears the assignee and moves the incident back to
	// REGISTERED in one statement.
	ReturnToQueue(ctx context.Context, id, technicianID string) error
	CountOpenForTechnician(ctx context.Context, technicianID string) (int, error)
	ListPriorForUnit(ctx context.Context, customerID, productID string, states []domain.IncidentState, limit int) ([]domain.Incident, error)
	AppendObservation(ctx context.Context, id, note string) error
	SetRecurrenceFlag(ctx context.Context, id string, value bool) error
	SetWarrantyApplies(ctx context.Context, id string, value bool) error
	// WithTx returns a copy of the repository whose statements run on the
	// given transaction.
	WithTx(tx pgx.Tx) IncidentRepository
}

const incidentColumns = `id, code, state, product_id, customer_id, service_center_id,
       grandparent_family_id, technician_id, is_recurrence, warranty_applies,
       problem_description, observations, created_at, updated_at, delivered_at`

type incidentRepository struct {
	pool *pgxpool.Pool
	db   Querier
}

// NewIncidentRepository instantiates repository.
func NewIncidentRepository(pool *pgxpool.Pool) IncidentRepository {
	return &incidentRepository{pool: pool, db: pool}
}

func (r *incidentRepository) WithTx(tx pgx.Tx) IncidentRepository {
	return &incidentRepository{pool: r.pool, db: tx}
}

func (r *incidentRepository) Create(ctx context.Context, incident *domain.Incident) error {
	const query = `
        INSERT INTO incidents (code, state, product_id, customer_id, service_center_id,
            grandparent_family_id, technician_id, is_recurrence, warranty_applies,
            problem_description, observations)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
        RETURNING id, created_at, updated_at`
	return r.db.QueryRow(ctx, query,
		incident.Code,
		incident.State,
		incident.ProductID,
		incident.CustomerID,
		incident.ServiceCenterID,
		incident.GrandparentFamilyID,
		incident.TechnicianID,
		incident.IsRecurrence,
		incident.WarrantyApplies,
		incident.ProblemDescription,
		incident.Observations,
	).Scan(&incident.ID, &incident.CreatedAt, &incident.UpdatedAt)
}

func (r *incidentRepository) GetByID(ctx context.Context, id string) (*domain.Incident, error) {
	query := fmt.Sprintf(`SELECT %s FROM incidents WHERE id=$1`, incidentColumns)
	return r.fetchSingle(ctx, query, id)
}

func (r *incidentRepository) GetByCode(ctx context.Context, code string) (*domain.Incident, error) {
	query := fmt.Sprintf(`SELECT %s FROM incidents WHERE code=$1`, incidentColumns)
	return r.fetchSingle(ctx, query, code)
}

func (r *incidentRepository) fetchSingle(ctx context.Context, query string, arg any) (*domain.Incident, error) {
	row := r.db.QueryRow(ctx, query, arg)
	return scanIncident(row)
}

// ListEligibleForQueue returns the FIFO-ordered eligible set: registered
// incidents of the center whose resolved grandparent family is in the set.
// Order is (created_at, id) ascending and nothing may reorder it.
func (r *incidentRepository) ListEligibleForQueue(ctx context.Context, filter EligibleFilter) ([]domain.Incident, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf(`
        SELECT %s FROM incidents
        WHERE state=$1 AND service_center_id=$2 AND grandparent_family_id = ANY($3)
        ORDER BY created_at ASC, id ASC
        LIMIT %d`, incidentColumns, limit)
	rows, err := r.db.Query(ctx, query, domain.StateRegistered, filter.ServiceCenterID, filter.FamilyIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanIncidents(rows)
}

func (r *incidentRepository) CountEligibleForQueue(ctx context.Context, filter EligibleFilter) (int, error) {
	const query = `
        SELECT COUNT(*) FROM incidents
        WHERE state=$1 AND service_center_id=$2 AND grandparent_family_id = ANY($3)`
	var count int
	err := r.db.QueryRow(ctx, query, domain.StateRegistered, filter.ServiceCenterID, filter.FamilyIDs).Scan(&count)
	return count, err
}

// ClaimHead is the single serialization point of the scheduler. The row
// lock on the head (FOR UPDATE SKIP LOCKED) guarantees two concurrent
// callers never receive the same incident. The cap guard alone does not
// survive concurrency: two claims for the same technician lock different
// head rows and each COUNT runs against a snapshot that misses the other's
// uncommitted claim, so both could pass at cap-1. The transaction therefore
// takes a per-technician advisory lock first, serializing same-technician
// claims so every cap check sees the previous claim committed.
func (r *incidentRepository) ClaimHead(ctx context.Context, params ClaimParams) (*domain.Incident, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, params.TechnicianID); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
        WITH head AS (
            SELECT id FROM incidents
            WHERE state=$1 AND service_center_id=$2 AND grandparent_family_id = ANY($3)
            ORDER BY created_at ASC, id ASC
            LIMIT 1
            FOR UPDATE SKIP LOCKED
        )
        UPDATE incidents i
        SET state=$4, technician_id=$5, updated_at=NOW()
        FROM head
        WHERE i.id = head.id
          AND (SELECT COUNT(*) FROM incidents
               WHERE technician_id=$5 AND state = ANY($6)) < $7
        RETURNING %s`, prefixColumns("i", incidentColumns))
	row := tx.QueryRow(ctx, query,
		domain.StateRegistered,
		params.ServiceCenterID,
		params.FamilyIDs,
		domain.StateInDiagnosis,
		params.TechnicianID,
		stateStrings(domain.OpenStates()),
		params.MaxAssignments,
	)
	incident, err := scanIncident(row)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return incident, nil
}

func (r *incidentRepository) UpdateState(ctx context.Context, id string, from, to domain.IncidentState) error {
	const query = `
        UPDATE incidents
        SET state=$1, updated_at=NOW(),
            delivered_at = CASE WHEN $1 = 'DELIVERED' THEN NOW() ELSE delivered_at END
        WHERE id=$2 AND state=$3`
	cmd, err := r.db.Exec(ctx, query, to, id, from)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *incidentRepository) ReassignTechnician(ctx context.Context, id, fromTechnicianID, toTechnicianID string) error {
	const query = `
        UPDATE incidents
        SET technician_id=$1, updated_at=NOW()
        WHERE id=$2 AND technician_id=$3
          AND state NOT IN ('REGISTERED', 'DELIVERED', 'REJECTED_CLOSED')`
	cmd, err := r.db.Exec(ctx, query, toTechnicianID, id, fromTechnicianID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *incidentRepository) ReturnToQueue(ctx context.Context, id, technicianID string) error {
	const query = `
        UPDATE incidents
        SET state=$1, technician_id=NULL, updated_at=NOW()
        WHERE id=$2 AND technician_id=$3 AND state=$4`
	cmd, err := r.db.Exec(ctx, query, domain.StateRegistered, id, technicianID, domain.StateInDiagnosis)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// CountOpenForTechnician derives the open-assignment count from the rows
// themselves rather than a separately maintained counter.
func (r *incidentRepository) CountOpenForTechnician(ctx context.Context, technicianID string) (int, error) {
	const query = `SELECT COUNT(*) FROM incidents WHERE technician_id=$1 AND state = ANY($2)`
	var count int
	err := r.db.QueryRow(ctx, query, technicianID, stateStrings(domain.OpenStates())).Scan(&count)
	return count, err
}

func (r *incidentRepository) ListPriorForUnit(ctx context.Context, customerID, productID string, states []domain.IncidentState, limit int) ([]domain.Incident, error) {
	if limit <= 0 {
		limit = 10
	}
	query := fmt.Sprintf(`
        SELECT %s FROM incidents
        WHERE customer_id=$1 AND product_id=$2 AND state = ANY($3)
        ORDER BY created_at DESC
        LIMIT %d`, incidentColumns, limit)
	rows, err := r.db.Query(ctx, query, customerID, productID, stateStrings(states))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanIncidents(rows)
}

func (r *incidentRepository) AppendObservation(ctx context.Context, id, note string) error {
	const query = `
        UPDATE incidents
        SET observations = array_append(observations, $1), updated_at=NOW()
        WHERE id=$2`
	cmd, err := r.db.Exec(ctx, query, note, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *incidentRepository) SetRecurrenceFlag(ctx context.Context, id string, value bool) error {
	const query = `UPDATE incidents SET is_recurrence=$1, updated_at=NOW() WHERE id=$2`
	cmd, err := r.db.Exec(ctx, query, value, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *incidentRepository) SetWarrantyApplies(ctx context.Context, id string, value bool) error {
	const query = `UPDATE incidents SET warranty_applies=$1, updated_at=NOW() WHERE id=$2`
	cmd, err := r.db.Exec(ctx, query, value, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIncident(row rowScanner) (*domain.Incident, error) {
	var incident domain.Incident
	if err := row.Scan(
		&incident.ID,
		&incident.Code,
		&incident.State,
		&incident.ProductID,
		&incident.CustomerID,
		&incident.ServiceCenterID,
		&incident.GrandparentFamilyID,
		&incident.TechnicianID,
		&incident.IsRecurrence,
		&incident.WarrantyApplies,
		&incident.ProblemDescription,
		&incident.Observations,
		&incident.CreatedAt,
		&incident.UpdatedAt,
		&incident.DeliveredAt,
	); err != nil {
		return nil, err
	}
	return &incident, nil
}

func scanIncidents(rows pgx.Rows) ([]domain.Incident, error) {
	var result []domain.Incident
	for rows.Next() {
		incident, err := scanIncident(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *incident)
	}
	return result, rows.Err()
}

func stateStrings(states []domain.IncidentState) []string {
	result := make([]string, 0, len(states))
	for _, s := range states {
		result = append(result, string(s))
	}
	return result
}

func prefixColumns(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, part := range parts {
		parts[i] = alias + "." + strings.TrimSpace(part)
	}
	return strings.Join(parts, ", ")
}
