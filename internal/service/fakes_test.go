package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/repair-service/internal/domain"
	"github.com/spec-kit/repair-service/internal/repository"
)

// In-memory repository fakes. Conditional updates mirror the store contract:
// pgx.ErrNoRows whenever the guarded precondition no longer holds.

type fakeIncidentRepo struct {
	mu        sync.Mutex
	seq       int
	incidents map[string]*domain.Incident

	// One-shot error injections for simulating lost races on the guarded
	// conditional updates.
	failNextUpdateState       error
	failNextSetRecurrenceFlag error
}

func newFakeIncidentRepo() *fakeIncidentRepo {
	return &fakeIncidentRepo{incidents: make(map[string]*domain.Incident)}
}

func (r *fakeIncidentRepo) nextLocked() (string, time.Time) {
	r.seq++
	return fmt.Sprintf("inc-%04d", r.seq), time.Unix(1700000000, 0).Add(time.Duration(r.seq) * time.Second)
}

func copyIncident(incident *domain.Incident) *domain.Incident {
	clone := *incident
	clone.Observations = append([]string(nil), incident.Observations...)
	return &clone
}

func (r *fakeIncidentRepo) Create(ctx context.Context, incident *domain.Incident) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, createdAt := r.nextLocked()
	incident.ID = id
	incident.CreatedAt = createdAt
	incident.UpdatedAt = createdAt
	r.incidents[id] = copyIncident(incident)
	return nil
}

func (r *fakeIncidentRepo) GetByID(ctx context.Context, id string) (*domain.Incident, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	incident, ok := r.incidents[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return copyIncident(incident), nil
}

func (r *fakeIncidentRepo) GetByCode(ctx context.Context, code string) (*domain.Incident, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, incident := range r.incidents {
		if incident.Code == code {
			return copyIncident(incident), nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r *fakeIncidentRepo) eligibleLocked(filter repository.EligibleFilter) []*domain.Incident {
	matches := make([]*domain.Incident, 0)
	for _, incident := range r.incidents {
		if incident.State != domain.StateRegistered {
			continue
		}
		if incident.ServiceCenterID != filter.ServiceCenterID {
			continue
		}
		if incident.GrandparentFamilyID == nil {
			continue
		}
		member := false
		for _, familyID := range filter.FamilyIDs {
			if familyID == *incident.GrandparentFamilyID {
				member = true
				break
			}
		}
		if member {
			matches = append(matches, incident)
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		if !matches[i].CreatedAt.Equal(matches[j].CreatedAt) {
			return matches[i].CreatedAt.Before(matches[j].CreatedAt)
		}
		return matches[i].ID < matches[j].ID
	})
	return matches
}

func (r *fakeIncidentRepo) ListEligibleForQueue(ctx context.Context, filter repository.EligibleFilter) ([]domain.Incident, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	matches := r.eligibleLocked(filter)
	if filter.Limit > 0 && len(matches) > filter.Limit {
		matches = matches[:filter.Limit]
	}
	result := make([]domain.Incident, 0, len(matches))
	for _, incident := range matches {
		result = append(result, *copyIncident(incident))
	}
	return result, nil
}

func (r *fakeIncidentRepo) CountEligibleForQueue(ctx context.Context, filter repository.EligibleFilter) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.eligibleLocked(filter)), nil
}

func (r *fakeIncidentRepo) openCountLocked(technicianID string) int {
	count := 0
	for _, incident := range r.incidents {
		if incident.TechnicianID != nil && *incident.TechnicianID == technicianID && !incident.State.IsTerminal() {
			count++
		}
	}
	return count
}

func (r *fakeIncidentRepo) ClaimHead(ctx context.Context, params repository.ClaimParams) (*domain.Incident, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	matches := r.eligibleLocked(repository.EligibleFilter{
		ServiceCenterID: params.ServiceCenterID,
		FamilyIDs:       params.FamilyIDs,
	})
	if len(matches) == 0 {
		return nil, pgx.ErrNoRows
	}
	if r.openCountLocked(params.TechnicianID) >= params.MaxAssignments {
		return nil, pgx.ErrNoRows
	}
	head := matches[0]
	technicianID := params.TechnicianID
	head.TechnicianID = &technicianID
	head.State = domain.StateInDiagnosis
	head.UpdatedAt = time.Now()
	return copyIncident(head), nil
}

func (r *fakeIncidentRepo) UpdateState(ctx context.Context, id string, from, to domain.IncidentState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failNextUpdateState; err != nil {
		r.failNextUpdateState = nil
		return err
	}
	incident, ok := r.incidents[id]
	if !ok || incident.State != from {
		return pgx.ErrNoRows
	}
	incident.State = to
	incident.UpdatedAt = time.Now()
	if to == domain.StateDelivered {
		now := time.Now()
		incident.DeliveredAt = &now
	}
	return nil
}

func (r *fakeIncidentRepo) ReassignTechnician(ctx context.Context, id, fromTechnicianID, toTechnicianID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	incident, ok := r.incidents[id]
	if !ok || incident.State.IsTerminal() {
		return pgx.ErrNoRows
	}
	if incident.TechnicianID == nil || *incident.TechnicianID != fromTechnicianID {
		return pgx.ErrNoRows
	}
	incident.TechnicianID = &toTechnicianID
	incident.UpdatedAt = time.Now()
	return nil
}

func (r *fakeIncidentRepo) ReturnToQueue(ctx context.Context, id, technicianID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	incident, ok := r.incidents[id]
	if !ok || incident.State.IsTerminal() {
		return pgx.ErrNoRows
	}
	if incident.TechnicianID == nil || *incident.TechnicianID != technicianID {
		return pgx.ErrNoRows
	}
	incident.TechnicianID = nil
	incident.State = domain.StateRegistered
	incident.UpdatedAt = time.Now()
	return nil
}

func (r *fakeIncidentRepo) CountOpenForTechnician(ctx context.Context, technicianID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.openCountLocked(technicianID), nil
}

func (r *fakeIncidentRepo) ListPriorForUnit(ctx context.Context, customerID, productID string, states []domain.IncidentState, limit int) ([]domain.Incident, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	matches := make([]*domain.Incident, 0)
	for _, incident := range r.incidents {
		if incident.CustomerID != customerID || incident.ProductID != productID {
			continue
		}
		for _, state := range states {
			if incident.State == state {
				matches = append(matches, incident)
				break
			}
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].CreatedAt.After(matches[j].CreatedAt)
	})
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	result := make([]domain.Incident, 0, len(matches))
	for _, incident := range matches {
		result = append(result, *copyIncident(incident))
	}
	return result, nil
}

func (r *fakeIncidentRepo) AppendObservation(ctx context.Context, id, note string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	incident, ok := r.incidents[id]
	if !ok {
		return pgx.ErrNoRows
	}
	incident.Observations = append(incident.Observations, note)
	incident.UpdatedAt = time.Now()
	return nil
}

func (r *fakeIncidentRepo) SetRecurrenceFlag(ctx context.Context, id string, value bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failNextSetRecurrenceFlag; err != nil {
		r.failNextSetRecurrenceFlag = nil
		return err
	}
	incident, ok := r.incidents[id]
	if !ok {
		return pgx.ErrNoRows
	}
	incident.IsRecurrence = value
	return nil
}

func (r *fakeIncidentRepo) SetWarrantyApplies(ctx context.Context, id string, value bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	incident, ok := r.incidents[id]
	if !ok {
		return pgx.ErrNoRows
	}
	incident.WarrantyApplies = &value
	return nil
}

func (r *fakeIncidentRepo) WithTx(tx pgx.Tx) repository.IncidentRepository {
	return r
}

func (r *fakeIncidentRepo) snapshot() map[string]*domain.Incident {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap := make(map[string]*domain.Incident, len(r.incidents))
	for id, incident := range r.incidents {
		snap[id] = copyIncident(incident)
	}
	return snap
}

func (r *fakeIncidentRepo) restore(snap map[string]*domain.Incident) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.incidents = snap
}

// seed inserts an incident directly, bypassing intake.
func (r *fakeIncidentRepo) seed(incident domain.Incident) *domain.Incident {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, createdAt := r.nextLocked()
	if incident.ID == "" {
		incident.ID = id
	}
	if incident.CreatedAt.IsZero() {
		incident.CreatedAt = createdAt
	}
	incident.UpdatedAt = incident.CreatedAt
	r.incidents[incident.ID] = copyIncident(&incident)
	return copyIncident(&incident)
}

type fakeStaffRepo struct {
	mu    sync.Mutex
	seq   int
	staff map[string]*domain.Staff
}

func newFakeStaffRepo() *fakeStaffRepo {
	return &fakeStaffRepo{staff: make(map[string]*domain.Staff)}
}

func (r *fakeStaffRepo) Create(ctx context.Context, staff *domain.Staff) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	staff.ID = fmt.Sprintf("staff-%02d", r.seq)
	staff.CreatedAt = time.Now()
	staff.UpdatedAt = staff.CreatedAt
	clone := *staff
	r.staff[staff.ID] = &clone
	return nil
}

func (r *fakeStaffRepo) GetByID(ctx context.Context, id string) (*domain.Staff, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	staff, ok := r.staff[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	clone := *staff
	return &clone, nil
}

func (r *fakeStaffRepo) GetByEmail(ctx context.Context, email string) (*domain.Staff, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, staff := range r.staff {
		if staff.Email == email {
			clone := *staff
			return &clone, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r *fakeStaffRepo) SetActive(ctx context.Context, id string, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	staff, ok := r.staff[id]
	if !ok {
		return pgx.ErrNoRows
	}
	staff.Active = active
	return nil
}

func (r *fakeStaffRepo) seed(staff domain.Staff) *domain.Staff {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	if staff.ID == "" {
		staff.ID = fmt.Sprintf("staff-%02d", r.seq)
	}
	clone := staff
	r.staff[staff.ID] = &clone
	result := staff
	return &result
}

type fakeGroupRepo struct {
	mu     sync.Mutex
	groups map[string]*domain.QueueGroup
}

func newFakeGroupRepo() *fakeGroupRepo {
	return &fakeGroupRepo{groups: make(map[string]*domain.QueueGroup)}
}

func (r *fakeGroupRepo) Create(ctx context.Context, group *domain.QueueGroup) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if group.ID == "" {
		group.ID = fmt.Sprintf("group-%02d", len(r.groups)+1)
	}
	clone := *group
	clone.MemberFamilyIDs = append([]string(nil), group.MemberFamilyIDs...)
	r.groups[group.ID] = &clone
	return nil
}

func (r *fakeGroupRepo) Update(ctx context.Context, group *domain.QueueGroup) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.groups[group.ID]; !ok {
		return pgx.ErrNoRows
	}
	clone := *group
	clone.MemberFamilyIDs = append([]string(nil), group.MemberFamilyIDs...)
	r.groups[group.ID] = &clone
	return nil
}

func (r *fakeGroupRepo) GetByID(ctx context.Context, id string) (*domain.QueueGroup, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	group, ok := r.groups[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	clone := *group
	clone.MemberFamilyIDs = append([]string(nil), group.MemberFamilyIDs...)
	return &clone, nil
}

func (r *fakeGroupRepo) ListByCenter(ctx context.Context, serviceCenterID string, activeOnly bool) ([]domain.QueueGroup, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := make([]domain.QueueGroup, 0)
	for _, group := range r.groups {
		if group.ServiceCenterID != serviceCenterID {
			continue
		}
		if activeOnly && !group.Active {
			continue
		}
		clone := *group
		clone.MemberFamilyIDs = append([]string(nil), group.MemberFamilyIDs...)
		result = append(result, clone)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].DisplayOrder < result[j].DisplayOrder })
	return result, nil
}

type fakeChangeRequestRepo struct {
	mu       sync.Mutex
	seq      int
	requests map[string]*domain.ChangeRequest

	failNextCreate error
}

func newFakeChangeRequestRepo() *fakeChangeRequestRepo {
	return &fakeChangeRequestRepo{requests: make(map[string]*domain.ChangeRequest)}
}

func (r *fakeChangeRequestRepo) Create(ctx context.Context, request *domain.ChangeRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failNextCreate; err != nil {
		r.failNextCreate = nil
		return err
	}
	r.seq++
	request.ID = fmt.Sprintf("cr-%02d", r.seq)
	request.CreatedAt = time.Now()
	clone := *request
	r.requests[request.ID] = &clone
	return nil
}

func (r *fakeChangeRequestRepo) GetByID(ctx context.Context, id string) (*domain.ChangeRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	request, ok := r.requests[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	clone := *request
	return &clone, nil
}

func (r *fakeChangeRequestRepo) GetPendingByIncident(ctx context.Context, incidentID string) (*domain.ChangeRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, request := range r.requests {
		if request.IncidentID == incidentID && request.State == domain.ChangeRequestPending {
			clone := *request
			return &clone, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r *fakeChangeRequestRepo) Resolve(ctx context.Context, id string, outcome domain.ChangeRequestState, resolvedByID, comments string) (*domain.ChangeRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	request, ok := r.requests[id]
	if !ok || request.State != domain.ChangeRequestPending {
		return nil, pgx.ErrNoRows
	}
	now := time.Now()
	request.State = outcome
	request.ResolvedByID = &resolvedByID
	request.ResolvedAt = &now
	request.Comments = comments
	clone := *request
	return &clone, nil
}

func (r *fakeChangeRequestRepo) WithTx(tx pgx.Tx) repository.ChangeRequestRepository {
	return r
}

func (r *fakeChangeRequestRepo) snapshot() map[string]*domain.ChangeRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap := make(map[string]*domain.ChangeRequest, len(r.requests))
	for id, request := range r.requests {
		clone := *request
		snap[id] = &clone
	}
	return snap
}

func (r *fakeChangeRequestRepo) restore(snap map[string]*domain.ChangeRequest) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = snap
}

func (r *fakeChangeRequestRepo) ListByIncident(ctx context.Context, incidentID string) ([]domain.ChangeRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := make([]domain.ChangeRequest, 0)
	for _, request := range r.requests {
		if request.IncidentID == incidentID {
			result = append(result, *request)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

type fakeRecurrenceRepo struct {
	mu            sync.Mutex
	seq           int
	verifications map[string]*domain.RecurrenceVerification
	incidents     *fakeIncidentRepo
}

func newFakeRecurrenceRepo(incidents *fakeIncidentRepo) *fakeRecurrenceRepo {
	return &fakeRecurrenceRepo{
		verifications: make(map[string]*domain.RecurrenceVerification),
		incidents:     incidents,
	}
}

func (r *fakeRecurrenceRepo) Create(ctx context.Context, verification *domain.RecurrenceVerification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.verifications[verification.IncidentID]; exists {
		return repository.ErrVerificationExists
	}
	r.seq++
	verification.ID = fmt.Sprintf("rv-%02d", r.seq)
	verification.CreatedAt = time.Now()
	clone := *verification
	r.verifications[verification.IncidentID] = &clone
	return nil
}

func (r *fakeRecurrenceRepo) GetByIncident(ctx context.Context, incidentID string) (*domain.RecurrenceVerification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	verification, ok := r.verifications[incidentID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	clone := *verification
	return &clone, nil
}

func (r *fakeRecurrenceRepo) WithTx(tx pgx.Tx) repository.RecurrenceRepository {
	return r
}

func (r *fakeRecurrenceRepo) snapshot() map[string]*domain.RecurrenceVerification {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap := make(map[string]*domain.RecurrenceVerification, len(r.verifications))
	for id, verification := range r.verifications {
		clone := *verification
		snap[id] = &clone
	}
	return snap
}

func (r *fakeRecurrenceRepo) restore(snap map[string]*domain.RecurrenceVerification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.verifications = snap
}

func (r *fakeRecurrenceRepo) ListPendingIncidents(ctx context.Context, serviceCenterID string, limit int) ([]domain.Incident, error) {
	r.mu.Lock()
	adjudicated := make(map[string]struct{}, len(r.verifications))
	for incidentID := range r.verifications {
		adjudicated[incidentID] = struct{}{}
	}
	r.mu.Unlock()

	r.incidents.mu.Lock()
	defer r.incidents.mu.Unlock()
	result := make([]domain.Incident, 0)
	for _, incident := range r.incidents.incidents {
		if !incident.IsRecurrence || incident.ServiceCenterID != serviceCenterID {
			continue
		}
		if _, done := adjudicated[incident.ID]; done {
			continue
		}
		result = append(result, *copyIncident(incident))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

type fakeHistoryRepo struct {
	mu      sync.Mutex
	entries []domain.IncidentHistory
}

func newFakeHistoryRepo() *fakeHistoryRepo {
	return &fakeHistoryRepo{}
}

func (r *fakeHistoryRepo) Create(ctx context.Context, entry *domain.IncidentHistory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry.ID = fmt.Sprintf("hist-%03d", len(r.entries)+1)
	entry.CreatedAt = time.Now()
	r.entries = append(r.entries, *entry)
	return nil
}

func (r *fakeHistoryRepo) ListByIncident(ctx context.Context, incidentID string, limit, offset int) ([]domain.IncidentHistory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	matches := make([]domain.IncidentHistory, 0)
	for _, entry := range r.entries {
		if entry.IncidentID == incidentID {
			matches = append(matches, entry)
		}
	}
	if offset >= len(matches) {
		return nil, nil
	}
	matches = matches[offset:]
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func (r *fakeHistoryRepo) byType(incidentID string, changeType domain.IncidentChangeType) []domain.IncidentHistory {
	r.mu.Lock()
	defer r.mu.Unlock()
	matches := make([]domain.IncidentHistory, 0)
	for _, entry := range r.entries {
		if entry.IncidentID == incidentID && entry.ChangeType == changeType {
			matches = append(matches, entry)
		}
	}
	return matches
}

type fakeFamilyRepo struct {
	products map[string]*domain.Product
	families map[string]*domain.Family
}

func newFakeFamilyRepo() *fakeFamilyRepo {
	return &fakeFamilyRepo{
		products: make(map[string]*domain.Product),
		families: make(map[string]*domain.Family),
	}
}

func (r *fakeFamilyRepo) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	product, ok := r.products[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	clone := *product
	return &clone, nil
}

func (r *fakeFamilyRepo) GetFamily(ctx context.Context, id string) (*domain.Family, error) {
	family, ok := r.families[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	clone := *family
	return &clone, nil
}

// fakeTxManager mirrors the store's rollback contract: when the wrapped
// function fails, every participating fake is restored to its contents from
// before the transaction began.
type fakeTxManager struct {
	incidents     *fakeIncidentRepo
	requests      *fakeChangeRequestRepo
	verifications *fakeRecurrenceRepo
}

func (m *fakeTxManager) RunInTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	var (
		incidentSnap     map[string]*domain.Incident
		requestSnap      map[string]*domain.ChangeRequest
		verificationSnap map[string]*domain.RecurrenceVerification
	)
	if m.incidents != nil {
		incidentSnap = m.incidents.snapshot()
	}
	if m.requests != nil {
		requestSnap = m.requests.snapshot()
	}
	if m.verifications != nil {
		verificationSnap = m.verifications.snapshot()
	}

	err := fn(nil)
	if err == nil {
		return nil
	}
	if m.incidents != nil {
		m.incidents.restore(incidentSnap)
	}
	if m.requests != nil {
		m.requests.restore(requestSnap)
	}
	if m.verifications != nil {
		m.verifications.restore(verificationSnap)
	}
	return err
}

func strPtr(s string) *string { return &s }

func boolPtr(b bool) *bool { return &b }
