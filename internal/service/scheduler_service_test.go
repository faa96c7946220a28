package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/spec-kit/repair-service/internal/domain"
	"github.com/spec-kit/repair-service/internal/events"
	apperrors "github.com/spec-kit/repair-service/pkg/util"
)

func domainCode(t *testing.T, err error) string {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	var domainErr *apperrors.DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %T: %v", err, err)
	}
	return domainErr.Code
}

type schedulerFixture struct {
	incidents *fakeIncidentRepo
	groups    *fakeGroupRepo
	staff     *fakeStaffRepo
	history   *fakeHistoryRepo
	service   *SchedulerService
}

func newSchedulerFixture(t *testing.T, maxAssignments int) *schedulerFixture {
	t.Helper()
	incidents := newFakeIncidentRepo()
	groups := newFakeGroupRepo()
	staff := newFakeStaffRepo()
	history := newFakeHistoryRepo()
	svc := NewSchedulerService(SchedulerDependencies{
		IncidentRepo:   incidents,
		GroupRepo:      groups,
		StaffRepo:      staff,
		HistoryRepo:    history,
		Dispatcher:     events.NewInMemoryDispatcher(),
		MaxAssignments: maxAssignments,
	})
	return &schedulerFixture{incidents: incidents, groups: groups, staff: staff, history: history, service: svc}
}

func (f *schedulerFixture) seedGroup(id, centerID string, familyIDs ...string) {
	_ = f.groups.Create(context.Background(), &domain.QueueGroup{
		ID:              id,
		ServiceCenterID: centerID,
		Name:            id,
		Active:          true,
		MemberFamilyIDs: familyIDs,
	})
}

func (f *schedulerFixture) seedTechnician(id string) *domain.Staff {
	return f.staff.seed(domain.Staff{
		ID:              id,
		Name:            id,
		Role:            domain.StaffRoleTechnician,
		ServiceCenterID: "center-1",
		Active:          true,
	})
}

func (f *schedulerFixture) seedRegistered(familyID string) *domain.Incident {
	return f.incidents.seed(domain.Incident{
		State:               domain.StateRegistered,
		ProductID:           "prod-1",
		CustomerID:          "cust-1",
		ServiceCenterID:     "center-1",
		GrandparentFamilyID: strPtr(familyID),
	})
}

func TestAssignHeadFIFOOrder(t *testing.T) {
	f := newSchedulerFixture(t, 10)
	f.seedGroup("group-a", "center-1", "fam-1")
	tech := f.seedTechnician("tech-1")

	first := f.seedRegistered("fam-1")
	second := f.seedRegistered("fam-1")
	third := f.seedRegistered("fam-1")

	for i, want := range []string{first.ID, second.ID, third.ID} {
		claimed, err := f.service.AssignHead(context.Background(), tech, "group-a")
		if err != nil {
			t.Fatalf("claim %d: %v", i, err)
		}
		if claimed.ID != want {
			t.Fatalf("claim %d got %s, want %s", i, claimed.ID, want)
		}
		if claimed.State != domain.StateInDiagnosis {
			t.Fatalf("claimed incident state = %s, want IN_DIAGNOSIS", claimed.State)
		}
		if claimed.TechnicianID == nil || *claimed.TechnicianID != tech.ID {
			t.Fatalf("claimed incident not held by %s", tech.ID)
		}
	}
}

func TestAssignHeadQueueEmpty(t *testing.T) {
	f := newSchedulerFixture(t, 3)
	f.seedGroup("group-a", "center-1", "fam-1")
	tech := f.seedTechnician("tech-1")

	// An incident from a family outside the group must not be claimable.
	f.seedRegistered("fam-other")

	_, err := f.service.AssignHead(context.Background(), tech, "group-a")
	if code := domainCode(t, err); code != "QUEUE_EMPTY" {
		t.Fatalf("code = %s, want QUEUE_EMPTY", code)
	}
}

func TestAssignHeadEnforcesCap(t *testing.T) {
	f := newSchedulerFixture(t, 2)
	f.seedGroup("group-a", "center-1", "fam-1")
	tech := f.seedTechnician("tech-1")

	for i := 0; i < 3; i++ {
		f.seedRegistered("fam-1")
	}
	for i := 0; i < 2; i++ {
		if _, err := f.service.AssignHead(context.Background(), tech, "group-a"); err != nil {
			t.Fatalf("claim %d: %v", i, err)
		}
	}

	_, err := f.service.AssignHead(context.Background(), tech, "group-a")
	if code := domainCode(t, err); code != "ASSIGNMENT_LIMIT_REACHED" {
		t.Fatalf("code = %s, want ASSIGNMENT_LIMIT_REACHED", code)
	}
}

func TestAssignHeadCapFreesAfterTerminal(t *testing.T) {
	f := newSchedulerFixture(t, 1)
	f.seedGroup("group-a", "center-1", "fam-1")
	tech := f.seedTechnician("tech-1")

	held := f.seedRegistered("fam-1")
	f.seedRegistered("fam-1")

	if _, err := f.service.AssignHead(context.Background(), tech, "group-a"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.service.AssignHead(context.Background(), tech, "group-a"); err == nil {
		t.Fatal("expected cap rejection while holding one incident")
	}

	// Drive the held incident to DELIVERED; the slot opens up again.
	for _, step := range []struct{ from, to domain.IncidentState }{
		{domain.StateInDiagnosis, domain.StateRepaired},
		{domain.StateRepaired, domain.StateInDelivery},
		{domain.StateInDelivery, domain.StateDelivered},
	} {
		if err := f.incidents.UpdateState(context.Background(), held.ID, step.from, step.to); err != nil {
			t.Fatal(err)
		}
	}

	if _, err := f.service.AssignHead(context.Background(), tech, "group-a"); err != nil {
		t.Fatalf("claim after delivery: %v", err)
	}
}

func TestConcurrentClaimsNeverDoubleAssign(t *testing.T) {
	f := newSchedulerFixture(t, 100)
	f.seedGroup("group-a", "center-1", "fam-1")

	const incidentCount = 20
	const technicianCount = 8
	for i := 0; i < incidentCount; i++ {
		f.seedRegistered("fam-1")
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	claimed := make(map[string]string)

	for i := 0; i < technicianCount; i++ {
		tech := f.seedTechnician("")
		wg.Add(1)
		go func(tech *domain.Staff) {
			defer wg.Done()
			for {
				incident, err := f.service.AssignHead(context.Background(), tech, "group-a")
				if err != nil {
					return
				}
				mu.Lock()
				if holder, dup := claimed[incident.ID]; dup {
					t.Errorf("incident %s claimed by both %s and %s", incident.ID, holder, tech.ID)
				}
				claimed[incident.ID] = tech.ID
				mu.Unlock()
			}
		}(tech)
	}
	wg.Wait()

	if len(claimed) != incidentCount {
		t.Fatalf("claimed %d incidents, want %d", len(claimed), incidentCount)
	}
}

func TestConcurrentClaimsForOneTechnicianRespectCap(t *testing.T) {
	const maxOpen = 2
	const claimers = 8

	f := newSchedulerFixture(t, maxOpen)
	f.seedGroup("group-a", "center-1", "fam-1")
	tech := f.seedTechnician("tech-1")

	for i := 0; i < claimers*2; i++ {
		f.seedRegistered("fam-1")
	}

	// Simultaneous claims on behalf of one technician starting below the cap:
	// each claim sees the previous one, so successes stop exactly at the cap.
	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.service.AssignHead(context.Background(), tech, "group-a"); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if successes != maxOpen {
		t.Fatalf("successful claims = %d, want %d", successes, maxOpen)
	}
	open, err := f.incidents.CountOpenForTechnician(context.Background(), tech.ID)
	if err != nil {
		t.Fatal(err)
	}
	if open != maxOpen {
		t.Fatalf("open assignments = %d, want %d", open, maxOpen)
	}
}

func TestReassign(t *testing.T) {
	testCases := []struct {
		name     string
		setup    func(f *schedulerFixture) (incidentID, fromID, toID string)
		wantCode string
	}{
		{
			name: "success",
			setup: func(f *schedulerFixture) (string, string, string) {
				from := f.seedTechnician("tech-from")
				to := f.seedTechnician("tech-to")
				incident := f.incidents.seed(domain.Incident{
					State:           domain.StateInDiagnosis,
					ServiceCenterID: "center-1",
					TechnicianID:    &from.ID,
				})
				return incident.ID, from.ID, to.ID
			},
		},
		{
			name: "target at cap",
			setup: func(f *schedulerFixture) (string, string, string) {
				from := f.seedTechnician("tech-from")
				to := f.seedTechnician("tech-to")
				for i := 0; i < 2; i++ {
					f.incidents.seed(domain.Incident{
						State:           domain.StateInDiagnosis,
						ServiceCenterID: "center-1",
						TechnicianID:    &to.ID,
					})
				}
				incident := f.incidents.seed(domain.Incident{
					State:           domain.StateInDiagnosis,
					ServiceCenterID: "center-1",
					TechnicianID:    &from.ID,
				})
				return incident.ID, from.ID, to.ID
			},
			wantCode: "ASSIGNMENT_LIMIT_REACHED",
		},
		{
			name: "not held by source",
			setup: func(f *schedulerFixture) (string, string, string) {
				other := f.seedTechnician("tech-other")
				to := f.seedTechnician("tech-to")
				f.seedTechnician("tech-from")
				incident := f.incidents.seed(domain.Incident{
					State:           domain.StateInDiagnosis,
					ServiceCenterID: "center-1",
					TechnicianID:    &other.ID,
				})
				return incident.ID, "tech-from", to.ID
			},
			wantCode: "NOT_ASSIGNED",
		},
		{
			name: "terminal incident",
			setup: func(f *schedulerFixture) (string, string, string) {
				from := f.seedTechnician("tech-from")
				to := f.seedTechnician("tech-to")
				incident := f.incidents.seed(domain.Incident{
					State:           domain.StateDelivered,
					ServiceCenterID: "center-1",
					TechnicianID:    &from.ID,
				})
				return incident.ID, from.ID, to.ID
			},
			wantCode: "INCIDENT_TERMINAL",
		},
		{
			name: "inactive target",
			setup: func(f *schedulerFixture) (string, string, string) {
				from := f.seedTechnician("tech-from")
				to := f.staff.seed(domain.Staff{ID: "tech-to", Role: domain.StaffRoleTechnician, Active: false})
				incident := f.incidents.seed(domain.Incident{
					State:           domain.StateInDiagnosis,
					ServiceCenterID: "center-1",
					TechnicianID:    &from.ID,
				})
				return incident.ID, from.ID, to.ID
			},
			wantCode: "CONFLICT",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := newSchedulerFixture(t, 2)
			supervisor := f.staff.seed(domain.Staff{ID: "sup-1", Role: domain.StaffRoleSupervisor, Active: true})
			incidentID, fromID, toID := tc.setup(f)

			err := f.service.Reassign(context.Background(), supervisor, incidentID, fromID, toID, "load balancing")
			if tc.wantCode == "" {
				if err != nil {
					t.Fatalf("reassign: %v", err)
				}
				incident, _ := f.incidents.GetByID(context.Background(), incidentID)
				if incident.TechnicianID == nil || *incident.TechnicianID != toID {
					t.Fatalf("incident not held by %s after reassign", toID)
				}
				if len(incident.Observations) == 0 {
					t.Fatal("reassign should append an observation")
				}
				if entries := f.history.byType(incidentID, domain.ChangeTypeAssignee); len(entries) == 0 {
					t.Fatal("reassign should record an assignee history entry")
				}
				return
			}
			if code := domainCode(t, err); code != tc.wantCode {
				t.Fatalf("code = %s, want %s", code, tc.wantCode)
			}
		})
	}
}

func TestUnassignKeepsQueueSlot(t *testing.T) {
	f := newSchedulerFixture(t, 5)
	f.seedGroup("group-a", "center-1", "fam-1")
	tech := f.seedTechnician("tech-1")
	supervisor := f.staff.seed(domain.Staff{ID: "sup-1", Role: domain.StaffRoleSupervisor, Active: true})

	oldest := f.seedRegistered("fam-1")
	f.seedRegistered("fam-1")

	claimed, err := f.service.AssignHead(context.Background(), tech, "group-a")
	if err != nil {
		t.Fatal(err)
	}
	if claimed.ID != oldest.ID {
		t.Fatalf("head = %s, want %s", claimed.ID, oldest.ID)
	}

	if err := f.service.Unassign(context.Background(), supervisor, oldest.ID, "technician unavailable"); err != nil {
		t.Fatalf("unassign: %v", err)
	}

	// Eligibility is ordered by creation, so the returned incident resumes
	// its original position at the head.
	reclaimed, err := f.service.AssignHead(context.Background(), tech, "group-a")
	if err != nil {
		t.Fatal(err)
	}
	if reclaimed.ID != oldest.ID {
		t.Fatalf("reclaimed = %s, want %s", reclaimed.ID, oldest.ID)
	}
}

func TestUnassignRequiresReturnableState(t *testing.T) {
	f := newSchedulerFixture(t, 5)
	supervisor := f.staff.seed(domain.Staff{ID: "sup-1", Role: domain.StaffRoleSupervisor, Active: true})
	tech := f.seedTechnician("tech-1")

	incident := f.incidents.seed(domain.Incident{
		State:           domain.StateRepaired,
		ServiceCenterID: "center-1",
		TechnicianID:    &tech.ID,
	})

	err := f.service.Unassign(context.Background(), supervisor, incident.ID, "")
	if code := domainCode(t, err); code != "ILLEGAL_TRANSITION" {
		t.Fatalf("code = %s, want ILLEGAL_TRANSITION", code)
	}
}

func TestQueueDepths(t *testing.T) {
	f := newSchedulerFixture(t, 5)
	f.seedGroup("group-a", "center-1", "fam-1")
	f.seedGroup("group-b", "center-1", "fam-2")

	f.seedRegistered("fam-1")
	f.seedRegistered("fam-1")
	f.seedRegistered("fam-2")

	depths, err := f.service.QueueDepths(context.Background(), "center-1")
	if err != nil {
		t.Fatal(err)
	}
	byGroup := make(map[string]int, len(depths))
	for _, depth := range depths {
		byGroup[depth.Group.ID] = depth.Depth
	}
	if byGroup["group-a"] != 2 || byGroup["group-b"] != 1 {
		t.Fatalf("depths = %v, want group-a=2 group-b=1", byGroup)
	}
}

func TestOverlappingGroupsShareIncidents(t *testing.T) {
	f := newSchedulerFixture(t, 5)
	f.seedGroup("group-a", "center-1", "fam-1")
	f.seedGroup("group-b", "center-1", "fam-1", "fam-2")
	tech := f.seedTechnician("tech-1")

	incident := f.seedRegistered("fam-1")

	claimed, err := f.service.AssignHead(context.Background(), tech, "group-b")
	if err != nil {
		t.Fatal(err)
	}
	if claimed.ID != incident.ID {
		t.Fatalf("claimed = %s, want %s", claimed.ID, incident.ID)
	}

	// Once claimed through one group it is gone from the other.
	_, err = f.service.AssignHead(context.Background(), tech, "group-a")
	if code := domainCode(t, err); code != "QUEUE_EMPTY" {
		t.Fatalf("code = %s, want QUEUE_EMPTY", code)
	}
}
