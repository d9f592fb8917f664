package notification

import (
	"context"
	"testing"

	"github.com/digcoord/digcoord/internal/conflict"
	"github.com/digcoord/digcoord/internal/directory"
	"github.com/digcoord/digcoord/internal/eventbus"
	"github.com/digcoord/digcoord/internal/mailqueue"
	"github.com/digcoord/digcoord/internal/storage"
	"github.com/digcoord/digcoord/internal/types"
)

type fixture struct {
	dir      *directory.Memory
	queue    *mailqueue.Memory
	projects *fakeFinder
	d        *Dispatcher
}

type fakeFinder struct {
	byID           map[string]*types.Project
	byMunicipality map[string][]*types.Project
}

func (f *fakeFinder) GetProject(_ context.Context, id string) (*types.Project, error) {
	p, ok := f.byID[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return p, nil
}

func (f *fakeFinder) SearchProjects(_ context.Context, filter types.ProjectFilter, _ types.Page) (*types.PagedProjects, error) {
	items := f.byMunicipality[filter.MunicipalityCode]
	return &types.PagedProjects{Total: len(items), Items: items}, nil
}

func newFixture() *fixture {
	f := &fixture{
		dir:   directory.NewMemory(),
		queue: mailqueue.NewMemory(),
		projects: &fakeFinder{
			byID:           map[string]*types.Project{},
			byMunicipality: map[string][]*types.Project{},
		},
	}
	f.d = New(f.dir, f.queue, f.projects, nil)
	return f
}

func (f *fixture) addApplicant(id string) {
	f.dir.AddUser(&directory.User{ID: id, Email: id + "@example.org", Role: types.RoleApplicant, Active: true})
}

func (f *fixture) addCoordinator(id string, territories ...string) {
	f.dir.AddUser(&directory.User{ID: id, Email: id + "@example.org", Role: types.RoleMunicipalCoordinator, Active: true}, territories...)
}

func (f *fixture) addAdmin(id string) {
	f.dir.AddUser(&directory.User{ID: id, Email: id + "@example.org", Role: types.RoleRegionalAdmin, Active: true})
}

func testProject(id, applicant string, state types.State, municipalities ...string) *types.Project {
	return &types.Project{
		ID:                     id,
		Name:                   "project " + id,
		ApplicantID:            applicant,
		State:                  state,
		StartDate:              types.MustParseDate("2026-06-01"),
		EndDate:                types.MustParseDate("2026-06-30"),
		Geometry:               types.PointGeometry(14.42, 50.08),
		AffectedMunicipalities: municipalities,
	}
}

func recipients(queue *mailqueue.Memory) map[string]string {
	out := map[string]string{}
	for _, m := range queue.Messages() {
		out[m.RecipientEmail] = m.Template
	}
	return out
}

func TestProjectCreatedNotifiesCoordinatorsOnlyWhenSubmitted(t *testing.T) {
	f := newFixture()
	f.addCoordinator("coord-in", "CZ0100")
	f.addCoordinator("coord-out", "CZ0999")

	draft := testProject("p1", "alice", types.StateDraft, "CZ0100")
	_ = f.d.Handle(context.Background(), &eventbus.Event{Type: eventbus.EventProjectCreated, Project: draft})
	if len(f.queue.Messages()) != 0 {
		t.Fatal("draft creation must be silent")
	}

	submitted := testProject("p2", "alice", types.StatePendingApproval, "CZ0100")
	_ = f.d.Handle(context.Background(), &eventbus.Event{Type: eventbus.EventProjectCreated, Project: submitted})

	got := recipients(f.queue)
	if got["coord-in@example.org"] != TemplateProjectSubmitted {
		t.Errorf("territory coordinator not notified: %v", got)
	}
	if _, ok := got["coord-out@example.org"]; ok {
		t.Error("out-of-territory coordinator notified")
	}
}

// A freshly created project's event snapshot predates municipality
// derivation: the stored row carries the derived set, the snapshot does not.
// Coordinators must still be resolved.
func TestProjectCreatedResolvesStoredMunicipalities(t *testing.T) {
	f := newFixture()
	f.addCoordinator("coord", "CZ0100")

	snapshot := testProject("p1", "alice", types.StatePendingApproval)
	f.projects.byID["p1"] = testProject("p1", "alice", types.StatePendingApproval, "CZ0100")

	_ = f.d.Handle(context.Background(), &eventbus.Event{Type: eventbus.EventProjectCreated, Project: snapshot})

	got := recipients(f.queue)
	if got["coord@example.org"] != TemplateProjectSubmitted {
		t.Errorf("coordinator for derived municipality not notified: %v", got)
	}
}

// A geometry edit can move a project into a different municipality; the
// stored set decides who hears about it, not the set the event carried.
func TestProjectUpdatedFollowsMunicipalityMove(t *testing.T) {
	f := newFixture()
	f.addCoordinator("coord-old", "CZ0100")
	f.addCoordinator("coord-new", "CZ0201")

	old := testProject("p1", "alice", types.StateApproved, "CZ0100")
	moved := testProject("p1", "alice", types.StateApproved, "CZ0100")
	moved.Geometry = types.PointGeometry(14.99, 50.55)
	f.projects.byID["p1"] = testProject("p1", "alice", types.StateApproved, "CZ0201")

	_ = f.d.Handle(context.Background(), &eventbus.Event{
		Type: eventbus.EventProjectUpdated, Project: moved, OldProject: old,
	})

	got := recipients(f.queue)
	if got["coord-new@example.org"] != TemplateProjectUpdated {
		t.Errorf("coordinator for the new municipality missing: %v", got)
	}
	if _, ok := got["coord-old@example.org"]; ok {
		t.Error("coordinator for the old municipality should not be notified")
	}
}

func TestStateChangedRecipients(t *testing.T) {
	tests := []struct {
		state           types.State
		wantApplicant   bool
		wantCoordinator bool
	}{
		{types.StateApproved, true, false},
		{types.StateRejected, true, false},
		{types.StateInProgress, true, true},
		{types.StateCompleted, true, true},
		{types.StateForwardPlanning, false, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			f := newFixture()
			f.addApplicant("alice")
			f.addCoordinator("coord", "CZ0100")

			p := testProject("p1", "alice", tt.state, "CZ0100")
			_ = f.d.Handle(context.Background(), &eventbus.Event{
				Type: eventbus.EventProjectStateChanged, Project: p, OldState: types.StatePendingApproval,
			})

			got := recipients(f.queue)
			if _, ok := got["alice@example.org"]; ok != tt.wantApplicant {
				t.Errorf("applicant notified = %v, want %v", ok, tt.wantApplicant)
			}
			if _, ok := got["coord@example.org"]; ok != tt.wantCoordinator {
				t.Errorf("coordinator notified = %v, want %v", ok, tt.wantCoordinator)
			}
		})
	}
}

func TestCommentAddedExcludesAuthor(t *testing.T) {
	f := newFixture()
	f.addApplicant("alice")
	f.addCoordinator("coord", "CZ0100")

	p := testProject("p1", "alice", types.StatePendingApproval, "CZ0100")
	comment := &types.Comment{ID: "c1", ProjectID: "p1", AuthorID: "alice", Content: "please adjust dates"}
	_ = f.d.Handle(context.Background(), &eventbus.Event{Type: eventbus.EventCommentAdded, Project: p, Comment: comment})

	got := recipients(f.queue)
	if _, ok := got["alice@example.org"]; ok {
		t.Error("author must not be notified of own comment")
	}
	if got["coord@example.org"] != TemplateCommentAdded {
		t.Errorf("coordinator missing: %v", got)
	}
}

func TestConflictsDetectedNotifiesPeersOnce(t *testing.T) {
	f := newFixture()
	f.addApplicant("alice")
	f.addApplicant("bob")
	f.addCoordinator("coord", "CZ0100")

	subject := testProject("p1", "alice", types.StatePendingApproval, "CZ0100")
	peer := testProject("p2", "bob", types.StateApproved, "CZ0100")
	selfPeer := testProject("p3", "alice", types.StateApproved, "CZ0100") // same applicant as subject

	_ = f.d.Handle(context.Background(), &eventbus.Event{
		Type: eventbus.EventConflictsDetected, Project: subject,
		Conflicts: []*types.Project{peer, selfPeer},
	})

	var aliceCount, bobCount int
	for _, m := range f.queue.Messages() {
		switch m.RecipientEmail {
		case "alice@example.org":
			aliceCount++
		case "bob@example.org":
			bobCount++
			if m.Template != TemplateConflictPeer {
				t.Errorf("peer template = %s", m.Template)
			}
			if m.Payload["conflict_project_id"] != "p1" {
				t.Errorf("peer payload = %v", m.Payload)
			}
		}
	}
	if aliceCount != 1 {
		t.Errorf("subject applicant notified %d times, want exactly once", aliceCount)
	}
	if bobCount != 1 {
		t.Errorf("peer applicant notified %d times, want once", bobCount)
	}
}

func TestMoratoriumCreatedReachesCoordinatorsAndLocalApplicants(t *testing.T) {
	f := newFixture()
	f.addCoordinator("coord", "CZ0100")
	f.addApplicant("alice")
	f.projects.byMunicipality["CZ0100"] = []*types.Project{
		testProject("p1", "alice", types.StateApproved, "CZ0100"),
	}

	m := &types.Moratorium{
		ID: "m1", Name: "Fresh asphalt", Reason: "new_surface",
		ValidFrom: types.MustParseDate("2026-01-01"), ValidTo: types.MustParseDate("2027-01-01"),
		MunicipalityCode: "CZ0100",
	}
	_ = f.d.Handle(context.Background(), &eventbus.Event{Type: eventbus.EventMoratoriumCreated, Moratorium: m})

	got := recipients(f.queue)
	if got["coord@example.org"] != TemplateMoratoriumCreated {
		t.Errorf("coordinator missing: %v", got)
	}
	if got["alice@example.org"] != TemplateMoratoriumCreated {
		t.Errorf("local applicant missing: %v", got)
	}
}

func TestUserRegisteredNotifiesAdmins(t *testing.T) {
	f := newFixture()
	f.addAdmin("root")
	f.addCoordinator("coord", "CZ0100")
	f.dir.AddUser(&directory.User{ID: "inactive", Email: "inactive@example.org", Role: types.RoleRegionalAdmin, Active: false})

	_ = f.d.Handle(context.Background(), &eventbus.Event{Type: eventbus.EventUserRegistered, UserID: "newbie"})

	got := recipients(f.queue)
	if got["root@example.org"] != TemplateUserRegistered {
		t.Errorf("admin missing: %v", got)
	}
	if len(got) != 1 {
		t.Errorf("only active admins should be notified: %v", got)
	}
}

func TestDeadlineNotifiesCoordinatorsOnlyWhenApproved(t *testing.T) {
	f := newFixture()
	f.addApplicant("alice")
	f.addCoordinator("coord", "CZ0100")

	approved := testProject("p1", "alice", types.StateApproved, "CZ0100")
	_ = f.d.Handle(context.Background(), &eventbus.Event{
		Type: eventbus.EventDeadlineApproaching, Project: approved,
		DeadlineKind: eventbus.DeadlineStartApproaching, DaysUntil: 3,
	})
	got := recipients(f.queue)
	if len(got) != 2 {
		t.Errorf("approved deadline recipients = %v", got)
	}
	f.queue.Reset()

	inProgress := testProject("p2", "alice", types.StateInProgress, "CZ0100")
	_ = f.d.Handle(context.Background(), &eventbus.Event{
		Type: eventbus.EventDeadlineApproaching, Project: inProgress,
		DeadlineKind: eventbus.DeadlineEndingSoon, DaysUntil: 1,
	})
	got = recipients(f.queue)
	if len(got) != 1 || got["alice@example.org"] != TemplateDeadline {
		t.Errorf("in-progress deadline recipients = %v", got)
	}
}

// chainStore backs a detector and the dispatcher with one project map, so a
// municipality set the detector derives is visible to the dispatcher.
type chainStore struct {
	*fakeFinder
	municipalities []string
}

func (s *chainStore) FindSpatiallyIntersecting(context.Context, types.Geometry, float64, []types.State, string) ([]*types.Project, error) {
	return nil, nil
}

func (s *chainStore) CheckViolations(context.Context, types.Geometry, types.Date, types.Date) ([]*types.Moratorium, error) {
	return nil, nil
}

func (s *chainStore) UpdateConflictStatus(_ context.Context, id string, hasConflict bool, conflictingIDs []string) error {
	p := s.byID[id]
	p.HasConflict = hasConflict
	p.ConflictingProjectIDs = conflictingIDs
	return nil
}

func (s *chainStore) AddPeerConflict(context.Context, string, string) error { return nil }

func (s *chainStore) UpdateAffectedMunicipalities(_ context.Context, id string, codes []string) error {
	s.byID[id].AffectedMunicipalities = codes
	return nil
}

func (s *chainStore) MunicipalitiesIntersecting(context.Context, types.Geometry) ([]string, error) {
	return s.municipalities, nil
}

// Full dispatch chain for a fresh submission: detection runs first and
// persists the derived municipality set, then recipient resolution picks it
// up. The event snapshot never carries the set.
func TestCreatedChainDerivesMunicipalitiesBeforeNotifying(t *testing.T) {
	f := newFixture()
	f.addCoordinator("coord", "CZ0100")

	store := &chainStore{fakeFinder: f.projects, municipalities: []string{"CZ0100"}}
	store.byID["p1"] = testProject("p1", "alice", types.StatePendingApproval)

	bus := eventbus.New()
	bus.Register(conflict.NewEventHandler(conflict.New(store, nil, 0, nil)))
	bus.Register(f.d)

	snapshot := testProject("p1", "alice", types.StatePendingApproval)
	if err := bus.Dispatch(context.Background(), &eventbus.Event{
		Type: eventbus.EventProjectCreated, Project: snapshot,
	}); err != nil {
		t.Fatal(err)
	}

	got := recipients(f.queue)
	if got["coord@example.org"] != TemplateProjectSubmitted {
		t.Errorf("coordinator in derived municipality not notified: %v", got)
	}
}

func TestSendSkipsUsersWithoutEmail(t *testing.T) {
	f := newFixture()
	f.dir.AddUser(&directory.User{ID: "no-mail", Role: types.RoleApplicant, Active: true})

	p := testProject("p1", "no-mail", types.StateApproved, "CZ0100")
	_ = f.d.Handle(context.Background(), &eventbus.Event{
		Type: eventbus.EventProjectStateChanged, Project: p, OldState: types.StatePendingApproval,
	})
	if len(f.queue.Messages()) != 0 {
		t.Error("user without email should be skipped")
	}
}
