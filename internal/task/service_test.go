package task

import (
	"context"
	"errors"
	"testing"
	"time"

	"taskdeck.org/internal/audit"
	"taskdeck.org/internal/rbac"
)

type fixture struct {
	store *InMemory
	sink  *audit.MemorySink
	svc   *Service
	clock *time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := NewInMemory()
	sink := audit.NewMemorySink()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	rec, err := audit.NewRecorder(sink, audit.WithClock(clock))
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}
	svc, err := NewService(store, rec, WithClock(clock))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	ctx := context.Background()
	for _, org := range []Organization{
		{ID: "org-parent", Name: "Parent Corporation", CreatedAt: now},
		{ID: "org-child", Name: "Child Division", ParentID: "org-parent", CreatedAt: now},
		{ID: "org-grandchild", Name: "Grandchild Team", ParentID: "org-child", CreatedAt: now},
	} {
		if err := store.CreateOrganization(ctx, &org); err != nil {
			t.Fatalf("CreateOrganization: %v", err)
		}
	}
	return &fixture{store: store, sink: sink, svc: svc, clock: &now}
}

func parentOwner() rbac.Actor {
	return rbac.Actor{UserID: "u-owner", Role: rbac.RoleOwner, OrganizationID: "org-parent"}
}

func parentAdmin() rbac.Actor {
	return rbac.Actor{UserID: "u-admin", Role: rbac.RoleAdmin, OrganizationID: "org-parent"}
}

func childViewer() rbac.Actor {
	return rbac.Actor{UserID: "u-viewer", Role: rbac.RoleViewer, OrganizationID: "org-child", OrganizationParentID: "org-parent"}
}

func (f *fixture) seedTask(t *testing.T, id, orgID string, orderIndex int) Task {
	t.Helper()
	task := Task{
		ID:             id,
		Title:          "seed " + id,
		Category:       CategoryFeature,
		Status:         StatusTodo,
		OrderIndex:     orderIndex,
		OrganizationID: orgID,
		CreatedBy:      "seed",
		CreatedAt:      *f.clock,
		UpdatedAt:      *f.clock,
	}
	if err := f.store.CreateTask(context.Background(), &task); err != nil {
		t.Fatalf("seed task: %v", err)
	}
	return task
}

func TestCreateLandsInActorOrg(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, parentOwner(), CreateInput{
		Title:    "ship v1",
		Category: CategoryFeature,
		Status:   StatusTodo,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.OrganizationID != "org-parent" {
		t.Fatalf("expected actor org, got %q", created.OrganizationID)
	}
	if created.CreatedBy != "u-owner" {
		t.Fatalf("expected creator from actor, got %q", created.CreatedBy)
	}
	if created.ID == "" {
		t.Fatal("expected generated id")
	}

	entry, ok := f.sink.Last()
	if !ok {
		t.Fatal("expected an audit entry")
	}
	if entry.Action != audit.ActionTaskCreate || entry.Result != audit.ResultSuccess {
		t.Fatalf("unexpected entry: %+v", entry)
	}
	if entry.Resource != "task:"+created.ID {
		t.Fatalf("unexpected resource: %q", entry.Resource)
	}
	if entry.Metadata["title"] != "ship v1" {
		t.Fatalf("unexpected metadata: %v", entry.Metadata)
	}
}

func TestCreateDeniedForViewer(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Create(context.Background(), childViewer(), CreateInput{
		Title:    "sneaky",
		Category: CategoryBug,
		Status:   StatusTodo,
	})
	if !errors.Is(err, rbac.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}

	entry, _ := f.sink.Last()
	if entry.Action != audit.ActionTaskCreate || entry.Result != audit.ResultDenied {
		t.Fatalf("expected DENIED TASK_CREATE, got %+v", entry)
	}
}

func TestCreateRejectsInvalidInput(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Create(context.Background(), parentOwner(), CreateInput{
		Title:    "",
		Category: CategoryFeature,
		Status:   StatusTodo,
	})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if f.sink.Len() != 0 {
		t.Fatalf("validation failure must not be audited, got %d entries", f.sink.Len())
	}
}

func TestViewerCannotUpdateParentTask(t *testing.T) {
	f := newFixture(t)
	seeded := f.seedTask(t, "t1", "org-parent", 0)

	title := "hijacked"
	_, err := f.svc.Update(context.Background(), childViewer(), "t1", Patch{Title: &title})
	if !errors.Is(err, rbac.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}

	entry, _ := f.sink.Last()
	if entry.Action != audit.ActionTaskUpdate || entry.Result != audit.ResultDenied {
		t.Fatalf("expected DENIED TASK_UPDATE, got %+v", entry)
	}
	if entry.Resource != "task:t1" {
		t.Fatalf("unexpected resource: %q", entry.Resource)
	}

	stored, err := f.store.GetTask(context.Background(), "t1")
	if err != nil {
		t.Fatal(err)
	}
	if stored.Title != seeded.Title {
		t.Fatalf("task changed on denial: %q", stored.Title)
	}
}

func TestAdminReachesChildNotGrandchild(t *testing.T) {
	f := newFixture(t)
	f.seedTask(t, "t-child", "org-child", 0)
	f.seedTask(t, "t-grand", "org-grandchild", 0)
	ctx := context.Background()

	status := StatusDone
	updated, err := f.svc.Update(ctx, parentAdmin(), "t-child", Patch{Status: &status})
	if err != nil {
		t.Fatalf("update child task: %v", err)
	}
	if updated.Status != StatusDone {
		t.Fatalf("patch not applied: %v", updated.Status)
	}
	entry, _ := f.sink.Last()
	if entry.Result != audit.ResultSuccess || entry.Metadata["status"] != "DONE" {
		t.Fatalf("unexpected entry: %+v", entry)
	}

	_, err = f.svc.Update(ctx, parentAdmin(), "t-grand", Patch{Status: &status})
	if !errors.Is(err, rbac.ErrForbidden) {
		t.Fatalf("reach must stop at direct children, got %v", err)
	}
}

func TestUpdateMissingTaskNotAudited(t *testing.T) {
	f := newFixture(t)

	title := "x"
	_, err := f.svc.Update(context.Background(), parentOwner(), "nope", Patch{Title: &title})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if f.sink.Len() != 0 {
		t.Fatalf("missing target must not be audited, got %d entries", f.sink.Len())
	}
}

func TestListScopesByRole(t *testing.T) {
	f := newFixture(t)
	f.seedTask(t, "t-parent", "org-parent", 1)
	f.seedTask(t, "t-child", "org-child", 0)
	f.seedTask(t, "t-grand", "org-grandchild", 0)
	ctx := context.Background()

	tasks, err := f.svc.List(ctx, parentAdmin())
	if err != nil {
		t.Fatalf("admin list: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("expected parent+child tasks, got %d", len(tasks))
	}
	if tasks[0].ID != "t-child" || tasks[1].ID != "t-parent" {
		t.Fatalf("expected order index ascending, got %q then %q", tasks[0].ID, tasks[1].ID)
	}
	entry, _ := f.sink.Last()
	if entry.Action != audit.ActionTaskRead || entry.Metadata["count"] != "2" {
		t.Fatalf("unexpected entry: %+v", entry)
	}

	tasks, err = f.svc.List(ctx, childViewer())
	if err != nil {
		t.Fatalf("viewer list: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != "t-child" {
		t.Fatalf("viewer must see own org only, got %v", tasks)
	}
}

func TestListSortsByOrderIndexThenRecency(t *testing.T) {
	f := newFixture(t)
	base := *f.clock
	older := Task{ID: "t-old", Title: "old", Category: CategoryBug, Status: StatusTodo, OrderIndex: 0, OrganizationID: "org-parent", CreatedAt: base.Add(-time.Hour)}
	newer := Task{ID: "t-new", Title: "new", Category: CategoryBug, Status: StatusTodo, OrderIndex: 0, OrganizationID: "org-parent", CreatedAt: base}
	ctx := context.Background()
	for _, task := range []Task{older, newer} {
		if err := f.store.CreateTask(ctx, &task); err != nil {
			t.Fatal(err)
		}
	}

	tasks, err := f.svc.List(ctx, parentOwner())
	if err != nil {
		t.Fatal(err)
	}
	if tasks[0].ID != "t-new" || tasks[1].ID != "t-old" {
		t.Fatalf("expected newest first within an order index, got %q then %q", tasks[0].ID, tasks[1].ID)
	}
}

func TestAccessibleOrgIDs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	second := Organization{ID: "org-child2", Name: "Second Division", ParentID: "org-parent"}
	if err := f.store.CreateOrganization(ctx, &second); err != nil {
		t.Fatal(err)
	}

	ids, err := f.svc.AccessibleOrgIDs(ctx, parentAdmin())
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 3 || ids[0] != "org-parent" {
		t.Fatalf("expected own org plus two children, got %v", ids)
	}

	ids, err = f.svc.AccessibleOrgIDs(ctx, childViewer())
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != "org-child" {
		t.Fatalf("viewer scope must be own org only, got %v", ids)
	}

	// A missing own organization degrades to the own id alone.
	ghost := rbac.Actor{UserID: "g", Role: rbac.RoleOwner, OrganizationID: "org-ghost"}
	ids, err = f.svc.AccessibleOrgIDs(ctx, ghost)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != "org-ghost" {
		t.Fatalf("expected fail-closed own org, got %v", ids)
	}
}

func TestDeleteRecordsSuccess(t *testing.T) {
	f := newFixture(t)
	f.seedTask(t, "t1", "org-parent", 0)
	ctx := context.Background()

	if err := f.svc.Delete(ctx, parentOwner(), "t1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := f.store.GetTask(ctx, "t1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("task still present: %v", err)
	}
	entry, _ := f.sink.Last()
	if entry.Action != audit.ActionTaskDelete || entry.Result != audit.ResultSuccess {
		t.Fatalf("unexpected entry: %+v", entry)
	}
}

func TestGetDeniedOutOfScope(t *testing.T) {
	f := newFixture(t)
	f.seedTask(t, "t-parent", "org-parent", 0)

	_, err := f.svc.Get(context.Background(), childViewer(), "t-parent")
	if !errors.Is(err, rbac.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	entry, _ := f.sink.Last()
	if entry.Action != audit.ActionTaskRead || entry.Result != audit.ResultDenied {
		t.Fatalf("expected DENIED TASK_READ, got %+v", entry)
	}
}

type brokenListStore struct {
	*InMemory
}

func (brokenListStore) ListTasksByOrgs(ctx context.Context, orgIDs []string) ([]Task, error) {
	return nil, errors.New("db down")
}

func TestListStoreErrorRecordsError(t *testing.T) {
	f := newFixture(t)
	rec, _ := audit.NewRecorder(f.sink)
	svc, err := NewService(brokenListStore{f.store}, rec)
	if err != nil {
		t.Fatal(err)
	}

	_, err = svc.List(context.Background(), parentOwner())
	if err == nil {
		t.Fatal("expected store error to surface")
	}
	entry, _ := f.sink.Last()
	if entry.Action != audit.ActionTaskRead || entry.Result != audit.ResultError {
		t.Fatalf("expected ERROR TASK_READ, got %+v", entry)
	}
	if entry.Metadata["error"] == "" {
		t.Fatalf("expected error detail in metadata, got %v", entry.Metadata)
	}
}
