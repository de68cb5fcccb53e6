package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"time"

	"taskdeck.org/internal/auth"
	"taskdeck.org/internal/ids"
	"taskdeck.org/internal/rbac"
	"taskdeck.org/internal/store/pg"
	"taskdeck.org/internal/task"
)

// Seeds the demo tenants: a parent organization with an owner and admin,
// a child division with a viewer, and a handful of tasks in both. Skips
// anything that already exists so reruns are safe.
func main() {
	log.SetFlags(0)
	var (
		dsn      = flag.String("dsn", os.Getenv("TASKDECK_PG_DSN"), "PostgreSQL DSN")
		password = flag.String("password", "password123", "Password for all demo users")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or TASKDECK_PG_DSN")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := pg.Open(*dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()

	if err := seed(ctx, store, *password); err != nil {
		log.Fatalf("seed: %v", err)
	}
	log.Println("demo data seeded")
}

func seed(ctx context.Context, store *pg.Store, password string) error {
	now := time.Now().UTC()

	parentID, err := ensureOrg(ctx, store, "Parent Corporation", "", now)
	if err != nil {
		return err
	}
	childID, err := ensureOrg(ctx, store, "Child Division", parentID, now)
	if err != nil {
		return err
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	ownerID, err := ensureUser(ctx, store, "owner@parent.com", hash, rbac.RoleOwner, parentID, now)
	if err != nil {
		return err
	}
	adminID, err := ensureUser(ctx, store, "admin@parent.com", hash, rbac.RoleAdmin, parentID, now)
	if err != nil {
		return err
	}
	if _, err := ensureUser(ctx, store, "viewer@child.com", hash, rbac.RoleViewer, childID, now); err != nil {
		return err
	}

	existing, err := store.ListTasksByOrgs(ctx, []string{parentID, childID})
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}

	demo := []task.Task{
		{Title: "Set up project roadmap", Category: task.CategoryFeature, Status: task.StatusInProgress, OrderIndex: 0, OrganizationID: parentID, CreatedBy: ownerID},
		{Title: "Fix login redirect loop", Category: task.CategoryBug, Status: task.StatusTodo, OrderIndex: 1, OrganizationID: parentID, CreatedBy: adminID},
		{Title: "Write onboarding guide", Category: task.CategoryDocumentation, Status: task.StatusTodo, OrderIndex: 2, OrganizationID: parentID, CreatedBy: adminID},
		{Title: "Evaluate queue backends", Category: task.CategoryResearch, Status: task.StatusDone, OrderIndex: 0, OrganizationID: childID, CreatedBy: ownerID},
		{Title: "Triage reported crashes", Category: task.CategoryBug, Status: task.StatusInProgress, OrderIndex: 1, OrganizationID: childID, CreatedBy: adminID},
	}
	for _, t := range demo {
		t.ID = ids.New()
		t.CreatedAt = now
		t.UpdatedAt = now
		if err := store.CreateTask(ctx, &t); err != nil {
			return err
		}
	}
	return nil
}

func ensureOrg(ctx context.Context, store *pg.Store, name, parentID string, now time.Time) (string, error) {
	id, err := findOrgByName(ctx, store, name)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, task.ErrNotFound) {
		return "", err
	}
	org := task.Organization{ID: ids.New(), Name: name, ParentID: parentID, CreatedAt: now}
	if err := store.CreateOrganization(ctx, &org); err != nil {
		return "", err
	}
	return org.ID, nil
}

func findOrgByName(ctx context.Context, store *pg.Store, name string) (string, error) {
	var id string
	err := store.DB().QueryRowContext(ctx, `select id from organizations where name=$1`, name).Scan(&id)
	if err != nil {
		return "", task.ErrNotFound
	}
	return id, nil
}

func ensureUser(ctx context.Context, store *pg.Store, email, hash string, role rbac.Role, orgID string, now time.Time) (string, error) {
	u, err := store.FindUserByEmail(ctx, email)
	if err == nil {
		return u.ID, nil
	}
	if !errors.Is(err, auth.ErrUserNotFound) {
		return "", err
	}
	created := auth.User{ID: ids.New(), Email: email, PasswordHash: hash, Role: role, OrganizationID: orgID, CreatedAt: now}
	if err := store.CreateUser(ctx, &created); err != nil {
		return "", err
	}
	return created.ID, nil
}
