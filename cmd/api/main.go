package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"taskdeck.org/internal/audit"
	"taskdeck.org/internal/auth"
	"taskdeck.org/internal/httpapi"
	"taskdeck.org/internal/ids"
	"taskdeck.org/internal/obs"
	"taskdeck.org/internal/rbac"
	"taskdeck.org/internal/store/pg"
	"taskdeck.org/internal/task"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	var (
		taskStore task.Store
		userStore auth.UserStore
		sink      audit.Sink
		db        *sql.DB
	)

	if dsn := os.Getenv("TASKDECK_PG_DSN"); dsn != "" {
		store, err := pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		defer store.Close()
		taskStore, userStore, sink, db = store, store, store, store.DB()
	} else {
		// DSN-less run: in-memory stores with a demo fixture
		mem := task.NewInMemory()
		users := auth.NewMemoryUserStore()
		if err := seedDemo(context.Background(), mem, users); err != nil {
			log.Fatalf("seed demo data: %v", err)
		}
		taskStore, userStore, sink = mem, users, audit.NewMemorySink()
		log.Println("TASKDECK_PG_DSN not set, using in-memory stores with demo data")
	}

	recorder, err := audit.NewRecorder(sink)
	if err != nil {
		log.Fatalf("audit recorder: %v", err)
	}
	tasks, err := task.NewService(taskStore, recorder)
	if err != nil {
		log.Fatalf("task service: %v", err)
	}
	authsvc, err := auth.NewService(userStore, taskStore, recorder)
	if err != nil {
		log.Fatalf("auth service: %v", err)
	}

	api := httpapi.New(tasks, recorder, authsvc, httpapi.ReadyProbe{DB: db}, version)

	addr := os.Getenv("TASKDECK_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting taskdeck-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()
	obs.SetReady(true)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")
	obs.SetReady(false)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	log.Println("Stopped")
}

func seedDemo(ctx context.Context, store *task.InMemory, users *auth.MemoryUserStore) error {
	now := time.Now().UTC()

	parent := task.Organization{ID: ids.New(), Name: "Parent Corporation", CreatedAt: now}
	child := task.Organization{ID: ids.New(), Name: "Child Division", ParentID: parent.ID, CreatedAt: now}
	for _, org := range []task.Organization{parent, child} {
		if err := store.CreateOrganization(ctx, &org); err != nil {
			return err
		}
	}

	hash, err := auth.HashPassword("password123")
	if err != nil {
		return err
	}
	owner := auth.User{ID: ids.New(), Email: "owner@parent.com", PasswordHash: hash, Role: rbac.RoleOwner, OrganizationID: parent.ID, CreatedAt: now}
	admin := auth.User{ID: ids.New(), Email: "admin@parent.com", PasswordHash: hash, Role: rbac.RoleAdmin, OrganizationID: parent.ID, CreatedAt: now}
	viewer := auth.User{ID: ids.New(), Email: "viewer@child.com", PasswordHash: hash, Role: rbac.RoleViewer, OrganizationID: child.ID, CreatedAt: now}
	for _, u := range []auth.User{owner, admin, viewer} {
		if err := users.CreateUser(ctx, &u); err != nil {
			return err
		}
	}

	demo := []task.Task{
		{Title: "Set up project roadmap", Category: task.CategoryFeature, Status: task.StatusInProgress, OrderIndex: 0, OrganizationID: parent.ID, CreatedBy: owner.ID},
		{Title: "Fix login redirect loop", Category: task.CategoryBug, Status: task.StatusTodo, OrderIndex: 1, OrganizationID: parent.ID, CreatedBy: admin.ID},
		{Title: "Write onboarding guide", Category: task.CategoryDocumentation, Status: task.StatusTodo, OrderIndex: 2, OrganizationID: parent.ID, CreatedBy: admin.ID},
		{Title: "Evaluate queue backends", Category: task.CategoryResearch, Status: task.StatusDone, OrderIndex: 0, OrganizationID: child.ID, CreatedBy: owner.ID},
		{Title: "Triage reported crashes", Category: task.CategoryBug, Status: task.StatusInProgress, OrderIndex: 1, OrganizationID: child.ID, CreatedBy: admin.ID},
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
