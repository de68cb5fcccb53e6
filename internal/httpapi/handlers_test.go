package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"taskdeck.org/internal/audit"
	"taskdeck.org/internal/auth"
	"taskdeck.org/internal/rbac"
	"taskdeck.org/internal/task"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	t.Setenv("TASKDECK_AUTH_SECRET", "test-secret")
	auth.ResetSecretForTests()
	t.Cleanup(auth.ResetSecretForTests)

	store := task.NewInMemory()
	users := auth.NewMemoryUserStore()
	sink := audit.NewMemorySink()
	ctx := context.Background()

	for _, org := range []task.Organization{
		{ID: "org-parent", Name: "Parent Corporation"},
		{ID: "org-child", Name: "Child Division", ParentID: "org-parent"},
	} {
		if err := store.CreateOrganization(ctx, &org); err != nil {
			t.Fatal(err)
		}
	}

	hash, err := auth.HashPassword("password123")
	if err != nil {
		t.Fatal(err)
	}
	for _, u := range []auth.User{
		{ID: "u-owner", Email: "owner@parent.com", PasswordHash: hash, Role: rbac.RoleOwner, OrganizationID: "org-parent"},
		{ID: "u-viewer", Email: "viewer@child.com", PasswordHash: hash, Role: rbac.RoleViewer, OrganizationID: "org-child"},
	} {
		if err := users.CreateUser(ctx, &u); err != nil {
			t.Fatal(err)
		}
	}

	rec, err := audit.NewRecorder(sink)
	if err != nil {
		t.Fatal(err)
	}
	tasks, err := task.NewService(store, rec)
	if err != nil {
		t.Fatal(err)
	}
	authsvc, err := auth.NewService(users, store, rec)
	if err != nil {
		t.Fatal(err)
	}

	api := New(tasks, rec, authsvc, ReadyProbe{}, "test")
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url, token string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		payload = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, payload)
	if err != nil {
		t.Fatal(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var decoded map[string]any
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("decode response %q: %v", data, err)
		}
	}
	return resp, decoded
}

func login(t *testing.T, base, email string) string {
	t.Helper()
	resp, body := doJSON(t, http.MethodPost, base+"/v1/auth/login", "", map[string]string{
		"email":    email,
		"password": "password123",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login %s: status %d, body %v", email, resp.StatusCode, body)
	}
	token, _ := body["token"].(string)
	if token == "" {
		t.Fatal("expected token in login response")
	}
	return token
}

func TestTaskLifecycleOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	owner := login(t, srv.URL, "owner@parent.com")

	resp, created := doJSON(t, http.MethodPost, srv.URL+"/v1/tasks", owner, map[string]any{
		"title":    "ship v1",
		"category": "FEATURE",
		"status":   "TODO",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: status %d, body %v", resp.StatusCode, created)
	}
	if created["organization_id"] != "org-parent" {
		t.Fatalf("expected actor org, got %v", created["organization_id"])
	}
	id, _ := created["id"].(string)
	if id == "" {
		t.Fatal("expected task id")
	}
	if loc := resp.Header.Get("Location"); loc != "/v1/tasks/"+id {
		t.Fatalf("unexpected Location: %q", loc)
	}

	resp, listed := doJSON(t, http.MethodGet, srv.URL+"/v1/tasks", owner, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list: status %d", resp.StatusCode)
	}
	if listed["count"] != float64(1) {
		t.Fatalf("expected one task, got %v", listed["count"])
	}

	resp, updated := doJSON(t, http.MethodPatch, srv.URL+"/v1/tasks/"+id, owner, map[string]any{
		"status": "DONE",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update: status %d, body %v", resp.StatusCode, updated)
	}
	if updated["status"] != "DONE" {
		t.Fatalf("patch not applied: %v", updated["status"])
	}

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/v1/tasks/"+id, nil)
	req.Header.Set("Authorization", "Bearer "+owner)
	delResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	delResp.Body.Close()
	if delResp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete: status %d", delResp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/v1/tasks/"+id, owner, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", resp.StatusCode)
	}
}

func TestViewerForbiddenPaths(t *testing.T) {
	srv := newTestServer(t)
	viewer := login(t, srv.URL, "viewer@child.com")

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/v1/tasks", viewer, map[string]any{
		"title":    "sneaky",
		"category": "BUG",
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("viewer create: expected 403, got %d", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/v1/audit-log", viewer, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("viewer audit read: expected 403, got %d", resp.StatusCode)
	}
}

func TestAuditLogVisibleToOwner(t *testing.T) {
	srv := newTestServer(t)
	viewer := login(t, srv.URL, "viewer@child.com")
	owner := login(t, srv.URL, "owner@parent.com")

	if resp, _ := doJSON(t, http.MethodGet, srv.URL+"/v1/audit-log", viewer, nil); resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/v1/audit-log", owner, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("owner audit read: status %d", resp.StatusCode)
	}
	items, _ := body["items"].([]any)
	if len(items) == 0 {
		t.Fatal("expected audit entries")
	}
	first, _ := items[0].(map[string]any)
	if first["action"] != "AUDIT_READ" || first["result"] != "DENIED" {
		t.Fatalf("expected the viewer denial first, got %v", first)
	}
}

func TestAuthRequired(t *testing.T) {
	srv := newTestServer(t)

	resp, _ := doJSON(t, http.MethodGet, srv.URL+"/v1/tasks", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/v1/tasks", "not-a-token", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 with bad token, got %d", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/healthz", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz must stay public, got %d", resp.StatusCode)
	}
}

func TestLoginRejectsBadPassword(t *testing.T) {
	srv := newTestServer(t)

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/v1/auth/login", "", map[string]string{
		"email":    "owner@parent.com",
		"password": "wrong",
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestCreateTaskRejectsUnknownFields(t *testing.T) {
	srv := newTestServer(t)
	owner := login(t, srv.URL, "owner@parent.com")

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/v1/tasks", owner, map[string]any{
		"title":    "x",
		"category": "FEATURE",
		"surprise": true,
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", resp.StatusCode)
	}
}
