package httpapi

import (
	"net/http"
	"strings"

	"taskdeck.org/internal/auth"
	"taskdeck.org/internal/rbac"
	"taskdeck.org/internal/task"
)

type createTaskRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Status      string `json:"status"`
	OrderIndex  *int   `json:"order_index"`
}

type updateTaskRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Category    *string `json:"category"`
	Status      *string `json:"status"`
	OrderIndex  *int    `json:"order_index"`
}

type listTasksResponse struct {
	Items []task.Task `json:"items"`
	Count int         `json:"count"`
}

func (a *API) handleTasksCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listTasks(w, r)
	case http.MethodPost:
		a.createTask(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleTaskResource(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/tasks/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		a.getTask(w, r, id)
	case http.MethodPatch:
		a.updateTask(w, r, id)
	case http.MethodDelete:
		a.deleteTask(w, r, id)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch, http.MethodDelete)
	}
}

func (a *API) createTask(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req createTaskRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		writeError(w, r, http.StatusBadRequest, "title is required")
		return
	}
	category, err := task.ParseCategory(req.Category)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "unknown category")
		return
	}
	status := task.StatusTodo
	if strings.TrimSpace(req.Status) != "" {
		status, err = task.ParseStatus(req.Status)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "unknown status")
			return
		}
	}

	created, err := a.tasks.Create(r.Context(), actor, task.CreateInput{
		Title:       strings.TrimSpace(req.Title),
		Description: req.Description,
		Category:    category,
		Status:      status,
		OrderIndex:  req.OrderIndex,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	w.Header().Set("Location", "/v1/tasks/"+created.ID)
	writeJSON(w, http.StatusCreated, created)
}

func (a *API) listTasks(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	tasks, err := a.tasks.List(r.Context(), actor)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listTasksResponse{Items: tasks, Count: len(tasks)})
}

func (a *API) getTask(w http.ResponseWriter, r *http.Request, id string) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	t, err := a.tasks.Get(r.Context(), actor, id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (a *API) updateTask(w http.ResponseWriter, r *http.Request, id string) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req updateTaskRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	patch := task.Patch{
		Title:       req.Title,
		Description: req.Description,
		OrderIndex:  req.OrderIndex,
	}
	if req.Category != nil {
		category, err := task.ParseCategory(*req.Category)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "unknown category")
			return
		}
		patch.Category = &category
	}
	if req.Status != nil {
		status, err := task.ParseStatus(*req.Status)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "unknown status")
			return
		}
		patch.Status = &status
	}

	updated, err := a.tasks.Update(r.Context(), actor, id, patch)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (a *API) deleteTask(w http.ResponseWriter, r *http.Request, id string) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	if err := a.tasks.Delete(r.Context(), actor, id); err != nil {
		handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func requireActor(w http.ResponseWriter, r *http.Request) (rbac.Actor, bool) {
	actor, ok := auth.ActorFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return rbac.Actor{}, false
	}
	return actor, true
}
