package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"github.com/sirupsen/logrus/hooks/test"

	"taskboard/internal/auth"
	"taskboard/internal/docstore"
	"taskboard/internal/models"
)

type flakyBackend struct {
	*docstore.MemoryBackend
	updateErr error
	queryErr  error
}

func (f *flakyBackend) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	return f.MemoryBackend.Update(ctx, collection, id, fields)
}

func (f *flakyBackend) Query(ctx context.Context, collection string, filter docstore.Filter) ([]docstore.Document, error) {
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return f.MemoryBackend.Query(ctx, collection, filter)
}

func newTestServer(t *testing.T, backend docstore.Backend, authn *auth.Authenticator, staticDir string) (*Server, *docstore.Store) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	if backend == nil {
		backend = docstore.NewMemoryBackend()
	}
	store := docstore.New(backend, nil, docstore.WithLogger(logger))
	srv := New(store, authn, logger, staticDir)
	gin.SetMode(gin.TestMode)
	return srv, store
}

func doRequest(t *testing.T, h http.Handler, method, path, body string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %s: %v", rec.Body.String(), err)
	}
}

type projectResponse struct {
	Message string         `json:"message"`
	Error   string         `json:"error"`
	ID      string         `json:"id"`
	Project models.Project `json:"project"`
}

type taskResponse struct {
	Message string      `json:"message"`
	Error   string      `json:"error"`
	ID      string      `json:"id"`
	Task    models.Task `json:"task"`
}

func createProject(t *testing.T, h http.Handler, body string) projectResponse {
	t.Helper()
	rec := doRequest(t, h, http.MethodPost, "/api/projects", body, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create project: status %d body %s", rec.Code, rec.Body.String())
	}
	var resp projectResponse
	decodeBody(t, rec, &resp)
	return resp
}

func createTask(t *testing.T, h http.Handler, projectID, body string) taskResponse {
	t.Helper()
	rec := doRequest(t, h, http.MethodPost, "/api/projects/"+projectID+"/tasks", body, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create task: status %d body %s", rec.Code, rec.Body.String())
	}
	var resp taskResponse
	decodeBody(t, rec, &resp)
	return resp
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, nil, nil, "")
	rec := doRequest(t, srv.Engine(), http.MethodGet, "/api/healthz", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "ok") {
		t.Fatalf("unexpected health response %d %s", rec.Code, rec.Body.String())
	}
}

func TestCreateProject(t *testing.T) {
	srv, _ := newTestServer(t, nil, nil, "")
	resp := createProject(t, srv.Engine(), `{"title":" Launch ","description":"Q3","members":["a@example.com","a@example.com"]}`)

	if resp.Message != "Project created successfully" {
		t.Fatalf("unexpected message %q", resp.Message)
	}
	p := resp.Project
	if p.ID == "" || p.ID != resp.ID || p.Title != "Launch" || p.OwnerID != auth.Anonymous {
		t.Fatalf("unexpected project %+v", p)
	}
	if len(p.Members) != 1 || p.CreateAt.IsZero() {
		t.Fatalf("unexpected members or timestamps %+v", p)
	}

	rec := doRequest(t, srv.Engine(), http.MethodGet, "/api/projects", "", nil)
	var list struct {
		Projects []models.Project `json:"projects"`
	}
	decodeBody(t, rec, &list)
	if len(list.Projects) != 1 {
		t.Fatalf("expected 1 project, got %d", len(list.Projects))
	}
}

func TestCreateProjectBlankTitleWritesNothing(t *testing.T) {
	srv, store := newTestServer(t, nil, nil, "")
	rec := doRequest(t, srv.Engine(), http.MethodPost, "/api/projects", `{"title":"   "}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	docs, err := store.Query(context.Background(), models.CollectionProjects, docstore.Filter{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(docs) != 0 {
		t.Fatalf("expected no write, found %d projects", len(docs))
	}
}

func TestCreateProjectRejectsInvalidMembers(t *testing.T) {
	srv, _ := newTestServer(t, nil, nil, "")
	rec := doRequest(t, srv.Engine(), http.MethodPost, "/api/projects", `{"title":"Launch","members":["not-an-email"]}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestUpdateProject(t *testing.T) {
	srv, _ := newTestServer(t, nil, nil, "")
	created := createProject(t, srv.Engine(), `{"title":"Launch","members":["a@example.com"]}`)

	rec := doRequest(t, srv.Engine(), http.MethodPut, "/api/projects/"+created.ID, `{"description":"new scope","members":[]}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("update: %d %s", rec.Code, rec.Body.String())
	}
	var resp projectResponse
	decodeBody(t, rec, &resp)
	if resp.Message != "Project updated successfully" {
		t.Fatalf("unexpected message %q", resp.Message)
	}
	if resp.Project.Title != "Launch" || resp.Project.Description != "new scope" || len(resp.Project.Members) != 0 {
		t.Fatalf("unexpected project %+v", resp.Project)
	}

	rec = doRequest(t, srv.Engine(), http.MethodPut, "/api/projects/missing", `{"title":"x"}`, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestDeleteProjectLeavesTasks(t *testing.T) {
	srv, _ := newTestServer(t, nil, nil, "")
	project := createProject(t, srv.Engine(), `{"title":"Launch"}`)
	createTask(t, srv.Engine(), project.ID, `{"title":"Orphan"}`)

	rec := doRequest(t, srv.Engine(), http.MethodDelete, "/api/projects/"+project.ID, "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "Project deleted successfully") {
		t.Fatalf("delete: %d %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, srv.Engine(), http.MethodGet, "/api/projects/"+project.ID+"/tasks", "", nil)
	var list struct {
		Tasks []models.Task `json:"tasks"`
	}
	decodeBody(t, rec, &list)
	if len(list.Tasks) != 1 || list.Tasks[0].ProjectID != project.ID {
		t.Fatalf("expected orphaned task to remain, got %+v", list.Tasks)
	}

	rec = doRequest(t, srv.Engine(), http.MethodDelete, "/api/projects/"+project.ID, "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on second delete, got %d", rec.Code)
	}
}

func TestCreateTaskDefaults(t *testing.T) {
	srv, _ := newTestServer(t, nil, nil, "")
	project := createProject(t, srv.Engine(), `{"title":"Launch"}`)
	resp := createTask(t, srv.Engine(), project.ID, `{"title":"Write docs","dueDate":"2024-03-01"}`)

	if resp.Message != "Task created successfully" {
		t.Fatalf("unexpected message %q", resp.Message)
	}
	task := resp.Task
	if task.Status != models.StatusTodo || task.Priority != models.PriorityLow || task.ProjectID != project.ID {
		t.Fatalf("unexpected task %+v", task)
	}
	if task.DueDate == nil || task.DueDate.Format(time.DateOnly) != "2024-03-01" {
		t.Fatalf("unexpected due date %v", task.DueDate)
	}

	rec := doRequest(t, srv.Engine(), http.MethodPost, "/api/projects/missing/tasks", `{"title":"x"}`, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing project, got %d", rec.Code)
	}
	rec = doRequest(t, srv.Engine(), http.MethodPost, "/api/projects/"+project.ID+"/tasks", `{"title":"x","priority":"urgent"}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad priority, got %d", rec.Code)
	}
}

func TestUpdateTaskClearsDueDate(t *testing.T) {
	srv, _ := newTestServer(t, nil, nil, "")
	project := createProject(t, srv.Engine(), `{"title":"Launch"}`)
	task := createTask(t, srv.Engine(), project.ID, `{"title":"Write docs","dueDate":"2024-03-01","priority":"high"}`)

	rec := doRequest(t, srv.Engine(), http.MethodPut, "/api/tasks/"+task.ID, `{"dueDate":null,"title":"Write more docs"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("update: %d %s", rec.Code, rec.Body.String())
	}
	var resp taskResponse
	decodeBody(t, rec, &resp)
	if resp.Task.DueDate != nil || resp.Task.Title != "Write more docs" || resp.Task.Priority != models.PriorityHigh {
		t.Fatalf("unexpected task %+v", resp.Task)
	}
}

func TestMoveTaskUpdatesOnlyStatus(t *testing.T) {
	srv, store := newTestServer(t, nil, nil, "")
	project := createProject(t, srv.Engine(), `{"title":"Launch"}`)
	task := createTask(t, srv.Engine(), project.ID, `{"title":"Ship","description":"all of it","priority":"medium","dueDate":"2024-01-01"}`)

	before, err := store.Get(context.Background(), models.CollectionTasks, task.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	rec := doRequest(t, srv.Engine(), http.MethodPost, "/api/tasks/"+task.ID+"/move", `{"status":"done"}`, nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "Task moved successfully") {
		t.Fatalf("move: %d %s", rec.Code, rec.Body.String())
	}

	after, err := store.Get(context.Background(), models.CollectionTasks, task.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if after.Fields["status"] != "done" {
		t.Fatalf("status not updated: %+v", after.Fields)
	}
	for k, v := range before.Fields {
		if k == "status" {
			continue
		}
		if after.Fields[k] != v {
			t.Fatalf("field %s changed from %v to %v", k, v, after.Fields[k])
		}
	}
	if len(after.Fields) != len(before.Fields) {
		t.Fatalf("unexpected fields after move: %+v", after.Fields)
	}
}

func TestMoveTaskErrors(t *testing.T) {
	backend := &flakyBackend{MemoryBackend: docstore.NewMemoryBackend()}
	srv, _ := newTestServer(t, backend, nil, "")
	project := createProject(t, srv.Engine(), `{"title":"Launch"}`)
	task := createTask(t, srv.Engine(), project.ID, `{"title":"Ship"}`)

	rec := doRequest(t, srv.Engine(), http.MethodPost, "/api/tasks/"+task.ID+"/move", `{"status":"archived"}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown column, got %d", rec.Code)
	}
	rec = doRequest(t, srv.Engine(), http.MethodPost, "/api/tasks/missing/move", `{"status":"done"}`, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing task, got %d", rec.Code)
	}

	backend.updateErr = errors.New("permission denied")
	rec = doRequest(t, srv.Engine(), http.MethodPost, "/api/tasks/"+task.ID+"/move", `{"status":"done"}`, nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	var resp taskResponse
	decodeBody(t, rec, &resp)
	if resp.Error != "Failed to move task" {
		t.Fatalf("unexpected error notification %q", resp.Error)
	}
}

func TestDeleteTask(t *testing.T) {
	srv, _ := newTestServer(t, nil, nil, "")
	project := createProject(t, srv.Engine(), `{"title":"Launch"}`)
	task := createTask(t, srv.Engine(), project.ID, `{"title":"Ship"}`)

	rec := doRequest(t, srv.Engine(), http.MethodDelete, "/api/tasks/"+task.ID, "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "Task deleted successfully") {
		t.Fatalf("delete: %d %s", rec.Code, rec.Body.String())
	}
	rec = doRequest(t, srv.Engine(), http.MethodDelete, "/api/tasks/"+task.ID, "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

type boardResponse struct {
	ProjectID string `json:"projectId"`
	Columns   []struct {
		ID    string        `json:"id"`
		Title string        `json:"title"`
		Count int           `json:"count"`
		Tasks []models.Task `json:"tasks"`
	} `json:"columns"`
}

func TestBoardFiltersAndSorts(t *testing.T) {
	srv, _ := newTestServer(t, nil, nil, "")
	project := createProject(t, srv.Engine(), `{"title":"Launch"}`)
	createTask(t, srv.Engine(), project.ID, `{"title":"march","priority":"high","dueDate":"2024-03-01"}`)
	createTask(t, srv.Engine(), project.ID, `{"title":"january","priority":"high","dueDate":"2024-01-01"}`)
	createTask(t, srv.Engine(), project.ID, `{"title":"undated","priority":"high"}`)
	createTask(t, srv.Engine(), project.ID, `{"title":"low","priority":"low","status":"done"}`)

	rec := doRequest(t, srv.Engine(), http.MethodGet, "/api/projects/"+project.ID+"/board?priority=high&sort=dueDate-asc", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("board: %d %s", rec.Code, rec.Body.String())
	}
	var resp boardResponse
	decodeBody(t, rec, &resp)
	if len(resp.Columns) != 3 || resp.Columns[0].Title != "To Do" {
		t.Fatalf("unexpected columns %+v", resp.Columns)
	}
	todo := resp.Columns[0].Tasks
	if len(todo) != 3 || todo[0].Title != "january" || todo[1].Title != "march" || todo[2].Title != "undated" {
		t.Fatalf("unexpected todo column %+v", todo)
	}
	if resp.Columns[2].Count != 0 {
		t.Fatalf("low priority task should be filtered out, got %+v", resp.Columns[2])
	}

	rec = doRequest(t, srv.Engine(), http.MethodGet, "/api/projects/"+project.ID+"/board?sort=title", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown sort, got %d", rec.Code)
	}
}

func bearer(t *testing.T, secret []byte, sub string) http.Header {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": sub,
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString(secret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return http.Header{"Authorization": []string{"Bearer " + signed}}
}

func TestAuthenticatedOwnership(t *testing.T) {
	secret := []byte("test-secret")
	srv, _ := newTestServer(t, nil, auth.New(auth.Options{Secret: secret}), "")
	h := srv.Engine()

	if rec := doRequest(t, h, http.MethodGet, "/api/projects", "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
	if rec := doRequest(t, h, http.MethodGet, "/api/healthz", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("health must stay public, got %d", rec.Code)
	}

	rec := doRequest(t, h, http.MethodPost, "/api/projects", `{"title":"Mine"}`, bearer(t, secret, "alice"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rec.Code, rec.Body.String())
	}
	var created projectResponse
	decodeBody(t, rec, &created)
	if created.Project.OwnerID != "alice" {
		t.Fatalf("expected owner alice, got %q", created.Project.OwnerID)
	}

	rec = doRequest(t, h, http.MethodDelete, "/api/projects/"+created.ID, "", bearer(t, secret, "bob"))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for other user, got %d", rec.Code)
	}
	rec = doRequest(t, h, http.MethodDelete, "/api/projects/"+created.ID, "", bearer(t, secret, "alice"))
	if rec.Code != http.StatusOK {
		t.Fatalf("owner delete: %d %s", rec.Code, rec.Body.String())
	}
}

func readEvent(t *testing.T, r *bufio.Reader) (string, string) {
	t.Helper()
	var event, data string
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read event: %v", err)
		}
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			if data != "" || event != "" {
				return event, data
			}
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		}
	}
}

func openStream(t *testing.T, url string) *bufio.Reader {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}
	return bufio.NewReader(resp.Body)
}

func TestProjectStreamPushesChanges(t *testing.T) {
	srv, _ := newTestServer(t, nil, nil, "")
	ts := httptest.NewServer(srv.Engine())
	defer ts.Close()

	events := openStream(t, ts.URL+"/api/stream/projects")
	_, data := readEvent(t, events)
	if data != `{"projects":[]}` {
		t.Fatalf("unexpected initial event %s", data)
	}

	resp, err := http.Post(ts.URL+"/api/projects", "application/json", strings.NewReader(`{"title":"Live"}`))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	resp.Body.Close()

	_, data = readEvent(t, events)
	var payload struct {
		Projects []models.Project `json:"projects"`
	}
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if len(payload.Projects) != 1 || payload.Projects[0].Title != "Live" {
		t.Fatalf("unexpected event %s", data)
	}
}

func TestBoardStreamPushesMoves(t *testing.T) {
	srv, _ := newTestServer(t, nil, nil, "")
	ts := httptest.NewServer(srv.Engine())
	defer ts.Close()
	project := createProject(t, srv.Engine(), `{"title":"Launch"}`)
	task := createTask(t, srv.Engine(), project.ID, `{"title":"Ship"}`)

	events := openStream(t, ts.URL+"/api/projects/"+project.ID+"/board/stream")
	_, data := readEvent(t, events)
	var board boardResponse
	if err := json.Unmarshal([]byte(data), &board); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if board.Columns[0].Count != 1 {
		t.Fatalf("expected task in todo, got %s", data)
	}

	rec := doRequest(t, srv.Engine(), http.MethodPost, "/api/tasks/"+task.ID+"/move", `{"status":"in-progress"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("move: %d", rec.Code)
	}
	_, data = readEvent(t, events)
	if err := json.Unmarshal([]byte(data), &board); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if board.Columns[0].Count != 0 || board.Columns[1].Count != 1 {
		t.Fatalf("expected task in progress, got %s", data)
	}
}

func TestStreamReportsSubscriptionFailure(t *testing.T) {
	backend := &flakyBackend{MemoryBackend: docstore.NewMemoryBackend(), queryErr: errors.New("quota exceeded")}
	srv, _ := newTestServer(t, backend, nil, "")
	ts := httptest.NewServer(srv.Engine())
	defer ts.Close()

	events := openStream(t, ts.URL+"/api/stream/projects")
	event, data := readEvent(t, events)
	if event != "error" || !strings.Contains(data, "Failed to load projects") {
		t.Fatalf("unexpected event %q %s", event, data)
	}
}

func TestStaticFallback(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>board</html>"), 0o644); err != nil {
		t.Fatalf("write index: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "assets"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "assets", "app.js"), []byte("console.log(1)"), 0o644); err != nil {
		t.Fatalf("write asset: %v", err)
	}
	srv, _ := newTestServer(t, nil, nil, dir)
	h := srv.Engine()

	rec := doRequest(t, h, http.MethodGet, "/projects/abc", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "board") {
		t.Fatalf("expected index fallback, got %d %s", rec.Code, rec.Body.String())
	}
	rec = doRequest(t, h, http.MethodGet, "/api/unknown", "", nil)
	if rec.Code != http.StatusNotFound || !strings.Contains(rec.Body.String(), "endpoint not found") {
		t.Fatalf("expected API 404, got %d %s", rec.Code, rec.Body.String())
	}
	rec = doRequest(t, h, http.MethodGet, "/assets/app.js", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Header().Get("Cache-Control"), "immutable") {
		t.Fatalf("unexpected asset response %d %v", rec.Code, rec.Header())
	}
}
