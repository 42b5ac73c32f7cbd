package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"

	"pulse/internal/config"
	"pulse/internal/db"
	"pulse/internal/engine"
	"pulse/internal/migrate"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

var testAuthHeaders = map[string]string{"X-Actor-Id": "tester"}

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default("pulse-test")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	if _, err := e.InitProject(context.Background(), cfg.Project.ID, "", "", "tester"); err != nil {
		t.Fatalf("init project: %v", err)
	}
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth: AuthConfig{
			JWTSecret:              "test-secret",
			AllowLegacyActorHeader: true,
		},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func createTestTask(t *testing.T, srv *testServer, title string) string {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/projects/pulse-test/tasks", map[string]any{
		"title": title,
	}, testAuthHeaders)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create task status %d: %s", res.StatusCode, string(data))
	}
	var created TaskResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal task: %v", err)
	}
	return created.ID
}

func transitionTestTask(t *testing.T, srv *testServer, taskID, action string) TaskResponse {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/tasks/"+taskID+"/transition", map[string]any{
		"action": action,
	}, testAuthHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("%s status %d: %s", action, res.StatusCode, string(data))
	}
	var task TaskResponse
	if err := json.Unmarshal(data, &task); err != nil {
		t.Fatalf("unmarshal task: %v", err)
	}
	return task
}

func TestTaskLifecycleFlow(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	taskID := createTestTask(t, srv, "Ship feature")
	task := transitionTestTask(t, srv, taskID, "start")
	if task.Status != "in_progress" {
		t.Fatalf("after start: %s", task.Status)
	}
	task = transitionTestTask(t, srv, taskID, "pause")
	if task.Status != "paused" {
		t.Fatalf("after pause: %s", task.Status)
	}
	task = transitionTestTask(t, srv, taskID, "resume")
	if task.Status != "in_progress" {
		t.Fatalf("after resume: %s", task.Status)
	}
	task = transitionTestTask(t, srv, taskID, "complete")
	if task.Status != "done" {
		t.Fatalf("after complete: %s", task.Status)
	}
	if task.ActualCompletionDate == nil {
		t.Fatal("completion date missing")
	}
}

func TestIllegalTransitionEnvelope(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	taskID := createTestTask(t, srv, "Untouched task")
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/tasks/"+taskID+"/transition", map[string]any{
		"action": "pause",
	}, testAuthHeaders)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if envelope.Error.Code != "illegal_transition" {
		t.Fatalf("code: %s", envelope.Error.Code)
	}
	if envelope.Error.Message != "Only tasks in progress can be paused" {
		t.Fatalf("message: %q", envelope.Error.Message)
	}
	if envelope.Error.Details["action"] != "pause" || envelope.Error.Details["status"] != "todo" {
		t.Fatalf("details: %v", envelope.Error.Details)
	}
}

func TestBlockWithoutReason(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	taskID := createTestTask(t, srv, "Soon blocked")
	transitionTestTask(t, srv, taskID, "start")

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/tasks/"+taskID+"/transition", map[string]any{
		"action": "block",
	}, testAuthHeaders)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatal(err)
	}
	if envelope.Error.Code != "missing_reason" {
		t.Fatalf("code: %s", envelope.Error.Code)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/tasks/"+taskID+"/transition", map[string]any{
		"action": "block",
		"reason": "waiting on credentials",
	}, testAuthHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("block with reason status %d: %s", res.StatusCode, string(data))
	}
	var task TaskResponse
	_ = json.Unmarshal(data, &task)
	if task.BlockReason == nil || *task.BlockReason != "waiting on credentials" {
		t.Fatalf("block reason: %v", task.BlockReason)
	}
}

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/projects", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}

	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health must stay open, status %d", res.StatusCode)
	}
}

func TestDevLoginAndMe(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{
		"actor_id": "alice",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login status %d: %s", res.StatusCode, string(data))
	}
	var login DevLoginResponse
	if err := json.Unmarshal(data, &login); err != nil {
		t.Fatal(err)
	}
	if login.Token == "" {
		t.Fatal("empty token")
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{
		"Authorization": "Bearer " + login.Token,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me status %d: %s", res.StatusCode, string(data))
	}
	var who WhoAmIResponse
	_ = json.Unmarshal(data, &who)
	if who.ActorID != "alice" || who.Source != "jwt" {
		t.Fatalf("principal: %+v", who)
	}
}

func TestAPIKeyRoundTrip(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/api-keys", map[string]any{
		"actor_id": "bob",
		"name":     "ci",
	}, testAuthHeaders)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create key status %d: %s", res.StatusCode, string(data))
	}
	var key APIKeyResponse
	if err := json.Unmarshal(data, &key); err != nil {
		t.Fatal(err)
	}
	if key.Key == "" {
		t.Fatal("raw key missing on creation")
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{
		"X-Api-Key": key.Key,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me via api key status %d: %s", res.StatusCode, string(data))
	}
	var who WhoAmIResponse
	_ = json.Unmarshal(data, &who)
	if who.ActorID != "bob" || who.Source != "api_key" {
		t.Fatalf("principal: %+v", who)
	}

	res, listBody := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/api-keys", nil, testAuthHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list keys status %d", res.StatusCode)
	}
	var keys []APIKeyResponse
	if err := json.Unmarshal(listBody, &keys); err != nil {
		t.Fatal(err)
	}
	if len(keys) != 1 || keys[0].Key != "" {
		t.Fatalf("listing must not leak raw keys: %+v", keys)
	}
}

func TestTaskSessionsEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	taskID := createTestTask(t, srv, "Timed work")
	transitionTestTask(t, srv, taskID, "start")
	transitionTestTask(t, srv, taskID, "complete")

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/tasks/"+taskID+"/sessions", nil, testAuthHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("sessions status %d: %s", res.StatusCode, string(data))
	}
	var out SessionsResponse
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	if out.TaskID != taskID {
		t.Fatalf("task id: %s", out.TaskID)
	}
	if len(out.Sessions) != 1 {
		t.Fatalf("got %d sessions", len(out.Sessions))
	}
}

func TestProductivityReportEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	taskID := createTestTask(t, srv, "Reported work")
	transitionTestTask(t, srv, taskID, "start")
	transitionTestTask(t, srv, taskID, "complete")

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/reports/productivity?users=tester", nil, testAuthHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("report status %d: %s", res.StatusCode, string(data))
	}
	var rep struct {
		Users []struct {
			UserID string `json:"user_id"`
			Tasks  []struct {
				TaskID string `json:"task_id"`
			} `json:"tasks"`
		} `json:"users"`
	}
	if err := json.Unmarshal(data, &rep); err != nil {
		t.Fatal(err)
	}
	if len(rep.Users) != 1 || rep.Users[0].UserID != "tester" {
		t.Fatalf("users: %+v", rep.Users)
	}
	if len(rep.Users[0].Tasks) != 1 || rep.Users[0].Tasks[0].TaskID != taskID {
		t.Fatalf("tasks: %+v", rep.Users[0].Tasks)
	}
}

func TestEventTailPagination(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	// Three create+start pairs leave six events in the log.
	for _, title := range []string{"First", "Second", "Third"} {
		id := createTestTask(t, srv, title)
		transitionTestTask(t, srv, id, "start")
	}

	var seen []int64
	url := srv.URL + "/v0/events?limit=2"
	for page := 0; page < 5; page++ {
		res, data := doJSON(t, srv.Client(), http.MethodGet, url, nil, testAuthHeaders)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("page %d status %d: %s", page, res.StatusCode, string(data))
		}
		var body struct {
			Items      []EventResponse `json:"items"`
			NextCursor string          `json:"next_cursor"`
		}
		if err := json.Unmarshal(data, &body); err != nil {
			t.Fatal(err)
		}
		for _, item := range body.Items {
			if len(seen) > 0 && item.ID >= seen[len(seen)-1] {
				t.Fatalf("page %d repeats or reorders: id %d after %d", page, item.ID, seen[len(seen)-1])
			}
			seen = append(seen, item.ID)
		}
		if body.NextCursor == "" {
			break
		}
		url = srv.URL + "/v0/events?limit=2&cursor=" + body.NextCursor
	}
	if len(seen) != 6 {
		t.Fatalf("paged through %d events, want 6: %v", len(seen), seen)
	}

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/events?cursor=bogus", nil, testAuthHeaders)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad cursor status %d: %s", res.StatusCode, string(data))
	}
}

func TestDeleteUnknownAPIKey(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodDelete, srv.URL+"/v0/api-keys/no-such-key", nil, testAuthHeaders)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatal(err)
	}
	if envelope.Error.Code != "not_found" {
		t.Fatalf("code: %s", envelope.Error.Code)
	}
}

func TestDuplicateTaskIDConflict(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	payload := map[string]any{"id": "task-dup", "title": "Original"}
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/projects/pulse-test/tasks", payload, testAuthHeaders)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("first create status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/projects/pulse-test/tasks", payload, testAuthHeaders)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("second create status %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatal(err)
	}
	if envelope.Error.Code != "conflict" {
		t.Fatalf("code: %s", envelope.Error.Code)
	}
}

func TestUnknownTask(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/tasks/no-such-task", nil, testAuthHeaders)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatal(err)
	}
	if envelope.Error.Code != "not_found" {
		t.Fatalf("code: %s", envelope.Error.Code)
	}
}
