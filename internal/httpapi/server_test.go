package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/muntrav/bitbrowser-automation/internal/accounts"
	"github.com/muntrav/bitbrowser-automation/internal/config"
	"github.com/muntrav/bitbrowser-automation/internal/engine"
	"github.com/muntrav/bitbrowser-automation/internal/events"
	"github.com/muntrav/bitbrowser-automation/internal/settings"
	"github.com/muntrav/bitbrowser-automation/internal/tasks"
	"github.com/muntrav/bitbrowser-automation/internal/workflows"
)

type stubWindows struct{}

func (stubWindows) EnsureWindow(_ context.Context, email string) (string, error) {
	return "win-" + email, nil
}

func (stubWindows) Close(context.Context, string) {}

type okExec struct {
	kind tasks.WorkflowType
}

func (e okExec) Type() tasks.WorkflowType { return e.kind }

func (e okExec) Execute(context.Context, workflows.Job) workflows.Result {
	return workflows.Result{Success: true, Message: "ok"}
}

type testServer struct {
	srv      *Server
	registry *tasks.Registry
	store    accounts.Store
	hub      *events.Hub
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg := config.Config{AllowAnyOrigin: true}
	registry := tasks.NewRegistry(time.Hour)
	store := accounts.NewInMemoryStore()
	cfgStore := settings.NewInMemoryStore()
	hub := events.NewHub()
	reg := workflows.NewRegistry(
		okExec{kind: tasks.WorkflowSetup2FA},
		okExec{kind: tasks.WorkflowGetLink},
	)
	eng := engine.New(registry, tasks.NewLocker(), store, cfgStore, stubWindows{}, reg, hub, nil, nil, engine.Options{
		BindCardWaitMax:  100 * time.Millisecond,
		BindCardWaitPoll: 10 * time.Millisecond,
	})
	return &testServer{
		srv:      New(cfg, eng, registry, store, cfgStore, hub, nil),
		registry: registry,
		store:    store,
		hub:      hub,
	}
}

func (ts *testServer) seedAccount(t *testing.T, email string) {
	t.Helper()
	pw := "pw"
	if err := ts.store.Upsert(context.Background(), accounts.Upsert{Email: email, Password: &pw}); err != nil {
		t.Fatal(err)
	}
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestSubmitAndGetTask(t *testing.T) {
	ts := newTestServer(t)
	ts.seedAccount(t, "a@x.com")
	router := ts.srv.Router()

	rec := doJSON(t, router, http.MethodPost, "/v1/tasks", map[string]any{
		"workflows": []string{"setup_2fa"},
		"emails":    []string{"a@x.com"},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("submit status %d: %s", rec.Code, rec.Body.String())
	}
	var created struct {
		TaskID string `json:"task_id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil || created.TaskID == "" {
		t.Fatalf("bad submit response %s (%v)", rec.Body.String(), err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		tp, err := ts.registry.Get(created.TaskID)
		if err == nil && tp.Status.Terminal() {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("task never finished")
		}
		time.Sleep(5 * time.Millisecond)
	}

	rec = doJSON(t, router, http.MethodGet, "/v1/tasks/"+created.TaskID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status %d", rec.Code)
	}
	var tp tasks.TaskProgress
	if err := json.Unmarshal(rec.Body.Bytes(), &tp); err != nil {
		t.Fatal(err)
	}
	if tp.Status != tasks.TaskStatusCompleted || tp.Total != 1 {
		t.Fatalf("task %+v", tp)
	}

	rec = doJSON(t, router, http.MethodGet, "/v1/tasks/"+created.TaskID+"/accounts", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "a@x.com") {
		t.Fatalf("accounts status %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, router, http.MethodGet, "/v1/tasks", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), created.TaskID) {
		t.Fatalf("list status %d: %s", rec.Code, rec.Body.String())
	}
}

func TestSubmitTaskRejectsBadRequest(t *testing.T) {
	ts := newTestServer(t)
	router := ts.srv.Router()

	rec := doJSON(t, router, http.MethodPost, "/v1/tasks", map[string]any{
		"workflows": []string{"mystery"},
		"emails":    []string{"a@x.com"},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", rec.Code)
	}
}

func TestGetTaskNotFound(t *testing.T) {
	ts := newTestServer(t)
	router := ts.srv.Router()

	rec := doJSON(t, router, http.MethodGet, "/v1/tasks/nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status %d, want 404", rec.Code)
	}
	rec = doJSON(t, router, http.MethodDelete, "/v1/tasks/nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("cancel status %d, want 404", rec.Code)
	}
}

func TestCancelFlipsStatus(t *testing.T) {
	ts := newTestServer(t)
	ts.registry.Register(tasks.TaskProgress{TaskID: "t1", Status: tasks.TaskStatusRunning, Total: 3})
	router := ts.srv.Router()

	rec := doJSON(t, router, http.MethodDelete, "/v1/tasks/t1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	tp, err := ts.registry.Get("t1")
	if err != nil || tp.Status != tasks.TaskStatusFailed {
		t.Fatalf("task after cancel: %+v err=%v", tp, err)
	}
}

func TestAccountEndpoints(t *testing.T) {
	ts := newTestServer(t)
	router := ts.srv.Router()

	rec := doJSON(t, router, http.MethodPost, "/v1/accounts", map[string]any{
		"email":    "New@X.com",
		"password": "secret",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("upsert status %d: %s", rec.Code, rec.Body.String())
	}
	var acct accounts.Account
	if err := json.Unmarshal(rec.Body.Bytes(), &acct); err != nil {
		t.Fatal(err)
	}
	if acct.Email != "new@x.com" || acct.Status != accounts.StatusPending {
		t.Fatalf("account %+v", acct)
	}

	rec = doJSON(t, router, http.MethodGet, "/v1/accounts", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "new@x.com") {
		t.Fatalf("list status %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, router, http.MethodPost, "/v1/accounts", map[string]any{"password": "x"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing email status %d, want 400", rec.Code)
	}
}

func TestConfigRoundTrip(t *testing.T) {
	ts := newTestServer(t)
	router := ts.srv.Router()

	rec := doJSON(t, router, http.MethodPut, "/v1/config", map[string]string{
		settings.KeyCardNumber:  "4111111111111111",
		settings.KeyWindowQuota: "25",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("put status %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, router, http.MethodGet, "/v1/config", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status %d", rec.Code)
	}
	var cfg map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &cfg); err != nil {
		t.Fatal(err)
	}
	if cfg[settings.KeyCardNumber] != "4111111111111111" || cfg[settings.KeyWindowQuota] != "25" {
		t.Fatalf("config %+v", cfg)
	}

	rec = doJSON(t, router, http.MethodPut, "/v1/config", map[string]string{"bogus": "1"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown key status %d, want 400", rec.Code)
	}
}

func TestEventsWebsocketStream(t *testing.T) {
	ts := newTestServer(t)
	srv := httptest.NewServer(ts.srv.Router())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/events/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// The subscription is registered during the upgrade handler; give it
	// a moment before publishing.
	deadline := time.Now().Add(2 * time.Second)
	for ts.hub.SubscriberCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := ts.hub.Deliver(events.Log("t1", "a@x.com", events.LevelInfo, "hello")); err != nil {
		t.Fatal(err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev events.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read: %v", err)
	}
	if ev.Type != events.TypeLog || ev.Message != "hello" {
		t.Fatalf("event %+v", ev)
	}
}
