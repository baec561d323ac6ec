package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"genie/internal/calendar"
	"genie/internal/config"
	"genie/internal/intent"
	"genie/internal/llm"
	"genie/internal/pipeline"
	"genie/internal/planner"
	"genie/internal/prioritizer"
	"genie/internal/scheduler"
	"genie/internal/shared/logging"
	"genie/internal/store"
)

var testNow = time.Date(2025, 9, 15, 9, 0, 0, 0, time.UTC)

type fixture struct {
	llm    *llm.MockClient
	cal    *calendar.MockClient
	store  *store.FileStore
	server *Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := func() time.Time { return testNow }

	dir := t.TempDir()
	st, err := store.New(store.Config{
		Path:      filepath.Join(dir, "progress.json"),
		BackupDir: filepath.Join(dir, "backups"),
		Clock:     clock,
	}, logging.Nop())
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}

	f := &fixture{
		llm:   llm.NewMockClient(),
		cal:   calendar.NewMockClient(),
		store: st,
	}

	hub := NewEventHub()
	pipe := pipeline.New(pipeline.Config{
		Store:       st,
		Extractor:   intent.New(f.llm, logging.Nop()),
		Planner:     planner.New(f.llm, nil, logging.Nop(), planner.WithClock(clock)),
		Recommender: prioritizer.New(logging.Nop()),
		Scheduler:   scheduler.New(f.cal, st, "[Genie] ", logging.Nop(), scheduler.WithClock(clock)),
		Calendar:    f.cal,
		Logger:      logging.Nop(),
		Listener:    hub.Broadcast,
		Clock:       clock,
	})

	cfg := config.Default()
	cfg.LLM.Provider = config.ProviderMock
	f.server = New(Deps{
		Config:   cfg,
		Pipeline: pipe,
		Store:    st,
		Calendar: f.cal,
		LLM:      f.llm,
		Hub:      hub,
		Logger:   logging.Nop(),
		Version:  "test",
	})
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) apiResponse {
	t.Helper()
	var resp apiResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return resp
}

func (f *fixture) addLearnPython(t *testing.T) {
	t.Helper()
	f.llm.Enqueue("extract_task", `[{"action":"add","heading":"Learn Python","details":"from scratch"}]`)
	rec := f.do(t, http.MethodPost, "/api/v1/utterances", map[string]string{
		"user_id":   "u1",
		"utterance": "I want to learn Python",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /utterances = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestUtteranceEndToEnd(t *testing.T) {
	f := newFixture(t)
	f.addLearnPython(t)

	if f.cal.Creates != 1 {
		t.Errorf("calendar creates = %d, want 1", f.cal.Creates)
	}

	rec := f.do(t, http.MethodGet, "/api/v1/tasks?user_id=u1", nil)
	resp := decode(t, rec)
	if !resp.Success {
		t.Fatalf("tasks response = %+v", resp)
	}
	if !strings.Contains(rec.Body.String(), "Learn Python") {
		t.Errorf("tasks body missing heading: %s", rec.Body.String())
	}
}

func TestUtteranceRejectsBadBody(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/utterances", strings.NewReader("not json"))
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	resp := decode(t, rec)
	if resp.Error == nil || resp.Error.Kind != "validation" {
		t.Errorf("error = %+v, want validation kind", resp.Error)
	}
}

func TestUtteranceRejectsEmptyUser(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/v1/utterances", map[string]string{
		"user_id":   "",
		"utterance": "hello",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body %s", rec.Code, rec.Body.String())
	}
}

func TestListTasksRequiresUser(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/v1/tasks", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestListTasksRejectsUnknownStatus(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/v1/tasks?user_id=u1&status=bogus", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestRecommendationReturnsNextStep(t *testing.T) {
	f := newFixture(t)
	f.addLearnPython(t)

	rec := f.do(t, http.MethodGet, "/api/v1/recommendation?user_id=u1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "Outline the work") {
		t.Errorf("recommendation body = %s", rec.Body.String())
	}
}

func TestFeedbackRoundTrip(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/v1/feedback", map[string]any{
		"user_id": "u1",
		"kind":    "energy",
		"energy":  7,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	fb, err := f.store.ListFeedback(context.Background(), "u1")
	if err != nil {
		t.Fatalf("ListFeedback() error = %v", err)
	}
	if len(fb) != 1 || fb[0].Energy != 7 {
		t.Errorf("feedback = %+v", fb)
	}
}

func TestFeedbackRejectsBadKind(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/v1/feedback", map[string]any{
		"user_id": "u1",
		"kind":    "applause",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestAnalyticsCountsProgress(t *testing.T) {
	f := newFixture(t)
	f.addLearnPython(t)

	rec := f.do(t, http.MethodGet, "/api/v1/analytics?user_id=u1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "\"pending\":1") {
		t.Errorf("analytics body = %s", rec.Body.String())
	}
}

func TestHealthReportsComponents(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/v1/health", nil)
	resp := decode(t, rec)
	if rec.Code != http.StatusOK || !resp.Success {
		t.Fatalf("health = %d %+v", rec.Code, resp)
	}
	if !strings.Contains(rec.Body.String(), "\"calendar\":\"connected\"") {
		t.Errorf("health body = %s", rec.Body.String())
	}
}

func TestHealthFlagsDegradedCalendar(t *testing.T) {
	f := newFixture(t)
	f.cal.Offline = true
	rec := f.do(t, http.MethodGet, "/api/v1/health", nil)
	if !strings.Contains(rec.Body.String(), "\"calendar\":\"degraded\"") {
		t.Errorf("health body = %s", rec.Body.String())
	}
}

func TestBackupLifecycle(t *testing.T) {
	f := newFixture(t)
	f.addLearnPython(t)

	created := f.do(t, http.MethodPost, "/api/v1/backups", map[string]string{"reason": "pre-change"})
	if created.Code != http.StatusOK {
		t.Fatalf("create backup = %d, body %s", created.Code, created.Body.String())
	}
	var createResp struct {
		Data struct {
			Name string `json:"name"`
		} `json:"data"`
	}
	if err := json.Unmarshal(created.Body.Bytes(), &createResp); err != nil {
		t.Fatalf("decode create: %v", err)
	}

	listed := f.do(t, http.MethodGet, "/api/v1/backups", nil)
	if !strings.Contains(listed.Body.String(), createResp.Data.Name) {
		t.Errorf("backup list missing %q: %s", createResp.Data.Name, listed.Body.String())
	}

	restored := f.do(t, http.MethodPost, "/api/v1/backups/restore", map[string]string{"name": createResp.Data.Name})
	if restored.Code != http.StatusOK {
		t.Fatalf("restore = %d, body %s", restored.Code, restored.Body.String())
	}
}

func TestRestoreUnknownBackupIs404(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/v1/backups/restore", map[string]string{"name": "missing.json"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	f := newFixture(t)
	f.addLearnPython(t)

	exported := f.do(t, http.MethodGet, "/api/v1/users/u1/export", nil)
	if exported.Code != http.StatusOK {
		t.Fatalf("export = %d, body %s", exported.Code, exported.Body.String())
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/users/import", bytes.NewReader(exported.Body.Bytes()))
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("import = %d, body %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "user_id") {
		t.Errorf("import body = %s", rec.Body.String())
	}
}

func TestHubDropsEventsForSlowSubscriber(t *testing.T) {
	hub := NewEventHub()
	sub := hub.Subscribe("u1")
	defer hub.Unsubscribe(sub)

	for i := 0; i < subscriptionBuffer+10; i++ {
		hub.Broadcast(pipeline.Event{UserID: "u1", Stage: pipeline.StageExtract})
	}
	if got := len(sub.Events()); got != subscriptionBuffer {
		t.Errorf("queued = %d, want %d", got, subscriptionBuffer)
	}
}

func TestHubFiltersByUser(t *testing.T) {
	hub := NewEventHub()
	mine := hub.Subscribe("u1")
	all := hub.Subscribe("")
	defer hub.Unsubscribe(mine)
	defer hub.Unsubscribe(all)

	hub.Broadcast(pipeline.Event{UserID: "u2", Stage: pipeline.StageCommit})
	if len(mine.Events()) != 0 {
		t.Error("u1 subscriber received another user's event")
	}
	if len(all.Events()) != 1 {
		t.Error("wildcard subscriber missed the event")
	}
}

func TestMetricsRouteAbsentWithoutCollector(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestUnknownRouteIs404(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, fmt.Sprintf("/api/v1/%s", "nope"), nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}
