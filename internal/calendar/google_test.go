package calendar

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	genieerrors "genie/internal/errors"
	"genie/internal/shared/logging"
)

func newIPv4TestServer(t *testing.T, handler http.Handler) *httptest.Server {
	t.Helper()

	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Skipf("skipping test: unable to create loopback listener: %v", err)
	}

	server := httptest.NewUnstartedServer(handler)
	server.Listener = ln
	server.Start()
	t.Cleanup(server.Close)

	return server
}

func writeTokenFile(t *testing.T, token string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "token.json")
	if err := os.WriteFile(path, []byte(`{"access_token":"`+token+`"}`), 0600); err != nil {
		t.Fatalf("write token file: %v", err)
	}
	return path
}

func newGoogleClient(t *testing.T, baseURL string) *GoogleClient {
	t.Helper()
	return NewGoogleClient(Config{
		BaseURL:    baseURL,
		CalendarID: "primary",
		TokenPath:  writeTokenFile(t, "test-token"),
		Timeout:    2 * time.Second,
	}, logging.Nop())
}

func TestGoogleFreeBusyDerivesFreeIntervals(t *testing.T) {
	t.Parallel()

	window := interval(0, 2*time.Hour)
	server := newIPv4TestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/freeBusy" {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Fatalf("Authorization = %q", got)
		}
		var payload struct {
			TimeMin string              `json:"timeMin"`
			TimeMax string              `json:"timeMax"`
			Items   []map[string]string `json:"items"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if len(payload.Items) != 1 || payload.Items[0]["id"] != "primary" {
			t.Fatalf("items = %v", payload.Items)
		}
		_, _ = w.Write([]byte(`{"calendars":{"primary":{"busy":[
			{"start":"2025-09-15T09:30:00Z","end":"2025-09-15T10:00:00Z"}
		]}}}`))
	}))

	client := newGoogleClient(t, server.URL)
	got := client.FreeBusy(context.Background(), window)
	if !got.Connected {
		t.Fatal("FreeBusy() reported disconnected")
	}
	if len(got.Free) != 2 {
		t.Fatalf("free intervals = %v, want 2", got.Free)
	}
	if !got.Free[0].End.Equal(testNow.Add(30 * time.Minute)) {
		t.Errorf("first free interval ends %v, want 09:30", got.Free[0].End)
	}
}

func TestGoogleFreeBusyDegradesOnFailure(t *testing.T) {
	t.Parallel()

	window := interval(0, 2*time.Hour)
	server := newIPv4TestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))

	client := newGoogleClient(t, server.URL)
	got := client.FreeBusy(context.Background(), window)
	if got.Connected {
		t.Fatal("FreeBusy() reported connected despite 401")
	}
	if len(got.Free) != 1 || got.Free[0] != window {
		t.Errorf("degraded free = %v, want whole window", got.Free)
	}
}

func TestGoogleFreeBusyDegradesWithoutToken(t *testing.T) {
	t.Parallel()

	client := NewGoogleClient(Config{BaseURL: "http://127.0.0.1:0"}, logging.Nop())
	window := interval(0, time.Hour)
	got := client.FreeBusy(context.Background(), window)
	if got.Connected {
		t.Error("FreeBusy() without a token must degrade")
	}
}

func TestGoogleCreateEvent(t *testing.T) {
	t.Parallel()

	server := newIPv4TestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/calendars/primary/events" {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var payload struct {
			Summary     string `json:"summary"`
			Description string `json:"description"`
			Start       struct {
				DateTime string `json:"dateTime"`
			} `json:"start"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if payload.Summary != "[Genie] Install Python and verify the REPL" {
			t.Fatalf("summary = %q", payload.Summary)
		}
		if payload.Description != "step one\n\nResource: https://docs.python.org" {
			t.Fatalf("description = %q", payload.Description)
		}
		_, _ = w.Write([]byte(`{"id":"evt-123"}`))
	}))

	client := newGoogleClient(t, server.URL)
	id, err := client.CreateEvent(context.Background(), EventInput{
		Summary:      "[Genie] Install Python and verify the REPL",
		Description:  "step one",
		Start:        testNow,
		End:          testNow.Add(25 * time.Minute),
		ResourceLink: "https://docs.python.org",
	})
	if err != nil {
		t.Fatalf("CreateEvent() error = %v", err)
	}
	if id != "evt-123" {
		t.Errorf("CreateEvent() id = %q, want evt-123", id)
	}
}

func TestGoogleCreateEventRetriesTransient(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := newIPv4TestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"id":"evt-9"}`))
	}))

	client := newGoogleClient(t, server.URL)
	client.retry.BaseDelay = time.Millisecond
	id, err := client.CreateEvent(context.Background(), EventInput{
		Summary: "[Genie] Retry me",
		Start:   testNow,
		End:     testNow.Add(20 * time.Minute),
	})
	if err != nil {
		t.Fatalf("CreateEvent() error = %v", err)
	}
	if id != "evt-9" || calls.Load() != 2 {
		t.Errorf("id = %q after %d calls, want evt-9 after 2", id, calls.Load())
	}
}

func TestGoogleCreateEventAuthFailureIsFatal(t *testing.T) {
	t.Parallel()

	server := newIPv4TestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))

	client := newGoogleClient(t, server.URL)
	_, err := client.CreateEvent(context.Background(), EventInput{
		Summary: "[Genie] Nope",
		Start:   testNow,
		End:     testNow.Add(20 * time.Minute),
	})
	if !genieerrors.Is(err, genieerrors.KindFatalExternal) {
		t.Errorf("CreateEvent() kind = %v, want fatal_external", genieerrors.KindOf(err))
	}
}

func TestGoogleDeleteEventToleratesGone(t *testing.T) {
	t.Parallel()

	server := newIPv4TestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
	}))

	client := newGoogleClient(t, server.URL)
	if err := client.DeleteEvent(context.Background(), "evt-old"); err != nil {
		t.Errorf("DeleteEvent() on gone event error = %v, want nil", err)
	}
}

func TestGoogleListEvents(t *testing.T) {
	t.Parallel()

	server := newIPv4TestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("singleEvents") != "true" {
			t.Fatalf("singleEvents = %q", r.URL.Query().Get("singleEvents"))
		}
		_, _ = w.Write([]byte(`{"items":[
			{"id":"evt-1","summary":"[Genie] Draft outline",
			 "start":{"dateTime":"2025-09-15T09:00:00Z"},
			 "end":{"dateTime":"2025-09-15T09:25:00Z"}}
		]}`))
	}))

	client := newGoogleClient(t, server.URL)
	events, err := client.ListEvents(context.Background(), interval(0, 2*time.Hour))
	if err != nil {
		t.Fatalf("ListEvents() error = %v", err)
	}
	if len(events) != 1 || events[0].ID != "evt-1" || events[0].Summary != "[Genie] Draft outline" {
		t.Errorf("ListEvents() = %+v", events)
	}
}

func TestCachingClientServesRepeatLookups(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := newIPv4TestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"calendars":{"primary":{"busy":[]}}}`))
	}))

	client := WithCache(newGoogleClient(t, server.URL), time.Minute)
	window := interval(0, 2*time.Hour)
	ctx := context.Background()

	first := client.FreeBusy(ctx, window)
	second := client.FreeBusy(ctx, window)
	if calls.Load() != 1 {
		t.Errorf("provider calls = %d, want 1", calls.Load())
	}
	if !first.Connected || !second.Connected {
		t.Error("cached availability lost Connected")
	}
}

func TestCachingClientDoesNotCacheDegraded(t *testing.T) {
	t.Parallel()

	inner := NewMockClient()
	inner.Offline = true
	client := WithCache(inner, time.Minute)
	window := interval(0, time.Hour)
	ctx := context.Background()

	if got := client.FreeBusy(ctx, window); got.Connected {
		t.Fatal("offline mock reported connected")
	}

	// Provider comes back; the degraded answer must not be served.
	inner.Offline = false
	if got := client.FreeBusy(ctx, window); !got.Connected {
		t.Error("reconnection was masked by a cached degraded answer")
	}
}
