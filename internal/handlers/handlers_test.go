package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/oremus-labs/ol-ops-console/internal/client"
	"github.com/oremus-labs/ol-ops-console/internal/events"
	"github.com/oremus-labs/ol-ops-console/internal/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeJournal struct {
	events    []events.Event
	err       error
	pingErr   error
	history   []store.HistoryEntry
	gotSince  time.Time
	gotLimit  int
	listCalls int
}

func (f *fakeJournal) ListEvents(_ context.Context, since time.Time, limit int) ([]events.Event, error) {
	f.listCalls++
	f.gotSince = since
	f.gotLimit = limit
	return f.events, f.err
}

func (f *fakeJournal) ListHistory(_ context.Context, limit int) ([]store.HistoryEntry, error) {
	return f.history, nil
}

func (f *fakeJournal) Ping(context.Context) error {
	return f.pingErr
}

func TestListEventsSnapshot(t *testing.T) {
	t.Parallel()

	journal := &fakeJournal{events: []events.Event{
		{ID: "e1", Type: "job.created", Timestamp: "2026-01-01T00:00:00Z", Data: map[string]interface{}{}},
		{ID: "e2", Type: "run.started", Timestamp: "2026-01-01T00:01:00Z", Data: map[string]interface{}{}},
	}}
	handler := New(journal, nil, Options{})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/events?since=2026-01-01T00:00:00Z&limit=5000", nil)

	handler.ListEvents(c)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d: %s", w.Code, w.Body.String())
	}
	var body []events.Event
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(body) != 2 || body[0].ID != "e1" || body[1].ID != "e2" {
		t.Fatalf("unexpected events payload: %+v", body)
	}
	if journal.gotLimit != maxEventLimit {
		t.Fatalf("expected limit capped to %d got %d", maxEventLimit, journal.gotLimit)
	}
	if !journal.gotSince.Equal(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected since %s", journal.gotSince)
	}
}

func TestListEventsEmptyIsArray(t *testing.T) {
	t.Parallel()

	handler := New(&fakeJournal{}, nil, Options{})
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/events", nil)

	handler.ListEvents(c)

	if w.Code != http.StatusOK || w.Body.String() != "[]" {
		t.Fatalf("expected empty array, got %d %q", w.Code, w.Body.String())
	}
}

func TestListEventsRejectsBadQuery(t *testing.T) {
	t.Parallel()

	for _, target := range []string{"/events?since=yesterday", "/events?limit=-1", "/events?limit=abc"} {
		journal := &fakeJournal{}
		handler := New(journal, nil, Options{})
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodGet, target, nil)

		handler.ListEvents(c)

		if w.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400 got %d", target, w.Code)
		}
		if journal.listCalls != 0 {
			t.Fatalf("%s: journal should not be queried", target)
		}
	}
}

func TestListEventsJournalFailure(t *testing.T) {
	t.Parallel()

	handler := New(&fakeJournal{err: errors.New("disk full")}, nil, Options{})
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/events", nil)

	handler.ListEvents(c)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 got %d", w.Code)
	}
}

func TestListEventsWithoutJournal(t *testing.T) {
	t.Parallel()

	handler := New(nil, nil, Options{})
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/events", nil)

	handler.ListEvents(c)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d", w.Code)
	}
}

func TestHealthReportsJournalFailure(t *testing.T) {
	t.Parallel()

	handler := New(&fakeJournal{pingErr: errors.New("database is locked")}, nil, Options{Version: "1.2.3"})
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/healthz", nil)

	handler.Health(c)

	var body struct {
		Status  string            `json:"status"`
		Version string            `json:"version"`
		Checks  map[string]string `json:"checks"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Status != "degraded" || body.Version != "1.2.3" || body.Checks["journal"] != "database is locked" {
		t.Fatalf("unexpected health payload: %+v", body)
	}
}

func TestStreamEventsRelaysBus(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus := events.NewBus(ctx, events.Options{})
	handler := New(&fakeJournal{}, bus, Options{KeepAlive: 20 * time.Millisecond})

	engine := gin.New()
	engine.GET("/events", handler.ListEvents)
	srv := httptest.NewServer(engine)
	defer srv.Close()

	stream, err := client.New(srv.URL, "", time.Second).Connect(ctx)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer stream.Close()

	waitFor(t, func() bool { return bus.Subscribers() == 1 })

	if err := bus.Publish(ctx, events.Event{ID: "e9", Type: "job.updated", Data: map[string]interface{}{"jobId": "j1"}}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	data, err := stream.Next()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	var evt events.Event
	if err := json.Unmarshal(data, &evt); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if evt.ID != "e9" || evt.Type != "job.updated" || evt.Timestamp == "" || evt.Data["jobId"] != "j1" {
		t.Fatalf("unexpected relayed event: %+v", evt)
	}

	stream.Close()
	waitFor(t, func() bool { return bus.Subscribers() == 0 })
}

func TestStreamEventsWithoutBus(t *testing.T) {
	t.Parallel()

	handler := New(&fakeJournal{}, nil, Options{})
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/events", nil)
	c.Request.Header.Set("Accept", "text/event-stream")

	handler.ListEvents(c)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d", w.Code)
	}
}

func TestWantsEventStream(t *testing.T) {
	t.Parallel()

	cases := map[string]bool{
		"text/event-stream":                    true,
		"application/json, text/event-stream":  true,
		"Text/Event-Stream; charset=utf-8":     true,
		"application/json":                     false,
		"":                                     false,
	}
	for accept, want := range cases {
		if got := wantsEventStream(accept); got != want {
			t.Fatalf("wantsEventStream(%q) = %v, want %v", accept, got, want)
		}
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		<-ticker.C
	}
	t.Fatalf("condition not met before timeout")
}
