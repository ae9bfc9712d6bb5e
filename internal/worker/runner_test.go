package worker

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/oremus-labs/ol-ops-console/internal/events"
	"github.com/oremus-labs/ol-ops-console/internal/feed"
	"github.com/oremus-labs/ol-ops-console/internal/store"
	clocktesting "k8s.io/utils/clock/testing"
)

type fakeStream struct {
	msgs   chan []byte
	closed chan struct{}
	once   sync.Once
}

func (s *fakeStream) Next() ([]byte, error) {
	select {
	case m, ok := <-s.msgs:
		if !ok {
			return nil, io.EOF
		}
		return m, nil
	case <-s.closed:
		return nil, io.ErrClosedPipe
	}
}

func (s *fakeStream) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

type fakeSource struct {
	snapshot []events.Event
	mu       sync.Mutex
	streams  []*fakeStream
}

func (f *fakeSource) ListEvents(context.Context, time.Time, int) ([]events.Event, error) {
	return f.snapshot, nil
}

func (f *fakeSource) Connect(context.Context) (feed.Stream, error) {
	s := &fakeStream{msgs: make(chan []byte, 8), closed: make(chan struct{})}
	f.mu.Lock()
	f.streams = append(f.streams, s)
	f.mu.Unlock()
	return s, nil
}

func (f *fakeSource) stream() *fakeStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.streams) == 0 {
		return nil
	}
	return f.streams[len(f.streams)-1]
}

type fakeJournal struct {
	mu      sync.Mutex
	seen    map[string]bool
	written []string
	history []store.HistoryEntry
	prunes  []int
}

func (j *fakeJournal) UpsertEvent(_ context.Context, evt events.Event) (bool, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.seen == nil {
		j.seen = map[string]bool{}
	}
	if j.seen[evt.ID] {
		return false, nil
	}
	j.seen[evt.ID] = true
	j.written = append(j.written, evt.ID)
	return true, nil
}

func (j *fakeJournal) Prune(_ context.Context, keep int) (int64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.prunes = append(j.prunes, keep)
	return 0, nil
}

func (j *fakeJournal) AppendHistory(_ context.Context, entry *store.HistoryEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.history = append(j.history, *entry)
	return nil
}

func (j *fakeJournal) snapshot() (written []string, history []store.HistoryEntry, prunes []int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.written...), append([]store.HistoryEntry(nil), j.history...), append([]int(nil), j.prunes...)
}

type fakePublisher struct {
	mu  sync.Mutex
	ids []string
}

func (p *fakePublisher) Publish(_ context.Context, evt events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ids = append(p.ids, evt.ID)
	return nil
}

func (p *fakePublisher) published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.ids...)
}

func startRunner(t *testing.T, r *Runner) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- r.Run(ctx) }()
	t.Cleanup(cancel)
	return cancel, errCh
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before timeout")
}

func TestRunnerJournalsAndPublishesNewEvents(t *testing.T) {
	t.Parallel()

	source := &fakeSource{snapshot: []events.Event{
		{ID: "s1", Type: "job.created", Timestamp: "2026-01-01T00:00:00Z"},
		{ID: "s2", Type: "job.updated", Timestamp: "2026-01-01T00:00:01Z"},
	}}
	journal := &fakeJournal{seen: map[string]bool{"s1": true}}
	publisher := &fakePublisher{}
	runner := New(Options{
		Source:    source,
		Journal:   journal,
		Publisher: publisher,
		Logger:    log.New(io.Discard, "", 0),
		Clock:     clocktesting.NewFakeClock(time.Now()),
	})
	cancel, errCh := startRunner(t, runner)

	waitFor(t, func() bool { return source.stream() != nil && len(publisher.published()) == 1 })
	source.stream().msgs <- []byte(`{"id":"live1","type":"run.started","timestamp":"2026-01-01T00:00:02Z"}`)
	source.stream().msgs <- []byte(`{"id":"s2","type":"job.updated","timestamp":"2026-01-01T00:00:01Z"}`)

	waitFor(t, func() bool { return len(publisher.published()) == 2 })
	time.Sleep(20 * time.Millisecond)

	if got := publisher.published(); len(got) != 2 || got[0] != "s2" || got[1] != "live1" {
		t.Fatalf("unexpected published events %v", got)
	}
	written, _, _ := journal.snapshot()
	if len(written) != 2 {
		t.Fatalf("expected 2 journal writes got %v", written)
	}

	cancel()
	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("runner did not stop")
	}
}

func TestRunnerRecordsDisconnectNotice(t *testing.T) {
	t.Parallel()

	source := &fakeSource{}
	journal := &fakeJournal{}
	runner := New(Options{
		Source:  source,
		Journal: journal,
		Logger:  log.New(io.Discard, "", 0),
		Clock:   clocktesting.NewFakeClock(time.Now()),
	})
	startRunner(t, runner)

	waitFor(t, func() bool { return source.stream() != nil })
	close(source.stream().msgs)

	waitFor(t, func() bool {
		_, history, _ := journal.snapshot()
		return len(history) == 1
	})
	_, history, _ := journal.snapshot()
	if history[0].Event != "feed_warning" || history[0].Message == "" {
		t.Fatalf("unexpected history entry %+v", history[0])
	}
}

func TestRunnerHeartbeatPrunesJournal(t *testing.T) {
	t.Parallel()

	clk := clocktesting.NewFakeClock(time.Now())
	journal := &fakeJournal{}
	runner := New(Options{
		Source:       &fakeSource{},
		Journal:      journal,
		Logger:       log.New(io.Discard, "", 0),
		Clock:        clk,
		Interval:     time.Minute,
		PollInterval: time.Hour,
		Keep:         500,
	})
	startRunner(t, runner)

	// Poller and heartbeat tickers.
	waitFor(t, func() bool {
		clk.Step(time.Minute)
		_, _, prunes := journal.snapshot()
		return len(prunes) > 0
	})
	_, _, prunes := journal.snapshot()
	if prunes[0] != 500 {
		t.Fatalf("expected prune keep=500 got %d", prunes[0])
	}
}

func TestRunnerRequiresSource(t *testing.T) {
	t.Parallel()

	if err := New(Options{Logger: log.New(io.Discard, "", 0)}).Run(context.Background()); err == nil {
		t.Fatalf("expected error without source")
	}
}
