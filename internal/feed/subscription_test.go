package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/oremus-labs/ol-ops-console/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"
)

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond

type fakeStream struct {
	msgs   chan []byte
	errs   chan error
	closed chan struct{}
	once   sync.Once
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		msgs:   make(chan []byte, 16),
		errs:   make(chan error, 1),
		closed: make(chan struct{}),
	}
}

func (f *fakeStream) Next() ([]byte, error) {
	select {
	case m := <-f.msgs:
		return m, nil
	case err := <-f.errs:
		return nil, err
	case <-f.closed:
		return nil, io.ErrClosedPipe
	}
}

func (f *fakeStream) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeStream) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

type fakeSource struct {
	mu          sync.Mutex
	snapshot    []events.Event
	snapshotErr error
	gate        chan struct{}
	entered     chan struct{}
	listCalls   int
	connectErr  error
	connects    int
	streams     []*fakeStream
}

func (f *fakeSource) ListEvents(ctx context.Context, since time.Time, limit int) ([]events.Event, error) {
	f.mu.Lock()
	f.listCalls++
	gate, entered := f.gate, f.entered
	f.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.snapshotErr != nil {
		return nil, f.snapshotErr
	}
	out := append([]events.Event(nil), f.snapshot...)
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (f *fakeSource) Connect(ctx context.Context) (Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if f.connectErr != nil {
		return nil, f.connectErr
	}
	s := newFakeStream()
	f.streams = append(f.streams, s)
	return s, nil
}

func (f *fakeSource) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

func (f *fakeSource) lastStream() *fakeStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.streams) == 0 {
		return nil
	}
	return f.streams[len(f.streams)-1]
}

func (f *fakeSource) set(fn func(*fakeSource)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

type recorder struct {
	mu      sync.Mutex
	notices []Notice
	events  []events.Event
}

func (r *recorder) notice(n Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
}

func (r *recorder) event(evt events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recorder) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.notices), len(r.events)
}

func newTestClient(src *fakeSource, clk *clocktesting.FakeClock, rec *recorder) *Client {
	opts := Options{Clock: clk}
	if rec != nil {
		opts.OnNotice = rec.notice
		opts.OnEvent = rec.event
	}
	return New(src, opts)
}

func viewIDs(v View) []string {
	return ids(v.Events)
}

func TestSubscriptionSeedsFromSnapshot(t *testing.T) {
	t.Parallel()

	src := &fakeSource{snapshot: seqEvents(0, 250)}
	clk := clocktesting.NewFakeClock(time.Now())
	sub := newTestClient(src, clk, nil).Subscribe(context.Background(), false)
	defer sub.Close()

	require.Eventually(t, func() bool { return sub.View().Buffered == BufferSize }, waitFor, tick)

	view := sub.View()
	assert.Equal(t, ids(seqEvents(230, 250)), viewIDs(view))
	assert.False(t, view.Connected)
	assert.Equal(t, StateIdle, view.State)
	assert.Equal(t, 0, src.connectCount())
}

func TestSubscriptionAppendsLiveMessagesAndDropsMalformed(t *testing.T) {
	t.Parallel()

	src := &fakeSource{}
	clk := clocktesting.NewFakeClock(time.Now())
	rec := &recorder{}
	sub := newTestClient(src, clk, rec).Subscribe(context.Background(), true)
	defer sub.Close()

	require.Eventually(t, func() bool { return sub.View().Connected }, waitFor, tick)
	assert.Empty(t, sub.View().Err)

	stream := src.lastStream()
	stream.msgs <- []byte(`{"id":"e1","type":"job.created","timestamp":"2026-01-01T00:00:00Z","data":{}}`)
	stream.msgs <- []byte(`this is not json`)
	stream.msgs <- []byte(`{"type":"run.started"}`)

	require.Eventually(t, func() bool { return sub.View().Buffered == 2 }, waitFor, tick)

	view := sub.View()
	require.Len(t, view.Events, 2)
	assert.Equal(t, "e1", view.Events[0].ID)
	assert.Equal(t, "run.started", view.Events[1].Type)
	assert.NotEmpty(t, view.Events[1].ID)
	assert.NotEmpty(t, view.Events[1].Timestamp)
	assert.True(t, view.Connected, "malformed message must not close the channel")

	notices, evts := rec.counts()
	assert.Equal(t, 0, notices)
	assert.Equal(t, 2, evts)
}

func TestSubscriptionPushBeyondCapacityEvictsOldest(t *testing.T) {
	t.Parallel()

	src := &fakeSource{snapshot: seqEvents(0, 200)}
	clk := clocktesting.NewFakeClock(time.Now())
	sub := newTestClient(src, clk, nil).Subscribe(context.Background(), true)
	defer sub.Close()

	require.Eventually(t, func() bool {
		v := sub.View()
		return v.Connected && v.Buffered == 200
	}, waitFor, tick)

	src.lastStream().msgs <- []byte(`{"id":"t200","type":"job.updated","timestamp":"2026-01-01T00:00:00Z"}`)

	require.Eventually(t, func() bool {
		v := sub.View()
		return len(v.Events) > 0 && v.Events[len(v.Events)-1].ID == "t200"
	}, waitFor, tick)

	view := sub.View()
	assert.Equal(t, 200, view.Buffered)
	assert.Equal(t, ids(seqEvents(181, 201)), viewIDs(view))
}

func TestSubscriptionReconnectsAfterFixedDelay(t *testing.T) {
	t.Parallel()

	src := &fakeSource{}
	clk := clocktesting.NewFakeClock(time.Now())
	rec := &recorder{}
	sub := newTestClient(src, clk, rec).Subscribe(context.Background(), true)
	defer sub.Close()

	require.Eventually(t, func() bool { return sub.View().Connected }, waitFor, tick)

	src.lastStream().errs <- errors.New("connection reset")

	require.Eventually(t, func() bool {
		v := sub.View()
		return !v.Connected && v.State == StateBackoff && clk.HasWaiters()
	}, waitFor, tick)
	assert.NotEmpty(t, sub.View().Err)
	require.Eventually(t, src.lastStream().isClosed, waitFor, tick)

	clk.Step(DefaultReconnectDelay - time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, src.connectCount(), "no reconnect before the delay elapses")

	clk.Step(time.Millisecond)
	require.Eventually(t, func() bool { return src.connectCount() == 2 }, waitFor, tick)
	require.Eventually(t, func() bool { return sub.View().Connected }, waitFor, tick)
	assert.Empty(t, sub.View().Err)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 2, src.connectCount(), "exactly one reconnect per failure")

	notices, _ := rec.counts()
	assert.Equal(t, 1, notices)
}

func TestSubscriptionNoticesOncePerDisconnect(t *testing.T) {
	t.Parallel()

	src := &fakeSource{connectErr: errors.New("dial tcp: connection refused")}
	clk := clocktesting.NewFakeClock(time.Now())
	rec := &recorder{}
	sub := newTestClient(src, clk, rec).Subscribe(context.Background(), true)
	defer sub.Close()

	for attempt := 1; attempt <= 3; attempt++ {
		require.Eventually(t, func() bool {
			return src.connectCount() == attempt && clk.HasWaiters()
		}, waitFor, tick)
		clk.Step(DefaultReconnectDelay)
	}
	require.Eventually(t, func() bool { return src.connectCount() == 4 }, waitFor, tick)

	notices, _ := rec.counts()
	assert.Equal(t, 1, notices, "retries must not repeat the disconnect notice")

	src.set(func(f *fakeSource) { f.connectErr = nil })
	require.Eventually(t, func() bool { return clk.HasWaiters() }, waitFor, tick)
	clk.Step(DefaultReconnectDelay)
	require.Eventually(t, func() bool { return sub.View().Connected }, waitFor, tick)

	src.lastStream().errs <- io.EOF
	require.Eventually(t, func() bool {
		n, _ := rec.counts()
		return n == 2
	}, waitFor, tick)
}

func TestSubscriptionCloseStopsPendingReconnect(t *testing.T) {
	t.Parallel()

	src := &fakeSource{}
	clk := clocktesting.NewFakeClock(time.Now())
	rec := &recorder{}
	sub := newTestClient(src, clk, rec).Subscribe(context.Background(), true)

	require.Eventually(t, func() bool { return sub.View().Connected }, waitFor, tick)
	src.lastStream().errs <- errors.New("boom")
	require.Eventually(t, func() bool { return clk.HasWaiters() }, waitFor, tick)

	before := sub.View()
	notices, evts := rec.counts()

	sub.Close()
	clk.Step(10 * DefaultReconnectDelay)
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, 1, src.connectCount())
	assert.Equal(t, before, sub.View())
	n, e := rec.counts()
	assert.Equal(t, notices, n)
	assert.Equal(t, evts, e)
	assert.ErrorIs(t, sub.Refresh(context.Background()), ErrClosed)
	assert.ErrorIs(t, sub.SetEnabled(true), ErrClosed)
}

func TestSubscriptionCloseWithInFlightSnapshot(t *testing.T) {
	t.Parallel()

	src := &fakeSource{
		snapshot: seqEvents(0, 5),
		gate:     make(chan struct{}),
		entered:  make(chan struct{}, 4),
	}
	clk := clocktesting.NewFakeClock(time.Now())
	rec := &recorder{}
	sub := newTestClient(src, clk, rec).Subscribe(context.Background(), false)

	select {
	case <-src.entered:
	case <-time.After(waitFor):
		t.Fatalf("initial snapshot was never requested")
	}

	closed := make(chan struct{})
	go func() {
		sub.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(waitFor):
		t.Fatalf("Close blocked on in-flight snapshot")
	}
	close(src.gate)
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, 0, sub.View().Buffered)
	_, evts := rec.counts()
	assert.Equal(t, 0, evts)
}

func TestSubscriptionDisabledNeverConnects(t *testing.T) {
	t.Parallel()

	src := &fakeSource{snapshot: seqEvents(0, 3)}
	clk := clocktesting.NewFakeClock(time.Now())
	sub := newTestClient(src, clk, nil).Subscribe(context.Background(), false)
	defer sub.Close()

	require.NoError(t, sub.Refresh(context.Background()))
	assert.Equal(t, 3, sub.View().Buffered)
	assert.Equal(t, 0, src.connectCount())
	assert.False(t, clk.HasWaiters())

	require.NoError(t, sub.SetEnabled(true))
	require.Eventually(t, func() bool { return sub.View().Connected }, waitFor, tick)

	stream := src.lastStream()
	require.NoError(t, sub.SetEnabled(false))
	require.Eventually(t, func() bool {
		v := sub.View()
		return !v.Connected && v.State == StateIdle
	}, waitFor, tick)
	require.Eventually(t, stream.isClosed, waitFor, tick)
	assert.Equal(t, 1, src.connectCount())
}

func TestSubscriptionDisableCancelsBackoff(t *testing.T) {
	t.Parallel()

	src := &fakeSource{connectErr: errors.New("refused")}
	clk := clocktesting.NewFakeClock(time.Now())
	sub := newTestClient(src, clk, nil).Subscribe(context.Background(), true)
	defer sub.Close()

	require.Eventually(t, func() bool { return clk.HasWaiters() }, waitFor, tick)
	require.NoError(t, sub.SetEnabled(false))
	require.Eventually(t, func() bool {
		return !clk.HasWaiters() && sub.View().Err == ""
	}, waitFor, tick)

	clk.Step(DefaultReconnectDelay)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, src.connectCount())
}

func TestSubscriptionRefreshKeepsEventsPushedDuringFetch(t *testing.T) {
	t.Parallel()

	src := &fakeSource{snapshot: seqEvents(0, 3)}
	clk := clocktesting.NewFakeClock(time.Now())
	sub := newTestClient(src, clk, nil).Subscribe(context.Background(), true)
	defer sub.Close()

	require.Eventually(t, func() bool {
		v := sub.View()
		return v.Connected && v.Buffered == 3
	}, waitFor, tick)

	gate := make(chan struct{})
	entered := make(chan struct{}, 1)
	src.set(func(f *fakeSource) {
		f.gate = gate
		f.entered = entered
		f.snapshot = seqEvents(0, 4)
	})

	refreshed := make(chan error, 1)
	go func() { refreshed <- sub.Refresh(context.Background()) }()
	<-entered

	src.lastStream().msgs <- []byte(`{"id":"pushed","type":"run.finished","timestamp":"2026-01-01T00:00:00Z"}`)
	require.Eventually(t, func() bool { return sub.View().Buffered == 4 }, waitFor, tick)

	close(gate)
	select {
	case err := <-refreshed:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatalf("refresh did not complete")
	}

	assert.Equal(t, []string{"t0", "t1", "t2", "t3", "pushed"}, viewIDs(sub.View()))
}

func TestSubscriptionRefreshFailureNotifiesButPollDoesNot(t *testing.T) {
	t.Parallel()

	src := &fakeSource{snapshot: seqEvents(0, 2)}
	clk := clocktesting.NewFakeClock(time.Now())
	rec := &recorder{}
	sub := newTestClient(src, clk, rec).Subscribe(context.Background(), false)
	defer sub.Close()

	require.Eventually(t, func() bool { return sub.View().Buffered == 2 }, waitFor, tick)
	src.set(func(f *fakeSource) { f.snapshotErr = errors.New("503 Service Unavailable") })

	assert.Error(t, sub.Poll(context.Background()))
	notices, _ := rec.counts()
	assert.Equal(t, 0, notices)

	assert.Error(t, sub.Refresh(context.Background()))
	notices, _ = rec.counts()
	require.Equal(t, 1, notices)
	rec.mu.Lock()
	assert.Equal(t, NoticeError, rec.notices[0].Level)
	rec.mu.Unlock()

	assert.Equal(t, 2, sub.View().Buffered, "failed refresh leaves the buffer untouched")
}

func TestSubscriptionRepeatedPollsKeepIDlessSnapshotEvent(t *testing.T) {
	t.Parallel()

	src := &fakeSource{snapshot: []events.Event{{
		Type:      "node.drained",
		Timestamp: "2026-03-01T10:00:00Z",
		Data:      map[string]interface{}{"node": "n-4"},
	}}}
	clk := clocktesting.NewFakeClock(time.Now())
	rec := &recorder{}
	sub := newTestClient(src, clk, rec).Subscribe(context.Background(), false)
	defer sub.Close()

	require.Eventually(t, func() bool { return sub.View().Buffered == 1 }, waitFor, tick)
	seeded := sub.View().Events[0].ID

	for i := 0; i < 3; i++ {
		clk.Step(time.Second)
		require.NoError(t, sub.Poll(context.Background()))
	}

	_, emitted := rec.counts()
	assert.Equal(t, 1, emitted, "the same backend event must be reported once")
	view := sub.View()
	require.Equal(t, 1, view.Buffered)
	assert.Equal(t, seeded, view.Events[0].ID)
}

func TestSubscriptionInitialSnapshotFailureIsSilent(t *testing.T) {
	t.Parallel()

	src := &fakeSource{snapshotErr: fmt.Errorf("dial tcp: no route to host")}
	clk := clocktesting.NewFakeClock(time.Now())
	rec := &recorder{}
	sub := newTestClient(src, clk, rec).Subscribe(context.Background(), false)
	defer sub.Close()

	require.Eventually(t, func() bool {
		src.mu.Lock()
		defer src.mu.Unlock()
		return src.listCalls == 1
	}, waitFor, tick)
	time.Sleep(20 * time.Millisecond)

	notices, _ := rec.counts()
	assert.Equal(t, 0, notices)
	assert.Equal(t, 0, sub.View().Buffered)
	assert.Empty(t, sub.View().Err)
}

func TestStateString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "backoff", StateBackoff.String())
	assert.Equal(t, "state(9)", State(9).String())
}
