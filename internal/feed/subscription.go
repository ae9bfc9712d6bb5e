// Package feed keeps a bounded, continuously updated view of platform events.
// A Subscription seeds its buffer from a snapshot, follows the live push
// channel and reconnects after a fixed delay when the channel drops. Polling
// while disconnected is left to the host (see Poller).
package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/oremus-labs/ol-ops-console/internal/events"
	"github.com/oremus-labs/ol-ops-console/internal/logutil"
	"github.com/oremus-labs/ol-ops-console/internal/metrics"
	"k8s.io/utils/clock"
)

const (
	// BufferSize is the number of most recent arrivals retained.
	BufferSize = 200
	// DisplaySize is the number of events exposed through View.
	DisplaySize = 20
	// DefaultReconnectDelay is the fixed wait between a transport failure and
	// the next connection attempt.
	DefaultReconnectDelay = 5 * time.Second
)

// ErrClosed is returned by operations on a closed subscription.
var ErrClosed = errors.New("feed: subscription closed")

// Source is the backend the feed reads from.
type Source interface {
	// ListEvents returns the most recent events, oldest first. A zero since
	// means no lower bound.
	ListEvents(ctx context.Context, since time.Time, limit int) ([]events.Event, error)
	// Connect opens the live channel. It returns once the handshake succeeded.
	Connect(ctx context.Context) (Stream, error)
}

// Stream yields raw pushed messages until it fails or is closed.
type Stream interface {
	Next() ([]byte, error)
	Close() error
}

// State is the live channel state.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateBackoff
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateBackoff:
		return "backoff"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// NoticeLevel classifies user-facing notices.
type NoticeLevel string

const (
	NoticeWarning NoticeLevel = "warning"
	NoticeError   NoticeLevel = "error"
)

// Notice is a dismissible, user-facing message about feed health.
type Notice struct {
	Level   NoticeLevel
	Message string
	At      time.Time
}

// View is what a host renders.
type View struct {
	// Events holds the most recent DisplaySize events, oldest first.
	Events    []events.Event
	Connected bool
	// Err is the degraded-mode message, empty while healthy.
	Err      string
	State    State
	Buffered int
}

// Options configure a Client.
type Options struct {
	Clock          clock.Clock
	ReconnectDelay time.Duration
	SnapshotLimit  int
	// OnNotice receives user-facing notices: one per disconnect and one per
	// failed manual refresh. Called from the subscription goroutine; it must
	// not call back into the subscription.
	OnNotice func(Notice)
	// OnEvent receives every event that newly enters the buffer. Same
	// threading rules as OnNotice.
	OnEvent func(events.Event)
}

// Client creates subscriptions against a Source.
type Client struct {
	source Source
	opts   Options
}

// New returns a Client reading from source.
func New(source Source, opts Options) *Client {
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.SnapshotLimit <= 0 || opts.SnapshotLimit > BufferSize {
		opts.SnapshotLimit = BufferSize
	}
	return &Client{source: source, opts: opts}
}

const (
	triggerInitial = "initial"
	triggerManual  = "manual"
	triggerPoll    = "poll"
)

type streamKind int

const (
	streamOpened streamKind = iota
	streamData
	streamFailed
)

type streamMsg struct {
	gen  uint64
	kind streamKind
	data []byte
	err  error
}

type snapshotResult struct {
	trigger string
	since   uint64
	events  []events.Event
	err     error
	applied chan struct{}
}

// Subscription is a live event feed. All state is owned by one goroutine;
// the exported methods only exchange messages with it or read the published
// View.
type Subscription struct {
	source Source
	opts   Options
	clock  clock.Clock

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	updates   chan struct{}
	toggle    chan bool
	stream    chan streamMsg
	snapshots chan snapshotResult

	mu   sync.RWMutex
	view View
	seq  uint64

	// owned by run
	buf          *Buffer
	state        State
	enabled      bool
	connected    bool
	errMsg       string
	noticed      bool
	gen          uint64
	cancelStream context.CancelFunc
	timer        clock.Timer
}

// Subscribe starts a subscription. With enabled false no live channel is
// opened; the buffer is still seeded from a snapshot and Refresh works.
// Cancelling ctx has the same effect as Close, without waiting.
func (c *Client) Subscribe(ctx context.Context, enabled bool) *Subscription {
	ctx, cancel := context.WithCancel(ctx)
	s := &Subscription{
		source:    c.source,
		opts:      c.opts,
		clock:     c.opts.Clock,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		updates:   make(chan struct{}, 1),
		toggle:    make(chan bool),
		stream:    make(chan streamMsg),
		snapshots: make(chan snapshotResult),
		buf:       NewBuffer(BufferSize),
		view:      View{Events: []events.Event{}},
	}
	go s.run(enabled)
	return s
}

// View returns the latest published view.
func (s *Subscription) View() View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v := s.view
	v.Events = make([]events.Event, len(s.view.Events))
	copy(v.Events, s.view.Events)
	return v
}

// Updates signals after every change to the view. Signals are coalesced.
func (s *Subscription) Updates() <-chan struct{} {
	return s.updates
}

// Done is closed once the subscription has fully stopped.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Close stops the live channel and any pending reconnect, and waits until no
// further state change can happen.
func (s *Subscription) Close() {
	s.cancel()
	<-s.done
}

// SetEnabled opens or closes the live channel. Disabling takes effect
// immediately and cancels a pending reconnect.
func (s *Subscription) SetEnabled(enabled bool) error {
	select {
	case s.toggle <- enabled:
		return nil
	case <-s.done:
		return ErrClosed
	}
}

// Refresh pulls a fresh snapshot and merges it into the buffer. A failure is
// reported through OnNotice and leaves the buffer untouched.
func (s *Subscription) Refresh(ctx context.Context) error {
	return s.pull(ctx, triggerManual)
}

// Poll is Refresh for the polling fallback: failures are only logged.
func (s *Subscription) Poll(ctx context.Context) error {
	return s.pull(ctx, triggerPoll)
}

func (s *Subscription) pull(ctx context.Context, trigger string) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}

	s.mu.RLock()
	since := s.seq
	s.mu.RUnlock()

	res := s.fetch(ctx, trigger, since)
	res.applied = make(chan struct{})
	select {
	case s.snapshots <- res:
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-res.applied:
		return res.err
	case <-s.done:
		return ErrClosed
	}
}

func (s *Subscription) fetch(ctx context.Context, trigger string, since uint64) snapshotResult {
	ctx, stop := context.WithCancel(ctx)
	defer stop()
	unlink := context.AfterFunc(s.ctx, stop)
	defer unlink()

	evts, err := s.source.ListEvents(ctx, time.Time{}, s.opts.SnapshotLimit)
	metrics.ObserveSnapshot(trigger, err == nil)
	res := snapshotResult{trigger: trigger, since: since, err: err}
	if err == nil {
		res.events = NormalizeAll(evts, s.clock.Now())
	}
	return res
}

func (s *Subscription) run(enabled bool) {
	defer close(s.done)
	defer s.teardown()

	go func() {
		res := s.fetch(s.ctx, triggerInitial, 0)
		select {
		case s.snapshots <- res:
		case <-s.ctx.Done():
		}
	}()

	if enabled {
		s.enabled = true
		s.connect()
	}
	s.publish()

	for {
		var timerC <-chan time.Time
		if s.timer != nil {
			timerC = s.timer.C()
		}
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.stream:
			s.handleStream(msg)
		case res := <-s.snapshots:
			s.applySnapshot(res)
		case on := <-s.toggle:
			s.setEnabled(on)
		case <-timerC:
			s.timer = nil
			if s.ctx.Err() == nil && s.enabled && s.state == StateBackoff {
				s.connect()
				s.publish()
			}
		}
	}
}

func (s *Subscription) teardown() {
	s.stopTimer()
	s.stopStream()
	if s.connected {
		metrics.SetFeedConnected(false)
	}
}

func (s *Subscription) connect() {
	s.stopStream()
	s.state = StateConnecting
	ctx, cancel := context.WithCancel(s.ctx)
	s.cancelStream = cancel
	metrics.ObserveFeedConnectAttempt()
	go s.readStream(ctx, s.gen)
}

// stopStream cancels the current reader and invalidates anything it still sends.
func (s *Subscription) stopStream() {
	if s.cancelStream != nil {
		s.cancelStream()
		s.cancelStream = nil
	}
	s.gen++
}

func (s *Subscription) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Subscription) readStream(ctx context.Context, gen uint64) {
	stream, err := s.source.Connect(ctx)
	if err != nil {
		s.sendStream(ctx, streamMsg{gen: gen, kind: streamFailed, err: err})
		return
	}
	stop := context.AfterFunc(ctx, func() { _ = stream.Close() })
	defer func() {
		if stop() {
			_ = stream.Close()
		}
	}()

	if !s.sendStream(ctx, streamMsg{gen: gen, kind: streamOpened}) {
		return
	}
	for {
		data, err := stream.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = errors.New("live channel closed by server")
			}
			s.sendStream(ctx, streamMsg{gen: gen, kind: streamFailed, err: err})
			return
		}
		if !s.sendStream(ctx, streamMsg{gen: gen, kind: streamData, data: data}) {
			return
		}
	}
}

func (s *Subscription) sendStream(ctx context.Context, msg streamMsg) bool {
	select {
	case s.stream <- msg:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Subscription) handleStream(msg streamMsg) {
	if s.ctx.Err() != nil || msg.gen != s.gen {
		return
	}
	switch msg.kind {
	case streamOpened:
		if s.state != StateConnecting {
			return
		}
		s.state = StateOpen
		s.connected = true
		s.errMsg = ""
		s.noticed = false
		metrics.SetFeedConnected(true)
		logutil.Info("feed_connected", nil)
	case streamData:
		if s.state != StateOpen {
			return
		}
		evt, err := Decode(msg.data, s.clock.Now())
		if err != nil {
			metrics.ObserveFeedMessage(true)
			logutil.Warn("feed_message_dropped", err, logutil.Fields{"bytes": len(msg.data)})
			return
		}
		metrics.ObserveFeedMessage(false)
		s.buf.Append(evt)
		s.emit(evt)
	case streamFailed:
		s.disconnect(msg.err)
	}
	s.publish()
}

func (s *Subscription) disconnect(err error) {
	s.stopStream()
	s.state = StateBackoff
	if s.connected {
		metrics.SetFeedConnected(false)
	}
	s.connected = false
	s.errMsg = fmt.Sprintf("Live updates disconnected; retrying in %s", s.opts.ReconnectDelay)
	metrics.ObserveFeedDisconnect()
	logutil.Warn("feed_disconnected", err, logutil.Fields{"retryIn": s.opts.ReconnectDelay.String()})

	if !s.noticed {
		s.noticed = true
		s.notify(NoticeWarning, "Live updates unavailable; showing polled data until the connection recovers")
	}
	s.stopTimer()
	s.timer = s.clock.NewTimer(s.opts.ReconnectDelay)
}

func (s *Subscription) setEnabled(on bool) {
	if s.ctx.Err() != nil || on == s.enabled {
		return
	}
	s.enabled = on
	if on {
		s.connect()
	} else {
		s.stopTimer()
		s.stopStream()
		if s.connected {
			metrics.SetFeedConnected(false)
		}
		s.state = StateIdle
		s.connected = false
		s.errMsg = ""
		s.noticed = false
	}
	s.publish()
}

func (s *Subscription) applySnapshot(res snapshotResult) {
	if res.applied != nil {
		defer close(res.applied)
	}
	if s.ctx.Err() != nil {
		return
	}
	if res.err != nil {
		logutil.Warn("feed_snapshot_failed", res.err, logutil.Fields{"trigger": res.trigger})
		if res.trigger == triggerManual {
			s.notify(NoticeError, fmt.Sprintf("Failed to refresh events: %v", res.err))
		}
		return
	}
	for _, evt := range s.buf.Merge(res.events, res.since) {
		s.emit(evt)
	}
	s.publish()
}

func (s *Subscription) emit(evt events.Event) {
	if s.opts.OnEvent != nil {
		s.opts.OnEvent(evt)
	}
}

func (s *Subscription) notify(level NoticeLevel, msg string) {
	if s.opts.OnNotice != nil {
		s.opts.OnNotice(Notice{Level: level, Message: msg, At: s.clock.Now()})
	}
}

func (s *Subscription) publish() {
	view := View{
		Events:    s.buf.Recent(DisplaySize),
		Connected: s.connected,
		Err:       s.errMsg,
		State:     s.state,
		Buffered:  s.buf.Len(),
	}
	metrics.SetFeedBuffered(view.Buffered)

	s.mu.Lock()
	s.view = view
	s.seq = s.buf.Seq()
	s.mu.Unlock()

	select {
	case s.updates <- struct{}{}:
	default:
	}
}
