// Package worker runs the feed relay: it follows the upstream platform feed,
// journals every new event and republishes it to connected consoles.
package worker

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/oremus-labs/ol-ops-console/internal/events"
	"github.com/oremus-labs/ol-ops-console/internal/feed"
	"github.com/oremus-labs/ol-ops-console/internal/logutil"
	"github.com/oremus-labs/ol-ops-console/internal/metrics"
	"github.com/oremus-labs/ol-ops-console/internal/store"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"
)

// Journal is the persistence the runner writes to.
type Journal interface {
	UpsertEvent(ctx context.Context, evt events.Event) (bool, error)
	Prune(ctx context.Context, keep int) (int64, error)
	AppendHistory(ctx context.Context, entry *store.HistoryEntry) error
}

// Publisher fans events out to consoles.
type Publisher interface {
	Publish(ctx context.Context, evt events.Event) error
}

// Options configure the background worker process.
type Options struct {
	Source       feed.Source
	Journal      Journal
	Publisher    Publisher
	Logger       *log.Logger
	Clock        clock.WithTicker
	Interval     time.Duration
	PollInterval time.Duration
	// Keep is the number of journaled events retained; zero disables pruning.
	Keep int
}

// Runner relays the upstream feed into the journal and the event bus.
type Runner struct {
	source       feed.Source
	journal      Journal
	publisher    Publisher
	logger       *log.Logger
	clock        clock.WithTicker
	interval     time.Duration
	pollInterval time.Duration
	keep         int

	mu      sync.Mutex
	pending []task
	wake    chan struct{}
}

type task struct {
	event  *events.Event
	notice *feed.Notice
}

// New creates a new Runner.
func New(opts Options) *Runner {
	interval := opts.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	return &Runner{
		source:       opts.Source,
		journal:      opts.Journal,
		publisher:    opts.Publisher,
		logger:       opts.Logger,
		clock:        opts.Clock,
		interval:     interval,
		pollInterval: opts.PollInterval,
		keep:         opts.Keep,
		wake:         make(chan struct{}, 1),
	}
}

// Run follows the feed until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	if r.source == nil {
		return errors.New("worker: feed source is required")
	}
	r.logger.Println("ops-console relay started")

	client := feed.New(r.source, feed.Options{
		Clock:    r.clock,
		OnEvent:  func(evt events.Event) { r.enqueue(task{event: &evt}) },
		OnNotice: func(n feed.Notice) { r.enqueue(task{notice: &n}) },
	})
	sub := client.Subscribe(ctx, true)
	defer sub.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return feed.NewPoller(sub, r.pollInterval, r.clock).Run(gctx)
	})
	g.Go(func() error {
		return r.drain(gctx)
	})
	g.Go(func() error {
		return r.heartbeat(gctx, sub)
	})

	err := g.Wait()
	r.logger.Println("relay shutting down")
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (r *Runner) enqueue(t task) {
	r.mu.Lock()
	r.pending = append(r.pending, t)
	r.mu.Unlock()
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Runner) take() []task {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.pending
	r.pending = nil
	return out
}

func (r *Runner) drain(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.wake:
		}
		for _, t := range r.take() {
			switch {
			case t.event != nil:
				r.relay(ctx, *t.event)
			case t.notice != nil:
				r.record(ctx, *t.notice)
			}
		}
	}
}

func (r *Runner) relay(ctx context.Context, evt events.Event) {
	if r.journal != nil {
		inserted, err := r.journal.UpsertEvent(ctx, evt)
		metrics.ObserveJournalWrite(err == nil)
		if err != nil {
			logutil.Error("journal_write_failed", err, logutil.Fields{"eventId": evt.ID})
		} else if !inserted {
			// Already relayed before a restart or by a snapshot overlap.
			return
		}
	}
	if r.publisher != nil {
		if err := r.publisher.Publish(ctx, evt); err != nil {
			logutil.Warn("relay_publish_failed", err, logutil.Fields{"eventId": evt.ID})
		}
	}
}

func (r *Runner) record(ctx context.Context, n feed.Notice) {
	logutil.Warn("feed_notice", nil, logutil.Fields{"level": string(n.Level), "message": n.Message})
	if r.journal == nil {
		return
	}
	entry := &store.HistoryEntry{
		Event:    "feed_" + string(n.Level),
		Message:  n.Message,
		Metadata: map[string]interface{}{"at": events.FormatTime(n.At)},
	}
	if err := r.journal.AppendHistory(ctx, entry); err != nil {
		logutil.Warn("history_write_failed", err, nil)
	}
}

func (r *Runner) heartbeat(ctx context.Context, sub *feed.Subscription) error {
	ticker := r.clock.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sub.Done():
			return nil
		case <-ticker.C():
			view := sub.View()
			r.logger.Printf("relay heartbeat: %d events buffered, live=%t state=%s", view.Buffered, view.Connected, view.State)
			r.prune(ctx)
		}
	}
}

func (r *Runner) prune(ctx context.Context) {
	if r.journal == nil || r.keep <= 0 {
		return
	}
	removed, err := r.journal.Prune(ctx, r.keep)
	if err != nil {
		logutil.Warn("journal_prune_failed", err, nil)
		return
	}
	metrics.ObserveJournalPruned(removed)
	if removed > 0 {
		logutil.Debug("journal_pruned", logutil.Fields{"removed": removed, "keep": r.keep})
	}
}
