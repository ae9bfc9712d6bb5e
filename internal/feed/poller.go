package feed

import (
	"context"
	"errors"
	"time"

	"github.com/oremus-labs/ol-ops-console/config"
	"github.com/oremus-labs/ol-ops-console/internal/logutil"
	"k8s.io/utils/clock"
)

// Poller is the host-side polling fallback: on every tick it pulls a snapshot
// while the subscription's live channel is not connected.
type Poller struct {
	sub      *Subscription
	clock    clock.WithTicker
	interval time.Duration
	reset    chan time.Duration
}

// NewPoller returns a poller for sub. A non-positive interval uses the
// default refresh interval.
func NewPoller(sub *Subscription, interval time.Duration, clk clock.WithTicker) *Poller {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if interval <= 0 {
		interval = config.DefaultRefreshInterval
	}
	return &Poller{
		sub:      sub,
		clock:    clk,
		interval: interval,
		reset:    make(chan time.Duration, 1),
	}
}

// SetInterval changes the polling period. Only the latest value is kept.
func (p *Poller) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	for {
		select {
		case p.reset <- d:
			return
		default:
		}
		select {
		case <-p.reset:
		default:
		}
	}
}

// Run polls until ctx is cancelled or the subscription is closed.
func (p *Poller) Run(ctx context.Context) error {
	ticker := p.clock.NewTicker(p.interval)
	defer func() { ticker.Stop() }()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.sub.Done():
			return nil
		case d := <-p.reset:
			if d == p.interval {
				continue
			}
			ticker.Stop()
			p.interval = d
			ticker = p.clock.NewTicker(d)
			logutil.Debug("feed_poll_interval_changed", logutil.Fields{"interval": d.String()})
		case <-ticker.C():
			if p.sub.View().Connected {
				continue
			}
			if err := p.sub.Poll(ctx); err != nil && !errors.Is(err, ErrClosed) && ctx.Err() == nil {
				logutil.Debug("feed_poll_failed", logutil.Fields{"error": err.Error()})
			}
		}
	}
}
