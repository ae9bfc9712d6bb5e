package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/oremus-labs/ol-ops-console/internal/events"
	"github.com/oremus-labs/ol-ops-console/internal/feed"
)

const clearScreen = "\033[H\033[2J"

var (
	colorLive    = lipgloss.Color("#00CC66")
	colorWarning = lipgloss.Color("#FFB000")
	colorError   = lipgloss.Color("#FF4D4D")
	colorMuted   = lipgloss.Color("#666666")

	liveStyle    = lipgloss.NewStyle().Foreground(colorLive).Bold(true)
	pollingStyle = lipgloss.NewStyle().Foreground(colorWarning).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(colorMuted)
	typeStyle    = lipgloss.NewStyle().Bold(true)

	bannerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Padding(0, 1)
)

// tail renders a subscription view to a terminal. notify and enqueue are safe
// to call from the subscription goroutine.
type tail struct {
	out   io.Writer
	jsonl bool
	clear bool
	ttl   time.Duration

	mu     sync.Mutex
	notice *feed.Notice
	expiry *time.Timer
	wake   chan struct{}

	// jsonl mode: events that entered the buffer since the last render.
	pending []events.Event
}

func newTail(out io.Writer, jsonl, clear bool, ttl time.Duration) *tail {
	return &tail{
		out:   out,
		jsonl: jsonl,
		clear: clear,
		ttl:   ttl,
		wake:  make(chan struct{}, 1),
	}
}

// notify records n and schedules a redraw for when it expires, so the banner
// is cleared even if the feed stays quiet.
func (t *tail) notify(n feed.Notice) {
	t.mu.Lock()
	t.notice = &n
	if t.ttl > 0 {
		if t.expiry != nil {
			t.expiry.Stop()
		}
		delay := t.ttl - time.Since(n.At)
		if delay < 0 {
			delay = 0
		}
		t.expiry = time.AfterFunc(delay, t.poke)
	}
	t.mu.Unlock()
	t.poke()
}

// enqueue queues evt for the next jsonl render. It is the subscription's
// OnEvent hook, so each event is seen exactly once however many arrive
// between renders.
func (t *tail) enqueue(evt events.Event) {
	t.mu.Lock()
	t.pending = append(t.pending, evt)
	t.mu.Unlock()
	t.poke()
}

func (t *tail) poke() {
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

func (t *tail) stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.expiry != nil {
		t.expiry.Stop()
	}
}

// currentNotice returns the latest notice unless it has expired.
func (t *tail) currentNotice(now time.Time) *feed.Notice {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.notice == nil {
		return nil
	}
	if t.ttl > 0 && now.Sub(t.notice.At) >= t.ttl {
		t.notice = nil
		return nil
	}
	n := *t.notice
	return &n
}

func (t *tail) render(view feed.View, now time.Time) {
	if t.jsonl {
		t.renderJSON(now)
		return
	}
	frame := renderFrame(view, t.currentNotice(now))
	if t.clear {
		fmt.Fprint(t.out, clearScreen)
	}
	fmt.Fprint(t.out, frame)
}

// renderJSON writes queued events as JSON lines in arrival order. Notices go
// out as their own lines so the stream stays machine readable.
func (t *tail) renderJSON(now time.Time) {
	enc := json.NewEncoder(t.out)
	if n := t.currentNotice(now); n != nil {
		t.mu.Lock()
		t.notice = nil
		t.mu.Unlock()
		_ = enc.Encode(map[string]interface{}{"notice": n.Message, "level": n.Level, "at": n.At})
	}
	t.mu.Lock()
	batch := t.pending
	t.pending = nil
	t.mu.Unlock()
	for _, evt := range batch {
		_ = enc.Encode(evt)
	}
}

func renderFrame(view feed.View, notice *feed.Notice) string {
	var b strings.Builder
	b.WriteString(statusLine(view))
	b.WriteString("\n")
	if view.Err != "" {
		b.WriteString(pollingStyle.Render(view.Err))
		b.WriteString("\n")
	}
	if notice != nil {
		b.WriteString(noticeBanner(*notice))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	if len(view.Events) == 0 {
		b.WriteString(mutedStyle.Render("No events yet."))
		b.WriteString("\n")
	} else {
		tw := newTable(&b)
		fmt.Fprintf(tw, "TIME\tTYPE\tID\tDETAILS\n")
		for _, evt := range view.Events {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", eventClock(evt), typeStyle.Render(evt.Type), shortID(evt.ID), eventDetails(evt, 60))
		}
		flushTable(tw)
	}
	b.WriteString("\n")
	b.WriteString(mutedStyle.Render("r refresh   p pause/resume   q quit"))
	b.WriteString("\n")
	return b.String()
}

func statusLine(view feed.View) string {
	var indicator string
	switch {
	case view.Connected:
		indicator = liveStyle.Render("● LIVE")
	case view.State == feed.StateIdle:
		indicator = mutedStyle.Render("○ PAUSED")
	default:
		indicator = pollingStyle.Render("● POLLING")
	}
	return fmt.Sprintf("%s  %s", indicator, mutedStyle.Render(fmt.Sprintf("%d buffered, channel %s", view.Buffered, view.State)))
}

func noticeBanner(n feed.Notice) string {
	color := colorWarning
	if n.Level == feed.NoticeError {
		color = colorError
	}
	return bannerStyle.BorderForeground(color).Foreground(color).Render(n.Message)
}
