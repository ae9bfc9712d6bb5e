package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/oremus-labs/ol-ops-console/internal/events"
	"github.com/oremus-labs/ol-ops-console/internal/feed"
	"github.com/spf13/cobra"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Inspect the platform event feed",
}

var (
	eventsSince       string
	eventsLimit       int
	tailNoLive        bool
	tailWatchConfig   bool
	tailNoClear       bool
	tailNoticeTimeout time.Duration
)

var eventsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent events",
	Run: func(cmd *cobra.Command, args []string) {
		client, _, err := mustClient()
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		since, err := parseSince(eventsSince, time.Now())
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
		defer cancel()
		evts, err := client.ListEvents(ctx, since, eventsLimit)
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		if handled, err := writeOutput(cmd, evts); handled || err != nil {
			if err != nil {
				exitWithError(cmd, err)
			}
			return
		}
		printEventTable(cmd.OutOrStdout(), evts)
	},
}

var eventsTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Follow the live event feed",
	Long: `Follow the live event feed. The most recent events are redrawn on every
change. While the live channel is down the feed is polled at the context's
refresh interval.

Type a command and press enter while tailing:
  r  refresh now
  p  pause or resume the live channel
  q  quit`,
	Run: func(cmd *cobra.Command, args []string) {
		client, cliCtx, err := mustClient()
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		t := newTail(cmd.OutOrStdout(), outputFormat == "json", !tailNoClear, tailNoticeTimeout)
		defer t.stop()
		opts := feed.Options{OnNotice: t.notify}
		if t.jsonl {
			opts.OnEvent = t.enqueue
		}
		sub := feed.New(client, opts).Subscribe(ctx, !tailNoLive)
		defer sub.Close()

		poller := feed.NewPoller(sub, feedConfig(cliCtx).RefreshInterval, nil)
		go func() { _ = poller.Run(ctx) }()

		if tailWatchConfig {
			go func() {
				if err := watchConfig(ctx, cfgFile, cliCtx.Name, poller.SetInterval); err != nil && ctx.Err() == nil {
					t.notify(feed.Notice{Level: feed.NoticeWarning, Message: "config watch stopped: " + err.Error(), At: time.Now()})
				}
			}()
		}

		commands := make(chan string)
		go readCommands(ctx, cmd.InOrStdin(), commands)

		live := !tailNoLive
		t.render(sub.View(), time.Now())
		for {
			select {
			case <-ctx.Done():
				return
			case <-sub.Done():
				return
			case <-sub.Updates():
				t.render(sub.View(), time.Now())
			case <-t.wake:
				t.render(sub.View(), time.Now())
			case line, ok := <-commands:
				if !ok {
					commands = nil
					continue
				}
				switch line {
				case "q", "quit":
					return
				case "r", "refresh":
					go func() { _ = sub.Refresh(ctx) }()
				case "p", "pause":
					live = !live
					if err := sub.SetEnabled(live); err != nil {
						return
					}
				}
			}
		}
	},
}

// readCommands forwards trimmed input lines until in is exhausted or ctx is
// done.
func readCommands(ctx context.Context, in io.Reader, out chan<- string) {
	defer close(out)
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		select {
		case out <- strings.ToLower(strings.TrimSpace(scanner.Text())):
		case <-ctx.Done():
			return
		}
	}
}

// parseSince accepts an RFC3339 timestamp or a duration relative to now.
func parseSince(value string, now time.Time) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}
	if d, err := time.ParseDuration(value); err == nil {
		if d < 0 {
			d = -d
		}
		return now.Add(-d), nil
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --since %q: use a duration like 15m or an RFC3339 timestamp", value)
	}
	return t, nil
}

func printEventTable(w io.Writer, evts []events.Event) {
	tw := newTable(w)
	fmt.Fprintf(tw, "TIME\tTYPE\tID\tDETAILS\n")
	for _, evt := range evts {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", eventClock(evt), evt.Type, shortID(evt.ID), eventDetails(evt, 60))
	}
	flushTable(tw)
}

func eventClock(evt events.Event) string {
	if t, ok := evt.Time(); ok {
		return t.Local().Format("15:04:05")
	}
	return valueOrDash(evt.Timestamp)
}

// eventDetails renders the payload as compact JSON, truncated to max runes.
func eventDetails(evt events.Event, max int) string {
	if len(evt.Data) == 0 {
		return "-"
	}
	raw, err := json.Marshal(evt.Data)
	if err != nil {
		return "-"
	}
	s := []rune(string(raw))
	if max > 3 && len(s) > max {
		return string(s[:max-3]) + "..."
	}
	return string(s)
}

func init() {
	eventsListCmd.Flags().StringVar(&eventsSince, "since", "", "Only events after this time (RFC3339 or a duration such as 15m)")
	eventsListCmd.Flags().IntVar(&eventsLimit, "limit", feed.BufferSize, "Maximum events to return")
	eventsTailCmd.Flags().BoolVar(&tailNoLive, "no-live", false, "Start with the live channel disabled (poll only)")
	eventsTailCmd.Flags().BoolVar(&tailWatchConfig, "watch-config", false, "Reload the refresh interval when the config file changes")
	eventsTailCmd.Flags().BoolVar(&tailNoClear, "no-clear", false, "Do not clear the screen between frames")
	eventsTailCmd.Flags().DurationVar(&tailNoticeTimeout, "notice-timeout", 30*time.Second, "How long a notice stays on screen")
	eventsCmd.AddCommand(eventsListCmd)
	eventsCmd.AddCommand(eventsTailCmd)
}
