package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	feedMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ops_console_feed_messages_total",
		Help: "Live feed messages received grouped by outcome",
	}, []string{"outcome"})

	feedDisconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ops_console_feed_disconnects_total",
		Help: "Live feed transport failures",
	})

	feedConnectAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ops_console_feed_connect_attempts_total",
		Help: "Live feed connection attempts including reconnects",
	})

	feedConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ops_console_feed_connected",
		Help: "1 while the live feed channel is open",
	})

	feedBuffered = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ops_console_feed_buffered_events",
		Help: "Events currently held in the feed buffer",
	})

	feedSnapshots = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ops_console_feed_snapshots_total",
		Help: "Snapshot fetches grouped by trigger and outcome",
	}, []string{"trigger", "status"})

	journalWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ops_console_journal_writes_total",
		Help: "Relay journal writes grouped by outcome",
	}, []string{"status"})
)

// ObserveFeedMessage records a live message; malformed messages are counted separately.
func ObserveFeedMessage(malformed bool) {
	if malformed {
		feedMessages.WithLabelValues("malformed").Inc()
		return
	}
	feedMessages.WithLabelValues("accepted").Inc()
}

// ObserveFeedConnectAttempt records an attempt to open the live channel.
func ObserveFeedConnectAttempt() {
	feedConnectAttempts.Inc()
}

// ObserveFeedDisconnect records a transport failure.
func ObserveFeedDisconnect() {
	feedDisconnects.Inc()
}

// SetFeedConnected updates the connection gauge.
func SetFeedConnected(connected bool) {
	if connected {
		feedConnected.Set(1)
		return
	}
	feedConnected.Set(0)
}

// SetFeedBuffered updates the buffer length gauge.
func SetFeedBuffered(n int) {
	feedBuffered.Set(float64(n))
}

// ObserveSnapshot records a snapshot fetch.
func ObserveSnapshot(trigger string, success bool) {
	if trigger == "" {
		trigger = "unknown"
	}
	status := "success"
	if !success {
		status = "failed"
	}
	feedSnapshots.WithLabelValues(trigger, status).Inc()
}

// ObserveJournalWrite records a relay journal write.
func ObserveJournalWrite(success bool) {
	if success {
		journalWrites.WithLabelValues("success").Inc()
		return
	}
	journalWrites.WithLabelValues("failed").Inc()
}

var journalPruned = promauto.NewCounter(prometheus.CounterOpts{
	Name: "ops_console_journal_pruned_total",
	Help: "Journal rows removed by retention",
})

// ObserveJournalPruned adds n pruned rows.
func ObserveJournalPruned(n int64) {
	if n > 0 {
		journalPruned.Add(float64(n))
	}
}
