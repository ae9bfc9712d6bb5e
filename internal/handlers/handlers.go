// Package handlers provides HTTP request handlers for the ops console relay API.
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/oremus-labs/ol-ops-console/internal/events"
	"github.com/oremus-labs/ol-ops-console/internal/logutil"
	"github.com/oremus-labs/ol-ops-console/internal/openapi"
	"github.com/oremus-labs/ol-ops-console/internal/store"
)

const (
	defaultEventLimit = 200
	maxEventLimit     = 1000
)

// Options configures handler runtime behavior.
type Options struct {
	Version string
	// KeepAlive is the interval between SSE comment frames on idle streams.
	KeepAlive time.Duration
	// HistoryLimit caps /history responses.
	HistoryLimit int
}

type eventJournal interface {
	ListEvents(ctx context.Context, since time.Time, limit int) ([]events.Event, error)
	ListHistory(ctx context.Context, limit int) ([]store.HistoryEntry, error)
	Ping(ctx context.Context) error
}

type eventSource interface {
	Subscribe(ctx context.Context) (<-chan events.Event, func())
	Subscribers() int
}

// Handler encapsulates dependencies for HTTP handlers.
type Handler struct {
	journal eventJournal
	bus     eventSource
	opts    Options
	started time.Time
}

// New creates a new Handler instance. Either dependency may be nil; the
// matching endpoints then answer 503.
func New(journal eventJournal, bus eventSource, opts Options) *Handler {
	if opts.KeepAlive <= 0 {
		opts.KeepAlive = 15 * time.Second
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 100
	}
	return &Handler{
		journal: journal,
		bus:     bus,
		opts:    opts,
		started: time.Now(),
	}
}

// Health reports relay health.
func (h *Handler) Health(c *gin.Context) {
	checks := map[string]string{}
	status := "ok"
	if h.journal == nil {
		checks["journal"] = "disabled"
	} else if err := h.journal.Ping(c.Request.Context()); err != nil {
		checks["journal"] = err.Error()
		status = "degraded"
	} else {
		checks["journal"] = "ok"
	}
	if h.bus != nil {
		checks["subscribers"] = strconv.Itoa(h.bus.Subscribers())
	}
	checks["uptime"] = time.Since(h.started).Truncate(time.Second).String()
	c.JSON(http.StatusOK, gin.H{
		"status":  status,
		"version": h.opts.Version,
		"checks":  checks,
	})
}

// ListEvents answers the events snapshot, or upgrades to a live stream when
// the client asks for text/event-stream.
func (h *Handler) ListEvents(c *gin.Context) {
	if wantsEventStream(c.GetHeader("Accept")) {
		h.StreamEvents(c)
		return
	}
	if h.journal == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event journal not configured"})
		return
	}

	var since time.Time
	if raw := c.Query("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid since: %v", err)})
			return
		}
		since = parsed
	}
	limit := defaultEventLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	if limit > maxEventLimit {
		limit = maxEventLimit
	}

	evts, err := h.journal.ListEvents(c.Request.Context(), since, limit)
	if err != nil {
		logutil.Error("events_list_failed", err, nil)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load events"})
		return
	}
	if evts == nil {
		evts = []events.Event{}
	}
	c.JSON(http.StatusOK, evts)
}

// StreamEvents relays bus events as Server-Sent Events until the client goes away.
func (h *Handler) StreamEvents(c *gin.Context) {
	if h.bus == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event stream not configured"})
		return
	}
	ctx := c.Request.Context()
	ch, cancel := h.bus.Subscribe(ctx)
	defer cancel()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()

	keepAlive := time.NewTicker(h.opts.KeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if err := writeEvent(c.Writer, evt); err != nil {
				logutil.Warn("events_stream_write_failed", err, nil)
				return
			}
			c.Writer.Flush()
		case <-keepAlive.C:
			if _, err := io.WriteString(c.Writer, ": keepalive\n\n"); err != nil {
				return
			}
			c.Writer.Flush()
		}
	}
}

// OpenAPISpec serves the relay API description.
func (h *Handler) OpenAPISpec(c *gin.Context) {
	doc, err := openapi.JSON()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "application/json", doc)
}

// ListHistory returns relay feed transitions.
func (h *Handler) ListHistory(c *gin.Context) {
	if h.journal == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event journal not configured"})
		return
	}
	entries, err := h.journal.ListHistory(c.Request.Context(), h.opts.HistoryLimit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": entries})
}

func writeEvent(w io.Writer, evt events.Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", singleLine(evt.ID), singleLine(evt.Type), payload)
	return err
}

func singleLine(s string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
}

func wantsEventStream(accept string) bool {
	for _, part := range strings.Split(accept, ",") {
		mediaType := strings.TrimSpace(strings.SplitN(part, ";", 2)[0])
		if strings.EqualFold(mediaType, "text/event-stream") {
			return true
		}
	}
	return false
}
