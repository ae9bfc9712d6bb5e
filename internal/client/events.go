package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/oremus-labs/ol-ops-console/internal/events"
	"github.com/oremus-labs/ol-ops-console/internal/feed"
)

// ListEvents fetches the most recent events, oldest first. A zero since asks
// for the latest limit events.
func (c *Client) ListEvents(ctx context.Context, since time.Time, limit int) ([]events.Event, error) {
	query := url.Values{}
	if !since.IsZero() {
		query.Set("since", events.FormatTime(since))
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	path := "/events"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}

	var raw json.RawMessage
	if err := c.GetJSON(ctx, path, &raw); err != nil {
		return nil, err
	}
	items, err := decodeEventList(raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	now := time.Now()
	out := make([]events.Event, 0, len(items))
	for _, item := range items {
		var fields map[string]interface{}
		if err := json.Unmarshal(item, &fields); err != nil || fields == nil {
			continue
		}
		out = append(out, feed.NormalizeSnapshot(fields, now))
	}
	return out, nil
}

// decodeEventList accepts a bare array or an {"events": [...]} envelope.
func decodeEventList(raw json.RawMessage) ([]json.RawMessage, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}
	var items []json.RawMessage
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, err
		}
		return items, nil
	}
	var envelope struct {
		Events []json.RawMessage `json:"events"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, err
	}
	return envelope.Events, nil
}

// Connect opens the live event channel. It returns once the server accepted
// the stream; a non-2xx answer is an *APIError.
func (c *Client) Connect(ctx context.Context) (feed.Stream, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/events", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.httpClient(true).Do(req)
	if err != nil {
		return nil, err
	}
	if err := checkStatus(req, resp); err != nil {
		resp.Body.Close()
		return nil, err
	}
	if mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type")); mediaType != "text/event-stream" {
		resp.Body.Close()
		return nil, fmt.Errorf("GET /events: unexpected content type %q", resp.Header.Get("Content-Type"))
	}
	return NewStream(resp.Body), nil
}

// Frame is one dispatched Server-Sent-Events message.
type Frame struct {
	Event string
	ID    string
	Data  []byte
}

// Stream decodes a text/event-stream body.
type Stream struct {
	body   io.ReadCloser
	reader *bufio.Reader
	lastID string
}

// NewStream wraps an event-stream body.
func NewStream(body io.ReadCloser) *Stream {
	return &Stream{body: body, reader: bufio.NewReader(body)}
}

// Next returns the data of the next message.
func (s *Stream) Next() ([]byte, error) {
	frame, err := s.NextFrame()
	if err != nil {
		return nil, err
	}
	return frame.Data, nil
}

// LastEventID is the most recent id field seen on the stream.
func (s *Stream) LastEventID() string {
	return s.lastID
}

// NextFrame reads until a message with data has been dispatched. Comments and
// frames without data lines are skipped. io.EOF means the server ended the
// stream.
func (s *Stream) NextFrame() (Frame, error) {
	var (
		frame   Frame
		data    []string
		hasData bool
	)
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) && line == "" {
				return Frame{}, io.EOF
			}
			if !errors.Is(err, io.EOF) {
				return Frame{}, err
			}
		}
		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			if hasData {
				frame.Data = []byte(strings.Join(data, "\n"))
				frame.ID = s.lastID
				return frame, nil
			}
			frame = Frame{}
			if err != nil {
				return Frame{}, io.EOF
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			frame.Event = value
		case "id":
			s.lastID = value
		case "data":
			data = append(data, value)
			hasData = true
		}
		if err != nil {
			// Unterminated final frame.
			return Frame{}, io.EOF
		}
	}
}

// Close releases the underlying connection.
func (s *Stream) Close() error {
	return s.body.Close()
}

var _ feed.Source = (*Client)(nil)
