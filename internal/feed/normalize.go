package feed

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/oremus-labs/ol-ops-console/internal/events"
)

// ErrNotObject is returned by Decode for JSON that is not an object.
var ErrNotObject = errors.New("event payload is not a JSON object")

var syntheticSeq atomic.Uint64

// Decode parses a single pushed message. Any JSON object yields an event;
// missing fields are defaulted by Normalize.
func Decode(raw []byte, receivedAt time.Time) (events.Event, error) {
	var fields map[string]interface{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return events.Event{}, fmt.Errorf("decode event: %w", err)
	}
	if fields == nil {
		return events.Event{}, ErrNotObject
	}
	return Normalize(fields, receivedAt), nil
}

// Normalize builds an Event from a pushed payload, substituting defaults for
// exactly the fields that are missing: an id, type "unknown" and the receive
// time as timestamp. A missing id is derived from the event content when the
// event carries its own timestamp, otherwise from the receive time.
func Normalize(fields map[string]interface{}, receivedAt time.Time) events.Event {
	return normalize(fields, receivedAt, false)
}

// NormalizeSnapshot is Normalize for an entry of a listed snapshot. A missing
// id is always derived from the content so the same backend event keeps its id
// across fetches.
func NormalizeSnapshot(fields map[string]interface{}, receivedAt time.Time) events.Event {
	return normalize(fields, receivedAt, true)
}

func normalize(fields map[string]interface{}, receivedAt time.Time, snapshot bool) events.Event {
	evt := events.Event{
		ID:        stringField(fields, "id"),
		Type:      stringField(fields, "type"),
		Timestamp: stringField(fields, "timestamp"),
	}
	switch data := fields["data"].(type) {
	case map[string]interface{}:
		evt.Data = data
	case nil:
		evt.Data = map[string]interface{}{}
	default:
		evt.Data = map[string]interface{}{"value": data}
	}
	return fillDefaults(evt, receivedAt, snapshot)
}

// NormalizeAll applies the snapshot defaults to already decoded events.
func NormalizeAll(evts []events.Event, receivedAt time.Time) []events.Event {
	out := make([]events.Event, len(evts))
	for i, evt := range evts {
		if evt.Data == nil {
			evt.Data = map[string]interface{}{}
		}
		out[i] = fillDefaults(evt, receivedAt, true)
	}
	return out
}

func fillDefaults(evt events.Event, receivedAt time.Time, stable bool) events.Event {
	if evt.ID == "" {
		if stable || evt.Timestamp != "" {
			evt.ID = ContentID(evt.Type, evt.Timestamp, evt.Data)
		} else {
			evt.ID = fmt.Sprintf("local-%d-%d", receivedAt.UnixNano(), syntheticSeq.Add(1))
		}
	}
	if evt.Type == "" {
		evt.Type = events.TypeUnknown
	}
	if evt.Timestamp == "" {
		evt.Timestamp = events.FormatTime(receivedAt)
	}
	return evt
}

// ContentID derives a synthetic id from the fields as received. Map keys are
// encoded in sorted order, so equal payloads always hash the same.
func ContentID(eventType, timestamp string, data map[string]interface{}) string {
	h := sha256.New()
	h.Write([]byte(eventType))
	h.Write([]byte{0})
	h.Write([]byte(timestamp))
	h.Write([]byte{0})
	if raw, err := json.Marshal(data); err == nil {
		h.Write(raw)
	} else {
		fmt.Fprintf(h, "%v", data)
	}
	return "local-" + hex.EncodeToString(h.Sum(nil))[:24]
}

func stringField(fields map[string]interface{}, key string) string {
	switch v := fields[key].(type) {
	case string:
		return v
	case float64:
		// Numeric ids show up from some emitters; keep them rather than synthesize.
		if key == "id" {
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}
