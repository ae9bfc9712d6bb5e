// Package events defines the platform event envelope and the bus used to fan
// it out between relay processes and connected consoles.
package events

import "time"

// Event is a timestamped, typed notification emitted by the platform backend.
// Timestamp is kept as the ISO-8601 string received on the wire.
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Timestamp string                 `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Common event type prefixes emitted by the platform.
const (
	TypeUnknown = "unknown"

	PrefixJob    = "job."
	PrefixRun    = "run."
	PrefixSystem = "system."
)

// FormatTime renders t the way event timestamps are written.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// Time parses the event timestamp. The boolean is false when the timestamp is
// empty or not ISO-8601.
func (e Event) Time() (time.Time, bool) {
	if e.Timestamp == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02T15:04:05.999999999"} {
		if t, err := time.Parse(layout, e.Timestamp); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Category returns the lifecycle family of the event type ("job", "run",
// "system") or the whole type when it has no dotted prefix.
func (e Event) Category() string {
	for i := 0; i < len(e.Type); i++ {
		if e.Type[i] == '.' {
			return e.Type[:i]
		}
	}
	return e.Type
}
