// Package logutil writes structured JSON log lines through the standard logger.
package logutil

import (
	"encoding/json"
	"log"
	"strings"
	"sync/atomic"
	"time"
)

// Fields carries structured key/value context for a log line.
type Fields map[string]interface{}

const (
	levelDebug int32 = iota
	levelInfo
	levelWarn
	levelError
)

var minLevel atomic.Int32

func init() {
	minLevel.Store(levelInfo)
}

// SetLevel sets the minimum level written (debug, info, warn, error).
// Unknown values leave the level unchanged and return false.
func SetLevel(level string) bool {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		minLevel.Store(levelDebug)
	case "info", "":
		minLevel.Store(levelInfo)
	case "warn", "warning":
		minLevel.Store(levelWarn)
	case "error":
		minLevel.Store(levelError)
	default:
		return false
	}
	return true
}

// Debug logs a structured debug message.
func Debug(msg string, fields Fields) {
	logJSON(levelDebug, "debug", msg, fields)
}

// Info logs a structured info message.
func Info(msg string, fields Fields) {
	logJSON(levelInfo, "info", msg, fields)
}

// Warn logs a structured warning including the error string when present.
func Warn(msg string, err error, fields Fields) {
	logJSON(levelWarn, "warn", msg, withError(fields, err))
}

// Error logs a structured error message including the error string.
func Error(msg string, err error, fields Fields) {
	logJSON(levelError, "error", msg, withError(fields, err))
}

func withError(fields Fields, err error) Fields {
	if err == nil {
		return fields
	}
	out := make(Fields, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	out["error"] = err.Error()
	return out
}

func logJSON(level int32, name, msg string, fields Fields) {
	if level < minLevel.Load() {
		return
	}
	entry := map[string]interface{}{
		"level":     name,
		"message":   msg,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	}
	for k, v := range fields {
		entry[k] = v
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		log.Printf("%s: %+v", msg, fields)
		return
	}
	log.Printf("%s", payload)
}
