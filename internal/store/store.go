package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/oremus-labs/ol-ops-console/internal/events"
	_ "modernc.org/sqlite"
)

// Supported journal drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// HistoryEntry records a relay-side feed transition (connected, disconnected,
// refresh failures).
type HistoryEntry struct {
	ID        string                 `json:"id"`
	Event     string                 `json:"event"`
	Message   string                 `json:"message,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"createdAt"`
}

// Store is the event journal shared by the relay worker and API servers.
type Store struct {
	db     *sql.DB
	driver string
}

// Open initializes the journal using the supplied DSN/file path and driver.
func Open(dsn string, driver string) (*Store, error) {
	if driver == "" {
		driver = DriverSQLite
	}
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("journal DSN is required")
	}

	var (
		db  *sql.DB
		err error
	)
	switch driver {
	case DriverSQLite:
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create journal directory: %w", err)
		}
		conn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", dsn)
		db, err = sql.Open("sqlite", conn)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite journal: %w", err)
		}
	case DriverPostgres:
		db, err = sql.Open("pgx", dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres journal: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported journal driver: %s", driver)
	}

	s := &Store{db: db, driver: driver}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	seqColumn := "seq INTEGER PRIMARY KEY AUTOINCREMENT"
	historyID := "id INTEGER PRIMARY KEY AUTOINCREMENT"
	tsType := "TIMESTAMP"
	if s.driver == DriverPostgres {
		seqColumn = "seq BIGSERIAL PRIMARY KEY"
		historyID = "id BIGSERIAL PRIMARY KEY"
		tsType = "TIMESTAMPTZ"
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS events (
			` + seqColumn + `,
			id TEXT NOT NULL UNIQUE,
			type TEXT NOT NULL,
			event_ts TEXT NOT NULL,
			ts_unix BIGINT NOT NULL,
			data TEXT,
			received_at BIGINT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts_unix);`,
		`CREATE INDEX IF NOT EXISTS idx_events_type ON events(type);`,
		`CREATE TABLE IF NOT EXISTS history (
			` + historyID + `,
			event TEXT NOT NULL,
			message TEXT,
			metadata TEXT,
			created_at ` + tsType + ` NOT NULL
		);`,
	}
	if s.driver == DriverSQLite {
		stmts = append([]string{`PRAGMA journal_mode=WAL;`}, stmts...)
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("schema apply failed: %w", err)
		}
	}
	return nil
}

// rebind rewrites ? placeholders for drivers that use numbered parameters.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Close shuts down the journal.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// UpsertEvent journals evt unless an event with the same id already exists.
// It reports whether a row was written.
func (s *Store) UpsertEvent(ctx context.Context, evt events.Event) (bool, error) {
	if evt.ID == "" {
		return false, errors.New("event id required")
	}
	received := time.Now().UTC()
	ts, ok := evt.Time()
	if !ok {
		ts = received
	}
	data, err := json.Marshal(evt.Data)
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO events (id, type, event_ts, ts_unix, data, received_at)
		VALUES (?, ?, ?, ?, ?, ?) ON CONFLICT (id) DO NOTHING`),
		evt.ID, evt.Type, evt.Timestamp, ts.UnixNano(), string(data), received.UnixNano(),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return true, nil
	}
	return n > 0, nil
}

// ListEvents returns up to limit most recent events at or after since,
// oldest first. A zero since means no lower bound.
func (s *Store) ListEvents(ctx context.Context, since time.Time, limit int) ([]events.Event, error) {
	query := `SELECT id, type, event_ts, data FROM events`
	var args []interface{}
	if !since.IsZero() {
		query += ` WHERE ts_unix >= ?`
		args = append(args, since.UnixNano())
	}
	query += ` ORDER BY seq DESC`
	if limit > 0 {
		query = fmt.Sprintf("%s LIMIT %d", query, limit)
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []events.Event
	for rows.Next() {
		var (
			evt  events.Event
			data sql.NullString
		)
		if err := rows.Scan(&evt.ID, &evt.Type, &evt.Timestamp, &data); err != nil {
			return nil, err
		}
		if data.Valid {
			_ = json.Unmarshal([]byte(data.String), &evt.Data)
		}
		if evt.Data == nil {
			evt.Data = map[string]interface{}{}
		}
		out = append(out, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Prune deletes all but the keep most recently journaled events.
func (s *Store) Prune(ctx context.Context, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM events WHERE seq NOT IN (
		SELECT seq FROM events ORDER BY seq DESC LIMIT ?)`), keep)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// AppendHistory writes an entry to the history log.
func (s *Store) AppendHistory(ctx context.Context, entry *HistoryEntry) error {
	entry.CreatedAt = time.Now().UTC()
	metadata, err := json.Marshal(entry.Metadata)
	if err != nil {
		return err
	}
	query := `INSERT INTO history (event, message, metadata, created_at) VALUES (?, ?, ?, ?)`
	if s.driver == DriverPostgres {
		var id int64
		if err := s.db.QueryRowContext(ctx, s.rebind(query+` RETURNING id`),
			entry.Event, entry.Message, string(metadata), entry.CreatedAt,
		).Scan(&id); err != nil {
			return err
		}
		entry.ID = strconv.FormatInt(id, 10)
		return nil
	}
	res, err := s.db.ExecContext(ctx, query, entry.Event, entry.Message, string(metadata), entry.CreatedAt)
	if err != nil {
		return err
	}
	if id, err := res.LastInsertId(); err == nil {
		entry.ID = strconv.FormatInt(id, 10)
	}
	return nil
}

// ListHistory returns the newest history entries.
func (s *Store) ListHistory(ctx context.Context, limit int) ([]HistoryEntry, error) {
	query := `SELECT id, event, message, metadata, created_at FROM history ORDER BY id DESC`
	if limit > 0 {
		query = fmt.Sprintf("%s LIMIT %d", query, limit)
	}
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []HistoryEntry
	for rows.Next() {
		var (
			e        HistoryEntry
			message  sql.NullString
			metadata sql.NullString
			id       int64
		)
		if err := rows.Scan(&id, &e.Event, &message, &metadata, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.ID = strconv.FormatInt(id, 10)
		e.Message = message.String
		if metadata.Valid {
			_ = json.Unmarshal([]byte(metadata.String), &e.Metadata)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
