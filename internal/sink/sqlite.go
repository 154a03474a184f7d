package sink

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hazyhaar/alttext/dbopen"
	"github.com/hazyhaar/alttext/report"
)

// EventsSchema creates the annotation_events table.
const EventsSchema = `
CREATE TABLE IF NOT EXISTS annotation_events (
	id             TEXT PRIMARY KEY,
	page_id        TEXT NOT NULL,
	page_url       TEXT NOT NULL DEFAULT '',
	batch_seq      INTEGER NOT NULL,
	association_id INTEGER,
	src            TEXT NOT NULL DEFAULT '',
	alt            TEXT NOT NULL DEFAULT '',
	no_alt         INTEGER NOT NULL DEFAULT 0,
	outcome        TEXT NOT NULL,
	error          TEXT NOT NULL DEFAULT '',
	ts             INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_annotation_events_page ON annotation_events(page_id, ts);
`

// SQLite appends events to a local database.
type SQLite struct {
	db    *sql.DB
	owned bool
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(EventsSchema))
	if err != nil {
		return nil, fmt.Errorf("sink: sqlite: %w", err)
	}
	return &SQLite{db: db, owned: true}, nil
}

// NewSQLite writes to an already open database; the schema is applied and
// the caller keeps ownership of db.
func NewSQLite(db *sql.DB) (*SQLite, error) {
	if _, err := db.Exec(EventsSchema); err != nil {
		return nil, fmt.Errorf("sink: sqlite schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Send(ctx context.Context, ev report.Event) error {
	var assoc any
	if ev.AssociationID != 0 {
		assoc = ev.AssociationID
	}
	_, err := dbopen.Exec(ctx, s.db, `
		INSERT INTO annotation_events
			(id, page_id, page_url, batch_seq, association_id, src, alt, no_alt, outcome, error, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.PageID, ev.PageURL, int64(ev.BatchSeq), assoc, ev.Src, ev.Alt, ev.NoAlt,
		string(ev.Outcome), ev.Error, ev.Timestamp)
	if err != nil {
		return fmt.Errorf("sink: insert event %s: %w", ev.ID, err)
	}
	return nil
}

// CountByOutcome returns the number of stored events per outcome for pageID.
func (s *SQLite) CountByOutcome(ctx context.Context, pageID string) (map[report.Outcome]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT outcome, count(*) FROM annotation_events WHERE page_id = ? GROUP BY outcome`, pageID)
	if err != nil {
		return nil, fmt.Errorf("sink: count events: %w", err)
	}
	defer rows.Close()
	out := make(map[report.Outcome]int)
	for rows.Next() {
		var o string
		var n int
		if err := rows.Scan(&o, &n); err != nil {
			return nil, err
		}
		out[report.Outcome(o)] = n
	}
	return out, rows.Err()
}

func (s *SQLite) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}
