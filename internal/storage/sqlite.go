package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/SmitUplenchwar2687/tlog/internal/clock"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS entries (
	id     INTEGER PRIMARY KEY AUTOINCREMENT,
	ts     INTEGER NOT NULL,
	rec    TEXT,
	fields TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS entries_rec ON entries (rec, id);
CREATE INDEX IF NOT EXISTS entries_ts ON entries (ts);
`

// SQLiteStore keeps entries in a single SQLite table. Fields are stored as a
// JSON object; the recording id is lifted into its own indexed column.
type SQLiteStore struct {
	db    *sql.DB
	clock clock.Clock

	closeOnce sync.Once
	closeErr  error
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(path string, c clock.Clock) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if c == nil {
		c = clock.NewRealClock()
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLiteStore{db: db, clock: c}, nil
}

func (s *SQLiteStore) Append(ctx context.Context, fields map[string]string) (string, error) {
	if err := validateFields(fields); err != nil {
		return "", err
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("encode fields: %w", err)
	}
	var rec sql.NullString
	if v, ok := fields[FieldRec]; ok {
		rec = sql.NullString{String: v, Valid: true}
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO entries (ts, rec, fields) VALUES (?, ?, ?)`,
		s.clock.Now().UnixNano(), rec, string(data))
	if err != nil {
		return "", fmt.Errorf("insert entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return "", fmt.Errorf("insert entry: %w", err)
	}
	return strconv.FormatInt(id, 10), nil
}

func (s *SQLiteStore) Query(ctx context.Context, q Query) ([]Entry, error) {
	if err := validateQuery(q); err != nil {
		return nil, err
	}

	var (
		where []string
		args  []any
	)
	for _, k := range SortedKeys(q.Match) {
		if k == FieldRec {
			where = append(where, "rec = ?")
		} else {
			// Field names are validated against [A-Z0-9_]+ above.
			where = append(where, fmt.Sprintf("json_extract(fields, '$.%s') = ?", k))
		}
		args = append(args, q.Match[k])
	}
	if !q.Since.IsZero() {
		where = append(where, "ts >= ?")
		args = append(args, q.Since.UnixNano())
	}
	if !q.Until.IsZero() {
		where = append(where, "ts <= ?")
		args = append(args, q.Until.UnixNano())
	}
	if q.After != "" {
		after, err := strconv.ParseInt(q.After, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w %q", ErrUnknownCursor, q.After)
		}
		where = append(where, "id > ?")
		args = append(args, after)
	}

	stmt := "SELECT id, ts, fields FROM entries"
	if len(where) > 0 {
		stmt += " WHERE " + strings.Join(where, " AND ")
	}
	if q.Reverse {
		stmt += " ORDER BY id DESC"
	} else {
		stmt += " ORDER BY id ASC"
	}
	if q.Limit > 0 {
		stmt += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			id   int64
			ts   int64
			data string
		)
		if err := rows.Scan(&id, &ts, &data); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		fields := make(map[string]string)
		if err := json.Unmarshal([]byte(data), &fields); err != nil {
			return nil, fmt.Errorf("decode entry %d: %w", id, err)
		}
		out = append(out, Entry{
			Cursor: strconv.FormatInt(id, 10),
			Time:   time.Unix(0, ts),
			Fields: fields,
		})
	}
	return out, rows.Err()
}

// Close closes the database connection. It is idempotent.
func (s *SQLiteStore) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.db.Close()
	})
	return s.closeErr
}
