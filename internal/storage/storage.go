// Package storage is the structured-log backend recordings are written to
// when they do not go to a plain file.
//
// A store holds flat string-keyed entries from many producers. Entries of one
// recording are not contiguous; they are correlated by the TLOG_* fields and
// ordered by TLOG_ID, never by arrival.
package storage

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"time"
)

// Fields every recording entry carries.
const (
	FieldUser     = "TLOG_USER"
	FieldSession  = "TLOG_SESSION"
	FieldRec      = "TLOG_REC"
	FieldID       = "TLOG_ID"
	FieldHost     = "TLOG_HOST"
	FieldPriority = "PRIORITY"
	FieldMessage  = "MESSAGE"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store is closed")

// Entry is one stored record.
type Entry struct {
	// Cursor is the backend position of the entry (stream id, row id,
	// journal cursor). Opaque to callers.
	Cursor string
	// Time is when the backend accepted the entry.
	Time   time.Time
	Fields map[string]string
}

// Query selects entries.
type Query struct {
	// Match holds exact field matches, all of which must hold.
	Match map[string]string
	// Since and Until bound Entry.Time (inclusive). Zero means unbounded.
	Since time.Time
	Until time.Time
	// Limit caps the number of entries returned. Zero means no cap.
	Limit int
	// Reverse returns newest entries first, so Limit selects the tail.
	Reverse bool
	// After, if set, skips every entry up to and including the one at this
	// cursor in storage order. Followers pass the cursor of the last entry
	// they saw so each poll reads only what was stored since.
	After string
}

// Store abstracts a structured-log backend.
// Implementations must be safe for concurrent use.
type Store interface {
	// Append stores one entry and returns its cursor.
	Append(ctx context.Context, fields map[string]string) (string, error)

	// Query returns matching entries in storage order, or reversed.
	Query(ctx context.Context, q Query) ([]Entry, error)

	// Close releases backend resources.
	Close() error
}

// ErrUnknownCursor is returned when Query.After names no stored entry.
var ErrUnknownCursor = errors.New("unknown cursor")

var fieldNameRE = regexp.MustCompile(`^[A-Z0-9_]+$`)

// ValidFieldName reports whether name is an acceptable field name: upper
// case letters, digits and underscores, the journal's field grammar.
func ValidFieldName(name string) bool {
	return fieldNameRE.MatchString(name)
}

func validateQuery(q Query) error {
	for k := range q.Match {
		if !ValidFieldName(k) {
			return fmt.Errorf("invalid match field %q", k)
		}
	}
	if q.Limit < 0 {
		return fmt.Errorf("limit must not be negative, got %d", q.Limit)
	}
	if !q.Since.IsZero() && !q.Until.IsZero() && q.Until.Before(q.Since) {
		return fmt.Errorf("until %s is before since %s", q.Until, q.Since)
	}
	return nil
}

func validateFields(fields map[string]string) error {
	if len(fields) == 0 {
		return fmt.Errorf("entry has no fields")
	}
	for k := range fields {
		if !ValidFieldName(k) {
			return fmt.Errorf("invalid field name %q", k)
		}
	}
	return nil
}

// matches reports whether e satisfies the match and time bounds of q.
func (q Query) matches(e Entry) bool {
	for k, v := range q.Match {
		if e.Fields[k] != v {
			return false
		}
	}
	if !q.Since.IsZero() && e.Time.Before(q.Since) {
		return false
	}
	if !q.Until.IsZero() && e.Time.After(q.Until) {
		return false
	}
	return true
}

func copyFields(fields map[string]string) map[string]string {
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}

// SortedKeys returns the field names of an entry in a stable order.
func SortedKeys(fields map[string]string) []string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
