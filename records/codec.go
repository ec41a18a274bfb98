// Package records defines the domain records the sync core persists (Habit,
// Task, Transaction) and their row codecs. Encoding is total and fixed
// width; decoding never fails — malformed or missing cells fall back to
// type-appropriate defaults.
package records

import (
	"encoding/json"
	"strconv"
	"time"
)

// Record is what the caches and sync engine need from a domain record: a
// stable identifier and a secondary sort key for deterministic listings.
type Record interface {
	RecordID() string
	SortKey() string
}

// boolTrue is the canonical spreadsheet representation of true. Anything
// else decodes to false.
const boolTrue = "TRUE"

const timeLayout = time.RFC3339

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return row[i]
}

func parseInt(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

func parseInt64(s string) int64 {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func parseBool(s string) bool {
	return s == boolTrue
}

func formatBool(b bool) string {
	if b {
		return boolTrue
	}
	return "FALSE"
}

// parseTime returns the zero time for empty or malformed cells.
func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// formatTime encodes the zero time as the empty cell.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(timeLayout)
}

// parseStringList decodes a JSON-encoded list cell; empty and malformed
// cells decode to an empty collection.
func parseStringList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil
	}
	return out
}

// formatStringList encodes an empty list as the empty cell.
func formatStringList(v []string) string {
	if len(v) == 0 {
		return ""
	}
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}
