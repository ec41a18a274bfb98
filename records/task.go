package records

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// TaskSheet is the table serving the task collection.
const TaskSheet = "tasks"

var TaskHeader = []string{
	"id",
	"title",
	"notes",
	"due",
	"done",
	"priority",
	"tags",
	"created_at",
	"completed_at",
}

// Task is a one-off to-do item.
type Task struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Notes       string    `json:"notes"`
	Due         time.Time `json:"due"`
	Done        bool      `json:"done"`
	Priority    int       `json:"priority"`
	Tags        []string  `json:"tags"`
	CreatedAt   time.Time `json:"createdAt"`
	CompletedAt time.Time `json:"completedAt"`
}

func NewTask(title string, now time.Time) Task {
	return Task{
		ID:        uuid.NewString(),
		Title:     title,
		CreatedAt: now,
	}
}

func (t Task) RecordID() string { return t.ID }
func (t Task) SortKey() string  { return t.Title }

// SetDone marks the task done or not done, stamping or clearing the
// completion time.
func (t Task) SetDone(done bool, now time.Time) Task {
	t.Done = done
	if done {
		t.CompletedAt = now
	} else {
		t.CompletedAt = time.Time{}
	}
	return t
}

func EncodeTaskRow(t Task) []string {
	return []string{
		t.ID,
		t.Title,
		t.Notes,
		formatTime(t.Due),
		formatBool(t.Done),
		strconv.Itoa(t.Priority),
		formatStringList(t.Tags),
		formatTime(t.CreatedAt),
		formatTime(t.CompletedAt),
	}
}

func DecodeTaskRow(row []string) Task {
	return Task{
		ID:          cell(row, 0),
		Title:       cell(row, 1),
		Notes:       cell(row, 2),
		Due:         parseTime(cell(row, 3)),
		Done:        parseBool(cell(row, 4)),
		Priority:    parseInt(cell(row, 5)),
		Tags:        parseStringList(cell(row, 6)),
		CreatedAt:   parseTime(cell(row, 7)),
		CompletedAt: parseTime(cell(row, 8)),
	}
}
