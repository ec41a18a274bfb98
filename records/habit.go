package records

import (
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/akorchen/gridsync/common"
)

// HabitSheet is the table serving the habit collection.
const HabitSheet = "habits"

// HabitHeader fixes the column positions of a habit row. The order must
// never change; append new columns at the end.
var HabitHeader = []string{
	"id",
	"name",
	"goal",
	"current_streak",
	"best_streak",
	"completed_dates",
	"last_completed_at",
	"archived",
	"created_at",
}

// dayKey is the per-day completion marker stored in completed_dates,
// rendered in the device-local timezone.
const dayKey = "2006-01-02"

// Habit is a recurring activity with a streak counter. Completion is
// tracked per device-local calendar day.
type Habit struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Goal            int       `json:"goal"`
	CurrentStreak   int       `json:"currentStreak"`
	BestStreak      int       `json:"bestStreak"`
	CompletedDates  []string  `json:"completedDates"`
	LastCompletedAt time.Time `json:"lastCompletedAt"`
	Archived        bool      `json:"archived"`
	CreatedAt       time.Time `json:"createdAt"`
}

func NewHabit(name string, goal int, now time.Time) Habit {
	return Habit{
		ID:        uuid.NewString(),
		Name:      name,
		Goal:      goal,
		CreatedAt: now,
	}
}

func (h Habit) RecordID() string { return h.ID }
func (h Habit) SortKey() string  { return h.Name }

// CompletedOn reports whether the habit was completed on day's device-local
// calendar day.
func (h Habit) CompletedOn(day time.Time) bool {
	key := day.Local().Format(dayKey)
	for _, d := range h.CompletedDates {
		if d == key {
			return true
		}
	}
	return false
}

// CompletedToday is CompletedOn for the current moment.
func (h Habit) CompletedToday(now time.Time) bool {
	return h.CompletedOn(now)
}

// Complete marks the habit done for now's calendar day and recomputes the
// streak. Completing an already-completed day is a no-op: two completions
// within the same calendar day increment the streak exactly once. The
// previous day's completion extends the streak; a longer gap restarts it.
func (h Habit) Complete(now time.Time) Habit {
	if h.CompletedOn(now) {
		return h
	}

	switch {
	case h.LastCompletedAt.IsZero():
		h.CurrentStreak = 1
	case common.SameCalendarDay(h.LastCompletedAt, now):
		// completed_dates disagreed with last_completed_at; trust the
		// timestamp and do not double-count the day
	case common.DaysBetween(h.LastCompletedAt, now) == 1:
		h.CurrentStreak++
	default:
		h.CurrentStreak = 1
	}

	if h.CurrentStreak > h.BestStreak {
		h.BestStreak = h.CurrentStreak
	}
	h.CompletedDates = append(append([]string(nil), h.CompletedDates...),
		now.Local().Format(dayKey))
	h.LastCompletedAt = now
	return h
}

// Uncomplete withdraws today's completion, if any, and rolls the streak
// back by one. LastCompletedAt falls back to the latest surviving
// completion so a later re-complete extends the streak instead of
// restarting it.
func (h Habit) Uncomplete(now time.Time) Habit {
	if !h.CompletedOn(now) {
		return h
	}

	key := now.Local().Format(dayKey)
	dates := make([]string, 0, len(h.CompletedDates))
	for _, d := range h.CompletedDates {
		if d != key {
			dates = append(dates, d)
		}
	}
	h.CompletedDates = dates

	if common.SameCalendarDay(h.LastCompletedAt, now) {
		if h.CurrentStreak > 0 {
			h.CurrentStreak--
		}
		h.LastCompletedAt = latestCompletion(dates)
	}
	return h
}

// latestCompletion returns the most recent day key as a device-local
// midnight instant, or the zero time when no completions remain.
func latestCompletion(dates []string) time.Time {
	var latest time.Time
	for _, d := range dates {
		t, err := time.ParseInLocation(dayKey, d, time.Local)
		if err != nil {
			continue
		}
		if t.After(latest) {
			latest = t
		}
	}
	return latest
}

// Toggle flips today's completion state.
func (h Habit) Toggle(now time.Time) Habit {
	if h.CompletedOn(now) {
		return h.Uncomplete(now)
	}
	return h.Complete(now)
}

// EncodeHabitRow produces the habit's fixed-width row.
func EncodeHabitRow(h Habit) []string {
	return []string{
		h.ID,
		h.Name,
		strconv.Itoa(h.Goal),
		strconv.Itoa(h.CurrentStreak),
		strconv.Itoa(h.BestStreak),
		formatStringList(h.CompletedDates),
		formatTime(h.LastCompletedAt),
		formatBool(h.Archived),
		formatTime(h.CreatedAt),
	}
}

// DecodeHabitRow is total: malformed cells fall back to defaults.
func DecodeHabitRow(row []string) Habit {
	return Habit{
		ID:              cell(row, 0),
		Name:            cell(row, 1),
		Goal:            parseInt(cell(row, 2)),
		CurrentStreak:   parseInt(cell(row, 3)),
		BestStreak:      parseInt(cell(row, 4)),
		CompletedDates:  parseStringList(cell(row, 5)),
		LastCompletedAt: parseTime(cell(row, 6)),
		Archived:        parseBool(cell(row, 7)),
		CreatedAt:       parseTime(cell(row, 8)),
	}
}
