package common

import "time"

// SameCalendarDay reports whether a and b fall on the same calendar day in
// the device-local timezone. Device-local midnight is the day-boundary
// policy; it is stable across DST transitions because only the
// year/month/day triple is compared.
func SameCalendarDay(a, b time.Time) bool {
	ay, am, ad := a.Local().Date()
	by, bm, bd := b.Local().Date()
	return ay == by && am == bm && ad == bd
}

// DaysBetween returns the number of device-local calendar days from a to b.
// Adjacent days return 1 regardless of the wall-clock distance between the
// instants.
func DaysBetween(a, b time.Time) int {
	ay, am, ad := a.Local().Date()
	by, bm, bd := b.Local().Date()
	da := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	db := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(db.Sub(da).Hours() / 24)
}
