package utils

import (
	"os"
	"strconv"
	"time"
)

func GetEnvInt(varName string, defaultVal int) int {
	v := os.Getenv(varName)
	if v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return defaultVal
}

func FromEnv(varName, defaultVal string) string {
	if v := os.Getenv(varName); v != "" {
		return v
	}
	return defaultVal
}

func IsWeekend(t time.Time) bool {
	return t.Weekday() == time.Saturday || t.Weekday() == time.Sunday
}

// PreviousWorkingDay steps back one day, then keeps stepping until the result
// is a weekday. Hall holidays are not modeled; weekends are the only gap.
func PreviousWorkingDay(t time.Time) time.Time {
	d := t.AddDate(0, 0, -1)
	for IsWeekend(d) {
		d = d.AddDate(0, 0, -1)
	}
	return d
}

// StartOfDay truncates to midnight in t's location.
func StartOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// DaysSince returns whole days from the start of epoch's day to the start of
// t's day.
func DaysSince(epoch, t time.Time) int {
	return int(StartOfDay(t).Sub(StartOfDay(epoch)).Hours() / 24)
}
