package spool

import (
	"time"
)

// Date and timestamp layouts used by the external store.
const (
	DateLayout      = "02-01-2006"
	TimestampLayout = "02-01-2006 15:04:05"
)

// Santiago is the shop-floor timezone. All persisted dates and
// timestamps are local to it.
var Santiago = mustLoadSantiago()

func mustLoadSantiago() *time.Location {
	loc, err := time.LoadLocation("America/Santiago")
	if err != nil {
		// Container images without tzdata fall back to a fixed
		// offset; CLT is UTC-4 outside DST.
		return time.FixedZone("CLT", -4*60*60)
	}
	return loc
}

// FormatDate renders DD-MM-YYYY in shop-floor local time.
func FormatDate(t time.Time) string {
	return t.In(Santiago).Format(DateLayout)
}

// FormatTimestamp renders DD-MM-YYYY HH:MM:SS in shop-floor local time.
func FormatTimestamp(t time.Time) string {
	return t.In(Santiago).Format(TimestampLayout)
}

// ParseTimestamp parses a persisted timestamp back into shop-floor
// local time.
func ParseTimestamp(s string) (time.Time, error) {
	return time.ParseInLocation(TimestampLayout, s, Santiago)
}
