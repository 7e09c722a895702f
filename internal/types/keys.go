package types

import "time"

// Key names in the shared aggregate store
const (
	KeyWeatherAggLatest = "weather:agg:latest"
	KeyEt0WeeklyLatest  = "et0:weekly:latest"
	KeyEt0DailyLast7    = "et0:daily:last7"

	keySoilBucketPrefix  = "soil:bucket:"
	keySoilAppliedPrefix = "soil:bucket:applied:"
	keySoilPendingPrefix = "soil:bucket:pending:"
)

// Lifetimes of the once-per-day irrigation credit keys
const (
	CaptureGuardTTL  = 36 * time.Hour
	PendingCreditTTL = 72 * time.Hour
)

// DateLayout is the local calendar day format used in keys and series
const DateLayout = "2006-01-02"

// SoilBucketKey is the state key of a zone
func SoilBucketKey(zone string) string {
	return keySoilBucketPrefix + zone
}

// SoilAppliedKey is the once-per-day capture guard for a local date
func SoilAppliedKey(date string) string {
	return keySoilAppliedPrefix + date
}

// SoilPendingKey holds the pending credit captured on a local date
func SoilPendingKey(date string) string {
	return keySoilPendingPrefix + date
}
