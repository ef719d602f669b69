package audit

import (
	"fmt"
	"time"
)

// Regulated monitoring accounts must keep their audit trail for seven
// years. Nothing younger than that may be purged.
const MinRetentionYears = 7

// Seven years in days, rounded up from 365.25 * 7 = 2556.75.
const safePurgeDays = 2557

// CheckRetentionPolicy rejects any retention shorter than the
// compliance floor before a purge path is allowed to run.
func CheckRetentionPolicy(requestedYears int) error {
	if requestedYears < MinRetentionYears {
		return fmt.Errorf("compliance violation: retention must be minimum %d years (requested: %d)", MinRetentionYears, requestedYears)
	}
	return nil
}

// SafePurgeCutoff is the newest timestamp eligible for purging.
// Records at or after it must be kept.
func SafePurgeCutoff() time.Time {
	return time.Now().UTC().AddDate(0, 0, -safePurgeDays)
}

// CanPurge reports whether a record timestamp is outside the
// retention window.
func CanPurge(recordTime time.Time) bool {
	return recordTime.Before(SafePurgeCutoff())
}
