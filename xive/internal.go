package xive

import "fmt"

// internalf reports an internal inconsistency: an ESB state outside
// {RESET,OFF,PENDING,QUEUED}, or a ring lookup for an unexpected ring.
// These are fatal bugs, not guest-triggerable conditions, matching
// g_assert_not_reached() in the device this package models.
func internalf(format string, args ...interface{}) {
	panic(fmt.Sprintf(format, args...))
}
