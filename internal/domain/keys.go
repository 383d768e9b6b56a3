package domain

import (
	"fmt"
	"strings"
)

// SessionKeyForActivity keys a draft for an existing activity record.
func SessionKeyForActivity(activityID string) string {
	return "activity:" + activityID
}

// SessionKeyForHome keys a fresh draft for (home, activity type).
func SessionKeyForHome(homeID string, t ActivityType) string {
	return fmt.Sprintf("home:%s:%s", homeID, t)
}

// ActivityIDFromKey extracts the activity id from an activity-scoped
// session key, if the key is one.
func ActivityIDFromKey(key string) (string, bool) {
	return strings.CutPrefix(key, "activity:")
}
