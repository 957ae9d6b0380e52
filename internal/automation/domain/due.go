// Package domain provides the pure scheduling rules for follow-up automation.
package domain

import (
	"strconv"
	"strings"
	"time"
)

// IsDue reports whether a lead that entered its state at enteredAt has
// waited at least delayHours by now. The lower bound is closed: a wait of
// exactly delayHours qualifies.
func IsDue(now, enteredAt time.Time, delayHours int) bool {
	return now.Sub(enteredAt) >= time.Duration(delayHours)*time.Hour
}

// HoursWaiting returns the whole hours elapsed since enteredAt, floored.
func HoursWaiting(now, enteredAt time.Time) int {
	elapsed := now.Sub(enteredAt)
	if elapsed < 0 {
		return 0
	}
	return int(elapsed / time.Hour)
}

// RenderMessage substitutes the supported placeholders in a rule's message
// template. Unknown placeholders are left untouched.
func RenderMessage(template, handle, state string, hoursWaiting int) string {
	replacer := strings.NewReplacer(
		"{{handle}}", handle,
		"{{state}}", state,
		"{{hours}}", strconv.Itoa(hoursWaiting),
	)
	return replacer.Replace(template)
}
