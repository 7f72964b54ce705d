package task

import (
	"fmt"
	"strings"

	"github.com/reugn/go-quartz/quartz"
)

const (
	dayOfMonthField = 3
	dayOfWeekField  = 5
)

// ValidateCrontab checks a Quartz expression: six fields, or seven with
// a year, and "?" in exactly one of day-of-month and day-of-week. The
// scheduler accepts "*" in both and macros such as @daily; the server
// does not.
func ValidateCrontab(expression string) error {
	fields := strings.Fields(expression)
	if len(fields) != 6 && len(fields) != 7 {
		return fmt.Errorf("crontab: expected 6 or 7 fields, got %d", len(fields))
	}
	for i, field := range fields {
		if field == "?" && i != dayOfMonthField && i != dayOfWeekField {
			return fmt.Errorf("crontab: '?' only allowed in day-of-month or day-of-week")
		}
	}
	if (fields[dayOfMonthField] == "?") == (fields[dayOfWeekField] == "?") {
		return fmt.Errorf("crontab: exactly one of day-of-month and day-of-week must be '?'")
	}
	if err := quartz.ValidateCronExpression(strings.Join(fields, " ")); err != nil {
		return fmt.Errorf("crontab: %w", err)
	}
	return nil
}
