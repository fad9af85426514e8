package scheduler

import (
	"strconv"
	"strings"

	"github.com/robfig/cron/v3"
)

// The canonical form is 7 fields: sec min hour dom mon dow year.
// The legacy backend strips the year field before handing the expression to
// its cron engine; the temporal backend forwards all 7 fields.
const canonicalCronFields = 7

// cronParser validates the first six fields of a canonical expression.
var cronParser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// NormalizeCron converts a 5, 6 or 7 field cron expression into the
// canonical 7-field form. 5-field input gains a leading "0" seconds field
// and a trailing "*" year field; 6-field input gains only the year field;
// 7-field input passes through. Any other field count, or fields the cron
// parser rejects, fail with CronParseError carrying the original string.
//
// This function is pure: it performs no I/O and touches no shared state.
func NormalizeCron(expr string) (string, error) {
	fields := strings.Fields(expr)

	var canonical []string
	switch len(fields) {
	case 5:
		canonical = append(append([]string{"0"}, fields...), "*")
	case 6:
		canonical = append(fields, "*")
	case 7:
		canonical = fields
	default:
		return "", &CronParseError{Expression: expr}
	}

	if _, err := cronParser.Parse(strings.Join(canonical[:6], " ")); err != nil {
		return "", &CronParseError{Expression: expr, Err: err}
	}
	if err := validateYearField(canonical[6]); err != nil {
		return "", &CronParseError{Expression: expr, Err: err}
	}

	return strings.Join(canonical, " "), nil
}

// validateYearField accepts "*" or a comma list of 4-digit years and ranges.
func validateYearField(field string) error {
	if field == "*" {
		return nil
	}
	for _, part := range strings.Split(field, ",") {
		bounds := strings.SplitN(part, "-", 2)
		for _, b := range bounds {
			year, err := strconv.Atoi(b)
			if err != nil || year < 1970 || year > 2999 {
				return &CronParseError{Expression: field}
			}
		}
	}
	return nil
}

// engineExpression returns the 6-field form consumed by the robfig cron
// engine, assuming expr is already canonical.
func engineExpression(expr string) string {
	fields := strings.Fields(expr)
	if len(fields) == canonicalCronFields {
		return strings.Join(fields[:6], " ")
	}
	return expr
}
