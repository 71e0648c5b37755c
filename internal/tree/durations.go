package tree

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Jira time tracking defaults: a day is 8 hours and a week 5 days.
const (
	secondsPerHour = 3600
	secondsPerDay  = 8 * secondsPerHour
	secondsPerWeek = 5 * secondsPerDay
)

var durationPart = regexp.MustCompile(`^(\d+(?:\.\d+)?)([wdhms])$`)

// ParseSeconds reads a time tracking value: plain seconds as found in CSV
// exports, or the "1w 2d 3h 30m" form.
func ParseSeconds(value string) (int64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, fmt.Errorf("empty duration")
	}
	if n, err := strconv.ParseInt(value, 10, 64); err == nil {
		return n, nil
	}

	var total float64
	for _, part := range strings.Fields(value) {
		m := durationPart.FindStringSubmatch(part)
		if m == nil {
			return 0, fmt.Errorf("invalid duration %q", value)
		}
		n, _ := strconv.ParseFloat(m[1], 64)
		switch m[2] {
		case "w":
			total += n * secondsPerWeek
		case "d":
			total += n * secondsPerDay
		case "h":
			total += n * secondsPerHour
		case "m":
			total += n * 60
		case "s":
			total += n
		}
	}
	return int64(total), nil
}

// ISODuration renders seconds as an ISO-8601 duration, e.g. "PT1H30M".
func ISODuration(seconds int64) string {
	if seconds <= 0 {
		return "PT0S"
	}
	h, m, s := seconds/3600, seconds%3600/60, seconds%60

	var b strings.Builder
	b.WriteString("PT")
	if h > 0 {
		fmt.Fprintf(&b, "%dH", h)
	}
	if m > 0 {
		fmt.Fprintf(&b, "%dM", m)
	}
	if s > 0 {
		fmt.Fprintf(&b, "%dS", s)
	}
	return b.String()
}

var isoPattern = regexp.MustCompile(`^PT(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?$`)

// SecondsFromISO is the inverse of ISODuration.
func SecondsFromISO(iso string) (int64, error) {
	m := isoPattern.FindStringSubmatch(iso)
	if m == nil {
		return 0, fmt.Errorf("invalid ISO duration %q", iso)
	}
	var total int64
	for i, unit := range []int64{3600, 60, 1} {
		if m[i+1] == "" {
			continue
		}
		n, _ := strconv.ParseInt(m[i+1], 10, 64)
		total += n * unit
	}
	return total, nil
}

// NormalizeDuration converts a time tracking cell. Empty cells report false
// so the value is omitted rather than zeroed.
func NormalizeDuration(value string) (string, bool, error) {
	if strings.TrimSpace(value) == "" {
		return "", false, nil
	}
	secs, err := ParseSeconds(value)
	if err != nil {
		return "", false, err
	}
	return ISODuration(secs), true, nil
}
