package tree

import (
	"fmt"
	"strings"
	"time"
)

// FormatError is returned when no known layout parses a date value.
type FormatError struct {
	Value string
	Tried []string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("cannot parse date %q with any of %d layouts (%s)", e.Value, len(e.Tried), strings.Join(e.Tried, " | "))
}

// alternateLayouts are tried in order after the caller's layout.
var alternateLayouts = []string{
	"02/Jan/06 3:04 PM",
	"02/Jan/06 15:04",
	"2/Jan/06 3:04 PM",
	"02/Jan/2006 3:04 PM",
	"2006-01-02T15:04:05.000-0700",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"02/01/2006 15:04",
	"01/02/2006 15:04",
	"02.01.2006 15:04",
	"02/Jan/06",
	"2006-01-02",
}

// OutputLayout is the layout dates are written in.
const OutputLayout = time.RFC3339

// DateParser parses export dates with a fallback chain: the caller's layout
// first, then the layout that last succeeded, then the known alternates.
type DateParser struct {
	preferred string
	detected  string
}

// NewDateParser returns a parser that tries layout first.
func NewDateParser(layout string) *DateParser {
	return &DateParser{preferred: layout}
}

// Parse parses value or returns a *FormatError naming every layout tried.
func (p *DateParser) Parse(value string) (time.Time, error) {
	value = strings.TrimSpace(value)

	tried := make([]string, 0, len(alternateLayouts)+2)
	try := func(layout string) (time.Time, bool) {
		if layout == "" {
			return time.Time{}, false
		}
		for _, t := range tried {
			if t == layout {
				return time.Time{}, false
			}
		}
		tried = append(tried, layout)
		t, err := time.Parse(layout, value)
		return t, err == nil
	}

	if t, ok := try(p.preferred); ok {
		p.detected = p.preferred
		return t, nil
	}
	if t, ok := try(p.detected); ok {
		return t, nil
	}
	for _, layout := range alternateLayouts {
		if t, ok := try(layout); ok {
			p.detected = layout
			return t, nil
		}
	}
	return time.Time{}, &FormatError{Value: value, Tried: tried}
}

// Normalize parses value and renders it in OutputLayout.
func (p *DateParser) Normalize(value string) (string, error) {
	t, err := p.Parse(value)
	if err != nil {
		return "", err
	}
	return t.Format(OutputLayout), nil
}

// Detected returns the layout of the last successful parse.
func (p *DateParser) Detected() string {
	if p.detected == "" {
		return p.preferred
	}
	return p.detected
}
