package timestamp

import (
	"fmt"
	"strings"
	"time"
)

// ExpectedLength is the minimum length of a normalized timestamp. It
// rejects date-only values and millisecond timestamps missing an offset.
const ExpectedLength = 25

// MalformedTimestampError reports a raw timestamp that cannot be normalized.
type MalformedTimestampError struct {
	Value string
}

func (e *MalformedTimestampError) Error() string {
	return fmt.Sprintf("timestamp format is incorrect: %q", e.Value)
}

// Normalize rewrites a raw timestamp to always carry fractional seconds and
// a numeric offset when one was present. A trailing "Z" becomes "+00:00".
func Normalize(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if strings.HasSuffix(s, "Z") {
		s = strings.TrimSuffix(s, "Z") + "+00:00"
	}
	if !strings.Contains(s, ".") {
		if hasOffset(s) {
			s = s[:len(s)-6] + ".000" + s[len(s)-6:]
		} else {
			s += ".000"
		}
	}
	if len(s) < ExpectedLength {
		return "", &MalformedTimestampError{Value: raw}
	}
	return s, nil
}

// hasOffset reports whether s ends in "±HH:MM".
func hasOffset(s string) bool {
	if len(s) < 6 {
		return false
	}
	tail := s[len(s)-6:]
	return (tail[0] == '+' || tail[0] == '-') && tail[3] == ':'
}

var offsetLayouts = []string{
	"2006-01-02 15:04:05-07:00",
	"2006-01-02T15:04:05-07:00",
}

var naiveLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// Parse normalizes and parses a raw timestamp. Timestamps without an offset
// are read as UTC and get an empty offset label.
func Parse(raw string) (time.Time, string, error) {
	s, err := Normalize(raw)
	if err != nil {
		return time.Time{}, "", err
	}
	if hasOffset(s) {
		for _, layout := range offsetLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				_, off := t.Zone()
				return t, OffsetLabel(off), nil
			}
		}
		return time.Time{}, "", &MalformedTimestampError{Value: raw}
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, "", nil
		}
	}
	return time.Time{}, "", &MalformedTimestampError{Value: raw}
}

// OffsetLabel renders a UTC offset in seconds as "UTC±HH:MM".
func OffsetLabel(offsetSeconds int) string {
	sign := '+'
	if offsetSeconds < 0 {
		sign = '-'
		offsetSeconds = -offsetSeconds
	}
	return fmt.Sprintf("UTC%c%02d:%02d", sign, offsetSeconds/3600, (offsetSeconds%3600)/60)
}

// Format is the layout used for event timestamps in exported tables.
const Format = "2006-01-02 15:04:05.000-07:00"
