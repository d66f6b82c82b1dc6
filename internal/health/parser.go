// Package health generates diagnostic reports from the Home Assistant
// error log, with run history for trend analysis.
package health

import "strings"

// Entry is one parsed log entry. Message holds the first line plus any
// continuation lines (stack traces).
type Entry struct {
	Timestamp string
	Level     string
	Message   string
}

// ParseLog parses raw Home Assistant log text into structured entries.
// Only ERROR, WARNING, and CRITICAL lines start entries; lines between
// them are treated as continuations of the previous entry. The format is
// "2026-08-23 06:00:00.123 ERROR (MainThread) [component] message".
func ParseLog(logText string) []Entry {
	var entries []Entry
	var current *Entry

	for _, line := range strings.Split(logText, "\n") {
		if strings.Contains(line, " ERROR ") ||
			strings.Contains(line, " WARNING ") ||
			strings.Contains(line, " CRITICAL ") {
			if current != nil {
				entries = append(entries, *current)
			}
			parts := strings.SplitN(line, " ", 4)
			if len(parts) >= 4 {
				current = &Entry{
					Timestamp: parts[0] + " " + parts[1],
					Level:     parts[2],
					Message:   parts[3],
				}
			} else {
				current = nil
			}
		} else if current != nil {
			current.Message += "\n" + line
		}
	}

	if current != nil {
		entries = append(entries, *current)
	}
	return entries
}
