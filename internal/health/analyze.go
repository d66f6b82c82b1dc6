package health

import (
	"sort"
	"strings"
)

// Signatures are the first line of a message truncated to this length,
// which strips the volatile tail (IDs, addresses) while keeping the
// component and error class.
const signatureLength = 100

// maxOffenders bounds the top-issues table in the report.
const maxOffenders = 20

// Offender is one unique issue signature with occurrence stats.
type Offender struct {
	Signature string `json:"signature"`
	Count     int    `json:"count"`
	FirstSeen string `json:"first_seen"`
	LastSeen  string `json:"last_seen"`
	Example   string `json:"example"`
}

// Analysis summarizes a parsed log.
type Analysis struct {
	ErrorCount   int        `json:"error_count"`
	WarningCount int        `json:"warning_count"`
	Offenders    []Offender `json:"top_offenders"`
}

// Analyze groups entries by signature and counts errors and warnings.
// Offenders are the top signatures by count, capped at 20.
func Analyze(entries []Entry) Analysis {
	var a Analysis
	bySignature := make(map[string]*Offender)

	for _, e := range entries {
		switch {
		case strings.Contains(e.Level, "ERROR"), strings.Contains(e.Level, "CRITICAL"):
			a.ErrorCount++
		case strings.Contains(e.Level, "WARNING"):
			a.WarningCount++
		}

		sig := signature(e.Message)
		off, ok := bySignature[sig]
		if !ok {
			off = &Offender{
				Signature: sig,
				FirstSeen: e.Timestamp,
				Example:   truncate(e.Message, 200),
			}
			bySignature[sig] = off
		}
		off.Count++
		off.LastSeen = e.Timestamp
	}

	for _, off := range bySignature {
		a.Offenders = append(a.Offenders, *off)
	}
	sort.Slice(a.Offenders, func(i, j int) bool {
		if a.Offenders[i].Count != a.Offenders[j].Count {
			return a.Offenders[i].Count > a.Offenders[j].Count
		}
		return a.Offenders[i].Signature < a.Offenders[j].Signature
	})
	if len(a.Offenders) > maxOffenders {
		a.Offenders = a.Offenders[:maxOffenders]
	}

	return a
}

// signature reduces a message to its grouping key.
func signature(message string) string {
	firstLine, _, _ := strings.Cut(message, "\n")
	return truncate(firstLine, signatureLength)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
