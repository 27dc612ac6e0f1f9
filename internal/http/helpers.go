package http

import (
	"strings"

	"taxos/internal/core"
)

// sanitizeInput removes control characters other than tab and newlines and
// trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}

// monthsOrEmpty keeps JSON output as [] rather than null.
func monthsOrEmpty(m []core.MonthKey) []core.MonthKey {
	if m == nil {
		return []core.MonthKey{}
	}
	return m
}
