package flow

import (
	"strings"
)

const rawOutputLogLimit = 1024

// formatRawForLog trims generation output for inclusion in a log line.
func formatRawForLog(raw string) string {
	s := strings.TrimSpace(raw)
	if len(s) > rawOutputLogLimit {
		return s[:rawOutputLogLimit] + "...(truncated)"
	}
	return s
}
