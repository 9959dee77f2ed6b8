package analysis

import "strings"

// Verdict is the sentinel tier's concern level.
type Verdict int

const (
	VerdictCalm Verdict = iota
	VerdictElevated
	VerdictCritical
)

func (v Verdict) String() string {
	switch v {
	case VerdictCritical:
		return "critical"
	case VerdictElevated:
		return "elevated"
	}
	return "calm"
}

// ParseVerdict extracts the concern level from sentinel output. The prompt
// asks for a leading CALM/ELEVATED/CRITICAL token; models do not always obey,
// so a keyword scan over the whole text is the fallback. Unknown text reads
// as ELEVATED: an unparseable sentinel reply should widen escalation, not
// silence it.
func ParseVerdict(output string) Verdict {
	trimmed := strings.TrimSpace(output)
	if trimmed == "" {
		return VerdictElevated
	}

	firstLine := trimmed
	if idx := strings.IndexAny(trimmed, "\r\n"); idx >= 0 {
		firstLine = trimmed[:idx]
	}
	switch {
	case tokenIs(firstLine, "CALM"):
		return VerdictCalm
	case tokenIs(firstLine, "ELEVATED"):
		return VerdictElevated
	case tokenIs(firstLine, "CRITICAL"):
		return VerdictCritical
	}

	upper := strings.ToUpper(trimmed)
	switch {
	case strings.Contains(upper, "CRITICAL"):
		return VerdictCritical
	case strings.Contains(upper, "CALM"):
		return VerdictCalm
	}
	return VerdictElevated
}

func tokenIs(line, token string) bool {
	fields := strings.Fields(strings.ToUpper(line))
	if len(fields) == 0 {
		return false
	}
	return strings.Trim(fields[0], ".,:;!") == token
}
