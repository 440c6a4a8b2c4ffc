package notify

// Severity is the log severity a notification is written at.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarn
	SeverityError
)

// SeverityFor maps a request level to a log severity.
//
// Only the exact strings "error" and "warn" are recognised; every other value
// (including "", "debug", "WARN") falls to SeverityInfo. New levels must be
// added here explicitly.
func SeverityFor(level string) Severity {
	switch level {
	case "error":
		return SeverityError
	case "warn":
		return SeverityWarn
	default:
		return SeverityInfo
	}
}

func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarn:
		return "warn"
	default:
		return "info"
	}
}
