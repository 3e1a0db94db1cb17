package problems

import "fmt"

// Severity orders problems; lower values take precedence.
type Severity int

const (
	Fatal Severity = iota
	Error
	Warn
	Info
)

var severityNames = [...]string{"FATAL", "ERROR", "WARN", "INFO"}

// Severities returns all severities in precedence order.
func Severities() []Severity {
	return []Severity{Fatal, Error, Warn, Info}
}

func (s Severity) String() string {
	if s < Fatal || s > Info {
		return fmt.Sprintf("Severity(%d)", int(s))
	}
	return severityNames[s]
}

// Counts reports whether problems of this severity count towards the problem total.
func (s Severity) Counts() bool {
	return s != Info
}

// ParseSeverity is the inverse of String.
func ParseSeverity(name string) (Severity, error) {
	for i, n := range severityNames {
		if n == name {
			return Severity(i), nil
		}
	}
	return 0, fmt.Errorf("unknown severity %q", name)
}
