package errors

import (
	"fmt"
	"strings"
)

// Diagnostic is a single message reported by the bundling engine.
type Diagnostic struct {
	Plugin   string   `json:"plugin,omitempty"`
	File     string   `json:"file,omitempty"`
	Line     int      `json:"line,omitempty"`
	Column   int      `json:"column,omitempty"`
	LineText string   `json:"lineText,omitempty"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

// Severity represents the severity of a diagnostic
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
)

// String returns the string representation of the severity
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalText renders the severity by name in JSON payloads.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a severity name.
func (s *Severity) UnmarshalText(text []byte) error {
	switch string(text) {
	case "info":
		*s = SeverityInfo
	case "warning":
		*s = SeverityWarning
	case "error":
		*s = SeverityError
	default:
		return fmt.Errorf("unknown severity %q", text)
	}
	return nil
}

// Error implements the error interface
func (d Diagnostic) Error() string {
	var b strings.Builder
	if d.File != "" {
		fmt.Fprintf(&b, "%s:%d:%d: ", d.File, d.Line, d.Column)
	}
	b.WriteString(d.Severity.String())
	b.WriteString(": ")
	if d.Plugin != "" {
		fmt.Fprintf(&b, "[plugin %s] ", d.Plugin)
	}
	b.WriteString(d.Message)
	return b.String()
}

// FormatDiagnostics renders diagnostics one per line for terminal output.
func FormatDiagnostics(diagnostics []Diagnostic) string {
	lines := make([]string, 0, len(diagnostics))
	for _, d := range diagnostics {
		line := d.Error()
		if d.LineText != "" {
			line += "\n    " + d.LineText
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}
