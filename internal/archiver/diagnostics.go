package archiver

import (
	"bufio"
	"fmt"
	"strings"
)

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Diagnostic is one ERROR or WARNING line printed by 7z, e.g.
// "ERROR: Wrong password : notes.txt".
type Diagnostic struct {
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	Subject  string   `json:"subject,omitempty"`
	Raw      string   `json:"raw"`
}

// ParseDiagnostics extracts de-duplicated diagnostics from the given outputs
// in order of first appearance.
func ParseDiagnostics(outputs ...string) []Diagnostic {
	diags := make([]Diagnostic, 0)
	seen := map[string]struct{}{}
	for _, output := range outputs {
		sc := bufio.NewScanner(strings.NewReader(output))
		sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for sc.Scan() {
			d, ok := parseDiagnosticLine(sc.Text())
			if !ok {
				continue
			}
			key := fmt.Sprintf("%s|%s|%s", d.Severity, d.Message, d.Subject)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			diags = append(diags, d)
		}
	}
	return diags
}

func parseDiagnosticLine(rawLine string) (Diagnostic, bool) {
	line := strings.TrimSpace(rawLine)
	if line == "" {
		return Diagnostic{}, false
	}
	var severity Severity
	var rest string
	switch {
	case strings.HasPrefix(line, "ERROR:"):
		severity, rest = SeverityError, strings.TrimPrefix(line, "ERROR:")
	case strings.HasPrefix(line, "Open ERROR:"):
		severity, rest = SeverityError, strings.TrimPrefix(line, "Open ERROR:")
	case strings.HasPrefix(line, "WARNING:"):
		severity, rest = SeverityWarning, strings.TrimPrefix(line, "WARNING:")
	case strings.HasPrefix(line, "Open WARNING:"):
		severity, rest = SeverityWarning, strings.TrimPrefix(line, "Open WARNING:")
	default:
		return Diagnostic{}, false
	}
	rest = strings.TrimSpace(rest)
	d := Diagnostic{Severity: severity, Message: rest, Raw: line}
	if i := strings.LastIndex(rest, " : "); i > 0 {
		d.Message = strings.TrimSpace(rest[:i])
		d.Subject = strings.TrimSpace(rest[i+3:])
	}
	if d.Message == "" {
		d.Message = rest
	}
	return d, true
}

// Classify buckets a diagnostic into a short reason used in error context.
func Classify(d Diagnostic) string {
	lower := strings.ToLower(d.Message + " " + d.Subject)
	switch {
	case strings.Contains(lower, "password"):
		return "password"
	case strings.Contains(lower, "can not open the file as archive") || strings.Contains(lower, "unexpected end") || strings.Contains(lower, "headers error") || strings.Contains(lower, "crc failed") || strings.Contains(lower, "data error"):
		return "corrupt"
	case strings.Contains(lower, "unsupported"):
		return "unsupported"
	case strings.Contains(lower, "no such file") || strings.Contains(lower, "cannot find") || strings.Contains(lower, "system cannot find"):
		return "missing"
	case strings.Contains(lower, "no space") || strings.Contains(lower, "not enough space") || strings.Contains(lower, "access is denied") || strings.Contains(lower, "permission denied"):
		return "io"
	default:
		return "internal"
	}
}

// FailureReason returns the first specific classification among the error
// diagnostics, or "internal".
func FailureReason(diags []Diagnostic) string {
	for _, d := range diags {
		if d.Severity != SeverityError {
			continue
		}
		if reason := Classify(d); reason != "internal" {
			return reason
		}
	}
	return "internal"
}

// FailureDetail is the text surfaced to callers when the tool fails: stderr
// when present, else stdout, else the invocation error.
func FailureDetail(out Output, err error) string {
	if msg := strings.TrimSpace(out.Stderr); msg != "" {
		return msg
	}
	if msg := strings.TrimSpace(out.Stdout); msg != "" {
		return msg
	}
	if err != nil {
		return strings.TrimSpace(err.Error())
	}
	return fmt.Sprintf("exit code %d", out.ExitCode)
}
