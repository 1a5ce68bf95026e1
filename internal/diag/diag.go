// Package diag defines the structured diagnostics every validation gate
// reports. Validators accumulate all findings for a packet instead of
// stopping at the first, so a Result can carry any mix of errors and
// warnings.
package diag

import (
	"fmt"
	"strings"
)

// Severity splits diagnostics into admit-blocking errors and logged warnings.
type Severity int

const (
	Warning Severity = iota
	Error
)

func (s Severity) String() string {
	if s == Error {
		return "error"
	}
	return "warning"
}

// Diagnostic is a single validation finding.
type Diagnostic struct {
	Code      string   `json:"code"`
	FieldPath string   `json:"field_path,omitempty"`
	Message   string   `json:"message"`
	Severity  Severity `json:"severity"`
}

func (d Diagnostic) String() string {
	if d.FieldPath == "" {
		return fmt.Sprintf("[%s] %s: %s", d.Severity, d.Code, d.Message)
	}
	return fmt.Sprintf("[%s] %s at %s: %s", d.Severity, d.Code, d.FieldPath, d.Message)
}

// Result accumulates diagnostics from one or more validators.
type Result struct {
	Diagnostics []Diagnostic
}

// Errorf appends an error-severity diagnostic.
func (r *Result) Errorf(code, fieldPath, format string, args ...any) {
	r.Diagnostics = append(r.Diagnostics, Diagnostic{
		Code:      code,
		FieldPath: fieldPath,
		Message:   fmt.Sprintf(format, args...),
		Severity:  Error,
	})
}

// Warnf appends a warning-severity diagnostic.
func (r *Result) Warnf(code, fieldPath, format string, args ...any) {
	r.Diagnostics = append(r.Diagnostics, Diagnostic{
		Code:      code,
		FieldPath: fieldPath,
		Message:   fmt.Sprintf(format, args...),
		Severity:  Warning,
	})
}

// Merge appends all of other's diagnostics.
func (r *Result) Merge(other Result) {
	r.Diagnostics = append(r.Diagnostics, other.Diagnostics...)
}

// OK reports whether the result contains no error-severity diagnostics.
func (r Result) OK() bool {
	for _, d := range r.Diagnostics {
		if d.Severity == Error {
			return false
		}
	}
	return true
}

// Errors returns the error-severity diagnostics.
func (r Result) Errors() []Diagnostic {
	var out []Diagnostic
	for _, d := range r.Diagnostics {
		if d.Severity == Error {
			out = append(out, d)
		}
	}
	return out
}

// Warnings returns the warning-severity diagnostics.
func (r Result) Warnings() []Diagnostic {
	var out []Diagnostic
	for _, d := range r.Diagnostics {
		if d.Severity == Warning {
			out = append(out, d)
		}
	}
	return out
}

// Summary renders the diagnostics one per line, errors first.
func (r Result) Summary() string {
	var b strings.Builder
	for _, d := range r.Errors() {
		b.WriteString(d.String())
		b.WriteByte('\n')
	}
	for _, d := range r.Warnings() {
		b.WriteString(d.String())
		b.WriteByte('\n')
	}
	return b.String()
}
