package cpp

import "fmt"

// Severity classifies a diagnostic.
type Severity int

const (
	SevWarning Severity = iota
	SevError
)

func (s Severity) String() string {
	if s == SevError {
		return "error"
	}
	return "warning"
}

// Diagnostic is a non-fatal problem noted during preprocessing or parsing.
type Diagnostic struct {
	Loc      SourceLoc
	Severity Severity
	Message  string
}

func (d Diagnostic) String() string {
	if d.Loc.File == "" {
		return fmt.Sprintf("%s: %s", d.Severity, d.Message)
	}
	return fmt.Sprintf("%s:%d: %s: %s", d.Loc.File, d.Loc.Line, d.Severity, d.Message)
}

// DiagList accumulates diagnostics across pipeline stages. The zero value is
// ready to use.
type DiagList struct {
	diags []Diagnostic
}

// Warnf appends a warning diagnostic.
func (dl *DiagList) Warnf(loc SourceLoc, format string, args ...any) {
	dl.diags = append(dl.diags, Diagnostic{Loc: loc, Severity: SevWarning, Message: fmt.Sprintf(format, args...)})
}

// Errorf appends an error-severity diagnostic.
func (dl *DiagList) Errorf(loc SourceLoc, format string, args ...any) {
	dl.diags = append(dl.diags, Diagnostic{Loc: loc, Severity: SevError, Message: fmt.Sprintf(format, args...)})
}

// All returns the accumulated diagnostics in order.
func (dl *DiagList) All() []Diagnostic {
	return dl.diags
}

// Len returns the number of accumulated diagnostics.
func (dl *DiagList) Len() int {
	return len(dl.diags)
}
