package compiler

import "fmt"

// DiagnosticCode identifies a stable, machine-readable diagnostic category.
type DiagnosticCode string

const (
	CodeMalformedCardBlock DiagnosticCode = "MALFORMED_CARD_BLOCK"
	CodeMissingAnswer      DiagnosticCode = "MISSING_ANSWER"
	CodeMissingDelimiter   DiagnosticCode = "MISSING_DELIMITER"
	CodeAssetNotFound      DiagnosticCode = "ASSET_NOT_FOUND"
	CodeAmbiguousWikiLink  DiagnosticCode = "AMBIGUOUS_WIKI_LINK"
	CodeNoCardsFound       DiagnosticCode = "NO_CARDS_FOUND"
	CodeEmptyCloze         DiagnosticCode = "EMPTY_CLOZE"
)

// Severity classifies how a diagnostic affects a build.
type Severity string

const (
	// SeverityError blocks bundle production.
	SeverityError Severity = "error"
	// SeverityWarning is advisory unless strict mode is requested.
	SeverityWarning Severity = "warning"
)

// Diagnostic is a single parse or resolution finding, accumulated in batch
// rather than aborting the compile.
type Diagnostic struct {
	Code     DiagnosticCode
	Message  string
	File     string
	Line     int
	Severity Severity
}

// String renders the diagnostic in the CLI's stderr format.
func (d Diagnostic) String() string {
	tag := "ERROR"
	if d.Severity == SeverityWarning {
		tag = "WARN"
	}
	return fmt.Sprintf("[%s] %s %s:%d %s", tag, d.Code, d.File, d.Line, d.Message)
}

// HasErrors reports whether any diagnostic carries error severity.
func HasErrors(diagnostics []Diagnostic) bool {
	for _, diagnostic := range diagnostics {
		if diagnostic.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Warnings returns the warning-severity subset in input order.
func Warnings(diagnostics []Diagnostic) []Diagnostic {
	var warnings []Diagnostic
	for _, diagnostic := range diagnostics {
		if diagnostic.Severity == SeverityWarning {
			warnings = append(warnings, diagnostic)
		}
	}
	return warnings
}
