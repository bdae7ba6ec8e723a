package core

import (
	"fmt"
	"strings"
)

// PositionedError is the base interface for errors anchored to a source file.
type PositionedError interface {
	error
	Position() Pos
}

// baseError provides common error functionality.
type baseError struct {
	pos Pos
	msg string
}

func (e *baseError) Position() Pos { return e.pos }
func (e *baseError) Error() string {
	if e.pos.File != "" {
		return fmt.Sprintf("%s: %s", e.pos.String(), e.msg)
	}
	return e.msg
}

// SyntaxError represents a file that could not be parsed as YAML.
type SyntaxError struct {
	baseError
	Cause error
}

// NewSyntaxError creates a new syntax error.
func NewSyntaxError(pos Pos, msg string, cause error) *SyntaxError {
	return &SyntaxError{baseError: baseError{pos: pos, msg: msg}, Cause: cause}
}

func (e *SyntaxError) Error() string {
	base := e.baseError.Error()
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", base, e.Cause)
	}
	return base
}

func (e *SyntaxError) Unwrap() error { return e.Cause }

// ImportReason states why an import could not be satisfied.
type ImportReason string

const (
	ImportNotFound ImportReason = "not_found"
	ImportCycle    ImportReason = "cycle"
)

// ImportError represents a failed import resolution.
type ImportError struct {
	baseError
	Path   string
	Reason ImportReason
	// Stack holds the chain of files being imported when the error
	// occurred, outermost first.
	Stack []string
}

// NewImportNotFoundError reports an import whose target does not exist.
func NewImportNotFoundError(pos Pos, path string, searched []string) *ImportError {
	msg := fmt.Sprintf("import %q not found", path)
	if len(searched) > 0 {
		msg += " (searched: " + strings.Join(searched, ", ") + ")"
	}
	return &ImportError{
		baseError: baseError{pos: pos, msg: msg},
		Path:      path,
		Reason:    ImportNotFound,
	}
}

// NewImportCycleError reports a circular import chain.
func NewImportCycleError(pos Pos, path string, stack []string) *ImportError {
	msg := fmt.Sprintf("circular import of %q: %s", path, strings.Join(append(append([]string{}, stack...), path), " -> "))
	return &ImportError{
		baseError: baseError{pos: pos, msg: msg},
		Path:      path,
		Reason:    ImportCycle,
		Stack:     stack,
	}
}

// ReferenceError represents a pointer ($ref, $use, template) that names a
// definition no loaded file provides.
type ReferenceError struct {
	baseError
	Ref  string
	Kind string // "ref", "use", "template", "metric", "dimension_group"
}

// NewReferenceError creates a new dangling reference error.
func NewReferenceError(pos Pos, kind, ref string) *ReferenceError {
	return &ReferenceError{
		baseError: baseError{pos: pos, msg: fmt.Sprintf("unknown %s %q", kind, ref)},
		Ref:       ref,
		Kind:      kind,
	}
}

// ValidationCode identifies the rule a ValidationError violated.
type ValidationCode string

// Validation error codes.
const (
	CodeMissingField          ValidationCode = "missing_field"
	CodeInvalidEnum           ValidationCode = "invalid_enum"
	CodeUnknownMeasure        ValidationCode = "unknown_measure"
	CodeDuplicateName         ValidationCode = "duplicate_name"
	CodeMissingParameter      ValidationCode = "missing_parameter"
	CodeBadParameterType      ValidationCode = "bad_parameter_type"
	CodeTemplateDepthExceeded ValidationCode = "template_depth_exceeded"
	CodeBadJoinPath           ValidationCode = "bad_join_path"
)

// ValidationError represents a definition that violates a structural rule.
type ValidationError struct {
	baseError
	Code       ValidationCode
	Metric     string
	Suggestion string
}

// NewValidationError creates a new validation error.
func NewValidationError(pos Pos, code ValidationCode, metric, msg string) *ValidationError {
	return &ValidationError{
		baseError: baseError{pos: pos, msg: msg},
		Code:      code,
		Metric:    metric,
	}
}

// WithSuggestion attaches a fix hint to the error.
func (e *ValidationError) WithSuggestion(s string) *ValidationError {
	e.Suggestion = s
	return e
}

// Diagnostic converts the error into a collectable diagnostic.
func (e *ValidationError) Diagnostic() Diagnostic {
	return Diagnostic{
		Severity:   SeverityError,
		Category:   CategoryValidate,
		Message:    e.msg,
		File:       e.pos.File,
		Line:       e.pos.Line,
		Metric:     e.Metric,
		Suggestion: e.Suggestion,
	}
}

// CycleError represents a dependency cycle between metrics.
type CycleError struct {
	Members []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle: %s", strings.Join(e.Members, " -> "))
}

// DuplicateNameError reports two definitions claiming the same name.
type DuplicateNameError struct {
	baseError
	Name     string
	Previous Pos
}

// NewDuplicateNameError creates a new duplicate name error.
func NewDuplicateNameError(pos Pos, name string, previous Pos) *DuplicateNameError {
	return &DuplicateNameError{
		baseError: baseError{pos: pos, msg: fmt.Sprintf("duplicate definition of %q (first defined at %s)", name, previous.String())},
		Name:      name,
		Previous:  previous,
	}
}
