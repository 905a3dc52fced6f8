package common

import (
	"errors"
	"fmt"
)

// Code identifies a kind of failure in the batch pipeline.
type Code string

const (
	CodeAlreadyProcessing   Code = "ALREADY_PROCESSING"
	CodeInvalidState        Code = "INVALID_STATE"
	CodeNotFound            Code = "NOT_FOUND"
	CodeInvalidInput        Code = "INVALID_INPUT"
	CodeEmptyDocument       Code = "EMPTY_DOCUMENT"
	CodeUnsupportedFileType Code = "UNSUPPORTED_FILE_TYPE"
	CodeExtraction          Code = "EXTRACTION_ERROR"
	CodeMalformedExtraction Code = "MALFORMED_EXTRACTION"
	CodePersistence         Code = "PERSISTENCE_ERROR"
	CodeFatalOrchestrator   Code = "FATAL_ORCHESTRATOR"
)

// documentCodes are failures scoped to a single file. They are recorded on the
// file row and never abort the batch.
var documentCodes = map[Code]string{
	CodeEmptyDocument:       "could not read document",
	CodeUnsupportedFileType: "unsupported file type",
	CodeExtraction:          "AI extraction failed",
	CodeMalformedExtraction: "AI response malformed",
	CodePersistence:         "database write failed",
}

// AppError represents application-specific errors
type AppError struct {
	Code    Code
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is matches another AppError by code so callers can use errors.Is with the
// sentinel values below.
func (e *AppError) Is(target error) bool {
	var t *AppError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code && t.Message == "" && t.Cause == nil
}

// Sentinels for errors.Is comparisons.
var (
	ErrAlreadyProcessing   = &AppError{Code: CodeAlreadyProcessing}
	ErrInvalidState        = &AppError{Code: CodeInvalidState}
	ErrNotFound            = &AppError{Code: CodeNotFound}
	ErrInvalidInput        = &AppError{Code: CodeInvalidInput}
	ErrEmptyDocument       = &AppError{Code: CodeEmptyDocument}
	ErrUnsupportedFileType = &AppError{Code: CodeUnsupportedFileType}
	ErrExtraction          = &AppError{Code: CodeExtraction}
	ErrMalformedExtraction = &AppError{Code: CodeMalformedExtraction}
	ErrPersistence         = &AppError{Code: CodePersistence}
	ErrFatalOrchestrator   = &AppError{Code: CodeFatalOrchestrator}
)

// NewAppError creates an AppError
func NewAppError(code Code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// Errorf creates an AppError with a formatted message and no cause.
func Errorf(code Code, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf returns the code of the outermost AppError in err's chain, or "".
func CodeOf(err error) Code {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// IsDocumentError reports whether err is confined to one document.
func IsDocumentError(err error) bool {
	_, ok := documentCodes[CodeOf(err)]
	return ok
}

// FileErrorMessage renders the message stored on a failed file row. It always
// starts with a human-readable description of the failure kind.
func FileErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		if label, ok := documentCodes[appErr.Code]; ok {
			detail := appErr.Message
			if appErr.Cause != nil {
				if detail != "" {
					detail += ": "
				}
				detail += appErr.Cause.Error()
			}
			if detail == "" {
				return label
			}
			return label + ": " + detail
		}
	}
	return "processing failed: " + err.Error()
}
