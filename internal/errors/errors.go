// Package errors defines the stable error code system for labforge.
package errors

import (
	"errors"
	"fmt"
	"io"
	"sort"
)

// Code is a stable error code string.
type Code string

// Error codes. Stable public contract; scripts match on these.
const (
	EUsage    Code = "E_USAGE"
	EInternal Code = "E_INTERNAL"

	// Precondition failures (nothing has been written yet)
	EInvalidTag    Code = "E_INVALID_TAG"
	ELabExists     Code = "E_LAB_EXISTS"
	EBaseNotFound  Code = "E_BASE_NOT_FOUND"
	EInvalidBase   Code = "E_INVALID_BASE"
	ESameTag       Code = "E_SAME_TAG"
	ELocked        Code = "E_LOCKED"
	EInvalidConfig Code = "E_INVALID_CONFIG"

	// Credential mint
	EKeygenFailed Code = "E_KEYGEN_FAILED"
	ERandomFailed Code = "E_RANDOM_FAILED"

	// Lab tree
	ECloneFailed       Code = "E_CLONE_FAILED"
	ERewriteFailed     Code = "E_REWRITE_FAILED"
	EConfigWriteFailed Code = "E_CONFIG_WRITE_FAILED"

	// Shared artifacts
	EArtifactReadFailed   Code = "E_ARTIFACT_READ_FAILED"
	EAnchorMissing        Code = "E_ANCHOR_MISSING"
	EAnchorAmbiguous      Code = "E_ANCHOR_AMBIGUOUS"
	EArtifactConflict     Code = "E_ARTIFACT_CONFLICT"
	EArtifactCommitFailed Code = "E_ARTIFACT_COMMIT_FAILED"

	// check command
	ECheckFailed Code = "E_CHECK_FAILED"
)

// LabError is the standard error type for labforge errors.
type LabError struct {
	Code    Code
	Msg     string
	Cause   error
	Details map[string]string // optional structured context
}

// Error returns the stable error format: "CODE: message".
func (e *LabError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *LabError) Unwrap() error {
	return e.Cause
}

// New creates a new LabError with the given code and message.
func New(code Code, msg string) error {
	return &LabError{Code: code, Msg: msg}
}

// NewWithDetails creates a new LabError with code, message, and details.
// Details map is copied (nil if empty).
func NewWithDetails(code Code, msg string, details map[string]string) error {
	return &LabError{Code: code, Msg: msg, Details: copyDetails(details)}
}

// Wrap creates a new LabError wrapping an underlying error.
func Wrap(code Code, msg string, err error) error {
	return &LabError{Code: code, Msg: msg, Cause: err}
}

// WrapWithDetails creates a new LabError wrapping an underlying error with details.
// Details map is copied (nil if empty).
func WrapWithDetails(code Code, msg string, err error, details map[string]string) error {
	return &LabError{Code: code, Msg: msg, Cause: err, Details: copyDetails(details)}
}

// GetCode extracts the error code from an error, or empty string if not a LabError.
func GetCode(err error) Code {
	var le *LabError
	if errors.As(err, &le) {
		return le.Code
	}
	return ""
}

// AsLabError returns (*LabError, true) if err is or wraps a LabError.
func AsLabError(err error) (*LabError, bool) {
	var le *LabError
	if errors.As(err, &le) {
		return le, true
	}
	return nil, false
}

func copyDetails(details map[string]string) map[string]string {
	if len(details) == 0 {
		return nil
	}
	cp := make(map[string]string, len(details))
	for k, v := range details {
		cp[k] = v
	}
	return cp
}

// ExitCode returns the appropriate exit code for an error.
// Returns 0 if err is nil, 2 for E_USAGE, 1 for all other errors.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if GetCode(err) == EUsage {
		return 2
	}
	return 1
}

// Print writes the error to w in the stable stderr format:
//
//	error_code: <CODE>
//	<message>
//	<key>: <value>     (one line per detail, sorted by key)
func Print(w io.Writer, err error) {
	if err == nil {
		return
	}
	var le *LabError
	if !errors.As(err, &le) {
		fmt.Fprintln(w, err.Error())
		return
	}
	fmt.Fprintf(w, "error_code: %s\n", le.Code)
	if le.Cause != nil {
		fmt.Fprintf(w, "%s: %v\n", le.Msg, le.Cause)
	} else {
		fmt.Fprintln(w, le.Msg)
	}
	keys := make([]string, 0, len(le.Details))
	for k := range le.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "%s: %s\n", k, le.Details[k])
	}
}
