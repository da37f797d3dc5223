// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

// Package errors provides structured error handling for the demindex CLI.
//
// UserError carries what went wrong, why it happened and how to fix it,
// together with the process exit code for its category.
//
// # Usage Example
//
//	err := errors.NewSinkStateError(
//	    "Cannot write index layer strips",
//	    "The layer already exists",
//	    "Rerun with --overwrite to replace it or --append to add to it",
//	    underlyingErr,
//	)
//	errors.FatalError(err, false)
//
// # Formatted Output
//
// Format renders colored terminal output:
//
//	Error: Cannot write index layer strips
//	Cause: The layer already exists
//	Fix:   Rerun with --overwrite to replace it or --append to add to it
//
// With --json the same error is printed by ToJSON:
//
//	{
//	  "error": "Cannot write index layer strips",
//	  "cause": "The layer already exists",
//	  "fix": "Rerun with --overwrite to replace it or --append to add to it",
//	  "exit_code": 7
//	}
//
// # Exit Codes
//
//   - ExitSuccess (0): Successful execution
//   - ExitConfig (1): Configuration errors (missing or invalid config)
//   - ExitDatabase (2): Sink errors (connection refused, write failed)
//   - ExitInput (4): Invalid user input (bad arguments, unknown mode)
//   - ExitNotFound (6): Source path or layer not found
//   - ExitSinkState (7): Target layer exists without overwrite or append
//   - ExitIncomplete (8): No valid records, or records missing after the check pass
//   - ExitInternal (10): Internal errors (bugs, panics)
package errors

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
)

// Exit codes for different error categories.
const (
	ExitSuccess = 0

	// ExitConfig indicates configuration errors (missing or invalid config files).
	ExitConfig = 1

	// ExitDatabase indicates index sink errors.
	ExitDatabase = 2

	// ExitInput indicates invalid user input (bad arguments, validation errors).
	ExitInput = 4

	// ExitNotFound indicates a missing source path or layer.
	ExitNotFound = 6

	// ExitSinkState indicates a target layer that exists while neither
	// overwrite nor append was requested. Nothing was written.
	ExitSinkState = 7

	// ExitIncomplete indicates a run that wrote no valid record, or whose
	// check pass found records missing from the layer.
	ExitIncomplete = 8

	// ExitInternal indicates internal errors (bugs, unexpected panics).
	// Exit code 10 signals "this is a bug that should be reported".
	ExitInternal = 10
)

// UserError represents an error with structured context for end users.
type UserError struct {
	// Message describes what went wrong in user-friendly language.
	Message string

	// Cause explains why the error occurred.
	Cause string

	// Fix provides an actionable suggestion.
	Fix string

	ExitCode int

	// Err is the underlying error, kept for errors.Is and errors.As.
	Err error
}

func (e *UserError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *UserError) Unwrap() error {
	return e.Err
}

func newUserError(code int, msg, cause, fix string, err error) *UserError {
	return &UserError{Message: msg, Cause: cause, Fix: fix, ExitCode: code, Err: err}
}

// NewConfigError creates a configuration error with exit code ExitConfig.
func NewConfigError(msg, cause, fix string, err error) *UserError {
	return newUserError(ExitConfig, msg, cause, fix, err)
}

// NewDatabaseError creates a sink error with exit code ExitDatabase.
//
// Use this when a destination cannot be opened or written, whatever its
// format.
func NewDatabaseError(msg, cause, fix string, err error) *UserError {
	return newUserError(ExitDatabase, msg, cause, fix, err)
}

// NewInputError creates an input validation error with exit code ExitInput.
// Input errors do not wrap an underlying error.
func NewInputError(msg, cause, fix string) *UserError {
	return newUserError(ExitInput, msg, cause, fix, nil)
}

// NewNotFoundError creates a not found error with exit code ExitNotFound.
func NewNotFoundError(msg, cause, fix string) *UserError {
	return newUserError(ExitNotFound, msg, cause, fix, nil)
}

// NewSinkStateError creates an error with exit code ExitSinkState.
func NewSinkStateError(msg, cause, fix string, err error) *UserError {
	return newUserError(ExitSinkState, msg, cause, fix, err)
}

// NewIncompleteError creates an error with exit code ExitIncomplete.
func NewIncompleteError(msg, cause, fix string, err error) *UserError {
	return newUserError(ExitIncomplete, msg, cause, fix, err)
}

// NewInternalError creates an internal error with exit code ExitInternal.
func NewInternalError(msg, cause, fix string, err error) *UserError {
	return newUserError(ExitInternal, msg, cause, fix, err)
}

var (
	colorError = color.New(color.FgRed, color.Bold)
	colorCause = color.New(color.FgYellow)
	colorFix   = color.New(color.FgGreen)
)

// Format returns the error for terminal display, with the Error, Cause and
// Fix labels colored unless noColor is set or NO_COLOR is in the
// environment. Empty Cause or Fix fields are omitted.
//
// Note: the global color.NoColor state is restored before returning.
func (e *UserError) Format(noColor bool) string {
	originalNoColor := color.NoColor
	defer func() { color.NoColor = originalNoColor }()

	if noColor || os.Getenv("NO_COLOR") != "" {
		color.NoColor = true
	}

	var out strings.Builder
	out.WriteString(colorError.Sprint("Error: "))
	out.WriteString(e.Message)
	out.WriteString("\n")

	if e.Cause != "" {
		out.WriteString(colorCause.Sprint("Cause: "))
		out.WriteString(e.Cause)
		out.WriteString("\n")
	}

	if e.Fix != "" {
		out.WriteString(colorFix.Sprint("Fix:   "))
		out.WriteString(e.Fix)
		out.WriteString("\n")
	}

	return out.String()
}

// ErrorJSON represents error information in JSON format.
type ErrorJSON struct {
	Error    string `json:"error"`
	Cause    string `json:"cause,omitempty"`
	Fix      string `json:"fix,omitempty"`
	ExitCode int    `json:"exit_code"`
}

// ToJSON converts the UserError to a JSON-serializable structure.
func (e *UserError) ToJSON() ErrorJSON {
	return ErrorJSON{
		Error:    e.Message,
		Cause:    e.Cause,
		Fix:      e.Fix,
		ExitCode: e.ExitCode,
	}
}

// FatalError prints err and exits with its code. Errors that are not a
// *UserError exit with ExitInternal. A nil err does nothing.
func FatalError(err error, jsonOutput bool) {
	if err == nil {
		return
	}

	if ue, ok := err.(*UserError); ok {
		if jsonOutput {
			enc := json.NewEncoder(os.Stderr)
			enc.SetIndent("", "  ")
			// The exit code is what matters once we get here.
			_ = enc.Encode(ue.ToJSON())
		} else {
			fmt.Fprint(os.Stderr, ue.Format(false))
		}
		os.Exit(ue.ExitCode)
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(ExitInternal)
}
