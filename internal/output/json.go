// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

// Package output writes the machine-readable results of demindex commands.
//
// With --json every command prints exactly one JSON document on stdout:
// its summary on success, an error object on stderr on failure. Human
// output goes through the ui package instead.
//
// # Usage
//
//	if jsonMode {
//	    if err := output.JSON(summary); err != nil {
//	        errors.FatalError(err, true)
//	    }
//	}
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// JSON writes data as pretty-printed JSON to stdout.
func JSON(data any) error {
	return JSONTo(os.Stdout, data)
}

// JSONTo writes data as JSON indented by two spaces to w.
func JSONTo(w io.Writer, data any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(data); err != nil {
		return fmt.Errorf("JSON encoding failed: %w", err)
	}
	return nil
}

// ErrorJSON is the error object of a failed command.
type ErrorJSON struct {
	Error    string `json:"error"`
	ExitCode int    `json:"exit_code,omitempty"`
}

// JSONError writes err as JSON to stderr.
func JSONError(err error, exitCode int) error {
	return JSONErrorTo(os.Stderr, err, exitCode)
}

// JSONErrorTo writes err as JSON to w.
func JSONErrorTo(w io.Writer, err error, exitCode int) error {
	if encErr := JSONTo(w, ErrorJSON{Error: err.Error(), ExitCode: exitCode}); encErr != nil {
		return fmt.Errorf("JSON error encoding failed: %w", encErr)
	}
	return nil
}
