// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"

	"github.com/spf13/pflag"

	demerrors "github.com/kraklabs/demindex/internal/errors"
	"github.com/kraklabs/demindex/internal/output"
	"github.com/kraklabs/demindex/pkg/index"
)

// classify converts a command error into a UserError carrying its exit
// code. It returns nil for nil and for a help request.
func classify(err error) *demerrors.UserError {
	if err == nil || errors.Is(err, pflag.ErrHelp) {
		return nil
	}

	var ue *demerrors.UserError
	if errors.As(err, &ue) {
		return ue
	}

	var sse *index.SinkStateError
	if errors.As(err, &sse) {
		return demerrors.NewSinkStateError(
			fmt.Sprintf("Cannot write layer %s", sse.Layer),
			sse.Reason,
			"Pass --overwrite to replace the layer or --append to add to it",
			err,
		)
	}

	var ie *index.IncompleteError
	if errors.As(err, &ie) {
		if ie.Written == 0 {
			return demerrors.NewIncompleteError(
				"No valid records found",
				"Every source file was skipped or failed to load",
				"Check the source path and --mode, and run with --debug to see why files were rejected",
				err,
			)
		}
		return demerrors.NewIncompleteError(
			fmt.Sprintf("%d of %d records are missing from the index", ie.Missing, ie.Written),
			"The check pass did not find every written record in the target layer",
			"Inspect the log for the missing record ids and re-run with --append",
			err,
		)
	}

	if errors.Is(err, context.Canceled) {
		return demerrors.NewIncompleteError(
			"Run interrupted",
			"The command was canceled before it finished",
			"Re-run the command; with an index destination pass --overwrite or --append",
			err,
		)
	}

	if errors.Is(err, fs.ErrNotExist) {
		return &demerrors.UserError{
			Message:  "Source not found",
			Cause:    err.Error(),
			Fix:      "Check that the source path exists",
			ExitCode: demerrors.ExitNotFound,
			Err:      err,
		}
	}

	return demerrors.NewInternalError(
		"Unexpected error",
		err.Error(),
		"Run with --debug and report the log if the problem persists",
		err,
	)
}

// report prints ue to w, as JSON with --json, and returns its exit code.
func report(w io.Writer, ue *demerrors.UserError, g *GlobalFlags) int {
	if ue == nil {
		return demerrors.ExitSuccess
	}
	if g.JSON {
		if err := output.JSONTo(w, ue.ToJSON()); err != nil {
			fmt.Fprintf(w, "Error: %v\n", ue)
		}
		return ue.ExitCode
	}
	fmt.Fprint(w, ue.Format(g.NoColor))
	return ue.ExitCode
}
