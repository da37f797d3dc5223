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

// Package ui provides terminal output helpers for the demindex CLI.
//
// Messages and tables go to the writer of a Printer. Commands print none
// of them with --json. Colors respect the --no-color flag and the
// NO_COLOR environment variable.
//
// Color usage guidelines:
//   - Red: Errors, failures
//   - Yellow: Warnings, skipped records
//   - Green: Success
//   - Cyan: Info, counts
//   - Bold: Headers, labels
//   - Dim: Paths
package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
)

var (
	Red    = color.New(color.FgRed)
	Yellow = color.New(color.FgYellow)
	Green  = color.New(color.FgGreen)
	Cyan   = color.New(color.FgCyan)
	Bold   = color.New(color.Bold)
	Dim    = color.New(color.Faint)
)

// InitColors configures global color output. Call it right after flag
// parsing.
func InitColors(noColor bool) {
	color.NoColor = noColor
}

// Printer writes prefixed, colored messages to a writer.
type Printer struct {
	w io.Writer
}

// NewPrinter returns a Printer writing to w.
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

// Writer returns the underlying writer.
func (p *Printer) Writer() io.Writer { return p.w }

// Successf prints a green message with a checkmark prefix.
//
// Example output: "✓ Indexed 42 strips"
func (p *Printer) Successf(format string, args ...any) {
	_, _ = Green.Fprintf(p.w, "✓ "+format+"\n", args...)
}

// Warningf prints a yellow message with a warning prefix.
//
// Example output: "⚠ 3 records skipped"
func (p *Printer) Warningf(format string, args ...any) {
	_, _ = Yellow.Fprintf(p.w, "⚠ "+format+"\n", args...)
}

// Errorf prints a red message with an X prefix.
func (p *Printer) Errorf(format string, args ...any) {
	_, _ = Red.Fprintf(p.w, "✗ "+format+"\n", args...)
}

// Infof prints a cyan message with an info prefix.
func (p *Printer) Infof(format string, args ...any) {
	_, _ = Cyan.Fprintf(p.w, "ℹ "+format+"\n", args...)
}

// Header prints a bold header underlined with '='.
func (p *Printer) Header(text string) {
	_, _ = Bold.Fprintln(p.w, text)
	fmt.Fprintln(p.w, strings.Repeat("=", len(text)))
}

// Table prints rows under header as a bordered table.
func (p *Printer) Table(header []string, rows [][]string) {
	table := tablewriter.NewWriter(p.w)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(true)
	table.SetHeader(header)
	table.AppendBulk(rows)
	table.Render()
}

// Label returns text in bold for inline use.
func Label(text string) string {
	return Bold.Sprint(text)
}

// DimText returns text dimmed, for paths and other details.
func DimText(text string) string {
	return Dim.Sprint(text)
}

// CountText returns a count in cyan.
func CountText(count int) string {
	return Cyan.Sprint(count)
}
