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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	demerrors "github.com/kraklabs/demindex/internal/errors"
	"github.com/kraklabs/demindex/pkg/index"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"sink state", &index.SinkStateError{Layer: "strips", Reason: "layer exists"}, demerrors.ExitSinkState},
		{"wrapped sink state", fmt.Errorf("run: %w", &index.SinkStateError{Layer: "strips"}), demerrors.ExitSinkState},
		{"no records", &index.IncompleteError{}, demerrors.ExitIncomplete},
		{"missing records", &index.IncompleteError{Written: 5, Missing: 2}, demerrors.ExitIncomplete},
		{"canceled", fmt.Errorf("load: %w", context.Canceled), demerrors.ExitIncomplete},
		{"missing source", fmt.Errorf("walk source: %w", fs.ErrNotExist), demerrors.ExitNotFound},
		{"user error kept", demerrors.NewDatabaseError("Cannot open destination", "", "", nil), demerrors.ExitDatabase},
		{"anything else", errors.New("boom"), demerrors.ExitInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ue := classify(tt.err)
			require.NotNil(t, ue)
			assert.Equal(t, tt.code, ue.ExitCode)
			assert.ErrorIs(t, ue, tt.err)
		})
	}
}

func TestClassify_NoError(t *testing.T) {
	assert.Nil(t, classify(nil))
	assert.Nil(t, classify(pflag.ErrHelp))
}

func TestClassify_MissingRecordsMessage(t *testing.T) {
	ue := classify(&index.IncompleteError{Written: 5, Missing: 2})
	assert.Equal(t, "2 of 5 records are missing from the index", ue.Message)
}

func TestReport(t *testing.T) {
	ue := classify(&index.SinkStateError{Layer: "strips", Reason: "layer exists"})

	t.Run("text", func(t *testing.T) {
		var buf bytes.Buffer
		code := report(&buf, ue, &GlobalFlags{NoColor: true})
		assert.Equal(t, demerrors.ExitSinkState, code)
		assert.Equal(t, "Error: Cannot write layer strips\n"+
			"Cause: layer exists\n"+
			"Fix:   Pass --overwrite to replace the layer or --append to add to it\n", buf.String())
	})

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		code := report(&buf, ue, &GlobalFlags{JSON: true})
		assert.Equal(t, demerrors.ExitSinkState, code)

		var got demerrors.ErrorJSON
		require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
		assert.Equal(t, demerrors.ExitSinkState, got.ExitCode)
		assert.Equal(t, "Cannot write layer strips", got.Error)
	})

	t.Run("success", func(t *testing.T) {
		var buf bytes.Buffer
		assert.Equal(t, demerrors.ExitSuccess, report(&buf, nil, &GlobalFlags{}))
		assert.Empty(t, buf.String())
	})
}
