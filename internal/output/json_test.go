// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

package output

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestJSON(t *testing.T) {
	var buf bytes.Buffer

	data := map[string]any{
		"layer":    "strips",
		"inserted": 42,
	}
	if err := JSONTo(&buf, data); err != nil {
		t.Fatalf("JSONTo failed: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, `  "layer": "strips"`) {
		t.Errorf("missing indented layer field, got: %s", out)
	}
	if !strings.Contains(out, `"inserted": 42`) {
		t.Errorf("missing inserted field, got: %s", out)
	}
	if !strings.HasSuffix(out, "}\n") {
		t.Errorf("expected trailing newline, got: %q", out)
	}
}

func TestJSON_Struct(t *testing.T) {
	type summary struct {
		RunID   string   `json:"run_id"`
		Missing []string `json:"missing,omitempty"`
	}
	var buf bytes.Buffer
	if err := JSONTo(&buf, summary{RunID: "abc"}); err != nil {
		t.Fatalf("JSONTo failed: %v", err)
	}
	want := "{\n  \"run_id\": \"abc\"\n}\n"
	if buf.String() != want {
		t.Errorf("JSONTo = %q, want %q", buf.String(), want)
	}
}

func TestJSON_Unencodable(t *testing.T) {
	var buf bytes.Buffer
	if err := JSONTo(&buf, map[string]any{"ch": make(chan int)}); err == nil {
		t.Error("expected an error for a channel value")
	}
}

func TestJSONError(t *testing.T) {
	var buf bytes.Buffer
	if err := JSONErrorTo(&buf, errors.New("layer strips exists"), 7); err != nil {
		t.Fatalf("JSONErrorTo failed: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, `"error": "layer strips exists"`) || !strings.Contains(out, `"exit_code": 7`) {
		t.Errorf("unexpected error JSON: %s", out)
	}

	buf.Reset()
	if err := JSONErrorTo(&buf, errors.New("boom"), 0); err != nil {
		t.Fatalf("JSONErrorTo failed: %v", err)
	}
	if strings.Contains(buf.String(), "exit_code") {
		t.Errorf("zero exit code should be omitted: %s", buf.String())
	}
}
