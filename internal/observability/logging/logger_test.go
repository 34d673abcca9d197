package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewTagsServiceAndFiltersLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "clearance-api", "warn")

	logger.Info("shipment_submitted", "shipment_id", "s-1")
	if buf.Len() != 0 {
		t.Fatalf("info record should be filtered at warn level: %s", buf.String())
	}

	logger.Warn("classification_degraded", "operation", "suggest_hs")
	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if record["service"] != "clearance-api" || record["msg"] != "classification_degraded" {
		t.Fatalf("unexpected record: %v", record)
	}
}
