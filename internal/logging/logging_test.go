package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/ashureev/shsh-support/internal/config"
	"github.com/ashureev/shsh-support/internal/diagnostics"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewJSONWithRing(t *testing.T) {
	var out bytes.Buffer
	logger, logs := New(config.LogConfig{Level: "info", Format: "json", RingBytes: 4096, RingDevices: 4, RingLevel: "debug"}, &out)

	logger.Debug("ring only", diagnostics.Device("dev_1"), "k", "v")
	logger.Info("both", diagnostics.Device("dev_1"))

	var rec map[string]interface{}
	if err := json.Unmarshal(out.Bytes(), &rec); err != nil {
		t.Fatalf("primary output is not a single JSON record: %v\n%s", err, out.String())
	}
	if rec["msg"] != "both" {
		t.Errorf("msg = %v", rec["msg"])
	}

	captured := logs.Text("dev_1")
	if !strings.Contains(captured, "ring only") || !strings.Contains(captured, "both") {
		t.Errorf("ring missing records:\n%s", captured)
	}
}

func TestNewTextFormat(t *testing.T) {
	var out bytes.Buffer
	logger, _ := New(config.LogConfig{Level: "info", Format: "text", RingBytes: 1024, RingLevel: "info"}, &out)
	logger.Info("hello", diagnostics.Device("dev_1"))
	if !strings.Contains(out.String(), "msg=hello") || strings.Contains(out.String(), "dev_1") {
		t.Errorf("text output = %q", out.String())
	}
}
