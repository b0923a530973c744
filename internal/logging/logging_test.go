package logging

import (
	"bytes"
	"strings"
	"testing"
)

func captureDebugOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	orig := debugWriter
	debugWriter = &buf
	t.Cleanup(func() {
		Shutdown()
		debugWriter = orig
	})
	return &buf
}

func TestDebugModeWritesWithoutLogDir(t *testing.T) {
	buf := captureDebugOutput(t)

	Init(Config{Debug: true, Format: "text"})
	Logger().Info("daemon_started")

	if !strings.Contains(buf.String(), "daemon_started") {
		t.Fatalf("debug output missing, got %q", buf.String())
	}
}

func TestDebugModeCarriesComponent(t *testing.T) {
	buf := captureDebugOutput(t)

	Init(Config{Debug: true, Format: "text"})
	ForComponent(CompScanner).Info("scan_transition")

	out := buf.String()
	if !strings.Contains(out, "scan_transition") || !strings.Contains(out, "component=scanner") {
		t.Fatalf("component output missing, got %q", out)
	}
}

func TestEmptyLogDirWithoutDebugDiscards(t *testing.T) {
	buf := captureDebugOutput(t)

	Init(Config{})
	Logger().Info("should_vanish")

	if buf.Len() != 0 {
		t.Fatalf("expected discard, got %q", buf.String())
	}
}

func TestDebugModeHonorsLevel(t *testing.T) {
	buf := captureDebugOutput(t)

	Init(Config{Debug: true, Level: "warn", Format: "text"})
	Logger().Info("below_threshold")
	Logger().Warn("at_threshold")

	out := buf.String()
	if strings.Contains(out, "below_threshold") {
		t.Fatalf("info leaked past warn level: %q", out)
	}
	if !strings.Contains(out, "at_threshold") {
		t.Fatalf("warn output missing: %q", out)
	}
}
