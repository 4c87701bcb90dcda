package logger

import (
	"bytes"
	"strings"
	"testing"
)

func TestLevelsAndPrefixes(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerTo(&buf)

	l.Info("loaded")
	l.Warnf("unknown upgrade %q", "laserCat")
	l.Errorf("save failed: %v", "disk full")
	l.Event("UPGRADE_PURCHASED", "PLAYER", "pointer x1")

	out := buf.String()
	for _, want := range []string{
		"[CHEESE-INFO] ",
		"loaded",
		"[CHEESE-WARN] ",
		`unknown upgrade "laserCat"`,
		"[CHEESE-ERROR] ",
		"save failed: disk full",
		"[EVENT:UPGRADE_PURCHASED] Actor:PLAYER | pointer x1",
		"logger_test.go",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected output to contain %q, got:\n%s", want, out)
		}
	}
}

func TestNopDiscards(t *testing.T) {
	l := NewNop()
	l.Info("nothing")
	l.Error("nothing")
}
