package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestConsoleHandler_Format(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelDebug, Output: &buf})

	logger.Info("server connected", "host", "10.0.0.5", "port", 27015)

	line := buf.String()
	if !strings.Contains(line, "[info]") {
		t.Errorf("expected level marker in %q", line)
	}
	if !strings.Contains(line, "server connected") {
		t.Errorf("expected message in %q", line)
	}
	if !strings.Contains(line, "host=10.0.0.5") {
		t.Errorf("expected host attr in %q", line)
	}
	if !strings.Contains(line, "port=27015") {
		t.Errorf("expected port attr in %q", line)
	}
}

func TestConsoleHandler_ComponentPromotion(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelDebug, Output: &buf}).WithComponent("supervisor")

	logger.Warn("poll failed")

	line := buf.String()
	if !strings.Contains(line, "supervisor: poll failed") {
		t.Errorf("expected component header in %q", line)
	}
	if strings.Contains(line, "component=") {
		t.Errorf("component should not appear as attr in %q", line)
	}
}

func TestConsoleHandler_QuotesValuesWithSpaces(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelDebug, Output: &buf})

	logger.Info("exec", "command", "players list")

	if !strings.Contains(buf.String(), `command="players list"`) {
		t.Errorf("expected quoted value in %q", buf.String())
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelWarn, Output: &buf})

	logger.Debug("invisible")
	logger.Info("also invisible")
	logger.Warn("visible")

	out := buf.String()
	if strings.Contains(out, "invisible") {
		t.Errorf("low-severity lines should be filtered: %q", out)
	}
	if !strings.Contains(out, "visible") {
		t.Errorf("warn line missing: %q", out)
	}

	logger.SetLevel(LevelDebug)
	logger.Debug("now visible")
	if !strings.Contains(buf.String(), "now visible") {
		t.Error("SetLevel did not take effect")
	}
}

func TestRingBuffer_Wraps(t *testing.T) {
	rb := NewRingBuffer(3)
	for _, msg := range []string{"a", "b", "c", "d"} {
		rb.Add(AppLogEntry{Message: msg})
	}

	all := rb.GetAll()
	if len(all) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(all))
	}
	if all[0].Message != "b" || all[2].Message != "d" {
		t.Errorf("unexpected order: %v", all)
	}

	last := rb.GetLast(2)
	if len(last) != 2 || last[1].Message != "d" {
		t.Errorf("GetLast wrong: %v", last)
	}
}

func TestJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelInfo, Output: &buf, JSON: true})

	logger.Info("hello", "k", "v")

	if !strings.Contains(buf.String(), `"msg":"hello"`) {
		t.Errorf("expected JSON output, got %q", buf.String())
	}
}
