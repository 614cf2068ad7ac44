package logger

import (
	"bytes"
	"strings"
	"testing"
)

func newBufferLogger(level LogLevel) (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.Output = &buf
	cfg.Level = level
	cfg.ShowTime = false
	cfg.Colorize = ColorNever
	return New(cfg), &buf
}

func TestLevelFiltering(t *testing.T) {
	l, buf := newBufferLogger(WARN)

	l.Debugf("debug %d", 1)
	l.Infof("info %d", 2)
	l.Warnf("warn %d", 3)
	l.Errorf("error %d", 4)

	out := buf.String()
	if strings.Contains(out, "debug 1") || strings.Contains(out, "info 2") {
		t.Errorf("Expected DEBUG and INFO to be filtered, got %q", out)
	}
	if !strings.Contains(out, "[WARN] warn 3") {
		t.Errorf("Expected WARN line, got %q", out)
	}
	if !strings.Contains(out, "[ERROR] error 4") {
		t.Errorf("Expected ERROR line, got %q", out)
	}
}

func TestWithAppendsFields(t *testing.T) {
	l, buf := newBufferLogger(DEBUG)

	child := l.With("run", "abc", "strategy", "dense")
	child.Infof("started")
	l.Infof("parent")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("Expected 2 lines, got %d: %q", len(lines), buf.String())
	}
	if !strings.HasSuffix(lines[0], "started run=abc strategy=dense") {
		t.Errorf("Expected fields on child line, got %q", lines[0])
	}
	if strings.Contains(lines[1], "run=") {
		t.Errorf("Expected parent line without fields, got %q", lines[1])
	}

	// children share the level with their parent
	l.SetLevel(ERROR)
	child.Warnf("hidden")
	if strings.Contains(buf.String(), "hidden") {
		t.Errorf("Expected child to honour parent level")
	}
}

func TestFatalCallsExit(t *testing.T) {
	l, buf := newBufferLogger(INFO)
	code := -1
	l.s.exit = func(c int) { code = c }

	l.Fatalf("boom %s", "now")

	if code != 1 {
		t.Errorf("Expected exit code 1, got %d", code)
	}
	if !strings.Contains(buf.String(), "[FATAL] boom now") {
		t.Errorf("Expected fatal line, got %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
		ok   bool
	}{
		{"debug", DEBUG, true},
		{"INFO", INFO, true},
		{" warning ", WARN, true},
		{"Error", ERROR, true},
		{"fatal", FATAL, true},
		{"loud", INFO, false},
		{"", INFO, false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseLevel(tt.in)
			if got != tt.want || ok != tt.ok {
				t.Errorf("ParseLevel(%q) = %v,%v; expected %v,%v", tt.in, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestColorizeOnlyWhenForced(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.Output = &buf
	cfg.ShowTime = false

	// bytes.Buffer has no file descriptor, so auto mode stays plain
	New(cfg).Infof("plain")
	if strings.Contains(buf.String(), "\033[") {
		t.Errorf("Expected no colour codes in auto mode for a buffer, got %q", buf.String())
	}

	buf.Reset()
	cfg.Colorize = ColorAlways
	New(cfg).Infof("coloured")
	if !strings.Contains(buf.String(), colorBlue) {
		t.Errorf("Expected colour codes when forced, got %q", buf.String())
	}
}
