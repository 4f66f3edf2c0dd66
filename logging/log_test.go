package logging

import (
	"bytes"
	"io"
	"strings"
	"testing"
)

func TestLogFileAndLevel(t *testing.T) {
	var buf bytes.Buffer
	old := log
	log = newLogger()
	defer func() { log = old }()

	SetLogFile(&buf)
	SetLogLevel(LogLevelWarning)

	Infof("hidden %d", 1)
	Warnf("shown %d", 2)
	WithField("contract", "aa").Errorf("failed")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info line written at warning level:\n%s", out)
	}
	if !strings.Contains(out, "shown 2") || !strings.Contains(out, "contract=aa") {
		t.Fatalf("missing lines:\n%s", out)
	}
}

func TestParseLogLevel(t *testing.T) {
	for in, want := range map[string]LogLevel{
		"error": LogLevelError, "warn": LogLevelWarning, "info": LogLevelInfo, "debug": LogLevelDebug,
	} {
		got, err := ParseLogLevel(in)
		if err != nil || got != want {
			t.Fatalf("%s: got %d, %v", in, got, err)
		}
	}
	if _, err := ParseLogLevel("loud"); err == nil {
		t.Fatal("expected error")
	}
}

func TestLogOutputKeepsFile(t *testing.T) {
	var console, file bytes.Buffer
	old := log
	log = newLogger()
	defer func() { log = old }()

	SetLogFile(&file)
	SetLogOutput(&console)
	SetLogLevel(LogLevelInfo)
	Infof("both")

	if !strings.Contains(console.String(), "both") || !strings.Contains(file.String(), "both") {
		t.Fatalf("console %q, file %q", console.String(), file.String())
	}

	console.Reset()
	SetLogOutput(io.Discard)
	Infof("file only")
	if console.Len() != 0 || !strings.Contains(file.String(), "file only") {
		t.Fatalf("console %q, file %q", console.String(), file.String())
	}
}
