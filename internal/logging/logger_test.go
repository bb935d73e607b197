package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNewWritesJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "chatmaild.log")
	logger, err := New(path, "main", zapcore.InfoLevel)
	if err != nil {
		t.Fatal(err)
	}
	logger.Info("hello")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"account":"main"`) || !strings.Contains(string(data), `"msg":"hello"`) {
		t.Errorf("log line = %s", data)
	}
}

func TestParseLevel(t *testing.T) {
	if ParseLevel("debug") != zapcore.DebugLevel {
		t.Error("debug not parsed")
	}
	for _, s := range []string{"", "nonsense"} {
		if ParseLevel(s) != zapcore.InfoLevel {
			t.Errorf("ParseLevel(%q) should default to info", s)
		}
	}
}

func TestLevelFiltersFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chatmaild.log")
	logger, err := New(path, "main", zapcore.WarnLevel)
	if err != nil {
		t.Fatal(err)
	}
	logger.Info("quiet")
	logger.Warn("loud")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "quiet") || !strings.Contains(string(data), "loud") {
		t.Errorf("log = %s", data)
	}
}

func TestNewFileSkipsStderr(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	stderr := os.Stderr
	os.Stderr = w
	t.Cleanup(func() { os.Stderr = stderr })

	path := filepath.Join(t.TempDir(), "tui.log")
	logger, err := NewFile(path, "main", zapcore.InfoLevel)
	if err != nil {
		t.Fatal(err)
	}
	logger.Info("drawn elsewhere")
	_ = logger.Sync()
	_ = w.Close()

	echoed, _ := io.ReadAll(r)
	if len(echoed) != 0 {
		t.Errorf("stderr got %q", echoed)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "drawn elsewhere") {
		t.Errorf("log = %s", data)
	}
}
