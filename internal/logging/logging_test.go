package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestInitializeToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.log")
	if err := Initialize(Config{Level: "warn", Format: "json", Output: path}); err != nil {
		t.Fatal(err)
	}
	defer InitializeDefault()

	Info("dropped below level")
	Warn("item aborted", SKU("M-12X"), Ruleset("baterias", "2024.1"))
	Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	out := string(data)
	if strings.Contains(out, "dropped below level") {
		t.Error("info entry written at warn level")
	}
	for _, want := range []string{`"msg":"item aborted"`, `"sku":"M-12X"`, `"ruleset":"baterias@2024.1"`} {
		if !strings.Contains(out, want) {
			t.Errorf("log missing %s:\n%s", want, out)
		}
	}
}

func TestInitializeBadLevelFallsBackToInfo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.log")
	if err := Initialize(Config{Level: "loud", Format: "console", Output: path}); err != nil {
		t.Fatal(err)
	}
	defer InitializeDefault()

	Debug("hidden")
	Info("shown")
	Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "hidden") || !strings.Contains(string(data), "shown") {
		t.Errorf("unexpected log output:\n%s", data)
	}
	if strings.Contains(string(data), "\x1b[") {
		t.Error("file output should not be colored")
	}
}

func TestUseLogger(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	UseLogger(zap.New(core))
	defer InitializeDefault()

	With(RunID("r-1")).Info("Run saved")

	entries := logs.FilterMessage("Run saved").All()
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}
	if got := entries[0].ContextMap()["run_id"]; got != "r-1" {
		t.Errorf("run_id = %v", got)
	}
}
