package logging

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewAcceptsAllConfigLevels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", ""} {
		l, err := New(level)
		if err != nil {
			t.Fatalf("New(%q): %v", level, err)
		}
		if l == nil {
			t.Fatalf("New(%q) returned nil logger", level)
		}
	}
}

func TestPackageFunctionsUseSwappedLogger(t *testing.T) {
	original := global.Load()
	defer SetGlobal(original)

	core, obs := observer.New(zapcore.DebugLevel)
	SetGlobal(zap.New(core))

	Debug("d")
	Info("i", zap.String("key", "value"))
	Warn("w")
	Error("e")

	entries := obs.All()
	if len(entries) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(entries))
	}
	if entries[1].Message != "i" || entries[1].Level != zapcore.InfoLevel {
		t.Errorf("unexpected entry %+v", entries[1])
	}
	if entries[1].ContextMap()["key"] != "value" {
		t.Errorf("missing field in %v", entries[1].ContextMap())
	}
}

func TestLevelFiltering(t *testing.T) {
	original := global.Load()
	defer SetGlobal(original)

	core, obs := observer.New(zapcore.WarnLevel)
	SetGlobal(zap.New(core))

	Debug("hidden")
	Info("hidden")
	Warn("shown")
	Error("shown")

	if got := len(obs.All()); got != 2 {
		t.Fatalf("expected 2 entries at warn level, got %d", got)
	}
}
