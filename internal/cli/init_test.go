package cli

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"dailyledger/internal/config"
	"dailyledger/internal/core"
	"dailyledger/internal/metrics"
)

func TestNewClassifier(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		c, err := NewClassifier(&config.Config{ClassifierCacheSize: 8})
		if err != nil {
			t.Fatalf("NewClassifier() error = %v", err)
		}
		if got := c.Classify("Rent"); got != core.Primary {
			t.Errorf("Classify(Rent) = %v, want primary", got)
		}
	})

	t.Run("keyword file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "keywords.yaml")
		content := "primary: [pets]\nsecondary: [gym]\n"
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
		c, err := NewClassifier(&config.Config{KeywordsFile: path})
		if err != nil {
			t.Fatalf("NewClassifier() error = %v", err)
		}
		if got := c.Classify("Pets"); got != core.Primary {
			t.Errorf("Classify(Pets) = %v, want primary", got)
		}
		if got := c.Classify("Rent"); got != core.Tertiary {
			t.Errorf("Classify(Rent) = %v, want tertiary with custom keywords", got)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if _, err := NewClassifier(&config.Config{KeywordsFile: "/non/existent.yaml"}); err == nil {
			t.Error("NewClassifier() should fail for a missing keyword file")
		}
	})
}

func TestSetupLogger(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	logger := SetupLogger("debug", "json")
	if logger == nil {
		t.Fatal("SetupLogger() returned nil")
	}
	if !logger.Enabled(t.Context(), slog.LevelDebug) {
		t.Error("debug level should be enabled")
	}
	if slog.Default() != logger {
		t.Error("SetupLogger() should install the default logger")
	}
}

func TestFlushMetrics(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	m := metrics.New()
	m.Decoded(2)

	FlushMetrics(logger, m, "")

	path := filepath.Join(t.TempDir(), "ledger.prom")
	FlushMetrics(logger, m, path)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("metrics textfile not written: %v", err)
	}
	if !strings.Contains(string(data), "dailyledger_") {
		t.Errorf("metrics textfile missing ledger metrics:\n%s", data)
	}
}
