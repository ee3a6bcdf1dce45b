package log

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestLoggerAddsComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: slog.LevelDebug, Format: "json", Component: ComponentStorage, Output: &buf})

	logger.Info("stored", FieldItemID, 7)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected json output, got %q: %v", buf.String(), err)
	}
	if entry[FieldComponent] != ComponentStorage {
		t.Fatalf("expected component %q, got %v", ComponentStorage, entry[FieldComponent])
	}
	if entry[FieldItemID] != float64(7) {
		t.Fatalf("expected item id 7, got %v", entry[FieldItemID])
	}
}

func TestNewHandlerFormats(t *testing.T) {
	for _, format := range []string{"text", "json", "tint", "bogus"} {
		var buf bytes.Buffer
		h := NewHandler(&buf, format, slog.LevelInfo)
		slog.New(h).Info("hello")
		if !strings.Contains(buf.String(), "hello") {
			t.Fatalf("format %s: expected message in output, got %q", format, buf.String())
		}
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
		"other": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestContextRoundTrip(t *testing.T) {
	logger := New(DefaultConfig()).WithComponent(ComponentCLI)
	ctx := WithContext(context.Background(), logger)
	if FromContext(ctx).Component() != ComponentCLI {
		t.Fatalf("expected logger from context")
	}
	if FromContext(context.Background()).Component() != "unknown" {
		t.Fatalf("expected fallback logger")
	}
}

func TestFieldsBuilder(t *testing.T) {
	f := NewFields().WithComponent(ComponentService).WithOperation(OpReplace).WithRange(1, 2).WithError(nil)
	if len(f.ToSlice()) != 8 {
		t.Fatalf("expected 4 pairs, got %v", f.ToSlice())
	}
}
