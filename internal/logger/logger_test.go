package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func lastLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var m map[string]any
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &m); err != nil {
		t.Fatalf("decode %q: %v", lines[len(lines)-1], err)
	}
	return m
}

func TestSlogBridge_ContextAndAttrs(t *testing.T) {
	var buf bytes.Buffer
	zl := Build(Config{Level: "debug", Service: "udf-store"}, &buf)
	log := NewSlog(&zl).With(slog.String("component", "mlstore"))

	ctx := WithRequestID(context.Background(), "req-1")
	ctx = WithModelHash(ctx, "d41d8cd98f00b204e9800998ecf8427e")
	log.InfoContext(ctx, "model stored",
		slog.Int64("bytes", 12),
		slog.Any("err", errors.New("catalog down")),
		slog.Duration("took", 1500*time.Millisecond),
	)

	m := lastLine(t, &buf)
	want := map[string]any{
		"msg":        "model stored",
		"level":      "info",
		"service":    "udf-store",
		"component":  "mlstore",
		"request_id": "req-1",
		"model_hash": "d41d8cd98f00b204e9800998ecf8427e",
		"bytes":      12.0,
		"err":        "catalog down",
	}
	for k, v := range want {
		if m[k] != v {
			t.Fatalf("%s=%v want %v (line %v)", k, m[k], v, m)
		}
	}
	if _, ok := m["timestamp"]; !ok {
		t.Fatalf("timestamp missing")
	}
}

func TestLevels_FilterBelowConfigured(t *testing.T) {
	var buf bytes.Buffer
	zl := Build(Config{Level: "warn"}, &buf)
	log := NewSlog(&zl)

	log.Info("dropped")
	log.Debug("dropped")
	if buf.Len() != 0 {
		t.Fatalf("expected no output, got %q", buf.String())
	}
	log.Warn("kept")
	if m := lastLine(t, &buf); m["level"] != "warn" || m["msg"] != "kept" {
		t.Fatalf("line=%v", m)
	}
	log.Error("bad")
	if m := lastLine(t, &buf); m["level"] != "error" {
		t.Fatalf("line=%v", m)
	}
}

func TestRequestID(t *testing.T) {
	ctx := WithRequestID(context.Background(), "")
	if id := RequestID(ctx); len(id) != 36 {
		t.Fatalf("generated id %q", id)
	}
	if RequestID(context.Background()) != "" {
		t.Fatalf("expected empty id")
	}
	l := FromContext(WithComponent(ctx, "http"), nil)
	l.Info().Msg("discarded")
}
