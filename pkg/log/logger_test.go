package log

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(WithLevel(WarnLevel), WithFormatter(&TextFormatter{}), WithOutput(NewWriterOutput(&buf)))
	l.Info("dropped")
	l.Warn("kept")
	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Fatalf("info should be filtered: %q", out)
	}
	if !strings.Contains(out, "kept") {
		t.Fatalf("warn should be emitted: %q", out)
	}
}

func TestWithFieldsPropagate(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(WithFormatter(&JSONFormatter{}), WithOutput(NewWriterOutput(&buf)))
	l = l.With(Component("claims"), Str("queue", "orders"))
	l.Info("granted", Int("won", 3), Err(errors.New("boom")))

	var doc map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if doc["component"] != "claims" || doc["queue"] != "orders" {
		t.Fatalf("missing derived fields: %v", doc)
	}
	if doc["won"] != float64(3) || doc["error"] != "boom" {
		t.Fatalf("missing call fields: %v", doc)
	}
	if doc["msg"] != "granted" || doc["level"] != "INFO" {
		t.Fatalf("missing envelope: %v", doc)
	}
}

func TestParseLevel(t *testing.T) {
	if lvl, err := ParseLevel("warning"); err != nil || lvl != WarnLevel {
		t.Fatalf("warning: %v %v", lvl, err)
	}
	if _, err := ParseLevel("verbose"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func TestApplyConfigRejectsUnknownFormat(t *testing.T) {
	if _, err := ApplyConfig(&Config{Level: "info", Format: "xml"}); err == nil {
		t.Fatalf("expected error")
	}
}
