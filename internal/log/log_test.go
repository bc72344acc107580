package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestJSONRecordCarriesFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, Debug, true).With(map[string]string{"run_id": "6f1c2a9e-8d4b-4c3e-9a55-0b7f3f8f2c11"})
	l.Info("models entered", "k", 3, "added", 280)

	var rec map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &rec); err != nil {
		t.Fatalf("decode: %v (%s)", err, buf.String())
	}
	if rec["msg"] != "models entered" {
		t.Fatalf("msg=%v", rec["msg"])
	}
	if rec["run_id"] != "6f1c2a9e-8d4b-4c3e-9a55-0b7f3f8f2c11" {
		t.Fatalf("run id should not be masked: %v", rec["run_id"])
	}
	if rec["added"].(float64) != 280 {
		t.Fatalf("added=%v", rec["added"])
	}
}

func TestLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, Warn, false)
	l.Info("hidden")
	l.Warn("shown")
	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "shown") {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestMaskSecrets(t *testing.T) {
	m := map[string]any{
		"api_key": "abcdefghijklmnop",
		"header":  "Bearer abcdefghijkl",
		"path":    "/tmp/mixsearch.db",
	}
	maskSecrets(m)
	if m["api_key"] != "abcd***mnop" {
		t.Fatalf("api_key=%v", m["api_key"])
	}
	if m["header"] != "Bearer abcd***ijkl" {
		t.Fatalf("header=%v", m["header"])
	}
	if m["path"] != "/tmp/mixsearch.db" {
		t.Fatalf("path=%v", m["path"])
	}
}

func TestNilLoggerIsSilent(t *testing.T) {
	var l *Logger
	l.Info("nothing")
	l.With(map[string]string{"a": "b"}).Error("still nothing")
}

func TestParseLevel(t *testing.T) {
	if ParseLevel("DEBUG") != Debug || ParseLevel("warning") != Warn || ParseLevel("bogus") != Info {
		t.Fatalf("unexpected level parsing")
	}
}
