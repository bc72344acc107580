package notify

import (
	"bytes"
	"strings"
	"testing"

	"mixsearch/internal/log"
)

func TestDisabledIsNop(t *testing.T) {
	if _, ok := New(false, nil).(Nop); !ok {
		t.Fatalf("disabled notifier should be Nop")
	}
	if _, ok := New(true, nil).(Bell); !ok {
		t.Fatalf("enabled notifier should be Bell")
	}
}

func TestBellRingsAndLogs(t *testing.T) {
	var out, logs bytes.Buffer
	b := Bell{W: &out, Logger: log.NewWithWriter(&logs, log.Info, true)}
	b.Done("3 contexts", false)
	if out.String() != "\a" {
		t.Fatalf("bell output %q", out.String())
	}
	if !strings.Contains(logs.String(), `"summary":"3 contexts"`) {
		t.Fatalf("missing summary in log: %s", logs.String())
	}

	out.Reset()
	b.Done("1 failed", true)
	if out.String() != "\a\a\a" {
		t.Fatalf("failure bell output %q", out.String())
	}
}
