// Package notify signals the end of a long batch.
package notify

import (
	"io"
	"os"

	"mixsearch/internal/log"
)

// Notifier is told when a batch finishes.
type Notifier interface {
	Done(summary string, failed bool)
}

// Nop ignores every signal. It is what a disabled notifier does.
type Nop struct{}

func (Nop) Done(string, bool) {}

// Bell rings the terminal bell on W and logs the summary.
type Bell struct {
	W      io.Writer
	Logger *log.Logger
}

func (b Bell) Done(summary string, failed bool) {
	w := b.W
	if w == nil {
		w = os.Stderr
	}
	rings := 1
	if failed {
		rings = 3
	}
	for i := 0; i < rings; i++ {
		_, _ = io.WriteString(w, "\a")
	}
	if failed {
		b.Logger.Warn("batch finished with failures", "summary", summary)
		return
	}
	b.Logger.Info("batch finished", "summary", summary)
}

// New returns a Bell when enabled, otherwise Nop.
func New(enabled bool, logger *log.Logger) Notifier {
	if !enabled {
		return Nop{}
	}
	return Bell{W: os.Stderr, Logger: logger}
}
