package enumerate

import (
	"context"
	"fmt"
	"time"

	"mixsearch/internal/log"
	"mixsearch/internal/models"
	"mixsearch/internal/store"
)

// Options controls persistence of an enumeration.
type Options struct {
	// BatchSize is the number of codes committed per store transaction.
	BatchSize int
}

// Result summarises Ensure for one model size.
type Result struct {
	K       int           `json:"k"`
	Skipped bool          `json:"skipped"` // completion marker already present
	Resumed int           `json:"resumed"` // codes found from earlier runs
	Added   int           `json:"added"`
	Total   int           `json:"total"`
	Elapsed time.Duration `json:"elapsed"`
}

// Ensure makes sure every valid code of size k is recorded in st followed by
// the completion marker. A size that is already complete is left untouched.
// An interrupted earlier run is resumed from the persisted count.
func Ensure(ctx context.Context, st store.EnumerationStore, k int, opt Options, logger *log.Logger) (Result, error) {
	res := Result{K: k}
	start := time.Now()
	if opt.BatchSize <= 0 {
		opt.BatchSize = 1000
	}
	complete, err := st.IsComplete(ctx, k)
	if err != nil {
		return res, err
	}
	if complete {
		res.Skipped = true
		res.Total, err = st.CodeCount(ctx, k)
		logger.Info("models already enumerated", "k", k, "total", res.Total)
		return res, err
	}
	done, err := st.CodeCount(ctx, k)
	if err != nil {
		return res, err
	}
	res.Resumed = done
	if done > 0 {
		logger.Info("resuming enumeration", "k", k, "recorded", done)
	}

	seq := done + 1
	buf := make([]models.ModelCode, 0, opt.BatchSize)
	flush := func() error {
		if len(buf) == 0 {
			return nil
		}
		if err := st.AppendCodes(ctx, k, seq, buf); err != nil {
			return err
		}
		seq += len(buf)
		res.Added += len(buf)
		buf = buf[:0]
		return nil
	}
	total, err := Run(ctx, k, done, func(c models.ModelCode) error {
		buf = append(buf, c)
		if len(buf) >= opt.BatchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return res, fmt.Errorf("enumerate k=%d: %w", k, err)
	}
	if err := flush(); err != nil {
		return res, fmt.Errorf("enumerate k=%d: %w", k, err)
	}
	if err := st.MarkComplete(ctx, k, total); err != nil {
		return res, err
	}
	res.Total = total
	res.Elapsed = time.Since(start)
	logger.Info("models entered", "k", k, "added", res.Added, "total", total, "elapsed", res.Elapsed.Round(time.Millisecond).String())
	return res, nil
}
