// Package batch drives a search run end to end: enumerate each requested
// model size, then score every enumerated code in every requested context.
// Re-running the same request resumes where the previous run stopped.
package batch

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"mixsearch/internal/enumerate"
	"mixsearch/internal/features"
	"mixsearch/internal/log"
	"mixsearch/internal/models"
	"mixsearch/internal/notify"
	"mixsearch/internal/response"
	"mixsearch/internal/scoring"
	"mixsearch/internal/store"
)

// Options tunes a Runner. Zero values take defaults.
type Options struct {
	CV             scoring.ShuffleSplit
	Workers        int // scoring goroutines per context
	ContextWorkers int // contexts scored at once
	EnumBatch      int
	ClaimTTL       time.Duration
	ProgressEvery  int
	PCAVariance    float64
}

func (o Options) withDefaults() Options {
	if o.CV.Repeats == 0 && o.CV.TestFraction == 0 {
		o.CV = scoring.DefaultSplit
	}
	if o.Workers <= 0 {
		o.Workers = runtime.NumCPU()
	}
	if o.ContextWorkers <= 0 {
		o.ContextWorkers = 1
	}
	if o.EnumBatch <= 0 {
		o.EnumBatch = 1000
	}
	if o.ClaimTTL <= 0 {
		o.ClaimTTL = 10 * time.Minute
	}
	if o.ProgressEvery <= 0 {
		o.ProgressEvery = 10000
	}
	if o.PCAVariance <= 0 {
		o.PCAVariance = response.DefaultVariance
	}
	return o
}

// Request selects the work of one invocation.
type Request struct {
	Kind     string // enumerate, score or run; recorded on the run row
	Sizes    []int
	Contexts []models.ScoringContext
	// Derived lists the base contexts whose principal components are scored as
	// additional pca/component_N contexts. Empty means none.
	Derived []models.ScoringContext
	Force   bool
}

// Runner owns the store handle for the duration of its batches.
type Runner struct {
	repo     store.Repository
	opts     Options
	logger   *log.Logger
	notifier notify.Notifier
	owner    string
}

func NewRunner(repo store.Repository, opts Options, logger *log.Logger, n notify.Notifier) *Runner {
	if n == nil {
		n = notify.Nop{}
	}
	return &Runner{repo: repo, opts: opts.withDefaults(), logger: logger, notifier: n, owner: uuid.NewString()}
}

// Run executes req. The returned error is reserved for failures that stop
// the whole batch (no run record, cancellation); unit failures are in the
// report.
func (r *Runner) Run(ctx context.Context, req Request) (*Report, error) {
	kind := req.Kind
	if kind == "" {
		kind = "run"
	}
	run, err := r.repo.CreateRun(ctx, kind)
	if err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	logger := r.logger.With(map[string]string{"run_id": run.ID})
	rep := &Report{RunID: run.ID}
	start := time.Now()

	runErr := r.run(ctx, req, rep, run.ID, logger)

	status := rep.Status()
	if runErr != nil {
		status = models.RunFailed
	}
	// the run row is closed even when ctx was cancelled
	if err := r.repo.FinishRun(context.WithoutCancel(ctx), run.ID, status, rep.metrics()); err != nil {
		logger.Error("finish run", "error", err.Error())
	}
	logger.Info("batch done", "status", string(status), "summary", rep.Summary(), "elapsed", time.Since(start).Round(time.Millisecond).String())
	r.notifier.Done(rep.Summary(), runErr != nil || !rep.OK())
	return rep, runErr
}

func (r *Runner) run(ctx context.Context, req Request, rep *Report, runID string, logger *log.Logger) error {
	var codes []models.ModelCode
	for _, k := range req.Sizes {
		if err := ctx.Err(); err != nil {
			return err
		}
		res, err := enumerate.Ensure(ctx, r.repo, k, enumerate.Options{BatchSize: r.opts.EnumBatch}, logger)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Error("enumeration failed", "k", k, "kind", models.Kind(err), "error", err.Error())
			rep.failSize(res, err)
			continue
		}
		rep.Sizes = append(rep.Sizes, SizeResult{Result: res})
		ks, err := r.repo.Codes(ctx, k)
		if err != nil {
			rep.Sizes[len(rep.Sizes)-1].Err = err.Error()
			rep.Sizes[len(rep.Sizes)-1].Kind = models.Kind(err)
			continue
		}
		codes = append(codes, ks...)
	}
	if len(req.Contexts) == 0 && len(req.Derived) == 0 {
		return nil
	}
	logger.Info("models to score", "count", len(codes), "contexts", len(req.Contexts))

	fr, err := r.repo.Fractions(ctx)
	if err != nil {
		return fmt.Errorf("load fractions: %w", err)
	}
	rows := features.ExpandAll(fr)

	targets, failed := r.targets(ctx, req, rows, runID)
	var mu sync.Mutex
	rep.Contexts = append(rep.Contexts, failed...)
	for _, f := range failed {
		logger.Error("context failed", "context", f.Context.String(), "kind", f.Kind, "error", f.Err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.ContextWorkers)
	for _, tgt := range targets {
		g.Go(func() error {
			res := r.scoreContext(gctx, tgt, codes, req.Force, logger)
			mu.Lock()
			rep.Contexts = append(rep.Contexts, res)
			mu.Unlock()
			// cancellation is the only error that stops sibling contexts
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// targets prepares every requested context. Contexts that cannot be prepared
// are returned as failed results.
func (r *Runner) targets(ctx context.Context, req Request, rows map[int]features.Row, runID string) ([]*scoring.Target, []ContextResult) {
	var (
		out    []*scoring.Target
		failed []ContextResult
	)
	add := func(s response.Series) {
		t, err := scoring.NewTarget(s, rows, r.opts.CV)
		if err != nil {
			failed = append(failed, ContextResult{Context: s.Context, Err: err.Error(), Kind: models.Kind(err)})
			return
		}
		t.RunID = runID
		out = append(out, t)
	}
	for _, sc := range req.Contexts {
		s, err := response.Build(ctx, r.repo, sc)
		if err != nil {
			failed = append(failed, ContextResult{Context: sc, Err: err.Error(), Kind: models.Kind(err)})
			continue
		}
		add(s)
	}
	if len(req.Derived) > 0 {
		comps, err := response.Components(ctx, r.repo, req.Derived, r.opts.PCAVariance)
		if err != nil {
			sc := models.ScoringContext{Source: models.DerivedSource, DataType: "components"}
			failed = append(failed, ContextResult{Context: sc, Err: err.Error(), Kind: models.Kind(err)})
		}
		for _, s := range comps {
			add(s)
		}
	}
	return out, failed
}

// scoreContext scores codes in one context with a worker pool. Codes already
// recorded are dropped up front; the rest are claimed one at a time so other
// processes working on the same store skip them.
func (r *Runner) scoreContext(ctx context.Context, tgt *scoring.Target, codes []models.ModelCode, force bool, logger *log.Logger) ContextResult {
	sc := tgt.Context()
	res := ContextResult{Context: sc, Models: len(codes)}
	start := time.Now()
	lg := logger.With(map[string]string{"context": sc.String()})

	fail := func(err error) ContextResult {
		res.Err = err.Error()
		res.Kind = models.Kind(err)
		res.Elapsed = time.Since(start)
		lg.Error("context failed", "kind", res.Kind, "error", res.Err)
		return res
	}

	todo := codes
	if !force {
		done, err := r.repo.ScoredCodes(ctx, sc)
		if err != nil {
			return fail(err)
		}
		todo = make([]models.ModelCode, 0, len(codes))
		for _, c := range codes {
			if _, ok := done[c]; ok {
				res.Skipped++
				continue
			}
			todo = append(todo, c)
		}
	}
	lg.Info("scoring context", "models", len(codes), "pending", len(todo), "samples", tgt.Series.Len())

	var (
		scored, skipped, claimed, failed atomic.Int64
		progress                         atomic.Int64
		firstErr                         error
		errOnce                          sync.Once
	)
	work := make(chan models.ModelCode)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(work)
		for _, c := range todo {
			select {
			case work <- c:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})
	for i := 0; i < r.opts.Workers; i++ {
		g.Go(func() error {
			for c := range work {
				ok, err := r.repo.Claim(gctx, sc, c, r.owner, r.opts.ClaimTTL)
				if err != nil {
					return err
				}
				if !ok {
					claimed.Add(1)
					continue
				}
				out, err := scoring.ScoreOne(gctx, r.repo, tgt, c, force)
				if rerr := r.repo.Release(context.WithoutCancel(gctx), sc, c, r.owner); rerr != nil && err == nil {
					err = rerr
				}
				switch {
				case err != nil && errors.Is(err, models.ErrStoreUnavailable):
					return err
				case err != nil:
					if gctx.Err() != nil {
						return gctx.Err()
					}
					failed.Add(1)
					errOnce.Do(func() { firstErr = err })
					lg.Warn("model failed", "code", c.String(), "error", err.Error())
				case out == scoring.Scored:
					scored.Add(1)
				default:
					skipped.Add(1)
				}
				if n := progress.Add(1); n%int64(r.opts.ProgressEvery) == 0 {
					lg.Info("scoring progress", "done", n, "pending", len(todo))
				}
			}
			return nil
		})
	}
	err := g.Wait()

	res.Scored = int(scored.Load())
	res.Skipped += int(skipped.Load())
	res.Claimed = int(claimed.Load())
	res.Failed = int(failed.Load())
	if err != nil {
		return fail(err)
	}
	if firstErr != nil {
		return fail(fmt.Errorf("%d models failed, first: %w", res.Failed, firstErr))
	}
	res.Elapsed = time.Since(start)
	lg.Info("context scored", "scored", res.Scored, "skipped", res.Skipped, "claimed_elsewhere", res.Claimed,
		"elapsed", res.Elapsed.Round(time.Millisecond).String())
	return res
}
