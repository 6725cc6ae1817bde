package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	cronlib "github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/nwang783/just-in-case/internal/transcript"
)

// DefaultBackfillSchedule runs the backfill every ten minutes.
const DefaultBackfillSchedule = "*/10 * * * *"

// Backfill analyses finished transcripts that were never analysed, for
// example because the process stopped before the post-call analysis ran.
type Backfill struct {
	analyzer    *Analyzer
	repo        *Repository
	concurrency int
}

// NewBackfill returns a Backfill running at most concurrency analyses at
// once. concurrency < 1 is treated as 1.
func NewBackfill(analyzer *Analyzer, repo *Repository, concurrency int) *Backfill {
	return &Backfill{
		analyzer:    analyzer,
		repo:        repo,
		concurrency: max(1, concurrency),
	}
}

// RunOnce analyses every pending transcript that has a conversation_end
// line. Transcripts still being written are left alone. It returns the
// number of analyses written; per-transcript failures are joined into err.
func (b *Backfill) RunOnce(ctx context.Context) (int, error) {
	pending, err := b.repo.Pending()
	if err != nil {
		return 0, err
	}

	var (
		done atomic.Int64
		errs = make([]error, len(pending))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)
	for i, st := range pending {
		path := b.repo.TranscriptPath(st.ConversationID)
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			entries, err := transcript.ReadFile(path)
			if err != nil {
				errs[i] = err
				return nil
			}
			if !transcript.HasEnded(entries) {
				return nil
			}
			if _, err := b.analyzer.AnalyzeFile(gctx, path); err != nil {
				slog.WarnContext(gctx, "backfill analysis failed", "path", path, "err", err)
				errs[i] = fmt.Errorf("%s: %w", st.ConversationID, err)
				return nil
			}
			done.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return int(done.Load()), err
	}
	return int(done.Load()), errors.Join(errs...)
}

// Run schedules RunOnce on the standard five-field cron spec and blocks until
// ctx is cancelled. Overlapping runs are skipped.
func (b *Backfill) Run(ctx context.Context, spec string) error {
	if spec == "" {
		spec = DefaultBackfillSchedule
	}
	parser := cronlib.NewParser(cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor)
	c := cronlib.New(
		cronlib.WithParser(parser),
		cronlib.WithChain(cronlib.SkipIfStillRunning(cronlib.DiscardLogger)),
	)
	if _, err := c.AddFunc(spec, func() {
		n, err := b.RunOnce(ctx)
		if err != nil {
			slog.Warn("backfill finished with errors", "analysed", n, "err", err)
			return
		}
		if n > 0 {
			slog.Info("backfill finished", "analysed", n)
		}
	}); err != nil {
		return fmt.Errorf("analysis: parse backfill schedule %q: %w", spec, err)
	}

	slog.Info("analysis backfill scheduled", "schedule", spec)
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}
