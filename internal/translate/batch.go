package translate

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/54b3r/novelt-go/internal/logging"
	"github.com/54b3r/novelt-go/internal/novel"
)

// BatchRequest translates a range of stored chapters one after another.
type BatchRequest struct {
	Novel string
	Range novel.ChapterRange
	// Force retranslates chapters that already have a translation.
	Force bool

	UseAutoRetry bool
	MaxAttempts  int
	// Save persists every chapter as it finishes, so later chapters can use
	// it as an exemplar.
	Save bool
}

// BatchItem reports one chapter of a batch.
type BatchItem struct {
	Chapter int
	Skipped bool
	Quality *novel.QualityCheck
	Err     error
}

// Batch runs req chapter by chapter. Cancellation is checked between
// chapters, never during one. A failing chapter is recorded and the batch
// continues; the returned error is non-nil only for load failures and
// cancellation. onItem, if set, observes every item as it completes.
func (s *Service) Batch(ctx context.Context, req BatchRequest, onItem func(BatchItem)) ([]BatchItem, error) {
	n, err := s.repo.GetNovel(ctx, req.Novel, &req.Range)
	if err != nil {
		return nil, fmt.Errorf("translate: load novel %q: %w", req.Novel, err)
	}
	log := logging.FromContext(ctx).With(slog.String("novel", n.Slug))

	items := make([]BatchItem, 0, len(n.Chapters))
	emit := func(it BatchItem) {
		items = append(items, it)
		if onItem != nil {
			onItem(it)
		}
	}
	for _, c := range n.Chapters {
		if err := ctx.Err(); err != nil {
			log.Info("translate: batch cancelled", slog.Int("done", len(items)))
			return items, err
		}
		if c.TranslatedContent != "" && !req.Force {
			emit(BatchItem{Chapter: c.Number, Skipped: true})
			continue
		}
		resp, err := s.Translate(ctx, Request{
			Novel:         n.ID,
			ChapterNumber: c.Number,
			UseAutoRetry:  req.UseAutoRetry,
			MaxAttempts:   req.MaxAttempts,
			Save:          req.Save,
		})
		if err != nil {
			log.Error("translate: chapter failed",
				slog.Int("chapter", c.Number),
				slog.String("error", err.Error()),
			)
			emit(BatchItem{Chapter: c.Number, Err: err})
			continue
		}
		emit(BatchItem{Chapter: c.Number, Quality: resp.Outcome.Quality})
	}
	return items, nil
}
