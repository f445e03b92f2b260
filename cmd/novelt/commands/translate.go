package commands

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/54b3r/novelt-go/internal/completion"
	"github.com/54b3r/novelt-go/internal/logging"
	"github.com/54b3r/novelt-go/internal/novel"
	"github.com/54b3r/novelt-go/internal/translate"
)

// translateOptions holds the `novelt translate` flags.
type translateOptions struct {
	chapter     int
	from, to    int
	autoRetry   bool
	maxAttempts int
	improve     bool
	stream      bool
	save        bool
	force       bool
	out         string
}

// NewTranslateCmd constructs the `novelt translate` command, which
// translates one stored chapter or a range of them.
func NewTranslateCmd() *cobra.Command {
	var opts translateOptions

	cmd := &cobra.Command{
		Use:   "translate <novel>",
		Short: "Translate a chapter or a range of chapters",
		Long: `Translate stored chapters of a novel.

With --chapter the translation is written to stdout (or --out). With --from
and --to the chapters are translated in order and each one is saved as it
finishes, so later chapters use it as context. Already translated chapters
are skipped unless --force is given.

--improve reuses the chapter's stored translation and quality feedback as
the starting draft.

Examples:
  novelt translate moon-gate --chapter 12
  novelt translate moon-gate --chapter 12 --auto-retry --max-attempts 5 --save
  novelt translate moon-gate --from 1 --to 40 --auto-retry`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			log := logging.FromContext(ctx)

			batch := opts.from > 0 || opts.to > 0
			if batch == (opts.chapter > 0) {
				return errors.New("translate: give either --chapter or --from/--to")
			}

			d, err := buildDeps(ctx, log, nil)
			if err != nil {
				return fmt.Errorf("translate: %w", err)
			}
			defer d.Close()

			if opts.autoRetry && d.checker == nil {
				return errors.New("translate: --auto-retry needs a quality provider (see QUALITY_PROVIDER)")
			}

			if batch {
				return runBatch(cmd, d, args[0], opts)
			}
			return runChapter(cmd, d, args[0], opts)
		},
	}

	f := cmd.Flags()
	f.IntVarP(&opts.chapter, "chapter", "c", 0, "Chapter number to translate")
	f.IntVar(&opts.from, "from", 0, "First chapter of a batch (inclusive)")
	f.IntVar(&opts.to, "to", 0, "Last chapter of a batch (inclusive, 0 = last)")
	f.BoolVar(&opts.autoRetry, "auto-retry", false, "Grade each draft and retry until it passes the quality threshold")
	f.IntVar(&opts.maxAttempts, "max-attempts", 3, "Maximum graded attempts with --auto-retry (1-50)")
	f.BoolVar(&opts.improve, "improve", false, "Start from the stored translation and its quality feedback")
	f.BoolVar(&opts.stream, "stream", false, "Stream from upstream instead of one blocking request")
	f.BoolVar(&opts.save, "save", false, "Persist the translation (always on for batches)")
	f.BoolVar(&opts.force, "force", false, "Retranslate chapters that already have a translation")
	f.StringVarP(&opts.out, "out", "o", "", "Write the translation to this file instead of stdout")

	return cmd
}

// runChapter translates a single chapter.
func runChapter(cmd *cobra.Command, d *deps, slug string, opts translateOptions) error {
	ctx := cmd.Context()
	log := logging.FromContext(ctx)

	req := translate.Request{
		Novel:                  slug,
		ChapterNumber:          opts.chapter,
		UseAutoRetry:           opts.autoRetry,
		MaxAttempts:            opts.maxAttempts,
		UseImprovementFeedback: opts.improve,
		Save:                   opts.save,
		OnAttempt: func(r translate.AttemptReport) {
			attrs := []any{slog.Int("attempt", r.Attempt+1), slog.Int("of", r.MaxAttempts)}
			if r.Quality != nil {
				attrs = append(attrs, slog.Float64("score", r.Quality.Score))
			}
			if r.Err != "" {
				attrs = append(attrs, slog.String("error", r.Err))
			}
			log.Info("attempt finished", attrs...)
		},
	}
	if opts.stream {
		mode := completion.ModeCollectStream
		req.Mode = &mode
	}
	if opts.improve {
		prev, err := storedSeed(cmd, d, slug, opts.chapter)
		if err != nil {
			return err
		}
		req.Previous = prev
	}

	resp, err := d.service.Translate(ctx, req)
	if err != nil {
		return fmt.Errorf("translate: %w", withSuggestion(ctx, d.repo, slug, err))
	}

	out := resp.Outcome
	attrs := []any{slog.Int("attempts", out.Attempts), slog.Bool("saved", resp.Saved)}
	if out.Quality != nil {
		attrs = append(attrs, slog.Float64("score", out.Quality.Score), slog.Bool("good", out.Quality.IsGoodQuality))
	}
	if out.Fallback {
		attrs = append(attrs, slog.Bool("fallback", true))
	}
	log.Info("chapter translated", attrs...)

	return writeOutput(cmd.OutOrStdout(), opts.out, out.Translation)
}

// storedSeed loads the chapter's current translation and quality feedback
// as the improvement seed.
func storedSeed(cmd *cobra.Command, d *deps, slug string, number int) (*translate.Seed, error) {
	ctx := cmd.Context()
	n, err := d.repo.GetNovel(ctx, slug, &novel.ChapterRange{Start: number, End: number})
	if err != nil {
		return nil, fmt.Errorf("translate: %w", withSuggestion(ctx, d.repo, slug, err))
	}
	c, ok := n.ChapterByNumber(number)
	if !ok || c.TranslatedContent == "" {
		return nil, fmt.Errorf("translate: --improve: chapter %d has no stored translation", number)
	}
	seed := &translate.Seed{PreviousTranslation: c.TranslatedContent}
	if c.QualityCheck != nil {
		seed.QualityFeedback = c.QualityCheck.Feedback
	}
	return seed, nil
}

// runBatch translates a chapter range, saving each chapter.
func runBatch(cmd *cobra.Command, d *deps, slug string, opts translateOptions) error {
	ctx := cmd.Context()
	w := cmd.OutOrStdout()

	var failed int
	items, err := d.service.Batch(ctx, translate.BatchRequest{
		Novel:        slug,
		Range:        novel.ChapterRange{Start: opts.from, End: opts.to},
		Force:        opts.force,
		UseAutoRetry: opts.autoRetry,
		MaxAttempts:  opts.maxAttempts,
		Save:         true,
	}, func(it translate.BatchItem) {
		switch {
		case it.Skipped:
			fmt.Fprintf(w, "chapter %d: skipped (already translated)\n", it.Chapter)
		case it.Err != nil:
			failed++
			fmt.Fprintf(w, "chapter %d: failed: %v\n", it.Chapter, it.Err)
		case it.Quality != nil:
			fmt.Fprintf(w, "chapter %d: done (score %.1f)\n", it.Chapter, it.Quality.Score)
		default:
			fmt.Fprintf(w, "chapter %d: done\n", it.Chapter)
		}
	})
	if err != nil {
		return fmt.Errorf("translate: %w", withSuggestion(ctx, d.repo, slug, err))
	}
	fmt.Fprintf(w, "%d chapters, %d failed\n", len(items), failed)
	if failed > 0 {
		return fmt.Errorf("translate: %d chapters failed", failed)
	}
	return nil
}

// writeOutput writes text to path, or to w when path is empty.
func writeOutput(w io.Writer, path, text string) error {
	if path == "" {
		_, err := fmt.Fprintln(w, text)
		return err
	}
	if err := os.WriteFile(path, []byte(text+"\n"), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
