package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/54b3r/novelt-go/internal/logging"
	"github.com/54b3r/novelt-go/internal/translate"
)

// NewCheckCmd constructs the `novelt check` command, which grades a
// translation with the quality checker and prints the verdict as JSON.
func NewCheckCmd() *cobra.Command {
	var sourcePath, translationPath, novelID, sourceLang, targetLang string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Grade a translation with the quality checker",
		Long: `Grade a translation against its source and print the verdict as JSON.

Languages come from --novel or from --source-lang and --target-lang.

Examples:
  novelt check --source ch12.ja.txt --translation ch12.en.md --novel moon-gate
  novelt check --source a.txt --translation b.txt --source-lang ja --target-lang en`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)

			if novelID == "" && (sourceLang == "" || targetLang == "") {
				return errors.New("check: give --novel or both --source-lang and --target-lang")
			}
			source, err := os.ReadFile(sourcePath)
			if err != nil {
				return fmt.Errorf("check: %w", err)
			}
			translation, err := os.ReadFile(translationPath)
			if err != nil {
				return fmt.Errorf("check: %w", err)
			}

			d, err := buildDeps(ctx, log, nil)
			if err != nil {
				return fmt.Errorf("check: %w", err)
			}
			defer d.Close()

			qc, err := d.service.Check(ctx, translate.CheckRequest{
				SourceContent:     string(source),
				TranslatedContent: string(translation),
				SourceLanguage:    sourceLang,
				TargetLanguage:    targetLang,
				Novel:             novelID,
			})
			if err != nil {
				return fmt.Errorf("check: %w", withSuggestion(ctx, d.repo, novelID, err))
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(qc)
		},
	}

	f := cmd.Flags()
	f.StringVar(&sourcePath, "source", "", "File holding the source text")
	f.StringVar(&translationPath, "translation", "", "File holding the translation")
	f.StringVar(&novelID, "novel", "", "Novel ID or slug supplying languages and model overrides")
	f.StringVar(&sourceLang, "source-lang", "", "Source language name or tag")
	f.StringVar(&targetLang, "target-lang", "", "Target language name or tag")
	_ = cmd.MarkFlagRequired("source")
	_ = cmd.MarkFlagRequired("translation")

	return cmd
}
