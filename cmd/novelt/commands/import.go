package commands

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/54b3r/novelt-go/internal/logging"
	"github.com/54b3r/novelt-go/internal/novel"
)

// manifest is the YAML file read by `novelt import`. Chapters may be given
// inline or as files relative to the manifest.
type manifest struct {
	novel.Novel  `yaml:",inline"`
	ChapterFiles []chapterFile `yaml:"chapter_files"`
}

// chapterFile points at a chapter stored on disk.
type chapterFile struct {
	Number      int    `yaml:"number"`
	Title       string `yaml:"title"`
	Source      string `yaml:"source"`
	Translation string `yaml:"translation"`
}

// NewImportCmd constructs the `novelt import` command, which creates or
// replaces a novel from a YAML manifest.
func NewImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <manifest.yaml>",
		Short: "Create or replace a novel from a YAML manifest",
		Long: `Create or replace a novel, its chapters and its glossary from a YAML manifest.

Example manifest:

  slug: moon-gate
  title: The Moon Gate
  source_language: ja
  target_language: en
  overrides:
    translation_model: gpt-4o
  references:
    - title: Aoi
      content: Protagonist. Keep the name untranslated.
  chapter_files:
    - number: 1
      source: chapters/001.ja.txt
      translation: chapters/001.en.md
    - number: 2
      source: chapters/002.ja.txt

Re-importing a slug replaces its chapters and references.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)

			n, err := loadManifest(args[0])
			if err != nil {
				return fmt.Errorf("import: %w", err)
			}

			repo, err := openStore(log)
			if err != nil {
				return fmt.Errorf("import: %w", err)
			}
			defer func() { _ = repo.Close() }()

			if err := repo.UpsertNovel(ctx, n); err != nil {
				return fmt.Errorf("import: %w", err)
			}
			log.Info("novel imported",
				slog.String("slug", n.Slug),
				slog.Int("chapters", len(n.Chapters)),
				slog.Int("references", len(n.References)),
			)
			fmt.Fprintf(cmd.OutOrStdout(), "imported %s (%d chapters, %d references)\n",
				n.Slug, len(n.Chapters), len(n.References))
			return nil
		},
	}
}

// loadManifest reads and validates the manifest at path.
func loadManifest(path string) (*novel.Novel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parseManifest(data, filepath.Dir(path))
}

// parseManifest decodes data and resolves chapter files against dir.
func parseManifest(data []byte, dir string) (*novel.Novel, error) {
	var m manifest
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}

	n := m.Novel
	if n.Slug == "" {
		return nil, errors.New("manifest: slug is required")
	}
	if n.SourceLanguage == "" || n.TargetLanguage == "" {
		return nil, errors.New("manifest: source_language and target_language are required")
	}

	for _, cf := range m.ChapterFiles {
		if cf.Source == "" {
			return nil, fmt.Errorf("manifest: chapter %d: source is required", cf.Number)
		}
		src, err := readRelative(dir, cf.Source)
		if err != nil {
			return nil, fmt.Errorf("manifest: chapter %d: %w", cf.Number, err)
		}
		c := novel.Chapter{Number: cf.Number, Title: cf.Title, SourceContent: src}
		if cf.Translation != "" {
			if c.TranslatedContent, err = readRelative(dir, cf.Translation); err != nil {
				return nil, fmt.Errorf("manifest: chapter %d: %w", cf.Number, err)
			}
		}
		n.Chapters = append(n.Chapters, c)
	}

	slices.SortStableFunc(n.Chapters, func(a, b novel.Chapter) int { return a.Number - b.Number })
	for i, c := range n.Chapters {
		if c.Number <= 0 {
			return nil, fmt.Errorf("manifest: chapter numbers must be positive, got %d", c.Number)
		}
		if i > 0 && n.Chapters[i-1].Number == c.Number {
			return nil, fmt.Errorf("manifest: duplicate chapter %d", c.Number)
		}
	}
	return &n, nil
}

// readRelative reads name, resolved against dir unless absolute.
func readRelative(dir, name string) (string, error) {
	if !filepath.IsAbs(name) {
		name = filepath.Join(dir, name)
	}
	b, err := os.ReadFile(name)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
