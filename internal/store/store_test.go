package store

import (
	"context"
	"errors"
	"testing"

	"github.com/54b3r/novelt-go/internal/novel"
	"github.com/54b3r/novelt-go/internal/toolcalls"
)

// openTestStore opens an in-memory SQLiteStore for use in tests.
func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open in-memory store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func strp(s string) *string { return &s }

func seedNovel(t *testing.T, s *SQLiteStore) *novel.Novel {
	t.Helper()
	tools := true
	n := &novel.Novel{
		Slug:           "moon-gate",
		Title:          "The Moon Gate",
		SourceLanguage: "ja",
		TargetLanguage: "en",
		Overrides:      novel.Overrides{MaxContextTokens: 9000, UseToolCalls: &tools},
		References: []novel.Reference{
			{Title: "Aria", Content: "Heroine"},
			{Title: "Lune", Content: "Capital city"},
		},
		Chapters: []novel.Chapter{
			{Number: 1, Title: "Dawn", SourceContent: "src1", TranslatedContent: "tr1",
				QualityCheck: &novel.QualityCheck{Score: 8, Feedback: "good", IsGoodQuality: true}},
			{Number: 2, Title: "Noon", SourceContent: "src2", TranslatedContent: "tr2"},
			{Number: 3, Title: "Dusk", SourceContent: "src3"},
		},
	}
	if err := s.UpsertNovel(context.Background(), n); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	return n
}

func Test_Store_UpsertAndGet(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	seeded := seedNovel(t, s)
	if seeded.ID == "" || seeded.Chapters[0].ID == "" || seeded.References[0].ID == "" {
		t.Fatal("upsert did not assign IDs")
	}

	for _, key := range []string{"moon-gate", seeded.ID} {
		n, err := s.GetNovel(context.Background(), key, nil)
		if err != nil {
			t.Fatalf("get %q: %v", key, err)
		}
		if n.Title != "The Moon Gate" || n.SourceLanguage != "ja" {
			t.Errorf("novel = %+v", n)
		}
		if n.Overrides.MaxContextTokens != 9000 || n.Overrides.UseToolCalls == nil || !*n.Overrides.UseToolCalls {
			t.Errorf("overrides = %+v", n.Overrides)
		}
		if len(n.References) != 2 || n.References[0].Title != "Aria" {
			t.Errorf("references = %+v", n.References)
		}
		if len(n.Chapters) != 3 {
			t.Fatalf("want 3 chapters, got %d", len(n.Chapters))
		}
		if qc := n.Chapters[0].QualityCheck; qc == nil || qc.Score != 8 || !qc.IsGoodQuality {
			t.Errorf("chapter 1 quality = %+v", qc)
		}
		if n.Chapters[1].QualityCheck != nil {
			t.Errorf("chapter 2 quality = %+v, want nil", n.Chapters[1].QualityCheck)
		}
	}
}

func Test_Store_GetNovel_Range(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	seedNovel(t, s)

	n, err := s.GetNovel(context.Background(), "moon-gate", &novel.ChapterRange{Start: 2, End: 3})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(n.Chapters) != 2 || n.Chapters[0].Number != 2 {
		t.Errorf("chapters = %+v", n.Chapters)
	}
}

func Test_Store_GetNovel_NotFound(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	_, err := s.GetNovel(context.Background(), "missing", nil)
	if !errors.Is(err, novel.ErrNotFound) {
		t.Errorf("want ErrNotFound, got %v", err)
	}
}

func Test_Store_UpsertKeepsChapterIDs(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	seeded := seedNovel(t, s)
	firstID := seeded.Chapters[0].ID

	again := &novel.Novel{
		Slug: "moon-gate", Title: "The Moon Gate (rev)", SourceLanguage: "ja", TargetLanguage: "en",
		Chapters: []novel.Chapter{{Number: 1, Title: "Dawn", SourceContent: "src1b"}},
	}
	if err := s.UpsertNovel(context.Background(), again); err != nil {
		t.Fatalf("upsert again: %v", err)
	}
	if again.ID != seeded.ID {
		t.Errorf("novel ID changed: %q -> %q", seeded.ID, again.ID)
	}
	if again.Chapters[0].ID != firstID {
		t.Errorf("chapter ID changed: %q -> %q", firstID, again.Chapters[0].ID)
	}
}

func Test_Store_SaveTranslation(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	seeded := seedNovel(t, s)
	ctx := context.Background()

	qc := &novel.QualityCheck{Score: 6.5, Feedback: "stiff dialogue", IsGoodQuality: false}
	if err := s.SaveTranslation(ctx, seeded.Chapters[2].ID, "tr3", qc); err != nil {
		t.Fatalf("save: %v", err)
	}
	n, err := s.GetNovel(ctx, "moon-gate", &novel.ChapterRange{Start: 3, End: 3})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	got := n.Chapters[0]
	if got.TranslatedContent != "tr3" || got.QualityCheck == nil || got.QualityCheck.Feedback != "stiff dialogue" {
		t.Errorf("chapter = %+v", got)
	}

	if err := s.SaveTranslation(ctx, "nope", "x", nil); !errors.Is(err, novel.ErrNotFound) {
		t.Errorf("want ErrNotFound for unknown chapter, got %v", err)
	}
}

func Test_Store_ApplyReferenceOps(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	seeded := seedNovel(t, s)
	ctx := context.Background()

	ops := []toolcalls.ReferenceOp{
		{Type: toolcalls.OpAdd, Title: strp("Kai"), Content: strp("Rival knight")},
		{Type: toolcalls.OpAdd, Title: strp("Empty")},
		{Type: toolcalls.OpUpdate, ID: strp(seeded.References[0].ID), Content: strp("Heroine, knight of the east gate")},
		{Type: toolcalls.OpUpdate, Title: strp("LUNE"), Content: strp("Capital, renamed")},
		{Type: toolcalls.OpUpdate, ID: strp("unknown"), Title: strp("Nobody"), Content: strp("x")},
		{Type: "reference.delete", ID: strp(seeded.References[1].ID)},
	}
	stats, err := s.ApplyReferenceOps(ctx, seeded.ID, ops)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	want := novel.ApplyStats{Added: 1, Updated: 2, Skipped: 3}
	if stats != want {
		t.Errorf("stats = %+v, want %+v", stats, want)
	}

	n, err := s.GetNovel(ctx, seeded.ID, nil)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(n.References) != 3 {
		t.Fatalf("want 3 references, got %+v", n.References)
	}
	if n.References[0].Content != "Heroine, knight of the east gate" {
		t.Errorf("ref[0] = %+v", n.References[0])
	}
	if n.References[1].Title != "Lune" || n.References[1].Content != "Capital, renamed" {
		t.Errorf("ref[1] = %+v", n.References[1])
	}
	if n.References[2].Title != "Kai" {
		t.Errorf("ref[2] = %+v, want appended Kai", n.References[2])
	}
}

func Test_Store_ApplyReferenceOps_UnknownNovel(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	_, err := s.ApplyReferenceOps(context.Background(), "missing", nil)
	if !errors.Is(err, novel.ErrNotFound) {
		t.Errorf("want ErrNotFound, got %v", err)
	}
}

func Test_Store_ListSlugs(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	seedNovel(t, s)
	if err := s.UpsertNovel(context.Background(), &novel.Novel{Slug: "ash-road", Title: "Ash Road"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	slugs, err := s.ListSlugs(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(slugs) != 2 || slugs[0] != "ash-road" || slugs[1] != "moon-gate" {
		t.Errorf("slugs = %v", slugs)
	}
}

func Test_Store_Ping(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("ping: %v", err)
	}
}
