package memory

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{
		DBPath:        filepath.Join(t.TempDir(), "memory.db"),
		EmbeddingDims: 512,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAddAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m, err := s.Add(ctx, Memory{Type: "note", Content: "Dentist appointment on Friday"})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if m.ID == "" || m.Source != DefaultSource || m.Confidence != 1 {
		t.Fatalf("defaults not applied: %+v", m)
	}

	got, err := s.Get(ctx, m.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Content != m.Content || got.Type != "note" {
		t.Errorf("got %+v", got)
	}
	if !got.CreatedAt.Equal(m.CreatedAt) {
		t.Errorf("created_at = %v, want %v", got.CreatedAt, m.CreatedAt)
	}
}

func TestAddRejectsEmptyContent(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Add(context.Background(), Memory{}); !errors.Is(err, ErrEmptyContent) {
		t.Fatalf("expected ErrEmptyContent, got %v", err)
	}
}

func TestGetMissing(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListFiltersAndOrders(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	s.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}

	for _, m := range []Memory{
		{Type: "email", Content: "first email"},
		{Type: "note", Content: "a note"},
		{Type: "email", Content: "second email"},
	} {
		if _, err := s.Add(ctx, m); err != nil {
			t.Fatal(err)
		}
	}

	emails, err := s.List(ctx, "email", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(emails) != 2 || emails[0].Content != "second email" {
		t.Errorf("emails = %+v", emails)
	}

	all, err := s.List(ctx, "", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Errorf("limit not applied: %d", len(all))
	}

	n, err := s.Count(ctx)
	if err != nil || n != 3 {
		t.Errorf("count = %d, %v", n, err)
	}
}

func TestUpdateAndDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m, _ := s.Add(ctx, Memory{Content: "Meeting in room 4"})
	updated, err := s.Update(ctx, m.ID, "Meeting moved to room 7")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Content != "Meeting moved to room 7" {
		t.Errorf("content = %q", updated.Content)
	}

	res, err := s.Search(ctx, "moved", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(res) == 0 || res[0].ID != m.ID {
		t.Errorf("updated content not reindexed: %+v", res)
	}

	if err := s.Delete(ctx, m.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.Delete(ctx, m.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete = %v, want ErrNotFound", err)
	}
	if _, err := s.Update(ctx, m.ID, "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("update after delete = %v, want ErrNotFound", err)
	}
	res, _ = s.Search(ctx, "meeting room", 5)
	if len(res) != 0 {
		t.Errorf("deleted memory still searchable: %+v", res)
	}
}

func TestSearchRanksRelevantFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	resume, _ := s.Add(ctx, Memory{Type: "document", Content: "My resume from 2019 lists the Acme job"})
	s.Add(ctx, Memory{Type: "note", Content: "Buy milk and eggs"})
	s.Add(ctx, Memory{Type: "note", Content: "Call the plumber about the sink"})

	res, err := s.Search(ctx, "old resume", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(res) == 0 {
		t.Fatal("no results")
	}
	if res[0].ID != resume.ID {
		t.Errorf("top result = %q, want resume", res[0].Content)
	}
	if res[0].Match != "hybrid" {
		t.Errorf("match = %q, want hybrid", res[0].Match)
	}
	for _, r := range res {
		if r.Score < 0 || r.Score > 1 {
			t.Errorf("score %v out of range", r.Score)
		}
	}
}

func TestSearchToleratesFTSSyntax(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s.Add(ctx, Memory{Content: "quarterly report draft"})

	for _, q := range []string{`"report`, `report AND (`, `NEAR(report*`, `:::`, ``} {
		if _, err := s.Search(ctx, q, 5); err != nil {
			t.Errorf("query %q: %v", q, err)
		}
	}
}

func TestSearchAllKeywordsRequiresEveryWord(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	milk, _ := s.Add(ctx, Memory{Type: "note", Content: "Buy milk and eggs"})
	s.Add(ctx, Memory{Type: "note", Content: "Buy a new passport photo"})
	s.Add(ctx, Memory{Type: "note", Content: "Oat milk is in the fridge door"})

	res, err := s.SearchAllKeywords(ctx, "buy milk", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 1 || res[0].ID != milk.ID {
		t.Errorf("results = %+v, want only the milk note", res)
	}
	if loose, _ := s.SearchKeyword(ctx, "buy milk", 10); len(loose) != 3 {
		t.Errorf("SearchKeyword found %d, want 3", len(loose))
	}
}

func TestTypes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s.Add(ctx, Memory{Type: "note", Content: "one"})
	s.Add(ctx, Memory{Type: "email", Content: "two"})
	s.Add(ctx, Memory{Type: "note", Content: "three"})

	got, err := s.Types(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0] != "email" || got[1] != "note" {
		t.Errorf("Types = %v", got)
	}
}

func TestFTSQuery(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"a", ""},
		{"Old Resume!", `"old" OR "resume"`},
		{`say "hi" AND go`, `"say" OR "hi" OR "and" OR "go"`},
	}
	if got := ftsJoin("Old Resume!", " AND "); got != `"old" AND "resume"` {
		t.Errorf("ftsJoin = %q", got)
	}
	for _, tt := range tests {
		if got := ftsQuery(tt.in); got != tt.want {
			t.Errorf("ftsQuery(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestHashEmbedder(t *testing.T) {
	e := NewHashEmbedder(32)
	a, _ := e.Embed("project kickoff notes")
	b, _ := e.Embed("Project KICKOFF notes!")
	c, _ := e.Embed("grocery list")

	if len(a) != 32 {
		t.Fatalf("dims = %d", len(a))
	}
	if sim := CosineSimilarity(a, b); sim < 0.999 {
		t.Errorf("case and punctuation should not matter, sim=%v", sim)
	}
	if CosineSimilarity(a, c) >= CosineSimilarity(a, b) {
		t.Error("unrelated text scored as high as identical text")
	}

	empty, _ := e.Embed("")
	if CosineSimilarity(a, empty) != 0 {
		t.Error("empty text should have zero similarity")
	}
}

func TestEmbeddingCacheEvicts(t *testing.T) {
	c := newEmbeddingCache(2)
	c.put("a", []float64{1})
	c.put("b", []float64{2})
	c.get("a")
	c.put("c", []float64{3})

	if c.get("b") != nil {
		t.Error("least recently used entry should be evicted")
	}
	if c.get("a") == nil || c.get("c") == nil {
		t.Error("recent entries missing")
	}
	if c.len() != 2 {
		t.Errorf("len = %d", c.len())
	}
}

func TestMergeResults(t *testing.T) {
	kw := []Result{
		{Memory: Memory{ID: "a"}, Score: 4},
		{Memory: Memory{ID: "b"}, Score: 2},
	}
	vec := []Result{
		{Memory: Memory{ID: "b"}, Score: 0.9},
		{Memory: Memory{ID: "c"}, Score: 0.3},
	}
	got := mergeResults(kw, vec, 0.3, 0.7)
	if len(got) != 3 {
		t.Fatalf("len = %d", len(got))
	}
	if got[0].ID != "b" || got[0].Match != "hybrid" {
		t.Errorf("expected b first as hybrid, got %+v", got[0])
	}
}
