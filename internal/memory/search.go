package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Result is a memory matched by a search. Match is "keyword", "vector" or
// "hybrid" depending on which index found it.
type Result struct {
	Memory
	Score float64 `json:"similarity_score"`
	Match string  `json:"match"`
}

// Search runs keyword and vector search for query and merges them with the
// configured weights. Scores are normalised into [0, 1].
func (s *Store) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	if limit <= 0 {
		limit = 10
	}

	kw, err := s.SearchKeyword(ctx, query, limit)
	if err != nil {
		// Malformed FTS input degrades to vector-only.
		s.logger.Debug("keyword search failed", "error", err)
		kw = nil
	}

	vec, err := s.embed(query)
	if err != nil {
		return nil, fmt.Errorf("memory: embed query: %w", err)
	}
	vr, err := s.SearchVector(ctx, vec, limit)
	if err != nil {
		return nil, err
	}

	merged := mergeResults(kw, vr, s.cfg.KeywordWeight, s.cfg.VectorWeight)
	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged, nil
}

// SearchVector ranks stored memories by cosine similarity to vec and returns
// at most limit results with positive similarity.
func (s *Store) SearchVector(ctx context.Context, vec []float64, limit int) ([]Result, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, type, content, source, confidence, created_at, updated_at, embedding
		 FROM memories WHERE embedding IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("memory: vector scan: %w", err)
	}
	defer rows.Close()

	var out []Result
	for rows.Next() {
		var (
			r                Result
			created, updated int64
			blob             []byte
		)
		if err := rows.Scan(&r.ID, &r.Type, &r.Content, &r.Source, &r.Confidence, &created, &updated, &blob); err != nil {
			return nil, err
		}
		r.Score = CosineSimilarity(vec, decodeVector(blob))
		if r.Score <= 0 {
			continue
		}
		r.CreatedAt, r.UpdatedAt = unixTime(created), unixTime(updated)
		r.Match = "vector"
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sortResults(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SearchKeyword returns BM25-ranked matches for any of the words in query.
func (s *Store) SearchKeyword(ctx context.Context, query string, limit int) ([]Result, error) {
	return s.matchFTS(ctx, ftsQuery(query), limit)
}

// SearchAllKeywords is SearchKeyword restricted to memories containing every
// word of query.
func (s *Store) SearchAllKeywords(ctx context.Context, query string, limit int) ([]Result, error) {
	return s.matchFTS(ctx, ftsJoin(query, " AND "), limit)
}

func (s *Store) matchFTS(ctx context.Context, match string, limit int) ([]Result, error) {
	if match == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT m.id, m.type, m.content, m.source, m.confidence, m.created_at, m.updated_at, bm25(memories_fts)
		 FROM memories_fts JOIN memories m ON m.id = memories_fts.id
		 WHERE memories_fts MATCH ?
		 ORDER BY bm25(memories_fts)
		 LIMIT ?`, match, limit)
	if err != nil {
		return nil, fmt.Errorf("fts search: %w", err)
	}
	defer rows.Close()

	var out []Result
	for rows.Next() {
		var (
			r                Result
			created, updated int64
			bm25             float64
		)
		if err := rows.Scan(&r.ID, &r.Type, &r.Content, &r.Source, &r.Confidence, &created, &updated, &bm25); err != nil {
			return nil, err
		}
		// bm25 is negative, lower is better.
		r.Score = -bm25
		r.CreatedAt, r.UpdatedAt = unixTime(created), unixTime(updated)
		r.Match = "keyword"
		out = append(out, r)
	}
	return out, rows.Err()
}

// ftsQuery turns free text into an FTS5 expression of quoted tokens joined by
// OR, so user punctuation can never be parsed as FTS syntax.
func ftsQuery(text string) string {
	return ftsJoin(text, " OR ")
}

func ftsJoin(text, op string) string {
	toks := Tokenize(text)
	if len(toks) == 0 {
		return ""
	}
	quoted := make([]string, len(toks))
	for i, t := range toks {
		quoted[i] = `"` + strings.ReplaceAll(t, `"`, `""`) + `"`
	}
	return strings.Join(quoted, op)
}

// mergeResults normalises each list, weights it and sums the scores of
// memories found by both.
func mergeResults(keyword, vector []Result, keywordWeight, vectorWeight float64) []Result {
	normalize(keyword)
	normalize(vector)

	merged := make(map[string]*Result, len(keyword)+len(vector))
	order := make([]string, 0, len(keyword)+len(vector))
	for i := range keyword {
		r := keyword[i]
		r.Score *= keywordWeight
		merged[r.ID] = &r
		order = append(order, r.ID)
	}
	for i := range vector {
		r := vector[i]
		if existing, ok := merged[r.ID]; ok {
			existing.Score += r.Score * vectorWeight
			existing.Match = "hybrid"
			continue
		}
		r.Score *= vectorWeight
		merged[r.ID] = &r
		order = append(order, r.ID)
	}

	out := make([]Result, 0, len(order))
	for _, id := range order {
		out = append(out, *merged[id])
	}
	sortResults(out)
	return out
}

func normalize(rs []Result) {
	var top float64
	for _, r := range rs {
		if r.Score > top {
			top = r.Score
		}
	}
	if top <= 0 {
		return
	}
	for i := range rs {
		rs[i].Score /= top
	}
}

func sortResults(rs []Result) {
	sort.SliceStable(rs, func(i, j int) bool { return rs[i].Score > rs[j].Score })
}
