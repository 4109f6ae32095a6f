package builtin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"github.com/opera-os/opera/internal/memory"
	"github.com/opera-os/opera/internal/tools"
)

type memoryTools struct {
	store  Store
	logger *slog.Logger
}

func (m *memoryTools) catalog() []*tools.Tool {
	return []*tools.Tool{
		tools.NewTool(schema("embedder", "Generate embeddings for text", "embedding summary", readOnly,
			param("text", "string", "text to embed; defaults to the current query", false)), m.embed),
		tools.NewTool(schema("vector_db", "Search or store in vector database", "matching memories", readOnly,
			param("op", "string", "query (default) or store", false),
			param("query", "string", "text to search for", false),
			param("limit", "integer", "maximum matches", false)), m.vectorDB),
		tools.NewTool(schema("entity_extractor", "Extract entities from text", "text and entities", readOnly,
			param("text", "string", "text to analyse", false)), m.extractEntities),
		tools.NewTool(schema("db_writer", "Write to database", "stored memory id", writeOnly,
			param("content", "string", "content to store; defaults to the extracted text", false),
			param("memory_type", "string", "memory type", false)), m.write),
		tools.NewTool(schema("query_analyzer", "Analyze queries", "candidate memories", readOnly,
			param("query", "string", "request to analyse", true)), m.analyzeQuery),
		tools.NewTool(schema("db_deleter", "Delete from database", "deleted ids", deleteOp,
			param("ids", "array", "ids to delete; defaults to analysed candidates", false)), m.deleteCandidates),
		tools.NewTool(schema("db_updater", "Update database records", "updated memory", writeOnly,
			param("content", "string", "replacement content", true),
			param("id", "string", "memory to update; defaults to the first located match", false)), m.update),
		tools.NewTool(schema("memory_fetcher", "Fetch memories", "recent memories", readOnly,
			param("memory_type", "string", "restrict to one type", false),
			param("limit", "integer", "maximum memories", false)), m.fetchRecent),
		tools.NewTool(schema("store_memory", "Store information in memory", "confirmation message", writeOnly,
			param("memory_type", "string", "type of memory", true),
			param("content", "string", "content to store", true),
			param("source", "string", "where the memory came from", false),
			param("confidence", "number", "confidence between 0 and 1", false)), m.storeMemory),
		tools.NewTool(schema("fetch_memories", "Fetch memories by type", "list of memories", readOnly,
			param("memory_type", "string", "type of memory to fetch", true)), m.fetchMemories),
		tools.NewTool(schema("search_memories", "Search memories using semantic similarity", "ranked memories", readOnly,
			param("query", "string", "search text", true),
			param("limit", "integer", "maximum results", false)), m.searchMemories),
	}
}

func (m *memoryTools) embed(ctx context.Context, args map[string]any) (any, error) {
	sp := tools.ScratchpadFrom(ctx)
	text := tools.StringArg(args, "text", sp.String(KeyQuery))
	if text == "" {
		return nil, errors.New("embedder: no text to embed")
	}
	vec, err := m.store.Embedder().Embed(text)
	if err != nil {
		return nil, fmt.Errorf("embedder: %w", err)
	}
	sp.Set(KeyQuery, text)
	sp.Set(KeyVector, vec)
	return map[string]any{"text": text, "dims": len(vec)}, nil
}

func (m *memoryTools) vectorDB(ctx context.Context, args map[string]any) (any, error) {
	sp := tools.ScratchpadFrom(ctx)
	switch op := tools.StringArg(args, "op", "query"); op {
	case "query":
		limit := tools.IntArg(args, "limit", 5)
		var vec []float64
		if q := tools.StringArg(args, "query", ""); q != "" {
			v, err := m.store.Embedder().Embed(q)
			if err != nil {
				return nil, fmt.Errorf("vector_db: %w", err)
			}
			sp.Set(KeyQuery, q)
			vec = v
		} else if v, ok := sp.Get(KeyVector); ok {
			vec, _ = v.([]float64)
		}
		if vec == nil {
			return nil, errors.New("vector_db: no query or embedding to search with")
		}
		res, err := m.store.SearchVector(ctx, vec, limit)
		if err != nil {
			return nil, fmt.Errorf("vector_db: %w", err)
		}
		sp.Set(KeyMatches, memoriesOf(res))
		return res, nil
	case "store":
		text := tools.StringArg(args, "text", sp.String(KeyQuery))
		if text == "" {
			return nil, errors.New("vector_db: nothing to store")
		}
		mem, err := m.store.Add(ctx, memory.Memory{Content: text, Source: "plan"})
		if err != nil {
			return nil, fmt.Errorf("vector_db: %w", err)
		}
		return map[string]any{"id": mem.ID}, nil
	default:
		return nil, fmt.Errorf("vector_db: unknown op %q", op)
	}
}

func (m *memoryTools) extractEntities(ctx context.Context, args map[string]any) (any, error) {
	sp := tools.ScratchpadFrom(ctx)
	text := tools.StringArg(args, "text", sp.String(KeyQuery))
	if text == "" {
		return nil, errors.New("entity_extractor: no text")
	}
	entities := extractEntities(text)
	sp.Set(KeyText, text)
	sp.Set(KeyEntities, entities)
	return map[string]any{"text": text, "entities": entities}, nil
}

func (m *memoryTools) write(ctx context.Context, args map[string]any) (any, error) {
	sp := tools.ScratchpadFrom(ctx)
	content := tools.StringArg(args, "content", sp.String(KeyText))
	if content == "" {
		content = sp.String(KeyQuery)
	}
	if content == "" {
		return nil, errors.New("db_writer: nothing to store")
	}
	mem, err := m.store.Add(ctx, memory.Memory{
		Type:    tools.StringArg(args, "memory_type", memory.DefaultType),
		Content: content,
		Source:  "plan",
	})
	if err != nil {
		return nil, fmt.Errorf("db_writer: %w", err)
	}
	m.logger.Info("memory written", "id", mem.ID, "type", mem.Type)
	return map[string]any{"id": mem.ID, "message": "Stored memory with ID " + mem.ID}, nil
}

// maxCandidates bounds how many memories one request can select.
const maxCandidates = 100

// analyzeQuery finds the memories a destructive request refers to. Action
// verbs and filler are dropped and every remaining keyword must match. A
// keyword naming a stored memory type ("notes") restricts by type instead of
// content. A request made of a type name alone selects the whole type only
// when it is quantified ("all", "every", "each") or memory_type is passed.
func (m *memoryTools) analyzeQuery(ctx context.Context, args map[string]any) (any, error) {
	sp := tools.ScratchpadFrom(ctx)
	query := tools.StringArg(args, "query", sp.String(KeyQuery))
	keywords := significantWords(query)
	typ := tools.StringArg(args, "memory_type", "")
	explicitType := typ != ""

	known, err := m.store.Types(ctx)
	if err != nil {
		return nil, fmt.Errorf("query_analyzer: %w", err)
	}
	var content []string
	for _, kw := range keywords {
		if t := typeNamed(kw, known); t != "" && (typ == "" || typ == t) {
			typ = t
			continue
		}
		content = append(content, kw)
	}

	var candidates []memory.Memory
	switch {
	case len(content) > 0:
		res, err := m.store.SearchAllKeywords(ctx, strings.Join(content, " "), maxCandidates)
		if err != nil {
			return nil, fmt.Errorf("query_analyzer: %w", err)
		}
		for _, r := range res {
			if typ == "" || r.Type == typ {
				candidates = append(candidates, r.Memory)
			}
		}
	case typ != "" && (explicitType || quantified(query)):
		if candidates, err = m.store.List(ctx, typ, maxCandidates); err != nil {
			return nil, fmt.Errorf("query_analyzer: %w", err)
		}
	case len(keywords) > 0:
		// A bare type name is matched as an ordinary word.
		res, err := m.store.SearchAllKeywords(ctx, strings.Join(keywords, " "), maxCandidates)
		if err != nil {
			return nil, fmt.Errorf("query_analyzer: %w", err)
		}
		candidates = memoriesOf(res)
	}

	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.ID
	}
	sp.Set(KeyQuery, query)
	sp.Set(KeyCandidates, ids)
	sp.Set(KeyMatches, candidates)
	return map[string]any{"keywords": keywords, "memory_type": typ, "count": len(ids), "candidates": candidates}, nil
}

func (m *memoryTools) deleteCandidates(ctx context.Context, args map[string]any) (any, error) {
	sp := tools.ScratchpadFrom(ctx)
	ids := stringSlice(args["ids"])
	if ids == nil {
		v, _ := sp.Get(KeyCandidates)
		ids, _ = v.([]string)
	}
	deleted := make([]string, 0, len(ids))
	for _, id := range ids {
		err := m.store.Delete(ctx, id)
		if errors.Is(err, memory.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("db_deleter: %w", err)
		}
		deleted = append(deleted, id)
	}
	m.logger.Info("memories deleted", "count", len(deleted))
	return map[string]any{"deleted": len(deleted), "ids": deleted}, nil
}

func (m *memoryTools) update(ctx context.Context, args map[string]any) (any, error) {
	sp := tools.ScratchpadFrom(ctx)
	content := tools.StringArg(args, "content", "")
	if content == "" {
		return nil, errors.New("db_updater: content is required")
	}
	id := tools.StringArg(args, "id", "")
	if id == "" {
		matches := matchesFrom(sp)
		if len(matches) == 0 {
			return nil, errors.New("db_updater: no memory located to update")
		}
		query := sp.String(KeyQuery)
		if query == "" {
			query = content
		}
		target, ok := sharingKeyword(matches, significantWords(query))
		if !ok {
			return nil, fmt.Errorf("db_updater: no stored memory shares a keyword with %q", query)
		}
		id = target.ID
	}
	mem, err := m.store.Update(ctx, id, content)
	if err != nil {
		return nil, fmt.Errorf("db_updater: %w", err)
	}
	return mem, nil
}

func (m *memoryTools) fetchRecent(ctx context.Context, args map[string]any) (any, error) {
	ms, err := m.store.List(ctx, tools.StringArg(args, "memory_type", ""), tools.IntArg(args, "limit", 10))
	if err != nil {
		return nil, fmt.Errorf("memory_fetcher: %w", err)
	}
	tools.ScratchpadFrom(ctx).Set(KeyMatches, ms)
	return ms, nil
}

func (m *memoryTools) storeMemory(ctx context.Context, args map[string]any) (any, error) {
	mem, err := m.store.Add(ctx, memory.Memory{
		Type:       tools.StringArg(args, "memory_type", ""),
		Content:    tools.StringArg(args, "content", ""),
		Source:     tools.StringArg(args, "source", "tool"),
		Confidence: tools.FloatArg(args, "confidence", 1.0),
	})
	if err != nil {
		return nil, fmt.Errorf("store_memory: %w", err)
	}
	return "Stored memory with ID " + mem.ID, nil
}

func (m *memoryTools) fetchMemories(ctx context.Context, args map[string]any) (any, error) {
	typ := tools.StringArg(args, "memory_type", "")
	if typ == "" {
		return nil, errors.New("fetch_memories: memory_type is required")
	}
	ms, err := m.store.List(ctx, typ, 0)
	if err != nil {
		return nil, fmt.Errorf("fetch_memories: %w", err)
	}
	if ms == nil {
		ms = []memory.Memory{}
	}
	return ms, nil
}

func (m *memoryTools) searchMemories(ctx context.Context, args map[string]any) (any, error) {
	query := tools.StringArg(args, "query", "")
	if query == "" {
		return nil, errors.New("search_memories: query is required")
	}
	res, err := m.store.Search(ctx, query, tools.IntArg(args, "limit", 5))
	if err != nil {
		return nil, fmt.Errorf("search_memories: %w", err)
	}
	tools.ScratchpadFrom(ctx).Set(KeyMatches, memoriesOf(res))
	if res == nil {
		res = []memory.Result{}
	}
	return res, nil
}

var fillerWords = map[string]bool{
	"delete": true, "remove": true, "forget": true, "erase": true, "clear": true,
	"all": true, "every": true, "my": true, "the": true, "an": true,
	"of": true, "about": true, "from": true, "please": true, "any": true,
	"that": true, "those": true, "these": true, "with": true, "and": true,
	"me": true, "to": true, "in": true, "on": true, "for": true,
	"update": true, "change": true, "modify": true, "edit": true, "set": true,
	"is": true, "are": true, "was": true, "now": true, "it": true,
}

// significantWords returns the tokens of query that are not filler.
func significantWords(query string) []string {
	var out []string
	for _, tok := range memory.Tokenize(query) {
		if !fillerWords[tok] {
			out = append(out, tok)
		}
	}
	return out
}

// sameWord compares words ignoring a plural "s".
func sameWord(a, b string) bool {
	return a == b || strings.TrimSuffix(a, "s") == strings.TrimSuffix(b, "s")
}

// typeNamed returns the stored type a keyword names, or "".
func typeNamed(word string, types []string) string {
	for _, t := range types {
		if len(t) > 1 && sameWord(word, strings.ToLower(t)) {
			return t
		}
	}
	return ""
}

func quantified(query string) bool {
	for _, tok := range memory.Tokenize(query) {
		if tok == "all" || tok == "every" || tok == "each" {
			return true
		}
	}
	return false
}

// sharingKeyword returns the first memory whose content contains one of
// keywords. Matches arrive ranked, so the first hit is the best candidate.
func sharingKeyword(ms []memory.Memory, keywords []string) (memory.Memory, bool) {
	for _, mem := range ms {
		for _, tok := range memory.Tokenize(mem.Content) {
			for _, kw := range keywords {
				if sameWord(tok, kw) {
					return mem, true
				}
			}
		}
	}
	return memory.Memory{}, false
}

// extractEntities returns capitalised words and numbers in order of first
// appearance. The first word of the text is kept only when it is not a
// common sentence opener.
func extractEntities(text string) []string {
	seen := map[string]bool{}
	entities := []string{}
	for i, word := range strings.Fields(text) {
		w := strings.TrimFunc(word, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) })
		if w == "" || seen[w] {
			continue
		}
		r := []rune(w)
		isEntity := unicode.IsUpper(r[0]) || unicode.IsDigit(r[0])
		if i == 0 && unicode.IsUpper(r[0]) && sentenceOpeners[strings.ToLower(w)] {
			isEntity = false
		}
		if isEntity {
			seen[w] = true
			entities = append(entities, w)
		}
	}
	return entities
}

var sentenceOpeners = map[string]bool{
	"remember": true, "save": true, "store": true, "note": true, "keep": true,
	"i": true, "my": true, "the": true, "please": true, "add": true, "record": true,
}

func stringSlice(v any) []string {
	switch vs := v.(type) {
	case []string:
		return vs
	case []any:
		out := make([]string, 0, len(vs))
		for _, x := range vs {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
