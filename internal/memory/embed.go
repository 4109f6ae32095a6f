package memory

import (
	"container/list"
	"encoding/binary"
	"math"
	"strings"
	"sync"
	"unicode"

	"golang.org/x/crypto/blake2b"
)

// Embedder turns text into a fixed-width vector.
type Embedder interface {
	Embed(text string) ([]float64, error)
	Dims() int
}

// HashEmbedder is a feature-hashing embedder. Each lower-cased token is
// hashed with BLAKE2b into a bucket and a sign, and the result is L2
// normalised. Texts that share words end up close in cosine space, which is
// enough for recall over personal notes without an embedding model.
type HashEmbedder struct {
	dims int
}

// NewHashEmbedder returns an embedder producing dims-wide vectors.
func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = 256
	}
	return &HashEmbedder{dims: dims}
}

func (h *HashEmbedder) Dims() int { return h.dims }

func (h *HashEmbedder) Embed(text string) ([]float64, error) {
	vec := make([]float64, h.dims)
	for _, tok := range Tokenize(text) {
		sum := blake2b.Sum256([]byte(tok))
		idx := binary.LittleEndian.Uint32(sum[:4]) % uint32(h.dims)
		if sum[4]&1 == 1 {
			vec[idx]--
		} else {
			vec[idx]++
		}
	}
	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return vec, nil
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] /= norm
	}
	return vec, nil
}

// Tokenize splits text into lower-cased words of letters and digits.
// Single-character tokens are dropped.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) > 1 {
			out = append(out, f)
		}
	}
	return out
}

// embeddingCache is a thread-safe LRU keyed by the embedded text.
type embeddingCache struct {
	mu       sync.Mutex
	capacity int
	items    map[string]*list.Element
	order    *list.List
}

type cacheEntry struct {
	key string
	vec []float64
}

func newEmbeddingCache(capacity int) *embeddingCache {
	if capacity <= 0 {
		capacity = 128
	}
	return &embeddingCache{
		capacity: capacity,
		items:    make(map[string]*list.Element),
		order:    list.New(),
	}
}

func (c *embeddingCache) get(key string) []float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.order.MoveToFront(el)
		return el.Value.(*cacheEntry).vec
	}
	return nil
}

func (c *embeddingCache) put(key string, vec []float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.order.MoveToFront(el)
		el.Value.(*cacheEntry).vec = vec
		return
	}
	if c.order.Len() >= c.capacity {
		if back := c.order.Back(); back != nil {
			c.order.Remove(back)
			delete(c.items, back.Value.(*cacheEntry).key)
		}
	}
	c.items[key] = c.order.PushFront(&cacheEntry{key: key, vec: vec})
}

func (c *embeddingCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// encodeVector packs v as little-endian float64s for a BLOB column.
func encodeVector(v []float64) []byte {
	buf := make([]byte, 8*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float64 {
	v := make([]float64, len(b)/8)
	for i := range v {
		v[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[i*8:]))
	}
	return v
}

// CosineSimilarity returns 0 for mismatched or zero vectors.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
