// Package builtin registers the tools that plans refer to by name: the memory
// tools backed by the SQLite store, the language tools backed by the
// completion provider, and a small set of file and web helpers.
//
// Plan steps never pass outputs to one another directly, so tools cooperate
// through the execution scratchpad (see tools.Scratchpad). The keys below are
// the shared vocabulary.
package builtin

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/opera-os/opera/internal/memory"
	"github.com/opera-os/opera/internal/models"
	"github.com/opera-os/opera/internal/tools"
)

// Scratchpad keys.
const (
	KeyQuery      = "query"
	KeyVector     = "query_vector"
	KeyMatches    = "matches"
	KeyText       = "text"
	KeyEntities   = "entities"
	KeyCandidates = "candidates"
	KeyDraft      = "draft"
)

// Store is the subset of *memory.Store the tools use.
type Store interface {
	Add(ctx context.Context, m memory.Memory) (memory.Memory, error)
	Get(ctx context.Context, id string) (memory.Memory, error)
	List(ctx context.Context, memType string, limit int) ([]memory.Memory, error)
	Update(ctx context.Context, id, content string) (memory.Memory, error)
	Delete(ctx context.Context, id string) error
	Search(ctx context.Context, query string, limit int) ([]memory.Result, error)
	SearchAllKeywords(ctx context.Context, query string, limit int) ([]memory.Result, error)
	Types(ctx context.Context) ([]string, error)
	SearchVector(ctx context.Context, vec []float64, limit int) ([]memory.Result, error)
	Embedder() memory.Embedder
}

// Deps are the collaborators the builtin tools need. Provider may be nil, in
// which case the language tools fall back to deterministic output.
type Deps struct {
	Store    Store
	Provider models.Provider
	// Workspace roots the file tools. Empty disables them.
	Workspace string
	// HTTPClient is used by fetch_url. nil uses a client with a 30s timeout.
	HTTPClient *http.Client
	// ProviderTimeout bounds each completion call of the language tools.
	// Zero means 30s.
	ProviderTimeout time.Duration
	Logger          *slog.Logger
}

// Register adds every builtin tool to reg. It fails on the first duplicate,
// which is a programming error at startup.
func Register(reg *tools.Registry, deps Deps) error {
	if deps.Store == nil {
		return fmt.Errorf("builtin: memory store is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.HTTPClient == nil {
		deps.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}

	m := &memoryTools{store: deps.Store, logger: deps.Logger.With("component", "tools.memory")}
	if deps.ProviderTimeout <= 0 {
		deps.ProviderTimeout = 30 * time.Second
	}
	l := &languageTools{
		provider: deps.Provider,
		timeout:  deps.ProviderTimeout,
		logger:   deps.Logger.With("component", "tools.language"),
	}

	all := append(m.catalog(), l.catalog()...)
	if deps.Workspace != "" {
		f := &fileTools{root: deps.Workspace}
		all = append(all, f.catalog()...)
	}
	w := &webTools{client: deps.HTTPClient}
	all = append(all, w.catalog()...)

	for _, t := range all {
		if err := reg.Register(t); err != nil {
			return fmt.Errorf("builtin: %w", err)
		}
	}
	deps.Logger.Info("builtin tools registered", "count", len(all), "provider", providerName(deps.Provider))
	return nil
}

func providerName(p models.Provider) string {
	if p == nil {
		return "none"
	}
	return p.Name()
}

func schema(name, desc, returns string, perms []tools.Permission, params ...tools.Parameter) tools.Schema {
	return tools.Schema{
		Name:        name,
		Description: desc,
		Parameters:  params,
		Returns:     returns,
		Permissions: perms,
	}
}

func param(name, typ, desc string, required bool) tools.Parameter {
	return tools.Parameter{Name: name, Type: typ, Description: desc, Required: required}
}

var (
	readOnly  = []tools.Permission{tools.PermRead}
	writeOnly = []tools.Permission{tools.PermWrite}
	deleteOp  = []tools.Permission{tools.PermDelete}
	network   = []tools.Permission{tools.PermNetwork}
)

// matchesFrom returns the memories stored under KeyMatches.
func matchesFrom(sp *tools.Scratchpad) []memory.Memory {
	v, _ := sp.Get(KeyMatches)
	ms, _ := v.([]memory.Memory)
	return ms
}

func memoriesOf(rs []memory.Result) []memory.Memory {
	out := make([]memory.Memory, len(rs))
	for i, r := range rs {
		out[i] = r.Memory
	}
	return out
}
