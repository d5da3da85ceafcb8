// Package registry holds the process-scoped provider and benchmark lookup
// tables. Both are initialized once at startup and immutable afterwards;
// lookups return nil on miss and callers treat that as a fatal selection
// error. Listing is lexicographic so error messages enumerate names
// deterministically.
package registry

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/sdamache/memorybench/internal/types"
)

// ProviderEntry is one registered provider with its provenance.
type ProviderEntry struct {
	Provider     types.Provider
	Version      string
	ManifestHash string
}

// BenchmarkEntry is one registered benchmark with its provenance.
type BenchmarkEntry struct {
	Benchmark    types.Benchmark
	ManifestHash string
}

// Registry is the pair of name-keyed tables the plan builder resolves
// selections against.
type Registry struct {
	mu         sync.RWMutex
	providers  map[string]*ProviderEntry
	benchmarks map[string]*BenchmarkEntry
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		providers:  make(map[string]*ProviderEntry),
		benchmarks: make(map[string]*BenchmarkEntry),
	}
}

// RegisterProvider adds a provider under its own name.
//
// Expectations:
//   - Rejects empty names and duplicate registrations
//   - The entry is retrievable under Provider.Name()
func (r *Registry) RegisterProvider(e ProviderEntry) error {
	if e.Provider == nil {
		return fmt.Errorf("registry: nil provider")
	}
	name := e.Provider.Name()
	if name == "" {
		return fmt.Errorf("registry: provider with empty name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[name]; ok {
		return fmt.Errorf("registry: provider %q already registered", name)
	}
	r.providers[name] = &e
	return nil
}

// RegisterBenchmark adds a benchmark under its meta name.
//
// Expectations:
//   - Rejects empty names and duplicate registrations
//   - The entry is retrievable under Benchmark.Meta().Name
func (r *Registry) RegisterBenchmark(e BenchmarkEntry) error {
	if e.Benchmark == nil {
		return fmt.Errorf("registry: nil benchmark")
	}
	name := e.Benchmark.Meta().Name
	if name == "" {
		return fmt.Errorf("registry: benchmark with empty name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.benchmarks[name]; ok {
		return fmt.Errorf("registry: benchmark %q already registered", name)
	}
	r.benchmarks[name] = &e
	return nil
}

// Provider returns the entry for name, or nil on miss.
func (r *Registry) Provider(name string) *ProviderEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.providers[name]
}

// Benchmark returns the entry for name, or nil on miss.
func (r *Registry) Benchmark(name string) *BenchmarkEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.benchmarks[name]
}

// ProviderNames returns all registered provider names in lexicographic order.
func (r *Registry) ProviderNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for n := range r.providers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// BenchmarkNames returns all registered benchmark names in lexicographic order.
func (r *Registry) BenchmarkNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.benchmarks))
	for n := range r.benchmarks {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// CanonicalHash returns the SHA-256 hex digest of the canonical-JSON form of
// raw: the document decoded and re-encoded with map keys sorted at every
// nesting level (encoding/json sorts map keys on marshal).
//
// Expectations:
//   - Key order in the input document does not change the hash
//   - Whitespace in the input document does not change the hash
//   - Returns an error for invalid JSON
func CanonicalHash(raw []byte) (string, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return "", fmt.Errorf("registry: canonical hash: %w", err)
	}
	canonical, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("registry: canonical hash: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return fmt.Sprintf("%x", sum), nil
}
