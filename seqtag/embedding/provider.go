package embedding

import (
	"context"
	"fmt"
	"strings"

	"gonum.org/v1/gonum/blas/blas32"
)

// Provider produces fixed-dimension vectors for word tokens.
// Unknown tokens must come back as a zero vector of Dimensions() length, never an error.
// Providers are read-only once built and safe for concurrent use by batch workers.
type Provider interface {
	Dimensions() int
	Embed(ctx context.Context, tokens []string) ([][]float32, error)
}

// NewProvider selects an embedding provider by name ("hash", "memory", "libsql").
// path is the vectors file for "memory" and the database DSN or file for "libsql".
func NewProvider(ctx context.Context, providerName string, dims int, path string) (Provider, error) {
	if dims <= 0 {
		dims = 300
	}
	switch strings.ToLower(strings.TrimSpace(providerName)) {
	case "hash", "", "dev":
		return NewHashProvider(dims), nil
	case "memory", "text", "vec":
		return LoadMemoryStore(path)
	case "libsql", "sqlite":
		return OpenLibSQLStore(ctx, path, dims)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", providerName)
	}
}

// IsZero reports whether vec is the zero (unknown token) vector.
func IsZero(vec []float32) bool {
	if len(vec) == 0 {
		return true
	}
	return blas32.Asum(blas32.Vector{N: len(vec), Inc: 1, Data: vec}) == 0
}

// Zero returns a zero vector of the given size.
func Zero(dims int) []float32 { return make([]float32, dims) }

// fitDims cuts or zero-pads vec to dims, copying so callers never alias store memory.
func fitDims(vec []float32, dims int) []float32 {
	out := make([]float32, dims)
	copy(out, vec)
	return out
}
