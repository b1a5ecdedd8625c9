package embedding

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// MemoryStore keeps static word vectors in a map. Lookups of unknown tokens yield zero vectors.
type MemoryStore struct {
	dims    int
	vectors map[string][]float32
}

// NewMemoryStore builds a store from an existing map. Vectors are fitted to dims.
func NewMemoryStore(dims int, vectors map[string][]float32) *MemoryStore {
	s := &MemoryStore{dims: dims, vectors: make(map[string][]float32, len(vectors))}
	for tok, v := range vectors {
		s.vectors[tok] = fitDims(v, dims)
	}
	return s
}

// LoadMemoryStore reads a word2vec/fastText text file.
func LoadMemoryStore(path string) (*MemoryStore, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open embeddings %s: %w", path, err)
	}
	defer f.Close()
	return ReadMemoryStore(f)
}

// ReadMemoryStore parses "token v1 ... vd" lines. An optional first line "count dims"
// declares the size; otherwise the first vector fixes it. Lines of another width are skipped.
func ReadMemoryStore(r io.Reader) (*MemoryStore, error) {
	s := &MemoryStore{vectors: make(map[string][]float32)}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	first := true
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if first {
			first = false
			if len(fields) == 2 {
				if _, err := strconv.Atoi(fields[0]); err == nil {
					if d, err := strconv.Atoi(fields[1]); err == nil && d > 0 {
						s.dims = d
						continue
					}
				}
			}
		}
		vec := make([]float32, 0, len(fields)-1)
		ok := true
		for _, raw := range fields[1:] {
			v, err := strconv.ParseFloat(raw, 32)
			if err != nil {
				ok = false
				break
			}
			vec = append(vec, float32(v))
		}
		if !ok || len(vec) == 0 {
			continue
		}
		if s.dims == 0 {
			s.dims = len(vec)
		}
		if len(vec) != s.dims {
			continue
		}
		s.vectors[fields[0]] = vec
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read embeddings: %w", err)
	}
	if s.dims == 0 {
		return nil, fmt.Errorf("embeddings file declares no vectors")
	}
	return s, nil
}

func (s *MemoryStore) Dimensions() int { return s.dims }

// Size returns the number of stored tokens.
func (s *MemoryStore) Size() int { return len(s.vectors) }

func (s *MemoryStore) Embed(ctx context.Context, tokens []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([][]float32, len(tokens))
	for i, tok := range tokens {
		if v, ok := s.vectors[tok]; ok {
			out[i] = fitDims(v, s.dims)
			continue
		}
		out[i] = Zero(s.dims)
	}
	return out, nil
}
