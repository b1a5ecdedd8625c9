package embedding

import (
	"context"
	"crypto/sha256"
)

// hashProvider derives a deterministic pseudo-vector from each token. Development only:
// every token is "known", so it never yields the zero vector.
type hashProvider struct{ dims int }

func NewHashProvider(dims int) *hashProvider {
	if dims <= 0 {
		dims = 300
	}
	return &hashProvider{dims: dims}
}

func (h *hashProvider) Dimensions() int { return h.dims }

func (h *hashProvider) Embed(ctx context.Context, tokens []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([][]float32, len(tokens))
	for i, s := range tokens {
		sum := sha256.Sum256([]byte(s))
		vec := make([]float32, h.dims)
		// repeat hash bytes to fill dims; 128 maps to a small positive value so no vector is all zero
		for j := 0; j < h.dims; j++ {
			b := sum[j%len(sum)]
			vec[j] = (float32(int(b)) - 127.5) / 128.0
		}
		out[i] = vec
	}
	return out, nil
}
