// Package embedding turns text into fixed-length vectors for the shard index.
//
// The default embedder is a deterministic hash expansion: reproducibility
// matters more than semantic fidelity here, and the single-method interface
// lets a real model be substituted without touching shard or search logic.
package embedding

import (
	"crypto/sha256"
	"encoding/binary"
)

// Embedder produces a fixed-length embedding for a piece of text.
// Implementations must be deterministic and safe for concurrent use.
type Embedder interface {
	Embed(text string) []float32
	Dim() int
}

// Hash is an Embedder that expands a SHA-256 digest chain into a vector.
// Each output component lies in [-1, 1]. The same text always produces the
// same vector, which keeps replay and tests reproducible.
type Hash struct {
	dim int
}

// NewHash creates a hash embedder with the given dimensionality.
func NewHash(dim int) *Hash {
	if dim <= 0 {
		dim = 128
	}
	return &Hash{dim: dim}
}

// Dim returns the embedding dimensionality.
func (h *Hash) Dim() int { return h.dim }

// Embed expands the text into h.dim components. The digest is re-hashed with
// a block counter until enough bytes are produced.
func (h *Hash) Embed(text string) []float32 {
	out := make([]float32, h.dim)
	seed := sha256.Sum256([]byte(text))

	var block [sha256.Size + 4]byte
	copy(block[:sha256.Size], seed[:])

	digest := seed
	for i := 0; i < h.dim; i++ {
		if i%sha256.Size == 0 && i > 0 {
			binary.LittleEndian.PutUint32(block[sha256.Size:], uint32(i/sha256.Size)) //nolint:gosec
			digest = sha256.Sum256(block[:])
		}
		b := digest[i%sha256.Size]
		out[i] = float32(b)/127.5 - 1
	}
	return out
}

var _ Embedder = (*Hash)(nil)
