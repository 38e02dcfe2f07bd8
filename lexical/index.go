package lexical

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/feedpulse/codec"
	"github.com/hupe1980/feedpulse/kvstore"
	"github.com/hupe1980/feedpulse/model"
)

// PostingsCap bounds the postings list per token (newest-first).
const PostingsCap = 1000

// StateKey is the substrate key of the singleton index entity.
const StateKey = "keyword/index"

// posting is one token's entry: the capped newest-first id list plus a
// roaring membership bitmap. Ids evicted from the list stay in the bitmap,
// which is exactly the idempotency contract: an event id is posted at most
// once per token, ever.
type posting struct {
	IDs     []uint32 `json:"ids"`
	Members []byte   `json:"members"`
}

type state struct {
	Docs     map[string]uint32   `json:"docs"`
	ByLocal  []string            `json:"byLocal"`
	Postings map[string]*posting `json:"postings"`
}

func newState() *state {
	return &state{
		Docs:     make(map[string]uint32),
		Postings: make(map[string]*posting),
	}
}

// Index is the keyword postings index entity.
type Index struct {
	store kvstore.MutableStore
	codec codec.Codec
	cap   int
}

// Options configures the index.
type Options struct {
	// Codec encodes the persisted state. Defaults to codec.Default.
	Codec codec.Codec

	// PostingsCap bounds the per-token postings list.
	PostingsCap int
}

// New creates an index over the given store.
func New(store kvstore.MutableStore, optFns ...func(o *Options)) *Index {
	opts := Options{
		Codec:       codec.Default,
		PostingsCap: PostingsCap,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Index{store: store, codec: opts.Codec, cap: opts.PostingsCap}
}

func (x *Index) decode(data []byte) (*state, error) {
	if len(data) == 0 {
		return newState(), nil
	}
	var st state
	if err := x.codec.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("failed to decode keyword index: %w", err)
	}
	if st.Docs == nil {
		st.Docs = make(map[string]uint32)
	}
	if st.Postings == nil {
		st.Postings = make(map[string]*posting)
	}
	return &st, nil
}

// Add tokenizes text and posts docID to every resulting token. Adding the
// same document twice is a no-op per token, so replays converge.
func (x *Index) Add(ctx context.Context, docID, text string) error {
	tokens := Tokenize(text)
	if len(tokens) == 0 {
		return nil
	}

	return x.store.Mutate(ctx, StateKey, func(cur []byte) ([]byte, error) {
		st, err := x.decode(cur)
		if err != nil {
			return nil, err
		}

		local, ok := st.Docs[docID]
		if !ok {
			local = uint32(len(st.ByLocal)) //nolint:gosec
			st.Docs[docID] = local
			st.ByLocal = append(st.ByLocal, docID)
		}

		seen := make(map[string]struct{}, len(tokens))
		for _, tok := range tokens {
			if _, dup := seen[tok]; dup {
				continue
			}
			seen[tok] = struct{}{}

			p := st.Postings[tok]
			if p == nil {
				p = &posting{}
				st.Postings[tok] = p
			}

			members := roaring.New()
			if len(p.Members) > 0 {
				if err := members.UnmarshalBinary(p.Members); err != nil {
					return nil, fmt.Errorf("failed to decode postings bitmap for %q: %w", tok, err)
				}
			}
			if members.Contains(local) {
				continue
			}
			members.Add(local)

			p.IDs = append([]uint32{local}, p.IDs...)
			if len(p.IDs) > x.cap {
				p.IDs = p.IDs[:x.cap]
			}
			b, err := members.MarshalBinary()
			if err != nil {
				return nil, err
			}
			p.Members = b
		}

		return x.codec.Marshal(st)
	})
}

// SearchCandidates accumulates per-document hit counts over the query
// tokens, normalizes by the token count, and returns the top candidates in
// descending score order.
func (x *Index) SearchCandidates(ctx context.Context, tokens []string, limit int) ([]model.Candidate, error) {
	if len(tokens) == 0 {
		return nil, nil
	}

	entry, err := x.store.Get(ctx, StateKey)
	if err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	st, err := x.decode(entry.Value)
	if err != nil {
		return nil, err
	}

	hits := make(map[uint32]int)
	for _, tok := range tokens {
		p := st.Postings[tok]
		if p == nil {
			continue
		}
		for _, local := range p.IDs {
			hits[local]++
		}
	}
	if len(hits) == 0 {
		return nil, nil
	}

	candidates := make([]model.Candidate, 0, len(hits))
	for local, count := range hits {
		if int(local) >= len(st.ByLocal) {
			continue
		}
		candidates = append(candidates, model.Candidate{
			DocID: st.ByLocal[local],
			Score: float32(count) / float32(len(tokens)),
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].DocID < candidates[j].DocID
	})
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}
