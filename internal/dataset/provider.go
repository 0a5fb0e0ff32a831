package dataset

import (
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/bc-dunia/inferbench/internal/types"
)

// Strategy selects how Sample picks the next conversation.
type Strategy string

const (
	StrategyRandom     Strategy = "RANDOM"
	StrategySequential Strategy = "SEQUENTIAL"
	StrategyShuffle    Strategy = "SHUFFLE"
)

// NotFoundError is returned by GetByID for an unknown conversation id.
type NotFoundError struct {
	ConversationID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("dataset: conversation %q not found", e.ConversationID)
}

// Provider materializes the full conversation pool before the first
// credit is issued and serves read-only lookups at runtime (spec.md
// §4.2). Conversations are immutable post-finalization, so reads need no
// locking beyond the provider's own bookkeeping.
type Provider struct {
	conversations []types.Conversation
	byID          map[string]int

	root *RootSeed

	mu           sync.Mutex
	sequentialAt int
	shuffleOrder []int
	shuffleAt    int
	randomRNG    *rand.Rand
	shuffleRNG   *rand.Rand
}

// NewProvider finalizes the given pool. The pool must already be
// generated (synthetic or loaded from file) before construction; Provider
// never mutates it afterward.
func NewProvider(conversations []types.Conversation, root *RootSeed) *Provider {
	byID := make(map[string]int, len(conversations))
	for i, c := range conversations {
		byID[c.ID] = i
	}
	return &Provider{
		conversations: conversations,
		byID:          byID,
		root:          root,
	}
}

func (p *Provider) Count() int {
	return len(p.conversations)
}

func (p *Provider) GetByID(conversationID string) (types.Conversation, error) {
	idx, ok := p.byID[conversationID]
	if !ok {
		return types.Conversation{}, &NotFoundError{ConversationID: conversationID}
	}
	return p.conversations[idx], nil
}

// At returns the conversation at the given pool index without disturbing
// any Sample strategy's cursor. Used by fixed-schedule mode to peek the
// first conversation's timestamp for auto-offset without consuming a
// turn from the sequential walk.
func (p *Provider) At(i int) (types.Conversation, error) {
	if i < 0 || i >= len(p.conversations) {
		return types.Conversation{}, fmt.Errorf("dataset: index %d out of range", i)
	}
	return p.conversations[i], nil
}

// Sample returns the next conversation per strategy. Deterministic under
// the provider's root seed: RANDOM draws from a dedicated sub-RNG,
// SEQUENTIAL walks the pool in order (wrapping), SHUFFLE walks a
// once-computed permutation (wrapping, reshuffled with a fresh sub-RNG
// draw each time it wraps).
func (p *Provider) Sample(strategy Strategy) (types.Conversation, error) {
	if len(p.conversations) == 0 {
		return types.Conversation{}, fmt.Errorf("dataset: empty conversation pool")
	}

	switch strategy {
	case StrategyRandom:
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.randomRNG == nil {
			p.randomRNG = p.root.Sub("dataset.sample.random")
		}
		idx := p.randomRNG.IntN(len(p.conversations))
		return p.conversations[idx], nil

	case StrategySequential:
		p.mu.Lock()
		idx := p.sequentialAt % len(p.conversations)
		p.sequentialAt++
		p.mu.Unlock()
		return p.conversations[idx], nil

	case StrategyShuffle:
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.shuffleOrder == nil || p.shuffleAt >= len(p.shuffleOrder) {
			p.shuffleOrder = p.newShuffleOrderLocked()
			p.shuffleAt = 0
		}
		idx := p.shuffleOrder[p.shuffleAt]
		p.shuffleAt++
		return p.conversations[idx], nil

	default:
		return types.Conversation{}, fmt.Errorf("dataset: unknown sample strategy %q", strategy)
	}
}

func (p *Provider) newShuffleOrderLocked() []int {
	order := make([]int, len(p.conversations))
	for i := range order {
		order[i] = i
	}
	if p.shuffleRNG == nil {
		p.shuffleRNG = p.root.Sub("dataset.sample.shuffle")
	}
	p.shuffleRNG.Shuffle(len(order), func(i, j int) {
		order[i], order[j] = order[j], order[i]
	})
	return order
}
