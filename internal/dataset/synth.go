package dataset

import (
	"fmt"
	"math"
	"strings"

	"github.com/bc-dunia/inferbench/internal/types"
)

// SequenceDistribution draws (input_sequence_length, output_sequence_length)
// pairs for synthetic conversations (spec.md §4.2).
type SequenceDistribution struct {
	ISLMean    float64
	ISLStddev  float64
	OSLMean    float64
	OSLStddev  float64
	Prob       float64 // selection probability when multiple distributions are mixed
}

// PrefixPool is a fixed-size pool of prefix token sequences drawn from
// before the generated body, used to exercise KV-cache prefix reuse.
type PrefixPool struct {
	Prefixes [][]int
}

// SynthConfig parameterizes synthetic conversation generation.
type SynthConfig struct {
	ConversationCount int
	TurnMean          float64
	TurnStddev        float64
	TurnDelayMeanMs   float64
	TurnDelayStddevMs float64
	TurnDelayRatio    float64
	Distributions     []SequenceDistribution
	Prefix            *PrefixPool
	ReferenceCorpus    []int // token ids to draw synthetic prompt content from
}

// GenerateSynthetic builds a deterministic conversation pool. Same seed +
// same config produces a byte-identical pool regardless of worker count
// (spec.md §8 "Determinism").
func GenerateSynthetic(cfg SynthConfig, root *RootSeed) ([]types.Conversation, error) {
	if len(cfg.Distributions) == 0 {
		return nil, fmt.Errorf("dataset: synthetic generation requires at least one sequence distribution")
	}
	if len(cfg.ReferenceCorpus) == 0 {
		return nil, fmt.Errorf("dataset: synthetic generation requires a non-empty reference corpus")
	}

	turnCountRNG := root.Sub("dataset.turn.count")
	turnDelayRNG := root.Sub("dataset.turn.delay")
	distRNG := root.Sub("dataset.sequence.distribution")
	lengthRNG := root.Sub("dataset.prompt.length")
	corpusRNG := root.Sub("dataset.prompt.corpus")
	prefixRNG := root.Sub("dataset.image.dimensions") // reserved id kept stable for future media sizing

	convs := make([]types.Conversation, 0, cfg.ConversationCount)
	for i := 0; i < cfg.ConversationCount; i++ {
		turnCount := clampInt(int(math.Round(sampleNormal(turnCountRNG, cfg.TurnMean, cfg.TurnStddev))), 1, math.MaxInt32)

		dist := pickDistribution(cfg.Distributions, distRNG)

		turns := make([]types.Turn, 0, turnCount)
		for t := 0; t < turnCount; t++ {
			isl := clampInt(int(math.Round(sampleNormal(lengthRNG, dist.ISLMean, dist.ISLStddev))), 1, math.MaxInt32)
			osl := clampInt(int(math.Round(sampleNormal(lengthRNG, dist.OSLMean, dist.OSLStddev))), 1, math.MaxInt32)

			text := generatePromptText(cfg, isl, corpusRNG, prefixRNG)

			delayAfter := int64(0)
			if t > 0 {
				d := sampleNormal(turnDelayRNG, cfg.TurnDelayMeanMs, cfg.TurnDelayStddevMs) * cfg.TurnDelayRatio
				if d < 0 {
					d = 0
				}
				delayAfter = int64(d)
			}

			turns = append(turns, types.Turn{
				Role:         types.RoleUser,
				Text:         text,
				MaxTokens:    osl,
				MinTokens:    0,
				DelayAfterMs: delayAfter,
				InputLength:  isl,
			})
		}

		convs = append(convs, types.Conversation{
			ID:    fmt.Sprintf("conv-%08d", i),
			Turns: turns,
		})
	}

	return convs, nil
}

func pickDistribution(dists []SequenceDistribution, rng interface{ Float64() float64 }) SequenceDistribution {
	if len(dists) == 1 {
		return dists[0]
	}
	total := 0.0
	for _, d := range dists {
		total += d.Prob
	}
	if total <= 0 {
		return dists[0]
	}
	r := rng.Float64() * total
	cum := 0.0
	for _, d := range dists {
		cum += d.Prob
		if r <= cum {
			return d
		}
	}
	return dists[len(dists)-1]
}

// generatePromptText repeatedly draws token ids from the reference
// corpus to reach the target token count, optionally prepending a fixed
// prefix drawn from the prefix pool.
func generatePromptText(cfg SynthConfig, targetTokens int, corpusRNG interface{ IntN(int) int }, prefixRNG interface{ IntN(int) int }) string {
	var b strings.Builder

	if cfg.Prefix != nil && len(cfg.Prefix.Prefixes) > 0 {
		idx := prefixRNG.IntN(len(cfg.Prefix.Prefixes))
		for _, id := range cfg.Prefix.Prefixes[idx] {
			fmt.Fprintf(&b, "%d ", id)
		}
	}

	for i := 0; i < targetTokens; i++ {
		id := cfg.ReferenceCorpus[corpusRNG.IntN(len(cfg.ReferenceCorpus))]
		fmt.Fprintf(&b, "%d ", id)
	}

	return strings.TrimSpace(b.String())
}

func sampleNormal(rng interface{ NormFloat64() float64 }, mean, stddev float64) float64 {
	if stddev <= 0 {
		return mean
	}
	return mean + stddev*rng.NormFloat64()
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
