package dataset

import (
	"crypto/sha256"
	"encoding/binary"
	"math/rand/v2"
)

// RootSeed derives independent, reproducible sub-generators from a single
// run seed, so no component needs a global RNG singleton (spec.md §9:
// "define a small process-local init that derives sub-RNGs from a root
// seed by SHA-256(seed||identifier) and returns fresh generators").
type RootSeed struct {
	seed string
}

func NewRootSeed(seed int64) *RootSeed {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(seed))
	return &RootSeed{seed: string(buf[:])}
}

// Sub returns a fresh *rand.Rand deterministically derived from the root
// seed and the given identifier (e.g. "dataset.prompt.length",
// "timing.request.cancellation"). Same seed + identifier always yields
// the same sequence, regardless of call order or worker count.
func (r *RootSeed) Sub(identifier string) *rand.Rand {
	h := sha256.Sum256([]byte(r.seed + "||" + identifier))
	s1 := binary.LittleEndian.Uint64(h[0:8])
	s2 := binary.LittleEndian.Uint64(h[8:16])
	return rand.New(rand.NewPCG(s1, s2))
}
