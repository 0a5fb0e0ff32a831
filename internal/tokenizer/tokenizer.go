// Package tokenizer defines the out-of-scope tokenizer contract from
// spec.md §1 and ships one reference implementation so the module runs
// without an external plugin.
package tokenizer

import (
	"strings"
	"unicode"
)

// Tokenizer turns text into token ids and back. Real deployments plug in
// a model-specific implementation; Approximate is the built-in default.
type Tokenizer interface {
	Encode(text string) []int
	Decode(ids []int) string
	Count(text string) int
}

// Approximate is a whitespace splitting counter: each whitespace-separated
// word becomes one synthetic token id (an FNV-style hash of the word;
// punctuation stays part of its word). It does not reproduce any real
// model's byte-pair encoding; it exists so the pipeline has deterministic
// token counts with no external dependency, grounded on the teacher's
// plugin-with-default pattern (internal/plugin's registration of a
// builtin alongside the Operation interface).
type Approximate struct{}

func NewApproximate() *Approximate { return &Approximate{} }

func (Approximate) Encode(text string) []int {
	words := splitWords(text)
	ids := make([]int, len(words))
	for i, w := range words {
		ids[i] = hashWord(w)
	}
	return ids
}

func (Approximate) Decode(ids []int) string {
	// Lossy by construction: ids are hashes, not a vocabulary index.
	// Decode returns a placeholder of the right token count.
	parts := make([]string, len(ids))
	for i := range ids {
		parts[i] = "<tok>"
	}
	return strings.Join(parts, " ")
}

func (a Approximate) Count(text string) int {
	return len(splitWords(text))
}

func splitWords(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return unicode.IsSpace(r)
	})
}

func hashWord(w string) int {
	h := 2166136261
	for _, b := range []byte(w) {
		h = (h ^ int(b)) * 16777619
	}
	if h < 0 {
		h = -h
	}
	return h
}
