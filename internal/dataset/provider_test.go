package dataset

import (
	"strings"
	"testing"

	"github.com/bc-dunia/inferbench/internal/types"
)

func TestGetByIDNotFound(t *testing.T) {
	p := NewProvider([]types.Conversation{{ID: "a"}}, NewRootSeed(1))
	if _, err := p.GetByID("missing"); err == nil {
		t.Fatal("expected NotFoundError")
	}
}

func TestSampleSequentialWraps(t *testing.T) {
	convs := []types.Conversation{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	p := NewProvider(convs, NewRootSeed(1))

	var ids []string
	for i := 0; i < 4; i++ {
		c, err := p.Sample(StrategySequential)
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, c.ID)
	}
	if strings.Join(ids, ",") != "a,b,c,a" {
		t.Fatalf("unexpected sequence: %v", ids)
	}
}

func TestSampleRandomDeterministicUnderSeed(t *testing.T) {
	convs := []types.Conversation{{ID: "a"}, {ID: "b"}, {ID: "c"}, {ID: "d"}}

	p1 := NewProvider(convs, NewRootSeed(42))
	p2 := NewProvider(convs, NewRootSeed(42))

	for i := 0; i < 10; i++ {
		c1, _ := p1.Sample(StrategyRandom)
		c2, _ := p2.Sample(StrategyRandom)
		if c1.ID != c2.ID {
			t.Fatalf("same seed diverged at draw %d: %s vs %s", i, c1.ID, c2.ID)
		}
	}
}

func TestSampleShuffleCoversAllBeforeRepeat(t *testing.T) {
	convs := []types.Conversation{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	p := NewProvider(convs, NewRootSeed(7))

	seen := make(map[string]bool)
	for i := 0; i < 3; i++ {
		c, err := p.Sample(StrategyShuffle)
		if err != nil {
			t.Fatal(err)
		}
		if seen[c.ID] {
			t.Fatalf("conversation %s repeated before full cycle", c.ID)
		}
		seen[c.ID] = true
	}
	if len(seen) != 3 {
		t.Fatalf("expected all 3 conversations visited, got %d", len(seen))
	}
}

func TestGenerateSyntheticDeterministic(t *testing.T) {
	cfg := SynthConfig{
		ConversationCount: 5,
		TurnMean:          2,
		TurnStddev:        0,
		Distributions: []SequenceDistribution{
			{ISLMean: 10, ISLStddev: 0, OSLMean: 5, OSLStddev: 0, Prob: 1},
		},
		ReferenceCorpus: []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10},
	}

	c1, err := GenerateSynthetic(cfg, NewRootSeed(99))
	if err != nil {
		t.Fatal(err)
	}
	c2, err := GenerateSynthetic(cfg, NewRootSeed(99))
	if err != nil {
		t.Fatal(err)
	}

	if len(c1) != 5 || len(c2) != 5 {
		t.Fatalf("expected 5 conversations, got %d and %d", len(c1), len(c2))
	}
	for i := range c1 {
		if c1[i].ID != c2[i].ID {
			t.Fatalf("ids diverged at %d", i)
		}
		if len(c1[i].Turns) != len(c2[i].Turns) {
			t.Fatalf("turn count diverged at %d", i)
		}
		for j := range c1[i].Turns {
			if c1[i].Turns[j].Text != c2[i].Turns[j].Text {
				t.Fatalf("turn text diverged at conv %d turn %d", i, j)
			}
		}
	}
}

func TestLoadJSONLSingleTurn(t *testing.T) {
	input := `{"text":"hello","max_tokens":16}
{"texts":["first","second"]}
`
	convs, err := LoadJSONL(strings.NewReader(input), FormatSingleTurn)
	if err != nil {
		t.Fatal(err)
	}
	if len(convs) != 2 {
		t.Fatalf("expected 2 conversations, got %d", len(convs))
	}
	if convs[0].Turns[0].Text != "hello" || convs[0].Turns[0].MaxTokens != 16 {
		t.Fatalf("unexpected first conversation: %+v", convs[0])
	}
	if convs[1].Turns[0].Text != "first" {
		t.Fatalf("expected texts[0] fallback, got %q", convs[1].Turns[0].Text)
	}
}

func TestLoadJSONLMooncakeTrace(t *testing.T) {
	input := `{"timestamp":0,"input_length":10}
{"timestamp":1000,"input_length":10,"hash_ids":[1,2,3]}
`
	convs, err := LoadJSONL(strings.NewReader(input), FormatMooncakeTrace)
	if err != nil {
		t.Fatal(err)
	}
	if len(convs) != 2 {
		t.Fatalf("expected 2 conversations, got %d", len(convs))
	}
	if convs[1].TimestampMs != 1000 || len(convs[1].HashIDs) != 3 {
		t.Fatalf("unexpected second conversation: %+v", convs[1])
	}
}

func TestLoadJSONLMultiTurn(t *testing.T) {
	input := `{"session_id":"s1","turns":[{"role":"user","text":"hi"},{"role":"user","text":"again"}]}`
	convs, err := LoadJSONL(strings.NewReader(input), FormatMultiTurn)
	if err != nil {
		t.Fatal(err)
	}
	if len(convs) != 1 || len(convs[0].Turns) != 2 {
		t.Fatalf("unexpected conversations: %+v", convs)
	}
	if convs[0].ID != "s1" {
		t.Fatalf("expected session id s1, got %s", convs[0].ID)
	}
}

func TestLoadJSONLMalformedLineErrors(t *testing.T) {
	input := "not json\n"
	if _, err := LoadJSONL(strings.NewReader(input), FormatSingleTurn); err == nil {
		t.Fatal("expected parse error for malformed line")
	}
}
