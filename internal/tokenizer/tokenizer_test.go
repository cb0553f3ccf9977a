package tokenizer

import (
	"fmt"
	"testing"

	"github.com/gomlx/go-huggingface/tokenizers/api"
)

// runeTokenizer maps each rune to its codepoint, so encode/decode are
// exact inverses over any text.
type runeTokenizer struct {
	eos    int
	eosErr error
}

func (r *runeTokenizer) Encode(text string) []int {
	var ids []int
	for _, c := range text {
		ids = append(ids, int(c))
	}
	return ids
}

func (r *runeTokenizer) Decode(ids []int) string {
	var out []rune
	for _, id := range ids {
		out = append(out, rune(id))
	}
	return string(out)
}

func (r *runeTokenizer) SpecialTokenID(token api.SpecialToken) (int, error) {
	if r.eosErr != nil {
		return 0, r.eosErr
	}
	return r.eos, nil
}

// TestProcessorRoundTrip checks plain text survives encode followed by
// decode unchanged.
func TestProcessorRoundTrip(t *testing.T) {
	proc, err := NewHFProcessor(&runeTokenizer{eos: 2}, -1)
	if err != nil {
		t.Fatalf("NewHFProcessor returned error: %v", err)
	}

	for _, text := range []string{
		"What are these?",
		"cats on a couch",
		"",
	} {
		ids, err := proc.Encode(text)
		if err != nil {
			t.Fatalf("Encode(%q) returned error: %v", text, err)
		}
		got, err := proc.Decode(ids)
		if err != nil {
			t.Fatalf("Decode returned error: %v", err)
		}
		if got != text {
			t.Errorf("round trip of %q produced %q", text, got)
		}
	}
}

// TestProcessorEOSFromTokenizer checks the end-of-sequence id comes from
// the tokenizer's special token when no override is given.
func TestProcessorEOSFromTokenizer(t *testing.T) {
	proc, err := NewHFProcessor(&runeTokenizer{eos: 151645}, -1)
	if err != nil {
		t.Fatalf("NewHFProcessor returned error: %v", err)
	}
	if proc.EOSTokenID() != 151645 {
		t.Fatalf("expected eos 151645, got %d", proc.EOSTokenID())
	}
}

// TestProcessorEOSOverride checks a non-negative override wins over the
// tokenizer's own end-of-sequence token.
func TestProcessorEOSOverride(t *testing.T) {
	proc, err := NewHFProcessor(&runeTokenizer{eos: 2}, 7)
	if err != nil {
		t.Fatalf("NewHFProcessor returned error: %v", err)
	}
	if proc.EOSTokenID() != 7 {
		t.Fatalf("expected override eos 7, got %d", proc.EOSTokenID())
	}
}

// TestProcessorNoEOS checks construction fails when the tokenizer has no
// end-of-sequence token and no override is supplied.
func TestProcessorNoEOS(t *testing.T) {
	rt := &runeTokenizer{eosErr: fmt.Errorf("not defined")}
	if _, err := NewHFProcessor(rt, -1); err == nil {
		t.Fatal("expected error without an end-of-sequence token")
	}
	if _, err := NewHFProcessor(rt, 9); err != nil {
		t.Fatalf("override should not consult the tokenizer: %v", err)
	}
}

// TestProcessorNilTokenizer checks the nil guard.
func TestProcessorNilTokenizer(t *testing.T) {
	if _, err := NewHFProcessor(nil, 0); err == nil {
		t.Fatal("expected error for nil tokenizer")
	}
}
