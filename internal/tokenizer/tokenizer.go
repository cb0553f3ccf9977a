// Package tokenizer wraps a HuggingFace tokenizer behind the small Processor
// interface the generation loop needs: token ids in, token ids out, plus the
// model's end-of-sequence id and chat template handling.
package tokenizer

import (
	"fmt"

	"github.com/gomlx/go-huggingface/tokenizers/api"
)

// Processor produces token ids from text and decodes them back.
type Processor interface {
	Encode(text string) ([]int32, error)
	Decode(ids []int32) (string, error)
	EOSTokenID() int32
}

// HFTokenizer is the slice of the go-huggingface tokenizer API the
// processor relies on; api.Tokenizer satisfies it.
type HFTokenizer interface {
	Encode(text string) []int
	Decode(ids []int) string
	SpecialTokenID(token api.SpecialToken) (int, error)
}

// HFProcessor adapts a go-huggingface tokenizer to the Processor interface.
type HFProcessor struct {
	tok HFTokenizer
	eos int32
}

// NewHFProcessor wraps tok. eosOverride, when >= 0, wins over the
// tokenizer's own end-of-sentence special token; models frequently pin a
// different id in tokenizer_config.json or generation_config.json.
func NewHFProcessor(tok HFTokenizer, eosOverride int32) (*HFProcessor, error) {
	if tok == nil {
		return nil, fmt.Errorf("tokenizer: nil HF tokenizer")
	}
	eos := eosOverride
	if eos < 0 {
		id, err := tok.SpecialTokenID(api.TokEndOfSentence)
		if err != nil {
			return nil, fmt.Errorf("tokenizer: no end-of-sequence token: %w", err)
		}
		eos = int32(id)
	}
	return &HFProcessor{tok: tok, eos: eos}, nil
}

func (p *HFProcessor) Encode(text string) ([]int32, error) {
	ids := p.tok.Encode(text)
	out := make([]int32, len(ids))
	for i, id := range ids {
		out[i] = int32(id)
	}
	return out, nil
}

func (p *HFProcessor) Decode(ids []int32) (string, error) {
	ints := make([]int, len(ids))
	for i, id := range ids {
		ints[i] = int(id)
	}
	return p.tok.Decode(ints), nil
}

func (p *HFProcessor) EOSTokenID() int32 { return p.eos }
