// Package sentencepiece implements a tokenizers.Tokenizer based on SentencePiece tokenizer.
package sentencepiece

import (
	"strings"

	esentencepiece "github.com/eliben/go-sentencepiece"
	"github.com/gomlx/qafeatures/tokenizers/api"
	"github.com/pkg/errors"
)

// New creates a SentencePiece tokenizer from a "tokenizer.model" file, which must be a
// SentencePiece Model proto (see protos.Model).
//
// The config is not used: special tokens are defined by the model itself.
//
// It implements a tokenizers.Constructor function signature.
func New(config *api.Config, filePath string) (api.TokenizerWithSpans, error) {
	proc, err := esentencepiece.NewProcessorFromPath(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "can't create sentencepiece tokenizer from %q", filePath)
	}
	return &Tokenizer{
		Processor: proc,
		Info:      proc.ModelInfo(),
	}, nil
}

// Tokenizer implements tokenizers.Tokenizer interface based on SentencePiece tokenizer by Google.
type Tokenizer struct {
	*esentencepiece.Processor
	Info *esentencepiece.ModelInfo
}

// Compile time assert that sentencepiece.Tokenizer implements tokenizers.TokenizerWithSpans interface.
var _ api.TokenizerWithSpans = &Tokenizer{}

// Encode returns the text encoded into a sequence of ids.
func (p *Tokenizer) Encode(text string) []int {
	tokens := p.Processor.Encode(text)
	ids := make([]int, len(tokens))
	for i, tok := range tokens {
		ids[i] = tok.ID
	}
	return ids
}

// EncodeWithSpans returns the text encoded into a sequence of ids along with their byte spans.
// It implements api.TokenizerWithSpans.
func (p *Tokenizer) EncodeWithSpans(text string) api.EncodingResult {
	tokens := p.Processor.Encode(text)
	ids := make([]int, len(tokens))
	pieces := make([]string, len(tokens))
	for i, tok := range tokens {
		ids[i] = tok.ID
		pieces[i] = tok.Text
	}
	return api.EncodingResult{
		IDs:   ids,
		Spans: alignPieces(text, pieces),
	}
}

// metaspace is the U+2581 (lower one eighth block) character SentencePiece uses to represent spaces.
const metaspace = "▁"

// alignPieces finds the byte span of each piece in text, scanning forward.
//
// Pieces that can't be found (e.g. normalized by the model) advance by their length, clipped to the text.
// The whitespace represented by a leading metaspace is not part of the span.
func alignPieces(text string, pieces []string) []api.TokenSpan {
	spans := make([]api.TokenSpan, len(pieces))
	pos := 0
	for i, piece := range pieces {
		matchPiece, hasLeadingSpace := strings.CutPrefix(piece, metaspace)
		if hasLeadingSpace {
			for pos < len(text) && isSpace(text[pos]) {
				pos++
			}
		}

		if matchPiece == "" {
			// The token represents just the (already skipped) space.
			spans[i] = api.TokenSpan{Start: pos, End: pos}
			continue
		}
		start := pos
		if foundAt := findSubstring(text, matchPiece, pos); foundAt >= 0 {
			start = foundAt
			pos = foundAt + len(matchPiece)
		} else {
			pos = min(pos+len(matchPiece), len(text))
		}
		spans[i] = api.TokenSpan{Start: start, End: pos}
	}
	return spans
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

// findSubstring finds the first occurrence of substr in s starting from position start.
// Returns the byte position of the match, or -1 if not found.
func findSubstring(s, substr string, start int) int {
	if start >= len(s) {
		return -1
	}
	idx := strings.Index(s[start:], substr)
	if idx < 0 {
		return -1
	}
	return start + idx
}

// Decode returns the text from a sequence of ids.
func (p *Tokenizer) Decode(ids []int) string {
	return p.Processor.Decode(ids)
}

// SpecialTokenID returns the token for the given symbol, or an error if not known.
//
// SentencePiece models have no classification token: TokClassification maps to the beginning of sentence,
// which is what T5/XLNet style models use as the "no answer" anchor.
func (p *Tokenizer) SpecialTokenID(token api.SpecialToken) (int, error) {
	var id int
	switch token {
	case api.TokUnknown:
		id = p.Info.UnknownID
	case api.TokPad:
		id = p.Info.PadID
	case api.TokBeginningOfSentence, api.TokClassification:
		id = p.Info.BeginningOfSentenceID
	case api.TokEndOfSentence:
		id = p.Info.EndOfSentenceID
	default:
		return 0, errors.Errorf("unknown special token: %s (%d)", token, int(token))
	}
	if id < 0 {
		return 0, errors.Errorf("special token %s is disabled in the sentencepiece model", token)
	}
	return id, nil
}
