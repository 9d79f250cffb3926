// Package api defines the Tokenizer API.
// It's just a hack to break the cyclic dependency, and allow the users to import `tokenizers` and get the
// default implementations.
package api

import "strconv"

// TokenSpan represents the byte span of a token in the original text.
// Start and End are byte offsets (not rune offsets), suitable for slicing
// Go strings directly: originalText[span.Start:span.End].
// This is what question answering uses to map predicted token positions back to the context.
type TokenSpan struct {
	Start int `json:"start"` // start byte position (inclusive)
	End   int `json:"end"`   // end byte position (exclusive)
}

// EncodingResult contains tokens with their spans in the original text.
type EncodingResult struct {
	IDs   []int       // token IDs
	Spans []TokenSpan // byte spans for each token (use originalText[span.Start:span.End] to extract)
}

// Tokenizer interface allows one convert test to "tokens" (integer ids) and back.
//
// It also allows mapping of special tokens: tokens with a common semantic (like padding) but that
// may map to different ids (int) for different tokenizers.
type Tokenizer interface {
	Encode(text string) []int
	Decode([]int) string

	// SpecialTokenID returns ID for given special token if registered, or an error if not.
	SpecialTokenID(token SpecialToken) (int, error)
}

// TokenizerWithSpans extends Tokenizer with span tracking capability.
// Windowing of (question, context) pairs requires it: every context token must be traceable back
// to the bytes of the context it came from.
type TokenizerWithSpans interface {
	Tokenizer
	// EncodeWithSpans returns tokens along with their byte spans in the original text.
	// It must not add special tokens: those are added when pairs are assembled.
	EncodeWithSpans(text string) EncodingResult
}

// PairTemplate describes the special tokens surrounding a pair of sequences A and B:
//
//	Prefix A Middle B Suffix
//
// TypeIDs of the special tokens are given in the parallel *TypeIDs slices, and the
// tokens of A and B take TypeIDA and TypeIDB respectively.
type PairTemplate struct {
	Prefix, Middle, Suffix                      []int
	PrefixTypeIDs, MiddleTypeIDs, SuffixTypeIDs []int
	TypeIDA, TypeIDB                            int
}

// NumSpecialTokens returns how many special tokens the template adds to a pair.
func (p *PairTemplate) NumSpecialTokens() int {
	return len(p.Prefix) + len(p.Middle) + len(p.Suffix)
}

// PairTemplater is implemented by tokenizers that know how their model expects pairs of sequences to be
// assembled (e.g. from the "post_processor" of a tokenizer.json file).
type PairTemplater interface {
	PairTemplate() (*PairTemplate, error)
}

// SpecialToken is an enum of commonly used special tokens.
type SpecialToken int

const (
	TokBeginningOfSentence SpecialToken = iota
	TokEndOfSentence
	TokUnknown
	TokPad
	TokMask
	TokClassification
	TokSpecialTokensCount
)

var specialTokenNames = [...]string{
	TokBeginningOfSentence: "beginning_of_sentence",
	TokEndOfSentence:       "end_of_sentence",
	TokUnknown:             "unknown",
	TokPad:                 "pad",
	TokMask:                "mask",
	TokClassification:      "classification",
	TokSpecialTokensCount:  "special_tokens_count",
}

// String implements fmt.Stringer.
func (t SpecialToken) String() string {
	if t < 0 || int(t) >= len(specialTokenNames) {
		return "SpecialToken(" + strconv.Itoa(int(t)) + ")"
	}
	return specialTokenNames[t]
}
