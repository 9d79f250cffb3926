// Package features turns question answering examples into model features.
//
// Training features label each window with the first and last token of the answer, or with the index of
// the anchor token ("[CLS]") when the answer isn't fully inside the window's context. Inference features keep
// the example id and the offsets (in bytes and in characters) of the context tokens, so predicted token spans
// can be mapped back to the context text.
package features

import (
	"strings"
	"unicode"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	// ErrMalformedAnswer is returned (wrapped) when an answer doesn't describe a valid, non-empty span of its context.
	ErrMalformedAnswer = errors.New("malformed answer")

	// ErrMissingAnchor is returned (wrapped) when a window doesn't contain the no-answer anchor token.
	ErrMissingAnchor = errors.New("anchor token not found in window")
)

// Answer to a question. Start is the offset in characters (runes) of Text in the context, as in SQuAD.
type Answer struct {
	Start int    `json:"answer_start"`
	Text  string `json:"text"`
}

// Example is one question about a context, with its answers. An example without answers is unanswerable.
//
// Only the first answer is used for training labels.
type Example struct {
	ID       string   `json:"id"`
	Question string   `json:"question"`
	Context  string   `json:"context"`
	Answers  []Answer `json:"answers"`
}

// AnswerSpan is the byte range [Start, End) of an answer in its context.
type AnswerSpan struct {
	Start, End int
}

// FirstAnswerSpan converts the first answer to a byte span of the context.
// It returns nil if the example has no answers.
func (ex *Example) FirstAnswerSpan() (*AnswerSpan, error) {
	if len(ex.Answers) == 0 {
		return nil, nil
	}
	if len(ex.Answers) > 1 {
		klog.V(2).Infof("example %q has %d answers, only the first is used for labels", ex.ID, len(ex.Answers))
	}
	answer := ex.Answers[0]
	if answer.Start < 0 {
		return nil, errors.Wrapf(ErrMalformedAnswer, "example %q: negative answer start %d", ex.ID, answer.Start)
	}
	if answer.Text == "" {
		return nil, errors.Wrapf(ErrMalformedAnswer, "example %q: empty answer text", ex.ID)
	}
	start, found := byteOffset(ex.Context, answer.Start)
	if !found {
		return nil, errors.Wrapf(ErrMalformedAnswer, "example %q: answer start %d is beyond the context",
			ex.ID, answer.Start)
	}
	end, found := byteOffset(ex.Context[start:], len([]rune(answer.Text)))
	if !found {
		return nil, errors.Wrapf(ErrMalformedAnswer, "example %q: answer %q starting at %d runs past the end of the context",
			ex.ID, answer.Text, answer.Start)
	}
	end += start
	if ex.Context[start:end] != answer.Text {
		klog.Warningf("example %q: answer text %q doesn't match the context at its position (%q)",
			ex.ID, answer.Text, ex.Context[start:end])
	}
	return &AnswerSpan{Start: start, End: end}, nil
}

// byteOffset converts an offset in runes of s to an offset in bytes.
// The offset may point to the end of s.
func byteOffset(s string, runeOffset int) (int, bool) {
	count := 0
	for i := range s {
		if count == runeOffset {
			return i, true
		}
		count++
	}
	if count == runeOffset {
		return len(s), true
	}
	return 0, false
}

// question returns the question used for tokenization: leading whitespace is removed, since some datasets pad
// questions with it and it would waste tokens.
func (ex *Example) question() string {
	return strings.TrimLeftFunc(ex.Question, unicode.IsSpace)
}
