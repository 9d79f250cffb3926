// Package windowing tokenizes (question, context) pairs into fixed-length windows for extractive question answering.
//
// Long contexts overflow into several windows: each window holds the full question and a chunk of the context,
// and consecutive chunks overlap by Config.Stride tokens. Every token carries the byte span of the text it came
// from (nil for special and padding tokens) and the sequence it belongs to, which is what the feature builders
// use to label answers and to map predictions back to the context.
package windowing

import (
	"github.com/gomlx/qafeatures/tokenizers/api"
	"github.com/pkg/errors"
)

// ErrConfiguration is returned (wrapped) when the windowing parameters can't produce valid windows.
var ErrConfiguration = errors.New("invalid windowing configuration")

// SequenceID tells to which sequence of the pair a token belongs.
type SequenceID int8

const (
	// SequenceNone marks special and padding tokens.
	SequenceNone SequenceID = -1
	// SequenceFirst marks tokens of the first sequence of the pair.
	SequenceFirst SequenceID = 0
	// SequenceSecond marks tokens of the second sequence of the pair.
	SequenceSecond SequenceID = 1
)

// String implements fmt.Stringer.
func (s SequenceID) String() string {
	switch s {
	case SequenceFirst:
		return "first"
	case SequenceSecond:
		return "second"
	}
	return "none"
}

// Config of a Windower.
type Config struct {
	// MaxLength is the number of tokens of a window, including the question and special tokens.
	MaxLength int

	// Stride is the number of context tokens shared by consecutive windows of the same context.
	Stride int

	// PadToMaxLength pads every window to MaxLength tokens.
	PadToMaxLength bool

	// PaddingSide defines both where padding goes and the order of the pair: with PadRight windows are
	// "question, context", with PadLeft they are "context, question".
	PaddingSide api.PaddingSide
}

// Window is one tokenized (question, context chunk) pair. All slices have the same length.
type Window struct {
	InputIDs      []int
	TypeIDs       []int
	AttentionMask []int

	// Offsets holds the byte span of each token in the text (question or context) it came from,
	// or nil for special and padding tokens.
	Offsets []*api.TokenSpan

	SequenceIDs []SequenceID

	// ExampleIndex is the index of the example (in the batch given to Tokenize) this window came from.
	ExampleIndex int
}

// Len returns the number of tokens in the window.
func (w *Window) Len() int { return len(w.InputIDs) }

// Windower splits (question, context) pairs into windows. It is read-only after construction and
// safe for concurrent use, as long as the tokenizer is.
type Windower struct {
	tok      api.TokenizerWithSpans
	config   Config
	template *api.PairTemplate
	clsID    int
	padID    int
}

// New creates a Windower for the tokenizer.
//
// The special tokens of a pair are taken from the tokenizer's api.PairTemplater implementation if available,
// otherwise the BERT layout "[CLS] A [SEP] B [SEP]" is built from its classification and end of sentence tokens.
// The classification token (or, if not defined, the beginning of sentence token) is the anchor used to label
// unanswerable windows, and it must be part of the template.
func New(tok api.TokenizerWithSpans, config Config) (*Windower, error) {
	if config.MaxLength <= 0 {
		return nil, errors.Wrapf(ErrConfiguration, "MaxLength must be > 0, got %d", config.MaxLength)
	}
	if config.Stride < 0 {
		return nil, errors.Wrapf(ErrConfiguration, "Stride must be >= 0, got %d", config.Stride)
	}
	w := &Windower{tok: tok, config: config, padID: -1}

	var err error
	w.clsID, err = tok.SpecialTokenID(api.TokClassification)
	if err != nil {
		w.clsID, err = tok.SpecialTokenID(api.TokBeginningOfSentence)
		if err != nil {
			return nil, errors.Wrapf(ErrConfiguration, "tokenizer has no classification or beginning of sentence token")
		}
	}

	if templater, ok := tok.(api.PairTemplater); ok {
		w.template, err = templater.PairTemplate()
		if err != nil {
			return nil, errors.Wrapf(ErrConfiguration, "can't assemble pairs with this tokenizer: %v", err)
		}
	} else {
		sepID, err := tok.SpecialTokenID(api.TokEndOfSentence)
		if err != nil {
			return nil, errors.Wrapf(ErrConfiguration, "tokenizer has no separator (end of sentence) token")
		}
		w.template = &api.PairTemplate{
			Prefix:        []int{w.clsID},
			Middle:        []int{sepID},
			Suffix:        []int{sepID},
			PrefixTypeIDs: []int{0},
			MiddleTypeIDs: []int{0},
			SuffixTypeIDs: []int{1},
			TypeIDA:       0,
			TypeIDB:       1,
		}
	}
	if !w.templateHas(w.clsID) {
		return nil, errors.Wrapf(ErrConfiguration, "anchor token %d is not added by the tokenizer's pair template", w.clsID)
	}

	if config.PadToMaxLength {
		w.padID, err = tok.SpecialTokenID(api.TokPad)
		if err != nil {
			return nil, errors.Wrapf(ErrConfiguration, "PadToMaxLength requires a tokenizer with a padding token")
		}
	}
	if config.MaxLength <= w.template.NumSpecialTokens() {
		return nil, errors.Wrapf(ErrConfiguration, "MaxLength=%d leaves no room past the %d special tokens",
			config.MaxLength, w.template.NumSpecialTokens())
	}
	return w, nil
}

func (w *Windower) templateHas(id int) bool {
	for _, ids := range [][]int{w.template.Prefix, w.template.Middle, w.template.Suffix} {
		for _, templateID := range ids {
			if templateID == id {
				return true
			}
		}
	}
	return false
}

// Config returns the configuration the Windower was created with.
func (w *Windower) Config() Config { return w.config }

// ClsTokenID returns the id of the anchor token, used to label windows that don't contain the answer.
func (w *Windower) ClsTokenID() int { return w.clsID }

// ContextSequence returns which sequence of the windows holds the context: SequenceSecond when padding
// on the right, SequenceFirst when padding on the left.
func (w *Windower) ContextSequence() SequenceID {
	if w.config.PaddingSide == api.PadLeft {
		return SequenceFirst
	}
	return SequenceSecond
}

// Tokenize windows each (questions[i], contexts[i]) pair, and returns all windows in example order.
// Window.ExampleIndex is the index i of the pair the window came from.
func (w *Windower) Tokenize(questions, contexts []string) ([]Window, error) {
	if len(questions) != len(contexts) {
		return nil, errors.Wrapf(ErrConfiguration, "got %d questions but %d contexts", len(questions), len(contexts))
	}
	var windows []Window
	for i := range questions {
		exampleWindows, err := w.TokenizePair(i, questions[i], contexts[i])
		if err != nil {
			return nil, err
		}
		windows = append(windows, exampleWindows...)
	}
	return windows, nil
}

// TokenizePair windows one (question, context) pair. The returned windows have ExampleIndex set to index.
//
// There is always at least one window, even for an empty context.
func (w *Windower) TokenizePair(index int, question, context string) ([]Window, error) {
	questionEnc := w.tok.EncodeWithSpans(question)
	contextEnc := w.tok.EncodeWithSpans(context)

	budget := w.config.MaxLength - len(questionEnc.IDs) - w.template.NumSpecialTokens()
	if budget <= 0 {
		return nil, errors.Wrapf(ErrConfiguration,
			"example #%d: question with %d tokens plus %d special tokens don't fit MaxLength=%d",
			index, len(questionEnc.IDs), w.template.NumSpecialTokens(), w.config.MaxLength)
	}
	if w.config.Stride >= budget {
		return nil, errors.Wrapf(ErrConfiguration,
			"example #%d: Stride=%d must be smaller than the %d context tokens that fit in a window",
			index, w.config.Stride, budget)
	}

	var windows []Window
	numContext := len(contextEnc.IDs)
	for start := 0; ; {
		end := min(start+budget, numContext)
		windows = append(windows, w.assemble(index, questionEnc, contextEnc, start, end))
		if end >= numContext {
			break
		}
		start = end - w.config.Stride
	}
	return windows, nil
}

// chunk is a slice of an encoding placed in a window.
type chunk struct {
	enc        *api.EncodingResult
	start, end int
}

// assemble builds the window with the question and the context tokens [start, end).
func (w *Windower) assemble(index int, question, context api.EncodingResult, start, end int) Window {
	a := chunk{enc: &question, start: 0, end: len(question.IDs)}
	b := chunk{enc: &context, start: start, end: end}
	if w.config.PaddingSide == api.PadLeft {
		a, b = b, a
	}

	t := w.template
	length := t.NumSpecialTokens() + (a.end - a.start) + (b.end - b.start)
	padding := 0
	if w.config.PadToMaxLength && length < w.config.MaxLength {
		padding = w.config.MaxLength - length
	}
	win := Window{
		InputIDs:      make([]int, 0, length+padding),
		TypeIDs:       make([]int, 0, length+padding),
		AttentionMask: make([]int, 0, length+padding),
		Offsets:       make([]*api.TokenSpan, 0, length+padding),
		SequenceIDs:   make([]SequenceID, 0, length+padding),
		ExampleIndex:  index,
	}
	if w.config.PaddingSide == api.PadLeft {
		win.pad(w.padID, padding)
	}
	win.addSpecial(t.Prefix, t.PrefixTypeIDs)
	win.addChunk(a, SequenceFirst, t.TypeIDA)
	win.addSpecial(t.Middle, t.MiddleTypeIDs)
	win.addChunk(b, SequenceSecond, t.TypeIDB)
	win.addSpecial(t.Suffix, t.SuffixTypeIDs)
	if w.config.PaddingSide == api.PadRight {
		win.pad(w.padID, padding)
	}
	return win
}

func (win *Window) addSpecial(ids, typeIDs []int) {
	for i, id := range ids {
		typeID := 0
		if i < len(typeIDs) {
			typeID = typeIDs[i]
		}
		win.InputIDs = append(win.InputIDs, id)
		win.TypeIDs = append(win.TypeIDs, typeID)
		win.AttentionMask = append(win.AttentionMask, 1)
		win.Offsets = append(win.Offsets, nil)
		win.SequenceIDs = append(win.SequenceIDs, SequenceNone)
	}
}

func (win *Window) addChunk(c chunk, seq SequenceID, typeID int) {
	for i := c.start; i < c.end; i++ {
		span := c.enc.Spans[i]
		win.InputIDs = append(win.InputIDs, c.enc.IDs[i])
		win.TypeIDs = append(win.TypeIDs, typeID)
		win.AttentionMask = append(win.AttentionMask, 1)
		win.Offsets = append(win.Offsets, &span)
		win.SequenceIDs = append(win.SequenceIDs, seq)
	}
}

func (win *Window) pad(padID, n int) {
	for range n {
		win.InputIDs = append(win.InputIDs, padID)
		win.TypeIDs = append(win.TypeIDs, 0)
		win.AttentionMask = append(win.AttentionMask, 0)
		win.Offsets = append(win.Offsets, nil)
		win.SequenceIDs = append(win.SequenceIDs, SequenceNone)
	}
}
