package features

import (
	"unicode/utf8"

	"github.com/gomlx/qafeatures/tokenizers/api"
	"github.com/gomlx/qafeatures/windowing"
)

// InferenceFeature is a window prepared for prediction: only the context tokens keep their offsets, so
// a predicted (start, end) token range can be mapped back to context[Offsets[start].Start:Offsets[end].End].
type InferenceFeature struct {
	windowing.Window

	// ExampleID is the id of the example the window came from.
	ExampleID string

	// CharOffsets holds the same spans as Offsets, in characters (runes) of the context instead of bytes.
	// These are the offsets exported by Row, as used by SQuAD-style answer postprocessing.
	CharOffsets []*Offset
}

// InferenceFeatureFor converts a window of the given context to an InferenceFeature. The offsets of every token
// not in the contextSeq sequence are set to nil. The window itself is not modified.
func InferenceFeatureFor(win windowing.Window, contextSeq windowing.SequenceID, exampleID, context string) InferenceFeature {
	return inferenceFeature(win, contextSeq, exampleID, newRuneIndex(context))
}

func inferenceFeature(win windowing.Window, contextSeq windowing.SequenceID, exampleID string, index runeIndex) InferenceFeature {
	offsets := make([]*api.TokenSpan, len(win.Offsets))
	charOffsets := make([]*Offset, len(win.Offsets))
	for i, offset := range win.Offsets {
		if win.SequenceIDs[i] != contextSeq || offset == nil {
			continue
		}
		offsets[i] = offset
		charOffsets[i] = &Offset{Start: int32(index.at(offset.Start)), End: int32(index.at(offset.End))}
	}
	win.Offsets = offsets
	return InferenceFeature{Window: win, ExampleID: exampleID, CharOffsets: charOffsets}
}

// runeIndex maps each byte offset of a text (including its end) to a rune offset.
type runeIndex []int

// newRuneIndex builds the index of text. Bytes inside a multi-byte rune map to the rune after it, so an
// end offset falling inside a rune still covers it.
func newRuneIndex(text string) runeIndex {
	index := make(runeIndex, len(text)+1)
	count := 0
	for i := 0; i < len(text); {
		_, size := utf8.DecodeRuneInString(text[i:])
		index[i] = count
		count++
		for k := 1; k < size; k++ {
			index[i+k] = count
		}
		i += size
	}
	index[len(text)] = count
	return index
}

// at converts a byte offset, clipped to the text.
func (index runeIndex) at(offset int) int {
	return index[min(max(offset, 0), len(index)-1)]
}

// BuildInferenceFeatures windows the examples for inference, sequentially. See Builder for the parallel version.
func BuildInferenceFeatures(w *windowing.Windower, examples []Example) ([]InferenceFeature, error) {
	var features []InferenceFeature
	for i := range examples {
		exampleFeatures, err := inferenceFeaturesFor(w, i, &examples[i])
		if err != nil {
			return nil, err
		}
		features = append(features, exampleFeatures...)
	}
	return features, nil
}

func inferenceFeaturesFor(w *windowing.Windower, index int, ex *Example) ([]InferenceFeature, error) {
	windows, err := w.TokenizePair(index, ex.question(), ex.Context)
	if err != nil {
		return nil, err
	}
	runes := newRuneIndex(ex.Context)
	features := make([]InferenceFeature, len(windows))
	for i, win := range windows {
		features[i] = inferenceFeature(win, w.ContextSequence(), ex.ID, runes)
	}
	return features, nil
}
