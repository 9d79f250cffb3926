package features

import (
	"github.com/gomlx/qafeatures/windowing"
	"github.com/pkg/errors"
)

// TrainingFeature is a window labeled with the tokens where the answer starts and ends (inclusive).
//
// If the window has no answer, StartPosition and EndPosition are both ClsIndex.
type TrainingFeature struct {
	windowing.Window

	ClsIndex      int
	StartPosition int
	EndPosition   int
}

// HasAnswer returns whether the answer is inside the window.
func (f *TrainingFeature) HasAnswer() bool {
	return f.StartPosition != f.ClsIndex || f.EndPosition != f.ClsIndex
}

// LabelWindow labels a window with the answer span, given as bytes of the context.
// A nil answer means the example is unanswerable.
//
// contextSeq tells which sequence of the window holds the context (see windowing.Windower.ContextSequence),
// and clsID is the id of the anchor token used for windows without the answer.
//
// The answer is labeled only if it is fully contained in the window's context. In that case StartPosition
// and EndPosition are the minimal range of context tokens covering it.
func LabelWindow(win windowing.Window, contextSeq windowing.SequenceID, clsID int, answer *AnswerSpan) (TrainingFeature, error) {
	feature := TrainingFeature{Window: win, ClsIndex: -1}
	for i, id := range win.InputIDs {
		if id == clsID {
			feature.ClsIndex = i
			break
		}
	}
	if feature.ClsIndex < 0 {
		return feature, errors.Wrapf(ErrMissingAnchor, "token %d, window of example #%d", clsID, win.ExampleIndex)
	}
	feature.StartPosition, feature.EndPosition = feature.ClsIndex, feature.ClsIndex
	if answer == nil {
		return feature, nil
	}

	first, last := -1, -1
	for i, seq := range win.SequenceIDs {
		if seq != contextSeq {
			continue
		}
		if win.Offsets[i] == nil {
			return feature, errors.Errorf("context token #%d of window of example #%d has no offset", i, win.ExampleIndex)
		}
		if first < 0 {
			first = i
		}
		last = i
	}
	if first < 0 {
		return feature, nil
	}
	if win.Offsets[first].Start > answer.Start || win.Offsets[last].End < answer.End {
		return feature, nil
	}

	// Move start forward past the answer start, and step back.
	start := first
	for start <= last && win.Offsets[start].Start <= answer.Start {
		start++
	}
	// Move end backward past the answer end, and step forward.
	end := last
	for end >= first && win.Offsets[end].End >= answer.End {
		end--
	}
	feature.StartPosition, feature.EndPosition = start-1, end+1
	return feature, nil
}

// BuildTrainingFeatures windows and labels the examples, sequentially. See Builder for the parallel version.
//
// Windows have ExampleIndex set to the index of their example in examples.
func BuildTrainingFeatures(w *windowing.Windower, examples []Example) ([]TrainingFeature, error) {
	var features []TrainingFeature
	for i := range examples {
		exampleFeatures, err := trainingFeaturesFor(w, i, &examples[i])
		if err != nil {
			return nil, err
		}
		features = append(features, exampleFeatures...)
	}
	return features, nil
}

func trainingFeaturesFor(w *windowing.Windower, index int, ex *Example) ([]TrainingFeature, error) {
	answer, err := ex.FirstAnswerSpan()
	if err != nil {
		return nil, errors.WithMessagef(err, "example #%d", index)
	}
	windows, err := w.TokenizePair(index, ex.question(), ex.Context)
	if err != nil {
		return nil, err
	}
	features := make([]TrainingFeature, len(windows))
	for i, win := range windows {
		features[i], err = LabelWindow(win, w.ContextSequence(), w.ClsTokenID(), answer)
		if err != nil {
			return nil, err
		}
	}
	return features, nil
}
