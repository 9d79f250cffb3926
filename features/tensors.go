package features

import (
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/qafeatures/windowing"
	"github.com/pkg/errors"
)

// Names of the tensors returned by TrainingTensors and InferenceTensors.
const (
	InputIDsKey       = "input_ids"
	TokenTypeIDsKey   = "token_type_ids"
	AttentionMaskKey  = "attention_mask"
	StartPositionsKey = "start_positions"
	EndPositionsKey   = "end_positions"
)

// TrainingTensors batches the features into int32 tensors: "input_ids", "token_type_ids" and "attention_mask"
// shaped [numFeatures, windowLength], and "start_positions" and "end_positions" shaped [numFeatures].
//
// All windows must have the same length, see windowing.Config.PadToMaxLength.
func TrainingTensors(features []TrainingFeature) (map[string]*tensors.Tensor, error) {
	windows := make([]*windowing.Window, len(features))
	starts := make([]int32, len(features))
	ends := make([]int32, len(features))
	for i := range features {
		windows[i] = &features[i].Window
		starts[i] = int32(features[i].StartPosition)
		ends[i] = int32(features[i].EndPosition)
	}
	batch, err := windowTensors(windows)
	if err != nil {
		return nil, err
	}
	batch[StartPositionsKey] = tensors.FromFlatDataAndDimensions(starts, len(features))
	batch[EndPositionsKey] = tensors.FromFlatDataAndDimensions(ends, len(features))
	return batch, nil
}

// InferenceTensors batches the features into int32 tensors "input_ids", "token_type_ids" and "attention_mask",
// shaped [numFeatures, windowLength]. Example ids and offsets are kept by the features themselves.
func InferenceTensors(features []InferenceFeature) (map[string]*tensors.Tensor, error) {
	windows := make([]*windowing.Window, len(features))
	for i := range features {
		windows[i] = &features[i].Window
	}
	return windowTensors(windows)
}

func windowTensors(windows []*windowing.Window) (map[string]*tensors.Tensor, error) {
	if len(windows) == 0 {
		return nil, errors.New("no features to batch")
	}
	length := windows[0].Len()
	inputIDs := make([]int32, 0, len(windows)*length)
	typeIDs := make([]int32, 0, len(windows)*length)
	mask := make([]int32, 0, len(windows)*length)
	for i, win := range windows {
		if win.Len() != length {
			return nil, errors.Errorf("feature #%d has %d tokens, but feature #0 has %d: features must be padded "+
				"to the same length to be batched", i, win.Len(), length)
		}
		for j := range length {
			inputIDs = append(inputIDs, int32(win.InputIDs[j]))
			typeIDs = append(typeIDs, int32(win.TypeIDs[j]))
			mask = append(mask, int32(win.AttentionMask[j]))
		}
	}
	return map[string]*tensors.Tensor{
		InputIDsKey:      tensors.FromFlatDataAndDimensions(inputIDs, len(windows), length),
		TokenTypeIDsKey:  tensors.FromFlatDataAndDimensions(typeIDs, len(windows), length),
		AttentionMaskKey: tensors.FromFlatDataAndDimensions(mask, len(windows), length),
	}, nil
}
