package features

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// TrainingRow is the flattened form of a TrainingFeature, one row per window, with the column names
// used by HuggingFace question answering models.
type TrainingRow struct {
	InputIDs       []int32 `json:"input_ids" parquet:"input_ids,list"`
	TokenTypeIDs   []int32 `json:"token_type_ids" parquet:"token_type_ids,list"`
	AttentionMask  []int32 `json:"attention_mask" parquet:"attention_mask,list"`
	StartPositions int32   `json:"start_positions" parquet:"start_positions"`
	EndPositions   int32   `json:"end_positions" parquet:"end_positions"`
}

// InferenceRow is the flattened form of an InferenceFeature.
//
// OffsetMapping entries are nil (null in JSON) for tokens that are not part of the context.
type InferenceRow struct {
	InputIDs      []int32   `json:"input_ids" parquet:"input_ids,list"`
	TokenTypeIDs  []int32   `json:"token_type_ids" parquet:"token_type_ids,list"`
	AttentionMask []int32   `json:"attention_mask" parquet:"attention_mask,list"`
	ExampleID     string    `json:"example_id" parquet:"example_id"`
	OffsetMapping []*Offset `json:"offset_mapping" parquet:"offset_mapping,list"`
}

// Offset is a [start, end) range of characters (runes) of a token in the context. In JSON it is a 2-elements array.
type Offset struct {
	Start int32 `parquet:"start"`
	End   int32 `parquet:"end"`
}

// MarshalJSON implements json.Marshaler.
func (o Offset) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]int32{o.Start, o.End})
}

// UnmarshalJSON implements json.Unmarshaler.
func (o *Offset) UnmarshalJSON(data []byte) error {
	var pair [2]int32
	if err := json.Unmarshal(data, &pair); err != nil {
		return errors.Wrapf(err, "offset must be a [start, end] array")
	}
	o.Start, o.End = pair[0], pair[1]
	return nil
}

func toInt32(values []int) []int32 {
	converted := make([]int32, len(values))
	for i, v := range values {
		converted[i] = int32(v)
	}
	return converted
}

// Row flattens the feature.
func (f *TrainingFeature) Row() TrainingRow {
	return TrainingRow{
		InputIDs:       toInt32(f.InputIDs),
		TokenTypeIDs:   toInt32(f.TypeIDs),
		AttentionMask:  toInt32(f.AttentionMask),
		StartPositions: int32(f.StartPosition),
		EndPositions:   int32(f.EndPosition),
	}
}

// Row flattens the feature. Offsets are converted to characters of the context.
func (f *InferenceFeature) Row() InferenceRow {
	offsets := make([]*Offset, len(f.CharOffsets))
	for i, offset := range f.CharOffsets {
		if offset != nil {
			offsets[i] = &Offset{Start: offset.Start, End: offset.End}
		}
	}
	return InferenceRow{
		InputIDs:      toInt32(f.InputIDs),
		TokenTypeIDs:  toInt32(f.TypeIDs),
		AttentionMask: toInt32(f.AttentionMask),
		ExampleID:     f.ExampleID,
		OffsetMapping: offsets,
	}
}

// TrainingRows flattens all features.
func TrainingRows(features []TrainingFeature) []TrainingRow {
	rows := make([]TrainingRow, len(features))
	for i := range features {
		rows[i] = features[i].Row()
	}
	return rows
}

// InferenceRows flattens all features.
func InferenceRows(features []InferenceFeature) []InferenceRow {
	rows := make([]InferenceRow, len(features))
	for i := range features {
		rows[i] = features[i].Row()
	}
	return rows
}
