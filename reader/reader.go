// Package reader prepares question answering datasets for training and evaluation of extractive
// reading comprehension models.
//
// A Reader holds the tokenizer and windowing configuration, and turns SQuAD-like examples into training
// features (with answer start and end token labels) and validation features (with the example id and the
// offsets to map predictions back to the context).
package reader

import (
	"path/filepath"
	"strings"

	"github.com/gomlx/qafeatures/dataset"
	"github.com/gomlx/qafeatures/features"
	"github.com/gomlx/qafeatures/tokenizers"
	"github.com/gomlx/qafeatures/tokenizers/api"
	"github.com/gomlx/qafeatures/windowing"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Reader prepares features. It is safe for concurrent use.
type Reader struct {
	config   Config
	builder  *features.Builder
	windower *windowing.Windower
}

// New creates the tokenizer described by the config and a Reader for it.
func New(config Config) (*Reader, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	var tokConfig *api.Config
	if config.TokenizerConfigPath != "" {
		var err error
		tokConfig, err = api.LoadConfig(config.TokenizerConfigPath)
		if err != nil {
			return nil, err
		}
	}
	tok, err := tokenizers.New(config.TokenizerFamily, tokConfig, config.TokenizerPath)
	if err != nil {
		return nil, err
	}
	return NewWithTokenizer(config, tok, tokConfig)
}

// NewWithTokenizer creates a Reader using the given tokenizer. The tokenizer fields of the config are ignored,
// and tokConfig is optional.
func NewWithTokenizer(config Config, tok api.TokenizerWithSpans, tokConfig *api.Config) (*Reader, error) {
	windowConfig := windowing.Config{
		MaxLength:      config.MaxSeqLength,
		Stride:         config.DocStride,
		PadToMaxLength: config.PadToMaxLength,
	}
	if tokConfig != nil {
		windowConfig.PaddingSide = tokConfig.PaddingSide
		if tokConfig.ModelMaxLength > 0 && tokConfig.ModelMaxLength < windowConfig.MaxLength {
			klog.Warningf("max_seq_length=%d is larger than the maximum length of the model (%d), using %d",
				windowConfig.MaxLength, tokConfig.ModelMaxLength, tokConfig.ModelMaxLength)
			windowConfig.MaxLength = tokConfig.ModelMaxLength
		}
	}
	if config.PaddingSide != nil {
		windowConfig.PaddingSide = *config.PaddingSide
	}
	w, err := windowing.New(tok, windowConfig)
	if err != nil {
		return nil, err
	}
	klog.V(1).Infof("reader: max_length=%d, stride=%d, padding side %s, pad to max length=%v",
		windowConfig.MaxLength, windowConfig.Stride, windowConfig.PaddingSide, windowConfig.PadToMaxLength)
	return &Reader{
		config:   config,
		windower: w,
		builder:  &features.Builder{Windower: w, Workers: config.Workers},
	}, nil
}

// Windower used by the Reader.
func (r *Reader) Windower() *windowing.Windower { return r.windower }

// TrainFeatures returns the labeled training features of the examples.
func (r *Reader) TrainFeatures(examples []features.Example) ([]features.TrainingFeature, error) {
	return r.builder.Training(examples)
}

// ValidationFeatures returns the features used to predict answers to the examples.
func (r *Reader) ValidationFeatures(examples []features.Example) ([]features.InferenceFeature, error) {
	return r.builder.Inference(examples)
}

// LoadExamples reads examples from a ".jsonl" file (see dataset.LoadJSONLWithColumns) or a SQuAD ".json" file.
func (r *Reader) LoadExamples(filePath string) ([]features.Example, error) {
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".jsonl":
		return dataset.LoadJSONLFileWithColumns(filePath, r.config.Columns)
	case ".json":
		return dataset.LoadSQuAD(filePath)
	}
	return nil, errors.Errorf("unknown examples file format %q, expected \".json\" (SQuAD) or \".jsonl\"", filePath)
}

// PrepareTrainFile reads the examples in inputPath, and writes their training features to outputPath, as
// a ".parquet" or ".jsonl" file.
func (r *Reader) PrepareTrainFile(inputPath, outputPath string) error {
	examples, err := r.LoadExamples(inputPath)
	if err != nil {
		return err
	}
	feats, err := r.TrainFeatures(examples)
	if err != nil {
		return errors.WithMessagef(err, "while preparing training features of %q", inputPath)
	}
	klog.Infof("%q: %d examples -> %d training features", inputPath, len(examples), len(feats))
	return writeRows(outputPath, features.TrainingRows(feats))
}

// PrepareValidationFile reads the examples in inputPath, and writes their validation features to outputPath,
// as a ".parquet" or ".jsonl" file.
func (r *Reader) PrepareValidationFile(inputPath, outputPath string) error {
	examples, err := r.LoadExamples(inputPath)
	if err != nil {
		return err
	}
	feats, err := r.ValidationFeatures(examples)
	if err != nil {
		return errors.WithMessagef(err, "while preparing validation features of %q", inputPath)
	}
	klog.Infof("%q: %d examples -> %d validation features", inputPath, len(examples), len(feats))
	return writeRows(outputPath, features.InferenceRows(feats))
}

func writeRows[T any](outputPath string, rows []T) error {
	switch strings.ToLower(filepath.Ext(outputPath)) {
	case ".parquet":
		return dataset.WriteParquet(outputPath, rows)
	case ".jsonl":
		return dataset.WriteJSONL(outputPath, rows)
	}
	return errors.Errorf("unknown features file format %q, expected \".parquet\" or \".jsonl\"", outputPath)
}
