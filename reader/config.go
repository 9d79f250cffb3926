package reader

import (
	"encoding/json"
	"os"
	"slices"

	"github.com/gomlx/qafeatures/dataset"
	"github.com/gomlx/qafeatures/tokenizers"
	"github.com/gomlx/qafeatures/tokenizers/api"
	"github.com/pkg/errors"
)

// Default values of Config.
const (
	DefaultMaxSeqLength = 384
	DefaultDocStride    = 128
)

// Config of a Reader.
type Config struct {
	// ModelName in the "<family>_<name>" format, e.g. "hf_klue/bert-base". Only the family is used, to select
	// the tokenizer when TokenizerFamily is not set.
	ModelName string `json:"model_name"`

	// TokenizerFamily is one of tokenizers.Families(), e.g. "hf" or "sentencepiece".
	TokenizerFamily string `json:"tokenizer_family"`

	// TokenizerPath is the tokenizer model file: "tokenizer.json" or "tokenizer.model".
	TokenizerPath string `json:"tokenizer_path"`

	// TokenizerConfigPath is the optional "tokenizer_config.json" file.
	TokenizerConfigPath string `json:"tokenizer_config_path"`

	// MaxSeqLength is the number of tokens of each feature. It is reduced to the tokenizer's
	// model_max_length if that is smaller.
	MaxSeqLength int `json:"max_seq_length"`

	// DocStride is the number of context tokens shared by consecutive features of a long context.
	DocStride int `json:"doc_stride"`

	// PadToMaxLength pads all features to MaxSeqLength.
	PadToMaxLength bool `json:"pad_to_max_length"`

	// PaddingSide overrides the padding side of the tokenizer config. If not set, and the tokenizer config
	// doesn't define it, padding goes to the right.
	PaddingSide *api.PaddingSide `json:"padding_side"`

	// Workers is the number of goroutines used to build features. If 0, runtime.GOMAXPROCS(0) is used.
	Workers int `json:"workers"`

	// Columns of JSON Lines example files. Empty names take the dataset.DefaultColumns value.
	Columns dataset.Columns `json:"columns"`
}

// DefaultConfig returns a Config with the default lengths.
func DefaultConfig() Config {
	return Config{
		TokenizerFamily: tokenizers.FamilyHuggingFace,
		MaxSeqLength:    DefaultMaxSeqLength,
		DocStride:       DefaultDocStride,
	}
}

// LoadConfig reads a JSON config file. Fields not present keep their DefaultConfig value, except that a
// "model_name" without "tokenizer_family" selects the family from the model name.
func LoadConfig(filePath string) (Config, error) {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return Config{}, errors.Wrapf(err, "failed to read reader config %q", filePath)
	}
	config := DefaultConfig()
	config.TokenizerFamily = ""
	if err := json.Unmarshal(content, &config); err != nil {
		return Config{}, errors.Wrapf(err, "failed to parse reader config %q", filePath)
	}
	if config.TokenizerFamily == "" && config.ModelName == "" {
		config.TokenizerFamily = tokenizers.FamilyHuggingFace
	}
	if err := config.Validate(); err != nil {
		return Config{}, errors.WithMessagef(err, "reader config %q", filePath)
	}
	return config, nil
}

// Validate checks the configuration, and resolves TokenizerFamily from ModelName if needed.
func (c *Config) Validate() error {
	if c.ModelName != "" {
		family, _, err := tokenizers.ParseModelName(c.ModelName)
		if err != nil {
			return err
		}
		if c.TokenizerFamily == "" {
			c.TokenizerFamily = family
		}
	}
	if !slices.Contains(tokenizers.Families(), c.TokenizerFamily) {
		return errors.Errorf("unknown tokenizer family %q, registered families are %q",
			c.TokenizerFamily, tokenizers.Families())
	}
	if c.TokenizerPath == "" {
		return errors.New("tokenizer_path must be set")
	}
	if c.MaxSeqLength <= 0 {
		return errors.Errorf("max_seq_length must be > 0, got %d", c.MaxSeqLength)
	}
	if c.DocStride < 0 || c.DocStride >= c.MaxSeqLength {
		return errors.Errorf("doc_stride must be >= 0 and < max_seq_length=%d, got %d", c.MaxSeqLength, c.DocStride)
	}
	if c.Workers < 0 {
		return errors.Errorf("workers must be >= 0, got %d", c.Workers)
	}
	return nil
}
