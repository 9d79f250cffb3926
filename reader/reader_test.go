package reader

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gomlx/qafeatures/features"
	"github.com/gomlx/qafeatures/tokenizers/api"
	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tokenizerJSON = `{
  "added_tokens": [
    {"id": 0, "content": "[PAD]", "special": true},
    {"id": 100, "content": "[UNK]", "special": true},
    {"id": 101, "content": "[CLS]", "special": true},
    {"id": 102, "content": "[SEP]", "special": true}
  ],
  "normalizer": {"type": "BertNormalizer", "lowercase": true},
  "pre_tokenizer": {"type": "BertPreTokenizer"},
  "post_processor": {"type": "BertProcessing", "sep": ["[SEP]", 102], "cls": ["[CLS]", 101]},
  "model": {
    "type": "WordPiece",
    "unk_token": "[UNK]",
    "continuing_subword_prefix": "##",
    "vocab": {
      "[PAD]": 0, "[UNK]": 100, "[CLS]": 101, "[SEP]": 102,
      "what": 1, "is": 2, "the": 3, "capital": 4, "of": 5, "france": 6, "?": 7, "paris": 8, ".": 9
    }
  }
}`

const squadJSON = `{"version": "v2.0", "data": [{"title": "France", "paragraphs": [{
  "context": "Paris is the capital of France. Paris is the capital of France. Paris is the capital of France.",
  "qas": [
    {"id": "q1", "question": "What is the capital of France?", "answers": [{"answer_start": 64, "text": "Paris"}]},
    {"id": "q2", "question": "What is the capital?", "answers": [], "is_impossible": true}
  ]}]}]}`

// setup writes the tokenizer and examples files, and returns the directory.
func setup(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tokenizer.json"), []byte(tokenizerJSON), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "train.json"), []byte(squadJSON), 0o644))
	return dir
}

func TestConfigValidate(t *testing.T) {
	valid := DefaultConfig()
	valid.TokenizerPath = "tokenizer.json"
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		modify func(c *Config)
	}{
		{"unknown family", func(c *Config) { c.TokenizerFamily = "nope" }},
		{"bad model name", func(c *Config) { c.ModelName = "custom_model" }},
		{"no tokenizer path", func(c *Config) { c.TokenizerPath = "" }},
		{"zero length", func(c *Config) { c.MaxSeqLength = 0 }},
		{"stride too large", func(c *Config) { c.DocStride = c.MaxSeqLength }},
		{"negative stride", func(c *Config) { c.DocStride = -1 }},
		{"negative workers", func(c *Config) { c.Workers = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid
			tt.modify(&c)
			assert.Error(t, c.Validate())
		})
	}

	c := valid
	c.TokenizerFamily = ""
	c.ModelName = "sentencepiece_google/flan-t5-small"
	require.NoError(t, c.Validate())
	assert.Equal(t, "sentencepiece", c.TokenizerFamily)
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "reader.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
  "model_name": "hf_klue/bert-base",
  "tokenizer_path": "tokenizer.json",
  "doc_stride": 64,
  "padding_side": "left",
  "columns": {"question": "query"}
}`), 0o644))
	config, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "hf", config.TokenizerFamily)
	assert.Equal(t, DefaultMaxSeqLength, config.MaxSeqLength)
	assert.Equal(t, 64, config.DocStride)
	require.NotNil(t, config.PaddingSide)
	assert.Equal(t, api.PadLeft, *config.PaddingSide)
	assert.Equal(t, "query", config.Columns.Question)

	require.NoError(t, os.WriteFile(path, []byte(`{"tokenizer_path": "t.json", "doc_stride": 500}`), 0o644))
	_, err = LoadConfig(path)
	require.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte(`{"padding_side": "up"}`), 0o644))
	_, err = LoadConfig(path)
	require.Error(t, err)
}

func newReader(t *testing.T, dir string, modify func(c *Config)) *Reader {
	t.Helper()
	config := DefaultConfig()
	config.TokenizerPath = filepath.Join(dir, "tokenizer.json")
	config.MaxSeqLength = 24
	config.DocStride = 4
	config.PadToMaxLength = true
	if modify != nil {
		modify(&config)
	}
	r, err := New(config)
	require.NoError(t, err)
	return r
}

func TestTrainFeatures(t *testing.T) {
	dir := setup(t)
	r := newReader(t, dir, nil)
	examples, err := r.LoadExamples(filepath.Join(dir, "train.json"))
	require.NoError(t, err)
	require.Len(t, examples, 2)

	feats, err := r.TrainFeatures(examples)
	require.NoError(t, err)
	// 7 question tokens and 3 special tokens leave 14 context tokens per window: the 21 context tokens of
	// the first example need 2 windows.
	var numAnswered int
	for _, f := range feats {
		require.Equal(t, 24, f.Len())
		if f.HasAnswer() {
			numAnswered++
			assert.Equal(t, 0, f.ExampleIndex)
			assert.Equal(t, api.TokenSpan{Start: 64, End: 69}, *f.Offsets[f.StartPosition])
		} else {
			assert.Equal(t, 0, f.StartPosition)
		}
	}
	assert.Equal(t, 1, numAnswered)

	validation, err := r.ValidationFeatures(examples)
	require.NoError(t, err)
	assert.Len(t, validation, len(feats))
	assert.Equal(t, "q1", validation[0].ExampleID)
}

func TestPaddingSide(t *testing.T) {
	dir := setup(t)
	left := api.PadLeft
	r := newReader(t, dir, func(c *Config) { c.PaddingSide = &left })
	feats, err := r.ValidationFeatures([]features.Example{{ID: "a", Question: "what?", Context: "Paris."}})
	require.NoError(t, err)
	require.Len(t, feats, 1)
	// Padding first, then [CLS] paris . [SEP] what ? [SEP].
	assert.Equal(t, 0, feats[0].InputIDs[0])
	assert.Equal(t, []int{101, 8, 9, 102, 1, 7, 102}, feats[0].InputIDs[17:])
	assert.Equal(t, &api.TokenSpan{Start: 0, End: 5}, feats[0].Offsets[18])
	assert.Nil(t, feats[0].Offsets[21])

	// The padding side of the tokenizer config is used if not overridden.
	configPath := filepath.Join(dir, "tokenizer_config.json")
	require.NoError(t, os.WriteFile(configPath,
		[]byte(`{"padding_side": "left", "model_max_length": 16, "cls_token": "[CLS]"}`), 0o644))
	r = newReader(t, dir, func(c *Config) { c.TokenizerConfigPath = configPath })
	assert.Equal(t, api.PadLeft, r.Windower().Config().PaddingSide)
	assert.Equal(t, 16, r.Windower().Config().MaxLength)
}

func TestPrepareFiles(t *testing.T) {
	dir := setup(t)
	r := newReader(t, dir, func(c *Config) { c.Workers = 2 })
	input := filepath.Join(dir, "train.json")

	trainPath := filepath.Join(dir, "train.parquet")
	require.NoError(t, r.PrepareTrainFile(input, trainPath))
	trainRows, err := parquet.ReadFile[features.TrainingRow](trainPath)
	require.NoError(t, err)
	require.NotEmpty(t, trainRows)
	for _, row := range trainRows {
		assert.Len(t, row.InputIDs, 24)
	}

	validationPath := filepath.Join(dir, "validation.jsonl")
	require.NoError(t, r.PrepareValidationFile(input, validationPath))
	content, err := os.ReadFile(validationPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(content)), "\n")
	assert.Len(t, lines, len(trainRows))
	assert.Contains(t, lines[0], `"example_id":"q1"`)

	require.Error(t, r.PrepareTrainFile(input, filepath.Join(dir, "train.csv")))
	require.Error(t, r.PrepareTrainFile(filepath.Join(dir, "train.txt"), trainPath))
}
