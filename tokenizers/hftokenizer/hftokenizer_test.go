package hftokenizer

import (
	"testing"

	"github.com/gomlx/qafeatures/tokenizers/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test tokenizer.json content for a WordPiece model (BERT-style)
var testWordPieceTokenizerJSON = []byte(`{
  "version": "1.0",
  "truncation": null,
  "padding": null,
  "added_tokens": [
    {"id": 0, "content": "[PAD]", "single_word": false, "lstrip": false, "rstrip": false, "normalized": false, "special": true},
    {"id": 100, "content": "[UNK]", "single_word": false, "lstrip": false, "rstrip": false, "normalized": false, "special": true},
    {"id": 101, "content": "[CLS]", "single_word": false, "lstrip": false, "rstrip": false, "normalized": false, "special": true},
    {"id": 102, "content": "[SEP]", "single_word": false, "lstrip": false, "rstrip": false, "normalized": false, "special": true},
    {"id": 103, "content": "[MASK]", "single_word": false, "lstrip": false, "rstrip": false, "normalized": false, "special": true}
  ],
  "normalizer": {
    "type": "BertNormalizer",
    "lowercase": true
  },
  "pre_tokenizer": {
    "type": "BertPreTokenizer"
  },
  "post_processor": null,
  "decoder": {
    "type": "WordPiece",
    "prefix": "##"
  },
  "model": {
    "type": "WordPiece",
    "unk_token": "[UNK]",
    "continuing_subword_prefix": "##",
    "max_input_chars_per_word": 100,
    "vocab": {
      "[PAD]": 0,
      "hello": 1,
      "world": 2,
      "test": 3,
      "##ing": 4,
      "##ed": 5,
      "[UNK]": 100,
      "[CLS]": 101,
      "[SEP]": 102,
      "[MASK]": 103,
      "the": 104,
      "a": 105,
      "is": 106,
      "this": 107,
      ",": 108,
      "!": 109,
      "cafe": 110
    }
  }
}`)

// Test tokenizer.json content for a byte-level BPE model (GPT-2-style)
var testBPETokenizerJSON = []byte(`{
  "version": "1.0",
  "added_tokens": [
    {"id": 0, "content": "<|endoftext|>", "special": true}
  ],
  "normalizer": null,
  "pre_tokenizer": {
    "type": "ByteLevel",
    "add_prefix_space": false
  },
  "post_processor": {
    "type": "RobertaProcessing",
    "sep": ["</s>", 2],
    "cls": ["<s>", 1],
    "trim_offsets": true
  },
  "decoder": {
    "type": "ByteLevel"
  },
  "model": {
    "type": "BPE",
    "vocab": {
      "<|endoftext|>": 0,
      "<s>": 1,
      "</s>": 2,
      "hello": 3,
      "Ġworld": 4
    },
    "merges": [
      "h e",
      "l l",
      "ll o",
      "he llo",
      "Ġ w",
      "o r",
      "Ġw or",
      "l d",
      "Ġwor ld"
    ]
  }
}`)

// Test tokenizer.json content for a SentencePiece-like Unigram model with Metaspace.
var testUnigramTokenizerJSON = []byte(`{
  "version": "1.0",
  "added_tokens": [
    {"id": 0, "content": "<unk>", "special": true}
  ],
  "pre_tokenizer": {
    "type": "Metaspace",
    "replacement": "▁",
    "add_prefix_space": true
  },
  "decoder": {
    "type": "Metaspace"
  },
  "model": {
    "type": "Unigram",
    "unk_id": 0,
    "vocab": [["<unk>", 0.0], ["▁hello", -1.0], ["▁world", -2.0], ["▁", -3.0]]
  }
}`)

func TestNewFromContent(t *testing.T) {
	for name, content := range map[string][]byte{
		"WordPiece": testWordPieceTokenizerJSON,
		"BPE":       testBPETokenizerJSON,
		"Unigram":   testUnigramTokenizerJSON,
	} {
		t.Run(name, func(t *testing.T) {
			tok, err := NewFromContent(nil, content)
			require.NoError(t, err)
			assert.Equal(t, name, tok.GetTokenizerType())
		})
	}
}

func TestWordPiece_EncodeWithSpans(t *testing.T) {
	tok, err := NewFromContent(nil, testWordPieceTokenizerJSON)
	require.NoError(t, err)

	tests := []struct {
		name      string
		input     string
		wantIDs   []int
		wantSpans []api.TokenSpan
	}{
		{
			name:      "words and punctuation",
			input:     "Hello, world!",
			wantIDs:   []int{1, 108, 2, 109},
			wantSpans: []api.TokenSpan{{Start: 0, End: 5}, {Start: 5, End: 6}, {Start: 7, End: 12}, {Start: 12, End: 13}},
		},
		{
			name:      "word with subword",
			input:     "testing",
			wantIDs:   []int{3, 4}, // test + ##ing
			wantSpans: []api.TokenSpan{{Start: 0, End: 4}, {Start: 4, End: 7}},
		},
		{
			name:      "accents are stripped but spans cover the original bytes",
			input:     "Café",
			wantIDs:   []int{110},
			wantSpans: []api.TokenSpan{{Start: 0, End: 5}},
		},
		{
			name:      "unknown word",
			input:     "this xyz",
			wantIDs:   []int{107, 100},
			wantSpans: []api.TokenSpan{{Start: 0, End: 4}, {Start: 5, End: 8}},
		},
		{
			name:      "extra whitespace",
			input:     "  the\ttest ",
			wantIDs:   []int{104, 3},
			wantSpans: []api.TokenSpan{{Start: 2, End: 5}, {Start: 6, End: 10}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tok.EncodeWithSpans(tt.input)
			assert.Equal(t, tt.wantIDs, got.IDs)
			assert.Equal(t, tt.wantSpans, got.Spans)
			assert.Equal(t, tt.wantIDs, tok.Encode(tt.input))
		})
	}
}

func TestWordPiece_Decode(t *testing.T) {
	tok, err := NewFromContent(nil, testWordPieceTokenizerJSON)
	require.NoError(t, err)

	tests := []struct {
		name  string
		input []int
		want  string
	}{
		{name: "single word", input: []int{1}, want: "hello"},
		{name: "multiple words", input: []int{1, 2}, want: "hello world"},
		{name: "word with subword", input: []int{3, 4}, want: "testing"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tok.Decode(tt.input))
		})
	}
}

func TestWordPiece_SpecialTokenID(t *testing.T) {
	tok, err := NewFromContent(nil, testWordPieceTokenizerJSON)
	require.NoError(t, err)

	tests := []struct {
		name    string
		token   api.SpecialToken
		want    int
		wantErr bool
	}{
		{name: "unknown token", token: api.TokUnknown, want: 100},
		{name: "pad token", token: api.TokPad, want: 0},
		{name: "mask token", token: api.TokMask, want: 103},
		{name: "classification token", token: api.TokClassification, want: 101},
		{name: "cls/bos token", token: api.TokBeginningOfSentence, want: 101}, // Falls back to CLS
		{name: "sep/eos token", token: api.TokEndOfSentence, want: 102},       // Falls back to SEP
		{name: "invalid token", token: api.TokSpecialTokensCount, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tok.SpecialTokenID(tt.token)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSpecialTokensFromConfig(t *testing.T) {
	config := &api.Config{BosToken: "hello", EosToken: "world"}
	tok, err := NewFromContent(config, testWordPieceTokenizerJSON)
	require.NoError(t, err)

	bos, err := tok.SpecialTokenID(api.TokBeginningOfSentence)
	require.NoError(t, err)
	assert.Equal(t, 1, bos)
	eos, err := tok.SpecialTokenID(api.TokEndOfSentence)
	require.NoError(t, err)
	assert.Equal(t, 2, eos)
}

func TestTokenToID_IDToToken(t *testing.T) {
	tok, err := NewFromContent(nil, testWordPieceTokenizerJSON)
	require.NoError(t, err)

	id, ok := tok.TokenToID("hello")
	require.True(t, ok)
	assert.Equal(t, 1, id)

	token, ok := tok.IDToToken(1)
	require.True(t, ok)
	assert.Equal(t, "hello", token)

	id, ok = tok.TokenToID("[CLS]")
	require.True(t, ok)
	assert.Equal(t, 101, id)

	_, ok = tok.TokenToID("not-there")
	assert.False(t, ok)
	assert.Equal(t, 17, tok.VocabSize())
}

func TestBPE_EncodeWithSpans(t *testing.T) {
	tok, err := NewFromContent(nil, testBPETokenizerJSON)
	require.NoError(t, err)

	got := tok.EncodeWithSpans("hello world")
	assert.Equal(t, []int{3, 4}, got.IDs)
	// The space carried by "Ġworld" is not part of its span.
	assert.Equal(t, []api.TokenSpan{{Start: 0, End: 5}, {Start: 6, End: 11}}, got.Spans)
	assert.Equal(t, "hello world", tok.Decode(got.IDs))
}

func TestUnigram_EncodeWithSpans(t *testing.T) {
	tok, err := NewFromContent(nil, testUnigramTokenizerJSON)
	require.NoError(t, err)

	unk, err := tok.SpecialTokenID(api.TokUnknown)
	require.NoError(t, err)
	assert.Equal(t, 0, unk)

	got := tok.EncodeWithSpans("hello world")
	assert.Equal(t, []int{1, 2}, got.IDs)
	assert.Equal(t, []api.TokenSpan{{Start: 0, End: 5}, {Start: 6, End: 11}}, got.Spans)
	assert.Equal(t, "hello world", tok.Decode(got.IDs))

	// A lone space becomes a zero-length span once trimmed.
	got = tok.EncodeWithSpans("hello  world")
	assert.Equal(t, []int{1, 3, 2}, got.IDs)
	assert.Equal(t, []api.TokenSpan{{Start: 0, End: 5}, {Start: 6, End: 6}, {Start: 7, End: 12}}, got.Spans)
}

func TestPairTemplate(t *testing.T) {
	t.Run("BERT default", func(t *testing.T) {
		tok, err := NewFromContent(nil, testWordPieceTokenizerJSON)
		require.NoError(t, err)
		template, err := tok.PairTemplate()
		require.NoError(t, err)
		assert.Equal(t, []int{101}, template.Prefix)
		assert.Equal(t, []int{102}, template.Middle)
		assert.Equal(t, []int{102}, template.Suffix)
		assert.Equal(t, []int{1}, template.SuffixTypeIDs)
		assert.Equal(t, 1, template.TypeIDB)
		assert.Equal(t, 3, template.NumSpecialTokens())
	})

	t.Run("RobertaProcessing", func(t *testing.T) {
		tok, err := NewFromContent(nil, testBPETokenizerJSON)
		require.NoError(t, err)
		template, err := tok.PairTemplate()
		require.NoError(t, err)
		assert.Equal(t, []int{1}, template.Prefix)
		assert.Equal(t, []int{2, 2}, template.Middle)
		assert.Equal(t, []int{2}, template.Suffix)
		assert.Equal(t, 0, template.TypeIDB)
	})

	t.Run("TemplateProcessing", func(t *testing.T) {
		content := []byte(`{
			"post_processor": {
				"type": "TemplateProcessing",
				"pair": [
					{"SpecialToken": {"id": "[CLS]", "type_id": 0}},
					{"Sequence": {"id": "A", "type_id": 0}},
					{"SpecialToken": {"id": "[SEP]", "type_id": 0}},
					{"Sequence": {"id": "B", "type_id": 1}},
					{"SpecialToken": {"id": "[SEP]", "type_id": 1}}
				],
				"special_tokens": {
					"[CLS]": {"id": "[CLS]", "ids": [7], "tokens": ["[CLS]"]},
					"[SEP]": {"id": "[SEP]", "ids": [8], "tokens": ["[SEP]"]}
				}
			},
			"model": {"type": "WordPiece", "vocab": {"[CLS]": 7, "[SEP]": 8}}
		}`)
		tok, err := NewFromContent(nil, content)
		require.NoError(t, err)
		template, err := tok.PairTemplate()
		require.NoError(t, err)
		assert.Equal(t, &api.PairTemplate{
			Prefix:        []int{7},
			Middle:        []int{8},
			Suffix:        []int{8},
			PrefixTypeIDs: []int{0},
			MiddleTypeIDs: []int{0},
			SuffixTypeIDs: []int{1},
			TypeIDA:       0,
			TypeIDB:       1,
		}, template)
	})

	t.Run("TemplateProcessing without B", func(t *testing.T) {
		content := []byte(`{
			"post_processor": {
				"type": "TemplateProcessing",
				"pair": [{"Sequence": {"id": "A", "type_id": 0}}]
			},
			"model": {"type": "WordPiece", "vocab": {}}
		}`)
		tok, err := NewFromContent(nil, content)
		require.NoError(t, err)
		_, err = tok.PairTemplate()
		require.Error(t, err)
	})
}

func TestSplitWords(t *testing.T) {
	tests := []struct {
		input string
		want  []pretoken
	}{
		{
			input: "Hello, world!",
			want:  []pretoken{{text: "Hello", start: 0}, {text: ",", start: 5}, {text: "world", start: 7}, {text: "!", start: 12}},
		},
		{
			input: "It's a test.",
			want: []pretoken{{text: "It", start: 0}, {text: "'", start: 2}, {text: "s", start: 3}, {text: "a", start: 5},
				{text: "test", start: 7}, {text: ".", start: 11}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := splitWords([]pretoken{{text: tt.input}}, isWhitespace, isPunctuation)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCleanText(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"hello world", "hello world"},
		{"hello\tworld", "hello world"},
		{"hello\nworld", "hello world"},
		{"hello\x00world", "helloworld"}, // null char removed
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, cleanText(tt.input))
		})
	}
}

func TestIsPunctuation(t *testing.T) {
	for _, r := range ".,!?;:\"'" {
		assert.True(t, isPunctuation(r), "isPunctuation(%q)", r)
	}
	for _, r := range "a1 " {
		assert.False(t, isPunctuation(r), "isPunctuation(%q)", r)
	}
}

// cjkTokenizerJSON returns a WordPiece tokenizer.json with the given normalizer.
func cjkTokenizerJSON(normalizer string) []byte {
	return []byte(`{
  "added_tokens": [{"id": 100, "content": "[UNK]", "special": true}],
  "normalizer": ` + normalizer + `,
  "pre_tokenizer": {"type": "BertPreTokenizer"},
  "model": {
    "type": "WordPiece",
    "unk_token": "[UNK]",
    "vocab": {"[UNK]": 100, "北": 1, "京": 2, "北京": 3, "大": 4, "学": 5, "hello": 6, "서울": 7}
  }
}`)
}

func TestChineseChars(t *testing.T) {
	tests := []struct {
		name       string
		normalizer string
		input      string
		wantIDs    []int
		wantSpans  []api.TokenSpan
	}{
		{
			name:       "isolated by default",
			normalizer: `{"type": "BertNormalizer", "lowercase": true}`,
			input:      "北京大学",
			wantIDs:    []int{1, 2, 4, 5},
			wantSpans:  []api.TokenSpan{{Start: 0, End: 3}, {Start: 3, End: 6}, {Start: 6, End: 9}, {Start: 9, End: 12}},
		},
		{
			name:       "isolated next to latin",
			normalizer: `{"type": "BertNormalizer", "handle_chinese_chars": true}`,
			input:      "hello北京",
			wantIDs:    []int{6, 1, 2},
			wantSpans:  []api.TokenSpan{{Start: 0, End: 5}, {Start: 5, End: 8}, {Start: 8, End: 11}},
		},
		{
			name:       "inside a sequence",
			normalizer: `{"type": "Sequence", "normalizers": [{"type": "BertNormalizer"}]}`,
			input:      " 北京",
			wantIDs:    []int{1, 2},
			wantSpans:  []api.TokenSpan{{Start: 1, End: 4}, {Start: 4, End: 7}},
		},
		{
			name:       "disabled",
			normalizer: `{"type": "BertNormalizer", "handle_chinese_chars": false}`,
			input:      "北京",
			wantIDs:    []int{3},
			wantSpans:  []api.TokenSpan{{Start: 0, End: 6}},
		},
		{
			name:       "hangul is not split",
			normalizer: `{"type": "BertNormalizer", "lowercase": true, "strip_accents": false}`,
			input:      "서울",
			wantIDs:    []int{7},
			wantSpans:  []api.TokenSpan{{Start: 0, End: 6}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tok, err := NewFromContent(nil, cjkTokenizerJSON(tt.normalizer))
			require.NoError(t, err)
			got := tok.EncodeWithSpans(tt.input)
			assert.Equal(t, tt.wantIDs, got.IDs)
			assert.Equal(t, tt.wantSpans, got.Spans)
		})
	}

	for _, r := range "北京丽" {
		assert.True(t, isChineseChar(r), "isChineseChar(%q)", r)
	}
	for _, r := range "a서あ." {
		assert.False(t, isChineseChar(r), "isChineseChar(%q)", r)
	}
}

func TestInvalidJSON(t *testing.T) {
	_, err := NewFromContent(nil, []byte("not valid json"))
	require.Error(t, err)

	_, err = NewFromContent(nil, []byte(`{"model": {"type": "Magic", "vocab": {}}}`))
	require.Error(t, err)
}

func TestEmptyVocab(t *testing.T) {
	emptyVocabJSON := []byte(`{
		"model": {
			"type": "WordPiece",
			"vocab": {},
			"unk_token": "[UNK]"
		}
	}`)
	tok, err := NewFromContent(nil, emptyVocabJSON)
	require.NoError(t, err)

	// Encoding unknown text should return empty (no unk token defined)
	result := tok.EncodeWithSpans("hello")
	assert.Empty(t, result.IDs)
	assert.Empty(t, result.Spans)
}
