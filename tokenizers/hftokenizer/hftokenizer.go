// Package hftokenizer implements a tokenizer for HuggingFace's tokenizer.json format.
// This format is used by the HuggingFace Tokenizers library (the "fast" tokenizers)
// and supports WordPiece (BERT), BPE (GPT-2, RoBERTa), and Unigram models.
//
// Besides token ids, it reports the byte span of each token in the original text (see EncodeWithSpans),
// and how pairs of sequences are assembled by the model (see PairTemplate), which is what question
// answering needs to window (question, context) pairs.
package hftokenizer

import (
	"encoding/json"
	"os"

	"github.com/gomlx/qafeatures/tokenizers/api"
	"github.com/pkg/errors"
)

// TokenizerJSON represents the structure of HuggingFace's tokenizer.json file.
type TokenizerJSON struct {
	Version       string          `json:"version"`
	Truncation    json.RawMessage `json:"truncation"`
	Padding       json.RawMessage `json:"padding"`
	AddedTokens   []AddedToken    `json:"added_tokens"`
	Normalizer    *Normalizer     `json:"normalizer"`
	PreTokenizer  *PreTokenizer   `json:"pre_tokenizer"`
	PostProcessor *PostProcessor  `json:"post_processor"`
	Decoder       *Decoder        `json:"decoder"`
	Model         Model           `json:"model"`
}

// AddedToken represents a special token added to the vocabulary.
type AddedToken struct {
	ID         int    `json:"id"`
	Content    string `json:"content"`
	SingleWord bool   `json:"single_word"`
	Lstrip     bool   `json:"lstrip"`
	Rstrip     bool   `json:"rstrip"`
	Normalized bool   `json:"normalized"`
	Special    bool   `json:"special"`
}

// Normalizer represents the normalizer configuration.
//
// HandleChineseChars is only used by the "BertNormalizer" type: if nil or true, each CJK character is
// tokenized as a separate word.
type Normalizer struct {
	Type               string       `json:"type"`
	Lowercase          bool         `json:"lowercase"`
	StripAccents       *bool        `json:"strip_accents"`
	HandleChineseChars *bool        `json:"handle_chinese_chars"`
	Normalizer         *Normalizer  `json:"normalizer"`
	Pattern            *Pattern     `json:"pattern"`
	Normalizers        []Normalizer `json:"normalizers"`
}

// Pattern for regex-based operations.
type Pattern struct {
	Regex  string `json:"Regex,omitempty"`
	String string `json:"String,omitempty"`
}

// PreTokenizer represents the pre-tokenizer configuration.
type PreTokenizer struct {
	Type           string         `json:"type"`
	AddPrefixSpace bool           `json:"add_prefix_space"`
	PreTokenizers  []PreTokenizer `json:"pretokenizers"`
	Pattern        *Pattern       `json:"pattern"`
	Behavior       string         `json:"behavior"`
	Invert         bool           `json:"invert"`
}

// PostProcessor represents the post-processor configuration.
//
// Cls and Sep are only used by the "BertProcessing" and "RobertaProcessing" types, Single, Pair and
// SpecialTokens by "TemplateProcessing", and Processors by "Sequence".
type PostProcessor struct {
	Type          string                          `json:"type"`
	Single        []PostProcItem                  `json:"single"`
	Pair          []PostProcItem                  `json:"pair"`
	SpecialTokens map[string]PostProcSpecialToken `json:"special_tokens"`
	Cls           *SpecialTokenRef                `json:"cls"`
	Sep           *SpecialTokenRef                `json:"sep"`
	Processors    []PostProcessor                 `json:"processors"`
}

// PostProcItem is an item in post-processing.
type PostProcItem struct {
	ID           string `json:"id,omitempty"`
	TypeID       int    `json:"type_id"`
	SpecialToken *struct {
		ID     string `json:"id"`
		TypeID int    `json:"type_id"`
	} `json:"SpecialToken,omitempty"`
	Sequence *struct {
		ID     string `json:"id"`
		TypeID int    `json:"type_id"`
	} `json:"Sequence,omitempty"`
}

// PostProcSpecialToken defines a special token for post-processing.
type PostProcSpecialToken struct {
	ID     string   `json:"id"`
	IDs    []int    `json:"ids"`
	Tokens []string `json:"tokens"`
}

// SpecialTokenRef is a (token, id) pair, serialized as a 2-elements JSON array, e.g. `["[SEP]", 102]`.
type SpecialTokenRef struct {
	Token string
	ID    int
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *SpecialTokenRef) UnmarshalJSON(data []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return errors.Wrapf(err, "special token reference must be a [token, id] array")
	}
	if len(pair) != 2 {
		return errors.Errorf("special token reference must have 2 elements, got %d", len(pair))
	}
	if err := json.Unmarshal(pair[0], &r.Token); err != nil {
		return errors.Wrapf(err, "invalid special token reference token")
	}
	if err := json.Unmarshal(pair[1], &r.ID); err != nil {
		return errors.Wrapf(err, "invalid special token reference id")
	}
	return nil
}

// Decoder represents the decoder configuration.
type Decoder struct {
	Type     string    `json:"type"`
	Prefix   string    `json:"prefix"`
	Suffix   string    `json:"suffix"`
	Decoders []Decoder `json:"decoders"`
	Pattern  *Pattern  `json:"pattern"`
	Content  string    `json:"content"`
}

// Model represents the tokenizer model (WordPiece, BPE, or Unigram).
type Model struct {
	Type                    string         `json:"type"`
	Vocab                   map[string]int `json:"vocab"`
	Merges                  []string       `json:"merges"`
	UnkToken                string         `json:"unk_token"`
	ContinuingSubwordPrefix string         `json:"continuing_subword_prefix"`
	MaxInputCharsPerWord    int            `json:"max_input_chars_per_word"`
	FuseUnk                 bool           `json:"fuse_unk"`
	ByteFallback            bool           `json:"byte_fallback"`
	Dropout                 *float64       `json:"dropout"`
	EndOfWordSuffix         string         `json:"end_of_word_suffix"`
}

// UnmarshalJSON implements json.Unmarshaler. It accepts both vocabulary layouts: a {"token": id} object
// (WordPiece, BPE) and a [["token", score], ...] list where the id is the position (Unigram), in which case the
// unknown token is given by "unk_id".
func (m *Model) UnmarshalJSON(data []byte) error {
	type modelFields Model
	var raw struct {
		modelFields
		Vocab json.RawMessage `json:"vocab"`
		UnkID *int            `json:"unk_id"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*m = Model(raw.modelFields)
	m.Vocab = make(map[string]int)
	if len(raw.Vocab) == 0 || string(raw.Vocab) == "null" {
		return nil
	}
	if raw.Vocab[0] == '{' {
		return json.Unmarshal(raw.Vocab, &m.Vocab)
	}
	var scored [][2]json.RawMessage
	if err := json.Unmarshal(raw.Vocab, &scored); err != nil {
		return errors.Wrapf(err, "vocab must be an object or a list of [token, score] pairs")
	}
	for id, entry := range scored {
		var token string
		if err := json.Unmarshal(entry[0], &token); err != nil {
			return errors.Wrapf(err, "invalid token in vocab entry #%d", id)
		}
		m.Vocab[token] = id
		if raw.UnkID != nil && *raw.UnkID == id && m.UnkToken == "" {
			m.UnkToken = token
		}
	}
	return nil
}

// Tokenizer implements the api.TokenizerWithSpans interface for HuggingFace tokenizer.json files.
//
// It is read-only after construction, and safe for concurrent use.
type Tokenizer struct {
	config     *api.Config
	tokenizer  *TokenizerJSON
	idToToken  map[int]string
	mergeRanks map[string]int // For BPE: maps "token1 token2" to merge priority

	// Special token IDs
	unkID  int
	padID  int
	bosID  int
	eosID  int
	clsID  int
	sepID  int
	maskID int

	// Added tokens lookup (content -> id)
	addedTokens map[string]int

	// wordEncoding is "ByteLevel" or "Metaspace" when the pre-tokenizer re-encodes words before the model
	// sees them, or empty otherwise.
	wordEncoding string

	// isolateCJK splits CJK characters into their own words, before pre-tokenization.
	isolateCJK bool
}

// Compile time assert that Tokenizer implements the api interfaces.
var (
	_ api.TokenizerWithSpans = &Tokenizer{}
	_ api.PairTemplater      = &Tokenizer{}
)

// New creates a HuggingFace tokenizer from the tokenizer.json file in filePath.
// It implements a tokenizers.Constructor function signature.
func New(config *api.Config, filePath string) (api.TokenizerWithSpans, error) {
	tok, err := NewFromFile(config, filePath)
	if err != nil {
		return nil, err
	}
	return tok, nil
}

// NewFromFile creates a HuggingFace tokenizer from a local tokenizer.json file path.
func NewFromFile(config *api.Config, filePath string) (*Tokenizer, error) {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read tokenizer.json file %q", filePath)
	}
	return NewFromContent(config, content)
}

// NewFromContent creates a HuggingFace tokenizer from tokenizer.json content.
// The config is optional, and only used to resolve special tokens not marked in tokenizer.json.
func NewFromContent(config *api.Config, content []byte) (*Tokenizer, error) {
	var tj TokenizerJSON
	if err := json.Unmarshal(content, &tj); err != nil {
		return nil, errors.Wrapf(err, "failed to parse tokenizer.json")
	}
	switch tj.Model.Type {
	case "WordPiece", "BPE", "Unigram", "":
	default:
		return nil, errors.Errorf("unsupported tokenizer model type %q", tj.Model.Type)
	}

	t := &Tokenizer{
		config:      config,
		tokenizer:   &tj,
		idToToken:   make(map[int]string),
		addedTokens: make(map[string]int),
		unkID:       -1,
		padID:       -1,
		bosID:       -1,
		eosID:       -1,
		clsID:       -1,
		sepID:       -1,
		maskID:      -1,
	}

	// Build reverse vocab (id -> token)
	for token, id := range tj.Model.Vocab {
		t.idToToken[id] = token
	}

	// Build added tokens map
	for _, at := range tj.AddedTokens {
		t.addedTokens[at.Content] = at.ID
		t.idToToken[at.ID] = at.Content
	}

	// Build merge ranks for BPE
	if tj.Model.Type == "BPE" {
		t.mergeRanks = make(map[string]int, len(tj.Model.Merges))
		for i, merge := range tj.Model.Merges {
			t.mergeRanks[merge] = i
		}
	}

	t.resolveSpecialTokens()
	t.wordEncoding = findWordEncoding(tj.PreTokenizer)
	t.isolateCJK = handlesChineseChars(tj.Normalizer)
	return t, nil
}

// resolveSpecialTokens maps special tokens from config to their IDs.
func (t *Tokenizer) resolveSpecialTokens() {
	if t.tokenizer.Model.UnkToken != "" {
		if id, ok := t.tokenizer.Model.Vocab[t.tokenizer.Model.UnkToken]; ok {
			t.unkID = id
		}
	}

	for _, at := range t.tokenizer.AddedTokens {
		if !at.Special {
			continue
		}
		switch at.Content {
		case "[UNK]", "<unk>":
			t.unkID = at.ID
		case "[PAD]", "<pad>":
			t.padID = at.ID
		case "[CLS]", "<s>":
			t.clsID = at.ID
		case "[SEP]", "</s>":
			t.sepID = at.ID
		case "[MASK]", "<mask>":
			t.maskID = at.ID
		}
		if t.config != nil {
			if at.Content == t.config.BosToken {
				t.bosID = at.ID
			}
			if at.Content == t.config.EosToken {
				t.eosID = at.ID
			}
		}
	}

	// Fall back to config special tokens if available.
	if t.config == nil {
		return
	}
	for _, fallback := range []struct {
		id    *int
		token string
	}{
		{&t.unkID, t.config.UnkToken},
		{&t.padID, t.config.PadToken},
		{&t.clsID, t.config.ClsToken},
		{&t.sepID, t.config.SepToken},
		{&t.maskID, t.config.MaskToken},
		{&t.bosID, t.config.BosToken},
		{&t.eosID, t.config.EosToken},
	} {
		if *fallback.id != -1 || fallback.token == "" {
			continue
		}
		if id, ok := t.TokenToID(fallback.token); ok {
			*fallback.id = id
		}
	}
}

// SpecialTokenID returns the ID for a given special token.
func (t *Tokenizer) SpecialTokenID(token api.SpecialToken) (int, error) {
	switch token {
	case api.TokUnknown:
		if t.unkID >= 0 {
			return t.unkID, nil
		}
	case api.TokPad:
		if t.padID >= 0 {
			return t.padID, nil
		}
	case api.TokBeginningOfSentence:
		if t.bosID >= 0 {
			return t.bosID, nil
		}
		// Fall back to CLS for BERT-style models
		if t.clsID >= 0 {
			return t.clsID, nil
		}
	case api.TokEndOfSentence:
		if t.eosID >= 0 {
			return t.eosID, nil
		}
		// Fall back to SEP for BERT-style models
		if t.sepID >= 0 {
			return t.sepID, nil
		}
	case api.TokMask:
		if t.maskID >= 0 {
			return t.maskID, nil
		}
	case api.TokClassification:
		if t.clsID >= 0 {
			return t.clsID, nil
		}
	}
	return 0, errors.Errorf("special token %s not found", token)
}

// VocabSize returns the size of the vocabulary.
func (t *Tokenizer) VocabSize() int {
	return len(t.idToToken)
}

// GetTokenizerType returns the model type (WordPiece, BPE, Unigram).
func (t *Tokenizer) GetTokenizerType() string {
	return t.tokenizer.Model.Type
}

// TokenToID converts a token string to its ID.
func (t *Tokenizer) TokenToID(token string) (int, bool) {
	if id, ok := t.addedTokens[token]; ok {
		return id, true
	}
	id, ok := t.tokenizer.Model.Vocab[token]
	return id, ok
}

// IDToToken converts a token ID to its string.
func (t *Tokenizer) IDToToken(id int) (string, bool) {
	token, ok := t.idToToken[id]
	return token, ok
}
