// Package tokenizers creates tokenizers by family name.
//
// Two families are registered by default:
//
//   - "hf": HuggingFace "tokenizer.json" files, see package hftokenizer.
//   - "sentencepiece": SentencePiece "tokenizer.model" files, see package sentencepiece.
//
// Other implementations can be added with Register.
package tokenizers

import (
	"sort"
	"strings"
	"sync"

	"github.com/gomlx/qafeatures/tokenizers/api"
	"github.com/gomlx/qafeatures/tokenizers/hftokenizer"
	"github.com/gomlx/qafeatures/tokenizers/sentencepiece"
	"github.com/pkg/errors"
)

// Tokenizer is an alias to api.TokenizerWithSpans, so users don't need to import the api package.
type Tokenizer = api.TokenizerWithSpans

// Constructor creates a tokenizer from its configuration (optional, may be nil) and the path to its model file.
type Constructor func(config *api.Config, filePath string) (api.TokenizerWithSpans, error)

var (
	muRegistry sync.RWMutex
	registry   = map[string]Constructor{}
)

// Family names registered by default.
const (
	FamilyHuggingFace   = "hf"
	FamilySentencePiece = "sentencepiece"
)

func init() {
	Register(FamilyHuggingFace, hftokenizer.New)
	Register(FamilySentencePiece, sentencepiece.New)
}

// Register a tokenizer constructor under the given family name, replacing any previous one.
func Register(family string, constructor Constructor) {
	muRegistry.Lock()
	defer muRegistry.Unlock()
	registry[family] = constructor
}

// Families returns the sorted list of registered family names.
func Families() []string {
	muRegistry.RLock()
	defer muRegistry.RUnlock()
	families := make([]string, 0, len(registry))
	for family := range registry {
		families = append(families, family)
	}
	sort.Strings(families)
	return families
}

// New creates a tokenizer of the given family from the model file in filePath.
func New(family string, config *api.Config, filePath string) (Tokenizer, error) {
	muRegistry.RLock()
	constructor, found := registry[family]
	muRegistry.RUnlock()
	if !found {
		return nil, errors.Errorf("unknown tokenizer family %q, registered families are %q", family, Families())
	}
	tok, err := constructor(config, filePath)
	if err != nil {
		return nil, errors.WithMessagef(err, "while creating %q tokenizer from %q", family, filePath)
	}
	return tok, nil
}

// ParseModelName splits a "<family>_<name>" model name, e.g. "hf_klue/bert-base" into
// ("hf", "klue/bert-base"). The family must be registered.
func ParseModelName(modelName string) (family, name string, err error) {
	family, name, found := strings.Cut(modelName, "_")
	if !found || family == "" || name == "" {
		return "", "", errors.Errorf("model name %q is not in the \"<family>_<name>\" format", modelName)
	}
	muRegistry.RLock()
	_, registered := registry[family]
	muRegistry.RUnlock()
	if !registered {
		return "", "", errors.Errorf("model name %q: unknown tokenizer family %q, registered families are %q",
			modelName, family, Families())
	}
	return family, name, nil
}
