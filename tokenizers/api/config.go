package api

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// PaddingSide defines on which side of a sequence padding is added.
//
// For question answering it also defines the order of the pair: with padding on the right the question
// comes first and the context second, with padding on the left the context comes first.
type PaddingSide int

const (
	PadRight PaddingSide = iota
	PadLeft
)

// String implements fmt.Stringer.
func (p PaddingSide) String() string {
	if p == PadLeft {
		return "left"
	}
	return "right"
}

// ParsePaddingSide converts "left" or "right" (case-insensitive) to a PaddingSide. The empty string maps to PadRight.
func ParsePaddingSide(s string) (PaddingSide, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "right":
		return PadRight, nil
	case "left":
		return PadLeft, nil
	}
	return PadRight, errors.Errorf("invalid padding side %q, valid values are \"left\" or \"right\"", s)
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *PaddingSide) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return errors.Wrapf(err, "padding side must be a string")
	}
	v, err := ParsePaddingSide(s)
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// MarshalJSON implements json.Marshaler.
func (p PaddingSide) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// Config holds the contents of a "tokenizer_config.json" file: the names of the special tokens and
// a few tokenizer-wide settings.
//
// Special tokens can be given either as plain strings or as AddedToken objects ({"content": "[CLS]", ...}),
// both forms are accepted.
type Config struct {
	TokenizerClass string `json:"tokenizer_class"`

	BosToken  string `json:"-"`
	EosToken  string `json:"-"`
	UnkToken  string `json:"-"`
	SepToken  string `json:"-"`
	PadToken  string `json:"-"`
	ClsToken  string `json:"-"`
	MaskToken string `json:"-"`

	PaddingSide    PaddingSide `json:"padding_side"`
	ModelMaxLength int         `json:"-"`
	DoLowerCase    bool        `json:"do_lower_case"`
}

// LoadConfig reads a "tokenizer_config.json" file.
func LoadConfig(filePath string) (*Config, error) {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read tokenizer config %q", filePath)
	}
	return ParseConfig(content)
}

// ParseConfig parses the contents of a "tokenizer_config.json" file.
func ParseConfig(content []byte) (*Config, error) {
	config := &Config{}
	if err := json.Unmarshal(content, config); err != nil {
		return nil, errors.Wrapf(err, "failed to parse tokenizer config")
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(content, &raw); err != nil {
		return nil, errors.Wrapf(err, "failed to parse tokenizer config")
	}
	for key, dst := range map[string]*string{
		"bos_token":  &config.BosToken,
		"eos_token":  &config.EosToken,
		"unk_token":  &config.UnkToken,
		"sep_token":  &config.SepToken,
		"pad_token":  &config.PadToken,
		"cls_token":  &config.ClsToken,
		"mask_token": &config.MaskToken,
	} {
		value, found := raw[key]
		if !found {
			continue
		}
		token, err := parseTokenContent(value)
		if err != nil {
			return nil, errors.WithMessagef(err, "tokenizer config field %q", key)
		}
		*dst = token
	}

	// model_max_length is frequently a huge float (1e30) meaning "no limit": those are ignored.
	if value, found := raw["model_max_length"]; found {
		var maxLength float64
		if err := json.Unmarshal(value, &maxLength); err == nil && maxLength > 0 && maxLength < 1<<31 {
			config.ModelMaxLength = int(maxLength)
		}
	}
	return config, nil
}

func parseTokenContent(value json.RawMessage) (string, error) {
	if string(value) == "null" {
		return "", nil
	}
	var token string
	if err := json.Unmarshal(value, &token); err == nil {
		return token, nil
	}
	var added struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(value, &added); err != nil {
		return "", errors.Wrapf(err, "special token must be a string or an object with \"content\"")
	}
	return added.Content, nil
}
