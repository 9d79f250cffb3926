package hftokenizer

import (
	"strings"
)

// Decode converts a sequence of token IDs back to text.
// Unknown ids are skipped.
func (t *Tokenizer) Decode(ids []int) string {
	tokens := make([]string, 0, len(ids))
	for _, id := range ids {
		if token, ok := t.idToToken[id]; ok {
			tokens = append(tokens, token)
		}
	}
	return t.decodeWith(t.tokenizer.Decoder, tokens)
}

// decodeWith joins tokens according to the decoder type. For a "Sequence" of decoders, the first one that
// knows how to join tokens is used.
func (t *Tokenizer) decodeWith(d *Decoder, tokens []string) string {
	if d == nil {
		return joinContinuations(tokens, t.continuingPrefix())
	}
	switch d.Type {
	case "WordPiece":
		prefix := d.Prefix
		if prefix == "" {
			prefix = "##"
		}
		return joinContinuations(tokens, prefix)
	case "ByteLevel":
		return byteLevelDecode(strings.Join(tokens, ""))
	case "Metaspace":
		return strings.TrimLeft(strings.ReplaceAll(strings.Join(tokens, ""), metaspace, " "), " ")
	case "BPEDecoder":
		return t.bpeDecode(tokens)
	case "Sequence":
		for i := range d.Decoders {
			switch d.Decoders[i].Type {
			case "WordPiece", "ByteLevel", "Metaspace", "BPEDecoder":
				return t.decodeWith(&d.Decoders[i], tokens)
			}
		}
		return strings.Join(tokens, "")
	default:
		return joinContinuations(tokens, t.continuingPrefix())
	}
}

func (t *Tokenizer) continuingPrefix() string {
	if prefix := t.tokenizer.Model.ContinuingSubwordPrefix; prefix != "" {
		return prefix
	}
	return "##"
}

// joinContinuations joins tokens with spaces, except for continuation tokens (starting with prefix) that are
// glued to the previous one.
func joinContinuations(tokens []string, prefix string) string {
	var result strings.Builder
	for i, token := range tokens {
		if strings.HasPrefix(token, prefix) {
			result.WriteString(strings.TrimPrefix(token, prefix))
			continue
		}
		if i > 0 {
			result.WriteString(" ")
		}
		result.WriteString(token)
	}
	return result.String()
}

func (t *Tokenizer) bpeDecode(tokens []string) string {
	suffix := t.tokenizer.Model.EndOfWordSuffix
	var result strings.Builder
	for i, token := range tokens {
		if suffix != "" && strings.HasSuffix(token, suffix) {
			result.WriteString(strings.TrimSuffix(token, suffix))
			if i < len(tokens)-1 {
				result.WriteString(" ")
			}
		} else {
			result.WriteString(token)
		}
	}
	return result.String()
}

func byteLevelDecode(text string) string {
	var result []byte
	for _, r := range text {
		if b, ok := unicodeToByte[r]; ok {
			result = append(result, b)
		} else {
			// Fallback for characters not in the mapping
			result = append(result, []byte(string(r))...)
		}
	}
	return string(result)
}
