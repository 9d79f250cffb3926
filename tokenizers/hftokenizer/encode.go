package hftokenizer

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/gomlx/qafeatures/tokenizers/api"
	"golang.org/x/text/unicode/norm"
)

// pretoken is a word produced by the pre-tokenizer.
type pretoken struct {
	text  string // substring of the original text
	start int    // byte offset of text in the original text

	// prefixSpace marks a word that must be prefixed by a space not present in the original text
	// (the add_prefix_space option of the ByteLevel and Metaspace pre-tokenizers).
	prefixSpace bool
}

// alignedText is a transformed version of a pretoken's text: each byte keeps the [start, end) range of
// the pretoken bytes it was derived from.
type alignedText struct {
	text         string
	starts, ends []int
}

// piece is a token produced by the model, covering bytes [start, end) of the word it was built from.
type piece struct {
	id, start, end int
}

// Encode converts text to a sequence of token IDs.
func (t *Tokenizer) Encode(text string) []int {
	return t.EncodeWithSpans(text).IDs
}

// EncodeWithSpans returns the tokens of text along with their byte spans in text.
// Special tokens are not added, see PairTemplate.
//
// For ByteLevel and Metaspace tokenizers the leading space folded into a token is not part of its span.
func (t *Tokenizer) EncodeWithSpans(text string) api.EncodingResult {
	var result api.EncodingResult
	for _, word := range t.preTokenize(text) {
		if id, ok := t.addedTokens[word.text]; ok {
			result.IDs = append(result.IDs, id)
			result.Spans = append(result.Spans, api.TokenSpan{Start: word.start, End: word.start + len(word.text)})
			continue
		}
		aligned := t.normalizeAligned(word.text)
		if word.prefixSpace {
			aligned = aligned.prepend(" ")
		}
		aligned = t.encodeWord(aligned)
		if aligned.text == "" {
			continue
		}
		for _, p := range t.tokenizeWord(aligned.text) {
			span := api.TokenSpan{
				Start: word.start + aligned.starts[p.start],
				End:   word.start + aligned.ends[p.end-1],
			}
			if t.wordEncoding != "" {
				for span.Start < span.End && isASCIISpace(text[span.Start]) {
					span.Start++
				}
			}
			result.IDs = append(result.IDs, p.id)
			result.Spans = append(result.Spans, span)
		}
	}
	return result
}

// identityAligned returns word aligned to itself, rune by rune.
func identityAligned(word string) alignedText {
	return mapRunes(word, func(r string) string { return r })
}

// mapRunes transforms each rune of word with fn, keeping the alignment of the output bytes to the input runes.
func mapRunes(word string, fn func(r string) string) alignedText {
	var sb strings.Builder
	out := alignedText{
		starts: make([]int, 0, len(word)),
		ends:   make([]int, 0, len(word)),
	}
	for i := 0; i < len(word); {
		_, size := utf8.DecodeRuneInString(word[i:])
		mapped := fn(word[i : i+size])
		sb.WriteString(mapped)
		for range len(mapped) {
			out.starts = append(out.starts, i)
			out.ends = append(out.ends, i+size)
		}
		i += size
	}
	out.text = sb.String()
	return out
}

// mapBytes transforms each byte of a with fn, carrying over the alignment.
func (a alignedText) mapBytes(fn func(b byte) string) alignedText {
	var sb strings.Builder
	out := alignedText{
		starts: make([]int, 0, len(a.text)),
		ends:   make([]int, 0, len(a.text)),
	}
	for k := 0; k < len(a.text); k++ {
		mapped := fn(a.text[k])
		sb.WriteString(mapped)
		for range len(mapped) {
			out.starts = append(out.starts, a.starts[k])
			out.ends = append(out.ends, a.ends[k])
		}
	}
	out.text = sb.String()
	return out
}

// prepend adds a prefix that doesn't correspond to any original byte: it is aligned to the zero-width
// position at the start of the word.
func (a alignedText) prepend(prefix string) alignedText {
	out := alignedText{
		text:   prefix + a.text,
		starts: make([]int, len(prefix), len(prefix)+len(a.starts)),
		ends:   make([]int, len(prefix), len(prefix)+len(a.ends)),
	}
	out.starts = append(out.starts, a.starts...)
	out.ends = append(out.ends, a.ends...)
	return out
}

// normalizeAligned applies the normalizer to word rune by rune, so each normalized byte can be traced back.
func (t *Tokenizer) normalizeAligned(word string) alignedText {
	if t.tokenizer.Normalizer == nil {
		return identityAligned(word)
	}
	return mapRunes(word, func(r string) string {
		return t.applyNormalizer(r, t.tokenizer.Normalizer)
	})
}

func (t *Tokenizer) applyNormalizer(text string, n *Normalizer) string {
	switch n.Type {
	case "Lowercase":
		return strings.ToLower(text)
	case "NFD":
		return norm.NFD.String(text)
	case "NFC":
		return norm.NFC.String(text)
	case "NFKC":
		return norm.NFKC.String(text)
	case "NFKD":
		return norm.NFKD.String(text)
	case "StripAccents":
		return removeAccents(norm.NFD.String(text))
	case "BertNormalizer":
		result := cleanText(text)
		stripAccents := n.Lowercase
		if n.StripAccents != nil {
			stripAccents = *n.StripAccents
		}
		if stripAccents {
			result = removeAccents(norm.NFD.String(result))
		}
		if n.Lowercase {
			result = strings.ToLower(result)
		}
		return result
	case "Sequence":
		result := text
		for i := range n.Normalizers {
			result = t.applyNormalizer(result, &n.Normalizers[i])
		}
		return result
	default:
		// Replace, Prepend and others are not supported: they would move text around.
		return text
	}
}

// handlesChineseChars reports whether n, or any normalizer in its sequence, is a BertNormalizer
// with handle_chinese_chars enabled.
func handlesChineseChars(n *Normalizer) bool {
	if n == nil {
		return false
	}
	switch n.Type {
	case "BertNormalizer":
		return n.HandleChineseChars == nil || *n.HandleChineseChars
	case "Sequence":
		for i := range n.Normalizers {
			if handlesChineseChars(&n.Normalizers[i]) {
				return true
			}
		}
	}
	return false
}

// findWordEncoding returns the re-encoding applied to pre-tokenized words, looking into sequences of pre-tokenizers.
func findWordEncoding(pt *PreTokenizer) string {
	if pt == nil {
		return ""
	}
	switch pt.Type {
	case "ByteLevel", "Metaspace":
		return pt.Type
	case "Sequence":
		for i := range pt.PreTokenizers {
			if enc := findWordEncoding(&pt.PreTokenizers[i]); enc != "" {
				return enc
			}
		}
	}
	return ""
}

// encodeWord applies the byte-level or metaspace encoding to a word.
func (t *Tokenizer) encodeWord(word alignedText) alignedText {
	switch t.wordEncoding {
	case "ByteLevel":
		return word.mapBytes(func(b byte) string { return string(byteToUnicode[b]) })
	case "Metaspace":
		return word.mapBytes(func(b byte) string {
			if b == ' ' {
				return metaspace
			}
			return string([]byte{b})
		})
	}
	return word
}

const metaspace = "▁"

// preTokenize splits text into words using the pre-tokenizer.
func (t *Tokenizer) preTokenize(text string) []pretoken {
	whole := []pretoken{{text: text}}
	if t.isolateCJK {
		whole = splitWords(whole, nil, isChineseChar)
	}
	if t.tokenizer.PreTokenizer == nil {
		return splitWords(whole, isWhitespace, nil)
	}
	return t.applyPreTokenizer(whole, t.tokenizer.PreTokenizer)
}

// wordPattern is the HuggingFace "Whitespace" pre-tokenizer: `\w+|[^\w\s]+`, with unicode word characters.
var wordPattern = regexp.MustCompile(`[\p{L}\p{N}_]+|[^\p{L}\p{N}_\s]+`)

func (t *Tokenizer) applyPreTokenizer(words []pretoken, pt *PreTokenizer) []pretoken {
	switch pt.Type {
	case "BertPreTokenizer":
		return splitWords(words, isWhitespace, isPunctuation)
	case "Whitespace":
		return splitRegexp(words, wordPattern)
	case "Punctuation":
		return splitWords(words, nil, isPunctuation)
	case "ByteLevel":
		return splitAtSpaces(words, pt.AddPrefixSpace, true)
	case "Metaspace":
		return splitAtSpaces(words, pt.AddPrefixSpace, false)
	case "Sequence":
		for i := range pt.PreTokenizers {
			words = t.applyPreTokenizer(words, &pt.PreTokenizers[i])
		}
		return words
	default:
		// WhitespaceSplit, and Split approximated as whitespace splitting.
		return splitWords(words, isWhitespace, nil)
	}
}

// splitWords splits each word on separator runes (dropped) and isolated runes (kept as their own word).
func splitWords(words []pretoken, isSeparator, isIsolated func(rune) bool) []pretoken {
	var result []pretoken
	for _, w := range words {
		first := len(result)
		wordStart := -1
		flush := func(end int) {
			if wordStart >= 0 {
				result = append(result, pretoken{text: w.text[wordStart:end], start: w.start + wordStart})
				wordStart = -1
			}
		}
		for i := 0; i < len(w.text); {
			r, size := utf8.DecodeRuneInString(w.text[i:])
			switch {
			case isSeparator != nil && isSeparator(r):
				flush(i)
			case isIsolated != nil && isIsolated(r):
				flush(i)
				result = append(result, pretoken{text: w.text[i : i+size], start: w.start + i})
			default:
				if wordStart < 0 {
					wordStart = i
				}
			}
			i += size
		}
		flush(len(w.text))
		if w.prefixSpace && first < len(result) && result[first].start == w.start {
			result[first].prefixSpace = true
		}
	}
	return result
}

func splitRegexp(words []pretoken, re *regexp.Regexp) []pretoken {
	var result []pretoken
	for _, w := range words {
		for _, match := range re.FindAllStringIndex(w.text, -1) {
			result = append(result, pretoken{
				text:        w.text[match[0]:match[1]],
				start:       w.start + match[0],
				prefixSpace: w.prefixSpace && match[0] == 0,
			})
		}
	}
	return result
}

// splitAtSpaces splits words before spaces, so each space is carried by the word that follows it.
// If groupSpaces is true, consecutive spaces stay together in the same word.
func splitAtSpaces(words []pretoken, addPrefixSpace, groupSpaces bool) []pretoken {
	var result []pretoken
	for _, w := range words {
		first := len(result)
		start := 0
		for i := 1; i < len(w.text); i++ {
			if w.text[i] != ' ' || (groupSpaces && w.text[i-1] == ' ') {
				continue
			}
			result = append(result, pretoken{text: w.text[start:i], start: w.start + start})
			start = i
		}
		if start < len(w.text) {
			result = append(result, pretoken{text: w.text[start:], start: w.start + start})
		}
		if first < len(result) && (w.prefixSpace || (addPrefixSpace && w.text[0] != ' ')) {
			result[first].prefixSpace = true
		}
	}
	return result
}

// tokenizeWord tokenizes a single word according to the model type.
func (t *Tokenizer) tokenizeWord(word string) []piece {
	switch t.tokenizer.Model.Type {
	case "WordPiece":
		return t.wordPieceTokenize(word)
	case "BPE":
		return t.bpeTokenize(word)
	case "Unigram":
		return t.unigramTokenize(word)
	default:
		if id, ok := t.tokenizer.Model.Vocab[word]; ok {
			return []piece{{id: id, start: 0, end: len(word)}}
		}
		return t.unknownWord(word)
	}
}

// unknownWord returns the whole word as one unknown token, or nothing if the tokenizer has no unknown token.
func (t *Tokenizer) unknownWord(word string) []piece {
	if t.unkID < 0 || word == "" {
		return nil
	}
	return []piece{{id: t.unkID, start: 0, end: len(word)}}
}

// wordPieceTokenize implements WordPiece tokenization (used by BERT): greedy longest-match-first.
func (t *Tokenizer) wordPieceTokenize(word string) []piece {
	if word == "" {
		return nil
	}
	maxChars := t.tokenizer.Model.MaxInputCharsPerWord
	if maxChars == 0 {
		maxChars = 100
	}
	if utf8.RuneCountInString(word) > maxChars {
		return t.unknownWord(word)
	}
	prefix := t.tokenizer.Model.ContinuingSubwordPrefix
	if prefix == "" {
		prefix = "##"
	}

	var pieces []piece
	for start := 0; start < len(word); {
		end := len(word)
		found := false
		for ; start < end; end-- {
			substr := word[start:end]
			if start > 0 {
				substr = prefix + substr
			}
			if id, ok := t.tokenizer.Model.Vocab[substr]; ok {
				pieces = append(pieces, piece{id: id, start: start, end: end})
				found = true
				break
			}
		}
		if !found {
			return t.unknownWord(word)
		}
		start = end
	}
	return pieces
}

type bpeSymbol struct {
	text       string
	start, end int
}

// bpeTokenize implements BPE tokenization (used by GPT-2, RoBERTa).
func (t *Tokenizer) bpeTokenize(word string) []piece {
	if word == "" {
		return nil
	}
	symbols := make([]bpeSymbol, 0, len(word))
	for i := 0; i < len(word); {
		_, size := utf8.DecodeRuneInString(word[i:])
		symbols = append(symbols, bpeSymbol{text: word[i : i+size], start: i, end: i + size})
		i += size
	}
	if suffix := t.tokenizer.Model.EndOfWordSuffix; suffix != "" {
		symbols[len(symbols)-1].text += suffix
	}

	// Apply merges, lowest rank first.
	for len(symbols) > 1 {
		bestRank, bestIdx := -1, -1
		for i := 0; i < len(symbols)-1; i++ {
			rank, ok := t.mergeRanks[symbols[i].text+" "+symbols[i+1].text]
			if ok && (bestRank == -1 || rank < bestRank) {
				bestRank, bestIdx = rank, i
			}
		}
		if bestIdx == -1 {
			break
		}
		symbols[bestIdx] = bpeSymbol{
			text:  symbols[bestIdx].text + symbols[bestIdx+1].text,
			start: symbols[bestIdx].start,
			end:   symbols[bestIdx+1].end,
		}
		symbols = append(symbols[:bestIdx+1], symbols[bestIdx+2:]...)
	}

	pieces := make([]piece, 0, len(symbols))
	for _, sym := range symbols {
		if id, ok := t.tokenizer.Model.Vocab[sym.text]; ok {
			pieces = append(pieces, piece{id: id, start: sym.start, end: sym.end})
		} else {
			pieces = append(pieces, t.fallbackPieces(word, sym.start, sym.end)...)
		}
	}
	return pieces
}

// unigramTokenize implements a simplified Unigram tokenization: greedy longest-match.
// Full Unigram uses Viterbi algorithm with scores.
func (t *Tokenizer) unigramTokenize(word string) []piece {
	var pieces []piece
	for start := 0; start < len(word); {
		found := false
		for end := len(word); end > start; end-- {
			if end < len(word) && !utf8.RuneStart(word[end]) {
				continue
			}
			if id, ok := t.tokenizer.Model.Vocab[word[start:end]]; ok {
				pieces = append(pieces, piece{id: id, start: start, end: end})
				start = end
				found = true
				break
			}
		}
		if !found {
			_, size := utf8.DecodeRuneInString(word[start:])
			pieces = append(pieces, t.fallbackPieces(word, start, start+size)...)
			start += size
		}
	}
	return pieces
}

// fallbackPieces handles word[start:end] not found in the vocabulary: byte tokens ("<0x41>") if the model
// has byte_fallback, the unknown token otherwise, or nothing if there is no unknown token.
func (t *Tokenizer) fallbackPieces(word string, start, end int) []piece {
	if t.tokenizer.Model.ByteFallback {
		var pieces []piece
		for k := start; k < end; k++ {
			id, ok := t.tokenizer.Model.Vocab[fmt.Sprintf("<0x%02X>", word[k])]
			if !ok {
				pieces = nil
				break
			}
			pieces = append(pieces, piece{id: id, start: k, end: k + 1})
		}
		if pieces != nil {
			return pieces
		}
	}
	if t.unkID < 0 {
		return nil
	}
	return []piece{{id: t.unkID, start: start, end: end}}
}

func cleanText(text string) string {
	var result strings.Builder
	for _, r := range text {
		if r == 0 || r == 0xFFFD || isControl(r) {
			continue
		}
		if isWhitespace(r) {
			result.WriteRune(' ')
		} else {
			result.WriteRune(r)
		}
	}
	return result.String()
}

func isWhitespace(r rune) bool {
	if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
		return true
	}
	return unicode.Is(unicode.Zs, r)
}

func isASCIISpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

func isControl(r rune) bool {
	if r == '\t' || r == '\n' || r == '\r' {
		return false
	}
	return unicode.IsControl(r)
}

// isChineseChar reports whether r is in one of the CJK Unified Ideographs blocks. Hangul and Japanese
// kana are not included.
func isChineseChar(r rune) bool {
	return (r >= 0x4E00 && r <= 0x9FFF) ||
		(r >= 0x3400 && r <= 0x4DBF) ||
		(r >= 0x20000 && r <= 0x2A6DF) ||
		(r >= 0x2A700 && r <= 0x2B73F) ||
		(r >= 0x2B740 && r <= 0x2B81F) ||
		(r >= 0x2B820 && r <= 0x2CEAF) ||
		(r >= 0xF900 && r <= 0xFAFF) ||
		(r >= 0x2F800 && r <= 0x2FA1F)
}

func isPunctuation(r rune) bool {
	// ASCII punctuation
	if (r >= 33 && r <= 47) || (r >= 58 && r <= 64) ||
		(r >= 91 && r <= 96) || (r >= 123 && r <= 126) {
		return true
	}
	return unicode.IsPunct(r)
}

func removeAccents(text string) string {
	var result strings.Builder
	for _, r := range text {
		if !unicode.Is(unicode.Mn, r) { // Mn = Mark, Nonspacing
			result.WriteRune(r)
		}
	}
	return result.String()
}

// Byte-level BPE encoding/decoding
// GPT-2 uses a specific byte-to-unicode mapping
var byteToUnicode map[byte]rune
var unicodeToByte map[rune]byte

func init() {
	byteToUnicode = make(map[byte]rune)
	unicodeToByte = make(map[rune]byte)

	// Build the byte-to-unicode mapping used by GPT-2
	n := 0
	for b := 0; b < 256; b++ {
		if (b >= '!' && b <= '~') || (b >= '\xa1' && b <= '\xac') || (b >= '\xae' && b <= '\xff') {
			byteToUnicode[byte(b)] = rune(b)
			unicodeToByte[rune(b)] = byte(b)
		} else {
			byteToUnicode[byte(b)] = rune(256 + n)
			unicodeToByte[rune(256+n)] = byte(b)
			n++
		}
	}
}
