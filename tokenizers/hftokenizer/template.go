package hftokenizer

import (
	"github.com/gomlx/qafeatures/tokenizers/api"
	"github.com/pkg/errors"
)

// PairTemplate returns how the model expects a pair of sequences (e.g. question and context) to be assembled,
// as configured by the "post_processor" of the tokenizer.json.
//
// Without a post-processor, the BERT layout "[CLS] A [SEP] B [SEP]" is used if the tokenizer has both tokens.
func (t *Tokenizer) PairTemplate() (*api.PairTemplate, error) {
	if t.tokenizer.PostProcessor == nil {
		if t.clsID < 0 || t.sepID < 0 {
			return nil, errors.New("tokenizer has no post_processor and no [CLS]/[SEP] tokens to assemble pairs")
		}
		return bertTemplate(t.clsID, t.sepID), nil
	}
	return t.pairTemplateFrom(t.tokenizer.PostProcessor)
}

func (t *Tokenizer) pairTemplateFrom(pp *PostProcessor) (*api.PairTemplate, error) {
	switch pp.Type {
	case "BertProcessing":
		if pp.Cls == nil || pp.Sep == nil {
			return nil, errors.Errorf("%s post_processor requires \"cls\" and \"sep\"", pp.Type)
		}
		return bertTemplate(pp.Cls.ID, pp.Sep.ID), nil

	case "RobertaProcessing":
		if pp.Cls == nil || pp.Sep == nil {
			return nil, errors.Errorf("%s post_processor requires \"cls\" and \"sep\"", pp.Type)
		}
		// <s> A </s></s> B </s>, RoBERTa doesn't use type ids.
		return &api.PairTemplate{
			Prefix:        []int{pp.Cls.ID},
			Middle:        []int{pp.Sep.ID, pp.Sep.ID},
			Suffix:        []int{pp.Sep.ID},
			PrefixTypeIDs: []int{0},
			MiddleTypeIDs: []int{0, 0},
			SuffixTypeIDs: []int{0},
		}, nil

	case "TemplateProcessing":
		return t.parseTemplate(pp)

	case "Sequence":
		for i := range pp.Processors {
			switch pp.Processors[i].Type {
			case "BertProcessing", "RobertaProcessing", "TemplateProcessing":
				return t.pairTemplateFrom(&pp.Processors[i])
			}
		}
		return &api.PairTemplate{}, nil

	case "ByteLevel":
		// Only trims offsets, no special tokens.
		return &api.PairTemplate{}, nil
	}
	return nil, errors.Errorf("unsupported post_processor type %q", pp.Type)
}

func bertTemplate(clsID, sepID int) *api.PairTemplate {
	return &api.PairTemplate{
		Prefix:        []int{clsID},
		Middle:        []int{sepID},
		Suffix:        []int{sepID},
		PrefixTypeIDs: []int{0},
		MiddleTypeIDs: []int{0},
		SuffixTypeIDs: []int{1},
		TypeIDA:       0,
		TypeIDB:       1,
	}
}

// parseTemplate converts the "pair" items of a TemplateProcessing post-processor.
func (t *Tokenizer) parseTemplate(pp *PostProcessor) (*api.PairTemplate, error) {
	template := &api.PairTemplate{}
	// Special tokens go to the prefix until sequence A is seen, then to the middle until B is seen,
	// then to the suffix.
	section := 0
	var seenA, seenB bool
	for _, item := range pp.Pair {
		switch {
		case item.Sequence != nil:
			switch item.Sequence.ID {
			case "A":
				if seenA || seenB {
					return nil, errors.New("TemplateProcessing pair template must have sequence A once, before B")
				}
				seenA = true
				template.TypeIDA = item.Sequence.TypeID
				section = 1
			case "B":
				if !seenA || seenB {
					return nil, errors.New("TemplateProcessing pair template must have sequence B once, after A")
				}
				seenB = true
				template.TypeIDB = item.Sequence.TypeID
				section = 2
			default:
				return nil, errors.Errorf("TemplateProcessing: unknown sequence id %q", item.Sequence.ID)
			}

		case item.SpecialToken != nil:
			ids, err := t.templateTokenIDs(pp, item.SpecialToken.ID)
			if err != nil {
				return nil, err
			}
			for _, id := range ids {
				switch section {
				case 0:
					template.Prefix = append(template.Prefix, id)
					template.PrefixTypeIDs = append(template.PrefixTypeIDs, item.SpecialToken.TypeID)
				case 1:
					template.Middle = append(template.Middle, id)
					template.MiddleTypeIDs = append(template.MiddleTypeIDs, item.SpecialToken.TypeID)
				default:
					template.Suffix = append(template.Suffix, id)
					template.SuffixTypeIDs = append(template.SuffixTypeIDs, item.SpecialToken.TypeID)
				}
			}
		}
	}
	if !seenA || !seenB {
		return nil, errors.New("TemplateProcessing pair template must reference both sequences A and B")
	}
	return template, nil
}

// templateTokenIDs resolves a special token named in a template: first from the post-processor's own
// "special_tokens" table, then from the vocabulary.
func (t *Tokenizer) templateTokenIDs(pp *PostProcessor, name string) ([]int, error) {
	if special, found := pp.SpecialTokens[name]; found && len(special.IDs) > 0 {
		return special.IDs, nil
	}
	if id, found := t.TokenToID(name); found {
		return []int{id}, nil
	}
	return nil, errors.Errorf("TemplateProcessing: special token %q not found", name)
}
