// Package dataset loads question answering examples and writes feature tables.
//
// Examples can be read from SQuAD v1.1/v2.0 JSON files and from JSON Lines files in the layout of
// HuggingFace datasets. Feature tables are written as Parquet or JSON Lines files.
package dataset

import (
	"encoding/json"
	"io"
	"os"

	"github.com/gomlx/qafeatures/features"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/exp/mmap"
	"k8s.io/klog/v2"
)

// squadFile is the layout of SQuAD v1.1 and v2.0 files.
type squadFile struct {
	Version string `json:"version"`
	Data    []struct {
		Title      string `json:"title"`
		Paragraphs []struct {
			Context string `json:"context"`
			Qas     []struct {
				ID           string            `json:"id"`
				Question     string            `json:"question"`
				Answers      []features.Answer `json:"answers"`
				IsImpossible bool              `json:"is_impossible"`
			} `json:"qas"`
		} `json:"paragraphs"`
	} `json:"data"`
}

// LoadSQuAD reads the examples of a SQuAD v1.1 or v2.0 JSON file, in file order.
//
// Unanswerable questions (is_impossible) have no answers. Questions without an id get a random UUID.
func LoadSQuAD(filePath string) ([]features.Example, error) {
	reader, err := mmap.Open(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open SQuAD file %q", filePath)
	}
	defer func() { _ = reader.Close() }()

	var squad squadFile
	dec := json.NewDecoder(io.NewSectionReader(reader, 0, int64(reader.Len())))
	if err := dec.Decode(&squad); err != nil {
		return nil, errors.Wrapf(err, "failed to parse SQuAD file %q", filePath)
	}

	var examples []features.Example
	for _, article := range squad.Data {
		for _, paragraph := range article.Paragraphs {
			for _, qa := range paragraph.Qas {
				ex := features.Example{
					ID:       qa.ID,
					Question: qa.Question,
					Context:  paragraph.Context,
				}
				if !qa.IsImpossible {
					ex.Answers = qa.Answers
				}
				if ex.ID == "" {
					ex.ID = uuid.NewString()
				}
				examples = append(examples, ex)
			}
		}
	}
	klog.V(1).Infof("loaded %d examples from SQuAD %s file %q", len(examples), squad.Version, filePath)
	return examples, nil
}

// Columns names the fields of a JSON Lines record holding each part of an example.
type Columns struct {
	ID       string `json:"id"`
	Question string `json:"question"`
	Context  string `json:"context"`
	Answers  string `json:"answers"`
}

// DefaultColumns are the names used by SQuAD in HuggingFace datasets.
var DefaultColumns = Columns{ID: "id", Question: "question", Context: "context", Answers: "answers"}

// withDefaults returns columns with empty names replaced by the DefaultColumns.
func (c Columns) withDefaults() Columns {
	if c.ID == "" {
		c.ID = DefaultColumns.ID
	}
	if c.Question == "" {
		c.Question = DefaultColumns.Question
	}
	if c.Context == "" {
		c.Context = DefaultColumns.Context
	}
	if c.Answers == "" {
		c.Answers = DefaultColumns.Answers
	}
	return c
}

// LoadJSONL reads one example per JSON record, using the DefaultColumns. See LoadJSONLWithColumns.
func LoadJSONL(r io.Reader) ([]features.Example, error) {
	return LoadJSONLWithColumns(r, DefaultColumns)
}

// LoadJSONLFile reads the examples of a JSON Lines file, using the DefaultColumns.
func LoadJSONLFile(filePath string) ([]features.Example, error) {
	return LoadJSONLFileWithColumns(filePath, DefaultColumns)
}

// LoadJSONLFileWithColumns reads the examples of a JSON Lines file. See LoadJSONLWithColumns.
func LoadJSONLFileWithColumns(filePath string, columns Columns) ([]features.Example, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open examples file %q", filePath)
	}
	defer func() { _ = f.Close() }()
	examples, err := LoadJSONLWithColumns(f, columns)
	if err != nil {
		return nil, errors.WithMessagef(err, "while reading %q", filePath)
	}
	klog.V(1).Infof("loaded %d examples from %q", len(examples), filePath)
	return examples, nil
}

// LoadJSONLWithColumns reads one example per JSON record.
//
// The answers field can either be in the HuggingFace datasets layout, {"answer_start": [...], "text": [...]},
// or a list of {"answer_start": ..., "text": ...} objects. A missing or null answers field means unanswerable.
// Records without an id get a random UUID. Empty column names take the DefaultColumns value.
func LoadJSONLWithColumns(r io.Reader, columns Columns) ([]features.Example, error) {
	columns = columns.withDefaults()
	dec := json.NewDecoder(r)
	var examples []features.Example
	for dec.More() {
		var record map[string]json.RawMessage
		if err := dec.Decode(&record); err != nil {
			return nil, errors.Wrapf(err, "failed to parse record #%d", len(examples))
		}
		ex, err := parseRecord(record, columns)
		if err != nil {
			return nil, errors.WithMessagef(err, "record #%d", len(examples))
		}
		examples = append(examples, ex)
	}
	return examples, nil
}

func parseRecord(record map[string]json.RawMessage, columns Columns) (features.Example, error) {
	var ex features.Example
	for _, field := range []struct {
		name     string
		dst      *string
		required bool
	}{
		{columns.ID, &ex.ID, false},
		{columns.Question, &ex.Question, true},
		{columns.Context, &ex.Context, true},
	} {
		raw, found := record[field.name]
		if !found {
			if field.required {
				return ex, errors.Errorf("missing field %q", field.name)
			}
			continue
		}
		if err := json.Unmarshal(raw, field.dst); err != nil {
			return ex, errors.Wrapf(err, "field %q must be a string", field.name)
		}
	}
	if ex.ID == "" {
		ex.ID = uuid.NewString()
	}

	var err error
	ex.Answers, err = parseAnswers(record[columns.Answers])
	if err != nil {
		return ex, errors.WithMessagef(err, "field %q", columns.Answers)
	}
	return ex, nil
}

func parseAnswers(raw json.RawMessage) ([]features.Answer, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	if raw[0] == '[' {
		var answers []features.Answer
		if err := json.Unmarshal(raw, &answers); err != nil {
			return nil, errors.Wrapf(err, "invalid list of answers")
		}
		return answers, nil
	}
	var columnar struct {
		AnswerStart []int    `json:"answer_start"`
		Text        []string `json:"text"`
	}
	if err := json.Unmarshal(raw, &columnar); err != nil {
		return nil, errors.Wrapf(err, "answers must be a list or an {\"answer_start\", \"text\"} object")
	}
	if len(columnar.AnswerStart) != len(columnar.Text) {
		return nil, errors.Errorf("answers have %d answer_start values but %d text values",
			len(columnar.AnswerStart), len(columnar.Text))
	}
	if len(columnar.Text) == 0 {
		return nil, nil
	}
	answers := make([]features.Answer, len(columnar.Text))
	for i := range answers {
		answers[i] = features.Answer{Start: columnar.AnswerStart[i], Text: columnar.Text[i]}
	}
	return answers, nil
}
