// Package dataprep converts raw labelled text into the CSV and JSON example
// formats used to seed indexes and classifiers.
package dataprep

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Example is one labelled text.
type Example struct {
	Text  string `json:"text"`
	Label string `json:"label"`
}

// LabelColumnStart is the first label column of a GoEmotions CSV export.
const LabelColumnStart = 8

// PairsToCSV reads alternating text and label lines and writes them as a
// "text,label" CSV. A trailing text line without a label is dropped. It
// returns the number of rows written.
func PairsToCSV(r io.Reader, w io.Writer) (int, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"text", "label"}); err != nil {
		return 0, err
	}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	var (
		text    string
		hasText bool
		rows    int
	)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), " \t\r")
		if !hasText {
			text, hasText = line, true
			continue
		}
		if err := cw.Write([]string{text, line}); err != nil {
			return rows, err
		}
		rows++
		hasText = false
	}
	if err := sc.Err(); err != nil {
		return rows, fmt.Errorf("read pairs: %w", err)
	}
	cw.Flush()
	return rows, cw.Error()
}

// EmotionsToExamples reads a GoEmotions-style CSV (text in column 0, one
// boolean column per label from LabelColumnStart) and returns one Example
// per set label. A cell is set when it is "True" or "1".
func EmotionsToExamples(r io.Reader) ([]Example, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, errors.New("emotions csv is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if len(header) <= LabelColumnStart {
		return nil, fmt.Errorf("emotions csv has %d columns, labels start at column %d", len(header), LabelColumnStart)
	}
	labels := header[LabelColumnStart:]

	var out []Example
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		if len(row) == 0 {
			continue
		}
		for i, label := range labels {
			col := LabelColumnStart + i
			if col >= len(row) {
				break
			}
			if v := strings.TrimSpace(row[col]); v == "True" || v == "1" {
				out = append(out, Example{Text: row[0], Label: label})
			}
		}
	}
}

// WriteExamples writes {"examples": [...]} with one example per line.
func WriteExamples(w io.Writer, examples []Example) error {
	if examples == nil {
		examples = []Example{}
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "\t")
	return enc.Encode(struct {
		Examples []Example `json:"examples"`
	}{examples})
}

// ReadExamples reads examples written by WriteExamples. A bare JSON array
// of examples is accepted too. Examples with empty text or label are
// rejected.
func ReadExamples(r io.Reader) ([]Example, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var examples []Example
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		err = json.Unmarshal(data, &examples)
	} else {
		var doc struct {
			Examples []Example `json:"examples"`
		}
		err = json.Unmarshal(data, &doc)
		examples = doc.Examples
	}
	if err != nil {
		return nil, fmt.Errorf("decode examples: %w", err)
	}
	for i, ex := range examples {
		if strings.TrimSpace(ex.Text) == "" || strings.TrimSpace(ex.Label) == "" {
			return nil, fmt.Errorf("example %d: text and label are required", i)
		}
	}
	return examples, nil
}
