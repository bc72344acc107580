// Package importer reads observations and base fractions from CSV exports.
// Columns are located by header name; ',' and ';' separated files are both
// accepted.
package importer

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"mixsearch/internal/models"
)

var (
	observationCols = []string{"equipment_name", "data_type", "sample_number", "value"}
	fractionCols    = []string{"sample_number", "f0", "f1", "f2", "f3", "f4", "f5", "f6"}
)

// ReadObservations parses rows of equipment_name,data_type,sample_number,value.
func ReadObservations(r io.Reader) ([]models.Observation, error) {
	t, err := open(r, observationCols)
	if err != nil {
		return nil, err
	}
	idx := t.idx
	var out []models.Observation
	for {
		rec, line, err := t.next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		sample, err := parseSample(rec[idx["sample_number"]])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		v, err := parseFloat(rec[idx["value"]])
		if err != nil {
			return nil, fmt.Errorf("line %d: value: %w", line, err)
		}
		o := models.Observation{
			Equipment: strings.TrimSpace(rec[idx["equipment_name"]]),
			DataType:  strings.TrimSpace(rec[idx["data_type"]]),
			Sample:    sample,
			Value:     v,
		}
		if o.Equipment == "" || o.DataType == "" {
			return nil, fmt.Errorf("line %d: equipment_name and data_type are required", line)
		}
		out = append(out, o)
	}
	return out, nil
}

// ReadFractions parses rows of sample_number,f0..f6. A sample listed twice
// is an error.
func ReadFractions(r io.Reader) (map[int]models.Fractions, error) {
	t, err := open(r, fractionCols)
	if err != nil {
		return nil, err
	}
	idx := t.idx
	out := make(map[int]models.Fractions)
	for {
		rec, line, err := t.next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		sample, err := parseSample(rec[idx["sample_number"]])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if _, dup := out[sample]; dup {
			return nil, fmt.Errorf("line %d: sample %d listed twice", line, sample)
		}
		var f models.Fractions
		for i := range f {
			col := fractionCols[i+1]
			v, err := parseFloat(rec[idx[col]])
			if err != nil {
				return nil, fmt.Errorf("line %d: %s: %w", line, col, err)
			}
			f[i] = v
		}
		out[sample] = f
	}
	return out, nil
}

type table struct {
	rd   *csv.Reader
	idx  map[string]int
	need int
}

// next returns the next non-blank record and its line number.
func (t *table) next() ([]string, int, error) {
	for {
		rec, err := t.rd.Read()
		if err != nil {
			return nil, 0, err
		}
		line, _ := t.rd.FieldPos(0)
		if blank(rec) {
			continue
		}
		if len(rec) < t.need {
			return nil, line, fmt.Errorf("line %d: %d fields, want at least %d", line, len(rec), t.need)
		}
		return rec, line, nil
	}
}

// open sniffs the separator from the header line and maps the wanted
// column names (case-insensitive) to their positions.
func open(r io.Reader, want []string) (*table, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(4096)
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		return nil, err
	}
	if i := bytes.IndexByte(head, '\n'); i >= 0 {
		head = head[:i]
	}
	rd := csv.NewReader(br)
	if bytes.Count(head, []byte{';'}) > bytes.Count(head, []byte{','}) {
		rd.Comma = ';'
	}
	rd.TrimLeadingSpace = true
	rd.FieldsPerRecord = -1
	header, err := rd.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("empty input, want header %s", strings.Join(want, ","))
	}
	if err != nil {
		return nil, err
	}
	pos := make(map[string]int, len(header))
	for i, h := range header {
		pos[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	idx := make(map[string]int, len(want))
	var missing []string
	for _, w := range want {
		i, ok := pos[w]
		if !ok {
			missing = append(missing, w)
			continue
		}
		idx[w] = i
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("header missing columns: %s", strings.Join(missing, ", "))
	}
	maxCol := 0
	for _, i := range idx {
		maxCol = max(maxCol, i)
	}
	return &table{rd: rd, idx: idx, need: maxCol + 1}, nil
}

func blank(rec []string) bool {
	for _, f := range rec {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

func parseSample(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("sample_number %q: %w", s, err)
	}
	return n, nil
}

// parseFloat accepts a decimal comma and rejects NaN and infinities.
func parseFloat(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if strings.Count(s, ",") == 1 && !strings.Contains(s, ".") {
		s = strings.Replace(s, ",", ".", 1)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%q is not a finite number", s)
	}
	return v, nil
}
