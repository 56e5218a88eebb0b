package ingest

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

type csvParser struct{}

func (csvParser) CanParse(filename string) bool {
	name := strings.ToLower(filename)
	return strings.HasSuffix(name, ".csv") || strings.HasSuffix(name, ".tsv")
}

func (csvParser) Parse(data []byte) (*Table, error) {
	encoding := encodingUTF8
	if bytes.HasPrefix(data, utf8BOM) {
		data = data[len(utf8BOM):]
		encoding = encodingUTF8BOM
	}
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true
	r.Comma = sniffDelimiter(data)

	var records [][]string
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		records = append(records, rec)
	}
	t, err := buildTable(records, "csv")
	if err != nil {
		return nil, err
	}
	t.Encoding = encoding
	return t, nil
}

// sniffDelimiter picks among ',', ';' and '\t' by counting occurrences on the
// first non-blank line outside of quotes. Comma wins ties.
func sniffDelimiter(data []byte) rune {
	line := firstLine(data)
	counts := map[rune]int{}
	inQuotes := false
	for _, r := range line {
		switch {
		case r == '"':
			inQuotes = !inQuotes
		case !inQuotes && (r == ',' || r == ';' || r == '\t'):
			counts[r]++
		}
	}
	best := ','
	for _, d := range []rune{';', '\t'} {
		if counts[d] > counts[best] {
			best = d
		}
	}
	return best
}

func firstLine(data []byte) string {
	for _, l := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(l) != "" {
			return l
		}
	}
	return ""
}
