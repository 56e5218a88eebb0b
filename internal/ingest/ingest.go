package ingest

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Table is the uniform matrix produced from an uploaded file. Every row has
// exactly len(Headers) cells.
type Table struct {
	Headers  []string   `json:"headers"`
	Rows     [][]string `json:"rows"`
	FileType string     `json:"fileType"`
	FileName string     `json:"fileName"`
	Size     int64      `json:"size"`
	Encoding string     `json:"encoding"`
}

// Parser defines a tabular file parser implementation.
type Parser interface {
	CanParse(filename string) bool
	Parse(content []byte) (*Table, error)
}

var registry []Parser

// Register adds a parser implementation to the registry.
func Register(p Parser) {
	registry = append(registry, p)
}

var (
	// ErrUnsupported indicates a file type with no registered parser.
	ErrUnsupported = errors.New("unsupported file format")
	// ErrEmptyFile is returned when a file has no bytes or only blank rows.
	ErrEmptyFile = errors.New("file is empty")
	// ErrNoHeaders is returned when the header row has no non-empty cell.
	ErrNoHeaders = errors.New("no headers found")
)

const (
	encodingUTF8    = "UTF-8"
	encodingUTF8BOM = "UTF-8 (BOM)"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ParseFile reads path and parses it with the first parser that accepts its name.
func ParseFile(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return ParseBytes(filepath.Base(path), data)
}

// ParseBytes parses in-memory content; name is only used to select a parser
// and to label the result.
func ParseBytes(name string, data []byte) (*Table, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrEmptyFile
	}
	for _, p := range registry {
		if !p.CanParse(name) {
			continue
		}
		t, err := p.Parse(data)
		if err != nil {
			return nil, err
		}
		t.FileName = filepath.Base(name)
		t.Size = int64(len(data))
		return t, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupported, filepath.Ext(name))
}

// Supported reports whether some registered parser accepts name.
func Supported(name string) bool {
	for _, p := range registry {
		if p.CanParse(name) {
			return true
		}
	}
	return false
}

func init() {
	Register(csvParser{})
	Register(xlsxParser{})
}

// buildTable turns raw records into a Table. The first record that is not a
// whitespace-only line is the header row; header columns that are empty are
// dropped along with their cells.
func buildTable(records [][]string, fileType string) (*Table, error) {
	start := -1
	for i, rec := range records {
		if len(rec) > 1 || !blank(rec) {
			start = i
			break
		}
	}
	if start < 0 {
		return nil, ErrEmptyFile
	}

	var keep []int
	var headers []string
	for i, h := range records[start] {
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}
		keep = append(keep, i)
		headers = append(headers, h)
	}
	if len(headers) == 0 {
		return nil, ErrNoHeaders
	}

	rows := make([][]string, 0, len(records)-start-1)
	for _, rec := range records[start+1:] {
		if blank(rec) {
			continue
		}
		row := make([]string, len(keep))
		for j, idx := range keep {
			if idx < len(rec) {
				row[j] = strings.TrimSpace(rec[idx])
			}
		}
		if blank(row) {
			continue
		}
		rows = append(rows, row)
	}
	return &Table{Headers: headers, Rows: rows, FileType: fileType, Encoding: encodingUTF8}, nil
}

func blank(rec []string) bool {
	for _, c := range rec {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
