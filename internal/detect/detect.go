// Package detect maps arbitrary source columns onto the target catalog using
// header similarity blended with a light content check.
package detect

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/KaramelBytes/admisi-cli/internal/catalog"
	"github.com/KaramelBytes/admisi-cli/internal/similarity"
)

const (
	// CandidateThreshold is the header similarity a target must exceed to be scored.
	CandidateThreshold = 0.3
	// BindThreshold is the blended confidence a candidate must exceed to bind.
	BindThreshold = 0.4
	// LowConfidenceThreshold marks mappings reported as warnings.
	LowConfidenceThreshold = 0.7
	HeaderWeight           = 0.8
	ContentWeight          = 0.2
	// ContentSampleSize caps the non-empty cells inspected per column.
	ContentSampleSize = 10
	SampleValueCount  = 5
	// OverrideConfidence is assigned to manually remapped columns.
	OverrideConfidence = 0.5
	// MaxReasonableTextLen bounds the lenient text check for fields without a validator.
	MaxReasonableTextLen = 200
)

// Mode selects how headers are assigned to targets.
type Mode int

const (
	// ModeGreedy walks headers left to right; the first header to clear the
	// bind threshold claims a target permanently.
	ModeGreedy Mode = iota
	// ModeBestFirst scores every header/target pair and assigns in descending
	// confidence order.
	ModeBestFirst
)

func (m Mode) String() string {
	switch m {
	case ModeBestFirst:
		return "best-first"
	default:
		return "greedy"
	}
}

// ParseMode accepts "greedy" or "best-first".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "greedy":
		return ModeGreedy, nil
	case "best-first", "bestfirst", "global":
		return ModeBestFirst, nil
	}
	return ModeGreedy, fmt.Errorf("unknown detection mode %q", s)
}

// Mapping binds one source column to one target key.
type Mapping struct {
	SourceColumn string   `json:"sourceColumn"`
	Column       int      `json:"column"`
	TargetField  string   `json:"targetField"`
	Confidence   float64  `json:"confidence"`
	SampleValues []string `json:"sampleValues"`
}

// Result is the outcome of one detection pass.
type Result struct {
	Headers         []string  `json:"headers"`
	Mappings        []Mapping `json:"mappings"`
	UnmappedColumns []string  `json:"unmappedColumns"`
	Confidence      float64   `json:"confidence"`
	Errors          []string  `json:"errors"`
	Warnings        []string  `json:"warnings"`

	samples [][]string
}

// Blocking reports whether required targets are still unmapped.
func (r *Result) Blocking() bool { return len(r.Errors) > 0 }

// MappingFor returns the mapping bound to target key, if any.
func (r *Result) MappingFor(key string) (Mapping, bool) {
	for _, m := range r.Mappings {
		if m.TargetField == key {
			return m, true
		}
	}
	return Mapping{}, false
}

// ColumnIndex returns the index of the first header equal to name, or -1.
func (r *Result) ColumnIndex(name string) int {
	for i, h := range r.Headers {
		if h == name {
			return i
		}
	}
	return -1
}

var (
	ErrUnknownTarget = errors.New("unknown target field")
	ErrUnknownColumn = errors.New("unknown source column")
)

// Detector holds the catalog used for detection.
type Detector struct {
	catalog *catalog.Catalog
	mode    Mode
}

// Option configures a Detector.
type Option func(*Detector)

// WithMode selects the assignment mode.
func WithMode(m Mode) Option {
	return func(d *Detector) { d.mode = m }
}

// New returns a Detector over cat. A nil catalog means catalog.Default().
func New(cat *catalog.Catalog, opts ...Option) *Detector {
	if cat == nil {
		cat = catalog.Default()
	}
	d := &Detector{catalog: cat}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Catalog returns the catalog the detector was built with.
func (d *Detector) Catalog() *catalog.Catalog { return d.catalog }

// Detect maps headers onto the target catalog. rows may be empty, in which
// case only header similarity contributes.
func (d *Detector) Detect(headers []string, rows [][]string) *Result {
	res := &Result{
		Headers: append([]string(nil), headers...),
		samples: make([][]string, len(headers)),
	}
	values := make([][]string, len(headers))
	for i := range headers {
		values[i] = columnValues(rows, i)
		res.samples[i] = firstN(values[i], SampleValueCount)
	}

	switch d.mode {
	case ModeBestFirst:
		d.assignBestFirst(res, values)
	default:
		d.assignGreedy(res, values)
	}
	d.finalize(res)
	return res
}

func (d *Detector) assignGreedy(res *Result, values [][]string) {
	mapped := map[string]bool{}
	for col, header := range res.Headers {
		var best *catalog.TargetField
		bestConf := 0.0
		for i := range d.catalog.Targets {
			tf := &d.catalog.Targets[i]
			if mapped[tf.Key] {
				continue
			}
			conf, ok := score(header, values[col], *tf)
			if !ok {
				continue
			}
			if best == nil || conf > bestConf {
				best, bestConf = tf, conf
			}
		}
		if best != nil && bestConf > BindThreshold {
			res.Mappings = append(res.Mappings, res.newMapping(col, best.Key, bestConf))
			mapped[best.Key] = true
		}
	}
}

type pair struct {
	col    int
	target int
	conf   float64
}

func (d *Detector) assignBestFirst(res *Result, values [][]string) {
	var pairs []pair
	for col, header := range res.Headers {
		for ti, tf := range d.catalog.Targets {
			conf, ok := score(header, values[col], tf)
			if ok && conf > BindThreshold {
				pairs = append(pairs, pair{col: col, target: ti, conf: conf})
			}
		}
	}
	sort.SliceStable(pairs, func(i, j int) bool { return pairs[i].conf > pairs[j].conf })

	usedCol := map[int]bool{}
	usedTarget := map[int]bool{}
	for _, p := range pairs {
		if usedCol[p.col] || usedTarget[p.target] {
			continue
		}
		usedCol[p.col] = true
		usedTarget[p.target] = true
		res.Mappings = append(res.Mappings, res.newMapping(p.col, d.catalog.Targets[p.target].Key, p.conf))
	}
	sortByColumn(res.Mappings)
}

// score blends header and content scores. ok is false when the header
// similarity does not clear CandidateThreshold.
func score(header string, values []string, tf catalog.TargetField) (float64, bool) {
	hs := similarity.Best(header, tf.Patterns)
	if hs <= CandidateThreshold {
		return 0, false
	}
	return HeaderWeight*hs + ContentWeight*contentScore(values, tf), true
}

// contentScore is the fraction of the first ContentSampleSize non-empty values
// that pass the target's validator, or that look like reasonable text when it
// has none.
func contentScore(values []string, tf catalog.TargetField) float64 {
	n := len(values)
	if n > ContentSampleSize {
		n = ContentSampleSize
	}
	if n == 0 {
		return 0
	}
	valid := 0
	for _, v := range values[:n] {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if tf.Validator != catalog.ValidatorNone {
			if tf.Validate(v) {
				valid++
			}
			continue
		}
		if l := utf8.RuneCountInString(v); l > 0 && l < MaxReasonableTextLen {
			valid++
		}
	}
	return float64(valid) / float64(n)
}

// Remap manually binds column to targetKey. An empty targetKey unmaps the
// column. A target already held by another column is released from it.
func (d *Detector) Remap(res *Result, column int, targetKey string) error {
	if column < 0 || column >= len(res.Headers) {
		return fmt.Errorf("%w: %d", ErrUnknownColumn, column)
	}
	if targetKey != "" {
		if _, ok := d.catalog.Target(targetKey); !ok {
			return fmt.Errorf("%w: %s", ErrUnknownTarget, targetKey)
		}
	}

	kept := make([]Mapping, 0, len(res.Mappings))
	for _, m := range res.Mappings {
		if m.Column == column {
			if m.TargetField == targetKey {
				return nil
			}
			continue
		}
		if targetKey != "" && m.TargetField == targetKey {
			continue
		}
		kept = append(kept, m)
	}
	if targetKey != "" {
		kept = append(kept, res.newMapping(column, targetKey, OverrideConfidence))
	}
	sortByColumn(kept)
	res.Mappings = kept
	d.finalize(res)
	return nil
}

// RemapByName resolves sourceColumn to the first header with that text.
func (d *Detector) RemapByName(res *Result, sourceColumn, targetKey string) error {
	idx := res.ColumnIndex(sourceColumn)
	if idx < 0 {
		return fmt.Errorf("%w: %q", ErrUnknownColumn, sourceColumn)
	}
	return d.Remap(res, idx, targetKey)
}

// finalize recomputes unmapped columns, errors, warnings and the aggregate
// confidence from the current mappings.
func (d *Detector) finalize(res *Result) {
	if res.Mappings == nil {
		res.Mappings = []Mapping{}
	}
	mappedCol := map[int]bool{}
	mappedKey := map[string]bool{}
	sum := 0.0
	for _, m := range res.Mappings {
		mappedCol[m.Column] = true
		mappedKey[m.TargetField] = true
		sum += m.Confidence
	}

	res.UnmappedColumns = []string{}
	for i, h := range res.Headers {
		if !mappedCol[i] {
			res.UnmappedColumns = append(res.UnmappedColumns, h)
		}
	}

	res.Errors = []string{}
	for _, tf := range d.catalog.Targets {
		if tf.Required && !mappedKey[tf.Key] {
			res.Errors = append(res.Errors, fmt.Sprintf("required field '%s' not found in headers", tf.Key))
		}
	}

	res.Warnings = []string{}
	for _, m := range res.Mappings {
		if m.Confidence < LowConfidenceThreshold {
			res.Warnings = append(res.Warnings, fmt.Sprintf("low confidence mapping: '%s' -> '%s' (%d%%)",
				m.SourceColumn, m.TargetField, int(math.Round(m.Confidence*100))))
		}
	}

	res.Confidence = 0
	if len(res.Mappings) > 0 {
		res.Confidence = sum / float64(len(res.Mappings))
	}
}

func (r *Result) newMapping(col int, key string, conf float64) Mapping {
	var samples []string
	if col < len(r.samples) {
		samples = append([]string{}, r.samples[col]...)
	}
	if samples == nil {
		samples = []string{}
	}
	return Mapping{
		SourceColumn: r.Headers[col],
		Column:       col,
		TargetField:  key,
		Confidence:   conf,
		SampleValues: samples,
	}
}

func sortByColumn(ms []Mapping) {
	sort.SliceStable(ms, func(i, j int) bool { return ms[i].Column < ms[j].Column })
}

func columnValues(rows [][]string, col int) []string {
	var out []string
	for _, row := range rows {
		if col < len(row) && row[col] != "" {
			out = append(out, row[col])
		}
	}
	return out
}

func firstN(s []string, n int) []string {
	if len(s) > n {
		s = s[:n]
	}
	return append([]string{}, s...)
}
