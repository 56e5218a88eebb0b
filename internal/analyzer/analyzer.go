package analyzer

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/KaramelBytes/admisi-cli/internal/catalog"
	"github.com/KaramelBytes/admisi-cli/internal/similarity"
)

const (
	// CatalogMatchThreshold is the header similarity needed to claim an expected key.
	CatalogMatchThreshold = 0.7
	// TypeSampleSize is how many leading non-empty values drive type inference.
	TypeSampleSize  = 20
	PhoneRateMin    = 0.7
	EmailRateMin    = 0.7
	NumericRateMin  = 0.8
	DateRateMin     = 0.7
	CategoricalMax  = 20
	CategoricalRate = 0.5
	SampleCount     = 5
	ValueCount      = 10
	// ContextCheckInterval is how many rows are scanned between cancellation checks.
	ContextCheckInterval = 100
)

// Options controls an analysis run.
type Options struct {
	Catalog  *catalog.Catalog
	Encoding string
	// Now is used for the upload timestamp; nil means time.Now.
	Now func() time.Time
}

// FieldAnalysis is the per-column diagnostic.
type FieldAnalysis struct {
	Header       string            `json:"header"`
	Column       int               `json:"column"`
	Type         catalog.FieldType `json:"type"`
	Required     bool              `json:"required"`
	FillRate     string            `json:"fillRate"`
	Unique       bool              `json:"unique"`
	Samples      []string          `json:"samples"`
	Pattern      string            `json:"pattern,omitempty"`
	Values       []string          `json:"values,omitempty"`
	Issues       []string          `json:"issues,omitempty"`
	TotalRecords int               `json:"totalRecords"`
	EmptyCount   int               `json:"emptyCount"`
	UniqueCount  int               `json:"uniqueCount"`
}

// FillPercent parses FillRate back into an integer percentage.
func (f *FieldAnalysis) FillPercent() int {
	n, _ := strconv.Atoi(strings.TrimSuffix(f.FillRate, "%"))
	return n
}

type Summary struct {
	TotalRecords int       `json:"totalRecords"`
	TotalFields  int       `json:"totalFields"`
	FileName     string    `json:"fileName"`
	FileSize     string    `json:"fileSize,omitempty"`
	UploadDate   time.Time `json:"uploadDate"`
}

type Metadata struct {
	ProcessingTimeMs int64  `json:"processingTime"`
	Confidence       int    `json:"confidence"`
	DetectedEncoding string `json:"detectedEncoding"`
}

// Result is the full structural report for one file. Fields is keyed by the
// matched expected key, or by header when nothing matched; Order lists those
// keys in column order.
type Result struct {
	Summary         Summary                   `json:"summary"`
	Fields          map[string]*FieldAnalysis `json:"fields"`
	Order           []string                  `json:"order"`
	Issues          []string                  `json:"issues"`
	Recommendations []string                  `json:"recommendations"`
	Metadata        Metadata                  `json:"metadata"`
}

// Analyze profiles every column of the matrix. The only error it returns is
// ctx's, checked every ContextCheckInterval rows.
func Analyze(ctx context.Context, headers []string, rows [][]string, fileName string, fileSize int64, opt Options) (*Result, error) {
	start := time.Now()
	cat := opt.Catalog
	if cat == nil {
		cat = catalog.Default()
	}
	now := time.Now
	if opt.Now != nil {
		now = opt.Now
	}
	encoding := opt.Encoding
	if encoding == "" {
		encoding = "UTF-8"
	}

	columns, err := splitColumns(ctx, headers, rows)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Summary: Summary{
			TotalRecords: len(rows),
			TotalFields:  len(headers),
			FileName:     fileName,
			UploadDate:   now().UTC(),
		},
		Fields:          make(map[string]*FieldAnalysis, len(headers)),
		Issues:          []string{},
		Recommendations: []string{},
	}
	if fileSize > 0 {
		res.Summary.FileSize = humanize.Bytes(uint64(fileSize))
	}

	claimed := map[string]bool{}
	for col, header := range headers {
		values := columns[col]
		inferred := inferType(values)
		st := computeStats(values, len(rows))

		key := header
		fa := &FieldAnalysis{
			Header:       header,
			Column:       col,
			Type:         inferred.kind,
			FillRate:     st.fillRate,
			Unique:       st.unique,
			Samples:      st.samples,
			TotalRecords: len(rows),
			EmptyCount:   st.emptyCount,
			UniqueCount:  st.uniqueCount,
		}
		if ef, ok := matchExpected(header, cat.Expected, claimed); ok {
			key = ef.Key
			fa.Type = ef.Type
			fa.Required = ef.Required
			claimed[ef.Key] = true
		}
		if fa.Type == catalog.TypePhone && inferred.pattern != "" {
			fa.Pattern = inferred.pattern
		}
		if fa.Type == catalog.TypeCategorical && st.uniqueCount <= CategoricalMax {
			fa.Values = firstN(st.distinct, ValueCount)
		}

		if fa.Required && st.emptyCount > 0 {
			fa.Issues = append(fa.Issues, fmt.Sprintf("%d missing values in required field", st.emptyCount))
		}
		if fa.Type == catalog.TypePhone {
			valid := 0
			for _, v := range values {
				if strings.TrimSpace(v) != "" && catalog.IsIndonesianPhone(v) {
					valid++
				}
			}
			if invalid := st.nonEmpty - valid; invalid > 0 {
				fa.Issues = append(fa.Issues, fmt.Sprintf("%d invalid phone number formats", invalid))
			}
		}

		if _, dup := res.Fields[key]; dup {
			key = fmt.Sprintf("%s#%d", key, col+1)
		}
		res.Fields[key] = fa
		res.Order = append(res.Order, key)
	}

	requiredTotal, requiredFound := 0, 0
	var missing []string
	for _, ef := range cat.Expected {
		if !ef.Required {
			continue
		}
		requiredTotal++
		if claimed[ef.Key] {
			requiredFound++
		} else {
			missing = append(missing, ef.Key)
		}
	}
	if len(missing) > 0 {
		res.Issues = append(res.Issues, "Missing required fields: "+strings.Join(missing, ", "))
	}
	var empty []string
	for _, k := range res.Order {
		if res.Fields[k].FillRate == "0%" {
			empty = append(empty, k)
		}
	}
	if len(empty) > 0 {
		res.Issues = append(res.Issues, "Empty fields: "+strings.Join(empty, ", "))
	}

	res.Recommendations = recommend(res)
	res.Metadata = Metadata{
		ProcessingTimeMs: time.Since(start).Milliseconds(),
		Confidence:       confidence(res, requiredFound, requiredTotal),
		DetectedEncoding: encoding,
	}
	return res, nil
}

func recommend(res *Result) []string {
	out := []string{}
	for _, k := range res.Order {
		fa := res.Fields[k]
		if fa.Type == catalog.TypePhone && hasIssue(fa, "invalid") {
			out = append(out, "Validate phone format for field: "+k)
		}
		if k == "pilihan2" && fa.FillRate != "100%" && fa.FillPercent() > 50 {
			out = append(out, fmt.Sprintf("Consider making pilihan2 required (%s filled)", fa.FillRate))
		}
		if fa.Type == catalog.TypeText && !fa.Unique && fa.Required {
			out = append(out, "Check for duplicate values in "+k)
		}
	}
	return out
}

// confidence = 100 × (0.6·requiredRatio + 0.4·meanFill), rounded.
func confidence(res *Result, found, total int) int {
	reqRatio := float64(found) / float64(max(total, 1))
	fill := 0.0
	if len(res.Order) > 0 {
		for _, k := range res.Order {
			fill += float64(res.Fields[k].FillPercent()) / 100
		}
		fill /= float64(len(res.Order))
	}
	return int(math.Round(100 * (0.6*reqRatio + 0.4*fill)))
}

func hasIssue(fa *FieldAnalysis, substr string) bool {
	for _, is := range fa.Issues {
		if strings.Contains(is, substr) {
			return true
		}
	}
	return false
}

// matchExpected finds the best unclaimed expected field for header.
func matchExpected(header string, expected []catalog.ExpectedField, claimed map[string]bool) (catalog.ExpectedField, bool) {
	var best catalog.ExpectedField
	bestScore := 0.0
	found := false
	for _, ef := range expected {
		if claimed[ef.Key] {
			continue
		}
		s := similarity.Best(header, ef.Patterns)
		if s > CatalogMatchThreshold && s > bestScore {
			best, bestScore, found = ef, s, true
		}
	}
	return best, found
}

// splitColumns transposes rows into columns, yielding to ctx periodically.
func splitColumns(ctx context.Context, headers []string, rows [][]string) ([][]string, error) {
	cols := make([][]string, len(headers))
	for i := range cols {
		cols[i] = make([]string, 0, len(rows))
	}
	for r, row := range rows {
		if r%ContextCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		for c := range headers {
			v := ""
			if c < len(row) {
				v = row[c]
			}
			cols[c] = append(cols[c], v)
		}
	}
	return cols, nil
}

type typeGuess struct {
	kind    catalog.FieldType
	pattern string
}

var (
	numericRe    = regexp.MustCompile(`^\d+(\.\d+)?$`)
	datePatterns = []*regexp.Regexp{
		regexp.MustCompile(`^\d{1,2}/\d{1,2}/\d{4}$`),
		regexp.MustCompile(`^\d{1,2}-\d{1,2}-\d{4}$`),
		regexp.MustCompile(`^\d{4}-\d{1,2}-\d{1,2}$`),
		regexp.MustCompile(`^\d{1,2}\s+\w+\s+\d{4}$`),
	}
)

// inferType classifies a column from its first TypeSampleSize non-empty values.
func inferType(values []string) typeGuess {
	var nonEmpty []string
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			nonEmpty = append(nonEmpty, v)
		}
	}
	if len(nonEmpty) == 0 {
		return typeGuess{kind: catalog.TypeText}
	}
	sample := firstN(nonEmpty, TypeSampleSize)
	var phone, email, numeric, date int
	for _, v := range sample {
		if catalog.IsIndonesianPhone(v) {
			phone++
		}
		if catalog.IsEmail(v) {
			email++
		}
		if numericRe.MatchString(v) {
			numeric++
		}
		if isDateString(v) {
			date++
		}
	}
	n := float64(len(sample))
	switch {
	case float64(phone)/n > PhoneRateMin:
		return typeGuess{kind: catalog.TypePhone, pattern: "Indonesian"}
	case float64(email)/n > EmailRateMin:
		return typeGuess{kind: catalog.TypeEmail}
	case float64(numeric)/n > NumericRateMin:
		return typeGuess{kind: catalog.TypeNumeric}
	case float64(date)/n > DateRateMin:
		return typeGuess{kind: catalog.TypeDate}
	}

	distinct := map[string]struct{}{}
	for _, v := range nonEmpty {
		distinct[strings.ToLower(v)] = struct{}{}
	}
	ratio := float64(len(distinct)) / float64(len(nonEmpty))
	if ratio <= CategoricalRate && len(distinct) <= CategoricalMax {
		return typeGuess{kind: catalog.TypeCategorical}
	}
	return typeGuess{kind: catalog.TypeText}
}

func isDateString(s string) bool {
	for _, re := range datePatterns {
		if re.MatchString(s) {
			return true
		}
	}
	_, ok := parseTimeMaybe(s)
	return ok
}

func parseTimeMaybe(s string) (time.Time, bool) {
	layouts := []string{
		time.RFC3339, "2006-01-02", "2006/01/02", "02/01/2006", "01/02/2006",
		"2006-01-02 15:04", "2006-01-02 15:04:05", "1/2/2006 15:04", "1/2/2006 15:04:05",
		"2 January 2006", "2 Jan 2006", "January 2, 2006", "Jan 2, 2006",
	}
	for _, l := range layouts {
		if t, err := time.Parse(l, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

type stats struct {
	fillRate    string
	nonEmpty    int
	emptyCount  int
	uniqueCount int
	unique      bool
	samples     []string
	distinct    []string
}

func computeStats(values []string, total int) stats {
	var st stats
	seen := map[string]bool{}
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		st.nonEmpty++
		if !seen[v] {
			seen[v] = true
			st.distinct = append(st.distinct, v)
		}
	}
	st.emptyCount = total - st.nonEmpty
	st.fillRate = "0%"
	if total > 0 {
		st.fillRate = fmt.Sprintf("%d%%", int(math.Round(float64(st.nonEmpty)*100/float64(total))))
	}
	st.uniqueCount = len(st.distinct)
	st.unique = st.nonEmpty > 0 && st.uniqueCount == st.nonEmpty
	st.samples = firstN(st.distinct, SampleCount)
	return st
}

func firstN(s []string, n int) []string {
	if len(s) > n {
		s = s[:n]
	}
	return append([]string{}, s...)
}
