package analyzer

import (
	"fmt"
	"strings"

	"github.com/KaramelBytes/admisi-cli/internal/catalog"
)

const (
	// MinConfidence is the overall confidence below which a report is flagged.
	MinConfidence = 50
	// MinRequiredFill is the fill percentage required fields should reach.
	MinRequiredFill = 80
)

// Validation summarizes whether an analysis looks usable.
type Validation struct {
	IsValid  bool     `json:"isValid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// Validate checks an analysis result against the expected catalog.
func Validate(res *Result, cat *catalog.Catalog) Validation {
	if cat == nil {
		cat = catalog.Default()
	}
	v := Validation{Errors: []string{}, Warnings: []string{}}

	found := 0
	for _, ef := range cat.RequiredExpected() {
		if _, ok := res.Fields[ef.Key]; ok {
			found++
		}
	}
	if found == 0 {
		v.Errors = append(v.Errors, "No required fields detected in the file")
	}
	if res.Summary.TotalRecords == 0 {
		v.Errors = append(v.Errors, "No data records found in the file")
	}
	if res.Metadata.Confidence < MinConfidence {
		v.Warnings = append(v.Warnings, fmt.Sprintf("Low confidence analysis (%d%%)", res.Metadata.Confidence))
	}
	for _, k := range res.Order {
		fa := res.Fields[k]
		if fa.Required && fa.FillPercent() < MinRequiredFill {
			v.Warnings = append(v.Warnings, fmt.Sprintf("Required field %s has low fill rate (%s)", k, fa.FillRate))
		}
	}
	v.IsValid = len(v.Errors) == 0
	return v
}

// Markdown renders a compact report for terminals and docs.
func (r *Result) Markdown() string {
	var b strings.Builder
	b.WriteString("[FILE SUMMARY]\n")
	if r.Summary.FileName != "" {
		b.WriteString(fmt.Sprintf("File: %s", r.Summary.FileName))
		if r.Summary.FileSize != "" {
			b.WriteString(fmt.Sprintf(" (%s)", r.Summary.FileSize))
		}
		b.WriteString("\n")
	}
	b.WriteString(fmt.Sprintf("Records: %d\n", r.Summary.TotalRecords))
	b.WriteString(fmt.Sprintf("Fields: %d\n", r.Summary.TotalFields))
	b.WriteString(fmt.Sprintf("Confidence: %d%%\n", r.Metadata.Confidence))
	if r.Metadata.DetectedEncoding != "" {
		b.WriteString(fmt.Sprintf("Encoding: %s\n", r.Metadata.DetectedEncoding))
	}

	b.WriteString("\n[FIELDS]\n")
	for _, k := range r.Order {
		fa := r.Fields[k]
		name := safeName(k)
		if fa.Header != k {
			name = fmt.Sprintf("%s <- %s", name, safeName(fa.Header))
		}
		b.WriteString(fmt.Sprintf("- %s: %s", name, fa.Type))
		if fa.Pattern != "" {
			b.WriteString(fmt.Sprintf(" [%s]", fa.Pattern))
		}
		if fa.Required {
			b.WriteString(", required")
		}
		b.WriteString(fmt.Sprintf(" (fill %s, empty %d, distinct %d", fa.FillRate, fa.EmptyCount, fa.UniqueCount))
		if fa.Unique {
			b.WriteString(", unique")
		}
		b.WriteString(")")
		if len(fa.Values) > 0 {
			b.WriteString(" — values: ")
			writeJoined(&b, fa.Values, ", ")
		} else if len(fa.Samples) > 0 {
			b.WriteString(" — e.g., ")
			writeJoined(&b, fa.Samples, " | ")
		}
		b.WriteString("\n")
		for _, is := range fa.Issues {
			b.WriteString(fmt.Sprintf("  • %s\n", is))
		}
	}

	if len(r.Issues) > 0 {
		b.WriteString("\n[ISSUES]\n")
		for _, is := range r.Issues {
			b.WriteString("- ")
			b.WriteString(is)
			b.WriteString("\n")
		}
	}
	if len(r.Recommendations) > 0 {
		b.WriteString("\n[RECOMMENDATIONS]\n")
		for _, rec := range r.Recommendations {
			b.WriteString("- ")
			b.WriteString(rec)
			b.WriteString("\n")
		}
	}
	return b.String()
}

func writeJoined(b *strings.Builder, vals []string, sep string) {
	for i, v := range vals {
		if i > 0 {
			b.WriteString(sep)
		}
		if len(v) > 80 {
			v = v[:77] + "..."
		}
		b.WriteString(safeVal(v))
	}
}

func safeName(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "(unnamed)"
	}
	return s
}
func safeVal(s string) string { return strings.ReplaceAll(strings.ReplaceAll(s, "\n", " "), "|", "/") }
