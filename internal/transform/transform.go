// Package transform applies confirmed mappings to produce canonical records
// and partitions them into valid and invalid sets.
package transform

import (
	"fmt"
	"sort"
	"strings"

	"github.com/KaramelBytes/admisi-cli/internal/catalog"
	"github.com/KaramelBytes/admisi-cli/internal/detect"
)

// Record maps target field keys to normalized values.
type Record map[string]string

// InvalidRecord pairs a record with the rules it violated.
type InvalidRecord struct {
	Index  int      `json:"index"`
	Record Record   `json:"record"`
	Errors []string `json:"errors"`
}

// Result is the valid/invalid split produced by Validate.
type Result struct {
	Valid        []Record        `json:"valid"`
	ValidIndexes []int           `json:"validIndexes"`
	Invalid      []InvalidRecord `json:"invalid"`
}

// Blocking reports whether any record failed validation.
func (r *Result) Blocking() bool { return len(r.Invalid) > 0 }

// Summary counts violations by message, most frequent first.
func (r *Result) Summary() []ViolationCount {
	counts := map[string]int{}
	for _, inv := range r.Invalid {
		for _, e := range inv.Errors {
			counts[e]++
		}
	}
	out := make([]ViolationCount, 0, len(counts))
	for msg, n := range counts {
		out = append(out, ViolationCount{Message: msg, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count == out[j].Count {
			return out[i].Message < out[j].Message
		}
		return out[i].Count > out[j].Count
	})
	return out
}

type ViolationCount struct {
	Message string `json:"message"`
	Count   int    `json:"count"`
}

// Transform copies mapped cells into canonical records. Values for targets
// with the phone validator are normalized; everything else is copied as is.
func Transform(rows [][]string, headers []string, mappings []detect.Mapping, cat *catalog.Catalog) []Record {
	if cat == nil {
		cat = catalog.Default()
	}
	type binding struct {
		col   int
		key   string
		phone bool
	}
	var binds []binding
	for _, m := range mappings {
		col := resolveColumn(headers, m)
		if col < 0 {
			continue
		}
		tf, _ := cat.Target(m.TargetField)
		binds = append(binds, binding{col: col, key: m.TargetField, phone: tf.Validator == catalog.ValidatorPhone})
	}

	out := make([]Record, 0, len(rows))
	for _, row := range rows {
		rec := Record{}
		for _, b := range binds {
			v := ""
			if b.col < len(row) {
				v = row[b.col]
			}
			if b.phone {
				v = NormalizePhone(v)
			}
			rec[b.key] = v
		}
		out = append(out, rec)
	}
	return out
}

// resolveColumn prefers the mapping's column index and falls back to the
// first header with matching text.
func resolveColumn(headers []string, m detect.Mapping) int {
	if m.Column >= 0 && m.Column < len(headers) && headers[m.Column] == m.SourceColumn {
		return m.Column
	}
	for i, h := range headers {
		if h == m.SourceColumn {
			return i
		}
	}
	return -1
}

// NormalizePhone canonicalizes an Indonesian phone number to +62 form. Bare
// digit strings of 10 or more digits are assumed to be national numbers.
func NormalizePhone(v string) string {
	v = catalog.StripPhone(v)
	switch {
	case strings.HasPrefix(v, "0"):
		return "+62" + v[1:]
	case strings.HasPrefix(v, "62"):
		return "+" + v
	case !strings.HasPrefix(v, "+") && len(v) >= 10:
		return "+62" + v
	}
	return v
}

// Validate checks every record against the catalog targets.
func Validate(records []Record, cat *catalog.Catalog) Result {
	if cat == nil {
		cat = catalog.Default()
	}
	res := Result{Valid: []Record{}, ValidIndexes: []int{}, Invalid: []InvalidRecord{}}
	for i, rec := range records {
		var errs []string
		for _, tf := range cat.Targets {
			v := rec[tf.Key]
			if tf.Required && strings.TrimSpace(v) == "" {
				errs = append(errs, fmt.Sprintf("missing required field: %s", tf.Key))
			}
			if v != "" && !tf.Validate(v) {
				errs = append(errs, fmt.Sprintf("invalid format for field: %s", tf.Key))
			}
		}
		if len(errs) == 0 {
			res.Valid = append(res.Valid, rec)
			res.ValidIndexes = append(res.ValidIndexes, i)
			continue
		}
		res.Invalid = append(res.Invalid, InvalidRecord{Index: i, Record: rec, Errors: errs})
	}
	return res
}
