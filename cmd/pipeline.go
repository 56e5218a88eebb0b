package cmd

import (
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/pflag"

	"github.com/KaramelBytes/admisi-cli/internal/catalog"
	"github.com/KaramelBytes/admisi-cli/internal/detect"
	"github.com/KaramelBytes/admisi-cli/internal/ingest"
	"github.com/KaramelBytes/admisi-cli/internal/transform"
)

// mappingFlags are shared by every command that runs detection.
type mappingFlags struct {
	mode   string
	remaps []string
}

func (m *mappingFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&m.mode, "mode", "greedy", "detection mode: greedy | best-first")
	fs.StringArrayVar(&m.remaps, "remap", nil, "manual override 'Header=target' (empty target unmaps; repeatable)")
}

// detection bundles what a command needs after ingest + detect + overrides.
type detection struct {
	table    *ingest.Table
	catalog  *catalog.Catalog
	detector *detect.Detector
	result   *detect.Result
}

func runDetection(path string, flags mappingFlags) (*detection, error) {
	cat, err := loadCatalog()
	if err != nil {
		return nil, err
	}
	mode, err := detect.ParseMode(flags.mode)
	if err != nil {
		return nil, err
	}
	t, err := ingest.ParseFile(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	d := detect.New(cat, detect.WithMode(mode))
	res := d.Detect(t.Headers, t.Rows)
	for _, pair := range flags.remaps {
		header, target, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --remap %q (want Header=target)", pair)
		}
		if err := d.RemapByName(res, strings.TrimSpace(header), strings.TrimSpace(target)); err != nil {
			return nil, err
		}
	}
	return &detection{table: t, catalog: cat, detector: d, result: res}, nil
}

// validate transforms the confirmed mapping and splits valid/invalid rows.
// Detection errors block this step.
func (d *detection) validate() (transform.Result, error) {
	if d.result.Blocking() {
		return transform.Result{}, fmt.Errorf("detection incomplete: %s (use --remap Header=target)", strings.Join(d.result.Errors, "; "))
	}
	recs := transform.Transform(d.table.Rows, d.table.Headers, d.result.Mappings, d.catalog)
	return transform.Validate(recs, d.catalog), nil
}

func pct(f float64) int { return int(math.Round(f * 100)) }

func printDetection(w io.Writer, t *ingest.Table, res *detect.Result) {
	fmt.Fprintf(w, "File: %s (%s, %d rows, %d columns)\n", t.FileName, t.FileType, len(t.Rows), len(t.Headers))
	fmt.Fprintln(w, "Mappings:")
	if len(res.Mappings) == 0 {
		fmt.Fprintln(w, "  (none)")
	}
	for _, m := range res.Mappings {
		mark := "✓"
		if m.Confidence < detect.LowConfidenceThreshold {
			mark = "⚠"
		}
		fmt.Fprintf(w, "  %s %s -> %s (%d%%)", mark, m.SourceColumn, m.TargetField, pct(m.Confidence))
		if len(m.SampleValues) > 0 {
			fmt.Fprintf(w, "  e.g. %s", strings.Join(m.SampleValues[:min(3, len(m.SampleValues))], ", "))
		}
		fmt.Fprintln(w)
	}
	if len(res.UnmappedColumns) > 0 {
		fmt.Fprintf(w, "Unmapped: %s\n", strings.Join(res.UnmappedColumns, ", "))
	}
	for _, e := range res.Errors {
		fmt.Fprintf(w, "✗ %s\n", e)
	}
	for _, wn := range res.Warnings {
		fmt.Fprintf(w, "⚠ %s\n", wn)
	}
	fmt.Fprintf(w, "Overall confidence: %d%%\n", pct(res.Confidence))
}

func printValidation(w io.Writer, res transform.Result, showInvalid bool) {
	total := len(res.Valid) + len(res.Invalid)
	fmt.Fprintf(w, "✓ %d of %d records valid\n", len(res.Valid), total)
	if !res.Blocking() {
		return
	}
	fmt.Fprintf(w, "⚠ %d records invalid and excluded from dispatch:\n", len(res.Invalid))
	for _, v := range res.Summary() {
		fmt.Fprintf(w, "  - %s (%d)\n", v.Message, v.Count)
	}
	if !showInvalid {
		return
	}
	for _, inv := range res.Invalid {
		fmt.Fprintf(w, "  record %d: %s\n", inv.Index+1, strings.Join(inv.Errors, "; "))
	}
}

// expandInputs resolves globs, drops duplicates and sorts the result.
func expandInputs(args []string) ([]string, error) {
	var files []string
	seen := map[string]struct{}{}
	for _, arg := range args {
		matches, _ := filepath.Glob(arg)
		if len(matches) == 0 {
			// treat as literal path if exists
			if _, err := os.Stat(arg); err == nil {
				matches = []string{arg}
			}
		}
		for _, m := range matches {
			if _, ok := seen[m]; ok {
				continue
			}
			seen[m] = struct{}{}
			files = append(files, m)
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no input files matched")
	}
	sort.Strings(files)
	return files, nil
}
