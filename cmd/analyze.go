package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/KaramelBytes/admisi-cli/internal/analyzer"
	"github.com/KaramelBytes/admisi-cli/internal/ingest"
	"github.com/KaramelBytes/admisi-cli/internal/utils"
)

var (
	anaOutputPath string
	anaJSON       bool
	anaQuiet      bool
)

type analyzeOutput struct {
	*analyzer.Result
	Validation analyzer.Validation `json:"validation"`
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze <files...>",
	Short: "Profile CSV/XLSX files and report structure, fill rates and issues",
	Long: `Analyze profiles every column of one or more admissions files: inferred
type, fill rate, uniqueness, sample values and data-quality issues. With a
single file, --output is the report path; with several, it is a directory.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		files, err := expandInputs(args)
		if err != nil {
			return err
		}
		cat, err := loadCatalog()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		ext := ".analysis.md"
		if anaJSON {
			ext = ".analysis.json"
		}
		multi := len(files) > 1

		total := len(files)
		for i, path := range files {
			if multi && !anaQuiet {
				fmt.Fprintf(out, "[%d/%d] Processing %s...\n", i+1, total, filepath.Base(path))
			}
			t, err := ingest.ParseFile(path)
			if err != nil {
				return fmt.Errorf("%s: %w", filepath.Base(path), err)
			}
			res, err := analyzer.Analyze(cmd.Context(), t.Headers, t.Rows, t.FileName, t.Size, analyzer.Options{
				Catalog:  cat,
				Encoding: t.Encoding,
			})
			if err != nil {
				return err
			}
			val := analyzer.Validate(res, cat)

			var body []byte
			if anaJSON {
				b, err := utils.PrettyJSON(analyzeOutput{Result: res, Validation: val})
				if err != nil {
					return err
				}
				body = b
			} else {
				body = []byte(res.Markdown() + validationMarkdown(val))
			}

			if anaOutputPath == "" {
				if !anaQuiet || !multi {
					fmt.Fprintln(out, string(body))
				}
				continue
			}
			dest := anaOutputPath
			if multi {
				dest = uniquePath(anaOutputPath, strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)), ext)
			}
			if err := utils.SafeWriteFile(dest, body); err != nil {
				return err
			}
			if !anaQuiet {
				fmt.Fprintf(out, "✓ Wrote analysis to %s\n", dest)
			}
		}
		return nil
	},
}

func validationMarkdown(v analyzer.Validation) string {
	var b strings.Builder
	b.WriteString("\n[VALIDATION]\n")
	if v.IsValid {
		b.WriteString("- usable: yes\n")
	} else {
		b.WriteString("- usable: no\n")
	}
	for _, e := range v.Errors {
		b.WriteString("- ✗ " + e + "\n")
	}
	for _, w := range v.Warnings {
		b.WriteString("- ⚠ " + w + "\n")
	}
	return b.String()
}

// uniquePath returns dir/base+ext, adding __2, __3... when the name is taken
// so files with the same basename from different folders don't collide.
func uniquePath(dir, base, ext string) string {
	cand := filepath.Join(dir, base+ext)
	for idx := 2; ; idx++ {
		if _, err := os.Stat(cand); os.IsNotExist(err) {
			return cand
		}
		cand = filepath.Join(dir, fmt.Sprintf("%s__%d%s", base, idx, ext))
	}
}

func init() {
	rootCmd.AddCommand(analyzeCmd)
	analyzeCmd.Flags().StringVarP(&anaOutputPath, "output", "o", "", "report path (single file) or directory (several files)")
	analyzeCmd.Flags().BoolVar(&anaJSON, "json", false, "emit JSON instead of Markdown")
	analyzeCmd.Flags().BoolVar(&anaQuiet, "quiet", false, "suppress progress and non-essential output")
}
