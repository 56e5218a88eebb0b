package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/KaramelBytes/admisi-cli/internal/utils"
)

var (
	detFlags  mappingFlags
	detJSON   bool
	detOutput string
)

var detectCmd = &cobra.Command{
	Use:   "detect <file>",
	Short: "Map spreadsheet columns onto the registration fields",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := runDetection(args[0], detFlags)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if detJSON || detOutput != "" {
			b, err := utils.PrettyJSON(d.result)
			if err != nil {
				return err
			}
			if detOutput != "" {
				if err := utils.SafeWriteFile(detOutput, b); err != nil {
					return err
				}
				fmt.Fprintf(out, "✓ Wrote detection result to %s\n", detOutput)
				return nil
			}
			fmt.Fprintln(out, string(b))
			return nil
		}
		printDetection(out, d.table, d.result)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(detectCmd)
	detFlags.register(detectCmd.Flags())
	detectCmd.Flags().BoolVar(&detJSON, "json", false, "print the detection result as JSON")
	detectCmd.Flags().StringVarP(&detOutput, "output", "o", "", "write the detection result (JSON) to this path")
}
