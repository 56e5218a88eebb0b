package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/KaramelBytes/admisi-cli/internal/utils"
)

var (
	trFlags       mappingFlags
	trOutput      string
	trShowInvalid bool
	trJSON        bool
)

var transformCmd = &cobra.Command{
	Use:   "transform <file>",
	Short: "Normalize and validate rows into canonical records",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := runDetection(args[0], trFlags)
		if err != nil {
			return err
		}
		res, err := d.validate()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if trJSON {
			b, err := utils.PrettyJSON(res)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, string(b))
		} else {
			printValidation(out, res, trShowInvalid)
		}
		if trOutput != "" {
			b, err := utils.PrettyJSON(res.Valid)
			if err != nil {
				return err
			}
			if err := utils.SafeWriteFile(trOutput, b); err != nil {
				return err
			}
			if !trJSON {
				fmt.Fprintf(out, "✓ Wrote %d valid records to %s\n", len(res.Valid), trOutput)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(transformCmd)
	trFlags.register(transformCmd.Flags())
	transformCmd.Flags().StringVarP(&trOutput, "output", "o", "", "write valid canonical records (JSON) to this path")
	transformCmd.Flags().BoolVar(&trShowInvalid, "show-invalid", false, "list every invalid record with its violations")
	transformCmd.Flags().BoolVar(&trJSON, "json", false, "print the full valid/invalid split as JSON")
}
