package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/KaramelBytes/admisi-cli/internal/dispatch"
	"github.com/KaramelBytes/admisi-cli/internal/gateway"
	"github.com/KaramelBytes/admisi-cli/internal/utils"
)

var (
	dspFlags        mappingFlags
	dspDelay        time.Duration
	dspDryRun       bool
	dspAllowInvalid bool
	dspYes          bool
	dspReport       string
)

var dispatchCmd = &cobra.Command{
	Use:   "dispatch <file>",
	Short: "Send one WhatsApp notification per valid record, strictly in sequence",
	Long: `Dispatch runs detection and validation, then sends every valid record to the
messaging gateway one at a time with a fixed delay between messages. Invalid
rows are never sent; unless --allow-invalid is given their presence aborts
the batch. Ctrl-C stops after the message in flight.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg == nil {
			return fmt.Errorf("configuration not loaded")
		}
		out := cmd.OutOrStdout()
		d, err := runDetection(args[0], dspFlags)
		if err != nil {
			return err
		}
		res, err := d.validate()
		if err != nil {
			return err
		}
		printValidation(out, res, false)
		if len(res.Valid) == 0 {
			return fmt.Errorf("no valid records to send")
		}

		delay := cfg.DispatchDelay()
		if dspDryRun {
			delay = -1
		}
		if cmd.Flags().Changed("delay") {
			delay = dspDelay
			if delay == 0 {
				delay = -1
			}
		}

		flags := cfg.Flags()
		var sender dispatch.Sender
		target := cfg.GatewayURL
		if dspDryRun {
			target = "dry run"
			sender = dispatch.SenderFunc(func(ctx context.Context, rec map[string]string) error {
				b, err := json.Marshal(gateway.PayloadFromRecord(rec, flags))
				if err != nil {
					return err
				}
				slog.Debug("dry-run payload", "payload", string(b))
				return nil
			})
		} else {
			sender = gateway.NewRecordSender(cfg.GatewayClient(), flags)
		}

		total := len(res.Valid)
		done := 0
		seq, err := dispatch.FromValidation(res, sender, dispatch.Options{
			Delay:        delay,
			AllowInvalid: dspAllowInvalid,
			Logger:       slog.Default(),
			OnUpdate: func(r dispatch.Record) {
				if !r.Status.Terminal() {
					return
				}
				done++
				if r.Status == dispatch.StatusSent {
					fmt.Fprintf(out, "[%d/%d] ✓ %s (%s)\n", done, total, r.Fields["nama"], r.Fields["number"])
				} else {
					fmt.Fprintf(out, "[%d/%d] ✗ %s (%s): %s\n", done, total, r.Fields["nama"], r.Fields["number"], r.Error)
				}
			},
		})
		if err != nil {
			return fmt.Errorf("%w (fix the rows or pass --allow-invalid)", err)
		}

		if !dspDryRun && !dspYes {
			fmt.Fprintf(out, "Send %d messages via %s? [y/N] ", total, target)
			answer, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if a := strings.ToLower(strings.TrimSpace(answer)); a != "y" && a != "yes" {
				fmt.Fprintln(out, "Aborted")
				return nil
			}
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		runErr := seq.Start(ctx)

		p := seq.Snapshot()
		fmt.Fprintf(out, "Sent %d, failed %d of %d (%.0f%%)\n", p.Sent, p.Failed, p.Selected, p.Percent)
		if dspReport != "" {
			b, err := utils.PrettyJSON(struct {
				Progress dispatch.Progress `json:"progress"`
				Records  []dispatch.Record `json:"records"`
			}{p, seq.Records()})
			if err != nil {
				return err
			}
			if err := utils.SafeWriteFile(dspReport, b); err != nil {
				return err
			}
			fmt.Fprintf(out, "✓ Wrote dispatch report to %s\n", dspReport)
		}
		if errors.Is(runErr, context.Canceled) {
			fmt.Fprintf(out, "⚠ Interrupted; %d records not sent\n", p.Pending)
			return nil
		}
		if runErr != nil {
			return runErr
		}
		if p.Failed > 0 {
			return fmt.Errorf("%d of %d messages failed", p.Failed, p.Selected)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(dispatchCmd)
	dspFlags.register(dispatchCmd.Flags())
	dispatchCmd.Flags().DurationVar(&dspDelay, "delay", 0, "delay between messages, e.g. 3s (overrides dispatch_delay_sec; 0 disables)")
	dispatchCmd.Flags().BoolVar(&dspDryRun, "dry-run", false, "run the batch without contacting the gateway")
	dispatchCmd.Flags().BoolVar(&dspAllowInvalid, "allow-invalid", false, "send the valid rows even when some rows are invalid")
	dispatchCmd.Flags().BoolVarP(&dspYes, "yes", "y", false, "do not ask for confirmation")
	dispatchCmd.Flags().StringVar(&dspReport, "report", "", "write per-record delivery status (JSON) to this path")
}
