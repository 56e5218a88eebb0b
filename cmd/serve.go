package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/KaramelBytes/admisi-cli/internal/detect"
	"github.com/KaramelBytes/admisi-cli/internal/gateway"
	"github.com/KaramelBytes/admisi-cli/internal/server"
)

var (
	srvAddr string
	srvMode string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the JSON control API for detection, validation and dispatch",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg == nil {
			return fmt.Errorf("configuration not loaded")
		}
		cat, err := loadCatalog()
		if err != nil {
			return err
		}
		mode, err := detect.ParseMode(srvMode)
		if err != nil {
			return err
		}
		addr := cfg.ListenAddr
		if srvAddr != "" {
			addr = srvAddr
		}
		srv := server.New(server.Config{
			Catalog:        cat,
			Mode:           mode,
			MaxUploadBytes: cfg.MaxUploadBytes(),
			Sender:         gateway.NewRecordSender(cfg.GatewayClient(), cfg.Flags()),
			DispatchDelay:  cfg.DispatchDelay(),
		})

		errCh := make(chan error, 1)
		go func() { errCh <- srv.Start(addr) }()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		select {
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		case <-ctx.Done():
		}
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&srvAddr, "addr", "", "listen address (overrides listen_addr)")
	serveCmd.Flags().StringVar(&srvMode, "mode", "greedy", "detection mode: greedy | best-first")
}
