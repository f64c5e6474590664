package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/docforge/toolkit-client/internal/config"
	"github.com/docforge/toolkit-client/internal/stub"
	"github.com/docforge/toolkit-client/internal/tool"
	"github.com/docforge/toolkit-client/pkg/log"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	address     string
	catalogFile string
	noWebsocket bool
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "toolkit-stub",
		Short:        "Run a stand-in document processing backend for local development",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.New()
			if err != nil {
				return err
			}
			undo := log.Setup(cfg.Client.LogLevel)
			defer undo()

			zap.S().Info("Starting stub backend")
			defer zap.S().Info("Stub backend stopped")

			if address == "" {
				address = cfg.Stub.Address
			}
			if catalogFile == "" {
				catalogFile = cfg.Client.ToolCatalog
			}
			registry := tool.NewDefaultRegistry()
			if catalogFile != "" {
				if registry, err = tool.LoadCatalog(catalogFile); err != nil {
					return err
				}
			}

			opts := []stub.Option{
				stub.WithRegistry(registry),
				stub.WithProcessor(stub.DefaultProcessor(time.Duration(cfg.Stub.StepDelayMs) * time.Millisecond)),
			}
			if noWebsocket {
				opts = append(opts, stub.WithoutWebsocket())
			}

			listener, err := newListener(address)
			if err != nil {
				zap.S().Fatalf("creating listener: %s", err)
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGQUIT)
			defer cancel()
			return stub.New(opts...).Run(ctx, listener)
		},
	}
	cmd.Flags().StringVar(&address, "address", "", "Listen address (overrides $TOOLKIT_STUB_ADDRESS)")
	cmd.Flags().StringVar(&catalogFile, "catalog", "", "YAML file declaring additional tools")
	cmd.Flags().BoolVar(&noWebsocket, "no-websocket", false, "Only serve the polling transport")
	return cmd
}

func newListener(address string) (net.Listener, error) {
	if address == "" {
		address = "localhost:0"
	}
	return net.Listen("tcp", address)
}
