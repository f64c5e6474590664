package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/docforge/toolkit-client/internal/client"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type ConfigInitOptions struct {
	GlobalOptions

	out io.Writer
}

func DefaultConfigInitOptions() *ConfigInitOptions {
	return &ConfigInitOptions{
		GlobalOptions: DefaultGlobalOptions(),
	}
}

func NewCmdConfig() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the client config file.",
		Run: func(cmd *cobra.Command, args []string) {
			_ = cmd.Help()
		},
	}
	cmd.AddCommand(NewCmdConfigInit())
	return cmd
}

func NewCmdConfigInit() *cobra.Command {
	o := DefaultConfigInitOptions()
	cmd := &cobra.Command{
		Use:          "init",
		Short:        "Write the client config file from the given endpoints.",
		Example:      "config init --server-url http://localhost:5000",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			o.out = cmd.OutOrStdout()
			return run(cmd, args, o, func() error { return o.Run(cmd.Context(), args) })
		},
	}
	o.Bind(cmd.Flags())
	return cmd
}

func (o *ConfigInitOptions) Bind(fs *pflag.FlagSet) {
	o.GlobalOptions.Bind(fs)
}

func (o *ConfigInitOptions) Validate(args []string) error {
	if err := o.GlobalOptions.Validate(args); err != nil {
		return err
	}
	if o.ConfigFilePath == "" {
		return fmt.Errorf("config file path must not be empty")
	}
	return nil
}

func (o *ConfigInitOptions) Run(ctx context.Context, args []string) error {
	// the file being written must not feed its own defaults
	cfg := o.env.ClientConfig(nil)
	server, push := cfg.Service.Server, cfg.Service.PushServer
	if o.ServerURL != "" {
		server = o.ServerURL
	}
	if o.SocketURL != "" {
		push = o.SocketURL
	}
	if err := client.WriteConfig(o.ConfigFilePath, server, push); err != nil {
		return err
	}
	fmt.Fprintf(o.out, "Wrote %s\n", o.ConfigFilePath)
	return nil
}
