package main

import (
	"os"

	"github.com/docforge/toolkit-client/internal/cli"
	"github.com/spf13/cobra"
)

func main() {
	command := NewToolkitCommand()
	if err := command.Execute(); err != nil {
		os.Exit(1)
	}
}

func NewToolkitCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "toolkit [flags] [options]",
		Short: "toolkit runs document tools on a processing backend.",
		Run: func(cmd *cobra.Command, args []string) {
			_ = cmd.Help()
			os.Exit(1)
		},
	}
	cmd.AddCommand(cli.NewCmdTools())
	cmd.AddCommand(cli.NewCmdSubmit())
	cmd.AddCommand(cli.NewCmdDownload())
	cmd.AddCommand(cli.NewCmdConfig())
	cmd.AddCommand(cli.NewCmdVersion())

	return cmd
}
