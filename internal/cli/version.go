package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/docforge/toolkit-client/pkg/version"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type VersionOptions struct {
	Output string
	out    io.Writer
}

func DefaultVersionOptions() *VersionOptions {
	return &VersionOptions{
		Output: "",
	}
}

func NewCmdVersion() *cobra.Command {
	o := DefaultVersionOptions()
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print toolkit version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			o.out = cmd.OutOrStdout()
			if err := validateOutput(o.Output); err != nil {
				return err
			}
			return o.Run(cmd.Context(), args)
		},
	}
	o.Bind(cmd.Flags())
	return cmd
}

func (o *VersionOptions) Bind(fs *pflag.FlagSet) {
	fs.StringVarP(&o.Output, "output", "o", o.Output, fmt.Sprintf("Output format. One of: (%s).", strings.Join(legalOutputTypes, ", ")))
}

func (o *VersionOptions) Run(ctx context.Context, args []string) error {
	versionInfo := version.Get()
	if done, err := printStructured(o.out, o.Output, versionInfo); done {
		return err
	}
	fmt.Fprintf(o.out, "Toolkit Version: %s\n", versionInfo.String())
	return nil
}
