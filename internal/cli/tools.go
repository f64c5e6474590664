package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/docforge/toolkit-client/internal/tool"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type ToolsOptions struct {
	GlobalOptions

	Output string
	out    io.Writer
}

func DefaultToolsOptions() *ToolsOptions {
	return &ToolsOptions{
		GlobalOptions: DefaultGlobalOptions(),
	}
}

func NewCmdTools() *cobra.Command {
	o := DefaultToolsOptions()
	cmd := &cobra.Command{
		Use:          "tools",
		Short:        "List the available document tools.",
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

func (o *ToolsOptions) Bind(fs *pflag.FlagSet) {
	o.GlobalOptions.Bind(fs)

	fs.StringVarP(&o.Output, "output", "o", o.Output, fmt.Sprintf("Output format. One of: (%s).", strings.Join(legalOutputTypes, ", ")))
}

func (o *ToolsOptions) Validate(args []string) error {
	if err := o.GlobalOptions.Validate(args); err != nil {
		return err
	}
	return validateOutput(o.Output)
}

func (o *ToolsOptions) Run(ctx context.Context, args []string) error {
	registry, err := o.Registry()
	if err != nil {
		return err
	}
	tools := registry.List()
	if done, err := printStructured(o.out, o.Output, tools); done {
		return err
	}

	w := tabwriter.NewWriter(o.out, 0, 8, 1, '\t', 0)
	fmt.Fprintln(w, "ID\tLABEL\tFILES\tACCEPTS\tPARAMETERS")
	for _, d := range tools {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", d.ID, d.Label, cardinality(d), strings.Join(d.Accept, ","), describeFields(d.Fields))
	}
	return w.Flush()
}

func cardinality(d tool.Descriptor) string {
	if d.Multiple {
		return "many"
	}
	return "one"
}

func describeFields(fields []tool.Field) string {
	if len(fields) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		p := f.ID
		if f.Required {
			p += "*"
		}
		parts = append(parts, p)
	}
	return strings.Join(parts, ",")
}
