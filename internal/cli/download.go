package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/docforge/toolkit-client/internal/client"
	"github.com/docforge/toolkit-client/internal/job"
	"github.com/docforge/toolkit-client/internal/result"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type DownloadOptions struct {
	GlobalOptions

	OutputDir string
	out       io.Writer
}

func DefaultDownloadOptions() *DownloadOptions {
	return &DownloadOptions{
		GlobalOptions: DefaultGlobalOptions(),
		OutputDir:     ".",
	}
}

func NewCmdDownload() *cobra.Command {
	o := DefaultDownloadOptions()
	cmd := &cobra.Command{
		Use:          "download NAME",
		Short:        "Download a processed file from the backend.",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			o.out = cmd.OutOrStdout()
			return run(cmd, args, o, func() error { return o.Run(cmd.Context(), args) })
		},
	}
	o.Bind(cmd.Flags())
	return cmd
}

func (o *DownloadOptions) Bind(fs *pflag.FlagSet) {
	o.GlobalOptions.Bind(fs)

	fs.StringVarP(&o.OutputDir, "output", "O", o.OutputDir, "Directory to save the file to")
}

func (o *DownloadOptions) Run(ctx context.Context, args []string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := o.ClientConfig()
	if err != nil {
		return err
	}
	c, err := client.NewFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("creating client: %w", err)
	}

	retriever := result.NewRetriever(c, result.NewDirSaver(o.OutputDir))
	saved, err := retriever.Retrieve(ctx, &job.Result{Filename: args[0]})
	if err != nil {
		return err
	}
	fmt.Fprintf(o.out, "Saved %s to %s\n", saved.Name, saved.Location)
	return nil
}
