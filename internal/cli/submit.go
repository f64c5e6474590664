package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/docforge/toolkit-client/internal/events"
	"github.com/docforge/toolkit-client/internal/job"
	"github.com/docforge/toolkit-client/internal/result"
	"github.com/docforge/toolkit-client/internal/session"
	"github.com/docforge/toolkit-client/internal/staging"
	"github.com/docforge/toolkit-client/internal/tool"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type SubmitOptions struct {
	GlobalOptions

	Params      map[string]string
	OutputDir   string
	NoDownload  bool
	TraceEvents bool
	Timeout     time.Duration

	out        io.Writer
	printLock  sync.Mutex
	lastNotice int
}

func DefaultSubmitOptions() *SubmitOptions {
	return &SubmitOptions{
		GlobalOptions: DefaultGlobalOptions(),
		Params:        map[string]string{},
		OutputDir:     ".",
		Timeout:       10 * time.Minute,
	}
}

func NewCmdSubmit() *cobra.Command {
	o := DefaultSubmitOptions()
	cmd := &cobra.Command{
		Use:          "submit TOOL FILE...",
		Short:        "Run a document tool on local files and download the result.",
		Example:      "submit merge a.pdf b.pdf\nsubmit split report.pdf -p ranges=1-3,5\nsubmit compress big.pdf --output s3://artifacts/compressed",
		Args:         cobra.MinimumNArgs(2),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			o.out = cmd.OutOrStdout()
			return run(cmd, args, o, func() error { return o.Run(cmd.Context(), args) })
		},
	}
	o.Bind(cmd.Flags())
	return cmd
}

func (o *SubmitOptions) Bind(fs *pflag.FlagSet) {
	o.GlobalOptions.Bind(fs)

	fs.StringToStringVarP(&o.Params, "param", "p", o.Params, "Tool parameter as id=value, repeatable")
	fs.StringVarP(&o.OutputDir, "output", "O", o.OutputDir, "Directory, or s3://bucket/prefix, to save the result to")
	fs.BoolVar(&o.NoDownload, "no-download", o.NoDownload, "Do not download the result")
	fs.BoolVar(&o.TraceEvents, "trace-events", o.TraceEvents, "Log every job and connection transition as a CloudEvent")
	fs.DurationVar(&o.Timeout, "timeout", o.Timeout, "Maximum time to wait for the job")
}

func (o *SubmitOptions) Validate(args []string) error {
	if err := o.GlobalOptions.Validate(args); err != nil {
		return err
	}
	if o.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	return nil
}

func (o *SubmitOptions) Run(ctx context.Context, args []string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := o.ClientConfig()
	if err != nil {
		return err
	}
	registry, err := o.Registry()
	if err != nil {
		return err
	}
	d, err := registry.Get(args[0])
	if err != nil {
		return err
	}
	if err := checkParams(d, o.Params); err != nil {
		return err
	}
	saver, err := o.saver()
	if err != nil {
		return err
	}

	opts := []session.Option{
		session.WithRegistry(registry),
		session.WithSaver(saver),
		session.WithAutoDownload(!o.NoDownload),
		session.WithNoticeHandler(o.printNotices),
	}
	if o.TraceEvents {
		opts = append(opts, session.WithJournal(&events.LogWriter{}))
	}
	sess, err := session.New(cfg, opts...)
	if err != nil {
		return err
	}
	defer func() {
		_ = sess.Close()
	}()
	sess.Subscribe(o.printJob)

	ctx, cancel := context.WithTimeout(ctx, o.Timeout)
	defer cancel()

	// progress is best-effort: the job still runs without a push channel
	_ = sess.Mount(ctx)

	if _, err := sess.SelectTool(d.ID); err != nil {
		return err
	}
	if err := o.stage(sess.Store(), d, args[1:]); err != nil {
		return err
	}

	if _, err := sess.Submit(ctx); err != nil {
		if errors.Is(err, job.ErrNotReady) {
			return fmt.Errorf("cannot submit %s: %s", d.ID, missingInput(sess.Store(), d))
		}
		return err
	}

	out, err := sess.Wait(ctx)
	if err != nil {
		return err
	}
	o.printSaved(out)
	return nil
}

func (o *SubmitOptions) stage(store *staging.Store, d tool.Descriptor, paths []string) error {
	if !d.Multiple && len(paths) > 1 {
		o.warn("%s takes a single file, only %s will be used", d.ID, paths[len(paths)-1])
	}
	for _, p := range paths {
		candidate, err := staging.NewCandidateFromPath(p)
		if err != nil {
			return err
		}
		if !d.Accepts(candidate.Type) {
			o.warn("skipping %s: %s is not accepted by %s", candidate.Name, candidate.Type, d.ID)
			continue
		}
		if candidate.Size == 0 {
			o.warn("skipping %s: file is empty", candidate.Name)
			continue
		}
		store.Add(candidate)
	}
	for id, v := range o.Params {
		store.SetParam(id, v)
	}
	return nil
}

func checkParams(d tool.Descriptor, params map[string]string) error {
	for id := range params {
		if _, ok := d.Field(id); !ok {
			return fmt.Errorf("%s has no parameter %q", d.ID, id)
		}
	}
	return nil
}

func missingInput(store *staging.Store, d tool.Descriptor) string {
	var missing []string
	if store.Len() == 0 {
		missing = append(missing, "no accepted input file")
	}
	params := store.Params()
	for _, f := range d.RequiredFields() {
		if strings.TrimSpace(params[f.ID]) == "" {
			missing = append(missing, fmt.Sprintf("missing parameter %q", f.ID))
		}
	}
	if len(missing) == 0 {
		return "input is incomplete"
	}
	return strings.Join(missing, ", ")
}

func (o *SubmitOptions) saver() (result.Saver, error) {
	bucket, prefix, ok := result.ParseObjectTarget(o.OutputDir)
	if !ok {
		return result.NewDirSaver(o.OutputDir), nil
	}
	storage := o.env.Storage
	return result.NewObjectSaver(
		result.WithEndpoint(storage.Endpoint),
		result.WithBucket(bucket),
		result.WithPrefix(prefix),
		result.WithAccessKey(storage.AccessKey),
		result.WithSecretKey(storage.SecretKey),
		result.WithSSL(storage.UseSSL),
	)
}

func (o *SubmitOptions) printJob(j job.Job) {
	v := session.Render(j)
	paint := color.New(color.FgCyan).SprintFunc()
	switch j.State {
	case job.StateCompleted:
		paint = color.New(color.FgGreen, color.Bold).SprintFunc()
	case job.StateFailed:
		paint = color.New(color.FgRed, color.Bold).SprintFunc()
	}
	o.printLock.Lock()
	defer o.printLock.Unlock()
	fmt.Fprintln(o.out, paint(v.String()))
}

func (o *SubmitOptions) printNotices(active []session.Notice) {
	o.printLock.Lock()
	defer o.printLock.Unlock()
	for _, n := range active {
		if n.ID <= o.lastNotice {
			continue
		}
		o.lastNotice = n.ID
		paint := color.New(color.FgYellow).SprintFunc()
		if n.Level == session.LevelError {
			paint = color.New(color.FgRed).SprintFunc()
		}
		fmt.Fprintln(o.out, paint("! "+n.Message))
	}
}

func (o *SubmitOptions) printSaved(out session.Outcome) {
	o.printLock.Lock()
	defer o.printLock.Unlock()
	switch {
	case out.Saved != nil:
		fmt.Fprintf(o.out, "Saved %s to %s\n", out.Saved.Name, out.Saved.Location)
	case out.Job.Result != nil && !out.Job.Result.IsInline():
		fmt.Fprintf(o.out, "Result available as %s (toolkit download %s)\n", out.Job.Result.Filename, out.Job.Result.Filename)
	}
}

func (o *SubmitOptions) warn(format string, args ...any) {
	o.printLock.Lock()
	defer o.printLock.Unlock()
	fmt.Fprintln(o.out, color.YellowString("! "+format, args...))
}
