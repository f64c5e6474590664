package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/docforge/toolkit-client/internal/client"
	"github.com/docforge/toolkit-client/internal/config"
	"github.com/docforge/toolkit-client/internal/tool"
	"github.com/docforge/toolkit-client/pkg/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/thoas/go-funk"
)

var legalLogLevels = []string{"debug", "info", "warn", "error"}

type GlobalOptions struct {
	ConfigFilePath string
	ServerURL      string
	SocketURL      string
	LogLevel       string
	Catalog        string

	env      *config.Config
	undoLogs func()
}

func DefaultGlobalOptions() GlobalOptions {
	return GlobalOptions{
		ConfigFilePath: client.DefaultConfigPath(),
	}
}

func (o *GlobalOptions) Bind(fs *pflag.FlagSet) {
	fs.StringVarP(&o.ConfigFilePath, "config", "c", o.ConfigFilePath, "Path to the client config file")
	fs.StringVarP(&o.ServerURL, "server-url", "u", o.ServerURL, "Address of the backend API (overrides $TOOLKIT_API_BASE_URL)")
	fs.StringVar(&o.SocketURL, "socket-url", o.SocketURL, "Address of the push channel (overrides $TOOLKIT_SOCKET_URL)")
	fs.StringVar(&o.LogLevel, "log-level", o.LogLevel, "Log level, one of debug, info, warn, error (overrides $TOOLKIT_LOG_LEVEL)")
	fs.StringVar(&o.Catalog, "catalog", o.Catalog, "YAML file declaring additional tools (overrides $TOOLKIT_TOOL_CATALOG)")
}

func (o *GlobalOptions) Complete(cmd *cobra.Command, args []string) error {
	env, err := config.New()
	if err != nil {
		return fmt.Errorf("reading environment: %w", err)
	}
	o.env = env
	if o.LogLevel == "" {
		o.LogLevel = env.Client.LogLevel
	}
	if o.Catalog == "" {
		o.Catalog = env.Client.ToolCatalog
	}
	o.undoLogs = log.Setup(o.LogLevel)
	return nil
}

func (o *GlobalOptions) Validate(args []string) error {
	if o.LogLevel != "" && !funk.ContainsString(legalLogLevels, o.LogLevel) {
		return fmt.Errorf("log level must be one of %v", legalLogLevels)
	}
	return nil
}

// Close flushes the logger installed by Complete.
func (o *GlobalOptions) Close() {
	if o.undoLogs != nil {
		o.undoLogs()
	}
}

// ClientConfig resolves the backend endpoints: flags, then environment, then
// the config file, then defaults. A missing config file is not an error.
func (o *GlobalOptions) ClientConfig() (*client.Config, error) {
	var file *client.Config
	if o.ConfigFilePath != "" {
		parsed, err := client.ParseConfigFile(o.ConfigFilePath)
		switch {
		case err == nil:
			file = parsed
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, err
		}
	}
	cfg := o.env.ClientConfig(file)
	if o.ServerURL != "" {
		cfg.Service.Server = o.ServerURL
	}
	if o.SocketURL != "" {
		cfg.Service.PushServer = o.SocketURL
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (o *GlobalOptions) Registry() (*tool.Registry, error) {
	if o.Catalog == "" {
		return tool.NewDefaultRegistry(), nil
	}
	return tool.LoadCatalog(o.Catalog)
}

// run wires the Complete, Validate, Run sequence used by every command.
func run(cmd *cobra.Command, args []string, o interface {
	Complete(cmd *cobra.Command, args []string) error
	Validate(args []string) error
	Close()
}, fn func() error) error {
	if err := o.Complete(cmd, args); err != nil {
		return err
	}
	defer o.Close()
	if err := o.Validate(args); err != nil {
		return err
	}
	return fn()
}
