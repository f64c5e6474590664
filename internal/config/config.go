package config

import (
	"github.com/docforge/toolkit-client/internal/client"
	"github.com/kelseyhightower/envconfig"
)

// DefaultBaseURL is used when neither the environment nor the config file
// names a backend.
const DefaultBaseURL = "http://localhost:5000"

var singleConfig *Config = nil

type Config struct {
	Client  *clientConfig
	Stub    *stubConfig
	Storage *storageConfig
}

type clientConfig struct {
	BaseURL     string `envconfig:"TOOLKIT_API_BASE_URL" default:""`
	SocketURL   string `envconfig:"TOOLKIT_SOCKET_URL" default:""`
	LogLevel    string `envconfig:"TOOLKIT_LOG_LEVEL" default:"info"`
	ToolCatalog string `envconfig:"TOOLKIT_TOOL_CATALOG" default:""`
}

type stubConfig struct {
	Address     string `envconfig:"TOOLKIT_STUB_ADDRESS" default:":5000"`
	StepDelayMs int    `envconfig:"TOOLKIT_STUB_STEP_DELAY_MS" default:"300"`
}

type storageConfig struct {
	Endpoint  string `envconfig:"TOOLKIT_S3_ENDPOINT" default:""`
	AccessKey string `envconfig:"TOOLKIT_S3_ACCESS_KEY" default:""`
	SecretKey string `envconfig:"TOOLKIT_S3_SECRET_KEY" default:""`
	UseSSL    bool   `envconfig:"TOOLKIT_S3_USE_SSL" default:"true"`
}

// New returns the process configuration, read from the environment once.
func New() (*Config, error) {
	if singleConfig == nil {
		cfg, err := Load()
		if err != nil {
			return nil, err
		}
		singleConfig = cfg
	}
	return singleConfig, nil
}

// Load reads the environment without caching.
func Load() (*Config, error) {
	cfg := new(Config)
	if err := envconfig.Process("", cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ClientConfig merges the environment over a config file. file may be nil.
func (c *Config) ClientConfig(file *client.Config) *client.Config {
	var merged *client.Config
	if file != nil {
		merged = file.DeepCopy()
	} else {
		merged = client.NewDefault()
	}
	if c.Client.BaseURL != "" {
		merged.Service.Server = c.Client.BaseURL
	}
	if c.Client.SocketURL != "" {
		merged.Service.PushServer = c.Client.SocketURL
	}
	if merged.Service.Server == "" {
		merged.Service.Server = DefaultBaseURL
	}
	return merged
}
