package client

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/client-go/util/homedir"
	"sigs.k8s.io/yaml"
)

const (
	// TestRootDirEnvKey is the environment variable key used to set the file system root when testing.
	TestRootDirEnvKey = "TOOLKIT_TEST_ROOT_DIR"
)

// Config holds the information needed to reach the document processing backend.
type Config struct {
	Service Service `json:"service"`

	// baseDir is used to resolve relative paths
	// If baseDir is empty, the current working directory is used.
	baseDir string `json:"-"`
	// TestRootDir is the root directory for test files.
	testRootDir string `json:"-"`
}

// Service contains the backend endpoints.
type Service struct {
	// Server is the URL of the HTTP API (tool endpoints and /download).
	Server string `json:"server"`
	// PushServer is the origin of the push channel. Empty means same as Server.
	PushServer string `json:"pushServer,omitempty"`
}

func (c *Config) Equal(c2 *Config) bool {
	if c == c2 {
		return true
	}
	if c == nil || c2 == nil {
		return false
	}
	return c.Service.Equal(&c2.Service)
}

func (s *Service) Equal(s2 *Service) bool {
	if s == s2 {
		return true
	}
	if s == nil || s2 == nil {
		return false
	}
	return s.Server == s2.Server && s.PushServer == s2.PushServer
}

func (c *Config) DeepCopy() *Config {
	if c == nil {
		return nil
	}
	return &Config{
		Service:     *c.Service.DeepCopy(),
		baseDir:     c.baseDir,
		testRootDir: c.testRootDir,
	}
}

func (s *Service) DeepCopy() *Service {
	if s == nil {
		return nil
	}
	s2 := *s
	return &s2
}

func (c *Config) SetBaseDir(baseDir string) {
	c.baseDir = baseDir
}

// PushURL returns the push channel origin, falling back to the API server.
func (c *Config) PushURL() string {
	if c.Service.PushServer != "" {
		return c.Service.PushServer
	}
	return c.Service.Server
}

func NewDefault() *Config {
	c := &Config{}

	if value := os.Getenv(TestRootDirEnvKey); value != "" {
		c.testRootDir = filepath.Clean(value)
	}

	return c
}

// NewFromConfig returns a new backend client from the given config.
func NewFromConfig(config *Config) (*Client, error) {
	httpClient, err := NewHTTPClientFromConfig(config)
	if err != nil {
		return nil, fmt.Errorf("NewFromConfig: creating HTTP client %w", err)
	}
	return New(config.Service.Server, httpClient), nil
}

// NewHTTPClientFromConfig returns a new HTTP Client from the given config.
// There is no overall timeout: uploads and processing can take minutes and
// are bounded by the caller's context instead.
func NewHTTPClientFromConfig(config *Config) (*http.Client, error) {
	httpClient := &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			ForceAttemptHTTP2:     false,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
	return httpClient, nil
}

// DefaultConfigPath returns the default path to the toolkit client config file.
func DefaultConfigPath() string {
	return filepath.Join(homedir.HomeDir(), ".toolkit", "client.yaml")
}

func (c *Config) path(filename string) string {
	if c.testRootDir == "" {
		return filename
	}
	return filepath.Join(c.testRootDir, filename)
}

func ParseConfigFile(filename string) (*Config, error) {
	config := NewDefault()
	contents, err := os.ReadFile(config.path(filename))
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(contents, config); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	config.SetBaseDir(filepath.Dir(filename))
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// WriteConfig writes a client config file using the given parameters.
func WriteConfig(filename string, server string, pushServer string) error {
	config := NewDefault()
	config.Service = Service{
		Server:     server,
		PushServer: pushServer,
	}
	if err := config.Validate(); err != nil {
		return err
	}

	return config.Persist(filename)
}

func (c *Config) Persist(filename string) error {
	contents, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	filename = c.path(filename)
	if err := os.MkdirAll(filepath.Dir(filename), 0700); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	if err := os.WriteFile(filename, contents, 0600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

func (c *Config) Validate() error {
	validationErrors := make([]error, 0)
	validationErrors = append(validationErrors, validateService(c.Service)...)
	if len(validationErrors) > 0 {
		return fmt.Errorf("invalid configuration: %v", utilerrors.NewAggregate(validationErrors).Error())
	}
	return nil
}

func validateService(service Service) []error {
	validationErrors := make([]error, 0)
	// Make sure the server is specified and well-formed
	if len(service.Server) == 0 {
		validationErrors = append(validationErrors, fmt.Errorf("no server found"))
	} else {
		validationErrors = append(validationErrors, validateURL("server", service.Server)...)
	}
	if len(service.PushServer) > 0 {
		validationErrors = append(validationErrors, validateURL("push server", service.PushServer)...)
	}
	return validationErrors
}

func validateURL(what, raw string) []error {
	u, err := url.Parse(raw)
	if err != nil {
		return []error{fmt.Errorf("invalid %s format %q: %w", what, raw, err)}
	}
	if len(u.Hostname()) == 0 {
		return []error{fmt.Errorf("invalid %s format %q: no hostname", what, raw)}
	}
	return nil
}
