// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-kmespread.
//
// go-kmespread is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package cli

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jeremyhahn/go-kmespread/internal/config"
	"github.com/jeremyhahn/go-kmespread/pkg/client"
)

// Config holds global CLI configuration
type Config struct {
	// ConfigFile is the path to the configuration file
	ConfigFile string `mapstructure:"config"`

	// Server is the base URL of the KME node for node commands
	Server string `mapstructure:"server"`

	// OutputFormat controls output formatting (json, text)
	OutputFormat string `mapstructure:"output"`

	// Verbose enables verbose logging
	Verbose bool `mapstructure:"verbose"`

	// Timeout bounds each request to a node
	Timeout time.Duration `mapstructure:"timeout"`

	// TLSInsecure skips TLS certificate verification (not recommended)
	TLSInsecure bool `mapstructure:"tls-insecure"`

	// TLSCert is the path to the client certificate file (for mTLS)
	TLSCert string `mapstructure:"tls-cert"`

	// TLSKey is the path to the client key file (for mTLS)
	TLSKey string `mapstructure:"tls-key"`

	// TLSCACert is the path to the CA certificate file
	TLSCACert string `mapstructure:"tls-ca"`
}

// NewConfig creates a new Config with default values
func NewConfig() *Config {
	return &Config{
		Server:       "http://127.0.0.1:8443",
		OutputFormat: "text",
		Timeout:      30 * time.Second,
	}
}

// Load merges, in increasing precedence, the defaults, the config file
// ($HOME/.kmespread.yaml unless --config is set), KMESPREAD_* environment
// variables and explicitly set flags of cmd.
func (c *Config) Load(cmd *cobra.Command) error {
	v := viper.New()

	v.SetDefault("server", c.Server)
	v.SetDefault("output", c.OutputFormat)
	v.SetDefault("timeout", c.Timeout)

	v.SetEnvPrefix("KMESPREAD")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("failed to bind flags: %w", err)
	}

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(".kmespread")
		v.SetConfigType("yaml")
		v.AddConfigPath("$HOME")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err := v.Unmarshal(c); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	switch OutputFormat(c.OutputFormat) {
	case OutputFormatText, OutputFormatJSON:
	default:
		return fmt.Errorf("unknown output format: %s", c.OutputFormat)
	}
	return nil
}

// CreateClient creates a client for the configured node.
func (c *Config) CreateClient() (*client.Client, error) {
	tlsSettings := config.TLSConfig{
		Enabled:            strings.HasPrefix(c.Server, "https://"),
		CertFile:           c.TLSCert,
		KeyFile:            c.TLSKey,
		CAFile:             c.TLSCACert,
		InsecureSkipVerify: c.TLSInsecure,
	}
	tlsConfig, err := tlsSettings.LoadClientTLSConfig()
	if err != nil {
		return nil, err
	}

	cl, err := client.New(&client.Config{
		Address:   c.Server,
		TLSConfig: tlsConfig,
		Timeout:   c.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}
	return cl, nil
}
