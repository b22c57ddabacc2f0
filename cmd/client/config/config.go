// Package config loads the CLI configuration from YAML with environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/defistate/xswd-client-go/chains/dero"
	"github.com/defistate/xswd-client-go/streams/xswd/client"
	"gopkg.in/yaml.v3"
)

// EnvXSWDURL overrides the configured XSWD endpoint.
const EnvXSWDURL = "XSWD_URL"

// ClientConfig holds everything the CLI needs to open a wallet session.
type ClientConfig struct {
	XSWDURL           string            `yaml:"xswdURL"`
	Application       ApplicationConfig `yaml:"application"`
	PermissionTimeout time.Duration     `yaml:"permissionTimeout"`
	LogLevel          string            `yaml:"logLevel"`
	LogFormat         string            `yaml:"logFormat"`
	KeystoreSCID      string            `yaml:"keystoreSCID"`
	// RegistrySCID skips keystore resolution when set.
	RegistrySCID string `yaml:"registrySCID"`
}

// ApplicationConfig identifies the CLI to the wallet.
type ApplicationConfig struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	URL         string `yaml:"url"`
}

// Default returns the configuration used when no file is present.
func Default() *ClientConfig {
	return &ClientConfig{
		XSWDURL: client.DefaultURL,
		Application: ApplicationConfig{
			ID:          "ed606a2f4c4f499618a78ff5f7c8e51cd2ca4d8bfa7e2b41a27754bb78b1df1f",
			Name:        "DEROSwap",
			Description: "DEROSwap allows you to easily swap any token on DERO chain",
			URL:         "http://localhost",
		},
		PermissionTimeout: client.DefaultPermissionTimeout,
		LogLevel:          "info",
		LogFormat:         "json",
		KeystoreSCID:      dero.KeystoreSCID,
	}
}

// LoadConfig reads path over the defaults. A missing file is not an error.
func LoadConfig(path string) (*ClientConfig, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	default:
		var parsed ClientConfig
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
		merge(cfg, &parsed)
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func merge(dst, src *ClientConfig) {
	if src.XSWDURL != "" {
		dst.XSWDURL = src.XSWDURL
	}
	if src.Application.ID != "" {
		dst.Application.ID = src.Application.ID
	}
	if src.Application.Name != "" {
		dst.Application.Name = src.Application.Name
	}
	if src.Application.Description != "" {
		dst.Application.Description = src.Application.Description
	}
	if src.Application.URL != "" {
		dst.Application.URL = src.Application.URL
	}
	if src.PermissionTimeout != 0 {
		dst.PermissionTimeout = src.PermissionTimeout
	}
	if src.LogLevel != "" {
		dst.LogLevel = src.LogLevel
	}
	if src.LogFormat != "" {
		dst.LogFormat = src.LogFormat
	}
	if src.KeystoreSCID != "" {
		dst.KeystoreSCID = src.KeystoreSCID
	}
	if src.RegistrySCID != "" {
		dst.RegistrySCID = src.RegistrySCID
	}
}

func applyEnvOverrides(cfg *ClientConfig) {
	if url := strings.TrimSpace(os.Getenv(EnvXSWDURL)); url != "" {
		cfg.XSWDURL = url
	}
}

func (c *ClientConfig) validate() error {
	if c.XSWDURL == "" {
		return errors.New("config: xswdURL is required")
	}
	if c.PermissionTimeout < 0 {
		return errors.New("config: permissionTimeout must not be negative")
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("config: unknown logFormat %q", c.LogFormat)
	}
	return nil
}

// SlogLevel parses LogLevel.
func (c *ClientConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return level, fmt.Errorf("config: invalid logLevel %q: %w", c.LogLevel, err)
	}
	return level, nil
}

// ClientApplication converts the application section for the XSWD client.
func (c *ClientConfig) ClientApplication() client.Application {
	return client.Application{
		ID:          c.Application.ID,
		Name:        c.Application.Name,
		Description: c.Application.Description,
		URL:         c.Application.URL,
	}
}
