package config

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Config holds CLI configuration
type Config struct {
	Server string `mapstructure:"server"`
	Secret string `mapstructure:"secret"`
}

// LoadConfig loads configuration from file and flags
func LoadConfig(cmd *cobra.Command) (*Config, error) {
	cfg := &Config{}

	// Get config file path
	configFile, _ := cmd.Flags().GetString("config")
	if configFile == "" {
		// Default to $HOME/.thinrelay/config.yaml
		home, err := os.UserHomeDir()
		if err == nil {
			configFile = filepath.Join(home, ".thinrelay", "config.yaml")
		}
	}

	// Set up viper
	viper.SetConfigFile(configFile)
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()
	viper.SetEnvPrefix("THINRELAY")

	// Read config file if it exists
	if configFile != "" {
		if err := viper.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				if !os.IsNotExist(err) {
					return nil, fmt.Errorf("failed to read config file: %w", err)
				}
			}
		}
	}

	// Unmarshal config
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Override with flags
	if server, _ := cmd.Flags().GetString("server"); server != "" {
		cfg.Server = server
	}
	if secret, _ := cmd.Flags().GetString("secret"); secret != "" {
		cfg.Secret = secret
	}
	if cfg.Secret == "" {
		cfg.Secret = os.Getenv("THINRELAY_SECRET")
	}

	// Set default server if not specified
	if cfg.Server == "" {
		cfg.Server = "http://localhost:8080"
	}

	return cfg, nil
}

// Client is the HTTP client for the relay API
type Client struct {
	server string
	secret string
	http   *http.Client
}

// NewClient creates an API client from the configuration
func (c *Config) NewClient() *Client {
	return &Client{
		server: c.Server,
		secret: c.Secret,
		http:   &http.Client{Timeout: 2 * time.Minute},
	}
}

// Get performs a GET request and decodes the JSON response into out
func (cl *Client) Get(ctx context.Context, path string, out interface{}) error {
	return cl.do(ctx, http.MethodGet, path, nil, out)
}

// Post performs a POST request with a JSON body
func (cl *Client) Post(ctx context.Context, path string, body, out interface{}) error {
	return cl.do(ctx, http.MethodPost, path, body, out)
}

// Delete performs a DELETE request
func (cl *Client) Delete(ctx context.Context, path string, out interface{}) error {
	return cl.do(ctx, http.MethodDelete, path, nil, out)
}

func (cl *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, cl.server+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if cl.secret != "" {
		req.Header.Set("Authorization", "Bearer "+cl.secret)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := cl.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s (HTTP %d)", apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
