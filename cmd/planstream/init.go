package main

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().String("token", "", "Bearer token sent on stream requests")
}

var initCmd = &cobra.Command{
	Use:   "init <base-url>",
	Short: "Store the stream base URL in ~/.planstream/config.toml",
	Long:  "Initialize the planstream CLI by storing the API base URL (and optionally a token) in the local configuration file.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		baseURL := strings.TrimRight(args[0], "/")
		u, err := url.Parse(baseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("base URL must be an absolute http or https URL")
		}

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		cfg.Default.BaseURL = baseURL
		if cfg.Default.Transport == "" {
			cfg.Default.Transport = "http"
		}
		if token, _ := cmd.Flags().GetString("token"); token != "" {
			cfg.Auth.Token = token
		}

		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		path, _ := configPath()
		fmt.Fprintf(cmd.OutOrStdout(), "Configuration saved to %s\n", path)
		return nil
	},
}
