// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/gatekeep/gatekeep/internal/config"
	"github.com/gatekeep/gatekeep/internal/xdg"
)

// NewConfigCmd creates the config subcommand.
func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and check configuration",
	}
	cmd.AddCommand(newConfigSchemaCmd())
	cmd.AddCommand(newConfigValidateCmd())
	cmd.AddCommand(newConfigShowCmd())
	return cmd
}

func newConfigSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema for config files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := config.GenerateSchema()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
}

func newConfigValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [FILE]",
		Short: "Check a config file against the schema",
		Long: `Check a config file against the schema. Without FILE the --config
flag or the XDG config file is checked.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := configFileArg(cmd, args)
			if err != nil {
				return err
			}
			if err := config.ValidateFile(path); err != nil {
				return err
			}
			cmd.Printf("%s is valid\n", path)
			return nil
		},
	}
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			data, err := yaml.Marshal(effective(cfg))
			if err != nil {
				return err //nolint:wrapcheck // plain maps always marshal
			}
			fmt.Fprint(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
}

func configFileArg(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return "", err //nolint:wrapcheck // flag is always registered
	}
	if path != "" {
		return path, nil
	}
	return xdg.ConfigFile()
}

// effective renders cfg with config file keys. The database URL is redacted.
func effective(cfg *config.Config) map[string]any {
	url := cfg.Database.URL
	if url != "" {
		url = "<redacted>"
	}
	return map[string]any{
		"environment": cfg.Environment,
		"log": map[string]any{
			"format": cfg.Log.Format,
			"level":  cfg.Log.Level,
		},
		"http":    map[string]any{"addr": cfg.HTTP.Addr},
		"metrics": map[string]any{"addr": cfg.Metrics.Addr},
		"database": map[string]any{
			"driver": cfg.Database.Driver,
			"url":    url,
			"path":   cfg.Database.Path,
		},
		"session": map[string]any{
			"cookie_name":       cfg.Session.CookieName,
			"lifetime":          cfg.Session.Lifetime.String(),
			"refresh_window":    cfg.Session.RefreshWindow.String(),
			"rotation_grace":    cfg.Session.RotationGrace.String(),
			"persistent_cookie": cfg.Session.PersistentCookie,
			"secure":            cfg.SessionOptions().Secure,
			"sweep_interval":    cfg.Session.SweepInterval.String(),
		},
		"password": map[string]any{
			"argon2": map[string]any{
				"time":       cfg.Password.Argon2.Time,
				"memory_kib": cfg.Password.Argon2.MemoryKiB,
				"threads":    cfg.Password.Argon2.Threads,
			},
		},
	}
}
