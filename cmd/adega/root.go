// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Adega Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/adega/adega/internal/config"
	"github.com/adega/adega/internal/xdg"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the Adega CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "adega",
		Short: "Adega - wine catalog account service",
		Long: `Adega serves account registration, password and Google sign-in,
and bearer tokens for the wine catalog.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (YAML, default $XDG_CONFIG_HOME/adega/config.yaml)")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewConfigCmd())

	return cmd
}

// loadConfig loads configuration for cmd. Without --config the XDG config
// file is used when present.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path := configFile
	if path == "" {
		found, err := xdg.FindConfigFile()
		if err != nil {
			return config.Config{}, err
		}
		path = found
	}
	return config.Load(path, cmd.Flags())
}
