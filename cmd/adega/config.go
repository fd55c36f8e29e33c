// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Adega Contributors

package main

import (
	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/adega/adega/internal/config"
)

// NewConfigCmd creates the config subcommand.
func NewConfigCmd() *cobra.Command {
	var validate bool

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long: `Print the configuration serve would run with, after merging defaults,
the config file, environment and flags. Secrets are redacted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if validate {
				if err := cfg.Validate(); err != nil {
					return err
				}
			}

			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(cfg.Redacted()); err != nil {
				return oops.Code("CONFIG_ENCODE_FAILED").Wrap(err)
			}
			return oops.Wrap(enc.Close())
		},
	}

	config.RegisterFlags(cmd.Flags())
	cmd.Flags().BoolVar(&validate, "validate", false, "fail if the configuration is not valid for serve")
	return cmd
}
