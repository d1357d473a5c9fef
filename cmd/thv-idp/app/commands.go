// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package app provides the commands of the thv-idp binary.
package app

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stacklok/toolhive-idp/pkg/authserver/runconfig"
	"github.com/stacklok/toolhive-idp/pkg/logger"
)

// EnvPrefix prefixes environment variables that override configuration keys,
// e.g. THV_IDP_ISSUER.
const EnvPrefix = "THV_IDP"

// NewRootCmd creates the root command with all subcommands attached.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:               "thv-idp",
		DisableAutoGenTag: true,
		SilenceUsage:      true,
		Short:             "OAuth 2.0 and OpenID Connect authorization server",
		Long: `thv-idp issues authorization codes, access tokens, refresh tokens and
OpenID Connect ID tokens to registered clients.`,
		Run: func(cmd *cobra.Command, _ []string) {
			// If no subcommand is provided, print help
			if err := cmd.Help(); err != nil {
				logger.Errorf("Error displaying help: %v", err)
			}
		},
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			logger.Initialize()
		},
	}

	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug mode")
	rootCmd.PersistentFlags().String("config", "", "Path to the server configuration file")
	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		logger.Errorf("Error binding debug flag: %v", err)
	}

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newValidateCmd())
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

// loadRunConfig reads the configuration file at path. Keys can be overridden
// with EnvPrefix environment variables.
func loadRunConfig(path string) (*runconfig.RunConfig, error) {
	if path == "" {
		return nil, fmt.Errorf("--config is required")
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg := &runconfig.RunConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	// Unmarshal only sees keys present in the file
	if issuer := v.GetString("issuer"); issuer != "" {
		cfg.Issuer = issuer
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
