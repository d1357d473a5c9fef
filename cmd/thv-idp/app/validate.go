// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/stacklok/toolhive-idp/pkg/authserver/runconfig"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate a configuration file",
		Long: `Validate a configuration file and resolve everything it references:
signing keys, HMAC secrets, client secrets and client registries.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			configPath, err := cmd.Flags().GetString("config")
			if err != nil {
				return err
			}
			return validateConfig(cmd.Context(), configPath, cmd.OutOrStdout())
		},
	}
}

func validateConfig(ctx context.Context, path string, out io.Writer) error {
	cfg, err := loadRunConfig(path)
	if err != nil {
		return err
	}
	resolved, err := runconfig.BuildConfig(ctx, cfg, 0)
	if err != nil {
		return err
	}
	if closer, ok := resolved.Clients.(io.Closer); ok {
		defer func() { _ = closer.Close() }()
	}
	if err := resolved.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	_, _ = fmt.Fprintf(out, "Configuration is valid (issuer %s)\n", resolved.Issuer)
	return nil
}
