// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Loam Contributors

package main

import (
	"errors"

	"github.com/loam-dev/loam/internal/config"
	loamerr "github.com/loam-dev/loam/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// NewRootCmd creates the root loam command with all subcommands registered.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "loam",
		Short:         "Loam: retrieval-augmented answering over private documents",
		Long:          "Loam indexes PDF and markdown documents into a vector store and answers questions about them through a local or hosted model.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return initViper(cmd)
		},
	}

	// Global flags map to viper keys via initViper.
	root.PersistentFlags().StringP("config", "c", "", "path to config file")
	root.PersistentFlags().String("data-dir", "", "path to data directory")
	root.PersistentFlags().BoolP("verbose", "v", false, "enable verbose output")

	root.AddCommand(
		newServeCmd(),
		newIngestCmd(),
		newDocumentsCmd(),
		newVersionCmd(),
	)

	return root
}

// initViper sets up the global Viper with defaults, env bindings, flag
// bindings, and optional config file so the standard precedence
// (flag > env > file > defaults) is handled uniformly.
func initViper(cmd *cobra.Command) error {
	v := viper.GetViper()

	config.SetDefaults(v)
	config.SetupEnv(v)

	if cfgFile, _ := cmd.Flags().GetString("config"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return loamerr.Errorf(loamerr.CodeConfigLoadReadFailure, "reading config file: %w", err)
		}
	} else {
		// Auto-discover loam.yaml from standard locations. A missing config
		// file is fine, defaults and env vars still apply; parse or
		// permission errors must surface.
		v.SetConfigName("loam")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/loam")
		v.AddConfigPath("/etc/loam")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return loamerr.Errorf(loamerr.CodeConfigLoadReadFailure, "reading config: %w", err)
			}
		}
	}

	if err := v.BindPFlag("data_dir", cmd.Root().PersistentFlags().Lookup("data-dir")); err != nil {
		return loamerr.Errorf(loamerr.CodeCLISetupFailure, "binding data-dir flag: %w", err)
	}
	if err := v.BindPFlag("verbose", cmd.Root().PersistentFlags().Lookup("verbose")); err != nil {
		return loamerr.Errorf(loamerr.CodeCLISetupFailure, "binding verbose flag: %w", err)
	}

	return nil
}

// loadConfig resolves the fully layered configuration for a subcommand.
func loadConfig() (*config.Config, error) {
	return config.FromViper(viper.GetViper())
}
