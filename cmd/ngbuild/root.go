// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes the environment variables overriding configuration
// values, e.g. NGBUILD_OUT_DIR or NGBUILD_INDEX_BASE_HREF.
const EnvPrefix = "NGBUILD"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "ngbuild",
	Short: "Build Angular applications with esbuild",
	Long: `ngbuild compiles an Angular application with esbuild.

Configuration is read from .ngbuild.yml in the current directory, from
NGBUILD_* environment variables and from flags, flags taking precedence.

Examples:
  ngbuild build                        Build once into dist/
  ngbuild build --jit=false --minify   Ahead-of-time production build
  ngbuild watch                        Rebuild on every change
  ngbuild config                       Print the resolved configuration`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return readConfig(viper.GetViper(), cfgFile)
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is .ngbuild.yml)")
	flags.String("tsconfig", "", "path of the tsconfig file")
	flags.String("main", "", "path of the main file, used as entry point")
	flags.String("entry-module", "", "entry module as path#ClassName")
	flags.Bool("jit", true, "compile just-in-time instead of ahead-of-time")
	flags.String("platform", "browser", "target platform (browser, server)")
	flags.Bool("source-map", false, "emit source maps")
	flags.StringP("out-dir", "o", "", "output directory")
	flags.Bool("minify", false, "minify the output")
	flags.String("locale", "", "locale of the build")
	flags.StringP("log-level", "l", "", "log level (debug, info, warn, error)")

	if err := bindFlags(viper.GetViper(), flags); err != nil {
		panic(err)
	}

	rootCmd.AddCommand(buildCmd, watchCmd, configCmd)
}

// flagKeys maps configuration keys to the flags overriding them.
var flagKeys = map[string]string{
	"tsconfig":     "tsconfig",
	"main":         "main",
	"entry_module": "entry-module",
	"jit":          "jit",
	"platform":     "platform",
	"source_map":   "source-map",
	"out_dir":      "out-dir",
	"minify":       "minify",
	"locale":       "locale",
	"log_level":    "log-level",
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for key, name := range flagKeys {
		flag := flags.Lookup(name)
		if flag == nil {
			return fmt.Errorf("flag --%s is not defined", name)
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return err
		}
	}
	return nil
}

// configureViper sets the defaults, the environment binding and the
// configuration file of v.
func configureViper(v *viper.Viper, file string) {
	setDefaults(v)
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName(".ngbuild")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
}

// readConfig configures v and reads the configuration file. A missing
// default file is not an error, a missing explicit one is.
func readConfig(v *viper.Viper, file string) error {
	configureViper(v, file)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file == "" && errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to read config: %w", err)
	}
	fmt.Fprintln(os.Stderr, "Using config file:", v.ConfigFileUsed())
	return nil
}
